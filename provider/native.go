package provider

import (
	"context"
	"errors"
	"fmt"
)

// NativeSigner is the platform identity credential service (Sign in with
// Apple and its equivalents). A nil signer means the capability does not
// exist on this device or build.
type NativeSigner interface {
	RequestCredential(ctx context.Context) (NativeCredential, error)
}

// NativeAdapter produces native platform identity credentials. Capability
// support is decided once at construction from DetectCapabilities and never
// re-queried ad hoc.
type NativeAdapter struct {
	signer    NativeSigner
	supported bool
}

// NewNativeAdapter wires the platform signer. caps should come from
// DetectCapabilities at startup.
func NewNativeAdapter(signer NativeSigner, caps Capabilities) *NativeAdapter {
	return &NativeAdapter{
		signer:    signer,
		supported: caps.NativeCredentialSupported && signer != nil,
	}
}

// Credential requests a live platform identity assertion.
func (a *NativeAdapter) Credential(ctx context.Context) (NativeCredential, error) {
	if !a.supported {
		return NativeCredential{}, ErrUnavailable
	}
	cred, err := a.signer.RequestCredential(ctx)
	if err != nil {
		if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
			return NativeCredential{}, ErrCancelled
		}
		return NativeCredential{}, fmt.Errorf("provider: native credential request: %w", err)
	}
	if cred.IdentityToken == "" {
		return NativeCredential{}, fmt.Errorf("%w: empty identity token", ErrInvalid)
	}
	return cred, nil
}
