// Package provider contains the identity provider adapters. Each adapter's
// sole responsibility is producing a normalized, single-use Credential, or
// failing with a provider-specific error. Adapters never touch session
// state or storage; the session manager consumes what they produce.
package provider

import (
	"errors"
	"strings"

	"github.com/parkrow/sessionkit/session"
)

var (
	// ErrCancelled means the user abandoned the provider flow (closed the
	// browser, dismissed the platform sheet). Nothing was mutated.
	ErrCancelled = errors.New("provider: cancelled by user")
	// ErrUnavailable means the provider cannot run on this device or build,
	// e.g. a native platform credential requested where unsupported.
	ErrUnavailable = errors.New("provider: unavailable on this device")
	// ErrInvalid means the provider flow completed but produced an unusable
	// result (failed local validation, state mismatch, empty assertion).
	ErrInvalid = errors.New("provider: invalid credential")
)

// Credential is a normalized, single-use proof of identity, produced by one
// of the adapters and consumed exactly once by the session exchange. Never
// persisted.
type Credential interface {
	Provider() session.Provider
}

// PasswordCredential is an email/password identity proof.
type PasswordCredential struct {
	Email    string
	Password string
}

func (PasswordCredential) Provider() session.Provider { return session.ProviderPassword }

// FederatedCredential is the normalized profile returned by the federated
// OAuth browser flow.
type FederatedCredential struct {
	ProviderUserID string
	Email          string
	DisplayName    string
	AvatarURL      string
}

func (FederatedCredential) Provider() session.Provider { return session.ProviderFederated }

// NativeCredential is a native platform identity assertion. Email and full
// name are only populated on the user's first authorization.
type NativeCredential struct {
	IdentityToken string
	Email         string
	FullName      string
}

func (NativeCredential) Provider() session.Provider { return session.ProviderNative }

// Password validates and normalizes an email/password pair. Validation is
// local and fails fast: obviously invalid input never reaches the network.
func Password(email, password string) (PasswordCredential, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return PasswordCredential{}, errors.Join(ErrInvalid, errors.New("email required"))
	}
	if password == "" {
		return PasswordCredential{}, errors.Join(ErrInvalid, errors.New("password required"))
	}
	return PasswordCredential{Email: email, Password: password}, nil
}
