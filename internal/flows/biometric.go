package flows

import (
	"context"
	"errors"
	"time"

	"github.com/parkrow/sessionkit/biometric"
	"github.com/parkrow/sessionkit/exchange"
	"github.com/parkrow/sessionkit/session"
	"github.com/parkrow/sessionkit/vault"
)

// EnableFailureKind classifies biometric enablement failures.
type EnableFailureKind int

const (
	EnableFailureNone EnableFailureKind = iota
	EnableFailureNotSignedIn
	EnableFailureUnsupported
	EnableFailureNotEnrolled
	EnableFailureDeclined
	EnableFailurePrompt
	EnableFailureVaultWrite
)

// EnableResult reports the outcome of enabling biometric quick unlock.
type EnableResult struct {
	Failure EnableFailureKind
	Err     error
}

// UnlockFailureKind classifies biometric unlock failures.
type UnlockFailureKind int

const (
	UnlockFailureNone UnlockFailureKind = iota
	// UnlockFailureUnavailable means no usable gate on this device.
	UnlockFailureUnavailable
	// UnlockFailureNoEntry means the vault holds nothing to unlock.
	UnlockFailureNoEntry
	// UnlockFailureInvalidated means the entry was marked unusable after a
	// rejected refresh. The user must sign in fully.
	UnlockFailureInvalidated
	UnlockFailureDeclined
	UnlockFailurePrompt
	// UnlockFailureCorrupt means the sealed entry failed to open. The entry
	// has been deleted; the user must sign in fully.
	UnlockFailureCorrupt
	// UnlockFailureVault means the vault backing store itself errored.
	UnlockFailureVault
	// UnlockFailureRejected means the backend refused the vaulted pair. The
	// entry has been invalidated.
	UnlockFailureRejected
	UnlockFailureSuspended
	// UnlockFailureNetwork means verification could not reach the backend.
	// The vault entry is left intact for a later attempt.
	UnlockFailureNetwork
)

// UnlockResult carries the verified session or failure metadata.
type UnlockResult struct {
	Failure  UnlockFailureKind
	Err      error
	Session  *session.Session
	StoreErr error
	VaultErr error
}

// BiometricDeps captures biometric flow dependencies.
type BiometricDeps struct {
	Gate            biometric.Gate
	ReadVault       func(ctx context.Context) (vault.Entry, error)
	WriteVault      func(ctx context.Context, entry vault.Entry) error
	DeleteVault     func(ctx context.Context) error
	InvalidateVault func(ctx context.Context) error
	CurrentUser     func(ctx context.Context, accessToken string) (*session.UserProfile, error)
	Refresh         func(ctx context.Context, refreshToken string) (*exchange.TokenPair, error)
	SaveSession     func(ctx context.Context, sess *session.Session) error
	Now             func() time.Time
	Warn            func(msg string, args ...any)
	EnableMessage   string
	UnlockMessage   string
}

// RunEnableBiometric gates a fresh prompt and mirrors the live session into
// the vault. Enablement requires an authenticated session; it never mints one.
func RunEnableBiometric(ctx context.Context, current *session.Session, deps BiometricDeps) EnableResult {
	if current == nil {
		return EnableResult{
			Failure: EnableFailureNotSignedIn,
			Err:     errors.New("no authenticated session"),
		}
	}
	if deps.Gate == nil || !deps.Gate.Supported() {
		return EnableResult{
			Failure: EnableFailureUnsupported,
			Err:     errors.New("biometric hardware unavailable"),
		}
	}
	if !deps.Gate.Enrolled() {
		return EnableResult{
			Failure: EnableFailureNotEnrolled,
			Err:     errors.New("no biometric enrolled"),
		}
	}

	outcome, err := deps.Gate.Prompt(ctx, deps.EnableMessage)
	if err != nil {
		return EnableResult{Failure: EnableFailurePrompt, Err: err}
	}
	switch outcome {
	case biometric.PromptCancelled:
		return EnableResult{Failure: EnableFailureDeclined, Err: errors.New("prompt declined")}
	case biometric.PromptFailed:
		return EnableResult{Failure: EnableFailurePrompt, Err: errors.New("prompt failed")}
	}

	entry := vault.Entry{
		AccessToken:  current.AccessToken,
		RefreshToken: current.RefreshToken,
		Email:        current.User.Email,
		Provider:     current.Provider,
	}
	if err := deps.WriteVault(ctx, entry); err != nil {
		return EnableResult{Failure: EnableFailureVaultWrite, Err: err}
	}
	return EnableResult{}
}

// RunBiometricUnlock restores a session from the vault. Verify then trust:
// the vaulted pair only becomes the live session after the backend accepts
// it, either directly or through one rotation.
func RunBiometricUnlock(ctx context.Context, deps BiometricDeps) UnlockResult {
	if deps.Gate == nil || !deps.Gate.Supported() || !deps.Gate.Enrolled() {
		return UnlockResult{
			Failure: UnlockFailureUnavailable,
			Err:     errors.New("biometric unavailable"),
		}
	}

	outcome, err := deps.Gate.Prompt(ctx, deps.UnlockMessage)
	if err != nil {
		return UnlockResult{Failure: UnlockFailurePrompt, Err: err}
	}
	switch outcome {
	case biometric.PromptCancelled:
		return UnlockResult{Failure: UnlockFailureDeclined, Err: errors.New("prompt declined")}
	case biometric.PromptFailed:
		return UnlockResult{Failure: UnlockFailurePrompt, Err: errors.New("prompt failed")}
	}

	entry, err := deps.ReadVault(ctx)
	if err != nil {
		switch {
		case errors.Is(err, vault.ErrNoEntry):
			return UnlockResult{Failure: UnlockFailureNoEntry, Err: err}
		case errors.Is(err, vault.ErrInvalidated):
			return UnlockResult{Failure: UnlockFailureInvalidated, Err: err}
		case errors.Is(err, vault.ErrCorrupt):
			// Unopenable ciphertext can never become useful again.
			if delErr := deps.DeleteVault(ctx); delErr != nil && deps.Warn != nil {
				deps.Warn("sessionkit: deleting corrupt vault entry failed")
			}
			return UnlockResult{Failure: UnlockFailureCorrupt, Err: err}
		default:
			return UnlockResult{Failure: UnlockFailureVault, Err: err}
		}
	}

	profile, err := deps.CurrentUser(ctx, entry.AccessToken)
	if err == nil {
		return commitUnlock(ctx, entry, *profile, deps)
	}

	switch {
	case errors.Is(err, exchange.ErrTokenRejected):
		return rotateUnlock(ctx, entry, deps)
	case errors.Is(err, exchange.ErrSuspended):
		invalidateUnlockVault(ctx, deps)
		return UnlockResult{Failure: UnlockFailureSuspended, Err: err}
	default:
		// Unverifiable is not unusable: keep the entry for a later attempt.
		return UnlockResult{Failure: UnlockFailureNetwork, Err: err}
	}
}

// rotateUnlock handles a stale vaulted access token by spending the vaulted
// refresh token.
func rotateUnlock(ctx context.Context, entry vault.Entry, deps BiometricDeps) UnlockResult {
	pair, err := deps.Refresh(ctx, entry.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, exchange.ErrTokenRejected), errors.Is(err, exchange.ErrInvalidCredential):
			invalidateUnlockVault(ctx, deps)
			return UnlockResult{Failure: UnlockFailureRejected, Err: err}
		case errors.Is(err, exchange.ErrSuspended):
			invalidateUnlockVault(ctx, deps)
			return UnlockResult{Failure: UnlockFailureSuspended, Err: err}
		default:
			return UnlockResult{Failure: UnlockFailureNetwork, Err: err}
		}
	}

	entry.AccessToken = pair.AccessToken
	entry.RefreshToken = pair.RefreshToken

	// The rotation itself proved the pair; a profile fetch failure here is
	// cosmetic and must not fail the unlock.
	profile := session.UserProfile{Email: entry.Email}
	if fetched, err := deps.CurrentUser(ctx, entry.AccessToken); err == nil {
		profile = *fetched
	} else if deps.Warn != nil {
		deps.Warn("sessionkit: profile fetch failed after unlock rotation")
	}

	return commitUnlock(ctx, entry, profile, deps)
}

func commitUnlock(ctx context.Context, entry vault.Entry, profile session.UserProfile, deps BiometricDeps) UnlockResult {
	sess := &session.Session{
		AccessToken:  entry.AccessToken,
		RefreshToken: entry.RefreshToken,
		User:         profile,
		Provider:     entry.Provider,
		IssuedAt:     deps.Now(),
	}

	result := UnlockResult{Session: sess}
	if err := deps.SaveSession(ctx, sess); err != nil {
		result.StoreErr = err
		if deps.Warn != nil {
			deps.Warn("sessionkit: session persist failed after unlock")
		}
	}
	if err := deps.WriteVault(ctx, entry); err != nil {
		result.VaultErr = err
		if deps.Warn != nil {
			deps.Warn("sessionkit: vault sync failed after unlock")
		}
	}
	return result
}

func invalidateUnlockVault(ctx context.Context, deps BiometricDeps) {
	if deps.InvalidateVault == nil {
		return
	}
	if err := deps.InvalidateVault(ctx); err != nil && deps.Warn != nil {
		deps.Warn("sessionkit: vault invalidation failed after rejected unlock")
	}
}
