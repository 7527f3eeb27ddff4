package sessionkit

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady means the manager was used before Build completed its
	// wiring. Indicates a programming error, not a runtime condition.
	ErrNotReady = errors.New("session manager not initialized")
	// ErrNotAuthenticated means the operation requires a live session and
	// none exists.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrAlreadySignedIn means a sign-in was attempted over a live session.
	// Sign out first; sessions are never silently replaced.
	ErrAlreadySignedIn = errors.New("already signed in")
	// ErrInvalidCredential means the identity proof was rejected, either by
	// local validation or by the backend. Retrying unchanged cannot succeed.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrProviderCancelled means the user abandoned the provider flow.
	// Nothing was mutated.
	ErrProviderCancelled = errors.New("provider flow cancelled")
	// ErrProviderUnavailable means the requested provider cannot run on this
	// device or build.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrAccountSuspended means the account exists but is suspended.
	ErrAccountSuspended = errors.New("account suspended")
	// ErrNetwork means the backend could not be reached or answered
	// incoherently. Transient: the operation may be retried.
	ErrNetwork = errors.New("network failure")
	// ErrRefreshFailed means the backend rejected the refresh token. The
	// session has been torn down; only a full sign-in recovers.
	ErrRefreshFailed = errors.New("refresh rejected")
	// ErrSessionExpired means a previously live session ended without the
	// user asking for it (rejected rotation, suspension mid-session).
	ErrSessionExpired = errors.New("session expired")
	// ErrBiometricUnavailable means no usable biometric gate exists: missing
	// hardware, nothing enrolled, or no vault configured.
	ErrBiometricUnavailable = errors.New("biometric unavailable")
	// ErrBiometricDeclined means the user dismissed or failed the biometric
	// prompt. Recoverable; nothing was mutated.
	ErrBiometricDeclined = errors.New("biometric prompt declined")
	// ErrVaultUnavailable means the vault backing store failed or the sealed
	// entry could not be used.
	ErrVaultUnavailable = errors.New("credential vault unavailable")
	// ErrVaultEmpty means biometric unlock found nothing to unlock. The user
	// must sign in fully. Matches ErrVaultUnavailable under errors.Is.
	ErrVaultEmpty = fmt.Errorf("%w: nothing vaulted", ErrVaultUnavailable)
)
