package flows

import (
	"context"
	"errors"
	"time"

	"github.com/parkrow/sessionkit/exchange"
	"github.com/parkrow/sessionkit/session"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	// RefreshFailureNoSession means there is no refresh token to present.
	RefreshFailureNoSession
	// RefreshFailureRejected means the backend refused the refresh token.
	// Terminal: the session and vault entry have been torn down.
	RefreshFailureRejected
	// RefreshFailureSuspended means the account was suspended mid-session.
	// Terminal like a rejection, but surfaced distinctly.
	RefreshFailureSuspended
	// RefreshFailureNetwork means the rotation could not be attempted. The
	// existing session is left untouched.
	RefreshFailureNetwork
)

// Terminal reports whether the failure tore the session down.
func (k RefreshFailureKind) Terminal() bool {
	return k == RefreshFailureRejected || k == RefreshFailureSuspended
}

// RefreshResult carries the rotated session or failure metadata.
type RefreshResult struct {
	Failure  RefreshFailureKind
	Err      error
	Session  *session.Session
	StoreErr error
	VaultErr error
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Refresh     func(ctx context.Context, refreshToken string) (*exchange.TokenPair, error)
	SaveSession func(ctx context.Context, sess *session.Session) error
	// SyncVault mirrors the rotated pair into the vault. Nil when biometric
	// quick unlock is not enabled.
	SyncVault func(ctx context.Context, sess *session.Session) error
	// InvalidateVault marks the vault entry unusable on terminal rejection.
	// Nil when no vault exists.
	InvalidateVault func(ctx context.Context) error
	ClearSession    func(ctx context.Context) error
	Now             func() time.Time
	Warn            func(msg string, args ...any)
}

// RunRefresh rotates the refresh token and persists the replacement pair.
// The presented token is consumed by the backend on success, so the result
// must be committed: a dropped result strands the session.
func RunRefresh(ctx context.Context, current *session.Session, deps RefreshDeps) RefreshResult {
	if current == nil || current.RefreshToken == "" {
		return RefreshResult{
			Failure: RefreshFailureNoSession,
			Err:     errors.New("no refresh token"),
		}
	}

	pair, err := deps.Refresh(ctx, current.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, exchange.ErrSuspended):
			tearDown(ctx, deps)
			return RefreshResult{Failure: RefreshFailureSuspended, Err: err}
		case errors.Is(err, exchange.ErrTokenRejected), errors.Is(err, exchange.ErrInvalidCredential):
			tearDown(ctx, deps)
			return RefreshResult{Failure: RefreshFailureRejected, Err: err}
		default:
			// Transport failures and malformed responses leave the session
			// intact; the old pair may still be valid.
			return RefreshResult{Failure: RefreshFailureNetwork, Err: err}
		}
	}

	next := current.Clone()
	next.AccessToken = pair.AccessToken
	next.RefreshToken = pair.RefreshToken
	next.IssuedAt = deps.Now()

	result := RefreshResult{Session: next}
	if err := deps.SaveSession(ctx, next); err != nil {
		result.StoreErr = err
		if deps.Warn != nil {
			deps.Warn("sessionkit: session persist failed after refresh")
		}
	}
	if deps.SyncVault != nil {
		if err := deps.SyncVault(ctx, next); err != nil {
			result.VaultErr = err
			if deps.Warn != nil {
				deps.Warn("sessionkit: vault sync failed after refresh")
			}
		}
	}
	return result
}

// tearDown clears persisted state after a terminal rejection. The vault
// ciphertext is kept but marked unusable, so a later re-enable overwrites it.
func tearDown(ctx context.Context, deps RefreshDeps) {
	if err := deps.ClearSession(ctx); err != nil && deps.Warn != nil {
		deps.Warn("sessionkit: session clear failed after rejected refresh")
	}
	if deps.InvalidateVault != nil {
		if err := deps.InvalidateVault(ctx); err != nil && deps.Warn != nil {
			deps.Warn("sessionkit: vault invalidation failed after rejected refresh")
		}
	}
}
