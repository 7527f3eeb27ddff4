package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parkrow/sessionkit/exchange"
	"github.com/parkrow/sessionkit/provider"
	"github.com/parkrow/sessionkit/session"
)

// SignInFailureKind classifies sign-in flow failures for root-level mapping.
type SignInFailureKind int

const (
	SignInFailureNone SignInFailureKind = iota
	SignInFailureInvalidCredential
	SignInFailureCancelled
	SignInFailureUnavailable
	SignInFailureSuspended
	SignInFailureNetwork
)

// SignInResult carries the established session or failure metadata. StoreErr
// and VaultErr report persistence problems after a successful exchange; the
// session is still live in memory when they are set.
type SignInResult struct {
	Failure  SignInFailureKind
	Err      error
	Session  *session.Session
	StoreErr error
	VaultErr error
}

// SignInDeps captures sign-in flow dependencies.
type SignInDeps struct {
	Login         func(ctx context.Context, email, password string) (*exchange.Grant, error)
	Register      func(ctx context.Context, req exchange.RegisterRequest) (*exchange.Grant, error)
	FederatedSync func(ctx context.Context, profile exchange.FederatedProfile) (*exchange.Grant, error)
	NativeSync    func(ctx context.Context, assertion exchange.NativeAssertion) (*exchange.Grant, error)
	SaveSession   func(ctx context.Context, sess *session.Session) error
	// SyncVault mirrors the fresh token pair into the vault. Nil when
	// biometric quick unlock is not enabled.
	SyncVault func(ctx context.Context, sess *session.Session) error
	Now       func() time.Time
	Warn      func(msg string, args ...any)
}

// RunSignIn exchanges a provider credential for a session and persists it.
func RunSignIn(ctx context.Context, cred provider.Credential, deps SignInDeps) SignInResult {
	var (
		grant *exchange.Grant
		err   error
	)
	switch c := cred.(type) {
	case provider.PasswordCredential:
		grant, err = deps.Login(ctx, c.Email, c.Password)
	case provider.FederatedCredential:
		grant, err = deps.FederatedSync(ctx, exchange.FederatedProfile{
			ProviderUserID: c.ProviderUserID,
			Email:          c.Email,
			DisplayName:    c.DisplayName,
			AvatarURL:      c.AvatarURL,
		})
	case provider.NativeCredential:
		grant, err = deps.NativeSync(ctx, exchange.NativeAssertion{
			IdentityToken: c.IdentityToken,
			Email:         c.Email,
			FullName:      c.FullName,
		})
	case nil:
		return SignInResult{
			Failure: SignInFailureInvalidCredential,
			Err:     errors.New("nil credential"),
		}
	default:
		return SignInResult{
			Failure: SignInFailureInvalidCredential,
			Err:     fmt.Errorf("unsupported credential type %T", cred),
		}
	}
	if err != nil {
		return SignInResult{
			Failure: classifySignInError(err),
			Err:     err,
		}
	}

	return commitGrant(ctx, grant, cred.Provider(), deps)
}

// RunRegister creates an account and establishes its first session.
func RunRegister(ctx context.Context, req exchange.RegisterRequest, deps SignInDeps) SignInResult {
	grant, err := deps.Register(ctx, req)
	if err != nil {
		return SignInResult{
			Failure: classifySignInError(err),
			Err:     err,
		}
	}
	return commitGrant(ctx, grant, session.ProviderPassword, deps)
}

func commitGrant(ctx context.Context, grant *exchange.Grant, prov session.Provider, deps SignInDeps) SignInResult {
	sess := &session.Session{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		User:         grant.User,
		Provider:     prov,
		IssuedAt:     deps.Now(),
	}

	result := SignInResult{Session: sess}
	// Plain store first, vault second. The vault is a mirror of the store,
	// never the other way round.
	if err := deps.SaveSession(ctx, sess); err != nil {
		result.StoreErr = err
		if deps.Warn != nil {
			deps.Warn("sessionkit: session persist failed after sign-in")
		}
	}
	if deps.SyncVault != nil {
		if err := deps.SyncVault(ctx, sess); err != nil {
			result.VaultErr = err
			if deps.Warn != nil {
				deps.Warn("sessionkit: vault sync failed after sign-in")
			}
		}
	}
	return result
}

// classifySignInError maps exchange and provider errors onto failure kinds.
// Unrecognized errors classify as network: transient until proven otherwise.
func classifySignInError(err error) SignInFailureKind {
	switch {
	case errors.Is(err, provider.ErrCancelled), errors.Is(err, context.Canceled):
		return SignInFailureCancelled
	case errors.Is(err, provider.ErrUnavailable):
		return SignInFailureUnavailable
	case errors.Is(err, provider.ErrInvalid), errors.Is(err, exchange.ErrInvalidCredential):
		return SignInFailureInvalidCredential
	case errors.Is(err, exchange.ErrSuspended):
		return SignInFailureSuspended
	default:
		return SignInFailureNetwork
	}
}
