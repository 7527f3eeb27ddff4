package flows

import (
	"context"

	"github.com/parkrow/sessionkit/exchange"
	"github.com/parkrow/sessionkit/provider"
	"github.com/parkrow/sessionkit/session"
)

// Service is the centralized flow runner built once by the root manager.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.SignIn.SaveSession != nil
}

func (s Service) SignIn(ctx context.Context, cred provider.Credential) SignInResult {
	return RunSignIn(ctx, cred, s.deps.SignIn)
}

func (s Service) Register(ctx context.Context, req exchange.RegisterRequest) SignInResult {
	return RunRegister(ctx, req, s.deps.SignIn)
}

func (s Service) Refresh(ctx context.Context, current *session.Session) RefreshResult {
	return RunRefresh(ctx, current, s.deps.Refresh)
}

func (s Service) SignOut(ctx context.Context, clearVault bool) SignOutStatus {
	return RunSignOut(ctx, clearVault, s.deps.SignOut)
}

func (s Service) EnableBiometric(ctx context.Context, current *session.Session) EnableResult {
	return RunEnableBiometric(ctx, current, s.deps.Biometric)
}

func (s Service) BiometricUnlock(ctx context.Context) UnlockResult {
	return RunBiometricUnlock(ctx, s.deps.Biometric)
}
