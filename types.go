package sessionkit

import (
	"context"

	"github.com/parkrow/sessionkit/exchange"
	"github.com/parkrow/sessionkit/session"
)

// State is the session manager's lifecycle state.
type State int

const (
	// StateSignedOut means no authoritative session exists.
	StateSignedOut State = iota
	// StateAuthenticating means a sign-in or unlock flow is in flight.
	StateAuthenticating
	// StateSignedIn means an authoritative session is live.
	StateSignedIn
	// StateRefreshing means the live session's token pair is being rotated.
	// Callers keep using the session; only the rotation is exclusive.
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateSignedOut:
		return "signed_out"
	case StateAuthenticating:
		return "authenticating"
	case StateSignedIn:
		return "signed_in"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time view of the manager for UI rendering. Reading
// a Snapshot never blocks on network or storage.
type Snapshot struct {
	State                State
	Authenticated        bool
	User                 session.UserProfile
	Provider             session.Provider
	BiometricAvailable   bool
	BiometricEnabled     bool
	HasEverAuthenticated bool
}

// SignOutStatus reports what a sign-out managed to clear. Sign-out never
// fails as a whole: the in-memory session is always discarded.
type SignOutStatus struct {
	StoreCleared bool
	VaultCleared bool
	StoreErr     error
	VaultErr     error
}

// Exchanger is the backend boundary the manager talks through. Satisfied by
// *exchange.Client; tests substitute in-memory fakes.
type Exchanger interface {
	Login(ctx context.Context, email, password string) (*exchange.Grant, error)
	Register(ctx context.Context, req exchange.RegisterRequest) (*exchange.Grant, error)
	FederatedSync(ctx context.Context, profile exchange.FederatedProfile) (*exchange.Grant, error)
	NativeCredentialSync(ctx context.Context, assertion exchange.NativeAssertion) (*exchange.Grant, error)
	Refresh(ctx context.Context, refreshToken string) (*exchange.TokenPair, error)
	CurrentUser(ctx context.Context, accessToken string) (*session.UserProfile, error)
}

var _ Exchanger = (*exchange.Client)(nil)

// RegisterRequest aliases the exchange request type so most applications
// only import this package.
type RegisterRequest = exchange.RegisterRequest

// Plain store keys owned by the manager.
const (
	sessionKey = "session.current"
	everKey    = "session.everAuthenticated"
)
