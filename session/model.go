package session

import "time"

// Provider identifies which identity-proof mechanism produced a session.
type Provider string

const (
	// ProviderPassword is a session established with an email/password login.
	ProviderPassword Provider = "password"
	// ProviderFederated is a session established through the federated
	// OAuth browser flow.
	ProviderFederated Provider = "federated"
	// ProviderNative is a session established with a native platform
	// identity credential.
	ProviderNative Provider = "native"
)

// UserProfile is the backend's view of the signed-in user. It is cached as a
// read-through of the last successful fetch and never persisted as a source
// of truth. Role and Status are opaque to this library; callers interpret
// them.
type UserProfile struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	LocationID string `json:"locationId"`
	Status     string `json:"status"`
}

// Session is the backend-issued access/refresh token pair plus identifying
// metadata. At most one Session is authoritative at any time; it is owned
// exclusively by the session manager and mutated only through token rotation
// or profile refresh.
type Session struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	User         UserProfile `json:"user"`
	Provider     Provider    `json:"provider"`
	IssuedAt     time.Time   `json:"issuedAt"`
}

// Clone returns an independent copy so callers can hand sessions across
// goroutine boundaries without sharing the manager's authoritative value.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
