package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// BrowserFlow opens an external authorization URL and blocks until the
// platform hands control back: either a redirect URL carrying the
// provider's response, or ErrCancelled when the user closed the browser.
type BrowserFlow interface {
	Authorize(ctx context.Context, authURL string) (redirectURL string, err error)
}

// ProfileSource resolves an access token from the federated provider into a
// normalized credential (a userinfo call, provider-specific).
type ProfileSource interface {
	Profile(ctx context.Context, token *oauth2.Token) (FederatedCredential, error)
}

// FederatedAdapter drives the federated OAuth browser flow. The OAuth
// handshake itself is delegated to golang.org/x/oauth2 and the platform
// browser; this adapter only validates the callback and normalizes the
// resulting profile.
type FederatedAdapter struct {
	config  *oauth2.Config
	flow    BrowserFlow
	profile ProfileSource

	// newState is injectable for tests.
	newState func() string
}

// NewFederatedAdapter wires the OAuth client configuration, the platform
// browser flow, and the provider's profile endpoint.
func NewFederatedAdapter(config *oauth2.Config, flow BrowserFlow, profile ProfileSource) (*FederatedAdapter, error) {
	if config == nil {
		return nil, errors.New("provider: nil oauth2 config")
	}
	if flow == nil {
		return nil, errors.New("provider: nil browser flow")
	}
	if profile == nil {
		return nil, errors.New("provider: nil profile source")
	}
	return &FederatedAdapter{
		config:   config,
		flow:     flow,
		profile:  profile,
		newState: uuid.NewString,
	}, nil
}

// Credential runs the full browser round trip and returns the normalized
// federated profile. A user-cancelled flow resolves with ErrCancelled and
// mutates nothing.
func (a *FederatedAdapter) Credential(ctx context.Context) (FederatedCredential, error) {
	state := a.newState()
	authURL := a.config.AuthCodeURL(state, oauth2.AccessTypeOffline)

	redirect, err := a.flow.Authorize(ctx, authURL)
	if err != nil {
		if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
			return FederatedCredential{}, ErrCancelled
		}
		return FederatedCredential{}, fmt.Errorf("provider: browser flow: %w", err)
	}

	code, err := parseCallback(redirect, state)
	if err != nil {
		return FederatedCredential{}, err
	}

	oauthToken, err := a.config.Exchange(ctx, code)
	if err != nil {
		return FederatedCredential{}, fmt.Errorf("provider: code exchange: %w", err)
	}

	cred, err := a.profile.Profile(ctx, oauthToken)
	if err != nil {
		return FederatedCredential{}, fmt.Errorf("provider: fetching profile: %w", err)
	}
	if cred.ProviderUserID == "" || cred.Email == "" {
		return FederatedCredential{}, fmt.Errorf("%w: profile missing id or email", ErrInvalid)
	}
	return cred, nil
}

func parseCallback(redirect, wantState string) (code string, err error) {
	parsed, err := url.Parse(redirect)
	if err != nil {
		return "", fmt.Errorf("%w: unparseable redirect", ErrInvalid)
	}
	query := parsed.Query()

	if oauthErr := query.Get("error"); oauthErr != "" {
		if oauthErr == "access_denied" {
			return "", ErrCancelled
		}
		return "", fmt.Errorf("%w: provider error %q", ErrInvalid, oauthErr)
	}
	// State must round-trip exactly; a mismatch is a forged or replayed
	// callback, never something to proceed on.
	if query.Get("state") != wantState {
		return "", fmt.Errorf("%w: state mismatch", ErrInvalid)
	}
	code = query.Get("code")
	if code == "" {
		return "", fmt.Errorf("%w: missing authorization code", ErrInvalid)
	}
	return code, nil
}
