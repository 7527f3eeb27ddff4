// Package exchange implements the backend session exchange: the only
// network boundary of the session core. It trades a normalized identity
// credential for a backend-issued token pair, rotates expiring pairs, and
// serves the cheap current-user probe.
//
// Every call fails closed: a timeout or malformed response never yields a
// partial session. Errors are classified into sentinel categories so flow
// runners can decide between retry, terminal sign-out, and distinct UI
// routing without string matching.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parkrow/sessionkit/session"
)

var (
	// ErrInvalidCredential means the backend rejected the identity proof.
	// Retrying with the same credential cannot succeed.
	ErrInvalidCredential = errors.New("exchange: invalid credential")
	// ErrSuspended means the account exists but is suspended. Surfaced
	// distinctly so the caller can route to a suspension screen.
	ErrSuspended = errors.New("exchange: account suspended")
	// ErrTokenRejected means the presented access or refresh token is no
	// longer accepted.
	ErrTokenRejected = errors.New("exchange: token rejected")
	// ErrNetwork covers transport failures, timeouts, and backend 5xx.
	// Transient: the caller may retry the same operation.
	ErrNetwork = errors.New("exchange: network failure")
	// ErrBadResponse means the backend answered 2xx with an undecodable
	// body. Treated as fail-closed: no session is synthesized from it.
	ErrBadResponse = errors.New("exchange: malformed response")
)

// Grant is a successful credential exchange: the new token pair plus the
// authoritative user profile.
type Grant struct {
	AccessToken  string              `json:"accessToken"`
	RefreshToken string              `json:"refreshToken"`
	User         session.UserProfile `json:"user"`
}

// TokenPair is a successful refresh rotation.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// FederatedProfile is the normalized result of the federated OAuth flow,
// synced to the backend to mint a first-party session.
type FederatedProfile struct {
	ProviderUserID string `json:"providerUserId"`
	Email          string `json:"email"`
	DisplayName    string `json:"displayName"`
	AvatarURL      string `json:"avatarUrl,omitempty"`
}

// NativeAssertion is the native platform identity credential synced to the
// backend. Email and full name are only present on first authorization.
type NativeAssertion struct {
	IdentityToken string `json:"identityToken"`
	Email         string `json:"email,omitempty"`
	FullName      string `json:"fullName,omitempty"`
}

// RegisterRequest creates a new resident account.
type RegisterRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	LocationID string `json:"locationId,omitempty"`
}

// Config configures the exchange client.
type Config struct {
	// BaseURL is the backend root, e.g. "https://api.parkrow.example".
	BaseURL string
	// Timeout bounds each request end to end. Zero means 15 seconds.
	Timeout time.Duration
	// DeviceID identifies this installation to the backend. Generated when
	// empty.
	DeviceID string
	// UserAgent overrides the default client identification header.
	UserAgent string
}

// Client talks to the remote identity exchange service.
type Client struct {
	baseURL   string
	http      *http.Client
	deviceID  string
	userAgent string
	log       zerolog.Logger
}

// New validates the config and builds a client.
func New(cfg Config, log zerolog.Logger) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, errors.New("exchange: BaseURL required")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("exchange: invalid BaseURL %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	deviceID := cfg.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "sessionkit/1"
	}
	return &Client{
		baseURL:   base,
		http:      &http.Client{Timeout: timeout},
		deviceID:  deviceID,
		userAgent: userAgent,
		log:       log.With().Str("component", "exchange").Logger(),
	}, nil
}

// DeviceID returns the installation identifier sent with every request.
func (c *Client) DeviceID() string { return c.deviceID }

// Login exchanges an email/password credential for a session grant.
func (c *Client) Login(ctx context.Context, email, password string) (*Grant, error) {
	body := map[string]string{"email": email, "password": password}
	var grant Grant
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, "", &grant); err != nil {
		return nil, err
	}
	return checkGrant(&grant)
}

// Register creates an account and returns the freshly minted session grant.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*Grant, error) {
	var grant Grant
	if err := c.do(ctx, http.MethodPost, "/auth/register", req, "", &grant); err != nil {
		return nil, err
	}
	return checkGrant(&grant)
}

// FederatedSync exchanges a federated OAuth profile for a session grant,
// creating the backend account on first contact.
func (c *Client) FederatedSync(ctx context.Context, profile FederatedProfile) (*Grant, error) {
	var grant Grant
	if err := c.do(ctx, http.MethodPost, "/auth/federated-sync", profile, "", &grant); err != nil {
		return nil, err
	}
	return checkGrant(&grant)
}

// NativeCredentialSync exchanges a native platform identity credential for a
// session grant.
func (c *Client) NativeCredentialSync(ctx context.Context, assertion NativeAssertion) (*Grant, error) {
	var grant Grant
	if err := c.do(ctx, http.MethodPost, "/auth/native-sync", assertion, "", &grant); err != nil {
		return nil, err
	}
	return checkGrant(&grant)
}

// Refresh rotates the refresh token. The returned pair fully replaces the
// old one; the backend invalidates the presented token on success.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	body := map[string]string{"refreshToken": refreshToken}
	var pair TokenPair
	if err := c.do(ctx, http.MethodPost, "/auth/refresh-token", body, "", &pair); err != nil {
		return nil, err
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return nil, fmt.Errorf("%w: grant missing token pair", ErrBadResponse)
	}
	return &pair, nil
}

// CurrentUser fetches the profile behind the access token. Doubles as the
// cheap freshness probe: ErrTokenRejected here means the token is dead.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*session.UserProfile, error) {
	var profile session.UserProfile
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, accessToken, &profile); err != nil {
		return nil, err
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("%w: profile missing id", ErrBadResponse)
	}
	return &profile, nil
}

func checkGrant(grant *Grant) (*Grant, error) {
	if grant.AccessToken == "" || grant.RefreshToken == "" || grant.User.ID == "" {
		return nil, fmt.Errorf("%w: grant missing token pair or user", ErrBadResponse)
	}
	return grant, nil
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	codeInvalidCredentials = "invalid_credentials"
	codeAccountSuspended   = "account_suspended"
)

func (c *Client) do(ctx context.Context, method, path string, body any, bearer string, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("exchange: encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("exchange: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Device-ID", c.deviceID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Str("path", path).Dur("elapsed", time.Since(start)).Err(err).
			Msg("request failed")
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	c.log.Debug().Str("path", path).Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).Msg("request complete")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
			return fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		return nil
	}

	return c.classify(resp, path)
}

func (c *Client) classify(resp *http.Response, path string) error {
	var envelope errorEnvelope
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&envelope)
	code := envelope.Error.Code

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: backend returned %d", ErrNetwork, resp.StatusCode)
	case code == codeAccountSuspended:
		return ErrSuspended
	case code == codeInvalidCredentials:
		return ErrInvalidCredential
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrTokenRejected
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return ErrInvalidCredential
	default:
		c.log.Warn().Str("path", path).Int("status", resp.StatusCode).Str("code", code).
			Msg("unclassified backend error")
		return fmt.Errorf("%w: unexpected status %d", ErrNetwork, resp.StatusCode)
	}
}
