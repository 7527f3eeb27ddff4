package sessionkit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/parkrow/sessionkit/biometric"
	"github.com/parkrow/sessionkit/exchange"
	"github.com/parkrow/sessionkit/internal/flows"
	"github.com/parkrow/sessionkit/provider"
	"github.com/parkrow/sessionkit/session"
	"github.com/parkrow/sessionkit/store"
	"github.com/parkrow/sessionkit/token"
	"github.com/parkrow/sessionkit/vault"
)

// Manager owns the authoritative session and serializes every transition.
// All methods are safe for concurrent use. The manager holds its lock only
// around state reads and commits, never across network calls.
type Manager struct {
	cfg      Config
	log      zerolog.Logger
	store    store.Store
	vault    *vault.Vault
	gate     biometric.Gate
	exchange Exchanger
	flows    flows.Service
	metrics  *Metrics
	events   *eventDispatcher

	// clock overrides time.Now in tests.
	clock func() time.Time

	mu               sync.Mutex
	state            State
	current          *session.Session
	hasEver          bool
	biometricEnabled bool

	// refreshGroup collapses concurrent rotations into one network call;
	// signInGroup lets concurrent sign-in attempts join the first one.
	refreshGroup singleflight.Group
	signInGroup  singleflight.Group
}

func (m *Manager) now() time.Time {
	if m.clock != nil {
		return m.clock()
	}
	return time.Now()
}

// Close flushes the event dispatcher. The manager must not be used after.
func (m *Manager) Close() {
	if m == nil {
		return
	}
	m.events.Close()
}

// Restore loads a persisted session on cold start. A corrupt blob is
// discarded and the manager stays signed out; only a store I/O failure is
// an error. Restore does not touch the network: the restored token pair is
// validated lazily by the first ValidToken call.
func (m *Manager) Restore(ctx context.Context) error {
	if m == nil || !m.flows.Initialized() {
		return ErrNotReady
	}

	if _, err := m.store.Get(ctx, everKey); err == nil {
		m.mu.Lock()
		m.hasEver = true
		m.mu.Unlock()
	}

	data, err := m.store.Get(ctx, sessionKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restoring session: %w", err)
	}

	sess, err := session.Decode(data)
	if err != nil {
		m.log.Warn().Err(err).Msg("discarding corrupt persisted session")
		if delErr := m.store.Delete(ctx, sessionKey); delErr != nil {
			m.log.Warn().Err(delErr).Msg("deleting corrupt persisted session failed")
		}
		return nil
	}

	m.mu.Lock()
	if m.current != nil {
		m.mu.Unlock()
		return nil
	}
	m.current = sess
	m.state = StateSignedIn
	m.hasEver = true
	m.biometricEnabled = m.vault != nil && m.vault.Exists(ctx)
	m.mu.Unlock()

	m.metrics.Inc(MetricSessionRestored)
	m.emit(ctx, Event{
		Kind:     EventSignedIn,
		Provider: string(sess.Provider),
		UserID:   sess.User.ID,
		Reason:   "restored",
	})
	return nil
}

// SignIn exchanges a provider credential for a session. Concurrent calls
// join the attempt already in flight and share its outcome.
func (m *Manager) SignIn(ctx context.Context, cred provider.Credential) (*session.Session, error) {
	if m == nil || !m.flows.Initialized() {
		return nil, ErrNotReady
	}

	// The flow must survive any single caller's cancellation once joined.
	flowCtx := context.WithoutCancel(ctx)
	v, err, _ := m.signInGroup.Do("signin", func() (any, error) {
		// A caller landing after a session exists must not reach the
		// backend: the minted grant would only be discarded, leaking an
		// unrevoked session server-side.
		if m.Current() != nil {
			return nil, ErrAlreadySignedIn
		}
		result := m.flows.SignIn(flowCtx, cred)
		return m.commitSignIn(flowCtx, result, "")
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.Session).Clone(), nil
}

// Register creates an account and signs it in.
func (m *Manager) Register(ctx context.Context, req RegisterRequest) (*session.Session, error) {
	if m == nil || !m.flows.Initialized() {
		return nil, ErrNotReady
	}

	flowCtx := context.WithoutCancel(ctx)
	v, err, _ := m.signInGroup.Do("signin", func() (any, error) {
		if m.Current() != nil {
			return nil, ErrAlreadySignedIn
		}
		result := m.flows.Register(flowCtx, req)
		sess, err := m.commitSignIn(flowCtx, result, "registered")
		if err != nil {
			m.metrics.Inc(MetricRegisterFailure)
			return nil, err
		}
		m.metrics.Inc(MetricRegisterSuccess)
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.Session).Clone(), nil
}

// commitSignIn applies a sign-in flow result to manager state.
func (m *Manager) commitSignIn(ctx context.Context, result flows.SignInResult, reason string) (*session.Session, error) {
	if result.Failure != flows.SignInFailureNone {
		if result.Failure == flows.SignInFailureCancelled {
			m.metrics.Inc(MetricSignInCancelled)
		} else {
			m.metrics.Inc(MetricSignInFailure)
		}
		return nil, mapSignInFailure(result)
	}

	m.mu.Lock()
	if m.current != nil {
		// A session appeared while the exchange ran (restore or unlock
		// racing a sign-in). The existing session wins, and the losing
		// result the flow already persisted must be rolled back.
		m.repairPersistedLocked(ctx)
		m.mu.Unlock()
		m.metrics.Inc(MetricSignInFailure)
		return nil, ErrAlreadySignedIn
	}
	m.current = result.Session
	m.state = StateSignedIn
	m.hasEver = true
	m.mu.Unlock()

	m.persistEverFlag(ctx)
	m.metrics.Inc(MetricSignInSuccess)
	m.emit(ctx, Event{
		Kind:     EventSignedIn,
		Provider: string(result.Session.Provider),
		UserID:   result.Session.User.ID,
		Reason:   reason,
	})
	return result.Session, nil
}

func mapSignInFailure(result flows.SignInResult) error {
	switch result.Failure {
	case flows.SignInFailureCancelled:
		return fmt.Errorf("%w: %v", ErrProviderCancelled, result.Err)
	case flows.SignInFailureUnavailable:
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, result.Err)
	case flows.SignInFailureInvalidCredential:
		return fmt.Errorf("%w: %v", ErrInvalidCredential, result.Err)
	case flows.SignInFailureSuspended:
		return fmt.Errorf("%w: %v", ErrAccountSuspended, result.Err)
	default:
		return fmt.Errorf("%w: %v", ErrNetwork, result.Err)
	}
}

// SignOut discards the session and clears the plain store. The vault entry
// is removed only when clearBiometric is set; keeping it leaves quick unlock
// as a way back in. SignOut never fails: persistence errors are reported in
// the returned status and the manager is signed out regardless.
func (m *Manager) SignOut(ctx context.Context, clearBiometric bool) SignOutStatus {
	return m.signOut(ctx, "user", clearBiometric)
}

func (m *Manager) signOut(ctx context.Context, reason string, clearVault bool) SignOutStatus {
	if m == nil || !m.flows.Initialized() {
		return SignOutStatus{}
	}

	m.mu.Lock()
	userID := ""
	prov := session.Provider("")
	if m.current != nil {
		userID = m.current.User.ID
		prov = m.current.Provider
	}
	m.current = nil
	m.state = StateSignedOut
	if clearVault {
		m.biometricEnabled = false
	}
	m.mu.Unlock()

	flowStatus := m.flows.SignOut(context.WithoutCancel(ctx), clearVault)

	m.metrics.Inc(MetricSignOut)
	m.emit(ctx, Event{
		Kind:     EventSignedOut,
		Provider: string(prov),
		UserID:   userID,
		Reason:   reason,
	})
	return SignOutStatus{
		StoreCleared: flowStatus.StoreCleared,
		VaultCleared: flowStatus.VaultCleared,
		StoreErr:     flowStatus.StoreErr,
		VaultErr:     flowStatus.VaultErr,
	}
}

// ValidToken returns an access token that is fresh enough to use, rotating
// the pair first when it is not. A locally fresh token is still verified
// against the backend with a cheap profile probe: opaque tokens carry no
// expiry, and a revoked token must rotate, not be handed out. Concurrent
// callers of an expiring token share a single rotation.
func (m *Manager) ValidToken(ctx context.Context) (string, error) {
	if m == nil || !m.flows.Initialized() {
		return "", ErrNotReady
	}

	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return "", ErrNotAuthenticated
	}
	access := m.current.AccessToken
	m.mu.Unlock()

	if token.Fresh(access, m.cfg.Token.FreshnessSkew, m.now()) {
		_, err := m.exchange.CurrentUser(ctx, access)
		if err == nil {
			return access, nil
		}
		if !errors.Is(err, exchange.ErrTokenRejected) && !errors.Is(err, exchange.ErrSuspended) {
			// Transient probe failure; locally fresh is the best signal
			// available, and the caller's own request will surface it.
			return access, nil
		}
	}

	sess, err := m.refresh(ctx)
	if err != nil {
		return "", err
	}
	return sess.AccessToken, nil
}

// Refresh forces a token rotation regardless of local freshness.
func (m *Manager) Refresh(ctx context.Context) (*session.Session, error) {
	if m == nil || !m.flows.Initialized() {
		return nil, ErrNotReady
	}
	return m.refresh(ctx)
}

func (m *Manager) refresh(ctx context.Context) (*session.Session, error) {
	// One rotation at a time; latecomers ride the in-flight call. The flow
	// runs on an uncancellable context because its result is shared and a
	// consumed refresh token must always be committed.
	flowCtx := context.WithoutCancel(ctx)
	v, err, shared := m.refreshGroup.Do("refresh", func() (any, error) {
		return m.doRefresh(flowCtx)
	})
	if shared {
		m.metrics.Inc(MetricRefreshJoined)
	}
	if err != nil {
		return nil, err
	}
	return v.(*session.Session).Clone(), nil
}

func (m *Manager) doRefresh(ctx context.Context) (*session.Session, error) {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	current := m.current.Clone()
	m.state = StateRefreshing
	m.mu.Unlock()

	start := m.now()
	result := m.flows.Refresh(ctx, current)
	m.metrics.Observe(MetricRefreshLatency, time.Since(start))

	if result.Failure == flows.RefreshFailureNone {
		m.mu.Lock()
		// A sign-out that raced the rotation wins; never resurrect. The
		// rotated pair the flow already persisted must be rolled back, or
		// the next cold-start Restore would revive the session.
		if m.current == nil || m.current.RefreshToken != current.RefreshToken {
			m.repairPersistedLocked(ctx)
			m.mu.Unlock()
			return nil, ErrNotAuthenticated
		}
		m.current = result.Session
		m.state = StateSignedIn
		m.mu.Unlock()

		m.metrics.Inc(MetricRefreshSuccess)
		m.emit(ctx, Event{
			Kind:     EventTokenRefreshed,
			Provider: string(result.Session.Provider),
			UserID:   result.Session.User.ID,
		})
		return result.Session, nil
	}

	m.metrics.Inc(MetricRefreshFailure)

	if result.Failure.Terminal() {
		m.mu.Lock()
		userID := ""
		prov := session.Provider("")
		if m.current != nil {
			userID = m.current.User.ID
			prov = m.current.Provider
		}
		m.current = nil
		m.state = StateSignedOut
		m.biometricEnabled = false
		m.mu.Unlock()

		m.metrics.Inc(MetricSessionExpired)
		m.emit(ctx, Event{
			Kind:     EventSessionExpired,
			Provider: string(prov),
			UserID:   userID,
			Reason:   "refresh_rejected",
		})

		if result.Failure == flows.RefreshFailureSuspended {
			return nil, fmt.Errorf("%w: %v", ErrAccountSuspended, result.Err)
		}
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, result.Err)
	}

	// Transient: the session survives with the old pair.
	m.mu.Lock()
	if m.state == StateRefreshing {
		m.state = StateSignedIn
	}
	m.mu.Unlock()

	if result.Failure == flows.RefreshFailureNoSession {
		return nil, ErrNotAuthenticated
	}
	return nil, fmt.Errorf("%w: %v", ErrNetwork, result.Err)
}

// RefreshProfile re-fetches the user profile with the current access token
// and commits it to the live session. Token fields are untouched. A rejected
// token triggers one rotation before the fetch is retried.
func (m *Manager) RefreshProfile(ctx context.Context) (*session.UserProfile, error) {
	if m == nil || !m.flows.Initialized() {
		return nil, ErrNotReady
	}

	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	access := m.current.AccessToken
	m.mu.Unlock()

	profile, err := m.exchange.CurrentUser(ctx, access)
	if errors.Is(err, exchange.ErrTokenRejected) {
		sess, rErr := m.refresh(ctx)
		if rErr != nil {
			return nil, rErr
		}
		profile, err = m.exchange.CurrentUser(ctx, sess.AccessToken)
	}
	if err != nil {
		switch {
		case errors.Is(err, exchange.ErrSuspended):
			return nil, fmt.Errorf("%w: %v", ErrAccountSuspended, err)
		case errors.Is(err, exchange.ErrTokenRejected):
			return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
		}
	}

	m.mu.Lock()
	if m.current == nil {
		// Signed out while the fetch ran; nothing to commit.
		m.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	m.current.User = *profile
	sess := m.current.Clone()
	m.mu.Unlock()

	if data, encErr := session.Encode(sess); encErr == nil {
		if setErr := m.store.Set(ctx, sessionKey, data); setErr != nil {
			m.log.Warn().Err(setErr).Msg("persisting refreshed profile failed")
		}
	}

	m.metrics.Inc(MetricProfileRefreshed)
	clone := sess.User
	return &clone, nil
}

// EnableBiometric prompts and mirrors the live session into the vault.
func (m *Manager) EnableBiometric(ctx context.Context) error {
	if m == nil || !m.flows.Initialized() {
		return ErrNotReady
	}
	if m.vault == nil {
		return ErrBiometricUnavailable
	}

	m.mu.Lock()
	current := m.current.Clone()
	m.mu.Unlock()

	result := m.flows.EnableBiometric(ctx, current)
	switch result.Failure {
	case flows.EnableFailureNone:
		m.mu.Lock()
		m.biometricEnabled = true
		m.mu.Unlock()
		m.metrics.Inc(MetricBiometricEnabled)
		m.emit(ctx, Event{Kind: EventBiometricOn, UserID: current.User.ID})
		return nil
	case flows.EnableFailureNotSignedIn:
		return ErrNotAuthenticated
	case flows.EnableFailureUnsupported, flows.EnableFailureNotEnrolled:
		return fmt.Errorf("%w: %v", ErrBiometricUnavailable, result.Err)
	case flows.EnableFailureDeclined, flows.EnableFailurePrompt:
		return fmt.Errorf("%w: %v", ErrBiometricDeclined, result.Err)
	default:
		return fmt.Errorf("%w: %v", ErrVaultUnavailable, result.Err)
	}
}

// DisableBiometric removes the vault entry. Idempotent; disabling when
// nothing is enabled is a no-op.
func (m *Manager) DisableBiometric(ctx context.Context) error {
	if m == nil || !m.flows.Initialized() {
		return ErrNotReady
	}
	if m.vault == nil {
		return nil
	}

	if err := m.vault.Delete(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrVaultUnavailable, err)
	}

	m.mu.Lock()
	was := m.biometricEnabled
	m.biometricEnabled = false
	userID := ""
	if m.current != nil {
		userID = m.current.User.ID
	}
	m.mu.Unlock()

	if was {
		m.metrics.Inc(MetricBiometricDisabled)
		m.emit(ctx, Event{Kind: EventBiometricOff, UserID: userID})
	}
	return nil
}

// BiometricUnlock restores a session from the vault behind a fresh prompt.
// The vaulted pair is only trusted after the backend verifies it. Calling
// while already signed in returns the live session without prompting.
func (m *Manager) BiometricUnlock(ctx context.Context) (*session.Session, error) {
	if m == nil || !m.flows.Initialized() {
		return nil, ErrNotReady
	}
	if m.vault == nil {
		return nil, ErrBiometricUnavailable
	}

	m.mu.Lock()
	if m.current != nil {
		sess := m.current.Clone()
		m.mu.Unlock()
		return sess, nil
	}
	m.state = StateAuthenticating
	m.mu.Unlock()

	result := m.flows.BiometricUnlock(ctx)
	if result.Failure != flows.UnlockFailureNone {
		m.mu.Lock()
		if m.current == nil {
			m.state = StateSignedOut
		}
		m.mu.Unlock()
		m.metrics.Inc(MetricUnlockFailure)
		return nil, mapUnlockFailure(result)
	}

	m.mu.Lock()
	if m.current != nil {
		// A sign-in raced the unlock; keep what's already live.
		sess := m.current.Clone()
		m.mu.Unlock()
		return sess, nil
	}
	m.current = result.Session
	m.state = StateSignedIn
	m.hasEver = true
	m.biometricEnabled = true
	m.mu.Unlock()

	m.persistEverFlag(ctx)
	m.metrics.Inc(MetricUnlockSuccess)
	m.emit(ctx, Event{
		Kind:     EventSignedIn,
		Provider: string(result.Session.Provider),
		UserID:   result.Session.User.ID,
		Reason:   "biometric_unlock",
	})
	return result.Session.Clone(), nil
}

func mapUnlockFailure(result flows.UnlockResult) error {
	switch result.Failure {
	case flows.UnlockFailureUnavailable:
		return fmt.Errorf("%w: %v", ErrBiometricUnavailable, result.Err)
	case flows.UnlockFailureDeclined, flows.UnlockFailurePrompt:
		return fmt.Errorf("%w: %v", ErrBiometricDeclined, result.Err)
	case flows.UnlockFailureNoEntry:
		return ErrVaultEmpty
	case flows.UnlockFailureInvalidated, flows.UnlockFailureRejected:
		return fmt.Errorf("%w: %v", ErrSessionExpired, result.Err)
	case flows.UnlockFailureSuspended:
		return fmt.Errorf("%w: %v", ErrAccountSuspended, result.Err)
	case flows.UnlockFailureCorrupt, flows.UnlockFailureVault:
		return fmt.Errorf("%w: %v", ErrVaultUnavailable, result.Err)
	default:
		return fmt.Errorf("%w: %v", ErrNetwork, result.Err)
	}
}

// FederatedSignedIn reconciles an external federated SDK sign-in. An echo
// of a sign-in this manager performed itself is ignored.
func (m *Manager) FederatedSignedIn(ctx context.Context, cred provider.FederatedCredential) error {
	if m == nil || !m.flows.Initialized() {
		return ErrNotReady
	}

	m.mu.Lock()
	if m.current != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	_, err := m.SignIn(ctx, cred)
	if errors.Is(err, ErrAlreadySignedIn) {
		return nil
	}
	return err
}

// FederatedSignedOut reconciles an external federated SDK sign-out. Ignored
// before the first authentication ever (federated SDKs replay a signed-out
// notification on every cold start) and for sessions not established
// through the federated provider.
func (m *Manager) FederatedSignedOut(ctx context.Context) error {
	if m == nil || !m.flows.Initialized() {
		return ErrNotReady
	}

	m.mu.Lock()
	if !m.hasEver || m.current == nil || m.current.Provider != session.ProviderFederated {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	// The external identity is gone, so the vaulted refresh token is dead
	// weight at best; clear it with the session.
	m.signOut(ctx, "federated_provider", true)
	return nil
}

// Current returns a copy of the live session, or nil when signed out.
func (m *Manager) Current() *session.Session {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Clone()
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	if m == nil {
		return StateSignedOut
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a non-blocking view for UI rendering.
func (m *Manager) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		State:                m.state,
		Authenticated:        m.current != nil,
		BiometricEnabled:     m.biometricEnabled,
		HasEverAuthenticated: m.hasEver,
	}
	if m.current != nil {
		snap.User = m.current.User
		snap.Provider = m.current.Provider
	}
	if m.vault != nil && m.gate != nil {
		snap.BiometricAvailable = m.gate.Supported() && m.gate.Enrolled()
	}
	return snap
}

// HasEverAuthenticated reports whether any sign-in ever succeeded on this
// installation. Survives restarts.
func (m *Manager) HasEverAuthenticated() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasEver
}

// MetricsSnapshot returns a copy of the counters.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	if m == nil || m.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return m.metrics.Snapshot()
}

// EventsDropped reports events discarded under buffer pressure.
func (m *Manager) EventsDropped() uint64 {
	if m == nil {
		return 0
	}
	return m.events.Dropped()
}

func (m *Manager) biometricOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.biometricEnabled
}

// repairPersistedLocked rewrites persisted state to match the authoritative
// in-memory session after a flow persisted a losing result. Flows write to
// the stores before the commit check, so the losing branch must put the
// winning state back. Caller holds m.mu.
func (m *Manager) repairPersistedLocked(ctx context.Context) {
	if m.current == nil {
		if err := m.store.Delete(ctx, sessionKey); err != nil {
			m.log.Warn().Err(err).Msg("clearing losing session blob failed")
		}
		return
	}

	data, err := session.Encode(m.current)
	if err != nil {
		return
	}
	if err := m.store.Set(ctx, sessionKey, data); err != nil {
		m.log.Warn().Err(err).Msg("re-persisting winning session failed")
	}
	if m.vault != nil && m.biometricEnabled {
		entry := vault.Entry{
			AccessToken:  m.current.AccessToken,
			RefreshToken: m.current.RefreshToken,
			Email:        m.current.User.Email,
			Provider:     m.current.Provider,
		}
		if err := m.vault.Write(ctx, entry); err != nil {
			m.log.Warn().Err(err).Msg("re-syncing vault with winning session failed")
		}
	}
}

func (m *Manager) persistEverFlag(ctx context.Context) {
	if err := m.store.Set(ctx, everKey, []byte("1")); err != nil {
		m.log.Warn().Err(err).Msg("persisting first-auth flag failed")
	}
}

func (m *Manager) emit(ctx context.Context, event Event) {
	if m.events == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = m.now()
	m.events.Emit(ctx, event)
}
