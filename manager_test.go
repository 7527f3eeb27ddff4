package sessionkit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/parkrow/sessionkit/biometric"
	"github.com/parkrow/sessionkit/exchange"
	"github.com/parkrow/sessionkit/provider"
	"github.com/parkrow/sessionkit/session"
	"github.com/parkrow/sessionkit/store"
)

// fakeExchange is an in-memory Exchanger minting sequential token pairs.
type fakeExchange struct {
	seq          atomic.Int64
	loginCalls   atomic.Int64
	refreshCalls atomic.Int64
	probeCalls   atomic.Int64

	mu         sync.Mutex
	loginErr   error
	refreshErr error
	probeErr   error
	// probeFailures bounds how many probes return probeErr; zero means
	// every probe fails while probeErr is set.
	probeFailures int

	// refreshGate and loginGate, when set, block the matching call until
	// closed.
	refreshGate chan struct{}
	loginGate   chan struct{}
}

func (f *fakeExchange) setRefreshErr(err error) {
	f.mu.Lock()
	f.refreshErr = err
	f.mu.Unlock()
}

func (f *fakeExchange) grant() *exchange.Grant {
	n := f.seq.Add(1)
	return &exchange.Grant{
		AccessToken:  fmt.Sprintf("access-%d", n),
		RefreshToken: fmt.Sprintf("refresh-%d", n),
		User: session.UserProfile{
			ID:    "u1",
			Email: "alice@example.com",
			Name:  "Alice",
			Role:  "resident",
		},
	}
}

func (f *fakeExchange) Login(context.Context, string, string) (*exchange.Grant, error) {
	f.loginCalls.Add(1)
	f.mu.Lock()
	err := f.loginErr
	gate := f.loginGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return f.grant(), nil
}

func (f *fakeExchange) Register(context.Context, exchange.RegisterRequest) (*exchange.Grant, error) {
	return f.grant(), nil
}

func (f *fakeExchange) FederatedSync(context.Context, exchange.FederatedProfile) (*exchange.Grant, error) {
	f.loginCalls.Add(1)
	return f.grant(), nil
}

func (f *fakeExchange) NativeCredentialSync(context.Context, exchange.NativeAssertion) (*exchange.Grant, error) {
	return f.grant(), nil
}

func (f *fakeExchange) Refresh(context.Context, string) (*exchange.TokenPair, error) {
	f.refreshCalls.Add(1)
	f.mu.Lock()
	err := f.refreshErr
	gate := f.refreshGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	n := f.seq.Add(1)
	return &exchange.TokenPair{
		AccessToken:  fmt.Sprintf("access-%d", n),
		RefreshToken: fmt.Sprintf("refresh-%d", n),
	}, nil
}

func (f *fakeExchange) CurrentUser(context.Context, string) (*session.UserProfile, error) {
	f.probeCalls.Add(1)
	f.mu.Lock()
	err := f.probeErr
	if err != nil && f.probeFailures > 0 {
		f.probeFailures--
		if f.probeFailures == 0 {
			f.probeErr = nil
		}
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &session.UserProfile{ID: "u1", Email: "alice@example.com", Role: "resident"}, nil
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.Vault.Secret = []byte("test-secret")
	cfg.Vault.Salt = []byte("test-salt")
	cfg.Vault.InstallID = "install-1"
	return cfg
}

type testStores struct {
	plain *store.Memory
	vault *store.Memory
}

func newTestManager(t *testing.T, fx *fakeExchange, stores *testStores) *Manager {
	t.Helper()

	if stores == nil {
		stores = &testStores{plain: store.NewMemory(), vault: store.NewMemory()}
	}

	m, err := New().
		WithConfig(testConfig()).
		WithStore(stores.plain).
		WithVaultStore(stores.vault).
		WithBiometricGate(&biometric.StaticGate{Hardware: true, Enrolment: true}).
		WithExchanger(fx).
		WithMetricsEnabled(true).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func mustSignIn(t *testing.T, m *Manager) *session.Session {
	t.Helper()
	cred, err := provider.Password("alice@example.com", "pw")
	if err != nil {
		t.Fatalf("Password failed: %v", err)
	}
	sess, err := m.SignIn(context.Background(), cred)
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	return sess
}

func TestSignInEstablishesSession(t *testing.T) {
	fx := &fakeExchange{}
	stores := &testStores{plain: store.NewMemory(), vault: store.NewMemory()}
	m := newTestManager(t, fx, stores)

	sess := mustSignIn(t, m)
	if sess.AccessToken != "access-1" || sess.Provider != session.ProviderPassword {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if m.State() != StateSignedIn {
		t.Fatalf("expected signed in, got %s", m.State())
	}
	if !m.HasEverAuthenticated() {
		t.Fatal("expected ever-authenticated flag")
	}

	data, err := stores.plain.Get(context.Background(), sessionKey)
	if err != nil {
		t.Fatalf("expected persisted session: %v", err)
	}
	persisted, err := session.Decode(data)
	if err != nil || persisted.AccessToken != "access-1" {
		t.Fatalf("persisted blob mismatch: %+v err=%v", persisted, err)
	}

	// Returned session is a copy; mutating it must not touch manager state.
	sess.AccessToken = "tampered"
	if m.Current().AccessToken != "access-1" {
		t.Fatal("caller mutation leaked into manager state")
	}
}

func TestSignInWhileSignedIn(t *testing.T) {
	fx := &fakeExchange{}
	m := newTestManager(t, fx, nil)
	mustSignIn(t, m)

	cred, _ := provider.Password("alice@example.com", "pw")
	_, err := m.SignIn(context.Background(), cred)
	if !errors.Is(err, ErrAlreadySignedIn) {
		t.Fatalf("expected ErrAlreadySignedIn, got %v", err)
	}
	if m.Current().AccessToken != "access-1" {
		t.Fatal("existing session must win")
	}
	// The rejected attempt must not mint a grant it would only discard.
	if fx.loginCalls.Load() != 1 {
		t.Fatalf("expected no second exchange, got %d login calls", fx.loginCalls.Load())
	}
}

func TestSignInFailureMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"invalid", exchange.ErrInvalidCredential, ErrInvalidCredential},
		{"suspended", exchange.ErrSuspended, ErrAccountSuspended},
		{"network", exchange.ErrNetwork, ErrNetwork},
		{"cancelled", provider.ErrCancelled, ErrProviderCancelled},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := &fakeExchange{loginErr: tc.err}
			m := newTestManager(t, fx, nil)

			cred, _ := provider.Password("alice@example.com", "pw")
			_, err := m.SignIn(context.Background(), cred)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if m.State() != StateSignedOut {
				t.Fatalf("failed sign-in must leave manager signed out, got %s", m.State())
			}
		})
	}
}

func TestConcurrentSignInJoinsOneExchange(t *testing.T) {
	fx := &fakeExchange{}
	m := newTestManager(t, fx, nil)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*session.Session, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred, _ := provider.Password("alice@example.com", "pw")
			results[i], errs[i] = m.SignIn(context.Background(), cred)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i := range results {
		if errs[i] == nil {
			succeeded++
			if results[i].AccessToken != "access-1" {
				t.Fatalf("joined caller got different session: %+v", results[i])
			}
		} else if !errors.Is(errs[i], ErrAlreadySignedIn) {
			t.Fatalf("unexpected error: %v", errs[i])
		}
	}
	if succeeded == 0 {
		t.Fatal("expected at least one successful sign-in")
	}
	if got := fx.loginCalls.Load(); got != 1 {
		t.Fatalf("expected one login exchange, got %d", got)
	}
}

func TestRefreshRotatesAndPersists(t *testing.T) {
	fx := &fakeExchange{}
	stores := &testStores{plain: store.NewMemory(), vault: store.NewMemory()}
	m := newTestManager(t, fx, stores)
	mustSignIn(t, m)

	rotated, err := m.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if rotated.AccessToken != "access-2" || rotated.RefreshToken != "refresh-2" {
		t.Fatalf("expected rotated pair, got %+v", rotated)
	}
	if rotated.User.ID != "u1" {
		t.Fatal("rotation must preserve the user profile")
	}

	data, _ := stores.plain.Get(context.Background(), sessionKey)
	persisted, err := session.Decode(data)
	if err != nil || persisted.RefreshToken != "refresh-2" {
		t.Fatalf("rotated pair not persisted: %+v err=%v", persisted, err)
	}
}

func TestConcurrentRefreshSingleFlight(t *testing.T) {
	gate := make(chan struct{})
	fx := &fakeExchange{refreshGate: gate}
	m := newTestManager(t, fx, nil)
	mustSignIn(t, m)

	const callers = 10
	var wg sync.WaitGroup
	tokens := make([]string, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := m.Refresh(context.Background())
			if err != nil {
				t.Errorf("Refresh failed: %v", err)
				return
			}
			tokens[i] = sess.AccessToken
		}(i)
	}

	// Let every caller reach the in-flight rotation before it completes.
	for start := time.Now(); fx.refreshCalls.Load() == 0; {
		if time.Since(start) > time.Second {
			t.Fatal("rotation never started")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if got := fx.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected one rotation on the wire, got %d", got)
	}
	for i := range tokens {
		if tokens[i] != tokens[0] {
			t.Fatalf("caller %d got a different pair: %s vs %s", i, tokens[i], tokens[0])
		}
	}

	snap := m.MetricsSnapshot()
	if snap.Counters[MetricRefreshJoined] == 0 {
		t.Fatal("expected joined refresh calls to be counted")
	}
}

func TestRefreshRejectedTearsDown(t *testing.T) {
	fx := &fakeExchange{}
	stores := &testStores{plain: store.NewMemory(), vault: store.NewMemory()}
	m := newTestManager(t, fx, stores)
	mustSignIn(t, m)
	fx.setRefreshErr(exchange.ErrTokenRejected)

	_, err := m.Refresh(context.Background())
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected ErrRefreshFailed, got %v", err)
	}
	if m.State() != StateSignedOut || m.Current() != nil {
		t.Fatal("rejected refresh must sign out")
	}
	if !m.HasEverAuthenticated() {
		t.Fatal("ever-authenticated flag must survive expiry")
	}
	if _, gerr := stores.plain.Get(context.Background(), sessionKey); !errors.Is(gerr, store.ErrNotFound) {
		t.Fatal("persisted session must be cleared")
	}
}

func TestRefreshSuspendedSurfacedDistinctly(t *testing.T) {
	fx := &fakeExchange{}
	m := newTestManager(t, fx, nil)
	mustSignIn(t, m)
	fx.setRefreshErr(exchange.ErrSuspended)

	_, err := m.Refresh(context.Background())
	if !errors.Is(err, ErrAccountSuspended) {
		t.Fatalf("expected ErrAccountSuspended, got %v", err)
	}
	if m.State() != StateSignedOut {
		t.Fatal("suspension mid-session must sign out")
	}
}

func TestRefreshNetworkKeepsSession(t *testing.T) {
	fx := &fakeExchange{}
	m := newTestManager(t, fx, nil)
	mustSignIn(t, m)
	fx.setRefreshErr(exchange.ErrNetwork)

	_, err := m.Refresh(context.Background())
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if m.State() != StateSignedIn {
		t.Fatalf("transient failure must keep the session, state=%s", m.State())
	}
	if m.Current().AccessToken != "access-1" {
		t.Fatal("old pair must remain live")
	}
}

func TestRefreshWhileSignedOut(t *testing.T) {
	m := newTestManager(t, &fakeExchange{}, nil)
	_, err := m.Refresh(context.Background())
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func signedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": exp.Unix(),
	})
	signed, err := tok.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

func TestValidTokenRotatesExpiredAccessToken(t *testing.T) {
	fx := &fakeExchange{}
	m := newTestManager(t, fx, nil)
	mustSignIn(t, m)

	// Swap in a real, already-expired JWT so the local freshness check fires.
	m.mu.Lock()
	m.current.AccessToken = signedJWT(t, time.Now().Add(-time.Minute))
	m.mu.Unlock()

	access, err := m.ValidToken(context.Background())
	if err != nil {
		t.Fatalf("ValidToken failed: %v", err)
	}
	if access != "access-2" {
		t.Fatalf("expected rotated token, got %s", access)
	}
	if fx.refreshCalls.Load() != 1 {
		t.Fatalf("expected one rotation, got %d", fx.refreshCalls.Load())
	}
}

func TestValidTokenReturnsFreshTokenWithoutRotation(t *testing.T) {
	fx := &fakeExchange{}
	m := newTestManager(t, fx, nil)
	mustSignIn(t, m)

	m.mu.Lock()
	m.current.AccessToken = signedJWT(t, time.Now().Add(time.Hour))
	m.mu.Unlock()

	access, err := m.ValidToken(context.Background())
	if err != nil {
		t.Fatalf("ValidToken failed: %v", err)
	}
	if fx.refreshCalls.Load() != 0 {
		t.Fatal("fresh token must not trigger a rotation")
	}
	if access == "" {
		t.Fatal("expected the live access token")
	}
}

func TestValidTokenRotatesRejectedOpaqueToken(t *testing.T) {
	fx := &fakeExchange{}
	m := newTestManager(t, fx, nil)
	mustSignIn(t, m)

	// The opaque access token carries no expiry, so only the backend probe
	// can reveal the rejection.
	fx.mu.Lock()
	fx.probeErr = exchange.ErrTokenRejected
	fx.probeFailures = 1
	fx.mu.Unlock()

	access, err := m.ValidToken(context.Background())
	if err != nil {
		t.Fatalf("ValidToken failed: %v", err)
	}
	if access != "access-2" {
		t.Fatalf("expected rotated token, got %s", access)
	}
	if fx.refreshCalls.Load() != 1 {
		t.Fatalf("expected one rotation, got %d", fx.refreshCalls.Load())
	}
}

func TestValidTokenSurvivesTransientProbeFailure(t *testing.T) {
	fx := &fakeExchange{}
	m := newTestManager(t, fx, nil)
	sess := mustSignIn(t, m)

	fx.mu.Lock()
	fx.probeErr = exchange.ErrNetwork
	fx.mu.Unlock()

	access, err := m.ValidToken(context.Background())
	if err != nil {
		t.Fatalf("ValidToken failed: %v", err)
	}
	if access != sess.AccessToken {
		t.Fatal("transient probe failure must hand out the live token")
	}
	if fx.refreshCalls.Load() != 0 {
		t.Fatal("transient probe failure must not trigger a rotation")
	}
}

func TestSignOutClearsSessionAndVault(t *testing.T) {
	fx := &fakeExchange{}
	stores := &testStores{plain: store.NewMemory(), vault: store.NewMemory()}
	m := newTestManager(t, fx, stores)
	mustSignIn(t, m)
	if err := m.EnableBiometric(context.Background()); err != nil {
		t.Fatalf("EnableBiometric failed: %v", err)
	}

	status := m.SignOut(context.Background(), true)

	if !status.StoreCleared || !status.VaultCleared || status.StoreErr != nil || status.VaultErr != nil {
		t.Fatalf("expected clean sign-out status, got %+v", status)
	}
	if m.State() != StateSignedOut || m.Current() != nil {
		t.Fatal("expected signed out")
	}
	if _, err := stores.plain.Get(context.Background(), sessionKey); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("persisted session must be removed")
	}
	if stores.vault.Len() != 0 {
		t.Fatal("explicit sign-out must remove the vault entry")
	}
	if !m.HasEverAuthenticated() {
		t.Fatal("ever-authenticated flag survives sign-out")
	}
}

func TestRestoreFromPersistedSession(t *testing.T) {
	fx := &fakeExchange{}
	stores := &testStores{plain: store.NewMemory(), vault: store.NewMemory()}
	m1 := newTestManager(t, fx, stores)
	mustSignIn(t, m1)

	// Simulated restart: a new manager over the same stores.
	m2 := newTestManager(t, fx, stores)
	if err := m2.Restore(context.Background()); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if m2.State() != StateSignedIn {
		t.Fatalf("expected restored session, state=%s", m2.State())
	}
	if m2.Current().AccessToken != "access-1" {
		t.Fatalf("unexpected restored session: %+v", m2.Current())
	}
	if !m2.HasEverAuthenticated() {
		t.Fatal("expected ever-authenticated flag from store")
	}
	if fx.refreshCalls.Load() != 0 || fx.probeCalls.Load() != 0 {
		t.Fatal("restore must not touch the network")
	}
}

func TestRestoreDiscardsCorruptBlob(t *testing.T) {
	stores := &testStores{plain: store.NewMemory(), vault: store.NewMemory()}
	if err := stores.plain.Set(context.Background(), sessionKey, []byte("{not json")); err != nil {
		t.Fatal(err)
	}

	m := newTestManager(t, &fakeExchange{}, stores)
	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("corrupt blob must not error Restore: %v", err)
	}
	if m.State() != StateSignedOut {
		t.Fatal("corrupt blob must leave manager signed out")
	}
	if _, err := stores.plain.Get(context.Background(), sessionKey); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("corrupt blob must be deleted")
	}
}

func TestRestoreWithEmptyStore(t *testing.T) {
	m := newTestManager(t, &fakeExchange{}, nil)
	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("Restore on empty store failed: %v", err)
	}
	if m.State() != StateSignedOut || m.HasEverAuthenticated() {
		t.Fatal("empty store means cold state")
	}
}

func TestBiometricUnlockAfterRestart(t *testing.T) {
	fx := &fakeExchange{}
	stores := &testStores{plain: store.NewMemory(), vault: store.NewMemory()}
	m1 := newTestManager(t, fx, stores)
	mustSignIn(t, m1)
	if err := m1.EnableBiometric(context.Background()); err != nil {
		t.Fatalf("EnableBiometric failed: %v", err)
	}

	// Restart without the plain session blob: only the vault survives.
	if err := stores.plain.Delete(context.Background(), sessionKey); err != nil {
		t.Fatal(err)
	}
	m2 := newTestManager(t, fx, stores)

	sess, err := m2.BiometricUnlock(context.Background())
	if err != nil {
		t.Fatalf("BiometricUnlock failed: %v", err)
	}
	if sess.AccessToken != "access-1" {
		t.Fatalf("expected vaulted pair verified and restored, got %+v", sess)
	}
	if fx.probeCalls.Load() == 0 {
		t.Fatal("unlock must verify the pair with the backend before trusting it")
	}
	if m2.State() != StateSignedIn {
		t.Fatalf("expected signed in after unlock, got %s", m2.State())
	}
}

func TestBiometricUnlockWhileSignedIn(t *testing.T) {
	fx := &fakeExchange{}
	m := newTestManager(t, fx, nil)
	mustSignIn(t, m)

	probesBefore := fx.probeCalls.Load()
	sess, err := m.BiometricUnlock(context.Background())
	if err != nil {
		t.Fatalf("BiometricUnlock failed: %v", err)
	}
	if sess.AccessToken != "access-1" {
		t.Fatal("expected the live session back")
	}
	if fx.probeCalls.Load() != probesBefore {
		t.Fatal("unlock while signed in must not prompt or probe")
	}
}

func TestBiometricUnlockEmptyVault(t *testing.T) {
	fx := &fakeExchange{}
	m := newTestManager(t, fx, nil)
	_, err := m.BiometricUnlock(context.Background())
	if !errors.Is(err, ErrVaultEmpty) {
		t.Fatalf("expected ErrVaultEmpty, got %v", err)
	}
	// ErrVaultEmpty is the finer name for a vault-unavailable condition.
	if !errors.Is(err, ErrVaultUnavailable) {
		t.Fatalf("expected ErrVaultUnavailable category, got %v", err)
	}
	if fx.probeCalls.Load() != 0 {
		t.Fatal("empty vault must not reach the backend")
	}
}

func TestDisableBiometricIdempotent(t *testing.T) {
	fx := &fakeExchange{}
	stores := &testStores{plain: store.NewMemory(), vault: store.NewMemory()}
	m := newTestManager(t, fx, stores)
	mustSignIn(t, m)
	if err := m.EnableBiometric(context.Background()); err != nil {
		t.Fatalf("EnableBiometric failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := m.DisableBiometric(context.Background()); err != nil {
			t.Fatalf("DisableBiometric call %d failed: %v", i, err)
		}
	}
	if stores.vault.Len() != 0 {
		t.Fatal("vault entry must be removed")
	}

	snap := m.MetricsSnapshot()
	if snap.Counters[MetricBiometricDisabled] != 1 {
		t.Fatalf("repeated disables must count once, got %d", snap.Counters[MetricBiometricDisabled])
	}
}

func TestEnableBiometricRequiresSession(t *testing.T) {
	m := newTestManager(t, &fakeExchange{}, nil)
	if err := m.EnableBiometric(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestFederatedSignedOutGuards(t *testing.T) {
	fx := &fakeExchange{}
	m := newTestManager(t, fx, nil)

	// Cold-start replay before any authentication ever: ignored.
	if err := m.FederatedSignedOut(context.Background()); err != nil {
		t.Fatalf("cold replay errored: %v", err)
	}

	// Password session: a federated SDK sign-out must not touch it.
	mustSignIn(t, m)
	if err := m.FederatedSignedOut(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m.State() != StateSignedIn {
		t.Fatal("password session must survive a federated sign-out notification")
	}
}

func TestFederatedSignedOutEndsFederatedSession(t *testing.T) {
	fx := &fakeExchange{}
	m := newTestManager(t, fx, nil)

	if err := m.FederatedSignedIn(context.Background(), provider.FederatedCredential{
		ProviderUserID: "ext-1",
		Email:          "alice@example.com",
	}); err != nil {
		t.Fatalf("FederatedSignedIn failed: %v", err)
	}
	if m.Current().Provider != session.ProviderFederated {
		t.Fatalf("expected federated session, got %s", m.Current().Provider)
	}

	if err := m.FederatedSignedOut(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m.State() != StateSignedOut {
		t.Fatal("federated session must end on federated sign-out")
	}
}

func TestFederatedSignedInEchoIgnored(t *testing.T) {
	fx := &fakeExchange{}
	m := newTestManager(t, fx, nil)
	mustSignIn(t, m)
	callsBefore := fx.loginCalls.Load()

	if err := m.FederatedSignedIn(context.Background(), provider.FederatedCredential{
		ProviderUserID: "ext-1",
		Email:          "alice@example.com",
	}); err != nil {
		t.Fatalf("echo must be ignored, got %v", err)
	}
	if fx.loginCalls.Load() != callsBefore {
		t.Fatal("echo must not hit the exchange")
	}
}

func TestSnapshotReflectsState(t *testing.T) {
	fx := &fakeExchange{}
	m := newTestManager(t, fx, nil)

	snap := m.Snapshot()
	if snap.Authenticated || snap.HasEverAuthenticated || snap.State != StateSignedOut {
		t.Fatalf("unexpected cold snapshot: %+v", snap)
	}
	if !snap.BiometricAvailable {
		t.Fatal("gate reports hardware and enrollment")
	}

	mustSignIn(t, m)
	snap = m.Snapshot()
	if !snap.Authenticated || snap.User.ID != "u1" || snap.Provider != session.ProviderPassword {
		t.Fatalf("unexpected snapshot after sign-in: %+v", snap)
	}
}

func TestLifecycleEventsDelivered(t *testing.T) {
	fx := &fakeExchange{}
	sink := NewChannelSink(16)

	m, err := New().
		WithConfig(testConfig()).
		WithStore(store.NewMemory()).
		WithVaultStore(store.NewMemory()).
		WithBiometricGate(&biometric.StaticGate{Hardware: true, Enrolment: true}).
		WithExchanger(fx).
		WithEventSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	mustSignIn(t, m)
	m.SignOut(context.Background(), true)
	m.Close()

	var kinds []EventKind
	for ev := range sink.Events() {
		kinds = append(kinds, ev.Kind)
		if ev.ID == "" || ev.Timestamp.IsZero() {
			t.Fatalf("event missing id or timestamp: %+v", ev)
		}
		if len(kinds) == 2 {
			break
		}
	}
	if len(kinds) != 2 || kinds[0] != EventSignedIn || kinds[1] != EventSignedOut {
		t.Fatalf("unexpected event sequence: %v", kinds)
	}
}

func TestManagerNotReady(t *testing.T) {
	var m *Manager
	if _, err := m.SignIn(context.Background(), provider.PasswordCredential{}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if err := m.Restore(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if m.Current() != nil || m.State() != StateSignedOut {
		t.Fatal("nil manager reads must be inert")
	}
}

func TestRefreshProfileUpdatesUser(t *testing.T) {
	fx := &fakeExchange{}
	stores := &testStores{plain: store.NewMemory(), vault: store.NewMemory()}
	m := newTestManager(t, fx, stores)
	sess := mustSignIn(t, m)

	profile, err := m.RefreshProfile(context.Background())
	if err != nil {
		t.Fatalf("RefreshProfile failed: %v", err)
	}
	if profile.Role != "resident" || profile.ID != "u1" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if fx.probeCalls.Load() == 0 {
		t.Fatal("profile refresh must hit the backend")
	}

	current := m.Current()
	if current.AccessToken != sess.AccessToken || current.RefreshToken != sess.RefreshToken {
		t.Fatal("profile refresh must not touch token fields")
	}

	data, err := stores.plain.Get(context.Background(), sessionKey)
	if err != nil {
		t.Fatalf("persisted session missing: %v", err)
	}
	persisted, err := session.Decode(data)
	if err != nil {
		t.Fatalf("decoding persisted session: %v", err)
	}
	if persisted.User.Role != "resident" {
		t.Fatalf("refreshed profile not persisted: %+v", persisted.User)
	}
	if m.MetricsSnapshot().Counters[MetricProfileRefreshed] != 1 {
		t.Fatal("profile refresh counter not incremented")
	}
}

func TestRefreshProfileRotatesRejectedToken(t *testing.T) {
	fx := &fakeExchange{}
	m := newTestManager(t, fx, nil)
	mustSignIn(t, m)

	// First probe rejects the stale access token; after rotation the retry
	// must succeed.
	fx.mu.Lock()
	fx.probeErr = exchange.ErrTokenRejected
	fx.probeFailures = 1
	fx.mu.Unlock()

	profile, err := m.RefreshProfile(context.Background())
	if err != nil {
		t.Fatalf("RefreshProfile failed: %v", err)
	}
	if profile.ID != "u1" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if fx.refreshCalls.Load() != 1 {
		t.Fatalf("rejected probe must trigger exactly one rotation, got %d", fx.refreshCalls.Load())
	}
	if fx.probeCalls.Load() != 2 {
		t.Fatalf("expected probe retry after rotation, got %d probes", fx.probeCalls.Load())
	}
}

func TestRefreshProfileNetworkErrorKeepsSession(t *testing.T) {
	fx := &fakeExchange{}
	m := newTestManager(t, fx, nil)
	sess := mustSignIn(t, m)

	fx.mu.Lock()
	fx.probeErr = exchange.ErrNetwork
	fx.mu.Unlock()

	_, err := m.RefreshProfile(context.Background())
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	if m.Current() == nil || m.Current().AccessToken != sess.AccessToken {
		t.Fatal("transient probe failure must leave the session intact")
	}
}

func TestRefreshProfileRequiresSession(t *testing.T) {
	m := newTestManager(t, &fakeExchange{}, nil)
	if _, err := m.RefreshProfile(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestSignOutKeepsVaultForQuickUnlock(t *testing.T) {
	fx := &fakeExchange{}
	stores := &testStores{plain: store.NewMemory(), vault: store.NewMemory()}
	m := newTestManager(t, fx, stores)
	mustSignIn(t, m)
	if err := m.EnableBiometric(context.Background()); err != nil {
		t.Fatalf("EnableBiometric failed: %v", err)
	}

	status := m.SignOut(context.Background(), false)

	if !status.StoreCleared || status.VaultCleared {
		t.Fatalf("unexpected sign-out status: %+v", status)
	}
	if m.State() != StateSignedOut {
		t.Fatal("expected signed out")
	}
	if stores.vault.Len() == 0 {
		t.Fatal("vault entry must survive a sign-out that keeps biometric")
	}
	if !m.Snapshot().BiometricEnabled {
		t.Fatal("biometric stays enabled while the vault entry survives")
	}

	sess, err := m.BiometricUnlock(context.Background())
	if err != nil {
		t.Fatalf("BiometricUnlock failed: %v", err)
	}
	if sess == nil || m.State() != StateSignedIn {
		t.Fatal("quick unlock must restore the session")
	}
}

func TestSignOutDuringRefreshKeepsStoreClear(t *testing.T) {
	fx := &fakeExchange{refreshGate: make(chan struct{})}
	stores := &testStores{plain: store.NewMemory(), vault: store.NewMemory()}
	m := newTestManager(t, fx, stores)
	mustSignIn(t, m)

	done := make(chan error, 1)
	go func() {
		_, err := m.Refresh(context.Background())
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for fx.refreshCalls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("rotation never reached the exchange")
		}
		time.Sleep(time.Millisecond)
	}

	// The user signs out while the rotation is held on the wire.
	m.SignOut(context.Background(), true)
	if _, err := stores.plain.Get(context.Background(), sessionKey); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("sign-out must clear the persisted session")
	}

	close(fx.refreshGate)
	if err := <-done; !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated from the losing rotation, got %v", err)
	}

	if m.Current() != nil || m.State() != StateSignedOut {
		t.Fatal("manager must stay signed out")
	}
	if _, err := stores.plain.Get(context.Background(), sessionKey); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("losing rotation must not repopulate the plain store")
	}
}

func TestLosingSignInDoesNotClobberPersistedSession(t *testing.T) {
	fx := &fakeExchange{loginGate: make(chan struct{})}
	stores := &testStores{plain: store.NewMemory(), vault: store.NewMemory()}
	m := newTestManager(t, fx, stores)

	seed := &session.Session{
		AccessToken:  "access-restored",
		RefreshToken: "refresh-restored",
		User:         session.UserProfile{ID: "u1", Email: "alice@example.com"},
		Provider:     session.ProviderPassword,
		IssuedAt:     time.Now(),
	}
	blob, err := session.Encode(seed)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		cred, _ := provider.Password("alice@example.com", "pw")
		_, err := m.SignIn(context.Background(), cred)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for fx.loginCalls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sign-in never reached the exchange")
		}
		time.Sleep(time.Millisecond)
	}

	// A persisted session is restored while the exchange is held on the
	// wire; the restored session must win the commit.
	if err := stores.plain.Set(context.Background(), sessionKey, blob); err != nil {
		t.Fatal(err)
	}
	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	close(fx.loginGate)
	if err := <-done; !errors.Is(err, ErrAlreadySignedIn) {
		t.Fatalf("expected ErrAlreadySignedIn from the losing sign-in, got %v", err)
	}

	if m.Current().AccessToken != "access-restored" {
		t.Fatalf("restored session must survive: %+v", m.Current())
	}
	data, err := stores.plain.Get(context.Background(), sessionKey)
	if err != nil {
		t.Fatalf("persisted session missing: %v", err)
	}
	persisted, err := session.Decode(data)
	if err != nil {
		t.Fatalf("decoding persisted session: %v", err)
	}
	if persisted.AccessToken != "access-restored" {
		t.Fatalf("losing sign-in clobbered the persisted blob: %+v", persisted)
	}
}
