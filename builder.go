package sessionkit

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/parkrow/sessionkit/biometric"
	"github.com/parkrow/sessionkit/exchange"
	"github.com/parkrow/sessionkit/internal/flows"
	"github.com/parkrow/sessionkit/session"
	"github.com/parkrow/sessionkit/store"
	"github.com/parkrow/sessionkit/vault"
)

// Builder assembles a Manager. A zero Builder is not usable; start from New.
type Builder struct {
	config Config

	store      store.Store
	vaultStore store.Store
	gate       biometric.Gate
	exchanger  Exchanger
	sink       EventSink
	logger     zerolog.Logger

	built bool
}

// New returns a builder preloaded with defaults and a disabled logger.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
		logger: zerolog.Nop(),
	}
}

// WithConfig replaces the whole config.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the plain session store. Required.
func (b *Builder) WithStore(st store.Store) *Builder {
	b.store = st
	return b
}

// WithVaultStore sets the backing store for the biometric credential vault.
// Leaving it unset disables biometric quick unlock entirely.
func (b *Builder) WithVaultStore(st store.Store) *Builder {
	b.vaultStore = st
	return b
}

// WithBiometricGate sets the platform biometric binding.
func (b *Builder) WithBiometricGate(gate biometric.Gate) *Builder {
	b.gate = gate
	return b
}

// WithExchanger overrides the backend client built from ExchangeConfig.
func (b *Builder) WithExchanger(x Exchanger) *Builder {
	b.exchanger = x
	return b
}

// WithEventSink sets the lifecycle event sink and enables event dispatch.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.sink = sink
	b.config.Events.Enabled = sink != nil
	return b
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func (b *Builder) WithLogger(log zerolog.Logger) *Builder {
	b.logger = log
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the refresh latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the wiring and returns a ready Manager.
func (b *Builder) Build() (*Manager, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.store == nil {
		return nil, errors.New("session store required")
	}

	exchanger := b.exchanger
	if exchanger == nil {
		client, err := exchange.New(exchange.Config{
			BaseURL:   cfg.Exchange.BaseURL,
			Timeout:   cfg.Exchange.Timeout,
			DeviceID:  cfg.Exchange.DeviceID,
			UserAgent: cfg.Exchange.UserAgent,
		}, b.logger)
		if err != nil {
			return nil, err
		}
		exchanger = client
	}

	var vlt *vault.Vault
	if b.vaultStore != nil {
		if len(cfg.Vault.Secret) == 0 {
			return nil, errors.New("vault store requires Vault Secret")
		}
		if len(cfg.Vault.Salt) == 0 {
			return nil, errors.New("vault store requires Vault Salt")
		}
		if cfg.Vault.InstallID == "" {
			return nil, errors.New("vault store requires Vault InstallID")
		}
		key := vault.DeriveKey(cfg.Vault.Secret, cfg.Vault.Salt)
		v, err := vault.New(b.vaultStore, key, cfg.Vault.InstallID)
		if err != nil {
			return nil, err
		}
		vlt = v
	}

	gate := b.gate
	if gate == nil {
		gate = biometric.Unavailable()
	}

	m := &Manager{
		cfg:      cfg,
		log:      b.logger.With().Str("component", "sessionkit").Logger(),
		store:    b.store,
		vault:    vlt,
		gate:     gate,
		exchange: exchanger,
		metrics:  NewMetrics(cfg.Metrics),
		events:   newEventDispatcher(cfg.Events, b.sink),
		state:    StateSignedOut,
	}
	m.flows = flows.New(b.flowDeps(m, vlt, gate, exchanger))

	b.built = true

	return m, nil
}

// flowDeps wires the pure flow runners to the manager's storage, vault, and
// exchange boundaries.
func (b *Builder) flowDeps(m *Manager, vlt *vault.Vault, gate biometric.Gate, x Exchanger) flows.Deps {
	warn := func(msg string, args ...any) {
		if len(args) == 0 {
			m.log.Warn().Msg(msg)
			return
		}
		m.log.Warn().Msgf(msg, args...)
	}

	saveSession := func(ctx context.Context, sess *session.Session) error {
		data, err := session.Encode(sess)
		if err != nil {
			return err
		}
		return m.store.Set(ctx, sessionKey, data)
	}
	clearSession := func(ctx context.Context) error {
		return m.store.Delete(ctx, sessionKey)
	}

	// Vault closures stay nil without a vault; the manager guards every
	// biometric entry point on m.vault before reaching a flow.
	var (
		syncVault       func(ctx context.Context, sess *session.Session) error
		invalidateVault func(ctx context.Context) error
		deleteVault     func(ctx context.Context) error
	)
	if vlt != nil {
		syncVault = func(ctx context.Context, sess *session.Session) error {
			if !m.biometricOn() {
				return nil
			}
			return vlt.Write(ctx, vault.Entry{
				AccessToken:  sess.AccessToken,
				RefreshToken: sess.RefreshToken,
				Email:        sess.User.Email,
				Provider:     sess.Provider,
			})
		}
		invalidateVault = vlt.Invalidate
		deleteVault = vlt.Delete
	}

	deps := flows.Deps{
		SignIn: flows.SignInDeps{
			Login:         x.Login,
			Register:      x.Register,
			FederatedSync: x.FederatedSync,
			NativeSync:    x.NativeCredentialSync,
			SaveSession:   saveSession,
			SyncVault:     syncVault,
			Now:           m.now,
			Warn:          warn,
		},
		Refresh: flows.RefreshDeps{
			Refresh:         x.Refresh,
			SaveSession:     saveSession,
			SyncVault:       syncVault,
			InvalidateVault: invalidateVault,
			ClearSession:    clearSession,
			Now:             m.now,
			Warn:            warn,
		},
		SignOut: flows.SignOutDeps{
			ClearSession: clearSession,
			DeleteVault:  deleteVault,
			Warn:         warn,
		},
	}

	if vlt != nil {
		deps.Biometric = flows.BiometricDeps{
			Gate:            gate,
			ReadVault:       vlt.Read,
			WriteVault:      vlt.Write,
			DeleteVault:     vlt.Delete,
			InvalidateVault: vlt.Invalidate,
			CurrentUser:     x.CurrentUser,
			Refresh:         x.Refresh,
			SaveSession:     saveSession,
			Now:             m.now,
			Warn:            warn,
			EnableMessage:   b.config.Vault.EnableMessage,
			UnlockMessage:   b.config.Vault.UnlockMessage,
		}
	}

	return deps
}
