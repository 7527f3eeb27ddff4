package sessionkit

import (
	"errors"
	"time"
)

// Config carries all tunable behavior of the session manager. Zero values
// are filled from defaultConfig by the builder; a Config is treated as
// immutable once Build has run.
type Config struct {
	Exchange ExchangeConfig
	Token    TokenConfig
	Vault    VaultConfig
	Events   EventsConfig
	Metrics  MetricsConfig
}

/*
====================================
EXCHANGE CONFIG
====================================
*/

// ExchangeConfig configures the backend exchange client built by the
// builder when no explicit Exchanger is injected.
type ExchangeConfig struct {
	BaseURL   string
	Timeout   time.Duration
	DeviceID  string
	UserAgent string
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls local access token freshness decisions.
type TokenConfig struct {
	// FreshnessSkew is subtracted from the token expiry when deciding
	// whether a local token is still usable, so a token about to expire
	// mid-request is rotated early instead of failing downstream.
	FreshnessSkew time.Duration
}

/*
====================================
VAULT CONFIG
====================================
*/

// VaultConfig configures the biometric credential vault. Only consulted
// when a vault store is wired on the builder.
type VaultConfig struct {
	// Secret is the device secret stretched into the sealing key.
	Secret []byte
	// Salt must be stable per installation. It is not sensitive.
	Salt []byte
	// InstallID scopes sealed entries to this installation.
	InstallID string
	// EnableMessage and UnlockMessage are shown on the biometric prompt.
	EnableMessage string
	UnlockMessage string
}

// EventsConfig controls the async lifecycle event dispatcher.
type EventsConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Exchange: ExchangeConfig{
			Timeout: 15 * time.Second,
		},
		Token: TokenConfig{
			FreshnessSkew: 30 * time.Second,
		},
		Vault: VaultConfig{
			EnableMessage: "Confirm your identity to enable quick unlock",
			UnlockMessage: "Unlock your session",
		},
		Events: EventsConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Vault.Secret = cloneBytes(cfg.Vault.Secret)
	out.Vault.Salt = cloneBytes(cfg.Vault.Salt)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks internal consistency. Exchange reachability and vault key
// material are checked by the builder, which knows what was wired.
func (c *Config) Validate() error {
	if c.Token.FreshnessSkew < 0 {
		return errors.New("Token FreshnessSkew must be >= 0")
	}

	if c.Exchange.Timeout < 0 {
		return errors.New("Exchange Timeout must be >= 0")
	}

	if c.Events.Enabled {
		if c.Events.BufferSize <= 0 {
			return errors.New("Events BufferSize must be > 0 when events are enabled")
		}
	}

	return nil
}
