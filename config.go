package tokenguard

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/tokenguard/revocation"
)

// Config is the complete engine configuration. Build a value with
// [DefaultConfig], adjust it, and pass it to [Builder.WithConfig].
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	JWT       JWTConfig
	Store     StoreConfig
	Refresh   RefreshConfig
	Blacklist BlacklistConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Logging   LoggingConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access token signing and verification.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig controls the Redis key layout and call budget shared by the
// revocation and refresh stores.
type StoreConfig struct {
	KeyPrefix        string
	OperationTimeout time.Duration
	// IndexPolicy is "latest" (default) or "max".
	IndexPolicy string
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig controls refresh token lifetime and reuse handling.
type RefreshConfig struct {
	TTL time.Duration
	// RevokeAllOnReuse revokes every access token of the user when a rotated
	// refresh token is replayed, not only the replayed family.
	RevokeAllOnReuse bool
}

/*
====================================
BLACKLIST CONFIG
====================================
*/

// BlacklistConfig controls the durable revocation backstop. It only takes
// effect when a blacklist is passed to [Builder.WithBlacklist].
type BlacklistConfig struct {
	CheckOnHit bool
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// LoggingConfig controls the logger built by [NewLogger].
type LoggingConfig struct {
	Level       string // debug, info, warn, error
	Format      string // json or console
	Development bool
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultConfig returns the baseline configuration. Signing keys are not
// set and must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Leeway:        0,
			RequireIAT:    true,
			MaxFutureIAT:  time.Minute,
		},
		Store: StoreConfig{
			KeyPrefix:        "tg",
			OperationTimeout: 500 * time.Millisecond,
			IndexPolicy:      string(revocation.IndexPolicyLatest),
		},
		Refresh: RefreshConfig{
			TTL:              7 * 24 * time.Hour,
			RevokeAllOnReuse: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
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

// Validate checks every section and reports all problems at once. The
// returned error matches [ErrInvalidConfig].
func (c *Config) Validate() error {
	var errs []error

	// JWT
	if c.JWT.AccessTTL <= 0 {
		errs = append(errs, errors.New("JWT AccessTTL must be > 0"))
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PublicKey) == 0 && len(c.JWT.VerifyKeys) == 0 {
			errs = append(errs, errors.New("ed25519 requires PublicKey or VerifyKeys"))
		}
	case "hs256":
		if len(c.JWT.PrivateKey) == 0 {
			errs = append(errs, errors.New("hs256 requires PrivateKey"))
		}
	default:
		errs = append(errs, errors.New("unsupported JWT signing method"))
	}
	if c.JWT.Leeway < 0 {
		errs = append(errs, errors.New("JWT Leeway must be >= 0"))
	}
	if c.JWT.Leeway > time.Minute {
		errs = append(errs, errors.New("JWT Leeway must be <= 1m"))
	}
	if c.JWT.MaxFutureIAT < 0 {
		errs = append(errs, errors.New("JWT MaxFutureIAT must be >= 0"))
	}

	// Store
	if strings.TrimSpace(c.Store.KeyPrefix) == "" {
		errs = append(errs, errors.New("Store KeyPrefix must not be empty"))
	}
	if strings.ContainsAny(c.Store.KeyPrefix, " \t\r\n") {
		errs = append(errs, errors.New("Store KeyPrefix must not contain whitespace"))
	}
	if c.Store.OperationTimeout <= 0 {
		errs = append(errs, errors.New("Store OperationTimeout must be > 0"))
	}
	switch revocation.IndexPolicy(c.Store.IndexPolicy) {
	case revocation.IndexPolicyLatest, revocation.IndexPolicyMax:
	default:
		errs = append(errs, fmt.Errorf("Store IndexPolicy %q must be %q or %q",
			c.Store.IndexPolicy, revocation.IndexPolicyLatest, revocation.IndexPolicyMax))
	}

	// Refresh
	if c.Refresh.TTL <= 0 {
		errs = append(errs, errors.New("Refresh TTL must be > 0"))
	}
	if c.Refresh.TTL > 0 && c.JWT.AccessTTL > 0 && c.Refresh.TTL < c.JWT.AccessTTL {
		errs = append(errs, errors.New("Refresh TTL must be >= JWT AccessTTL"))
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		errs = append(errs, errors.New("Audit BufferSize must be > 0 when enabled"))
	}

	// Logging
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		errs = append(errs, errors.New("Logging Format must be json or console"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
