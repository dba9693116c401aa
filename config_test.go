package tokenguard

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PublicKey = make([]byte, 32)
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults with public key",
			mutate:    func(c *Config) {},
			wantValid: true,
		},
		{
			name: "ed25519 without keys",
			mutate: func(c *Config) {
				c.JWT.PublicKey = nil
			},
			wantValid: false,
		},
		{
			name: "ed25519 with verify key set",
			mutate: func(c *Config) {
				c.JWT.PublicKey = nil
				c.JWT.VerifyKeys = map[string][]byte{"k1": make([]byte, 32)}
			},
			wantValid: true,
		},
		{
			name: "hs256 with secret",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "hs256"
				c.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
			},
			wantValid: true,
		},
		{
			name: "hs256 without secret",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "hs256"
			},
			wantValid: false,
		},
		{
			name: "unsupported signing method",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "rs256"
			},
			wantValid: false,
		},
		{
			name: "zero access ttl",
			mutate: func(c *Config) {
				c.JWT.AccessTTL = 0
			},
			wantValid: false,
		},
		{
			name: "leeway valid",
			mutate: func(c *Config) {
				c.JWT.Leeway = 45 * time.Second
			},
			wantValid: true,
		},
		{
			name: "leeway too large",
			mutate: func(c *Config) {
				c.JWT.Leeway = 3 * time.Minute
			},
			wantValid: false,
		},
		{
			name: "negative max future iat",
			mutate: func(c *Config) {
				c.JWT.MaxFutureIAT = -time.Second
			},
			wantValid: false,
		},
		{
			name: "empty key prefix",
			mutate: func(c *Config) {
				c.Store.KeyPrefix = "  "
			},
			wantValid: false,
		},
		{
			name: "key prefix with whitespace",
			mutate: func(c *Config) {
				c.Store.KeyPrefix = "tg app"
			},
			wantValid: false,
		},
		{
			name: "zero operation timeout",
			mutate: func(c *Config) {
				c.Store.OperationTimeout = 0
			},
			wantValid: false,
		},
		{
			name: "index policy max",
			mutate: func(c *Config) {
				c.Store.IndexPolicy = "max"
			},
			wantValid: true,
		},
		{
			name: "index policy unknown",
			mutate: func(c *Config) {
				c.Store.IndexPolicy = "oldest"
			},
			wantValid: false,
		},
		{
			name: "refresh shorter than access",
			mutate: func(c *Config) {
				c.Refresh.TTL = time.Minute
			},
			wantValid: false,
		},
		{
			name: "audit enabled without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name: "logging format console",
			mutate: func(c *Config) {
				c.Logging.Format = "console"
			},
			wantValid: true,
		},
		{
			name: "logging format unknown",
			mutate: func(c *Config) {
				c.Logging.Format = "xml"
			},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tt.wantValid {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("expected ErrInvalidConfig, got %v", err)
				}
			}
		})
	}
}

func TestConfigValidateReportsEveryProblem(t *testing.T) {
	cfg := validTestConfig()
	cfg.JWT.AccessTTL = 0
	cfg.Store.OperationTimeout = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, want := range []string{"AccessTTL", "OperationTimeout"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
}

func TestBuildConfigImmutabilityAgainstExternalMutation(t *testing.T) {
	env := newTestEnv(t)
	cfg := testConfig(env)
	cfg.JWT.VerifyKeys = map[string][]byte{"k1": append([]byte(nil), env.pub...)}
	cfg.JWT.KeyID = "k1"

	engine, err := New().WithConfig(cfg).WithRedis(env.rdb).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	cfg.JWT.VerifyKeys["k1"][0] ^= 0xff
	cfg.JWT.AccessTTL = time.Nanosecond

	if engine.config.JWT.AccessTTL != DefaultConfig().JWT.AccessTTL {
		t.Fatal("engine config changed through caller mutation")
	}
	if engine.config.JWT.VerifyKeys["k1"][0] != env.pub[0] {
		t.Fatal("verify keys must be deep-copied")
	}
}
