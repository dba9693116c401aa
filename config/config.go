package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/MrEthical07/tokenguard"
	"github.com/MrEthical07/tokenguard/blacklist"
)

// EnvPrefix is prepended to every environment override, e.g.
// TOKENGUARD_REDIS_ADDR for redis.addr.
const EnvPrefix = "TOKENGUARD"

// Settings is everything a tokenguard deployment reads at startup.
type Settings struct {
	Engine   EngineSettings `mapstructure:"engine"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Janitor  JanitorConfig  `mapstructure:"janitor"`
}

/* ==== ENGINE ==== */

// EngineSettings mirrors [tokenguard.Config] with file-friendly names. Key
// material is referenced by path, never inlined.
type EngineSettings struct {
	JWT       JWTSettings       `mapstructure:"jwt"`
	Store     StoreSettings     `mapstructure:"store"`
	Refresh   RefreshSettings   `mapstructure:"refresh"`
	Blacklist BlacklistSettings `mapstructure:"blacklist"`
	Audit     AuditSettings     `mapstructure:"audit"`
	Metrics   MetricsSettings   `mapstructure:"metrics"`
	Logging   LoggingSettings   `mapstructure:"logging"`
}

type JWTSettings struct {
	AccessTTL      time.Duration     `mapstructure:"access_ttl" validate:"gt=0"`
	SigningMethod  string            `mapstructure:"signing_method" validate:"oneof=ed25519 hs256"`
	PrivateKeyFile string            `mapstructure:"private_key_file"`
	PublicKeyFile  string            `mapstructure:"public_key_file"`
	Secret         string            `mapstructure:"secret"`
	Issuer         string            `mapstructure:"issuer"`
	Audience       string            `mapstructure:"audience"`
	Leeway         time.Duration     `mapstructure:"leeway" validate:"gte=0,lte=1m"`
	RequireIAT     bool              `mapstructure:"require_iat"`
	MaxFutureIAT   time.Duration     `mapstructure:"max_future_iat" validate:"gte=0"`
	KeyID          string            `mapstructure:"key_id"`
	VerifyKeyFiles map[string]string `mapstructure:"verify_key_files"`
}

type StoreSettings struct {
	KeyPrefix        string        `mapstructure:"key_prefix" validate:"required"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" validate:"gt=0"`
	IndexPolicy      string        `mapstructure:"index_policy" validate:"oneof=latest max"`
}

type RefreshSettings struct {
	TTL              time.Duration `mapstructure:"ttl" validate:"gt=0"`
	RevokeAllOnReuse bool          `mapstructure:"revoke_all_on_reuse"`
}

type BlacklistSettings struct {
	CheckOnHit bool `mapstructure:"check_on_hit"`
}

type AuditSettings struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size" validate:"gte=0"`
	DropIfFull bool `mapstructure:"drop_if_full"`
}

type MetricsSettings struct {
	Enabled           bool `mapstructure:"enabled"`
	LatencyHistograms bool `mapstructure:"latency_histograms"`
}

type LoggingSettings struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format      string `mapstructure:"format" validate:"oneof=json console"`
	Development bool   `mapstructure:"development"`
}

/* ==== BACKENDS ==== */

// RedisConfig is the shared revocation cache connection.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr" validate:"required,hostname_port"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db" validate:"gte=0"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size" validate:"gte=0"`
	MinIdleConns int           `mapstructure:"min_idle_conns" validate:"gte=0"`
}

// Options converts the settings into go-redis client options.
func (c RedisConfig) Options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Username:     c.Username,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}

// PostgresConfig is the durable blacklist database. An empty DSN disables
// the blacklist.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// Enabled reports whether a DSN was configured.
func (c PostgresConfig) Enabled() bool {
	return strings.TrimSpace(c.DSN) != ""
}

// Pool returns the connection pool settings for [blacklist.Open].
func (c PostgresConfig) Pool() blacklist.PoolConfig {
	return blacklist.PoolConfig{
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
	}
}

/* ==== MAINTENANCE ==== */

// JanitorConfig schedules background maintenance with cron specs such as
// "@every 15m" or "5 * * * *".
type JanitorConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	ReconcileSchedule string `mapstructure:"reconcile_schedule" validate:"required_if=Enabled true"`
	PurgeSchedule     string `mapstructure:"purge_schedule"`
}

func setDefaults(v *viper.Viper) {
	d := tokenguard.DefaultConfig()

	v.SetDefault("engine.jwt.access_ttl", d.JWT.AccessTTL)
	v.SetDefault("engine.jwt.signing_method", d.JWT.SigningMethod)
	v.SetDefault("engine.jwt.private_key_file", "")
	v.SetDefault("engine.jwt.public_key_file", "")
	v.SetDefault("engine.jwt.secret", "")
	v.SetDefault("engine.jwt.issuer", "")
	v.SetDefault("engine.jwt.audience", "")
	v.SetDefault("engine.jwt.leeway", d.JWT.Leeway)
	v.SetDefault("engine.jwt.require_iat", d.JWT.RequireIAT)
	v.SetDefault("engine.jwt.max_future_iat", d.JWT.MaxFutureIAT)
	v.SetDefault("engine.jwt.key_id", "")

	v.SetDefault("engine.store.key_prefix", d.Store.KeyPrefix)
	v.SetDefault("engine.store.operation_timeout", d.Store.OperationTimeout)
	v.SetDefault("engine.store.index_policy", d.Store.IndexPolicy)

	v.SetDefault("engine.refresh.ttl", d.Refresh.TTL)
	v.SetDefault("engine.refresh.revoke_all_on_reuse", d.Refresh.RevokeAllOnReuse)

	v.SetDefault("engine.blacklist.check_on_hit", d.Blacklist.CheckOnHit)

	v.SetDefault("engine.audit.enabled", d.Audit.Enabled)
	v.SetDefault("engine.audit.buffer_size", d.Audit.BufferSize)
	v.SetDefault("engine.audit.drop_if_full", d.Audit.DropIfFull)

	v.SetDefault("engine.metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("engine.metrics.latency_histograms", d.Metrics.EnableLatencyHistograms)

	v.SetDefault("engine.logging.level", d.Logging.Level)
	v.SetDefault("engine.logging.format", d.Logging.Format)
	v.SetDefault("engine.logging.development", d.Logging.Development)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 0)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", time.Hour)
	v.SetDefault("postgres.conn_max_idle_time", 30*time.Minute)
	v.SetDefault("postgres.migrate_on_start", false)

	v.SetDefault("janitor.enabled", false)
	v.SetDefault("janitor.reconcile_schedule", "@every 15m")
	v.SetDefault("janitor.purge_schedule", "@every 1h")
}

// Load reads settings from path (any format viper understands; empty means
// defaults only), then a .env file in the working directory, then
// TOKENGUARD_* environment variables. The result is validated.
func Load(path string) (*Settings, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var s Settings
	err := v.Unmarshal(&s, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

var validate = validator.New()

// Validate runs struct tag validation. Cross-field engine rules are checked
// later by [tokenguard.Config.Validate].
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", tokenguard.ErrInvalidConfig, err)
	}
	return nil
}

// EngineConfig resolves key files and returns an engine configuration.
func (s *Settings) EngineConfig() (tokenguard.Config, error) {
	e := s.Engine
	cfg := tokenguard.DefaultConfig()

	cfg.JWT.AccessTTL = e.JWT.AccessTTL
	cfg.JWT.SigningMethod = e.JWT.SigningMethod
	cfg.JWT.Issuer = e.JWT.Issuer
	cfg.JWT.Audience = e.JWT.Audience
	cfg.JWT.Leeway = e.JWT.Leeway
	cfg.JWT.RequireIAT = e.JWT.RequireIAT
	cfg.JWT.MaxFutureIAT = e.JWT.MaxFutureIAT
	cfg.JWT.KeyID = e.JWT.KeyID

	switch e.JWT.SigningMethod {
	case "hs256":
		cfg.JWT.PrivateKey = []byte(e.JWT.Secret)
	default:
		var err error
		if cfg.JWT.PrivateKey, err = readKey(e.JWT.PrivateKeyFile); err != nil {
			return cfg, err
		}
		if cfg.JWT.PublicKey, err = readKey(e.JWT.PublicKeyFile); err != nil {
			return cfg, err
		}
	}
	if len(e.JWT.VerifyKeyFiles) > 0 {
		cfg.JWT.VerifyKeys = make(map[string][]byte, len(e.JWT.VerifyKeyFiles))
		for kid, path := range e.JWT.VerifyKeyFiles {
			key, err := readKey(path)
			if err != nil {
				return cfg, err
			}
			cfg.JWT.VerifyKeys[kid] = key
		}
	}

	cfg.Store.KeyPrefix = e.Store.KeyPrefix
	cfg.Store.OperationTimeout = e.Store.OperationTimeout
	cfg.Store.IndexPolicy = e.Store.IndexPolicy
	cfg.Refresh.TTL = e.Refresh.TTL
	cfg.Refresh.RevokeAllOnReuse = e.Refresh.RevokeAllOnReuse
	cfg.Blacklist.CheckOnHit = e.Blacklist.CheckOnHit
	cfg.Audit.Enabled = e.Audit.Enabled
	cfg.Audit.BufferSize = e.Audit.BufferSize
	cfg.Audit.DropIfFull = e.Audit.DropIfFull
	cfg.Metrics.Enabled = e.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = e.Metrics.LatencyHistograms
	cfg.Logging.Level = e.Logging.Level
	cfg.Logging.Format = e.Logging.Format
	cfg.Logging.Development = e.Logging.Development

	return cfg, cfg.Validate()
}

func readKey(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", path, err)
	}
	return b, nil
}
