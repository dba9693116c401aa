package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/tokenguard"
	"github.com/MrEthical07/tokenguard/blacklist"
	"github.com/MrEthical07/tokenguard/config"
)

var errNoPostgres = errors.New("postgres is not configured (set postgres.dsn or TOKENGUARD_POSTGRES_DSN)")

// runtime owns every backend a command may open. Pieces are opened lazily
// and closed together.
type runtime struct {
	configPath string
	memory     bool

	settings *config.Settings
	logger   *zap.Logger

	mr        *miniredis.Miniredis
	rdb       redis.UniversalClient
	db        *sqlx.DB
	blacklist *blacklist.Store
	engine    *tokenguard.Engine
}

func (r *runtime) loadSettings() (*config.Settings, error) {
	if r.settings != nil {
		return r.settings, nil
	}
	s, err := config.Load(r.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := tokenguard.NewLogger(tokenguard.LoggingConfig{
		Level:       s.Engine.Logging.Level,
		Format:      s.Engine.Logging.Format,
		Development: s.Engine.Logging.Development,
	})
	if err != nil {
		return nil, err
	}
	r.settings = s
	r.logger = logger
	return s, nil
}

func (r *runtime) openRedis(ctx context.Context) (redis.UniversalClient, error) {
	if r.rdb != nil {
		return r.rdb, nil
	}
	s, err := r.loadSettings()
	if err != nil {
		return nil, err
	}

	if r.memory {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start miniredis: %w", err)
		}
		r.mr = mr
		r.rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		r.logger.Info("using in-memory redis", zap.String("addr", mr.Addr()))
		return r.rdb, nil
	}

	rdb := redis.NewClient(s.Redis.Options())
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: %v", tokenguard.ErrStoreUnavailable, err)
	}
	r.rdb = rdb
	return rdb, nil
}

func (r *runtime) openBlacklist(ctx context.Context) (*blacklist.Store, error) {
	if r.blacklist != nil {
		return r.blacklist, nil
	}
	s, err := r.loadSettings()
	if err != nil {
		return nil, err
	}
	if !s.Postgres.Enabled() {
		return nil, errNoPostgres
	}

	db, err := blacklist.Open(ctx, s.Postgres.DSN, s.Postgres.Pool())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	store := blacklist.NewStore(db, blacklist.Options{})
	if s.Postgres.MigrateOnStart {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate blacklist: %w", err)
		}
	}
	r.db = db
	r.blacklist = store
	return store, nil
}

// openEngine builds the engine. The durable blacklist is attached when
// Postgres is configured. verifier may be nil.
func (r *runtime) openEngine(ctx context.Context, verifier tokenguard.CredentialVerifier) (*tokenguard.Engine, error) {
	if r.engine != nil {
		return r.engine, nil
	}
	s, err := r.loadSettings()
	if err != nil {
		return nil, err
	}

	cfg, err := s.EngineConfig()
	if err != nil && r.memory && !hasKeyMaterial(s) {
		// Throwaway keys: tokens minted here are useless outside this process.
		pub, priv, genErr := ed25519.GenerateKey(rand.Reader)
		if genErr != nil {
			return nil, genErr
		}
		cfg.JWT.SigningMethod = "ed25519"
		cfg.JWT.PrivateKey = priv
		cfg.JWT.PublicKey = pub
		err = cfg.Validate()
	}
	if err != nil {
		return nil, err
	}

	rdb, err := r.openRedis(ctx)
	if err != nil {
		return nil, err
	}

	b := tokenguard.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithLogger(r.logger)
	if verifier != nil {
		b = b.WithCredentialVerifier(verifier)
	}
	if s.Postgres.Enabled() && !r.memory {
		bl, err := r.openBlacklist(ctx)
		if err != nil {
			return nil, err
		}
		b = b.WithBlacklist(bl)
	}

	engine, err := b.Build()
	if err != nil {
		return nil, err
	}
	r.engine = engine
	return engine, nil
}

func hasKeyMaterial(s *config.Settings) bool {
	j := s.Engine.JWT
	return j.PrivateKeyFile != "" || j.PublicKeyFile != "" || j.Secret != "" || len(j.VerifyKeyFiles) > 0
}

func (r *runtime) close() {
	if r.engine != nil {
		r.engine.Close()
	}
	if r.rdb != nil {
		_ = r.rdb.Close()
	}
	if r.mr != nil {
		r.mr.Close()
	}
	if r.blacklist != nil {
		_ = r.blacklist.Close()
	} else if r.db != nil {
		_ = r.db.Close()
	}
	if r.logger != nil {
		_ = r.logger.Sync()
	}
}
