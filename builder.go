package tokenguard

import (
	"errors"
	"time"

	internalaudit "github.com/MrEthical07/tokenguard/internal/audit"
	"github.com/MrEthical07/tokenguard/jwt"
	"github.com/MrEthical07/tokenguard/refresh"
	"github.com/MrEthical07/tokenguard/revocation"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. Configure it during initialization; a
// Builder can produce exactly one Engine.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	verifier  CredentialVerifier
	blacklist revocation.Blacklist
	auditSink AuditSink
	logger    *zap.Logger
	clock     func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the shared cache. The client must address one keyspace:
// a single node or a sentinel failover client. Cluster and ring clients are
// rejected by Build because refresh rotation scripts touch keys of two
// different tokens atomically.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialVerifier sets the collaborator Login delegates to. Engines
// without one can still Issue, Validate, and Revoke.
func (b *Builder) WithCredentialVerifier(v CredentialVerifier) *Builder {
	b.verifier = v
	return b
}

// WithBlacklist enables durable dual-writes of revocations.
func (b *Builder) WithBlacklist(bl revocation.Blacklist) *Builder {
	b.blacklist = bl
	return b
}

// WithAuditSink sets where audit events are delivered. Audit must also be
// enabled in [AuditConfig].
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. The default discards output.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the wall clock for the codec and the stores.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	switch b.redis.(type) {
	case *redis.ClusterClient, *redis.Ring:
		return nil, errors.New("redis cluster and ring clients are not supported")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	engine := &Engine{
		config:   cloneConfig(cfg),
		verifier: b.verifier,
		logger:   logger,
		clock:    clock,
		metrics:  NewMetrics(cfg.Metrics),
	}

	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		RequireIAT:    cfg.JWT.RequireIAT,
		MaxFutureIAT:  cfg.JWT.MaxFutureIAT,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
		Now:           clock,
	})
	if err != nil {
		return nil, err
	}
	engine.codec = jm

	engine.revocation = revocation.NewStore(b.redis, revocation.Options{
		Prefix:              cfg.Store.KeyPrefix,
		Timeout:             cfg.Store.OperationTimeout,
		IndexPolicy:         revocation.IndexPolicy(cfg.Store.IndexPolicy),
		Blacklist:           b.blacklist,
		CheckBlacklistOnHit: cfg.Blacklist.CheckOnHit,
		OnBlacklistFailure:  engine.onBlacklistFailure,
		Logger:              logger.Named("revocation"),
		Now:                 clock,
	})
	engine.refresh = refresh.NewStore(b.redis, refresh.Options{
		Prefix:  cfg.Store.KeyPrefix,
		Timeout: cfg.Store.OperationTimeout,
		Logger:  logger.Named("refresh"),
		Now:     clock,
	})
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink, logger.Named("audit"))

	engine.flows = engine.buildFlowDeps()

	b.built = true

	return engine, nil
}
