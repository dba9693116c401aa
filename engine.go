package tokenguard

import (
	"context"
	"errors"
	"time"

	internalaudit "github.com/MrEthical07/tokenguard/internal/audit"
	internalflows "github.com/MrEthical07/tokenguard/internal/flows"
	"github.com/MrEthical07/tokenguard/jwt"
	"github.com/MrEthical07/tokenguard/refresh"
	"github.com/MrEthical07/tokenguard/revocation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine is the session authority. It issues access and refresh tokens,
// validates access tokens against the shared revocation store, rotates
// refresh tokens, and performs single and bulk revocation.
//
// An Engine is safe for concurrent use. Engines on different hosts that
// share a Redis deployment and signing keys observe each other's revocations
// immediately.
type Engine struct {
	config     Config
	codec      *jwt.Manager
	revocation *revocation.Store
	refresh    *refresh.Store
	verifier   CredentialVerifier
	audit      *internalaudit.Dispatcher
	metrics    *Metrics
	logger     *zap.Logger
	clock      func() time.Time
	flows      internalflows.Deps
}

// Close drains pending audit events. The Redis client is owned by the caller.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were discarded under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Codec exposes the token codec for callers that need the unverified
// accessors.
func (e *Engine) Codec() *jwt.Manager {
	if e == nil {
		return nil
	}
	return e.codec
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.codec != nil && e.revocation != nil && e.refresh != nil
}

func (e *Engine) warn(msg string, err error) {
	e.logger.Warn(msg, zap.Error(err))
}

func (e *Engine) onBlacklistFailure(err error) {
	e.metricInc(MetricStoreError)
	e.emitAudit(context.Background(), auditEventBlacklistWriteFailure, false, "", "", err, nil)
}

func (e *Engine) buildFlowDeps() internalflows.Deps {
	issue := internalflows.IssueDeps{
		IssueAccess: func(subject string, roles []string, ttl time.Duration, familyID string) (string, error) {
			if familyID == "" {
				return e.codec.Issue(subject, roles, ttl)
			}
			return e.codec.Issue(subject, roles, ttl, jwt.WithSessionID(familyID))
		},
		AccessExpiry: e.codec.Expiry,
		Register:     e.revocation.Register,
	}

	return internalflows.Deps{
		Issue: issue,
		Login: internalflows.LoginDeps{
			Issue:           issue,
			NewFamilyID:     uuid.NewString,
			NewRefreshToken: e.codec.IssueOpaqueRefreshToken,
			SaveRefresh:     e.refresh.Save,
			RevokeAccess:    e.revocation.Revoke,
			AccessTTL:       e.config.JWT.AccessTTL,
			RefreshTTL:      e.config.Refresh.TTL,
			Now:             e.now,
			Warn:            e.warn,
		},
		Refresh: internalflows.RefreshDeps{
			Issue:            issue,
			NewRefreshToken:  e.codec.IssueOpaqueRefreshToken,
			Store:            e.refresh,
			AccessTTL:        e.config.JWT.AccessTTL,
			RevokeAllOnReuse: e.config.Refresh.RevokeAllOnReuse,
			RevokeAllAccess: func(ctx context.Context, userID string) error {
				_, err := e.revocation.RevokeAll(ctx, userID)
				return err
			},
			Warn: e.warn,
		},
		Validate: internalflows.ValidateDeps{
			Verify: e.codec.Verify,
			Check:  e.revocation.Check,
		},
		Logout: internalflows.LogoutDeps{
			Verify:       e.codec.Verify,
			RevokeAccess: e.revocation.Revoke,
			RevokeFamily: e.refresh.RevokeFamily,
		},
		RevokeAll: internalflows.RevokeAllDeps{
			RevokeAccess:  e.revocation.RevokeAll,
			RevokeRefresh: e.refresh.RevokeAllForUser,
		},
	}
}

// storeError keeps the store sentinel and drops Redis detail from the
// returned error while logging it.
func (e *Engine) storeError(op string, err error) error {
	e.metricInc(MetricStoreError)
	e.logger.Error("store operation failed", zap.String("op", op), zap.Error(err))
	if errors.Is(err, ErrStoreUnavailable) {
		return ErrStoreUnavailable
	}
	return err
}
