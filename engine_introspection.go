package tokenguard

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/tokenguard/revocation"
	"go.uber.org/zap"
)

// ReconcileResult reports what a reconcile pass observed and changed.
type ReconcileResult = revocation.ReconcileResult

// SweepResult aggregates a [Engine.ReconcileAll] pass.
type SweepResult struct {
	Users   int
	Removed int
	Live    int
	Errors  int
}

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration
}

// Reconcile prunes index entries of userID whose record has expired or was
// removed out of band, and repairs the index TTL. It never changes whether
// any token validates.
func (e *Engine) Reconcile(ctx context.Context, userID string) (ReconcileResult, error) {
	if !e.ready() {
		return ReconcileResult{}, ErrEngineNotReady
	}
	if strings.TrimSpace(userID) == "" {
		return ReconcileResult{}, ErrInvalidUserID
	}

	result, err := e.revocation.Reconcile(ctx, userID)
	if err != nil {
		return result, e.storeError("reconcile", err)
	}
	if result.Removed > 0 {
		e.metrics.Add(MetricReconcileRemoved, uint64(result.Removed))
	}
	return result, nil
}

// ReconcileAll reconciles every user that has an index. Per-user failures
// are logged and counted; the scan continues. Only scan failures and
// context cancellation are returned.
func (e *Engine) ReconcileAll(ctx context.Context) (SweepResult, error) {
	var sweep SweepResult
	if !e.ready() {
		return sweep, ErrEngineNotReady
	}

	err := e.revocation.ScanUsers(ctx, func(userID string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		sweep.Users++
		result, err := e.Reconcile(ctx, userID)
		if err != nil {
			sweep.Errors++
			e.logger.Warn("reconcile user failed", zap.String("user_id", userID), zap.Error(err))
			return nil
		}
		sweep.Removed += result.Removed
		sweep.Live += result.Live
		return nil
	})

	e.emitAudit(ctx, auditEventReconcile, err == nil && sweep.Errors == 0, "", "", err, func() map[string]string {
		return map[string]string{
			"users":   strconv.Itoa(sweep.Users),
			"removed": strconv.Itoa(sweep.Removed),
			"errors":  strconv.Itoa(sweep.Errors),
		}
	})
	if err != nil {
		return sweep, e.storeError("reconcile_all", err)
	}
	return sweep, nil
}

// ActiveTokenCount returns the number of digests indexed for userID. The
// index may include entries whose record already expired until the next
// reconcile.
func (e *Engine) ActiveTokenCount(ctx context.Context, userID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	if strings.TrimSpace(userID) == "" {
		return 0, ErrInvalidUserID
	}
	n, err := e.revocation.Count(ctx, userID)
	if err != nil {
		return 0, e.storeError("count", err)
	}
	return n, nil
}

// ActiveTokenDigests lists indexed digests for userID. Raw tokens are never
// stored and cannot be listed.
func (e *Engine) ActiveTokenDigests(ctx context.Context, userID string) ([]string, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUserID
	}
	digests, err := e.revocation.ActiveDigests(ctx, userID)
	if err != nil {
		return nil, e.storeError("active_digests", err)
	}
	return digests, nil
}

// IsExpiringSoon reports whether accessToken has at most threshold left.
// It does not verify the signature; use it only to decide when to refresh.
func (e *Engine) IsExpiringSoon(accessToken string, threshold time.Duration) bool {
	if e == nil || e.codec == nil {
		return true
	}
	return e.codec.IsExpiringSoon(accessToken, threshold)
}

// Health pings Redis.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if !e.ready() {
		return HealthStatus{}
	}
	latency, err := e.revocation.Ping(ctx)
	if err != nil {
		return HealthStatus{RedisLatency: latency}
	}
	return HealthStatus{RedisAvailable: true, RedisLatency: latency}
}
