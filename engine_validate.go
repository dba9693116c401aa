package tokenguard

import (
	"context"
	"time"

	internalflows "github.com/MrEthical07/tokenguard/internal/flows"
	"go.uber.org/zap"
)

// Validate authenticates an access token: signature and expiry through the
// codec, then presence in the revocation store.
//
// Validate returns a [Principal] or [ErrUnauthorized]. Expired, malformed,
// forged, revoked, and store-unreachable tokens are deliberately
// indistinguishable; the reason only reaches metrics, audit, and debug logs.
//
//	Performance: 1 Redis EXISTS (+1 blacklist lookup with Blacklist.CheckOnHit).
func (e *Engine) Validate(ctx context.Context, accessToken string) (*Principal, error) {
	if !e.ready() {
		return nil, ErrUnauthorized
	}
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	result := internalflows.RunValidate(ctx, accessToken, e.flows.Validate)
	if result.Failure != internalflows.ValidateFailureNone {
		e.recordValidateFailure(ctx, result)
		return nil, ErrUnauthorized
	}

	e.metricInc(MetricValidateSuccess)
	return principalFromResult(result), nil
}

// IsValid is Validate reduced to a boolean.
func (e *Engine) IsValid(ctx context.Context, accessToken string) bool {
	p, err := e.Validate(ctx, accessToken)
	return err == nil && p != nil
}

func (e *Engine) recordValidateFailure(ctx context.Context, result internalflows.ValidateResult) {
	switch result.Failure {
	case internalflows.ValidateFailureExpired:
		e.metricInc(MetricValidateExpired)
	case internalflows.ValidateFailureRevoked:
		e.metricInc(MetricValidateRevoked)
	case internalflows.ValidateFailureStoreUnavailable:
		e.metricInc(MetricValidateStoreUnavailable)
		e.logger.Warn("revocation store unavailable, rejecting token", zap.Error(result.Err))
	default:
		e.metricInc(MetricValidateMalformed)
	}

	var userID, sessionID string
	if result.Claims != nil {
		userID = result.Claims.Subject
		sessionID = result.Claims.SID
	}
	if ce := e.logger.Check(zap.DebugLevel, "token rejected"); ce != nil {
		ce.Write(zap.String("reason", result.Failure.String()), zap.String("user_id", userID))
	}
	e.emitAudit(ctx, auditEventValidateRejected, false, userID, sessionID, ErrUnauthorized, reasonMetadata(result.Failure.String()))
}

func principalFromResult(result internalflows.ValidateResult) *Principal {
	claims := result.Claims
	p := &Principal{
		UserID:    claims.Subject,
		Roles:     append([]string(nil), claims.Roles...),
		TokenID:   claims.ID,
		SessionID: claims.SID,
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p
}
