package tokenguard

import (
	"context"
	"errors"
	"fmt"

	internalflows "github.com/MrEthical07/tokenguard/internal/flows"
)

// Refresh redeems a refresh token for a new access token and a new refresh
// token. The presented token is single-use.
//
// Every failure matches [ErrTokenRefresh]. Presenting a token that was
// already rotated revokes its whole family (and, with
// RefreshConfig.RevokeAllOnReuse, every access token of the user) and
// returns [ErrRefreshReuse]. Store faults additionally match
// [ErrStoreUnavailable].
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	if !e.ready() {
		return "", "", ErrEngineNotReady
	}
	if refreshToken == "" {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrTokenRefresh, reasonMetadata("empty"))
		return "", "", ErrTokenRefresh
	}

	result := internalflows.RunRefresh(ctx, refreshToken, e.flows.Refresh)
	switch result.Failure {
	case internalflows.RefreshFailureNone:
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, result.UserID, result.FamilyID, nil, nil)
		return result.AccessToken, result.RefreshToken, nil

	case internalflows.RefreshFailureReuse:
		e.metricInc(MetricRefreshReuseDetected)
		e.metricInc(MetricRefreshFailure)
		if e.config.Refresh.RevokeAllOnReuse {
			e.metricInc(MetricLogoutAll)
		}
		e.logger.Warn("refresh token reuse detected")
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, result.UserID, result.FamilyID, ErrRefreshReuse, nil)
		return "", "", ErrRefreshReuse

	case internalflows.RefreshFailureNotFound:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrTokenRefresh, reasonMetadata("not_found"))
		return "", "", ErrTokenRefresh

	case internalflows.RefreshFailureExpired:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrTokenRefresh, reasonMetadata("expired"))
		return "", "", ErrTokenRefresh

	default:
		e.metricInc(MetricRefreshFailure)
		var err error
		if errors.Is(result.Err, ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", ErrTokenRefresh, e.storeError("refresh", result.Err))
		} else {
			err = fmt.Errorf("%w: %v", ErrTokenRefresh, result.Err)
		}
		e.emitAudit(ctx, auditEventRefreshInvalid, false, result.UserID, result.FamilyID, err, reasonMetadata(refreshReason(result.Failure)))
		return "", "", err
	}
}

func refreshReason(kind internalflows.RefreshFailureKind) string {
	switch kind {
	case internalflows.RefreshFailureNextSecret:
		return "next_secret_generation"
	case internalflows.RefreshFailureRotate:
		return "rotate_failed"
	case internalflows.RefreshFailureIssueAccess:
		return "issue_access_failed"
	default:
		return "unknown"
	}
}
