package tokenguard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	internalflows "github.com/MrEthical07/tokenguard/internal/flows"
	"github.com/MrEthical07/tokenguard/jwt"
	"github.com/MrEthical07/tokenguard/revocation"
)

// Issue mints an access token for subject and registers it as active. If
// registration fails the token is discarded and the error matches
// [ErrStoreUnavailable]; signing failures match [ErrEncoding].
//
//	Flow: sign -> read exp -> Register (1 MULTI/EXEC).
func (e *Engine) Issue(ctx context.Context, subject string, roles []string, ttl time.Duration) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}

	result := internalflows.RunIssue(ctx, subject, roles, ttl, "", e.flows.Issue)
	if result.Failure != internalflows.IssueFailureNone {
		e.metricInc(MetricIssueFailure)
		err := e.issueError(result)
		e.emitAudit(ctx, auditEventTokenIssued, false, subject, "", err, nil)
		return "", err
	}

	e.metricInc(MetricIssueSuccess)
	e.emitAudit(ctx, auditEventTokenIssued, true, subject, "", nil, nil)
	return result.Token, nil
}

func (e *Engine) issueError(result internalflows.IssueResult) error {
	switch result.Failure {
	case internalflows.IssueFailureRegister:
		if errors.Is(result.Err, revocation.ErrInvalidExpiry) || errors.Is(result.Err, revocation.ErrInvalidArgument) {
			return fmt.Errorf("%w: %v", ErrEncoding, result.Err)
		}
		return e.storeError("register", result.Err)
	case internalflows.IssueFailureEncode, internalflows.IssueFailureExpiry:
		if errors.Is(result.Err, ErrEncoding) {
			return result.Err
		}
		return fmt.Errorf("%w: %v", ErrEncoding, result.Err)
	default:
		return result.Err
	}
}

// Revoke removes one access token from the active set on every instance.
// Revoking an already revoked or expired token succeeds. Tokens that do not
// verify return [ErrMalformedToken].
func (e *Engine) Revoke(ctx context.Context, accessToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	claims, err := e.codec.Verify(accessToken)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil
		}
		return ErrMalformedToken
	}

	if err := e.revocation.Revoke(ctx, claims.Subject, accessToken); err != nil {
		err = e.storeError("revoke", err)
		e.emitAudit(ctx, auditEventTokenRevoked, false, claims.Subject, claims.SID, err, nil)
		return err
	}

	e.metricInc(MetricRevoke)
	e.emitAudit(ctx, auditEventTokenRevoked, true, claims.Subject, claims.SID, nil, nil)
	return nil
}

// RevokeAll revokes every access token and refresh family of userID.
func (e *Engine) RevokeAll(ctx context.Context, userID string) error {
	return e.revokeAll(ctx, userID, auditEventLogoutAll)
}

// LogoutEverywhere ends every session of userID on every device.
func (e *Engine) LogoutEverywhere(ctx context.Context, userID string) error {
	return e.revokeAll(ctx, userID, auditEventLogoutAll)
}

// InvalidateUserSessions is LogoutEverywhere for forced invalidation after a
// password change or suspected compromise. Callers needing a hard guarantee
// should also rotate credentials at the identity layer, since a token
// registered concurrently with the sweep may survive it.
func (e *Engine) InvalidateUserSessions(ctx context.Context, userID string) error {
	return e.revokeAll(ctx, userID, auditEventSessionsInvalidated)
}

func (e *Engine) revokeAll(ctx context.Context, userID, eventType string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidUserID
	}

	result := internalflows.RunRevokeAll(ctx, userID, e.flows.RevokeAll)
	if result.Err != nil {
		err := fmt.Errorf("%w: %w", ErrSessionInvalidationFailed, e.storeError("revoke_all", result.Err))
		e.emitAudit(ctx, eventType, false, userID, "", err, nil)
		return err
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, eventType, true, userID, "", nil, func() map[string]string {
		return map[string]string{
			"access_tokens":    strconv.Itoa(result.AccessTokens),
			"refresh_families": strconv.Itoa(result.RefreshFamilies),
		}
	})
	return nil
}
