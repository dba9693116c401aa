package tokenguard

import (
	"context"
	"errors"
	"fmt"

	internalflows "github.com/MrEthical07/tokenguard/internal/flows"
)

// Login verifies creds through the configured [CredentialVerifier] and
// returns a registered access token and an opaque refresh token bound to
// the same family.
//
// Rejected credentials return [ErrInvalidCredentials]. Store faults match
// [ErrStoreUnavailable]; no partial session is left behind.
func (e *Engine) Login(ctx context.Context, creds Credentials) (string, string, error) {
	if !e.ready() || e.verifier == nil {
		return "", "", ErrEngineNotReady
	}

	user, err := e.verifier.VerifyCredentials(ctx, creds)
	if err != nil || user == nil || user.UserID == "" {
		e.metricInc(MetricLoginFailure)
		reason := "rejected"
		if err == nil {
			reason = "empty_user"
		}
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, reasonMetadata(reason))
		return "", "", ErrInvalidCredentials
	}

	result := internalflows.RunLogin(ctx, user.UserID, user.Roles, e.flows.Login)
	if result.Failure != internalflows.LoginFailureNone {
		e.metricInc(MetricLoginFailure)
		var out error
		switch result.Failure {
		case internalflows.LoginFailureIssueAccess:
			out = e.loginIssueError(result.Err)
		case internalflows.LoginFailureRefreshSecret:
			out = fmt.Errorf("%w: %v", ErrEncoding, result.Err)
		default:
			out = e.storeError("save_refresh", result.Err)
		}
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, result.FamilyID, out, nil)
		return "", "", out
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, result.FamilyID, nil, nil)
	return result.AccessToken, result.RefreshToken, nil
}

func (e *Engine) loginIssueError(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return e.storeError("register", err)
	}
	if errors.Is(err, ErrEncoding) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrEncoding, err)
}
