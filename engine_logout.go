package tokenguard

import (
	"context"

	internalflows "github.com/MrEthical07/tokenguard/internal/flows"
)

// Logout ends the session behind accessToken: the access token is revoked
// and the refresh family paired with it is revoked, so neither can be used
// again on any instance.
//
// An access token that does not verify returns [ErrTokenInvalid].
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	result := internalflows.RunLogout(ctx, accessToken, e.flows.Logout)
	if result.Invalid {
		e.emitAudit(ctx, auditEventLogoutSession, false, "", "", ErrTokenInvalid, reasonMetadata("invalid_access_token"))
		return ErrTokenInvalid
	}
	if result.Err != nil {
		err := e.storeError("logout", result.Err)
		e.emitAudit(ctx, auditEventLogoutSession, false, result.UserID, result.FamilyID, err, nil)
		return err
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, result.UserID, result.FamilyID, nil, nil)
	return nil
}
