package tokenguard

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventTokenIssued           = "token_issued"
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshInvalid        = "refresh_invalid"
	auditEventRefreshReuseDetected  = "refresh_reuse_detected"
	auditEventValidateRejected      = "validate_rejected"
	auditEventTokenRevoked          = "token_revoked"
	auditEventLogoutSession         = "logout_session"
	auditEventLogoutAll             = "logout_all"
	auditEventSessionsInvalidated   = "sessions_invalidated"
	auditEventReconcile             = "reconcile"
	auditEventBlacklistWriteFailure = "blacklist_write_failure"
)

// AuditErrorCode is the stable error label written to [AuditEvent.Error].
type AuditErrorCode string

const (
	auditErrUnauthorized        AuditErrorCode = "unauthorized"
	auditErrInvalidCredentials  AuditErrorCode = "invalid_credentials"
	auditErrRefreshReuse        AuditErrorCode = "refresh_reuse"
	auditErrRefreshInvalid      AuditErrorCode = "refresh_invalid"
	auditErrInvalidToken        AuditErrorCode = "invalid_token"
	auditErrEncoding            AuditErrorCode = "encoding_failed"
	auditErrSessionInvalidation AuditErrorCode = "session_invalidation_failed"
	auditErrUnavailable         AuditErrorCode = "backend_unavailable"
	auditErrInternal            AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func reasonMetadata(reason string) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"reason": reason}
	}
}

// auditErrorCode never returns err.Error(); wrapped store errors may carry
// key names or addresses.
func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrTokenRefresh):
		return auditErrRefreshInvalid
	case errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrMalformedToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrEncoding):
		return auditErrEncoding
	case errors.Is(err, ErrSessionInvalidationFailed):
		return auditErrSessionInvalidation
	default:
		return auditErrInternal
	}
}

func (e *Engine) now() time.Time {
	if e != nil && e.clock != nil {
		return e.clock()
	}
	return time.Now()
}
