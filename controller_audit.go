package impactlog

import (
	"context"
	"errors"
)

const (
	auditEventSignInSuccess     = "sign_in_success"
	auditEventSignInFailure     = "sign_in_failure"
	auditEventSignUpSuccess     = "sign_up_success"
	auditEventSignUpFailure     = "sign_up_failure"
	auditEventSignOut           = "sign_out"
	auditEventHydrateSuccess    = "hydrate_success"
	auditEventHydrateRejected   = "hydrate_rejected"
	auditEventHydrateRetained   = "hydrate_retained"
	auditEventHydrateStale      = "hydrate_stale_discarded"
	auditEventSessionInvalidate = "session_invalidated"
)

// AuditErrorCode is the stable error label written to [AuditEvent.Error].
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountNotFound    AuditErrorCode = "account_not_found"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrForbidden          AuditErrorCode = "forbidden"
	auditErrValidation         AuditErrorCode = "validation"
	auditErrNetwork            AuditErrorCode = "network_error"
	auditErrServer             AuditErrorCode = "server_error"
	auditErrStorage            AuditErrorCode = "storage_unavailable"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrInternal           AuditErrorCode = "internal_error"
)

type auditFields struct {
	userID     string
	email      string
	role       string
	generation uint64
}

func (c *Controller) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	fields auditFields,
	err error,
	metadataBuilder func() map[string]string,
) {
	if c == nil || c.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:  c.now().UTC(),
		EventType:  eventType,
		UserID:     fields.userID,
		Email:      fields.email,
		Role:       fields.role,
		View:       currentPathFromContext(ctx),
		Generation: fields.generation,
		Success:    success,
		Metadata:   metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	c.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountNotFound):
		return auditErrAccountNotFound
	case errors.Is(err, ErrAccountExists):
		return auditErrDuplicate
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrForbidden):
		return auditErrForbidden
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrNetworkError):
		return auditErrNetwork
	case errors.Is(err, ErrServerError):
		return auditErrServer
	case errors.Is(err, ErrStorageUnavailable):
		return auditErrStorage
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	default:
		return auditErrInternal
	}
}
