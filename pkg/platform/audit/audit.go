// Package audit records security-relevant guard decisions as structured log
// lines and hands them to an optional Emitter (e.g. a metrics sink).
package audit

import (
	"context"
	"log/slog"
	"time"

	"authguard/pkg/requestcontext"
)

// Event describes one security decision. Subjects are user IDs or anonymized
// IP prefixes, never raw addresses.
type Event struct {
	Timestamp time.Time
	Action    string
	Subject   string
	UserID    string
	Decision  string
	Reason    string
	RequestID string
}

// Event actions emitted by the guards.
const (
	EventRateLimitExceeded   = "rate_limit_exceeded"
	EventFailedLogin         = "failed_login_recorded"
	EventAccountLocked       = "account_locked"
	EventAccountUnlocked     = "account_unlocked"
	EventAdminUnlock         = "admin_unlock"
	EventRateLimitReset      = "rate_limit_reset"
	EventCSRFTokenIssued     = "csrf_token_issued"
	EventCSRFRejected        = "csrf_rejected"
	EventCSRFTokenInvalidate = "csrf_token_invalidated"
	EventStoreDegraded       = "guard_store_degraded"
)

// Emitter receives audit events after they are logged.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Logger standardizes audit logging across guards.
type Logger struct {
	textLogger *slog.Logger
	emitter    Emitter
	now        func() time.Time
}

// NewLogger creates an audit logger. Both arguments are optional.
func NewLogger(textLogger *slog.Logger, emitter Emitter) *Logger {
	return &Logger{
		textLogger: textLogger,
		emitter:    emitter,
		now:        time.Now,
	}
}

// Log writes event with attributes, enriched with the request ID from ctx.
//
// Usage:
//
//	logger.Log(ctx, audit.EventAccountLocked, "user_id", userID, "decision", "denied")
func (l *Logger) Log(ctx context.Context, event string, attributes ...any) {
	if l == nil {
		return
	}
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}

	if l.textLogger != nil {
		args := append(attributes, "event", event, "log_type", "audit")
		l.textLogger.InfoContext(ctx, event, args...)
	}

	if l.emitter == nil {
		return
	}
	userID := extractString(attributes, "user_id")
	subject := userID
	if subject == "" {
		subject = extractString(attributes, "ip_prefix")
	}
	err := l.emitter.Emit(ctx, Event{
		Timestamp: l.now(),
		Action:    event,
		Subject:   subject,
		UserID:    userID,
		Decision:  extractString(attributes, "decision"),
		Reason:    extractString(attributes, "reason"),
		RequestID: requestID,
	})
	if err != nil && l.textLogger != nil {
		l.textLogger.WarnContext(ctx, "failed to emit audit event", "event", event, "error", err)
	}
}

// extractString finds a string (or fmt.Stringer) value for key in slog-style pairs.
func extractString(attributes []any, key string) string {
	for i := 0; i+1 < len(attributes); i += 2 {
		k, ok := attributes[i].(string)
		if !ok || k != key {
			continue
		}
		switch v := attributes[i+1].(type) {
		case string:
			return v
		case interface{ String() string }:
			return v.String()
		}
	}
	return ""
}
