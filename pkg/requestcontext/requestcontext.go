// Package requestcontext carries request-scoped values shared by middleware,
// guards and handlers: request ID, client metadata, authenticated user and
// the request's reference time.
package requestcontext

import (
	"context"
	"time"
)

type (
	contextKeyRequestID   struct{}
	contextKeyClientIP    struct{}
	contextKeyUserAgent   struct{}
	contextKeyUserID      struct{}
	contextKeyRequestTime struct{}
)

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID{}, requestID)
}

// RequestID returns the request ID, or "" outside a request.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyRequestID{}).(string); ok {
		return v
	}
	return ""
}

// WithClientMetadata stores the resolved client IP and User-Agent.
func WithClientMetadata(ctx context.Context, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, contextKeyClientIP{}, ip)
	return context.WithValue(ctx, contextKeyUserAgent{}, userAgent)
}

// ClientIP returns the client IP resolved by the metadata middleware.
func ClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyClientIP{}).(string); ok {
		return v
	}
	return ""
}

// UserAgent returns the client's User-Agent header.
func UserAgent(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyUserAgent{}).(string); ok {
		return v
	}
	return ""
}

// WithUserID stores the authenticated user identity supplied by the host.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKeyUserID{}, userID)
}

// UserID returns the authenticated user identity, or "" for anonymous requests.
func UserID(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyUserID{}).(string); ok {
		return v
	}
	return ""
}

// WithTime injects a specific time into a context.
// Useful for service tests and workers that need one "now" per batch.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, contextKeyRequestTime{}, t)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(contextKeyRequestTime{}).(time.Time); ok {
		return t
	}
	return time.Now()
}
