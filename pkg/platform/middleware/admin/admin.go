// Package admin guards operator endpoints with a shared token.
package admin

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"authguard/pkg/platform/httputil"
	"authguard/pkg/requestcontext"
)

// DefaultActorID attributes admin actions sent without X-Admin-Actor-ID.
const DefaultActorID = "admin"

type contextKeyAdminActorID struct{}

// ContextKeyAdminActorID is exported for use in handlers and tests.
var ContextKeyAdminActorID = contextKeyAdminActorID{}

// GetAdminActorID retrieves the admin actor identifier from the context.
// Returns empty string if not set or if this is not an admin request.
func GetAdminActorID(ctx context.Context) string {
	if actorID, ok := ctx.Value(ContextKeyAdminActorID).(string); ok {
		return actorID
	}
	return ""
}

// IsAdminRequest reports whether the context passed RequireAdminToken.
func IsAdminRequest(ctx context.Context) bool {
	return GetAdminActorID(ctx) != ""
}

// RequireAdminToken admits requests whose X-Admin-Token equals expectedToken.
// An empty expectedToken rejects everything. The X-Admin-Actor-ID header
// names the operator for audit attribution.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := r.Header.Get("X-Admin-Token")
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				if logger != nil {
					logger.WarnContext(ctx, "admin token mismatch",
						"request_id", requestcontext.RequestID(ctx),
						"path", r.URL.Path,
					)
				}
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{
					Error:            "unauthorized",
					ErrorDescription: "admin token required",
				})
				return
			}

			actorID := r.Header.Get("X-Admin-Actor-ID")
			if actorID == "" {
				actorID = DefaultActorID
			}
			ctx = context.WithValue(ctx, ContextKeyAdminActorID, actorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
