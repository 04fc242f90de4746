package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"authguard/internal/csrf/config"
	"authguard/internal/csrf/models"
	"authguard/pkg/platform/httputil"
	"authguard/pkg/requestcontext"
)

// Validator is the CSRF guard surface the middleware needs.
type Validator interface {
	Validate(ctx context.Context, req models.ValidationRequest) *models.ValidationResult
}

type Middleware struct {
	validator Validator
	config    *config.Config
	logger    *slog.Logger
}

func New(validator Validator, cfg *config.Config, logger *slog.Logger) *Middleware {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		validator: validator,
		config:    cfg,
		logger:    logger,
	}
}

// Protect validates state-changing requests (POST, PUT, PATCH, DELETE) and
// answers 403 when validation fails. Other methods pass untouched.
func (m *Middleware) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !config.ProtectedMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		req := models.ValidationRequest{
			Token:       m.formToken(r),
			HeaderToken: r.Header.Get(m.config.HeaderName),
			CookieToken: m.cookieToken(r),
			IPAddress:   requestcontext.ClientIP(ctx),
			UserAgent:   requestcontext.UserAgent(ctx),
		}

		result := m.validator.Validate(ctx, req)
		if !result.Valid {
			m.logger.InfoContext(ctx, "csrf validation failed",
				"code", result.Code,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", requestcontext.RequestID(ctx),
			)
			httputil.WriteJSON(w, http.StatusForbidden, &models.RejectedResponse{
				Error: "csrf_validation_failed",
				Code:  result.Code,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) cookieToken(r *http.Request) string {
	c, err := r.Cookie(m.config.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// formToken reads the primary token of url-encoded form posts. JSON and
// multipart bodies are left unread.
func (m *Middleware) formToken(r *http.Request) string {
	if m.config.FormField == "" {
		return ""
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		return ""
	}
	return r.PostFormValue(m.config.FormField)
}
