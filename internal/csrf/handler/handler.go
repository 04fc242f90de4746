package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"authguard/internal/csrf/config"
	"authguard/internal/csrf/models"
	"authguard/pkg/platform/httputil"
	"authguard/pkg/requestcontext"
)

type Service interface {
	Config() *config.Config
	GenerateToken(ctx context.Context, req models.GenerateRequest) (*models.Token, error)
	SetCookie(ctx context.Context, w http.ResponseWriter, token *models.Token)
	ClearCookie(w http.ResponseWriter)
	InvalidateToken(ctx context.Context, token string) (bool, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/csrf/token", h.HandleIssueToken)
	r.Delete("/csrf/token", h.HandleInvalidateToken)
}

// HandleIssueToken implements GET /csrf/token. The token is bound to the
// caller's user, session cookie, IP and User-Agent when known.
//
// Output: { "csrf_token": "...", "header_name": "X-CSRF-Token", "expires_at": "..." }
func (h *Handler) HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg := h.service.Config()

	req := models.GenerateRequest{
		UserID:    requestcontext.UserID(ctx),
		IPAddress: requestcontext.ClientIP(ctx),
		UserAgent: requestcontext.UserAgent(ctx),
	}
	if c, err := r.Cookie(cfg.SessionCookie); err == nil {
		req.SessionID = c.Value
	}

	token, err := h.service.GenerateToken(ctx, req)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue csrf token",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}

	h.service.SetCookie(ctx, w, token)
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, &models.TokenResponse{
		CSRFToken:  token.Token,
		HeaderName: cfg.HeaderName,
		ExpiresAt:  token.ExpiresAt,
	})
}

// HandleInvalidateToken implements DELETE /csrf/token, called on logout.
// It deletes the token named by the cookie and clears the cookie.
func (h *Handler) HandleInvalidateToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := r.Cookie(h.service.Config().CookieName)
	if err == nil {
		if _, err := h.service.InvalidateToken(ctx, c.Value); err != nil {
			h.logger.ErrorContext(ctx, "failed to invalidate csrf token",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			httputil.WriteError(w, err)
			return
		}
	}
	h.service.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
