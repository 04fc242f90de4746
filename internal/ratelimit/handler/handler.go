package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"authguard/internal/ratelimit/models"
	"authguard/pkg/platform/httputil"
	"authguard/pkg/platform/middleware/admin"
	"authguard/pkg/requestcontext"
)

type Service interface {
	LockoutStatus(ctx context.Context, userID string) (*models.LockoutStatusResponse, error)
	Unlock(ctx context.Context, userID, adminID string, req *models.UnlockRequest) (*models.UnlockResponse, error)
	ResetRateLimit(ctx context.Context, adminID string, req *models.ResetRateLimitRequest) (*models.ResetRateLimitResponse, error)
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

// RegisterAdmin mounts the operator routes. The router is expected to carry
// admin.RequireAdminToken.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/admin/lockouts/{userID}", h.HandleLockoutStatus)
	r.Post("/admin/lockouts/{userID}/unlock", h.HandleUnlock)
	r.Delete("/admin/ratelimits/{limitType}/{key}", h.HandleResetRateLimit)
}

// HandleLockoutStatus implements GET /admin/lockouts/{userID}.
func (h *Handler) HandleLockoutStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	res, err := h.service.LockoutStatus(ctx, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read lockout status",
			"error", err,
			"user_id", userID,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleUnlock implements POST /admin/lockouts/{userID}/unlock.
//
// Input: optional { "reason": "..." }
// Output: { "unlocked": true, "user_id": "...", "unlocked_at": "..." }
func (h *Handler) HandleUnlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	req, ok := httputil.DecodeAndPrepare[models.UnlockRequest](w, r)
	if !ok {
		return
	}

	res, err := h.service.Unlock(ctx, userID, admin.GetAdminActorID(ctx), req)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to unlock account",
			"error", err,
			"user_id", userID,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleResetRateLimit implements DELETE /admin/ratelimits/{limitType}/{key}.
// For endpoint limits key is "{ip}:{endpoint}", for account limits
// "{userID}" or "{userID}:{action}". The global limit ignores key.
func (h *Handler) HandleResetRateLimit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := &models.ResetRateLimitRequest{
		LimitType:  chi.URLParam(r, "limitType"),
		Identifier: chi.URLParam(r, "key"),
	}

	res, err := h.service.ResetRateLimit(ctx, admin.GetAdminActorID(ctx), req)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to reset rate limit",
			"error", err,
			"limit_type", req.LimitType,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
