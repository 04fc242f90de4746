package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"authguard/internal/platform/privacy"
	"authguard/internal/ratelimit/models"
	"authguard/pkg/platform/httputil"
	"authguard/pkg/requestcontext"
)

// RateLimiter is the slice of the checker facade the middleware needs.
type RateLimiter interface {
	CheckAll(ctx context.Context, req models.RequestInfo, userID, action string) *models.CheckAllResult
	CheckAccountStatus(ctx context.Context, userID string) *models.LockoutResult
}

type Middleware struct {
	limiter RateLimiter
	logger  *slog.Logger
}

func New(limiter RateLimiter, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		limiter: limiter,
		logger:  logger,
	}
}

// RateLimit runs every configured limit for the request. The account limit
// applies when an upstream middleware put a user ID in the context; action
// selects its counter and may be empty for the default.
func (m *Middleware) RateLimit(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			req := models.RequestInfo{
				IP:     requestcontext.ClientIP(ctx),
				Path:   r.URL.Path,
				Method: r.Method,
			}

			result := m.limiter.CheckAll(ctx, req, requestcontext.UserID(ctx), action)
			m.addRateLimitHeaders(ctx, w, result)

			if !result.Allowed {
				m.logger.InfoContext(ctx, "rate limit exceeded",
					"limit_type", result.Denied.LimitType,
					"ip_prefix", privacy.AnonymizeIP(req.IP),
					"path", req.Path,
					"degraded", result.Denied.Degraded,
				)
				writeRateLimitExceeded(w, result.Denied)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireUnlocked rejects requests of a locked account with 423. userIDFrom
// extracts the account from the request; requests without one pass.
func (m *Middleware) RequireUnlocked(userIDFrom func(*http.Request) string) func(http.Handler) http.Handler {
	if userIDFrom == nil {
		userIDFrom = func(r *http.Request) string { return requestcontext.UserID(r.Context()) }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := userIDFrom(r)
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}
			status := m.limiter.CheckAccountStatus(r.Context(), userID)
			if !status.Allowed {
				WriteAccountLocked(w, status)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// addRateLimitHeaders reports the tightest evaluated limit:
// - X-RateLimit-Limit: {max}
// - X-RateLimit-Remaining: {remaining}
// - X-RateLimit-Reset: {unix timestamp}
// - X-RateLimit-Status: degraded, when a check fell back to its failure policy
func (m *Middleware) addRateLimitHeaders(ctx context.Context, w http.ResponseWriter, result *models.CheckAllResult) {
	for _, res := range result.Results {
		if res.Degraded {
			w.Header().Set("X-RateLimit-Status", "degraded")
			break
		}
	}
	tightest := result.Tightest()
	if tightest == nil || tightest.Degraded {
		return
	}
	reset := requestcontext.Now(ctx).Unix() + int64(tightest.TimeUntilReset)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(tightest.MaxRequests))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(tightest.RemainingRequests))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
}

// writeRateLimitExceeded answers 429, or 503 when the denial came from a
// fail-closed policy rather than a counter.
func writeRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter()))
	if result.Degraded {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, &models.RateLimitExceededResponse{
			Error:      "service_unavailable",
			Message:    "Request could not be verified. Please try again shortly.",
			LimitType:  result.LimitType,
			RetryAfter: result.RetryAfter(),
		})
		return
	}
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    exceededMessage(result.LimitType),
		LimitType:  result.LimitType,
		RetryAfter: result.RetryAfter(),
	})
}

func exceededMessage(limitType models.LimitType) string {
	switch limitType {
	case models.LimitTypeAccount:
		return "Too many attempts for this account. Please try again later."
	case models.LimitTypeGlobal:
		return "Service is temporarily overloaded. Please try again later."
	case models.LimitTypeEndpoint:
		return "Too many requests to this endpoint. Please try again later."
	default:
		return "Too many requests from this IP address. Please try again later."
	}
}

// WriteAccountLocked answers 423 for a locked account, or 503 when the
// lockout check itself failed closed.
func WriteAccountLocked(w http.ResponseWriter, status *models.LockoutResult) {
	retry := max(status.TimeUntilUnlock, 1)
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	if status.Reason == models.ReasonSecurityCheckFailed {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, &models.AccountLockedResponse{
			Error:   "service_unavailable",
			Message: "Account status could not be verified. Please try again shortly.",
		})
		return
	}
	httputil.WriteJSON(w, http.StatusLocked, &models.AccountLockedResponse{
		Error:           "account_locked",
		Message:         "Account temporarily locked due to repeated failed sign-in attempts.",
		TimeUntilUnlock: status.TimeUntilUnlock,
	})
}
