package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"authguard/internal/ratelimit/models"
	"authguard/pkg/requestcontext"
)

// RateLimitMiddlewareSuite covers the translation of guard results into
// HTTP responses.
//
// Justification: clients and proxies key retry behavior off the status codes
// and headers, so a policy denial and a degraded denial must stay distinct.
type RateLimitMiddlewareSuite struct {
	suite.Suite
	limiter *stubLimiter
	mw      *Middleware
	now     time.Time
}

func TestRateLimitMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(RateLimitMiddlewareSuite))
}

type stubLimiter struct {
	result   *models.CheckAllResult
	status   *models.LockoutResult
	lastReq  models.RequestInfo
	lastUser string
	action   string
}

func (l *stubLimiter) CheckAll(_ context.Context, req models.RequestInfo, userID, action string) *models.CheckAllResult {
	l.lastReq, l.lastUser, l.action = req, userID, action
	return l.result
}

func (l *stubLimiter) CheckAccountStatus(_ context.Context, userID string) *models.LockoutResult {
	l.lastUser = userID
	return l.status
}

func (s *RateLimitMiddlewareSuite) SetupTest() {
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.limiter = &stubLimiter{}
	s.mw = New(s.limiter, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (s *RateLimitMiddlewareSuite) serve(h http.Handler, method, path, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	ctx := requestcontext.WithClientMetadata(req.Context(), "10.0.0.5", "test-agent")
	ctx = requestcontext.WithTime(ctx, s.now)
	if userID != "" {
		ctx = requestcontext.WithUserID(ctx, userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func (s *RateLimitMiddlewareSuite) TestRateLimit() {
	s.Run("allowed request gets headers of the tightest limit", func() {
		s.limiter.result = &models.CheckAllResult{
			Allowed: true,
			Results: []*models.RateLimitResult{
				{Allowed: true, LimitType: models.LimitTypeGlobal, MaxRequests: 10000, RemainingRequests: 9000, TimeUntilReset: 30},
				{Allowed: true, LimitType: models.LimitTypeEndpoint, MaxRequests: 10, RemainingRequests: 4, TimeUntilReset: 42},
			},
		}
		rec := s.serve(s.mw.RateLimit("login_attempt")(okHandler), http.MethodPost, "/api/auth/login", "u1")

		s.Equal(http.StatusNoContent, rec.Code)
		s.Equal("10", rec.Header().Get("X-RateLimit-Limit"))
		s.Equal("4", rec.Header().Get("X-RateLimit-Remaining"))
		s.Equal("1780315242", rec.Header().Get("X-RateLimit-Reset"))
		s.Empty(rec.Header().Get("X-RateLimit-Status"))
		s.Equal(models.RequestInfo{IP: "10.0.0.5", Path: "/api/auth/login", Method: http.MethodPost}, s.limiter.lastReq)
		s.Equal("u1", s.limiter.lastUser)
		s.Equal("login_attempt", s.limiter.action)
	})

	s.Run("denied request answers 429", func() {
		denied := &models.RateLimitResult{LimitType: models.LimitTypeIP, MaxRequests: 60, TimeUntilReset: 17}
		s.limiter.result = &models.CheckAllResult{Results: []*models.RateLimitResult{denied}, Denied: denied}
		rec := s.serve(s.mw.RateLimit("")(okHandler), http.MethodGet, "/api/profile", "")

		s.Equal(http.StatusTooManyRequests, rec.Code)
		s.Equal("17", rec.Header().Get("Retry-After"))
		var body models.RateLimitExceededResponse
		s.Require().NoError(json.NewDecoder(rec.Body).Decode(&body))
		s.Equal("rate_limit_exceeded", body.Error)
		s.Equal(models.LimitTypeIP, body.LimitType)
		s.Equal(17, body.RetryAfter)
	})

	s.Run("fail closed denial answers 503", func() {
		denied := &models.RateLimitResult{LimitType: models.LimitTypeAccount, MaxRequests: 5, Degraded: true, TimeUntilReset: 300}
		s.limiter.result = &models.CheckAllResult{Results: []*models.RateLimitResult{denied}, Denied: denied}
		rec := s.serve(s.mw.RateLimit("")(okHandler), http.MethodPost, "/api/auth/login", "u1")

		s.Equal(http.StatusServiceUnavailable, rec.Code)
		s.Equal("degraded", rec.Header().Get("X-RateLimit-Status"))
		s.Equal("300", rec.Header().Get("Retry-After"))
	})

	s.Run("fail open result passes and is flagged", func() {
		s.limiter.result = &models.CheckAllResult{
			Allowed: true,
			Results: []*models.RateLimitResult{{Allowed: true, LimitType: models.LimitTypeGlobal, Degraded: true}},
		}
		rec := s.serve(s.mw.RateLimit("")(okHandler), http.MethodGet, "/", "")
		s.Equal(http.StatusNoContent, rec.Code)
		s.Equal("degraded", rec.Header().Get("X-RateLimit-Status"))
		s.Empty(rec.Header().Get("X-RateLimit-Limit"))
	})
}

func (s *RateLimitMiddlewareSuite) TestRequireUnlocked() {
	handler := s.mw.RequireUnlocked(nil)(okHandler)

	s.Run("anonymous requests pass", func() {
		s.limiter.status = nil
		rec := s.serve(handler, http.MethodPost, "/api/auth/login", "")
		s.Equal(http.StatusNoContent, rec.Code)
	})

	s.Run("locked account answers 423", func() {
		s.limiter.status = &models.LockoutResult{Reason: models.ReasonAccountLocked, TimeUntilUnlock: 240, AttemptCount: 6}
		rec := s.serve(handler, http.MethodPost, "/api/auth/login", "u1")
		s.Equal(http.StatusLocked, rec.Code)
		s.Equal("240", rec.Header().Get("Retry-After"))

		var body models.AccountLockedResponse
		s.Require().NoError(json.NewDecoder(rec.Body).Decode(&body))
		s.Equal("account_locked", body.Error)
		s.Equal(240, body.TimeUntilUnlock)
	})

	s.Run("failed closed status answers 503", func() {
		s.limiter.status = &models.LockoutResult{Reason: models.ReasonSecurityCheckFailed}
		rec := s.serve(handler, http.MethodPost, "/api/auth/login", "u1")
		s.Equal(http.StatusServiceUnavailable, rec.Code)
		s.Equal("1", rec.Header().Get("Retry-After"))
	})

	s.Run("custom extractor", func() {
		s.limiter.status = &models.LockoutResult{Allowed: true, Reason: models.ReasonWarningState}
		custom := s.mw.RequireUnlocked(func(r *http.Request) string { return r.URL.Query().Get("user") })(okHandler)
		rec := s.serve(custom, http.MethodPost, "/api/auth/login?user=u9", "")
		s.Equal(http.StatusNoContent, rec.Code)
		s.Equal("u9", s.limiter.lastUser)
	})
}
