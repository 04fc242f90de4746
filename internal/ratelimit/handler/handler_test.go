package handler

//go:generate mockgen -source=handler.go -destination=mocks/handler_mock.go -package=mocks Service

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"authguard/internal/ratelimit/handler/mocks"
	"authguard/internal/ratelimit/models"
	dErrors "authguard/pkg/domain-errors"
	"authguard/pkg/platform/middleware/admin"
)

const adminToken = "test-admin-token"

type HandlerSuite struct {
	suite.Suite
	router      http.Handler
	ctrl        *gomock.Controller
	mockService *mocks.MockService
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockService = mocks.NewMockService(s.ctrl)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := New(s.mockService, logger)

	r := chi.NewRouter()
	r.Use(admin.RequireAdminToken(adminToken, logger))
	h.RegisterAdmin(r)
	s.router = r
}

func (s *HandlerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", adminToken)
	req.Header.Set("X-Admin-Actor-ID", "ops-3")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) TestLockoutStatus() {
	s.Run("returns status", func() {
		s.mockService.EXPECT().LockoutStatus(gomock.Any(), "u1").Return(&models.LockoutStatusResponse{
			UserID: "u1",
			LockoutResult: models.LockoutResult{
				Reason:          models.ReasonAccountLocked,
				AttemptCount:    6,
				TimeUntilUnlock: 120,
			},
		}, nil)

		rec := s.do(http.MethodGet, "/admin/lockouts/u1", "")
		s.Equal(http.StatusOK, rec.Code)

		var body map[string]any
		s.Require().NoError(json.NewDecoder(rec.Body).Decode(&body))
		s.Equal("u1", body["user_id"])
		s.Equal("account_locked", body["reason"])
		s.Equal(float64(120), body["time_until_unlock"])
	})

	s.Run("store outage maps to 503", func() {
		s.mockService.EXPECT().LockoutStatus(gomock.Any(), "u1").
			Return(nil, dErrors.New(dErrors.CodeStoreUnavailable, "lockout status unavailable"))
		rec := s.do(http.MethodGet, "/admin/lockouts/u1", "")
		s.Equal(http.StatusServiceUnavailable, rec.Code)
	})
}

func (s *HandlerSuite) TestUnlock() {
	s.Run("passes reason and actor", func() {
		unlockedAt := time.Date(2026, 3, 12, 16, 0, 0, 0, time.UTC)
		s.mockService.EXPECT().
			Unlock(gomock.Any(), "u1", "ops-3", &models.UnlockRequest{Reason: "ticket 4411"}).
			Return(&models.UnlockResponse{Unlocked: true, UserID: "u1", UnlockedAt: unlockedAt}, nil)

		rec := s.do(http.MethodPost, "/admin/lockouts/u1/unlock", `{"reason":" ticket 4411 "}`)
		s.Equal(http.StatusOK, rec.Code)
		s.Contains(rec.Body.String(), `"unlocked":true`)
	})

	s.Run("empty body is allowed", func() {
		s.mockService.EXPECT().
			Unlock(gomock.Any(), "u1", "ops-3", &models.UnlockRequest{}).
			Return(&models.UnlockResponse{Unlocked: true, UserID: "u1"}, nil)
		rec := s.do(http.MethodPost, "/admin/lockouts/u1/unlock", "")
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("invalid json", func() {
		rec := s.do(http.MethodPost, "/admin/lockouts/u1/unlock", "not valid json")
		assert.Equal(s.T(), http.StatusBadRequest, rec.Code, "expected 400 for invalid JSON")
	})
}

func (s *HandlerSuite) TestResetRateLimit() {
	s.Run("reset endpoint counter", func() {
		s.mockService.EXPECT().
			ResetRateLimit(gomock.Any(), "ops-3", &models.ResetRateLimitRequest{LimitType: "endpoint_specific", Identifier: "10.0.0.5:login"}).
			Return(&models.ResetRateLimitResponse{LimitType: models.LimitTypeEndpoint, Key: "10.0.0.5:login", Removed: 1}, nil)

		rec := s.do(http.MethodDelete, "/admin/ratelimits/endpoint_specific/10.0.0.5:login", "")
		s.Equal(http.StatusOK, rec.Code)
		s.Contains(rec.Body.String(), `"removed":1`)
	})

	s.Run("invalid limit type", func() {
		s.mockService.EXPECT().ResetRateLimit(gomock.Any(), "ops-3", gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeInvalidInput, "invalid limit type"))
		rec := s.do(http.MethodDelete, "/admin/ratelimits/tenant/x", "")
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestRequiresAdminToken() {
	req := httptest.NewRequest(http.MethodGet, "/admin/lockouts/u1", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusUnauthorized, rec.Code)
}
