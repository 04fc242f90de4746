package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	csrfModels "authguard/internal/csrf/models"
	"authguard/internal/platform/config"
	"authguard/internal/ratelimit/service/authlockout"
)

// ServerSuite drives the composed router over the in-memory store.
type ServerSuite struct {
	suite.Suite
	upstream *httptest.Server
	app      *app
	handler  http.Handler
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) SetupTest() {
	s.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream-Path", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))

	v, err := config.New("")
	s.Require().NoError(err)
	cfg, err := config.FromViper(v)
	s.Require().NoError(err)
	cfg.AdminToken = "test-admin-token"
	cfg.UpstreamURL = s.upstream.URL
	// httptest requests come from 192.0.2.1.
	cfg.TrustedProxies = []netip.Prefix{netip.MustParsePrefix("192.0.2.0/24")}

	s.app, err = newApp(context.Background(), cfg, v, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Require().NoError(err)
	s.handler = s.app.router()
}

func (s *ServerSuite) TearDownTest() {
	s.upstream.Close()
	s.app.close()
}

func (s *ServerSuite) serve(req *http.Request) *httptest.ResponseRecorder {
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *ServerSuite) TestHealthAndMetrics() {
	rec := s.serve(httptest.NewRequest(http.MethodGet, "/health/live", nil))
	s.Equal(http.StatusOK, rec.Code)

	rec = s.serve(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "authguard_")
}

func (s *ServerSuite) TestCSRFGuardsUpstream() {
	s.Run("state-changing request without token is rejected", func() {
		rec := s.serve(httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader("{}")))
		s.Equal(http.StatusForbidden, rec.Code)
		s.Contains(rec.Body.String(), string(csrfModels.CodeMissingHeaderToken))
	})

	s.Run("issued token is accepted", func() {
		rec := s.serve(httptest.NewRequest(http.MethodGet, "/csrf/token", nil))
		s.Require().Equal(http.StatusOK, rec.Code)
		var body csrfModels.TokenResponse
		s.Require().NoError(json.NewDecoder(rec.Body).Decode(&body))
		s.Require().NotEmpty(body.CSRFToken)
		cookies := rec.Result().Cookies()
		s.Require().NotEmpty(cookies)

		req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader("{}"))
		req.Header.Set(body.HeaderName, body.CSRFToken)
		req.AddCookie(cookies[0])
		rec = s.serve(req)
		s.Equal(http.StatusOK, rec.Code)
		s.Equal("/api/orders", rec.Header().Get("X-Upstream-Path"))
	})

	s.Run("reads pass without token", func() {
		rec := s.serve(httptest.NewRequest(http.MethodGet, "/api/profile", nil))
		s.Equal(http.StatusOK, rec.Code)
		s.NotEmpty(rec.Header().Get("X-RateLimit-Limit"))
	})
}

func (s *ServerSuite) TestLockedAccountStopsAtGuard() {
	for range 6 {
		s.app.checker.RecordFailedAttempt(context.Background(), authlockout.FailedAttempt{
			UserID: "u9",
			IP:     "192.0.2.1",
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.Header.Set("X-Authenticated-User", "u9")
	rec := s.serve(req)
	s.Equal(http.StatusLocked, rec.Code)
	s.NotEmpty(rec.Header().Get("Retry-After"))
}

func (s *ServerSuite) TestAuthenticatedAPITraffic() {
	s.Run("api calls are not capped by the login allowance", func() {
		for i := 1; i <= 12; i++ {
			req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
			req.Header.Set("X-Authenticated-User", "alice")
			rec := s.serve(req)
			s.Require().Equal(http.StatusOK, rec.Code, "request %d: %s", i, rec.Body.String())
		}
	})

	s.Run("login counter is untouched", func() {
		n, _, err := s.app.store.Get(context.Background(), "account:alice:login_attempt")
		s.Require().NoError(err)
		s.Zero(n)
		n, _, err = s.app.store.Get(context.Background(), "account:alice:api_request")
		s.Require().NoError(err)
		s.Equal(int64(12), n)
	})
}

func (s *ServerSuite) TestUserHeaderFromUntrustedPeerIsIgnored() {
	for range 6 {
		s.app.checker.RecordFailedAttempt(context.Background(), authlockout.FailedAttempt{
			UserID: "bob",
			IP:     "192.0.2.1",
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.RemoteAddr = "203.0.113.40:52100"
	req.Header.Set("X-Authenticated-User", "bob")
	rec := s.serve(req)
	s.Equal(http.StatusOK, rec.Code)

	n, _, err := s.app.store.Get(context.Background(), "account:bob:api_request")
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *ServerSuite) TestAdminRoutes() {
	s.Run("missing token", func() {
		rec := s.serve(httptest.NewRequest(http.MethodGet, "/admin/lockouts/u1", nil))
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("status with token", func() {
		req := httptest.NewRequest(http.MethodGet, "/admin/lockouts/u1", nil)
		req.Header.Set("X-Admin-Token", "test-admin-token")
		rec := s.serve(req)
		s.Equal(http.StatusOK, rec.Code)
	})
}

func (s *ServerSuite) TestNewUpstreamProxyRejectsRelativeURL() {
	_, err := newUpstreamProxy("/relative")
	s.Error(err)
}

func (s *ServerSuite) TestIgnoreCanceled() {
	s.NoError(ignoreCanceled(context.Canceled))
	s.ErrorIs(ignoreCanceled(context.DeadlineExceeded), context.DeadlineExceeded)
}
