package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
)

type HealthHandlerSuite struct {
	suite.Suite
	handler *Handler
	router  chi.Router
}

func TestHealthHandlerSuite(t *testing.T) {
	suite.Run(t, new(HealthHandlerSuite))
}

func (s *HealthHandlerSuite) SetupTest() {
	s.handler = New("test", 50*time.Millisecond)
	s.router = chi.NewRouter()
	s.handler.Register(s.router)
}

func (s *HealthHandlerSuite) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func (s *HealthHandlerSuite) TestLiveness() {
	s.Equal(http.StatusOK, s.get("/health/live").Code)
}

func (s *HealthHandlerSuite) TestReadiness() {
	s.Run("ready when all checks pass", func() {
		s.handler.RegisterCheck("counter_store", func(context.Context) error { return nil })
		s.Equal(http.StatusOK, s.get("/health/ready").Code)
	})

	s.Run("not ready when a check fails", func() {
		s.handler.RegisterCheck("counter_store", func(context.Context) error { return errors.New("connection refused") })
		w := s.get("/health/ready")
		s.Equal(http.StatusServiceUnavailable, w.Code)

		var resp ReadinessResponse
		s.Require().NoError(json.NewDecoder(w.Body).Decode(&resp))
		s.Equal("not_ready", resp.Status)
		s.Contains(resp.Checks["counter_store"], "connection refused")
	})

	s.Run("checks receive a deadline", func() {
		s.handler.RegisterCheck("counter_store", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		s.Equal(http.StatusServiceUnavailable, s.get("/health/ready").Code)
	})
}

func (s *HealthHandlerSuite) TestDegradedCheckKeepsInstanceReady() {
	s.handler.RegisterCheck("redis", func(context.Context) error { return nil })
	s.handler.RegisterDegradedCheck("counter_store_circuit", func(context.Context) error {
		return errors.New("circuit open")
	})

	w := s.get("/health/ready")
	s.Equal(http.StatusOK, w.Code)

	var resp ReadinessResponse
	s.Require().NoError(json.NewDecoder(w.Body).Decode(&resp))
	s.Equal("ready", resp.Status)
	s.Equal(StateUp, resp.Checks["redis"])
	s.Equal("degraded: circuit open", resp.Checks["counter_store_circuit"])
}

func (s *HealthHandlerSuite) TestStatus() {
	w := s.get("/health")
	s.Equal(http.StatusOK, w.Code)

	var resp StatusResponse
	s.Require().NoError(json.NewDecoder(w.Body).Decode(&resp))
	s.Equal("test", resp.Environment)
	s.Equal(Version, resp.Version)
}
