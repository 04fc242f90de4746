package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"authguard/internal/csrf/models"
	"authguard/pkg/requestcontext"
)

// CSRFMiddlewareSuite checks which requests are validated and what the
// validator receives.
//
// Justification: a method slipping past Protect is an unprotected endpoint.
type CSRFMiddlewareSuite struct {
	suite.Suite
	validator *recordingValidator
	handler   http.Handler
	reached   bool
}

func TestCSRFMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(CSRFMiddlewareSuite))
}

type recordingValidator struct {
	calls  int
	last   models.ValidationRequest
	result *models.ValidationResult
}

func (v *recordingValidator) Validate(_ context.Context, req models.ValidationRequest) *models.ValidationResult {
	v.calls++
	v.last = req
	return v.result
}

func (s *CSRFMiddlewareSuite) SetupTest() {
	s.validator = &recordingValidator{result: &models.ValidationResult{Valid: true, Code: models.CodeValid}}
	s.reached = false
	mw := New(s.validator, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.handler = mw.Protect(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.reached = true
		w.WriteHeader(http.StatusOK)
	}))
}

func (s *CSRFMiddlewareSuite) serve(req *http.Request) *httptest.ResponseRecorder {
	ctx := requestcontext.WithClientMetadata(req.Context(), "10.0.0.5", "test-agent")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func (s *CSRFMiddlewareSuite) TestSafeMethodsPass() {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		s.reached = false
		rec := s.serve(httptest.NewRequest(method, "/api/profile", nil))
		s.Equal(http.StatusOK, rec.Code, method)
		s.True(s.reached)
	}
	s.Zero(s.validator.calls)
}

func (s *CSRFMiddlewareSuite) TestStateChangingRequestsAreValidated() {
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		req := httptest.NewRequest(method, "/api/account/email", nil)
		req.Header.Set("X-CSRF-Token", "tok")
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "tok"})
		rec := s.serve(req)
		s.Equal(http.StatusOK, rec.Code, method)
	}
	s.Equal(4, s.validator.calls)
	s.Equal(models.ValidationRequest{
		HeaderToken: "tok",
		CookieToken: "tok",
		IPAddress:   "10.0.0.5",
		UserAgent:   "test-agent",
	}, s.validator.last)
}

func (s *CSRFMiddlewareSuite) TestFormFieldIsPrimaryToken() {
	form := url.Values{"csrf_token": {"form-tok"}}
	req := httptest.NewRequest(http.MethodPost, "/api/account/password", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-CSRF-Token", "tok")

	s.serve(req)
	s.Equal("form-tok", s.validator.last.Token)
	s.Empty(s.validator.last.CookieToken)
}

func (s *CSRFMiddlewareSuite) TestRejectionIs403() {
	s.validator.result = &models.ValidationResult{Code: models.CodeTokenMismatch}
	rec := s.serve(httptest.NewRequest(http.MethodPost, "/api/account/email", nil))

	s.Equal(http.StatusForbidden, rec.Code)
	s.False(s.reached)
	var body models.RejectedResponse
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&body))
	s.Equal("csrf_validation_failed", body.Error)
	s.Equal(models.CodeTokenMismatch, body.Code)
}
