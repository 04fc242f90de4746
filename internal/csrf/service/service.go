// Package service implements double-submit cookie CSRF protection.
//
// A token is issued with optional bindings (user, session, IP, User-Agent)
// and stored at csrf_token:{token} for its lifetime plus a short retention. The browser receives it
// in a script-readable cookie and echoes it in a request header; a request is
// valid when header and cookie agree and the stored record is live. Any store
// failure rejects the request.
package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"

	"authguard/internal/csrf/config"
	"authguard/internal/csrf/models"
	"authguard/internal/platform/device"
	"authguard/internal/platform/metrics"
	"authguard/internal/platform/privacy"
	"authguard/internal/ratelimit/ports"
	dErrors "authguard/pkg/domain-errors"
	"authguard/pkg/platform/audit"
	"authguard/pkg/requestcontext"
)

type Service struct {
	store   ports.CounterStore
	config  *config.Config
	logger  *slog.Logger
	emitter audit.Emitter
	audit   *audit.Logger
	metrics *metrics.SecurityMetrics
	random  io.Reader
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditEmitter(emitter audit.Emitter) Option {
	return func(s *Service) {
		s.emitter = emitter
	}
}

func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		s.config = cfg
	}
}

func WithMetrics(m *metrics.SecurityMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithRandom replaces crypto/rand as the token entropy source.
func WithRandom(r io.Reader) Option {
	return func(s *Service) {
		s.random = r
	}
}

func New(store ports.CounterStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	svc := &Service{
		store:  store,
		config: config.DefaultConfig(),
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.config.TokenBytes < 24 {
		// 24 bytes encode to 32 URL-safe characters.
		return nil, fmt.Errorf("csrf token bytes must be at least 24, got %d", svc.config.TokenBytes)
	}
	svc.audit = audit.NewLogger(svc.logger, svc.emitter)
	return svc, nil
}

// Config returns the active configuration.
func (s *Service) Config() *config.Config {
	return s.config
}

// GenerateToken issues and stores a new token.
func (s *Service) GenerateToken(ctx context.Context, req models.GenerateRequest) (*models.Token, error) {
	expiry := req.Expiry
	if expiry <= 0 {
		expiry = s.config.Expiry
	}

	raw := make([]byte, s.config.TokenBytes)
	if _, err := io.ReadFull(s.random, raw); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate csrf token")
	}

	now := requestcontext.Now(ctx)
	token := &models.Token{
		Token:     base64.RawURLEncoding.EncodeToString(raw),
		UserID:    req.UserID,
		SessionID: req.SessionID,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(expiry),
	}
	payload, err := json.Marshal(token)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode csrf token")
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	ttl := expiry + s.config.RetainExpired
	if err := s.store.SetWithExpiry(storeCtx, models.TokenKey(token.Token), string(payload), ttl); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to store csrf token")
	}

	s.metrics.IncrementCSRFTokensIssued()
	s.audit.Log(ctx, audit.EventCSRFTokenIssued,
		"user_id", req.UserID,
		"ip_prefix", privacy.AnonymizeIP(req.IPAddress),
		"decision", "allowed",
	)
	return token, nil
}

// Validate checks a request's tokens. The first failing check wins:
// missing header, header/cookie mismatch, unknown token, expiry, context.
func (s *Service) Validate(ctx context.Context, req models.ValidationRequest) *models.ValidationResult {
	if req.HeaderToken == "" {
		return s.reject(ctx, req, models.CodeMissingHeaderToken, nil)
	}
	if !tokensEqual(req.HeaderToken, req.CookieToken) {
		return s.reject(ctx, req, models.CodeTokenMismatch, nil)
	}
	if req.Token != "" && !tokensEqual(req.Token, req.HeaderToken) {
		return s.reject(ctx, req, models.CodeTokenMismatch, nil)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	raw, found, err := s.store.GetValue(storeCtx, models.TokenKey(req.HeaderToken))
	if err != nil {
		return s.reject(ctx, req, models.CodeValidationError, err)
	}
	if !found {
		return s.reject(ctx, req, models.CodeTokenNotFound, nil)
	}
	var record models.Token
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return s.reject(ctx, req, models.CodeValidationError, dErrors.Wrap(err, dErrors.CodeDataCorrupt, "decode csrf token"))
	}

	now := requestcontext.Now(ctx)
	if record.IsExpired(now) {
		return s.reject(ctx, req, models.CodeTokenExpired, nil)
	}
	if s.contextMismatch(ctx, &record, req) {
		return s.reject(ctx, req, models.CodeContextMismatch, nil)
	}

	s.metrics.ObserveCSRFValidation(string(models.CodeValid))
	return &models.ValidationResult{
		Valid:    true,
		Code:     models.CodeValid,
		TokenAge: int(math.Floor(now.Sub(record.CreatedAt).Seconds())),
	}
}

// contextMismatch compares bound context only when both the record and the
// request carry a value.
func (s *Service) contextMismatch(ctx context.Context, record *models.Token, req models.ValidationRequest) bool {
	if s.config.BindIP && record.IPAddress != "" && req.IPAddress != "" && record.IPAddress != req.IPAddress {
		if s.logger != nil {
			s.logger.InfoContext(ctx, "csrf ip binding mismatch",
				"bound_ip_prefix", privacy.AnonymizeIP(record.IPAddress),
				"request_ip_prefix", privacy.AnonymizeIP(req.IPAddress),
			)
		}
		return true
	}
	if s.config.BindUserAgent && record.UserAgent != "" && req.UserAgent != "" && record.UserAgent != req.UserAgent {
		if s.logger != nil {
			s.logger.InfoContext(ctx, "csrf user agent binding mismatch",
				"bound_device", device.Describe(record.UserAgent),
				"request_device", device.Describe(req.UserAgent),
				"same_family", device.SameFamily(record.UserAgent, req.UserAgent),
			)
		}
		return true
	}
	return false
}

func (s *Service) reject(ctx context.Context, req models.ValidationRequest, code models.ValidationCode, err error) *models.ValidationResult {
	s.metrics.ObserveCSRFValidation(string(code))
	if err != nil {
		s.metrics.IncrementStoreFailures("csrf", "fail_closed")
		if s.logger != nil {
			s.logger.WarnContext(ctx, "csrf validation failed on store error",
				"error", err,
			)
		}
	}
	s.audit.Log(ctx, audit.EventCSRFRejected,
		"ip_prefix", privacy.AnonymizeIP(req.IPAddress),
		"decision", "denied",
		"reason", string(code),
	)
	return &models.ValidationResult{Valid: false, Code: code}
}

func tokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// SetCookie writes the token cookie. It is readable by client scripts,
// which echo it in the header.
func (s *Service) SetCookie(ctx context.Context, w http.ResponseWriter, token *models.Token) {
	remaining := token.Remaining(requestcontext.Now(ctx))
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    token.Token,
		Path:     s.config.CookiePath,
		MaxAge:   max(int(math.Ceil(remaining.Seconds())), 1),
		Expires:  token.ExpiresAt,
		Secure:   s.config.CookieSecure,
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearCookie removes the token cookie from the browser.
func (s *Service) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    "",
		Path:     s.config.CookiePath,
		MaxAge:   -1,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// InvalidateToken deletes a token, e.g. on logout. It reports whether a
// record existed.
func (s *Service) InvalidateToken(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	removed, err := s.store.Delete(storeCtx, models.TokenKey(token))
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to invalidate csrf token")
	}
	if removed > 0 {
		s.audit.Log(ctx, audit.EventCSRFTokenInvalidate, "decision", "allowed")
	}
	return removed > 0, nil
}

// CleanupExpiredTokens deletes token records that are expired or unreadable
// and returns how many it removed.
func (s *Service) CleanupExpiredTokens(ctx context.Context) (int, error) {
	keys, err := s.store.Keys(ctx, models.TokenKeyPrefix())
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to list csrf tokens")
	}

	now := requestcontext.Now(ctx)
	var stale []string
	for _, key := range keys {
		raw, found, err := s.store.GetValue(ctx, key)
		if err != nil {
			return 0, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to read csrf token")
		}
		if !found {
			continue
		}
		var record models.Token
		if err := json.Unmarshal([]byte(raw), &record); err != nil || record.IsExpired(now) {
			stale = append(stale, key)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	removed, err := s.store.Delete(ctx, stale...)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to delete csrf tokens")
	}
	return int(removed), nil
}
