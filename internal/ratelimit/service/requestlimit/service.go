// Package requestlimit provides per-IP, per-endpoint and per-account rate
// limiting on fixed windows kept in the shared counter store.
//
// Usage:
//
//	svc, _ := requestlimit.New(store)
//	result := svc.CheckIP(ctx, clientIP, "login")
//	if !result.Allowed {
//	    // Return 429 Too Many Requests
//	}
//
// Store failures never escape: each limit applies its configured
// FailurePolicy and marks the result Degraded.
package requestlimit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"authguard/internal/platform/metrics"
	"authguard/internal/platform/privacy"
	"authguard/internal/ratelimit/config"
	"authguard/internal/ratelimit/models"
	"authguard/internal/ratelimit/ports"
	"authguard/internal/ratelimit/service/fixedwindow"
	"authguard/pkg/platform/audit"
)

// Service enforces per-IP and per-account limits.
// Thread-safe for concurrent use by HTTP middleware.
type Service struct {
	store   ports.CounterStore
	logger  *slog.Logger
	audit   *audit.Logger
	emitter audit.Emitter
	config  *config.Config
	metrics *metrics.SecurityMetrics
}

// Option configures a Service instance.
type Option func(*Service)

// WithLogger sets the structured logger for audit and debug logging.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithAuditEmitter forwards audit events to an emitter besides the log.
func WithAuditEmitter(emitter audit.Emitter) Option {
	return func(s *Service) {
		s.emitter = emitter
	}
}

// WithConfig overrides the default rate limit configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		s.config = cfg
	}
}

// WithMetrics sets the metrics recorder for observability.
func WithMetrics(m *metrics.SecurityMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New creates a rate limiting service on the shared counter store.
func New(store ports.CounterStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("counter store is required")
	}
	svc := &Service{
		store:  store,
		config: config.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.audit = audit.NewLogger(svc.logger, svc.emitter)
	return svc, nil
}

// CheckIP enforces the per-IP limit. With an endpoint it checks the
// {ip}:{endpoint} counter against the endpoint table instead of the plain
// per-IP counter.
func (s *Service) CheckIP(ctx context.Context, ip, endpoint string) *models.RateLimitResult {
	if ip == "" {
		ip = "unknown"
	}
	if endpoint == "" {
		return s.check(ctx, models.LimitTypeIP, ip, models.IPKey(ip), s.config.IP)
	}
	limit, _ := s.config.EndpointLimit(endpoint)
	key := models.EndpointKey(ip, endpoint)
	return s.check(ctx, models.LimitTypeEndpoint, key, key, limit)
}

// CheckAccount enforces the per-account limit for an action, defaulting to
// the configured login action. Each action counts in its own window.
func (s *Service) CheckAccount(ctx context.Context, userID, action string) *models.RateLimitResult {
	if action == "" {
		action = s.config.DefaultAction
	}
	return s.check(ctx, models.LimitTypeAccount, userID, models.AccountKey(userID, action), s.config.AccountLimit(action))
}

func (s *Service) check(ctx context.Context, limitType models.LimitType, identifier, key string, limit config.Limit) *models.RateLimitResult {
	storeCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	out, err := fixedwindow.Check(storeCtx, s.store, key, limit.MaxRequests, limit.Window)
	if err != nil {
		return s.degraded(ctx, limitType, identifier, limit, err)
	}

	result := &models.RateLimitResult{
		Allowed:           out.Allowed,
		LimitType:         limitType,
		Identifier:        identifier,
		CurrentCount:      out.Count,
		MaxRequests:       out.Max,
		RemainingRequests: out.Remaining,
		TimeUntilReset:    out.ResetIn,
		ViolationRecorded: !out.Allowed,
	}
	if !out.Allowed {
		s.metrics.ObserveRateLimitCheck(string(limitType), "denied")
		s.audit.Log(ctx, audit.EventRateLimitExceeded,
			logSubject(limitType, identifier)...,
		)
		return result
	}
	s.metrics.ObserveRateLimitCheck(string(limitType), "allowed")
	return result
}

// degraded is the single place a store failure turns into a decision.
func (s *Service) degraded(ctx context.Context, limitType models.LimitType, identifier string, limit config.Limit, err error) *models.RateLimitResult {
	s.metrics.ObserveRateLimitCheck(string(limitType), "degraded")
	s.metrics.IncrementStoreFailures(string(limitType), limit.Policy.String())
	if s.logger != nil {
		s.logger.WarnContext(ctx, "rate limit store unavailable",
			"limit_type", limitType,
			"policy", limit.Policy.String(),
			"error", err,
		)
	}

	result := &models.RateLimitResult{
		Allowed:     limit.Policy.Allows(),
		LimitType:   limitType,
		Identifier:  identifier,
		MaxRequests: limit.MaxRequests,
		Degraded:    true,
	}
	if result.Allowed {
		result.RemainingRequests = limit.MaxRequests
	}
	return result
}

// logSubject keeps raw addresses out of audit lines.
func logSubject(limitType models.LimitType, identifier string) []any {
	attrs := []any{"limit_type", string(limitType), "decision", "denied", "reason", string(limitType)}
	switch limitType {
	case models.LimitTypeAccount:
		return append(attrs, "user_id", identifier)
	case models.LimitTypeEndpoint:
		ip, endpoint := splitEndpointKey(identifier)
		return append(attrs, "ip_prefix", privacy.AnonymizeIP(ip), "endpoint", endpoint)
	default:
		return append(attrs, "ip_prefix", privacy.AnonymizeIP(identifier))
	}
}

func splitEndpointKey(key string) (ip, endpoint string) {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return key, ""
	}
	return key[:i], key[i+1:]
}

// RecordSuccess increments the success:global and success:ip:{ip} counters.
// They feed dashboards only and never deny; each failure is logged and
// dropped without skipping the other counter.
func (s *Service) RecordSuccess(ctx context.Context, ip string) {
	if ip == "" {
		ip = "unknown"
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	for _, key := range []string{models.GlobalSuccessKey, models.IPSuccessKey(ip)} {
		if _, err := s.store.IncrementWithExpiry(storeCtx, key, s.config.SuccessWindow); err != nil {
			if s.logger != nil {
				s.logger.DebugContext(ctx, "success counter not recorded", "key", key, "error", err)
			}
		}
	}
}
