// Package globalthrottle caps the request rate across every instance with
// one shared fixed-window counter.
package globalthrottle

import (
	"context"
	"fmt"
	"log/slog"

	"authguard/internal/platform/metrics"
	"authguard/internal/ratelimit/config"
	"authguard/internal/ratelimit/models"
	"authguard/internal/ratelimit/ports"
	"authguard/internal/ratelimit/service/fixedwindow"
	"authguard/pkg/platform/audit"
)

// Service enforces the global request limit. Safe for concurrent use.
type Service struct {
	store   ports.CounterStore
	logger  *slog.Logger
	audit   *audit.Logger
	emitter audit.Emitter
	metrics *metrics.SecurityMetrics
	full    *config.Config
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for audit lines and store failures.
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

// WithConfig reads the global limit and store timeout from cfg.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		s.full = cfg
	}
}

// WithMetrics records checks and store failures.
func WithMetrics(m *metrics.SecurityMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New creates a global throttle on the shared counter store.
func New(store ports.CounterStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}

	svc := &Service{
		store: store,
		full:  config.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.audit = audit.NewLogger(svc.logger, svc.emitter)
	return svc, nil
}

// CheckGlobal counts the request against global:all_requests. A store
// failure applies the global failure policy (open by default).
func (s *Service) CheckGlobal(ctx context.Context) *models.RateLimitResult {
	limit := s.full.Global
	storeCtx, cancel := context.WithTimeout(ctx, s.full.StoreTimeout)
	defer cancel()

	out, err := fixedwindow.Check(storeCtx, s.store, models.GlobalRequestsKey, limit.MaxRequests, limit.Window)
	if err != nil {
		s.metrics.ObserveRateLimitCheck(string(models.LimitTypeGlobal), "degraded")
		s.metrics.IncrementStoreFailures(string(models.LimitTypeGlobal), limit.Policy.String())
		if s.logger != nil {
			s.logger.WarnContext(ctx, "global throttle store unavailable",
				"policy", limit.Policy.String(),
				"error", err,
			)
		}
		res := &models.RateLimitResult{
			Allowed:     limit.Policy.Allows(),
			LimitType:   models.LimitTypeGlobal,
			Identifier:  models.GlobalRequestsKey,
			MaxRequests: limit.MaxRequests,
			Degraded:    true,
		}
		if res.Allowed {
			res.RemainingRequests = limit.MaxRequests
		}
		return res
	}

	if !out.Allowed {
		s.metrics.ObserveRateLimitCheck(string(models.LimitTypeGlobal), "denied")
		s.audit.Log(ctx, "global_throttle_triggered",
			"current_count", out.Count,
			"global_limit", limit.MaxRequests,
			"decision", "denied",
			"reason", string(models.LimitTypeGlobal),
		)
	} else {
		s.metrics.ObserveRateLimitCheck(string(models.LimitTypeGlobal), "allowed")
	}

	return &models.RateLimitResult{
		Allowed:           out.Allowed,
		LimitType:         models.LimitTypeGlobal,
		Identifier:        models.GlobalRequestsKey,
		CurrentCount:      out.Count,
		MaxRequests:       out.Max,
		RemainingRequests: out.Remaining,
		TimeUntilReset:    out.ResetIn,
		ViolationRecorded: !out.Allowed,
	}
}
