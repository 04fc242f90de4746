package checker

import (
	"context"
	"fmt"
	"log/slog"

	"authguard/internal/ratelimit/config"
	"authguard/internal/ratelimit/models"
	"authguard/internal/ratelimit/service/authlockout"
	"authguard/internal/ratelimit/service/globalthrottle"
	"authguard/internal/ratelimit/service/requestlimit"
)

// Service is a facade composing the focused rate limiting services.
// Middleware and the admin surface depend on this unified type.
type Service struct {
	requests       *requestlimit.Service
	authLockout    *authlockout.Service
	globalThrottle *globalthrottle.Service
	config         *config.Config
	logger         *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithConfig must match the config given to the composed services.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		s.config = cfg
	}
}

func New(
	requests *requestlimit.Service,
	authLockout *authlockout.Service,
	globalThrottle *globalthrottle.Service,
	opts ...Option,
) (*Service, error) {
	if requests == nil {
		return nil, fmt.Errorf("requests service is required")
	}
	if authLockout == nil {
		return nil, fmt.Errorf("auth lockout service is required")
	}
	if globalThrottle == nil {
		return nil, fmt.Errorf("global throttle service is required")
	}

	svc := &Service{
		requests:       requests,
		authLockout:    authLockout,
		globalThrottle: globalThrottle,
		config:         config.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CheckAll evaluates global, endpoint, IP and account limits in that order
// and stops at the first denial. The endpoint check runs only for paths
// whose endpoint has its own configured limit; the account check only when
// userID is known.
func (s *Service) CheckAll(ctx context.Context, req models.RequestInfo, userID, action string) *models.CheckAllResult {
	out := &models.CheckAllResult{Allowed: true}

	steps := []func() *models.RateLimitResult{
		func() *models.RateLimitResult { return s.globalThrottle.CheckGlobal(ctx) },
	}
	if endpoint := models.EndpointFromPath(req.Path); s.hasEndpointLimit(endpoint) {
		steps = append(steps, func() *models.RateLimitResult { return s.requests.CheckIP(ctx, req.IP, endpoint) })
	}
	steps = append(steps, func() *models.RateLimitResult { return s.requests.CheckIP(ctx, req.IP, "") })
	if userID != "" {
		steps = append(steps, func() *models.RateLimitResult { return s.requests.CheckAccount(ctx, userID, action) })
	}

	for _, step := range steps {
		res := step()
		out.Results = append(out.Results, res)
		if res.Allowed {
			continue
		}
		out.Allowed = false
		out.Denied = res
		if s.logger != nil {
			s.logger.DebugContext(ctx, "request denied by rate limit",
				"limit_type", res.LimitType,
				"method", req.Method,
				"path", req.Path,
				"degraded", res.Degraded,
			)
		}
		return out
	}
	return out
}

func (s *Service) hasEndpointLimit(endpoint string) bool {
	_, ok := s.config.EndpointLimit(endpoint)
	return ok
}

// RecordSuccess counts a successful request for dashboards; it never denies.
func (s *Service) RecordSuccess(ctx context.Context, req models.RequestInfo, userID string) {
	s.requests.RecordSuccess(ctx, req.IP)
	if s.logger != nil && userID != "" {
		s.logger.DebugContext(ctx, "request succeeded", "user_id", userID, "path", req.Path)
	}
}

// CheckIP delegates to requestlimit.Service.
func (s *Service) CheckIP(ctx context.Context, ip, endpoint string) *models.RateLimitResult {
	return s.requests.CheckIP(ctx, ip, endpoint)
}

// CheckAccount delegates to requestlimit.Service.
func (s *Service) CheckAccount(ctx context.Context, userID, action string) *models.RateLimitResult {
	return s.requests.CheckAccount(ctx, userID, action)
}

// CheckGlobal delegates to globalthrottle.Service.
func (s *Service) CheckGlobal(ctx context.Context) *models.RateLimitResult {
	return s.globalThrottle.CheckGlobal(ctx)
}

// RecordFailedAttempt delegates to authlockout.Service.
func (s *Service) RecordFailedAttempt(ctx context.Context, in authlockout.FailedAttempt) *models.LockoutResult {
	return s.authLockout.RecordFailedAttempt(ctx, in)
}

// CheckAccountStatus delegates to authlockout.Service.
func (s *Service) CheckAccountStatus(ctx context.Context, userID string) *models.LockoutResult {
	return s.authLockout.CheckAccountStatus(ctx, userID)
}

// RecordSuccessfulAttempt delegates to authlockout.Service.
func (s *Service) RecordSuccessfulAttempt(ctx context.Context, userID, ip string) bool {
	return s.authLockout.RecordSuccessfulAttempt(ctx, userID, ip)
}

// UnlockAccountAdmin delegates to authlockout.Service.
func (s *Service) UnlockAccountAdmin(ctx context.Context, userID, adminID, reason string) bool {
	return s.authLockout.UnlockAccountAdmin(ctx, userID, adminID, reason)
}
