// Package admin implements operator actions on lockouts and rate-limit
// counters. Nothing here runs on the request path.
package admin

import (
	"context"
	"fmt"
	"log/slog"

	"authguard/internal/ratelimit/config"
	"authguard/internal/ratelimit/models"
	"authguard/internal/ratelimit/ports"
	dErrors "authguard/pkg/domain-errors"
	"authguard/pkg/platform/audit"
	"authguard/pkg/requestcontext"
)

// LockoutService is the lockout guard surface admins act on.
type LockoutService interface {
	CheckAccountStatus(ctx context.Context, userID string) *models.LockoutResult
	UnlockAccountAdmin(ctx context.Context, userID, adminID, reason string) bool
}

type Service struct {
	lockout LockoutService
	store   ports.CounterStore
	config  *config.Config
	logger  *slog.Logger
	emitter audit.Emitter
	audit   *audit.Logger
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

func New(lockout LockoutService, store ports.CounterStore, opts ...Option) (*Service, error) {
	if lockout == nil {
		return nil, fmt.Errorf("lockout service is required")
	}
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}

	svc := &Service{
		lockout: lockout,
		store:   store,
		config:  config.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.audit = audit.NewLogger(svc.logger, svc.emitter)
	return svc, nil
}

func (s *Service) LockoutStatus(ctx context.Context, userID string) (*models.LockoutStatusResponse, error) {
	if userID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user id is required")
	}
	status := s.lockout.CheckAccountStatus(ctx, userID)
	if status.Reason == models.ReasonSecurityCheckFailed {
		return nil, dErrors.New(dErrors.CodeStoreUnavailable, "lockout status unavailable")
	}
	return &models.LockoutStatusResponse{UserID: userID, LockoutResult: *status}, nil
}

// Unlock clears the lockout and account counters of userID on behalf of adminID.
func (s *Service) Unlock(ctx context.Context, userID, adminID string, req *models.UnlockRequest) (*models.UnlockResponse, error) {
	if userID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user id is required")
	}
	if req == nil {
		req = &models.UnlockRequest{}
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if !s.lockout.UnlockAccountAdmin(ctx, userID, adminID, req.Reason) {
		return nil, dErrors.New(dErrors.CodeStoreUnavailable, "unlock could not be completed")
	}
	return &models.UnlockResponse{
		Unlocked:   true,
		UserID:     userID,
		UnlockedAt: requestcontext.Now(ctx),
	}, nil
}

// ResetRateLimit deletes the counter addressed by the request.
func (s *Service) ResetRateLimit(ctx context.Context, adminID string, req *models.ResetRateLimitRequest) (*models.ResetRateLimitResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	limitType := models.LimitType(req.LimitType)
	key := models.KeyFor(limitType, req.Identifier, s.config.DefaultAction)

	storeCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	removed, err := s.store.Delete(storeCtx, key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to reset rate limit")
	}

	s.audit.Log(ctx, audit.EventRateLimitReset,
		"admin_id", adminID,
		"limit_type", string(limitType),
		"decision", "allowed",
		"reason", fmt.Sprintf("removed=%d", removed),
	)
	return &models.ResetRateLimitResponse{
		LimitType: limitType,
		Key:       key,
		Removed:   removed,
	}, nil
}
