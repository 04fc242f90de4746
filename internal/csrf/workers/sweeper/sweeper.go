package sweeper

import (
	"context"
	"log/slog"
	"time"

	"authguard/internal/platform/metrics"
)

// SweepResult contains the results of a sweep run.
type SweepResult struct {
	TokensDeleted int
	Duration      time.Duration
}

type TokenCleaner interface {
	CleanupExpiredTokens(ctx context.Context) (int, error)
}

type Option func(*Sweeper)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithMetrics(m *metrics.SecurityMetrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// WithRunTimeout bounds a single sweep run.
func WithRunTimeout(timeout time.Duration) Option {
	return func(s *Sweeper) {
		if timeout > 0 {
			s.runTimeout = timeout
		}
	}
}

// Sweeper periodically removes expired CSRF token records.
type Sweeper struct {
	cleaner    TokenCleaner
	logger     *slog.Logger
	interval   time.Duration
	runTimeout time.Duration
	metrics    *metrics.SecurityMetrics
}

func New(cleaner TokenCleaner, opts ...Option) *Sweeper {
	s := &Sweeper{
		cleaner:    cleaner,
		logger:     slog.Default(),
		interval:   15 * time.Minute,
		runTimeout: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs a sweep every interval until ctx is done. A failed run is
// logged and retried on the next tick.
func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res, err := s.RunOnce(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "csrf_sweep_failed",
					"error", err,
				)
				continue
			}
			s.logger.InfoContext(ctx, "csrf_sweep_completed",
				"tokens_deleted", res.TokensDeleted,
				"duration_ms", res.Duration.Milliseconds(),
			)

		case <-ctx.Done():
			s.logger.Info("csrf sweep worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce executes a single sweep and records its metrics. Logging is left
// to the caller.
func (s *Sweeper) RunOnce(ctx context.Context) (*SweepResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	start := time.Now()
	deleted, err := s.cleaner.CleanupExpiredTokens(runCtx)
	duration := time.Since(start)
	s.metrics.ObserveCSRFSweepDuration(duration.Seconds())

	if err != nil {
		s.metrics.IncrementCSRFSweepRuns("error")
		return nil, err
	}
	s.metrics.IncrementCSRFSweepRuns("success")
	s.metrics.AddCSRFSweepDeleted(deleted)
	return &SweepResult{TokensDeleted: deleted, Duration: duration}, nil
}
