package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"

	csrfConfig "authguard/internal/csrf/config"
	csrfService "authguard/internal/csrf/service"
	"authguard/internal/csrf/workers/sweeper"
	"authguard/internal/platform/config"
	"authguard/internal/platform/health"
	"authguard/internal/platform/metrics"
	platformRedis "authguard/internal/platform/redis"
	rlAdmin "authguard/internal/ratelimit/admin"
	rlConfig "authguard/internal/ratelimit/config"
	"authguard/internal/ratelimit/ports"
	"authguard/internal/ratelimit/service/authlockout"
	"authguard/internal/ratelimit/service/checker"
	"authguard/internal/ratelimit/service/globalthrottle"
	"authguard/internal/ratelimit/service/requestlimit"
	"authguard/internal/ratelimit/store/counter"
	"authguard/pkg/platform/circuit"
)

// app holds the composed guards and their shared infrastructure.
type app struct {
	cfg       config.Server
	log       *slog.Logger
	registry  *prometheus.Registry
	metrics   *metrics.SecurityMetrics
	redis     *platformRedis.Client
	storeKind string

	store   ports.CounterStore
	checker *checker.Service
	admin   *rlAdmin.Service
	csrf    *csrfService.Service
	sweeper *sweeper.Sweeper
	health  *health.Handler
	proxy   http.Handler
}

func newApp(ctx context.Context, cfg config.Server, v *viper.Viper, log *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		log:      log,
		registry: prometheus.NewRegistry(),
		health:   health.New(cfg.Environment, time.Second),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initRateLimit(v); err != nil {
		return nil, err
	}
	if err := a.initCSRF(v); err != nil {
		return nil, err
	}
	if cfg.UpstreamURL != "" {
		proxy, err := newUpstreamProxy(cfg.UpstreamURL)
		if err != nil {
			return nil, err
		}
		a.proxy = proxy
	}
	return a, nil
}

// initStore selects Redis when configured and the in-memory store otherwise,
// then puts the circuit breaker in front of it.
func (a *app) initStore(ctx context.Context) error {
	client, err := platformRedis.New(ctx, a.cfg.Redis, a.registry)
	if err != nil {
		return fmt.Errorf("connect counter store: %w", err)
	}

	var inner ports.CounterStore
	if client != nil {
		a.redis = client
		a.storeKind = "redis"
		inner = counter.NewRedisStore(client.Client)
		a.health.RegisterCheck("redis", client.Health)
	} else {
		a.storeKind = "memory"
		inner = counter.NewInMemoryStore()
		if a.cfg.Environment != "dev" {
			a.log.Warn("in-memory counter store does not share counts across instances")
		}
	}

	breaker := counter.NewBreakerStore(inner, circuit.New("counter-store"),
		counter.WithBreakerLogger(a.log),
		counter.WithStateListener(a.metrics.SetStoreCircuitOpen),
	)
	a.health.RegisterDegradedCheck("counter_store_circuit", func(context.Context) error {
		if breaker.IsOpen() {
			return errors.New("circuit open, guards on failure policy")
		}
		return nil
	})
	a.store = breaker
	return nil
}

func (a *app) initRateLimit(v *viper.Viper) error {
	cfg := rlConfig.DefaultConfig()
	if err := cfg.ApplyViper(v); err != nil {
		return fmt.Errorf("rate limit config: %w", err)
	}

	requests, err := requestlimit.New(a.store,
		requestlimit.WithConfig(cfg),
		requestlimit.WithLogger(a.log),
		requestlimit.WithAuditEmitter(a.metrics),
		requestlimit.WithMetrics(a.metrics),
	)
	if err != nil {
		return fmt.Errorf("init request limiter: %w", err)
	}
	lockout, err := authlockout.New(a.store,
		authlockout.WithConfig(cfg),
		authlockout.WithLogger(a.log),
		authlockout.WithAuditEmitter(a.metrics),
		authlockout.WithMetrics(a.metrics),
	)
	if err != nil {
		return fmt.Errorf("init account lockout: %w", err)
	}
	global, err := globalthrottle.New(a.store,
		globalthrottle.WithConfig(cfg),
		globalthrottle.WithLogger(a.log),
		globalthrottle.WithAuditEmitter(a.metrics),
		globalthrottle.WithMetrics(a.metrics),
	)
	if err != nil {
		return fmt.Errorf("init global throttle: %w", err)
	}

	a.checker, err = checker.New(requests, lockout, global,
		checker.WithConfig(cfg),
		checker.WithLogger(a.log),
	)
	if err != nil {
		return fmt.Errorf("init rate limit checker: %w", err)
	}

	a.admin, err = rlAdmin.New(a.checker, a.store,
		rlAdmin.WithConfig(cfg),
		rlAdmin.WithLogger(a.log),
		rlAdmin.WithAuditEmitter(a.metrics),
	)
	if err != nil {
		return fmt.Errorf("init rate limit admin: %w", err)
	}
	return nil
}

func (a *app) initCSRF(v *viper.Viper) error {
	cfg := csrfConfig.DefaultConfig()
	cfg.ApplyViper(v)
	if a.cfg.Environment != "dev" {
		cfg.CookieSecure = true
	}

	svc, err := csrfService.New(a.store,
		csrfService.WithConfig(cfg),
		csrfService.WithLogger(a.log),
		csrfService.WithAuditEmitter(a.metrics),
		csrfService.WithMetrics(a.metrics),
	)
	if err != nil {
		return fmt.Errorf("init csrf guard: %w", err)
	}
	a.csrf = svc
	a.sweeper = sweeper.New(svc,
		sweeper.WithLogger(a.log),
		sweeper.WithInterval(a.cfg.CSRFSweepInterval),
		sweeper.WithMetrics(a.metrics),
	)
	return nil
}

// recordPoolStats exports Redis pool statistics every interval.
func (a *app) recordPoolStats(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.redis.RecordPoolStats()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *app) close() {
	if a.redis == nil {
		return
	}
	if err := a.redis.Close(); err != nil {
		a.log.Warn("failed to close redis client", "error", err)
	}
}
