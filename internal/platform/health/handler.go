// Package health serves liveness, readiness and status probes. Readiness
// distinguishes critical dependencies from ones the guards can run without.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"authguard/pkg/platform/httputil"
)

// Version is set at build time via ldflags.
var Version = "dev"

// CheckFunc reports the health of one dependency; nil means healthy.
type CheckFunc func(ctx context.Context) error

// Check states reported by the readiness probe.
const (
	StateUp       = "up"
	StateDown     = "down"
	StateDegraded = "degraded"
)

type check struct {
	fn       CheckFunc
	critical bool
}

// Handler provides health check endpoints.
type Handler struct {
	startTime    time.Time
	environment  string
	checkTimeout time.Duration

	mu     sync.RWMutex
	checks map[string]check
}

// New creates a health handler. Each readiness check gets checkTimeout.
func New(environment string, checkTimeout time.Duration) *Handler {
	if checkTimeout <= 0 {
		checkTimeout = time.Second
	}
	return &Handler{
		startTime:    time.Now(),
		environment:  environment,
		checkTimeout: checkTimeout,
		checks:       make(map[string]check),
	}
}

// RegisterCheck adds a critical check: when it fails the instance is not ready.
func (h *Handler) RegisterCheck(name string, fn CheckFunc) {
	h.register(name, fn, true)
}

// RegisterDegradedCheck adds a check whose failure is reported as degraded
// while the instance stays ready, e.g. a store the guards fail open around.
func (h *Handler) RegisterDegradedCheck(name string, fn CheckFunc) {
	h.register(name, fn, false)
}

func (h *Handler) register(name string, fn CheckFunc, critical bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check{fn: fn, critical: critical}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleStatus)
	r.Get("/health/live", h.HandleLiveness)
	r.Get("/health/ready", h.HandleReadiness)
}

type LivenessResponse struct {
	Status string `json:"status"`
}

// HandleLiveness always answers 200 while the process serves requests.
func (h *Handler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HandleReadiness runs all checks concurrently and answers 503 when a
// critical one fails.
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	results, ready := h.run(r.Context())

	resp := ReadinessResponse{Status: "ready", Checks: results}
	if !ready {
		resp.Status = "not_ready"
		httputil.WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) run(ctx context.Context) (map[string]string, bool) {
	h.mu.RLock()
	checks := make(map[string]check, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	h.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make(map[string]string, len(checks))
		ready   = true
		g       errgroup.Group
	)
	for name, c := range checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, h.checkTimeout)
			defer cancel()
			err := c.fn(checkCtx)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				results[name] = StateUp
			case c.critical:
				results[name] = StateDown + ": " + err.Error()
				ready = false
			default:
				results[name] = StateDegraded + ": " + err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, ready
}

type StatusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Environment   string `json:"environment"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Timestamp     string `json:"timestamp"`
}

func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, StatusResponse{
		Status:        "healthy",
		Version:       Version,
		Environment:   h.environment,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
}
