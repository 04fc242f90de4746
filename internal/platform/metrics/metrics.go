// Package metrics holds the Prometheus counters shared by every guard.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"authguard/pkg/platform/audit"
)

// SecurityMetrics counts guard decisions. A nil *SecurityMetrics is a valid
// no-op so guards can run without a registry in tests.
type SecurityMetrics struct {
	RateLimitChecks     *prometheus.CounterVec
	RateLimitViolations *prometheus.CounterVec
	FailedLogins        prometheus.Counter
	Lockouts            prometheus.Counter
	Unlocks             *prometheus.CounterVec
	CSRFTokensIssued    prometheus.Counter
	CSRFValidations     *prometheus.CounterVec
	StoreFailures       *prometheus.CounterVec
	StoreCircuitOpen    prometheus.Gauge
	SecurityEvents      *prometheus.CounterVec

	CSRFSweepRuns     *prometheus.CounterVec
	CSRFSweepDeleted  prometheus.Counter
	CSRFSweepDuration prometheus.Histogram
}

// New registers the metrics on reg.
func New(reg prometheus.Registerer) *SecurityMetrics {
	f := promauto.With(reg)
	return &SecurityMetrics{
		RateLimitChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authguard_ratelimit_checks_total",
			Help: "Rate limit checks by limit type and outcome (allowed, denied, degraded)",
		}, []string{"limit_type", "outcome"}),
		RateLimitViolations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authguard_ratelimit_violations_total",
			Help: "Requests denied by a rate limit",
		}, []string{"limit_type"}),
		FailedLogins: f.NewCounter(prometheus.CounterOpts{
			Name: "authguard_lockout_failed_attempts_total",
			Help: "Failed authentication attempts recorded",
		}),
		Lockouts: f.NewCounter(prometheus.CounterOpts{
			Name: "authguard_lockouts_total",
			Help: "Account lockouts started or extended",
		}),
		Unlocks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authguard_lockout_unlocks_total",
			Help: "Lockout state cleared, by source (success, admin)",
		}, []string{"source"}),
		CSRFTokensIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "authguard_csrf_tokens_issued_total",
			Help: "CSRF tokens issued",
		}),
		CSRFValidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authguard_csrf_validations_total",
			Help: "CSRF validations by outcome (valid or the rejection code)",
		}, []string{"outcome"}),
		StoreFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authguard_store_failures_total",
			Help: "Counter store failures handled by a guard failure policy",
		}, []string{"guard", "policy"}),
		StoreCircuitOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "authguard_store_circuit_open",
			Help: "1 while the counter store circuit breaker is open",
		}),
		SecurityEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authguard_security_events_total",
			Help: "Audit events by action and decision",
		}, []string{"action", "decision"}),
		CSRFSweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authguard_csrf_sweep_runs_total",
			Help: "CSRF sweep runs by status",
		}, []string{"status"}),
		CSRFSweepDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "authguard_csrf_sweep_deleted_total",
			Help: "Expired or corrupt CSRF tokens removed by the sweep",
		}),
		CSRFSweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "authguard_csrf_sweep_duration_seconds",
			Help:    "Duration of CSRF sweep runs in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
	}
}

func (m *SecurityMetrics) ObserveRateLimitCheck(limitType, outcome string) {
	if m == nil {
		return
	}
	m.RateLimitChecks.WithLabelValues(limitType, outcome).Inc()
	if outcome == "denied" {
		m.RateLimitViolations.WithLabelValues(limitType).Inc()
	}
}

func (m *SecurityMetrics) IncrementFailedLogins() {
	if m == nil {
		return
	}
	m.FailedLogins.Inc()
}

func (m *SecurityMetrics) IncrementLockouts() {
	if m == nil {
		return
	}
	m.Lockouts.Inc()
}

func (m *SecurityMetrics) IncrementUnlocks(source string) {
	if m == nil {
		return
	}
	m.Unlocks.WithLabelValues(source).Inc()
}

func (m *SecurityMetrics) IncrementCSRFTokensIssued() {
	if m == nil {
		return
	}
	m.CSRFTokensIssued.Inc()
}

func (m *SecurityMetrics) ObserveCSRFValidation(outcome string) {
	if m == nil {
		return
	}
	m.CSRFValidations.WithLabelValues(outcome).Inc()
}

func (m *SecurityMetrics) IncrementStoreFailures(guard, policy string) {
	if m == nil {
		return
	}
	m.StoreFailures.WithLabelValues(guard, policy).Inc()
}

func (m *SecurityMetrics) SetStoreCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.StoreCircuitOpen.Set(1)
		return
	}
	m.StoreCircuitOpen.Set(0)
}

func (m *SecurityMetrics) IncrementCSRFSweepRuns(status string) {
	if m == nil {
		return
	}
	m.CSRFSweepRuns.WithLabelValues(status).Inc()
}

func (m *SecurityMetrics) AddCSRFSweepDeleted(count int) {
	if m == nil {
		return
	}
	m.CSRFSweepDeleted.Add(float64(count))
}

func (m *SecurityMetrics) ObserveCSRFSweepDuration(seconds float64) {
	if m == nil {
		return
	}
	m.CSRFSweepDuration.Observe(seconds)
}

// Emit implements audit.Emitter by counting events.
func (m *SecurityMetrics) Emit(_ context.Context, event audit.Event) error {
	if m == nil {
		return nil
	}
	decision := event.Decision
	if decision == "" {
		decision = "none"
	}
	m.SecurityEvents.WithLabelValues(event.Action, decision).Inc()
	return nil
}

var _ audit.Emitter = (*SecurityMetrics)(nil)
