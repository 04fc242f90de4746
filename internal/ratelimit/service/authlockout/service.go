// Package authlockout implements progressive account lockout.
//
// Failed attempts accumulate in a rolling counter at failed_attempts:{userID}.
// From the threshold on, every further failure (re)writes a LockoutRecord at
// locked:{userID} whose TTL is the scheduled lockout duration:
//
//	attempts 1-5 -> no lockout, 6 -> 5m, 7 -> 15m, 8 -> 30m, 9+ -> 1h
//
// Locking also moves the counter's expiry to the lockout duration, so the
// account is back to normal when the lock lapses. Callers check status before
// verifying credentials; a failure recorded while locked escalates.
// A successful login or an admin unlock clears both keys.
package authlockout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"time"

	"authguard/internal/platform/metrics"
	"authguard/internal/platform/privacy"
	"authguard/internal/ratelimit/config"
	"authguard/internal/ratelimit/models"
	"authguard/internal/ratelimit/ports"
	dErrors "authguard/pkg/domain-errors"
	"authguard/pkg/platform/audit"
	"authguard/pkg/requestcontext"
)

type Service struct {
	store   ports.CounterStore
	logger  *slog.Logger
	audit   *audit.Logger
	emitter audit.Emitter
	config  *config.Config
	metrics *metrics.SecurityMetrics
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

// WithConfig reads the lockout section, the account limit and the store
// timeout from cfg.
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

func New(store ports.CounterStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	svc := &Service{
		store:  store,
		config: config.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if len(svc.config.Lockout.Schedule) == 0 {
		return nil, fmt.Errorf("lockout schedule must not be empty")
	}
	svc.audit = audit.NewLogger(svc.logger, svc.emitter)
	return svc, nil
}

// FailedAttempt describes one failed authentication.
type FailedAttempt struct {
	UserID string
	Email  string
	IP     string
	Action string // defaults to the configured lockout action
	// Context carries host-supplied details such as device or client name.
	// Only its keys are logged.
	Context map[string]string
}

// ScheduleFor returns the lockout duration for an attempt count. At or
// above the threshold it is never shorter than the first scheduled step.
func (s *Service) ScheduleFor(attempts int) time.Duration {
	lockout := &s.config.Lockout
	d := lockout.ScheduleFor(attempts)
	if d == 0 && attempts >= lockout.Threshold {
		d = lockout.Schedule[0].Duration
	}
	return d
}

// RecordFailedAttempt counts a failure and locks the account once the
// threshold is reached. A store failure applies the lockout failure policy
// with reason security_check_failed.
func (s *Service) RecordFailedAttempt(ctx context.Context, in FailedAttempt) *models.LockoutResult {
	lockout := &s.config.Lockout
	if in.Action == "" {
		in.Action = lockout.DefaultAction
	}
	now := requestcontext.Now(ctx)
	storeCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	attempts, err := s.incrementAttempts(storeCtx, in.UserID)
	if err != nil {
		return s.degraded(ctx, "record_failed_attempt", in.UserID, err)
	}
	s.metrics.IncrementFailedLogins()

	logAttrs := []any{
		"user_id", in.UserID,
		"email", privacy.MaskEmail(in.Email),
		"ip_prefix", privacy.AnonymizeIP(in.IP),
		"action", in.Action,
		"attempt_count", attempts,
	}
	if len(in.Context) > 0 {
		logAttrs = append(logAttrs, "context_keys", slices.Sorted(maps.Keys(in.Context)))
	}

	if attempts < lockout.Threshold {
		reason := models.ReasonFailedAttemptRecorded
		if attempts >= lockout.WarningThreshold {
			reason = models.ReasonWarningThreshold
		}
		s.audit.Log(ctx, audit.EventFailedLogin, append(logAttrs, "decision", "allowed", "reason", string(reason))...)
		return &models.LockoutResult{
			Allowed:             true,
			Reason:              reason,
			AttemptCount:        attempts,
			NextLockoutDuration: toSeconds(lockout.ScheduleFor(attempts + 1)),
		}
	}

	duration := s.ScheduleFor(attempts)
	record, err := models.NewLockoutRecord(in.UserID, attempts, lockout.Threshold, duration, now)
	if err != nil {
		return s.degraded(ctx, "record_failed_attempt", in.UserID, err)
	}
	record.Action = in.Action
	record.IPPrefix = privacy.AnonymizeIP(in.IP)
	payload, err := json.Marshal(record)
	if err != nil {
		return s.degraded(ctx, "record_failed_attempt", in.UserID, err)
	}
	if err := s.store.SetWithExpiry(storeCtx, models.LockoutKey(in.UserID), string(payload), duration); err != nil {
		return s.degraded(ctx, "record_failed_attempt", in.UserID, err)
	}
	if _, err := s.store.Expire(storeCtx, models.FailedAttemptsKey(in.UserID), duration); err != nil {
		// The lock is already written; a longer-lived counter only delays the
		// return to normal.
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to align attempt counter with lockout",
				"user_id", in.UserID,
				"error", err,
			)
		}
	}

	s.metrics.IncrementLockouts()
	s.audit.Log(ctx, audit.EventAccountLocked, append(logAttrs,
		"decision", "denied",
		"reason", string(models.ReasonAccountLocked),
		"lockout_seconds", toSeconds(duration),
	)...)

	lockedUntil := record.LockedUntil
	return &models.LockoutResult{
		Allowed:             false,
		Reason:              models.ReasonAccountLocked,
		AttemptCount:        attempts,
		TimeUntilUnlock:     toSeconds(duration),
		NextLockoutDuration: toSeconds(s.ScheduleFor(attempts + 1)),
		LockedUntil:         &lockedUntil,
	}
}

// incrementAttempts counts one failure and restarts the rolling window.
func (s *Service) incrementAttempts(ctx context.Context, userID string) (int, error) {
	key := models.FailedAttemptsKey(userID)
	window := s.config.Lockout.AttemptWindow
	n, err := s.store.IncrementWithExpiry(ctx, key, window)
	if err != nil {
		return 0, err
	}
	if n > 1 {
		if _, err := s.store.Expire(ctx, key, window); err != nil {
			return 0, err
		}
	}
	return int(n), nil
}

// CheckAccountStatus reports whether userID may attempt to authenticate.
func (s *Service) CheckAccountStatus(ctx context.Context, userID string) *models.LockoutResult {
	lockout := &s.config.Lockout
	now := requestcontext.Now(ctx)
	storeCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	locked, err := s.activeLockout(storeCtx, userID, now)
	if err != nil {
		return s.degraded(ctx, "check_account_status", userID, err)
	}
	if locked != nil {
		return locked
	}

	count, _, err := s.store.Get(storeCtx, models.FailedAttemptsKey(userID))
	if err != nil {
		return s.degraded(ctx, "check_account_status", userID, err)
	}
	attempts := int(count)
	if attempts >= lockout.WarningThreshold {
		return &models.LockoutResult{
			Allowed:             true,
			Reason:              models.ReasonWarningState,
			AttemptCount:        attempts,
			NextLockoutDuration: toSeconds(s.ScheduleFor(max(attempts+1, lockout.Threshold))),
		}
	}
	return &models.LockoutResult{
		Allowed:      true,
		Reason:       models.ReasonAccountNormal,
		AttemptCount: attempts,
	}
}

// activeLockout returns a denied result when a live lockout record exists.
// An unreadable record still locks, with attempt count 0.
func (s *Service) activeLockout(ctx context.Context, userID string, now time.Time) (*models.LockoutResult, error) {
	key := models.LockoutKey(userID)
	raw, found, err := s.store.GetValue(ctx, key)
	if err != nil || !found {
		return nil, err
	}
	ttl, err := s.store.TTL(ctx, key)
	if err != nil {
		return nil, err
	}

	var record models.LockoutRecord
	if decodeErr := json.Unmarshal([]byte(raw), &record); decodeErr != nil {
		record = models.LockoutRecord{}
		if s.logger != nil {
			s.logger.WarnContext(ctx, "lockout record unreadable",
				"user_id", userID,
				"error", dErrors.Wrap(decodeErr, dErrors.CodeDataCorrupt, "decode lockout record"),
			)
		}
	}

	switch {
	case ttl > 0:
	case ttl == ports.TTLNoExpiry && record.IsLocked(now):
		ttl = record.LockedUntil.Sub(now)
	default:
		return nil, nil
	}

	lockedUntil := now.Add(ttl)
	return &models.LockoutResult{
		Allowed:             false,
		Reason:              models.ReasonAccountLocked,
		AttemptCount:        record.AttemptCount,
		TimeUntilUnlock:     toSeconds(ttl),
		NextLockoutDuration: toSeconds(s.ScheduleFor(max(record.AttemptCount+1, s.config.Lockout.Threshold))),
		LockedUntil:         &lockedUntil,
	}, nil
}

// RecordSuccessfulAttempt clears the attempt counter and any lockout record.
// It reports whether the store confirmed the deletion.
func (s *Service) RecordSuccessfulAttempt(ctx context.Context, userID, ip string) bool {
	storeCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	removed, err := s.store.Delete(storeCtx, models.FailedAttemptsKey(userID), models.LockoutKey(userID))
	if err != nil {
		s.metrics.IncrementStoreFailures("lockout", s.config.Lockout.Policy.String())
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to clear lockout state after success",
				"user_id", userID,
				"ip_prefix", privacy.AnonymizeIP(ip),
				"error", err,
			)
		}
		return false
	}
	if removed > 0 {
		s.metrics.IncrementUnlocks("success")
		s.audit.Log(ctx, audit.EventAccountUnlocked,
			"user_id", userID,
			"ip_prefix", privacy.AnonymizeIP(ip),
			"decision", "allowed",
			"reason", "successful_login",
		)
	}
	return true
}

// UnlockAccountAdmin clears every lockout and account rate-limit counter of
// userID. Returns false when the store could not complete the unlock.
func (s *Service) UnlockAccountAdmin(ctx context.Context, userID, adminID, reason string) bool {
	storeCtx, cancel := context.WithTimeout(ctx, 2*s.config.StoreTimeout)
	defer cancel()

	keys, err := s.store.Keys(storeCtx, models.AccountKeyPrefix(userID))
	if err == nil {
		keys = append(keys, models.FailedAttemptsKey(userID), models.LockoutKey(userID))
		_, err = s.store.Delete(storeCtx, keys...)
	}
	if err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "admin unlock failed",
				"user_id", userID,
				"admin_id", adminID,
				"error", err,
			)
		}
		return false
	}

	s.metrics.IncrementUnlocks("admin")
	s.audit.Log(ctx, audit.EventAdminUnlock,
		"user_id", userID,
		"admin_id", adminID,
		"decision", "allowed",
		"reason", reason,
	)
	return true
}

// degraded is the single place a store failure turns into a decision.
func (s *Service) degraded(ctx context.Context, op, userID string, err error) *models.LockoutResult {
	policy := s.config.Lockout.Policy
	s.metrics.IncrementStoreFailures("lockout", policy.String())
	if s.logger != nil {
		s.logger.WarnContext(ctx, "lockout store unavailable",
			"operation", op,
			"user_id", userID,
			"policy", policy.String(),
			"error", err,
		)
	}
	return &models.LockoutResult{
		Allowed:      policy.Allows(),
		Reason:       models.ReasonSecurityCheckFailed,
		AttemptCount: 0,
	}
}

func toSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
