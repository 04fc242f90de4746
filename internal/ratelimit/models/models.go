package models

import (
	"time"

	dErrors "authguard/pkg/domain-errors"
)

// LimitType names the dimension a rate limit counter tracks.
type LimitType string

const (
	LimitTypeIP       LimitType = "ip_based"
	LimitTypeAccount  LimitType = "account_based"
	LimitTypeGlobal   LimitType = "global"
	LimitTypeEndpoint LimitType = "endpoint_specific"
)

// ParseLimitType creates a LimitType from a string, validating it.
func ParseLimitType(s string) (LimitType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "limit type cannot be empty")
	}
	t := LimitType(s)
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid limit type: must be one of ip_based, account_based, global, endpoint_specific")
	}
	return t, nil
}

func (t LimitType) IsValid() bool {
	switch t {
	case LimitTypeIP, LimitTypeAccount, LimitTypeGlobal, LimitTypeEndpoint:
		return true
	}
	return false
}

func (t LimitType) String() string {
	return string(t)
}

// FailurePolicy decides the outcome of a guard check when the counter store
// cannot answer.
type FailurePolicy int

const (
	FailOpen FailurePolicy = iota
	FailClosed
)

// Allows reports whether a store failure under this policy lets the request through.
func (p FailurePolicy) Allows() bool {
	return p == FailOpen
}

func (p FailurePolicy) String() string {
	if p == FailClosed {
		return "fail_closed"
	}
	return "fail_open"
}

// RequestInfo is the slice of an inbound request the rate limiter needs.
type RequestInfo struct {
	IP     string
	Path   string
	Method string
}

// RateLimitResult is the outcome of a single fixed-window check.
type RateLimitResult struct {
	Allowed           bool      `json:"is_allowed"`
	LimitType         LimitType `json:"limit_type"`
	Identifier        string    `json:"identifier"`
	CurrentCount      int       `json:"current_count"`
	MaxRequests       int       `json:"max_requests"`
	RemainingRequests int       `json:"remaining_requests"`
	TimeUntilReset    int       `json:"time_until_reset_seconds"`
	ViolationRecorded bool      `json:"violation_recorded"`
	// Degraded marks a result produced by the failure policy instead of the store.
	Degraded bool `json:"degraded,omitempty"`
}

// RetryAfter returns the seconds a denied caller should wait, at least one.
func (r *RateLimitResult) RetryAfter() int {
	if r.TimeUntilReset > 0 {
		return r.TimeUntilReset
	}
	return 1
}

// CheckAllResult aggregates the ordered checks of one request.
type CheckAllResult struct {
	Allowed bool
	// Results holds every evaluated check in evaluation order.
	Results []*RateLimitResult
	// Denied is the check that short-circuited evaluation, nil when allowed.
	Denied *RateLimitResult
}

// Tightest returns the evaluated result with the fewest remaining requests,
// used for X-RateLimit-* headers on allowed responses.
func (r *CheckAllResult) Tightest() *RateLimitResult {
	if r.Denied != nil {
		return r.Denied
	}
	var tightest *RateLimitResult
	for _, res := range r.Results {
		if res.Degraded {
			continue
		}
		if tightest == nil || res.RemainingRequests < tightest.RemainingRequests {
			tightest = res
		}
	}
	return tightest
}

// LockoutReason explains a lockout guard outcome.
type LockoutReason string

const (
	ReasonFailedAttemptRecorded LockoutReason = "failed_attempt_recorded"
	ReasonWarningThreshold      LockoutReason = "warning_threshold"
	ReasonAccountLocked         LockoutReason = "account_locked"
	ReasonWarningState          LockoutReason = "warning_state"
	ReasonAccountNormal         LockoutReason = "account_normal"
	ReasonSecurityCheckFailed   LockoutReason = "security_check_failed"
)

// LockoutResult is the outcome of recording an attempt or checking status.
// Durations are whole seconds.
type LockoutResult struct {
	Allowed             bool          `json:"is_allowed"`
	Reason              LockoutReason `json:"reason"`
	AttemptCount        int           `json:"attempt_count"`
	TimeUntilUnlock     int           `json:"time_until_unlock,omitempty"`
	NextLockoutDuration int           `json:"next_lockout_duration,omitempty"`
	LockedUntil         *time.Time    `json:"locked_until,omitempty"`
}

// LockoutRecord is persisted at locked:{userID} for the lockout duration.
type LockoutRecord struct {
	UserID       string    `json:"user_id"`
	AttemptCount int       `json:"attempt_count"`
	LockedUntil  time.Time `json:"locked_until"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
	Action       string    `json:"action,omitempty"`
	// IPPrefix is the anonymized source of the locking attempt.
	IPPrefix string `json:"ip_prefix,omitempty"`
}

// NewLockoutRecord creates a LockoutRecord with domain invariant validation.
func NewLockoutRecord(userID string, attempts, threshold int, duration time.Duration, now time.Time) (*LockoutRecord, error) {
	if userID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "user_id cannot be empty")
	}
	if attempts < threshold {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "lockout requires attempt count at or above threshold")
	}
	if duration <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "lockout duration must be positive")
	}
	return &LockoutRecord{
		UserID:       userID,
		AttemptCount: attempts,
		LockedUntil:  now.Add(duration),
		Reason:       "too_many_failed_attempts",
		CreatedAt:    now,
	}, nil
}

func (r *LockoutRecord) IsLocked(now time.Time) bool {
	return now.Before(r.LockedUntil)
}
