package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"authguard/internal/ratelimit/models"

	"github.com/spf13/viper"
)

// Config holds rate limiting and lockout configuration.
type Config struct {
	// Per-IP limit applied when no endpoint is given.
	IP Limit

	// Per-IP limits by endpoint name; DefaultEndpoint applies to unknown names.
	Endpoints       map[string]Limit
	DefaultEndpoint Limit

	// Per-account limit, keyed by action. Account applies to DefaultAction
	// and to any action without an entry in Actions.
	Account       Limit
	DefaultAction string
	Actions       map[string]Limit

	// Limit across all instances for every request.
	Global Limit

	Lockout LockoutConfig

	// SuccessWindow is the TTL of the success:* counters kept for metrics.
	SuccessWindow time.Duration

	// StoreTimeout bounds each counter store call made by a guard.
	StoreTimeout time.Duration
}

// Limit defines fixed-window parameters.
type Limit struct {
	MaxRequests int
	Window      time.Duration
	Policy      models.FailurePolicy
}

// LockoutConfig defines progressive account lockout parameters.
type LockoutConfig struct {
	Threshold        int           // failures that trigger the first lockout
	WarningThreshold int           // failures that surface a warning
	AttemptWindow    time.Duration // rolling window of the attempt counter
	DefaultAction    string
	// Policy applies when the store fails while recording or checking.
	Policy models.FailurePolicy
	// Schedule maps attempt count to lockout duration. Counts beyond the
	// last entry use the last entry.
	Schedule []ScheduleStep
}

// ScheduleStep locks for Duration once attempts reach Attempts.
type ScheduleStep struct {
	Attempts int
	Duration time.Duration
}

// APIAction is the account action for proxied API traffic. It keeps its own
// counter so API calls never consume the login allowance.
const APIAction = "api_request"

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		IP: Limit{MaxRequests: 60, Window: time.Minute, Policy: models.FailOpen},
		Endpoints: map[string]Limit{
			"login":          {MaxRequests: 10, Window: time.Minute, Policy: models.FailOpen},
			"register":       {MaxRequests: 5, Window: time.Minute, Policy: models.FailOpen},
			"password-reset": {MaxRequests: 3, Window: time.Minute, Policy: models.FailOpen},
		},
		DefaultEndpoint: Limit{MaxRequests: 60, Window: time.Minute, Policy: models.FailOpen},
		Account:         Limit{MaxRequests: 5, Window: 5 * time.Minute, Policy: models.FailClosed},
		DefaultAction:   "login_attempt",
		Global:          Limit{MaxRequests: 10000, Window: time.Minute, Policy: models.FailOpen},
		Actions: map[string]Limit{
			APIAction: {MaxRequests: 600, Window: time.Minute, Policy: models.FailOpen},
		},
		Lockout: LockoutConfig{
			Threshold:        6,
			WarningThreshold: 3,
			AttemptWindow:    10 * time.Minute,
			DefaultAction:    "login",
			Policy:           models.FailOpen,
			Schedule: []ScheduleStep{
				{Attempts: 6, Duration: 5 * time.Minute},
				{Attempts: 7, Duration: 15 * time.Minute},
				{Attempts: 8, Duration: 30 * time.Minute},
				{Attempts: 9, Duration: time.Hour},
			},
		},
		SuccessWindow: time.Hour,
		StoreTimeout:  250 * time.Millisecond,
	}
}

// EndpointLimit returns the limit for an endpoint name and whether the name
// is configured explicitly.
func (c *Config) EndpointLimit(endpoint string) (Limit, bool) {
	if limit, ok := c.Endpoints[endpoint]; ok {
		return limit, true
	}
	return c.DefaultEndpoint, false
}

// AccountLimit returns the per-account limit for an action.
func (c *Config) AccountLimit(action string) Limit {
	if limit, ok := c.Actions[action]; ok {
		return limit
	}
	return c.Account
}

// ScheduleFor returns the lockout duration for an attempt count. Counts below
// the first step map to zero.
func (c *LockoutConfig) ScheduleFor(attempts int) time.Duration {
	var d time.Duration
	for _, step := range c.Schedule {
		if attempts < step.Attempts {
			break
		}
		d = step.Duration
	}
	return d
}

// ApplyViper overrides defaults from a viper instance under the "ratelimit"
// and "lockout" keys, e.g. AUTHGUARD_RATELIMIT_IP_MAX or
// ratelimit.account.window in a file. Unset keys keep their defaults.
//
// lockout.schedule is either a list of {attempts, duration} entries or, from
// the environment, a string such as "6:5m,7:15m,8:30m,9:1h".
func (c *Config) ApplyViper(v *viper.Viper) error {
	applyLimit(v, "ratelimit.ip", &c.IP)
	applyLimit(v, "ratelimit.global", &c.Global)
	applyLimit(v, "ratelimit.account", &c.Account)
	applyLimit(v, "ratelimit.endpoint_default", &c.DefaultEndpoint)
	for name, limit := range c.Endpoints {
		applyLimit(v, "ratelimit.endpoints."+name, &limit)
		c.Endpoints[name] = limit
	}
	for name, limit := range c.Actions {
		applyLimit(v, "ratelimit.actions."+name, &limit)
		c.Actions[name] = limit
	}
	if v.IsSet("lockout.threshold") {
		c.Lockout.Threshold = v.GetInt("lockout.threshold")
	}
	if v.IsSet("lockout.warning_threshold") {
		c.Lockout.WarningThreshold = v.GetInt("lockout.warning_threshold")
	}
	if v.IsSet("lockout.attempt_window") {
		c.Lockout.AttemptWindow = v.GetDuration("lockout.attempt_window")
	}
	if v.IsSet("lockout.fail_closed") {
		c.Lockout.Policy = policyFor(v.GetBool("lockout.fail_closed"))
	}
	if v.IsSet("lockout.schedule") {
		schedule, err := scheduleFromViper(v, "lockout.schedule")
		if err != nil {
			return err
		}
		c.Lockout.Schedule = schedule
	}
	if v.IsSet("store_timeout") {
		c.StoreTimeout = v.GetDuration("store_timeout")
	}
	return c.Lockout.Validate()
}

// Validate checks the lockout schedule: at least one step, positive values,
// strictly increasing attempt counts and non-decreasing durations.
func (c *LockoutConfig) Validate() error {
	if len(c.Schedule) == 0 {
		return errors.New("lockout schedule must not be empty")
	}
	for i, step := range c.Schedule {
		if step.Attempts <= 0 || step.Duration <= 0 {
			return fmt.Errorf("lockout schedule step %d: attempts and duration must be positive", i)
		}
		if i == 0 {
			continue
		}
		prev := c.Schedule[i-1]
		if step.Attempts <= prev.Attempts {
			return fmt.Errorf("lockout schedule step %d: attempts %d not above %d", i, step.Attempts, prev.Attempts)
		}
		if step.Duration < prev.Duration {
			return fmt.Errorf("lockout schedule step %d: duration %s below %s", i, step.Duration, prev.Duration)
		}
	}
	return nil
}

type scheduleEntry struct {
	Attempts int           `mapstructure:"attempts"`
	Duration time.Duration `mapstructure:"duration"`
}

func scheduleFromViper(v *viper.Viper, key string) ([]ScheduleStep, error) {
	if raw, ok := v.Get(key).(string); ok {
		return parseSchedule(raw)
	}
	var entries []scheduleEntry
	if err := v.UnmarshalKey(key, &entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	steps := make([]ScheduleStep, 0, len(entries))
	for _, e := range entries {
		steps = append(steps, ScheduleStep(e))
	}
	return steps, nil
}

// parseSchedule reads "attempts:duration" pairs separated by commas.
func parseSchedule(raw string) ([]ScheduleStep, error) {
	var steps []ScheduleStep
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		attempts, duration, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("lockout schedule entry %q: want attempts:duration", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(attempts))
		if err != nil {
			return nil, fmt.Errorf("lockout schedule entry %q: %w", part, err)
		}
		d, err := time.ParseDuration(strings.TrimSpace(duration))
		if err != nil {
			return nil, fmt.Errorf("lockout schedule entry %q: %w", part, err)
		}
		steps = append(steps, ScheduleStep{Attempts: n, Duration: d})
	}
	return steps, nil
}

func policyFor(failClosed bool) models.FailurePolicy {
	if failClosed {
		return models.FailClosed
	}
	return models.FailOpen
}

func applyLimit(v *viper.Viper, prefix string, l *Limit) {
	if v.IsSet(prefix + ".max") {
		l.MaxRequests = v.GetInt(prefix + ".max")
	}
	if v.IsSet(prefix + ".window") {
		l.Window = v.GetDuration(prefix + ".window")
	}
	if v.IsSet(prefix + ".fail_closed") {
		l.Policy = policyFor(v.GetBool(prefix + ".fail_closed"))
	}
}
