package config

import (
	"testing"
	"time"

	"authguard/internal/ratelimit/models"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/suite"
)

type ConfigSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) TestDefaults() {
	cfg := DefaultConfig()

	s.Run("limit table", func() {
		s.Equal(60, cfg.IP.MaxRequests)
		s.Equal(10000, cfg.Global.MaxRequests)
		s.Equal(5, cfg.Account.MaxRequests)
		s.Equal(5*time.Minute, cfg.Account.Window)
		s.Equal(models.FailClosed, cfg.Account.Policy)
		s.Equal(models.FailOpen, cfg.IP.Policy)
	})

	s.Run("endpoint table with default fallback", func() {
		login, ok := cfg.EndpointLimit("login")
		s.True(ok)
		s.Equal(10, login.MaxRequests)

		reset, _ := cfg.EndpointLimit("password-reset")
		s.Equal(3, reset.MaxRequests)

		other, ok := cfg.EndpointLimit("summary")
		s.False(ok)
		s.Equal(60, other.MaxRequests)
	})
}

func (s *ConfigSuite) TestScheduleFor() {
	lockout := DefaultConfig().Lockout
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 0}, {1, 0}, {5, 0},
		{6, 5 * time.Minute},
		{7, 15 * time.Minute},
		{8, 30 * time.Minute},
		{9, time.Hour},
		{50, time.Hour},
	}
	for _, tc := range cases {
		s.Equal(tc.want, lockout.ScheduleFor(tc.attempts), "attempts=%d", tc.attempts)
	}
}

func (s *ConfigSuite) TestApplyViper() {
	s.Run("overrides only set keys", func() {
		v := viper.New()
		v.Set("ratelimit.ip.max", 120)
		v.Set("ratelimit.endpoints.login.window", "2m")
		v.Set("ratelimit.global.fail_closed", true)
		v.Set("lockout.threshold", 4)

		cfg := DefaultConfig()
		s.Require().NoError(cfg.ApplyViper(v))

		s.Equal(120, cfg.IP.MaxRequests)
		s.Equal(time.Minute, cfg.IP.Window)
		s.Equal(2*time.Minute, cfg.Endpoints["login"].Window)
		s.Equal(10, cfg.Endpoints["login"].MaxRequests)
		s.Equal(models.FailClosed, cfg.Global.Policy)
		s.Equal(4, cfg.Lockout.Threshold)
		s.Equal(3, cfg.Lockout.WarningThreshold)
		s.Equal(DefaultConfig().Lockout.Schedule, cfg.Lockout.Schedule)
		s.Equal(models.FailOpen, cfg.Lockout.Policy)
	})

	s.Run("lockout failure policy", func() {
		v := viper.New()
		v.Set("lockout.fail_closed", true)
		cfg := DefaultConfig()
		s.Require().NoError(cfg.ApplyViper(v))
		s.Equal(models.FailClosed, cfg.Lockout.Policy)
	})

	s.Run("action limits", func() {
		v := viper.New()
		v.Set("ratelimit.actions.api_request.max", 100)
		cfg := DefaultConfig()
		s.Require().NoError(cfg.ApplyViper(v))
		s.Equal(100, cfg.AccountLimit(APIAction).MaxRequests)
		s.Equal(5, cfg.AccountLimit("login_attempt").MaxRequests)
	})
}

func (s *ConfigSuite) TestLockoutScheduleFromViper() {
	s.Run("list of entries from a config file", func() {
		v := viper.New()
		v.Set("lockout.schedule", []map[string]any{
			{"attempts": 3, "duration": "1m"},
			{"attempts": 5, "duration": "10m"},
		})
		cfg := DefaultConfig()
		s.Require().NoError(cfg.ApplyViper(v))
		s.Equal([]ScheduleStep{
			{Attempts: 3, Duration: time.Minute},
			{Attempts: 5, Duration: 10 * time.Minute},
		}, cfg.Lockout.Schedule)
		s.Equal(10*time.Minute, cfg.Lockout.ScheduleFor(9))
	})

	s.Run("string form from the environment", func() {
		v := viper.New()
		v.Set("lockout.schedule", "6:2m, 8:20m")
		cfg := DefaultConfig()
		s.Require().NoError(cfg.ApplyViper(v))
		s.Equal([]ScheduleStep{
			{Attempts: 6, Duration: 2 * time.Minute},
			{Attempts: 8, Duration: 20 * time.Minute},
		}, cfg.Lockout.Schedule)
	})

	rejected := map[string]any{
		"empty":              "",
		"missing separator":  "6=5m",
		"bad duration":       "6:soon",
		"attempts not above": "6:5m,6:10m",
		"duration decreases": "6:15m,7:5m",
		"zero duration":      "6:0s",
	}
	for name, raw := range rejected {
		s.Run(name, func() {
			v := viper.New()
			v.Set("lockout.schedule", raw)
			s.Error(DefaultConfig().ApplyViper(v))
		})
	}
}

func (s *ConfigSuite) TestValidate() {
	s.NoError(DefaultConfig().Lockout.Validate())

	lockout := DefaultConfig().Lockout
	lockout.Schedule = nil
	s.ErrorContains(lockout.Validate(), "must not be empty")
}
