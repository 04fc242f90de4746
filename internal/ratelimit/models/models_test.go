package models

import (
	"testing"
	"time"

	dErrors "authguard/pkg/domain-errors"

	"github.com/stretchr/testify/suite"
)

type ModelsSuite struct {
	suite.Suite
}

func TestModelsSuite(t *testing.T) {
	suite.Run(t, new(ModelsSuite))
}

func (s *ModelsSuite) TestParseLimitType() {
	s.Run("accepts known types", func() {
		for _, raw := range []string{"ip_based", "account_based", "global", "endpoint_specific"} {
			t, err := ParseLimitType(raw)
			s.Require().NoError(err)
			s.Equal(raw, t.String())
		}
	})

	s.Run("rejects empty and unknown", func() {
		_, err := ParseLimitType("")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		_, err = ParseLimitType("per_tenant")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *ModelsSuite) TestFailurePolicy() {
	s.True(FailOpen.Allows())
	s.False(FailClosed.Allows())
	s.Equal("fail_closed", FailClosed.String())
}

func (s *ModelsSuite) TestNewLockoutRecord() {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	s.Run("valid record locks until now plus duration", func() {
		rec, err := NewLockoutRecord("u1", 6, 6, 5*time.Minute, now)
		s.Require().NoError(err)
		s.Equal(now.Add(5*time.Minute), rec.LockedUntil)
		s.True(rec.IsLocked(now.Add(time.Minute)))
		s.False(rec.IsLocked(now.Add(5 * time.Minute)))
	})

	s.Run("below threshold is an invariant violation", func() {
		_, err := NewLockoutRecord("u1", 5, 6, 5*time.Minute, now)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("empty user and zero duration are rejected", func() {
		_, err := NewLockoutRecord("", 6, 6, time.Minute, now)
		s.Error(err)
		_, err = NewLockoutRecord("u1", 6, 6, 0, now)
		s.Error(err)
	})
}

func (s *ModelsSuite) TestTightest() {
	s.Run("denied result wins", func() {
		denied := &RateLimitResult{LimitType: LimitTypeIP}
		r := &CheckAllResult{Denied: denied, Results: []*RateLimitResult{{RemainingRequests: 0}, denied}}
		s.Same(denied, r.Tightest())
	})

	s.Run("lowest remaining among non-degraded results", func() {
		global := &RateLimitResult{LimitType: LimitTypeGlobal, RemainingRequests: 9000}
		ip := &RateLimitResult{LimitType: LimitTypeIP, RemainingRequests: 12}
		degraded := &RateLimitResult{LimitType: LimitTypeAccount, Degraded: true}
		r := &CheckAllResult{Allowed: true, Results: []*RateLimitResult{global, ip, degraded}}
		s.Same(ip, r.Tightest())
	})
}

func (s *ModelsSuite) TestResetRequestValidate() {
	s.Run("global needs no identifier", func() {
		req := &ResetRateLimitRequest{LimitType: " Global "}
		req.Normalize()
		s.NoError(req.Validate())
	})

	s.Run("other types need identifier", func() {
		req := &ResetRateLimitRequest{LimitType: "ip_based"}
		s.True(dErrors.HasCode(req.Validate(), dErrors.CodeInvalidInput))
	})

	s.Run("unknown type rejected", func() {
		req := &ResetRateLimitRequest{LimitType: "quota", Identifier: "x"}
		s.Error(req.Validate())
	})
}
