package models

import "time"

type RateLimitExceededResponse struct {
	Error      string    `json:"error"` // "rate_limit_exceeded"
	Message    string    `json:"message"`
	LimitType  LimitType `json:"limit_type"`
	RetryAfter int       `json:"retry_after"` // seconds
}

type AccountLockedResponse struct {
	Error           string `json:"error"` // "account_locked"
	Message         string `json:"message"`
	TimeUntilUnlock int    `json:"time_until_unlock"`
}

type LockoutStatusResponse struct {
	UserID string `json:"user_id"`
	LockoutResult
}

type UnlockResponse struct {
	Unlocked   bool      `json:"unlocked"`
	UserID     string    `json:"user_id"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

type ResetRateLimitResponse struct {
	LimitType LimitType `json:"limit_type"`
	Key       string    `json:"key"`
	Removed   int64     `json:"removed"`
}
