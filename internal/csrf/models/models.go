package models

import "time"

const tokenKeyPrefix = "csrf_token:"

// TokenKey is the store key of a token record.
func TokenKey(token string) string {
	return tokenKeyPrefix + token
}

// TokenKeyPrefix matches every token record.
func TokenKeyPrefix() string {
	return tokenKeyPrefix
}

// Token is the stored record of an issued CSRF token. Every binding field
// is optional.
type Token struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the token is no longer valid at now.
func (t *Token) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Remaining is the token lifetime left at now, never negative.
func (t *Token) Remaining(now time.Time) time.Duration {
	return max(t.ExpiresAt.Sub(now), 0)
}

// GenerateRequest describes the context a token is issued for.
type GenerateRequest struct {
	UserID    string
	SessionID string
	IPAddress string
	UserAgent string
	// Expiry defaults to the configured lifetime when zero.
	Expiry time.Duration
}

// ValidationRequest carries the three token sources of a request plus the
// optional context it arrived with.
type ValidationRequest struct {
	// Token is the primary token, e.g. a form field. Optional.
	Token       string
	HeaderToken string
	CookieToken string
	IPAddress   string
	UserAgent   string
}

// ValidationCode names the first failing check.
type ValidationCode string

const (
	CodeValid              ValidationCode = "valid"
	CodeMissingHeaderToken ValidationCode = "missing_header_token"
	CodeTokenMismatch      ValidationCode = "token_mismatch"
	CodeTokenNotFound      ValidationCode = "token_not_found"
	CodeTokenExpired       ValidationCode = "token_expired"
	CodeContextMismatch    ValidationCode = "context_mismatch"
	CodeValidationError    ValidationCode = "validation_error"
)

// ValidationResult is the outcome of a CSRF validation.
type ValidationResult struct {
	Valid    bool           `json:"is_valid"`
	Code     ValidationCode `json:"code"`
	TokenAge int            `json:"token_age_seconds,omitempty"`
}

// TokenResponse is returned by GET /csrf/token.
type TokenResponse struct {
	CSRFToken  string    `json:"csrf_token"`
	HeaderName string    `json:"header_name"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// RejectedResponse is written when a state-changing request fails validation.
type RejectedResponse struct {
	Error string         `json:"error"` // "csrf_validation_failed"
	Code  ValidationCode `json:"code"`
}
