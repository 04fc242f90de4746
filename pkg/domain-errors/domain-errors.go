// Package domainerrors gives failures a stable Code that survives wrapping.
// Guards branch on codes to pick their failure policy; only the HTTP layer
// turns codes into statuses.
package domainerrors

import (
	"errors"
	"fmt"
)

type Code string

// Request and general codes.
const (
	CodeNotFound           Code = "not_found"
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeInternal           Code = "internal_error"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeTimeout            Code = "timeout"
	CodeInvariantViolation Code = "invariant_violation"
)

// Counter store failure classes.
const (
	// CodeStoreUnavailable covers unreachable stores, timeouts and an open circuit.
	CodeStoreUnavailable Code = "store_unavailable"
	// CodeDataCorrupt marks a stored record that cannot be decoded.
	CodeDataCorrupt Code = "data_corrupt"
)

// Policy denials, used when a denial must travel as an error.
const (
	CodeRateLimited   Code = "rate_limited"
	CodeAccountLocked Code = "account_locked"
)

// Error is a coded failure. Message is safe to show to callers; Err keeps
// the underlying cause for logs and errors.Is.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is(err, New(code, ""))
// tests a chain for a code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches msg to err. A code already present in the chain wins over
// code, so a store_unavailable cause stays store_unavailable however many
// layers wrap it. Wrapping nil returns nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	if existing, ok := CodeOf(err); ok {
		code = existing
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the outermost code in err's chain.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

func HasCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsStoreUnavailable reports whether err means the counter store could not serve the call.
func IsStoreUnavailable(err error) bool {
	return HasCode(err, CodeStoreUnavailable)
}
