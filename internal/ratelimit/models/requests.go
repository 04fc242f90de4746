package models

import (
	"strings"

	dErrors "authguard/pkg/domain-errors"
)

// UnlockRequest is the optional body of an admin unlock.
type UnlockRequest struct {
	Reason string `json:"reason"`
}

func (r *UnlockRequest) Normalize() {
	if r == nil {
		return
	}
	r.Reason = strings.TrimSpace(r.Reason)
}

func (r *UnlockRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.Reason) > 500 {
		return dErrors.New(dErrors.CodeInvalidInput, "reason must be 500 characters or less")
	}
	return nil
}

// ResetRateLimitRequest addresses one counter for an admin reset.
// Follows validation order: Size -> Required -> Syntax.
type ResetRateLimitRequest struct {
	LimitType  string
	Identifier string
}

func (r *ResetRateLimitRequest) Normalize() {
	if r == nil {
		return
	}
	r.LimitType = strings.TrimSpace(strings.ToLower(r.LimitType))
	r.Identifier = strings.TrimSpace(r.Identifier)
}

func (r *ResetRateLimitRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.Identifier) > 255 {
		return dErrors.New(dErrors.CodeInvalidInput, "identifier must be 255 characters or less")
	}
	if r.LimitType == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "limit type is required")
	}
	if _, err := ParseLimitType(r.LimitType); err != nil {
		return err
	}
	if r.Identifier == "" && LimitType(r.LimitType) != LimitTypeGlobal {
		return dErrors.New(dErrors.CodeInvalidInput, "identifier is required")
	}
	return nil
}
