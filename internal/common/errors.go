// Package common provides shared utilities and types used across the engine.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ValidationError indicates malformed input to a mutating operation. It is
// always surfaced synchronously to the caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for one field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// BusinessRuleViolationError indicates an operation that is well-formed but
// forbidden by a settlement invariant, e.g. commission percentages not
// summing to 100 or a payout against an unverified account.
type BusinessRuleViolationError struct {
	Rule   string
	Detail string
}

func (e *BusinessRuleViolationError) Error() string {
	return fmt.Sprintf("business rule violation: %s: %s", e.Rule, e.Detail)
}

// NewBusinessRuleViolation creates a BusinessRuleViolationError.
func NewBusinessRuleViolation(rule, detail string) error {
	return &BusinessRuleViolationError{Rule: rule, Detail: detail}
}

// IsBusinessRuleViolation reports whether err is (or wraps) a
// BusinessRuleViolationError.
func IsBusinessRuleViolation(err error) bool {
	var bre *BusinessRuleViolationError
	return errors.As(err, &bre)
}

// ExternalServiceError wraps a failure from a collaborator (payout rail,
// transaction store). These are contained at the schedule boundary rather
// than propagated to sweep results.
type ExternalServiceError struct {
	Err     error
	Service string
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// NewExternalServiceError wraps err as a failure of the named service.
func NewExternalServiceError(service string, err error) error {
	return &ExternalServiceError{Service: service, Err: err}
}

// RetryableError wraps an error with retry-specific metadata.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError marks err as safe to retry.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err, Retryable: true}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	// External service failures are transient until proven otherwise.
	var extErr *ExternalServiceError
	return errors.As(err, &extErr)
}
