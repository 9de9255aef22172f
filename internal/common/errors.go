// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common application errors.
var (
	// Input errors.
	ErrNoInput = errors.New("no input provided")

	// Provider errors.
	ErrEmptyResponse     = errors.New("provider returned empty response")
	ErrMalformedResponse = errors.New("provider returned malformed response")
	ErrSchemaViolation   = errors.New("provider response violates expected schema")
	ErrRateLimit         = errors.New("rate limit exceeded")
	ErrUnreachable       = errors.New("provider unreachable")

	// Database errors.
	ErrNotFound = errors.New("not found")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
)

// RateLimitError reports that a provider rejected a call due to rate limiting.
// It carries the provider's retry-after hint when one was supplied.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
	}
	return "rate limit exceeded"
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimit
}

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// UserMessage extracts the human-actionable message from an error chain,
// falling back to the raw error text.
func UserMessage(err error) string {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr.UserMessage
	}
	return err.Error()
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrUnreachable) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
