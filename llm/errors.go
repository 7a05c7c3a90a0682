package llm

import (
	"context"
	"errors"
)

// Error types for classifying LLM errors.

// TransientError represents a temporary error that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// RateLimitError is a transient error caused by provider rate limiting.
// It gets its own type so chunk failures can surface RATE_LIMIT instead
// of a generic API error.
type RateLimitError struct {
	err error
}

func (e *RateLimitError) Error() string {
	return e.err.Error()
}

func (e *RateLimitError) Unwrap() error {
	return e.err
}

// NewRateLimitError wraps an error as a rate limit (retryable).
func NewRateLimitError(err error) error {
	return &RateLimitError{err: err}
}

// FatalError represents a permanent error that should not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var rateLimit *RateLimitError
	return errors.As(err, &rateLimit)
}

// IsRateLimit returns true if the error was caused by rate limiting.
func IsRateLimit(err error) bool {
	var rateLimit *RateLimitError
	return errors.As(err, &rateLimit)
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// ErrorCode maps an LLM error to the symbolic chunk error code recorded
// on failed chunks.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	case IsRateLimit(err):
		return "RATE_LIMIT"
	case IsTransient(err), IsFatal(err):
		return "API_ERROR"
	default:
		return "PROCESSING_ERROR"
	}
}
