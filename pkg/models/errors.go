package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies execution errors so the engine can decide retry
// eligibility and callers can diagnose failures without re-running.
type ErrorKind string

const (
	ErrKindValidation             ErrorKind = "validation_error"
	ErrKindMissingVariable        ErrorKind = "missing_variable"
	ErrKindUnknownProvider        ErrorKind = "unknown_provider"
	ErrKindUnsupportedTransform   ErrorKind = "unsupported_transform"
	ErrKindProviderTimeout        ErrorKind = "provider_timeout"
	ErrKindProviderRateLimited    ErrorKind = "provider_rate_limited"
	ErrKindProviderTransient      ErrorKind = "provider_transient"
	ErrKindProviderAuth           ErrorKind = "provider_auth"
	ErrKindProviderInvalidRequest ErrorKind = "provider_invalid_request"
	ErrKindCancelled              ErrorKind = "cancelled"
	ErrKindInternal               ErrorKind = "internal"
)

// Retryable reports whether an error of this kind may succeed on re-execution.
// Rate-limit, timeout and transient-network errors are retryable; configuration,
// auth and invalid-request errors are not.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindProviderTimeout, ErrKindProviderRateLimited, ErrKindProviderTransient:
		return true
	default:
		return false
	}
}

// ExecutionError carries a classified error through node executors, the
// provider gateway and the engine.
type ExecutionError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the wrapped error kind is retryable.
func (e *ExecutionError) Retryable() bool {
	return e.Kind.Retryable()
}

// NewExecutionError builds a classified execution error.
func NewExecutionError(kind ErrorKind, message string) *ExecutionError {
	return &ExecutionError{Kind: kind, Message: message}
}

// WrapExecutionError builds a classified execution error around an underlying cause.
func WrapExecutionError(kind ErrorKind, message string, err error) *ExecutionError {
	return &ExecutionError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the error kind from err, defaulting to ErrKindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}

	return ErrKindInternal
}

// IsRetryable reports whether err carries a retryable error kind.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}
