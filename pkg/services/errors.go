// Package services implements the application layer between the HTTP API and
// the persistence and execution packages.
package services

import (
	"errors"
	"fmt"
)

// Business logic errors. These indicate client errors (4xx responses).
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidSortField = errors.New("invalid sort field")
	ErrInvalidSortOrder = errors.New("invalid sort order")
	ErrInvalidStatus    = errors.New("invalid flow status")
	ErrFlowNil          = errors.New("flow cannot be nil")
	ErrFlowNameRequired = errors.New("flow name is required")
	ErrFlowInvalid      = errors.New("flow failed validation")
	ErrTrafficOverflow  = errors.New("variant traffic percentages exceed 100")

	// Business logic conflicts (409 Conflict).
	ErrCannotModifyActive   = errors.New("cannot modify an active flow")
	ErrCannotModifyArchived = errors.New("cannot modify an archived flow")
	ErrCannotDeleteActive   = errors.New("cannot delete an active flow")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrInvalidSortOrder) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrFlowNil) ||
		errors.Is(err, ErrFlowNameRequired) ||
		errors.Is(err, ErrFlowInvalid) ||
		errors.Is(err, ErrTrafficOverflow)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrCannotModifyActive) ||
		errors.Is(err, ErrCannotModifyArchived) ||
		errors.Is(err, ErrCannotDeleteActive)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
