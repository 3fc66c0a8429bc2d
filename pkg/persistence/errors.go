package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all backends use.
var (
	// ErrFlowNotFound indicates a flow was not found by the given identifier.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrVariantNotFound indicates a flow variant was not found.
	ErrVariantNotFound = errors.New("flow variant not found")

	// ErrExecutionNotFound indicates a flow execution was not found.
	ErrExecutionNotFound = errors.New("flow execution not found")

	// ErrNodeExecutionNotFound indicates a node execution record was not found.
	ErrNodeExecutionNotFound = errors.New("node execution not found")
)

// FlowError wraps flow-related errors with operation context.
type FlowError struct {
	Op     string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	FlowID string
	Err    error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s operation failed for flow %s: %v", e.Op, e.FlowID, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

func (e *FlowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewFlowError creates a new flow error with context.
func NewFlowError(op, flowID string, err error) *FlowError {
	return &FlowError{Op: op, FlowID: flowID, Err: err}
}

// ExecutionError wraps execution-record errors with operation context.
type ExecutionError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution-record error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// IsFlowNotFound checks if an error indicates a flow was not found.
func IsFlowNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound)
}

// IsVariantNotFound checks if an error indicates a variant was not found.
func IsVariantNotFound(err error) bool {
	return errors.Is(err, ErrVariantNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}
