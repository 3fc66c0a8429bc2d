package services

import (
	"context"
	"fmt"
	"time"

	"github.com/flowgrid/flowgrid/pkg/flow"
	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/persistence"
)

// ExecutionService runs flows and serves execution history.
type ExecutionService struct {
	runner     *flow.Runner
	executions persistence.ExecutionRepository
}

// NewExecutionService creates an execution service.
func NewExecutionService(runner *flow.Runner, executions persistence.ExecutionRepository) *ExecutionService {
	return &ExecutionService{
		runner:     runner,
		executions: executions,
	}
}

// ExecuteRequest carries the caller-facing knobs of one execution.
type ExecuteRequest struct {
	FlowID             string `validate:"required"`
	InputVariables     map[string]any
	UserID             string
	DryRun             bool
	FailFast           bool
	RetryAttempts      int `validate:"min=0,max=10"`
	MaxConcurrentNodes int `validate:"min=0,max=64"`
	Timeout            time.Duration
}

// Execute runs a flow synchronously and returns its execution record. Node
// failures surface in the record's status, not as an error.
func (s *ExecutionService) Execute(ctx context.Context, req ExecuteRequest) (*models.FlowExecution, error) {
	if req.FlowID == "" {
		return nil, NewValidationError("Execute", "FLOW_ID_REQUIRED", "flow ID is required", ErrInvalidRequest)
	}

	return s.runner.ExecuteFlow(ctx, req.FlowID, req.InputVariables, flow.Options{
		UserID:             req.UserID,
		DryRun:             req.DryRun,
		FailFast:           req.FailFast,
		RetryAttempts:      req.RetryAttempts,
		MaxConcurrentNodes: req.MaxConcurrentNodes,
		Timeout:            req.Timeout,
	})
}

// ExecutionTrace bundles an execution with its per-node records.
type ExecutionTrace struct {
	Execution *models.FlowExecution   `json:"execution"`
	Nodes     []*models.NodeExecution `json:"nodes"`
}

// Trace returns an execution and its node records, in start order.
func (s *ExecutionService) Trace(ctx context.Context, executionID string) (*ExecutionTrace, error) {
	execution, err := s.executions.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	nodes, err := s.executions.NodeExecutions(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load node executions: %w", err)
	}

	return &ExecutionTrace{Execution: execution, Nodes: nodes}, nil
}

// History returns the most recent executions of a flow, newest first.
func (s *ExecutionService) History(ctx context.Context, flowID string, limit int) ([]*models.FlowExecution, error) {
	if limit <= 0 {
		limit = 20
	}

	if limit > 100 {
		limit = 100
	}

	return s.executions.ListExecutions(ctx, flowID, limit)
}

// ValidateFlow checks a stored flow without executing it.
func (s *ExecutionService) ValidateFlow(ctx context.Context, flowID string) (*flow.ValidationResult, error) {
	return s.runner.ValidateFlow(ctx, flowID)
}
