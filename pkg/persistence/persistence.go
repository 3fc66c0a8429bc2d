// Package persistence defines the repository ports for flows, variants, and
// execution records, plus the adapter contract every backend implements.
package persistence

import (
	"context"

	"github.com/flowgrid/flowgrid/pkg/models"
)

// ListFlowsOptions controls filtering, sorting, and pagination for flow listings.
type ListFlowsOptions struct {
	Status    *models.FlowStatus
	Limit     int
	Offset    int
	SortBy    string // created_at, updated_at, name
	SortOrder string // asc, desc
}

// FlowListResult is a page of flows with pagination metadata.
type FlowListResult struct {
	Flows       []*models.Flow
	TotalCount  int64
	HasNextPage bool
}

// FlowRepository stores flow definitions and their A/B variants.
type FlowRepository interface {
	List(ctx context.Context, opts ListFlowsOptions) (*FlowListResult, error)

	// GetByID returns the flow, or an error matching ErrFlowNotFound.
	GetByID(ctx context.Context, flowID string) (*models.Flow, error)

	Save(ctx context.Context, flow *models.Flow) error
	Delete(ctx context.Context, flowID string) error

	// Variants returns the variants registered for a base flow, in
	// registration order.
	Variants(ctx context.Context, baseFlowID string) ([]*models.FlowVariant, error)
	SaveVariant(ctx context.Context, variant *models.FlowVariant) error
	DeleteVariant(ctx context.Context, baseFlowID, variantID string) error
}

// ExecutionRepository stores flow execution records and their per-node trace.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, execution *models.FlowExecution) error
	UpdateExecution(ctx context.Context, execution *models.FlowExecution) error

	// GetExecution returns the execution, or an error matching ErrExecutionNotFound.
	GetExecution(ctx context.Context, executionID string) (*models.FlowExecution, error)

	CreateNodeExecution(ctx context.Context, record *models.NodeExecution) error
	UpdateNodeExecution(ctx context.Context, record *models.NodeExecution) error

	// NodeExecutions returns the per-node records of an execution in start order.
	NodeExecutions(ctx context.Context, executionID string) ([]*models.NodeExecution, error)

	// ListExecutions returns the most recent executions of a flow, newest first.
	ListExecutions(ctx context.Context, flowID string, limit int) ([]*models.FlowExecution, error)
}

// Persistence is the storage contract backends implement. Supported backends
// are file, postgresql, and redis.
type Persistence interface {
	FlowRepository() FlowRepository
	ExecutionRepository() ExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
