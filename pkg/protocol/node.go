// Package protocol defines the interfaces and contracts between the flow
// engine, node executors and model providers.
package protocol

import (
	"context"

	"github.com/flowgrid/flowgrid/pkg/models"
)

// NodeResult is what a node executor returns. Executors are side-effect free
// with respect to the variable store: they return outputs and only the engine
// commits them after the node reaches a terminal status.
type NodeResult struct {
	// Output holds the variables this node produced. The engine commits the
	// whole map atomically.
	Output map[string]any

	// SelectedHandle is set by conditional nodes to name the outgoing edge
	// handle that matched ("true"/"false"). Empty for other node types.
	SelectedHandle string

	// FinalOutput marks entries destined for the flow's output result
	// rather than the variable store. Only output nodes set it.
	FinalOutput map[string]any

	Cost   float64
	Tokens int
}

// NodeExecutor executes one node type against a committed snapshot of the
// variable store. Implementations must not mutate vars.
type NodeExecutor interface {
	// Execute runs the node. A returned error should be a
	// *models.ExecutionError so the engine can decide retry eligibility.
	Execute(ctx context.Context, node *models.Node, vars map[string]any) (*NodeResult, error)

	// Type returns the node type this executor handles.
	Type() models.NodeType
}

// NodeExecutorFactory creates executor instances and provides metadata about
// the node type, including the JSON schema its config must satisfy.
type NodeExecutorFactory interface {
	// Create builds the executor for this node type.
	Create(ctx context.Context) (NodeExecutor, error)

	// Type returns the node type this factory produces executors for.
	Type() models.NodeType

	// Name returns the human-readable name for this node type.
	Name() string

	// Description returns a description of what this node does.
	Description() string

	// Schema returns the JSON schema for configuring this node type.
	Schema() map[string]any
}
