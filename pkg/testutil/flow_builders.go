package testutil

import (
	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/google/uuid"
)

// CreateTestFlow creates an active flow with default values that can be overridden.
func CreateTestFlow(overrides ...func(*models.Flow)) *models.Flow {
	flow := &models.Flow{
		ID:      uuid.New().String(),
		Version: 1,
		Name:    "Test Flow",
		Status:  models.FlowStatusActive,
		Nodes:   []*models.Node{},
		Edges:   []*models.Edge{},
	}

	for _, override := range overrides {
		override(flow)
	}

	return flow
}

// WithNodes sets the flow's nodes.
func WithNodes(nodes ...*models.Node) func(*models.Flow) {
	return func(f *models.Flow) {
		f.Nodes = nodes
	}
}

// WithEdges sets the flow's edges.
func WithEdges(edges ...*models.Edge) func(*models.Flow) {
	return func(f *models.Flow) {
		f.Edges = edges
	}
}

// WithFlowVariables sets the flow's default variables.
func WithFlowVariables(vars map[string]any) func(*models.Flow) {
	return func(f *models.Flow) {
		f.Variables = vars
	}
}

// Node creates a node with the given key, type and config. The node ID is the
// key, which keeps test edges readable.
func Node(key string, nodeType models.NodeType, config map[string]any) *models.Node {
	return &models.Node{
		ID:     key,
		Key:    key,
		Type:   nodeType,
		Config: config,
	}
}

// EdgeBetween creates an unconditional edge between two node IDs.
func EdgeBetween(source, target string) *models.Edge {
	return &models.Edge{
		ID:           source + "->" + target,
		SourceNodeID: source,
		TargetNodeID: target,
	}
}

// EdgeFromHandle creates an edge leaving a named source handle.
func EdgeFromHandle(source, handle, target string) *models.Edge {
	edge := EdgeBetween(source, target)
	edge.SourceHandle = handle

	return edge
}
