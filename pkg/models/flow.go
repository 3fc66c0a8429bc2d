// Package models defines the core domain models for node-based AI flow execution.
package models

import "time"

// FlowStatus represents the lifecycle state of a flow.
type FlowStatus string

const (
	FlowStatusDraft    FlowStatus = "draft"    // Editable, not executable
	FlowStatusActive   FlowStatus = "active"   // Current active, executable
	FlowStatusArchived FlowStatus = "archived" // Historical, not executable
)

// Default edge handles. Edges that omit a handle connect these ports.
const (
	DefaultSourceHandle = "output"
	DefaultTargetHandle = "input"
)

// Flow represents a versioned directed graph of typed nodes.
// A flow version is immutable once it has been executed.
type Flow struct {
	ID          string         `json:"id"`
	Version     int            `json:"version"`
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description"`
	Status      FlowStatus     `json:"status"      validate:"required"`
	Nodes       []*Node        `json:"nodes"`
	Edges       []*Edge        `json:"edges"`
	Variables   map[string]any `json:"variables,omitempty"` // Flow-level default variables
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Edge represents a directed, optionally conditional connection between two nodes.
type Edge struct {
	ID           string `json:"id"`
	SourceNodeID string `json:"source_node_id" validate:"required"`
	TargetNodeID string `json:"target_node_id" validate:"required"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
	Condition    string `json:"condition,omitempty"` // Boolean expression over the variable store
	IsDefault    bool   `json:"is_default,omitempty"`
}

// Source returns the edge's source handle, falling back to the default port name.
func (e *Edge) Source() string {
	if e.SourceHandle == "" {
		return DefaultSourceHandle
	}

	return e.SourceHandle
}

// Target returns the edge's target handle, falling back to the default port name.
func (e *Edge) Target() string {
	if e.TargetHandle == "" {
		return DefaultTargetHandle
	}

	return e.TargetHandle
}

// NodeByID returns the node with the given ID, or nil.
func (f *Flow) NodeByID(id string) *Node {
	for _, node := range f.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// NodeByKey returns the node with the given key, or nil.
func (f *Flow) NodeByKey(key string) *Node {
	for _, node := range f.Nodes {
		if node.Key == key {
			return node
		}
	}

	return nil
}

// StartNodes returns all nodes without incoming edges, in declaration order.
func (f *Flow) StartNodes() []*Node {
	hasIncoming := make(map[string]bool, len(f.Nodes))
	for _, edge := range f.Edges {
		hasIncoming[edge.TargetNodeID] = true
	}

	starts := make([]*Node, 0, len(f.Nodes))

	for _, node := range f.Nodes {
		if !hasIncoming[node.ID] {
			starts = append(starts, node)
		}
	}

	return starts
}

// OutgoingEdges returns the edges leaving the given node, in declaration order.
func (f *Flow) OutgoingEdges(nodeID string) []*Edge {
	edges := make([]*Edge, 0)

	for _, edge := range f.Edges {
		if edge.SourceNodeID == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// IncomingEdges returns the edges entering the given node, in declaration order.
func (f *Flow) IncomingEdges(nodeID string) []*Edge {
	edges := make([]*Edge, 0)

	for _, edge := range f.Edges {
		if edge.TargetNodeID == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}
