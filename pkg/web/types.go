// Package web provides the HTTP handlers and REST API types for flow
// management and execution.
package web

import "github.com/flowgrid/flowgrid/pkg/models"

// CreateFlowRequest represents the request body for creating a new flow.
type CreateFlowRequest struct {
	Name        string         `json:"name"               validate:"required,min=3"`
	Description string         `json:"description"`
	Nodes       []*models.Node `json:"nodes"`
	Edges       []*models.Edge `json:"edges"`
	Variables   map[string]any `json:"variables,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// UpdateFlowRequest represents the request body for updating a draft flow.
// All fields are optional to support partial updates.
type UpdateFlowRequest struct {
	Name        *string        `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string        `json:"description,omitempty"`
	Nodes       []*models.Node `json:"nodes,omitempty"`
	Edges       []*models.Edge `json:"edges,omitempty"`
	Variables   map[string]any `json:"variables,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ExecuteFlowRequest represents the request body for starting a flow execution.
type ExecuteFlowRequest struct {
	InputVariables     map[string]any `json:"input_variables,omitempty"`
	UserID             string         `json:"user_id,omitempty"`
	DryRun             bool           `json:"dry_run,omitempty"`
	FailFast           bool           `json:"fail_fast,omitempty"`
	RetryAttempts      int            `json:"retry_attempts,omitempty"       validate:"min=0,max=10"`
	MaxConcurrentNodes int            `json:"max_concurrent_nodes,omitempty" validate:"min=0,max=64"`
	TimeoutSeconds     int            `json:"timeout_seconds,omitempty"      validate:"min=0,max=3600"`
}

// SaveVariantRequest represents the request body for registering an
// experiment variant on a base flow.
type SaveVariantRequest struct {
	ID                string  `json:"id,omitempty"`
	FlowID            string  `json:"flow_id"            validate:"required"`
	Name              string  `json:"name"`
	TrafficPercentage float64 `json:"traffic_percentage" validate:"gte=0,lte=100"`
	Active            bool    `json:"active"`
}
