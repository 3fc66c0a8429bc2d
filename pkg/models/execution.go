package models

import "time"

// ExecutionStatus represents the lifecycle state of a flow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// NodeExecutionStatus represents the lifecycle state of a single node execution.
type NodeExecutionStatus string

const (
	NodeStatusPending   NodeExecutionStatus = "pending"
	NodeStatusRunning   NodeExecutionStatus = "running"
	NodeStatusSucceeded NodeExecutionStatus = "succeeded"
	NodeStatusFailed    NodeExecutionStatus = "failed"
	NodeStatusSkipped   NodeExecutionStatus = "skipped"
)

// Terminal reports whether the status is final.
func (s NodeExecutionStatus) Terminal() bool {
	return s == NodeStatusSucceeded || s == NodeStatusFailed || s == NodeStatusSkipped
}

// FlowExecution records one invocation of a flow. It is created when a run
// starts, mutated by the engine as nodes complete, and immutable once terminal.
type FlowExecution struct {
	ID             string          `json:"id"`
	FlowID         string          `json:"flow_id"`
	FlowVersion    int             `json:"flow_version"`
	VariantID      string          `json:"variant_id,omitempty"` // Set when a variant was selected
	InputVariables map[string]any  `json:"input_variables,omitempty"`
	OutputResult   map[string]any  `json:"output_result,omitempty"`
	Status         ExecutionStatus `json:"status"`
	StartedAt      time.Time       `json:"started_at"`
	EndedAt        *time.Time      `json:"ended_at,omitempty"`
	TotalCost      float64         `json:"total_cost"`
	TotalTokens    int             `json:"total_tokens"`
	ErrorMessage   string          `json:"error_message,omitempty"`
}

// NodeExecution records one node actually visited during a flow execution.
type NodeExecution struct {
	ID              string              `json:"id"`
	FlowExecutionID string              `json:"flow_execution_id"`
	NodeID          string              `json:"node_id"`
	NodeKey         string              `json:"node_key"`
	NodeType        NodeType            `json:"node_type"`
	Status          NodeExecutionStatus `json:"status"`
	Input           map[string]any      `json:"input,omitempty"`
	Output          map[string]any      `json:"output,omitempty"`
	StartedAt       *time.Time          `json:"started_at,omitempty"`
	EndedAt         *time.Time          `json:"ended_at,omitempty"`
	ExecutionTimeMs int64               `json:"execution_time_ms"`
	Cost            float64             `json:"cost"`
	TokensConsumed  int                 `json:"tokens_consumed"`
	ErrorMessage    string              `json:"error_message,omitempty"`
	RetryCount      int                 `json:"retry_count"`
}
