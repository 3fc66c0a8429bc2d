// Package events defines event types for flow execution lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic is the message topic all execution lifecycle events are published on.
const Topic = "flowgrid.executions"

// Message metadata keys. FlowIDMetadataKey doubles as the Kafka partition key
// so events of one flow stay ordered.
const (
	EventTypeMetadataKey = "event_type"
	FlowIDMetadataKey    = "flow_id"
)

const (
	// Flow execution lifecycle events.
	FlowExecutionStartedEvent   EventType = "flow.execution.started"
	FlowExecutionCompletedEvent EventType = "flow.execution.completed"
	FlowExecutionFailedEvent    EventType = "flow.execution.failed"
	FlowExecutionCancelledEvent EventType = "flow.execution.cancelled"

	// Node execution events.
	NodeExecutionStartedEvent  EventType = "node.execution.started"
	NodeExecutionFinishedEvent EventType = "node.execution.finished"
	NodeExecutionFailedEvent   EventType = "node.execution.failed"
	NodeExecutionSkippedEvent  EventType = "node.execution.skipped"
)

// Event is implemented by every lifecycle event.
type Event interface {
	GetType() EventType
	GetFlowID() string
}

type BaseEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	FlowID      string         `json:"flow_id"`
	ExecutionID string         `json:"execution_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (e BaseEvent) GetFlowID() string {
	return e.FlowID
}

func NewBaseEvent(eventType EventType, flowID, executionID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		FlowID:      flowID,
		ExecutionID: executionID,
		Metadata:    make(map[string]any),
	}
}

// Flow execution lifecycle events

type FlowExecutionStarted struct {
	BaseEvent

	FlowName       string         `json:"flow_name"`
	FlowVersion    int            `json:"flow_version"`
	VariantID      string         `json:"variant_id,omitempty"`
	InputVariables map[string]any `json:"input_variables,omitempty"`
	Initiator      string         `json:"initiator,omitempty"`
}

func (e FlowExecutionStarted) GetType() EventType {
	return FlowExecutionStartedEvent
}

type FlowExecutionCompleted struct {
	BaseEvent

	DurationMs    int64          `json:"duration_ms"`
	NodesExecuted int            `json:"nodes_executed"`
	TotalCost     float64        `json:"total_cost"`
	TotalTokens   int            `json:"total_tokens"`
	Result        map[string]any `json:"result,omitempty"`
}

func (e FlowExecutionCompleted) GetType() EventType {
	return FlowExecutionCompletedEvent
}

type FlowExecutionFailed struct {
	BaseEvent

	DurationMs    int64  `json:"duration_ms"`
	NodeKey       string `json:"node_key,omitempty"` // Node whose failure ended the run
	Error         string `json:"error"`
	ErrorKind     string `json:"error_kind,omitempty"`
	NodesExecuted int    `json:"nodes_executed"`
}

func (e FlowExecutionFailed) GetType() EventType {
	return FlowExecutionFailedEvent
}

type FlowExecutionCancelled struct {
	BaseEvent

	DurationMs int64  `json:"duration_ms"`
	Reason     string `json:"reason,omitempty"`
}

func (e FlowExecutionCancelled) GetType() EventType {
	return FlowExecutionCancelledEvent
}

// Node execution events

type NodeExecutionStarted struct {
	BaseEvent

	NodeKey    string `json:"node_key"`
	NodeType   string `json:"node_type"`
	RetryCount int    `json:"retry_count"`
}

func (e NodeExecutionStarted) GetType() EventType {
	return NodeExecutionStartedEvent
}

type NodeExecutionFinished struct {
	BaseEvent

	NodeKey        string         `json:"node_key"`
	NodeType       string         `json:"node_type"`
	DurationMs     int64          `json:"duration_ms"`
	Output         map[string]any `json:"output,omitempty"`
	SelectedHandle string         `json:"selected_handle,omitempty"`
	Cost           float64        `json:"cost"`
	TokensConsumed int            `json:"tokens_consumed"`
}

func (e NodeExecutionFinished) GetType() EventType {
	return NodeExecutionFinishedEvent
}

type NodeExecutionFailed struct {
	BaseEvent

	NodeKey    string `json:"node_key"`
	NodeType   string `json:"node_type"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error"`
	ErrorKind  string `json:"error_kind,omitempty"`
	RetryCount int    `json:"retry_count"`
}

func (e NodeExecutionFailed) GetType() EventType {
	return NodeExecutionFailedEvent
}

type NodeExecutionSkipped struct {
	BaseEvent

	NodeKey  string `json:"node_key"`
	NodeType string `json:"node_type"`
	Reason   string `json:"reason,omitempty"`
}

func (e NodeExecutionSkipped) GetType() EventType {
	return NodeExecutionSkippedEvent
}
