package conditional

import (
	"context"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/protocol"
)

// Factory creates conditional executors.
type Factory struct{}

// NewFactory creates a conditional executor factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Create builds the executor.
func (f *Factory) Create(_ context.Context) (protocol.NodeExecutor, error) {
	return NewExecutor(), nil
}

// Type returns the node type.
func (f *Factory) Type() models.NodeType {
	return models.NodeTypeConditional
}

// Name returns the human-readable node name.
func (f *Factory) Name() string {
	return "Conditional"
}

// Description returns the node description.
func (f *Factory) Description() string {
	return "Evaluates a boolean expression and routes execution to the 'true' or 'false' edge handle."
}

// Schema returns the JSON schema for conditional node configuration.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"condition": map[string]any{
				"type":        "string",
				"description": "Boolean expression over the variable store.",
				"examples": []string{
					"x > 5",
					"status == 'active'",
					"score >= 75 && enabled",
					"review.output != ''",
				},
			},
		},
		"required": []any{"condition"},
	}
}
