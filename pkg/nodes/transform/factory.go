package transform

import (
	"context"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/protocol"
)

// Factory creates transform executors.
type Factory struct{}

// NewFactory creates a transform executor factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Create builds the executor.
func (f *Factory) Create(_ context.Context) (protocol.NodeExecutor, error) {
	return NewExecutor(), nil
}

// Type returns the node type.
func (f *Factory) Type() models.NodeType {
	return models.NodeTypeTransform
}

// Name returns the human-readable node name.
func (f *Factory) Name() string {
	return "Transform"
}

// Description returns the node description.
func (f *Factory) Description() string {
	return "Applies a named built-in operation (json_extract, format, upper, lower, trim, split, join, length) to input variables, producing one output variable."
}

// Schema returns the JSON schema for transform node configuration.
func (f *Factory) Schema() map[string]any {
	ops := make([]any, len(Operations))
	for i, op := range Operations {
		ops[i] = op
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type":        "string",
				"description": "Built-in operation to apply.",
				"enum":        ops,
			},
			"input": map[string]any{
				"type":        "string",
				"description": "Name of the input variable. Not used by 'format'.",
			},
			"output": map[string]any{
				"type":        "string",
				"description": "Name of the output variable. Defaults to '<nodeKey>.output'.",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Dot path for json_extract, e.g. 'choices.message'.",
			},
			"template": map[string]any{
				"type":        "string",
				"description": "Template for 'format', resolved strictly against the variable store.",
			},
			"separator": map[string]any{
				"type":        "string",
				"description": "Separator for split/join. Defaults to ','.",
			},
		},
		"required": []any{"operation"},
	}
}
