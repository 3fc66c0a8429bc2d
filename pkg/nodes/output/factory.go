package output

import (
	"context"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/protocol"
)

// Factory creates output executors.
type Factory struct{}

// NewFactory creates an output executor factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Create builds the executor.
func (f *Factory) Create(_ context.Context) (protocol.NodeExecutor, error) {
	return NewExecutor(), nil
}

// Type returns the node type.
func (f *Factory) Type() models.NodeType {
	return models.NodeTypeOutput
}

// Name returns the human-readable node name.
func (f *Factory) Name() string {
	return "Output"
}

// Description returns the node description.
func (f *Factory) Description() string {
	return "Copies a selected variable into the flow's final output result."
}

// Schema returns the JSON schema for output node configuration.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"variable": map[string]any{
				"type":        "string",
				"description": "Name of the variable to expose as a flow result.",
			},
			"key": map[string]any{
				"type":        "string",
				"description": "Key in the flow's output result. Defaults to 'result'.",
			},
		},
		"required": []any{"variable"},
	}
}
