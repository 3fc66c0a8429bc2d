package variable

import (
	"context"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/protocol"
)

// Factory creates variable executors.
type Factory struct{}

// NewFactory creates a variable executor factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Create builds the executor.
func (f *Factory) Create(_ context.Context) (protocol.NodeExecutor, error) {
	return NewExecutor(), nil
}

// Type returns the node type.
func (f *Factory) Type() models.NodeType {
	return models.NodeTypeVariable
}

// Name returns the human-readable node name.
func (f *Factory) Name() string {
	return "Variable"
}

// Description returns the node description.
func (f *Factory) Description() string {
	return "Evaluates a literal or a simple expression over existing variables and writes exactly one output variable."
}

// Schema returns the JSON schema for variable node configuration.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Name of the variable to write.",
			},
			"value": map[string]any{
				"description": "Literal value of any JSON type. Ignored when 'expression' is set.",
			},
			"expression": map[string]any{
				"type":        "string",
				"description": "Arithmetic/string expression over existing variables.",
				"examples":    []string{"price * 1.2", "'Hello ' + name", "count + 1"},
			},
		},
		"required": []any{"name"},
	}
}
