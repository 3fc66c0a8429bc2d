package prompt

import (
	"context"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/protocol"
)

// Factory creates prompt executors bound to a provider gateway.
type Factory struct {
	gateway Completer
}

// NewFactory creates a prompt executor factory.
func NewFactory(gateway Completer) *Factory {
	return &Factory{gateway: gateway}
}

// Create builds the executor.
func (f *Factory) Create(_ context.Context) (protocol.NodeExecutor, error) {
	return NewExecutor(f.gateway), nil
}

// Type returns the node type.
func (f *Factory) Type() models.NodeType {
	return models.NodeTypePrompt
}

// Name returns the human-readable node name.
func (f *Factory) Name() string {
	return "Prompt"
}

// Description returns the node description.
func (f *Factory) Description() string {
	return "Resolves a prompt template against the variable store and calls an AI model through the provider gateway."
}

// Schema returns the JSON schema for prompt node configuration.
func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"template": map[string]any{
				"type":        "string",
				"description": "Prompt template. {{variable}} placeholders are resolved strictly against the variable store.",
				"examples":    []string{"Hello {{name}}", "Summarize: {{fetch.output}}"},
			},
			"model": map[string]any{
				"type":        "string",
				"description": "Model identifier used to route the request to a registered provider.",
				"examples":    []string{"gpt-4o", "claude-3-sonnet"},
			},
			"parameters": map[string]any{
				"type":        "object",
				"description": "Provider-specific parameters such as temperature or max_tokens.",
			},
			"output": map[string]any{
				"type":        "string",
				"description": "Optional variable name to expose the completion under, in addition to '<nodeKey>.output'.",
			},
			"timeout_seconds": map[string]any{
				"type":        "number",
				"description": "Per-call timeout. A timeout produces a retryable error.",
			},
		},
		"required": []any{"template", "model"},
	}
}
