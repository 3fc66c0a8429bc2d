// Package prompt implements the prompt node executor: it resolves the node's
// template against the variable store and calls the model provider gateway.
package prompt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/protocol"
	"github.com/flowgrid/flowgrid/pkg/template"
)

// Completer is the slice of the provider gateway the executor needs.
type Completer interface {
	Complete(ctx context.Context, req *protocol.CompletionRequest) (*protocol.CompletionResponse, error)
}

// Executor executes prompt nodes.
type Executor struct {
	gateway Completer
}

// NewExecutor creates a prompt executor backed by the given gateway.
func NewExecutor(gateway Completer) *Executor {
	return &Executor{gateway: gateway}
}

// Type returns the node type this executor handles.
func (e *Executor) Type() models.NodeType {
	return models.NodeTypePrompt
}

// Execute resolves the template in strict mode, issues the completion request
// and maps the response to the node's output variables. The completion text is
// always committed under "<nodeKey>.output"; if the node declares an output
// variable, the same text is committed under that name as well.
func (e *Executor) Execute(ctx context.Context, node *models.Node, vars map[string]any) (*protocol.NodeResult, error) {
	templateText, ok := node.ConfigString("template")
	if !ok {
		return nil, models.NewExecutionError(models.ErrKindValidation, "prompt node requires a 'template' config entry")
	}

	model, ok := node.ConfigString("model")
	if !ok {
		return nil, models.NewExecutionError(models.ErrKindValidation, "prompt node requires a 'model' config entry")
	}

	resolved, missing := template.Resolve(templateText, vars, template.ModeStrict)
	if len(missing) > 0 {
		return nil, models.NewExecutionError(
			models.ErrKindMissingVariable,
			fmt.Sprintf("unresolved variables in prompt template: %s", strings.Join(missing, ", ")),
		)
	}

	parameters, _ := node.Config["parameters"].(map[string]any)

	if seconds, ok := toFloat(node.Config["timeout_seconds"]); ok && seconds > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, time.Duration(seconds*float64(time.Second)))
		defer cancel()
	}

	resp, err := e.gateway.Complete(ctx, &protocol.CompletionRequest{
		Prompt:     resolved,
		Model:      model,
		Parameters: parameters,
	})
	if err != nil {
		return nil, err
	}

	output := map[string]any{
		node.Key + ".output": resp.Text,
	}

	if name, ok := node.ConfigString("output"); ok && name != "" {
		output[name] = resp.Text
	}

	return &protocol.NodeResult{
		Output: output,
		Cost:   resp.Cost,
		Tokens: resp.TotalTokens(),
	}, nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
