// Package output implements the output node executor: it copies a selected
// variable into the flow's final output result. Output nodes are terminal for
// their branch.
package output

import (
	"context"
	"fmt"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/protocol"
)

// DefaultResultKey is used when the node does not name a result key.
const DefaultResultKey = "result"

// Executor executes output nodes.
type Executor struct{}

// NewExecutor creates an output executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// Type returns the node type this executor handles.
func (e *Executor) Type() models.NodeType {
	return models.NodeTypeOutput
}

// Execute selects the configured variable and exposes it as a final output
// entry. The engine merges FinalOutput into the execution's output result.
func (e *Executor) Execute(_ context.Context, node *models.Node, vars map[string]any) (*protocol.NodeResult, error) {
	name, ok := node.ConfigString("variable")
	if !ok || name == "" {
		return nil, models.NewExecutionError(models.ErrKindValidation, "output node requires a 'variable' config entry")
	}

	value, ok := vars[name]
	if !ok {
		return nil, models.NewExecutionError(
			models.ErrKindMissingVariable,
			fmt.Sprintf("output variable %q is not defined", name),
		)
	}

	key, ok := node.ConfigString("key")
	if !ok || key == "" {
		key = DefaultResultKey
	}

	return &protocol.NodeResult{
		FinalOutput: map[string]any{key: value},
	}, nil
}
