// Package conditional implements the conditional node executor: it evaluates a
// boolean expression and selects an outgoing edge handle. This is the control
// flow node that enables different execution paths.
package conditional

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowgrid/flowgrid/pkg/expr"
	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/protocol"
)

// Outgoing edge handles a conditional node can select.
const (
	HandleTrue  = "true"
	HandleFalse = "false"
)

// Executor executes conditional nodes.
type Executor struct{}

// NewExecutor creates a conditional executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// Type returns the node type this executor handles.
func (e *Executor) Type() models.NodeType {
	return models.NodeTypeConditional
}

// Execute evaluates the condition. The node produces no data output; the
// selected handle tells the engine which downstream edges are active.
func (e *Executor) Execute(_ context.Context, node *models.Node, vars map[string]any) (*protocol.NodeResult, error) {
	condition, ok := node.ConfigString("condition")
	if !ok || condition == "" {
		return nil, models.NewExecutionError(models.ErrKindValidation, "conditional node requires a 'condition' config entry")
	}

	result, err := expr.EvalBool(condition, vars)
	if err != nil {
		var undefErr *expr.UndefinedVariableError
		if errors.As(err, &undefErr) {
			return nil, models.WrapExecutionError(
				models.ErrKindMissingVariable,
				fmt.Sprintf("condition %q references undefined variable %q", condition, undefErr.Name),
				err,
			)
		}

		return nil, models.WrapExecutionError(
			models.ErrKindValidation,
			fmt.Sprintf("failed to evaluate condition %q", condition),
			err,
		)
	}

	handle := HandleFalse
	if result {
		handle = HandleTrue
	}

	return &protocol.NodeResult{SelectedHandle: handle}, nil
}
