// Package variable implements the variable node executor: it evaluates a
// literal or a simple expression and writes exactly one output variable.
package variable

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowgrid/flowgrid/pkg/expr"
	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/protocol"
)

// Executor executes variable nodes. It makes no external calls.
type Executor struct{}

// NewExecutor creates a variable executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// Type returns the node type this executor handles.
func (e *Executor) Type() models.NodeType {
	return models.NodeTypeVariable
}

// Execute evaluates the node's literal or expression into one output variable.
func (e *Executor) Execute(_ context.Context, node *models.Node, vars map[string]any) (*protocol.NodeResult, error) {
	name, ok := node.ConfigString("name")
	if !ok || name == "" {
		return nil, models.NewExecutionError(models.ErrKindValidation, "variable node requires a 'name' config entry")
	}

	var value any

	switch {
	case hasKey(node.Config, "expression"):
		expression, ok := node.ConfigString("expression")
		if !ok {
			return nil, models.NewExecutionError(models.ErrKindValidation, "variable node 'expression' must be a string")
		}

		result, err := expr.Eval(expression, vars)
		if err != nil {
			return nil, classifyEvalError(expression, err)
		}

		value = result
	case hasKey(node.Config, "value"):
		value = node.Config["value"]
	default:
		return nil, models.NewExecutionError(models.ErrKindValidation, "variable node requires a 'value' or 'expression' config entry")
	}

	return &protocol.NodeResult{
		Output: map[string]any{name: value},
	}, nil
}

func hasKey(config map[string]any, key string) bool {
	_, ok := config[key]

	return ok
}

func classifyEvalError(expression string, err error) *models.ExecutionError {
	var undefErr *expr.UndefinedVariableError
	if errors.As(err, &undefErr) {
		return models.WrapExecutionError(
			models.ErrKindMissingVariable,
			fmt.Sprintf("expression %q references undefined variable %q", expression, undefErr.Name),
			err,
		)
	}

	return models.WrapExecutionError(
		models.ErrKindValidation,
		fmt.Sprintf("failed to evaluate expression %q", expression),
		err,
	)
}
