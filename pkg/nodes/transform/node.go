// Package transform implements the transform node executor: a closed set of
// built-in operations over variables, producing one output variable.
package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/protocol"
	"github.com/flowgrid/flowgrid/pkg/template"
)

// Built-in operation names.
const (
	OpJSONExtract = "json_extract"
	OpFormat      = "format"
	OpUpper       = "upper"
	OpLower       = "lower"
	OpTrim        = "trim"
	OpSplit       = "split"
	OpJoin        = "join"
	OpLength      = "length"
)

// Operations lists every supported transform operation.
var Operations = []string{
	OpJSONExtract,
	OpFormat,
	OpUpper,
	OpLower,
	OpTrim,
	OpSplit,
	OpJoin,
	OpLength,
}

// Executor executes transform nodes. All operations are computed in-process.
type Executor struct{}

// NewExecutor creates a transform executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// Type returns the node type this executor handles.
func (e *Executor) Type() models.NodeType {
	return models.NodeTypeTransform
}

// Execute applies the configured operation. The result is written to the
// variable named by the 'output' config entry, defaulting to "<nodeKey>.output".
func (e *Executor) Execute(_ context.Context, node *models.Node, vars map[string]any) (*protocol.NodeResult, error) {
	operation, ok := node.ConfigString("operation")
	if !ok || operation == "" {
		return nil, models.NewExecutionError(models.ErrKindValidation, "transform node requires an 'operation' config entry")
	}

	value, err := apply(operation, node, vars)
	if err != nil {
		return nil, err
	}

	outputName, ok := node.ConfigString("output")
	if !ok || outputName == "" {
		outputName = node.Key + ".output"
	}

	return &protocol.NodeResult{
		Output: map[string]any{outputName: value},
	}, nil
}

func apply(operation string, node *models.Node, vars map[string]any) (any, error) {
	switch operation {
	case OpJSONExtract:
		return applyJSONExtract(node, vars)
	case OpFormat:
		return applyFormat(node, vars)
	case OpUpper, OpLower, OpTrim:
		value, err := inputValue(node, vars)
		if err != nil {
			return nil, err
		}

		text := template.Stringify(value)

		switch operation {
		case OpUpper:
			return strings.ToUpper(text), nil
		case OpLower:
			return strings.ToLower(text), nil
		default:
			return strings.TrimSpace(text), nil
		}
	case OpSplit:
		return applySplit(node, vars)
	case OpJoin:
		return applyJoin(node, vars)
	case OpLength:
		return applyLength(node, vars)
	default:
		return nil, models.NewExecutionError(
			models.ErrKindUnsupportedTransform,
			fmt.Sprintf("unknown transform operation %q", operation),
		)
	}
}

// inputValue reads the variable named by the 'input' config entry.
func inputValue(node *models.Node, vars map[string]any) (any, error) {
	name, ok := node.ConfigString("input")
	if !ok || name == "" {
		return nil, models.NewExecutionError(models.ErrKindValidation, "transform node requires an 'input' config entry")
	}

	value, ok := vars[name]
	if !ok {
		return nil, models.NewExecutionError(
			models.ErrKindMissingVariable,
			fmt.Sprintf("transform input variable %q is not defined", name),
		)
	}

	return value, nil
}

// applyJSONExtract walks a dot path into a structured value. String inputs
// are decoded as JSON first, which is the common case for prompt outputs.
func applyJSONExtract(node *models.Node, vars map[string]any) (any, error) {
	value, err := inputValue(node, vars)
	if err != nil {
		return nil, err
	}

	path, ok := node.ConfigString("path")
	if !ok || path == "" {
		return nil, models.NewExecutionError(models.ErrKindValidation, "json_extract requires a 'path' config entry")
	}

	if text, ok := value.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(text), &decoded); err != nil {
			return nil, models.WrapExecutionError(models.ErrKindValidation, "json_extract input is not valid JSON", err)
		}

		value = decoded
	}

	current := value

	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, models.NewExecutionError(
				models.ErrKindValidation,
				fmt.Sprintf("json_extract path %q does not resolve: segment %q is not an object", path, segment),
			)
		}

		current, ok = m[segment]
		if !ok {
			return nil, models.NewExecutionError(
				models.ErrKindValidation,
				fmt.Sprintf("json_extract path %q does not resolve: missing key %q", path, segment),
			)
		}
	}

	return current, nil
}

// applyFormat resolves a {{variable}} template in strict mode.
func applyFormat(node *models.Node, vars map[string]any) (any, error) {
	text, ok := node.ConfigString("template")
	if !ok {
		return nil, models.NewExecutionError(models.ErrKindValidation, "format requires a 'template' config entry")
	}

	resolved, missing := template.Resolve(text, vars, template.ModeStrict)
	if len(missing) > 0 {
		return nil, models.NewExecutionError(
			models.ErrKindMissingVariable,
			fmt.Sprintf("unresolved variables in format template: %s", strings.Join(missing, ", ")),
		)
	}

	return resolved, nil
}

func applySplit(node *models.Node, vars map[string]any) (any, error) {
	value, err := inputValue(node, vars)
	if err != nil {
		return nil, err
	}

	separator, ok := node.ConfigString("separator")
	if !ok {
		separator = ","
	}

	parts := strings.Split(template.Stringify(value), separator)
	result := make([]any, len(parts))

	for i, part := range parts {
		result[i] = part
	}

	return result, nil
}

func applyJoin(node *models.Node, vars map[string]any) (any, error) {
	value, err := inputValue(node, vars)
	if err != nil {
		return nil, err
	}

	items, ok := value.([]any)
	if !ok {
		return nil, models.NewExecutionError(models.ErrKindValidation, "join input must be a list")
	}

	separator, ok := node.ConfigString("separator")
	if !ok {
		separator = ","
	}

	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = template.Stringify(item)
	}

	return strings.Join(parts, separator), nil
}

func applyLength(node *models.Node, vars map[string]any) (any, error) {
	value, err := inputValue(node, vars)
	if err != nil {
		return nil, err
	}

	switch v := value.(type) {
	case string:
		return float64(len(v)), nil
	case []any:
		return float64(len(v)), nil
	case map[string]any:
		return float64(len(v)), nil
	default:
		return nil, models.NewExecutionError(
			models.ErrKindValidation,
			fmt.Sprintf("length is not defined for %T", value),
		)
	}
}
