package transform

import (
	"context"
	"testing"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, config map[string]any, vars map[string]any) (map[string]any, error) {
	t.Helper()

	node := testutil.Node("step", models.NodeTypeTransform, config)

	result, err := NewExecutor().Execute(context.Background(), node, vars)
	if err != nil {
		return nil, err
	}

	return result.Output, nil
}

func TestExecute_StringOperations(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		input     any
		expected  any
	}{
		{"upper", OpUpper, "hello", "HELLO"},
		{"lower", OpLower, "HeLLo", "hello"},
		{"trim", OpTrim, "  padded  ", "padded"},
		{"upper stringifies numbers", OpUpper, 42.0, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := execute(t, map[string]any{
				"operation": tt.operation,
				"input":     "text",
				"output":    "transformed",
			}, map[string]any{"text": tt.input})

			require.NoError(t, err)
			assert.Equal(t, tt.expected, output["transformed"])
		})
	}
}

func TestExecute_DefaultOutputName(t *testing.T) {
	output, err := execute(t, map[string]any{
		"operation": OpUpper,
		"input":     "text",
	}, map[string]any{"text": "hi"})

	require.NoError(t, err)
	assert.Equal(t, "HI", output["step.output"])
}

func TestExecute_JSONExtract(t *testing.T) {
	t.Run("from decoded value", func(t *testing.T) {
		output, err := execute(t, map[string]any{
			"operation": OpJSONExtract,
			"input":     "doc",
			"path":      "user.name",
			"output":    "name",
		}, map[string]any{
			"doc": map[string]any{"user": map[string]any{"name": "Ada"}},
		})

		require.NoError(t, err)
		assert.Equal(t, "Ada", output["name"])
	})

	t.Run("from JSON string", func(t *testing.T) {
		output, err := execute(t, map[string]any{
			"operation": OpJSONExtract,
			"input":     "doc",
			"path":      "score",
			"output":    "score",
		}, map[string]any{"doc": `{"score": 0.75}`})

		require.NoError(t, err)
		assert.Equal(t, 0.75, output["score"])
	})

	t.Run("missing path segment", func(t *testing.T) {
		_, err := execute(t, map[string]any{
			"operation": OpJSONExtract,
			"input":     "doc",
			"path":      "user.age",
		}, map[string]any{"doc": map[string]any{"user": map[string]any{"name": "Ada"}}})

		require.Error(t, err)
		assert.Equal(t, models.ErrKindValidation, models.KindOf(err))
	})

	t.Run("invalid JSON string", func(t *testing.T) {
		_, err := execute(t, map[string]any{
			"operation": OpJSONExtract,
			"input":     "doc",
			"path":      "score",
		}, map[string]any{"doc": "not json"})

		require.Error(t, err)
		assert.Equal(t, models.ErrKindValidation, models.KindOf(err))
	})
}

func TestExecute_Format(t *testing.T) {
	output, err := execute(t, map[string]any{
		"operation": OpFormat,
		"template":  "{{greeting}}, {{name}}!",
		"output":    "message",
	}, map[string]any{"greeting": "Hello", "name": "Ada"})

	require.NoError(t, err)
	assert.Equal(t, "Hello, Ada!", output["message"])
}

func TestExecute_FormatMissingVariable(t *testing.T) {
	_, err := execute(t, map[string]any{
		"operation": OpFormat,
		"template":  "{{missing}}",
	}, map[string]any{})

	require.Error(t, err)
	assert.Equal(t, models.ErrKindMissingVariable, models.KindOf(err))
}

func TestExecute_SplitAndJoin(t *testing.T) {
	output, err := execute(t, map[string]any{
		"operation": OpSplit,
		"input":     "csv",
		"output":    "parts",
	}, map[string]any{"csv": "a,b,c"})

	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, output["parts"])

	output, err = execute(t, map[string]any{
		"operation": OpJoin,
		"input":     "parts",
		"separator": " | ",
		"output":    "joined",
	}, map[string]any{"parts": []any{"a", "b", "c"}})

	require.NoError(t, err)
	assert.Equal(t, "a | b | c", output["joined"])
}

func TestExecute_JoinRequiresList(t *testing.T) {
	_, err := execute(t, map[string]any{
		"operation": OpJoin,
		"input":     "text",
	}, map[string]any{"text": "not a list"})

	require.Error(t, err)
	assert.Equal(t, models.ErrKindValidation, models.KindOf(err))
}

func TestExecute_Length(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected float64
	}{
		{"string", "hello", 5},
		{"list", []any{1, 2, 3}, 3},
		{"map", map[string]any{"a": 1, "b": 2}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := execute(t, map[string]any{
				"operation": OpLength,
				"input":     "value",
				"output":    "n",
			}, map[string]any{"value": tt.input})

			require.NoError(t, err)
			assert.Equal(t, tt.expected, output["n"])
		})
	}
}

func TestExecute_UnknownOperation(t *testing.T) {
	_, err := execute(t, map[string]any{
		"operation": "reverse",
		"input":     "text",
	}, map[string]any{"text": "hi"})

	require.Error(t, err)
	assert.Equal(t, models.ErrKindUnsupportedTransform, models.KindOf(err))
}

func TestExecute_MissingInputVariable(t *testing.T) {
	_, err := execute(t, map[string]any{
		"operation": OpUpper,
		"input":     "missing",
	}, map[string]any{})

	require.Error(t, err)
	assert.Equal(t, models.ErrKindMissingVariable, models.KindOf(err))
}

func TestFactory_Metadata(t *testing.T) {
	factory := NewFactory()

	assert.Equal(t, models.NodeTypeTransform, factory.Type())
	assert.Equal(t, "Transform", factory.Name())
	assert.NotEmpty(t, factory.Description())

	schema := factory.Schema()
	assert.Equal(t, "object", schema["type"])

	executor, err := factory.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.NodeTypeTransform, executor.Type())
}
