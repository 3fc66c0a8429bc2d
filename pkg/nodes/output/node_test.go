package output

import (
	"context"
	"testing"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_ExposesVariableUnderDefaultKey(t *testing.T) {
	executor := NewExecutor()

	node := testutil.Node("done", models.NodeTypeOutput, map[string]any{
		"variable": "answer",
	})

	result, err := executor.Execute(context.Background(), node, map[string]any{"answer": "42"})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{DefaultResultKey: "42"}, result.FinalOutput)
	assert.Empty(t, result.Output, "output nodes write no variables")
}

func TestExecute_CustomResultKey(t *testing.T) {
	executor := NewExecutor()

	node := testutil.Node("done", models.NodeTypeOutput, map[string]any{
		"variable": "summary",
		"key":      "final_summary",
	})

	result, err := executor.Execute(context.Background(), node, map[string]any{"summary": "short"})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"final_summary": "short"}, result.FinalOutput)
}

func TestExecute_MissingVariable(t *testing.T) {
	executor := NewExecutor()

	node := testutil.Node("done", models.NodeTypeOutput, map[string]any{
		"variable": "absent",
	})

	_, err := executor.Execute(context.Background(), node, map[string]any{})

	require.Error(t, err)
	assert.Equal(t, models.ErrKindMissingVariable, models.KindOf(err))
}

func TestExecute_MissingVariableConfig(t *testing.T) {
	executor := NewExecutor()

	node := testutil.Node("done", models.NodeTypeOutput, map[string]any{})

	_, err := executor.Execute(context.Background(), node, map[string]any{})

	require.Error(t, err)
	assert.Equal(t, models.ErrKindValidation, models.KindOf(err))
}

func TestFactory_Metadata(t *testing.T) {
	factory := NewFactory()

	assert.Equal(t, models.NodeTypeOutput, factory.Type())
	assert.Equal(t, "Output", factory.Name())
	assert.NotEmpty(t, factory.Description())
	assert.Equal(t, "object", factory.Schema()["type"])

	executor, err := factory.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.NodeTypeOutput, executor.Type())
}
