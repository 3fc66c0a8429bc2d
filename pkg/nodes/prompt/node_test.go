package prompt

import (
	"context"
	"testing"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_EchoesResolvedTemplate(t *testing.T) {
	stub := testutil.NewStubProvider()
	executor := NewExecutor(stub)

	node := testutil.Node("greet", models.NodeTypePrompt, map[string]any{
		"template": "Hello {{name}}",
		"model":    "stub-small",
	})

	result, err := executor.Execute(context.Background(), node, map[string]any{"name": "Ada"})

	require.NoError(t, err)
	assert.Equal(t, "Hello Ada", result.Output["greet.output"])
	assert.Equal(t, []string{"Hello Ada"}, stub.Prompts())
	assert.Positive(t, result.Tokens)
	assert.Positive(t, result.Cost)
}

func TestExecute_DeclaredOutputVariable(t *testing.T) {
	stub := testutil.NewStubProvider()
	stub.Respond("a summary")
	executor := NewExecutor(stub)

	node := testutil.Node("summarize", models.NodeTypePrompt, map[string]any{
		"template": "Summarize {{text}}",
		"model":    "stub-small",
		"output":   "summary",
	})

	result, err := executor.Execute(context.Background(), node, map[string]any{"text": "long text"})

	require.NoError(t, err)
	assert.Equal(t, "a summary", result.Output["summarize.output"])
	assert.Equal(t, "a summary", result.Output["summary"])
}

func TestExecute_MissingVariableIsHardFailure(t *testing.T) {
	stub := testutil.NewStubProvider()
	executor := NewExecutor(stub)

	node := testutil.Node("greet", models.NodeTypePrompt, map[string]any{
		"template": "Hello {{name}}",
		"model":    "stub-small",
	})

	_, err := executor.Execute(context.Background(), node, map[string]any{})

	require.Error(t, err)
	assert.Equal(t, models.ErrKindMissingVariable, models.KindOf(err))
	assert.Zero(t, stub.Calls(), "provider must not be called when resolution fails")
}

func TestExecute_ConfigErrors(t *testing.T) {
	executor := NewExecutor(testutil.NewStubProvider())

	tests := []struct {
		name   string
		config map[string]any
	}{
		{"missing template", map[string]any{"model": "stub-small"}},
		{"missing model", map[string]any{"template": "hi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := testutil.Node("p", models.NodeTypePrompt, tt.config)

			_, err := executor.Execute(context.Background(), node, nil)

			require.Error(t, err)
			assert.Equal(t, models.ErrKindValidation, models.KindOf(err))
		})
	}
}

func TestExecute_ProviderErrorPropagates(t *testing.T) {
	stub := testutil.NewStubProvider()
	stub.Fail(models.ErrKindProviderRateLimited, "429")
	executor := NewExecutor(stub)

	node := testutil.Node("p", models.NodeTypePrompt, map[string]any{
		"template": "hi",
		"model":    "stub-small",
	})

	_, err := executor.Execute(context.Background(), node, nil)

	require.Error(t, err)
	assert.Equal(t, models.ErrKindProviderRateLimited, models.KindOf(err))
}

func TestFactory_Metadata(t *testing.T) {
	factory := NewFactory(testutil.NewStubProvider())

	assert.Equal(t, models.NodeTypePrompt, factory.Type())
	assert.Equal(t, "Prompt", factory.Name())
	assert.NotEmpty(t, factory.Description())

	schema := factory.Schema()
	assert.Equal(t, "object", schema["type"])

	executor, err := factory.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.NodeTypePrompt, executor.Type())
}
