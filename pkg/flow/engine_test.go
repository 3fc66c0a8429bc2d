package flow_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/pkg/events"
	"github.com/flowgrid/flowgrid/pkg/flow"
	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/persistence"
	"github.com/flowgrid/flowgrid/pkg/persistence/file"
	"github.com/flowgrid/flowgrid/pkg/protocol"
	"github.com/flowgrid/flowgrid/pkg/registry"
	"github.com/flowgrid/flowgrid/pkg/testutil"
)

type capturingPublisher struct {
	mu       sync.Mutex
	captured []events.Event
}

func (p *capturingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.captured = append(p.captured, event)

	return nil
}

func (p *capturingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]events.EventType, 0, len(p.captured))
	for _, event := range p.captured {
		types = append(types, event.GetType())
	}

	return types
}

type engineFixture struct {
	engine    *flow.Engine
	repo      persistence.ExecutionRepository
	provider  *testutil.StubProvider
	publisher *capturingPublisher
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := testutil.NewStubProvider()

	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultNodes(provider)

	repo := file.NewPersistence(t.TempDir()).ExecutionRepository()
	publisher := &capturingPublisher{}

	return &engineFixture{
		engine:    flow.NewEngine(logger, reg, repo, flow.WithEventPublisher(publisher)),
		repo:      repo,
		provider:  provider,
		publisher: publisher,
	}
}

func (f *engineFixture) nodeRecord(t *testing.T, executionID, nodeKey string) *models.NodeExecution {
	t.Helper()

	records, err := f.repo.NodeExecutions(context.Background(), executionID)
	require.NoError(t, err)

	for _, record := range records {
		if record.NodeKey == nodeKey {
			return record
		}
	}

	t.Fatalf("no node execution record for %q", nodeKey)

	return nil
}

func TestExecute_GreetingFlow(t *testing.T) {
	fixture := newEngineFixture(t)

	execution, err := fixture.engine.Execute(context.Background(), greetingFlow(),
		map[string]any{"name": "Ada"}, flow.Options{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, map[string]any{"result": "Hello Ada"}, execution.OutputResult)
	assert.NotNil(t, execution.EndedAt)
	assert.Positive(t, execution.TotalTokens)
	assert.Positive(t, execution.TotalCost)
	assert.Empty(t, execution.ErrorMessage)

	assert.Equal(t, []string{"Hello Ada"}, fixture.provider.Prompts())

	greet := fixture.nodeRecord(t, execution.ID, "greet")
	assert.Equal(t, models.NodeStatusSucceeded, greet.Status)
	assert.Equal(t, "Hello Ada", greet.Output["greet.output"])
	assert.Zero(t, greet.RetryCount)

	out := fixture.nodeRecord(t, execution.ID, "out")
	assert.Equal(t, models.NodeStatusSucceeded, out.Status)

	stored, err := fixture.repo.GetExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
}

func TestExecute_ConditionalSelectsHandleAndSkipsSibling(t *testing.T) {
	buildFlow := func() *models.Flow {
		return testutil.CreateTestFlow(
			testutil.WithNodes(
				testutil.Node("check", models.NodeTypeConditional, map[string]any{"condition": "x > 5"}),
				testutil.Node("high", models.NodeTypeVariable, map[string]any{"name": "label", "value": "high"}),
				testutil.Node("low", models.NodeTypeVariable, map[string]any{"name": "label", "value": "low"}),
				testutil.Node("out", models.NodeTypeOutput, map[string]any{"variable": "label"}),
			),
			testutil.WithEdges(
				testutil.EdgeFromHandle("check", "true", "high"),
				testutil.EdgeFromHandle("check", "false", "low"),
				testutil.EdgeBetween("high", "out"),
				testutil.EdgeBetween("low", "out"),
			),
		)
	}

	tests := []struct {
		name       string
		x          int
		wantResult string
		ranKey     string
		skippedKey string
	}{
		{name: "true branch", x: 10, wantResult: "high", ranKey: "high", skippedKey: "low"},
		{name: "false branch", x: 3, wantResult: "low", ranKey: "low", skippedKey: "high"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fixture := newEngineFixture(t)

			execution, err := fixture.engine.Execute(context.Background(), buildFlow(),
				map[string]any{"x": tt.x}, flow.Options{})
			require.NoError(t, err)

			assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
			assert.Equal(t, map[string]any{"result": tt.wantResult}, execution.OutputResult)

			assert.Equal(t, models.NodeStatusSucceeded, fixture.nodeRecord(t, execution.ID, tt.ranKey).Status)
			assert.Equal(t, models.NodeStatusSkipped, fixture.nodeRecord(t, execution.ID, tt.skippedKey).Status)
		})
	}
}

func TestExecute_DefaultEdgeFiresWhenNoConditionMatches(t *testing.T) {
	testFlow := testutil.CreateTestFlow(
		testutil.WithNodes(
			testutil.Node("score", models.NodeTypeVariable, map[string]any{"name": "score", "value": 0.3}),
			testutil.Node("confident", models.NodeTypeVariable, map[string]any{"name": "label", "value": "confident"}),
			testutil.Node("fallback", models.NodeTypeVariable, map[string]any{"name": "label", "value": "fallback"}),
			testutil.Node("out", models.NodeTypeOutput, map[string]any{"variable": "label"}),
		),
		testutil.WithEdges(
			&models.Edge{ID: "e1", SourceNodeID: "score", TargetNodeID: "confident", Condition: "score > 0.7"},
			&models.Edge{ID: "e2", SourceNodeID: "score", TargetNodeID: "fallback", IsDefault: true},
			testutil.EdgeBetween("confident", "out"),
			testutil.EdgeBetween("fallback", "out"),
		),
	)

	fixture := newEngineFixture(t)

	execution, err := fixture.engine.Execute(context.Background(), testFlow, nil, flow.Options{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, map[string]any{"result": "fallback"}, execution.OutputResult)
	assert.Equal(t, models.NodeStatusSkipped, fixture.nodeRecord(t, execution.ID, "confident").Status)
}

func TestExecute_RetriesRateLimitedThenSucceeds(t *testing.T) {
	fixture := newEngineFixture(t)
	fixture.provider.
		Fail(models.ErrKindProviderRateLimited, "slow down").
		Fail(models.ErrKindProviderRateLimited, "slow down").
		Respond("Hello Ada")

	execution, err := fixture.engine.Execute(context.Background(), greetingFlow(),
		map[string]any{"name": "Ada"}, flow.Options{RetryAttempts: 2, RetryBackoff: time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, 3, fixture.provider.Calls())

	greet := fixture.nodeRecord(t, execution.ID, "greet")
	assert.Equal(t, models.NodeStatusSucceeded, greet.Status)
	assert.Equal(t, 2, greet.RetryCount)
}

func TestExecute_RetryBudgetExhausted(t *testing.T) {
	fixture := newEngineFixture(t)
	fixture.provider.
		Fail(models.ErrKindProviderRateLimited, "slow down").
		Fail(models.ErrKindProviderRateLimited, "slow down").
		Fail(models.ErrKindProviderRateLimited, "slow down")

	execution, err := fixture.engine.Execute(context.Background(), greetingFlow(),
		map[string]any{"name": "Ada"}, flow.Options{RetryAttempts: 2, RetryBackoff: time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.ErrorMessage, "greet")
	assert.Equal(t, 3, fixture.provider.Calls(), "budget is retry attempts plus the first try")

	greet := fixture.nodeRecord(t, execution.ID, "greet")
	assert.Equal(t, models.NodeStatusFailed, greet.Status)
	assert.Equal(t, 2, greet.RetryCount)
	assert.Contains(t, greet.ErrorMessage, "slow down")

	assert.Equal(t, models.NodeStatusSkipped, fixture.nodeRecord(t, execution.ID, "out").Status)
}

func TestExecute_NonRetryableErrorFailsImmediately(t *testing.T) {
	fixture := newEngineFixture(t)
	fixture.provider.Fail(models.ErrKindProviderAuth, "invalid api key")

	execution, err := fixture.engine.Execute(context.Background(), greetingFlow(),
		map[string]any{"name": "Ada"}, flow.Options{RetryAttempts: 3, RetryBackoff: time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, 1, fixture.provider.Calls())
	assert.Zero(t, fixture.nodeRecord(t, execution.ID, "greet").RetryCount)
}

func TestExecute_IndependentBranchContinuesAfterFailure(t *testing.T) {
	testFlow := testutil.CreateTestFlow(
		testutil.WithNodes(
			testutil.Node("flaky", models.NodeTypePrompt, map[string]any{
				"template": "always fails",
				"model":    "stub-small",
			}),
			testutil.Node("flaky-out", models.NodeTypeOutput, map[string]any{
				"variable": "flaky.output", "key": "flaky",
			}),
			testutil.Node("steady", models.NodeTypeVariable, map[string]any{"name": "v", "value": 42}),
			testutil.Node("steady-out", models.NodeTypeOutput, map[string]any{
				"variable": "v", "key": "steady",
			}),
		),
		testutil.WithEdges(
			testutil.EdgeBetween("flaky", "flaky-out"),
			testutil.EdgeBetween("steady", "steady-out"),
		),
	)

	fixture := newEngineFixture(t)
	fixture.provider.Fail(models.ErrKindProviderInvalidRequest, "bad request")

	execution, err := fixture.engine.Execute(context.Background(), testFlow, nil, flow.Options{})
	require.NoError(t, err)

	// The failed branch marks the whole execution failed, but the healthy
	// branch still ran and its partial result is preserved.
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, map[string]any{"steady": 42}, execution.OutputResult)

	assert.Equal(t, models.NodeStatusFailed, fixture.nodeRecord(t, execution.ID, "flaky").Status)
	assert.Equal(t, models.NodeStatusSkipped, fixture.nodeRecord(t, execution.ID, "flaky-out").Status)
	assert.Equal(t, models.NodeStatusSucceeded, fixture.nodeRecord(t, execution.ID, "steady-out").Status)
}

func TestExecute_FailFastSkipsLaterWaves(t *testing.T) {
	testFlow := testutil.CreateTestFlow(
		testutil.WithNodes(
			testutil.Node("flaky", models.NodeTypePrompt, map[string]any{
				"template": "always fails",
				"model":    "stub-small",
			}),
			testutil.Node("steady", models.NodeTypeVariable, map[string]any{"name": "v", "value": 42}),
			testutil.Node("later", models.NodeTypeVariable, map[string]any{"name": "w", "expression": "v + 1"}),
			testutil.Node("out", models.NodeTypeOutput, map[string]any{"variable": "w"}),
		),
		testutil.WithEdges(
			testutil.EdgeBetween("steady", "later"),
			testutil.EdgeBetween("later", "out"),
		),
	)

	fixture := newEngineFixture(t)
	fixture.provider.Fail(models.ErrKindProviderAuth, "invalid api key")

	execution, err := fixture.engine.Execute(context.Background(), testFlow, nil,
		flow.Options{FailFast: true})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, models.NodeStatusSucceeded, fixture.nodeRecord(t, execution.ID, "steady").Status)
	assert.Equal(t, models.NodeStatusSkipped, fixture.nodeRecord(t, execution.ID, "later").Status)
	assert.Equal(t, models.NodeStatusSkipped, fixture.nodeRecord(t, execution.ID, "out").Status)
}

func TestExecute_CommittedOutputsVisibleDownstream(t *testing.T) {
	testFlow := testutil.CreateTestFlow(
		testutil.WithNodes(
			testutil.Node("a", models.NodeTypeVariable, map[string]any{"name": "a", "value": 1}),
			testutil.Node("b", models.NodeTypeVariable, map[string]any{"name": "b", "expression": "a + 1"}),
			testutil.Node("c", models.NodeTypeVariable, map[string]any{"name": "c", "expression": "b * 10"}),
			testutil.Node("out", models.NodeTypeOutput, map[string]any{"variable": "c"}),
		),
		testutil.WithEdges(
			testutil.EdgeBetween("a", "b"),
			testutil.EdgeBetween("b", "c"),
			testutil.EdgeBetween("c", "out"),
		),
	)

	fixture := newEngineFixture(t)

	execution, err := fixture.engine.Execute(context.Background(), testFlow, nil, flow.Options{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, map[string]any{"result": float64(20)}, execution.OutputResult)
}

func TestExecute_FlowDefaultsFillMissingInputs(t *testing.T) {
	testFlow := testutil.CreateTestFlow(
		testutil.WithNodes(
			testutil.Node("greet", models.NodeTypePrompt, map[string]any{
				"template": "{{tone}} greeting for {{name}}",
				"model":    "stub-small",
			}),
			testutil.Node("out", models.NodeTypeOutput, map[string]any{"variable": "greet.output"}),
		),
		testutil.WithEdges(testutil.EdgeBetween("greet", "out")),
		testutil.WithFlowVariables(map[string]any{"tone": "formal", "name": "stranger"}),
	)

	fixture := newEngineFixture(t)

	execution, err := fixture.engine.Execute(context.Background(), testFlow,
		map[string]any{"name": "Ada"}, flow.Options{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	// Input wins over the flow default for name; tone falls back.
	assert.Equal(t, []string{"formal greeting for Ada"}, fixture.provider.Prompts())
}

func TestExecute_NoOutputResultFailsExecution(t *testing.T) {
	testFlow := testutil.CreateTestFlow(testutil.WithNodes(
		testutil.Node("set", models.NodeTypeVariable, map[string]any{"name": "a", "value": 1}),
	))

	fixture := newEngineFixture(t)

	execution, err := fixture.engine.Execute(context.Background(), testFlow, nil, flow.Options{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, "no output node produced a result", execution.ErrorMessage)
}

func TestExecute_ValidationFailureAbortsBeforeAnyRecord(t *testing.T) {
	testFlow := testutil.CreateTestFlow(testutil.WithNodes(
		testutil.Node("dup", models.NodeTypeVariable, map[string]any{"name": "a", "value": 1}),
		&models.Node{ID: "other", Key: "dup", Type: models.NodeTypeVariable, Config: map[string]any{"name": "b", "value": 2}},
	))

	fixture := newEngineFixture(t)

	execution, err := fixture.engine.Execute(context.Background(), testFlow, nil, flow.Options{})
	require.Error(t, err)
	assert.Nil(t, execution)
	assert.Equal(t, models.ErrKindValidation, models.KindOf(err))

	listed, err := fixture.repo.ListExecutions(context.Background(), testFlow.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestExecute_DryRunSkipsEverything(t *testing.T) {
	fixture := newEngineFixture(t)

	execution, err := fixture.engine.Execute(context.Background(), greetingFlow(),
		map[string]any{"name": "Ada"}, flow.Options{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Empty(t, execution.OutputResult)
	assert.Zero(t, fixture.provider.Calls())

	assert.Equal(t, models.NodeStatusSkipped, fixture.nodeRecord(t, execution.ID, "greet").Status)
	assert.Equal(t, models.NodeStatusSkipped, fixture.nodeRecord(t, execution.ID, "out").Status)
}

func TestExecute_CancelledBeforeStart(t *testing.T) {
	fixture := newEngineFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	execution, err := fixture.engine.Execute(ctx, greetingFlow(),
		map[string]any{"name": "Ada"}, flow.Options{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.Zero(t, fixture.provider.Calls())
	assert.Equal(t, models.NodeStatusSkipped, fixture.nodeRecord(t, execution.ID, "greet").Status)
}

// blockingCompleter parks every completion call until the context ends, so a
// test can cancel an execution while a wave is mid-flight.
type blockingCompleter struct {
	started chan struct{}
	once    sync.Once
}

func (p *blockingCompleter) Complete(ctx context.Context, _ *protocol.CompletionRequest) (*protocol.CompletionResponse, error) {
	p.once.Do(func() { close(p.started) })

	<-ctx.Done()

	return nil, ctx.Err()
}

func TestExecute_CancelDuringFinalWaveReportsCancelled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	completer := &blockingCompleter{started: make(chan struct{})}

	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultNodes(completer)

	repo := file.NewPersistence(t.TempDir()).ExecutionRepository()
	engine := flow.NewEngine(logger, reg, repo)

	// Final wave holds a fast output node and a prompt node that only returns
	// once the caller cancels.
	testFlow := testutil.CreateTestFlow(
		testutil.WithNodes(
			testutil.Node("set", models.NodeTypeVariable, map[string]any{"name": "ready", "value": true}),
			testutil.Node("slow", models.NodeTypePrompt, map[string]any{"template": "work", "model": "stub-small"}),
			testutil.Node("out", models.NodeTypeOutput, map[string]any{"variable": "ready"}),
		),
		testutil.WithEdges(
			testutil.EdgeBetween("set", "slow"),
			testutil.EdgeBetween("set", "out"),
		),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-completer.started
		cancel()
	}()

	execution, err := engine.Execute(ctx, testFlow, nil, flow.Options{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.Equal(t, "execution cancelled", execution.ErrorMessage)

	stored, err := repo.GetExecution(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)
}

func TestExecute_TimeoutReportedAsSuch(t *testing.T) {
	fixture := newEngineFixture(t)

	execution, err := fixture.engine.Execute(context.Background(), greetingFlow(),
		map[string]any{"name": "Ada"}, flow.Options{Timeout: time.Nanosecond})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.Equal(t, "execution timed out", execution.ErrorMessage)
}

func TestExecute_PublishesLifecycleEvents(t *testing.T) {
	fixture := newEngineFixture(t)

	execution, err := fixture.engine.Execute(context.Background(), greetingFlow(),
		map[string]any{"name": "Ada"}, flow.Options{})
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusCompleted, execution.Status)

	types := fixture.publisher.types()

	assert.Equal(t, events.FlowExecutionStartedEvent, types[0])
	assert.Equal(t, events.FlowExecutionCompletedEvent, types[len(types)-1])
	assert.Contains(t, types, events.NodeExecutionStartedEvent)
	assert.Contains(t, types, events.NodeExecutionFinishedEvent)
}

func TestExecute_HonorsProvidedExecutionAndVariantIDs(t *testing.T) {
	fixture := newEngineFixture(t)

	execution, err := fixture.engine.Execute(context.Background(), greetingFlow(),
		map[string]any{"name": "Ada"},
		flow.Options{ExecutionID: "exec-fixed", VariantID: "variant-b"})
	require.NoError(t, err)

	assert.Equal(t, "exec-fixed", execution.ID)
	assert.Equal(t, "variant-b", execution.VariantID)
}
