// Package flow contains the execution engine: graph validation, topological
// planning, variant selection and the wave scheduler that runs node executors
// against a shared variable store.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowgrid/flowgrid/pkg/eventbus"
	"github.com/flowgrid/flowgrid/pkg/events"
	"github.com/flowgrid/flowgrid/pkg/expr"
	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/otelhelper"
	"github.com/flowgrid/flowgrid/pkg/persistence"
	"github.com/flowgrid/flowgrid/pkg/protocol"
	"github.com/flowgrid/flowgrid/pkg/registry"
)

// Engine executes validated flow graphs. It owns the execution state machine:
// waves of ready nodes run concurrently, outputs are committed between waves,
// and every visited node leaves a NodeExecution record behind.
type Engine struct {
	logger     *slog.Logger
	registry   *registry.Registry
	executions persistence.ExecutionRepository
	publisher  eventbus.EventPublisher
	tracer     trace.Tracer
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*Engine)

// WithEventPublisher attaches a lifecycle event publisher. Publishing is
// best-effort; a failing publisher never fails an execution.
func WithEventPublisher(publisher eventbus.EventPublisher) EngineOption {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

// WithTracer overrides the default tracer.
func WithTracer(tracer trace.Tracer) EngineOption {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// NewEngine creates an execution engine.
func NewEngine(logger *slog.Logger, reg *registry.Registry, executions persistence.ExecutionRepository, opts ...EngineOption) *Engine {
	engine := &Engine{
		logger:     logger.With("module", "engine"),
		registry:   reg,
		executions: executions,
		tracer:     otel.Tracer("flowgrid/engine"),
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// execState carries the mutable state of one execution through the waves.
// The commit phase between waves is single-threaded, so no locking beyond
// the variable store's own is needed.
type execState struct {
	flow      *models.Flow
	plan      *Plan
	opts      Options
	execution *models.FlowExecution
	store     *VariableStore

	status       map[string]models.NodeExecutionStatus // terminal status per node ID
	handles      map[string]string                     // selected handle per conditional node ID
	activeEdges  map[string]bool                       // edge ID -> inbound path is live
	executed     int                                   // nodes that actually ran
	failures     int
	firstErr     error
	firstErrNode string
	aborted      bool // fail-fast tripped
	cancelled    bool
	cancelReason string
}

type nodeOutcome struct {
	node   *models.Node
	result *protocol.NodeResult
	record *models.NodeExecution
	err    error
}

// Execute runs a flow to a terminal status. Node failures do not surface as
// an error return: the caller always gets the FlowExecution record, including
// partial results. A non-nil error means the run never started (validation or
// persistence failure).
func (e *Engine) Execute(ctx context.Context, flow *models.Flow, input map[string]any, opts Options) (*models.FlowExecution, error) {
	opts = opts.withDefaults()

	if result := Validate(flow); !result.Valid() {
		return nil, models.NewExecutionError(models.ErrKindValidation, strings.Join(result.Errors, "; "))
	}

	plan, err := BuildPlan(flow)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	executionID := opts.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}

	execution := &models.FlowExecution{
		ID:             executionID,
		FlowID:         flow.ID,
		FlowVersion:    flow.Version,
		VariantID:      opts.VariantID,
		InputVariables: input,
		Status:         models.ExecutionStatusRunning,
		StartedAt:      time.Now().UTC(),
	}

	if err := e.executions.CreateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution record: %w", err)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "flow.execute",
		attribute.String(otelhelper.FlowIDKey, flow.ID),
		attribute.Int(otelhelper.FlowVersionKey, flow.Version),
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.VariantIDKey, opts.VariantID),
		attribute.Bool("flowgrid.execution.dry_run", opts.DryRun),
	)
	defer span.End()

	e.logger.Info("flow execution started",
		"flow_id", flow.ID, "flow_version", flow.Version,
		"execution_id", executionID, "variant_id", opts.VariantID, "dry_run", opts.DryRun)

	e.publish(ctx, events.FlowExecutionStarted{
		BaseEvent:      events.NewBaseEvent(events.FlowExecutionStartedEvent, flow.ID, executionID),
		FlowName:       flow.Name,
		FlowVersion:    flow.Version,
		VariantID:      opts.VariantID,
		InputVariables: input,
		Initiator:      opts.UserID,
	})

	state := &execState{
		flow:        flow,
		plan:        plan,
		opts:        opts,
		execution:   execution,
		store:       NewVariableStore(),
		status:      make(map[string]models.NodeExecutionStatus, len(flow.Nodes)),
		handles:     make(map[string]string),
		activeEdges: make(map[string]bool, len(flow.Edges)),
	}

	if opts.DryRun {
		e.finishDryRun(ctx, state)
		span.SetStatus(codes.Ok, "")

		return execution, nil
	}

	state.store.Seed(seedVariables(flow, input))

	e.runWaves(ctx, state)
	e.finish(ctx, state)

	if execution.Status == models.ExecutionStatusCompleted {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, execution.ErrorMessage)
	}

	return execution, nil
}

// seedVariables merges flow-level defaults underneath the execution's input
// variables. Input always wins on conflict.
func seedVariables(flow *models.Flow, input map[string]any) map[string]any {
	seeded := make(map[string]any, len(input)+len(flow.Variables))
	for name, value := range input {
		seeded[name] = value
	}

	if len(flow.Variables) > 0 {
		_ = mergo.Merge(&seeded, flow.Variables)
	}

	return seeded
}

func (e *Engine) runWaves(ctx context.Context, state *execState) {
	for _, wave := range state.plan.Waves {
		if !state.cancelled && ctx.Err() != nil {
			state.cancelled = true
			state.cancelReason = cancelReason(ctx)
		}

		if state.cancelled || state.aborted {
			reason := "execution stopped after an earlier failure"
			if state.cancelled {
				reason = state.cancelReason
			}

			for _, node := range wave {
				e.recordSkip(ctx, state, node, reason)
			}

			continue
		}

		runnable := make([]*models.Node, 0, len(wave))

		for _, node := range wave {
			if ok, reason := e.shouldRun(state, node); ok {
				runnable = append(runnable, node)
			} else {
				e.recordSkip(ctx, state, node, reason)
			}
		}

		outcomes := e.runWave(ctx, state, runnable)

		// Commit phase. Declaration order keeps totals and the output
		// result deterministic regardless of goroutine timing.
		for _, outcome := range outcomes {
			e.commit(state, outcome)
		}

		// Edge conditions see the snapshot that includes this wave's outputs.
		for _, outcome := range outcomes {
			if outcome.err == nil {
				e.activateOutgoing(state, outcome.node)
			}
		}
	}
}

// shouldRun decides whether a planned node executes. Start nodes always run;
// any other node runs when at least one inbound edge is on a live path.
func (e *Engine) shouldRun(state *execState, node *models.Node) (bool, string) {
	incoming := state.flow.IncomingEdges(node.ID)
	if len(incoming) == 0 {
		return true, ""
	}

	upstreamFailed := false

	for _, edge := range incoming {
		if state.activeEdges[edge.ID] {
			return true, ""
		}

		if state.status[edge.SourceNodeID] == models.NodeStatusFailed {
			upstreamFailed = true
		}
	}

	if upstreamFailed {
		return false, "upstream node failed"
	}

	return false, "no live inbound path"
}

// runWave fans runnable nodes onto at most MaxConcurrentNodes goroutines.
// All nodes of a wave read the same committed snapshot.
func (e *Engine) runWave(ctx context.Context, state *execState, runnable []*models.Node) []*nodeOutcome {
	if len(runnable) == 0 {
		return nil
	}

	snapshot := state.store.Snapshot()
	outcomes := make([]*nodeOutcome, len(runnable))

	var waitGroup sync.WaitGroup

	semaphore := make(chan struct{}, state.opts.MaxConcurrentNodes)

	for i, node := range runnable {
		waitGroup.Add(1)

		go func(i int, node *models.Node) {
			defer waitGroup.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			outcomes[i] = e.runNode(ctx, state, node, snapshot)
		}(i, node)
	}

	waitGroup.Wait()

	return outcomes
}

// runNode executes one node with retries and writes its execution record.
func (e *Engine) runNode(ctx context.Context, state *execState, node *models.Node, snapshot map[string]any) *nodeOutcome {
	started := time.Now().UTC()
	record := &models.NodeExecution{
		ID:              uuid.NewString(),
		FlowExecutionID: state.execution.ID,
		NodeID:          node.ID,
		NodeKey:         node.Key,
		NodeType:        node.Type,
		Status:          models.NodeStatusRunning,
		Input:           node.Config,
		StartedAt:       &started,
	}

	if err := e.executions.CreateNodeExecution(ctx, record); err != nil {
		e.logger.Warn("failed to create node execution record",
			"execution_id", state.execution.ID, "node_key", node.Key, "error", err)
	}

	e.publish(ctx, events.NodeExecutionStarted{
		BaseEvent: events.NewBaseEvent(events.NodeExecutionStartedEvent, state.flow.ID, state.execution.ID),
		NodeKey:   node.Key,
		NodeType:  string(node.Type),
	})

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "node.execute",
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeKeyKey, node.Key),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
	)
	defer span.End()

	result, err := e.attempt(ctx, state, node, snapshot, record)

	ended := time.Now().UTC()
	record.EndedAt = &ended
	record.ExecutionTimeMs = ended.Sub(started).Milliseconds()

	if err != nil {
		record.Status = models.NodeStatusFailed
		record.ErrorMessage = err.Error()

		otelhelper.SetError(span, err, attribute.String(otelhelper.NodeKeyKey, node.Key))
		e.logger.Warn("node execution failed",
			"execution_id", state.execution.ID, "node_key", node.Key,
			"error_kind", models.KindOf(err), "retry_count", record.RetryCount, "error", err)
	} else {
		record.Status = models.NodeStatusSucceeded
		record.Output = result.Output
		record.Cost = result.Cost
		record.TokensConsumed = result.Tokens

		span.SetAttributes(attribute.Int("flowgrid.node.tokens", result.Tokens))
		e.logger.Debug("node execution succeeded",
			"execution_id", state.execution.ID, "node_key", node.Key,
			"duration_ms", record.ExecutionTimeMs, "retry_count", record.RetryCount)
	}

	if updateErr := e.executions.UpdateNodeExecution(ctx, record); updateErr != nil {
		e.logger.Warn("failed to update node execution record",
			"execution_id", state.execution.ID, "node_key", node.Key, "error", updateErr)
	}

	if err != nil {
		e.publish(ctx, events.NodeExecutionFailed{
			BaseEvent:  events.NewBaseEvent(events.NodeExecutionFailedEvent, state.flow.ID, state.execution.ID),
			NodeKey:    node.Key,
			NodeType:   string(node.Type),
			DurationMs: record.ExecutionTimeMs,
			Error:      err.Error(),
			ErrorKind:  string(models.KindOf(err)),
			RetryCount: record.RetryCount,
		})
	} else {
		e.publish(ctx, events.NodeExecutionFinished{
			BaseEvent:      events.NewBaseEvent(events.NodeExecutionFinishedEvent, state.flow.ID, state.execution.ID),
			NodeKey:        node.Key,
			NodeType:       string(node.Type),
			DurationMs:     record.ExecutionTimeMs,
			Output:         record.Output,
			SelectedHandle: selectedHandle(result),
			Cost:           record.Cost,
			TokensConsumed: record.TokensConsumed,
		})
	}

	return &nodeOutcome{node: node, result: result, record: record, err: err}
}

// attempt runs the executor up to RetryAttempts+1 times, backing off between
// retryable failures. The backoff doubles per retry and respects cancellation.
func (e *Engine) attempt(ctx context.Context, state *execState, node *models.Node, snapshot map[string]any, record *models.NodeExecution) (*protocol.NodeResult, error) {
	executor, err := e.registry.CreateExecutor(ctx, node.Type)
	if err != nil {
		return nil, err
	}

	var result *protocol.NodeResult

	for attempt := 0; ; attempt++ {
		result, err = executor.Execute(ctx, node, snapshot)
		err = classifyContextError(err)

		if err == nil || !models.IsRetryable(err) || attempt >= state.opts.RetryAttempts {
			return result, err
		}

		backoff := state.opts.RetryBackoff << attempt

		e.logger.Debug("retrying node after backoff",
			"execution_id", state.execution.ID, "node_key", node.Key,
			"attempt", attempt+1, "backoff", backoff, "error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()

			return nil, models.WrapExecutionError(models.ErrKindCancelled, "cancelled while waiting to retry", ctx.Err())
		case <-timer.C:
		}

		record.RetryCount++
	}
}

// classifyContextError maps raw context errors from executors that bypass the
// provider gateway onto the error taxonomy. Already-classified errors pass
// through untouched.
func classifyContextError(err error) error {
	var execErr *models.ExecutionError
	if err == nil || errors.As(err, &execErr) {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return models.WrapExecutionError(models.ErrKindCancelled, "node execution cancelled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return models.WrapExecutionError(models.ErrKindProviderTimeout, "node execution timed out", err)
	default:
		return err
	}
}

// commit folds a finished node into the execution state. Succeeded nodes get
// their outputs committed to the store and their final outputs merged into
// the flow result.
func (e *Engine) commit(state *execState, outcome *nodeOutcome) {
	state.executed++

	node := outcome.node

	if outcome.err != nil {
		state.status[node.ID] = models.NodeStatusFailed
		state.failures++

		if state.firstErr == nil {
			state.firstErr = outcome.err
			state.firstErrNode = node.Key
		}

		if state.opts.FailFast {
			state.aborted = true
		}

		return
	}

	state.status[node.ID] = models.NodeStatusSucceeded

	result := outcome.result
	if result == nil {
		return
	}

	if len(result.Output) > 0 {
		state.store.Commit(result.Output)
	}

	if len(result.FinalOutput) > 0 {
		if state.execution.OutputResult == nil {
			state.execution.OutputResult = make(map[string]any)
		}

		for key, value := range result.FinalOutput {
			state.execution.OutputResult[key] = value
		}
	}

	if result.SelectedHandle != "" {
		state.handles[node.ID] = result.SelectedHandle
	}

	state.execution.TotalCost += result.Cost
	state.execution.TotalTokens += result.Tokens
}

// activateOutgoing marks which outgoing edges of a succeeded node carry the
// execution forward. Conditional nodes only activate edges on the selected
// handle; edge conditions are evaluated against the post-commit snapshot;
// default edges fire only when no sibling edge fired.
func (e *Engine) activateOutgoing(state *execState, node *models.Node) {
	outgoing := state.flow.OutgoingEdges(node.ID)
	if len(outgoing) == 0 {
		return
	}

	snapshot := state.store.Snapshot()
	anyActive := false

	for _, edge := range outgoing {
		if edge.IsDefault {
			continue
		}

		if node.Type == models.NodeTypeConditional && edge.SourceHandle != "" && edge.SourceHandle != state.handles[node.ID] {
			continue
		}

		active := true

		if edge.Condition != "" {
			ok, err := expr.EvalBool(edge.Condition, snapshot)
			if err != nil {
				e.logger.Warn("edge condition failed to evaluate, treating edge as inactive",
					"execution_id", state.execution.ID, "edge_id", edge.ID, "error", err)

				ok = false
			}

			active = ok
		}

		if active {
			state.activeEdges[edge.ID] = true
			anyActive = true
		}
	}

	if !anyActive {
		for _, edge := range outgoing {
			if edge.IsDefault {
				state.activeEdges[edge.ID] = true
			}
		}
	}
}

// recordSkip writes a terminal Skipped record for a node that never ran.
func (e *Engine) recordSkip(ctx context.Context, state *execState, node *models.Node, reason string) {
	now := time.Now().UTC()
	record := &models.NodeExecution{
		ID:              uuid.NewString(),
		FlowExecutionID: state.execution.ID,
		NodeID:          node.ID,
		NodeKey:         node.Key,
		NodeType:        node.Type,
		Status:          models.NodeStatusSkipped,
		StartedAt:       &now,
		EndedAt:         &now,
	}

	if err := e.executions.CreateNodeExecution(context.WithoutCancel(ctx), record); err != nil {
		e.logger.Warn("failed to record skipped node",
			"execution_id", state.execution.ID, "node_key", node.Key, "error", err)
	}

	state.status[node.ID] = models.NodeStatusSkipped

	e.publish(ctx, events.NodeExecutionSkipped{
		BaseEvent: events.NewBaseEvent(events.NodeExecutionSkippedEvent, state.flow.ID, state.execution.ID),
		NodeKey:   node.Key,
		NodeType:  string(node.Type),
		Reason:    reason,
	})
}

// finishDryRun records every planned node as skipped and completes the
// execution without touching any provider.
func (e *Engine) finishDryRun(ctx context.Context, state *execState) {
	for _, wave := range state.plan.Waves {
		for _, node := range wave {
			e.recordSkip(ctx, state, node, "dry run")
		}
	}

	now := time.Now().UTC()
	state.execution.Status = models.ExecutionStatusCompleted
	state.execution.EndedAt = &now

	if err := e.executions.UpdateExecution(ctx, state.execution); err != nil {
		e.logger.Error("failed to finalize dry-run execution",
			"execution_id", state.execution.ID, "error", err)
	}

	e.publish(ctx, events.FlowExecutionCompleted{
		BaseEvent:  events.NewBaseEvent(events.FlowExecutionCompletedEvent, state.flow.ID, state.execution.ID),
		DurationMs: now.Sub(state.execution.StartedAt).Milliseconds(),
	})
}

// finish resolves the terminal execution status, persists it and publishes
// the matching lifecycle event. Final writes survive caller cancellation.
func (e *Engine) finish(ctx context.Context, state *execState) {
	// A cancel that lands while the last wave is already running is never seen
	// by the per-wave check; it surfaces as Cancelled-kind node failures. Those
	// mean the execution was cancelled, not that the flow failed.
	if !state.cancelled && ctx.Err() != nil && models.KindOf(state.firstErr) == models.ErrKindCancelled {
		state.cancelled = true
		state.cancelReason = cancelReason(ctx)
	}

	ctx = context.WithoutCancel(ctx)

	now := time.Now().UTC()
	execution := state.execution
	execution.EndedAt = &now
	durationMs := now.Sub(execution.StartedAt).Milliseconds()

	switch {
	case state.cancelled:
		execution.Status = models.ExecutionStatusCancelled
		execution.ErrorMessage = state.cancelReason
	case state.failures > 0:
		execution.Status = models.ExecutionStatusFailed
		execution.ErrorMessage = fmt.Sprintf("node %q failed: %v", state.firstErrNode, state.firstErr)
	case len(execution.OutputResult) == 0:
		execution.Status = models.ExecutionStatusFailed
		execution.ErrorMessage = "no output node produced a result"
	default:
		execution.Status = models.ExecutionStatusCompleted
	}

	if err := e.executions.UpdateExecution(ctx, execution); err != nil {
		e.logger.Error("failed to finalize execution record",
			"execution_id", execution.ID, "error", err)
	}

	e.logger.Info("flow execution finished",
		"execution_id", execution.ID, "flow_id", execution.FlowID,
		"status", execution.Status, "duration_ms", durationMs,
		"nodes_executed", state.executed, "total_tokens", execution.TotalTokens)

	switch execution.Status {
	case models.ExecutionStatusCompleted:
		e.publish(ctx, events.FlowExecutionCompleted{
			BaseEvent:     events.NewBaseEvent(events.FlowExecutionCompletedEvent, execution.FlowID, execution.ID),
			DurationMs:    durationMs,
			NodesExecuted: state.executed,
			TotalCost:     execution.TotalCost,
			TotalTokens:   execution.TotalTokens,
			Result:        execution.OutputResult,
		})
	case models.ExecutionStatusCancelled:
		e.publish(ctx, events.FlowExecutionCancelled{
			BaseEvent:  events.NewBaseEvent(events.FlowExecutionCancelledEvent, execution.FlowID, execution.ID),
			DurationMs: durationMs,
			Reason:     state.cancelReason,
		})
	default:
		e.publish(ctx, events.FlowExecutionFailed{
			BaseEvent:     events.NewBaseEvent(events.FlowExecutionFailedEvent, execution.FlowID, execution.ID),
			DurationMs:    durationMs,
			NodeKey:       state.firstErrNode,
			Error:         execution.ErrorMessage,
			ErrorKind:     string(models.KindOf(state.firstErr)),
			NodesExecuted: state.executed,
		})
	}
}

func (e *Engine) publish(ctx context.Context, event events.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Warn("failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func cancelReason(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "execution timed out"
	}

	return "execution cancelled"
}

func selectedHandle(result *protocol.NodeResult) string {
	if result == nil {
		return ""
	}

	return result.SelectedHandle
}
