package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/persistence"
)

// Runner is the entry point for executing stored flows. It loads the flow,
// resolves the variant split, and hands the selected graph to the engine.
type Runner struct {
	logger *slog.Logger
	flows  persistence.FlowRepository
	engine *Engine
}

// NewRunner creates a runner on top of a flow repository and an engine.
func NewRunner(logger *slog.Logger, flows persistence.FlowRepository, engine *Engine) *Runner {
	return &Runner{
		logger: logger.With("module", "runner"),
		flows:  flows,
		engine: engine,
	}
}

// ExecuteFlow loads a flow by ID, selects a variant when the flow has active
// ones, and executes the chosen graph. The execution record carries the
// variant ID when a variant graph ran instead of the base flow.
func (r *Runner) ExecuteFlow(ctx context.Context, flowID string, input map[string]any, opts Options) (*models.FlowExecution, error) {
	baseFlow, err := r.flows.GetByID(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load flow %s: %w", flowID, err)
	}

	if baseFlow.Status != models.FlowStatusActive {
		return nil, models.NewExecutionError(models.ErrKindValidation,
			fmt.Sprintf("flow %q is %s and cannot be executed", flowID, baseFlow.Status))
	}

	variants, err := r.flows.Variants(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load variants of flow %s: %w", flowID, err)
	}

	// Variant assignment needs a stable seed. A user ID pins the user to one
	// variant across executions; otherwise the execution ID spreads traffic
	// randomly at the configured percentages.
	if opts.ExecutionID == "" {
		opts.ExecutionID = uuid.NewString()
	}

	seed := opts.UserID
	if seed == "" {
		seed = opts.ExecutionID
	}

	flow := baseFlow

	if variant := SelectVariant(flowID, seed, variants); variant != nil {
		variantFlow, err := r.flows.GetByID(ctx, variant.FlowID)

		switch {
		case err != nil:
			r.logger.Warn("selected variant flow could not be loaded, falling back to base flow",
				"flow_id", flowID, "variant_id", variant.ID, "error", err)
		case variantFlow.Status != models.FlowStatusActive:
			r.logger.Warn("selected variant flow is not active, falling back to base flow",
				"flow_id", flowID, "variant_id", variant.ID, "variant_status", variantFlow.Status)
		default:
			flow = variantFlow
			opts.VariantID = variant.ID
		}
	}

	return r.engine.Execute(ctx, flow, input, opts)
}

// ValidateFlow loads a flow by ID and checks it for structural soundness.
func (r *Runner) ValidateFlow(ctx context.Context, flowID string) (*ValidationResult, error) {
	flow, err := r.flows.GetByID(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load flow %s: %w", flowID, err)
	}

	return Validate(flow), nil
}
