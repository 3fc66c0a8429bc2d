package file

import (
	"context"
	"testing"
	"time"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/persistence"
	"github.com/flowgrid/flowgrid/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	return NewPersistence(t.TempDir())
}

func TestHealthCheck(t *testing.T) {
	p := newTestPersistence(t)

	require.NoError(t, p.HealthCheck(context.Background()))
	require.NoError(t, p.Close(context.Background()))
}

func TestFlowRepository_SaveAndGet(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	flow := testutil.CreateTestFlow()

	require.NoError(t, p.FlowRepository().Save(ctx, flow))
	assert.False(t, flow.CreatedAt.IsZero())
	assert.False(t, flow.UpdatedAt.IsZero())

	loaded, err := p.FlowRepository().GetByID(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.ID, loaded.ID)
	assert.Equal(t, flow.Name, loaded.Name)
	assert.Len(t, loaded.Nodes, len(flow.Nodes))
}

func TestFlowRepository_GetMissing(t *testing.T) {
	p := newTestPersistence(t)

	_, err := p.FlowRepository().GetByID(context.Background(), "absent")

	require.Error(t, err)
	assert.True(t, persistence.IsFlowNotFound(err))
}

func TestFlowRepository_List(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	active := testutil.CreateTestFlow(func(f *models.Flow) {
		f.ID = "flow-a"
		f.Name = "alpha"
		f.Status = models.FlowStatusActive
	})
	draft := testutil.CreateTestFlow(func(f *models.Flow) {
		f.ID = "flow-b"
		f.Name = "beta"
		f.Status = models.FlowStatusDraft
	})

	require.NoError(t, p.FlowRepository().Save(ctx, active))
	require.NoError(t, p.FlowRepository().Save(ctx, draft))

	result, err := p.FlowRepository().List(ctx, persistence.ListFlowsOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.TotalCount)
	assert.False(t, result.HasNextPage)

	status := models.FlowStatusActive
	result, err = p.FlowRepository().List(ctx, persistence.ListFlowsOptions{Status: &status})
	require.NoError(t, err)
	require.Len(t, result.Flows, 1)
	assert.Equal(t, "flow-a", result.Flows[0].ID)

	result, err = p.FlowRepository().List(ctx, persistence.ListFlowsOptions{
		SortBy: "name", SortOrder: "asc", Limit: 1,
	})
	require.NoError(t, err)
	require.Len(t, result.Flows, 1)
	assert.Equal(t, "alpha", result.Flows[0].Name)
	assert.True(t, result.HasNextPage)

	_, err = p.FlowRepository().List(ctx, persistence.ListFlowsOptions{SortBy: "owner"})
	require.Error(t, err)
}

func TestFlowRepository_Delete(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	flow := testutil.CreateTestFlow()
	require.NoError(t, p.FlowRepository().Save(ctx, flow))

	require.NoError(t, p.FlowRepository().Delete(ctx, flow.ID))

	_, err := p.FlowRepository().GetByID(ctx, flow.ID)
	assert.True(t, persistence.IsFlowNotFound(err))

	// Deleting a missing flow is not an error.
	require.NoError(t, p.FlowRepository().Delete(ctx, "absent"))
}

func TestFlowRepository_Variants(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	repo := p.FlowRepository()

	control := &models.FlowVariant{
		ID: "control", BaseFlowID: "flow-a", FlowID: "flow-a",
		Name: "Control", TrafficPercentage: 70, Active: true,
	}
	challenger := &models.FlowVariant{
		ID: "challenger", BaseFlowID: "flow-a", FlowID: "flow-a-v2",
		Name: "Challenger", TrafficPercentage: 30, Active: true,
	}

	require.NoError(t, repo.SaveVariant(ctx, control))
	require.NoError(t, repo.SaveVariant(ctx, challenger))

	variants, err := repo.Variants(ctx, "flow-a")
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.Equal(t, "control", variants[0].ID)
	assert.Equal(t, "challenger", variants[1].ID)

	// Saving the same variant ID replaces in place.
	control.TrafficPercentage = 50
	require.NoError(t, repo.SaveVariant(ctx, control))

	variants, err = repo.Variants(ctx, "flow-a")
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.InDelta(t, 50, variants[0].TrafficPercentage, 0.001)

	require.NoError(t, repo.DeleteVariant(ctx, "flow-a", "challenger"))

	variants, err = repo.Variants(ctx, "flow-a")
	require.NoError(t, err)
	assert.Len(t, variants, 1)

	err = repo.DeleteVariant(ctx, "flow-a", "absent")
	assert.True(t, persistence.IsVariantNotFound(err))
}

func TestExecutionRepository_RoundTrip(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	repo := p.ExecutionRepository()

	execution := &models.FlowExecution{
		ID:        "exec-1",
		FlowID:    "flow-a",
		Status:    models.ExecutionStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	require.NoError(t, repo.CreateExecution(ctx, execution))

	execution.Status = models.ExecutionStatusCompleted
	execution.TotalCost = 0.002
	execution.TotalTokens = 42
	require.NoError(t, repo.UpdateExecution(ctx, execution))

	loaded, err := repo.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, loaded.Status)
	assert.InDelta(t, 0.002, loaded.TotalCost, 0.0001)
	assert.Equal(t, 42, loaded.TotalTokens)

	_, err = repo.GetExecution(ctx, "absent")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_NodeExecutions(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	repo := p.ExecutionRepository()

	base := time.Now().UTC()
	later := base.Add(time.Second)

	second := &models.NodeExecution{
		ID: "ne-2", FlowExecutionID: "exec-1", NodeKey: "later",
		Status: models.NodeStatusRunning, StartedAt: &later,
	}
	first := &models.NodeExecution{
		ID: "ne-1", FlowExecutionID: "exec-1", NodeKey: "earlier",
		Status: models.NodeStatusRunning, StartedAt: &base,
	}

	require.NoError(t, repo.CreateNodeExecution(ctx, second))
	require.NoError(t, repo.CreateNodeExecution(ctx, first))

	first.Status = models.NodeStatusSucceeded
	require.NoError(t, repo.UpdateNodeExecution(ctx, first))

	records, err := repo.NodeExecutions(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "earlier", records[0].NodeKey)
	assert.Equal(t, models.NodeStatusSucceeded, records[0].Status)

	missing := &models.NodeExecution{ID: "ne-9", FlowExecutionID: "exec-1"}
	require.Error(t, repo.UpdateNodeExecution(ctx, missing))
}

func TestExecutionRepository_ListExecutions(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()
	repo := p.ExecutionRepository()

	base := time.Now().UTC()

	for i, id := range []string{"exec-1", "exec-2", "exec-3"} {
		execution := &models.FlowExecution{
			ID:        id,
			FlowID:    "flow-a",
			Status:    models.ExecutionStatusCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.CreateExecution(ctx, execution))
	}

	other := &models.FlowExecution{
		ID: "exec-x", FlowID: "flow-b",
		Status: models.ExecutionStatusCompleted, StartedAt: base,
	}
	require.NoError(t, repo.CreateExecution(ctx, other))

	executions, err := repo.ListExecutions(ctx, "flow-a", 2)
	require.NoError(t, err)
	require.Len(t, executions, 2)
	assert.Equal(t, "exec-3", executions[0].ID)
	assert.Equal(t, "exec-2", executions[1].ID)
}
