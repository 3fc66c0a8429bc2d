package services_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/persistence"
	"github.com/flowgrid/flowgrid/pkg/persistence/file"
	"github.com/flowgrid/flowgrid/pkg/registry"
	"github.com/flowgrid/flowgrid/pkg/services"
	"github.com/flowgrid/flowgrid/pkg/testutil"
)

func newFlowService(t *testing.T) *services.FlowService {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultNodes(testutil.NewStubProvider())

	return services.NewFlowService(file.NewPersistence(t.TempDir()), reg)
}

func draftFlow() *models.Flow {
	return testutil.CreateTestFlow(func(f *models.Flow) {
		f.ID = ""
		f.Status = ""
	})
}

func TestCreate_AssignsDefaults(t *testing.T) {
	service := newFlowService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, draftFlow())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.Version)
	assert.Equal(t, models.FlowStatusDraft, created.Status)
	assert.False(t, created.CreatedAt.IsZero())
}

func TestCreate_RejectsInvalidInput(t *testing.T) {
	service := newFlowService(t)
	ctx := context.Background()

	_, err := service.Create(ctx, nil)
	assert.ErrorIs(t, err, services.ErrFlowNil)

	_, err = service.Create(ctx, &models.Flow{Name: "   "})
	assert.ErrorIs(t, err, services.ErrFlowNameRequired)

	unknown := draftFlow()
	unknown.Nodes = append(unknown.Nodes, testutil.Node("hook", "webhook", nil))

	_, err = service.Create(ctx, unknown)
	assert.True(t, services.IsValidationError(err))

	// Config that fails the node type schema.
	broken := draftFlow()
	broken.Nodes = append(broken.Nodes,
		testutil.Node("extra", models.NodeTypePrompt, map[string]any{"template": "hi"}))

	_, err = service.Create(ctx, broken)
	assert.True(t, services.IsValidationError(err))
}

func TestUpdate_OnlyDraftsAreMutable(t *testing.T) {
	service := newFlowService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, draftFlow())
	require.NoError(t, err)

	created.Name = "renamed"
	updated, err := service.Update(ctx, created.ID, created)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, models.FlowStatusDraft, updated.Status)

	_, err = service.Activate(ctx, created.ID)
	require.NoError(t, err)

	_, err = service.Update(ctx, created.ID, created)
	assert.ErrorIs(t, err, services.ErrCannotModifyActive)
	assert.True(t, services.IsConflictError(err))
}

func TestActivate_RejectsInvalidGraph(t *testing.T) {
	service := newFlowService(t)
	ctx := context.Background()

	cyclic := draftFlow()
	cyclic.Nodes = []*models.Node{
		testutil.Node("a", models.NodeTypeVariable, map[string]any{"name": "a", "value": 1}),
		testutil.Node("b", models.NodeTypeVariable, map[string]any{"name": "b", "value": 2}),
	}
	cyclic.Edges = []*models.Edge{
		testutil.EdgeBetween("a", "b"),
		testutil.EdgeBetween("b", "a"),
	}

	created, err := service.Create(ctx, cyclic)
	require.NoError(t, err)

	_, err = service.Activate(ctx, created.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrFlowInvalid)
	assert.True(t, services.IsValidationError(err))
}

func TestDelete_ActiveFlowIsProtected(t *testing.T) {
	service := newFlowService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, draftFlow())
	require.NoError(t, err)

	_, err = service.Activate(ctx, created.ID)
	require.NoError(t, err)

	err = service.Delete(ctx, created.ID)
	assert.ErrorIs(t, err, services.ErrCannotDeleteActive)

	_, err = service.Archive(ctx, created.ID)
	require.NoError(t, err)

	require.NoError(t, service.Delete(ctx, created.ID))

	_, err = service.FetchByID(ctx, created.ID)
	assert.True(t, persistence.IsFlowNotFound(err))
}

func TestListFlows_ValidatesAndPaginates(t *testing.T) {
	service := newFlowService(t)
	ctx := context.Background()

	for range 3 {
		_, err := service.Create(ctx, draftFlow())
		require.NoError(t, err)
	}

	page, err := service.ListFlows(ctx, services.ListFlowsRequest{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Flows, 2)
	assert.EqualValues(t, 3, page.TotalCount)
	assert.True(t, page.HasNextPage)

	_, err = service.ListFlows(ctx, services.ListFlowsRequest{SortBy: "rank"})
	assert.ErrorIs(t, err, services.ErrInvalidSortField)

	_, err = service.ListFlows(ctx, services.ListFlowsRequest{SortOrder: "sideways"})
	assert.ErrorIs(t, err, services.ErrInvalidSortOrder)
}

func TestSaveVariant_EnforcesTrafficBudget(t *testing.T) {
	service := newFlowService(t)
	ctx := context.Background()

	base, err := service.Create(ctx, draftFlow())
	require.NoError(t, err)

	alternate, err := service.Create(ctx, draftFlow())
	require.NoError(t, err)

	saved, err := service.SaveVariant(ctx, &models.FlowVariant{
		BaseFlowID:        base.ID,
		FlowID:            alternate.ID,
		Name:              "challenger",
		TrafficPercentage: 70,
		Active:            true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	// A second active variant pushing combined traffic past 100 percent.
	_, err = service.SaveVariant(ctx, &models.FlowVariant{
		BaseFlowID:        base.ID,
		FlowID:            alternate.ID,
		TrafficPercentage: 40,
		Active:            true,
	})
	assert.ErrorIs(t, err, services.ErrTrafficOverflow)

	// Updating the existing variant replaces its own share instead of
	// double counting it.
	saved.TrafficPercentage = 90
	_, err = service.SaveVariant(ctx, saved)
	require.NoError(t, err)

	variants, err := service.Variants(ctx, base.ID)
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.InDelta(t, 90, variants[0].TrafficPercentage, 0.001)
}

func TestSaveVariant_RequiresExistingFlows(t *testing.T) {
	service := newFlowService(t)
	ctx := context.Background()

	base, err := service.Create(ctx, draftFlow())
	require.NoError(t, err)

	_, err = service.SaveVariant(ctx, &models.FlowVariant{
		BaseFlowID:        base.ID,
		FlowID:            "ghost",
		TrafficPercentage: 10,
	})
	assert.True(t, persistence.IsFlowNotFound(err))

	_, err = service.SaveVariant(ctx, &models.FlowVariant{
		BaseFlowID:        "ghost",
		FlowID:            base.ID,
		TrafficPercentage: 10,
	})
	assert.True(t, persistence.IsFlowNotFound(err))

	_, err = service.SaveVariant(ctx, &models.FlowVariant{
		BaseFlowID:        base.ID,
		FlowID:            base.ID,
		TrafficPercentage: 180,
	})
	assert.True(t, services.IsValidationError(err))
}
