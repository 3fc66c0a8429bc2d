package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/persistence"
	"github.com/flowgrid/flowgrid/pkg/persistence/postgresql"
	"github.com/flowgrid/flowgrid/pkg/testutil"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{"node_executions", "flow_executions", "flow_variants", "flows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("flowgrid_test"),
			postgres.WithUsername("flowgrid"),
			postgres.WithPassword("flowgrid"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx := setupTestDB(t)

	require.NoError(t, p.HealthCheck(ctx))
}

func TestFlowRepository_Lifecycle(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.FlowRepository()

	flow := testutil.CreateTestFlow(
		testutil.WithNodes(
			testutil.Node("greet", models.NodeTypePrompt, map[string]any{
				"template": "Hello {{name}}",
				"model":    "gpt-4o",
			}),
			testutil.Node("done", models.NodeTypeOutput, map[string]any{
				"variable": "greet.output",
			}),
		),
		testutil.WithEdges(testutil.EdgeBetween("greet", "done")),
		testutil.WithFlowVariables(map[string]any{"name": "Ada"}),
	)

	require.NoError(t, repo.Save(ctx, flow))

	loaded, err := repo.GetByID(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.Name, loaded.Name)
	require.Len(t, loaded.Nodes, 2)
	assert.Equal(t, models.NodeTypePrompt, loaded.Nodes[0].Type)
	require.Len(t, loaded.Edges, 1)
	assert.Equal(t, "Ada", loaded.Variables["name"])

	// Upsert replaces in place.
	flow.Name = "Renamed Flow"
	require.NoError(t, repo.Save(ctx, flow))

	loaded, err = repo.GetByID(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed Flow", loaded.Name)

	result, err := repo.List(ctx, persistence.ListFlowsOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.TotalCount)

	require.NoError(t, repo.Delete(ctx, flow.ID))

	_, err = repo.GetByID(ctx, flow.ID)
	assert.True(t, persistence.IsFlowNotFound(err))
}

func TestFlowRepository_ListFiltersAndPaginates(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.FlowRepository()

	for _, spec := range []struct {
		name   string
		status models.FlowStatus
	}{
		{"alpha", models.FlowStatusActive},
		{"beta", models.FlowStatusActive},
		{"gamma", models.FlowStatusDraft},
	} {
		flow := testutil.CreateTestFlow(func(f *models.Flow) {
			f.Name = spec.name
			f.Status = spec.status
		})
		require.NoError(t, repo.Save(ctx, flow))
	}

	status := models.FlowStatusActive
	result, err := repo.List(ctx, persistence.ListFlowsOptions{
		Status: &status, SortBy: "name", SortOrder: "asc",
	})
	require.NoError(t, err)
	require.Len(t, result.Flows, 2)
	assert.Equal(t, "alpha", result.Flows[0].Name)
	assert.Equal(t, int64(2), result.TotalCount)

	result, err = repo.List(ctx, persistence.ListFlowsOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, result.Flows, 2)
	assert.True(t, result.HasNextPage)

	_, err = repo.List(ctx, persistence.ListFlowsOptions{SortBy: "owner; DROP TABLE flows"})
	require.Error(t, err)
}

func TestFlowRepository_Variants(t *testing.T) {
	p, ctx := setupTestDB(t)
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

	control.TrafficPercentage = 50
	require.NoError(t, repo.SaveVariant(ctx, control))

	variants, err = repo.Variants(ctx, "flow-a")
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.InDelta(t, 50, variants[0].TrafficPercentage, 0.001)

	require.NoError(t, repo.DeleteVariant(ctx, "flow-a", "challenger"))

	err = repo.DeleteVariant(ctx, "flow-a", "challenger")
	assert.True(t, persistence.IsVariantNotFound(err))
}

func TestExecutionRepository_Lifecycle(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.ExecutionRepository()

	started := time.Now().UTC().Truncate(time.Millisecond)
	execution := &models.FlowExecution{
		ID:             uuid.New().String(),
		FlowID:         "flow-a",
		FlowVersion:    1,
		InputVariables: map[string]any{"name": "Ada"},
		Status:         models.ExecutionStatusRunning,
		StartedAt:      started,
	}

	require.NoError(t, repo.CreateExecution(ctx, execution))

	nodeStart := started.Add(10 * time.Millisecond)
	record := &models.NodeExecution{
		ID:              uuid.New().String(),
		FlowExecutionID: execution.ID,
		NodeID:          "greet",
		NodeKey:         "greet",
		NodeType:        models.NodeTypePrompt,
		Status:          models.NodeStatusRunning,
		Input:           map[string]any{"template": "Hello {{name}}"},
		StartedAt:       &nodeStart,
	}
	require.NoError(t, repo.CreateNodeExecution(ctx, record))

	nodeEnd := nodeStart.Add(50 * time.Millisecond)
	record.Status = models.NodeStatusSucceeded
	record.Output = map[string]any{"greet.output": "Hello Ada"}
	record.EndedAt = &nodeEnd
	record.ExecutionTimeMs = 50
	record.Cost = 0.001
	record.TokensConsumed = 4
	require.NoError(t, repo.UpdateNodeExecution(ctx, record))

	ended := nodeEnd.Add(time.Millisecond)
	execution.Status = models.ExecutionStatusCompleted
	execution.OutputResult = map[string]any{"result": "Hello Ada"}
	execution.EndedAt = &ended
	execution.TotalCost = 0.001
	execution.TotalTokens = 4
	require.NoError(t, repo.UpdateExecution(ctx, execution))

	loaded, err := repo.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, loaded.Status)
	assert.Equal(t, "Hello Ada", loaded.OutputResult["result"])
	assert.Equal(t, 4, loaded.TotalTokens)
	require.NotNil(t, loaded.EndedAt)

	records, err := repo.NodeExecutions(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.NodeStatusSucceeded, records[0].Status)
	assert.Equal(t, "Hello Ada", records[0].Output["greet.output"])
	assert.Equal(t, int64(50), records[0].ExecutionTimeMs)

	_, err = repo.GetExecution(ctx, "absent")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_ListExecutions(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.ExecutionRepository()

	base := time.Now().UTC().Truncate(time.Millisecond)

	for i := range 3 {
		execution := &models.FlowExecution{
			ID:        uuid.New().String(),
			FlowID:    "flow-a",
			Status:    models.ExecutionStatusCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.CreateExecution(ctx, execution))
	}

	executions, err := repo.ListExecutions(ctx, "flow-a", 2)
	require.NoError(t, err)
	require.Len(t, executions, 2)
	assert.True(t, executions[0].StartedAt.After(executions[1].StartedAt))
}
