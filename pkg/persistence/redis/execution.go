package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

// historyLimit caps the per-flow execution history list.
const historyLimit = 1000

// ExecutionRepository stores execution records as JSON values, node records in
// per-execution hashes, and per-flow history in capped lists (newest first).
type ExecutionRepository struct {
	client *redis.Client
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(client *redis.Client) *ExecutionRepository {
	return &ExecutionRepository{client: client}
}

func executionKey(executionID string) string {
	return keyPrefix + ":executions:" + executionID
}

func historyKey(flowID string) string {
	return keyPrefix + ":executions:flow:" + flowID
}

func nodeExecutionsKey(executionID string) string {
	return keyPrefix + ":node_executions:" + executionID
}

// CreateExecution writes a new execution record and prepends it to its flow's
// history list.
func (er *ExecutionRepository) CreateExecution(ctx context.Context, execution *models.FlowExecution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	pipe := er.client.TxPipeline()
	pipe.Set(ctx, executionKey(execution.ID), data, 0)
	pipe.LPush(ctx, historyKey(execution.FlowID), execution.ID)
	pipe.LTrim(ctx, historyKey(execution.FlowID), 0, historyLimit-1)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", execution.ID, err)
	}

	return nil
}

// UpdateExecution overwrites an existing execution record.
func (er *ExecutionRepository) UpdateExecution(ctx context.Context, execution *models.FlowExecution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	err = er.client.Set(ctx, executionKey(execution.ID), data, 0).Err()
	if err != nil {
		return fmt.Errorf("failed to update execution %s: %w", execution.ID, err)
	}

	return nil
}

// GetExecution retrieves an execution by its ID.
func (er *ExecutionRepository) GetExecution(ctx context.Context, executionID string) (*models.FlowExecution, error) {
	body, err := er.client.Get(ctx, executionKey(executionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewExecutionError("GetExecution", executionID, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to fetch execution %s: %w", executionID, err)
	}

	var execution models.FlowExecution

	err = json.Unmarshal(body, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", executionID, err)
	}

	return &execution, nil
}

// CreateNodeExecution writes a node execution record.
func (er *ExecutionRepository) CreateNodeExecution(ctx context.Context, record *models.NodeExecution) error {
	return er.writeNodeExecution(ctx, record)
}

// UpdateNodeExecution overwrites an existing node execution record.
func (er *ExecutionRepository) UpdateNodeExecution(ctx context.Context, record *models.NodeExecution) error {
	exists, err := er.client.HExists(ctx, nodeExecutionsKey(record.FlowExecutionID), record.ID).Result()
	if err != nil {
		return fmt.Errorf("failed to check node execution %s: %w", record.ID, err)
	}

	if !exists {
		return persistence.NewExecutionError("UpdateNodeExecution", record.FlowExecutionID, persistence.ErrNodeExecutionNotFound)
	}

	return er.writeNodeExecution(ctx, record)
}

func (er *ExecutionRepository) writeNodeExecution(ctx context.Context, record *models.NodeExecution) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal node execution %s: %w", record.ID, err)
	}

	err = er.client.HSet(ctx, nodeExecutionsKey(record.FlowExecutionID), record.ID, data).Err()
	if err != nil {
		return fmt.Errorf("failed to save node execution %s: %w", record.ID, err)
	}

	return nil
}

// NodeExecutions returns the per-node records of an execution in start order.
func (er *ExecutionRepository) NodeExecutions(ctx context.Context, executionID string) ([]*models.NodeExecution, error) {
	entries, err := er.client.HGetAll(ctx, nodeExecutionsKey(executionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch node executions of %s: %w", executionID, err)
	}

	records := make([]*models.NodeExecution, 0, len(entries))

	for id, body := range entries {
		var record models.NodeExecution

		err = json.Unmarshal([]byte(body), &record)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal node execution %s: %w", id, err)
		}

		records = append(records, &record)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].StartedAt == nil || records[j].StartedAt == nil {
			return records[j].StartedAt != nil
		}

		return records[i].StartedAt.Before(*records[j].StartedAt)
	})

	return records, nil
}

// ListExecutions returns the most recent executions of a flow, newest first.
func (er *ExecutionRepository) ListExecutions(ctx context.Context, flowID string, limit int) ([]*models.FlowExecution, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	executionIDs, err := er.client.LRange(ctx, historyKey(flowID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions of flow %s: %w", flowID, err)
	}

	executions := make([]*models.FlowExecution, 0, len(executionIDs))

	for _, executionID := range executionIDs {
		execution, err := er.GetExecution(ctx, executionID)
		if err != nil {
			if persistence.IsExecutionNotFound(err) {
				continue
			}

			return nil, err
		}

		executions = append(executions, execution)
	}

	return executions, nil
}
