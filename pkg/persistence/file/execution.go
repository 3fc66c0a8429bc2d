package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/persistence"
)

// ExecutionRepository stores execution records under <root>/executions and the
// per-node trace of each execution under <root>/node_executions/<execution>.json.
type ExecutionRepository struct {
	root string
	mu   sync.Mutex
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

// CreateExecution writes a new execution record.
func (er *ExecutionRepository) CreateExecution(ctx context.Context, execution *models.FlowExecution) error {
	return er.writeExecution(execution)
}

// UpdateExecution overwrites an existing execution record.
func (er *ExecutionRepository) UpdateExecution(ctx context.Context, execution *models.FlowExecution) error {
	return er.writeExecution(execution)
}

// GetExecution retrieves an execution by its ID.
func (er *ExecutionRepository) GetExecution(_ context.Context, executionID string) (*models.FlowExecution, error) {
	filePath := filepath.Clean(path.Join(er.root, "executions", executionID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
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

// CreateNodeExecution appends a node execution record to its execution's trace.
func (er *ExecutionRepository) CreateNodeExecution(_ context.Context, record *models.NodeExecution) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	records, err := er.readNodeExecutions(record.FlowExecutionID)
	if err != nil {
		return err
	}

	records = append(records, record)

	return er.writeNodeExecutions(record.FlowExecutionID, records)
}

// UpdateNodeExecution replaces a node execution record in its execution's trace.
func (er *ExecutionRepository) UpdateNodeExecution(_ context.Context, record *models.NodeExecution) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	records, err := er.readNodeExecutions(record.FlowExecutionID)
	if err != nil {
		return err
	}

	for i, existing := range records {
		if existing.ID == record.ID {
			records[i] = record

			return er.writeNodeExecutions(record.FlowExecutionID, records)
		}
	}

	return persistence.NewExecutionError("UpdateNodeExecution", record.FlowExecutionID, persistence.ErrNodeExecutionNotFound)
}

// NodeExecutions returns the per-node records of an execution in start order.
func (er *ExecutionRepository) NodeExecutions(_ context.Context, executionID string) ([]*models.NodeExecution, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	records, err := er.readNodeExecutions(executionID)
	if err != nil {
		return nil, err
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

	root := os.DirFS(path.Join(er.root, "executions"))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list execution files: %w", err)
	}

	executions := make([]*models.FlowExecution, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		executionID := file[:len(file)-5]

		execution, err := er.GetExecution(ctx, executionID)
		if err != nil {
			if persistence.IsExecutionNotFound(err) {
				continue
			}

			return nil, err
		}

		if execution.FlowID == flowID {
			executions = append(executions, execution)
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	if len(executions) > limit {
		executions = executions[:limit]
	}

	return executions, nil
}

func (er *ExecutionRepository) writeExecution(execution *models.FlowExecution) error {
	err := os.MkdirAll(path.Join(er.root, "executions"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create executions directory: %w", err)
	}

	data, err := json.MarshalIndent(execution, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	filePath := path.Join(er.root, "executions", execution.ID+".json")

	return os.WriteFile(filePath, data, 0600)
}

func (er *ExecutionRepository) readNodeExecutions(executionID string) ([]*models.NodeExecution, error) {
	filePath := filepath.Clean(path.Join(er.root, "node_executions", executionID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.NodeExecution{}, nil
		}

		return nil, fmt.Errorf("failed to fetch node executions of %s: %w", executionID, err)
	}

	var records []*models.NodeExecution

	err = json.Unmarshal(body, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal node executions of %s: %w", executionID, err)
	}

	return records, nil
}

func (er *ExecutionRepository) writeNodeExecutions(executionID string, records []*models.NodeExecution) error {
	err := os.MkdirAll(path.Join(er.root, "node_executions"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create node_executions directory: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal node executions of %s: %w", executionID, err)
	}

	filePath := path.Join(er.root, "node_executions", executionID+".json")

	return os.WriteFile(filePath, data, 0600)
}
