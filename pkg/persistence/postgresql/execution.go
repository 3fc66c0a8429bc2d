package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/persistence"
)

// ExecutionRepository handles execution-record database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// CreateExecution writes a new execution record.
func (r *ExecutionRepository) CreateExecution(ctx context.Context, execution *models.FlowExecution) error {
	return r.upsertExecution(ctx, execution)
}

// UpdateExecution overwrites an existing execution record.
func (r *ExecutionRepository) UpdateExecution(ctx context.Context, execution *models.FlowExecution) error {
	return r.upsertExecution(ctx, execution)
}

func (r *ExecutionRepository) upsertExecution(ctx context.Context, execution *models.FlowExecution) error {
	inputJSON, err := json.Marshal(execution.InputVariables)
	if err != nil {
		return fmt.Errorf("failed to marshal input variables: %w", err)
	}

	outputJSON, err := json.Marshal(execution.OutputResult)
	if err != nil {
		return fmt.Errorf("failed to marshal output result: %w", err)
	}

	query := `
		INSERT INTO flow_executions (id, flow_id, flow_version, variant_id, input_variables, output_result,
			status, started_at, ended_at, total_cost, total_tokens, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			output_result = EXCLUDED.output_result,
			status = EXCLUDED.status,
			ended_at = EXCLUDED.ended_at,
			total_cost = EXCLUDED.total_cost,
			total_tokens = EXCLUDED.total_tokens,
			error_message = EXCLUDED.error_message
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID, execution.FlowID, execution.FlowVersion, nullString(execution.VariantID),
		inputJSON, outputJSON, string(execution.Status), execution.StartedAt, execution.EndedAt,
		execution.TotalCost, execution.TotalTokens, nullString(execution.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", execution.ID, err)
	}

	return nil
}

// GetExecution retrieves an execution by its ID.
func (r *ExecutionRepository) GetExecution(ctx context.Context, executionID string) (*models.FlowExecution, error) {
	query := `
		SELECT id, flow_id, flow_version, variant_id, input_variables, output_result,
			status, started_at, ended_at, total_cost, total_tokens, error_message
		FROM flow_executions
		WHERE id = $1
	`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, executionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetExecution", executionID, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// CreateNodeExecution writes a node execution record.
func (r *ExecutionRepository) CreateNodeExecution(ctx context.Context, record *models.NodeExecution) error {
	return r.upsertNodeExecution(ctx, record, true)
}

// UpdateNodeExecution overwrites an existing node execution record.
func (r *ExecutionRepository) UpdateNodeExecution(ctx context.Context, record *models.NodeExecution) error {
	return r.upsertNodeExecution(ctx, record, false)
}

func (r *ExecutionRepository) upsertNodeExecution(ctx context.Context, record *models.NodeExecution, create bool) error {
	inputJSON, err := json.Marshal(record.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal node input: %w", err)
	}

	outputJSON, err := json.Marshal(record.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal node output: %w", err)
	}

	if create {
		query := `
			INSERT INTO node_executions (id, flow_execution_id, node_id, node_key, node_type, status,
				input, output, started_at, ended_at, execution_time_ms, cost, tokens_consumed, error_message, retry_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`

		_, err = r.db.ExecContext(ctx, query,
			record.ID, record.FlowExecutionID, record.NodeID, record.NodeKey, string(record.NodeType),
			string(record.Status), inputJSON, outputJSON, record.StartedAt, record.EndedAt,
			record.ExecutionTimeMs, record.Cost, record.TokensConsumed, nullString(record.ErrorMessage), record.RetryCount,
		)
		if err != nil {
			return fmt.Errorf("failed to create node execution %s: %w", record.ID, err)
		}

		return nil
	}

	query := `
		UPDATE node_executions SET
			status = $2, input = $3, output = $4, started_at = $5, ended_at = $6,
			execution_time_ms = $7, cost = $8, tokens_consumed = $9, error_message = $10, retry_count = $11
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		record.ID, string(record.Status), inputJSON, outputJSON, record.StartedAt, record.EndedAt,
		record.ExecutionTimeMs, record.Cost, record.TokensConsumed, nullString(record.ErrorMessage), record.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("failed to update node execution %s: %w", record.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated node execution %s: %w", record.ID, err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("UpdateNodeExecution", record.FlowExecutionID, persistence.ErrNodeExecutionNotFound)
	}

	return nil
}

// NodeExecutions returns the per-node records of an execution in start order.
func (r *ExecutionRepository) NodeExecutions(ctx context.Context, executionID string) ([]*models.NodeExecution, error) {
	query := `
		SELECT id, flow_execution_id, node_id, node_key, node_type, status,
			input, output, started_at, ended_at, execution_time_ms, cost, tokens_consumed, error_message, retry_count
		FROM node_executions
		WHERE flow_execution_id = $1
		ORDER BY started_at ASC NULLS FIRST
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query node executions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	records := make([]*models.NodeExecution, 0)

	for rows.Next() {
		record, err := scanNodeExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node execution: %w", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node executions: %w", err)
	}

	return records, nil
}

// ListExecutions returns the most recent executions of a flow, newest first.
func (r *ExecutionRepository) ListExecutions(ctx context.Context, flowID string, limit int) ([]*models.FlowExecution, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT id, flow_id, flow_version, variant_id, input_variables, output_result,
			status, started_at, ended_at, total_cost, total_tokens, error_message
		FROM flow_executions
		WHERE flow_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, flowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.FlowExecution, 0, limit)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func scanExecution(row rowScanner) (*models.FlowExecution, error) {
	var (
		execution    models.FlowExecution
		status       string
		variantID    sql.NullString
		errorMessage sql.NullString
		inputJSON    []byte
		outputJSON   []byte
	)

	err := row.Scan(
		&execution.ID, &execution.FlowID, &execution.FlowVersion, &variantID,
		&inputJSON, &outputJSON, &status, &execution.StartedAt, &execution.EndedAt,
		&execution.TotalCost, &execution.TotalTokens, &errorMessage,
	)
	if err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatus(status)
	execution.VariantID = variantID.String
	execution.ErrorMessage = errorMessage.String

	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &execution.InputVariables); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input variables: %w", err)
		}
	}

	if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &execution.OutputResult); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output result: %w", err)
		}
	}

	return &execution, nil
}

func scanNodeExecution(row rowScanner) (*models.NodeExecution, error) {
	var (
		record       models.NodeExecution
		nodeType     string
		status       string
		errorMessage sql.NullString
		inputJSON    []byte
		outputJSON   []byte
	)

	err := row.Scan(
		&record.ID, &record.FlowExecutionID, &record.NodeID, &record.NodeKey, &nodeType, &status,
		&inputJSON, &outputJSON, &record.StartedAt, &record.EndedAt,
		&record.ExecutionTimeMs, &record.Cost, &record.TokensConsumed, &errorMessage, &record.RetryCount,
	)
	if err != nil {
		return nil, err
	}

	record.NodeType = models.NodeType(nodeType)
	record.Status = models.NodeExecutionStatus(status)
	record.ErrorMessage = errorMessage.String

	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &record.Input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node input: %w", err)
		}
	}

	if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &record.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node output: %w", err)
		}
	}

	return &record, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
