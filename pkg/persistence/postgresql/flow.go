package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/persistence"
)

// FlowRepository handles flow-related database operations. Nodes and edges are
// stored as JSONB documents on the flow row, matching their lifecycle: a flow
// version is saved and loaded as a unit.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(db *sql.DB, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, logger: logger}
}

// List returns paginated and filtered flows.
func (r *FlowRepository) List(ctx context.Context, opts persistence.ListFlowsOptions) (*persistence.FlowListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	allowedSorts := map[string]string{
		"":           "created_at",
		"created_at": "created_at",
		"updated_at": "updated_at",
		"name":       "name",
	}

	sortColumn, ok := allowedSorts[opts.SortBy]
	if !ok {
		return nil, fmt.Errorf("invalid sort field: %s", opts.SortBy)
	}

	direction := "DESC"
	if opts.SortOrder == "asc" {
		direction = "ASC"
	}

	where := ""
	args := []any{}

	if opts.Status != nil {
		where = "WHERE status = $1"
		args = append(args, string(*opts.Status))
	}

	var totalCount int64

	countQuery := "SELECT COUNT(*) FROM flows " + where

	err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count flows: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, version, name, description, status, nodes, edges, variables, metadata, created_at, updated_at
		FROM flows
		%s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d
	`, where, sortColumn, direction, len(args)+1, len(args)+2)

	args = append(args, opts.Limit, opts.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	flows := make([]*models.Flow, 0, opts.Limit)

	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flows = append(flows, flow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	return &persistence.FlowListResult{
		Flows:       flows,
		TotalCount:  totalCount,
		HasNextPage: int64(opts.Offset+len(flows)) < totalCount,
	}, nil
}

// GetByID returns a flow by its ID.
func (r *FlowRepository) GetByID(ctx context.Context, flowID string) (*models.Flow, error) {
	query := `
		SELECT id, version, name, description, status, nodes, edges, variables, metadata, created_at, updated_at
		FROM flows
		WHERE id = $1
	`

	flow, err := scanFlow(r.db.QueryRowContext(ctx, query, flowID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewFlowError("GetByID", flowID, persistence.ErrFlowNotFound)
		}

		return nil, fmt.Errorf("failed to scan flow: %w", err)
	}

	return flow, nil
}

// Save upserts a flow, stamping timestamps.
func (r *FlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	nodesJSON, err := json.Marshal(flow.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	edgesJSON, err := json.Marshal(flow.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}

	variablesJSON, err := json.Marshal(flow.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}

	metadataJSON, err := json.Marshal(flow.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO flows (id, version, name, description, status, nodes, edges, variables, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			version = EXCLUDED.version,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			variables = EXCLUDED.variables,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		flow.ID, flow.Version, flow.Name, flow.Description, string(flow.Status),
		nodesJSON, edgesJSON, variablesJSON, metadataJSON,
		flow.CreatedAt, flow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save flow %s: %w", flow.ID, err)
	}

	return nil
}

// Delete removes a flow and its variant registrations.
func (r *FlowRepository) Delete(ctx context.Context, flowID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM flow_variants WHERE base_flow_id = $1", flowID)
	if err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("failed to delete variants of flow %s: %w", flowID, err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM flows WHERE id = $1", flowID)
	if err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("failed to delete flow %s: %w", flowID, err)
	}

	return tx.Commit()
}

// Variants returns the variants registered for a base flow, in registration order.
func (r *FlowRepository) Variants(ctx context.Context, baseFlowID string) ([]*models.FlowVariant, error) {
	query := `
		SELECT id, base_flow_id, flow_id, name, traffic_percentage, active
		FROM flow_variants
		WHERE base_flow_id = $1
		ORDER BY position ASC
	`

	rows, err := r.db.QueryContext(ctx, query, baseFlowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query variants: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	variants := make([]*models.FlowVariant, 0)

	for rows.Next() {
		variant := &models.FlowVariant{}

		err := rows.Scan(&variant.ID, &variant.BaseFlowID, &variant.FlowID, &variant.Name, &variant.TrafficPercentage, &variant.Active)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}

		variants = append(variants, variant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating variants: %w", err)
	}

	return variants, nil
}

// SaveVariant registers or updates a variant of a base flow.
func (r *FlowRepository) SaveVariant(ctx context.Context, variant *models.FlowVariant) error {
	query := `
		INSERT INTO flow_variants (id, base_flow_id, flow_id, name, traffic_percentage, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (base_flow_id, id) DO UPDATE SET
			flow_id = EXCLUDED.flow_id,
			name = EXCLUDED.name,
			traffic_percentage = EXCLUDED.traffic_percentage,
			active = EXCLUDED.active
	`

	_, err := r.db.ExecContext(ctx, query,
		variant.ID, variant.BaseFlowID, variant.FlowID, variant.Name, variant.TrafficPercentage, variant.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save variant %s: %w", variant.ID, err)
	}

	return nil
}

// DeleteVariant removes a variant registration from a base flow.
func (r *FlowRepository) DeleteVariant(ctx context.Context, baseFlowID, variantID string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM flow_variants WHERE base_flow_id = $1 AND id = $2", baseFlowID, variantID)
	if err != nil {
		return fmt.Errorf("failed to delete variant %s: %w", variantID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted variant %s: %w", variantID, err)
	}

	if affected == 0 {
		return persistence.NewFlowError("DeleteVariant", baseFlowID, persistence.ErrVariantNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlow(row rowScanner) (*models.Flow, error) {
	var (
		flow          models.Flow
		status        string
		nodesJSON     []byte
		edgesJSON     []byte
		variablesJSON []byte
		metadataJSON  []byte
	)

	err := row.Scan(
		&flow.ID, &flow.Version, &flow.Name, &flow.Description, &status,
		&nodesJSON, &edgesJSON, &variablesJSON, &metadataJSON,
		&flow.CreatedAt, &flow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	flow.Status = models.FlowStatus(status)

	if err := json.Unmarshal(nodesJSON, &flow.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	if err := json.Unmarshal(edgesJSON, &flow.Edges); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edges: %w", err)
	}

	if len(variablesJSON) > 0 {
		if err := json.Unmarshal(variablesJSON, &flow.Variables); err != nil {
			return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
		}
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &flow.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &flow, nil
}
