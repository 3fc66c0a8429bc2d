package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

// FlowRepository stores flows as JSON values and variants as JSON lists.
type FlowRepository struct {
	client *redis.Client
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(client *redis.Client) *FlowRepository {
	return &FlowRepository{client: client}
}

func flowKey(flowID string) string {
	return keyPrefix + ":flows:" + flowID
}

func flowIndexKey() string {
	return keyPrefix + ":flows"
}

func variantsKey(baseFlowID string) string {
	return keyPrefix + ":variants:" + baseFlowID
}

// List returns paginated and filtered flows with in-memory operations.
func (fr *FlowRepository) List(ctx context.Context, opts persistence.ListFlowsOptions) (*persistence.FlowListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	if opts.SortBy == "" {
		opts.SortBy = "created_at"
	}

	if opts.SortOrder == "" {
		opts.SortOrder = "desc"
	}

	allowedSorts := map[string]bool{
		"created_at": true,
		"updated_at": true,
		"name":       true,
	}
	if !allowedSorts[opts.SortBy] {
		return nil, fmt.Errorf("invalid sort field: %s", opts.SortBy)
	}

	flowIDs, err := fr.client.SMembers(ctx, flowIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list flow IDs: %w", err)
	}

	filtered := make([]*models.Flow, 0, len(flowIDs))

	for _, flowID := range flowIDs {
		flow, err := fr.GetByID(ctx, flowID)
		if err != nil {
			if persistence.IsFlowNotFound(err) {
				continue
			}

			return nil, err
		}

		if opts.Status != nil && flow.Status != *opts.Status {
			continue
		}

		filtered = append(filtered, flow)
	}

	sortFlows(filtered, opts.SortBy, opts.SortOrder)

	totalCount := int64(len(filtered))
	startIdx := opts.Offset
	endIdx := opts.Offset + opts.Limit

	if startIdx >= len(filtered) {
		return &persistence.FlowListResult{
			Flows:       make([]*models.Flow, 0),
			TotalCount:  totalCount,
			HasNextPage: false,
		}, nil
	}

	if endIdx > len(filtered) {
		endIdx = len(filtered)
	}

	return &persistence.FlowListResult{
		Flows:       filtered[startIdx:endIdx],
		TotalCount:  totalCount,
		HasNextPage: endIdx < len(filtered),
	}, nil
}

func sortFlows(flows []*models.Flow, sortBy, sortOrder string) {
	sort.Slice(flows, func(i, j int) bool {
		var less bool

		switch sortBy {
		case "updated_at":
			less = flows[i].UpdatedAt.Before(flows[j].UpdatedAt)
		case "name":
			less = flows[i].Name < flows[j].Name
		default:
			less = flows[i].CreatedAt.Before(flows[j].CreatedAt)
		}

		if sortOrder == "desc" {
			return !less
		}

		return less
	})
}

// GetByID retrieves a flow by its ID.
func (fr *FlowRepository) GetByID(ctx context.Context, flowID string) (*models.Flow, error) {
	body, err := fr.client.Get(ctx, flowKey(flowID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewFlowError("GetByID", flowID, persistence.ErrFlowNotFound)
		}

		return nil, fmt.Errorf("failed to fetch flow %s: %w", flowID, err)
	}

	var flow models.Flow

	err = json.Unmarshal(body, &flow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow %s: %w", flowID, err)
	}

	return &flow, nil
}

// Save saves a flow and indexes its ID, stamping timestamps.
func (fr *FlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to marshal flow %s: %w", flow.ID, err)
	}

	pipe := fr.client.TxPipeline()
	pipe.Set(ctx, flowKey(flow.ID), data, 0)
	pipe.SAdd(ctx, flowIndexKey(), flow.ID)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save flow %s: %w", flow.ID, err)
	}

	return nil
}

// Delete removes a flow, its index entry, and its variant registrations.
func (fr *FlowRepository) Delete(ctx context.Context, flowID string) error {
	pipe := fr.client.TxPipeline()
	pipe.Del(ctx, flowKey(flowID))
	pipe.Del(ctx, variantsKey(flowID))
	pipe.SRem(ctx, flowIndexKey(), flowID)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete flow %s: %w", flowID, err)
	}

	return nil
}

// Variants returns the variants registered for a base flow, in registration order.
func (fr *FlowRepository) Variants(ctx context.Context, baseFlowID string) ([]*models.FlowVariant, error) {
	body, err := fr.client.Get(ctx, variantsKey(baseFlowID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*models.FlowVariant{}, nil
		}

		return nil, fmt.Errorf("failed to fetch variants of flow %s: %w", baseFlowID, err)
	}

	var variants []*models.FlowVariant

	err = json.Unmarshal(body, &variants)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal variants of flow %s: %w", baseFlowID, err)
	}

	return variants, nil
}

// SaveVariant registers or updates a variant of a base flow.
func (fr *FlowRepository) SaveVariant(ctx context.Context, variant *models.FlowVariant) error {
	variants, err := fr.Variants(ctx, variant.BaseFlowID)
	if err != nil {
		return err
	}

	replaced := false

	for i, existing := range variants {
		if existing.ID == variant.ID {
			variants[i] = variant
			replaced = true

			break
		}
	}

	if !replaced {
		variants = append(variants, variant)
	}

	return fr.writeVariants(ctx, variant.BaseFlowID, variants)
}

// DeleteVariant removes a variant registration from a base flow.
func (fr *FlowRepository) DeleteVariant(ctx context.Context, baseFlowID, variantID string) error {
	variants, err := fr.Variants(ctx, baseFlowID)
	if err != nil {
		return err
	}

	for i, variant := range variants {
		if variant.ID == variantID {
			variants = append(variants[:i], variants[i+1:]...)

			return fr.writeVariants(ctx, baseFlowID, variants)
		}
	}

	return persistence.NewFlowError("DeleteVariant", baseFlowID, persistence.ErrVariantNotFound)
}

func (fr *FlowRepository) writeVariants(ctx context.Context, baseFlowID string, variants []*models.FlowVariant) error {
	data, err := json.Marshal(variants)
	if err != nil {
		return fmt.Errorf("failed to marshal variants of flow %s: %w", baseFlowID, err)
	}

	err = fr.client.Set(ctx, variantsKey(baseFlowID), data, 0).Err()
	if err != nil {
		return fmt.Errorf("failed to save variants of flow %s: %w", baseFlowID, err)
	}

	return nil
}
