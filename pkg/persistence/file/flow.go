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
	"time"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/persistence"
)

// FlowRepository stores flows under <root>/flows and variants under
// <root>/variants, one JSON file per flow or variant set.
type FlowRepository struct {
	root string
	mu   sync.Mutex
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(root string) *FlowRepository {
	return &FlowRepository{root: root}
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

	root := os.DirFS(path.Join(fr.root, "flows"))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list flow files: %w", err)
	}

	allFlows := make([]*models.Flow, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		flowID := file[:len(file)-5] // Remove .json extension

		flow, err := fr.GetByID(ctx, flowID)
		if err != nil {
			if persistence.IsFlowNotFound(err) {
				continue
			}

			return nil, err
		}

		allFlows = append(allFlows, flow)
	}

	filtered := make([]*models.Flow, 0, len(allFlows))

	for _, flow := range allFlows {
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

// GetByID retrieves a flow by its ID from the file system.
func (fr *FlowRepository) GetByID(_ context.Context, flowID string) (*models.Flow, error) {
	filePath := filepath.Clean(path.Join(fr.root, "flows", flowID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
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

// Save saves a flow to the file system, stamping timestamps.
func (fr *FlowRepository) Save(_ context.Context, flow *models.Flow) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	err := os.MkdirAll(path.Join(fr.root, "flows"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create flows directory: %w", err)
	}

	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	data, err := json.MarshalIndent(flow, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal flow %s: %w", flow.ID, err)
	}

	filePath := path.Join(fr.root, "flows", flow.ID+".json")

	return os.WriteFile(filePath, data, 0600)
}

// Delete removes a flow and its variant registrations.
func (fr *FlowRepository) Delete(_ context.Context, flowID string) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	filePath := path.Join(fr.root, "flows", flowID+".json")

	err := os.Remove(filePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete flow %s: %w", flowID, err)
	}

	variantPath := path.Join(fr.root, "variants", flowID+".json")

	err = os.Remove(variantPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete variants of flow %s: %w", flowID, err)
	}

	return nil
}

// Variants returns the variants registered for a base flow, in registration order.
func (fr *FlowRepository) Variants(_ context.Context, baseFlowID string) ([]*models.FlowVariant, error) {
	return fr.readVariants(baseFlowID)
}

// SaveVariant registers or updates a variant of a base flow.
func (fr *FlowRepository) SaveVariant(_ context.Context, variant *models.FlowVariant) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	variants, err := fr.readVariants(variant.BaseFlowID)
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

	return fr.writeVariants(variant.BaseFlowID, variants)
}

// DeleteVariant removes a variant registration from a base flow.
func (fr *FlowRepository) DeleteVariant(_ context.Context, baseFlowID, variantID string) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	variants, err := fr.readVariants(baseFlowID)
	if err != nil {
		return err
	}

	for i, variant := range variants {
		if variant.ID == variantID {
			variants = append(variants[:i], variants[i+1:]...)

			return fr.writeVariants(baseFlowID, variants)
		}
	}

	return persistence.NewFlowError("DeleteVariant", baseFlowID, persistence.ErrVariantNotFound)
}

func (fr *FlowRepository) readVariants(baseFlowID string) ([]*models.FlowVariant, error) {
	filePath := filepath.Clean(path.Join(fr.root, "variants", baseFlowID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
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

func (fr *FlowRepository) writeVariants(baseFlowID string, variants []*models.FlowVariant) error {
	err := os.MkdirAll(path.Join(fr.root, "variants"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create variants directory: %w", err)
	}

	data, err := json.MarshalIndent(variants, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal variants of flow %s: %w", baseFlowID, err)
	}

	filePath := path.Join(fr.root, "variants", baseFlowID+".json")

	return os.WriteFile(filePath, data, 0600)
}
