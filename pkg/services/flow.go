package services

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/flowgrid/flowgrid/pkg/flow"
	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/persistence"
	"github.com/flowgrid/flowgrid/pkg/registry"
)

// ErrFlowNotFound is returned when a flow is not found.
var ErrFlowNotFound = persistence.ErrFlowNotFound

// FlowService manages flow definitions and their variants. Graph soundness is
// enforced on activation; drafts may be structurally incomplete.
type FlowService struct {
	persistence persistence.Persistence
	registry    *registry.Registry
}

// NewFlowService creates a flow service.
func NewFlowService(persistence persistence.Persistence, registry *registry.Registry) *FlowService {
	return &FlowService{
		persistence: persistence,
		registry:    registry,
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *FlowService) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := s.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListFlowsRequest contains options for listing flows.
type ListFlowsRequest struct {
	// Pagination
	Limit  int `validate:"min=1,max=100"`
	Offset int `validate:"min=0"`

	// Filtering
	Status *models.FlowStatus

	// Sorting
	SortBy    string `validate:"oneof=created_at updated_at name"`
	SortOrder string `validate:"oneof=asc desc"`
}

// ListFlowsResponse contains the result of listing flows.
type ListFlowsResponse struct {
	Flows       []*models.Flow `json:"flows"`
	TotalCount  int64          `json:"total_count"`
	HasNextPage bool           `json:"has_next_page"`
}

// ListFlows retrieves flows with filtering, sorting, and pagination.
func (s *FlowService) ListFlows(ctx context.Context, req ListFlowsRequest) (*ListFlowsResponse, error) {
	if err := s.validateListFlowsRequest(&req); err != nil {
		return nil, err
	}

	result, err := s.persistence.FlowRepository().List(ctx, persistence.ListFlowsOptions{
		Limit:     req.Limit,
		Offset:    req.Offset,
		Status:    req.Status,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	return &ListFlowsResponse{
		Flows:       result.Flows,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
	}, nil
}

func (s *FlowService) validateListFlowsRequest(req *ListFlowsRequest) error {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	if req.Limit > 100 {
		req.Limit = 100
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.SortBy == "" {
		req.SortBy = "created_at"
	}

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}

	allowedSorts := []string{"created_at", "updated_at", "name"}
	if !slices.Contains(allowedSorts, req.SortBy) {
		return NewValidationError(
			"ListFlows",
			"INVALID_SORT_FIELD",
			fmt.Sprintf("invalid sort field %q, allowed: %s", req.SortBy, strings.Join(allowedSorts, ", ")),
			ErrInvalidSortField,
		)
	}

	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		return NewValidationError(
			"ListFlows",
			"INVALID_SORT_ORDER",
			fmt.Sprintf("invalid sort order %q, allowed: asc, desc", req.SortOrder),
			ErrInvalidSortOrder,
		)
	}

	if req.Status != nil {
		switch *req.Status {
		case models.FlowStatusDraft, models.FlowStatusActive, models.FlowStatusArchived:
		default:
			return NewValidationError(
				"ListFlows",
				"INVALID_STATUS",
				fmt.Sprintf("invalid flow status %q", *req.Status),
				ErrInvalidStatus,
			)
		}
	}

	return nil
}

// FetchByID returns a flow by ID.
func (s *FlowService) FetchByID(ctx context.Context, flowID string) (*models.Flow, error) {
	return s.persistence.FlowRepository().GetByID(ctx, flowID)
}

// Create stores a new draft flow. Node configurations are validated against
// their schemas immediately; graph soundness is only enforced on activation.
func (s *FlowService) Create(ctx context.Context, newFlow *models.Flow) (*models.Flow, error) {
	if newFlow == nil {
		return nil, ErrFlowNil
	}

	if strings.TrimSpace(newFlow.Name) == "" {
		return nil, ErrFlowNameRequired
	}

	if err := s.validateNodeConfigs(newFlow); err != nil {
		return nil, err
	}

	if newFlow.ID == "" {
		newFlow.ID = uuid.NewString()
	}

	if newFlow.Version <= 0 {
		newFlow.Version = 1
	}

	if newFlow.Status == "" {
		newFlow.Status = models.FlowStatusDraft
	}

	if err := s.persistence.FlowRepository().Save(ctx, newFlow); err != nil {
		return nil, fmt.Errorf("failed to save flow: %w", err)
	}

	return newFlow, nil
}

// Update replaces the definition of a draft flow. Active and archived flows
// are immutable; activate a new version instead.
func (s *FlowService) Update(ctx context.Context, flowID string, updated *models.Flow) (*models.Flow, error) {
	if updated == nil {
		return nil, ErrFlowNil
	}

	existing, err := s.persistence.FlowRepository().GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	switch existing.Status {
	case models.FlowStatusActive:
		return nil, ErrCannotModifyActive
	case models.FlowStatusArchived:
		return nil, ErrCannotModifyArchived
	case models.FlowStatusDraft:
	}

	if err := s.validateNodeConfigs(updated); err != nil {
		return nil, err
	}

	updated.ID = existing.ID
	updated.Version = existing.Version
	updated.Status = existing.Status
	updated.CreatedAt = existing.CreatedAt

	if err := s.persistence.FlowRepository().Save(ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to save flow: %w", err)
	}

	return updated, nil
}

// Activate validates a draft flow's graph and marks it executable.
func (s *FlowService) Activate(ctx context.Context, flowID string) (*models.Flow, error) {
	existing, err := s.persistence.FlowRepository().GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if existing.Status == models.FlowStatusArchived {
		return nil, ErrCannotModifyArchived
	}

	if result := flow.Validate(existing); !result.Valid() {
		return nil, NewValidationError(
			"Activate",
			"FLOW_INVALID",
			strings.Join(result.Errors, "; "),
			ErrFlowInvalid,
		)
	}

	existing.Status = models.FlowStatusActive

	if err := s.persistence.FlowRepository().Save(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to save flow: %w", err)
	}

	return existing, nil
}

// Archive retires a flow. Archived flows keep their execution history but can
// no longer run.
func (s *FlowService) Archive(ctx context.Context, flowID string) (*models.Flow, error) {
	existing, err := s.persistence.FlowRepository().GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	existing.Status = models.FlowStatusArchived

	if err := s.persistence.FlowRepository().Save(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to save flow: %w", err)
	}

	return existing, nil
}

// Delete removes a draft or archived flow and its variants.
func (s *FlowService) Delete(ctx context.Context, flowID string) error {
	existing, err := s.persistence.FlowRepository().GetByID(ctx, flowID)
	if err != nil {
		return err
	}

	if existing.Status == models.FlowStatusActive {
		return ErrCannotDeleteActive
	}

	return s.persistence.FlowRepository().Delete(ctx, flowID)
}

// Validate checks a stored flow's graph without executing it.
func (s *FlowService) Validate(ctx context.Context, flowID string) (*flow.ValidationResult, error) {
	existing, err := s.persistence.FlowRepository().GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	result := flow.Validate(existing)

	// Surface node config schema violations alongside structural problems.
	for _, node := range existing.Nodes {
		if s.registry == nil || !s.registry.IsRegistered(node.Type) {
			continue
		}

		if err := s.registry.ValidateNodeConfig(node); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("node %q: %v", node.Key, err))
		}
	}

	return result, nil
}

func (s *FlowService) validateNodeConfigs(checked *models.Flow) error {
	if s.registry == nil {
		return nil
	}

	for _, node := range checked.Nodes {
		if !s.registry.IsRegistered(node.Type) {
			return NewValidationError(
				"validateNodeConfigs",
				"UNKNOWN_NODE_TYPE",
				fmt.Sprintf("node %q has unknown type %q", node.Key, node.Type),
				ErrInvalidRequest,
			)
		}

		if err := s.registry.ValidateNodeConfig(node); err != nil {
			return NewValidationError(
				"validateNodeConfigs",
				"INVALID_NODE_CONFIG",
				fmt.Sprintf("node %q: %v", node.Key, err),
				ErrInvalidRequest,
			)
		}
	}

	return nil
}

// Variants returns the variants registered for a base flow.
func (s *FlowService) Variants(ctx context.Context, baseFlowID string) ([]*models.FlowVariant, error) {
	if _, err := s.persistence.FlowRepository().GetByID(ctx, baseFlowID); err != nil {
		return nil, err
	}

	return s.persistence.FlowRepository().Variants(ctx, baseFlowID)
}

// SaveVariant registers or updates an experiment variant for a base flow.
// The combined traffic of all variants must not exceed 100 percent.
func (s *FlowService) SaveVariant(ctx context.Context, variant *models.FlowVariant) (*models.FlowVariant, error) {
	if variant == nil {
		return nil, ErrInvalidRequest
	}

	if variant.TrafficPercentage < 0 || variant.TrafficPercentage > 100 {
		return nil, NewValidationError(
			"SaveVariant",
			"INVALID_TRAFFIC",
			fmt.Sprintf("traffic percentage %.2f is out of range [0, 100]", variant.TrafficPercentage),
			ErrInvalidRequest,
		)
	}

	if _, err := s.persistence.FlowRepository().GetByID(ctx, variant.BaseFlowID); err != nil {
		return nil, err
	}

	if _, err := s.persistence.FlowRepository().GetByID(ctx, variant.FlowID); err != nil {
		return nil, err
	}

	existing, err := s.persistence.FlowRepository().Variants(ctx, variant.BaseFlowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load variants: %w", err)
	}

	if variant.ID == "" {
		variant.ID = uuid.NewString()
	}

	total := variant.TrafficPercentage

	for _, other := range existing {
		if other.ID != variant.ID && other.Active {
			total += other.TrafficPercentage
		}
	}

	if variant.Active && total > 100 {
		return nil, NewValidationError(
			"SaveVariant",
			"TRAFFIC_OVERFLOW",
			fmt.Sprintf("active variants would route %.2f%% of traffic", total),
			ErrTrafficOverflow,
		)
	}

	if err := s.persistence.FlowRepository().SaveVariant(ctx, variant); err != nil {
		return nil, fmt.Errorf("failed to save variant: %w", err)
	}

	return variant, nil
}

// DeleteVariant removes a variant from a base flow.
func (s *FlowService) DeleteVariant(ctx context.Context, baseFlowID, variantID string) error {
	return s.persistence.FlowRepository().DeleteVariant(ctx, baseFlowID, variantID)
}
