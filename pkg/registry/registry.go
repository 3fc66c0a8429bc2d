// Package registry holds the node executor factories known to the engine and
// validates node configuration against each factory's schema.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// NodeTypeInfo describes a registered node type for API listings.
type NodeTypeInfo struct {
	Type        models.NodeType `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      map[string]any  `json:"schema"`
}

type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	factories map[models.NodeType]protocol.NodeExecutorFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger.With("module", "registry"),
		factories: make(map[models.NodeType]protocol.NodeExecutorFactory),
	}
}

// RegisterNode registers a factory, replacing any previous factory for the
// same node type.
func (r *Registry) RegisterNode(factory protocol.NodeExecutorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[factory.Type()] = factory
	r.logger.Debug("Registered node factory", "node_type", factory.Type())
}

// CreateExecutor creates an executor for the given node type.
func (r *Registry) CreateExecutor(ctx context.Context, nodeType models.NodeType) (protocol.NodeExecutor, error) {
	r.mu.RLock()
	factory, ok := r.factories[nodeType]
	r.mu.RUnlock()

	if !ok {
		return nil, models.NewExecutionError(
			models.ErrKindValidation,
			fmt.Sprintf("node type %q is not registered", nodeType),
		)
	}

	return factory.Create(ctx)
}

// IsRegistered reports whether a node type has a factory.
func (r *Registry) IsRegistered(nodeType models.NodeType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.factories[nodeType]

	return ok
}

// NodeTypes returns metadata for every registered node type, sorted by type.
func (r *Registry) NodeTypes() []NodeTypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]NodeTypeInfo, 0, len(r.factories))
	for _, factory := range r.factories {
		infos = append(infos, NodeTypeInfo{
			Type:        factory.Type(),
			Name:        factory.Name(),
			Description: factory.Description(),
			Schema:      factory.Schema(),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Type < infos[j].Type })

	return infos
}

// ValidateNodeConfig checks a node's configuration against the JSON schema
// published by its factory. An unregistered node type is itself an error.
func (r *Registry) ValidateNodeConfig(node *models.Node) error {
	r.mu.RLock()
	factory, ok := r.factories[node.Type]
	r.mu.RUnlock()

	if !ok {
		return models.NewExecutionError(
			models.ErrKindValidation,
			fmt.Sprintf("node %q has unregistered type %q", node.Key, node.Type),
		)
	}

	schemaJSON, err := json.Marshal(factory.Schema())
	if err != nil {
		return models.WrapExecutionError(models.ErrKindInternal, "failed to encode node schema", err)
	}

	config := node.Config
	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return models.WrapExecutionError(models.ErrKindInternal, "failed to validate node config", err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}

	return models.NewExecutionError(
		models.ErrKindValidation,
		fmt.Sprintf("node %q config is invalid: %s", node.Key, strings.Join(details, "; ")),
	)
}
