// Package providers implements the model provider gateway: a routing layer
// that maps model identifiers to registered AI backends and normalizes their
// responses, costs and error shapes.
package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/protocol"
)

// Gateway routes completion requests to registered providers. Providers are
// registered at process startup by the hosting application; after that the
// routing tables are read-mostly and safe for concurrent use.
type Gateway struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	routes   map[string]protocol.Provider // Exact model identifier -> provider
	prefixes map[string]protocol.Provider // Model identifier prefix -> provider
}

// NewGateway creates an empty gateway.
func NewGateway(logger *slog.Logger) *Gateway {
	return &Gateway{
		logger:   logger.With("module", "provider_gateway"),
		routes:   make(map[string]protocol.Provider),
		prefixes: make(map[string]protocol.Provider),
	}
}

// RegisterModel routes an exact model identifier to a provider.
func (g *Gateway) RegisterModel(model string, provider protocol.Provider) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.routes[model] = provider
}

// RegisterPrefix routes every model identifier with the given prefix to a
// provider. Exact routes win over prefixes; longer prefixes win over shorter.
func (g *Gateway) RegisterPrefix(prefix string, provider protocol.Provider) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.prefixes[prefix] = provider
}

// SelectProvider resolves the provider for a model identifier.
func (g *Gateway) SelectProvider(model string) (protocol.Provider, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if provider, ok := g.routes[model]; ok {
		return provider, nil
	}

	// Longest-prefix match, deterministic under equal-length candidates.
	prefixes := make([]string, 0, len(g.prefixes))
	for prefix := range g.prefixes {
		prefixes = append(prefixes, prefix)
	}

	sort.Slice(prefixes, func(i, j int) bool {
		if len(prefixes[i]) != len(prefixes[j]) {
			return len(prefixes[i]) > len(prefixes[j])
		}

		return prefixes[i] < prefixes[j]
	})

	for _, prefix := range prefixes {
		if strings.HasPrefix(model, prefix) {
			return g.prefixes[prefix], nil
		}
	}

	return nil, models.NewExecutionError(
		models.ErrKindUnknownProvider,
		fmt.Sprintf("no provider registered for model %q", model),
	)
}

// Complete routes the request to a provider, measures wall-clock latency and
// normalizes the error shape. Context cancellation is reported as Cancelled,
// a context deadline as a retryable ProviderTimeout.
func (g *Gateway) Complete(ctx context.Context, req *protocol.CompletionRequest) (*protocol.CompletionResponse, error) {
	provider, err := g.SelectProvider(req.Model)
	if err != nil {
		return nil, err
	}

	started := time.Now()

	resp, err := provider.Complete(ctx, req)

	latency := time.Since(started)

	if err != nil {
		classified := classify(err)

		g.logger.DebugContext(ctx, "provider call failed",
			"provider", provider.Name(),
			"model", req.Model,
			"error_kind", classified.Kind,
			"latency", latency,
		)

		return nil, classified
	}

	resp.Latency = latency
	if resp.Model == "" {
		resp.Model = req.Model
	}

	return resp, nil
}

// classify normalizes provider errors to the engine's error taxonomy.
// Providers that already return *models.ExecutionError pass through untouched.
func classify(err error) *models.ExecutionError {
	var execErr *models.ExecutionError
	if errors.As(err, &execErr) {
		return execErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.WrapExecutionError(models.ErrKindProviderTimeout, "provider call timed out", err)
	case errors.Is(err, context.Canceled):
		return models.WrapExecutionError(models.ErrKindCancelled, "provider call cancelled", err)
	default:
		return models.WrapExecutionError(models.ErrKindProviderTransient, "provider call failed", err)
	}
}
