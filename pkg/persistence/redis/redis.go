// Package redis provides Redis persistence for flows and executions. Records
// are stored as JSON values under namespaced keys, with per-flow execution
// history kept in lists. Suited for deployments that already run Redis and
// want low-latency execution bookkeeping.
package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flowgrid/flowgrid/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "flowgrid"

// Persistence implements persistence.Persistence on a Redis server.
type Persistence struct {
	client        *redis.Client
	logger        *slog.Logger
	flowRepo      *FlowRepository
	executionRepo *ExecutionRepository
}

// NewPersistence connects to Redis using a redis:// URL.
func NewPersistence(ctx context.Context, logger *slog.Logger, redisURL string) (*Persistence, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	err = client.Ping(ctx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Persistence{
		client:        client,
		logger:        logger,
		flowRepo:      NewFlowRepository(client),
		executionRepo: NewExecutionRepository(client),
	}, nil
}

// Close closes the Redis connection.
func (p *Persistence) Close(_ context.Context) error {
	err := p.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close redis connection: %w", err)
	}

	return nil
}

// HealthCheck verifies the Redis connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

// FlowRepository returns the flow repository implementation.
func (p *Persistence) FlowRepository() persistence.FlowRepository {
	return p.flowRepo
}

// ExecutionRepository returns the execution repository implementation.
func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}
