// Package file provides file-based persistence for flows and executions.
// Records are stored as JSON documents under a root directory, which keeps
// local development and tests free of external services.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/flowgrid/flowgrid/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local file system.
type Persistence struct {
	root          string
	flowRepo      *FlowRepository
	executionRepo *ExecutionRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
// A "file://" prefix on the root is accepted and stripped.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:          cleanRoot,
		flowRepo:      NewFlowRepository(cleanRoot),
		executionRepo: NewExecutionRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. There is nothing to clean up for files.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// FlowRepository returns the flow repository implementation.
func (fp *Persistence) FlowRepository() persistence.FlowRepository {
	return fp.flowRepo
}

// ExecutionRepository returns the execution repository implementation.
func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}
