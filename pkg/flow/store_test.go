package flow_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/pkg/flow"
)

func TestVariableStore_SeedAndGet(t *testing.T) {
	store := flow.NewVariableStore()
	store.Seed(map[string]any{"name": "Ada", "count": 3})

	value, ok := store.Get("name")
	require.True(t, ok)
	assert.Equal(t, "Ada", value)

	_, ok = store.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 2, store.Len())
}

func TestVariableStore_CommitOverwrites(t *testing.T) {
	store := flow.NewVariableStore()
	store.Seed(map[string]any{"name": "Ada"})
	store.Commit(map[string]any{"name": "Grace", "greet.output": "Hello Grace"})

	value, ok := store.Get("name")
	require.True(t, ok)
	assert.Equal(t, "Grace", value)

	value, ok = store.Get("greet.output")
	require.True(t, ok)
	assert.Equal(t, "Hello Grace", value)
}

func TestVariableStore_SnapshotIsACopy(t *testing.T) {
	store := flow.NewVariableStore()
	store.Seed(map[string]any{"x": 1})

	snapshot := store.Snapshot()
	snapshot["x"] = 99
	snapshot["injected"] = true

	value, ok := store.Get("x")
	require.True(t, ok)
	assert.Equal(t, 1, value)

	_, ok = store.Get("injected")
	assert.False(t, ok)
}

func TestVariableStore_ConcurrentCommits(t *testing.T) {
	store := flow.NewVariableStore()

	var waitGroup sync.WaitGroup

	for i := range 50 {
		waitGroup.Add(1)

		go func(i int) {
			defer waitGroup.Done()
			store.Commit(map[string]any{"shared": i})
		}(i)
	}

	waitGroup.Wait()

	_, ok := store.Get("shared")
	assert.True(t, ok)
	assert.Equal(t, 1, store.Len())
}
