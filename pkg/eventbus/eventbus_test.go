package eventbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/flowgrid/flowgrid/pkg/channels/gochannel"
	"github.com/flowgrid/flowgrid/pkg/eventbus"
	"github.com/flowgrid/flowgrid/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestPublishSubscribe_RoundTrip(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	var (
		mu       sync.Mutex
		received []events.Event
	)

	err := bus.Subscribe(ctx, func(_ context.Context, event events.Event) error {
		mu.Lock()
		defer mu.Unlock()

		received = append(received, event)

		return nil
	})
	require.NoError(t, err)

	started := events.FlowExecutionStarted{
		BaseEvent: events.NewBaseEvent(events.FlowExecutionStartedEvent, "flow-a", "exec-1"),
		FlowName:  "Greeting",
	}
	finished := events.NodeExecutionFinished{
		BaseEvent:  events.NewBaseEvent(events.NodeExecutionFinishedEvent, "flow-a", "exec-1"),
		NodeKey:    "greet",
		NodeType:   "prompt",
		DurationMs: 12,
	}

	require.NoError(t, bus.Publish(ctx, started))
	require.NoError(t, bus.Publish(ctx, finished))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(received) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	startedEvent, ok := received[0].(*events.FlowExecutionStarted)
	require.True(t, ok)
	assert.Equal(t, "Greeting", startedEvent.FlowName)
	assert.Equal(t, "exec-1", startedEvent.ExecutionID)

	finishedEvent, ok := received[1].(*events.NodeExecutionFinished)
	require.True(t, ok)
	assert.Equal(t, "greet", finishedEvent.NodeKey)
	assert.Equal(t, int64(12), finishedEvent.DurationMs)
}

func TestGenerateID_Unique(t *testing.T) {
	bus := newTestBus(t)

	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}
