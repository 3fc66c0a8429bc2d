// Package eventbus publishes and consumes flow execution lifecycle events over
// a watermill publisher and subscriber pair.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/flowgrid/flowgrid/pkg/events"
)

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type EventSubscriber interface {
	Subscribe(ctx context.Context, handler EventHandler) error
}

type EventHandler func(ctx context.Context, event events.Event) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// eventFactories maps event types to their concrete decoders.
var eventFactories = map[events.EventType]func() events.Event{
	events.FlowExecutionStartedEvent:   func() events.Event { return &events.FlowExecutionStarted{} },
	events.FlowExecutionCompletedEvent: func() events.Event { return &events.FlowExecutionCompleted{} },
	events.FlowExecutionFailedEvent:    func() events.Event { return &events.FlowExecutionFailed{} },
	events.FlowExecutionCancelledEvent: func() events.Event { return &events.FlowExecutionCancelled{} },
	events.NodeExecutionStartedEvent:   func() events.Event { return &events.NodeExecutionStarted{} },
	events.NodeExecutionFinishedEvent:  func() events.Event { return &events.NodeExecutionFinished{} },
	events.NodeExecutionFailedEvent:    func() events.Event { return &events.NodeExecutionFailed{} },
	events.NodeExecutionSkippedEvent:   func() events.Event { return &events.NodeExecutionSkipped{} },
}

// WatermillEventBus routes all lifecycle events over the events.Topic topic,
// tagging each message with its event type for decoding on the consumer side.
type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:  pub,
		subscriber: sub,
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(_ context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.GetType(), err)
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))
	msg.Metadata.Set(events.FlowIDMetadataKey, event.GetFlowID())

	return eb.publisher.Publish(events.Topic, msg)
}

// Subscribe consumes the event topic and dispatches each decoded event to the
// handler. Messages with unknown types or failing handlers are nacked.
func (eb *WatermillEventBus) Subscribe(ctx context.Context, handler EventHandler) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			factory, ok := eventFactories[eventType]
			if !ok {
				msg.Nack()

				continue
			}

			event := factory()
			if err := json.Unmarshal(msg.Payload, event); err != nil {
				msg.Nack()

				continue
			}

			if err := handler(ctx, event); err != nil {
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (eb *WatermillEventBus) Close() error {
	if err := eb.publisher.Close(); err != nil {
		return err
	}

	return eb.subscriber.Close()
}
