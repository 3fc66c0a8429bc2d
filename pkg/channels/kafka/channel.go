// Package kafka provides the Kafka channel implementation for event delivery
// between services.
package kafka

import (
	"errors"
	"os"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/flowgrid/flowgrid/pkg/events"
)

// partitionByFlow keys messages by flow ID so every consumer sees the events
// of one flow in publish order. Messages without a flow ID fall back to their
// own UUID and may land on any partition.
func partitionByFlow(_ string, msg *message.Message) (string, error) {
	if flowID := msg.Metadata.Get(events.FlowIDMetadataKey); flowID != "" {
		return flowID, nil
	}

	return msg.UUID, nil
}

// CreateChannel creates a Kafka publisher and subscriber pair. Brokers come
// from the KAFKA_BROKERS environment variable; the consumer group is derived
// from the service name so each service gets its own offset tracking.
func CreateChannel(logger watermill.LoggerAdapter, serviceName string) (*kafka.Publisher, *kafka.Subscriber, error) {
	brokers := strings.Split(os.Getenv("KAFKA_BROKERS"), ",")
	if len(brokers) == 0 || brokers[0] == "" {
		return nil, nil, errors.New("KAFKA_BROKERS environment variable is not set or empty")
	}

	marshaler := kafka.NewWithPartitioningMarshaler(partitionByFlow)

	subscriberConfig := kafka.DefaultSaramaSubscriberConfig()
	subscriberConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	subscriber, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           marshaler,
			OverwriteSaramaConfig: subscriberConfig,
			ConsumerGroup:         "cg-" + serviceName,
			OTELEnabled:           true,
		},
		logger,
	)
	if err != nil {
		return nil, nil, err
	}

	publisherConfig := sarama.NewConfig()
	publisherConfig.Producer.Return.Successes = true

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             marshaler,
			OverwriteSaramaConfig: publisherConfig,
			OTELEnabled:           true,
		},
		logger,
	)
	if err != nil {
		return nil, nil, err
	}

	return publisher, subscriber, nil
}
