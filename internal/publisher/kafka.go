package publisher

import (
	"context"
	"fmt"
	"time"

	"task-service/internal/domain"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	log "github.com/sirupsen/logrus"
)

const deliveryTimeout = 10 * time.Second

// KafkaForwarder writes change events to a Kafka topic, keyed by entity so
// that one partition sees every change of an instance in order.
type KafkaForwarder struct {
	producer *kafka.Producer
	topic    string
}

func NewKafkaForwarder(bootstrapServers, topic string) (*KafkaForwarder, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  bootstrapServers,
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	log.WithField("topic", topic).Info("Change event Kafka producer created")

	return &KafkaForwarder{producer: p, topic: topic}, nil
}

// Handle produces the event and waits for the broker acknowledgement.
func (f *KafkaForwarder) Handle(ctx context.Context, event domain.ChangeEvent) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}

	deliveryChan := make(chan kafka.Event, 1)

	if err := f.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &f.topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.Key()),
		Value:          payload,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(event.Action.Label())},
		},
	}, deliveryChan); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	timer := time.NewTimer(deliveryTimeout)
	defer timer.Stop()

	select {
	case e := <-deliveryChan:
		msg, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected event type: %T", e)
		}
		if msg.TopicPartition.Error != nil {
			return fmt.Errorf("delivery failed: %w", msg.TopicPartition.Error)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("delivery timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *KafkaForwarder) Close() {
	log.Info("Closing change event Kafka producer...")
	if remaining := f.producer.Flush(15 * 1000); remaining > 0 {
		log.WithField("unflushed", remaining).Warn("Kafka producer closed with undelivered messages")
	}
	f.producer.Close()
}
