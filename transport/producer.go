// Package transport carries events over Kafka: a durable producer, the
// outbox-to-topic publisher, and the idempotent consumer loop feeding the
// handlers.
package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// Producer sends one message to a topic. Implementations must persist the
// message durably before reporting success downstream.
type Producer interface {
	Produce(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
	Close() error
}

// KafkaProducer is the confluent-kafka-go backed Producer. The producer is
// idempotent with full acks so a broker-side retry cannot duplicate or drop
// a message.
type KafkaProducer struct {
	logger   *zap.Logger
	producer *kafka.Producer
	props    kafka.ConfigMap
}

// KafkaProducerOption configures a KafkaProducer.
type KafkaProducerOption func(*KafkaProducer)

// WithProducerProperty overrides one librdkafka property.
func WithProducerProperty(key string, value any) KafkaProducerOption {
	return func(p *KafkaProducer) {
		p.props[key] = value
	}
}

// NewKafkaProducer creates a producer for the given brokers.
func NewKafkaProducer(brokers string, logger *zap.Logger, opts ...KafkaProducerOption) (*KafkaProducer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &KafkaProducer{
		logger: logger,
		props: kafka.ConfigMap{
			"bootstrap.servers":  brokers,
			"acks":               "all",
			"retries":            3,
			"linger.ms":          10,
			"enable.idempotence": true,
			"compression.type":   "snappy",
		},
	}
	for _, opt := range opts {
		opt(p)
	}

	producer, err := kafka.NewProducer(&p.props)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	p.producer = producer

	go p.handleDeliveryReports()

	return p, nil
}

// Produce implements Producer. Delivery is awaited so a broker failure
// surfaces to the caller instead of only in the report loop.
func (p *KafkaProducer) Produce(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	kafkaHeaders := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		kafkaHeaders = append(kafkaHeaders, kafka.Header{Key: k, Value: []byte(v)})
	}

	deliveryChan := make(chan kafka.Event, 1)
	message := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
		Headers:        kafkaHeaders,
		Timestamp:      time.Now(),
	}
	if err := p.producer.Produce(message, deliveryChan); err != nil {
		return fmt.Errorf("failed to produce to %s: %w", topic, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-deliveryChan:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %T", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("delivery to %s failed: %w", topic, m.TopicPartition.Error)
		}
		return nil
	}
}

// Close flushes outstanding messages and closes the producer.
func (p *KafkaProducer) Close() error {
	p.logger.Info("Closing kafka producer")
	p.producer.Flush(15 * 1000)
	p.producer.Close()
	return nil
}

func (p *KafkaProducer) handleDeliveryReports() {
	for e := range p.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				p.logger.Error("Delivery failed",
					zap.String("topic", topicName(ev)),
					zap.Error(ev.TopicPartition.Error))
			}
		case kafka.Error:
			p.logger.Error("Kafka error", zap.Error(ev))
		}
	}
}

func topicName(m *kafka.Message) string {
	if m.TopicPartition.Topic == nil {
		return ""
	}
	return *m.TopicPartition.Topic
}

// DLQTopic returns the dead letter topic paired with a source topic.
func DLQTopic(topic string) string {
	if strings.HasSuffix(topic, ".dlq") {
		return topic
	}
	return topic + ".dlq"
}
