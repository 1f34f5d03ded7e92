package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/overtonx/paygate/inbox"
	"github.com/overtonx/paygate/metrics"
)

// Message is one consumed event, already stripped of transport framing.
type Message struct {
	ID        string // unique dedupe key
	Topic     string
	EventType string
	Key       string
	Payload   []byte
}

// Handler processes one message. A returned error routes the message to the
// dead letter topic; the broker never redelivers it.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg Message) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

const pollTimeout = time.Second

// Consumer reads topics with manual commits and idempotent dispatch. Each
// message is deduped against the inbox before its handler runs; a handler
// failure is recorded, dead lettered and committed, so a poison message can
// never loop.
type Consumer struct {
	consumer *kafka.Consumer
	producer Producer
	inbox    inbox.Store
	handlers map[string]Handler
	logger   *zap.Logger
	metrics  metrics.Collector
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerMetrics sets the metrics collector.
func WithConsumerMetrics(collector metrics.Collector) ConsumerOption {
	return func(c *Consumer) {
		c.metrics = collector
	}
}

// NewConsumer creates a consumer in the given group. handlers maps each
// subscribed topic to its handler; dlqProducer receives failed messages.
func NewConsumer(brokers, group string, handlers map[string]Handler, inboxStore inbox.Store, dlqProducer Producer, logger *zap.Logger, opts ...ConsumerOption) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	kc, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"group.id":           group,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	c := &Consumer{
		consumer: kc,
		producer: dlqProducer,
		inbox:    inboxStore,
		handlers: handlers,
		logger:   logger,
		metrics:  metrics.NewNopCollector(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run consumes until ctx is cancelled. Offsets are committed only after a
// message is fully dispatched, success or dead letter alike.
func (c *Consumer) Run(ctx context.Context) error {
	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		topics = append(topics, topic)
	}
	if err := c.consumer.SubscribeTopics(topics, nil); err != nil {
		return fmt.Errorf("failed to subscribe to %v: %w", topics, err)
	}
	c.logger.Info("Consumer started", zap.Strings("topics", topics))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer stopping")
			return c.consumer.Close()
		default:
		}

		raw, err := c.consumer.ReadMessage(pollTimeout)
		if err != nil {
			var kafkaErr kafka.Error
			if errors.As(err, &kafkaErr) && kafkaErr.IsTimeout() {
				continue
			}
			c.logger.Error("Failed to read message", zap.Error(err))
			continue
		}

		if err := c.dispatch(ctx, decodeMessage(raw)); err != nil {
			// Dispatch errors are infrastructure failures (inbox or DLQ
			// unreachable). Leave the offset uncommitted so the message is
			// redelivered; the inbox absorbs any duplicate effects.
			c.logger.Error("Dispatch failed, message will be redelivered", zap.Error(err))
			continue
		}

		if _, err := c.consumer.CommitMessage(raw); err != nil {
			c.logger.Error("Failed to commit offset", zap.Error(err))
		}
	}
}

// dispatch runs the idempotent per-message protocol: dedupe, handle, record.
func (c *Consumer) dispatch(ctx context.Context, msg Message) error {
	logFields := []zap.Field{
		zap.String("message_id", msg.ID),
		zap.String("topic", msg.Topic),
		zap.String("event_type", msg.EventType),
	}

	processed, err := c.inbox.IsProcessed(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("inbox check failed: %w", err)
	}
	if processed {
		c.metrics.IncrementCounter("consumer.duplicates", map[string]string{"topic": msg.Topic})
		c.logger.Debug("Duplicate message skipped", logFields...)
		return nil
	}

	handler, ok := c.handlers[msg.Topic]
	if !ok {
		return fmt.Errorf("no handler for topic %s", msg.Topic)
	}

	if err := handler.Handle(ctx, msg); err != nil {
		c.metrics.IncrementCounter("consumer.failures", map[string]string{"topic": msg.Topic})
		c.logger.Error("Handler failed, dead lettering message",
			append(logFields, zap.Error(err))...)
		return c.deadLetter(ctx, msg)
	}

	// Handlers that need the dedupe record inside their own atomic scope
	// have already written it; this duplicate insert is then a no-op.
	if _, err := c.inbox.MarkProcessed(ctx, msg.ID, msg.EventType, msg.Payload); err != nil {
		return fmt.Errorf("inbox record failed: %w", err)
	}

	c.metrics.IncrementCounter("consumer.processed", map[string]string{"topic": msg.Topic})
	return nil
}

// deadLetter records the failure and parks the message on the DLQ. The
// original offset is still committed afterwards; there is no broker requeue.
func (c *Consumer) deadLetter(ctx context.Context, msg Message) error {
	if err := c.inbox.MarkFailed(ctx, msg.ID, msg.EventType, msg.Payload); err != nil {
		return fmt.Errorf("inbox failure record failed: %w", err)
	}

	headers := map[string]string{
		HeaderMessageID: msg.ID,
		HeaderEventType: msg.EventType,
	}
	if err := c.producer.Produce(ctx, DLQTopic(msg.Topic), msg.Key, msg.Payload, headers); err != nil {
		return fmt.Errorf("dead letter produce failed: %w", err)
	}

	c.metrics.IncrementCounter("consumer.dead_lettered", map[string]string{"topic": msg.Topic})
	return nil
}

// decodeMessage extracts the dedupe id and event type from headers, falling
// back to the message key for the id.
func decodeMessage(raw *kafka.Message) Message {
	msg := Message{
		Topic:   topicName(raw),
		Key:     string(raw.Key),
		Payload: raw.Value,
	}
	for _, h := range raw.Headers {
		switch h.Key {
		case HeaderMessageID:
			msg.ID = string(h.Value)
		case HeaderEventType:
			msg.EventType = string(h.Value)
		}
	}
	if msg.ID == "" {
		msg.ID = msg.Key
	}
	return msg
}
