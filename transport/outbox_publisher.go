package transport

import (
	"context"

	"go.uber.org/zap"

	"github.com/overtonx/paygate/errs"
	"github.com/overtonx/paygate/outbox"
)

// Header keys carried on every published event.
const (
	HeaderMessageID = "message_id"
	HeaderEventType = "event_type"
)

// TopicRouting maps event categories to topics. Bank responses are not
// routed here; the command handler produces them directly.
type TopicRouting struct {
	TransactionTopic string
	WebhookTopic     string
}

// OutboxPublisher adapts a Producer to the outbox Publisher: it routes each
// entry to its topic and carries the entry's event id as the transport
// message id, which is what the consumer-side dedupe keys on.
type OutboxPublisher struct {
	producer Producer
	routing  TopicRouting
	logger   *zap.Logger
}

// NewOutboxPublisher creates a publisher with the given routing.
func NewOutboxPublisher(producer Producer, routing TopicRouting, logger *zap.Logger) *OutboxPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxPublisher{
		producer: producer,
		routing:  routing,
		logger:   logger,
	}
}

// Publish implements outbox.Publisher.
func (p *OutboxPublisher) Publish(ctx context.Context, entry outbox.Entry) error {
	topic, err := p.topicFor(entry.EventType)
	if err != nil {
		return err
	}

	headers := map[string]string{
		HeaderMessageID: entry.EventID,
		HeaderEventType: string(entry.EventType),
	}
	if err := p.producer.Produce(ctx, topic, entry.AggregateID, entry.Payload, headers); err != nil {
		return err
	}

	p.logger.Debug("Event published",
		zap.String("event_id", entry.EventID),
		zap.String("event_type", string(entry.EventType)),
		zap.String("topic", topic))
	return nil
}

// Close implements outbox.Publisher.
func (p *OutboxPublisher) Close() error {
	return p.producer.Close()
}

func (p *OutboxPublisher) topicFor(eventType outbox.EventType) (string, error) {
	switch eventType {
	case outbox.EventTransactionCreated, outbox.EventRefundRequested, outbox.EventChargebackRequested:
		return p.routing.TransactionTopic, nil
	case outbox.EventWebhookNotification:
		return p.routing.WebhookTopic, nil
	default:
		return "", errs.Newf(errs.CodePermanent, "no topic routing for event type %q", eventType)
	}
}
