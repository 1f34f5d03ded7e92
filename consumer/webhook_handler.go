package consumer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/overtonx/paygate/metrics"
	"github.com/overtonx/paygate/outbox"
	"github.com/overtonx/paygate/transport"
)

// Deliverer pushes one notification to a merchant's endpoints.
type Deliverer interface {
	Deliver(ctx context.Context, notification outbox.WebhookNotification) error
}

// WebhookHandler consumes webhook-notification events and hands them to the
// deliverer. Delivery outcomes never feed back into transaction state; a
// failed delivery only dead letters the notification message.
type WebhookHandler struct {
	deliverer Deliverer
	logger    *zap.Logger
	metrics   metrics.Collector
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(deliverer Deliverer, logger *zap.Logger, collector metrics.Collector) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if collector == nil {
		collector = metrics.NewNopCollector()
	}
	return &WebhookHandler{
		deliverer: deliverer,
		logger:    logger,
		metrics:   collector,
	}
}

// Handle implements transport.Handler.
func (h *WebhookHandler) Handle(ctx context.Context, msg transport.Message) error {
	payload, err := outbox.DecodePayload(outbox.EventWebhookNotification, msg.Payload)
	if err != nil {
		return fmt.Errorf("decode webhook notification: %w", err)
	}
	notification, ok := payload.(outbox.WebhookNotification)
	if !ok {
		return fmt.Errorf("unexpected webhook payload %T", payload)
	}

	if err := h.deliverer.Deliver(ctx, notification); err != nil {
		h.metrics.IncrementCounter("webhook_handler.delivery_failed", nil)
		return err
	}

	h.metrics.IncrementCounter("webhook_handler.delivered", nil)
	h.logger.Info("Webhook delivered",
		zap.String("transaction_id", notification.TransactionID),
		zap.String("merchant_id", notification.MerchantID))
	return nil
}
