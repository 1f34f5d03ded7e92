// Package webhook delivers signed transaction notifications to merchant
// endpoints. Delivery is a fire-and-forget side effect of settlement: its
// outcome never feeds back into transaction state.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/overtonx/paygate/merchant"
	"github.com/overtonx/paygate/metrics"
	"github.com/overtonx/paygate/outbox"
	"github.com/overtonx/paygate/signing"
)

// Signature headers attached to every delivery.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	defaultTimeout     = 10 * time.Second
)

// Deliverer posts notifications to every URL a merchant has configured.
// Each URL retries independently with exponential backoff; the delivery as a
// whole fails only when every URL exhausts its attempts.
type Deliverer struct {
	merchants   merchant.Store
	client      *http.Client
	logger      *zap.Logger
	metrics     metrics.Collector
	maxAttempts uint
	baseDelay   time.Duration
}

// DelivererOption configures a Deliverer.
type DelivererOption func(*Deliverer)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) DelivererOption {
	return func(d *Deliverer) {
		d.client = client
	}
}

// WithMaxAttempts sets the per-URL attempt budget.
func WithMaxAttempts(attempts uint) DelivererOption {
	return func(d *Deliverer) {
		d.maxAttempts = attempts
	}
}

// WithBaseDelay sets the first retry delay; later delays double it.
func WithBaseDelay(delay time.Duration) DelivererOption {
	return func(d *Deliverer) {
		d.baseDelay = delay
	}
}

// WithDelivererMetrics sets the metrics collector.
func WithDelivererMetrics(collector metrics.Collector) DelivererOption {
	return func(d *Deliverer) {
		d.metrics = collector
	}
}

// NewDeliverer creates a deliverer signing with each merchant's secret.
func NewDeliverer(merchants merchant.Store, logger *zap.Logger, opts ...DelivererOption) *Deliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deliverer{
		merchants:   merchants,
		client:      &http.Client{Timeout: defaultTimeout},
		logger:      logger,
		metrics:     metrics.NewNopCollector(),
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver implements the consumer's deliverer contract.
func (d *Deliverer) Deliver(ctx context.Context, notification outbox.WebhookNotification) error {
	m, err := d.merchants.Get(ctx, notification.MerchantID)
	if err != nil {
		return err
	}
	if len(m.WebhookURLs) == 0 {
		d.logger.Debug("Merchant has no webhook endpoints",
			zap.String("merchant_id", m.ID))
		return nil
	}

	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	payload, err := signing.BuildPayload(notification, timestamp)
	if err != nil {
		return fmt.Errorf("build signing payload: %w", err)
	}
	sig := signing.Sign(payload, m.APISecret)

	delivered := 0
	for _, url := range m.WebhookURLs {
		if err := d.deliverURL(ctx, url, body, sig, timestamp); err != nil {
			d.metrics.IncrementCounter("webhook.url_failed", nil)
			d.logger.Warn("Webhook endpoint exhausted its retries",
				zap.String("merchant_id", m.ID),
				zap.String("url", url),
				zap.Error(err))
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return fmt.Errorf("webhook delivery failed for all %d endpoints of merchant %s", len(m.WebhookURLs), m.ID)
	}
	d.logger.Info("Webhook delivered",
		zap.String("merchant_id", m.ID),
		zap.Int("delivered", delivered),
		zap.Int("endpoints", len(m.WebhookURLs)))
	return nil
}

// deliverURL posts to one endpoint with exponential backoff. The delays
// double from the base with no jitter, so three attempts wait 1s then 2s by
// default.
func (d *Deliverer) deliverURL(ctx context.Context, url string, body []byte, sig, timestamp string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.baseDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = 2

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, d.post(ctx, url, body, sig, timestamp)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(d.maxAttempts))
	return err
}

func (d *Deliverer) post(ctx context.Context, url string, body []byte, sig, timestamp string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, sig)
	req.Header.Set(HeaderTimestamp, timestamp)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}
