package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/overtonx/paygate/breaker"
	"github.com/overtonx/paygate/metrics"
)

const (
	defaultBatchSize  = 50
	defaultMaxRetries = 3
)

// Relay drains pending outbox entries and publishes them to the transport.
//
// Each tick fetches a bounded batch, claims it with the conditional
// pending-to-processing update, then delivers entries one by one through the
// transport circuit breaker. A failed entry returns to the retry path until
// its retry count reaches the threshold, after which only an operator reset
// can revive it.
type Relay struct {
	store      Store
	publisher  Publisher
	breaker    *breaker.Breaker
	logger     *zap.Logger
	metrics    metrics.Collector
	backoff    Backoff
	maxRetries int
	batchSize  int
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRelayBatchSize sets the per-tick batch size.
func WithRelayBatchSize(size int) RelayOption {
	return func(r *Relay) {
		r.batchSize = size
	}
}

// WithRelayMaxRetries sets the permanent-failure threshold.
func WithRelayMaxRetries(maxRetries int) RelayOption {
	return func(r *Relay) {
		r.maxRetries = maxRetries
	}
}

// WithRelayBackoff sets the per-entry retry backoff.
func WithRelayBackoff(b Backoff) RelayOption {
	return func(r *Relay) {
		r.backoff = b
	}
}

// WithRelayMetrics sets the metrics collector.
func WithRelayMetrics(collector metrics.Collector) RelayOption {
	return func(r *Relay) {
		r.metrics = collector
	}
}

// NewRelay creates a relay publishing through the given breaker-protected
// transport.
func NewRelay(store Store, publisher Publisher, brk *breaker.Breaker, logger *zap.Logger, opts ...RelayOption) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Relay{
		store:      store,
		publisher:  publisher,
		breaker:    brk,
		logger:     logger,
		metrics:    metrics.NewNopCollector(),
		backoff:    DefaultBackoff(),
		maxRetries: defaultMaxRetries,
		batchSize:  defaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Process is the workFunc executed on every relay tick.
func (r *Relay) Process(ctx context.Context) error {
	start := time.Now()

	entries, err := r.fetchAndClaim(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch outbox entries: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	r.logger.Info("Claimed outbox entries for delivery", zap.Int("count", len(entries)))
	r.metrics.RecordGauge("outbox_relay.batch_size", float64(len(entries)), nil)

	published, failed := 0, 0
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			r.logger.Warn("Context cancelled during outbox batch", zap.Error(ctx.Err()))
			return ctx.Err()
		default:
		}

		if err := r.deliver(ctx, entry); err != nil {
			failed++
		} else {
			published++
		}
	}

	r.logger.Info("Outbox batch completed",
		zap.Int("published", published),
		zap.Int("failed", failed))
	r.metrics.RecordDuration("outbox_relay.duration", time.Since(start), nil)

	return nil
}

// fetchAndClaim fetches a pending batch and keeps only the entries this
// instance claimed; entries grabbed by a concurrent relay are dropped.
func (r *Relay) fetchAndClaim(ctx context.Context) ([]Entry, error) {
	entries, err := r.store.GetPending(ctx, r.batchSize)
	if err != nil || len(entries) == 0 {
		return nil, err
	}

	ids := make([]int64, len(entries))
	for i, entry := range entries {
		ids[i] = entry.ID
	}

	claimed, err := r.store.MarkProcessing(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to claim entries: %w", err)
	}
	if len(claimed) < len(entries) {
		r.logger.Debug("Some entries were claimed by another relay instance",
			zap.Int("fetched", len(entries)),
			zap.Int("claimed", len(claimed)))
	}

	claimedSet := make(map[int64]struct{}, len(claimed))
	for _, id := range claimed {
		claimedSet[id] = struct{}{}
	}

	mine := entries[:0]
	for _, entry := range entries {
		if _, ok := claimedSet[entry.ID]; ok {
			mine = append(mine, entry)
		}
	}
	return mine, nil
}

func (r *Relay) deliver(ctx context.Context, entry Entry) error {
	entryFields := []zap.Field{
		zap.Int64("entry_id", entry.ID),
		zap.String("event_id", entry.EventID),
		zap.String("event_type", string(entry.EventType)),
		zap.String("aggregate_id", entry.AggregateID),
	}

	// Re-attempts wait out the exponential backoff seeded from the retry
	// count; the first attempt goes straight through.
	if entry.RetryCount > 0 {
		delay := r.backoff.Delay(entry.RetryCount)
		r.logger.Debug("Delaying entry re-attempt",
			append(entryFields, zap.Duration("delay", delay))...)
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}

	err := r.breaker.Do(ctx, func(ctx context.Context) error {
		return r.publisher.Publish(ctx, entry)
	})
	if err != nil {
		r.metrics.IncrementCounter("outbox_relay.publish_failed", map[string]string{"event_type": string(entry.EventType)})
		r.logger.Error("Failed to publish entry", append(entryFields, zap.Error(err))...)
		return r.recordFailure(ctx, entry, err)
	}

	if err := r.store.MarkCompleted(ctx, entry.ID); err != nil {
		r.metrics.IncrementCounter("outbox_relay.mark_completed_failed", map[string]string{"event_type": string(entry.EventType)})
		r.logger.Error("Failed to mark entry as completed", append(entryFields, zap.Error(err))...)
		// The event went out but the status write was lost. The stuck-entry
		// sweep will requeue it and the inbox dedupes the duplicate.
		return err
	}

	r.metrics.IncrementCounter("outbox_relay.publish_success", map[string]string{"event_type": string(entry.EventType)})
	r.logger.Info("Entry published", entryFields...)
	return nil
}

func (r *Relay) recordFailure(ctx context.Context, entry Entry, publishErr error) error {
	if err := r.store.MarkFailed(ctx, entry.ID, publishErr.Error()); err != nil {
		r.logger.Error("Failed to mark entry as failed",
			zap.Int64("entry_id", entry.ID),
			zap.Error(err))
		return err
	}

	attempt := entry.RetryCount + 1
	if attempt >= r.maxRetries {
		r.metrics.IncrementCounter("outbox_relay.permanently_failed", map[string]string{"event_type": string(entry.EventType)})
		r.logger.Error("Entry permanently failed, operator reset required",
			zap.Int64("entry_id", entry.ID),
			zap.Int("retry_count", attempt),
			zap.Error(publishErr))
	} else {
		r.logger.Warn("Entry will be retried",
			zap.Int64("entry_id", entry.ID),
			zap.Int("retry_count", attempt),
			zap.Int("max_retries", r.maxRetries))
	}
	return publishErr
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
