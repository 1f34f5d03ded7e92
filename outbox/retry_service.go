package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/overtonx/paygate/metrics"
)

const (
	defaultStuckTimeout = 10 * time.Minute
)

// RetryService requeues retryable failures and recovers entries abandoned in
// the processing state by a crashed relay. It also surfaces permanently failed
// entries so operators can find them without querying the table directly.
type RetryService struct {
	store        Store
	logger       *zap.Logger
	metrics      metrics.Collector
	maxRetries   int
	stuckTimeout time.Duration
}

// RetryServiceOption configures a RetryService.
type RetryServiceOption func(*RetryService)

// WithRetryMaxRetries sets the permanent-failure threshold.
func WithRetryMaxRetries(maxRetries int) RetryServiceOption {
	return func(s *RetryService) {
		s.maxRetries = maxRetries
	}
}

// WithStuckTimeout sets how long an entry may sit in processing before the
// sweep considers its relay dead and requeues it.
func WithStuckTimeout(timeout time.Duration) RetryServiceOption {
	return func(s *RetryService) {
		s.stuckTimeout = timeout
	}
}

// WithRetryMetrics sets the metrics collector.
func WithRetryMetrics(collector metrics.Collector) RetryServiceOption {
	return func(s *RetryService) {
		s.metrics = collector
	}
}

// NewRetryService creates a retry sweep over the given store.
func NewRetryService(store Store, logger *zap.Logger, opts ...RetryServiceOption) *RetryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &RetryService{
		store:        store,
		logger:       logger,
		metrics:      metrics.NewNopCollector(),
		maxRetries:   defaultMaxRetries,
		stuckTimeout: defaultStuckTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process is the workFunc executed on every sweep tick.
func (s *RetryService) Process(ctx context.Context) error {
	requeued, err := s.store.RetryFailed(ctx, s.maxRetries)
	if err != nil {
		return fmt.Errorf("failed to requeue failed entries: %w", err)
	}
	if requeued > 0 {
		s.logger.Info("Requeued failed entries", zap.Int64("count", requeued))
		s.metrics.IncrementCounter("outbox_retry.requeued", nil)
	}

	recovered, err := s.store.ResetStuck(ctx, time.Now().Add(-s.stuckTimeout))
	if err != nil {
		return fmt.Errorf("failed to reset stuck entries: %w", err)
	}
	if recovered > 0 {
		s.logger.Warn("Recovered entries stuck in processing",
			zap.Int64("count", recovered),
			zap.Duration("stuck_timeout", s.stuckTimeout))
		s.metrics.IncrementCounter("outbox_retry.recovered_stuck", nil)
	}

	dead, err := s.store.GetPermanentlyFailed(ctx, s.maxRetries)
	if err != nil {
		return fmt.Errorf("failed to list permanently failed entries: %w", err)
	}
	if len(dead) > 0 {
		s.metrics.RecordGauge("outbox_retry.permanently_failed", float64(len(dead)), nil)
		for _, entry := range dead {
			s.logger.Error("Entry awaiting operator reset",
				zap.Int64("entry_id", entry.ID),
				zap.String("event_id", entry.EventID),
				zap.String("event_type", string(entry.EventType)),
				zap.Int("retry_count", entry.RetryCount),
				zap.String("last_error", entry.LastError))
		}
	}

	return nil
}

// Reset returns a permanently failed entry to the retry path. Intended for
// operator tooling after the underlying cause is fixed.
func (s *RetryService) Reset(ctx context.Context, entryID int64) error {
	if err := s.store.ResetEntry(ctx, entryID); err != nil {
		return fmt.Errorf("failed to reset entry %d: %w", entryID, err)
	}
	s.logger.Info("Entry reset by operator", zap.Int64("entry_id", entryID))
	return nil
}
