package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/overtonx/paygate/metrics"
)

const (
	defaultRetention = 7 * 24 * time.Hour
)

// CleanupService removes completed entries older than the retention window so
// the outbox table stays bounded.
type CleanupService struct {
	store     Store
	logger    *zap.Logger
	metrics   metrics.Collector
	retention time.Duration
}

// CleanupServiceOption configures a CleanupService.
type CleanupServiceOption func(*CleanupService)

// WithRetention sets how long completed entries are kept.
func WithRetention(retention time.Duration) CleanupServiceOption {
	return func(s *CleanupService) {
		s.retention = retention
	}
}

// WithCleanupMetrics sets the metrics collector.
func WithCleanupMetrics(collector metrics.Collector) CleanupServiceOption {
	return func(s *CleanupService) {
		s.metrics = collector
	}
}

// NewCleanupService creates a cleanup sweep over the given store.
func NewCleanupService(store Store, logger *zap.Logger, opts ...CleanupServiceOption) *CleanupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &CleanupService{
		store:     store,
		logger:    logger,
		metrics:   metrics.NewNopCollector(),
		retention: defaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process is the workFunc executed on every cleanup tick.
func (s *CleanupService) Process(ctx context.Context) error {
	cutoff := time.Now().Add(-s.retention)

	deleted, err := s.store.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete completed entries: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("Deleted old completed entries",
			zap.Int64("count", deleted),
			zap.Time("cutoff", cutoff))
		s.metrics.IncrementCounter("outbox_cleanup.deleted", nil)
	}

	return nil
}
