package merchant

import (
	"context"

	"go.uber.org/zap"

	"github.com/overtonx/paygate/errs"
	"github.com/overtonx/paygate/metrics"
)

const defaultBalanceRetries = 3

// BalanceManager applies balance deltas with optimistic concurrency. Each
// attempt reads the current balance and version, validates the result, and
// writes conditionally on the version; a lost race retries from a fresh read.
type BalanceManager struct {
	store      Store
	logger     *zap.Logger
	metrics    metrics.Collector
	maxRetries int
}

// BalanceOption configures a BalanceManager.
type BalanceOption func(*BalanceManager)

// WithBalanceRetries sets how many optimistic attempts are made before
// giving up with a conflict error.
func WithBalanceRetries(maxRetries int) BalanceOption {
	return func(b *BalanceManager) {
		b.maxRetries = maxRetries
	}
}

// WithBalanceMetrics sets the metrics collector.
func WithBalanceMetrics(collector metrics.Collector) BalanceOption {
	return func(b *BalanceManager) {
		b.metrics = collector
	}
}

// NewBalanceManager creates a balance manager over the given store.
func NewBalanceManager(store Store, logger *zap.Logger, opts ...BalanceOption) *BalanceManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &BalanceManager{
		store:      store,
		logger:     logger,
		metrics:    metrics.NewNopCollector(),
		maxRetries: defaultBalanceRetries,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// UpdateBalance applies delta to the merchant's balance. A delta that would
// take the balance negative fails with an insufficient balance error and
// writes nothing. Returns the new balance on success.
func (b *BalanceManager) UpdateBalance(ctx context.Context, merchantID string, delta int64) (int64, error) {
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		m, err := b.store.Get(ctx, merchantID)
		if err != nil {
			return 0, err
		}

		newBalance := m.Balance + delta
		if newBalance < 0 {
			b.metrics.IncrementCounter("balance.insufficient", nil)
			return 0, errs.Newf(errs.CodeInsufficientBalance,
				"merchant %s balance %d cannot absorb %d", merchantID, m.Balance, delta)
		}

		swapped, err := b.store.CompareAndSwapBalance(ctx, merchantID, m.Version, newBalance)
		if err != nil {
			return 0, err
		}
		if swapped {
			b.logger.Debug("Balance updated",
				zap.String("merchant_id", merchantID),
				zap.Int64("delta", delta),
				zap.Int64("balance", newBalance),
				zap.Int("attempt", attempt))
			return newBalance, nil
		}

		b.metrics.IncrementCounter("balance.cas_conflict", nil)
		b.logger.Debug("Balance write lost a concurrent race, retrying",
			zap.String("merchant_id", merchantID),
			zap.Int("attempt", attempt))
	}

	return 0, errs.Newf(errs.CodeConflict,
		"balance update for merchant %s exhausted %d attempts", merchantID, b.maxRetries)
}
