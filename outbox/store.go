package outbox

import (
	"context"
	"time"
)

// Store defines the persistence operations for outbox entries.
//
// CreateEntry resolves its executor through the unit-of-work context: called
// inside a uow scope it joins the scope's transaction, so the entry persists
// only if the business write that produced it commits.
type Store interface {
	// CreateEntry saves a new pending entry.
	CreateEntry(ctx context.Context, entry *Entry) error
	// GetPending returns up to limit pending entries, oldest first.
	GetPending(ctx context.Context, limit int) ([]Entry, error)
	// MarkProcessing conditionally moves pending entries to processing and
	// returns the ids actually claimed. Entries already claimed by a
	// concurrent relay instance are silently skipped.
	MarkProcessing(ctx context.Context, ids []int64) ([]int64, error)
	// MarkCompleted marks a published entry as completed.
	MarkCompleted(ctx context.Context, id int64) error
	// MarkFailed marks an entry as failed and increments its retry count.
	MarkFailed(ctx context.Context, id int64, errorMessage string) error
	// RetryFailed resets failed entries under the retry threshold back to
	// pending and returns how many were requeued.
	RetryFailed(ctx context.Context, maxRetries int) (int64, error)
	// GetPermanentlyFailed returns failed entries at or over the retry
	// threshold, newest first, for manual intervention.
	GetPermanentlyFailed(ctx context.Context, maxRetries int) ([]Entry, error)
	// ResetEntry is the operator reset for a permanently failed entry:
	// clears the retry count and returns the entry to pending.
	ResetEntry(ctx context.Context, id int64) error
	// ResetStuck returns processing entries untouched since olderThan back
	// to pending, covering relay instances that died mid-delivery.
	ResetStuck(ctx context.Context, olderThan time.Time) (int64, error)
	// DeleteCompletedBefore removes completed entries processed before cutoff.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// Stats counts entries per state.
	Stats(ctx context.Context, maxRetries int) (Stats, error)
	// EnsureTables creates the outbox table if it does not exist.
	EnsureTables(ctx context.Context) error
}

// Publisher delivers an entry to the message transport.
type Publisher interface {
	Publish(ctx context.Context, entry Entry) error
	Close() error
}

// NopPublisher is a publisher that does nothing. Useful for testing.
type NopPublisher struct{}

// NewNopPublisher creates a new NopPublisher.
func NewNopPublisher() *NopPublisher {
	return &NopPublisher{}
}

// Publish implements the Publisher interface.
func (p *NopPublisher) Publish(_ context.Context, _ Entry) error {
	return nil
}

// Close implements the Publisher interface.
func (p *NopPublisher) Close() error {
	return nil
}
