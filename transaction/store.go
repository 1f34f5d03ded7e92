package transaction

import (
	"context"
	"time"
)

// ListFilter narrows a merchant's transaction listing. Zero values mean no
// constraint.
type ListFilter struct {
	Status Status
	Type   Type
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// Store defines the persistence operations for transactions. Implementations
// resolve their executor through the unit-of-work context, so calls made
// inside a uow scope share one transaction.
type Store interface {
	// Create saves a new transaction.
	Create(ctx context.Context, t *Transaction) error
	// Get returns a transaction by id.
	Get(ctx context.Context, id string) (*Transaction, error)
	// GetForMerchant returns a transaction owned by the merchant. Another
	// merchant's transaction reports not found.
	GetForMerchant(ctx context.Context, id, merchantID string) (*Transaction, error)
	// List returns a merchant's transactions, newest first.
	List(ctx context.Context, merchantID string, filter ListFilter) ([]Transaction, error)
	// UpdateStatus validates the transition and writes the new status with
	// the outcome fields.
	UpdateStatus(ctx context.Context, id string, to Status, authCode, failureReason string) error
	// AddRefundedAmount increments the original's refunded amount.
	AddRefundedAmount(ctx context.Context, id string, amount int64) error
	// EnsureTables creates the transactions table if it does not exist.
	EnsureTables(ctx context.Context) error
}
