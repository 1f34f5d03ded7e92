// Package merchant holds merchant accounts and their balances. Balance
// writes go through optimistic concurrency: every update is conditional on
// the version read, and a lost race retries from a fresh read.
package merchant

import (
	"context"
	"time"
)

// Merchant is a registered merchant account. Balance is in minor currency
// units and never goes negative. Version is the optimistic concurrency token
// bumped by every successful balance write.
type Merchant struct {
	ID          string
	Name        string
	APIKey      string
	APISecret   string
	WebhookURLs []string
	Balance     int64
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store defines the persistence operations for merchants.
type Store interface {
	// Create saves a new merchant.
	Create(ctx context.Context, m *Merchant) error
	// Get returns a merchant by id.
	Get(ctx context.Context, id string) (*Merchant, error)
	// GetByAPIKey returns the merchant owning the given API key.
	GetByAPIKey(ctx context.Context, apiKey string) (*Merchant, error)
	// CompareAndSwapBalance writes newBalance only if the merchant's version
	// still equals version, bumping the version on success. Returns false
	// without error when the version moved underneath the caller.
	CompareAndSwapBalance(ctx context.Context, id string, version, newBalance int64) (bool, error)
	// EnsureTables creates the merchants table if it does not exist.
	EnsureTables(ctx context.Context) error
}
