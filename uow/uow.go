// Package uow provides the unit-of-work scope that binds multiple store
// writes into one atomic commit/abort boundary.
//
// Stores participate by resolving their executor through the trm context
// getter: any store call made inside Do joins the transaction that Do opened,
// and a store call outside a scope falls back to the plain connection.
package uow

import (
	"context"
	"database/sql"
	"fmt"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
)

// Manager runs a function inside one atomic scope. The scope commits on a
// nil return, aborts on error, and is always released.
type Manager interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// SQLManager is the database/sql-backed Manager.
type SQLManager struct {
	m *manager.Manager
}

// NewSQLManager creates a unit-of-work manager on top of db.
func NewSQLManager(db *sql.DB) (*SQLManager, error) {
	m, err := manager.New(trmsql.NewDefaultFactory(db))
	if err != nil {
		return nil, fmt.Errorf("create transaction manager: %w", err)
	}
	return &SQLManager{m: m}, nil
}

// Do implements Manager.
func (s *SQLManager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.m.Do(ctx, fn)
}

// Passthrough is a Manager that runs fn directly, without a transaction.
// It is used in tests where atomicity is not under test.
type Passthrough struct{}

// Do implements Manager.
func (Passthrough) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
