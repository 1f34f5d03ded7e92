package merchant

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of the Store interface for testing.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Create(ctx context.Context, merchant *Merchant) error {
	args := m.Called(ctx, merchant)
	return args.Error(0)
}

func (m *MockStore) Get(ctx context.Context, id string) (*Merchant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Merchant), args.Error(1)
}

func (m *MockStore) GetByAPIKey(ctx context.Context, apiKey string) (*Merchant, error) {
	args := m.Called(ctx, apiKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Merchant), args.Error(1)
}

func (m *MockStore) CompareAndSwapBalance(ctx context.Context, id string, version, newBalance int64) (bool, error) {
	args := m.Called(ctx, id, version, newBalance)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) EnsureTables(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
