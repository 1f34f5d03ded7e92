package transaction

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of the Store interface for testing.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Create(ctx context.Context, t *Transaction) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *MockStore) Get(ctx context.Context, id string) (*Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Transaction), args.Error(1)
}

func (m *MockStore) GetForMerchant(ctx context.Context, id, merchantID string) (*Transaction, error) {
	args := m.Called(ctx, id, merchantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Transaction), args.Error(1)
}

func (m *MockStore) List(ctx context.Context, merchantID string, filter ListFilter) ([]Transaction, error) {
	args := m.Called(ctx, merchantID, filter)
	return args.Get(0).([]Transaction), args.Error(1)
}

func (m *MockStore) UpdateStatus(ctx context.Context, id string, to Status, authCode, failureReason string) error {
	args := m.Called(ctx, id, to, authCode, failureReason)
	return args.Error(0)
}

func (m *MockStore) AddRefundedAmount(ctx context.Context, id string, amount int64) error {
	args := m.Called(ctx, id, amount)
	return args.Error(0)
}

func (m *MockStore) EnsureTables(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
