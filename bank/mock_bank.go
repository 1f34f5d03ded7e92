package bank

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockBank is a mock implementation of the Bank interface for testing.
type MockBank struct {
	mock.Mock
}

func (m *MockBank) Authorize(ctx context.Context, req AuthRequest) (Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(Result), args.Error(1)
}

func (m *MockBank) Refund(ctx context.Context, req RefundRequest) (Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(Result), args.Error(1)
}

func (m *MockBank) Chargeback(ctx context.Context, req ChargebackRequest) (Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(Result), args.Error(1)
}
