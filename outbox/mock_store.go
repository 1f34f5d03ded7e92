package outbox

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of the Store interface for testing.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateEntry(ctx context.Context, entry *Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockStore) GetPending(ctx context.Context, limit int) ([]Entry, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]Entry), args.Error(1)
}

func (m *MockStore) MarkProcessing(ctx context.Context, ids []int64) ([]int64, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockStore) MarkCompleted(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) MarkFailed(ctx context.Context, id int64, errorMessage string) error {
	args := m.Called(ctx, id, errorMessage)
	return args.Error(0)
}

func (m *MockStore) RetryFailed(ctx context.Context, maxRetries int) (int64, error) {
	args := m.Called(ctx, maxRetries)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) GetPermanentlyFailed(ctx context.Context, maxRetries int) ([]Entry, error) {
	args := m.Called(ctx, maxRetries)
	return args.Get(0).([]Entry), args.Error(1)
}

func (m *MockStore) ResetEntry(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) ResetStuck(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) Stats(ctx context.Context, maxRetries int) (Stats, error) {
	args := m.Called(ctx, maxRetries)
	return args.Get(0).(Stats), args.Error(1)
}

func (m *MockStore) EnsureTables(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
