package inbox

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of the Store interface for testing.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	args := m.Called(ctx, messageID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) MarkProcessed(ctx context.Context, messageID, eventType string, payload []byte) (bool, error) {
	args := m.Called(ctx, messageID, eventType, payload)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) MarkFailed(ctx context.Context, messageID, eventType string, payload []byte) error {
	args := m.Called(ctx, messageID, eventType, payload)
	return args.Error(0)
}

func (m *MockStore) EnsureTables(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
