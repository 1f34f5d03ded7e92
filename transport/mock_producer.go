package transport

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockProducer is a mock implementation of the Producer interface for testing.
type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Produce(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	args := m.Called(ctx, topic, key, value, headers)
	return args.Error(0)
}

func (m *MockProducer) Close() error {
	args := m.Called()
	return args.Error(0)
}
