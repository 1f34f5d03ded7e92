package vault

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockVault is a mock implementation of the Vault interface for testing.
type MockVault struct {
	mock.Mock
}

func (m *MockVault) Tokenize(ctx context.Context, merchantID string, card Card) (TokenInfo, error) {
	args := m.Called(ctx, merchantID, card)
	return args.Get(0).(TokenInfo), args.Error(1)
}

func (m *MockVault) Detokenize(ctx context.Context, token, merchantID string) (Card, error) {
	args := m.Called(ctx, token, merchantID)
	return args.Get(0).(Card), args.Error(1)
}

func (m *MockVault) Info(ctx context.Context, token, merchantID string) (TokenInfo, error) {
	args := m.Called(ctx, token, merchantID)
	return args.Get(0).(TokenInfo), args.Error(1)
}
