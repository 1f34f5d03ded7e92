package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

func TestRetryService_Process(t *testing.T) {
	mockStore := new(MockStore)

	svc := NewRetryService(mockStore, zap.NewNop(),
		WithRetryMaxRetries(3),
		WithStuckTimeout(10*time.Minute))

	mockStore.On("RetryFailed", mock.Anything, 3).Return(int64(2), nil).Once()
	mockStore.On("ResetStuck", mock.Anything, mock.AnythingOfType("time.Time")).Return(int64(1), nil).Once()
	mockStore.On("GetPermanentlyFailed", mock.Anything, 3).Return([]Entry{
		{ID: 7, EventID: "ev-7", EventType: EventTransactionCreated, RetryCount: 3, LastError: "kafka is down"},
	}, nil).Once()

	err := svc.Process(context.Background())
	assert.NoError(t, err)

	mockStore.AssertExpectations(t)
}

func TestRetryService_Process_StuckCutoff(t *testing.T) {
	mockStore := new(MockStore)

	svc := NewRetryService(mockStore, zap.NewNop(),
		WithStuckTimeout(10*time.Minute))

	mockStore.On("RetryFailed", mock.Anything, defaultMaxRetries).Return(int64(0), nil).Once()
	mockStore.On("ResetStuck", mock.Anything, mock.MatchedBy(func(olderThan time.Time) bool {
		age := time.Since(olderThan)
		return age > 9*time.Minute && age < 11*time.Minute
	})).Return(int64(0), nil).Once()
	mockStore.On("GetPermanentlyFailed", mock.Anything, defaultMaxRetries).Return([]Entry{}, nil).Once()

	err := svc.Process(context.Background())
	assert.NoError(t, err)

	mockStore.AssertExpectations(t)
}

func TestRetryService_Process_RequeueError(t *testing.T) {
	mockStore := new(MockStore)

	svc := NewRetryService(mockStore, zap.NewNop())

	mockStore.On("RetryFailed", mock.Anything, defaultMaxRetries).Return(int64(0), errors.New("db down")).Once()

	err := svc.Process(context.Background())
	assert.Error(t, err)

	mockStore.AssertNotCalled(t, "ResetStuck")
}

func TestRetryService_Reset(t *testing.T) {
	mockStore := new(MockStore)

	svc := NewRetryService(mockStore, zap.NewNop())

	mockStore.On("ResetEntry", mock.Anything, int64(42)).Return(nil).Once()

	err := svc.Reset(context.Background(), 42)
	assert.NoError(t, err)

	mockStore.AssertExpectations(t)
}
