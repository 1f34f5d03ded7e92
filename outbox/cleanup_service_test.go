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

func TestCleanupService_Process(t *testing.T) {
	mockStore := new(MockStore)

	svc := NewCleanupService(mockStore, zap.NewNop(),
		WithRetention(7*24*time.Hour))

	mockStore.On("DeleteCompletedBefore", mock.Anything, mock.MatchedBy(func(cutoff time.Time) bool {
		age := time.Since(cutoff)
		return age > 7*24*time.Hour-time.Minute && age < 7*24*time.Hour+time.Minute
	})).Return(int64(5), nil).Once()

	err := svc.Process(context.Background())
	assert.NoError(t, err)

	mockStore.AssertExpectations(t)
}

func TestCleanupService_Process_DeleteError(t *testing.T) {
	mockStore := new(MockStore)

	svc := NewCleanupService(mockStore, zap.NewNop())

	mockStore.On("DeleteCompletedBefore", mock.Anything, mock.AnythingOfType("time.Time")).
		Return(int64(0), errors.New("db down")).Once()

	err := svc.Process(context.Background())
	assert.Error(t, err)
}
