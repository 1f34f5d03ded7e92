package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/overtonx/paygate/breaker"
)

func testBreaker() *breaker.Breaker {
	return breaker.New("test-transport", 5, 30*time.Second)
}

func TestRelay_Process_HappyPath(t *testing.T) {
	mockStore := new(MockStore)
	mockPublisher := new(MockPublisher)

	relay := NewRelay(mockStore, mockPublisher, testBreaker(), zap.NewNop(),
		WithRelayBatchSize(10))

	entries := []Entry{{ID: 1, EventID: "ev-1", EventType: EventTransactionCreated}}
	entryIDs := []int64{1}

	mockStore.On("GetPending", mock.Anything, 10).Return(entries, nil).Once()
	mockStore.On("MarkProcessing", mock.Anything, entryIDs).Return(entryIDs, nil).Once()
	mockPublisher.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()
	mockStore.On("MarkCompleted", mock.Anything, int64(1)).Return(nil).Once()

	err := relay.Process(context.Background())
	assert.NoError(t, err)

	mockStore.AssertExpectations(t)
	mockPublisher.AssertExpectations(t)
}

func TestRelay_Process_NoEntries(t *testing.T) {
	mockStore := new(MockStore)
	mockPublisher := new(MockPublisher)

	relay := NewRelay(mockStore, mockPublisher, testBreaker(), zap.NewNop(),
		WithRelayBatchSize(10))

	mockStore.On("GetPending", mock.Anything, 10).Return([]Entry{}, nil).Once()

	err := relay.Process(context.Background())
	assert.NoError(t, err)

	mockStore.AssertExpectations(t)
	mockPublisher.AssertNotCalled(t, "Publish")
	mockStore.AssertNotCalled(t, "MarkProcessing")
}

func TestRelay_Process_PublishFails_MarksFailed(t *testing.T) {
	mockStore := new(MockStore)
	mockPublisher := new(MockPublisher)

	relay := NewRelay(mockStore, mockPublisher, testBreaker(), zap.NewNop(),
		WithRelayBatchSize(10))

	entries := []Entry{{ID: 1, EventID: "ev-1", EventType: EventTransactionCreated}}
	entryIDs := []int64{1}
	publishErr := errors.New("kafka is down")

	mockStore.On("GetPending", mock.Anything, 10).Return(entries, nil).Once()
	mockStore.On("MarkProcessing", mock.Anything, entryIDs).Return(entryIDs, nil).Once()
	mockPublisher.On("Publish", mock.Anything, mock.Anything).Return(publishErr).Once()
	mockStore.On("MarkFailed", mock.Anything, int64(1), publishErr.Error()).Return(nil).Once()

	err := relay.Process(context.Background())
	assert.NoError(t, err)

	mockStore.AssertExpectations(t)
	mockStore.AssertNotCalled(t, "MarkCompleted")
}

func TestRelay_Process_SkipsEntriesClaimedElsewhere(t *testing.T) {
	mockStore := new(MockStore)
	mockPublisher := new(MockPublisher)

	relay := NewRelay(mockStore, mockPublisher, testBreaker(), zap.NewNop(),
		WithRelayBatchSize(10))

	entries := []Entry{
		{ID: 1, EventID: "ev-1", EventType: EventTransactionCreated},
		{ID: 2, EventID: "ev-2", EventType: EventRefundRequested},
	}

	// Entry 2 was grabbed by a concurrent relay instance.
	mockStore.On("GetPending", mock.Anything, 10).Return(entries, nil).Once()
	mockStore.On("MarkProcessing", mock.Anything, []int64{1, 2}).Return([]int64{1}, nil).Once()
	mockPublisher.On("Publish", mock.Anything, mock.MatchedBy(func(e Entry) bool {
		return e.ID == 1
	})).Return(nil).Once()
	mockStore.On("MarkCompleted", mock.Anything, int64(1)).Return(nil).Once()

	err := relay.Process(context.Background())
	assert.NoError(t, err)

	mockStore.AssertExpectations(t)
	mockPublisher.AssertExpectations(t)
}

func TestRelay_Process_RetriedEntryWaitsBackoff(t *testing.T) {
	mockStore := new(MockStore)
	mockPublisher := new(MockPublisher)

	relay := NewRelay(mockStore, mockPublisher, testBreaker(), zap.NewNop(),
		WithRelayBatchSize(10),
		WithRelayBackoff(Backoff{Base: 20 * time.Millisecond, Max: time.Second}))

	entries := []Entry{{ID: 1, EventID: "ev-1", EventType: EventTransactionCreated, RetryCount: 2}}
	entryIDs := []int64{1}

	mockStore.On("GetPending", mock.Anything, 10).Return(entries, nil).Once()
	mockStore.On("MarkProcessing", mock.Anything, entryIDs).Return(entryIDs, nil).Once()
	mockPublisher.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()
	mockStore.On("MarkCompleted", mock.Anything, int64(1)).Return(nil).Once()

	start := time.Now()
	err := relay.Process(context.Background())
	elapsed := time.Since(start)

	assert.NoError(t, err)
	// retryCount=2 with a 20ms base means the attempt waits at least 40ms.
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
	mockStore.AssertExpectations(t)
}

func TestRelay_Process_OpenBreakerFailsFast(t *testing.T) {
	mockStore := new(MockStore)
	mockPublisher := new(MockPublisher)

	brk := breaker.New("test-transport", 1, time.Hour)
	// Trip the breaker.
	_ = brk.Do(context.Background(), func(ctx context.Context) error {
		return errors.New("down")
	})
	assert.Equal(t, breaker.StateOpen, brk.State())

	relay := NewRelay(mockStore, mockPublisher, brk, zap.NewNop(),
		WithRelayBatchSize(10))

	entries := []Entry{{ID: 1, EventID: "ev-1", EventType: EventTransactionCreated}}
	entryIDs := []int64{1}

	mockStore.On("GetPending", mock.Anything, 10).Return(entries, nil).Once()
	mockStore.On("MarkProcessing", mock.Anything, entryIDs).Return(entryIDs, nil).Once()
	mockStore.On("MarkFailed", mock.Anything, int64(1), breaker.ErrOpen.Error()).Return(nil).Once()

	err := relay.Process(context.Background())
	assert.NoError(t, err)

	mockStore.AssertExpectations(t)
	mockPublisher.AssertNotCalled(t, "Publish")
}

func TestRelay_Process_FetchError(t *testing.T) {
	mockStore := new(MockStore)
	mockPublisher := new(MockPublisher)

	relay := NewRelay(mockStore, mockPublisher, testBreaker(), zap.NewNop(),
		WithRelayBatchSize(10))

	mockStore.On("GetPending", mock.Anything, 10).Return([]Entry{}, errors.New("db down")).Once()

	err := relay.Process(context.Background())
	assert.Error(t, err)

	mockStore.AssertExpectations(t)
}

func TestRelay_Process_ContextCancelled(t *testing.T) {
	mockStore := new(MockStore)
	mockPublisher := new(MockPublisher)

	relay := NewRelay(mockStore, mockPublisher, testBreaker(), zap.NewNop(),
		WithRelayBatchSize(10))

	entries := []Entry{
		{ID: 1, EventID: "ev-1", EventType: EventTransactionCreated},
		{ID: 2, EventID: "ev-2", EventType: EventTransactionCreated},
	}

	ctx, cancel := context.WithCancel(context.Background())

	mockStore.On("GetPending", mock.Anything, 10).Return(entries, nil).Once()
	mockStore.On("MarkProcessing", mock.Anything, []int64{1, 2}).Return([]int64{1, 2}, nil).Once()
	mockPublisher.On("Publish", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		cancel()
	}).Return(nil).Once()
	mockStore.On("MarkCompleted", mock.Anything, int64(1)).Return(nil).Once()

	err := relay.Process(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// The second entry is never attempted after cancellation.
	mockPublisher.AssertNumberOfCalls(t, "Publish", 1)
}
