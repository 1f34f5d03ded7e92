package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/overtonx/paygate/inbox"
	"github.com/overtonx/paygate/metrics"
)

func newTestConsumer(handlers map[string]Handler, inboxStore inbox.Store, producer Producer) *Consumer {
	return &Consumer{
		producer: producer,
		inbox:    inboxStore,
		handlers: handlers,
		logger:   zap.NewNop(),
		metrics:  metrics.NewNopCollector(),
	}
}

func testMessage() Message {
	return Message{
		ID:        "msg-1",
		Topic:     "transactions",
		EventType: "transaction.created",
		Key:       "txn-1",
		Payload:   []byte(`{}`),
	}
}

func TestConsumer_Dispatch_HappyPath(t *testing.T) {
	mockInbox := new(inbox.MockStore)
	mockProducer := new(MockProducer)

	handled := false
	handlers := map[string]Handler{
		"transactions": HandlerFunc(func(ctx context.Context, msg Message) error {
			handled = true
			assert.Equal(t, "msg-1", msg.ID)
			return nil
		}),
	}
	c := newTestConsumer(handlers, mockInbox, mockProducer)

	mockInbox.On("IsProcessed", mock.Anything, "msg-1").Return(false, nil).Once()
	mockInbox.On("MarkProcessed", mock.Anything, "msg-1", "transaction.created", []byte(`{}`)).
		Return(false, nil).Once()

	err := c.dispatch(context.Background(), testMessage())
	assert.NoError(t, err)
	assert.True(t, handled)

	mockInbox.AssertExpectations(t)
}

func TestConsumer_Dispatch_DuplicateIsNoOp(t *testing.T) {
	mockInbox := new(inbox.MockStore)
	mockProducer := new(MockProducer)

	handlers := map[string]Handler{
		"transactions": HandlerFunc(func(ctx context.Context, msg Message) error {
			t.Fatal("handler must not run for a duplicate")
			return nil
		}),
	}
	c := newTestConsumer(handlers, mockInbox, mockProducer)

	mockInbox.On("IsProcessed", mock.Anything, "msg-1").Return(true, nil).Once()

	err := c.dispatch(context.Background(), testMessage())
	assert.NoError(t, err)

	mockInbox.AssertExpectations(t)
	mockInbox.AssertNotCalled(t, "MarkProcessed")
}

func TestConsumer_Dispatch_HandlerFailureDeadLetters(t *testing.T) {
	mockInbox := new(inbox.MockStore)
	mockProducer := new(MockProducer)

	handlers := map[string]Handler{
		"transactions": HandlerFunc(func(ctx context.Context, msg Message) error {
			return errors.New("bank exploded")
		}),
	}
	c := newTestConsumer(handlers, mockInbox, mockProducer)

	mockInbox.On("IsProcessed", mock.Anything, "msg-1").Return(false, nil).Once()
	mockInbox.On("MarkFailed", mock.Anything, "msg-1", "transaction.created", []byte(`{}`)).Return(nil).Once()
	mockProducer.On("Produce", mock.Anything, "transactions.dlq", "txn-1", []byte(`{}`), mock.Anything).
		Return(nil).Once()

	err := c.dispatch(context.Background(), testMessage())
	assert.NoError(t, err)

	mockInbox.AssertExpectations(t)
	mockProducer.AssertExpectations(t)
	mockInbox.AssertNotCalled(t, "MarkProcessed")
}

func TestConsumer_Dispatch_InboxErrorSurfaces(t *testing.T) {
	mockInbox := new(inbox.MockStore)
	mockProducer := new(MockProducer)

	c := newTestConsumer(map[string]Handler{}, mockInbox, mockProducer)

	mockInbox.On("IsProcessed", mock.Anything, "msg-1").Return(false, errors.New("db down")).Once()

	err := c.dispatch(context.Background(), testMessage())
	assert.Error(t, err)
}

func TestDLQTopic(t *testing.T) {
	assert.Equal(t, "transactions.dlq", DLQTopic("transactions"))
	assert.Equal(t, "transactions.dlq", DLQTopic("transactions.dlq"))
}
