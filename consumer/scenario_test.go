package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/overtonx/paygate/bank"
	"github.com/overtonx/paygate/breaker"
	"github.com/overtonx/paygate/outbox"
	"github.com/overtonx/paygate/transaction"
	"github.com/overtonx/paygate/transport"
)

// Walks a 500-unit purchase through both handlers: the command handler turns
// the outbox event into a bank decision, the response handler settles it.
func TestPurchaseFlow_ApprovedEndToEnd(t *testing.T) {
	mockBank := new(bank.MockBank)
	producer := new(transport.MockProducer)
	commandHandler := NewTransactionHandler(mockBank, breaker.New("bank", 5, time.Second), producer, "payments.bank-responses", zap.NewNop())

	mockBank.On("Authorize", mock.Anything, mock.Anything).
		Return(bank.Result{Approved: true, AuthorizationCode: "AUTH-E2E"}, nil)

	var decision []byte
	var decisionID string
	producer.On("Produce", mock.Anything, "payments.bank-responses", "txn-e2e", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			decision = args.Get(3).([]byte)
			decisionID = args.Get(4).(map[string]string)[transport.HeaderMessageID]
		}).Return(nil)

	command := commandMessage(t, outbox.TransactionCreated{
		TransactionID: "txn-e2e",
		MerchantID:    "mrc-1",
		Amount:        500,
		Currency:      "USD",
		Token:         "tok-1",
	})
	require.NoError(t, commandHandler.Handle(context.Background(), command))
	require.NotEmpty(t, decisionID)

	f := newResponseFixture()
	f.inbox.On("MarkProcessed", mock.Anything, decisionID, EventBankResponse, mock.Anything).Return(false, nil)
	f.transactions.On("UpdateStatus", mock.Anything, "txn-e2e", transaction.StatusAuthorized, "AUTH-E2E", "").Return(nil)
	f.balance.On("UpdateBalance", mock.Anything, "mrc-1", int64(500)).Return(int64(500), nil)

	var entry *outbox.Entry
	f.outbox.On("CreateEntry", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		entry = args.Get(1).(*outbox.Entry)
	}).Return(nil)

	require.NoError(t, f.handler.Handle(context.Background(), transport.Message{
		ID:        decisionID,
		Topic:     "payments.bank-responses",
		EventType: EventBankResponse,
		Key:       "txn-e2e",
		Payload:   decision,
	}))

	notification := decodeWebhook(t, entry)
	assert.Equal(t, "authorized", notification.Status)
	assert.True(t, notification.Success)
	assert.Equal(t, int64(500), notification.Amount)
	f.assertExpectations(t)
}
