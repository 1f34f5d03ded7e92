package consumer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/overtonx/paygate/inbox"
	"github.com/overtonx/paygate/metrics"
	"github.com/overtonx/paygate/outbox"
	"github.com/overtonx/paygate/transaction"
	"github.com/overtonx/paygate/transport"
	"github.com/overtonx/paygate/uow"
)

// BalanceUpdater applies a signed delta to a merchant balance.
type BalanceUpdater interface {
	UpdateBalance(ctx context.Context, merchantID string, delta int64) (int64, error)
}

// BankResponseHandler settles a bank decision. All of its writes run in one
// unit-of-work scope, the dedupe record included: status transition, balance
// mutation, refund bookkeeping on the original, and the webhook notification
// entry either all commit or none do.
type BankResponseHandler struct {
	transactions transaction.Store
	outbox       outbox.Store
	inbox        inbox.Store
	balance      BalanceUpdater
	uow          uow.Manager
	logger       *zap.Logger
	metrics      metrics.Collector
}

// BankResponseHandlerOption configures a BankResponseHandler.
type BankResponseHandlerOption func(*BankResponseHandler)

// WithBankResponseMetrics sets the metrics collector.
func WithBankResponseMetrics(collector metrics.Collector) BankResponseHandlerOption {
	return func(h *BankResponseHandler) {
		h.metrics = collector
	}
}

// NewBankResponseHandler creates the settlement handler.
func NewBankResponseHandler(transactions transaction.Store, outboxStore outbox.Store, inboxStore inbox.Store, balance BalanceUpdater, m uow.Manager, logger *zap.Logger, opts ...BankResponseHandlerOption) *BankResponseHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &BankResponseHandler{
		transactions: transactions,
		outbox:       outboxStore,
		inbox:        inboxStore,
		balance:      balance,
		uow:          m,
		logger:       logger,
		metrics:      metrics.NewNopCollector(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle implements transport.Handler.
func (h *BankResponseHandler) Handle(ctx context.Context, msg transport.Message) error {
	response, err := DecodeBankResponse(msg.Payload)
	if err != nil {
		return fmt.Errorf("decode bank response: %w", err)
	}

	err = h.uow.Do(ctx, func(ctx context.Context) error {
		// The dedupe record joins the scope: if another delivery of this
		// message already committed, stop before touching anything.
		alreadyProcessed, err := h.inbox.MarkProcessed(ctx, msg.ID, msg.EventType, msg.Payload)
		if err != nil {
			return err
		}
		if alreadyProcessed {
			h.logger.Debug("Bank response already settled", zap.String("message_id", msg.ID))
			return nil
		}
		return h.settle(ctx, response)
	})
	if err != nil {
		return err
	}

	h.metrics.IncrementCounter("response_handler.settled", map[string]string{"type": response.TransactionType})
	return nil
}

func (h *BankResponseHandler) settle(ctx context.Context, r BankResponse) error {
	switch r.TransactionType {
	case string(transaction.TypePurchase):
		return h.settlePurchase(ctx, r)
	case string(transaction.TypeRefund), string(transaction.TypeChargeback):
		return h.settleReversal(ctx, r)
	default:
		return fmt.Errorf("unexpected transaction type %q", r.TransactionType)
	}
}

func (h *BankResponseHandler) settlePurchase(ctx context.Context, r BankResponse) error {
	if !r.Approved {
		if err := h.transactions.UpdateStatus(ctx, r.TransactionID, transaction.StatusFailed, "", r.DeclineReason); err != nil {
			return err
		}
		h.logger.Info("Purchase declined",
			zap.String("transaction_id", r.TransactionID),
			zap.String("reason", r.DeclineReason))
		return h.enqueueWebhook(ctx, r, string(transaction.StatusFailed))
	}

	if err := h.transactions.UpdateStatus(ctx, r.TransactionID, transaction.StatusAuthorized, r.AuthorizationCode, ""); err != nil {
		return err
	}
	if _, err := h.balance.UpdateBalance(ctx, r.MerchantID, r.Amount); err != nil {
		return err
	}
	h.logger.Info("Purchase authorized",
		zap.String("transaction_id", r.TransactionID),
		zap.Int64("amount", r.Amount))
	return h.enqueueWebhook(ctx, r, string(transaction.StatusAuthorized))
}

// settleReversal handles approved and declined refunds and chargebacks. An
// approved reversal debits the merchant and moves the original transaction.
func (h *BankResponseHandler) settleReversal(ctx context.Context, r BankResponse) error {
	if !r.Approved {
		if err := h.transactions.UpdateStatus(ctx, r.TransactionID, transaction.StatusFailed, "", r.DeclineReason); err != nil {
			return err
		}
		return h.enqueueWebhook(ctx, r, string(transaction.StatusFailed))
	}

	if err := h.transactions.UpdateStatus(ctx, r.TransactionID, transaction.StatusAuthorized, r.AuthorizationCode, ""); err != nil {
		return err
	}
	if _, err := h.balance.UpdateBalance(ctx, r.MerchantID, -r.Amount); err != nil {
		return err
	}

	if err := h.transactions.AddRefundedAmount(ctx, r.OriginalTransactionID, r.Amount); err != nil {
		return err
	}

	original, err := h.transactions.Get(ctx, r.OriginalTransactionID)
	if err != nil {
		return err
	}
	originalStatus := transaction.StatusPartialRefund
	if r.TransactionType == string(transaction.TypeChargeback) {
		originalStatus = transaction.StatusChargeback
	} else if original.RefundedAmount >= original.Amount {
		originalStatus = transaction.StatusRefunded
	}
	if err := h.transactions.UpdateStatus(ctx, original.ID, originalStatus, "", ""); err != nil {
		return err
	}

	h.logger.Info("Reversal settled",
		zap.String("transaction_id", r.TransactionID),
		zap.String("original_transaction_id", original.ID),
		zap.String("original_status", string(originalStatus)),
		zap.Int64("amount", r.Amount))

	// The merchant sees the reversal outcome, not the row's internal state.
	outcome := transaction.StatusRefunded
	if r.TransactionType == string(transaction.TypeChargeback) {
		outcome = transaction.StatusChargeback
	}
	return h.enqueueWebhook(ctx, r, string(outcome))
}

func (h *BankResponseHandler) enqueueWebhook(ctx context.Context, r BankResponse, status string) error {
	entry, err := outbox.NewEntry(r.TransactionID, outbox.WebhookNotification{
		TransactionID:     r.TransactionID,
		MerchantID:        r.MerchantID,
		Status:            status,
		Success:           r.Approved,
		AuthorizationCode: r.AuthorizationCode,
		FailureReason:     r.DeclineReason,
		Amount:            r.Amount,
		IsRefund:          r.TransactionType == string(transaction.TypeRefund),
		IsChargeback:      r.TransactionType == string(transaction.TypeChargeback),
		Timestamp:         time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return h.outbox.CreateEntry(ctx, entry)
}
