package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/overtonx/paygate/bank"
	"github.com/overtonx/paygate/breaker"
	"github.com/overtonx/paygate/metrics"
	"github.com/overtonx/paygate/outbox"
	"github.com/overtonx/paygate/transaction"
	"github.com/overtonx/paygate/transport"
)

// TransactionHandler consumes transaction commands, asks the bank for a
// decision through the breaker, and emits the decision to the response
// topic. It never touches the ledger; settlement is the response handler's
// job.
type TransactionHandler struct {
	bank          bank.Bank
	breaker       *breaker.Breaker
	producer      transport.Producer
	responseTopic string
	logger        *zap.Logger
	metrics       metrics.Collector
}

// TransactionHandlerOption configures a TransactionHandler.
type TransactionHandlerOption func(*TransactionHandler)

// WithTransactionMetrics sets the metrics collector.
func WithTransactionMetrics(collector metrics.Collector) TransactionHandlerOption {
	return func(h *TransactionHandler) {
		h.metrics = collector
	}
}

// NewTransactionHandler creates the command handler.
func NewTransactionHandler(b bank.Bank, brk *breaker.Breaker, producer transport.Producer, responseTopic string, logger *zap.Logger, opts ...TransactionHandlerOption) *TransactionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &TransactionHandler{
		bank:          b,
		breaker:       brk,
		producer:      producer,
		responseTopic: responseTopic,
		logger:        logger,
		metrics:       metrics.NewNopCollector(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle implements transport.Handler.
func (h *TransactionHandler) Handle(ctx context.Context, msg transport.Message) error {
	payload, err := outbox.DecodePayload(outbox.EventType(msg.EventType), msg.Payload)
	if err != nil {
		return err
	}

	var response BankResponse
	switch p := payload.(type) {
	case outbox.TransactionCreated:
		response, err = h.authorize(ctx, p)
	case outbox.RefundRequested:
		response, err = h.refund(ctx, p)
	case outbox.ChargebackRequested:
		response, err = h.chargeback(ctx, p)
	default:
		return fmt.Errorf("unexpected command payload %T", payload)
	}
	if err != nil {
		h.metrics.IncrementCounter("command_handler.bank_failed", map[string]string{"event_type": msg.EventType})
		return err
	}
	response.DecidedAt = time.Now().UTC()

	body, err := response.Encode()
	if err != nil {
		return fmt.Errorf("encode bank response: %w", err)
	}
	headers := map[string]string{
		transport.HeaderMessageID: uuid.NewString(),
		transport.HeaderEventType: EventBankResponse,
	}
	if err := h.producer.Produce(ctx, h.responseTopic, response.TransactionID, body, headers); err != nil {
		return fmt.Errorf("produce bank response: %w", err)
	}

	h.metrics.IncrementCounter("command_handler.decided", map[string]string{"event_type": msg.EventType})
	h.logger.Info("Bank decision emitted",
		zap.String("transaction_id", response.TransactionID),
		zap.Bool("approved", response.Approved))
	return nil
}

func (h *TransactionHandler) authorize(ctx context.Context, p outbox.TransactionCreated) (BankResponse, error) {
	var res bank.Result
	err := h.breaker.Do(ctx, func(ctx context.Context) error {
		var bankErr error
		res, bankErr = h.bank.Authorize(ctx, bank.AuthRequest{
			TransactionID: p.TransactionID,
			MerchantID:    p.MerchantID,
			Amount:        p.Amount,
			Currency:      p.Currency,
			Token:         p.Token,
		})
		return bankErr
	})
	if err != nil {
		return BankResponse{}, err
	}
	return BankResponse{
		TransactionID:     p.TransactionID,
		MerchantID:        p.MerchantID,
		TransactionType:   string(transaction.TypePurchase),
		Amount:            p.Amount,
		Approved:          res.Approved,
		AuthorizationCode: res.AuthorizationCode,
		DeclineReason:     res.DeclineReason,
	}, nil
}

func (h *TransactionHandler) refund(ctx context.Context, p outbox.RefundRequested) (BankResponse, error) {
	var res bank.Result
	err := h.breaker.Do(ctx, func(ctx context.Context) error {
		var bankErr error
		res, bankErr = h.bank.Refund(ctx, bank.RefundRequest{
			RefundID:              p.RefundID,
			OriginalTransactionID: p.OriginalTransactionID,
			Amount:                p.Amount,
		})
		return bankErr
	})
	if err != nil {
		return BankResponse{}, err
	}
	return BankResponse{
		TransactionID:         p.RefundID,
		OriginalTransactionID: p.OriginalTransactionID,
		MerchantID:            p.MerchantID,
		TransactionType:       string(transaction.TypeRefund),
		Amount:                p.Amount,
		Approved:              res.Approved,
		AuthorizationCode:     res.AuthorizationCode,
		DeclineReason:         res.DeclineReason,
	}, nil
}

func (h *TransactionHandler) chargeback(ctx context.Context, p outbox.ChargebackRequested) (BankResponse, error) {
	var res bank.Result
	err := h.breaker.Do(ctx, func(ctx context.Context) error {
		var bankErr error
		res, bankErr = h.bank.Chargeback(ctx, bank.ChargebackRequest{
			ChargebackID:          p.ChargebackID,
			OriginalTransactionID: p.OriginalTransactionID,
			Amount:                p.Amount,
		})
		return bankErr
	})
	if err != nil {
		return BankResponse{}, err
	}
	return BankResponse{
		TransactionID:         p.ChargebackID,
		OriginalTransactionID: p.OriginalTransactionID,
		MerchantID:            p.MerchantID,
		TransactionType:       string(transaction.TypeChargeback),
		Amount:                p.Amount,
		Approved:              res.Approved,
		AuthorizationCode:     res.AuthorizationCode,
		DeclineReason:         res.DeclineReason,
	}, nil
}
