package transaction

import (
	"context"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/overtonx/paygate/errs"
	"github.com/overtonx/paygate/metrics"
	"github.com/overtonx/paygate/outbox"
	"github.com/overtonx/paygate/uow"
	"github.com/overtonx/paygate/vault"
)

var currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)

// PurchaseRequest is the synchronous purchase input. Exactly one of Token
// and Card must be set.
type PurchaseRequest struct {
	MerchantID string
	Amount     int64
	Currency   string
	Token      string
	Card       *vault.Card
	Metadata   map[string]string
}

// RefundRequest asks to return part or all of a settled purchase.
type RefundRequest struct {
	MerchantID            string
	OriginalTransactionID string
	Amount                int64
	Reason                string
	Metadata              map[string]string
}

// ChargebackRequest records a dispute against a settled purchase.
type ChargebackRequest struct {
	MerchantID            string
	OriginalTransactionID string
	Reason                string
	DisputeID             string
	Metadata              map[string]string
}

// Service is the synchronous request path. Every accepted request commits a
// pending transaction together with its outbox entry in one unit-of-work
// scope and returns immediately; the bank outcome arrives later through the
// consumers.
type Service struct {
	store   Store
	outbox  outbox.Store
	uow     uow.Manager
	vault   vault.Vault
	logger  *zap.Logger
	metrics metrics.Collector
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceMetrics sets the metrics collector.
func WithServiceMetrics(collector metrics.Collector) ServiceOption {
	return func(s *Service) {
		s.metrics = collector
	}
}

// NewService creates the transaction service.
func NewService(store Store, outboxStore outbox.Store, m uow.Manager, v vault.Vault, logger *zap.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:   store,
		outbox:  outboxStore,
		uow:     m,
		vault:   v,
		logger:  logger,
		metrics: metrics.NewNopCollector(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePurchase validates and records a purchase. The card, when given, is
// tokenized first; the returned transaction is pending.
func (s *Service) CreatePurchase(ctx context.Context, req PurchaseRequest) (*Transaction, error) {
	if err := validateCommon(req.MerchantID, req.Amount); err != nil {
		return nil, err
	}
	if !currencyRe.MatchString(req.Currency) {
		return nil, errs.New(errs.CodeValidation, "currency must be a three-letter code")
	}
	if (req.Token == "") == (req.Card == nil) {
		return nil, errs.New(errs.CodeValidation, "exactly one of token and card is required")
	}

	var info vault.TokenInfo
	var err error
	if req.Card != nil {
		info, err = s.vault.Tokenize(ctx, req.MerchantID, *req.Card)
	} else {
		info, err = s.vault.Info(ctx, req.Token, req.MerchantID)
	}
	if err != nil {
		return nil, err
	}

	txn := &Transaction{
		ID:         uuid.NewString(),
		MerchantID: req.MerchantID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Status:     StatusPending,
		Type:       TypePurchase,
		Token:      info.Token,
		CardLast4:  info.Last4,
		CardBrand:  info.Brand,
		Metadata:   req.Metadata,
	}

	err = s.commitWithEvent(ctx, txn, outbox.TransactionCreated{
		TransactionID: txn.ID,
		MerchantID:    txn.MerchantID,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		Token:         txn.Token,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementCounter("transactions.created", map[string]string{"type": string(TypePurchase)})
	s.logger.Info("Purchase accepted",
		zap.String("transaction_id", txn.ID),
		zap.String("merchant_id", txn.MerchantID),
		zap.Int64("amount", txn.Amount))
	return txn, nil
}

// CreateRefund validates the refund against the original and records a
// dependent pending refund. A request over the remaining refundable amount
// is rejected here, before any outbox entry exists.
func (s *Service) CreateRefund(ctx context.Context, req RefundRequest) (*Transaction, error) {
	if err := validateCommon(req.MerchantID, req.Amount); err != nil {
		return nil, err
	}

	original, err := s.store.GetForMerchant(ctx, req.OriginalTransactionID, req.MerchantID)
	if err != nil {
		return nil, err
	}
	if !original.Refundable() {
		return nil, errs.Newf(errs.CodeValidation,
			"transaction %s in status %s cannot be refunded", original.ID, original.Status)
	}
	if req.Amount > original.RemainingRefundable() {
		return nil, errs.Newf(errs.CodeValidation,
			"refund of %d exceeds remaining refundable %d", req.Amount, original.RemainingRefundable())
	}

	txn := &Transaction{
		ID:                    uuid.NewString(),
		MerchantID:            req.MerchantID,
		Amount:                req.Amount,
		Currency:              original.Currency,
		Status:                StatusPending,
		Type:                  TypeRefund,
		OriginalTransactionID: original.ID,
		Metadata:              req.Metadata,
	}

	err = s.commitWithEvent(ctx, txn, outbox.RefundRequested{
		RefundID:              txn.ID,
		OriginalTransactionID: original.ID,
		MerchantID:            txn.MerchantID,
		Amount:                txn.Amount,
		Reason:                req.Reason,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementCounter("transactions.created", map[string]string{"type": string(TypeRefund)})
	s.logger.Info("Refund accepted",
		zap.String("transaction_id", txn.ID),
		zap.String("original_transaction_id", original.ID),
		zap.Int64("amount", txn.Amount))
	return txn, nil
}

// CreateChargeback records a dispute as a dependent pending chargeback for
// the original's remaining amount.
func (s *Service) CreateChargeback(ctx context.Context, req ChargebackRequest) (*Transaction, error) {
	if req.MerchantID == "" {
		return nil, errs.New(errs.CodeValidation, "merchant id is required")
	}

	original, err := s.store.GetForMerchant(ctx, req.OriginalTransactionID, req.MerchantID)
	if err != nil {
		return nil, err
	}
	if !original.Refundable() {
		return nil, errs.Newf(errs.CodeValidation,
			"transaction %s in status %s cannot be disputed", original.ID, original.Status)
	}

	txn := &Transaction{
		ID:                    uuid.NewString(),
		MerchantID:            req.MerchantID,
		Amount:                original.RemainingRefundable(),
		Currency:              original.Currency,
		Status:                StatusPending,
		Type:                  TypeChargeback,
		OriginalTransactionID: original.ID,
		Metadata:              req.Metadata,
	}

	err = s.commitWithEvent(ctx, txn, outbox.ChargebackRequested{
		ChargebackID:          txn.ID,
		OriginalTransactionID: original.ID,
		MerchantID:            txn.MerchantID,
		Amount:                txn.Amount,
		Reason:                req.Reason,
		DisputeID:             req.DisputeID,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementCounter("transactions.created", map[string]string{"type": string(TypeChargeback)})
	s.logger.Info("Chargeback accepted",
		zap.String("transaction_id", txn.ID),
		zap.String("original_transaction_id", original.ID))
	return txn, nil
}

// Get returns a merchant's transaction.
func (s *Service) Get(ctx context.Context, id, merchantID string) (*Transaction, error) {
	return s.store.GetForMerchant(ctx, id, merchantID)
}

// List returns a merchant's transactions.
func (s *Service) List(ctx context.Context, merchantID string, filter ListFilter) ([]Transaction, error) {
	return s.store.List(ctx, merchantID, filter)
}

// commitWithEvent writes the transaction and its outbox entry in one scope.
// If either write fails the scope aborts and neither persists.
func (s *Service) commitWithEvent(ctx context.Context, txn *Transaction, payload outbox.Payload) error {
	entry, err := outbox.NewEntry(txn.ID, payload)
	if err != nil {
		return err
	}
	return s.uow.Do(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, txn); err != nil {
			return err
		}
		return s.outbox.CreateEntry(ctx, entry)
	})
}

func validateCommon(merchantID string, amount int64) error {
	if merchantID == "" {
		return errs.New(errs.CodeValidation, "merchant id is required")
	}
	if amount <= 0 {
		return errs.New(errs.CodeValidation, "amount must be positive")
	}
	return nil
}
