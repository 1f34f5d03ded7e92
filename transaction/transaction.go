// Package transaction holds the payment ledger: purchase, refund and
// chargeback records and their lifecycle. Records are created pending by the
// request path; every later transition happens in a response consumer.
package transaction

import (
	"time"

	"github.com/overtonx/paygate/errs"
)

// Status is a transaction's lifecycle position.
type Status string

const (
	// StatusPending marks a transaction awaiting its bank response.
	StatusPending Status = "pending"
	// StatusAuthorized marks an approved purchase.
	StatusAuthorized Status = "authorized"
	// StatusCaptured marks a settled purchase.
	StatusCaptured Status = "captured"
	// StatusFailed marks a declined transaction.
	StatusFailed Status = "failed"
	// StatusRefunded marks a purchase fully returned to the cardholder.
	StatusRefunded Status = "refunded"
	// StatusPartialRefund marks a purchase partially returned.
	StatusPartialRefund Status = "partial_refund"
	// StatusChargeback marks a purchase reversed by a dispute.
	StatusChargeback Status = "chargeback"
)

// Type distinguishes the three transaction kinds.
type Type string

const (
	TypePurchase   Type = "purchase"
	TypeRefund     Type = "refund"
	TypeChargeback Type = "chargeback"
)

// Transaction is one ledger record. Refunds and chargebacks are their own
// rows pointing back at the original through OriginalTransactionID; the
// original is only ever touched via RefundedAmount and the derived statuses.
type Transaction struct {
	ID                    string
	MerchantID            string
	Amount                int64 // minor units
	Currency              string
	Status                Status
	Type                  Type
	Token                 string
	CardLast4             string
	CardBrand             string
	AuthorizationCode     string
	FailureReason         string
	OriginalTransactionID string // set for refund and chargeback rows
	RefundedAmount        int64
	Version               int64
	Metadata              map[string]string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Refundable reports whether the transaction can anchor a refund or
// chargeback.
func (t *Transaction) Refundable() bool {
	return t.Type == TypePurchase && (t.Status == StatusAuthorized || t.Status == StatusCaptured ||
		t.Status == StatusPartialRefund)
}

// RemainingRefundable returns how much of the amount is still refundable.
func (t *Transaction) RemainingRefundable() int64 {
	return t.Amount - t.RefundedAmount
}

// validTransitions holds the full state machine. A pending row resolves to
// its bank outcome; originals move between the settled and refunded states as
// dependent rows settle.
var validTransitions = map[Status][]Status{
	StatusPending:       {StatusAuthorized, StatusFailed},
	StatusAuthorized:    {StatusCaptured, StatusRefunded, StatusPartialRefund, StatusChargeback},
	StatusCaptured:      {StatusRefunded, StatusPartialRefund, StatusChargeback},
	StatusPartialRefund: {StatusRefunded, StatusPartialRefund, StatusChargeback},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates and applies a status change.
func (t *Transaction) Transition(to Status) error {
	if !CanTransition(t.Status, to) {
		return errs.Newf(errs.CodeConflict, "transaction %s cannot move from %s to %s", t.ID, t.Status, to)
	}
	t.Status = to
	return nil
}
