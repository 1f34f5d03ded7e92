package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/overtonx/paygate/errs"
)

// EventType tags the payload variant carried by an entry.
type EventType string

const (
	// EventTransactionCreated asks the bank to authorize a new purchase.
	EventTransactionCreated EventType = "transaction.created"
	// EventRefundRequested asks the bank to process a refund.
	EventRefundRequested EventType = "refund.requested"
	// EventChargebackRequested asks the bank to process a chargeback.
	EventChargebackRequested EventType = "chargeback.requested"
	// EventWebhookNotification schedules an outbound merchant notification.
	EventWebhookNotification EventType = "webhook.notification"
)

// Payload is one variant of the event payload union.
type Payload interface {
	EventType() EventType
}

// TransactionCreated is the payload of EventTransactionCreated.
type TransactionCreated struct {
	TransactionID string `json:"transaction_id"`
	MerchantID    string `json:"merchant_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Token         string `json:"token"`
}

// EventType implements Payload.
func (TransactionCreated) EventType() EventType { return EventTransactionCreated }

// RefundRequested is the payload of EventRefundRequested.
type RefundRequested struct {
	RefundID              string `json:"refund_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	MerchantID            string `json:"merchant_id"`
	Amount                int64  `json:"amount"`
	Reason                string `json:"reason"`
}

// EventType implements Payload.
func (RefundRequested) EventType() EventType { return EventRefundRequested }

// ChargebackRequested is the payload of EventChargebackRequested.
type ChargebackRequested struct {
	ChargebackID          string `json:"chargeback_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	MerchantID            string `json:"merchant_id"`
	Amount                int64  `json:"amount"`
	Reason                string `json:"reason"`
	DisputeID             string `json:"dispute_id,omitempty"`
}

// EventType implements Payload.
func (ChargebackRequested) EventType() EventType { return EventChargebackRequested }

// WebhookNotification is the payload of EventWebhookNotification.
type WebhookNotification struct {
	TransactionID     string    `json:"transaction_id"`
	MerchantID        string    `json:"merchant_id"`
	Status            string    `json:"status"`
	Success           bool      `json:"success"`
	AuthorizationCode string    `json:"authorization_code,omitempty"`
	FailureReason     string    `json:"failure_reason,omitempty"`
	Amount            int64     `json:"amount"`
	IsRefund          bool      `json:"is_refund"`
	IsChargeback      bool      `json:"is_chargeback"`
	Timestamp         time.Time `json:"timestamp"`
}

// EventType implements Payload.
func (WebhookNotification) EventType() EventType { return EventWebhookNotification }

// NewEntry builds a pending entry for the aggregate carrying the given
// payload variant. The entry's EventID doubles as the transport message id.
func NewEntry(aggregateID string, payload Payload) (*Entry, error) {
	if aggregateID == "" {
		return nil, errs.New(errs.CodeValidation, "aggregate id is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Entry{
		EventID:     uuid.NewString(),
		AggregateID: aggregateID,
		EventType:   payload.EventType(),
		Payload:     raw,
		Status:      StatusPending,
	}, nil
}

// DecodePayload dispatches on the event type tag and unmarshals the matching
// payload variant.
func DecodePayload(eventType EventType, data []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch eventType {
	case EventTransactionCreated:
		var v TransactionCreated
		err = json.Unmarshal(data, &v)
		p = v
	case EventRefundRequested:
		var v RefundRequested
		err = json.Unmarshal(data, &v)
		p = v
	case EventChargebackRequested:
		var v ChargebackRequested
		err = json.Unmarshal(data, &v)
		p = v
	case EventWebhookNotification:
		var v WebhookNotification
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, errs.Newf(errs.CodeValidation, "unknown event type %q", eventType)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return p, nil
}
