// Package consumer holds the message handlers behind the transport consumer:
// the command handler that calls the bank, the response handler that settles
// transactions, and the webhook handler that notifies merchants.
package consumer

import (
	"encoding/json"
	"time"
)

// EventBankResponse tags bank decision messages on the response topic.
const EventBankResponse = "bank.response"

// BankResponse is the bank's decision for one pending transaction, produced
// by the command handler and settled by the response handler.
type BankResponse struct {
	TransactionID         string    `json:"transaction_id"`
	OriginalTransactionID string    `json:"original_transaction_id,omitempty"`
	MerchantID            string    `json:"merchant_id"`
	TransactionType       string    `json:"transaction_type"`
	Amount                int64     `json:"amount"`
	Approved              bool      `json:"approved"`
	AuthorizationCode     string    `json:"authorization_code,omitempty"`
	DeclineReason         string    `json:"decline_reason,omitempty"`
	DecidedAt             time.Time `json:"decided_at"`
}

// Encode serializes the response for the transport.
func (r BankResponse) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeBankResponse parses a response message payload.
func DecodeBankResponse(data []byte) (BankResponse, error) {
	var r BankResponse
	err := json.Unmarshal(data, &r)
	return r, err
}
