// Package inbox implements idempotent message consumption. Every consumed
// message is recorded under its unique message id; a duplicate insert means
// the message was already handled and the redelivery is dropped.
package inbox

import (
	"context"
	"time"
)

// Status is the processing outcome recorded for a message.
type Status string

const (
	// StatusProcessed marks a message whose handler succeeded.
	StatusProcessed Status = "processed"
	// StatusFailed marks a message whose handler failed and was routed to
	// the dead letter topic.
	StatusFailed Status = "failed"
)

// Entry is the durable record of a consumed message. The table is
// append-only; entries are never updated or deleted.
type Entry struct {
	ID          int64
	MessageID   string // transport message id, unique
	EventType   string
	Payload     []byte
	Status      Status
	ProcessedAt time.Time
}

// Store defines the persistence operations for inbox entries.
//
// MarkProcessed resolves its executor through the unit-of-work context:
// called inside a uow scope it joins the scope's transaction, so the dedupe
// record commits atomically with the handler's business writes.
type Store interface {
	// IsProcessed reports whether a message id was already recorded.
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	// MarkProcessed records a successfully handled message. Recording a
	// message id twice is a benign no-op with alreadyProcessed true.
	MarkProcessed(ctx context.Context, messageID, eventType string, payload []byte) (alreadyProcessed bool, err error)
	// MarkFailed records a message whose handler failed.
	MarkFailed(ctx context.Context, messageID, eventType string, payload []byte) error
	// EnsureTables creates the inbox table if it does not exist.
	EnsureTables(ctx context.Context) error
}
