// Package outbox implements the transactional outbox: entries created
// atomically with the business write that produced them, a relay that drains
// them to the message transport, and the sweeps that retry and clean up.
package outbox

import "time"

// Status is the lifecycle position of an outbox entry.
type Status string

const (
	// StatusPending marks an entry waiting to be picked up by the relay.
	StatusPending Status = "pending"
	// StatusProcessing marks an entry claimed by a relay instance.
	StatusProcessing Status = "processing"
	// StatusCompleted marks an entry whose event was published.
	StatusCompleted Status = "completed"
	// StatusFailed marks an entry whose delivery attempt failed. Entries
	// under the retry threshold return to pending; at the threshold they are
	// permanently failed and require an operator reset.
	StatusFailed Status = "failed"
)

// Entry is the durable record of an event to be published.
type Entry struct {
	ID          int64
	EventID     string // transport message id, unique
	AggregateID string // owning transaction id
	EventType   EventType
	Payload     []byte
	Status      Status
	RetryCount  int
	LastError   string
	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Stats is a point-in-time count of entries per state.
type Stats struct {
	Pending           int64
	Processing        int64
	Completed         int64
	Failed            int64
	PermanentlyFailed int64
}
