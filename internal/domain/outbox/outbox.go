// Package outbox defines the durable change-notification queue types and
// persistence contracts.
package outbox

import (
	"context"
	"time"

	"github.com/bling0390/vivbliss-watch/internal/domain/catalog"
)

// EventType names a change notification kind.
type EventType string

const (
	// EventProductCreated marks the first ingest of a product key.
	EventProductCreated EventType = "product_created"
	// EventProductUpdated marks a content change on an existing product.
	EventProductUpdated EventType = "product_updated"
)

// Status tracks the delivery lifecycle of an outbox event. The terminal state
// is StatusSent.
type Status string

const (
	// StatusPending marks an event awaiting dispatch.
	StatusPending Status = "pending"
	// StatusProcessing marks an event claimed by a worker.
	StatusProcessing Status = "processing"
	// StatusSent marks a delivered event.
	StatusSent Status = "sent"
)

// Change describes what differed from the previous product version.
type Change struct {
	ChangedFields   []string `json:"changed_fields"`
	PreviousVersion *int     `json:"previous_version"`
}

// ProductSnapshot is the product summary embedded in the event payload.
type ProductSnapshot struct {
	ProductKey string         `json:"product_key"`
	URL        string         `json:"url"`
	Title      *string        `json:"title"`
	Price      *catalog.Price `json:"price"`
	Version    int            `json:"version"`
}

// Payload is the event body delivered to the strategy renderer.
type Payload struct {
	Product ProductSnapshot `json:"product"`
	Change  Change          `json:"change"`
}

// Event encapsulates a single outbox entry ready to be inserted.
type Event struct {
	DedupeKey  string
	ProductKey string
	Version    int
	EventType  EventType
	Payload    Payload
}

// EventRecord captures the persisted state of an outbox entry.
type EventRecord struct {
	ID           int64
	DedupeKey    string
	ProductKey   string
	Version      int
	EventType    EventType
	Payload      Payload
	Status       Status
	TryCount     int
	LastError    string
	StrategyUsed string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store abstracts persistence operations for the outbox.
type Store interface {
	// Insert writes a pending event. It returns false without error when the
	// dedupe key already exists (idempotent reconvergence).
	Insert(ctx context.Context, evt Event) (bool, error)
	// FindPending returns pending events ordered by created_at ascending.
	FindPending(ctx context.Context, limit int) ([]EventRecord, error)
	// Claim transitions the event from pending to processing, incrementing
	// try_count and stamping updated_at in one atomic conditional write. It
	// returns nil when the event was not pending.
	Claim(ctx context.Context, id int64) (*EventRecord, error)
	// MarkSent finalises the event, recording the strategy actually used and
	// clearing last_error.
	MarkSent(ctx context.Context, id int64, strategyUsed string) error
	// RevertToPending returns a failed event to the queue with last_error set.
	RevertToPending(ctx context.Context, id int64, lastError string) error
}
