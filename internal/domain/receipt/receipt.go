// Package receipt defines durable proof of downstream deliveries keyed by
// dedupe key.
package receipt

import (
	"context"
	"time"
)

// Receipt records one acknowledged delivery. A receipt exists iff the
// downstream transport acknowledged the send at least once; its presence
// blocks any further send for the dedupe key.
type Receipt struct {
	DedupeKey  string
	TargetChat string
	MessageIDs []int64
	SentAt     time.Time
}

// Store abstracts receipt persistence. Insertion is the idempotence
// primitive: a successful insert proves no prior delivery existed.
type Store interface {
	// Insert writes the receipt. It returns false without error when a receipt
	// for the dedupe key already exists, meaning a concurrent worker delivered.
	Insert(ctx context.Context, rcpt Receipt) (bool, error)
	// Get returns the stored receipt or nil when none exists.
	Get(ctx context.Context, dedupeKey string) (*Receipt, error)
}
