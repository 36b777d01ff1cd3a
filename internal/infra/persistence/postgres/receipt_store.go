package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bling0390/vivbliss-watch/internal/domain/receipt"
)

// ReceiptStore persists proof of acknowledged deliveries.
type ReceiptStore struct {
	pool *pgxpool.Pool
}

// NewReceiptStore constructs a ReceiptStore backed by the provided pool.
func NewReceiptStore(pool *pgxpool.Pool) *ReceiptStore {
	return &ReceiptStore{pool: pool}
}

const (
	receiptInsertSQL = `
INSERT INTO send_receipts (dedupe_key, target_chat, message_ids, sent_at)
VALUES (@dedupe_key, @target_chat, @message_ids, @sent_at)
ON CONFLICT (dedupe_key) DO NOTHING;
`

	receiptSelectSQL = `
SELECT dedupe_key, target_chat, message_ids, sent_at
FROM send_receipts
WHERE dedupe_key = $1;
`
)

func (s *ReceiptStore) ensurePool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("receipt store: nil pool")
	}
	return s.pool, nil
}

// Insert writes the receipt. A collision on the dedupe key reports
// inserted=false: a concurrent worker already delivered and the caller must
// treat the event as sent.
func (s *ReceiptStore) Insert(ctx context.Context, rcpt receipt.Receipt) (bool, error) {
	dedupeKey := strings.TrimSpace(rcpt.DedupeKey)
	if dedupeKey == "" {
		return false, fmt.Errorf("receipt store: dedupe key required")
	}
	pool, err := s.ensurePool()
	if err != nil {
		return false, err
	}
	messageIDs := rcpt.MessageIDs
	if messageIDs == nil {
		messageIDs = []int64{}
	}
	args := pgx.NamedArgs{
		"dedupe_key":  dedupeKey,
		"target_chat": strings.TrimSpace(rcpt.TargetChat),
		"message_ids": messageIDs,
		"sent_at":     rcpt.SentAt,
	}
	tag, err := pool.Exec(ctx, receiptInsertSQL, args)
	if err != nil {
		return false, fmt.Errorf("receipt store: insert receipt: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get returns the stored receipt or nil when none exists for the dedupe key.
func (s *ReceiptStore) Get(ctx context.Context, dedupeKey string) (*receipt.Receipt, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	var rcpt receipt.Receipt
	row := pool.QueryRow(ctx, receiptSelectSQL, strings.TrimSpace(dedupeKey))
	if err := row.Scan(&rcpt.DedupeKey, &rcpt.TargetChat, &rcpt.MessageIDs, &rcpt.SentAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("receipt store: get receipt: %w", err)
	}
	return &rcpt, nil
}

var _ receipt.Store = (*ReceiptStore)(nil)
