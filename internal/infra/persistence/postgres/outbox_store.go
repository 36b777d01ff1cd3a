package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bling0390/vivbliss-watch/internal/domain/outbox"
)

// OutboxStore persists change notifications awaiting delivery.
type OutboxStore struct {
	pool *pgxpool.Pool
}

// NewOutboxStore constructs an OutboxStore backed by the provided pool.
func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

const (
	defaultOutboxLimit = 20
	maxOutboxLimit     = 500
)

const (
	outboxInsertSQL = `
INSERT INTO outbox_events (
    dedupe_key,
    product_key,
    version,
    event_type,
    payload,
    status,
    try_count,
    created_at,
    updated_at
)
VALUES (@dedupe_key, @product_key, @version, @event_type, COALESCE(@payload::jsonb, '{}'::jsonb), 'pending', 0, NOW(), NOW())
ON CONFLICT (dedupe_key) DO NOTHING;
`

	outboxSelectColumns = `
    id,
    dedupe_key,
    product_key,
    version,
    event_type,
    payload,
    status,
    try_count,
    last_error,
    strategy_used,
    created_at,
    updated_at
`

	outboxFindPendingSQL = `
SELECT` + outboxSelectColumns + `
FROM outbox_events
WHERE status = 'pending'
ORDER BY created_at ASC
LIMIT $1;
`

	outboxClaimSQL = `
UPDATE outbox_events
SET status = 'processing',
    try_count = try_count + 1,
    updated_at = NOW()
WHERE id = $1
  AND status = 'pending'
RETURNING` + outboxSelectColumns + `;
`

	outboxMarkSentSQL = `
UPDATE outbox_events
SET status = 'sent',
    strategy_used = $2,
    last_error = NULL,
    updated_at = NOW()
WHERE id = $1;
`

	outboxRevertSQL = `
UPDATE outbox_events
SET status = 'pending',
    last_error = $2,
    updated_at = NOW()
WHERE id = $1;
`
)

func (s *OutboxStore) ensurePool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("outbox store: nil pool")
	}
	return s.pool, nil
}

// Insert writes a pending event. A dedupe-key collision is reported as
// inserted=false without error; it marks idempotent reconvergence, not a fault.
func (s *OutboxStore) Insert(ctx context.Context, evt outbox.Event) (bool, error) {
	dedupeKey := strings.TrimSpace(evt.DedupeKey)
	if dedupeKey == "" {
		return false, fmt.Errorf("outbox store: dedupe key required")
	}
	productKey := strings.TrimSpace(evt.ProductKey)
	if productKey == "" {
		return false, fmt.Errorf("outbox store: product key required")
	}
	if evt.EventType != outbox.EventProductCreated && evt.EventType != outbox.EventProductUpdated {
		return false, fmt.Errorf("outbox store: unknown event type %q", evt.EventType)
	}
	pool, err := s.ensurePool()
	if err != nil {
		return false, err
	}
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return false, fmt.Errorf("outbox store: encode payload: %w", err)
	}
	args := pgx.NamedArgs{
		"dedupe_key":  dedupeKey,
		"product_key": productKey,
		"version":     evt.Version,
		"event_type":  string(evt.EventType),
		"payload":     payload,
	}
	tag, err := pool.Exec(ctx, outboxInsertSQL, args)
	if err != nil {
		return false, fmt.Errorf("outbox store: insert event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FindPending returns pending events ordered by created_at ascending.
func (s *OutboxStore) FindPending(ctx context.Context, limit int) ([]outbox.EventRecord, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultOutboxLimit
	} else if limit > maxOutboxLimit {
		limit = maxOutboxLimit
	}
	rows, err := pool.Query(ctx, outboxFindPendingSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox store: find pending: %w", err)
	}
	defer rows.Close()

	var records []outbox.EventRecord
	for rows.Next() {
		record, err := scanOutboxRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("outbox store: scan pending: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox store: iterate pending: %w", err)
	}
	return records, nil
}

// Claim atomically transitions the event from pending to processing. The CAS
// on status is the mutual-exclusion primitive between concurrent dispatchers;
// a nil record means another worker holds the event or it is not pending.
func (s *OutboxStore) Claim(ctx context.Context, id int64) (*outbox.EventRecord, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	row := pool.QueryRow(ctx, outboxClaimSQL, id)
	record, err := scanOutboxRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("outbox store: claim event: %w", err)
	}
	return &record, nil
}

// MarkSent finalises the event with the strategy actually used.
func (s *OutboxStore) MarkSent(ctx context.Context, id int64, strategyUsed string) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, outboxMarkSentSQL, id, nullableString(strategyUsed))
	if err != nil {
		return fmt.Errorf("outbox store: mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox store: mark sent: no rows updated")
	}
	return nil
}

// RevertToPending returns a failed event to the queue with last_error set.
func (s *OutboxStore) RevertToPending(ctx context.Context, id int64, lastError string) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, outboxRevertSQL, id, strings.TrimSpace(lastError))
	if err != nil {
		return fmt.Errorf("outbox store: revert to pending: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox store: revert to pending: no rows updated")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutboxRecord(row rowScanner) (outbox.EventRecord, error) {
	var (
		record       outbox.EventRecord
		eventType    string
		status       string
		payloadJSON  []byte
		lastError    pgtype.Text
		strategyUsed pgtype.Text
	)
	if err := row.Scan(
		&record.ID,
		&record.DedupeKey,
		&record.ProductKey,
		&record.Version,
		&eventType,
		&payloadJSON,
		&status,
		&record.TryCount,
		&lastError,
		&strategyUsed,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return outbox.EventRecord{}, err
	}
	record.EventType = outbox.EventType(eventType)
	record.Status = outbox.Status(status)
	if lastError.Valid {
		record.LastError = lastError.String
	}
	if strategyUsed.Valid {
		record.StrategyUsed = strategyUsed.String
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &record.Payload); err != nil {
			return outbox.EventRecord{}, fmt.Errorf("decode payload: %w", err)
		}
	}
	return record, nil
}

func nullableString(value string) any {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return trimmed
}

var _ outbox.Store = (*OutboxStore)(nil)
