package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bling0390/vivbliss-watch/internal/domain/catalog"
)

// CatalogStore persists versioned products and their media rows.
type CatalogStore struct {
	pool *pgxpool.Pool
}

// NewCatalogStore constructs a CatalogStore backed by the provided pool.
func NewCatalogStore(pool *pgxpool.Pool) *CatalogStore {
	return &CatalogStore{pool: pool}
}

const (
	defaultMediaLimit = 10
	maxMediaLimit     = 100
)

const (
	productSelectSQL = `
SELECT
    product_key,
    url,
    title,
    price_amount,
    price_currency,
    raw,
    fingerprint,
    version,
    created_at,
    updated_at
FROM products
WHERE product_key = $1;
`

	productUpsertSQL = `
INSERT INTO products (
    product_key,
    url,
    title,
    price_amount,
    price_currency,
    raw,
    fingerprint,
    version,
    created_at,
    updated_at
)
VALUES (
    @product_key,
    @url,
    @title,
    @price_amount,
    @price_currency,
    COALESCE(@raw::jsonb, '{}'::jsonb),
    @fingerprint,
    @version,
    @created_at,
    @updated_at
)
ON CONFLICT (product_key) DO UPDATE SET
    url = EXCLUDED.url,
    title = EXCLUDED.title,
    price_amount = EXCLUDED.price_amount,
    price_currency = EXCLUDED.price_currency,
    raw = EXCLUDED.raw,
    fingerprint = EXCLUDED.fingerprint,
    version = EXCLUDED.version,
    updated_at = EXCLUDED.updated_at;
`

	mediaInsertSQL = `
INSERT INTO product_media (
    product_key,
    version,
    media_type,
    source_url,
    local_path,
    created_at
)
VALUES (@product_key, @version, @media_type, @source_url, @local_path, @created_at)
ON CONFLICT ON CONSTRAINT uniq_media DO NOTHING;
`

	mediaListSQL = `
SELECT
    product_key,
    version,
    media_type,
    source_url,
    local_path,
    created_at
FROM product_media
WHERE product_key = $1
  AND version = $2
ORDER BY created_at ASC, id ASC
LIMIT $3;
`
)

func (s *CatalogStore) ensurePool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("catalog store: nil pool")
	}
	return s.pool, nil
}

// GetProduct returns the stored product or nil when the key is unknown.
func (s *CatalogStore) GetProduct(ctx context.Context, productKey string) (*catalog.Product, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(productKey)
	if key == "" {
		return nil, fmt.Errorf("catalog store: product key required")
	}

	row := pool.QueryRow(ctx, productSelectSQL, key)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog store: get product: %w", err)
	}
	return product, nil
}

// UpsertProduct writes the product document, preserving created_at on update.
func (s *CatalogStore) UpsertProduct(ctx context.Context, product catalog.Product, createdAt time.Time) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	key := strings.TrimSpace(product.ProductKey)
	if key == "" {
		return fmt.Errorf("catalog store: product key required")
	}
	raw, err := encodeRaw(product.Raw)
	if err != nil {
		return fmt.Errorf("catalog store: encode raw: %w", err)
	}
	var amount, currency *string
	if product.Price != nil {
		amount = &product.Price.Amount
		currency = &product.Price.Currency
	}
	args := pgx.NamedArgs{
		"product_key":    key,
		"url":            product.URL,
		"title":          product.Title,
		"price_amount":   amount,
		"price_currency": currency,
		"raw":            raw,
		"fingerprint":    product.Fingerprint,
		"version":        product.Version,
		"created_at":     createdAt,
		"updated_at":     product.UpdatedAt,
	}
	if _, err := pool.Exec(ctx, productUpsertSQL, args); err != nil {
		return fmt.Errorf("catalog store: upsert product: %w", err)
	}
	return nil
}

// InsertMedia inserts the media rows, silently dropping duplicates on the
// composite unique key. A colliding row never aborts the batch.
func (s *CatalogStore) InsertMedia(ctx context.Context, rows []catalog.MediaRow) error {
	if len(rows) == 0 {
		return nil
	}
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}

	batch := new(pgx.Batch)
	for _, row := range rows {
		batch.Queue(mediaInsertSQL, pgx.NamedArgs{
			"product_key": row.ProductKey,
			"version":     row.Version,
			"media_type":  string(row.MediaType),
			"source_url":  row.SourceURL,
			"local_path":  row.LocalPath,
			"created_at":  row.CreatedAt,
		})
	}
	results := pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("catalog store: insert media: %w", err)
		}
	}
	return nil
}

// ListMedia returns up to limit media rows for the product version ordered by
// created_at ascending.
func (s *CatalogStore) ListMedia(ctx context.Context, productKey string, version, limit int) ([]catalog.MediaRow, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultMediaLimit
	} else if limit > maxMediaLimit {
		limit = maxMediaLimit
	}

	rows, err := pool.Query(ctx, mediaListSQL, strings.TrimSpace(productKey), version, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog store: list media: %w", err)
	}
	defer rows.Close()

	var records []catalog.MediaRow
	for rows.Next() {
		var (
			record    catalog.MediaRow
			mediaType string
			localPath pgtype.Text
		)
		if err := rows.Scan(
			&record.ProductKey,
			&record.Version,
			&mediaType,
			&record.SourceURL,
			&localPath,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("catalog store: scan media: %w", err)
		}
		record.MediaType = catalog.MediaType(mediaType)
		if localPath.Valid {
			path := localPath.String
			record.LocalPath = &path
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog store: iterate media: %w", err)
	}
	return records, nil
}

func scanProduct(row rowScanner) (*catalog.Product, error) {
	var (
		product  catalog.Product
		title    pgtype.Text
		amount   pgtype.Text
		currency pgtype.Text
		rawJSON  []byte
	)
	if err := row.Scan(
		&product.ProductKey,
		&product.URL,
		&title,
		&amount,
		&currency,
		&rawJSON,
		&product.Fingerprint,
		&product.Version,
		&product.CreatedAt,
		&product.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if title.Valid {
		t := title.String
		product.Title = &t
	}
	if amount.Valid {
		product.Price = &catalog.Price{Amount: amount.String, Currency: ""}
		if currency.Valid {
			product.Price.Currency = currency.String
		}
	}
	if len(rawJSON) > 0 {
		product.Raw = json.RawMessage(rawJSON)
	}
	return &product, nil
}

func encodeRaw(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("invalid raw json")
	}
	return []byte(raw), nil
}

var _ catalog.Store = (*CatalogStore)(nil)
