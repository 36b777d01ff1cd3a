// Package catalog defines the versioned product catalog types and persistence contracts.
package catalog

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
)

// MediaType distinguishes the supported media kinds.
type MediaType string

const (
	// MediaImage marks an image media row.
	MediaImage MediaType = "image"
	// MediaVideo marks a video media row.
	MediaVideo MediaType = "video"
)

// Price carries the extracted amount and currency verbatim.
type Price struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// Equal reports value equality of two optional prices.
func (p *Price) Equal(other *Price) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.Amount == other.Amount && p.Currency == other.Currency
}

// MediaRef describes one media descriptor attached to an extracted record.
type MediaRef struct {
	MediaType MediaType `json:"media_type"`
	SourceURL string    `json:"source_url"`
	LocalPath *string   `json:"local_path"`
}

// Record is the normalized product record produced by the extractor.
type Record struct {
	ProductKey string          `json:"product_key"`
	URL        string          `json:"url"`
	Title      *string         `json:"title"`
	Price      *Price          `json:"price"`
	Media      []MediaRef      `json:"media"`
	Raw        json.RawMessage `json:"raw"`
}

// Product is a persisted catalog row. Version starts at 1 and increases
// strictly on each content change.
type Product struct {
	ProductKey  string
	URL         string
	Title       *string
	Price       *Price
	Raw         json.RawMessage
	Fingerprint string
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MediaRow belongs to a product at a specific version. Rows are write-once;
// duplicates on (product_key, version, media_type, source_url) are dropped.
type MediaRow struct {
	ProductKey string
	Version    int
	MediaType  MediaType
	SourceURL  string
	LocalPath  *string
	CreatedAt  time.Time
}

// Store abstracts catalog persistence.
type Store interface {
	// GetProduct returns the stored product or nil when the key is unknown.
	GetProduct(ctx context.Context, productKey string) (*Product, error)
	// UpsertProduct writes the product document. createdAt is applied only on
	// first insert; updates preserve the stored created_at.
	UpsertProduct(ctx context.Context, product Product, createdAt time.Time) error
	// InsertMedia inserts media rows, silently dropping unique-key duplicates.
	// A partial collision must not abort the batch.
	InsertMedia(ctx context.Context, rows []MediaRow) error
	// ListMedia returns up to limit media rows for the product version ordered
	// by created_at ascending.
	ListMedia(ctx context.Context, productKey string, version, limit int) ([]MediaRow, error)
}
