// Package reconcile compares incoming product records against the catalog,
// assigns versions, and emits outbox events for content changes.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bling0390/vivbliss-watch/errs"
	"github.com/bling0390/vivbliss-watch/internal/domain/catalog"
	"github.com/bling0390/vivbliss-watch/internal/domain/outbox"
	"github.com/bling0390/vivbliss-watch/internal/observability"
)

// changedFieldWhitelist fixes the fields eligible for change descriptors so
// noise in the raw echo never produces misleading diffs.
var changedFieldWhitelist = []string{"title", "price", "url"}

var (
	reconcileCounter   metric.Int64Counter
	reconcileCounterMu sync.Once
)

// Reconciler is the sole writer of product upserts and outbox inserts.
type Reconciler struct {
	catalog catalog.Store
	outbox  outbox.Store
	clock   func() time.Time
}

// New constructs a Reconciler over the provided stores. A nil clock defaults
// to time.Now.
func New(catalogStore catalog.Store, outboxStore outbox.Store, clock func() time.Time) *Reconciler {
	if clock == nil {
		clock = time.Now
	}
	return &Reconciler{catalog: catalogStore, outbox: outboxStore, clock: clock}
}

// Reconcile applies one extracted record to the catalog and, when the content
// changed, enqueues a change notification. The record is returned unchanged.
//
// Reprocessing the same record is idempotent: the fingerprint short-circuits
// the no-op case, media rows dedupe on their composite key, and a replayed
// outbox insert is suppressed by the dedupe key.
func (r *Reconciler) Reconcile(ctx context.Context, rec catalog.Record) (catalog.Record, error) {
	productKey := strings.TrimSpace(rec.ProductKey)
	if productKey == "" {
		return rec, errs.New("reconciler", errs.CodeInvalid,
			errs.WithMessage("product record missing product_key"))
	}

	now := r.clock().UTC()
	fingerprint := catalog.Fingerprint(rec)

	existing, err := r.catalog.GetProduct(ctx, productKey)
	if err != nil {
		return rec, fmt.Errorf("reconcile %s: %w", productKey, err)
	}

	version := 1
	eventType := outbox.EventProductCreated
	change := outbox.Change{ChangedFields: []string{}, PreviousVersion: nil}
	emit := true
	createdAt := now

	if existing != nil {
		createdAt = existing.CreatedAt
		if existing.Fingerprint == fingerprint {
			version = existing.Version
			emit = false
		} else {
			version = existing.Version + 1
			previous := existing.Version
			change.PreviousVersion = &previous
			change.ChangedFields = diffFields(rec, existing)
			eventType = outbox.EventProductUpdated
		}
	}

	product := catalog.Product{
		ProductKey:  productKey,
		URL:         rec.URL,
		Title:       rec.Title,
		Price:       rec.Price,
		Raw:         rec.Raw,
		Fingerprint: fingerprint,
		Version:     version,
		CreatedAt:   createdAt,
		UpdatedAt:   now,
	}
	if err := r.catalog.UpsertProduct(ctx, product, createdAt); err != nil {
		return rec, fmt.Errorf("reconcile %s: %w", productKey, err)
	}

	if len(rec.Media) > 0 {
		rows := make([]catalog.MediaRow, 0, len(rec.Media))
		for _, media := range rec.Media {
			rows = append(rows, catalog.MediaRow{
				ProductKey: productKey,
				Version:    version,
				MediaType:  media.MediaType,
				SourceURL:  media.SourceURL,
				LocalPath:  media.LocalPath,
				CreatedAt:  now,
			})
		}
		if err := r.catalog.InsertMedia(ctx, rows); err != nil {
			return rec, fmt.Errorf("reconcile %s: %w", productKey, err)
		}
	}

	outcome := "noop"
	if emit {
		outcome = string(eventType)
		event := outbox.Event{
			DedupeKey:  catalog.BuildDedupeKey(productKey, version, string(eventType)),
			ProductKey: productKey,
			Version:    version,
			EventType:  eventType,
			Payload: outbox.Payload{
				Product: outbox.ProductSnapshot{
					ProductKey: productKey,
					URL:        rec.URL,
					Title:      rec.Title,
					Price:      rec.Price,
					Version:    version,
				},
				Change: change,
			},
		}
		inserted, err := r.outbox.Insert(ctx, event)
		if err != nil {
			return rec, fmt.Errorf("reconcile %s: %w", productKey, err)
		}
		if !inserted {
			observability.Log().Debug("outbox duplicate suppressed",
				observability.F("product_key", productKey),
				observability.F("dedupe_key", event.DedupeKey))
		}
	}

	recordReconcileMetric(ctx, outcome)
	return rec, nil
}

// diffFields returns the whitelisted fields whose values differ between the
// incoming record and the stored product, in whitelist order.
func diffFields(rec catalog.Record, existing *catalog.Product) []string {
	changed := make([]string, 0, len(changedFieldWhitelist))
	for _, field := range changedFieldWhitelist {
		switch field {
		case "title":
			if !equalOptional(rec.Title, existing.Title) {
				changed = append(changed, field)
			}
		case "price":
			if !rec.Price.Equal(existing.Price) {
				changed = append(changed, field)
			}
		case "url":
			if rec.URL != existing.URL {
				changed = append(changed, field)
			}
		}
	}
	return changed
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func recordReconcileMetric(ctx context.Context, outcome string) {
	reconcileCounterMu.Do(func() {
		meter := otel.Meter("reconcile")
		counter, err := meter.Int64Counter("vivbliss_products_reconciled_total",
			metric.WithDescription("Product records reconciled against the catalog"),
			metric.WithUnit("{record}"))
		if err == nil {
			reconcileCounter = counter
		}
	})
	if reconcileCounter == nil {
		return
	}
	reconcileCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
