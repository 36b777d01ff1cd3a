package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/bling0390/vivbliss-watch/internal/domain/receipt"
)

func TestReceiptStoreNilPool(t *testing.T) {
	store := NewReceiptStore(nil)
	ctx := context.Background()
	rcpt := receipt.Receipt{
		DedupeKey:  "dk-1",
		TargetChat: "@deals",
		MessageIDs: []int64{10, 11},
		SentAt:     time.Now().UTC(),
	}
	if _, err := store.Insert(ctx, rcpt); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := store.Get(ctx, "dk-1"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
}

func TestReceiptStoreInsertValidation(t *testing.T) {
	store := NewReceiptStore(nil)
	if _, err := store.Insert(context.Background(), receipt.Receipt{}); err == nil {
		t.Fatalf("expected error for missing dedupe key")
	}
}
