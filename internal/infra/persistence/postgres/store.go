// Package postgres provides PostgreSQL-backed repositories for the catalog,
// outbox, and receipt stores.
package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bling0390/vivbliss-watch/internal/infra/persistence"
)

// Store exposes PostgreSQL-backed repositories sharing one pgx pool.
type Store struct {
	*persistence.Store
}

// New constructs a PostgreSQL persistence store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{Store: persistence.NewStore(pool)}
}

// Catalog returns the catalog repository bound to the shared pool.
func (s *Store) Catalog() *CatalogStore {
	return NewCatalogStore(s.Pool())
}

// Outbox returns the outbox repository bound to the shared pool.
func (s *Store) Outbox() *OutboxStore {
	return NewOutboxStore(s.Pool())
}

// Receipts returns the receipt repository bound to the shared pool.
func (s *Store) Receipts() *ReceiptStore {
	return NewReceiptStore(s.Pool())
}
