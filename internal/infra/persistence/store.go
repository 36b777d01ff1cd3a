// Package persistence exposes shared wiring for database-backed repositories.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	connectMaxInterval = 5 * time.Second
	connectMaxWait     = 60 * time.Second
)

// Store coordinates database-backed repositories. Concrete implementations live
// in subpackages (e.g. postgres).
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store backed by the provided pgx pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pgx pool for repository implementations.
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// Connect establishes a pgx pool, waiting for the database to accept
// connections with exponential backoff. Startup races against the database
// container are absorbed here rather than in the callers.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence: new pool: %w", err)
	}

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = connectMaxInterval

	deadline := time.Now().Add(connectMaxWait)
	for {
		pingCtx, cancel := context.WithTimeout(ctx, connectMaxInterval)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			return pool, nil
		}
		if time.Now().After(deadline) {
			pool.Close()
			return nil, fmt.Errorf("persistence: database unreachable: %w", err)
		}
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			pool.Close()
			return nil, fmt.Errorf("persistence: database unreachable: %w", err)
		}
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, fmt.Errorf("persistence: connect cancelled: %w", ctx.Err())
		case <-time.After(sleep):
		}
	}
}
