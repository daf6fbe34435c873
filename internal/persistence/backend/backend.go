// Package backend opens the Store selected by configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/volunteer/internal/config"
	"example.com/volunteer/internal/domain"
	"example.com/volunteer/internal/persistence/memory"
	"example.com/volunteer/internal/persistence/postgres"
	"example.com/volunteer/internal/persistence/sqlite"
)

// Backend bundles an opened store with the resources it owns. Pool is only
// set for the postgres driver; the outbox dispatcher and DLQ manager need it.
type Backend struct {
	Store domain.Store
	Pool  *pgxpool.Pool

	closeFn func()
}

// Open connects to the store named by cfg.StoreDriver.
func Open(ctx context.Context, cfg config.Config) (*Backend, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return &Backend{Store: postgres.NewRepository(pool), Pool: pool, closeFn: pool.Close}, nil
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: store, closeFn: func() { _ = store.Close() }}, nil
	case config.DriverMemory:
		return &Backend{Store: memory.NewStore()}, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// Close releases the store's resources.
func (b *Backend) Close() {
	if b != nil && b.closeFn != nil {
		b.closeFn()
	}
}
