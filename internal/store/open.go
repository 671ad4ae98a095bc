// Package store opens the configured ledger store.
package store

import (
	"context"
	"fmt"

	"flowdistributor/internal/config"
	"flowdistributor/internal/core"
	"flowdistributor/internal/db"
	"flowdistributor/internal/store/postgres"
	"flowdistributor/internal/store/sqlite"
	"flowdistributor/migrations"

	"go.uber.org/zap"
)

// Open connects to the store named by cfg.Driver, brings its schema up to date, and
// makes sure the default buckets exist. Closing the returned store releases the
// connection pool.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (core.Store, error) {
	var s core.Store
	switch cfg.Driver {
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, pool, migrations.Files, log); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		s = &pooledStore{Store: postgres.NewStore(pool), close: pool.Close}
	case "sqlite":
		ss, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		s = ss
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	for _, b := range core.DefaultBuckets() {
		if err := s.EnsureBucket(ctx, b); err != nil {
			s.Close()
			return nil, fmt.Errorf("ensure bucket %s: %w", b.ID, err)
		}
	}
	log.Info("store opened", zap.String("driver", cfg.Driver))
	return s, nil
}

// pooledStore closes the pgx pool the postgres store was built on.
type pooledStore struct {
	*postgres.Store
	close func()
}

func (p *pooledStore) Close() error {
	p.close()
	return nil
}
