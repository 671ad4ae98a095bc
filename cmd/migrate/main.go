// migrate applies the embedded PostgreSQL migrations and exits.
//
// Usage: go run ./cmd/migrate [-status]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"flowdistributor/internal/config"
	"flowdistributor/internal/db"
	"flowdistributor/internal/logger"
	"flowdistributor/migrations"

	"go.uber.org/zap"
)

func main() {
	status := flag.Bool("status", false, "List migrations without applying them")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync()

	if *status {
		found, err := db.DiscoverMigrations(migrations.Files)
		if err != nil {
			zl.Fatal("discover migrations", zap.Error(err))
		}
		for _, m := range found {
			fmt.Printf("%s  %s  %s\n", m.Version, m.Checksum[:12], m.Filename)
		}
		return
	}

	if cfg.Database.Driver != "postgres" {
		zl.Fatal("migrations only apply to the postgres driver; sqlite creates its schema on open",
			zap.String("driver", cfg.Database.Driver))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		zl.Fatal("connect", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, migrations.Files, zl); err != nil {
		zl.Fatal("migrate", zap.Error(err))
	}
	zl.Info("all migrations processed")
}
