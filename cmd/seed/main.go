// seed records opening balances as income entries so that a fresh ledger
// reconciles from its first day. Re-running it is safe: each bucket's opening
// entry uses a fixed idempotency key and is skipped once recorded.
//
// Usage: go run ./cmd/seed -balance boveda_monte=150000 -balance azteca=20000
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"

	"flowdistributor/internal/config"
	"flowdistributor/internal/core"
	"flowdistributor/internal/logger"
	"flowdistributor/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type balances map[string]decimal.Decimal

func (b balances) String() string { return fmt.Sprint(map[string]decimal.Decimal(b)) }

func (b balances) Set(v string) error {
	id, amount, ok := strings.Cut(v, "=")
	if !ok || id == "" {
		return fmt.Errorf("want bucket=amount, got %q", v)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return fmt.Errorf("bucket %s: invalid amount %q", id, amount)
	}
	b[id] = d
	return nil
}

func main() {
	opening := balances{}
	flag.Var(opening, "balance", "Opening balance as bucket=amount (repeatable)")
	flag.Parse()
	if len(opening) == 0 {
		log.Fatal("Usage: seed -balance bucket=amount [-balance bucket=amount ...]")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync()

	ctx := context.Background()
	s, err := store.Open(ctx, cfg.Database, zl)
	if err != nil {
		zl.Fatal("database", zap.Error(err))
	}
	defer s.Close()

	ledgerCfg, err := cfg.Ledger.CoreConfig()
	if err != nil {
		zl.Fatal("ledger config", zap.Error(err))
	}
	ledger := core.NewLedger(s, ledgerCfg, zl, nil)

	for id, amount := range opening {
		_, err := ledger.RecordIncome(ctx, core.IncomeInput{
			IdempotencyKey: "seed-opening-" + id,
			BucketID:       id,
			Amount:         amount,
			Note:           "opening balance",
		})
		switch {
		case errors.Is(err, core.ErrDuplicateTransaction):
			zl.Info("opening balance already recorded", zap.String("bucket", id))
		case err != nil:
			zl.Fatal("record opening balance", zap.String("bucket", id), zap.Error(err))
		default:
			zl.Info("opening balance recorded", zap.String("bucket", id), zap.String("amount", amount.StringFixed(2)))
		}
	}

	report, err := ledger.Reconcile(ctx)
	if err != nil {
		zl.Fatal("reconcile", zap.Error(err))
	}
	if !report.OK() {
		zl.Fatal("ledger does not reconcile after seeding", zap.Any("report", report))
	}
	zl.Info("seed complete", zap.Int("entries", report.Entries))
}
