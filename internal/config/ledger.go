package config

import (
	"fmt"

	"flowdistributor/internal/core"

	"github.com/shopspring/decimal"
)

// CoreConfig converts the ledger settings into core.LedgerConfig.
func (l LedgerConfig) CoreConfig() (core.LedgerConfig, error) {
	cfg := core.DefaultLedgerConfig()
	if l.MaxAttempts > 0 {
		cfg.MaxAttempts = l.MaxAttempts
	}
	if l.PurchaseBucket != "" {
		cfg.PurchaseBucket = l.PurchaseBucket
	}
	if l.FreightBucket != "" {
		cfg.SaleBuckets.Freight = l.FreightBucket
	}
	if l.VaultBucket != "" {
		cfg.SaleBuckets.Vault = l.VaultBucket
	}
	if l.ProfitBucket != "" {
		cfg.SaleBuckets.Profit = l.ProfitBucket
	}
	if l.DefaultFreight != "" {
		freight, err := decimal.NewFromString(l.DefaultFreight)
		if err != nil {
			return core.LedgerConfig{}, fmt.Errorf("ledger.default_freight: %w", err)
		}
		if freight.IsNegative() {
			return core.LedgerConfig{}, fmt.Errorf("ledger.default_freight must not be negative, got %s", l.DefaultFreight)
		}
		cfg.DefaultFreight = freight
	}
	return cfg, nil
}
