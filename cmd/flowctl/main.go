package main

import (
	"context"
	"fmt"
	"os"

	"flowdistributor/internal/adapters/cli"
	"flowdistributor/internal/ai"
	"flowdistributor/internal/app"
	"flowdistributor/internal/config"
	"flowdistributor/internal/core"
	"flowdistributor/internal/logger"
	"flowdistributor/internal/store"
)

func main() {
	root, cleanup := cli.NewRootCommand(open)
	err := root.ExecuteContext(context.Background())
	cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func open(ctx context.Context) (app.ApplicationService, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	// Diagnostics go to stderr so command output stays pipeable.
	zl, err := logger.New(logger.Config{Level: "warn", Format: "console", Output: "stderr"})
	if err != nil {
		return nil, nil, err
	}

	s, err := store.Open(ctx, cfg.Database, zl)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	ledgerCfg, err := cfg.Ledger.CoreConfig()
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	ledger := core.NewLedger(s, ledgerCfg, zl, nil)

	var agent ai.Interpreter
	if cfg.OpenAI.APIKey != "" {
		agent = ai.NewAgent(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	}
	return app.NewAppService(ledger, agent, zl), func() {
		s.Close()
		_ = zl.Sync()
	}, nil
}
