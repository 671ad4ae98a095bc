package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	webAdapter "flowdistributor/internal/adapters/web"
	"flowdistributor/internal/ai"
	"flowdistributor/internal/app"
	"flowdistributor/internal/config"
	"flowdistributor/internal/core"
	"flowdistributor/internal/logger"
	"flowdistributor/internal/metrics"
	"flowdistributor/internal/store"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := store.Open(ctx, cfg.Database, zl)
	if err != nil {
		zl.Fatal("database", zap.Error(err))
	}
	defer s.Close()

	ledgerCfg, err := cfg.Ledger.CoreConfig()
	if err != nil {
		zl.Fatal("ledger config", zap.Error(err))
	}
	m := metrics.New()
	ledger := core.NewLedger(s, ledgerCfg, zl.Named("ledger"), m)

	var agent ai.Interpreter
	if cfg.OpenAI.APIKey != "" {
		agent = ai.NewAgent(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	} else {
		zl.Warn("OPENAI_API_KEY is not set; /api/ai endpoints will return 503")
	}

	svc := app.NewAppService(ledger, agent, zl.Named("app"))
	handler := webAdapter.NewHandler(ctx, svc, webAdapter.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Logger:         zl.Named("http"),
		Observer:       m,
		Metrics:        m.Handler(),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zl.Info("server starting", zap.String("addr", srv.Addr), zap.String("driver", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("shutdown", zap.Error(err))
	}
}
