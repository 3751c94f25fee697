// Command apiserver runs the Submission API boundary (spec.md §4.10,
// §6): it accepts job submissions, lists/cancels jobs, and streams
// progress over SSE. It does not run the worker loop; that is
// cmd/worker's job (spec.md's hard core keeps the queue/dispatcher
// separate from the HTTP boundary).
//
// Grounded on cmd/server/main.go's flag parsing, zap setup, and
// signal-driven graceful shutdown, narrowed to the Submission API's
// dependencies (no blockchain/execution/autonomous wiring).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlas-desktop/paramtrader/internal/api"
	"github.com/atlas-desktop/paramtrader/internal/barstore"
	"github.com/atlas-desktop/paramtrader/internal/config"
	"github.com/atlas-desktop/paramtrader/internal/jobstore"
	"github.com/atlas-desktop/paramtrader/internal/progress"
	"github.com/atlas-desktop/paramtrader/internal/telemetry"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", "", "API listen address, overrides API_ADDR")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		os.Exit(1)
	}
	if *addr != "" {
		cfg.APIAddr = *addr
	}
	if err := cfg.Validate(); err != nil {
		os.Exit(1)
	}

	logger, err := telemetry.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := jobstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("apiserver: failed to open job store", zap.Error(err))
	}
	defer store.Close()

	statements, err := jobstore.Migrations()
	if err != nil {
		logger.Fatal("apiserver: failed to load migrations", zap.Error(err))
	}
	if err := store.Migrate(ctx, statements...); err != nil {
		logger.Fatal("apiserver: failed to migrate", zap.Error(err))
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("apiserver: failed to open bar pool", zap.Error(err))
	}
	defer pool.Close()
	bars := barstore.New(logger, pool)

	telemetry.NewMetrics(prometheus.DefaultRegisterer)
	metricsServer := telemetry.ServeMetrics(ctx, cfg.MetricsAddr)
	defer metricsServer.Close()

	hub := progress.NewHub(logger)
	server := api.NewServer(logger, store, bars, hub, cfg.APIAddr)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	logger.Info("apiserver: started", zap.String("addr", cfg.APIAddr), zap.String("metrics_addr", cfg.MetricsAddr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("apiserver: shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("apiserver: server error", zap.Error(err))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("apiserver: error during shutdown", zap.Error(err))
	}
	logger.Info("apiserver: stopped")
}
