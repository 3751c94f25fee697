// Command worker runs the dispatcher loop (spec.md §4.8) and the
// orphan reaper (spec.md §4.9): it polls the Job Store for pending
// jobs in FIFO order, claims and runs them to a terminal state, and
// periodically reconciles stale 'running' rows left behind by dead
// workers.
//
// Exit codes match spec.md §6 exactly: 0 on graceful shutdown, 1 on
// unrecoverable startup error, 2 on repeated panics during job
// execution after a bounded retry window.
//
// Grounded on cmd/server/main.go's flag parsing, zap setup, and
// signal-driven graceful shutdown shape, adapted to the dispatcher's
// queue-poller + worker-pool + reaper trio instead of the teacher's
// market-data/execution/orchestrator wiring.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlas-desktop/paramtrader/internal/barstore"
	"github.com/atlas-desktop/paramtrader/internal/config"
	"github.com/atlas-desktop/paramtrader/internal/jobstore"
	"github.com/atlas-desktop/paramtrader/internal/progress"
	"github.com/atlas-desktop/paramtrader/internal/queue"
	"github.com/atlas-desktop/paramtrader/internal/reaper"
	"github.com/atlas-desktop/paramtrader/internal/telemetry"
	"github.com/atlas-desktop/paramtrader/internal/worker"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Exit(1)
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
		logger.Error("worker: failed to open job store", zap.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	statements, err := jobstore.Migrations()
	if err != nil {
		logger.Error("worker: failed to load migrations", zap.Error(err))
		os.Exit(1)
	}
	if err := store.Migrate(ctx, statements...); err != nil {
		logger.Error("worker: failed to migrate", zap.Error(err))
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("worker: failed to open bar pool", zap.Error(err))
		os.Exit(1)
	}
	defer pool.Close()
	bars := barstore.New(logger, pool)

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	metricsServer := telemetry.ServeMetrics(ctx, cfg.MetricsAddr)
	defer metricsServer.Close()

	hub := progress.NewHub(logger)

	workerHandle := fmt.Sprintf("worker-%s", uuid.NewString())
	logger.Info("worker: starting", zap.String("worker_handle", workerHandle),
		zap.Int("num_workers", cfg.NumWorkers), zap.String("metrics_addr", cfg.MetricsAddr))

	fatalCh := make(chan struct{}, 1)
	workerPool := worker.NewPool(logger, store, bars, hub, cfg.NumWorkers).
		WithTimeouts(cfg.WorkerTimeout, cfg.HeartbeatInterval).
		WithMetrics(metrics).
		WithPanicPolicy(worker.DefaultPanicThreshold, worker.DefaultPanicWindow, func() {
			select {
			case fatalCh <- struct{}{}:
			default:
			}
		})

	poller := queue.NewPoller(store, logger, cfg.QueuePollEvery, workerHandle, workerPool.Submit).WithMetrics(metrics)
	go poller.Run(ctx)

	orphanReaper := reaper.New(store, logger, cfg.ReaperInterval, cfg.StaleThreshold).WithMetrics(metrics)
	go orphanReaper.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-sigCh:
		logger.Info("worker: shutdown signal received")
	case <-fatalCh:
		logger.Error("worker: repeated panics within window, exiting",
			zap.Int("threshold", worker.DefaultPanicThreshold), zap.Duration("window", worker.DefaultPanicWindow))
		exitCode = 2
	}

	cancel()

	doneCh := make(chan struct{})
	go func() { workerPool.Wait(); close(doneCh) }()
	select {
	case <-doneCh:
	case <-time.After(cfg.WorkerTimeout):
		logger.Warn("worker: in-flight jobs did not drain before shutdown timeout")
	}

	logger.Info("worker: stopped")
	os.Exit(exitCode)
}
