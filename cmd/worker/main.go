package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/ledgerfeed/service/chain"
	"github.com/brojonat/ledgerfeed/service/cluster"
	"github.com/brojonat/ledgerfeed/service/config"
	"github.com/brojonat/ledgerfeed/service/db"
	"github.com/brojonat/ledgerfeed/service/metrics"
	natspkg "github.com/brojonat/ledgerfeed/service/nats"
	"github.com/brojonat/ledgerfeed/service/ripple"
	"github.com/brojonat/ledgerfeed/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.MustLoad()
	logger := setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker exited", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// run wires the polling worker and blocks until ctx is cancelled or the
// worker fails.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	m := metrics.NewMetrics(nil)
	store := db.NewStore(pool, m)

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	registry, err := newRegistry(cfg, m, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize ledger explorers: %w", err)
	}

	publisher, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
	if err != nil {
		return fmt.Errorf("failed to create NATS publisher: %w", err)
	}
	defer publisher.Close()

	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Store:             store,
		Explorers:         registry,
		Publisher:         publisher,
		Metrics:           m,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create temporal worker: %w", err)
	}

	logger.Info("worker ready",
		"networks", len(registry.Networks()),
		"nats_url", cfg.NATSURL,
	)

	errc := make(chan error, 1)
	go func() { errc <- worker.Start() }()

	select {
	case err := <-errc:
		return fmt.Errorf("temporal worker: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		worker.Stop()
		return nil
	}
}

// newRegistry builds the XRP Ledger explorer over the configured nodes.
func newRegistry(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*chain.Registry, error) {
	rpc, err := cluster.New(ripple.NetworkID, cfg.XRPNodes,
		cluster.WithSelection(cfg.XRPSelection),
		cluster.WithAttemptTimeout(cfg.XRPAttemptTimeout),
		cluster.WithRetryableErrors(ripple.OverloadCodes...),
		cluster.WithMetrics(m),
		cluster.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return chain.NewRegistry(ripple.NewExplorer(rpc, cfg.XRPPageLimit, m, logger)), nil
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
