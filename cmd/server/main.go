package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/ledgerfeed/service/chain"
	"github.com/brojonat/ledgerfeed/service/cluster"
	"github.com/brojonat/ledgerfeed/service/config"
	"github.com/brojonat/ledgerfeed/service/db"
	"github.com/brojonat/ledgerfeed/service/metrics"
	"github.com/brojonat/ledgerfeed/service/ripple"
	"github.com/brojonat/ledgerfeed/service/server"
	"github.com/brojonat/ledgerfeed/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	// Fails fast if any required config is missing or invalid
	cfg := config.MustLoad()
	logger := setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting server", "addr", cfg.ServerAddr, "log_level", cfg.LogLevel)

	m := metrics.NewMetrics(nil)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	version, err := db.Migrate(ctx, pool)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Info("database migrated", "version", version)

	registry, err := newRegistry(cfg, m, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize ledger explorers: %w", err)
	}

	// Temporal client for schedule management
	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create temporal client: %w", err)
	}
	defer temporalClient.Close()

	srv := server.New(cfg.ServerAddr, cfg, registry, db.NewStore(pool, m), temporalClient, m, logger)

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}
	return nil
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
	logger.Info("initialized ledger node cluster",
		"network", ripple.NetworkID,
		"nodes", rpc.Nodes(),
		"selection", cfg.XRPSelection,
	)
	return chain.NewRegistry(ripple.NewExplorer(rpc, cfg.XRPPageLimit, m, logger)), nil
}

// setupLogger creates a JSON logger on stderr. Unknown levels fall back to info.
func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
