package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/brojonat/ledgerfeed/service/chain"
	"github.com/brojonat/ledgerfeed/service/config"
	"github.com/brojonat/ledgerfeed/service/db"
	"github.com/brojonat/ledgerfeed/service/metrics"
	"github.com/brojonat/ledgerfeed/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store is the part of db.Store the HTTP API uses.
type Store interface {
	ListTransfers(ctx context.Context, params db.ListTransfersParams) ([]*db.Transfer, error)
	UpsertWatchedAddress(ctx context.Context, params db.UpsertWatchedAddressParams) (*db.WatchedAddress, error)
	GetWatchedAddress(ctx context.Context, network, address string) (*db.WatchedAddress, error)
	ListWatchedAddresses(ctx context.Context) ([]*db.WatchedAddress, error)
	DeleteWatchedAddress(ctx context.Context, network, address string) error
}

// Server represents the HTTP explorer API.
type Server struct {
	addr      string
	cfg       *config.Config
	registry  *chain.Registry
	store     Store
	scheduler temporal.Scheduler
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The store and scheduler are optional; without them the transfer and
// watch routes are not mounted and the server is a pure live explorer.
// The metrics is optional - if nil, the /metrics endpoint won't be available.
func New(addr string, cfg *config.Config, registry *chain.Registry, store Store, scheduler temporal.Scheduler, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:      addr,
		cfg:       cfg,
		registry:  registry,
		store:     store,
		scheduler: scheduler,
		metrics:   m,
		logger:    logger,
	}
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler builds the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, "")(h))
	}

	// Live explorer routes
	route("GET /api/v1/networks", handleListNetworks(s.registry))
	route("GET /api/v1/networks/{network}/nodes", handleCheckNodes(s.registry, s.logger))
	route("GET /api/v1/networks/{network}/accounts/{address}/balance", handleGetBalance(s.registry, s.logger))
	route("GET /api/v1/networks/{network}/accounts/{address}/transactions", handleListAddressTransfers(s.registry, s.logger))
	route("GET /api/v1/networks/{network}/transactions/{hash}", handleGetTransaction(s.registry, s.logger))

	// Stored feed routes
	if s.store != nil && s.scheduler != nil {
		route("GET /api/v1/transfers", handleListStoredTransfers(s.store, s.registry, s.logger))
		route("POST /api/v1/watches", handleCreateWatch(s.store, s.scheduler, s.registry, s.cfg, s.logger))
		route("GET /api/v1/watches", handleListWatches(s.store, s.logger))
		route("DELETE /api/v1/watches/{network}/{address}", handleDeleteWatch(s.store, s.scheduler, s.logger))
	} else {
		s.logger.Warn("store or scheduler not configured, transfer and watch endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve serves the API on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
