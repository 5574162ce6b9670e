package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/ledgerfeed/service/chain"
	"github.com/brojonat/ledgerfeed/service/config"
	"github.com/brojonat/ledgerfeed/service/db"
	"github.com/brojonat/ledgerfeed/service/temporal"
	"github.com/jackc/pgx/v5"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for a watch request
	maxPollInterval    = 24 * time.Hour
	defaultListLimit   = 100
	maxListLimit       = 1000
)

// handleListStoredTransfers returns a handler that lists stored transfers.
// GET /api/v1/transfers?network=&address=&limit=N&offset=N
func handleListStoredTransfers(store Store, registry *chain.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		network := query.Get("network")
		address := query.Get("address")

		if address != "" && network == "" {
			writeError(w, "network query parameter is required with address", http.StatusBadRequest)
			return
		}
		if network != "" {
			explorer, ok := lookupExplorer(w, registry, network)
			if !ok {
				return
			}
			if address != "" {
				if err := explorer.ValidateAddress(address); err != nil {
					writeError(w, err.Error(), http.StatusBadRequest)
					return
				}
			}
		}

		limit, err := intParam(query.Get("limit"), defaultListLimit, 1, maxListLimit)
		if err != nil {
			writeError(w, "invalid limit parameter: "+err.Error(), http.StatusBadRequest)
			return
		}
		offset, err := intParam(query.Get("offset"), 0, 0, 1<<30)
		if err != nil {
			writeError(w, "invalid offset parameter: "+err.Error(), http.StatusBadRequest)
			return
		}

		transfers, err := store.ListTransfers(r.Context(), db.ListTransfersParams{
			Network: network,
			Address: address,
			Limit:   int32(limit),
			Offset:  int32(offset),
		})
		if err != nil {
			logger.Error("failed to list transfers", "network", network, "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if transfers == nil {
			transfers = []*db.Transfer{}
		}

		logger.Debug("transfers listed", "network", network, "address", address, "count", len(transfers))

		writeJSON(w, map[string]interface{}{
			"transfers": transfers,
			"count":     len(transfers),
			"limit":     limit,
			"offset":    offset,
		}, http.StatusOK)
	})
}

// watchResponse is the JSON response format for a watched address.
type watchResponse struct {
	Network      string     `json:"network"`
	Address      string     `json:"address"`
	PollInterval string     `json:"poll_interval"`
	LastPolledAt *time.Time `json:"last_polled_at,omitempty"`
	LastTxHash   *string    `json:"last_tx_hash,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func watchToResponse(w *db.WatchedAddress) watchResponse {
	return watchResponse{
		Network:      w.Network,
		Address:      w.Address,
		PollInterval: w.PollInterval.String(),
		LastPolledAt: w.LastPolledAt,
		LastTxHash:   w.LastTxHash,
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}
}

// handleCreateWatch returns a handler that watches an address and creates
// its Temporal polling schedule. Watching an already watched address
// updates its poll interval.
// POST /api/v1/watches
func handleCreateWatch(store Store, scheduler temporal.Scheduler, registry *chain.Registry, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Network      string `json:"network"`
			Address      string `json:"address"`
			PollInterval string `json:"poll_interval"`
			MaxPages     int    `json:"max_pages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode watch request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if req.Network == "" {
			writeError(w, "network is required", http.StatusBadRequest)
			return
		}
		if req.Address == "" {
			writeError(w, "address is required", http.StatusBadRequest)
			return
		}
		explorer, ok := lookupExplorer(w, registry, req.Network)
		if !ok {
			return
		}
		if err := explorer.ValidateAddress(req.Address); err != nil {
			logger.Debug("invalid address", "address", req.Address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		pollInterval := cfg.DefaultPollInterval
		if req.PollInterval != "" {
			d, err := time.ParseDuration(req.PollInterval)
			if err != nil {
				writeError(w, "invalid poll_interval: must be a valid duration (e.g. '30s', '1m')", http.StatusBadRequest)
				return
			}
			pollInterval = d
		}
		if pollInterval < cfg.MinPollInterval {
			writeError(w, fmt.Sprintf("poll_interval must be at least %s", cfg.MinPollInterval), http.StatusBadRequest)
			return
		}
		if pollInterval > maxPollInterval {
			writeError(w, fmt.Sprintf("poll_interval cannot exceed %s", maxPollInterval), http.StatusBadRequest)
			return
		}

		maxPages := req.MaxPages
		if maxPages < 0 {
			writeError(w, "max_pages cannot be negative", http.StatusBadRequest)
			return
		}
		if maxPages == 0 {
			maxPages = cfg.PollMaxPages
		}

		_, err := store.GetWatchedAddress(r.Context(), req.Network, req.Address)
		isNew := errors.Is(err, pgx.ErrNoRows)
		if err != nil && !isNew {
			logger.Error("failed to look up watched address", "address", req.Address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		watch, err := store.UpsertWatchedAddress(r.Context(), db.UpsertWatchedAddressParams{
			Network:      req.Network,
			Address:      req.Address,
			PollInterval: pollInterval,
		})
		if err != nil {
			logger.Error("failed to store watched address", "address", req.Address, "error", err)
			writeError(w, "failed to watch address", http.StatusInternalServerError)
			return
		}

		if err := scheduler.UpsertAddressSchedule(r.Context(), req.Network, req.Address, pollInterval, maxPages); err != nil {
			logger.Error("failed to upsert schedule", "address", req.Address, "network", req.Network, "error", err)
			if isNew {
				if delErr := store.DeleteWatchedAddress(r.Context(), req.Network, req.Address); delErr != nil {
					logger.Error("failed to rollback watched address", "address", req.Address, "error", delErr)
				}
			}
			writeError(w, "failed to schedule polling for address", http.StatusInternalServerError)
			return
		}

		status := http.StatusOK
		if isNew {
			status = http.StatusCreated
		}
		logger.Info("address watched",
			"network", watch.Network,
			"address", watch.Address,
			"poll_interval", watch.PollInterval,
			"created", isNew,
		)
		writeJSON(w, watchToResponse(watch), status)
	})
}

// handleListWatches returns a handler that lists watched addresses.
// GET /api/v1/watches
func handleListWatches(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		watches, err := store.ListWatchedAddresses(r.Context())
		if err != nil {
			logger.Error("failed to list watched addresses", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]watchResponse, len(watches))
		for i, watch := range watches {
			resp[i] = watchToResponse(watch)
		}
		writeJSON(w, map[string]interface{}{
			"watches": resp,
		}, http.StatusOK)
	})
}

// handleDeleteWatch returns a handler that stops watching an address and
// deletes its Temporal schedule. Stored transfers are kept.
// DELETE /api/v1/watches/{network}/{address}
func handleDeleteWatch(store Store, scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		network := r.PathValue("network")
		address := r.PathValue("address")

		if _, err := store.GetWatchedAddress(r.Context(), network, address); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				writeError(w, "watched address not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to look up watched address", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		// Delete the schedule first so a failure leaves the address watched.
		if err := scheduler.DeleteAddressSchedule(r.Context(), network, address); err != nil {
			logger.Error("failed to delete schedule", "address", address, "network", network, "error", err)
			writeError(w, "failed to delete schedule for address", http.StatusInternalServerError)
			return
		}

		if err := store.DeleteWatchedAddress(r.Context(), network, address); err != nil {
			logger.Error("failed to delete watched address", "address", address, "network", network, "error", err)
			writeError(w, "failed to unwatch address", http.StatusInternalServerError)
			return
		}

		logger.Info("address unwatched", "network", network, "address", address)
		w.WriteHeader(http.StatusNoContent)
	})
}
