package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/brojonat/ledgerfeed/service/chain"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	defaultLivePages = 1
	maxLivePages     = 20
)

// handleListNetworks returns a handler that lists the registered networks.
// GET /api/v1/networks
func handleListNetworks(registry *chain.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"networks": registry.Networks(),
		}, http.StatusOK)
	})
}

// handleCheckNodes returns a handler that checks every node of a network.
// GET /api/v1/networks/{network}/nodes
func handleCheckNodes(registry *chain.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		explorer, ok := lookupExplorer(w, registry, r.PathValue("network"))
		if !ok {
			return
		}

		nodes := explorer.CheckNodes(r.Context())
		healthy := 0
		for _, n := range nodes {
			if n.Healthy {
				healthy++
			}
		}
		logger.Debug("nodes checked", "network", explorer.Network().ID, "healthy", healthy, "total", len(nodes))

		writeJSON(w, map[string]interface{}{
			"network": explorer.Network().ID,
			"healthy": healthy,
			"nodes":   nodes,
		}, http.StatusOK)
	})
}

type balanceResponse struct {
	Network string          `json:"network"`
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
	Symbol  string          `json:"symbol"`
}

// handleGetBalance returns a handler that reads a live validated balance.
// GET /api/v1/networks/{network}/accounts/{address}/balance
func handleGetBalance(registry *chain.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		explorer, ok := lookupExplorer(w, registry, r.PathValue("network"))
		if !ok {
			return
		}
		address := r.PathValue("address")

		balance, err := explorer.GetBalance(r.Context(), address)
		if err != nil {
			writeChainError(w, logger, "failed to get balance", err, "address", address)
			return
		}

		writeJSON(w, balanceResponse{
			Network: explorer.Network().ID,
			Address: address,
			Balance: balance,
			Symbol:  explorer.Network().Symbol,
		}, http.StatusOK)
	})
}

type addressTransfersResponse struct {
	Network    string             `json:"network"`
	Address    string             `json:"address"`
	Transfers  []chain.TransferTx `json:"transfers"`
	Count      int                `json:"count"`
	Pages      int                `json:"pages"`
	NextMarker string             `json:"next_marker,omitempty"`
}

// handleListAddressTransfers returns a handler that walks live history.
// GET /api/v1/networks/{network}/accounts/{address}/transactions?marker=&max_pages=&stop_at=&aggregate=
//
// marker is the opaque next_marker of a previous response.
func handleListAddressTransfers(registry *chain.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		explorer, ok := lookupExplorer(w, registry, r.PathValue("network"))
		if !ok {
			return
		}
		address := r.PathValue("address")
		query := r.URL.Query()

		maxPages, err := intParam(query.Get("max_pages"), defaultLivePages, 1, maxLivePages)
		if err != nil {
			writeError(w, "invalid max_pages parameter: "+err.Error(), http.StatusBadRequest)
			return
		}

		cursor, err := chain.DecodeCursor(query.Get("marker"))
		if err != nil {
			writeError(w, "invalid marker parameter", http.StatusBadRequest)
			return
		}

		walk, err := chain.WalkAddressTxs(r.Context(), explorer, address, chain.WalkOptions{
			Cursor:     cursor,
			MaxPages:   maxPages,
			StopAtHash: query.Get("stop_at"),
		})
		if err != nil {
			writeChainError(w, logger, "failed to walk address history", err, "address", address)
			return
		}

		transfers := walk.Transfers
		if query.Get("aggregate") == "true" {
			transfers = chain.AggregateByMemo(transfers)
		}
		if transfers == nil {
			transfers = []chain.TransferTx{}
		}

		next, err := chain.EncodeCursor(walk.NextCursor)
		if err != nil {
			logger.Error("failed to encode marker", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, addressTransfersResponse{
			Network:    explorer.Network().ID,
			Address:    address,
			Transfers:  transfers,
			Count:      len(transfers),
			Pages:      walk.Pages,
			NextMarker: next,
		}, http.StatusOK)
	})
}

type transactionResponse struct {
	Network   string             `json:"network"`
	Hash      string             `json:"hash"`
	Transfers []chain.TransferTx `json:"transfers"`
}

// handleGetTransaction returns a handler that looks up one transaction.
// GET /api/v1/networks/{network}/transactions/{hash}?confirmations=true
//
// An empty transfers list means the transaction is not a successful,
// validated payment.
func handleGetTransaction(registry *chain.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		explorer, ok := lookupExplorer(w, registry, r.PathValue("network"))
		if !ok {
			return
		}
		hash := r.PathValue("hash")

		resp, err := explorer.GetTxDetails(r.Context(), hash)
		if err != nil {
			writeChainError(w, logger, "failed to get transaction", err, "hash", hash)
			return
		}

		var ref *int64
		if r.URL.Query().Get("confirmations") == "true" {
			head, err := explorer.GetBlockHead(r.Context())
			if err != nil {
				writeChainError(w, logger, "failed to get block head", err, "hash", hash)
				return
			}
			ref = &head
		}

		transfers, err := explorer.ParseTxDetails(resp, ref)
		if err != nil {
			writeChainError(w, logger, "failed to parse transaction", err, "hash", hash)
			return
		}
		if transfers == nil {
			transfers = []chain.TransferTx{}
		}

		writeJSON(w, transactionResponse{
			Network:   explorer.Network().ID,
			Hash:      hash,
			Transfers: transfers,
		}, http.StatusOK)
	})
}

func lookupExplorer(w http.ResponseWriter, registry *chain.Registry, network string) (chain.Explorer, bool) {
	explorer, err := registry.Get(network)
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	return explorer, true
}

// statusForError maps ledger and store errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, chain.ErrInvalidAddress), errors.Is(err, chain.ErrInvalidHash):
		return http.StatusBadRequest
	case errors.Is(err, chain.ErrUnknownNetwork), chain.IsNotFound(err), errors.Is(err, pgx.ErrNoRows):
		return http.StatusNotFound
	case errors.Is(err, chain.ErrTransportExhausted),
		errors.Is(err, chain.ErrInvalidEnvelope),
		errors.Is(err, chain.ErrUnparseablePayload):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeChainError logs err and writes it with the mapped status. Internal
// errors are not echoed to the caller.
func writeChainError(w http.ResponseWriter, logger *slog.Logger, msg string, err error, attrs ...any) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, append(attrs, "error", err)...)
	} else {
		logger.Debug(msg, append(attrs, "error", err)...)
	}
	if status == http.StatusInternalServerError {
		writeError(w, "internal server error", status)
		return
	}
	writeError(w, err.Error(), status)
}

// intParam parses an optional integer query value within [lo, hi].
func intParam(raw string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("must be between %d and %d", lo, hi)
	}
	return n, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
