package ripple

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/brojonat/ledgerfeed/service/chain"
	"github.com/brojonat/ledgerfeed/service/cluster"
	"github.com/brojonat/ledgerfeed/service/metrics"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// DefaultBalanceConcurrency bounds concurrent account_info calls in
// GetBalances.
const DefaultBalanceConcurrency = 8

// Transport is the subset of *cluster.Cluster the explorer uses.
type Transport interface {
	Request(ctx context.Context, method string, params map[string]any) (map[string]any, error)
	CallEach(ctx context.Context, method string, params map[string]any) []cluster.NodeStatus
}

// Explorer implements chain.Explorer for the XRP Ledger.
type Explorer struct {
	rpc         Transport
	pageLimit   int
	concurrency int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

var _ chain.Explorer = (*Explorer)(nil)

// NewExplorer creates an XRP Ledger explorer. pageLimit is the account_tx
// page size; zero selects DefaultPageLimit. A nil metrics disables recording.
func NewExplorer(rpc Transport, pageLimit int, m *metrics.Metrics, logger *slog.Logger) *Explorer {
	if pageLimit <= 0 {
		pageLimit = DefaultPageLimit
	}
	if pageLimit > MaxPageLimit {
		pageLimit = MaxPageLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Explorer{
		rpc:         rpc,
		pageLimit:   pageLimit,
		concurrency: DefaultBalanceConcurrency,
		metrics:     m,
		logger:      logger,
	}
}

// Network returns the XRP Ledger constant table.
func (e *Explorer) Network() chain.Network { return Network }

// ValidateAddress checks the classic address format.
func (e *Explorer) ValidateAddress(address string) error { return ValidateAddress(address) }

// call performs one RPC through the cluster and checks the envelope.
func (e *Explorer) call(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	resp, err := e.rpc.Request(ctx, method, params)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", method, err)
	}
	if !chain.ValidEnvelope(resp) {
		e.logger.WarnContext(ctx, "ledger node returned invalid envelope", "method", method)
		return nil, fmt.Errorf("%s: %w", method, chain.ErrInvalidEnvelope)
	}
	return resp, nil
}

// GetBalance returns the validated XRP balance of address.
func (e *Explorer) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if err := ValidateAddress(address); err != nil {
		return decimal.Zero, err
	}

	resp, err := e.call(ctx, "account_info", map[string]any{
		"account":      address,
		"ledger_index": "validated",
	})
	if err != nil {
		return decimal.Zero, err
	}

	balance, err := ParseBalanceResponse(resp)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance of %s: %w", address, err)
	}
	return balance, nil
}

// GetBalances fetches several balances concurrently. The first failure
// cancels the remaining calls.
func (e *Explorer) GetBalances(ctx context.Context, addresses []string) (map[string]decimal.Decimal, error) {
	for _, address := range addresses {
		if err := ValidateAddress(address); err != nil {
			return nil, err
		}
	}

	var mu sync.Mutex
	balances := make(map[string]decimal.Decimal, len(addresses))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, address := range addresses {
		g.Go(func() error {
			balance, err := e.GetBalance(gctx, address)
			if err != nil {
				return err
			}
			mu.Lock()
			balances[address] = balance
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return balances, nil
}

// GetAddressTxs fetches one page of validated history for address, newest
// first. cursor is a marker returned by NextCursor, or nil for the first page.
func (e *Explorer) GetAddressTxs(ctx context.Context, address string, cursor any) (map[string]any, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}

	params := map[string]any{
		"account":          address,
		"ledger_index_min": -1,
		"ledger_index_max": -1,
		"limit":            e.pageLimit,
		"forward":          false,
	}
	if cursor != nil {
		params["marker"] = cursor
	}
	return e.call(ctx, "account_tx", params)
}

// GetTxDetails fetches a single transaction by hash.
func (e *Explorer) GetTxDetails(ctx context.Context, hash string) (map[string]any, error) {
	if err := ValidateTxHash(hash); err != nil {
		return nil, err
	}
	return e.call(ctx, "tx", map[string]any{
		"transaction": hash,
		"binary":      false,
	})
}

// GetBlockHead returns the latest validated ledger index.
func (e *Explorer) GetBlockHead(ctx context.Context) (int64, error) {
	resp, err := e.call(ctx, "server_info", nil)
	if err != nil {
		return 0, err
	}
	head, err := ParseBlockHeadResponse(resp)
	if err != nil {
		return 0, fmt.Errorf("failed to parse block head: %w", err)
	}
	return head, nil
}

// CheckNodes asks every node for server_info and reports its validated
// ledger. A node that answers without one is unhealthy.
func (e *Explorer) CheckNodes(ctx context.Context) []chain.NodeHealth {
	statuses := e.rpc.CallEach(ctx, "server_info", nil)

	out := make([]chain.NodeHealth, 0, len(statuses))
	for _, s := range statuses {
		h := chain.NodeHealth{Node: s.Node, Healthy: s.Healthy, Latency: s.Latency}
		if s.Err != nil {
			h.Error = s.Err.Error()
		}
		if s.Healthy {
			seq, err := ParseBlockHeadResponse(s.Result)
			if err != nil {
				h.Healthy = false
				h.Error = err.Error()
			} else {
				h.LedgerIndex = seq
			}
		}

		if e.metrics != nil {
			e.metrics.RecordNodeCheck(NetworkID, h.Node, h.Healthy, h.Latency.Seconds(), h.LedgerIndex)
		}
		if !h.Healthy {
			e.logger.WarnContext(ctx, "ledger node unhealthy", "node", h.Node, "error", h.Error)
		}
		out = append(out, h)
	}
	return out
}

// ParseAddressTxs converts an account_tx page and records the outcome.
func (e *Explorer) ParseAddressTxs(address string, resp map[string]any, ref *int64) ([]chain.TransferTx, error) {
	transfers, stats, err := parseAddressTxs(address, resp, ref)
	if e.metrics != nil {
		if err != nil {
			e.metrics.RecordTransfersParsed(NetworkID, "error", 1)
		} else {
			e.metrics.RecordTransfersParsed(NetworkID, "transfer", stats.Transfers)
			e.metrics.RecordTransfersParsed(NetworkID, "skipped", stats.Skipped)
			e.metrics.RecordTransfersPerPage(NetworkID, stats.Transfers)
		}
	}
	return transfers, err
}

// ParseTxDetails converts a tx response and records the outcome.
func (e *Explorer) ParseTxDetails(resp map[string]any, ref *int64) ([]chain.TransferTx, error) {
	transfers, err := ParseTxDetailsResponse(resp, ref)
	if e.metrics != nil {
		switch {
		case err != nil:
			e.metrics.RecordTransfersParsed(NetworkID, "error", 1)
		case len(transfers) == 0:
			e.metrics.RecordTransfersParsed(NetworkID, "skipped", 1)
		default:
			e.metrics.RecordTransfersParsed(NetworkID, "transfer", len(transfers))
		}
	}
	return transfers, err
}

// NextCursor returns the account_tx marker.
func (e *Explorer) NextCursor(resp map[string]any) (any, bool) { return NextMarker(resp) }
