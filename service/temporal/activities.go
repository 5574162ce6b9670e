package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/ledgerfeed/service/chain"
	"github.com/brojonat/ledgerfeed/service/db"
	"github.com/brojonat/ledgerfeed/service/metrics"
	natspkg "github.com/brojonat/ledgerfeed/service/nats"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// maxKnownHashes bounds how many stored hashes a poll loads for dedup.
const maxKnownHashes = 1000

// PollAddressInput contains the input parameters for polling an address.
type PollAddressInput struct {
	Network  string `json:"network"`
	Address  string `json:"address"`
	MaxPages int    `json:"max_pages,omitempty"` // Zero means chain.DefaultMaxPages

	// Set when a poll continues as new in the middle of a backlog.
	Cursor       string `json:"cursor,omitempty"`
	StopAtHash   string `json:"stop_at_hash,omitempty"`
	NewestTxHash string `json:"newest_tx_hash,omitempty"`
}

// PollAddressResult summarizes one poll.
type PollAddressResult struct {
	Network       string    `json:"network"`
	Address       string    `json:"address"`
	TransferCount int       `json:"transfer_count"`
	Pages         int       `json:"pages"`
	Rounds        int       `json:"rounds"`
	Written       int       `json:"written"`
	Skipped       int       `json:"skipped"`
	Published     int       `json:"published"`
	NewestTxHash  *string   `json:"newest_tx_hash,omitempty"`
	PollTime      time.Time `json:"poll_time"`
	Error         *string   `json:"error,omitempty"`
}

// GetExistingTxHashesInput contains parameters for the GetExistingTxHashes activity.
type GetExistingTxHashesInput struct {
	Network string `json:"network"`
	Address string `json:"address"`
	Limit   int32  `json:"limit,omitempty"`
}

// GetExistingTxHashesResult lists stored hashes, newest first.
type GetExistingTxHashesResult struct {
	TxHashes []string `json:"tx_hashes"`
}

// FetchTransfersInput contains parameters for the FetchTransfers activity.
type FetchTransfersInput struct {
	Network    string   `json:"network"`
	Address    string   `json:"address"`
	StopAtHash string   `json:"stop_at_hash,omitempty"`
	MaxPages   int      `json:"max_pages,omitempty"`
	Known      []string `json:"known,omitempty"`
	// Cursor resumes the walk where a previous fetch stopped.
	Cursor string `json:"cursor,omitempty"`
}

// FetchTransfersResult contains transfers not yet stored, newest first.
type FetchTransfersResult struct {
	Transfers   []chain.TransferTx `json:"transfers"`
	Pages       int                `json:"pages"`
	ReachedStop bool               `json:"reached_stop_hash"`
	KnownSkips  int                `json:"known_skips"`
	// NextCursor is set when the page cap was hit before StopAtHash or the
	// end of history.
	NextCursor string `json:"next_cursor,omitempty"`
}

// WriteTransfersInput contains parameters for the WriteTransfers activity.
type WriteTransfersInput struct {
	Network   string             `json:"network"`
	Address   string             `json:"address"`
	Transfers []chain.TransferTx `json:"transfers"`
	// NewestTxHash is stamped on the watched address. When empty the first
	// transfer's hash is used.
	NewestTxHash string `json:"newest_tx_hash,omitempty"`
}

// WriteTransfersResult contains the result of writing transfers.
type WriteTransfersResult struct {
	Written int            `json:"written"`
	Skipped int            `json:"skipped"` // Already existed in DB
	Stored  []*db.Transfer `json:"stored,omitempty"`
}

// PublishTransfersInput contains the rows to announce on the feed.
type PublishTransfersInput struct {
	Transfers []*db.Transfer `json:"transfers"`
}

// PublishTransfersResult contains the number of events published.
type PublishTransfersResult struct {
	Published int `json:"published"`
}

// StoreInterface defines the database operations needed by activities.
type StoreInterface interface {
	InsertTransfer(ctx context.Context, network, address string, tx chain.TransferTx) (*db.Transfer, error)
	ExistingTxHashes(ctx context.Context, network, address string, limit int32) ([]string, error)
	UpdatePollTime(ctx context.Context, network, address string, polledAt time.Time, lastTxHash *string) (*db.WatchedAddress, error)
}

// ExplorerSource resolves a network id to its explorer. *chain.Registry
// satisfies it.
type ExplorerSource interface {
	Get(id string) (chain.Explorer, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
type PublisherInterface interface {
	PublishTransferBatch(ctx context.Context, events []*natspkg.TransferEvent) (int, error)
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	store     StoreInterface
	explorers ExplorerSource
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded. A nil publisher turns
// PublishTransfers into a no-op.
func NewActivities(
	store StoreInterface,
	explorers ExplorerSource,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		explorers: explorers,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

func (a *Activities) timeActivity(name, address string) func() {
	start := time.Now()
	return func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration(name, address, time.Since(start).Seconds())
		}
	}
}

// GetExistingTxHashes loads the newest stored hashes for an address.
func (a *Activities) GetExistingTxHashes(ctx context.Context, input GetExistingTxHashesInput) (*GetExistingTxHashesResult, error) {
	defer a.timeActivity("GetExistingTxHashes", input.Address)()

	limit := input.Limit
	if limit <= 0 || limit > maxKnownHashes {
		limit = maxKnownHashes
	}

	hashes, err := a.store.ExistingTxHashes(ctx, input.Network, input.Address, limit)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to get existing tx hashes",
			"network", input.Network,
			"address", input.Address,
			"error", err,
		)
		return nil, fmt.Errorf("failed to get existing tx hashes: %w", err)
	}

	a.logger.DebugContext(ctx, "fetched existing tx hashes",
		"network", input.Network,
		"address", input.Address,
		"count", len(hashes),
	)
	return &GetExistingTxHashesResult{TxHashes: hashes}, nil
}

// FetchTransfers walks the address history from the newest ledger back to
// StopAtHash, dropping transfers whose hash is already known.
func (a *Activities) FetchTransfers(ctx context.Context, input FetchTransfersInput) (*FetchTransfersResult, error) {
	defer a.timeActivity("FetchTransfers", input.Address)()

	explorer, err := a.explorers.Get(input.Network)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), "UnknownNetwork", err)
	}
	if err := explorer.ValidateAddress(input.Address); err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), "InvalidAddress", err)
	}

	cursor, err := chain.DecodeCursor(input.Cursor)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), "InvalidCursor", err)
	}

	walk, err := chain.WalkAddressTxs(ctx, explorer, input.Address, chain.WalkOptions{
		Cursor:     cursor,
		MaxPages:   input.MaxPages,
		StopAtHash: input.StopAtHash,
	})
	if chain.IsNotFound(err) {
		// Unfunded accounts have no history yet.
		a.logger.InfoContext(ctx, "address not found on ledger",
			"network", input.Network,
			"address", input.Address,
		)
		return &FetchTransfersResult{Transfers: []chain.TransferTx{}}, nil
	}
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to walk address history",
			"network", input.Network,
			"address", input.Address,
			"error", err,
		)
		if errors.Is(err, chain.ErrUnparseablePayload) {
			return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), "UnparseablePayload", err)
		}
		return nil, fmt.Errorf("failed to fetch transfers: %w", err)
	}

	known := make(map[string]struct{}, len(input.Known))
	for _, h := range input.Known {
		known[h] = struct{}{}
	}

	result := &FetchTransfersResult{
		Transfers:   make([]chain.TransferTx, 0, len(walk.Transfers)),
		Pages:       walk.Pages,
		ReachedStop: walk.ReachedStop,
	}
	if !walk.ReachedStop && walk.NextCursor != nil {
		next, err := chain.EncodeCursor(walk.NextCursor)
		if err != nil {
			return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), "InvalidCursor", err)
		}
		result.NextCursor = next
	}
	for _, t := range walk.Transfers {
		if _, ok := known[t.TxHash]; ok {
			result.KnownSkips++
			continue
		}
		result.Transfers = append(result.Transfers, t)
	}

	if a.metrics != nil {
		a.metrics.RecordTransfersFetched(input.Network, input.Address, len(result.Transfers))
		if result.KnownSkips > 0 {
			a.metrics.RecordTransfersSkipped(input.Network, input.Address, "known", result.KnownSkips)
		}
	}

	a.logger.InfoContext(ctx, "fetched transfers",
		"network", input.Network,
		"address", input.Address,
		"count", len(result.Transfers),
		"pages", result.Pages,
		"reached_stop_hash", result.ReachedStop,
		"more", result.NextCursor != "",
	)
	return result, nil
}

// WriteTransfers stores transfers for the address, skipping rows that
// already exist, and stamps the watched address with the poll time.
func (a *Activities) WriteTransfers(ctx context.Context, input WriteTransfersInput) (*WriteTransfersResult, error) {
	defer a.timeActivity("WriteTransfers", input.Address)()

	result := &WriteTransfersResult{}
	for _, tx := range input.Transfers {
		stored, err := a.store.InsertTransfer(ctx, input.Network, input.Address, tx)
		if errors.Is(err, db.ErrDuplicate) {
			a.logger.DebugContext(ctx, "transfer already stored, skipping", "tx_hash", tx.TxHash)
			result.Skipped++
			continue
		}
		if err != nil {
			a.logger.ErrorContext(ctx, "failed to write transfer",
				"tx_hash", tx.TxHash,
				"error", err,
			)
			return nil, fmt.Errorf("failed to write transfer %s: %w", tx.TxHash, err)
		}
		result.Written++
		result.Stored = append(result.Stored, stored)
	}

	var newest *string
	switch {
	case input.NewestTxHash != "":
		newest = &input.NewestTxHash
	case len(input.Transfers) > 0:
		h := input.Transfers[0].TxHash
		newest = &h
	}
	if _, err := a.store.UpdatePollTime(ctx, input.Network, input.Address, time.Now(), newest); err != nil {
		// Transfers are written; the poll stamp is informational.
		a.logger.WarnContext(ctx, "failed to update address poll time",
			"network", input.Network,
			"address", input.Address,
			"error", err,
		)
	}

	if a.metrics != nil {
		a.metrics.RecordTransfersWritten(input.Network, input.Address, result.Written)
		a.metrics.RecordTransfersSkipped(input.Network, input.Address, "already_exists", result.Skipped)
		if total := len(input.Transfers); total > 0 {
			a.metrics.RecordDeduplicationRatio(input.Network, input.Address, float64(result.Skipped)/float64(total))
		}
	}

	a.logger.InfoContext(ctx, "wrote transfers to database",
		"network", input.Network,
		"address", input.Address,
		"written", result.Written,
		"skipped", result.Skipped,
	)
	return result, nil
}

// PublishTransfers announces stored transfers on the NATS feed.
func (a *Activities) PublishTransfers(ctx context.Context, input PublishTransfersInput) (*PublishTransfersResult, error) {
	if len(input.Transfers) > 0 {
		defer a.timeActivity("PublishTransfers", input.Transfers[0].Address)()
	}

	if a.publisher == nil || len(input.Transfers) == 0 {
		return &PublishTransfersResult{}, nil
	}

	events := make([]*natspkg.TransferEvent, 0, len(input.Transfers))
	for _, t := range input.Transfers {
		events = append(events, natspkg.FromDBTransfer(t))
	}

	n, err := a.publisher.PublishTransferBatch(ctx, events)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to publish transfers to NATS",
			"count", len(events),
			"error", err,
		)
		return nil, fmt.Errorf("failed to publish transfers: %w", err)
	}

	a.logger.DebugContext(ctx, "published transfers to NATS",
		"published", n,
		"total", len(events),
	)
	return &PublishTransfersResult{Published: n}, nil
}
