package chain

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Network holds the per-network constants every parser depends on.
type Network struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	// Exponent converts the smallest indivisible unit to the display unit,
	// e.g. -6 for drops to XRP.
	Exponent int32 `json:"exponent"`
	// EpochOffset is added to the network's native timestamp to get Unix
	// seconds.
	EpochOffset int64 `json:"epoch_offset"`
}

// Scale converts an amount in the smallest unit to the display unit.
func (n Network) Scale(raw decimal.Decimal) decimal.Decimal {
	return raw.Shift(n.Exponent)
}

// Time converts a native ledger timestamp to UTC.
func (n Network) Time(native int64) time.Time {
	return time.Unix(native+n.EpochOffset, 0).UTC()
}

// NodeHealth is the result of probing a single node.
type NodeHealth struct {
	Node        string        `json:"node"`
	Healthy     bool          `json:"healthy"`
	Latency     time.Duration `json:"latency_ns"`
	LedgerIndex int64         `json:"ledger_index,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Parser converts validated responses into canonical transfers.
type Parser interface {
	ParseAddressTxs(address string, resp map[string]any, ref *int64) ([]TransferTx, error)
	ParseTxDetails(resp map[string]any, ref *int64) ([]TransferTx, error)
	// NextCursor returns the continuation cursor of a history page.
	NextCursor(resp map[string]any) (any, bool)
}

// Explorer is the read-only capability set one network implementation
// provides. GetAddressTxs and GetTxDetails return raw, envelope-checked
// responses meant for the paired Parser.
type Explorer interface {
	Parser

	Network() Network
	ValidateAddress(address string) error

	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
	GetBalances(ctx context.Context, addresses []string) (map[string]decimal.Decimal, error)
	GetAddressTxs(ctx context.Context, address string, cursor any) (map[string]any, error)
	GetTxDetails(ctx context.Context, hash string) (map[string]any, error)
	GetBlockHead(ctx context.Context) (int64, error)
	CheckNodes(ctx context.Context) []NodeHealth
}

// Registry maps network ids to their Explorer. It is built once at startup
// and only read afterwards.
type Registry struct {
	explorers map[string]Explorer
}

// NewRegistry builds a registry from the given explorers. It panics on a
// duplicate network id.
func NewRegistry(explorers ...Explorer) *Registry {
	r := &Registry{explorers: make(map[string]Explorer, len(explorers))}
	for _, e := range explorers {
		id := e.Network().ID
		if _, exists := r.explorers[id]; exists {
			panic(fmt.Sprintf("chain: network %q registered twice", id))
		}
		r.explorers[id] = e
	}
	return r
}

// Get returns the explorer for a network id.
func (r *Registry) Get(id string) (Explorer, error) {
	e, ok := r.explorers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, id)
	}
	return e, nil
}

// Networks lists registered networks sorted by id.
func (r *Registry) Networks() []Network {
	out := make([]Network, 0, len(r.explorers))
	for _, e := range r.explorers {
		out = append(out, e.Network())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
