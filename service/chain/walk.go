package chain

import (
	"context"
	"fmt"
)

// DefaultMaxPages bounds a history walk when no limit is given.
const DefaultMaxPages = 10

// WalkOptions controls WalkAddressTxs.
type WalkOptions struct {
	// Cursor resumes a walk from a previously returned cursor.
	Cursor any
	// MaxPages caps the number of pages fetched. Zero means DefaultMaxPages.
	MaxPages int
	// StopAtHash ends the walk when a transfer with this hash is reached.
	// The matching transfer is not included.
	StopAtHash string
	// Ref overrides the reference height used for confirmations.
	Ref *int64
}

// WalkResult is the outcome of a history walk.
type WalkResult struct {
	Transfers []TransferTx `json:"transfers"`
	// NextCursor is set when more pages remain.
	NextCursor  any  `json:"next_cursor,omitempty"`
	Pages       int  `json:"pages"`
	ReachedStop bool `json:"reached_stop_hash"`
}

// WalkAddressTxs follows history cursors for address, converting each page
// with the explorer's parser. Node order is preserved across pages.
func WalkAddressTxs(ctx context.Context, e Explorer, address string, opts WalkOptions) (*WalkResult, error) {
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	result := &WalkResult{}
	cursor := opts.Cursor
	for result.Pages < maxPages {
		resp, err := e.GetAddressTxs(ctx, address, cursor)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch page %d: %w", result.Pages+1, err)
		}
		result.Pages++

		transfers, err := e.ParseAddressTxs(address, resp, opts.Ref)
		if err != nil {
			return nil, fmt.Errorf("failed to parse page %d: %w", result.Pages, err)
		}

		for _, t := range transfers {
			if opts.StopAtHash != "" && t.TxHash == opts.StopAtHash {
				result.ReachedStop = true
				result.NextCursor = nil
				return result, nil
			}
			result.Transfers = append(result.Transfers, t)
		}

		next, ok := e.NextCursor(resp)
		if !ok {
			result.NextCursor = nil
			return result, nil
		}
		result.NextCursor = next
		cursor = next
	}

	return result, nil
}

type memoKey struct {
	from, to, memo, symbol string
}

// AggregateByMemo sums Value over transfers sharing sender, recipient, memo
// and symbol. The first transfer of each group supplies the remaining
// fields, and groups keep first-seen order.
func AggregateByMemo(transfers []TransferTx) []TransferTx {
	index := make(map[memoKey]int)
	out := make([]TransferTx, 0, len(transfers))
	for _, t := range transfers {
		key := memoKey{from: t.FromAddress, to: t.ToAddress, symbol: t.Symbol}
		if t.Memo != nil {
			key.memo = *t.Memo
		}
		if i, ok := index[key]; ok {
			out[i].Value = out[i].Value.Add(t.Value)
			continue
		}
		index[key] = len(out)
		out = append(out, t)
	}
	return out
}
