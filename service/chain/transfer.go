package chain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferTx is the canonical, network-agnostic transfer record every parser
// converges to. Values are in the network's display unit.
type TransferTx struct {
	TxHash        string          `json:"tx_hash"`
	Success       bool            `json:"success"`
	FromAddress   string          `json:"from_address"`
	ToAddress     string          `json:"to_address"`
	Value         decimal.Decimal `json:"value"`
	Symbol        string          `json:"symbol"`
	Confirmations int64           `json:"confirmations"`
	BlockHeight   int64           `json:"block_height"`
	BlockHash     *string         `json:"block_hash,omitempty"`
	Date          time.Time       `json:"date"`
	Memo          *string         `json:"memo,omitempty"`
	TxFee         decimal.Decimal `json:"tx_fee"`

	// Token and Index are reserved for token transfers and multi-output
	// transactions. Networks without either leave them nil.
	Token *string `json:"token,omitempty"`
	Index *int    `json:"index,omitempty"`
}

// Direction describes how a transfer relates to a watched address.
type Direction string

const (
	DirectionIncoming  Direction = "incoming"
	DirectionOutgoing  Direction = "outgoing"
	DirectionSelf      Direction = "self"
	DirectionUnrelated Direction = "unrelated"
)

// Direction reports whether the transfer moved value into or out of address.
func (t TransferTx) Direction(address string) Direction {
	switch {
	case t.FromAddress == address && t.ToAddress == address:
		return DirectionSelf
	case t.ToAddress == address:
		return DirectionIncoming
	case t.FromAddress == address:
		return DirectionOutgoing
	default:
		return DirectionUnrelated
	}
}

// Equal reports whether two transfers carry the same values. Decimals are
// compared numerically and optional fields by the value they point to.
func (t TransferTx) Equal(o TransferTx) bool {
	return t.TxHash == o.TxHash &&
		t.Success == o.Success &&
		t.FromAddress == o.FromAddress &&
		t.ToAddress == o.ToAddress &&
		t.Value.Equal(o.Value) &&
		t.Symbol == o.Symbol &&
		t.Confirmations == o.Confirmations &&
		t.BlockHeight == o.BlockHeight &&
		equalPtr(t.BlockHash, o.BlockHash) &&
		t.Date.Equal(o.Date) &&
		equalPtr(t.Memo, o.Memo) &&
		t.TxFee.Equal(o.TxFee) &&
		equalPtr(t.Token, o.Token) &&
		equalPtr(t.Index, o.Index)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
