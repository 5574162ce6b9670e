package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/ledgerfeed/service/db"
	"github.com/shopspring/decimal"
)

// TransferEvent represents a newly stored transfer published to NATS.
// This is published to the subject "transfers.{network}.{address}" in JetStream.
type TransferEvent struct {
	// Routing
	Network   string `json:"network"`
	Address   string `json:"address"`
	Direction string `json:"direction"`

	// Ledger position
	TxHash        string  `json:"tx_hash"`
	BlockHeight   int64   `json:"block_height"`
	BlockHash     *string `json:"block_hash,omitempty"`
	Confirmations int64   `json:"confirmations"`

	// Transfer details
	FromAddress string          `json:"from_address"`
	ToAddress   string          `json:"to_address"`
	Value       decimal.Decimal `json:"value"`
	Symbol      string          `json:"symbol"`
	TxFee       decimal.Decimal `json:"tx_fee"`
	Memo        *string         `json:"memo,omitempty"`

	// Timing information
	Date        time.Time `json:"date"`
	StoredAt    time.Time `json:"stored_at"`
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the subject the event is published on.
func (e *TransferEvent) Subject() string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, e.Network, e.Address)
}

// FromDBTransfer converts a stored transfer to a TransferEvent for publishing.
func FromDBTransfer(t *db.Transfer) *TransferEvent {
	return &TransferEvent{
		Network:       t.Network,
		Address:       t.Address,
		Direction:     string(t.Direction),
		TxHash:        t.TxHash,
		BlockHeight:   t.BlockHeight,
		BlockHash:     t.BlockHash,
		Confirmations: t.Confirmations,
		FromAddress:   t.FromAddress,
		ToAddress:     t.ToAddress,
		Value:         t.Value,
		Symbol:        t.Symbol,
		TxFee:         t.TxFee,
		Memo:          t.Memo,
		Date:          t.Date,
		StoredAt:      t.CreatedAt,
		PublishedAt:   time.Now().UTC(),
	}
}
