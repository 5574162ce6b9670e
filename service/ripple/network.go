// Package ripple implements the XRP Ledger explorer: JSON-RPC method
// wrappers over a node cluster, and the parsers that turn rippled responses
// into canonical transfers.
package ripple

import (
	"time"

	"github.com/brojonat/ledgerfeed/service/chain"
)

const (
	// NetworkID is the registry key for the XRP Ledger.
	NetworkID = "xrp"

	// Symbol is the display currency code.
	Symbol = "XRP"

	// DropsExponent scales drops to XRP (1 XRP = 1,000,000 drops).
	DropsExponent int32 = -6

	// RippleEpochOffset is the number of seconds between the Unix epoch and
	// the Ripple epoch, 2000-01-01T00:00:00Z.
	RippleEpochOffset int64 = 946684800

	// SuccessResult is the engine result of a fully applied transaction.
	SuccessResult = "tesSUCCESS"

	// DefaultPageLimit is the account_tx page size requested from nodes.
	DefaultPageLimit = 200

	// MaxPageLimit is the largest page size rippled honours for account_tx.
	MaxPageLimit = 400
)

// RippleEpoch is the instant ledger timestamps count from.
var RippleEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Network is the constant table for the XRP Ledger.
var Network = chain.Network{
	ID:          NetworkID,
	Symbol:      Symbol,
	Exponent:    DropsExponent,
	EpochOffset: RippleEpochOffset,
}

// node error tokens that mean the requested object does not exist.
var notFoundCodes = map[string]bool{
	"actNotFound": true,
	"txnNotFound": true,
	"lgrNotFound": true,
}

// OverloadCodes are node errors that say nothing about the request, only
// that this node cannot serve it right now. Another node may.
var OverloadCodes = []string{"tooBusy", "slowDown", "noNetwork", "noCurrent"}
