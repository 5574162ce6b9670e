package ripple

import (
	xrpltx "github.com/Peersyst/xrpl-go/xrpl/transaction"
)

// Classification is the verdict on one ledger transaction.
type Classification struct {
	// IsTransfer is true for Payment transactions. Everything else is
	// dropped without producing a transfer.
	IsTransfer bool
	// Succeeded requires tesSUCCESS and a non-empty XRP delivered amount.
	Succeeded bool
	// Tag is the DestinationTag in decimal, used as the routing memo.
	Tag *string
	// Delivered is the drops amount that actually reached the destination.
	// Partial payments deliver less than Amount.
	Delivered string
}

// Classify inspects a transaction body and its metadata. Memos are never
// read; the destination tag is the only routing field.
func Classify(tx xrpltx.FlatTransaction, meta map[string]any) Classification {
	txType, _ := tx["TransactionType"].(string)
	c := Classification{
		IsTransfer: txType == string(xrpltx.PaymentTx),
		Tag:        uint32String(tx["DestinationTag"]),
	}

	result, _ := meta["TransactionResult"].(string)
	delivered, ok := deliveredXRP(meta)
	c.Succeeded = result == SuccessResult && ok
	if c.Succeeded {
		c.Delivered = delivered
	}
	return c
}

// deliveredXRP returns the string delivered amount of meta. An object is an
// issued currency delivery.
func deliveredXRP(meta map[string]any) (string, bool) {
	delivered := firstPresent("delivered_amount", meta)
	if delivered == nil {
		delivered = firstPresent("DeliveredAmount", meta)
	}
	s, ok := delivered.(string)
	if !ok || s == "" || s == "unavailable" {
		return "", false
	}
	return s, true
}
