package ripple

import (
	"errors"
	"fmt"
	"time"

	xrpltx "github.com/Peersyst/xrpl-go/xrpl/transaction"
	"github.com/brojonat/ledgerfeed/service/chain"
	"github.com/shopspring/decimal"
)

// pageStats counts how a history page was converted.
type pageStats struct {
	Transfers int
	Skipped   int
}

// nodeResult checks the envelope and surfaces an error reported by the node
// itself, such as actNotFound, as a ParseError carrying the node's token.
func nodeResult(resp map[string]any) (map[string]any, error) {
	result, err := chain.Result(resp)
	if err != nil {
		return nil, err
	}

	code, _ := result["error"].(string)
	status, _ := result["status"].(string)
	if code == "" && status != "error" {
		return result, nil
	}
	if code == "" {
		code = "unknown"
	}

	pe := &chain.ParseError{Field: "result.error", Code: code, NotFound: notFoundCodes[code]}
	if msg, ok := result["error_message"].(string); ok && msg != "" {
		pe.Err = errors.New(msg)
	}
	return nil, pe
}

// ParseBalanceResponse reads the XRP balance of an account_info response.
func ParseBalanceResponse(resp map[string]any) (decimal.Decimal, error) {
	result, err := nodeResult(resp)
	if err != nil {
		return decimal.Zero, err
	}

	data, ok := result["account_data"].(map[string]any)
	if !ok {
		return decimal.Zero, chain.NewParseError("result.account_data", errMissing)
	}
	drops, err := parseDrops(data["Balance"])
	if err != nil {
		return decimal.Zero, chain.NewParseError("result.account_data.Balance", err)
	}
	return Network.Scale(drops), nil
}

// ParseBlockHeadResponse reads the latest validated ledger index of a
// server_info response.
func ParseBlockHeadResponse(resp map[string]any) (int64, error) {
	result, err := nodeResult(resp)
	if err != nil {
		return 0, err
	}

	info, _ := result["info"].(map[string]any)
	validated, _ := info["validated_ledger"].(map[string]any)
	if validated == nil {
		return 0, chain.NewParseError("result.info.validated_ledger", errMissing)
	}
	seq, err := toInt64(validated["seq"])
	if err != nil {
		return 0, chain.NewParseError("result.info.validated_ledger.seq", err)
	}
	return seq, nil
}

// NextMarker returns the pagination marker of an account_tx response.
func NextMarker(resp map[string]any) (any, bool) {
	result, err := chain.Result(resp)
	if err != nil {
		return nil, false
	}
	marker, ok := result["marker"]
	return marker, ok && marker != nil
}

// ParseAddressTxsResponse converts one account_tx page into transfers that
// involve address, in node order. ref overrides result.ledger_index_max as
// the confirmation reference.
func ParseAddressTxsResponse(address string, resp map[string]any, ref *int64) ([]chain.TransferTx, error) {
	transfers, _, err := parseAddressTxs(address, resp, ref)
	return transfers, err
}

func parseAddressTxs(address string, resp map[string]any, ref *int64) ([]chain.TransferTx, pageStats, error) {
	var stats pageStats

	result, err := nodeResult(resp)
	if err != nil {
		return nil, stats, err
	}

	entries, ok := result["transactions"].([]any)
	if !ok {
		return nil, stats, chain.NewParseError("result.transactions", errMissing)
	}

	if ref == nil {
		if head, err := toInt64(result["ledger_index_max"]); err == nil && head > 0 {
			ref = &head
		}
	}

	transfers := make([]chain.TransferTx, 0, len(entries))
	for i, raw := range entries {
		field := fmt.Sprintf("result.transactions[%d]", i)

		entry, ok := raw.(map[string]any)
		if !ok {
			return nil, stats, chain.NewParseError(field, fmt.Errorf("entry is %T, not an object", raw))
		}

		if validated, ok := entry["validated"].(bool); ok && !validated {
			stats.Skipped++
			continue
		}

		body, bodyKey := txBody(entry)
		if body == nil {
			return nil, stats, chain.NewParseError(field+".tx", errMissing)
		}
		meta, _ := entry["meta"].(map[string]any)

		c := Classify(body, meta)
		if !c.IsTransfer || !c.Succeeded {
			stats.Skipped++
			continue
		}

		if address != "" {
			from, _ := body["Account"].(string)
			to, _ := body["Destination"].(string)
			if from != address && to != address {
				stats.Skipped++
				continue
			}
		}

		t, err := buildTransfer(body, entry, c, ref, field+"."+bodyKey, field+".meta")
		if err != nil {
			return nil, stats, err
		}
		transfers = append(transfers, t)
		stats.Transfers++
	}

	return transfers, stats, nil
}

// ParseTxDetailsResponse converts a tx response into at most one transfer.
// A transaction that is not yet validated yields no transfers.
func ParseTxDetailsResponse(resp map[string]any, ref *int64) ([]chain.TransferTx, error) {
	result, err := nodeResult(resp)
	if err != nil {
		return nil, err
	}

	if validated, ok := result["validated"].(bool); ok && !validated {
		return nil, nil
	}

	body := xrpltx.FlatTransaction(result)
	field := "result"
	if v2, ok := result["tx_json"].(map[string]any); ok {
		body = v2
		field = "result.tx_json"
	}
	meta, _ := result["meta"].(map[string]any)

	c := Classify(body, meta)
	if !c.IsTransfer || !c.Succeeded {
		return nil, nil
	}

	t, err := buildTransfer(body, result, c, ref, field, "result.meta")
	if err != nil {
		return nil, err
	}
	return []chain.TransferTx{t}, nil
}

// txBody returns the transaction body of a history entry: tx in API v1,
// tx_json in API v2.
func txBody(entry map[string]any) (xrpltx.FlatTransaction, string) {
	if tx, ok := entry["tx"].(map[string]any); ok {
		return tx, "tx"
	}
	if tx, ok := entry["tx_json"].(map[string]any); ok {
		return tx, "tx_json"
	}
	return nil, ""
}

// buildTransfer assembles a transfer from a classified body. holder is the
// object wrapping the body; API v2 moves hash, ledger_index and date there.
// field and metaField locate body and meta in error reports.
func buildTransfer(body xrpltx.FlatTransaction, holder map[string]any, c Classification, ref *int64, field, metaField string) (chain.TransferTx, error) {
	var t chain.TransferTx

	hash, ok := firstPresent("hash", body, holder).(string)
	if !ok || hash == "" {
		return t, chain.NewParseError(field+".hash", errMissing)
	}

	height, err := toInt64(firstPresent("ledger_index", body, holder))
	if err != nil {
		return t, chain.NewParseError(field+".ledger_index", err)
	}

	from, ok := stringField(body, "Account")
	if !ok {
		return t, chain.NewParseError(field+".Account", errMissing)
	}
	to, ok := stringField(body, "Destination")
	if !ok {
		return t, chain.NewParseError(field+".Destination", errMissing)
	}

	// Amount is only a ceiling for partial payments; credit what arrived.
	value, err := parseDrops(c.Delivered)
	if err != nil {
		return t, chain.NewParseError(metaField+".delivered_amount", err)
	}

	fee, err := parseDrops(body["Fee"])
	if err != nil {
		return t, chain.NewParseError(field+".Fee", err)
	}

	date, err := txDate(body, holder)
	if err != nil {
		return t, chain.NewParseError(field+".date", err)
	}

	t = chain.TransferTx{
		TxHash:        hash,
		Success:       true,
		FromAddress:   from,
		ToAddress:     to,
		Value:         Network.Scale(value),
		Symbol:        Network.Symbol,
		Confirmations: chain.Confirmations(height, ref),
		BlockHeight:   height,
		Date:          date,
		Memo:          c.Tag,
		TxFee:         Network.Scale(fee),
	}
	if blockHash, ok := stringField(holder, "ledger_hash"); ok {
		t.BlockHash = &blockHash
	}
	return t, nil
}

// txDate converts the Ripple-epoch date field to UTC. API v2 history entries
// also carry close_time_iso, used when date is absent.
func txDate(body, holder map[string]any) (time.Time, error) {
	if raw := firstPresent("date", body, holder); raw != nil {
		native, err := toInt64(raw)
		if err != nil {
			return time.Time{}, err
		}
		if native < 0 {
			return time.Time{}, fmt.Errorf("negative ledger time %d", native)
		}
		return Network.Time(native), nil
	}

	iso, ok := stringField(holder, "close_time_iso")
	if !ok {
		return time.Time{}, errMissing
	}
	ts, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid close_time_iso %q", iso)
	}
	return ts.UTC(), nil
}
