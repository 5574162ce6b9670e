package chain

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EncodeCursor turns a history cursor into an opaque query-safe token. A
// nil cursor encodes to the empty string.
func EncodeCursor(cursor any) (string, error) {
	if cursor == nil {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCursor reverses EncodeCursor. Numbers stay json.Number so ledger
// sequence values round-trip exactly.
func DecodeCursor(token string) (any, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cursor: %w", err)
	}
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	var cursor any
	if err := d.Decode(&cursor); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cursor: %w", err)
	}
	return cursor, nil
}
