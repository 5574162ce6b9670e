package chain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(map[string]any{"ledger": 88999000, "seq": 3})
	require.NoError(t, err)
	assert.NotContains(t, token, "=")

	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	m := cursor.(map[string]any)
	assert.Equal(t, json.Number("88999000"), m["ledger"])
	assert.Equal(t, json.Number("3"), m["seq"])

	empty, err := EncodeCursor(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	cursor, err = DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecodeCursor_Invalid(t *testing.T) {
	_, err := DecodeCursor("not base64!")
	assert.Error(t, err)

	_, err = DecodeCursor("bm90IGpzb24") // "not json"
	assert.Error(t, err)
}
