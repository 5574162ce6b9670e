package ripple

import (
	"strings"
	"testing"

	"github.com/brojonat/ledgerfeed/service/chain"
	"github.com/stretchr/testify/assert"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		valid   bool
	}{
		{name: "classic address", address: "rpHTHXGZddjVWrVDm7zj7bvXfAJ8FWwt8k", valid: true},
		{name: "another classic address", address: "rEb8TK3gBgk5auZkwc6sHnwrGVJH8DuaLh", valid: true},
		{name: "third classic address", address: "rLW9gnQo7BQhU6igk5keqYnH3TVrCxGRzm", valid: true},
		{name: "characters outside the alphabet", address: "rP1afBEfikTz7hIh2ExCDni9W4Bx1dUMRk"},
		{name: "bad checksum", address: "rwRmyGRoJkHKtojaC8SH2wxsnB2q3yNooB"},
		{name: "one character typo", address: "rpHTHXGZddjVWrVDm7zj7bvXfAJ8FWwt8j"},
		{name: "truncated", address: "rpHTHXGZddjVWrVDm7zj7bvXfAJ8FWwt8"},
		{name: "empty", address: ""},
		{name: "not base58", address: "not-an-address"},
		{name: "bitcoin address", address: "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.address)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, chain.ErrInvalidAddress)
		})
	}
}

func TestValidTag(t *testing.T) {
	tests := []struct {
		tag   string
		valid bool
	}{
		{tag: "33213", valid: true},
		{tag: "1", valid: true},
		{tag: "4294967295", valid: true},
		{tag: "4294967296"},
		{tag: "0"},
		{tag: "-5"},
		{tag: "1memo"},
		{tag: ""},
		{tag: " 7"},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidTag(tt.tag))
		})
	}
}

func TestValidateTxHash(t *testing.T) {
	assert.NoError(t, ValidateTxHash(hashIncoming))
	assert.NoError(t, ValidateTxHash(strings.ToLower(hashIncoming)))
	assert.ErrorIs(t, ValidateTxHash(hashIncoming[:63]), chain.ErrInvalidHash)
	assert.ErrorIs(t, ValidateTxHash(strings.Repeat("Z", 64)), chain.ErrInvalidHash)
}
