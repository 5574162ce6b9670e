package ripple

import (
	"encoding/hex"
	"fmt"
	"strconv"

	addresscodec "github.com/Peersyst/xrpl-go/address-codec"
	"github.com/brojonat/ledgerfeed/service/chain"
)

// ValidateAddress accepts classic r-addresses whose base58 alphabet and
// checksum verify. X-addresses are rejected.
func ValidateAddress(address string) error {
	if address == "" || address[0] != 'r' {
		return fmt.Errorf("%w: %q is not a classic XRP Ledger address", chain.ErrInvalidAddress, address)
	}
	// Base58CheckDecode verifies the checksum and returns prefix + account ID.
	payload, err := addresscodec.Base58CheckDecode(address)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", chain.ErrInvalidAddress, address, err)
	}
	if len(payload) != 1+addresscodec.AccountAddressLength || payload[0] != addresscodec.AccountAddressPrefix {
		return fmt.Errorf("%w: %q is not a classic XRP Ledger address", chain.ErrInvalidAddress, address)
	}
	return nil
}

// ValidTag reports whether tag is a usable destination tag: a decimal uint32
// greater than zero.
func ValidTag(tag string) bool {
	n, err := strconv.ParseUint(tag, 10, 32)
	return err == nil && n > 0
}

// ValidateTxHash accepts a 256-bit transaction hash in hex.
func ValidateTxHash(hash string) error {
	if len(hash) != 64 {
		return fmt.Errorf("%w: %q must be 64 hex characters", chain.ErrInvalidHash, hash)
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return fmt.Errorf("%w: %q is not hex", chain.ErrInvalidHash, hash)
	}
	return nil
}
