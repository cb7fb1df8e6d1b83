package token

import (
	"encoding/hex"

	"deuro/crypto"
)

// Token describes a fungible collateral token tracked by the ledger.
type Token struct {
	// Address identifies the token within the ledger.
	Address crypto.Address
	// Symbol is a short human-readable ticker.
	Symbol string
	// Decimals is the number of fractional digits of the smallest unit.
	Decimals uint8
	// SilentFail models broken tokens whose transfers return without effect
	// instead of failing. The minting hub's probe rejects these at position
	// open time.
	SilentFail bool
	// WrappedNative marks the designated wrapper for the native coin.
	WrappedNative bool
	// Frozen lists holders that can neither send nor receive, keyed by the
	// hex encoding of the 20-byte address.
	Frozen map[string]bool
}

// FrozenKey renders an address the way the Frozen set stores it.
func FrozenKey(addr crypto.Address) string {
	return hex.EncodeToString(addr.Bytes())
}

// IsFrozen reports whether the holder is on the token's restriction list.
func (t *Token) IsFrozen(addr crypto.Address) bool {
	if t == nil || len(t.Frozen) == 0 {
		return false
	}
	return t.Frozen[FrozenKey(addr)]
}
