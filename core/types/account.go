package types

import "math/big"

// Account tracks the native-coin side of a ledger participant. Token and
// stablecoin balances live in their respective module ledgers.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
	// RejectsNative models recipients that cannot receive native coin, the
	// way a contract without a payable receive function would behave.
	RejectsNative bool `json:"rejectsNative,omitempty"`
}

// Normalize replaces nil amounts with zero so callers can do arithmetic
// without guarding every field.
func (a *Account) Normalize() {
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
}
