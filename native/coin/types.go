package coin

import (
	"math/big"

	"deuro/crypto"
)

// Supply tracks the aggregate stablecoin accounting.
type Supply struct {
	// Total is the outstanding dEURO supply in wei.
	Total *big.Int
	// MinterReserve is the portion of the reserve account balance that is
	// spoken for by open positions (sum of principal x reservePPM / 1e6).
	MinterReserve *big.Int
}

// PositionRecord links a registered position to its clone parent. Original
// positions point at themselves.
type PositionRecord struct {
	Address crypto.Address
	Parent  crypto.Address
}

// Normalize replaces nil amounts with zero.
func (s *Supply) Normalize() {
	if s.Total == nil {
		s.Total = big.NewInt(0)
	}
	if s.MinterReserve == nil {
		s.MinterReserve = big.NewInt(0)
	}
}
