package hub

import (
	"math/big"

	"deuro/crypto"
)

// Challenge is one slot of the hub's open-challenge book. Slots are
// append-only: partial bids shrink Size in place, full consumption zeroes the
// slot. Challenge numbers are never reused.
type Challenge struct {
	// Challenger posted Size units of collateral to back the claim.
	Challenger crypto.Address
	// Position is the challenged position; the hub never owns it.
	Position crypto.Address
	// Start is the unix time the challenge was opened.
	Start uint64
	// Size is the collateral amount still claimable by bids.
	Size *big.Int
	// Price is the position's virtual price captured at challenge start.
	// Phase one averts at this price; phase two decays from it.
	Price *big.Int
}

// IsConsumed reports whether the slot has been tombstoned.
func (c *Challenge) IsConsumed() bool {
	return c == nil || c.Size == nil || c.Size.Sign() == 0
}

// Meta carries the hub's book-keeping counters.
type Meta struct {
	// PositionCount feeds the deterministic position address derivation and
	// the reduced init period for the very first position.
	PositionCount uint64
	// ChallengeCount is the next challenge number to assign.
	ChallengeCount uint64
}

// OpenPositionParams bundles the caller-supplied parameters of a new
// position.
type OpenPositionParams struct {
	Owner             crypto.Address
	CollateralToken   crypto.Address
	MinimumCollateral *big.Int
	InitialCollateral *big.Int
	MintingLimit      *big.Int
	// InitPeriod is the delay before the position can mint.
	InitPeriod uint64
	// Duration is the lifetime from start to expiration.
	Duration        uint64
	ChallengePeriod uint64
	RiskPremiumPPM  uint32
	ReservePPM      uint32
	LiqPrice        *big.Int
	// AsNative wraps attached native coin into the wrapped-native token for
	// the initial collateral. NativeValue must then equal InitialCollateral.
	AsNative    bool
	NativeValue *big.Int
}
