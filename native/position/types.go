package position

import (
	"math/big"

	"deuro/crypto"
)

// Position owns one loan: its collateral custody, principal, interest clock,
// liquidation price and lifecycle timestamps. All mutation goes through the
// Engine; the minting hub only triggers the notify hooks.
type Position struct {
	// Address is the position's own ledger account; collateral custody lives
	// under this address in the token ledger.
	Address crypto.Address
	// Owner is the current controller. It changes hands as the final step of
	// a clone and is otherwise transferable by the owner.
	Owner crypto.Address
	// Hub is the only caller allowed to invoke the challenge hooks and
	// forced sales.
	Hub crypto.Address
	// Original points at the root of the clone family; originals point at
	// themselves.
	Original crypto.Address
	// CollateralToken is fixed at creation.
	CollateralToken crypto.Address

	// Principal is the minted debt excluding interest.
	Principal *big.Int
	// InterestAccrued is the interest materialized up to LastAccrual.
	InterestAccrued *big.Int
	// LastAccrual is the unix time interest was last materialized.
	LastAccrual uint64
	// FixedAnnualRatePPM is the simple annual interest rate. It re-syncs to
	// the lead rate plus the risk premium whenever new principal is minted.
	FixedAnnualRatePPM uint32
	// RiskPremiumPPM is fixed at creation.
	RiskPremiumPPM uint32
	// ReservePPM is the reserve contribution ratio fixed at creation.
	ReservePPM uint32

	// Price is the liquidation price: dEURO wei per collateral unit with an
	// 1e18 divisor, so value = collateral * price / 1e18.
	Price *big.Int
	// Limit caps the principal and bounds price adjustments so that
	// collateral * price / 1e18 never exceeds it.
	Limit *big.Int
	// MinimumCollateral is the dust floor; a withdrawal below it closes the
	// position.
	MinimumCollateral *big.Int

	// Cooldown is the unix time before which collateral withdrawals and
	// further price decreases are blocked. Price increases push it out.
	Cooldown uint64
	// ChallengedAmount is the collateral total claimed by open challenges.
	ChallengedAmount *big.Int

	Start           uint64
	Expiration      uint64
	ChallengePeriod uint64

	// Closed marks the terminal state once debt is zero and the collateral
	// was drained below the minimum.
	Closed bool
}

// Normalize replaces nil amounts with zero so loaded positions are safe to
// compute with.
func (p *Position) Normalize() {
	if p.Principal == nil {
		p.Principal = big.NewInt(0)
	}
	if p.InterestAccrued == nil {
		p.InterestAccrued = big.NewInt(0)
	}
	if p.Price == nil {
		p.Price = big.NewInt(0)
	}
	if p.Limit == nil {
		p.Limit = big.NewInt(0)
	}
	if p.MinimumCollateral == nil {
		p.MinimumCollateral = big.NewInt(0)
	}
	if p.ChallengedAmount == nil {
		p.ChallengedAmount = big.NewInt(0)
	}
}

// IsExpired reports whether the position has passed its expiration.
func (p *Position) IsExpired(now uint64) bool {
	return now >= p.Expiration
}

// IsChallenged reports whether open challenges claim any collateral.
func (p *Position) IsChallenged() bool {
	return p.ChallengedAmount != nil && p.ChallengedAmount.Sign() > 0
}

// ChallengeData returns the parameters a challenger needs: the live
// liquidation price and the phase duration of the auction.
type ChallengeData struct {
	LiqPrice        *big.Int
	ChallengePeriod uint64
}

// LiquidationResult summarizes a successful challenge settlement as computed
// by the position.
type LiquidationResult struct {
	Owner                 crypto.Address
	CollateralTransferred *big.Int
	PrincipalRepayment    *big.Int
	InterestPayment       *big.Int
	ReservePPM            uint32
}

// ForceSaleResult summarizes the fund flows of a forced sale.
type ForceSaleResult struct {
	Owner           crypto.Address
	InterestPaid    *big.Int
	PrincipalRepaid *big.Int
	Shortfall       *big.Int
	Surplus         *big.Int
}
