package hub

import (
	"math/big"

	"deuro/crypto"
	"deuro/native/position"
)

// Factory is the stateless constructor for positions. Clones are built in two
// steps, shell then initialize, so the hub can wire custody before the clone
// goes live.
type Factory struct {
	hub crypto.Address
}

func NewFactory(hub crypto.Address) *Factory {
	return &Factory{hub: hub}
}

// NewPosition builds an original position from caller parameters. The minting
// cooldown starts at the end of the init period.
func (f *Factory) NewPosition(addr crypto.Address, params OpenPositionParams, now uint64) *position.Position {
	start := now + params.InitPeriod
	pos := &position.Position{
		Address:            addr,
		Owner:              params.Owner,
		Hub:                f.hub,
		Original:           addr,
		CollateralToken:    params.CollateralToken,
		Principal:          big.NewInt(0),
		InterestAccrued:    big.NewInt(0),
		LastAccrual:        start,
		RiskPremiumPPM:     params.RiskPremiumPPM,
		ReservePPM:         params.ReservePPM,
		Price:              new(big.Int).Set(params.LiqPrice),
		Limit:              new(big.Int).Set(params.MintingLimit),
		MinimumCollateral:  new(big.Int).Set(params.MinimumCollateral),
		Cooldown:           start,
		ChallengedAmount:   big.NewInt(0),
		Start:              start,
		Expiration:         start + params.Duration,
		ChallengePeriod:    params.ChallengePeriod,
		FixedAnnualRatePPM: params.RiskPremiumPPM,
	}
	return pos
}

// CloneShell produces an uninitialized clone bound to the hub.
func (f *Factory) CloneShell(addr crypto.Address) *position.Position {
	return &position.Position{
		Address:          addr,
		Owner:            f.hub,
		Hub:              f.hub,
		Principal:        big.NewInt(0),
		InterestAccrued:  big.NewInt(0),
		ChallengedAmount: big.NewInt(0),
	}
}

// Initialize copies the parent's parameters onto the shell. Clones skip the
// init period: they start, and may mint, immediately.
func (f *Factory) Initialize(shell, parent *position.Position, expiration, now uint64) {
	shell.Original = parent.Original
	shell.CollateralToken = parent.CollateralToken
	shell.RiskPremiumPPM = parent.RiskPremiumPPM
	shell.ReservePPM = parent.ReservePPM
	shell.FixedAnnualRatePPM = parent.FixedAnnualRatePPM
	shell.Price = new(big.Int).Set(parent.Price)
	shell.Limit = new(big.Int).Set(parent.Limit)
	shell.MinimumCollateral = new(big.Int).Set(parent.MinimumCollateral)
	shell.ChallengePeriod = parent.ChallengePeriod
	shell.Start = now
	shell.LastAccrual = now
	shell.Cooldown = now
	shell.Expiration = expiration
}
