package hub

import (
	"errors"
	"math/big"

	"deuro/crypto"
	nativecommon "deuro/native/common"
)

var (
	errRollSamePosition = errors.New("position roller: source and target are the same position")
	errRollNotOwner     = errors.New("position roller: caller does not own both positions")
)

// Roller moves debt and collateral from one position to another in a single
// step. It extends a flash credit to the caller to repay the source, shifts
// the collateral, mints on the target and burns the credit again, so the
// caller never needs the repayment amount up front.
type Roller struct {
	hub *Engine
}

func NewRoller(hub *Engine) *Roller {
	return &Roller{hub: hub}
}

// Roll repays repayAmount on the source position, moves collateralAmount of
// collateral into the target and mints mintAmount there. A nil repayAmount
// repays the full source debt; a nil mintAmount mints just enough for the
// net proceeds to cover the flash credit.
func (r *Roller) Roll(caller, source, target crypto.Address, repayAmount, collateralAmount, mintAmount *big.Int) error {
	if r == nil || r.hub == nil {
		return errNilState
	}
	e := r.hub
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if source.Equal(target) {
		return errRollSamePosition
	}
	src, err := e.position(source)
	if err != nil {
		return err
	}
	dst, err := e.position(target)
	if err != nil {
		return err
	}
	if !src.Owner.Equal(caller) || !dst.Owner.Equal(caller) {
		return errRollNotOwner
	}
	if !src.CollateralToken.Equal(dst.CollateralToken) {
		return ErrIncompatibleCollateral
	}

	if repayAmount == nil {
		repayAmount, err = e.positions.Debt(source)
		if err != nil {
			return err
		}
	}
	if mintAmount == nil {
		mintAmount = grossFromNet(repayAmount, dst.ReservePPM)
	}

	flash := new(big.Int).Set(repayAmount)
	if flash.Sign() > 0 {
		if err := e.coin.Mint(caller, flash); err != nil {
			return err
		}
		used, err := e.positions.Repay(caller, source, repayAmount)
		if err != nil {
			return err
		}
		// A repayment beyond the live debt is capped; the unused slice
		// of the credit burns right away.
		unused := new(big.Int).Sub(flash, used)
		if unused.Sign() > 0 {
			if err := e.coin.Burn(caller, unused); err != nil {
				return err
			}
			flash = used
		}
	}
	if collateralAmount != nil && collateralAmount.Sign() > 0 {
		if err := e.positions.WithdrawCollateral(caller, source, target, collateralAmount, false); err != nil {
			return err
		}
	}
	if mintAmount.Sign() > 0 {
		if err := e.positions.Mint(caller, target, caller, mintAmount); err != nil {
			return err
		}
	}
	if flash.Sign() > 0 {
		if err := e.coin.Burn(caller, flash); err != nil {
			return err
		}
	}
	return nil
}

// RollFully clears the source entirely: full debt, full collateral.
func (r *Roller) RollFully(caller, source, target crypto.Address) error {
	if r == nil || r.hub == nil {
		return errNilState
	}
	collateral, err := r.hub.positions.CollateralBalance(source)
	if err != nil {
		return err
	}
	return r.Roll(caller, source, target, nil, collateral, nil)
}

// grossFromNet inverts the reserve split so minting gross yields at least
// net after the reserve contribution.
func grossFromNet(net *big.Int, reservePPM uint32) *big.Int {
	if net == nil || net.Sign() <= 0 {
		return big.NewInt(0)
	}
	denom := new(big.Int).Sub(oneMillion, new(big.Int).SetUint64(uint64(reservePPM)))
	if denom.Sign() <= 0 {
		return new(big.Int).Set(net)
	}
	gross := new(big.Int).Mul(net, oneMillion)
	gross.Add(gross, new(big.Int).Sub(denom, big.NewInt(1)))
	return gross.Quo(gross, denom)
}
