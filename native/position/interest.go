package position

import "math/big"

var (
	oneMillion = big.NewInt(1_000_000)
	unit       = big.NewInt(1_000_000_000_000_000_000)
)

const secondsPerYear = 365 * 24 * 60 * 60

// interestSince computes simple interest on the principal for the elapsed
// time at the fixed annual ppm rate. Pure so the accrual clock stays a lazy,
// derived quantity.
func interestSince(lastAccrual, now uint64, ratePPM uint32, principal *big.Int) *big.Int {
	if now <= lastAccrual || ratePPM == 0 || principal == nil || principal.Sign() <= 0 {
		return big.NewInt(0)
	}
	elapsed := new(big.Int).SetUint64(now - lastAccrual)
	accrued := new(big.Int).Mul(principal, new(big.Int).SetUint64(uint64(ratePPM)))
	accrued.Mul(accrued, elapsed)
	accrued.Quo(accrued, new(big.Int).Mul(oneMillion, big.NewInt(secondsPerYear)))
	return accrued
}

// collateralValue converts a collateral amount to dEURO wei at the given
// price.
func collateralValue(amount, price *big.Int) *big.Int {
	if amount == nil || price == nil || amount.Sign() <= 0 || price.Sign() <= 0 {
		return big.NewInt(0)
	}
	value := new(big.Int).Mul(amount, price)
	return value.Quo(value, unit)
}

// proportionCeil computes total * part / whole rounded up and capped at
// total. The liquidation hooks use it so a full-size challenge always clears
// the full debt.
func proportionCeil(total, part, whole *big.Int) *big.Int {
	if total == nil || total.Sign() <= 0 || part == nil || part.Sign() <= 0 || whole == nil || whole.Sign() <= 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(total, part)
	num.Add(num, new(big.Int).Sub(whole, big.NewInt(1)))
	num.Quo(num, whole)
	if num.Cmp(total) > 0 {
		return new(big.Int).Set(total)
	}
	return num
}

// minBig returns the smaller of a and b as a fresh value.
func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// grossFromNet inverts the reserve-assisted burn: the gross principal that a
// net payment can retire when the reserve contributes reservePPM of every
// unit.
func grossFromNet(net *big.Int, reservePPM uint32) *big.Int {
	if net == nil || net.Sign() <= 0 {
		return big.NewInt(0)
	}
	if reservePPM == 0 {
		return new(big.Int).Set(net)
	}
	gross := new(big.Int).Mul(net, oneMillion)
	return gross.Quo(gross, new(big.Int).SetUint64(uint64(1_000_000-reservePPM)))
}

// netFromGross is the cost to the payer of retiring gross principal under
// reserve assistance.
func netFromGross(gross *big.Int, reservePPM uint32) *big.Int {
	if gross == nil || gross.Sign() <= 0 {
		return big.NewInt(0)
	}
	reserve := new(big.Int).Mul(gross, new(big.Int).SetUint64(uint64(reservePPM)))
	reserve.Quo(reserve, oneMillion)
	return new(big.Int).Sub(gross, reserve)
}
