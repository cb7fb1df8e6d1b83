package hub

import (
	"errors"
	"math/big"

	"deuro/core/types"
	"deuro/crypto"
	"deuro/native/coin"
	nativecommon "deuro/native/common"
	"deuro/native/position"
	"deuro/native/token"
)

var (
	errNilState   = errors.New("minting hub: state not configured")
	errNilLedgers = errors.New("minting hub: ledgers not configured")

	ErrUnexpectedPrice           = errors.New("minting hub: position price moved below the challenger's floor")
	ErrInvalidPos                = errors.New("minting hub: position not registered with this hub")
	ErrIncompatibleCollateral    = errors.New("minting hub: collateral token does not fail on bad transfers")
	ErrInsufficientCollateral    = errors.New("minting hub: collateral value below the minimum")
	ErrLeaveNoDust               = errors.New("minting hub: purchase would leave dust collateral behind")
	ErrInvalidRiskPremium        = errors.New("minting hub: risk premium out of bounds")
	ErrInvalidReservePPM         = errors.New("minting hub: reserve ratio out of bounds")
	ErrInvalidCollateralDecimals = errors.New("minting hub: unsupported collateral decimals")
	ErrChallengeTimeTooShort     = errors.New("minting hub: challenge period below the minimum")
	ErrInitPeriodTooShort        = errors.New("minting hub: init period below the minimum")
	ErrNativeOnlyForWrappedToken = errors.New("minting hub: native value requires the wrapped native collateral")
	ErrValueMismatch             = errors.New("minting hub: attached native value does not match the amount")

	errUnknownChallenge  = errors.New("minting hub: unknown or consumed challenge")
	errBidSameTime       = errors.New("minting hub: bid in the same step the challenge started")
	errInvalidExpiration = errors.New("minting hub: clone expiration out of range")
	errInvalidAmount     = errors.New("minting hub: amount must be positive")
)

const moduleName = "hub"

const (
	// ChallengerRewardPPM is the fixed 2% reward carved out of every
	// phase-two offer.
	ChallengerRewardPPM = 20_000
	// MinChallengePeriod keeps auctions long enough to attract bids.
	MinChallengePeriod uint64 = 24 * 60 * 60
	// MinInitPeriod is the veto window before a new position may mint.
	MinInitPeriod uint64 = 5 * 24 * 60 * 60
	// BootstrapInitPeriod applies while the hub has no positions yet.
	BootstrapInitPeriod uint64 = 3 * 24 * 60 * 60

	maxPPM                = 1_000_000
	maxCollateralDecimals = 24
)

var (
	// OpeningFee is the flat fee charged when opening a position, in dEURO wei.
	OpeningFee = mustBigInt("1000000000000000000000")
	// MinimumCollateralValue is the floor for minimumCollateral x price.
	MinimumCollateralValue = mustBigInt("5000000000000000000000")

	oneMillion = big.NewInt(1_000_000)
	unit       = big.NewInt(1_000_000_000_000_000_000)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

type engineState interface {
	GetChallenge(id uint64) (*Challenge, error)
	PutChallenge(id uint64, ch *Challenge) error
	GetPendingReturn(tok, beneficiary crypto.Address) (*big.Int, error)
	PutPendingReturn(tok, beneficiary crypto.Address, amount *big.Int) error
	GetHubMeta() (*Meta, error)
	PutHubMeta(meta *Meta) error
}

// EventSink receives the typed events emitted by state transitions.
type EventSink interface {
	Emit(evt *types.Event)
}

// Engine runs the permissionless challenge and forced-sale machinery on top
// of the position engine. It holds custody of in-flight challenge collateral
// and mediates every cash flow, while the position stays the sole authority
// over its own collateral and debt accounting.
type Engine struct {
	state     engineState
	positions *position.Engine
	coin      *coin.Ledger
	tokens    *token.Ledger
	factory   *Factory
	address   crypto.Address
	now       uint64
	pauses    nativecommon.PauseView
	events    EventSink
}

func NewEngine(address crypto.Address) *Engine {
	return &Engine{
		address: address,
		factory: NewFactory(address),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCollaborators wires the position engine and the two ledgers.
func (e *Engine) SetCollaborators(positions *position.Engine, coinLedger *coin.Ledger, tokens *token.Ledger) {
	if e == nil {
		return
	}
	e.positions = positions
	e.coin = coinLedger
	e.tokens = tokens
}

// SetTimestamp records the wall-clock time all subsequent operations are
// evaluated against.
func (e *Engine) SetTimestamp(now uint64) {
	if e == nil {
		return
	}
	e.now = now
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

func (e *Engine) SetEventSink(sink EventSink) {
	if e == nil {
		return
	}
	e.events = sink
}

// Address returns the hub's own ledger account.
func (e *Engine) Address() crypto.Address { return e.address }

func (e *Engine) emit(evt *types.Event) {
	if e != nil && e.events != nil && evt != nil {
		e.events.Emit(evt)
	}
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.positions == nil || e.coin == nil || e.tokens == nil {
		return errNilLedgers
	}
	return nil
}

// OpenPosition validates the parameters, charges the opening fee, funds the
// initial collateral and registers a fresh position.
func (e *Engine) OpenPosition(params OpenPositionParams) (crypto.Address, error) {
	if err := e.ready(); err != nil {
		return crypto.Address{}, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return crypto.Address{}, err
	}
	if params.RiskPremiumPPM > maxPPM {
		return crypto.Address{}, ErrInvalidRiskPremium
	}
	if params.ReservePPM > maxPPM {
		return crypto.Address{}, ErrInvalidReservePPM
	}
	if params.ChallengePeriod < MinChallengePeriod {
		return crypto.Address{}, ErrChallengeTimeTooShort
	}
	if params.LiqPrice == nil || params.LiqPrice.Sign() <= 0 ||
		params.MintingLimit == nil || params.MintingLimit.Sign() <= 0 ||
		params.MinimumCollateral == nil || params.MinimumCollateral.Sign() <= 0 ||
		params.InitialCollateral == nil || params.InitialCollateral.Sign() < 0 {
		return crypto.Address{}, errInvalidAmount
	}

	meta, err := e.ensureMeta()
	if err != nil {
		return crypto.Address{}, err
	}
	minInit := MinInitPeriod
	if meta.PositionCount == 0 {
		minInit = BootstrapInitPeriod
	}
	if params.InitPeriod < minInit {
		return crypto.Address{}, ErrInitPeriodTooShort
	}

	tok, err := e.tokens.Get(params.CollateralToken)
	if err != nil {
		return crypto.Address{}, ErrIncompatibleCollateral
	}
	if tok.Decimals > maxCollateralDecimals {
		return crypto.Address{}, ErrInvalidCollateralDecimals
	}
	if err := e.probeCollateral(params.CollateralToken); err != nil {
		return crypto.Address{}, err
	}
	minValue := new(big.Int).Mul(params.MinimumCollateral, params.LiqPrice)
	minValue.Quo(minValue, unit)
	if minValue.Cmp(MinimumCollateralValue) < 0 {
		return crypto.Address{}, ErrInsufficientCollateral
	}

	if err := e.coin.CollectProfits(params.Owner, OpeningFee); err != nil {
		return crypto.Address{}, err
	}

	posAddr := crypto.DeriveAddress(e.address, meta.PositionCount)
	pos := e.factory.NewPosition(posAddr, params, e.now)
	if err := e.coin.RegisterPosition(posAddr, crypto.Address{}); err != nil {
		return crypto.Address{}, err
	}
	if params.InitialCollateral.Sign() > 0 {
		if err := e.fundCollateral(params.Owner, posAddr, params.CollateralToken, params.InitialCollateral, params.AsNative, params.NativeValue); err != nil {
			return crypto.Address{}, err
		}
	}
	if err := e.positions.Init(pos); err != nil {
		return crypto.Address{}, err
	}
	meta.PositionCount++
	if err := e.state.PutHubMeta(meta); err != nil {
		return crypto.Address{}, err
	}
	e.emit(position.NewOpenedEvent(pos))
	return posAddr, nil
}

// probeCollateral rejects tokens that swallow failing transfers instead of
// erroring. An over-sized self transfer must fail; a nil error means the
// token silently dropped it.
func (e *Engine) probeCollateral(tokenAddr crypto.Address) error {
	balance := e.tokens.BalanceOf(tokenAddr, e.address)
	probe := new(big.Int).Add(balance, big.NewInt(1))
	if err := e.tokens.Transfer(tokenAddr, e.address, e.address, probe); err == nil {
		return ErrIncompatibleCollateral
	}
	return nil
}

func (e *Engine) fundCollateral(from, posAddr, tokenAddr crypto.Address, amount *big.Int, asNative bool, nativeValue *big.Int) error {
	if asNative {
		if !e.tokens.IsWrappedNative(tokenAddr) {
			return ErrNativeOnlyForWrappedToken
		}
		if nativeValue == nil || nativeValue.Cmp(amount) != 0 {
			return ErrValueMismatch
		}
		if err := e.tokens.Wrap(from, amount); err != nil {
			return err
		}
	} else if nativeValue != nil && nativeValue.Sign() > 0 {
		return ErrValueMismatch
	}
	return e.tokens.Transfer(tokenAddr, from, posAddr, amount)
}

// Clone spawns a parameterized copy of an existing position. The hub is the
// interim owner for every step: collateral funding, the initial mint and the
// optional price override all run before ownership is handed to the caller,
// so an under-collateralized clone can never end up owner-controlled.
func (e *Engine) Clone(caller, owner, parentAddr crypto.Address, initialCollateral, initialMint *big.Int, expiration uint64, liqPrice *big.Int, asNative bool, nativeValue *big.Int) (crypto.Address, error) {
	if err := e.ready(); err != nil {
		return crypto.Address{}, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return crypto.Address{}, err
	}
	parent, err := e.position(parentAddr)
	if err != nil {
		return crypto.Address{}, err
	}
	if expiration <= e.now || expiration > parent.Expiration {
		return crypto.Address{}, errInvalidExpiration
	}

	meta, err := e.ensureMeta()
	if err != nil {
		return crypto.Address{}, err
	}
	cloneAddr := crypto.DeriveAddress(e.address, meta.PositionCount)
	shell := e.factory.CloneShell(cloneAddr)
	e.factory.Initialize(shell, parent, expiration, e.now)
	if err := e.coin.RegisterPosition(cloneAddr, parentAddr); err != nil {
		return crypto.Address{}, err
	}
	if initialCollateral != nil && initialCollateral.Sign() > 0 {
		if err := e.fundCollateral(caller, cloneAddr, shell.CollateralToken, initialCollateral, asNative, nativeValue); err != nil {
			return crypto.Address{}, err
		}
	}
	if err := e.positions.Init(shell); err != nil {
		return crypto.Address{}, err
	}
	if initialMint != nil && initialMint.Sign() > 0 {
		if err := e.positions.Mint(e.address, cloneAddr, owner, initialMint); err != nil {
			return crypto.Address{}, err
		}
	}
	if liqPrice != nil && liqPrice.Sign() > 0 && liqPrice.Cmp(shell.Price) != 0 {
		if err := e.positions.AdjustPrice(e.address, cloneAddr, liqPrice); err != nil {
			return crypto.Address{}, err
		}
	}
	// Ownership transfer is deliberately the last step.
	if err := e.positions.TransferOwnership(e.address, cloneAddr, owner); err != nil {
		return crypto.Address{}, err
	}
	meta.PositionCount++
	if err := e.state.PutHubMeta(meta); err != nil {
		return crypto.Address{}, err
	}
	cloned, err := e.positions.Get(cloneAddr)
	if err != nil {
		return crypto.Address{}, err
	}
	e.emit(position.NewOpenedEvent(cloned))
	return cloneAddr, nil
}

// Challenge opens a Dutch-auction claim against a position. The challenger
// posts matching collateral into hub custody; minimumPrice is their guard
// against the owner front-running the challenge with a price drop.
func (e *Engine) Challenge(challenger, posAddr crypto.Address, size, minimumPrice *big.Int) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	pos, err := e.position(posAddr)
	if err != nil {
		return 0, err
	}
	if size == nil || size.Sign() <= 0 {
		return 0, errInvalidAmount
	}
	liqPrice, err := e.positions.VirtualPrice(posAddr)
	if err != nil {
		return 0, err
	}
	if minimumPrice != nil && liqPrice.Cmp(minimumPrice) < 0 {
		return 0, ErrUnexpectedPrice
	}
	// The claim must be provable before the challenger's collateral moves
	// into custody; a rejection after the transfer would strand it.
	if pos.Closed {
		return 0, position.ErrClosed
	}
	free := new(big.Int).Sub(e.tokens.BalanceOf(pos.CollateralToken, posAddr), pos.ChallengedAmount)
	if size.Cmp(free) > 0 {
		return 0, position.ErrInsufficientCollateral
	}
	if err := e.tokens.Transfer(pos.CollateralToken, challenger, e.address, size); err != nil {
		return 0, err
	}
	if err := e.positions.NotifyChallengeStarted(e.address, posAddr, size, liqPrice); err != nil {
		return 0, err
	}
	meta, err := e.ensureMeta()
	if err != nil {
		return 0, err
	}
	id := meta.ChallengeCount
	ch := &Challenge{
		Challenger: challenger,
		Position:   posAddr,
		Start:      e.now,
		Size:       new(big.Int).Set(size),
		Price:      liqPrice,
	}
	if err := e.state.PutChallenge(id, ch); err != nil {
		return 0, err
	}
	meta.ChallengeCount++
	if err := e.state.PutHubMeta(meta); err != nil {
		return 0, err
	}
	e.emit(NewChallengeStartedEvent(id, ch))
	return id, nil
}

// AuctionPrice returns the per-unit price a bid on the challenge pays at
// time now: the captured virtual price through phase one, then a linear
// decay to zero across the second challenge-period window.
func AuctionPrice(ch *Challenge, challengePeriod, now uint64) *big.Int {
	if ch == nil || ch.Price == nil {
		return big.NewInt(0)
	}
	phase1End := ch.Start + challengePeriod
	if now <= phase1End {
		return new(big.Int).Set(ch.Price)
	}
	phase2End := phase1End + challengePeriod
	if now >= phase2End {
		return big.NewInt(0)
	}
	remaining := new(big.Int).SetUint64(phase2End - now)
	price := new(big.Int).Mul(ch.Price, remaining)
	return price.Quo(price, new(big.Int).SetUint64(challengePeriod))
}

// Bid consumes part or all of a challenge. Within the challenge period the
// bid averts: the bidder buys the challenger out at the captured price and
// the position survives. Afterwards the bid liquidates at the decayed
// auction price. Oversized bids are silently capped.
func (e *Engine) Bid(bidder crypto.Address, number uint64, size *big.Int, postpone, asNative bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	ch, err := e.state.GetChallenge(number)
	if err != nil {
		return err
	}
	if ch.IsConsumed() {
		return errUnknownChallenge
	}
	if e.now == ch.Start {
		return errBidSameTime
	}
	if size == nil || size.Sign() <= 0 {
		return errInvalidAmount
	}
	size = minBig(size, ch.Size)
	pos, err := e.position(ch.Position)
	if err != nil {
		return err
	}
	if asNative && !e.tokens.IsWrappedNative(pos.CollateralToken) {
		return ErrNativeOnlyForWrappedToken
	}

	if e.now <= ch.Start+pos.ChallengePeriod {
		if err := e.avertChallenge(bidder, number, ch, pos, size, postpone, asNative); err != nil {
			return err
		}
	} else {
		if err := e.liquidate(bidder, number, ch, pos, size, postpone, asNative); err != nil {
			return err
		}
	}
	ch.Size = new(big.Int).Sub(ch.Size, size)
	if ch.Size.Sign() == 0 {
		// Tombstone the slot; challenge numbers are never reused.
		ch = &Challenge{}
	}
	return e.state.PutChallenge(number, ch)
}

// avertChallenge buys the challenger out at the captured liquidation price.
// The challenger averting their own challenge pays nothing.
func (e *Engine) avertChallenge(bidder crypto.Address, number uint64, ch *Challenge, pos *position.Position, size *big.Int, postpone, asNative bool) error {
	offer := new(big.Int).Mul(size, ch.Price)
	offer.Quo(offer, unit)
	if !bidder.Equal(ch.Challenger) && offer.Sign() > 0 {
		if err := e.coin.Transfer(bidder, ch.Challenger, offer); err != nil {
			return err
		}
	}
	if err := e.positions.NotifyChallengeAverted(e.address, ch.Position, size); err != nil {
		return err
	}
	if err := e.deliverCollateral(pos.CollateralToken, bidder, size, postpone, asNative); err != nil {
		return err
	}
	e.emit(NewChallengeAvertedEvent(number, ch, bidder, size, offer))
	return nil
}

// liquidate settles a phase-two bid: the offer funds the challenger reward,
// the pro-rata debt repayment, and either a surplus split between equity and
// the owner or a loss drawn against equity.
func (e *Engine) liquidate(bidder crypto.Address, number uint64, ch *Challenge, pos *position.Position, size *big.Int, postpone, asNative bool) error {
	price := AuctionPrice(ch, pos.ChallengePeriod, e.now)
	offer := new(big.Int).Mul(size, price)
	offer.Quo(offer, unit)

	if offer.Sign() > 0 {
		if err := e.coin.Transfer(bidder, e.address, offer); err != nil {
			return err
		}
	}
	reward := ppmShare(offer, ChallengerRewardPPM)
	if reward.Sign() > 0 {
		if err := e.coin.Transfer(e.address, ch.Challenger, reward); err != nil {
			return err
		}
	}
	fundsAvailable := new(big.Int).Sub(offer, reward)

	result, err := e.positions.NotifyChallengeSucceeded(e.address, ch.Position, size)
	if err != nil {
		return err
	}

	interestDue := result.InterestPayment
	principalNet := netFromGross(result.PrincipalRepayment, result.ReservePPM)
	needed := new(big.Int).Add(principalNet, interestDue)
	loss := big.NewInt(0)
	if fundsAvailable.Cmp(needed) < 0 {
		loss = new(big.Int).Sub(needed, fundsAvailable)
		if err := e.coin.CoverLoss(e.address, loss); err != nil {
			return err
		}
		fundsAvailable = new(big.Int).Set(needed)
	}
	if interestDue.Sign() > 0 {
		if err := e.coin.CollectProfits(e.address, interestDue); err != nil {
			return err
		}
	}
	if result.PrincipalRepayment.Sign() > 0 {
		if _, err := e.coin.BurnFromWithReserve(ch.Position, e.address, result.PrincipalRepayment, result.ReservePPM); err != nil {
			return err
		}
	}
	surplus := new(big.Int).Sub(fundsAvailable, needed)
	if surplus.Sign() > 0 {
		profit := ppmShare(surplus, result.ReservePPM)
		if profit.Sign() > 0 {
			if err := e.coin.CollectProfits(e.address, profit); err != nil {
				return err
			}
		}
		ownerPayout := new(big.Int).Sub(surplus, profit)
		if ownerPayout.Sign() > 0 {
			if err := e.coin.Transfer(e.address, result.Owner, ownerPayout); err != nil {
				return err
			}
		}
	}

	// Seized collateral goes to the bidder, the challenger's posted
	// collateral comes back to them.
	if result.CollateralTransferred.Sign() > 0 {
		if err := e.deliverCollateral(pos.CollateralToken, bidder, result.CollateralTransferred, false, asNative); err != nil {
			return err
		}
	}
	if err := e.deliverCollateral(pos.CollateralToken, ch.Challenger, size, postpone, false); err != nil {
		return err
	}
	e.emit(NewChallengeSucceededEvent(number, ch, bidder, size, offer, reward, loss))
	return nil
}

// deliverCollateral settles a bid's collateral leg. Auction cash has already
// moved by the time it runs, so a recipient that cannot receive right now
// (frozen, or rejecting native sends) gets the amount parked in the
// pending-return ledger instead of failing the whole bid.
func (e *Engine) deliverCollateral(tokenAddr, beneficiary crypto.Address, amount *big.Int, postpone, asNative bool) error {
	if postpone {
		return e.returnCollateral(tokenAddr, beneficiary, amount, true, false)
	}
	if err := e.returnCollateral(tokenAddr, beneficiary, amount, false, asNative); err != nil {
		return e.returnCollateral(tokenAddr, beneficiary, amount, true, false)
	}
	return nil
}

// returnCollateral hands collateral held in hub custody to a beneficiary,
// either immediately (optionally unwrapped to native coin) or postponed into
// the pending-return ledger for recipients that cannot receive right now.
func (e *Engine) returnCollateral(tokenAddr, beneficiary crypto.Address, amount *big.Int, postpone, asNative bool) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if postpone {
		pending, err := e.pendingReturn(tokenAddr, beneficiary)
		if err != nil {
			return err
		}
		if err := e.state.PutPendingReturn(tokenAddr, beneficiary, new(big.Int).Add(pending, amount)); err != nil {
			return err
		}
		e.emit(NewPostponedReturnEvent(tokenAddr, beneficiary, amount))
		return nil
	}
	if asNative {
		if !e.tokens.IsWrappedNative(tokenAddr) {
			return ErrNativeOnlyForWrappedToken
		}
		return e.tokens.Unwrap(e.address, beneficiary, amount)
	}
	return e.tokens.Transfer(tokenAddr, e.address, beneficiary, amount)
}

// ReturnPostponedCollateral drains the target's pending balance for a
// collateral token.
func (e *Engine) ReturnPostponedCollateral(tokenAddr, target crypto.Address, asNative bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	pending, err := e.pendingReturn(tokenAddr, target)
	if err != nil {
		return err
	}
	if pending.Sign() == 0 {
		return nil
	}
	if err := e.state.PutPendingReturn(tokenAddr, target, big.NewInt(0)); err != nil {
		return err
	}
	return e.returnCollateral(tokenAddr, target, pending, false, asNative)
}

// PendingReturn returns the postponed balance for a beneficiary.
func (e *Engine) PendingReturn(tokenAddr, beneficiary crypto.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.pendingReturn(tokenAddr, beneficiary)
}

func (e *Engine) pendingReturn(tokenAddr, beneficiary crypto.Address) (*big.Int, error) {
	pending, err := e.state.GetPendingReturn(tokenAddr, beneficiary)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return big.NewInt(0), nil
	}
	return pending, nil
}

// ExpiredPurchasePrice is the forced-sale price curve for expired positions:
// ten times the liquidation price at expiration, ramping linearly to par over
// one challenge period, then to zero over a second one.
func (e *Engine) ExpiredPurchasePrice(posAddr crypto.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pos, err := e.position(posAddr)
	if err != nil {
		return nil, err
	}
	return expiredPriceAt(pos.Price, pos.Expiration, pos.ChallengePeriod, e.now), nil
}

func expiredPriceAt(liqPrice *big.Int, expiration, period, now uint64) *big.Int {
	if liqPrice == nil || period == 0 {
		return big.NewInt(0)
	}
	if now < expiration {
		return new(big.Int).Mul(liqPrice, big.NewInt(10))
	}
	elapsed := now - expiration
	switch {
	case elapsed <= period:
		// 10x down to 1x.
		factor := new(big.Int).SetUint64(10*period - 9*elapsed)
		price := new(big.Int).Mul(liqPrice, factor)
		return price.Quo(price, new(big.Int).SetUint64(period))
	case elapsed <= 2*period:
		// 1x down to zero.
		factor := new(big.Int).SetUint64(2*period - elapsed)
		price := new(big.Int).Mul(liqPrice, factor)
		return price.Quo(price, new(big.Int).SetUint64(period))
	default:
		return big.NewInt(0)
	}
}

// BuyExpiredCollateral sells collateral out of an expired, unchallenged
// position at the decayed purchase price. Buyers either take everything or
// leave at least an opening fee's worth of value for the next buyer.
func (e *Engine) BuyExpiredCollateral(buyer, posAddr crypto.Address, upToAmount *big.Int, asNative bool) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	pos, err := e.position(posAddr)
	if err != nil {
		return nil, err
	}
	if pos.IsChallenged() {
		return nil, position.ErrChallenged
	}
	if asNative && !e.tokens.IsWrappedNative(pos.CollateralToken) {
		return nil, ErrNativeOnlyForWrappedToken
	}
	if upToAmount == nil || upToAmount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	balance, err := e.positions.CollateralBalance(posAddr)
	if err != nil {
		return nil, err
	}
	amount := minBig(upToAmount, balance)
	if amount.Sign() == 0 {
		return nil, errInvalidAmount
	}
	price := expiredPriceAt(pos.Price, pos.Expiration, pos.ChallengePeriod, e.now)
	remaining := new(big.Int).Sub(balance, amount)
	if remaining.Sign() > 0 {
		remainingValue := new(big.Int).Mul(remaining, price)
		remainingValue.Quo(remainingValue, unit)
		if remainingValue.Cmp(OpeningFee) < 0 {
			return nil, ErrLeaveNoDust
		}
	}
	cost := new(big.Int).Mul(amount, price)
	cost.Quo(cost, unit)
	if cost.Sign() > 0 {
		if err := e.coin.Transfer(buyer, e.address, cost); err != nil {
			return nil, err
		}
	}
	result, err := e.positions.ForceSale(e.address, posAddr, e.address, amount, cost)
	if err != nil {
		return nil, err
	}
	if result.Surplus.Sign() > 0 {
		if err := e.coin.Transfer(e.address, result.Owner, result.Surplus); err != nil {
			return nil, err
		}
	}
	if err := e.deliverCollateral(pos.CollateralToken, buyer, amount, false, asNative); err != nil {
		return nil, err
	}
	e.emit(NewForcedSaleEvent(posAddr, buyer, amount, cost, result))
	return cost, nil
}

// ChallengeByID returns the challenge slot, which may be a tombstone.
func (e *Engine) ChallengeByID(number uint64) (*Challenge, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.GetChallenge(number)
}

func (e *Engine) position(posAddr crypto.Address) (*position.Position, error) {
	pos, err := e.positions.Get(posAddr)
	if err != nil {
		return nil, ErrInvalidPos
	}
	if !pos.Hub.Equal(e.address) || !e.coin.IsRegistered(posAddr) {
		return nil, ErrInvalidPos
	}
	return pos, nil
}

func (e *Engine) ensureMeta() (*Meta, error) {
	meta, err := e.state.GetHubMeta()
	if err != nil {
		return nil, err
	}
	if meta == nil {
		meta = &Meta{}
	}
	return meta, nil
}

func ppmShare(amount *big.Int, ppm uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 || ppm == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(ppm)))
	return share.Quo(share, oneMillion)
}

func netFromGross(gross *big.Int, reservePPM uint32) *big.Int {
	if gross == nil || gross.Sign() <= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Sub(gross, ppmShare(gross, reservePPM))
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
