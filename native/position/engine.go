package position

import (
	"errors"
	"math/big"

	"deuro/core/types"
	"deuro/crypto"
	nativecommon "deuro/native/common"
)

var (
	errNilState                  = errors.New("position engine: state not configured")
	errNilLedgers                = errors.New("position engine: ledgers not configured")
	ErrUnknown                   = errors.New("position engine: unknown position")
	ErrNotOwner                  = errors.New("position engine: caller is not the owner")
	ErrNotHub                    = errors.New("position engine: caller is not the hub")
	ErrClosed                    = errors.New("position engine: position is closed")
	ErrHot                       = errors.New("position engine: cooldown active")
	ErrChallenged                = errors.New("position engine: open challenges block this operation")
	ErrExpired                   = errors.New("position engine: position expired")
	ErrAlive                     = errors.New("position engine: position not expired yet")
	ErrPriceTooHigh              = errors.New("position engine: price more than doubled")
	ErrLimitExceeded             = errors.New("position engine: minting limit exceeded")
	ErrInsufficientCollateral    = errors.New("position engine: insufficient collateral")
	ErrNativeOnlyForWrappedToken = errors.New("position engine: native withdrawal requires wrapped native collateral")
	errInvalidAmount             = errors.New("position engine: amount must be positive")
	errPriceMismatch             = errors.New("position engine: challenge price is stale")
	errReferenceCollateral       = errors.New("position engine: reference position has different collateral")
)

const moduleName = "position"

type engineState interface {
	GetPosition(addr crypto.Address) (*Position, error)
	PutPosition(pos *Position) error
}

// CollateralLedger is the slice of the token ledger the engine needs to move
// collateral in and out of position custody.
type CollateralLedger interface {
	BalanceOf(token, holder crypto.Address) *big.Int
	Transfer(token, from, to crypto.Address, amount *big.Int) error
	IsWrappedNative(token crypto.Address) bool
	Unwrap(from, to crypto.Address, amount *big.Int) error
}

// StablecoinLedger is the reserve-linked mint/burn surface of the dEURO
// ledger.
type StablecoinLedger interface {
	MintWithReserve(position, target crypto.Address, amount *big.Int, reservePPM uint32) (*big.Int, error)
	BurnFromWithReserve(position, payer crypto.Address, principal *big.Int, reservePPM uint32) (*big.Int, error)
	CollectProfits(from crypto.Address, amount *big.Int) error
	CoverLoss(recipient crypto.Address, amount *big.Int) error
}

// RateSource exposes the economy-wide lead rate positions sync to at mint
// time.
type RateSource interface {
	CurrentRatePPM(now uint64) uint32
}

// EventSink receives the typed events emitted by state transitions.
type EventSink interface {
	Emit(evt *types.Event)
}

// Engine orchestrates every state transition of the position state machine.
type Engine struct {
	state      engineState
	collateral CollateralLedger
	coin       StablecoinLedger
	rates      RateSource
	now        uint64
	pauses     nativecommon.PauseView
	events     EventSink
}

func NewEngine() *Engine {
	return &Engine{}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedgers wires the collateral and stablecoin ledgers.
func (e *Engine) SetLedgers(collateral CollateralLedger, coin StablecoinLedger) {
	if e == nil {
		return
	}
	e.collateral = collateral
	e.coin = coin
}

// SetRateSource wires the lead-rate view used when minting.
func (e *Engine) SetRateSource(rates RateSource) {
	if e == nil {
		return
	}
	e.rates = rates
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

func (e *Engine) emit(evt *types.Event) {
	if e != nil && e.events != nil && evt != nil {
		e.events.Emit(evt)
	}
}

// Init validates and persists a freshly constructed position.
func (e *Engine) Init(pos *Position) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	pos.Normalize()
	if pos.LastAccrual == 0 {
		pos.LastAccrual = pos.Start
	}
	return e.state.PutPosition(pos)
}

// Get loads a position by address.
func (e *Engine) Get(addr crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pos, err := e.state.GetPosition(addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, ErrUnknown
	}
	pos.Normalize()
	return pos, nil
}

// accrue materializes interest due since the last accrual. Called at the top
// of every mutating operation.
func (e *Engine) accrue(pos *Position) {
	if e.now <= pos.LastAccrual {
		return
	}
	due := interestSince(pos.LastAccrual, e.now, pos.FixedAnnualRatePPM, pos.Principal)
	if due.Sign() > 0 {
		pos.InterestAccrued = new(big.Int).Add(pos.InterestAccrued, due)
	}
	pos.LastAccrual = e.now
}

// Mint increases the principal and pays the freshly minted dEURO (net of the
// reserve contribution) to the target.
func (e *Engine) Mint(caller, posAddr, target crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.collateral == nil || e.coin == nil {
		return errNilLedgers
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	pos, err := e.Get(posAddr)
	if err != nil {
		return err
	}
	if !pos.Owner.Equal(caller) {
		return ErrNotOwner
	}
	if pos.Closed {
		return ErrClosed
	}
	if pos.IsChallenged() {
		return ErrChallenged
	}
	if pos.IsExpired(e.now) {
		return ErrExpired
	}
	if e.now < pos.Cooldown {
		return ErrHot
	}
	e.accrue(pos)

	newPrincipal := new(big.Int).Add(pos.Principal, amount)
	if newPrincipal.Cmp(pos.Limit) > 0 {
		return ErrLimitExceeded
	}
	balance := e.collateral.BalanceOf(pos.CollateralToken, pos.Address)
	debt := new(big.Int).Add(newPrincipal, pos.InterestAccrued)
	if collateralValue(balance, pos.Price).Cmp(debt) < 0 {
		return ErrInsufficientCollateral
	}

	// Minting re-syncs the fixed rate to the current lead rate.
	if e.rates != nil {
		pos.FixedAnnualRatePPM = e.rates.CurrentRatePPM(e.now) + pos.RiskPremiumPPM
	}
	pos.Principal = newPrincipal

	if _, err := e.coin.MintWithReserve(pos.Address, target, amount, pos.ReservePPM); err != nil {
		return err
	}
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	e.emit(NewMintedEvent(pos, target, amount))
	return nil
}

// Repay pays down accrued interest first, then principal. Anyone may repay on
// behalf of a position; amounts beyond the outstanding debt are capped so the
// call stays idempotent. The amount actually used is returned.
func (e *Engine) Repay(caller, posAddr crypto.Address, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.coin == nil {
		return nil, errNilLedgers
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	pos, err := e.Get(posAddr)
	if err != nil {
		return nil, err
	}
	if pos.Closed {
		return nil, ErrClosed
	}
	e.accrue(pos)

	debt := new(big.Int).Add(pos.Principal, pos.InterestAccrued)
	used := minBig(amount, debt)
	if used.Sign() == 0 {
		return big.NewInt(0), e.state.PutPosition(pos)
	}

	interestPortion := minBig(used, pos.InterestAccrued)
	principalPortion := new(big.Int).Sub(used, interestPortion)

	if interestPortion.Sign() > 0 {
		if err := e.coin.CollectProfits(caller, interestPortion); err != nil {
			return nil, err
		}
		pos.InterestAccrued = new(big.Int).Sub(pos.InterestAccrued, interestPortion)
	}
	if principalPortion.Sign() > 0 {
		if _, err := e.coin.BurnFromWithReserve(pos.Address, caller, principalPortion, pos.ReservePPM); err != nil {
			return nil, err
		}
		pos.Principal = new(big.Int).Sub(pos.Principal, principalPortion)
	}
	if err := e.state.PutPosition(pos); err != nil {
		return nil, err
	}
	e.emit(NewRepaidEvent(pos, caller, used))
	return used, nil
}

// AddCollateral moves collateral from the depositor into position custody.
func (e *Engine) AddCollateral(from, posAddr crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.collateral == nil {
		return errNilLedgers
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	pos, err := e.Get(posAddr)
	if err != nil {
		return err
	}
	if pos.Closed {
		return ErrClosed
	}
	return e.collateral.Transfer(pos.CollateralToken, from, pos.Address, amount)
}

// WithdrawCollateral releases collateral back to the target. Falling below
// the minimum closes the position, which requires the debt to be cleared and
// the balance fully drained.
func (e *Engine) WithdrawCollateral(caller, posAddr, target crypto.Address, amount *big.Int, asNative bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.collateral == nil {
		return errNilLedgers
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	pos, err := e.Get(posAddr)
	if err != nil {
		return err
	}
	if !pos.Owner.Equal(caller) {
		return ErrNotOwner
	}
	if pos.Closed {
		return ErrClosed
	}
	if pos.IsChallenged() {
		return ErrChallenged
	}
	if e.now < pos.Cooldown {
		return ErrHot
	}
	e.accrue(pos)

	balance := e.collateral.BalanceOf(pos.CollateralToken, pos.Address)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}
	remaining := new(big.Int).Sub(balance, amount)
	debt := new(big.Int).Add(pos.Principal, pos.InterestAccrued)
	if remaining.Cmp(pos.MinimumCollateral) < 0 {
		if debt.Sign() != 0 {
			return ErrInsufficientCollateral
		}
		if remaining.Sign() != 0 {
			// Below the dust floor the position must be drained entirely.
			return ErrInsufficientCollateral
		}
		pos.Closed = true
	} else if collateralValue(remaining, pos.Price).Cmp(debt) < 0 {
		return ErrInsufficientCollateral
	}

	if err := e.payOutCollateral(pos, target, amount, asNative); err != nil {
		return err
	}
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	if pos.Closed {
		e.emit(NewClosedEvent(pos))
	}
	return nil
}

func (e *Engine) payOutCollateral(pos *Position, target crypto.Address, amount *big.Int, asNative bool) error {
	if asNative {
		if !e.collateral.IsWrappedNative(pos.CollateralToken) {
			return ErrNativeOnlyForWrappedToken
		}
		return e.collateral.Unwrap(pos.Address, target, amount)
	}
	return e.collateral.Transfer(pos.CollateralToken, pos.Address, target, amount)
}

// AdjustPrice changes the liquidation price. Increases are capped at 2x and
// start a cooldown; decreases must keep the position collateralized and are
// blocked while a previous increase is still cooling down.
func (e *Engine) AdjustPrice(caller, posAddr crypto.Address, newPrice *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	pos, err := e.Get(posAddr)
	if err != nil {
		return err
	}
	if !pos.Owner.Equal(caller) {
		return ErrNotOwner
	}
	if err := e.applyPriceChange(pos, newPrice, nil); err != nil {
		return err
	}
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	e.emit(NewPriceAdjustedEvent(pos))
	return nil
}

// applyPriceChange enforces the price rules against an already loaded and
// accrued position. When reference is non-nil the sibling's live virtual
// price replaces the 2x cap and cooldown for increases.
func (e *Engine) applyPriceChange(pos *Position, newPrice *big.Int, reference *Position) error {
	if newPrice == nil || newPrice.Sign() <= 0 {
		return errInvalidAmount
	}
	if pos.Closed {
		return ErrClosed
	}
	if pos.IsChallenged() {
		return ErrChallenged
	}
	if pos.IsExpired(e.now) {
		return ErrExpired
	}
	e.accrue(pos)

	balance := e.collateral.BalanceOf(pos.CollateralToken, pos.Address)
	if collateralValue(balance, newPrice).Cmp(pos.Limit) > 0 {
		return ErrLimitExceeded
	}

	increase := newPrice.Cmp(pos.Price) > 0
	if increase {
		refBound := false
		if reference != nil {
			if !reference.CollateralToken.Equal(pos.CollateralToken) {
				return errReferenceCollateral
			}
			refBound = newPrice.Cmp(e.virtualPrice(reference)) <= 0
		}
		if !refBound {
			doubled := new(big.Int).Lsh(pos.Price, 1)
			if newPrice.Cmp(doubled) > 0 {
				return ErrPriceTooHigh
			}
			pos.Cooldown = e.now + pos.ChallengePeriod
		}
	} else {
		if e.now < pos.Cooldown && reference == nil {
			return ErrHot
		}
		debt := new(big.Int).Add(pos.Principal, pos.InterestAccrued)
		if collateralValue(balance, newPrice).Cmp(debt) < 0 {
			return ErrInsufficientCollateral
		}
	}
	pos.Price = new(big.Int).Set(newPrice)
	return nil
}

// Adjust atomically reaches the requested principal, collateral balance and
// price. Deposits happen before the repayment, withdrawals after it, and new
// minting before the price change so every intermediate state is
// collateralized.
func (e *Engine) Adjust(caller, posAddr crypto.Address, newPrincipal, newCollateral, newPrice *big.Int, withdrawAsNative bool) error {
	return e.adjust(caller, posAddr, crypto.Address{}, newPrincipal, newCollateral, newPrice, withdrawAsNative)
}

// AdjustWithReference is Adjust with a sibling position acting as a market
// reference: price increases bounded by the sibling's live virtual price skip
// the 2x cap and cooldown.
func (e *Engine) AdjustWithReference(caller, posAddr, refAddr crypto.Address, newPrincipal, newCollateral, newPrice *big.Int, withdrawAsNative bool) error {
	if refAddr.IsZero() {
		return ErrUnknown
	}
	return e.adjust(caller, posAddr, refAddr, newPrincipal, newCollateral, newPrice, withdrawAsNative)
}

func (e *Engine) adjust(caller, posAddr, refAddr crypto.Address, newPrincipal, newCollateral, newPrice *big.Int, withdrawAsNative bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.collateral == nil || e.coin == nil {
		return errNilLedgers
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if newPrincipal == nil || newCollateral == nil || newPrice == nil {
		return errInvalidAmount
	}
	pos, err := e.Get(posAddr)
	if err != nil {
		return err
	}
	if !pos.Owner.Equal(caller) {
		return ErrNotOwner
	}
	var reference *Position
	if !refAddr.IsZero() {
		reference, err = e.Get(refAddr)
		if err != nil {
			return err
		}
	}

	balance := e.collateral.BalanceOf(pos.CollateralToken, pos.Address)
	if newCollateral.Cmp(balance) > 0 {
		deposit := new(big.Int).Sub(newCollateral, balance)
		if err := e.AddCollateral(caller, posAddr, deposit); err != nil {
			return err
		}
	}
	if newPrincipal.Cmp(pos.Principal) < 0 {
		// Reaching a lower principal also requires clearing the accrued
		// interest along the way; Repay orders interest before principal.
		pos, err = e.Get(posAddr)
		if err != nil {
			return err
		}
		e.accrue(pos)
		if err := e.state.PutPosition(pos); err != nil {
			return err
		}
		repayAmount := new(big.Int).Sub(pos.Principal, newPrincipal)
		repayAmount.Add(repayAmount, pos.InterestAccrued)
		if _, err := e.Repay(caller, posAddr, repayAmount); err != nil {
			return err
		}
	}
	pos, err = e.Get(posAddr)
	if err != nil {
		return err
	}
	balance = e.collateral.BalanceOf(pos.CollateralToken, pos.Address)
	if newCollateral.Cmp(balance) < 0 {
		withdraw := new(big.Int).Sub(balance, newCollateral)
		if err := e.WithdrawCollateral(caller, posAddr, caller, withdraw, withdrawAsNative); err != nil {
			return err
		}
		pos, err = e.Get(posAddr)
		if err != nil {
			return err
		}
	}
	if newPrincipal.Cmp(pos.Principal) > 0 {
		mintAmount := new(big.Int).Sub(newPrincipal, pos.Principal)
		if err := e.Mint(caller, posAddr, caller, mintAmount); err != nil {
			return err
		}
		pos, err = e.Get(posAddr)
		if err != nil {
			return err
		}
	}
	if newPrice.Cmp(pos.Price) != 0 {
		if err := e.applyPriceChange(pos, newPrice, reference); err != nil {
			return err
		}
		if err := e.state.PutPosition(pos); err != nil {
			return err
		}
		e.emit(NewPriceAdjustedEvent(pos))
	}
	return nil
}

// TransferOwnership hands control of the position to a new owner.
func (e *Engine) TransferOwnership(caller, posAddr, newOwner crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	pos, err := e.Get(posAddr)
	if err != nil {
		return err
	}
	if !pos.Owner.Equal(caller) {
		return ErrNotOwner
	}
	if newOwner.IsZero() {
		return errInvalidAmount
	}
	pos.Owner = newOwner
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	e.emit(NewOwnershipEvent(pos))
	return nil
}

// --- hub-only hooks ---

// NotifyChallengeStarted registers a new challenge claim against the
// position. The price echo guards challengers against a price change landing
// between their read and the challenge.
func (e *Engine) NotifyChallengeStarted(caller, posAddr crypto.Address, size, liqPrice *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	pos, err := e.Get(posAddr)
	if err != nil {
		return err
	}
	if !pos.Hub.Equal(caller) {
		return ErrNotHub
	}
	if pos.Closed {
		return ErrClosed
	}
	if size == nil || size.Sign() <= 0 {
		return errInvalidAmount
	}
	e.accrue(pos)
	if liqPrice == nil || liqPrice.Cmp(e.virtualPrice(pos)) != 0 {
		return errPriceMismatch
	}
	balance := e.collateral.BalanceOf(pos.CollateralToken, pos.Address)
	claimable := new(big.Int).Sub(balance, pos.ChallengedAmount)
	if size.Cmp(claimable) > 0 {
		return ErrInsufficientCollateral
	}
	pos.ChallengedAmount = new(big.Int).Add(pos.ChallengedAmount, size)
	return e.state.PutPosition(pos)
}

// NotifyChallengeAverted releases a claim that was bought out in phase one.
func (e *Engine) NotifyChallengeAverted(caller, posAddr crypto.Address, size *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	pos, err := e.Get(posAddr)
	if err != nil {
		return err
	}
	if !pos.Hub.Equal(caller) {
		return ErrNotHub
	}
	if size == nil || size.Sign() <= 0 || size.Cmp(pos.ChallengedAmount) > 0 {
		return errInvalidAmount
	}
	e.accrue(pos)
	pos.ChallengedAmount = new(big.Int).Sub(pos.ChallengedAmount, size)
	return e.state.PutPosition(pos)
}

// NotifyChallengeSucceeded settles a phase-two liquidation: the repayment is
// the pro-rata share of the debt for the seized collateral fraction, not a
// price-based amount. The seized collateral moves into hub custody for
// delivery to the bidder.
func (e *Engine) NotifyChallengeSucceeded(caller, posAddr crypto.Address, size *big.Int) (*LiquidationResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.collateral == nil {
		return nil, errNilLedgers
	}
	pos, err := e.Get(posAddr)
	if err != nil {
		return nil, err
	}
	if !pos.Hub.Equal(caller) {
		return nil, ErrNotHub
	}
	if size == nil || size.Sign() <= 0 || size.Cmp(pos.ChallengedAmount) > 0 {
		return nil, errInvalidAmount
	}
	e.accrue(pos)

	balance := e.collateral.BalanceOf(pos.CollateralToken, pos.Address)
	seized := minBig(size, balance)

	principalRepayment := proportionCeil(pos.Principal, seized, balance)
	interestPayment := proportionCeil(pos.InterestAccrued, seized, balance)

	// Book the debits before any transfer so reentrant observers only ever
	// see already-debited state.
	pos.ChallengedAmount = new(big.Int).Sub(pos.ChallengedAmount, size)
	pos.Principal = new(big.Int).Sub(pos.Principal, principalRepayment)
	pos.InterestAccrued = new(big.Int).Sub(pos.InterestAccrued, interestPayment)
	if err := e.state.PutPosition(pos); err != nil {
		return nil, err
	}
	if seized.Sign() > 0 {
		if err := e.collateral.Transfer(pos.CollateralToken, pos.Address, pos.Hub, seized); err != nil {
			return nil, err
		}
	}
	return &LiquidationResult{
		Owner:                 pos.Owner,
		CollateralTransferred: seized,
		PrincipalRepayment:    principalRepayment,
		InterestPayment:       interestPayment,
		ReservePPM:            pos.ReservePPM,
	}, nil
}

// ForceSale sells collateral out of an expired position. Partial sales pay
// interest for the sold fraction first and then retire as much principal as
// the proceeds allow; a sale that drains the position always clears the full
// debt, drawing the shortfall from equity.
func (e *Engine) ForceSale(caller, posAddr, payer crypto.Address, amount, totalCost *big.Int) (*ForceSaleResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.collateral == nil || e.coin == nil {
		return nil, errNilLedgers
	}
	pos, err := e.Get(posAddr)
	if err != nil {
		return nil, err
	}
	if !pos.Hub.Equal(caller) {
		return nil, ErrNotHub
	}
	if pos.Closed {
		return nil, ErrClosed
	}
	if !pos.IsExpired(e.now) {
		return nil, ErrAlive
	}
	if amount == nil || amount.Sign() <= 0 || totalCost == nil || totalCost.Sign() < 0 {
		return nil, errInvalidAmount
	}
	e.accrue(pos)

	balance := e.collateral.BalanceOf(pos.CollateralToken, pos.Address)
	if amount.Cmp(balance) > 0 {
		return nil, ErrInsufficientCollateral
	}
	emptying := amount.Cmp(balance) == 0

	result := &ForceSaleResult{
		Owner:           pos.Owner,
		InterestPaid:    big.NewInt(0),
		PrincipalRepaid: big.NewInt(0),
		Shortfall:       big.NewInt(0),
		Surplus:         big.NewInt(0),
	}
	available := new(big.Int).Set(totalCost)

	interestShare := proportionCeil(pos.InterestAccrued, amount, balance)
	interestDue := interestShare
	principalDue := big.NewInt(0)
	if emptying {
		interestDue = new(big.Int).Set(pos.InterestAccrued)
		principalDue = new(big.Int).Set(pos.Principal)
		needed := new(big.Int).Add(netFromGross(principalDue, pos.ReservePPM), interestDue)
		if available.Cmp(needed) < 0 {
			result.Shortfall = new(big.Int).Sub(needed, available)
			if err := e.coin.CoverLoss(payer, result.Shortfall); err != nil {
				return nil, err
			}
			available = needed
		}
	} else {
		afterInterest := new(big.Int).Sub(available, minBig(available, interestShare))
		principalDue = minBig(pos.Principal, grossFromNet(afterInterest, pos.ReservePPM))
		interestDue = minBig(available, interestShare)
	}

	if interestDue.Sign() > 0 {
		if err := e.coin.CollectProfits(payer, interestDue); err != nil {
			return nil, err
		}
		available.Sub(available, interestDue)
		pos.InterestAccrued = new(big.Int).Sub(pos.InterestAccrued, interestDue)
		result.InterestPaid = interestDue
	}
	if !emptying {
		// Unpaid interest for the sold fraction is written off so the
		// remaining collateral only backs its own share. The share is taken
		// from the interest at entry; the paid part already came off above.
		if writeOff := new(big.Int).Sub(interestShare, result.InterestPaid); writeOff.Sign() > 0 {
			pos.InterestAccrued = new(big.Int).Sub(pos.InterestAccrued, minBig(writeOff, pos.InterestAccrued))
		}
	}
	if principalDue.Sign() > 0 {
		net, err := e.coin.BurnFromWithReserve(pos.Address, payer, principalDue, pos.ReservePPM)
		if err != nil {
			return nil, err
		}
		available.Sub(available, net)
		pos.Principal = new(big.Int).Sub(pos.Principal, principalDue)
		result.PrincipalRepaid = principalDue
	}
	if available.Sign() > 0 && result.Shortfall.Sign() == 0 {
		result.Surplus = new(big.Int).Set(available)
	}
	if emptying {
		pos.Closed = true
	}
	if err := e.state.PutPosition(pos); err != nil {
		return nil, err
	}
	if err := e.collateral.Transfer(pos.CollateralToken, pos.Address, pos.Hub, amount); err != nil {
		return nil, err
	}
	if pos.Closed {
		e.emit(NewClosedEvent(pos))
	}
	return result, nil
}

// --- views ---

// Debt returns principal plus interest as of now.
func (e *Engine) Debt(posAddr crypto.Address) (*big.Int, error) {
	pos, err := e.Get(posAddr)
	if err != nil {
		return nil, err
	}
	due := interestSince(pos.LastAccrual, e.now, pos.FixedAnnualRatePPM, pos.Principal)
	debt := new(big.Int).Add(pos.Principal, pos.InterestAccrued)
	return debt.Add(debt, due), nil
}

// Interest returns the interest accrued as of now.
func (e *Engine) Interest(posAddr crypto.Address) (*big.Int, error) {
	pos, err := e.Get(posAddr)
	if err != nil {
		return nil, err
	}
	due := interestSince(pos.LastAccrual, e.now, pos.FixedAnnualRatePPM, pos.Principal)
	return new(big.Int).Add(pos.InterestAccrued, due), nil
}

// VirtualPrice is the liquidation price scaled up by the accrued interest so
// challenges account for the full debt, not just the principal.
func (e *Engine) VirtualPrice(posAddr crypto.Address) (*big.Int, error) {
	pos, err := e.Get(posAddr)
	if err != nil {
		return nil, err
	}
	return e.virtualPrice(pos), nil
}

func (e *Engine) virtualPrice(pos *Position) *big.Int {
	if pos.Principal.Sign() == 0 {
		return new(big.Int).Set(pos.Price)
	}
	due := interestSince(pos.LastAccrual, e.now, pos.FixedAnnualRatePPM, pos.Principal)
	debt := new(big.Int).Add(pos.Principal, pos.InterestAccrued)
	debt.Add(debt, due)
	scaled := new(big.Int).Mul(pos.Price, debt)
	scaled.Add(scaled, new(big.Int).Sub(pos.Principal, big.NewInt(1)))
	return scaled.Quo(scaled, pos.Principal)
}

// CollateralRequirement is the minimum collateral backing the current debt at
// the current price.
func (e *Engine) CollateralRequirement(posAddr crypto.Address) (*big.Int, error) {
	pos, err := e.Get(posAddr)
	if err != nil {
		return nil, err
	}
	debt, err := e.Debt(posAddr)
	if err != nil {
		return nil, err
	}
	if pos.Price.Sign() == 0 {
		return big.NewInt(0), nil
	}
	required := new(big.Int).Mul(debt, unit)
	required.Add(required, new(big.Int).Sub(pos.Price, big.NewInt(1)))
	return required.Quo(required, pos.Price), nil
}

// ChallengeInfo returns what a challenger needs to open a challenge.
func (e *Engine) ChallengeInfo(posAddr crypto.Address) (*ChallengeData, error) {
	pos, err := e.Get(posAddr)
	if err != nil {
		return nil, err
	}
	return &ChallengeData{
		LiqPrice:        e.virtualPrice(pos),
		ChallengePeriod: pos.ChallengePeriod,
	}, nil
}

// CollateralBalance returns the collateral units held in position custody.
func (e *Engine) CollateralBalance(posAddr crypto.Address) (*big.Int, error) {
	pos, err := e.Get(posAddr)
	if err != nil {
		return nil, err
	}
	return e.collateral.BalanceOf(pos.CollateralToken, pos.Address), nil
}
