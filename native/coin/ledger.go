package coin

import (
	"errors"
	"math/big"

	"deuro/crypto"
	nativecommon "deuro/native/common"
)

var (
	errNilState            = errors.New("coin ledger: state not configured")
	errInvalidAmount       = errors.New("coin ledger: amount must be positive")
	ErrInsufficientBalance = errors.New("coin ledger: insufficient balance")
	ErrNotRegistered       = errors.New("coin ledger: position not registered")
	errAlreadyRegistered   = errors.New("coin ledger: position already registered")
	errUnknownParent       = errors.New("coin ledger: clone parent not registered")
)

const moduleName = "coin"

var oneMillion = big.NewInt(1_000_000)

// ReserveAddress holds the minter reserve portion of every reserve-linked
// mint until the matching burn releases it.
var ReserveAddress = crypto.ModuleAddress("coin/reserve")

// EquityAddress collects protocol profits and absorbs losses.
var EquityAddress = crypto.ModuleAddress("coin/equity")

type ledgerState interface {
	GetCoinBalance(holder crypto.Address) (*big.Int, error)
	PutCoinBalance(holder crypto.Address, amount *big.Int) error
	GetSupply() (*Supply, error)
	PutSupply(supply *Supply) error
	GetPositionRecord(addr crypto.Address) (*PositionRecord, error)
	PutPositionRecord(record *PositionRecord) error
}

// Ledger implements the reserve-linked stablecoin accounting: plain balances
// plus the minter reserve and equity module accounts.
type Ledger struct {
	state  ledgerState
	pauses nativecommon.PauseView
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// SetState wires the ledger to the external persistence layer.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

func (l *Ledger) SetPauses(p nativecommon.PauseView) {
	if l == nil {
		return
	}
	l.pauses = p
}

// BalanceOf returns the holder's dEURO balance, zero when untracked.
func (l *Ledger) BalanceOf(holder crypto.Address) *big.Int {
	if l == nil || l.state == nil {
		return big.NewInt(0)
	}
	balance, err := l.state.GetCoinBalance(holder)
	if err != nil || balance == nil {
		return big.NewInt(0)
	}
	return balance
}

// MinterReserve returns the reserve amount currently spoken for by open
// positions.
func (l *Ledger) MinterReserve() *big.Int {
	supply, err := l.ensureSupply()
	if err != nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(supply.MinterReserve)
}

// Equity returns the balance of the equity account net of the minter reserve
// share held on the reserve account.
func (l *Ledger) Equity() *big.Int {
	return l.BalanceOf(EquityAddress)
}

// TotalSupply returns the outstanding dEURO supply.
func (l *Ledger) TotalSupply() *big.Int {
	supply, err := l.ensureSupply()
	if err != nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(supply.Total)
}

// Transfer moves dEURO between holders.
func (l *Ledger) Transfer(from, to crypto.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBalance := l.BalanceOf(from)
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBalance := l.BalanceOf(to)
	if err := l.state.PutCoinBalance(from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.state.PutCoinBalance(to, new(big.Int).Add(toBalance, amount))
}

// Mint credits freshly created dEURO. Genesis and loss coverage use it; the
// position flows always go through MintWithReserve.
func (l *Ledger) Mint(to crypto.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	supply, err := l.ensureSupply()
	if err != nil {
		return err
	}
	balance := l.BalanceOf(to)
	if err := l.state.PutCoinBalance(to, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	supply.Total = new(big.Int).Add(supply.Total, amount)
	return l.state.PutSupply(supply)
}

// Burn destroys dEURO held by the holder. The position roller uses it to
// reconcile its flash credit.
func (l *Ledger) Burn(holder crypto.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	balance := l.BalanceOf(holder)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	supply, err := l.ensureSupply()
	if err != nil {
		return err
	}
	if err := l.state.PutCoinBalance(holder, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	supply.Total = new(big.Int).Sub(supply.Total, amount)
	return l.state.PutSupply(supply)
}

// MintWithReserve mints amount against a registered position: the target
// receives the amount net of the reserve contribution, the contribution is
// minted onto the reserve account and tracked in the minter reserve.
// The net amount paid out is returned.
func (l *Ledger) MintWithReserve(position, target crypto.Address, amount *big.Int, reservePPM uint32) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if _, err := l.requireRecord(position); err != nil {
		return nil, err
	}
	reservePortion := ppmShare(amount, reservePPM)
	net := new(big.Int).Sub(amount, reservePortion)

	supply, err := l.ensureSupply()
	if err != nil {
		return nil, err
	}
	if err := l.state.PutCoinBalance(target, new(big.Int).Add(l.BalanceOf(target), net)); err != nil {
		return nil, err
	}
	if reservePortion.Sign() > 0 {
		if err := l.state.PutCoinBalance(ReserveAddress, new(big.Int).Add(l.BalanceOf(ReserveAddress), reservePortion)); err != nil {
			return nil, err
		}
	}
	supply.Total = new(big.Int).Add(supply.Total, amount)
	supply.MinterReserve = new(big.Int).Add(supply.MinterReserve, reservePortion)
	if err := l.state.PutSupply(supply); err != nil {
		return nil, err
	}
	return net, nil
}

// BurnFromWithReserve retires principal: the payer only funds the net share,
// the reserve account surrenders the contribution it holds for the position.
// The amount burned from the payer is returned.
func (l *Ledger) BurnFromWithReserve(position, payer crypto.Address, principal *big.Int, reservePPM uint32) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return nil, err
	}
	if principal == nil || principal.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if _, err := l.requireRecord(position); err != nil {
		return nil, err
	}
	reservePortion := ppmShare(principal, reservePPM)
	net := new(big.Int).Sub(principal, reservePortion)

	payerBalance := l.BalanceOf(payer)
	if payerBalance.Cmp(net) < 0 {
		return nil, ErrInsufficientBalance
	}
	reserveBalance := l.BalanceOf(ReserveAddress)
	if reserveBalance.Cmp(reservePortion) < 0 {
		// The reserve was drained covering losses elsewhere; the payer
		// makes up the difference so the burn always retires the full
		// principal.
		shortfall := new(big.Int).Sub(reservePortion, reserveBalance)
		net = new(big.Int).Add(net, shortfall)
		reservePortion = reserveBalance
		if payerBalance.Cmp(net) < 0 {
			return nil, ErrInsufficientBalance
		}
	}

	supply, err := l.ensureSupply()
	if err != nil {
		return nil, err
	}
	if err := l.state.PutCoinBalance(payer, new(big.Int).Sub(payerBalance, net)); err != nil {
		return nil, err
	}
	if reservePortion.Sign() > 0 {
		if err := l.state.PutCoinBalance(ReserveAddress, new(big.Int).Sub(reserveBalance, reservePortion)); err != nil {
			return nil, err
		}
	}
	supply.Total = new(big.Int).Sub(supply.Total, principal)
	tracked := ppmShare(principal, reservePPM)
	if supply.MinterReserve.Cmp(tracked) < 0 {
		supply.MinterReserve = big.NewInt(0)
	} else {
		supply.MinterReserve = new(big.Int).Sub(supply.MinterReserve, tracked)
	}
	if err := l.state.PutSupply(supply); err != nil {
		return nil, err
	}
	return net, nil
}

// CollectProfits moves protocol income from the payer to the equity account.
func (l *Ledger) CollectProfits(from crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	return l.Transfer(from, EquityAddress, amount)
}

// CoverLoss pays the recipient out of equity. When equity cannot cover the
// full amount the remainder is minted, socializing the bad debt across all
// holders instead of failing the settlement.
func (l *Ledger) CoverLoss(recipient crypto.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	equity := l.BalanceOf(EquityAddress)
	fromEquity := new(big.Int).Set(amount)
	if fromEquity.Cmp(equity) > 0 {
		fromEquity = equity
	}
	if fromEquity.Sign() > 0 {
		if err := l.Transfer(EquityAddress, recipient, fromEquity); err != nil {
			return err
		}
	}
	remainder := new(big.Int).Sub(amount, fromEquity)
	if remainder.Sign() > 0 {
		return l.Mint(recipient, remainder)
	}
	return nil
}

// DistributeProfits pays accumulated equity out to a recipient. Unlike
// CoverLoss it never mints and fails when equity is insufficient.
func (l *Ledger) DistributeProfits(recipient crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if l.BalanceOf(EquityAddress).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return l.Transfer(EquityAddress, recipient, amount)
}

// RegisterPosition records a position as an authorized minter. Originals pass
// the zero address as parent and become their own parent; clones must name a
// registered parent.
func (l *Ledger) RegisterPosition(position, parent crypto.Address) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	existing, err := l.state.GetPositionRecord(position)
	if err != nil {
		return err
	}
	if existing != nil {
		return errAlreadyRegistered
	}
	if parent.IsZero() {
		parent = position
	} else {
		parentRecord, err := l.state.GetPositionRecord(parent)
		if err != nil {
			return err
		}
		if parentRecord == nil {
			return errUnknownParent
		}
		// Clones always point at the original.
		parent = parentRecord.Parent
	}
	return l.state.PutPositionRecord(&PositionRecord{Address: position, Parent: parent})
}

// PositionParent resolves the original position an address descends from.
func (l *Ledger) PositionParent(position crypto.Address) (crypto.Address, error) {
	record, err := l.requireRecord(position)
	if err != nil {
		return crypto.Address{}, err
	}
	return record.Parent, nil
}

// IsRegistered reports whether the address is a known position.
func (l *Ledger) IsRegistered(position crypto.Address) bool {
	_, err := l.requireRecord(position)
	return err == nil
}

func (l *Ledger) requireRecord(position crypto.Address) (*PositionRecord, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	record, err := l.state.GetPositionRecord(position)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNotRegistered
	}
	return record, nil
}

func (l *Ledger) ensureSupply() (*Supply, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	supply, err := l.state.GetSupply()
	if err != nil {
		return nil, err
	}
	if supply == nil {
		supply = &Supply{}
	}
	supply.Normalize()
	return supply, nil
}

func ppmShare(amount *big.Int, ppm uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 || ppm == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(ppm)))
	return share.Quo(share, oneMillion)
}
