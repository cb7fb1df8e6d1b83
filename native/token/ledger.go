package token

import (
	"errors"
	"math/big"

	"deuro/core/types"
	"deuro/crypto"
	nativecommon "deuro/native/common"
)

var (
	errNilState              = errors.New("token ledger: state not configured")
	errInvalidAmount         = errors.New("token ledger: amount must be positive")
	errUnknownToken          = errors.New("token ledger: token not registered")
	errTokenExists           = errors.New("token ledger: token already registered")
	ErrInsufficientBalance   = errors.New("token ledger: insufficient balance")
	ErrRecipientFrozen       = errors.New("token ledger: recipient transfers restricted")
	ErrSenderFrozen          = errors.New("token ledger: sender transfers restricted")
	ErrNotWrappedNative      = errors.New("token ledger: token does not wrap the native coin")
	ErrNativeTransferFailed  = errors.New("token ledger: native transfer rejected by recipient")
	errInsufficientNative    = errors.New("token ledger: insufficient native balance")
	errWrappedNativeConflict = errors.New("token ledger: wrapped native token already registered")
)

const moduleName = "token"

type ledgerState interface {
	GetToken(addr crypto.Address) (*Token, error)
	PutToken(tok *Token) error
	GetTokenBalance(tok, holder crypto.Address) (*big.Int, error)
	PutTokenBalance(tok, holder crypto.Address, amount *big.Int) error
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
	WrappedNativeToken() (*Token, error)
}

// Ledger keeps per-token balances and the native-coin accounts. It is the only
// component allowed to move collateral between holders.
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

// Register adds a token to the ledger. At most one token may wrap the native
// coin.
func (l *Ledger) Register(tok *Token) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	existing, err := l.state.GetToken(tok.Address)
	if err != nil {
		return err
	}
	if existing != nil {
		return errTokenExists
	}
	if tok.WrappedNative {
		wrapped, err := l.wrappedNative()
		if err != nil {
			return err
		}
		if wrapped != nil {
			return errWrappedNativeConflict
		}
	}
	return l.state.PutToken(tok)
}

// Get returns the token descriptor or an error when unknown.
func (l *Ledger) Get(addr crypto.Address) (*Token, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	tok, err := l.state.GetToken(addr)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, errUnknownToken
	}
	return tok, nil
}

// Decimals returns the token's fractional digits.
func (l *Ledger) Decimals(addr crypto.Address) (uint8, error) {
	tok, err := l.Get(addr)
	if err != nil {
		return 0, err
	}
	return tok.Decimals, nil
}

// BalanceOf returns the holder's balance, zero when untracked.
func (l *Ledger) BalanceOf(tokenAddr, holder crypto.Address) *big.Int {
	if l == nil || l.state == nil {
		return big.NewInt(0)
	}
	balance, err := l.state.GetTokenBalance(tokenAddr, holder)
	if err != nil || balance == nil {
		return big.NewInt(0)
	}
	return balance
}

// Mint credits freshly created units to the holder. Used by genesis and the
// wrap path only.
func (l *Ledger) Mint(tokenAddr, holder crypto.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if _, err := l.Get(tokenAddr); err != nil {
		return err
	}
	balance := l.BalanceOf(tokenAddr, holder)
	return l.state.PutTokenBalance(tokenAddr, holder, new(big.Int).Add(balance, amount))
}

// Transfer moves token units between holders. Tokens flagged SilentFail
// swallow a failing transfer without moving anything, mirroring the broken
// ERC-20s the hub's probe is designed to catch.
func (l *Ledger) Transfer(tokenAddr, from, to crypto.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	tok, err := l.Get(tokenAddr)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	if tok.IsFrozen(from) {
		return ErrSenderFrozen
	}
	if tok.IsFrozen(to) {
		return ErrRecipientFrozen
	}
	fromBalance := l.BalanceOf(tokenAddr, from)
	if fromBalance.Cmp(amount) < 0 {
		if tok.SilentFail {
			return nil
		}
		return ErrInsufficientBalance
	}
	toBalance := l.BalanceOf(tokenAddr, to)
	if err := l.state.PutTokenBalance(tokenAddr, from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.state.PutTokenBalance(tokenAddr, to, new(big.Int).Add(toBalance, amount))
}

// Freeze toggles the holder's restriction flag on a token.
func (l *Ledger) Freeze(tokenAddr, holder crypto.Address, frozen bool) error {
	tok, err := l.Get(tokenAddr)
	if err != nil {
		return err
	}
	if tok.Frozen == nil {
		tok.Frozen = make(map[string]bool)
	}
	if frozen {
		tok.Frozen[FrozenKey(holder)] = true
	} else {
		delete(tok.Frozen, FrozenKey(holder))
	}
	return l.state.PutToken(tok)
}

// --- native coin handling ---

// NativeBalanceOf returns the holder's native-coin balance.
func (l *Ledger) NativeBalanceOf(holder crypto.Address) *big.Int {
	acc, err := l.loadAccount(holder)
	if err != nil {
		return big.NewInt(0)
	}
	return acc.Balance
}

// CreditNative adds native coin to the holder without the recipient check.
// Used by genesis only.
func (l *Ledger) CreditNative(holder crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	acc, err := l.loadAccount(holder)
	if err != nil {
		return err
	}
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	return l.state.PutAccount(holder, acc)
}

// SendNative moves native coin between accounts. Recipients flagged as
// rejecting native coin fail the transfer, which callers surface as
// ErrNativeTransferFailed and may work around via postponement.
func (l *Ledger) SendNative(from, to crypto.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromAcc, err := l.loadAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(amount) < 0 {
		return errInsufficientNative
	}
	toAcc, err := l.loadAccount(to)
	if err != nil {
		return err
	}
	if toAcc.RejectsNative {
		return ErrNativeTransferFailed
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := l.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return l.state.PutAccount(to, toAcc)
}

// Wrap converts native coin held by the account into wrapped-native token
// units credited to the same account.
func (l *Ledger) Wrap(holder crypto.Address, amount *big.Int) error {
	wrapped, err := l.requireWrappedNative()
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	acc, err := l.loadAccount(holder)
	if err != nil {
		return err
	}
	if acc.Balance.Cmp(amount) < 0 {
		return errInsufficientNative
	}
	acc.Balance = new(big.Int).Sub(acc.Balance, amount)
	if err := l.state.PutAccount(holder, acc); err != nil {
		return err
	}
	balance := l.BalanceOf(wrapped.Address, holder)
	return l.state.PutTokenBalance(wrapped.Address, holder, new(big.Int).Add(balance, amount))
}

// Unwrap burns wrapped-native units held by from and pays the native coin to
// the recipient. The recipient check applies.
func (l *Ledger) Unwrap(from, to crypto.Address, amount *big.Int) error {
	wrapped, err := l.requireWrappedNative()
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	balance := l.BalanceOf(wrapped.Address, from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toAcc, err := l.loadAccount(to)
	if err != nil {
		return err
	}
	if toAcc.RejectsNative {
		return ErrNativeTransferFailed
	}
	if err := l.state.PutTokenBalance(wrapped.Address, from, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	return l.state.PutAccount(to, toAcc)
}

// IsWrappedNative reports whether the token wraps the native coin.
func (l *Ledger) IsWrappedNative(addr crypto.Address) bool {
	tok, err := l.Get(addr)
	if err != nil {
		return false
	}
	return tok.WrappedNative
}

func (l *Ledger) requireWrappedNative() (*Token, error) {
	wrapped, err := l.wrappedNative()
	if err != nil {
		return nil, err
	}
	if wrapped == nil {
		return nil, ErrNotWrappedNative
	}
	return wrapped, nil
}

func (l *Ledger) wrappedNative() (*Token, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	return l.state.WrappedNativeToken()
}

func (l *Ledger) loadAccount(addr crypto.Address) (*types.Account, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	acc, err := l.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &types.Account{}
	}
	acc.Normalize()
	return acc, nil
}
