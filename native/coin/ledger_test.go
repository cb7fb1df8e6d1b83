package coin

import (
	"errors"
	"math/big"
	"testing"

	"deuro/crypto"
)

type mockLedgerState struct {
	balances map[string]*big.Int
	supply   *Supply
	records  map[string]*PositionRecord
}

func newMockLedgerState() *mockLedgerState {
	return &mockLedgerState{
		balances: make(map[string]*big.Int),
		records:  make(map[string]*PositionRecord),
	}
}

func (m *mockLedgerState) GetCoinBalance(holder crypto.Address) (*big.Int, error) {
	if balance, ok := m.balances[holder.Key()]; ok {
		return new(big.Int).Set(balance), nil
	}
	return big.NewInt(0), nil
}

func (m *mockLedgerState) PutCoinBalance(holder crypto.Address, amount *big.Int) error {
	m.balances[holder.Key()] = new(big.Int).Set(amount)
	return nil
}

func (m *mockLedgerState) GetSupply() (*Supply, error) { return m.supply, nil }

func (m *mockLedgerState) PutSupply(supply *Supply) error {
	m.supply = supply
	return nil
}

func (m *mockLedgerState) GetPositionRecord(addr crypto.Address) (*PositionRecord, error) {
	return m.records[addr.Key()], nil
}

func (m *mockLedgerState) PutPositionRecord(record *PositionRecord) error {
	m.records[record.Address.Key()] = record
	return nil
}

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.DEuroPrefix, raw)
}

func newLedger(t *testing.T) (*Ledger, *mockLedgerState) {
	t.Helper()
	state := newMockLedgerState()
	ledger := NewLedger()
	ledger.SetState(state)
	return ledger, state
}

func TestTransferMovesBalances(t *testing.T) {
	ledger, _ := newLedger(t)
	alice := makeAddress(0x01)
	bob := makeAddress(0x02)
	if err := ledger.Mint(alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := ledger.Transfer(alice, bob, big.NewInt(101)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := ledger.Transfer(alice, bob, big.NewInt(0)); err != nil {
		t.Fatalf("zero transfer must be a no-op, got %v", err)
	}
	if err := ledger.Transfer(alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := ledger.BalanceOf(alice); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("unexpected sender balance: %s", got)
	}
	if got := ledger.BalanceOf(bob); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("unexpected recipient balance: %s", got)
	}
	if got := ledger.TotalSupply(); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("transfer must not change supply, got %s", got)
	}
}

func TestBurnRetiresSupply(t *testing.T) {
	ledger, _ := newLedger(t)
	alice := makeAddress(0x01)
	if err := ledger.Mint(alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Burn(alice, big.NewInt(101)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := ledger.Burn(alice, big.NewInt(30)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if got := ledger.TotalSupply(); got.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("unexpected supply: %s", got)
	}
}

func TestMintWithReserveSplitsReserve(t *testing.T) {
	ledger, _ := newLedger(t)
	pos := makeAddress(0x0a)
	owner := makeAddress(0x01)

	// Only registered positions may mint.
	if _, err := ledger.MintWithReserve(pos, owner, big.NewInt(1000), 200_000); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	if err := ledger.RegisterPosition(pos, crypto.Address{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	net, err := ledger.MintWithReserve(pos, owner, big.NewInt(1000), 200_000)
	if err != nil {
		t.Fatalf("mint with reserve: %v", err)
	}
	if net.Cmp(big.NewInt(800)) != 0 {
		t.Fatalf("expected 800 net, got %s", net)
	}
	if got := ledger.BalanceOf(owner); got.Cmp(big.NewInt(800)) != 0 {
		t.Fatalf("unexpected owner balance: %s", got)
	}
	if got := ledger.BalanceOf(ReserveAddress); got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("unexpected reserve balance: %s", got)
	}
	if got := ledger.MinterReserve(); got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("unexpected tracked reserve: %s", got)
	}
	if got := ledger.TotalSupply(); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected supply: %s", got)
	}
}

func TestBurnFromWithReserveReleasesContribution(t *testing.T) {
	ledger, _ := newLedger(t)
	pos := makeAddress(0x0a)
	owner := makeAddress(0x01)
	if err := ledger.RegisterPosition(pos, crypto.Address{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := ledger.MintWithReserve(pos, owner, big.NewInt(1000), 200_000); err != nil {
		t.Fatalf("mint with reserve: %v", err)
	}

	paid, err := ledger.BurnFromWithReserve(pos, owner, big.NewInt(500), 200_000)
	if err != nil {
		t.Fatalf("burn with reserve: %v", err)
	}
	// Retiring 500 principal costs the payer 400; the reserve surrenders
	// the other 100.
	if paid.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected payer share 400, got %s", paid)
	}
	if got := ledger.BalanceOf(owner); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("unexpected owner balance: %s", got)
	}
	if got := ledger.BalanceOf(ReserveAddress); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected reserve balance: %s", got)
	}
	if got := ledger.MinterReserve(); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected tracked reserve: %s", got)
	}
	if got := ledger.TotalSupply(); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected supply: %s", got)
	}
}

func TestBurnFromWithReserveTopsUpDrainedReserve(t *testing.T) {
	ledger, state := newLedger(t)
	pos := makeAddress(0x0a)
	owner := makeAddress(0x01)
	if err := ledger.RegisterPosition(pos, crypto.Address{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := ledger.MintWithReserve(pos, owner, big.NewInt(1000), 200_000); err != nil {
		t.Fatalf("mint with reserve: %v", err)
	}
	// Simulate the reserve having been raided covering losses elsewhere.
	if err := state.PutCoinBalance(ReserveAddress, big.NewInt(50)); err != nil {
		t.Fatalf("drain reserve: %v", err)
	}
	if err := ledger.Mint(owner, big.NewInt(200)); err != nil {
		t.Fatalf("fund owner: %v", err)
	}

	paid, err := ledger.BurnFromWithReserve(pos, owner, big.NewInt(1000), 200_000)
	if err != nil {
		t.Fatalf("burn with reserve: %v", err)
	}
	// The ordinary split is 800 payer / 200 reserve; with only 50 in the
	// reserve the payer covers the missing 150.
	if paid.Cmp(big.NewInt(950)) != 0 {
		t.Fatalf("expected payer share 950, got %s", paid)
	}
	if got := ledger.BalanceOf(ReserveAddress); got.Sign() != 0 {
		t.Fatalf("expected reserve emptied, got %s", got)
	}
	if got := ledger.TotalSupply(); got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("unexpected supply: %s", got)
	}
}

func TestCoverLossDrawsEquityThenMints(t *testing.T) {
	ledger, _ := newLedger(t)
	hub := makeAddress(0x0b)
	funder := makeAddress(0x02)
	if err := ledger.Mint(funder, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.CollectProfits(funder, big.NewInt(100)); err != nil {
		t.Fatalf("collect profits: %v", err)
	}
	if got := ledger.Equity(); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected equity: %s", got)
	}

	if err := ledger.CoverLoss(hub, big.NewInt(250)); err != nil {
		t.Fatalf("cover loss: %v", err)
	}
	if got := ledger.BalanceOf(hub); got.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("unexpected recipient balance: %s", got)
	}
	if got := ledger.Equity(); got.Sign() != 0 {
		t.Fatalf("expected equity drained, got %s", got)
	}
	// 150 of the loss was socialized by minting.
	if got := ledger.TotalSupply(); got.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("unexpected supply: %s", got)
	}
}

func TestDistributeProfitsNeverMints(t *testing.T) {
	ledger, _ := newLedger(t)
	recipient := makeAddress(0x03)
	funder := makeAddress(0x02)
	if err := ledger.Mint(funder, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.CollectProfits(funder, big.NewInt(100)); err != nil {
		t.Fatalf("collect profits: %v", err)
	}
	if err := ledger.DistributeProfits(recipient, big.NewInt(150)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := ledger.DistributeProfits(recipient, big.NewInt(60)); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if got := ledger.Equity(); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("unexpected equity: %s", got)
	}
}

func TestRegisterPositionResolvesCloneParent(t *testing.T) {
	ledger, _ := newLedger(t)
	original := makeAddress(0x0a)
	clone := makeAddress(0x0b)
	grandchild := makeAddress(0x0c)
	stranger := makeAddress(0x0d)

	if err := ledger.RegisterPosition(clone, stranger); !errors.Is(err, errUnknownParent) {
		t.Fatalf("expected unknown parent error, got %v", err)
	}
	if err := ledger.RegisterPosition(original, crypto.Address{}); err != nil {
		t.Fatalf("register original: %v", err)
	}
	if err := ledger.RegisterPosition(original, crypto.Address{}); !errors.Is(err, errAlreadyRegistered) {
		t.Fatalf("expected already registered error, got %v", err)
	}
	if err := ledger.RegisterPosition(clone, original); err != nil {
		t.Fatalf("register clone: %v", err)
	}
	// A clone of a clone still resolves to the original.
	if err := ledger.RegisterPosition(grandchild, clone); err != nil {
		t.Fatalf("register grandchild: %v", err)
	}
	parent, err := ledger.PositionParent(grandchild)
	if err != nil {
		t.Fatalf("position parent: %v", err)
	}
	if !parent.Equal(original) {
		t.Fatalf("expected original as parent, got %s", parent)
	}
	if !ledger.IsRegistered(clone) || ledger.IsRegistered(stranger) {
		t.Fatalf("registration lookups inconsistent")
	}
}
