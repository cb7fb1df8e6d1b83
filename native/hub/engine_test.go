package hub

import (
	"errors"
	"math/big"
	"testing"

	"deuro/core/types"
	"deuro/crypto"
	"deuro/native/coin"
	"deuro/native/position"
	"deuro/native/token"
)

// mockState backs every engine and ledger in the fixture with plain maps.
type mockState struct {
	positions    map[string]*position.Position
	challenges   map[uint64]*Challenge
	pending      map[string]*big.Int
	meta         *Meta
	tokens       map[string]*token.Token
	wrappedToken *token.Token
	balances     map[string]map[string]*big.Int
	accounts     map[string]*types.Account
	coinBalances map[string]*big.Int
	supply       *coin.Supply
	records      map[string]*coin.PositionRecord
}

func newMockState() *mockState {
	return &mockState{
		positions:    make(map[string]*position.Position),
		challenges:   make(map[uint64]*Challenge),
		pending:      make(map[string]*big.Int),
		tokens:       make(map[string]*token.Token),
		balances:     make(map[string]map[string]*big.Int),
		accounts:     make(map[string]*types.Account),
		coinBalances: make(map[string]*big.Int),
		records:      make(map[string]*coin.PositionRecord),
	}
}

func (m *mockState) GetPosition(addr crypto.Address) (*position.Position, error) {
	return m.positions[addr.Key()], nil
}

func (m *mockState) PutPosition(pos *position.Position) error {
	m.positions[pos.Address.Key()] = pos
	return nil
}

func (m *mockState) GetChallenge(id uint64) (*Challenge, error) {
	return m.challenges[id], nil
}

func (m *mockState) PutChallenge(id uint64, ch *Challenge) error {
	m.challenges[id] = ch
	return nil
}

func (m *mockState) pendingKey(tok, beneficiary crypto.Address) string {
	return tok.Key() + "/" + beneficiary.Key()
}

func (m *mockState) GetPendingReturn(tok, beneficiary crypto.Address) (*big.Int, error) {
	if pending, ok := m.pending[m.pendingKey(tok, beneficiary)]; ok {
		return new(big.Int).Set(pending), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) PutPendingReturn(tok, beneficiary crypto.Address, amount *big.Int) error {
	m.pending[m.pendingKey(tok, beneficiary)] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) GetHubMeta() (*Meta, error) { return m.meta, nil }

func (m *mockState) PutHubMeta(meta *Meta) error {
	m.meta = meta
	return nil
}

func (m *mockState) GetToken(addr crypto.Address) (*token.Token, error) {
	return m.tokens[addr.Key()], nil
}

func (m *mockState) PutToken(tok *token.Token) error {
	m.tokens[tok.Address.Key()] = tok
	if tok.WrappedNative {
		m.wrappedToken = tok
	}
	return nil
}

func (m *mockState) WrappedNativeToken() (*token.Token, error) {
	return m.wrappedToken, nil
}

func (m *mockState) GetTokenBalance(tok, holder crypto.Address) (*big.Int, error) {
	if holders, ok := m.balances[tok.Key()]; ok {
		if balance, ok := holders[holder.Key()]; ok {
			return new(big.Int).Set(balance), nil
		}
	}
	return big.NewInt(0), nil
}

func (m *mockState) PutTokenBalance(tok, holder crypto.Address, amount *big.Int) error {
	if m.balances[tok.Key()] == nil {
		m.balances[tok.Key()] = make(map[string]*big.Int)
	}
	m.balances[tok.Key()][holder.Key()] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) GetAccount(addr crypto.Address) (*types.Account, error) {
	return m.accounts[addr.Key()], nil
}

func (m *mockState) PutAccount(addr crypto.Address, account *types.Account) error {
	m.accounts[addr.Key()] = account
	return nil
}

func (m *mockState) GetCoinBalance(holder crypto.Address) (*big.Int, error) {
	if balance, ok := m.coinBalances[holder.Key()]; ok {
		return new(big.Int).Set(balance), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) PutCoinBalance(holder crypto.Address, amount *big.Int) error {
	m.coinBalances[holder.Key()] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) GetSupply() (*coin.Supply, error) { return m.supply, nil }

func (m *mockState) PutSupply(supply *coin.Supply) error {
	m.supply = supply
	return nil
}

func (m *mockState) GetPositionRecord(addr crypto.Address) (*coin.PositionRecord, error) {
	return m.records[addr.Key()], nil
}

func (m *mockState) PutPositionRecord(record *coin.PositionRecord) error {
	m.records[record.Address.Key()] = record
	return nil
}

type fixedRate uint32

func (r fixedRate) CurrentRatePPM(uint64) uint32 { return uint32(r) }

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.DEuroPrefix, raw)
}

func dec(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), unit)
}

const day = uint64(24 * 60 * 60)

type hubFixture struct {
	state     *mockState
	tokens    *token.Ledger
	coin      *coin.Ledger
	positions *position.Engine
	hub       *Engine
	roller    *Roller

	collateral crypto.Address
	owner      crypto.Address
	challenger crypto.Address
	bidder     crypto.Address
	now        uint64
}

func (f *hubFixture) setTime(t uint64) {
	f.now = t
	f.positions.SetTimestamp(t)
	f.hub.SetTimestamp(t)
}

// newHubFixture wires real ledgers and engines over the mock state: an
// 18-decimal collateral token worth 1000 dEURO per unit at the liquidation
// price used by openDefaultPosition, zero lead rate so interest stays out of
// the auction arithmetic, and funded owner, challenger and bidder accounts.
func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	f := &hubFixture{
		state:      newMockState(),
		collateral: makeAddress(0x01),
		owner:      makeAddress(0x02),
		challenger: makeAddress(0x03),
		bidder:     makeAddress(0x04),
	}

	f.tokens = token.NewLedger()
	f.tokens.SetState(f.state)
	f.coin = coin.NewLedger()
	f.coin.SetState(f.state)

	f.positions = position.NewEngine()
	f.positions.SetState(f.state)
	f.positions.SetLedgers(f.tokens, f.coin)
	f.positions.SetRateSource(fixedRate(0))

	f.hub = NewEngine(crypto.ModuleAddress("hub"))
	f.hub.SetState(f.state)
	f.hub.SetCollaborators(f.positions, f.coin, f.tokens)
	f.roller = NewRoller(f.hub)

	if err := f.tokens.Register(&token.Token{Address: f.collateral, Symbol: "COL", Decimals: 18}); err != nil {
		t.Fatalf("register collateral: %v", err)
	}
	for _, holder := range []crypto.Address{f.owner, f.challenger, f.bidder} {
		if err := f.tokens.Mint(f.collateral, holder, dec(100)); err != nil {
			t.Fatalf("fund collateral: %v", err)
		}
		if err := f.coin.Mint(holder, dec(50_000)); err != nil {
			t.Fatalf("fund coin: %v", err)
		}
	}
	f.setTime(1000)
	return f
}

func defaultParams(f *hubFixture) OpenPositionParams {
	return OpenPositionParams{
		Owner:             f.owner,
		CollateralToken:   f.collateral,
		MinimumCollateral: dec(6),
		InitialCollateral: dec(10),
		MintingLimit:      dec(100_000),
		InitPeriod:        BootstrapInitPeriod,
		Duration:          365 * day,
		ChallengePeriod:   day,
		RiskPremiumPPM:    0,
		ReservePPM:        200_000,
		LiqPrice:          dec(1000),
	}
}

// openDefaultPosition opens the fixture position, advances past the init
// period and mints 5000 dEURO against it.
func openDefaultPosition(t *testing.T, f *hubFixture) crypto.Address {
	t.Helper()
	posAddr, err := f.hub.OpenPosition(defaultParams(f))
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	pos, err := f.positions.Get(posAddr)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	f.setTime(pos.Start)
	if err := f.positions.Mint(f.owner, posAddr, f.owner, dec(5000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	return posAddr
}

func TestOpenPositionValidation(t *testing.T) {
	f := newHubFixture(t)

	params := defaultParams(f)
	params.RiskPremiumPPM = 1_000_001
	if _, err := f.hub.OpenPosition(params); !errors.Is(err, ErrInvalidRiskPremium) {
		t.Fatalf("expected ErrInvalidRiskPremium, got %v", err)
	}

	params = defaultParams(f)
	params.ReservePPM = 1_000_001
	if _, err := f.hub.OpenPosition(params); !errors.Is(err, ErrInvalidReservePPM) {
		t.Fatalf("expected ErrInvalidReservePPM, got %v", err)
	}

	params = defaultParams(f)
	params.ChallengePeriod = day - 1
	if _, err := f.hub.OpenPosition(params); !errors.Is(err, ErrChallengeTimeTooShort) {
		t.Fatalf("expected ErrChallengeTimeTooShort, got %v", err)
	}

	params = defaultParams(f)
	params.InitPeriod = BootstrapInitPeriod - 1
	if _, err := f.hub.OpenPosition(params); !errors.Is(err, ErrInitPeriodTooShort) {
		t.Fatalf("expected ErrInitPeriodTooShort, got %v", err)
	}

	// 4 units at 1000 is 4000 dEURO, below the 5000 floor.
	params = defaultParams(f)
	params.MinimumCollateral = dec(4)
	if _, err := f.hub.OpenPosition(params); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
}

func TestOpenPositionChargesFeeAndRegisters(t *testing.T) {
	f := newHubFixture(t)

	before := f.coin.BalanceOf(f.owner)
	posAddr, err := f.hub.OpenPosition(defaultParams(f))
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	paid := new(big.Int).Sub(before, f.coin.BalanceOf(f.owner))
	if paid.Cmp(OpeningFee) != 0 {
		t.Fatalf("expected opening fee %s, got %s", OpeningFee, paid)
	}
	if f.coin.Equity().Cmp(OpeningFee) != 0 {
		t.Fatalf("expected fee in equity, got %s", f.coin.Equity())
	}
	if !f.coin.IsRegistered(posAddr) {
		t.Fatalf("position not registered as minter")
	}
	if got := f.tokens.BalanceOf(f.collateral, posAddr); got.Cmp(dec(10)) != 0 {
		t.Fatalf("unexpected position collateral: %s", got)
	}
	pos, err := f.positions.Get(posAddr)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.Start != f.now+BootstrapInitPeriod {
		t.Fatalf("unexpected start: %d", pos.Start)
	}
	if pos.Cooldown != pos.Start {
		t.Fatalf("init period must gate minting, cooldown=%d", pos.Cooldown)
	}
	meta, err := f.state.GetHubMeta()
	if err != nil || meta == nil || meta.PositionCount != 1 {
		t.Fatalf("unexpected meta: %+v err=%v", meta, err)
	}

	// The second position requires the full init period.
	params := defaultParams(f)
	params.InitPeriod = MinInitPeriod - 1
	if _, err := f.hub.OpenPosition(params); !errors.Is(err, ErrInitPeriodTooShort) {
		t.Fatalf("expected ErrInitPeriodTooShort for second position, got %v", err)
	}
}

func TestOpenPositionRejectsSilentFailToken(t *testing.T) {
	f := newHubFixture(t)
	silent := makeAddress(0x20)
	if err := f.tokens.Register(&token.Token{Address: silent, Symbol: "BAD", Decimals: 18, SilentFail: true}); err != nil {
		t.Fatalf("register token: %v", err)
	}
	params := defaultParams(f)
	params.CollateralToken = silent
	if _, err := f.hub.OpenPosition(params); !errors.Is(err, ErrIncompatibleCollateral) {
		t.Fatalf("expected ErrIncompatibleCollateral, got %v", err)
	}
}

func TestChallengeFrontRunGuard(t *testing.T) {
	f := newHubFixture(t)
	posAddr := openDefaultPosition(t, f)

	tooHigh := new(big.Int).Add(dec(1000), big.NewInt(1))
	if _, err := f.hub.Challenge(f.challenger, posAddr, dec(4), tooHigh); !errors.Is(err, ErrUnexpectedPrice) {
		t.Fatalf("expected ErrUnexpectedPrice, got %v", err)
	}
	if _, err := f.hub.Challenge(f.challenger, posAddr, dec(4), dec(1000)); err != nil {
		t.Fatalf("challenge: %v", err)
	}
}

func TestChallengePostsCollateralAndAvert(t *testing.T) {
	f := newHubFixture(t)
	posAddr := openDefaultPosition(t, f)

	number, err := f.hub.Challenge(f.challenger, posAddr, dec(4), nil)
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	if got := f.tokens.BalanceOf(f.collateral, f.hub.Address()); got.Cmp(dec(4)) != 0 {
		t.Fatalf("expected posted collateral in hub custody, got %s", got)
	}
	pos, _ := f.positions.Get(posAddr)
	if pos.ChallengedAmount.Cmp(dec(4)) != 0 {
		t.Fatalf("unexpected challenged amount: %s", pos.ChallengedAmount)
	}

	// Bidding in the same step the challenge started is rejected.
	if err := f.hub.Bid(f.bidder, number, dec(4), false, false); !errors.Is(err, errBidSameTime) {
		t.Fatalf("expected same-step error, got %v", err)
	}

	// Phase one: the bidder buys the challenger out at the captured price.
	f.setTime(f.now + 1)
	challengerCoin := f.coin.BalanceOf(f.challenger)
	if err := f.hub.Bid(f.bidder, number, dec(4), false, false); err != nil {
		t.Fatalf("bid: %v", err)
	}
	paid := new(big.Int).Sub(f.coin.BalanceOf(f.challenger), challengerCoin)
	if paid.Cmp(dec(4000)) != 0 {
		t.Fatalf("expected challenger paid 4000, got %s", paid)
	}
	if got := f.tokens.BalanceOf(f.collateral, f.bidder); got.Cmp(dec(104)) != 0 {
		t.Fatalf("expected bidder to receive the posted collateral, got %s", got)
	}
	pos, _ = f.positions.Get(posAddr)
	if pos.ChallengedAmount.Sign() != 0 {
		t.Fatalf("expected claim released, got %s", pos.ChallengedAmount)
	}
	ch, _ := f.hub.ChallengeByID(number)
	if !ch.IsConsumed() {
		t.Fatalf("expected challenge consumed")
	}
}

func TestChallengeValidatesClaimBeforeTakingCollateral(t *testing.T) {
	f := newHubFixture(t)
	posAddr := openDefaultPosition(t, f)

	// A claim larger than the position's free collateral must fail before
	// the challenger's collateral moves into custody.
	before := f.tokens.BalanceOf(f.collateral, f.challenger)
	if _, err := f.hub.Challenge(f.challenger, posAddr, dec(50), nil); !errors.Is(err, position.ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}
	if got := f.tokens.BalanceOf(f.collateral, f.challenger); got.Cmp(before) != 0 {
		t.Fatalf("failed challenge moved collateral: before=%s after=%s", before, got)
	}
	if got := f.tokens.BalanceOf(f.collateral, f.hub.Address()); got.Sign() != 0 {
		t.Fatalf("hub custody must stay empty, got %s", got)
	}

	// Same for a closed position.
	if _, err := f.positions.Repay(f.owner, posAddr, dec(5000)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if err := f.positions.WithdrawCollateral(f.owner, posAddr, f.owner, dec(10), false); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := f.hub.Challenge(f.challenger, posAddr, dec(4), nil); !errors.Is(err, position.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if got := f.tokens.BalanceOf(f.collateral, f.challenger); got.Cmp(before) != 0 {
		t.Fatalf("failed challenge moved collateral: before=%s after=%s", before, got)
	}
}

func TestBidParksCollateralWhenBidderCannotReceive(t *testing.T) {
	f := newHubFixture(t)
	posAddr := openDefaultPosition(t, f)

	number, err := f.hub.Challenge(f.challenger, posAddr, dec(4), nil)
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	f.setTime(f.now + 1)

	// Asking for a native payout on a plain token fails before any funds
	// move.
	bidderCoin := f.coin.BalanceOf(f.bidder)
	if err := f.hub.Bid(f.bidder, number, dec(4), false, true); !errors.Is(err, ErrNativeOnlyForWrappedToken) {
		t.Fatalf("expected ErrNativeOnlyForWrappedToken, got %v", err)
	}
	if f.coin.BalanceOf(f.bidder).Cmp(bidderCoin) != 0 {
		t.Fatalf("rejected bid moved bidder funds")
	}

	// A frozen bidder can still avert: the cash legs settle and the
	// collateral parks in the pending-return ledger instead of wedging the
	// challenge.
	if err := f.tokens.Freeze(f.collateral, f.bidder, true); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	challengerCoin := f.coin.BalanceOf(f.challenger)
	if err := f.hub.Bid(f.bidder, number, dec(4), false, false); err != nil {
		t.Fatalf("bid: %v", err)
	}
	paid := new(big.Int).Sub(f.coin.BalanceOf(f.challenger), challengerCoin)
	if paid.Cmp(dec(4000)) != 0 {
		t.Fatalf("expected challenger paid 4000, got %s", paid)
	}
	if got := f.tokens.BalanceOf(f.collateral, f.bidder); got.Cmp(dec(100)) != 0 {
		t.Fatalf("frozen bidder must not receive collateral, got %s", got)
	}
	pending, err := f.hub.PendingReturn(f.collateral, f.bidder)
	if err != nil || pending.Cmp(dec(4)) != 0 {
		t.Fatalf("expected pending return of 4, got %s err=%v", pending, err)
	}
	pos, _ := f.positions.Get(posAddr)
	if pos.ChallengedAmount.Sign() != 0 {
		t.Fatalf("expected claim released, got %s", pos.ChallengedAmount)
	}
	ch, _ := f.hub.ChallengeByID(number)
	if !ch.IsConsumed() {
		t.Fatalf("expected challenge consumed")
	}

	// Once unfrozen the bidder drains the pending balance.
	if err := f.tokens.Freeze(f.collateral, f.bidder, false); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if err := f.hub.ReturnPostponedCollateral(f.collateral, f.bidder, false); err != nil {
		t.Fatalf("return postponed: %v", err)
	}
	if got := f.tokens.BalanceOf(f.collateral, f.bidder); got.Cmp(dec(104)) != 0 {
		t.Fatalf("unexpected bidder collateral after drain: %s", got)
	}
}

func TestAvertByChallengerIsFree(t *testing.T) {
	f := newHubFixture(t)
	posAddr := openDefaultPosition(t, f)

	number, err := f.hub.Challenge(f.challenger, posAddr, dec(4), nil)
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	f.setTime(f.now + 1)
	before := f.coin.BalanceOf(f.challenger)
	if err := f.hub.Bid(f.challenger, number, dec(4), false, false); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if f.coin.BalanceOf(f.challenger).Cmp(before) != 0 {
		t.Fatalf("challenger averting their own challenge must not pay")
	}
}

func TestBidPhaseTwoLiquidates(t *testing.T) {
	f := newHubFixture(t)
	posAddr := openDefaultPosition(t, f)
	start := f.now

	number, err := f.hub.Challenge(f.challenger, posAddr, dec(4), nil)
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}

	// Halfway through phase two the auction price is half the captured
	// price: 500 per unit.
	f.setTime(start + day + day/2)
	bidderCoin := f.coin.BalanceOf(f.bidder)
	challengerCoin := f.coin.BalanceOf(f.challenger)
	ownerCoin := f.coin.BalanceOf(f.owner)
	equity := f.coin.Equity()

	if err := f.hub.Bid(f.bidder, number, dec(4), false, false); err != nil {
		t.Fatalf("bid: %v", err)
	}

	// Offer 4 x 500 = 2000; 2% reward = 40.
	paid := new(big.Int).Sub(bidderCoin, f.coin.BalanceOf(f.bidder))
	if paid.Cmp(dec(2000)) != 0 {
		t.Fatalf("expected bidder to pay 2000, got %s", paid)
	}
	reward := new(big.Int).Sub(f.coin.BalanceOf(f.challenger), challengerCoin)
	if reward.Cmp(dec(40)) != 0 {
		t.Fatalf("expected 40 challenger reward, got %s", reward)
	}

	// Pro-rata repayment: 4 of 10 collateral retires 2000 of the 5000
	// principal, costing 1600 net under the 20% reserve. The 360 surplus
	// splits 72 to equity, 288 to the owner.
	pos, _ := f.positions.Get(posAddr)
	if pos.Principal.Cmp(dec(3000)) != 0 {
		t.Fatalf("unexpected principal: %s", pos.Principal)
	}
	ownerGain := new(big.Int).Sub(f.coin.BalanceOf(f.owner), ownerCoin)
	if ownerGain.Cmp(dec(288)) != 0 {
		t.Fatalf("expected 288 owner payout, got %s", ownerGain)
	}
	equityGain := new(big.Int).Sub(f.coin.Equity(), equity)
	if equityGain.Cmp(dec(72)) != 0 {
		t.Fatalf("expected 72 equity share, got %s", equityGain)
	}

	// The bidder takes the seized collateral, the challenger recovers the
	// posted collateral.
	if got := f.tokens.BalanceOf(f.collateral, f.bidder); got.Cmp(dec(104)) != 0 {
		t.Fatalf("unexpected bidder collateral: %s", got)
	}
	if got := f.tokens.BalanceOf(f.collateral, f.challenger); got.Cmp(dec(100)) != 0 {
		t.Fatalf("unexpected challenger collateral: %s", got)
	}
	if got := f.tokens.BalanceOf(f.collateral, posAddr); got.Cmp(dec(6)) != 0 {
		t.Fatalf("unexpected position collateral: %s", got)
	}
	if f.tokens.BalanceOf(f.collateral, f.hub.Address()).Sign() != 0 {
		t.Fatalf("hub must not retain collateral after settlement")
	}
}

func TestBidAfterAuctionEndsIsFree(t *testing.T) {
	f := newHubFixture(t)
	posAddr := openDefaultPosition(t, f)
	start := f.now

	number, err := f.hub.Challenge(f.challenger, posAddr, dec(4), nil)
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	// Past both windows the auction price is zero; the shortfall lands on
	// equity (seeded by the opening fee, then socialized).
	f.setTime(start + 3*day)
	bidderCoin := f.coin.BalanceOf(f.bidder)
	if err := f.hub.Bid(f.bidder, number, dec(4), false, false); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if f.coin.BalanceOf(f.bidder).Cmp(bidderCoin) != 0 {
		t.Fatalf("zero-price bid must cost nothing")
	}
	pos, _ := f.positions.Get(posAddr)
	if pos.Principal.Cmp(dec(3000)) != 0 {
		t.Fatalf("unexpected principal: %s", pos.Principal)
	}
}

func TestBidPostponeParksChallengerCollateral(t *testing.T) {
	f := newHubFixture(t)
	posAddr := openDefaultPosition(t, f)
	start := f.now

	number, err := f.hub.Challenge(f.challenger, posAddr, dec(4), nil)
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	f.setTime(start + day + day/2)
	if err := f.hub.Bid(f.bidder, number, dec(4), true, false); err != nil {
		t.Fatalf("bid: %v", err)
	}
	pending, err := f.hub.PendingReturn(f.collateral, f.challenger)
	if err != nil {
		t.Fatalf("pending return: %v", err)
	}
	if pending.Cmp(dec(4)) != 0 {
		t.Fatalf("expected 4 pending, got %s", pending)
	}
	if got := f.tokens.BalanceOf(f.collateral, f.challenger); got.Cmp(dec(96)) != 0 {
		t.Fatalf("challenger must not receive collateral yet, got %s", got)
	}

	if err := f.hub.ReturnPostponedCollateral(f.collateral, f.challenger, false); err != nil {
		t.Fatalf("return postponed: %v", err)
	}
	if got := f.tokens.BalanceOf(f.collateral, f.challenger); got.Cmp(dec(100)) != 0 {
		t.Fatalf("unexpected challenger collateral after return: %s", got)
	}
	pending, _ = f.hub.PendingReturn(f.collateral, f.challenger)
	if pending.Sign() != 0 {
		t.Fatalf("expected pending cleared, got %s", pending)
	}
}

func TestPartialBidShrinksChallenge(t *testing.T) {
	f := newHubFixture(t)
	posAddr := openDefaultPosition(t, f)

	number, err := f.hub.Challenge(f.challenger, posAddr, dec(4), nil)
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	f.setTime(f.now + 1)
	if err := f.hub.Bid(f.bidder, number, dec(1), false, false); err != nil {
		t.Fatalf("bid: %v", err)
	}
	ch, _ := f.hub.ChallengeByID(number)
	if ch.Size.Cmp(dec(3)) != 0 {
		t.Fatalf("expected challenge shrunk to 3, got %s", ch.Size)
	}
	pos, _ := f.positions.Get(posAddr)
	if pos.ChallengedAmount.Cmp(dec(3)) != 0 {
		t.Fatalf("unexpected challenged amount: %s", pos.ChallengedAmount)
	}

	// Oversized bids clamp to the open remainder.
	if err := f.hub.Bid(f.bidder, number, dec(50), false, false); err != nil {
		t.Fatalf("bid: %v", err)
	}
	ch, _ = f.hub.ChallengeByID(number)
	if !ch.IsConsumed() {
		t.Fatalf("expected challenge fully consumed")
	}
}

func TestExpiredPurchasePriceCurve(t *testing.T) {
	f := newHubFixture(t)
	posAddr := openDefaultPosition(t, f)
	pos, _ := f.positions.Get(posAddr)

	price, err := f.hub.ExpiredPurchasePrice(posAddr)
	if err != nil {
		t.Fatalf("expired price: %v", err)
	}
	if price.Cmp(dec(10_000)) != 0 {
		t.Fatalf("pre-expiration price must be 10x, got %s", price)
	}

	f.setTime(pos.Expiration)
	price, _ = f.hub.ExpiredPurchasePrice(posAddr)
	if price.Cmp(dec(10_000)) != 0 {
		t.Fatalf("at expiration price must be 10x, got %s", price)
	}

	f.setTime(pos.Expiration + day)
	price, _ = f.hub.ExpiredPurchasePrice(posAddr)
	if price.Cmp(dec(1000)) != 0 {
		t.Fatalf("after one period price must be par, got %s", price)
	}

	f.setTime(pos.Expiration + day + day/2)
	price, _ = f.hub.ExpiredPurchasePrice(posAddr)
	if price.Cmp(dec(500)) != 0 {
		t.Fatalf("halfway down price must be 500, got %s", price)
	}

	f.setTime(pos.Expiration + 2*day)
	price, _ = f.hub.ExpiredPurchasePrice(posAddr)
	if price.Sign() != 0 {
		t.Fatalf("after both windows price must be zero, got %s", price)
	}
}

func TestBuyExpiredCollateralDustRule(t *testing.T) {
	f := newHubFixture(t)
	posAddr := openDefaultPosition(t, f)
	pos, _ := f.positions.Get(posAddr)
	f.setTime(pos.Expiration + day)

	// Leaving half a unit at par price leaves 500 behind, under the
	// opening-fee floor.
	half := new(big.Int).Quo(unit, big.NewInt(2))
	upTo := new(big.Int).Sub(dec(10), half)
	if _, err := f.hub.BuyExpiredCollateral(f.bidder, posAddr, upTo, false); !errors.Is(err, ErrLeaveNoDust) {
		t.Fatalf("expected ErrLeaveNoDust, got %v", err)
	}
	// Leaving two units (2000 of value) is fine.
	if _, err := f.hub.BuyExpiredCollateral(f.bidder, posAddr, dec(8), false); err != nil {
		t.Fatalf("buy expired: %v", err)
	}
	if got := f.tokens.BalanceOf(f.collateral, f.bidder); got.Cmp(dec(108)) != 0 {
		t.Fatalf("unexpected bidder collateral: %s", got)
	}
}

func TestBuyExpiredCollateralFullClearsAndPaysOwner(t *testing.T) {
	f := newHubFixture(t)
	posAddr := openDefaultPosition(t, f)
	pos, _ := f.positions.Get(posAddr)
	f.setTime(pos.Expiration + day)

	ownerCoin := f.coin.BalanceOf(f.owner)
	cost, err := f.hub.BuyExpiredCollateral(f.bidder, posAddr, dec(10), false)
	if err != nil {
		t.Fatalf("buy expired: %v", err)
	}
	// 10 units at par.
	if cost.Cmp(dec(10_000)) != 0 {
		t.Fatalf("unexpected cost: %s", cost)
	}
	// Clearing 5000 principal costs 4000 net; the 6000 surplus goes to
	// the owner.
	gain := new(big.Int).Sub(f.coin.BalanceOf(f.owner), ownerCoin)
	if gain.Cmp(dec(6000)) != 0 {
		t.Fatalf("unexpected owner surplus: %s", gain)
	}
	pos, _ = f.positions.Get(posAddr)
	if !pos.Closed || pos.Principal.Sign() != 0 {
		t.Fatalf("expected drained position closed, principal=%s", pos.Principal)
	}
	if got := f.tokens.BalanceOf(f.collateral, f.bidder); got.Cmp(dec(110)) != 0 {
		t.Fatalf("unexpected bidder collateral: %s", got)
	}
}

func TestBuyExpiredCollateralBlockedDuringChallenge(t *testing.T) {
	f := newHubFixture(t)
	posAddr := openDefaultPosition(t, f)
	if _, err := f.hub.Challenge(f.challenger, posAddr, dec(2), nil); err != nil {
		t.Fatalf("challenge: %v", err)
	}
	pos, _ := f.positions.Get(posAddr)
	f.setTime(pos.Expiration + day)
	if _, err := f.hub.BuyExpiredCollateral(f.bidder, posAddr, dec(10), false); !errors.Is(err, position.ErrChallenged) {
		t.Fatalf("expected ErrChallenged, got %v", err)
	}
}

func TestCloneInheritsAndTransfersOwnershipLast(t *testing.T) {
	f := newHubFixture(t)
	parentAddr := openDefaultPosition(t, f)
	parent, _ := f.positions.Get(parentAddr)
	cloneOwner := makeAddress(0x05)
	if err := f.tokens.Mint(f.collateral, f.bidder, dec(10)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	// Expiration beyond the parent's is rejected.
	if _, err := f.hub.Clone(f.bidder, cloneOwner, parentAddr, dec(10), dec(5000), parent.Expiration+1, nil, false, nil); !errors.Is(err, errInvalidExpiration) {
		t.Fatalf("expected expiration error, got %v", err)
	}

	cloneAddr, err := f.hub.Clone(f.bidder, cloneOwner, parentAddr, dec(10), dec(5000), parent.Expiration, nil, false, nil)
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	clone, err := f.positions.Get(cloneAddr)
	if err != nil {
		t.Fatalf("get clone: %v", err)
	}
	if !clone.Owner.Equal(cloneOwner) {
		t.Fatalf("unexpected clone owner: %s", clone.Owner)
	}
	if !clone.Original.Equal(parentAddr) {
		t.Fatalf("clone must point at the original, got %s", clone.Original)
	}
	if clone.Price.Cmp(parent.Price) != 0 || clone.ReservePPM != parent.ReservePPM {
		t.Fatalf("clone must inherit parent terms")
	}
	if clone.Principal.Cmp(dec(5000)) != 0 {
		t.Fatalf("unexpected clone principal: %s", clone.Principal)
	}
	// Clones mint immediately, no init period.
	if clone.Cooldown != f.now {
		t.Fatalf("unexpected clone cooldown: %d", clone.Cooldown)
	}
	original, err := f.coin.PositionParent(cloneAddr)
	if err != nil {
		t.Fatalf("position parent: %v", err)
	}
	if !original.Equal(parentAddr) {
		t.Fatalf("registry must resolve the clone to its original")
	}
}

func TestRollFullyMovesDebtAndCollateral(t *testing.T) {
	f := newHubFixture(t)
	sourceAddr := openDefaultPosition(t, f)
	source, _ := f.positions.Get(sourceAddr)

	targetAddr, err := f.hub.Clone(f.owner, f.owner, sourceAddr, dec(10), nil, source.Expiration, nil, false, nil)
	if err != nil {
		t.Fatalf("clone target: %v", err)
	}
	ownerCoin := f.coin.BalanceOf(f.owner)

	if err := f.roller.RollFully(f.owner, sourceAddr, targetAddr); err != nil {
		t.Fatalf("roll: %v", err)
	}

	source, _ = f.positions.Get(sourceAddr)
	if !source.Closed || source.Principal.Sign() != 0 {
		t.Fatalf("expected source closed and cleared, principal=%s", source.Principal)
	}
	// Repaying the 5000 source debt costs 4000 net under the 20% reserve;
	// the default roll mint is the gross amount whose net proceeds cover
	// the flash credit: 6250.
	target, _ := f.positions.Get(targetAddr)
	if target.Principal.Cmp(dec(6250)) != 0 {
		t.Fatalf("unexpected target principal: %s", target.Principal)
	}
	if got := f.tokens.BalanceOf(f.collateral, targetAddr); got.Cmp(dec(20)) != 0 {
		t.Fatalf("unexpected target collateral: %s", got)
	}
	// The released source reserve lands with the owner.
	gain := new(big.Int).Sub(f.coin.BalanceOf(f.owner), ownerCoin)
	if gain.Cmp(dec(1000)) != 0 {
		t.Fatalf("unexpected owner coin delta: %s", gain)
	}
}
