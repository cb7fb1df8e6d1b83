package core

import (
	"math/big"
	"sync"
	"time"

	"deuro/core/state"
	"deuro/core/types"
	"deuro/crypto"
	"deuro/native/coin"
	"deuro/native/hub"
	"deuro/native/position"
	"deuro/native/rate"
	"deuro/native/token"
	"deuro/observability/metrics"
	"deuro/storage"
)

// HubAddress is the minting hub's module account; collateral posted with
// challenges sits here between start and settlement.
var HubAddress = crypto.ModuleAddress("hub")

// Node is the central controller. It owns the state manager and the native
// engines, serializes every state transition behind one mutex and stamps
// each transition with the injected clock, so a given sequence of calls is
// fully deterministic.
type Node struct {
	db     storage.Database
	state  *state.Manager
	clock  func() uint64
	mu     sync.Mutex
	events []types.Event
	paused map[string]bool

	tokens    *token.Ledger
	coin      *coin.Ledger
	positions *position.Engine
	hub       *hub.Engine
	roller    *hub.Roller
}

func NewNode(db storage.Database) *Node {
	n := &Node{
		db:     db,
		state:  state.NewManager(db),
		clock:  func() uint64 { return uint64(time.Now().Unix()) },
		paused: make(map[string]bool),
	}
	n.tokens = token.NewLedger()
	n.tokens.SetState(n.state)
	n.tokens.SetPauses(n)

	n.coin = coin.NewLedger()
	n.coin.SetState(n.state)
	n.coin.SetPauses(n)

	n.positions = position.NewEngine()
	n.positions.SetState(n.state)
	n.positions.SetLedgers(n.tokens, n.coin)
	n.positions.SetRateSource(&leadRateSource{state: n.state})
	n.positions.SetPauses(n)
	n.positions.SetEventSink(n)

	n.hub = hub.NewEngine(HubAddress)
	n.hub.SetState(n.state)
	n.hub.SetCollaborators(n.positions, n.coin, n.tokens)
	n.hub.SetPauses(n)
	n.hub.SetEventSink(n)

	n.roller = hub.NewRoller(n.hub)
	return n
}

// SetClock replaces the timestamp source. Tests use it to drive the
// simulated clock.
func (n *Node) SetClock(clock func() uint64) {
	if clock != nil {
		n.clock = clock
	}
}

// IsPaused satisfies common.PauseView for every engine.
func (n *Node) IsPaused(module string) bool {
	return n.paused[module]
}

// SetPaused flips a module's pause switch.
func (n *Node) SetPaused(module string, paused bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paused[module] = paused
}

// Emit satisfies the engines' EventSink; events accumulate until drained.
func (n *Node) Emit(evt *types.Event) {
	if evt != nil {
		n.events = append(n.events, *evt)
	}
}

// DrainEvents returns the accumulated events and resets the buffer.
func (n *Node) DrainEvents() []types.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	drained := n.events
	n.events = nil
	return drained
}

// begin stamps the engines with the current time. Callers hold the mutex.
func (n *Node) begin() {
	now := n.clock()
	n.positions.SetTimestamp(now)
	n.hub.SetTimestamp(now)
}

// --- Hub operations ---

func (n *Node) OpenPosition(params hub.OpenPositionParams) (crypto.Address, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.begin()
	addr, err := n.hub.OpenPosition(params)
	if err == nil {
		metrics.Hub().PositionOpened()
	}
	return addr, err
}

func (n *Node) ClonePosition(caller, owner, parent crypto.Address, initialCollateral, initialMint *big.Int, expiration uint64, liqPrice *big.Int, asNative bool, nativeValue *big.Int) (crypto.Address, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.begin()
	addr, err := n.hub.Clone(caller, owner, parent, initialCollateral, initialMint, expiration, liqPrice, asNative, nativeValue)
	if err == nil {
		metrics.Hub().PositionOpened()
	}
	return addr, err
}

func (n *Node) ChallengePosition(challenger, pos crypto.Address, size, minimumPrice *big.Int) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.begin()
	number, err := n.hub.Challenge(challenger, pos, size, minimumPrice)
	if err == nil {
		metrics.Hub().ChallengeStarted()
	}
	return number, err
}

func (n *Node) BidOnChallenge(bidder crypto.Address, number uint64, size *big.Int, postpone, asNative bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.begin()
	err := n.hub.Bid(bidder, number, size, postpone, asNative)
	if err == nil {
		metrics.Hub().BidPlaced()
	}
	return err
}

func (n *Node) BuyExpiredCollateral(buyer, pos crypto.Address, upToAmount *big.Int, asNative bool) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.begin()
	cost, err := n.hub.BuyExpiredCollateral(buyer, pos, upToAmount, asNative)
	if err == nil {
		metrics.Hub().ForcedSale()
	}
	return cost, err
}

func (n *Node) ReturnPostponedCollateral(tok, target crypto.Address, asNative bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.begin()
	return n.hub.ReturnPostponedCollateral(tok, target, asNative)
}

func (n *Node) ExpiredPurchasePrice(pos crypto.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.begin()
	return n.hub.ExpiredPurchasePrice(pos)
}

func (n *Node) ChallengeByID(number uint64) (*hub.Challenge, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hub.ChallengeByID(number)
}

func (n *Node) PendingReturn(tok, beneficiary crypto.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hub.PendingReturn(tok, beneficiary)
}

// --- Position operations ---

func (n *Node) MintFromPosition(caller, pos, target crypto.Address, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.begin()
	return n.positions.Mint(caller, pos, target, amount)
}

func (n *Node) RepayPosition(caller, pos crypto.Address, amount *big.Int) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.begin()
	return n.positions.Repay(caller, pos, amount)
}

func (n *Node) AddCollateral(from, pos crypto.Address, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.begin()
	return n.positions.AddCollateral(from, pos, amount)
}

func (n *Node) WithdrawCollateral(caller, pos, target crypto.Address, amount *big.Int, asNative bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.begin()
	return n.positions.WithdrawCollateral(caller, pos, target, amount, asNative)
}

func (n *Node) AdjustPosition(caller, pos crypto.Address, newPrincipal, newCollateral, newPrice *big.Int, withdrawAsNative bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.begin()
	return n.positions.Adjust(caller, pos, newPrincipal, newCollateral, newPrice, withdrawAsNative)
}

func (n *Node) AdjustPositionWithReference(caller, pos, ref crypto.Address, newPrincipal, newCollateral, newPrice *big.Int, withdrawAsNative bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.begin()
	return n.positions.AdjustWithReference(caller, pos, ref, newPrincipal, newCollateral, newPrice, withdrawAsNative)
}

func (n *Node) AdjustPositionPrice(caller, pos crypto.Address, newPrice *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.begin()
	return n.positions.AdjustPrice(caller, pos, newPrice)
}

func (n *Node) TransferPositionOwnership(caller, pos, newOwner crypto.Address) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.begin()
	return n.positions.TransferOwnership(caller, pos, newOwner)
}

func (n *Node) RollPosition(caller, source, target crypto.Address, repayAmount, collateralAmount, mintAmount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.begin()
	return n.roller.Roll(caller, source, target, repayAmount, collateralAmount, mintAmount)
}

func (n *Node) RollPositionFully(caller, source, target crypto.Address) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.begin()
	return n.roller.RollFully(caller, source, target)
}

// --- Views ---

func (n *Node) Position(pos crypto.Address) (*position.Position, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.positions.Get(pos)
}

func (n *Node) PositionDebt(pos crypto.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.begin()
	return n.positions.Debt(pos)
}

func (n *Node) PositionInterest(pos crypto.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.begin()
	return n.positions.Interest(pos)
}

func (n *Node) PositionVirtualPrice(pos crypto.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.begin()
	return n.positions.VirtualPrice(pos)
}

func (n *Node) PositionChallengeInfo(pos crypto.Address) (*position.ChallengeData, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.begin()
	return n.positions.ChallengeInfo(pos)
}

func (n *Node) CoinBalance(holder crypto.Address) *big.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.coin.BalanceOf(holder)
}

func (n *Node) CoinTotalSupply() *big.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.coin.TotalSupply()
}

func (n *Node) CoinEquity() *big.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.coin.Equity()
}

func (n *Node) CoinMinterReserve() *big.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.coin.MinterReserve()
}

func (n *Node) TokenBalance(tok, holder crypto.Address) *big.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens.BalanceOf(tok, holder)
}

// --- Token administration ---

func (n *Node) RegisterToken(tok *token.Token) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens.Register(tok)
}

func (n *Node) FreezeTokenHolder(tok, holder crypto.Address, frozen bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens.Freeze(tok, holder, frozen)
}

// --- Lead rate ---

// leadRateSource adapts the persisted lead rate to the position engine's
// RateSource without caching, so rate changes are visible immediately.
type leadRateSource struct {
	state *state.Manager
}

func (s *leadRateSource) CurrentRatePPM(now uint64) uint32 {
	lead, err := s.state.GetLeadrate()
	if err != nil || lead == nil {
		return 0
	}
	return lead.CurrentRatePPM(now)
}

func (n *Node) LeadRate() (*rate.Leadrate, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	lead, err := n.state.GetLeadrate()
	if err != nil {
		return nil, err
	}
	if lead == nil {
		lead = rate.NewLeadrate(0)
	}
	return lead, nil
}

func (n *Node) ProposeLeadRate(newRatePPM uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	lead, err := n.state.GetLeadrate()
	if err != nil {
		return err
	}
	if lead == nil {
		lead = rate.NewLeadrate(0)
	}
	if err := lead.ProposeChange(newRatePPM, n.clock()); err != nil {
		return err
	}
	return n.state.PutLeadrate(lead)
}

func (n *Node) ApplyLeadRate() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	lead, err := n.state.GetLeadrate()
	if err != nil {
		return err
	}
	if lead == nil {
		lead = rate.NewLeadrate(0)
	}
	if err := lead.ApplyChange(n.clock()); err != nil {
		return err
	}
	return n.state.PutLeadrate(lead)
}
