package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"deuro/crypto"
	"deuro/native/hub"
)

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) == 0 {
		return fmt.Errorf("parameter object required")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(raw string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid address %q: %w", raw, err)
	}
	return addr, nil
}

// parseAmount decodes a required decimal amount string.
func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

// parseOptionalAmount treats an empty string as absent.
func parseOptionalAmount(raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return parseAmount(raw)
}

func writeEngineError(w http.ResponseWriter, req *RPCRequest, err error) {
	writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
}

type openPositionParams struct {
	Owner             string `json:"owner"`
	CollateralToken   string `json:"collateralToken"`
	MinimumCollateral string `json:"minimumCollateral"`
	InitialCollateral string `json:"initialCollateral"`
	MintingLimit      string `json:"mintingLimit"`
	InitPeriod        uint64 `json:"initPeriod"`
	Duration          uint64 `json:"duration"`
	ChallengePeriod   uint64 `json:"challengePeriod"`
	RiskPremiumPPM    uint32 `json:"riskPremiumPPM"`
	ReservePPM        uint32 `json:"reservePPM"`
	LiqPrice          string `json:"liqPrice"`
	AsNative          bool   `json:"asNative,omitempty"`
	NativeValue       string `json:"nativeValue,omitempty"`
}

func (s *Server) handleOpenPosition(w http.ResponseWriter, req *RPCRequest) {
	var params openPositionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	tok, err := parseAddress(params.CollateralToken)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	minimum, err := parseAmount(params.MinimumCollateral)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	initial, err := parseAmount(params.InitialCollateral)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	limit, err := parseAmount(params.MintingLimit)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	liqPrice, err := parseAmount(params.LiqPrice)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	nativeValue, err := parseOptionalAmount(params.NativeValue)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	addr, err := s.node.OpenPosition(hub.OpenPositionParams{
		Owner:             owner,
		CollateralToken:   tok,
		MinimumCollateral: minimum,
		InitialCollateral: initial,
		MintingLimit:      limit,
		InitPeriod:        params.InitPeriod,
		Duration:          params.Duration,
		ChallengePeriod:   params.ChallengePeriod,
		RiskPremiumPPM:    params.RiskPremiumPPM,
		ReservePPM:        params.ReservePPM,
		LiqPrice:          liqPrice,
		AsNative:          params.AsNative,
		NativeValue:       nativeValue,
	})
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"position": addr.String()})
}

type cloneParams struct {
	Caller            string `json:"caller"`
	Owner             string `json:"owner"`
	Parent            string `json:"parent"`
	InitialCollateral string `json:"initialCollateral,omitempty"`
	InitialMint       string `json:"initialMint,omitempty"`
	Expiration        uint64 `json:"expiration"`
	LiqPrice          string `json:"liqPrice,omitempty"`
	AsNative          bool   `json:"asNative,omitempty"`
	NativeValue       string `json:"nativeValue,omitempty"`
}

func (s *Server) handleClone(w http.ResponseWriter, req *RPCRequest) {
	var params cloneParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	parent, err := parseAddress(params.Parent)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	initialCollateral, err := parseOptionalAmount(params.InitialCollateral)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	initialMint, err := parseOptionalAmount(params.InitialMint)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	liqPrice, err := parseOptionalAmount(params.LiqPrice)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	nativeValue, err := parseOptionalAmount(params.NativeValue)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	addr, err := s.node.ClonePosition(caller, owner, parent, initialCollateral, initialMint, params.Expiration, liqPrice, params.AsNative, nativeValue)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"position": addr.String()})
}

type challengeParams struct {
	Challenger   string `json:"challenger"`
	Position     string `json:"position"`
	Size         string `json:"size"`
	MinimumPrice string `json:"minimumPrice,omitempty"`
}

func (s *Server) handleChallenge(w http.ResponseWriter, req *RPCRequest) {
	var params challengeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	challenger, err := parseAddress(params.Challenger)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	pos, err := parseAddress(params.Position)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	size, err := parseAmount(params.Size)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	minimumPrice, err := parseOptionalAmount(params.MinimumPrice)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	number, err := s.node.ChallengePosition(challenger, pos, size, minimumPrice)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]uint64{"challenge": number})
}

type bidParams struct {
	Bidder   string `json:"bidder"`
	Number   uint64 `json:"number"`
	Size     string `json:"size"`
	Postpone bool   `json:"postpone,omitempty"`
	AsNative bool   `json:"asNative,omitempty"`
}

func (s *Server) handleBid(w http.ResponseWriter, req *RPCRequest) {
	var params bidParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	bidder, err := parseAddress(params.Bidder)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	size, err := parseAmount(params.Size)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	if err := s.node.BidOnChallenge(bidder, params.Number, size, params.Postpone, params.AsNative); err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type buyExpiredParams struct {
	Buyer    string `json:"buyer"`
	Position string `json:"position"`
	UpTo     string `json:"upTo"`
	AsNative bool   `json:"asNative,omitempty"`
}

func (s *Server) handleBuyExpiredCollateral(w http.ResponseWriter, req *RPCRequest) {
	var params buyExpiredParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	buyer, err := parseAddress(params.Buyer)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	pos, err := parseAddress(params.Position)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	upTo, err := parseAmount(params.UpTo)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	cost, err := s.node.BuyExpiredCollateral(buyer, pos, upTo, params.AsNative)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"cost": cost.String()})
}

type returnPostponedParams struct {
	Token    string `json:"token"`
	Target   string `json:"target"`
	AsNative bool   `json:"asNative,omitempty"`
}

func (s *Server) handleReturnPostponed(w http.ResponseWriter, req *RPCRequest) {
	var params returnPostponedParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	tok, err := parseAddress(params.Token)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	target, err := parseAddress(params.Target)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	if err := s.node.ReturnPostponedCollateral(tok, target, params.AsNative); err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type challengeInfoParams struct {
	Number uint64 `json:"number"`
}

type challengeInfoResponse struct {
	Challenger string `json:"challenger"`
	Position   string `json:"position"`
	Start      uint64 `json:"start"`
	Size       string `json:"size"`
	Price      string `json:"price"`
	Consumed   bool   `json:"consumed"`
}

func (s *Server) handleChallengeInfo(w http.ResponseWriter, req *RPCRequest) {
	var params challengeInfoParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	ch, err := s.node.ChallengeByID(params.Number)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	if ch == nil || ch.IsConsumed() {
		writeResult(w, req.ID, challengeInfoResponse{Consumed: true})
		return
	}
	writeResult(w, req.ID, challengeInfoResponse{
		Challenger: ch.Challenger.String(),
		Position:   ch.Position.String(),
		Start:      ch.Start,
		Size:       ch.Size.String(),
		Price:      ch.Price.String(),
	})
}

type positionParams struct {
	Position string `json:"position"`
}

func (s *Server) handleExpiredPurchasePrice(w http.ResponseWriter, req *RPCRequest) {
	var params positionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	pos, err := parseAddress(params.Position)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	price, err := s.node.ExpiredPurchasePrice(pos)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"price": price.String()})
}

type mintParams struct {
	Caller   string `json:"caller"`
	Position string `json:"position"`
	Target   string `json:"target"`
	Amount   string `json:"amount"`
}

func (s *Server) handlePositionMint(w http.ResponseWriter, req *RPCRequest) {
	var params mintParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	pos, err := parseAddress(params.Position)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	target, err := parseAddress(params.Target)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	if err := s.node.MintFromPosition(caller, pos, target, amount); err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type repayParams struct {
	Caller   string `json:"caller"`
	Position string `json:"position"`
	Amount   string `json:"amount"`
}

func (s *Server) handlePositionRepay(w http.ResponseWriter, req *RPCRequest) {
	var params repayParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	pos, err := parseAddress(params.Position)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	used, err := s.node.RepayPosition(caller, pos, amount)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"used": used.String()})
}

type collateralParams struct {
	Caller   string `json:"caller"`
	Position string `json:"position"`
	Target   string `json:"target,omitempty"`
	Amount   string `json:"amount"`
	AsNative bool   `json:"asNative,omitempty"`
}

func (s *Server) handleAddCollateral(w http.ResponseWriter, req *RPCRequest) {
	var params collateralParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	pos, err := parseAddress(params.Position)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	if err := s.node.AddCollateral(caller, pos, amount); err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleWithdrawCollateral(w http.ResponseWriter, req *RPCRequest) {
	var params collateralParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	pos, err := parseAddress(params.Position)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	target := caller
	if strings.TrimSpace(params.Target) != "" {
		target, err = parseAddress(params.Target)
		if err != nil {
			writeEngineError(w, req, err)
			return
		}
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	if err := s.node.WithdrawCollateral(caller, pos, target, amount, params.AsNative); err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type adjustParams struct {
	Caller           string `json:"caller"`
	Position         string `json:"position"`
	Principal        string `json:"principal"`
	Collateral       string `json:"collateral"`
	Price            string `json:"price"`
	WithdrawAsNative bool   `json:"withdrawAsNative,omitempty"`
}

func (s *Server) handlePositionAdjust(w http.ResponseWriter, req *RPCRequest) {
	var params adjustParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	pos, err := parseAddress(params.Position)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	principal, err := parseAmount(params.Principal)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	collateral, err := parseAmount(params.Collateral)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	if err := s.node.AdjustPosition(caller, pos, principal, collateral, price, params.WithdrawAsNative); err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type adjustWithReferenceParams struct {
	Caller           string `json:"caller"`
	Position         string `json:"position"`
	Reference        string `json:"reference"`
	Principal        string `json:"principal"`
	Collateral       string `json:"collateral"`
	Price            string `json:"price"`
	WithdrawAsNative bool   `json:"withdrawAsNative,omitempty"`
}

func (s *Server) handleAdjustWithReference(w http.ResponseWriter, req *RPCRequest) {
	var params adjustWithReferenceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	pos, err := parseAddress(params.Position)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	ref, err := parseAddress(params.Reference)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	principal, err := parseAmount(params.Principal)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	collateral, err := parseAmount(params.Collateral)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	if err := s.node.AdjustPositionWithReference(caller, pos, ref, principal, collateral, price, params.WithdrawAsNative); err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type adjustPriceParams struct {
	Caller   string `json:"caller"`
	Position string `json:"position"`
	Price    string `json:"price"`
}

func (s *Server) handleAdjustPrice(w http.ResponseWriter, req *RPCRequest) {
	var params adjustPriceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	pos, err := parseAddress(params.Position)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	if err := s.node.AdjustPositionPrice(caller, pos, price); err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type transferOwnershipParams struct {
	Caller   string `json:"caller"`
	Position string `json:"position"`
	NewOwner string `json:"newOwner"`
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, req *RPCRequest) {
	var params transferOwnershipParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	pos, err := parseAddress(params.Position)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	newOwner, err := parseAddress(params.NewOwner)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	if err := s.node.TransferPositionOwnership(caller, pos, newOwner); err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type rollParams struct {
	Caller     string `json:"caller"`
	Source     string `json:"source"`
	Target     string `json:"target"`
	Repay      string `json:"repay,omitempty"`
	Collateral string `json:"collateral,omitempty"`
	Mint       string `json:"mint,omitempty"`
	Fully      bool   `json:"fully,omitempty"`
}

func (s *Server) handleRoll(w http.ResponseWriter, req *RPCRequest) {
	var params rollParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	source, err := parseAddress(params.Source)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	target, err := parseAddress(params.Target)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	if params.Fully {
		if err := s.node.RollPositionFully(caller, source, target); err != nil {
			writeEngineError(w, req, err)
			return
		}
		writeResult(w, req.ID, map[string]bool{"ok": true})
		return
	}
	repay, err := parseOptionalAmount(params.Repay)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	collateral, err := parseOptionalAmount(params.Collateral)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	mint, err := parseOptionalAmount(params.Mint)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	if err := s.node.RollPosition(caller, source, target, repay, collateral, mint); err != nil {
		writeEngineError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type positionInfoResponse struct {
	Address          string `json:"address"`
	Owner            string `json:"owner"`
	Original         string `json:"original"`
	CollateralToken  string `json:"collateralToken"`
	Collateral       string `json:"collateral"`
	Principal        string `json:"principal"`
	Interest         string `json:"interest"`
	Debt             string `json:"debt"`
	Price            string `json:"price"`
	VirtualPrice     string `json:"virtualPrice"`
	Limit            string `json:"limit"`
	Cooldown         uint64 `json:"cooldown"`
	Start            uint64 `json:"start"`
	Expiration       uint64 `json:"expiration"`
	ChallengePeriod  uint64 `json:"challengePeriod"`
	ChallengedAmount string `json:"challengedAmount"`
	Closed           bool   `json:"closed"`
}

func (s *Server) handlePositionInfo(w http.ResponseWriter, req *RPCRequest) {
	var params positionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	posAddr, err := parseAddress(params.Position)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	pos, err := s.node.Position(posAddr)
	if err != nil {
		writeError(w, http.StatusNotFound, req.ID, codeServerError, err.Error(), nil)
		return
	}
	debt, err := s.node.PositionDebt(posAddr)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	interest, err := s.node.PositionInterest(posAddr)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	virtualPrice, err := s.node.PositionVirtualPrice(posAddr)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	collateral := s.node.TokenBalance(pos.CollateralToken, posAddr)
	writeResult(w, req.ID, positionInfoResponse{
		Address:          pos.Address.String(),
		Owner:            pos.Owner.String(),
		Original:         pos.Original.String(),
		CollateralToken:  pos.CollateralToken.String(),
		Collateral:       collateral.String(),
		Principal:        pos.Principal.String(),
		Interest:         interest.String(),
		Debt:             debt.String(),
		Price:            pos.Price.String(),
		VirtualPrice:     virtualPrice.String(),
		Limit:            pos.Limit.String(),
		Cooldown:         pos.Cooldown,
		Start:            pos.Start,
		Expiration:       pos.Expiration,
		ChallengePeriod:  pos.ChallengePeriod,
		ChallengedAmount: pos.ChallengedAmount.String(),
		Closed:           pos.Closed,
	})
}

type balanceParams struct {
	Address string `json:"address"`
}

func (s *Server) handleCoinBalance(w http.ResponseWriter, req *RPCRequest) {
	var params balanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeEngineError(w, req, err)
		return
	}
	balance := s.node.CoinBalance(addr)
	writeResult(w, req.ID, map[string]string{
		"address": addr.String(),
		"balance": balance.String(),
	})
}

type rateInfoResponse struct {
	RatePPM     uint32 `json:"ratePPM"`
	NextRatePPM uint32 `json:"nextRatePPM,omitempty"`
	NextChange  uint64 `json:"nextChange,omitempty"`
	Pending     bool   `json:"pending"`
}

func (s *Server) handleRateInfo(w http.ResponseWriter, req *RPCRequest) {
	lead, err := s.node.LeadRate()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, rateInfoResponse{
		RatePPM:     lead.RatePPM,
		NextRatePPM: lead.NextRatePPM,
		NextChange:  lead.NextChange,
		Pending:     lead.Pending,
	})
}
