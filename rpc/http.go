package rpc

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deuro/core"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type Server struct {
	node *core.Node
	log  *slog.Logger
}

func NewServer(node *core.Node, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{node: node, log: logger}
}

// Router assembles the HTTP surface: the JSON-RPC endpoint plus health and
// metrics.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
}

func (s *Server) Start(addr string) error {
	s.log.Info("starting JSON-RPC server", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "unable to read request body", nil)
		return
	}
	req := new(RPCRequest)
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", nil)
		return
	}
	started := time.Now()
	s.dispatch(w, req)
	s.log.Info("rpc request",
		"requestId", requestID,
		"method", req.Method,
		"durationMs", time.Since(started).Milliseconds(),
	)
}

func (s *Server) dispatch(w http.ResponseWriter, req *RPCRequest) {
	switch req.Method {
	case "hub_openPosition":
		s.handleOpenPosition(w, req)
	case "hub_clone":
		s.handleClone(w, req)
	case "hub_challenge":
		s.handleChallenge(w, req)
	case "hub_bid":
		s.handleBid(w, req)
	case "hub_buyExpiredCollateral":
		s.handleBuyExpiredCollateral(w, req)
	case "hub_returnPostponedCollateral":
		s.handleReturnPostponed(w, req)
	case "hub_challengeInfo":
		s.handleChallengeInfo(w, req)
	case "hub_expiredPurchasePrice":
		s.handleExpiredPurchasePrice(w, req)
	case "position_mint":
		s.handlePositionMint(w, req)
	case "position_repay":
		s.handlePositionRepay(w, req)
	case "position_addCollateral":
		s.handleAddCollateral(w, req)
	case "position_withdrawCollateral":
		s.handleWithdrawCollateral(w, req)
	case "position_adjust":
		s.handlePositionAdjust(w, req)
	case "position_adjustWithReference":
		s.handleAdjustWithReference(w, req)
	case "position_adjustPrice":
		s.handleAdjustPrice(w, req)
	case "position_transferOwnership":
		s.handleTransferOwnership(w, req)
	case "position_roll":
		s.handleRoll(w, req)
	case "position_info":
		s.handlePositionInfo(w, req)
	case "coin_balance":
		s.handleCoinBalance(w, req)
	case "rate_info":
		s.handleRateInfo(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}
