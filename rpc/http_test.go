package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"deuro/core"
	"deuro/crypto"
	"deuro/native/hub"
	"deuro/storage"
)

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.DEuroPrefix, raw)
}

func dec(n int64) string {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000)).String()
}

func newTestServer(t *testing.T) (*httptest.Server, crypto.Address) {
	t.Helper()
	owner := makeAddress(0x01)
	node := core.NewNode(storage.NewMemDB())
	spec := &core.GenesisSpec{
		Tokens:    []core.GenesisTokenSpec{{Symbol: "COL", Decimals: 18}},
		CoinAlloc: map[string]string{owner.String(): dec(50_000)},
		TokenAlloc: map[string]map[string]string{
			"COL": {owner.String(): dec(100)},
		},
	}
	if err := node.ApplyGenesis(spec); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}
	server := httptest.NewServer(NewServer(node, nil).Router())
	t.Cleanup(server.Close)
	return server, core.TokenAddress("COL")
}

func call(t *testing.T, server *httptest.Server, method string, params interface{}) *RPCResponse {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	body, err := json.Marshal(RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  []json.RawMessage{raw},
		ID:      1,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(server.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	out := new(RPCResponse)
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestOpenPositionAndInfoOverHTTP(t *testing.T) {
	server, collateral := newTestServer(t)
	owner := makeAddress(0x01)

	resp := call(t, server, "hub_openPosition", openPositionParams{
		Owner:             owner.String(),
		CollateralToken:   collateral.String(),
		MinimumCollateral: dec(6),
		InitialCollateral: dec(10),
		MintingLimit:      dec(100_000),
		InitPeriod:        hub.BootstrapInitPeriod,
		Duration:          365 * 24 * 60 * 60,
		ChallengePeriod:   24 * 60 * 60,
		ReservePPM:        200_000,
		LiqPrice:          dec(1000),
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var opened map[string]string
	raw, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(raw, &opened); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	posAddr := opened["position"]
	if posAddr == "" {
		t.Fatalf("missing position address in result")
	}

	resp = call(t, server, "position_info", positionParams{Position: posAddr})
	if resp.Error != nil {
		t.Fatalf("position info: %+v", resp.Error)
	}
	var info positionInfoResponse
	raw, _ = json.Marshal(resp.Result)
	if err := json.Unmarshal(raw, &info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info.Owner != owner.String() || info.Collateral != dec(10) || info.Principal != "0" {
		t.Fatalf("unexpected info: %+v", info)
	}

	resp = call(t, server, "coin_balance", balanceParams{Address: owner.String()})
	if resp.Error != nil {
		t.Fatalf("coin balance: %+v", resp.Error)
	}
	var balance map[string]string
	raw, _ = json.Marshal(resp.Result)
	if err := json.Unmarshal(raw, &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	// The opening fee was charged.
	if balance["balance"] != dec(49_000) {
		t.Fatalf("unexpected balance: %s", balance["balance"])
	}
}

func TestDispatchErrors(t *testing.T) {
	server, _ := newTestServer(t)

	resp := call(t, server, "no_suchMethod", struct{}{})
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found, got %+v", resp.Error)
	}

	resp = call(t, server, "coin_balance", balanceParams{Address: "garbage"})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid-params, got %+v", resp.Error)
	}

	// Engine failures surface as invalid-params with the sentinel text.
	resp = call(t, server, "hub_bid", bidParams{Bidder: makeAddress(0x01).String(), Number: 99, Size: "1"})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected engine error, got %+v", resp.Error)
	}

	raw, err := http.Post(server.URL, "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer raw.Body.Close()
	parsed := new(RPCResponse)
	if err := json.NewDecoder(raw.Body).Decode(parsed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if parsed.Error == nil || parsed.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %+v", parsed.Error)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected healthz status: %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected metrics status: %d", resp.StatusCode)
	}
}
