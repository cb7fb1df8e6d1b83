package core

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"deuro/crypto"
	"deuro/native/rate"
	"deuro/native/token"
)

// GenesisSpec bootstraps the ledger: collateral tokens, dEURO balances and
// native-coin balances. Application is deterministic; tokens and allocations
// are applied in sorted order.
type GenesisSpec struct {
	// LeadRatePPM seeds the lead rate module.
	LeadRatePPM uint32             `json:"leadRatePPM"`
	Tokens      []GenesisTokenSpec `json:"tokens"`
	// CoinAlloc maps bech32 address -> dEURO wei.
	CoinAlloc map[string]string `json:"coinAlloc"`
	// NativeAlloc maps bech32 address -> native coin wei.
	NativeAlloc map[string]string `json:"nativeAlloc"`
	// TokenAlloc maps token symbol -> bech32 address -> amount.
	TokenAlloc map[string]map[string]string `json:"tokenAlloc"`
}

type GenesisTokenSpec struct {
	Symbol        string `json:"symbol"`
	Decimals      uint8  `json:"decimals"`
	SilentFail    bool   `json:"silentFail,omitempty"`
	WrappedNative bool   `json:"wrappedNative,omitempty"`
}

// LoadGenesisSpec reads and decodes a genesis file.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	spec := new(GenesisSpec)
	if err := json.Unmarshal(data, spec); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	return spec, nil
}

// ApplyGenesis seeds a fresh node from a genesis file. Token addresses derive from
// the symbol, so genesis layouts are reproducible across runs.
func (n *Node) ApplyGenesis(spec *GenesisSpec) error {
	if spec == nil {
		return fmt.Errorf("genesis spec must not be nil")
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	// A restarted node reuses its persisted state; genesis only applies to a
	// fresh database.
	if len(spec.Tokens) > 0 {
		first := TokenAddress(spec.Tokens[0].Symbol)
		if existing, err := n.tokens.Get(first); err == nil && existing != nil {
			return nil
		}
	}

	tokens := append([]GenesisTokenSpec(nil), spec.Tokens...)
	sort.Slice(tokens, func(i, j int) bool {
		return strings.ToUpper(tokens[i].Symbol) < strings.ToUpper(tokens[j].Symbol)
	})
	tokenAddrs := make(map[string]crypto.Address, len(tokens))
	for _, ts := range tokens {
		symbol := strings.ToUpper(strings.TrimSpace(ts.Symbol))
		if symbol == "" {
			return fmt.Errorf("genesis token symbol required")
		}
		addr := crypto.ModuleAddress("token/" + symbol)
		if err := n.tokens.Register(&token.Token{
			Address:       addr,
			Symbol:        symbol,
			Decimals:      ts.Decimals,
			SilentFail:    ts.SilentFail,
			WrappedNative: ts.WrappedNative,
		}); err != nil {
			return fmt.Errorf("register token %s: %w", symbol, err)
		}
		tokenAddrs[symbol] = addr
	}

	for _, holder := range sortedKeys(spec.CoinAlloc) {
		addr, amount, err := parseAlloc(holder, spec.CoinAlloc[holder])
		if err != nil {
			return err
		}
		if amount.Sign() == 0 {
			continue
		}
		if err := n.coin.Mint(addr, amount); err != nil {
			return fmt.Errorf("coin alloc %s: %w", holder, err)
		}
	}
	for _, holder := range sortedKeys(spec.NativeAlloc) {
		addr, amount, err := parseAlloc(holder, spec.NativeAlloc[holder])
		if err != nil {
			return err
		}
		if amount.Sign() == 0 {
			continue
		}
		if err := n.tokens.CreditNative(addr, amount); err != nil {
			return fmt.Errorf("native alloc %s: %w", holder, err)
		}
	}
	for _, symbol := range sortedKeys(spec.TokenAlloc) {
		tokenAddr, ok := tokenAddrs[strings.ToUpper(strings.TrimSpace(symbol))]
		if !ok {
			return fmt.Errorf("token alloc for unregistered token %s", symbol)
		}
		alloc := spec.TokenAlloc[symbol]
		for _, holder := range sortedKeys(alloc) {
			addr, amount, err := parseAlloc(holder, alloc[holder])
			if err != nil {
				return err
			}
			if amount.Sign() == 0 {
				continue
			}
			if err := n.tokens.Mint(tokenAddr, addr, amount); err != nil {
				return fmt.Errorf("token alloc %s/%s: %w", symbol, holder, err)
			}
		}
	}

	if spec.LeadRatePPM > 0 {
		lead, err := n.state.GetLeadrate()
		if err != nil {
			return err
		}
		if lead == nil {
			if err := n.state.PutLeadrate(rate.NewLeadrate(spec.LeadRatePPM)); err != nil {
				return err
			}
		}
	}
	return nil
}

// TokenAddress returns the deterministic address a genesis token was
// registered under.
func TokenAddress(symbol string) crypto.Address {
	return crypto.ModuleAddress("token/" + strings.ToUpper(strings.TrimSpace(symbol)))
}

func parseAlloc(holder, raw string) (crypto.Address, *big.Int, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(holder))
	if err != nil {
		return crypto.Address{}, nil, fmt.Errorf("alloc address %s: %w", holder, err)
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || amount.Sign() < 0 {
		return crypto.Address{}, nil, fmt.Errorf("alloc amount %q for %s", raw, holder)
	}
	return addr, amount, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
