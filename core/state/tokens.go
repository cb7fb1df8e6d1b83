package state

import (
	"math/big"

	"deuro/core/types"
	"deuro/crypto"
	"deuro/native/token"
)

func tokenKey(addr crypto.Address) []byte {
	return prefixedKey(tokenPrefix, addr.Bytes())
}

func tokenBalanceKey(tok, holder crypto.Address) []byte {
	return prefixedKey(tokenBalancePrefix, tok.Bytes(), holder.Bytes())
}

func accountKey(addr crypto.Address) []byte {
	return prefixedKey(accountPrefix, addr.Bytes())
}

// GetToken loads a registered token. Missing tokens report (nil, nil).
func (m *Manager) GetToken(addr crypto.Address) (*token.Token, error) {
	var tok token.Token
	found, err := m.getJSON(tokenKey(addr), &tok)
	if err != nil || !found {
		return nil, err
	}
	return &tok, nil
}

// PutToken persists token metadata and, for the wrapped-native token, the
// singleton pointer the ledger resolves wraps through.
func (m *Manager) PutToken(tok *token.Token) error {
	if err := m.putJSON(tokenKey(tok.Address), tok); err != nil {
		return err
	}
	if tok.WrappedNative {
		return m.putJSON(tokenWrappedKey, tok.Address)
	}
	return nil
}

// WrappedNativeToken resolves the registered wrapped-native token, or
// (nil, nil) when none exists.
func (m *Manager) WrappedNativeToken() (*token.Token, error) {
	var addr crypto.Address
	found, err := m.getJSON(tokenWrappedKey, &addr)
	if err != nil || !found {
		return nil, err
	}
	return m.GetToken(addr)
}

// GetTokenBalance returns the holder's balance; missing entries are zero.
func (m *Manager) GetTokenBalance(tok, holder crypto.Address) (*big.Int, error) {
	balance := new(big.Int)
	found, err := m.getJSON(tokenBalanceKey(tok, holder), balance)
	if err != nil {
		return nil, err
	}
	if !found {
		return big.NewInt(0), nil
	}
	return balance, nil
}

func (m *Manager) PutTokenBalance(tok, holder crypto.Address, amount *big.Int) error {
	return m.putJSON(tokenBalanceKey(tok, holder), amount)
}

// GetAccount loads a native-coin account. Missing accounts report (nil, nil).
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	var account types.Account
	found, err := m.getJSON(accountKey(addr), &account)
	if err != nil || !found {
		return nil, err
	}
	account.Normalize()
	return &account, nil
}

func (m *Manager) PutAccount(addr crypto.Address, account *types.Account) error {
	return m.putJSON(accountKey(addr), account)
}
