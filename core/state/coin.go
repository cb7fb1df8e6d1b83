package state

import (
	"math/big"

	"deuro/crypto"
	"deuro/native/coin"
)

func coinBalanceKey(holder crypto.Address) []byte {
	return prefixedKey(coinBalancePrefix, holder.Bytes())
}

func coinRecordKey(addr crypto.Address) []byte {
	return prefixedKey(coinRecordPrefix, addr.Bytes())
}

// GetCoinBalance returns the holder's dEURO balance; missing entries are
// zero.
func (m *Manager) GetCoinBalance(holder crypto.Address) (*big.Int, error) {
	balance := new(big.Int)
	found, err := m.getJSON(coinBalanceKey(holder), balance)
	if err != nil {
		return nil, err
	}
	if !found {
		return big.NewInt(0), nil
	}
	return balance, nil
}

func (m *Manager) PutCoinBalance(holder crypto.Address, amount *big.Int) error {
	return m.putJSON(coinBalanceKey(holder), amount)
}

// GetSupply loads the supply counters. Missing state reports (nil, nil); the
// ledger normalizes that to zeroes.
func (m *Manager) GetSupply() (*coin.Supply, error) {
	var supply coin.Supply
	found, err := m.getJSON(coinSupplyKey, &supply)
	if err != nil || !found {
		return nil, err
	}
	supply.Normalize()
	return &supply, nil
}

func (m *Manager) PutSupply(supply *coin.Supply) error {
	return m.putJSON(coinSupplyKey, supply)
}

// GetPositionRecord loads a minter registration. Missing records report
// (nil, nil).
func (m *Manager) GetPositionRecord(addr crypto.Address) (*coin.PositionRecord, error) {
	var record coin.PositionRecord
	found, err := m.getJSON(coinRecordKey(addr), &record)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

func (m *Manager) PutPositionRecord(record *coin.PositionRecord) error {
	return m.putJSON(coinRecordKey(record.Address), record)
}
