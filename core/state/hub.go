package state

import (
	"encoding/binary"
	"math/big"

	"deuro/crypto"
	"deuro/native/hub"
)

func challengeKey(number uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], number)
	return prefixedKey(hubChallengePrefix, buf[:])
}

func pendingReturnKey(tok, beneficiary crypto.Address) []byte {
	return prefixedKey(hubPendingPrefix, tok.Bytes(), beneficiary.Bytes())
}

// GetChallenge loads a challenge slot. Missing slots report (nil, nil).
func (m *Manager) GetChallenge(number uint64) (*hub.Challenge, error) {
	var ch hub.Challenge
	found, err := m.getJSON(challengeKey(number), &ch)
	if err != nil || !found {
		return nil, err
	}
	return &ch, nil
}

func (m *Manager) PutChallenge(number uint64, ch *hub.Challenge) error {
	return m.putJSON(challengeKey(number), ch)
}

// GetPendingReturn returns the postponed collateral owed to a beneficiary;
// missing entries are zero.
func (m *Manager) GetPendingReturn(tok, beneficiary crypto.Address) (*big.Int, error) {
	pending := new(big.Int)
	found, err := m.getJSON(pendingReturnKey(tok, beneficiary), pending)
	if err != nil {
		return nil, err
	}
	if !found {
		return big.NewInt(0), nil
	}
	return pending, nil
}

func (m *Manager) PutPendingReturn(tok, beneficiary crypto.Address, amount *big.Int) error {
	return m.putJSON(pendingReturnKey(tok, beneficiary), amount)
}

// GetHubMeta loads the hub counters. Missing state reports (nil, nil).
func (m *Manager) GetHubMeta() (*hub.Meta, error) {
	var meta hub.Meta
	found, err := m.getJSON(hubMetaKey, &meta)
	if err != nil || !found {
		return nil, err
	}
	return &meta, nil
}

func (m *Manager) PutHubMeta(meta *hub.Meta) error {
	return m.putJSON(hubMetaKey, meta)
}
