package state

import (
	"deuro/crypto"
	"deuro/native/position"
)

func positionKey(addr crypto.Address) []byte {
	return prefixedKey(positionPrefix, addr.Bytes())
}

// GetPosition loads a position. Missing positions report (nil, nil).
func (m *Manager) GetPosition(addr crypto.Address) (*position.Position, error) {
	var pos position.Position
	found, err := m.getJSON(positionKey(addr), &pos)
	if err != nil || !found {
		return nil, err
	}
	return &pos, nil
}

// PutPosition persists a position under its own address.
func (m *Manager) PutPosition(pos *position.Position) error {
	return m.putJSON(positionKey(pos.Address), pos)
}
