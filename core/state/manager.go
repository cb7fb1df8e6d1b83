package state

import (
	"encoding/json"
	"errors"

	"deuro/storage"
)

var errNilManager = errors.New("state manager unavailable")

// Manager persists every module's state in the backing key/value store. It
// implements the narrow state interfaces the native engines declare, so the
// engines never see the store or the encoding.
type Manager struct {
	db storage.Database
}

func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// getJSON loads and decodes the value under key into out. Missing keys
// report found == false with a nil error.
func (m *Manager) getJSON(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, errNilManager
	}
	data, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) putJSON(key []byte, value interface{}) error {
	if m == nil || m.db == nil {
		return errNilManager
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, data)
}
