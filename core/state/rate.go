package state

import "deuro/native/rate"

// GetLeadrate loads the lead-rate state. Missing state reports (nil, nil).
func (m *Manager) GetLeadrate() (*rate.Leadrate, error) {
	var lead rate.Leadrate
	found, err := m.getJSON(leadrateKey, &lead)
	if err != nil || !found {
		return nil, err
	}
	return &lead, nil
}

func (m *Manager) PutLeadrate(lead *rate.Leadrate) error {
	return m.putJSON(leadrateKey, lead)
}
