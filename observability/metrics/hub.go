package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// HubMetrics counts the externally visible protocol activity. Engines stay
// metric-free; the node increments after successful transitions.
type HubMetrics struct {
	positionsOpened   prometheus.Counter
	challengesStarted prometheus.Counter
	bidsPlaced        prometheus.Counter
	forcedSales       prometheus.Counter
}

var (
	hubOnce     sync.Once
	hubRegistry *HubMetrics
)

func Hub() *HubMetrics {
	hubOnce.Do(func() {
		hubRegistry = &HubMetrics{
			positionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "hub_positions_opened_total",
				Help: "Count of positions opened or cloned through the hub.",
			}),
			challengesStarted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "hub_challenges_started_total",
				Help: "Count of challenges opened against positions.",
			}),
			bidsPlaced: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "hub_bids_placed_total",
				Help: "Count of bids on open challenges, averting and liquidating.",
			}),
			forcedSales: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "hub_forced_sales_total",
				Help: "Count of expired-collateral purchases.",
			}),
		}
		prometheus.MustRegister(
			hubRegistry.positionsOpened,
			hubRegistry.challengesStarted,
			hubRegistry.bidsPlaced,
			hubRegistry.forcedSales,
		)
	})
	return hubRegistry
}

func (m *HubMetrics) PositionOpened() {
	if m != nil {
		m.positionsOpened.Inc()
	}
}

func (m *HubMetrics) ChallengeStarted() {
	if m != nil {
		m.challengesStarted.Inc()
	}
}

func (m *HubMetrics) BidPlaced() {
	if m != nil {
		m.bidsPlaced.Inc()
	}
}

func (m *HubMetrics) ForcedSale() {
	if m != nil {
		m.forcedSales.Inc()
	}
}
