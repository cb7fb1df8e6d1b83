package hub

import (
	"math/big"
	"strconv"

	"deuro/core/types"
	"deuro/crypto"
	"deuro/native/position"
)

const (
	EventTypeChallengeStarted   = "hub.challenge_started"
	EventTypeChallengeAverted   = "hub.challenge_averted"
	EventTypeChallengeSucceeded = "hub.challenge_succeeded"
	EventTypeForcedSale         = "hub.forced_sale"
	EventTypePostponedReturn    = "hub.postponed_return"
)

// NewChallengeStartedEvent returns the payload emitted when a challenge
// opens.
func NewChallengeStartedEvent(number uint64, ch *Challenge) *types.Event {
	evt := newChallengeEvent(EventTypeChallengeStarted, number, ch)
	if ch != nil && ch.Price != nil {
		evt.Attributes["price"] = ch.Price.String()
	}
	return evt
}

// NewChallengeAvertedEvent returns the payload emitted when a bid buys the
// challenger out before the auction phase.
func NewChallengeAvertedEvent(number uint64, ch *Challenge, bidder crypto.Address, size, offer *big.Int) *types.Event {
	evt := newChallengeEvent(EventTypeChallengeAverted, number, ch)
	evt.Attributes["bidder"] = bidder.String()
	evt.Attributes["size"] = size.String()
	evt.Attributes["offer"] = offer.String()
	return evt
}

// NewChallengeSucceededEvent returns the payload emitted when a phase-two
// bid liquidates challenged collateral.
func NewChallengeSucceededEvent(number uint64, ch *Challenge, bidder crypto.Address, size, offer, reward, loss *big.Int) *types.Event {
	evt := newChallengeEvent(EventTypeChallengeSucceeded, number, ch)
	evt.Attributes["bidder"] = bidder.String()
	evt.Attributes["size"] = size.String()
	evt.Attributes["offer"] = offer.String()
	evt.Attributes["reward"] = reward.String()
	if loss != nil && loss.Sign() > 0 {
		evt.Attributes["loss"] = loss.String()
	}
	return evt
}

// NewForcedSaleEvent returns the payload emitted when expired collateral is
// bought.
func NewForcedSaleEvent(pos, buyer crypto.Address, amount, cost *big.Int, result *position.ForceSaleResult) *types.Event {
	attrs := map[string]string{
		"position": pos.String(),
		"buyer":    buyer.String(),
		"amount":   amount.String(),
		"cost":     cost.String(),
	}
	if result != nil {
		if result.Shortfall != nil && result.Shortfall.Sign() > 0 {
			attrs["shortfall"] = result.Shortfall.String()
		}
		if result.Surplus != nil && result.Surplus.Sign() > 0 {
			attrs["surplus"] = result.Surplus.String()
		}
	}
	return &types.Event{Type: EventTypeForcedSale, Attributes: attrs}
}

// NewPostponedReturnEvent returns the payload emitted when a collateral
// return is parked in the pending ledger instead of paid out.
func NewPostponedReturnEvent(token, beneficiary crypto.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypePostponedReturn,
		Attributes: map[string]string{
			"token":       token.String(),
			"beneficiary": beneficiary.String(),
			"amount":      amount.String(),
		},
	}
}

func newChallengeEvent(eventType string, number uint64, ch *Challenge) *types.Event {
	attrs := map[string]string{
		"challenge": strconv.FormatUint(number, 10),
	}
	if ch != nil {
		attrs["challenger"] = ch.Challenger.String()
		attrs["position"] = ch.Position.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
