package position

import (
	"math/big"
	"strconv"

	"deuro/core/types"
	"deuro/crypto"
)

const (
	EventTypePositionOpened    = "position.opened"
	EventTypePositionMinted    = "position.minted"
	EventTypePositionRepaid    = "position.repaid"
	EventTypePositionPrice     = "position.price_adjusted"
	EventTypePositionClosed    = "position.closed"
	EventTypePositionOwnership = "position.ownership_transferred"
)

// NewOpenedEvent returns the canonical payload for a freshly created or
// cloned position.
func NewOpenedEvent(pos *Position) *types.Event {
	evt := newPositionEvent(EventTypePositionOpened, pos)
	if pos != nil {
		evt.Attributes["collateralToken"] = pos.CollateralToken.String()
		evt.Attributes["expiration"] = strconv.FormatUint(pos.Expiration, 10)
		evt.Attributes["challengePeriod"] = strconv.FormatUint(pos.ChallengePeriod, 10)
	}
	return evt
}

// NewMintedEvent returns the payload emitted when principal is minted.
func NewMintedEvent(pos *Position, target crypto.Address, amount *big.Int) *types.Event {
	evt := newPositionEvent(EventTypePositionMinted, pos)
	evt.Attributes["target"] = target.String()
	evt.Attributes["amount"] = amount.String()
	return evt
}

// NewRepaidEvent returns the payload emitted when debt is paid down.
func NewRepaidEvent(pos *Position, payer crypto.Address, amount *big.Int) *types.Event {
	evt := newPositionEvent(EventTypePositionRepaid, pos)
	evt.Attributes["payer"] = payer.String()
	evt.Attributes["amount"] = amount.String()
	return evt
}

// NewPriceAdjustedEvent returns the payload emitted on a price change.
func NewPriceAdjustedEvent(pos *Position) *types.Event {
	evt := newPositionEvent(EventTypePositionPrice, pos)
	if pos != nil {
		evt.Attributes["cooldown"] = strconv.FormatUint(pos.Cooldown, 10)
	}
	return evt
}

// NewClosedEvent returns the payload emitted when a position terminates.
func NewClosedEvent(pos *Position) *types.Event {
	return newPositionEvent(EventTypePositionClosed, pos)
}

// NewOwnershipEvent returns the payload emitted when ownership changes.
func NewOwnershipEvent(pos *Position) *types.Event {
	return newPositionEvent(EventTypePositionOwnership, pos)
}

func newPositionEvent(eventType string, pos *Position) *types.Event {
	attrs := make(map[string]string)
	if pos == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["position"] = pos.Address.String()
	attrs["owner"] = pos.Owner.String()
	if pos.Principal != nil {
		attrs["principal"] = pos.Principal.String()
	}
	if pos.Price != nil {
		attrs["price"] = pos.Price.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
