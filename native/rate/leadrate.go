package rate

import "errors"

var (
	errNoPendingChange = errors.New("lead rate: no pending change")
	errChangeNotDue    = errors.New("lead rate: application period has not elapsed")
	errSameRate        = errors.New("lead rate: proposed rate equals current rate")
)

// ApplicationDelay is how long a proposed rate change must rest before it can
// be applied.
const ApplicationDelay uint64 = 7 * 24 * 60 * 60

// Leadrate holds the economy-wide base interest rate that positions sync to
// when minting. Changes are two-step: propose, then apply once the delay has
// elapsed, so borrowers can react before the new rate binds them.
type Leadrate struct {
	RatePPM     uint32
	NextRatePPM uint32
	NextChange  uint64
	Pending     bool
}

func NewLeadrate(ratePPM uint32) *Leadrate {
	return &Leadrate{RatePPM: ratePPM}
}

// CurrentRatePPM returns the rate in force at the given time. A due pending
// change is reflected even before ApplyChange materializes it.
func (l *Leadrate) CurrentRatePPM(now uint64) uint32 {
	if l == nil {
		return 0
	}
	if l.Pending && now >= l.NextChange {
		return l.NextRatePPM
	}
	return l.RatePPM
}

// ProposeChange stages a new rate that becomes applicable after the delay.
// Re-proposing overwrites any pending change and restarts the clock.
func (l *Leadrate) ProposeChange(newRatePPM uint32, now uint64) error {
	if newRatePPM == l.CurrentRatePPM(now) && !l.Pending {
		return errSameRate
	}
	l.NextRatePPM = newRatePPM
	l.NextChange = now + ApplicationDelay
	l.Pending = true
	return nil
}

// ApplyChange materializes a due pending change.
func (l *Leadrate) ApplyChange(now uint64) error {
	if !l.Pending {
		return errNoPendingChange
	}
	if now < l.NextChange {
		return errChangeNotDue
	}
	l.RatePPM = l.NextRatePPM
	l.Pending = false
	l.NextRatePPM = 0
	l.NextChange = 0
	return nil
}
