// Package clock provides the business-time source. Invoice timestamps are
// always expressed at the business's home offset (UTC+2) regardless of the
// device's configured timezone, so chronology stays comparable across devices.
package clock

import "time"

// BusinessZone is the fixed home-office offset. It deliberately ignores DST:
// a fixed offset keeps ordering stable even when devices disagree about rules.
var BusinessZone = time.FixedZone("UTC+2", 2*60*60)

type Clock interface {
	Now() time.Time
}

// Real reads the system clock and normalizes it to the business zone.
type Real struct{}

func (Real) Now() time.Time {
	return time.Now().In(BusinessZone)
}

// Fixed always returns the same instant; used by tests.
type Fixed struct {
	At time.Time
}

func (f Fixed) Now() time.Time {
	return f.At.In(BusinessZone)
}
