package timer

import (
	"fmt"
	"time"
)

// Remaining is a countdown value split into minutes and seconds.
// Seconds is always in [0, 59].
type Remaining struct {
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// NewRemaining normalizes arbitrary minute/second input. Anything that
// encodes a negative total clamps to zero.
func NewRemaining(minutes, seconds int) Remaining {
	return FromSeconds(minutes*60 + seconds)
}

// FromSeconds builds a Remaining from a total number of seconds
func FromSeconds(total int) Remaining {
	if total < 0 {
		total = 0
	}
	return Remaining{Minutes: total / 60, Seconds: total % 60}
}

// FromDuration truncates d to whole seconds
func FromDuration(d time.Duration) Remaining {
	return FromSeconds(int(d / time.Second))
}

func (r Remaining) TotalSeconds() int {
	return r.Minutes*60 + r.Seconds
}

func (r Remaining) IsZero() bool {
	return r.Minutes <= 0 && r.Seconds <= 0
}

// Normalize clamps and re-carries a value that came off the wire.
func (r Remaining) Normalize() Remaining {
	if r.Minutes < 0 || r.Seconds < 0 {
		return Remaining{}
	}
	return NewRemaining(r.Minutes, r.Seconds)
}

// decrement borrows from minutes and stops at zero
func (r Remaining) decrement() Remaining {
	switch {
	case r.Seconds > 0:
		return Remaining{Minutes: r.Minutes, Seconds: r.Seconds - 1}
	case r.Minutes > 0:
		return Remaining{Minutes: r.Minutes - 1, Seconds: 59}
	default:
		return Remaining{}
	}
}

// String formats as MM:SS, zero-padded
func (r Remaining) String() string {
	return fmt.Sprintf("%02d:%02d", r.Minutes, r.Seconds)
}
