package timer

import "fmt"

// Phase is the current mode of a shared timer
type Phase string

const (
	PhaseFocus      Phase = "Focus"
	PhaseShortBreak Phase = "ShortBreak"
	PhaseLongBreak  Phase = "LongBreak"
)

// Valid reports whether p is one of the known phases
func (p Phase) Valid() bool {
	switch p {
	case PhaseFocus, PhaseShortBreak, PhaseLongBreak:
		return true
	}
	return false
}

// Label returns the human readable name used in titles
func (p Phase) Label() string {
	switch p {
	case PhaseShortBreak:
		return "Short Break"
	case PhaseLongBreak:
		return "Long Break"
	default:
		return "Focus"
	}
}

// ColorFor returns the presentation color of a phase.
func ColorFor(p Phase) string {
	switch p {
	case PhaseShortBreak:
		return "#5495F0"
	case PhaseLongBreak:
		return "#444345"
	default:
		return "#FC5242"
	}
}

// ParsePhase accepts either the wire value or a url-friendly slug
func ParsePhase(s string) (Phase, error) {
	switch s {
	case string(PhaseFocus), "focus", "pomodoro":
		return PhaseFocus, nil
	case string(PhaseShortBreak), "short_break", "short-break":
		return PhaseShortBreak, nil
	case string(PhaseLongBreak), "long_break", "long-break":
		return PhaseLongBreak, nil
	}
	return "", fmt.Errorf("unknown phase %q", s)
}
