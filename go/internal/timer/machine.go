package timer

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Clock is the subset of clockwork.Clock the tick driver needs.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) clockwork.Ticker
}

// Config holds the configurable phase durations
type Config struct {
	Focus         time.Duration `yaml:"focus"`
	ShortBreak    time.Duration `yaml:"short_break"`
	LongBreak     time.Duration `yaml:"long_break"`
	SessionLength int           `yaml:"session_length"` // focus phases per long break
	TickInterval  time.Duration `yaml:"tick_interval"`
}

// DefaultConfig returns the classic 25/5/25 layout with a long break every 4 focus phases
func DefaultConfig() Config {
	return Config{
		Focus:         25 * time.Minute,
		ShortBreak:    5 * time.Minute,
		LongBreak:     25 * time.Minute,
		SessionLength: 4,
		TickInterval:  time.Second,
	}
}

// State is the replicated timer value
type State struct {
	Phase               Phase     `json:"phase"`
	Remaining           Remaining `json:"remaining"`
	Running             bool      `json:"running"`
	CompletedFocusCount int       `json:"completed_focus_count"`
}

// Title renders the window title read model, e.g. "24:58 - Focus"
func (s State) Title() string {
	return fmt.Sprintf("%s - %s", s.Remaining, s.Phase.Label())
}

// Transition describes an automatic phase advance
type Transition struct {
	From Phase
	To   Phase
}

// Machine owns a TimerState and its tick driver. It is not safe for
// concurrent use; the sync engine drives it from a single goroutine.
type Machine struct {
	cfg    Config
	clock  Clock
	state  State
	ticker clockwork.Ticker
}

// NewMachine creates a stopped machine at the start of a focus phase
func NewMachine(cfg Config, clock Clock) *Machine {
	if cfg.SessionLength <= 0 {
		cfg.SessionLength = DefaultConfig().SessionLength
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	m := &Machine{cfg: cfg, clock: clock}
	m.state = State{Phase: PhaseFocus, Remaining: m.DurationFor(PhaseFocus)}
	return m
}

// State returns a copy of the current state
func (m *Machine) State() State {
	return m.state
}

// Ticks returns the active driver's channel, or nil while stopped so a
// select on it blocks forever.
func (m *Machine) Ticks() <-chan time.Time {
	if m.ticker == nil {
		return nil
	}
	return m.ticker.Chan()
}

// DurationFor returns the configured starting value for a phase
func (m *Machine) DurationFor(p Phase) Remaining {
	switch p {
	case PhaseShortBreak:
		return FromDuration(m.cfg.ShortBreak)
	case PhaseLongBreak:
		return FromDuration(m.cfg.LongBreak)
	default:
		return FromDuration(m.cfg.Focus)
	}
}

// Start begins the countdown. It reports false if already running.
func (m *Machine) Start() bool {
	if m.state.Running {
		return false
	}
	m.startDriver()
	m.state.Running = true
	return true
}

// Stop halts the countdown, leaving remaining untouched. It reports false if already stopped.
func (m *Machine) Stop() bool {
	if !m.state.Running && m.ticker == nil {
		return false
	}
	m.stopDriver()
	m.state.Running = false
	return true
}

// Tick advances the countdown by one second. A tick that finds the
// countdown already at 00:00 halts the driver and advances the phase.
func (m *Machine) Tick() (Transition, bool) {
	if !m.state.Running {
		return Transition{}, false
	}
	if m.state.Remaining.IsZero() {
		m.stopDriver()
		m.state.Running = false
		return m.AdvancePhase(), true
	}
	m.state.Remaining = m.state.Remaining.decrement()
	return Transition{}, false
}

// AdvancePhase moves to the next phase and leaves the timer stopped.
func (m *Machine) AdvancePhase() Transition {
	from := m.state.Phase
	var to Phase
	switch from {
	case PhaseFocus:
		m.state.CompletedFocusCount++
		if m.state.CompletedFocusCount%m.cfg.SessionLength == 0 {
			to = PhaseLongBreak
		} else {
			to = PhaseShortBreak
		}
	default:
		to = PhaseFocus
	}

	m.stopDriver()
	m.state.Phase = to
	m.state.Remaining = m.DurationFor(to)
	m.state.Running = false

	log.Debug().
		Str("from", string(from)).
		Str("to", string(to)).
		Int("completed_focus_count", m.state.CompletedFocusCount).
		Msg("phase advanced")

	return Transition{From: from, To: to}
}

// SetPhase replaces phase and remaining and always halts the driver
func (m *Machine) SetPhase(p Phase, r Remaining) {
	m.stopDriver()
	if p.Valid() {
		m.state.Phase = p
	}
	m.state.Remaining = r.Normalize()
	m.state.Running = false
}

// SetFull replaces the whole state and starts or stops the driver to match running
func (m *Machine) SetFull(p Phase, r Remaining, running bool) {
	if p.Valid() {
		m.state.Phase = p
	}
	m.state.Remaining = r.Normalize()
	if running {
		if m.ticker == nil {
			m.startDriver()
		}
	} else {
		m.stopDriver()
	}
	m.state.Running = running
}

// SetCompleted overrides the focus counter, used when a catch-up snapshot carries one
func (m *Machine) SetCompleted(n int) {
	if n < 0 {
		n = 0
	}
	m.state.CompletedFocusCount = n
}

func (m *Machine) startDriver() {
	if m.ticker != nil {
		return
	}
	m.ticker = m.clock.NewTicker(m.cfg.TickInterval)
}

// stopDriver stops and drops the ticker so at most one driver ever exists
func (m *Machine) stopDriver() {
	if m.ticker == nil {
		return
	}
	m.ticker.Stop()
	select {
	case <-m.ticker.Chan():
	default:
	}
	m.ticker = nil
}
