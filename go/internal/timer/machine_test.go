package timer

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMachine() *Machine {
	return NewMachine(DefaultConfig(), clockwork.NewFakeClock())
}

func TestNewMachine_Defaults(t *testing.T) {
	m := newTestMachine()
	st := m.State()

	assert.Equal(t, PhaseFocus, st.Phase)
	assert.Equal(t, Remaining{Minutes: 25}, st.Remaining)
	assert.False(t, st.Running)
	assert.Equal(t, 0, st.CompletedFocusCount)
	assert.Nil(t, m.Ticks())
}

func TestStart_Idempotent(t *testing.T) {
	m := newTestMachine()

	require.True(t, m.Start())
	first := m.ticker
	require.NotNil(t, first)

	assert.False(t, m.Start())
	assert.Same(t, first, m.ticker, "second Start must not create another driver")
	assert.True(t, m.State().Running)
}

func TestStop_Idempotent(t *testing.T) {
	m := newTestMachine()
	m.Start()

	assert.True(t, m.Stop())
	assert.False(t, m.Stop())
	assert.False(t, m.State().Running)
	assert.Nil(t, m.ticker)
	assert.Equal(t, Remaining{Minutes: 25}, m.State().Remaining)
}

func TestTick_NotRunningIsNoop(t *testing.T) {
	m := newTestMachine()
	_, advanced := m.Tick()

	assert.False(t, advanced)
	assert.Equal(t, Remaining{Minutes: 25}, m.State().Remaining)
}

func TestTick_BorrowsFromMinutes(t *testing.T) {
	m := newTestMachine()
	m.SetFull(PhaseFocus, Remaining{Minutes: 2, Seconds: 0}, true)

	m.Tick()
	assert.Equal(t, Remaining{Minutes: 1, Seconds: 59}, m.State().Remaining)
}

func TestTick_StrictlyDecreasesThenAdvancesOnce(t *testing.T) {
	for _, start := range []Remaining{{0, 0}, {0, 1}, {0, 59}, {1, 0}, {2, 30}} {
		m := newTestMachine()
		m.SetFull(PhaseFocus, start, true)

		prev := start.TotalSeconds()
		for !m.State().Remaining.IsZero() {
			_, advanced := m.Tick()
			require.False(t, advanced)
			cur := m.State().Remaining.TotalSeconds()
			require.Less(t, cur, prev)
			prev = cur
		}

		tr, advanced := m.Tick()
		require.True(t, advanced, "tick at 00:00 must advance for start %s", start)
		assert.Equal(t, Transition{From: PhaseFocus, To: PhaseShortBreak}, tr)
		assert.False(t, m.State().Running)
		assert.Nil(t, m.ticker)
		assert.Equal(t, 1, m.State().CompletedFocusCount)

		_, advanced = m.Tick()
		assert.False(t, advanced, "no second advance after the driver halted")
	}
}

func TestAdvancePhase_LongBreakEveryFourth(t *testing.T) {
	m := newTestMachine()

	want := map[int]Phase{
		1: PhaseShortBreak, 2: PhaseShortBreak, 3: PhaseShortBreak, 4: PhaseLongBreak,
		5: PhaseShortBreak, 6: PhaseShortBreak, 7: PhaseShortBreak, 8: PhaseLongBreak,
	}
	for completion := 1; completion <= 8; completion++ {
		require.Equal(t, PhaseFocus, m.State().Phase)
		tr := m.AdvancePhase()
		assert.Equal(t, want[completion], tr.To, "completion %d", completion)
		assert.Equal(t, completion, m.State().CompletedFocusCount)

		tr = m.AdvancePhase()
		assert.Equal(t, PhaseFocus, tr.To)
		assert.Equal(t, Remaining{Minutes: 25}, m.State().Remaining)
	}
}

func TestAdvancePhase_UsesConfiguredDurations(t *testing.T) {
	cfg := Config{Focus: 50 * time.Minute, ShortBreak: 10 * time.Minute, LongBreak: 30 * time.Minute, SessionLength: 2}
	m := NewMachine(cfg, clockwork.NewFakeClock())
	m.Start()

	m.AdvancePhase()
	assert.Equal(t, PhaseShortBreak, m.State().Phase)
	assert.Equal(t, Remaining{Minutes: 10}, m.State().Remaining)
	assert.False(t, m.State().Running)

	m.AdvancePhase()
	m.AdvancePhase()
	assert.Equal(t, PhaseLongBreak, m.State().Phase)
	assert.Equal(t, Remaining{Minutes: 30}, m.State().Remaining)
}

func TestSetPhase_HaltsDriver(t *testing.T) {
	m := newTestMachine()
	m.Start()

	m.SetPhase(PhaseShortBreak, Remaining{Minutes: 5})

	st := m.State()
	assert.Equal(t, PhaseShortBreak, st.Phase)
	assert.Equal(t, Remaining{Minutes: 5}, st.Remaining)
	assert.False(t, st.Running)
	assert.Nil(t, m.ticker)
}

func TestSetFull_OverwritesRegardlessOfPriorState(t *testing.T) {
	m := newTestMachine()
	m.SetFull(PhaseLongBreak, Remaining{Minutes: 3, Seconds: 12}, true)

	m.SetFull(PhaseShortBreak, Remaining{Minutes: 5}, false)

	st := m.State()
	assert.Equal(t, PhaseShortBreak, st.Phase)
	assert.Equal(t, Remaining{Minutes: 5}, st.Remaining)
	assert.False(t, st.Running)
	assert.Nil(t, m.ticker)
}

func TestSetFull_RunningKeepsSingleDriver(t *testing.T) {
	m := newTestMachine()
	m.Start()
	first := m.ticker

	m.SetFull(PhaseFocus, Remaining{Minutes: 10}, true)
	assert.Same(t, first, m.ticker)
	assert.True(t, m.State().Running)
}

func TestSetFull_NegativeClampsToImmediateExpiry(t *testing.T) {
	m := newTestMachine()
	m.SetFull(PhaseFocus, Remaining{Minutes: -1, Seconds: 30}, true)

	assert.Equal(t, Remaining{}, m.State().Remaining)
	_, advanced := m.Tick()
	assert.True(t, advanced)
}

func TestDriver_FiresOnClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMachine(DefaultConfig(), clock)
	m.Start()

	clock.Advance(time.Second)
	select {
	case <-m.Ticks():
	case <-time.After(time.Second):
		t.Fatal("expected a tick from the driver")
	}
}

func TestState_Title(t *testing.T) {
	st := State{Phase: PhaseShortBreak, Remaining: Remaining{Minutes: 4, Seconds: 7}}
	assert.Equal(t, "04:07 - Short Break", st.Title())
}
