package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/pomosync/go/internal/timer"
)

func TestDecode_Update(t *testing.T) {
	msg, err := Decode([]byte(`{"event":"update","time":{"minutes":5,"seconds":0},"status":"ShortBreak","timer":false}`))
	require.NoError(t, err)

	assert.Equal(t, EventUpdate, msg.Event)
	assert.Equal(t, timer.Remaining{Minutes: 5}, msg.Time)
	assert.Equal(t, timer.PhaseShortBreak, msg.Status)
	require.NotNil(t, msg.Timer)
	assert.False(t, msg.Running())
	assert.Nil(t, msg.Completed)
}

func TestDecode_UnknownEventIsNotAnError(t *testing.T) {
	msg, err := Decode([]byte(`{"event":"confetti","time":{"minutes":1,"seconds":0}}`))
	require.NoError(t, err)
	assert.False(t, msg.Known())
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"event":`,
		"missing event":     `{"time":{"minutes":1,"seconds":0}}`,
		"bad status":        `{"event":"status","time":{"minutes":1,"seconds":0},"status":"Nap"}`,
		"update no phase":   `{"event":"update","time":{"minutes":1,"seconds":0},"timer":true}`,
		"start no time":     `{"event":"start"}`,
		"stop null time":    `{"event":"stop","time":null}`,
		"status no time":    `{"event":"status","status":"Focus"}`,
		"start half time":   `{"event":"start","time":{"minutes":3}}`,
		"update no timer":   `{"event":"update","time":{"minutes":1,"seconds":0},"status":"Focus"}`,
		"update null timer": `{"event":"update","time":{"minutes":1,"seconds":0},"status":"Focus","timer":null}`,
	}
	for name, payload := range cases {
		_, err := Decode([]byte(payload))
		assert.ErrorIs(t, err, ErrMalformed, name)
	}
}

func TestDecode_RequestUpdateNeedsNoTime(t *testing.T) {
	msg, err := Decode([]byte(`{"event":"requestUpdate"}`))
	require.NoError(t, err)
	assert.Equal(t, EventRequestUpdate, msg.Event)
}

func TestEncode_StoppedUpdateRoundTrips(t *testing.T) {
	data, err := Encode(NewUpdate(timer.State{Phase: timer.PhaseShortBreak, Remaining: timer.Remaining{Minutes: 5}}))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"timer":false`)

	msg, err := Decode(data)
	require.NoError(t, err)
	assert.False(t, msg.Running())
	assert.Equal(t, timer.Remaining{Minutes: 5}, msg.Time)
}

func TestDecode_ClampsNegativeTime(t *testing.T) {
	msg, err := Decode([]byte(`{"event":"start","time":{"minutes":-2,"seconds":10}}`))
	require.NoError(t, err)
	assert.Equal(t, timer.Remaining{}, msg.Time)
}

func TestEncode_WireShape(t *testing.T) {
	data, err := Encode(NewStatus(timer.PhaseLongBreak, timer.Remaining{Minutes: 25}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"status","time":{"minutes":25,"seconds":0},"status":"LongBreak"}`, string(data))

	data, err = Encode(NewUpdate(timer.State{Phase: timer.PhaseFocus, Remaining: timer.Remaining{Minutes: 24, Seconds: 58}, Running: true, CompletedFocusCount: 2}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"update","time":{"minutes":24,"seconds":58},"status":"Focus","timer":true,"completed":2}`, string(data))
}

func TestDispatcher(t *testing.T) {
	d := NewDispatcher()
	var got []string
	d.On(EventStart, func(from string, msg Message) {
		got = append(got, from+":"+string(msg.Event))
	})

	assert.True(t, d.Dispatch("a", NewStart(timer.Remaining{Minutes: 1})))
	assert.False(t, d.Dispatch("b", Message{Event: "wave"}))
	assert.Equal(t, []string{"a:start"}, got)
}
