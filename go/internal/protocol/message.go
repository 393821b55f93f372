package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/pomosync/go/internal/timer"
)

// ErrMalformed is returned for payloads that cannot be decoded into a Message
var ErrMalformed = errors.New("malformed message")

// Event is the tag of a peer-to-peer message
type Event string

const (
	EventStart         Event = "start"
	EventStop          Event = "stop"
	EventStatus        Event = "status"
	EventUpdate        Event = "update"
	EventRequestUpdate Event = "requestUpdate"
)

// Message is the wire shape exchanged between peers. Values are never
// mutated after construction; build them with the New* helpers.
type Message struct {
	Event  Event           `json:"event"`
	Time   timer.Remaining `json:"time"`
	Status timer.Phase     `json:"status,omitempty"` // status and update
	Timer  *bool           `json:"timer,omitempty"`  // update: whether the sender is running

	// Completed carries the sender's focus counter on update. Absent from older peers.
	Completed *int `json:"completed,omitempty"`
}

// NewStart announces that the sender started at r
func NewStart(r timer.Remaining) Message {
	return Message{Event: EventStart, Time: r}
}

// NewStop announces that the sender stopped at r
func NewStop(r timer.Remaining) Message {
	return Message{Event: EventStop, Time: r}
}

// NewStatus announces a manual phase switch
func NewStatus(p timer.Phase, r timer.Remaining) Message {
	return Message{Event: EventStatus, Time: r, Status: p}
}

// NewUpdate builds a full-state catch-up snapshot
func NewUpdate(st timer.State) Message {
	running := st.Running
	completed := st.CompletedFocusCount
	return Message{
		Event:     EventUpdate,
		Time:      st.Remaining,
		Status:    st.Phase,
		Timer:     &running,
		Completed: &completed,
	}
}

// NewRequestUpdate asks the receiver to answer with an update
func NewRequestUpdate() Message {
	return Message{Event: EventRequestUpdate}
}

// Running reports the sender's running flag carried by an update
func (m Message) Running() bool {
	return m.Timer != nil && *m.Timer
}

// Known reports whether the event tag is one this version understands
func (m Message) Known() bool {
	switch m.Event {
	case EventStart, EventStop, EventStatus, EventUpdate, EventRequestUpdate:
		return true
	}
	return false
}

// Encode marshals the message for the wire
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return data, nil
}

// Decode parses a wire payload. Unknown event tags decode without error so
// the caller can ignore them; known tags with missing fields are malformed.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Event == "" {
		return Message{}, fmt.Errorf("%w: missing event", ErrMalformed)
	}

	switch m.Event {
	case EventStart, EventStop, EventStatus, EventUpdate:
		if err := requireTime(data); err != nil {
			return Message{}, fmt.Errorf("%w: %s %v", ErrMalformed, m.Event, err)
		}
	}
	switch m.Event {
	case EventStatus, EventUpdate:
		if !m.Status.Valid() {
			return Message{}, fmt.Errorf("%w: invalid status %q for %s", ErrMalformed, m.Status, m.Event)
		}
	}
	if m.Event == EventUpdate && m.Timer == nil {
		return Message{}, fmt.Errorf("%w: update without timer", ErrMalformed)
	}
	if m.Known() {
		m.Time = m.Time.Normalize()
	}
	return m, nil
}

// timePresence tells an absent time field apart from 00:00
type timePresence struct {
	Time *struct {
		Minutes *int `json:"minutes"`
		Seconds *int `json:"seconds"`
	} `json:"time"`
}

func requireTime(data []byte) error {
	var p timePresence
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Time == nil {
		return errors.New("missing time")
	}
	if p.Time.Minutes == nil || p.Time.Seconds == nil {
		return errors.New("incomplete time")
	}
	return nil
}
