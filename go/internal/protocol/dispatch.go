package protocol

import "github.com/rs/zerolog/log"

// Handler applies one inbound message from peer `from`
type Handler func(from string, msg Message)

// Dispatcher routes inbound messages by event tag. Registration happens once
// at startup, independent of which peers come and go.
type Dispatcher struct {
	handlers map[Event]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Event]Handler)}
}

// On registers h for ev, replacing any previous handler
func (d *Dispatcher) On(ev Event, h Handler) {
	d.handlers[ev] = h
}

// Dispatch runs the handler for msg.Event. Unknown events are a no-op and report false.
func (d *Dispatcher) Dispatch(from string, msg Message) bool {
	h, ok := d.handlers[msg.Event]
	if !ok {
		log.Debug().
			Str("peer_id", from).
			Str("event", string(msg.Event)).
			Msg("ignoring unknown event")
		return false
	}
	h(from, msg)
	return true
}
