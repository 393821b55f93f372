// Package rendezvous exchanges peer identifiers between participants of a room
// so they can open direct connections. It never carries timer state.
package rendezvous

import "context"

// Peer identifies a participant and where it accepts peer connections
type Peer struct {
	ID   string `json:"peer_id"`
	Addr string `json:"addr"`
}

// EventType is the kind of room membership change
type EventType string

const (
	PeerJoined EventType = "joined"
	PeerLeft   EventType = "left"
)

// Event is a membership change observed in a room
type Event struct {
	Type EventType
	Peer Peer
}

// Channel is a pub/sub transport keyed by room identifier.
//
// Join publishes self into the room and returns the stream of future
// joined/left events from other peers. Leave announces departure (best
// effort) and closes the stream returned by Join.
type Channel interface {
	Join(ctx context.Context, roomID string, self Peer) (<-chan Event, error)
	Leave(ctx context.Context, roomID string, self Peer) error
}
