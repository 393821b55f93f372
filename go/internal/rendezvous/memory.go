package rendezvous

import (
	"context"
	"sync"
)

// MemoryHub is an in-process Channel shared by several peers, for tests and
// single-process demos.
type MemoryHub struct {
	mu    sync.Mutex
	rooms map[string]map[string]chan Event
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{rooms: make(map[string]map[string]chan Event)}
}

func (h *MemoryHub) Join(ctx context.Context, roomID string, self Peer) (<-chan Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[roomID]
	if members == nil {
		members = make(map[string]chan Event)
		h.rooms[roomID] = members
	}
	ch := make(chan Event, 64)
	members[self.ID] = ch

	h.notifyLocked(members, self.ID, Event{Type: PeerJoined, Peer: self})
	return ch, nil
}

func (h *MemoryHub) Leave(ctx context.Context, roomID string, self Peer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[roomID]
	ch, ok := members[self.ID]
	if !ok {
		return nil
	}
	delete(members, self.ID)
	close(ch)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}

	h.notifyLocked(members, self.ID, Event{Type: PeerLeft, Peer: self})
	return nil
}

func (h *MemoryHub) notifyLocked(members map[string]chan Event, except string, ev Event) {
	for id, ch := range members {
		if id == except {
			continue
		}
		select {
		case ch <- ev:
		default:
		}
	}
}
