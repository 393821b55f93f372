package engine

import "github.com/mcdev12/pomosync/go/internal/timer"

// Snapshot is the read model offered to presentation layers
type Snapshot struct {
	RoomID              string          `json:"room_id"`
	PeerID              string          `json:"peer_id"`
	Name                string          `json:"name,omitempty"` // local display name, never sent to peers
	Phase               timer.Phase     `json:"phase"`
	Label               string          `json:"label"`
	Remaining           timer.Remaining `json:"remaining"`
	Running             bool            `json:"running"`
	CompletedFocusCount int             `json:"completed_focus_count"`
	Title               string          `json:"title"`
	Color               string          `json:"color"`
	Peers               []string        `json:"peers"`
}

func newSnapshot(st timer.State, roomID, peerID, name string, peers []string) Snapshot {
	if peers == nil {
		peers = []string{}
	}
	return Snapshot{
		RoomID:              roomID,
		PeerID:              peerID,
		Name:                name,
		Phase:               st.Phase,
		Label:               st.Phase.Label(),
		Remaining:           st.Remaining,
		Running:             st.Running,
		CompletedFocusCount: st.CompletedFocusCount,
		Title:               st.Title(),
		Color:               timer.ColorFor(st.Phase),
		Peers:               peers,
	}
}

// State returns the timer portion of the snapshot
func (s Snapshot) State() timer.State {
	return timer.State{
		Phase:               s.Phase,
		Remaining:           s.Remaining,
		Running:             s.Running,
		CompletedFocusCount: s.CompletedFocusCount,
	}
}
