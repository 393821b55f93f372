package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/pomosync/go/internal/peer"
	"github.com/mcdev12/pomosync/go/internal/rendezvous"
	"github.com/mcdev12/pomosync/go/internal/timer"
)

// participant is one full peer process: manager, engine and its own clock
type participant struct {
	manager *peer.Manager
	engine  *Engine
	clock   *clockwork.FakeClock
}

func newParticipant(t *testing.T, hub rendezvous.Channel) *participant {
	t.Helper()

	p := &participant{clock: clockwork.NewFakeClock()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.manager.HandlePeerConnection(w, r)
	}))
	t.Cleanup(srv.Close)

	addr := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/peer"
	p.manager = peer.NewManager(peer.DefaultConnectionConfig(), hub, addr)
	p.engine = New(timer.NewMachine(timer.DefaultConfig(), p.clock), p.manager)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = p.engine.Run(ctx)
	}()
	t.Cleanup(func() {
		_ = p.manager.Leave(context.Background())
		cancel()
		<-stopped
	})
	return p
}

func (p *participant) join(t *testing.T, room string) {
	t.Helper()
	_, err := p.manager.Announce(context.Background(), room)
	require.NoError(t, err)
}

func (p *participant) tickTo(t *testing.T, want timer.Remaining) {
	t.Helper()
	p.clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return p.engine.Snapshot().Remaining == want
	}, waitFor, tick)
}

func TestSession_LateJoinerCatchesUp(t *testing.T) {
	hub := rendezvous.NewMemoryHub()
	ctx := context.Background()

	a := newParticipant(t, hub)
	a.join(t, "abc")
	require.NoError(t, a.engine.Start(ctx))
	a.tickTo(t, timer.Remaining{Minutes: 24, Seconds: 59})
	a.tickTo(t, timer.Remaining{Minutes: 24, Seconds: 58})

	b := newParticipant(t, hub)
	b.join(t, "abc")

	want := timer.State{Phase: timer.PhaseFocus, Remaining: timer.Remaining{Minutes: 24, Seconds: 58}, Running: true}
	require.Eventually(t, func() bool {
		return b.engine.Snapshot().State() == want
	}, waitFor, tick, "late joiner must converge to the running session, not 25:00")

	// b ticks on its own from the caught-up value
	b.tickTo(t, timer.Remaining{Minutes: 24, Seconds: 57})
}

func TestSession_IntentsPropagate(t *testing.T) {
	hub := rendezvous.NewMemoryHub()
	ctx := context.Background()

	a := newParticipant(t, hub)
	b := newParticipant(t, hub)
	a.join(t, "abc")
	b.join(t, "abc")
	require.Eventually(t, func() bool {
		return len(a.engine.Snapshot().Peers) == 1 && len(b.engine.Snapshot().Peers) == 1
	}, waitFor, tick)

	require.NoError(t, b.engine.SwitchPhase(ctx, timer.PhaseLongBreak))
	require.Eventually(t, func() bool {
		return a.engine.Snapshot().Phase == timer.PhaseLongBreak
	}, waitFor, tick)

	require.NoError(t, a.engine.Start(ctx))
	require.Eventually(t, func() bool {
		snap := b.engine.Snapshot()
		return snap.Running && snap.Remaining == timer.Remaining{Minutes: 25}
	}, waitFor, tick)

	a.tickTo(t, timer.Remaining{Minutes: 24, Seconds: 59})
	require.NoError(t, a.engine.Stop(ctx))
	require.Eventually(t, func() bool {
		snap := b.engine.Snapshot()
		return !snap.Running && snap.Remaining == timer.Remaining{Minutes: 24, Seconds: 59}
	}, waitFor, tick)
}

func TestSession_DisconnectKeepsOthersState(t *testing.T) {
	hub := rendezvous.NewMemoryHub()
	ctx := context.Background()

	a := newParticipant(t, hub)
	b := newParticipant(t, hub)
	c := newParticipant(t, hub)
	a.join(t, "abc")
	b.join(t, "abc")
	c.join(t, "abc")

	require.Eventually(t, func() bool {
		return len(a.engine.Snapshot().Peers) == 2 && len(b.engine.Snapshot().Peers) == 2
	}, waitFor, tick)

	require.NoError(t, a.engine.SwitchPhase(ctx, timer.PhaseShortBreak))
	want := timer.State{Phase: timer.PhaseShortBreak, Remaining: timer.Remaining{Minutes: 5}}
	require.Eventually(t, func() bool {
		return b.engine.Snapshot().State() == want
	}, waitFor, tick)

	cID := c.manager.LocalID()
	require.NoError(t, c.manager.Leave(ctx))

	require.Eventually(t, func() bool {
		return len(a.engine.Snapshot().Peers) == 1 && len(b.engine.Snapshot().Peers) == 1
	}, waitFor, tick)
	assert.NotContains(t, a.engine.Snapshot().Peers, cID)
	assert.NotContains(t, b.engine.Snapshot().Peers, cID)
	assert.Equal(t, want, a.engine.Snapshot().State())
	assert.Equal(t, want, b.engine.Snapshot().State())
}
