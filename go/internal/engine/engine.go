// Package engine keeps the local timer consistent with the rest of the room.
//
// Every local intent is applied to the timer first and then broadcast. Every
// inbound message is applied unconditionally, so the last message processed
// wins. Concurrent intents from two peers are not ordered against each other;
// each peer ends with whichever message it processed last.
package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pomosync/go/internal/peer"
	"github.com/mcdev12/pomosync/go/internal/protocol"
	"github.com/mcdev12/pomosync/go/internal/timer"
)

// ErrStopped is returned by intents issued after Run has returned
var ErrStopped = errors.New("sync engine stopped")

const inboxSize = 256

// Transport is what the engine needs from the peer connection manager
type Transport interface {
	SetHandler(h peer.Handler)
	Send(peerID string, msg protocol.Message) error
	Broadcast(msg protocol.Message) int
	Peers() []string
	LocalID() string
	RoomID() string
}

// Engine is the single logical actor of a peer. All timer mutations run on
// the goroutine executing Run.
type Engine struct {
	machine    *timer.Machine
	transport  Transport
	dispatcher *protocol.Dispatcher
	name       string

	inbox chan func()
	done  chan struct{}

	mu          sync.RWMutex
	snapshot    Snapshot
	subscribers map[chan Snapshot]struct{}
}

// Option customizes an Engine at construction
type Option func(*Engine)

// WithName sets the local display name shown in the read model
func WithName(name string) Option {
	return func(e *Engine) {
		e.name = name
	}
}

// New wires the engine as the transport's handler
func New(machine *timer.Machine, transport Transport, opts ...Option) *Engine {
	e := &Engine{
		machine:     machine,
		transport:   transport,
		dispatcher:  protocol.NewDispatcher(),
		inbox:       make(chan func(), inboxSize),
		done:        make(chan struct{}),
		subscribers: make(map[chan Snapshot]struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.dispatcher.On(protocol.EventStart, e.applyStart)
	e.dispatcher.On(protocol.EventStop, e.applyStop)
	e.dispatcher.On(protocol.EventStatus, e.applyStatus)
	e.dispatcher.On(protocol.EventUpdate, e.applyUpdate)
	e.dispatcher.On(protocol.EventRequestUpdate, e.applyRequestUpdate)

	e.snapshot = e.buildSnapshot()
	transport.SetHandler(e)
	return e
}

// Run processes intents, peer events and ticks until ctx is cancelled
func (e *Engine) Run(ctx context.Context) error {
	log.Info().
		Str("room_id", e.transport.RoomID()).
		Str("peer_id", e.transport.LocalID()).
		Msg("sync engine started")
	defer close(e.done)

	e.publish()
	for {
		select {
		case <-ctx.Done():
			e.machine.Stop()
			e.publish()
			e.closeSubscribers()
			log.Info().Msg("sync engine shutting down")
			return nil

		case fn := <-e.inbox:
			fn()
			e.publish()

		case <-e.machine.Ticks():
			e.handleTick()
			e.publish()
		}
	}
}

func (e *Engine) handleTick() {
	tr, advanced := e.machine.Tick()
	if !advanced {
		return
	}
	st := e.machine.State()
	log.Info().
		Str("from", string(tr.From)).
		Str("to", string(tr.To)).
		Int("completed_focus_count", st.CompletedFocusCount).
		Msg("phase completed")
}

// post queues fn on the engine goroutine without waiting for it
func (e *Engine) post(fn func()) {
	select {
	case e.inbox <- fn:
	case <-e.done:
	}
}

// tryPost queues fn only if the inbox has room. Use it for callbacks that may
// run on the engine goroutine itself, where a blocking send can never drain.
func (e *Engine) tryPost(fn func()) bool {
	select {
	case e.inbox <- fn:
		return true
	default:
		return false
	}
}

// do runs fn on the engine goroutine and waits for it to finish
func (e *Engine) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		fn()
		// callers read Snapshot as soon as do returns
		e.publish()
		close(finished)
	}

	select {
	case e.inbox <- wrapped:
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start starts the local countdown and tells the room
func (e *Engine) Start(ctx context.Context) error {
	return e.do(ctx, e.startLocal)
}

// Stop halts the local countdown and tells the room
func (e *Engine) Stop(ctx context.Context) error {
	return e.do(ctx, e.stopLocal)
}

// Toggle starts a stopped timer or stops a running one
func (e *Engine) Toggle(ctx context.Context) error {
	return e.do(ctx, func() {
		if e.machine.State().Running {
			e.stopLocal()
		} else {
			e.startLocal()
		}
	})
}

// SwitchPhase manually selects a phase at its configured duration
func (e *Engine) SwitchPhase(ctx context.Context, p timer.Phase) error {
	return e.do(ctx, func() {
		r := e.machine.DurationFor(p)
		e.machine.SetPhase(p, r)
		e.broadcast(protocol.NewStatus(p, r))
	})
}

// Resync asks every connected peer for a full snapshot
func (e *Engine) Resync(ctx context.Context) error {
	return e.do(ctx, func() {
		e.broadcast(protocol.NewRequestUpdate())
	})
}

func (e *Engine) startLocal() {
	e.machine.Start()
	e.broadcast(protocol.NewStart(e.machine.State().Remaining))
}

func (e *Engine) stopLocal() {
	e.machine.Stop()
	e.broadcast(protocol.NewStop(e.machine.State().Remaining))
}

func (e *Engine) broadcast(msg protocol.Message) {
	n := e.transport.Broadcast(msg)
	log.Info().
		Str("event", string(msg.Event)).
		Str("remaining", msg.Time.String()).
		Int("peers", n).
		Msg("local intent applied")
}

// HandleMessage implements peer.Handler
func (e *Engine) HandleMessage(peerID string, msg protocol.Message) {
	e.post(func() {
		e.dispatcher.Dispatch(peerID, msg)
	})
}

// HandlePeerReady implements peer.Handler. The side that dialed a newcomer
// pushes a catch-up snapshot as soon as the connection is open.
func (e *Engine) HandlePeerReady(peerID string, dialed bool) {
	e.post(func() {
		if dialed {
			e.sendUpdate(peerID)
		}
	})
}

// HandlePeerClosed implements peer.Handler. A failed send can close a peer
// from inside an engine callback, so this never blocks; the peer list is
// re-read on the next publish either way.
func (e *Engine) HandlePeerClosed(peerID string) {
	queued := e.tryPost(func() {
		log.Debug().Str("peer_id", peerID).Msg("peer removed from session")
	})
	if !queued {
		log.Debug().Str("peer_id", peerID).Msg("inbox full, peer removal picked up on next publish")
	}
}

func (e *Engine) sendUpdate(peerID string) {
	st := e.machine.State()
	if err := e.transport.Send(peerID, protocol.NewUpdate(st)); err != nil {
		log.Warn().Err(err).Str("peer_id", peerID).Msg("failed to send catch-up update")
		return
	}
	log.Debug().
		Str("peer_id", peerID).
		Str("phase", string(st.Phase)).
		Str("remaining", st.Remaining.String()).
		Bool("running", st.Running).
		Msg("sent catch-up update")
}

func (e *Engine) applyStart(from string, msg protocol.Message) {
	e.machine.SetFull(e.machine.State().Phase, msg.Time, true)
	e.logApplied(from, msg)
}

func (e *Engine) applyStop(from string, msg protocol.Message) {
	e.machine.SetFull(e.machine.State().Phase, msg.Time, false)
	e.logApplied(from, msg)
}

func (e *Engine) applyStatus(from string, msg protocol.Message) {
	e.machine.SetPhase(msg.Status, msg.Time)
	e.logApplied(from, msg)
}

func (e *Engine) applyUpdate(from string, msg protocol.Message) {
	e.machine.SetFull(msg.Status, msg.Time, msg.Running())
	if msg.Completed != nil {
		e.machine.SetCompleted(*msg.Completed)
	}
	e.logApplied(from, msg)
}

func (e *Engine) applyRequestUpdate(from string, _ protocol.Message) {
	e.sendUpdate(from)
}

func (e *Engine) logApplied(from string, msg protocol.Message) {
	st := e.machine.State()
	log.Debug().
		Str("peer_id", from).
		Str("event", string(msg.Event)).
		Str("phase", string(st.Phase)).
		Str("remaining", st.Remaining.String()).
		Bool("running", st.Running).
		Msg("applied peer message")
}

// Snapshot returns the latest read model. Safe from any goroutine.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot
}

// Subscribe streams read-model changes. Slow subscribers only see the latest
// snapshot. The returned func unsubscribes.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	e.mu.Lock()
	e.subscribers[ch] = struct{}{}
	ch <- e.snapshot
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if _, ok := e.subscribers[ch]; ok {
				delete(e.subscribers, ch)
				close(ch)
			}
		})
	}
}

func (e *Engine) buildSnapshot() Snapshot {
	return newSnapshot(e.machine.State(), e.transport.RoomID(), e.transport.LocalID(), e.name, e.transport.Peers())
}

func (e *Engine) publish() {
	snap := e.buildSnapshot()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot = snap
	for ch := range e.subscribers {
		select {
		case ch <- snap:
		default:
			// replace the stale value the subscriber has not read yet
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (e *Engine) closeSubscribers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ch := range e.subscribers {
		delete(e.subscribers, ch)
		close(ch)
	}
}
