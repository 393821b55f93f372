package peer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pomosync/go/internal/protocol"
	"github.com/mcdev12/pomosync/go/internal/rendezvous"
)

var (
	ErrPeerNotConnected = errors.New("peer not connected")
	ErrNotAnnounced     = errors.New("not announced into a room")
	ErrSendBufferFull   = errors.New("peer send buffer full")
)

// Handler receives everything the manager observes about peers. Calls for
// one connection arrive in order; calls for different peers may interleave.
type Handler interface {
	HandlePeerReady(peerID string, dialed bool)
	HandleMessage(peerID string, msg protocol.Message)
	HandlePeerClosed(peerID string)
}

type noopHandler struct{}

func (noopHandler) HandlePeerReady(string, bool)           {}
func (noopHandler) HandleMessage(string, protocol.Message) {}
func (noopHandler) HandlePeerClosed(string)                {}

// Manager keeps one live websocket per remote peer in the room
type Manager struct {
	config        ConnectionConfig
	rendezvous    rendezvous.Channel
	advertiseAddr string

	upgrader websocket.Upgrader
	dialer   *websocket.Dialer

	mu      sync.RWMutex
	peers   map[string]*Connection
	handler Handler
	localID string
	roomID  string
	cancel  context.CancelFunc
}

// NewManager creates a manager that announces advertiseAddr (the ws:// URL of
// this process's peer endpoint) on the rendezvous channel.
func NewManager(config ConnectionConfig, channel rendezvous.Channel, advertiseAddr string) *Manager {
	if config.SendBuffer <= 0 {
		config.SendBuffer = DefaultConnectionConfig().SendBuffer
	}
	if config.PingInterval <= 0 {
		config.PingInterval = DefaultConnectionConfig().PingInterval
	}
	return &Manager{
		config:        config,
		rendezvous:    channel,
		advertiseAddr: advertiseAddr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.DialTimeout,
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
		},
		peers:   make(map[string]*Connection),
		handler: noopHandler{},
	}
}

// SetHandler installs the single dispatch target for peer events
func (m *Manager) SetHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h == nil {
		h = noopHandler{}
	}
	m.handler = h
}

func (m *Manager) currentHandler() Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler
}

// LocalID returns this process's peer id, empty before Announce
func (m *Manager) LocalID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.localID
}

// RoomID returns the room joined by Announce
func (m *Manager) RoomID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roomID
}

// Announce obtains a fresh peer id, publishes it into roomID and starts
// dialing every peer that joins afterwards.
func (m *Manager) Announce(ctx context.Context, roomID string) (string, error) {
	localID := uuid.New().String()

	m.mu.Lock()
	if m.roomID != "" {
		m.mu.Unlock()
		return "", fmt.Errorf("already announced into room %s", m.roomID)
	}
	m.localID = localID
	m.roomID = roomID
	watchCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	events, err := m.rendezvous.Join(ctx, roomID, m.self())
	if err != nil {
		cancel()
		m.mu.Lock()
		m.localID, m.roomID, m.cancel = "", "", nil
		m.mu.Unlock()
		return "", fmt.Errorf("join room %s: %w", roomID, err)
	}

	go m.watchRoom(watchCtx, events)

	log.Info().
		Str("room_id", roomID).
		Str("peer_id", localID).
		Str("addr", m.advertiseAddr).
		Msg("announced into room")

	return localID, nil
}

// Leave announces departure, best effort, and closes every peer connection
func (m *Manager) Leave(ctx context.Context) error {
	m.mu.Lock()
	if m.roomID == "" {
		m.mu.Unlock()
		return nil
	}
	self := rendezvous.Peer{ID: m.localID, Addr: m.advertiseAddr}
	roomID := m.roomID
	cancel := m.cancel
	conns := m.peers
	m.peers = make(map[string]*Connection)
	m.roomID, m.cancel = "", nil
	m.mu.Unlock()

	cancel()
	for _, conn := range conns {
		conn.close()
	}

	if err := m.rendezvous.Leave(ctx, roomID, self); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to announce departure")
		return fmt.Errorf("leave room %s: %w", roomID, err)
	}
	return nil
}

func (m *Manager) self() rendezvous.Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return rendezvous.Peer{ID: m.localID, Addr: m.advertiseAddr}
}

// watchRoom turns rendezvous membership events into connects and disconnects
func (m *Manager) watchRoom(ctx context.Context, events <-chan rendezvous.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case rendezvous.PeerJoined:
				go func(p rendezvous.Peer) {
					dialCtx, cancel := context.WithTimeout(ctx, m.dialTimeout())
					defer cancel()
					// failures are logged inside Connect; the session continues without this peer
					_ = m.Connect(dialCtx, p)
				}(ev.Peer)
			case rendezvous.PeerLeft:
				m.Disconnect(ev.Peer.ID)
			}
		}
	}
}

func (m *Manager) dialTimeout() time.Duration {
	if m.config.DialTimeout > 0 {
		return m.config.DialTimeout
	}
	return DefaultConnectionConfig().DialTimeout
}

// Connect opens an outbound connection to p. Unreachable peers are logged
// and reported, never retried.
func (m *Manager) Connect(ctx context.Context, p rendezvous.Peer) error {
	localID, roomID := m.LocalID(), m.RoomID()
	if roomID == "" {
		return ErrNotAnnounced
	}

	target, err := url.Parse(p.Addr)
	if err != nil {
		log.Error().Err(err).Str("peer_id", p.ID).Str("addr", p.Addr).Msg("invalid peer address")
		return fmt.Errorf("parse peer address: %w", err)
	}
	q := target.Query()
	q.Set("room_id", roomID)
	q.Set("peer_id", localID)
	target.RawQuery = q.Encode()

	ws, _, err := m.dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		log.Error().
			Err(err).
			Str("peer_id", p.ID).
			Str("addr", p.Addr).
			Msg("failed to connect to peer")
		return fmt.Errorf("dial peer %s: %w", p.ID, err)
	}

	m.adopt(ws, p.ID, localID)
	return nil
}

// HandlePeerConnection accepts an inbound connection from a peer in our room
func (m *Manager) HandlePeerConnection(w http.ResponseWriter, r *http.Request) {
	remoteID := r.URL.Query().Get("peer_id")
	if remoteID == "" {
		http.Error(w, "peer_id is required", http.StatusBadRequest)
		return
	}

	localID, roomID := m.LocalID(), m.RoomID()
	if roomID == "" {
		http.Error(w, "not in a room", http.StatusServiceUnavailable)
		return
	}
	if r.URL.Query().Get("room_id") != roomID {
		http.Error(w, "room mismatch", http.StatusNotFound)
		return
	}
	if remoteID == localID {
		http.Error(w, "cannot connect to self", http.StatusBadRequest)
		return
	}

	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		log.Error().Err(err).Str("peer_id", remoteID).Msg("failed to upgrade peer connection")
		return
	}

	m.adopt(ws, remoteID, remoteID)
}

// adopt registers a freshly opened socket, starts its pumps and reports it ready
func (m *Manager) adopt(ws *websocket.Conn, peerID, dialerID string) {
	conn := &Connection{
		ID:          uuid.New().String(),
		PeerID:      peerID,
		DialerID:    dialerID,
		Conn:        ws,
		manager:     m,
		send:        make(chan []byte, m.config.SendBuffer),
		done:        make(chan struct{}),
		ConnectedAt: time.Now(),
	}

	if !m.register(conn) {
		ws.Close()
		return
	}
	conn.start()

	log.Info().
		Str("connection_id", conn.ID).
		Str("peer_id", peerID).
		Bool("dialed", conn.Dialed()).
		Msg("peer connection established")

	m.currentHandler().HandlePeerReady(peerID, conn.Dialed())
}

// register adds conn to the pool. When both sides dialed each other, the
// connection opened by the lexicographically smaller peer id wins on both ends.
func (m *Manager) register(conn *Connection) bool {
	m.mu.Lock()
	existing, exists := m.peers[conn.PeerID]
	if exists && existing.DialerID != conn.DialerID && existing.DialerID == m.preferredDialer(conn.PeerID) {
		m.mu.Unlock()
		log.Debug().
			Str("peer_id", conn.PeerID).
			Msg("dropping duplicate peer connection")
		return false
	}
	m.peers[conn.PeerID] = conn
	total := len(m.peers)
	m.mu.Unlock()

	if exists {
		existing.close()
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Str("peer_id", conn.PeerID).
		Int("total_connections", total).
		Msg("connection registered")
	return true
}

// preferredDialer must be called with m.mu held
func (m *Manager) preferredDialer(remoteID string) string {
	if m.localID < remoteID {
		return m.localID
	}
	return remoteID
}

// unregister drops conn if it is still the live connection for its peer
func (m *Manager) unregister(conn *Connection) {
	m.mu.Lock()
	current, ok := m.peers[conn.PeerID]
	if !ok || current != conn {
		m.mu.Unlock()
		return
	}
	delete(m.peers, conn.PeerID)
	h := m.handler
	m.mu.Unlock()

	log.Info().
		Str("connection_id", conn.ID).
		Str("peer_id", conn.PeerID).
		Msg("peer disconnected")

	h.HandlePeerClosed(conn.PeerID)
}

// Disconnect removes and closes the connection to peerID, if any
func (m *Manager) Disconnect(peerID string) {
	m.mu.RLock()
	conn, ok := m.peers[peerID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.unregister(conn)
	conn.close()
}

// Send delivers msg to one peer. It is not retried.
func (m *Manager) Send(peerID string, msg protocol.Message) error {
	m.mu.RLock()
	conn, ok := m.peers[peerID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("send %s to %s: %w", msg.Event, peerID, ErrPeerNotConnected)
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := conn.enqueue(data); err != nil {
		if errors.Is(err, ErrSendBufferFull) {
			// Connection is slow/dead, close it
			log.Warn().Str("peer_id", peerID).Msg("peer send buffer full, closing connection")
			m.Disconnect(peerID)
		}
		return fmt.Errorf("send %s to %s: %w", msg.Event, peerID, err)
	}
	return nil
}

// Broadcast delivers msg to every connected peer and returns how many
// accepted it. Failures are independent per peer.
func (m *Manager) Broadcast(msg protocol.Message) int {
	m.mu.RLock()
	targets := make([]*Connection, 0, len(m.peers))
	for _, conn := range m.peers {
		targets = append(targets, conn)
	}
	m.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}

	// Marshal the message once
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal message for broadcast")
		return 0
	}

	delivered := 0
	for _, conn := range targets {
		if err := conn.enqueue(data); err != nil {
			log.Warn().
				Err(err).
				Str("peer_id", conn.PeerID).
				Str("event", string(msg.Event)).
				Msg("broadcast to peer failed")
			if errors.Is(err, ErrSendBufferFull) {
				m.Disconnect(conn.PeerID)
			}
			continue
		}
		delivered++
	}

	log.Debug().
		Str("event", string(msg.Event)).
		Int("peers", len(targets)).
		Int("delivered", delivered).
		Msg("message broadcasted")

	return delivered
}

// Peers returns the connected peer ids in stable order
func (m *Manager) Peers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
