package rendezvous

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const flushTimeout = 2 * time.Second

// NATSConfig holds configuration for the NATS rendezvous channel
type NATSConfig struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"` // e.g. "pomosync.room"
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	EventBuffer   int           `yaml:"event_buffer"`
}

// DefaultNATSConfig returns default NATS rendezvous configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "pomosync.room",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		EventBuffer:   64,
	}
}

// NATSChannel implements Channel on core NATS subjects:
// <prefix>.<room>.joined and <prefix>.<room>.left
type NATSChannel struct {
	nc     *nats.Conn
	config NATSConfig
	owned  bool

	mu    sync.Mutex
	rooms map[string]*roomSubscription
}

type roomSubscription struct {
	mu     sync.Mutex
	subs   []*nats.Subscription
	events chan Event
	closed bool
}

// NewNATSChannel connects to NATS and returns a rendezvous channel that owns the connection
func NewNATSChannel(config NATSConfig) (*NATSChannel, error) {
	opts := []nats.Option{
		nats.Name("pomosync-rendezvous"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	ch := NewNATSChannelFromConn(nc, config)
	ch.owned = true
	return ch, nil
}

// NewNATSChannelFromConn wraps an existing connection; Close leaves it open
func NewNATSChannelFromConn(nc *nats.Conn, config NATSConfig) *NATSChannel {
	if config.SubjectPrefix == "" {
		config.SubjectPrefix = DefaultNATSConfig().SubjectPrefix
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultNATSConfig().EventBuffer
	}
	return &NATSChannel{
		nc:     nc,
		config: config,
		rooms:  make(map[string]*roomSubscription),
	}
}

// Join subscribes to the room's membership subjects, then announces self
func (c *NATSChannel) Join(ctx context.Context, roomID string, self Peer) (<-chan Event, error) {
	c.mu.Lock()
	if _, exists := c.rooms[roomID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("already joined room %s", roomID)
	}
	room := &roomSubscription{events: make(chan Event, c.config.EventBuffer)}
	c.rooms[roomID] = room
	c.mu.Unlock()

	for _, evType := range []EventType{PeerJoined, PeerLeft} {
		evType := evType // per-iteration copy; go1.22+ loop semantics under the go1.21 directive
		sub, err := c.nc.Subscribe(c.subject(roomID, evType), func(msg *nats.Msg) {
			c.handleAnnouncement(roomID, room, self, evType, msg)
		})
		if err != nil {
			c.dropRoom(roomID, room)
			return nil, fmt.Errorf("subscribe %s: %w", evType, err)
		}
		room.subs = append(room.subs, sub)
	}

	if err := c.publish(ctx, roomID, PeerJoined, self); err != nil {
		c.dropRoom(roomID, room)
		return nil, err
	}

	log.Info().
		Str("room_id", roomID).
		Str("peer_id", self.ID).
		Msg("joined rendezvous room")

	return room.events, nil
}

// Leave publishes a best-effort departure notice and tears down the subscription
func (c *NATSChannel) Leave(ctx context.Context, roomID string, self Peer) error {
	c.mu.Lock()
	room, exists := c.rooms[roomID]
	c.mu.Unlock()
	if !exists {
		return nil
	}

	err := c.publish(ctx, roomID, PeerLeft, self)
	c.dropRoom(roomID, room)

	log.Info().
		Str("room_id", roomID).
		Str("peer_id", self.ID).
		Msg("left rendezvous room")

	return err
}

// Close drops every room subscription and, if owned, the NATS connection
func (c *NATSChannel) Close() error {
	c.mu.Lock()
	rooms := c.rooms
	c.rooms = make(map[string]*roomSubscription)
	c.mu.Unlock()

	for _, room := range rooms {
		room.close()
	}
	if c.owned && c.nc != nil {
		c.nc.Close()
	}
	return nil
}

func (c *NATSChannel) handleAnnouncement(roomID string, room *roomSubscription, self Peer, evType EventType, msg *nats.Msg) {
	var peer Peer
	if err := json.Unmarshal(msg.Data, &peer); err != nil || peer.ID == "" {
		log.Debug().
			Str("subject", msg.Subject).
			Msg("ignoring malformed rendezvous announcement")
		return
	}
	if peer.ID == self.ID {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.closed {
		return
	}
	select {
	case room.events <- Event{Type: evType, Peer: peer}:
	default:
		log.Warn().
			Str("room_id", roomID).
			Str("peer_id", peer.ID).
			Msg("rendezvous event buffer full, dropping event")
	}
}

func (c *NATSChannel) publish(ctx context.Context, roomID string, evType EventType, self Peer) error {
	data, err := json.Marshal(self)
	if err != nil {
		return fmt.Errorf("marshal announcement: %w", err)
	}
	if err := c.nc.Publish(c.subject(roomID, evType), data); err != nil {
		return fmt.Errorf("publish %s: %w", evType, err)
	}
	// FlushWithContext rejects contexts without a deadline
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	if err := c.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", evType, err)
	}
	return nil
}

func (c *NATSChannel) dropRoom(roomID string, room *roomSubscription) {
	c.mu.Lock()
	if c.rooms[roomID] == room {
		delete(c.rooms, roomID)
	}
	c.mu.Unlock()
	room.close()
}

func (c *NATSChannel) subject(roomID string, evType EventType) string {
	return fmt.Sprintf("%s.%s.%s", c.config.SubjectPrefix, subjectToken(roomID), evType)
}

func (r *roomSubscription) close() {
	for _, sub := range r.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Debug().Err(err).Msg("unsubscribe failed")
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
}

// subjectToken maps a room id onto a single NATS subject token
func subjectToken(roomID string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, roomID)
}
