package peer

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pomosync/go/internal/protocol"
)

// Connection is the live link to one remote peer
type Connection struct {
	ID       string // unique per connection, for logs
	PeerID   string
	DialerID string // peer id of the side that opened the connection
	Conn     *websocket.Conn
	manager  *Manager

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	ConnectedAt time.Time
}

// Dialed reports whether the local side opened this connection
func (c *Connection) Dialed() bool {
	return c.DialerID != c.PeerID
}

// enqueue hands a frame to the write pump without blocking
func (c *Connection) enqueue(data []byte) error {
	select {
	case <-c.done:
		return ErrPeerNotConnected
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// close signals the write pump, which sends a close frame and tears down the socket
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Connection) start() {
	go c.writePump()
	go c.readPump()
}

// writePump is the only writer of data frames on the websocket
func (c *Connection) writePump() {
	cfg := c.manager.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.manager.unregister(c)
		c.close()
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Str("peer_id", c.PeerID).
					Msg("failed to write message to peer")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Str("peer_id", c.PeerID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump decodes inbound frames and hands them to the installed handler in order
func (c *Connection) readPump() {
	cfg := c.manager.config
	defer func() {
		c.manager.unregister(c)
		c.close()
	}()

	c.Conn.SetReadLimit(cfg.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Str("peer_id", c.PeerID).
					Msg("unexpected peer close error")
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))

		msg, err := protocol.Decode(data)
		if err != nil {
			log.Debug().
				Err(err).
				Str("peer_id", c.PeerID).
				Msg("dropping malformed peer message")
			continue
		}
		c.manager.currentHandler().HandleMessage(c.PeerID, msg)
	}
}
