package peer

import (
	"net/http"
	"time"
)

// ConnectionConfig holds configuration for peer websocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	SendBuffer      int           `yaml:"send_buffer"`

	CheckOrigin func(r *http.Request) bool `yaml:"-"`
}

// DefaultConnectionConfig returns default peer connection configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		DialTimeout:     5 * time.Second,
		MaxMessageSize:  1024, // timer messages are tiny
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      64,
		CheckOrigin: func(r *http.Request) bool {
			// Peers are trusted; there is no browser origin to check
			return true
		},
	}
}
