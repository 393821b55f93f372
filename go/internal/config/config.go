package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/pomosync/go/internal/peer"
	"github.com/mcdev12/pomosync/go/internal/rendezvous"
	"github.com/mcdev12/pomosync/go/internal/timer"
)

// Config holds everything a pomosync peer process needs
type Config struct {
	Room         string `yaml:"room"`          // empty: a fresh room id is generated
	ListenAddr   string `yaml:"listen_addr"`   // HTTP + peer websocket listener
	AdvertiseURL string `yaml:"advertise_url"` // ws:// URL other peers dial; derived from ListenAddr if empty
	LogLevel     string `yaml:"log_level"`
	DisplayName  string `yaml:"display_name"` // shown locally next to the timer

	Timer timer.Config          `yaml:"timer"`
	NATS  rendezvous.NATSConfig `yaml:"nats"`
	Peer  peer.ConnectionConfig `yaml:"peer"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		ListenAddr: ":8090",
		LogLevel:   "info",
		Timer:      timer.DefaultConfig(),
		NATS:       rendezvous.DefaultNATSConfig(),
		Peer:       peer.DefaultConnectionConfig(),
	}
}

// Load reads an optional YAML file over the defaults, then applies POMOSYNC_* and NATS_URL overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Room = getEnv("POMOSYNC_ROOM", c.Room)
	c.ListenAddr = getEnv("POMOSYNC_LISTEN_ADDR", c.ListenAddr)
	c.AdvertiseURL = getEnv("POMOSYNC_ADVERTISE_URL", c.AdvertiseURL)
	c.LogLevel = getEnv("POMOSYNC_LOG_LEVEL", c.LogLevel)
	c.DisplayName = getEnv("POMOSYNC_DISPLAY_NAME", c.DisplayName)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)

	c.Timer.Focus = getEnvAsDuration("POMOSYNC_FOCUS", c.Timer.Focus)
	c.Timer.ShortBreak = getEnvAsDuration("POMOSYNC_SHORT_BREAK", c.Timer.ShortBreak)
	c.Timer.LongBreak = getEnvAsDuration("POMOSYNC_LONG_BREAK", c.Timer.LongBreak)
	c.Timer.SessionLength = getEnvAsInt("POMOSYNC_SESSION_LENGTH", c.Timer.SessionLength)
}

// Validate rejects settings the timer or listener cannot run with
func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.Timer.Focus <= 0 || c.Timer.ShortBreak <= 0 || c.Timer.LongBreak <= 0 {
		errs = append(errs, errors.New("timer durations must be positive"))
	}
	if c.Timer.SessionLength <= 0 {
		errs = append(errs, errors.New("timer.session_length must be positive"))
	}
	if c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// PeerURL is the websocket URL announced to the room
func (c Config) PeerURL() string {
	if c.AdvertiseURL != "" {
		return c.AdvertiseURL
	}
	host, port, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		return fmt.Sprintf("ws://%s/ws/peer", c.ListenAddr)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("ws://%s/ws/peer", net.JoinHostPort(host, port))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
