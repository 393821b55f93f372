package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/mcdev12/pomosync/go/internal/api"
	"github.com/mcdev12/pomosync/go/internal/config"
	"github.com/mcdev12/pomosync/go/internal/engine"
	"github.com/mcdev12/pomosync/go/internal/peer"
	"github.com/mcdev12/pomosync/go/internal/rendezvous"
	"github.com/mcdev12/pomosync/go/internal/timer"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	room := pflag.StringP("room", "r", "", "room to join (a new one is generated when empty)")
	listen := pflag.StringP("listen", "l", "", "HTTP and peer listen address")
	name := pflag.StringP("name", "n", "", "display name shown next to the timer")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *room != "" {
		cfg.Room = *room
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if *name != "" {
		cfg.DisplayName = *name
	}

	setupLogging(cfg.LogLevel)

	if cfg.Room == "" {
		cfg.Room = uuid.New().String()
		log.Info().Str("room_id", cfg.Room).Msg("generated new room")
	}

	channel, err := rendezvous.NewNATSChannel(cfg.NATS)
	if err != nil {
		log.Fatal().Err(err).Str("nats_url", cfg.NATS.URL).Msg("failed to connect rendezvous channel")
	}
	defer channel.Close()

	manager := peer.NewManager(cfg.Peer, channel, cfg.PeerURL())
	machine := timer.NewMachine(cfg.Timer, clockwork.NewRealClock())
	syncEngine := engine.New(machine, manager, engine.WithName(cfg.DisplayName))
	server := api.NewServer(cfg.ListenAddr, api.NewHandler(syncEngine, manager))

	// Listen before announcing so peers that see us join can dial immediately
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.ListenAddr).Msg("failed to listen")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("HTTP server starting")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	go logTitles(syncEngine)

	announceCtx, announceCancel := context.WithTimeout(ctx, 10*time.Second)
	peerID, err := manager.Announce(announceCtx, cfg.Room)
	announceCancel()
	if err != nil {
		log.Fatal().Err(err).Str("room_id", cfg.Room).Msg("failed to announce into room")
	}

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := syncEngine.Run(ctx); err != nil {
			log.Error().Err(err).Msg("sync engine failed")
		}
	}()

	log.Info().
		Str("room_id", cfg.Room).
		Str("peer_id", peerID).
		Str("peer_url", cfg.PeerURL()).
		Str("nats_url", cfg.NATS.URL).
		Msg("pomosync peer running")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Tell the room we are leaving; best effort
	if err := manager.Leave(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("leave notice not delivered")
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	<-engineDone

	log.Info().Msg("pomosync peer shutdown complete")
}

func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// logTitles is the minimal presentation layer: it prints the title read model whenever it changes
func logTitles(e *engine.Engine) {
	updates, unsubscribe := e.Subscribe()
	defer unsubscribe()

	var last string
	for snap := range updates {
		if snap.Title == last {
			continue
		}
		last = snap.Title
		log.Debug().
			Str("title", snap.Title).
			Str("color", snap.Color).
			Int("peers", len(snap.Peers)).
			Msg("timer")
	}
}
