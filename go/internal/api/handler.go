package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pomosync/go/internal/engine"
	"github.com/mcdev12/pomosync/go/internal/timer"
)

// Engine is the part of the sync engine exposed over HTTP
type Engine interface {
	Snapshot() engine.Snapshot
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Toggle(ctx context.Context) error
	SwitchPhase(ctx context.Context, p timer.Phase) error
	Resync(ctx context.Context) error
}

// PeerAcceptor upgrades inbound peer connections
type PeerAcceptor interface {
	HandlePeerConnection(w http.ResponseWriter, r *http.Request)
}

// Handler serves the read model, user intents and the peer endpoint
type Handler struct {
	engine Engine
	peers  PeerAcceptor
}

// NewHandler creates a new HTTP handler
func NewHandler(e Engine, peers PeerAcceptor) *Handler {
	return &Handler{engine: e, peers: peers}
}

// RegisterRoutes registers every route on mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /newroom", h.HandleNewRoom)
	mux.HandleFunc("GET /api/state", h.HandleGetState)
	mux.HandleFunc("POST /api/timer/start", h.intent(h.engine.Start))
	mux.HandleFunc("POST /api/timer/stop", h.intent(h.engine.Stop))
	mux.HandleFunc("POST /api/timer/toggle", h.intent(h.engine.Toggle))
	mux.HandleFunc("POST /api/phase/{phase}", h.HandleSwitchPhase)
	mux.HandleFunc("POST /api/resync", h.intent(h.engine.Resync))
	mux.HandleFunc("GET /ws/peer", h.peers.HandlePeerConnection)
}

// HandleHealth handles GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Error().Err(err).Msg("failed to write health check response")
	}
}

// HandleNewRoom handles GET /newroom with a freshly generated room id
func (h *Handler) HandleNewRoom(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"room": uuid.New().String()})
}

// HandleGetState handles GET /api/state
func (h *Handler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

// HandleSwitchPhase handles POST /api/phase/{phase}
func (h *Handler) HandleSwitchPhase(w http.ResponseWriter, r *http.Request) {
	phase, err := timer.ParsePhase(r.PathValue("phase"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.intent(func(ctx context.Context) error {
		return h.engine.SwitchPhase(ctx, phase)
	})(w, r)
}

// intent adapts an engine call into a handler answering with the new snapshot
func (h *Handler) intent(apply func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := apply(r.Context()); err != nil {
			log.Error().Err(err).Str("path", r.URL.Path).Msg("failed to apply intent")
			http.Error(w, "failed to apply intent", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, h.engine.Snapshot())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
