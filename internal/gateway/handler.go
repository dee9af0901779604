package gateway

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Youngger9765/career-creator-sub000/internal/transport"
)

// Handler serves the observer WebSocket endpoint and a health check.
type Handler struct {
	cm *ConnectionManager
}

// NewHandler wraps a connection manager.
func NewHandler(cm *ConnectionManager) *Handler {
	return &Handler{cm: cm}
}

// Routes registers the gateway endpoints on a mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.handleObserve)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// handleObserve upgrades GET /ws?room=<id>&game=<type> to a WebSocket
// observing that board's channel.
func (h *Handler) handleObserve(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	gameType := r.URL.Query().Get("game")
	if roomID == "" || gameType == "" {
		http.Error(w, "room and game query parameters are required", http.StatusBadRequest)
		return
	}

	topic := transport.Topic(roomID, gameType)
	if err := h.cm.UpgradeConnection(w, r, topic); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("observer upgrade failed")
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
