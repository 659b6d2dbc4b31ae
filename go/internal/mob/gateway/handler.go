package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mcdev12/mobster/go/internal/mob/controller"
	"github.com/mcdev12/mobster/go/internal/mob/state"
	"github.com/mcdev12/mobster/go/internal/mob/timer"
	"github.com/rs/zerolog/log"
)

// MobController is the part of the controller the HTTP surface uses.
type MobController interface {
	Starter
	State(ctx context.Context) (controller.View, error)
}

// StateResponse represents the rotation as seen by the local participant
type StateResponse struct {
	controller.View
	TimeRemaining *int `json:"time_remaining_sec,omitempty"`
}

// StateHandler handles HTTP requests for the mob rotation
type StateHandler struct {
	mob          MobController
	stateTimeout time.Duration
}

// NewStateHandler creates a new state handler
func NewStateHandler(mob MobController) *StateHandler {
	return &StateHandler{mob: mob, stateTimeout: 2 * time.Second}
}

// HandleGetState handles GET /api/mob/state
func (h *StateHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.stateTimeout)
	defer cancel()

	view, err := h.mob.State(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to get mob state")
		http.Error(w, "Failed to get mob state", http.StatusServiceUnavailable)
		return
	}

	resp := StateResponse{View: view}
	if opt := view.Option; opt.State == state.PhaseTimerStarted && opt.StartTime != nil {
		remaining := timer.Remaining(time.Now(), *opt.StartTime, opt.MobTimeIntervalSec)
		if remaining > 0 {
			resp.TimeRemaining = &remaining
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to encode mob state response")
	}
}

// HandleStart handles POST /api/mob/start
func (h *StateHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.mob.Start(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, controller.ErrInboxFull) {
			status = http.StatusServiceUnavailable
		}
		log.Warn().Err(err).Msg("failed to request start")
		http.Error(w, "Failed to request start", status)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/mob/state", h.HandleGetState)
	mux.HandleFunc("/api/mob/start", h.HandleStart)
}

// WebSocketHandler handles WebSocket upgrade requests for the local UI
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{connectionManager: cm}
}

// HandleMobConnection handles GET /ws/mob
func (h *WebSocketHandler) HandleMobConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.connectionManager.UpgradeConnection(w, r); err != nil {
		// The upgrader has already written an error response.
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/mob", h.HandleMobConnection)
}
