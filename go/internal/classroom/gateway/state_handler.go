package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livepoll/go/internal/models"
	"github.com/rs/zerolog/log"
)

// StateProvider reads room state without mutating it.
type StateProvider interface {
	GetPollStatus(ctx context.Context) (models.PollStatus, error)
	GetPollHistory(ctx context.Context) ([]models.HistoryRecord, error)
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Connections int    `json:"connections"`
}

// StateHandler serves read-only room state over REST.
type StateHandler struct {
	stateProvider StateProvider
	connections   *ConnectionManager
	clock         clockwork.Clock
}

// NewStateHandler creates a new state handler.
func NewStateHandler(provider StateProvider, cm *ConnectionManager, clock clockwork.Clock) *StateHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &StateHandler{
		stateProvider: provider,
		connections:   cm,
		clock:         clock,
	}
}

// HandleHealth handles GET /api/health.
func (h *StateHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, HealthResponse{
		Status:      "OK",
		Timestamp:   h.clock.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Connections: h.connections.GetConnectionStats().TotalConnections,
	})
}

// HandleCurrentPoll handles GET /api/poll/current.
func (h *StateHandler) HandleCurrentPoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status, err := h.stateProvider.GetPollStatus(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to get poll status")
		http.Error(w, "Failed to get poll status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, status)
}

// HandlePollHistory handles GET /api/poll/history.
func (h *StateHandler) HandlePollHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, err := h.stateProvider.GetPollHistory(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to get poll history")
		http.Error(w, "Failed to get poll history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []models.HistoryRecord{}
	}
	writeJSON(w, records)
}

// RegisterStateRoutes registers the REST routes.
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", h.HandleHealth)
	mux.HandleFunc("/api/poll/current", h.HandleCurrentPoll)
	mux.HandleFunc("/api/poll/history", h.HandlePollHistory)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
