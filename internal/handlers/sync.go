package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"stridelab-garmin-sync/internal/config"
	"stridelab-garmin-sync/internal/sync"
)

// SyncHandler exposes the orchestrator to internal callers
type SyncHandler struct {
	orchestrator *sync.Orchestrator
	config       *config.Config
	logger       *slog.Logger
}

func NewSyncHandler(orchestrator *sync.Orchestrator, cfg *config.Config) *SyncHandler {
	return &SyncHandler{
		orchestrator: orchestrator,
		config:       cfg,
		logger:       slog.Default(),
	}
}

type syncRequest struct {
	UserID   string `json:"userId"`
	Trigger  string `json:"trigger"`
	SinceISO string `json:"since,omitempty"`
}

// HandleSync handles POST requests to run one sync for one user. The
// orchestrator's status doubles as the response status code.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	if req.Trigger == "" {
		req.Trigger = sync.TriggerManual
	}

	result := h.orchestrator.SyncUser(r.Context(), sync.Request{
		UserID:   req.UserID,
		Trigger:  req.Trigger,
		SinceISO: req.SinceISO,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.Status)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		h.logger.Error("Failed to encode sync response", "error", err)
	}
}

func (h *SyncHandler) authorized(r *http.Request) bool {
	if h.config.InternalAPIKey == "" {
		return false
	}
	provided := r.Header.Get("X-Internal-Api-Key")
	return subtle.ConstantTimeCompare([]byte(provided), []byte(h.config.InternalAPIKey)) == 1
}
