package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"stridelab-garmin-sync/internal/config"
	"stridelab-garmin-sync/internal/database"
)

// DerivedHandler serves computed readiness and training-load rows
type DerivedHandler struct {
	db     *database.DB
	config *config.Config
	logger *slog.Logger
}

func NewDerivedHandler(db *database.DB, cfg *config.Config) *DerivedHandler {
	return &DerivedHandler{
		db:     db,
		config: cfg,
		logger: slog.Default(),
	}
}

type derivedResponse struct {
	UserID                string          `json:"userId"`
	Date                  string          `json:"date"`
	AcuteLoad             float64         `json:"acuteLoad"`
	ChronicLoad           float64         `json:"chronicLoad"`
	ACWR                  float64         `json:"acwr"`
	LoadZone              string          `json:"loadZone"`
	ReadinessScore        int             `json:"readinessScore"`
	ReadinessState        string          `json:"readinessState"`
	Drivers               json.RawMessage `json:"drivers"`
	Confidence            string          `json:"confidence"`
	ConfidenceReason      string          `json:"confidenceReason"`
	MissingSignals        json.RawMessage `json:"missingSignals"`
	UnderRecovery         bool            `json:"underRecovery"`
	UnderRecoveryTriggers json.RawMessage `json:"underRecoveryTriggers"`
	ComputedAt            int64           `json:"computedAt"`
}

// HandleGet handles GET requests for one (userId, date) derived row.
// Date defaults to today (UTC).
func (h *DerivedHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.config.InternalAPIKey == "" ||
		subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Internal-Api-Key")), []byte(h.config.InternalAPIKey)) != 1 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	m, err := h.db.GetDerivedMetric(userID, date)
	if err != nil {
		h.logger.Error("Failed to get derived metric", "user_id", userID, "date", date, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if m == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	resp := derivedResponse{
		UserID:                m.UserID,
		Date:                  m.Date,
		AcuteLoad:             m.AcuteLoad,
		ChronicLoad:           m.ChronicLoad,
		ACWR:                  m.ACWR,
		LoadZone:              m.LoadZone,
		ReadinessScore:        m.ReadinessScore,
		ReadinessState:        m.ReadinessState,
		Drivers:               json.RawMessage(m.DriversJSON),
		Confidence:            m.Confidence,
		ConfidenceReason:      m.ConfidenceReason,
		MissingSignals:        json.RawMessage(m.MissingSignalsJSON),
		UnderRecovery:         m.UnderRecovery,
		UnderRecoveryTriggers: json.RawMessage(m.UnderRecoveryTriggersJSON),
		ComputedAt:            m.ComputedAt,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode derived response", "error", err)
	}
}
