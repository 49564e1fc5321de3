package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"stridelab-garmin-sync/internal/config"
	"stridelab-garmin-sync/internal/database"
	"stridelab-garmin-sync/internal/garmin"
	"stridelab-garmin-sync/internal/metrics"
	"stridelab-garmin-sync/internal/normalize"
)

// maxPullBody bounds how much of a ping/pull callback response is read
const maxPullBody = 8 << 20

// WebhookHandler ingests Garmin push and ping/pull notifications
type WebhookHandler struct {
	db         *database.DB
	config     *config.Config
	pullClient *http.Client
	logger     *slog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(db *database.DB, cfg *config.Config) *WebhookHandler {
	return &WebhookHandler{
		db:         db,
		config:     cfg,
		pullClient: &http.Client{Timeout: cfg.HTTPTimeout},
		logger:     slog.Default(),
	}
}

type deriveQueueSummary struct {
	Queued int `json:"queued"`
}

type webhookResponse struct {
	OK           bool               `json:"ok"`
	AcceptedRows int                `json:"acceptedRows"`
	DroppedRows  int                `json:"droppedRows"`
	DeriveQueue  deriveQueueSummary `json:"deriveQueue"`
}

// HandleExport handles POST requests carrying dataset arrays. Entries
// with a callback URL are ping/pull notifications: the payload lives
// behind the URL and is fetched before storage.
func (h *WebhookHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.config.WebhookSecret == "" {
		h.logger.Warn("Webhook received but no secret configured")
		http.Error(w, "Webhook not configured", http.StatusServiceUnavailable)
		return
	}
	provided := r.Header.Get("X-Webhook-Secret")
	if provided == "" {
		provided = r.URL.Query().Get("secret")
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.config.WebhookSecret)) != 1 {
		h.logger.Warn("Webhook secret mismatch")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("Failed to read webhook body", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.Error("Invalid JSON in webhook body", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	resp := webhookResponse{OK: true}
	queued := make(map[string]bool)

	for datasetKey, rawEntries := range payload {
		if !garmin.IsKnownDataset(datasetKey) {
			h.logger.Debug("Ignoring unknown dataset key", "dataset_key", datasetKey)
			continue
		}

		var entries []map[string]any
		if err := json.Unmarshal(rawEntries, &entries); err != nil {
			h.logger.Warn("Dataset entry is not an array", "dataset_key", datasetKey, "error", err)
			continue
		}

		accepted, dropped := h.ingestDataset(datasetKey, entries, queued)
		resp.AcceptedRows += accepted
		resp.DroppedRows += dropped
		metrics.WebhookRowsAccepted.WithLabelValues(datasetKey).Add(float64(accepted))
		metrics.WebhookRowsDropped.Add(float64(dropped))
	}

	resp.DeriveQueue.Queued = len(queued)

	h.logger.Info("Webhook processed",
		"accepted_rows", resp.AcceptedRows,
		"dropped_rows", resp.DroppedRows,
		"derive_jobs", resp.DeriveQueue.Queued)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode webhook response", "error", err)
	}
}

// ingestDataset stores one dataset's entries and enqueues derive jobs,
// deduplicated per (garmin user, dataset) within the request.
func (h *WebhookHandler) ingestDataset(datasetKey string, entries []map[string]any, queued map[string]bool) (accepted, dropped int) {
	for _, entry := range entries {
		source := database.SourcePush
		rows := []map[string]any{entry}
		fallbackUser := stringField(entry, "userId", "userAccessToken")

		if cb := stringField(entry, "callbackURL", "callBackURL"); cb != "" {
			pulled, err := h.pull(cb)
			if err != nil {
				h.logger.Warn("Ping/pull fetch failed",
					"dataset_key", datasetKey,
					"error", err)
				dropped++
				continue
			}
			source = database.SourcePingPull
			rows = pulled
		}

		stored, dr, err := h.db.StoreExportRows(datasetKey, source, fallbackUser, rows)
		if err != nil {
			// Partial failure: rows stored before the error still count.
			h.logger.Error("Failed to store export rows", "dataset_key", datasetKey, "error", err)
			accepted += stored
			dropped += len(rows) - stored
			continue
		}
		accepted += stored
		dropped += dr

		h.upsertNormalized(datasetKey, fallbackUser, rows, queued)
	}
	return accepted, dropped
}

// upsertNormalized resolves each row's device user to connected app users,
// normalizes, writes, and marks a derive job for the pair.
func (h *WebhookHandler) upsertNormalized(datasetKey, fallbackUser string, rows []map[string]any, queued map[string]bool) {
	for _, row := range rows {
		garminUserID := stringField(row, "userId", "userAccessToken")
		if garminUserID == "" {
			garminUserID = fallbackUser
		}
		if garminUserID == "" {
			continue
		}

		userIDs, err := h.db.ResolveGarminUserID(garminUserID)
		if err != nil {
			h.logger.Error("Failed to resolve garmin user", "garmin_user_id", garminUserID, "error", err)
			continue
		}

		for _, userID := range userIDs {
			if datasetKey == garmin.DatasetActivities {
				if a := normalize.Activity(userID, row); a != nil {
					if _, err := h.db.UpsertActivities([]*database.Activity{a}); err != nil {
						h.logger.Error("Failed to upsert activity", "user_id", userID, "error", err)
					}
				}
			} else if m := normalize.DailyMetric(userID, datasetKey, row); m != nil {
				if _, err := h.db.UpsertDailyMetrics([]*database.DailyMetric{m}); err != nil {
					h.logger.Error("Failed to upsert daily metric", "user_id", userID, "error", err)
				}
			}
		}

		key := garminUserID + "\x00" + datasetKey
		if !queued[key] {
			if _, err := h.db.EnqueueDeriveJob(nil, &garminUserID, datasetKey, metrics.TriggerWebhook, 1); err != nil {
				h.logger.Error("Failed to enqueue derive job", "garmin_user_id", garminUserID, "error", err)
				continue
			}
			queued[key] = true
		}
	}
}

// pull fetches a ping/pull callback URL. The response is either a bare
// row array or a single row object.
func (h *WebhookHandler) pull(callbackURL string) ([]map[string]any, error) {
	start := time.Now()
	resp, err := h.pullClient.Get(callbackURL)
	if err != nil {
		metrics.GarminAPIRequestsTotal.WithLabelValues(metrics.OpPullCallback, "0").Inc()
		return nil, fmt.Errorf("fetch callback: %w", err)
	}
	defer resp.Body.Close()

	status := fmt.Sprintf("%d", resp.StatusCode)
	metrics.GarminAPIRequestsTotal.WithLabelValues(metrics.OpPullCallback, status).Inc()
	metrics.GarminAPIRequestDuration.WithLabelValues(metrics.OpPullCallback, status).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("callback returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPullBody))
	if err != nil {
		return nil, fmt.Errorf("read callback body: %w", err)
	}

	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err == nil {
		return rows, nil
	}
	var row map[string]any
	if err := json.Unmarshal(body, &row); err == nil {
		return []map[string]any{row}, nil
	}
	return nil, fmt.Errorf("callback body is not JSON rows")
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
