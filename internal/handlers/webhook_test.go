package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stridelab-garmin-sync/internal/config"
	"stridelab-garmin-sync/internal/database"
)

func setupWebhookTest(t *testing.T) (*WebhookHandler, *database.DB) {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		WebhookSecret: "test-secret",
		HTTPTimeout:   5 * time.Second,
	}
	return NewWebhookHandler(db, cfg), db
}

func strPtr(s string) *string { return &s }

func seedConnectedUser(t *testing.T, db *database.DB, userID, garminUserID string) {
	t.Helper()
	err := db.UpsertConnection(&database.Connection{
		UserID:          userID,
		GarminUserID:    strPtr(garminUserID),
		Status:          database.StatusConnected,
		AccessTokenEnc:  "enc",
		RefreshTokenEnc: "enc",
		TokenExpiresAt:  time.Now().Unix() + 3600,
	})
	if err != nil {
		t.Fatalf("Failed to upsert connection: %v", err)
	}
}

func postWebhook(handler *WebhookHandler, secret string, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/garmin/webhook", bytes.NewReader(data))
	if secret != "" {
		req.Header.Set("X-Webhook-Secret", secret)
	}
	w := httptest.NewRecorder()
	handler.HandleExport(w, req)
	return w
}

func TestWebhookUnauthorizedStoresNothing(t *testing.T) {
	handler, db := setupWebhookTest(t)

	w := postWebhook(handler, "wrong-secret", map[string]any{
		"dailies": []map[string]any{{"userId": "g1", "calendarDate": "2026-08-29", "steps": 100}},
	})

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}

	rows, err := db.ReadExportRows("g1", 0)
	if err != nil {
		t.Fatalf("Failed to read export rows: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("Expected no stored rows, got %d datasets", len(rows))
	}
}

func TestWebhookSecretViaQueryParam(t *testing.T) {
	handler, _ := setupWebhookTest(t)

	data, _ := json.Marshal(map[string]any{})
	req := httptest.NewRequest(http.MethodPost, "/garmin/webhook?secret=test-secret", bytes.NewReader(data))
	w := httptest.NewRecorder()
	handler.HandleExport(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestWebhookUnconfiguredReturns503(t *testing.T) {
	handler, _ := setupWebhookTest(t)
	handler.config = &config.Config{WebhookSecret: "", HTTPTimeout: 5 * time.Second}

	w := postWebhook(handler, "anything", map[string]any{})

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestWebhookPushStoresAndEnqueues(t *testing.T) {
	handler, db := setupWebhookTest(t)
	seedConnectedUser(t, db, "user-1", "g1")

	w := postWebhook(handler, "test-secret", map[string]any{
		"dailies": []map[string]any{
			{"userId": "g1", "calendarDate": "2026-08-28", "steps": 8000},
			{"userId": "g1", "calendarDate": "2026-08-29", "steps": 4000},
		},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp webhookResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.OK {
		t.Error("Expected ok response")
	}
	if resp.AcceptedRows != 2 {
		t.Errorf("Expected 2 accepted rows, got %d", resp.AcceptedRows)
	}
	if resp.DroppedRows != 0 {
		t.Errorf("Expected 0 dropped rows, got %d", resp.DroppedRows)
	}
	// Two rows for the same (user, dataset) collapse to one derive job
	if resp.DeriveQueue.Queued != 1 {
		t.Errorf("Expected 1 derive job, got %d", resp.DeriveQueue.Queued)
	}

	stored, err := db.ReadExportRows("g1", 0)
	if err != nil {
		t.Fatalf("Failed to read export rows: %v", err)
	}
	if len(stored["dailies"]) != 2 {
		t.Errorf("Expected 2 stored export rows, got %d", len(stored["dailies"]))
	}

	// Rows are normalized and merged into daily metrics for the resolved user
	metrics, err := db.ListDailyMetricsRange("user-1", "2026-08-28", "2026-08-29")
	if err != nil {
		t.Fatalf("Failed to list daily metrics: %v", err)
	}
	if len(metrics) != 2 {
		t.Errorf("Expected 2 normalized daily metrics, got %d", len(metrics))
	}

	length, err := db.GetDeriveJobQueueLength()
	if err != nil {
		t.Fatalf("Failed to get queue length: %v", err)
	}
	if length != 1 {
		t.Errorf("Expected 1 queued derive job, got %d", length)
	}
}

func TestWebhookPingPullFetchesCallback(t *testing.T) {
	handler, db := setupWebhookTest(t)
	seedConnectedUser(t, db, "user-1", "g1")

	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{{
			"userId":             "g1",
			"activityId":         "act-9",
			"startTimeInSeconds": time.Now().Unix() - 3600,
			"durationInSeconds":  1200,
		}})
	}))
	defer callback.Close()

	w := postWebhook(handler, "test-secret", map[string]any{
		"activities": []map[string]any{
			{"userId": "g1", "callbackURL": callback.URL},
		},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp webhookResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.AcceptedRows != 1 {
		t.Errorf("Expected 1 accepted row, got %d", resp.AcceptedRows)
	}

	stored, err := db.ReadExportRows("g1", 0)
	if err != nil {
		t.Fatalf("Failed to read export rows: %v", err)
	}
	rows := stored["activities"]
	if len(rows) != 1 {
		t.Fatalf("Expected 1 stored export row, got %d", len(rows))
	}
	if rows[0].Source != database.SourcePingPull {
		t.Errorf("Expected source ping_pull, got %q", rows[0].Source)
	}

	activities, err := db.ListActivitiesBetween("user-1", 0, time.Now().Unix())
	if err != nil {
		t.Fatalf("Failed to list activities: %v", err)
	}
	if len(activities) != 1 || activities[0].ActivityID != "act-9" {
		t.Fatalf("Expected normalized activity act-9, got %v", activities)
	}
}

func TestWebhookPingPullFetchFailureDropsRows(t *testing.T) {
	handler, db := setupWebhookTest(t)
	seedConnectedUser(t, db, "user-1", "g1")

	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer callback.Close()

	w := postWebhook(handler, "test-secret", map[string]any{
		"activities": []map[string]any{
			{"userId": "g1", "callbackURL": callback.URL},
		},
	})

	// A failed pull never fails the whole request
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp webhookResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.AcceptedRows != 0 {
		t.Errorf("Expected 0 accepted rows, got %d", resp.AcceptedRows)
	}
	if resp.DroppedRows != 1 {
		t.Errorf("Expected 1 dropped row, got %d", resp.DroppedRows)
	}

	stored, err := db.ReadExportRows("g1", 0)
	if err != nil {
		t.Fatalf("Failed to read export rows: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("Expected no stored rows, got %v", stored)
	}
}

func TestWebhookStoreFailureCountsPartialBatch(t *testing.T) {
	dir := t.TempDir()
	db, err := database.Open(dir + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	handler := NewWebhookHandler(db, &config.Config{
		WebhookSecret: "test-secret",
		HTTPTimeout:   5 * time.Second,
	})
	seedConnectedUser(t, db, "user-1", "g1")

	// Abort the marked row's insert so the batch fails after one stored row
	raw, err := sql.Open("sqlite", dir+"/test.db")
	if err != nil {
		t.Fatalf("Failed to open raw connection: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	_, err = raw.Exec(`
		CREATE TRIGGER export_rows_reject BEFORE INSERT ON export_rows
		WHEN NEW.payload LIKE '%reject-me%'
		BEGIN SELECT RAISE(ABORT, 'payload rejected'); END
	`)
	if err != nil {
		t.Fatalf("Failed to create trigger: %v", err)
	}

	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"userId": "g1", "calendarDate": "2026-08-27", "steps": 1000},
			{"userId": "g1", "calendarDate": "2026-08-28", "note": "reject-me"},
			{"userId": "g1", "calendarDate": "2026-08-29", "steps": 3000},
		})
	}))
	defer callback.Close()

	w := postWebhook(handler, "test-secret", map[string]any{
		"dailies": []map[string]any{
			{"userId": "g1", "callbackURL": callback.URL},
		},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp webhookResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.AcceptedRows != 1 {
		t.Errorf("Expected 1 accepted row, got %d", resp.AcceptedRows)
	}
	if resp.DroppedRows != 2 {
		t.Errorf("Expected 2 dropped rows, got %d", resp.DroppedRows)
	}

	stored, err := db.ReadExportRows("g1", 0)
	if err != nil {
		t.Fatalf("Failed to read export rows: %v", err)
	}
	if len(stored["dailies"]) != 1 {
		t.Errorf("Expected 1 stored export row, got %d", len(stored["dailies"]))
	}
}

func TestWebhookUnknownDatasetIgnored(t *testing.T) {
	handler, _ := setupWebhookTest(t)

	w := postWebhook(handler, "test-secret", map[string]any{
		"mysteryData": []map[string]any{{"userId": "g1"}},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp webhookResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.AcceptedRows != 0 || resp.DroppedRows != 0 {
		t.Errorf("Expected unknown dataset to be ignored, got %+v", resp)
	}
}
