package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stridelab-garmin-sync/internal/config"
	"stridelab-garmin-sync/internal/database"
	"stridelab-garmin-sync/internal/garmin"
	"stridelab-garmin-sync/internal/sync"
	"stridelab-garmin-sync/internal/tokens"
)

func setupSyncTest(t *testing.T) *SyncHandler {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// The device API is never reached in these tests
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	}))
	t.Cleanup(server.Close)

	cipher, err := tokens.NewCipher("MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	if err != nil {
		t.Fatalf("Failed to create cipher: %v", err)
	}

	client := garmin.NewClient(server.URL, server.URL+"/token", "id", "secret", 5*time.Second, nil)
	store := tokens.NewStore(db, client, cipher, nil)
	orchestrator := sync.NewOrchestrator(db, store, client, nil)

	return NewSyncHandler(orchestrator, &config.Config{InternalAPIKey: "internal-key"})
}

func postSync(handler *SyncHandler, apiKey string, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/sync", bytes.NewReader(data))
	if apiKey != "" {
		req.Header.Set("X-Internal-Api-Key", apiKey)
	}
	w := httptest.NewRecorder()
	handler.HandleSync(w, req)
	return w
}

func TestSyncEndpointRequiresAPIKey(t *testing.T) {
	handler := setupSyncTest(t)

	w := postSync(handler, "wrong-key", map[string]string{"userId": "user-1"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}

	w = postSync(handler, "", map[string]string{"userId": "user-1"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without key, got %d", w.Code)
	}
}

func TestSyncEndpointRequiresUserID(t *testing.T) {
	handler := setupSyncTest(t)

	w := postSync(handler, "internal-key", map[string]string{"trigger": "manual"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestSyncEndpointNotConnectedPropagatesStatus(t *testing.T) {
	handler := setupSyncTest(t)

	w := postSync(handler, "internal-key", map[string]string{"userId": "user-1"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", w.Code)
	}

	var result sync.Result
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !result.NeedsReauth {
		t.Error("Expected needsReauth in response body")
	}
	if result.Connected {
		t.Error("Expected connected=false for unknown user")
	}
}
