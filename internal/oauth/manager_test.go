package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"stridelab-garmin-sync/internal/config"
	"stridelab-garmin-sync/internal/database"
	"stridelab-garmin-sync/internal/garmin"
	"stridelab-garmin-sync/internal/tokens"
)

func setupManager(t *testing.T) (*Manager, *database.DB, *tokens.Cipher) {
	t.Helper()

	db, err := database.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/token":
			if err := r.ParseForm(); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if r.PostForm.Get("grant_type") != "authorization_code" || r.PostForm.Get("code") != "good-code" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "new-access",
				"refresh_token": "new-refresh",
				"expires_in":    3600,
			})
		case strings.HasPrefix(r.URL.Path, "/wellness-api/rest/user/id"):
			json.NewEncoder(w).Encode(map[string]string{"userId": "garmin-123"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	cipher, err := tokens.NewCipher(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("Failed to create cipher: %v", err)
	}

	cfg := &config.Config{
		GarminClientID:     "client-id",
		GarminAuthorizeURL: "https://example.test/oauth2Confirm",
		OAuthRedirectURL:   "https://app.test/oauth-callback",
	}
	client := garmin.NewClient(server.URL, server.URL+"/token", "client-id", "client-secret", 5*time.Second, nil)

	return NewManager(cfg, db, client, cipher), db, cipher
}

func TestGenerateAuthURLCarriesState(t *testing.T) {
	mgr, _, _ := setupManager(t)

	authURL, state, err := mgr.GenerateAuthURL("user-1")
	if err != nil {
		t.Fatalf("Failed to generate auth URL: %v", err)
	}
	if state == "" {
		t.Fatal("Expected non-empty state")
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("Auth URL does not parse: %v", err)
	}
	q := parsed.Query()
	if q.Get("state") != state {
		t.Errorf("Expected state %q in URL, got %q", state, q.Get("state"))
	}
	if q.Get("client_id") != "client-id" || q.Get("response_type") != "code" {
		t.Errorf("Unexpected auth URL params: %v", q)
	}
}

func TestHandleCallbackStoresConnection(t *testing.T) {
	mgr, db, cipher := setupManager(t)

	_, state, err := mgr.GenerateAuthURL("user-1")
	if err != nil {
		t.Fatalf("Failed to generate auth URL: %v", err)
	}

	userID, err := mgr.HandleCallback(context.Background(), "good-code", state)
	if err != nil {
		t.Fatalf("Failed to handle callback: %v", err)
	}
	if userID != "user-1" {
		t.Errorf("Expected user-1, got %q", userID)
	}

	conn, err := db.GetConnection("user-1")
	if err != nil {
		t.Fatalf("Failed to get connection: %v", err)
	}
	if conn == nil {
		t.Fatal("Expected stored connection")
	}
	if conn.Status != database.StatusConnected {
		t.Errorf("Expected status connected, got %q", conn.Status)
	}
	if conn.GarminUserID == nil || *conn.GarminUserID != "garmin-123" {
		t.Errorf("Expected garmin user id garmin-123, got %v", conn.GarminUserID)
	}

	// Tokens are stored encrypted, not in the clear
	if conn.AccessTokenEnc == "new-access" {
		t.Error("Access token stored unencrypted")
	}
	plain, err := cipher.Decrypt(conn.AccessTokenEnc)
	if err != nil {
		t.Fatalf("Failed to decrypt stored access token: %v", err)
	}
	if plain != "new-access" {
		t.Errorf("Expected decrypted token new-access, got %q", plain)
	}
}

func TestHandleCallbackRejectsUnknownState(t *testing.T) {
	mgr, _, _ := setupManager(t)

	if _, err := mgr.HandleCallback(context.Background(), "good-code", "forged-state"); err == nil {
		t.Fatal("Expected error for unknown state")
	}
}

func TestHandleCallbackStateIsOneTimeUse(t *testing.T) {
	mgr, _, _ := setupManager(t)

	_, state, err := mgr.GenerateAuthURL("user-1")
	if err != nil {
		t.Fatalf("Failed to generate auth URL: %v", err)
	}

	if _, err := mgr.HandleCallback(context.Background(), "good-code", state); err != nil {
		t.Fatalf("First callback failed: %v", err)
	}
	if _, err := mgr.HandleCallback(context.Background(), "good-code", state); err == nil {
		t.Fatal("Expected replayed state to be rejected")
	}
}

func TestHandleCallbackExchangeFailure(t *testing.T) {
	mgr, db, _ := setupManager(t)

	_, state, err := mgr.GenerateAuthURL("user-1")
	if err != nil {
		t.Fatalf("Failed to generate auth URL: %v", err)
	}

	if _, err := mgr.HandleCallback(context.Background(), "bad-code", state); err == nil {
		t.Fatal("Expected error for rejected code")
	}

	conn, err := db.GetConnection("user-1")
	if err != nil {
		t.Fatalf("Failed to get connection: %v", err)
	}
	if conn != nil {
		t.Error("Expected no connection after failed exchange")
	}
}
