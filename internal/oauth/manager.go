package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"stridelab-garmin-sync/internal/config"
	"stridelab-garmin-sync/internal/database"
	"stridelab-garmin-sync/internal/garmin"
	"stridelab-garmin-sync/internal/tokens"
)

const stateTTL = 10 * time.Minute

// Manager handles the OAuth 2.0 connect flow with Garmin
type Manager struct {
	config *config.Config
	db     *database.DB
	client *garmin.Client
	cipher *tokens.Cipher
	logger *slog.Logger
	states *stateStore // CSRF protection

	// onConnected runs after a successful callback, typically kicking
	// off a background backfill sync. Best-effort.
	onConnected func(userID string)
}

type stateEntry struct {
	userID  string
	expires time.Time
}

// stateStore tracks valid OAuth states for CSRF protection
type stateStore struct {
	mu     sync.Mutex
	states map[string]stateEntry
}

// NewManager creates a new OAuth manager
func NewManager(cfg *config.Config, db *database.DB, client *garmin.Client, cipher *tokens.Cipher) *Manager {
	mgr := &Manager{
		config: cfg,
		db:     db,
		client: client,
		cipher: cipher,
		logger: slog.Default(),
		states: &stateStore{
			states: make(map[string]stateEntry),
		},
	}

	// Background cleanup of expired states
	go mgr.cleanupStates()

	return mgr
}

// SetOnConnected registers the post-connect hook
func (m *Manager) SetOnConnected(fn func(userID string)) {
	m.onConnected = fn
}

// GenerateAuthURL generates a Garmin authorization URL bound to one
// app user, with CSRF protection.
func (m *Manager) GenerateAuthURL(userID string) (string, string, error) {
	state, err := generateRandomState()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate state: %w", err)
	}

	m.states.mu.Lock()
	m.states.states[state] = stateEntry{userID: userID, expires: time.Now().Add(stateTTL)}
	m.states.mu.Unlock()

	params := url.Values{
		"client_id":     {m.config.GarminClientID},
		"redirect_uri":  {m.config.OAuthRedirectURL},
		"response_type": {"code"},
		"state":         {state},
	}

	authURL := fmt.Sprintf("%s?%s", m.config.GarminAuthorizeURL, params.Encode())

	m.logger.Info("Generated auth URL", "user_id", userID)

	return authURL, state, nil
}

// HandleCallback processes the OAuth callback: code exchange, device
// user lookup, and encrypted connection storage. Returns the app user
// the connection now belongs to.
func (m *Manager) HandleCallback(ctx context.Context, code, state string) (string, error) {
	userID, ok := m.consumeState(state)
	if !ok {
		return "", fmt.Errorf("invalid or expired state")
	}

	tokenResp, err := m.client.ExchangeToken(ctx, code, m.config.OAuthRedirectURL)
	if err != nil {
		return "", fmt.Errorf("failed to exchange code: %w", err)
	}

	garminUserID, err := m.client.GetUserID(ctx, tokenResp.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to look up device user: %w", err)
	}

	accessEnc, err := m.cipher.Encrypt(tokenResp.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshEnc, err := m.cipher.Encrypt(tokenResp.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	conn := &database.Connection{
		UserID:          userID,
		GarminUserID:    &garminUserID,
		Status:          database.StatusConnected,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		TokenExpiresAt:  tokenResp.ExpiresAt(time.Now()),
	}
	if err := m.db.UpsertConnection(conn); err != nil {
		return "", fmt.Errorf("failed to upsert connection: %w", err)
	}

	m.logger.Info("Stored connection", "user_id", userID, "garmin_user_id", garminUserID)

	if m.onConnected != nil {
		// Don't fail the OAuth flow if the initial backfill fails
		go m.onConnected(userID)
	}

	return userID, nil
}

// consumeState checks a state, returning its bound user. One-time use.
func (m *Manager) consumeState(state string) (string, bool) {
	m.states.mu.Lock()
	defer m.states.mu.Unlock()

	entry, exists := m.states.states[state]
	if !exists {
		return "", false
	}
	delete(m.states.states, state)

	if time.Now().After(entry.expires) {
		return "", false
	}
	return entry.userID, true
}

// cleanupStates removes expired states every minute
func (m *Manager) cleanupStates() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		m.states.mu.Lock()
		now := time.Now()
		for state, entry := range m.states.states {
			if now.After(entry.expires) {
				delete(m.states.states, state)
			}
		}
		m.states.mu.Unlock()
	}
}

// generateRandomState generates a cryptographically secure random state
func generateRandomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
