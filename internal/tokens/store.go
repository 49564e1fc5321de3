package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stridelab-garmin-sync/internal/database"
	"stridelab-garmin-sync/internal/garmin"
)

// tokenBuffer refreshes tokens this long before actual expiry
const tokenBuffer = 5 * time.Minute

// AuthErrorCode is the error_code stored on a connection that failed
// authentication against the provider.
const AuthErrorCode = "auth_failed"

// AuthError indicates the user must re-run the OAuth flow
type AuthError struct {
	UserID  string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error for user %s: %s", e.UserID, e.Message)
}

// IsAuthError reports whether err is an AuthError
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Connection is a user's connection with tokens decrypted
type Connection struct {
	UserID         string
	GarminUserID   *string
	Status         string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt int64
	LastSyncAt     *int64
	LastSyncCursor *int64
}

// connectionDB is the slice of the database the store needs
type connectionDB interface {
	GetConnection(userID string) (*database.Connection, error)
	UpdateConnectionTokens(userID, accessTokenEnc, refreshTokenEnc string, expiresAt int64) error
	MarkSyncError(userID, code, message string) error
}

// tokenRefresher is the slice of the Garmin client the store needs
type tokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*garmin.TokenResponse, error)
}

// Store loads, decrypts and refreshes per-user OAuth tokens
type Store struct {
	db     connectionDB
	client tokenRefresher
	cipher *Cipher
	logger *slog.Logger
}

// NewStore creates a token store
func NewStore(db connectionDB, client tokenRefresher, cipher *Cipher, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, client: client, cipher: cipher, logger: logger}
}

// Get loads a user's connection and decrypts its tokens. Returns nil
// when the user has never connected. A stored token that cannot be
// decrypted surfaces as an AuthError, not a panic: the user reconnects
// and the row heals.
func (s *Store) Get(ctx context.Context, userID string) (*Connection, error) {
	row, err := s.db.GetConnection(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}
	if row == nil {
		return nil, nil
	}

	conn := &Connection{
		UserID:         row.UserID,
		GarminUserID:   row.GarminUserID,
		Status:         row.Status,
		TokenExpiresAt: row.TokenExpiresAt,
		LastSyncAt:     row.LastSyncAt,
		LastSyncCursor: row.LastSyncCursor,
	}

	if row.Status != database.StatusConnected {
		return conn, nil
	}

	conn.AccessToken, err = s.cipher.Decrypt(row.AccessTokenEnc)
	if err != nil {
		s.MarkAuthError(userID, "stored access token unreadable")
		return nil, &AuthError{UserID: userID, Message: "stored access token unreadable"}
	}
	conn.RefreshToken, err = s.cipher.Decrypt(row.RefreshTokenEnc)
	if err != nil {
		s.MarkAuthError(userID, "stored refresh token unreadable")
		return nil, &AuthError{UserID: userID, Message: "stored refresh token unreadable"}
	}

	return conn, nil
}

// Fresh returns a connection whose access token is valid for at least
// the refresh buffer, refreshing through the provider if needed.
func (s *Store) Fresh(ctx context.Context, userID string) (*Connection, error) {
	conn, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if conn == nil || conn.Status != database.StatusConnected {
		return conn, nil
	}

	if time.Now().Add(tokenBuffer).Unix() < conn.TokenExpiresAt {
		return conn, nil
	}

	return s.refresh(ctx, conn)
}

// Refresh forces a token refresh for the user
func (s *Store) Refresh(ctx context.Context, userID string) (*Connection, error) {
	conn, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, &AuthError{UserID: userID, Message: "no connection"}
	}
	if conn.Status != database.StatusConnected {
		return nil, &AuthError{UserID: userID, Message: "not connected"}
	}

	return s.refresh(ctx, conn)
}

func (s *Store) refresh(ctx context.Context, conn *Connection) (*Connection, error) {
	s.logger.Info("refreshing token", "user_id", conn.UserID)

	tokenResp, err := s.client.RefreshToken(ctx, conn.RefreshToken)
	if err != nil {
		if garmin.IsUnauthorized(err) {
			s.MarkAuthError(conn.UserID, "refresh token rejected by provider")
			return nil, &AuthError{UserID: conn.UserID, Message: "refresh token rejected by provider"}
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	accessEnc, err := s.cipher.Encrypt(tokenResp.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshToken := tokenResp.RefreshToken
	if refreshToken == "" {
		// Provider may omit the refresh token when it is unchanged
		refreshToken = conn.RefreshToken
	}
	refreshEnc, err := s.cipher.Encrypt(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	expiresAt := tokenResp.ExpiresAt(time.Now())
	if err := s.db.UpdateConnectionTokens(conn.UserID, accessEnc, refreshEnc, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	conn.AccessToken = tokenResp.AccessToken
	conn.RefreshToken = refreshToken
	conn.TokenExpiresAt = expiresAt
	return conn, nil
}

// MarkAuthError records auth failure state on the connection. Best
// effort: its own failures are logged, never returned.
func (s *Store) MarkAuthError(userID, message string) {
	if err := s.db.MarkSyncError(userID, AuthErrorCode, message); err != nil {
		s.logger.Error("failed to mark auth error", "user_id", userID, "error", err)
	}
}
