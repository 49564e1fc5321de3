package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Connection status values
const (
	StatusDisconnected = "disconnected"
	StatusConnected    = "connected"
	StatusError        = "error"
)

// Connection represents a user's Garmin OAuth state
type Connection struct {
	UserID          string
	GarminUserID    *string
	Status          string
	AccessTokenEnc  string
	RefreshTokenEnc string
	TokenExpiresAt  int64
	LastSyncAt      *int64
	LastSyncCursor  *int64
	ErrorCode       *string
	ErrorMessage    *string
	CreatedAt       int64
	UpdatedAt       int64
}

const connectionColumns = `user_id, garmin_user_id, status,
	       access_token_enc, refresh_token_enc, token_expires_at,
	       last_sync_at, last_sync_cursor, error_code, error_message,
	       created_at, updated_at`

func scanConnection(row *sql.Row) (*Connection, error) {
	var c Connection
	err := row.Scan(
		&c.UserID, &c.GarminUserID, &c.Status,
		&c.AccessTokenEnc, &c.RefreshTokenEnc, &c.TokenExpiresAt,
		&c.LastSyncAt, &c.LastSyncCursor, &c.ErrorCode, &c.ErrorMessage,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}
	return &c, nil
}

// GetConnection retrieves a connection by user ID. Returns nil if the
// user has never connected.
func (d *DB) GetConnection(userID string) (*Connection, error) {
	row := d.db.QueryRow(`
		SELECT `+connectionColumns+`
		FROM connections WHERE user_id = ?
	`, userID)
	return scanConnection(row)
}

// UpsertConnection creates or replaces a user's connection. Used on
// OAuth handshake completion; the natural key is user_id so reconnecting
// overwrites rather than duplicates.
func (d *DB) UpsertConnection(c *Connection) error {
	now := time.Now().Unix()
	c.UpdatedAt = now
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}

	_, err := d.db.Exec(`
		INSERT INTO connections (
			user_id, garmin_user_id, status,
			access_token_enc, refresh_token_enc, token_expires_at,
			last_sync_at, last_sync_cursor, error_code, error_message,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			garmin_user_id = excluded.garmin_user_id,
			status = excluded.status,
			access_token_enc = excluded.access_token_enc,
			refresh_token_enc = excluded.refresh_token_enc,
			token_expires_at = excluded.token_expires_at,
			error_code = excluded.error_code,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at
	`, c.UserID, c.GarminUserID, c.Status,
		c.AccessTokenEnc, c.RefreshTokenEnc, c.TokenExpiresAt,
		c.LastSyncAt, c.LastSyncCursor, c.ErrorCode, c.ErrorMessage,
		c.CreatedAt, c.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}
	return nil
}

// UpdateConnectionTokens replaces a user's encrypted token pair
func (d *DB) UpdateConnectionTokens(userID, accessTokenEnc, refreshTokenEnc string, expiresAt int64) error {
	result, err := d.db.Exec(`
		UPDATE connections
		SET access_token_enc = ?, refresh_token_enc = ?, token_expires_at = ?, updated_at = ?
		WHERE user_id = ?
	`, accessTokenEnc, refreshTokenEnc, expiresAt, time.Now().Unix(), userID)

	if err != nil {
		return fmt.Errorf("failed to update connection tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("connection not found")
	}

	return nil
}

// MarkSyncSuccess records a successful sync: advances last_sync_at and
// the cursor and clears any error state.
func (d *DB) MarkSyncSuccess(userID string, cursor int64) error {
	now := time.Now().Unix()
	result, err := d.db.Exec(`
		UPDATE connections
		SET status = ?, last_sync_at = ?, last_sync_cursor = ?,
		    error_code = NULL, error_message = NULL, updated_at = ?
		WHERE user_id = ?
	`, StatusConnected, now, cursor, now, userID)

	if err != nil {
		return fmt.Errorf("failed to mark sync success: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("connection not found")
	}

	return nil
}

// MarkSyncError sets structured error state on a connection
func (d *DB) MarkSyncError(userID, code, message string) error {
	result, err := d.db.Exec(`
		UPDATE connections
		SET status = ?, error_code = ?, error_message = ?, updated_at = ?
		WHERE user_id = ?
	`, StatusError, code, message, time.Now().Unix(), userID)

	if err != nil {
		return fmt.Errorf("failed to mark sync error: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("connection not found")
	}

	return nil
}

// MarkDisconnected marks a connection as disconnected and clears tokens.
// The row is retained.
func (d *DB) MarkDisconnected(userID string) error {
	result, err := d.db.Exec(`
		UPDATE connections
		SET status = ?, access_token_enc = '', refresh_token_enc = '', updated_at = ?
		WHERE user_id = ?
	`, StatusDisconnected, time.Now().Unix(), userID)

	if err != nil {
		return fmt.Errorf("failed to mark disconnected: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("connection not found")
	}

	return nil
}

// ResolveGarminUserID returns the app user IDs connected under a
// device-side user identifier. Usually zero or one, but reconnects under
// a different app account can leave more.
func (d *DB) ResolveGarminUserID(garminUserID string) ([]string, error) {
	rows, err := d.db.Query(`
		SELECT user_id FROM connections
		WHERE garmin_user_id = ? AND status = ?
		ORDER BY user_id ASC
	`, garminUserID, StatusConnected)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve garmin user id: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		userIDs = append(userIDs, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return userIDs, nil
}
