package database

import (
	"encoding/json"
	"fmt"
	"time"
)

// Export row sources
const (
	SourcePush     = "push"
	SourcePingPull = "ping_pull"
)

// ExportRow is a raw inbound webhook payload tagged with its dataset
type ExportRow struct {
	ID           int64
	DatasetKey   string
	GarminUserID string
	Source       string
	Payload      json.RawMessage
	ReceivedAt   int64
}

// StoreExportRows appends raw rows for a dataset. Rows without a
// resolvable device-side user identifier (from the row itself or the
// fallback) are dropped and counted; a dropped row never fails the
// batch. Duplicates are not detected here — the store is append-only.
func (d *DB) StoreExportRows(datasetKey, source, fallbackGarminUserID string, rows []map[string]any) (stored, dropped int, err error) {
	now := time.Now().Unix()

	for _, row := range rows {
		garminUserID := fallbackGarminUserID
		if v, ok := row["userId"].(string); ok && v != "" {
			garminUserID = v
		} else if v, ok := row["userAccessToken"].(string); ok && v != "" {
			garminUserID = v
		}
		if garminUserID == "" {
			dropped++
			continue
		}

		payload, merr := json.Marshal(row)
		if merr != nil {
			dropped++
			continue
		}

		_, err = d.db.Exec(`
			INSERT INTO export_rows (dataset_key, garmin_user_id, source, payload, received_at)
			VALUES (?, ?, ?, ?, ?)
		`, datasetKey, garminUserID, source, string(payload), now)
		if err != nil {
			return stored, dropped, fmt.Errorf("failed to store export row: %w", err)
		}
		stored++
	}

	return stored, dropped, nil
}

// ReadExportRows returns raw rows for a device-side user since the given
// unix time, grouped by dataset key. Used for pull correlation and
// backfill audits.
func (d *DB) ReadExportRows(garminUserID string, since int64) (map[string][]*ExportRow, error) {
	rows, err := d.db.Query(`
		SELECT id, dataset_key, garmin_user_id, source, payload, received_at
		FROM export_rows
		WHERE garmin_user_id = ? AND received_at >= ?
		ORDER BY received_at ASC, id ASC
	`, garminUserID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to read export rows: %w", err)
	}
	defer rows.Close()

	grouped := make(map[string][]*ExportRow)
	for rows.Next() {
		var r ExportRow
		var payload string
		if err := rows.Scan(&r.ID, &r.DatasetKey, &r.GarminUserID, &r.Source, &payload, &r.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan export row: %w", err)
		}
		r.Payload = json.RawMessage(payload)
		grouped[r.DatasetKey] = append(grouped[r.DatasetKey], &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating export rows: %w", err)
	}

	return grouped, nil
}
