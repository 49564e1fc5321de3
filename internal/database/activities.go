package database

import (
	"encoding/json"
	"fmt"
	"time"
)

// upsertBatchSize bounds how many rows go into one statement batch
const upsertBatchSize = 500

// Activity is one normalized exercise session. (user_id, activity_id)
// is a stable natural key: re-ingestion overwrites, never duplicates.
type Activity struct {
	UserID              string
	ActivityID          string
	StartTime           int64
	Sport               *string
	DurationSeconds     *float64
	DistanceMeters      *float64
	AvgHeartRate        *float64
	MaxHeartRate        *float64
	PaceSecPerKm        *float64
	ElevationGainMeters *float64
	Calories            *float64
	Raw                 json.RawMessage
	UpdatedAt           int64
}

// UpsertActivities writes normalized activities idempotently. Duplicates
// within the batch are collapsed first (last write wins), then rows are
// written in bounded chunks with an overwrite-on-conflict upsert.
// Returns the number of rows written.
func (d *DB) UpsertActivities(rows []*Activity) (int, error) {
	deduped := dedupeActivities(rows)
	now := time.Now().Unix()

	for start := 0; start < len(deduped); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(deduped))

		tx, err := d.db.Begin()
		if err != nil {
			return 0, fmt.Errorf("failed to begin transaction: %w", err)
		}

		for _, a := range deduped[start:end] {
			_, err := tx.Exec(`
				INSERT INTO activities (
					user_id, activity_id, start_time, sport,
					duration_seconds, distance_meters, avg_heart_rate, max_heart_rate,
					pace_sec_per_km, elevation_gain_meters, calories, raw_json, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(user_id, activity_id) DO UPDATE SET
					start_time = excluded.start_time,
					sport = excluded.sport,
					duration_seconds = excluded.duration_seconds,
					distance_meters = excluded.distance_meters,
					avg_heart_rate = excluded.avg_heart_rate,
					max_heart_rate = excluded.max_heart_rate,
					pace_sec_per_km = excluded.pace_sec_per_km,
					elevation_gain_meters = excluded.elevation_gain_meters,
					calories = excluded.calories,
					raw_json = excluded.raw_json,
					updated_at = excluded.updated_at
			`, a.UserID, a.ActivityID, a.StartTime, a.Sport,
				a.DurationSeconds, a.DistanceMeters, a.AvgHeartRate, a.MaxHeartRate,
				a.PaceSecPerKm, a.ElevationGainMeters, a.Calories, rawOrNil(a.Raw), now)
			if err != nil {
				tx.Rollback()
				return 0, fmt.Errorf("failed to upsert activity: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("failed to commit activity batch: %w", err)
		}
	}

	return len(deduped), nil
}

func dedupeActivities(rows []*Activity) []*Activity {
	seen := make(map[string]int, len(rows))
	deduped := make([]*Activity, 0, len(rows))
	for _, a := range rows {
		if a == nil {
			continue
		}
		key := a.UserID + "\x00" + a.ActivityID
		if idx, ok := seen[key]; ok {
			deduped[idx] = a // last write wins
			continue
		}
		seen[key] = len(deduped)
		deduped = append(deduped, a)
	}
	return deduped
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// ListActivitiesBetween returns a user's activities with start times in
// [from, to], oldest first.
func (d *DB) ListActivitiesBetween(userID string, from, to int64) ([]*Activity, error) {
	rows, err := d.db.Query(`
		SELECT user_id, activity_id, start_time, sport,
		       duration_seconds, distance_meters, avg_heart_rate, max_heart_rate,
		       pace_sec_per_km, elevation_gain_meters, calories, raw_json, updated_at
		FROM activities
		WHERE user_id = ? AND start_time >= ? AND start_time <= ?
		ORDER BY start_time ASC
	`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var activities []*Activity
	for rows.Next() {
		var a Activity
		var raw *string
		err := rows.Scan(
			&a.UserID, &a.ActivityID, &a.StartTime, &a.Sport,
			&a.DurationSeconds, &a.DistanceMeters, &a.AvgHeartRate, &a.MaxHeartRate,
			&a.PaceSecPerKm, &a.ElevationGainMeters, &a.Calories, &raw, &a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		if raw != nil {
			a.Raw = json.RawMessage(*raw)
		}
		activities = append(activities, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activities: %w", err)
	}

	return activities, nil
}
