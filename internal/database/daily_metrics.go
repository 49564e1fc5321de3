package database

import (
	"encoding/json"
	"fmt"
	"time"
)

// DailyMetric is one calendar day of wellness data for a user, merged
// from multiple source datasets. (user_id, date) is unique; merges never
// clobber an already-populated field with null.
type DailyMetric struct {
	UserID           string
	Date             string // YYYY-MM-DD
	Steps            *float64
	SleepScore       *float64
	SleepSeconds     *float64
	HRV              *float64
	RestingHeartRate *float64
	Stress           *float64
	BodyBattery      *float64
	BodyBatteryHigh  *float64
	BodyBatteryLow   *float64
	VO2Max           *float64
	WeightKg         *float64
	Calories         *float64
	Raw              json.RawMessage
	UpdatedAt        int64
}

// UpsertDailyMetrics writes daily metrics idempotently. Duplicates
// within the batch are collapsed (last write wins), then each column
// merges via COALESCE so a dataset that only carries, say, sleep fields
// does not null out steps from an earlier wellness push.
// Returns the number of rows written.
func (d *DB) UpsertDailyMetrics(rows []*DailyMetric) (int, error) {
	deduped := dedupeDailyMetrics(rows)
	now := time.Now().Unix()

	for start := 0; start < len(deduped); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(deduped))

		tx, err := d.db.Begin()
		if err != nil {
			return 0, fmt.Errorf("failed to begin transaction: %w", err)
		}

		for _, m := range deduped[start:end] {
			_, err := tx.Exec(`
				INSERT INTO daily_metrics (
					user_id, date, steps, sleep_score, sleep_seconds, hrv,
					resting_heart_rate, stress, body_battery, body_battery_high,
					body_battery_low, vo2max, weight_kg, calories, raw_json, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(user_id, date) DO UPDATE SET
					steps = COALESCE(excluded.steps, daily_metrics.steps),
					sleep_score = COALESCE(excluded.sleep_score, daily_metrics.sleep_score),
					sleep_seconds = COALESCE(excluded.sleep_seconds, daily_metrics.sleep_seconds),
					hrv = COALESCE(excluded.hrv, daily_metrics.hrv),
					resting_heart_rate = COALESCE(excluded.resting_heart_rate, daily_metrics.resting_heart_rate),
					stress = COALESCE(excluded.stress, daily_metrics.stress),
					body_battery = COALESCE(excluded.body_battery, daily_metrics.body_battery),
					body_battery_high = COALESCE(excluded.body_battery_high, daily_metrics.body_battery_high),
					body_battery_low = COALESCE(excluded.body_battery_low, daily_metrics.body_battery_low),
					vo2max = COALESCE(excluded.vo2max, daily_metrics.vo2max),
					weight_kg = COALESCE(excluded.weight_kg, daily_metrics.weight_kg),
					calories = COALESCE(excluded.calories, daily_metrics.calories),
					raw_json = COALESCE(excluded.raw_json, daily_metrics.raw_json),
					updated_at = excluded.updated_at
			`, m.UserID, m.Date, m.Steps, m.SleepScore, m.SleepSeconds, m.HRV,
				m.RestingHeartRate, m.Stress, m.BodyBattery, m.BodyBatteryHigh,
				m.BodyBatteryLow, m.VO2Max, m.WeightKg, m.Calories, rawOrNil(m.Raw), now)
			if err != nil {
				tx.Rollback()
				return 0, fmt.Errorf("failed to upsert daily metric: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("failed to commit daily metric batch: %w", err)
		}
	}

	return len(deduped), nil
}

func dedupeDailyMetrics(rows []*DailyMetric) []*DailyMetric {
	seen := make(map[string]int, len(rows))
	deduped := make([]*DailyMetric, 0, len(rows))
	for _, m := range rows {
		if m == nil {
			continue
		}
		key := m.UserID + "\x00" + m.Date
		if idx, ok := seen[key]; ok {
			deduped[idx] = m
			continue
		}
		seen[key] = len(deduped)
		deduped = append(deduped, m)
	}
	return deduped
}

// ListDailyMetricsRange returns a user's daily metrics with dates in
// [fromDate, toDate], oldest first.
func (d *DB) ListDailyMetricsRange(userID, fromDate, toDate string) ([]*DailyMetric, error) {
	rows, err := d.db.Query(`
		SELECT user_id, date, steps, sleep_score, sleep_seconds, hrv,
		       resting_heart_rate, stress, body_battery, body_battery_high,
		       body_battery_low, vo2max, weight_kg, calories, raw_json, updated_at
		FROM daily_metrics
		WHERE user_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, userID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily metrics: %w", err)
	}
	defer rows.Close()

	var metrics []*DailyMetric
	for rows.Next() {
		var m DailyMetric
		var raw *string
		err := rows.Scan(
			&m.UserID, &m.Date, &m.Steps, &m.SleepScore, &m.SleepSeconds, &m.HRV,
			&m.RestingHeartRate, &m.Stress, &m.BodyBattery, &m.BodyBatteryHigh,
			&m.BodyBatteryLow, &m.VO2Max, &m.WeightKg, &m.Calories, &raw, &m.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily metric: %w", err)
		}
		if raw != nil {
			m.Raw = json.RawMessage(*raw)
		}
		metrics = append(metrics, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily metrics: %w", err)
	}

	return metrics, nil
}
