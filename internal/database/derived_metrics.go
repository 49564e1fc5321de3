package database

import (
	"database/sql"
	"fmt"
	"time"
)

// DerivedMetric is one computed training-load/readiness row per
// (user_id, date). Recomputation overwrites the existing row.
type DerivedMetric struct {
	UserID                    string
	Date                      string
	AcuteLoad                 float64
	ChronicLoad               float64
	ACWR                      float64
	LoadZone                  string
	ReadinessScore            int
	ReadinessState            string
	DriversJSON               string
	Confidence                string
	ConfidenceReason          string
	MissingSignalsJSON        string
	UnderRecovery             bool
	UnderRecoveryTriggersJSON string
	ComputedAt                int64
}

// UpsertDerivedMetric writes a derived row, overwriting on conflict
func (d *DB) UpsertDerivedMetric(m *DerivedMetric) error {
	if m.ComputedAt == 0 {
		m.ComputedAt = time.Now().Unix()
	}

	_, err := d.db.Exec(`
		INSERT INTO derived_metrics (
			user_id, date, acute_load, chronic_load, acwr, load_zone,
			readiness_score, readiness_state, drivers_json,
			confidence, confidence_reason, missing_signals_json,
			under_recovery, under_recovery_triggers_json, computed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET
			acute_load = excluded.acute_load,
			chronic_load = excluded.chronic_load,
			acwr = excluded.acwr,
			load_zone = excluded.load_zone,
			readiness_score = excluded.readiness_score,
			readiness_state = excluded.readiness_state,
			drivers_json = excluded.drivers_json,
			confidence = excluded.confidence,
			confidence_reason = excluded.confidence_reason,
			missing_signals_json = excluded.missing_signals_json,
			under_recovery = excluded.under_recovery,
			under_recovery_triggers_json = excluded.under_recovery_triggers_json,
			computed_at = excluded.computed_at
	`, m.UserID, m.Date, m.AcuteLoad, m.ChronicLoad, m.ACWR, m.LoadZone,
		m.ReadinessScore, m.ReadinessState, m.DriversJSON,
		m.Confidence, m.ConfidenceReason, m.MissingSignalsJSON,
		m.UnderRecovery, m.UnderRecoveryTriggersJSON, m.ComputedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert derived metric: %w", err)
	}
	return nil
}

// GetDerivedMetric retrieves the derived row for a user and date.
// Returns nil if none has been computed.
func (d *DB) GetDerivedMetric(userID, date string) (*DerivedMetric, error) {
	var m DerivedMetric
	err := d.db.QueryRow(`
		SELECT user_id, date, acute_load, chronic_load, acwr, load_zone,
		       readiness_score, readiness_state, drivers_json,
		       confidence, confidence_reason, missing_signals_json,
		       under_recovery, under_recovery_triggers_json, computed_at
		FROM derived_metrics WHERE user_id = ? AND date = ?
	`, userID, date).Scan(
		&m.UserID, &m.Date, &m.AcuteLoad, &m.ChronicLoad, &m.ACWR, &m.LoadZone,
		&m.ReadinessScore, &m.ReadinessState, &m.DriversJSON,
		&m.Confidence, &m.ConfidenceReason, &m.MissingSignalsJSON,
		&m.UnderRecovery, &m.UnderRecoveryTriggersJSON, &m.ComputedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get derived metric: %w", err)
	}
	return &m, nil
}
