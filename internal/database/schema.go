package database

// Schema contains all SQL statements for creating tables and indexes
const Schema = `
-- Connections table: per-user Garmin OAuth state. At most one row per user.
-- Rows are never deleted, only marked disconnected.
CREATE TABLE IF NOT EXISTS connections (
    user_id TEXT PRIMARY KEY,
    garmin_user_id TEXT,

    status TEXT NOT NULL DEFAULT 'disconnected',  -- disconnected | connected | error

    -- OAuth tokens, encrypted at rest (AES-GCM, base64)
    access_token_enc TEXT NOT NULL DEFAULT '',
    refresh_token_enc TEXT NOT NULL DEFAULT '',
    token_expires_at INTEGER NOT NULL DEFAULT 0,

    -- Sync state
    last_sync_at INTEGER,
    last_sync_cursor INTEGER,
    error_code TEXT,
    error_message TEXT,

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Export rows: raw inbound webhook payloads, append-only, not deduplicated.
-- Audit trail and pull-fallback cache; normalization happens downstream.
CREATE TABLE IF NOT EXISTS export_rows (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    dataset_key TEXT NOT NULL,
    garmin_user_id TEXT NOT NULL,
    source TEXT NOT NULL,  -- push | ping_pull
    payload TEXT NOT NULL,
    received_at INTEGER NOT NULL
);

-- Activities table: normalized exercise sessions
CREATE TABLE IF NOT EXISTS activities (
    user_id TEXT NOT NULL,
    activity_id TEXT NOT NULL,

    start_time INTEGER NOT NULL,
    sport TEXT,
    duration_seconds REAL,
    distance_meters REAL,
    avg_heart_rate REAL,
    max_heart_rate REAL,
    pace_sec_per_km REAL,
    elevation_gain_meters REAL,
    calories REAL,

    -- Raw payload retained for forward compatibility
    raw_json TEXT,

    updated_at INTEGER NOT NULL,

    PRIMARY KEY (user_id, activity_id)
);

-- Daily metrics table: one row per user per calendar day, merged from
-- multiple source datasets.
CREATE TABLE IF NOT EXISTS daily_metrics (
    user_id TEXT NOT NULL,
    date TEXT NOT NULL,  -- YYYY-MM-DD

    steps REAL,
    sleep_score REAL,
    sleep_seconds REAL,
    hrv REAL,
    resting_heart_rate REAL,
    stress REAL,
    body_battery REAL,
    body_battery_high REAL,
    body_battery_low REAL,
    vo2max REAL,
    weight_kg REAL,
    calories REAL,

    raw_json TEXT,

    updated_at INTEGER NOT NULL,

    PRIMARY KEY (user_id, date)
);

-- Derived metrics table: computed training load and readiness per day.
-- Recomputation overwrites, never appends.
CREATE TABLE IF NOT EXISTS derived_metrics (
    user_id TEXT NOT NULL,
    date TEXT NOT NULL,

    acute_load REAL NOT NULL,
    chronic_load REAL NOT NULL,
    acwr REAL NOT NULL,
    load_zone TEXT NOT NULL,

    readiness_score INTEGER NOT NULL,
    readiness_state TEXT NOT NULL,
    drivers_json TEXT NOT NULL,
    confidence TEXT NOT NULL,
    confidence_reason TEXT NOT NULL,
    missing_signals_json TEXT NOT NULL,
    under_recovery BOOLEAN NOT NULL DEFAULT 0,
    under_recovery_triggers_json TEXT NOT NULL,

    computed_at INTEGER NOT NULL,

    PRIMARY KEY (user_id, date)
);

-- Derive jobs queue: durable trigger events for the derive worker
CREATE TABLE IF NOT EXISTS derive_jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT,
    garmin_user_id TEXT,
    dataset_key TEXT NOT NULL,
    source TEXT NOT NULL,
    days INTEGER NOT NULL DEFAULT 1,

    retry_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    next_retry_at INTEGER,
    processing_started_at INTEGER,

    created_at INTEGER NOT NULL DEFAULT (unixepoch())
);

-- Indexes for connections table
CREATE INDEX IF NOT EXISTS idx_connections_status ON connections(status);
CREATE INDEX IF NOT EXISTS idx_connections_garmin_user ON connections(garmin_user_id);

-- Indexes for export_rows table
CREATE INDEX IF NOT EXISTS idx_export_rows_user ON export_rows(garmin_user_id, received_at DESC);
CREATE INDEX IF NOT EXISTS idx_export_rows_dataset ON export_rows(dataset_key);

-- Indexes for activities table
CREATE INDEX IF NOT EXISTS idx_activities_user_start ON activities(user_id, start_time DESC);

-- Indexes for daily_metrics table
CREATE INDEX IF NOT EXISTS idx_daily_metrics_user_date ON daily_metrics(user_id, date DESC);

-- Indexes for derive_jobs queue
CREATE INDEX IF NOT EXISTS idx_derive_jobs_ready ON derive_jobs(next_retry_at, processing_started_at);
`
