package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stridelab-garmin-sync/internal/database"
	"stridelab-garmin-sync/internal/garmin"
	"stridelab-garmin-sync/internal/metrics"
	"stridelab-garmin-sync/internal/normalize"
	"stridelab-garmin-sync/internal/tokens"
)

const (
	incrementalLookback = 30 * 24 * time.Hour
	backfillLookback    = 90 * 24 * time.Hour
	activityLookback    = 90 * 24 * time.Hour

	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond

	// deriveDatasetKey marks derive jobs enqueued by a full sync rather
	// than a single webhook dataset.
	deriveDatasetKey = "all"
)

// Request asks for one sync of one user's Garmin data.
type Request struct {
	UserID   string
	Trigger  string
	SinceISO string
}

// Result mirrors what the sync endpoint returns to callers. Status is the
// HTTP status the handler should answer with.
type Result struct {
	Status               int    `json:"status"`
	Connected            bool   `json:"connected"`
	LastSyncAt           *int64 `json:"lastSyncAt"`
	ActivitiesUpserted   int    `json:"activitiesUpserted"`
	DailyMetricsUpserted int    `json:"dailyMetricsUpserted"`
	NoOp                 bool   `json:"noOp"`
	RetryAfterSeconds    int    `json:"retryAfterSeconds,omitempty"`
	Reason               string `json:"reason,omitempty"`
	NeedsReauth          bool   `json:"needsReauth,omitempty"`
}

// Orchestrator runs the connection check / rate limit / fetch / upsert
// pipeline for a single user.
type Orchestrator struct {
	db     *database.DB
	tokens *tokens.Store
	client *garmin.Client
	logger *slog.Logger

	maxAttempts int
	baseDelay   time.Duration
}

func NewOrchestrator(db *database.DB, store *tokens.Store, client *garmin.Client, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		db:          db,
		tokens:      store,
		client:      client,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
	}
}

type execCounts struct {
	activities   int
	dailyMetrics int
}

// SyncUser performs one orchestrated sync. It never calls the device API
// for disconnected or rate-limited users.
func (o *Orchestrator) SyncUser(ctx context.Context, req Request) Result {
	now := time.Now()

	conn, err := o.tokens.Get(ctx, req.UserID)
	if err != nil && !tokens.IsAuthError(err) {
		o.logger.Error("Failed to load connection", "user_id", req.UserID, "error", err)
		metrics.SyncsTotal.WithLabelValues(req.Trigger, metrics.SyncResultError).Inc()
		return Result{Status: 502, Reason: "connection_lookup_failed"}
	}
	if conn == nil || err != nil || conn.Status != database.StatusConnected {
		metrics.SyncsTotal.WithLabelValues(req.Trigger, metrics.SyncResultNeedsReauth).Inc()
		return Result{Status: 401, NeedsReauth: true, Reason: "not_connected"}
	}

	decision := EvaluateRateLimit(req.Trigger, conn.LastSyncAt, now)
	if !decision.Allowed {
		metrics.SyncsTotal.WithLabelValues(req.Trigger, metrics.SyncResultRateLimited).Inc()
		return Result{
			Status:            429,
			Connected:         true,
			LastSyncAt:        conn.LastSyncAt,
			RetryAfterSeconds: decision.RetryAfterSeconds,
			Reason:            decision.Reason,
		}
	}

	dailyStart, activityStart, end := o.windows(req, conn, now)

	// Fresh may hit the token endpoint, so it runs after the rate limit gate.
	fresh, err := o.tokens.Fresh(ctx, req.UserID)
	if err != nil {
		if tokens.IsAuthError(err) {
			metrics.SyncsTotal.WithLabelValues(req.Trigger, metrics.SyncResultNeedsReauth).Inc()
			return Result{Status: 401, NeedsReauth: true, Reason: "token_refresh_failed"}
		}
		o.logger.Error("Token refresh failed", "user_id", req.UserID, "error", err)
		metrics.SyncsTotal.WithLabelValues(req.Trigger, metrics.SyncResultError).Inc()
		return Result{Status: 502, Connected: true, Reason: "token_refresh_failed"}
	}

	var counts execCounts
	err = withRetry(ctx, o.maxAttempts, o.baseDelay, func() error {
		c, err := o.execute(ctx, fresh, dailyStart, activityStart, end)
		if err != nil {
			return err
		}
		counts = c
		return nil
	})
	if err != nil {
		if tokens.IsAuthError(err) || garmin.IsUnauthorized(err) {
			o.tokens.MarkAuthError(req.UserID, err.Error())
			metrics.SyncsTotal.WithLabelValues(req.Trigger, metrics.SyncResultNeedsReauth).Inc()
			return Result{Status: 401, NeedsReauth: true, Reason: "device_api_unauthorized"}
		}
		o.logger.Error("Sync execution failed",
			"user_id", req.UserID,
			"trigger", req.Trigger,
			"error", err)
		metrics.SyncsTotal.WithLabelValues(req.Trigger, metrics.SyncResultError).Inc()
		return Result{Status: 502, Connected: true, LastSyncAt: conn.LastSyncAt, Reason: "device_api_error"}
	}

	if err := o.db.MarkSyncSuccess(req.UserID, end); err != nil {
		o.logger.Error("Failed to record sync success", "user_id", req.UserID, "error", err)
	}

	// Every successful sync refreshes derived metrics; a backfill recomputes
	// one row per day in its window.
	userID := req.UserID
	if _, err := o.db.EnqueueDeriveJob(&userID, nil, deriveDatasetKey, req.Trigger, deriveDays(req.Trigger)); err != nil {
		o.logger.Error("Failed to enqueue derive job", "user_id", req.UserID, "error", err)
	}

	// Status may have changed mid-call (auth errors are written out of band).
	result := Result{
		Status:               200,
		Connected:            true,
		ActivitiesUpserted:   counts.activities,
		DailyMetricsUpserted: counts.dailyMetrics,
		NoOp:                 counts.activities == 0 && counts.dailyMetrics == 0,
	}
	after, err := o.db.GetConnection(req.UserID)
	if err == nil && after != nil {
		result.Connected = after.Status == database.StatusConnected
		result.LastSyncAt = after.LastSyncAt
	}

	if result.NoOp {
		metrics.SyncsTotal.WithLabelValues(req.Trigger, metrics.SyncResultNoOp).Inc()
	} else {
		metrics.SyncsTotal.WithLabelValues(req.Trigger, metrics.SyncResultSuccess).Inc()
	}
	return result
}

func deriveDays(trigger string) int {
	if trigger == TriggerBackfill {
		return int(backfillLookback / (24 * time.Hour))
	}
	return 1
}

// windows picks the fetch range. Incremental syncs resume from the stored
// cursor; backfills reach back 90 days. Both starts are floored at the
// backfill bound so a long-idle cursor cannot fan out into months of
// chunked requests.
func (o *Orchestrator) windows(req Request, conn *tokens.Connection, now time.Time) (dailyStart, activityStart, end int64) {
	end = now.Unix()

	switch {
	case req.Trigger == TriggerBackfill:
		dailyStart = now.Add(-backfillLookback).Unix()
	case req.SinceISO != "":
		if t, err := parseSince(req.SinceISO); err == nil {
			dailyStart = t.Unix()
		} else {
			o.logger.Warn("Ignoring unparseable since value", "since", req.SinceISO)
			dailyStart = now.Add(-incrementalLookback).Unix()
		}
	case conn.LastSyncCursor != nil:
		dailyStart = *conn.LastSyncCursor
	default:
		dailyStart = now.Add(-incrementalLookback).Unix()
	}

	if floor := now.Add(-backfillLookback).Unix(); dailyStart < floor {
		dailyStart = floor
	}

	activityStart = dailyStart
	if floor := now.Add(-activityLookback).Unix(); activityStart < floor {
		activityStart = floor
	}
	return dailyStart, activityStart, end
}

func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// execute fetches every dataset over its window, normalizes, and upserts.
// Safe to re-run: the storage layer is upsert-only.
func (o *Orchestrator) execute(ctx context.Context, conn *tokens.Connection, dailyStart, activityStart, end int64) (execCounts, error) {
	var counts execCounts

	for _, key := range garmin.Datasets() {
		start := dailyStart
		if key == garmin.DatasetActivities {
			start = activityStart
		}

		rows, err := o.client.FetchDataset(ctx, conn.AccessToken, key, start, end)
		if err != nil {
			return counts, fmt.Errorf("fetch %s: %w", key, err)
		}
		if len(rows) == 0 {
			continue
		}

		if key == garmin.DatasetActivities {
			normalized := make([]*database.Activity, 0, len(rows))
			for _, raw := range rows {
				if a := normalize.Activity(conn.UserID, raw); a != nil {
					normalized = append(normalized, a)
				}
			}
			n, err := o.db.UpsertActivities(normalized)
			if err != nil {
				return counts, fmt.Errorf("upsert activities: %w", err)
			}
			counts.activities += n
			metrics.SyncRowsUpserted.WithLabelValues(key).Add(float64(n))
			continue
		}

		normalized := make([]*database.DailyMetric, 0, len(rows))
		for _, raw := range rows {
			if m := normalize.DailyMetric(conn.UserID, key, raw); m != nil {
				normalized = append(normalized, m)
			}
		}
		n, err := o.db.UpsertDailyMetrics(normalized)
		if err != nil {
			return counts, fmt.Errorf("upsert %s: %w", key, err)
		}
		counts.dailyMetrics += n
		metrics.SyncRowsUpserted.WithLabelValues(key).Add(float64(n))
	}

	return counts, nil
}
