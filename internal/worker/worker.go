package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"stridelab-garmin-sync/internal/database"
	"stridelab-garmin-sync/internal/insights"
	"stridelab-garmin-sync/internal/metrics"
	"stridelab-garmin-sync/internal/readiness"
)

const dateFormat = "2006-01-02"

// historyDays is how far back daily metrics and activities are loaded
// beyond the earliest derived day: enough for a full chronic-load window
// and readiness baseline.
const historyDays = 28

// Worker processes derive jobs from the queue, computing training load
// and readiness for the users each job names.
type Worker struct {
	db           *database.DB
	insights     *insights.Publisher
	logger       *slog.Logger
	concurrency  int
	pollInterval time.Duration
}

func NewWorker(db *database.DB, publisher *insights.Publisher, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		db:           db,
		insights:     publisher,
		logger:       slog.Default(),
		concurrency:  concurrency,
		pollInterval: 500 * time.Millisecond,
	}
}

// Start runs the claim/process loops until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting derive worker", "concurrency", w.concurrency)
	metrics.WorkerActive.Set(float64(w.concurrency))
	defer metrics.WorkerActive.Set(0)

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(ctx)
		}()
	}
	wg.Wait()

	w.logger.Info("Derive worker stopped")
	return ctx.Err()
}

func (w *Worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := w.db.ClaimDeriveJob()
			if err != nil {
				w.logger.Error("Failed to claim derive job", "error", err)
				sleepCtx(ctx, w.pollInterval)
				continue
			}
			if job == nil {
				metrics.WorkerPollCyclesTotal.WithLabelValues(metrics.OutcomeIdle).Inc()
				sleepCtx(ctx, w.pollInterval)
				continue
			}

			metrics.WorkerPollCyclesTotal.WithLabelValues(metrics.OutcomeJobFound).Inc()
			metrics.QueueItemAge.WithLabelValues(metrics.QueueTypeDeriveJob).Observe(time.Since(job.CreatedAt).Seconds())
			w.processJob(job)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// processJob resolves the job's target users and derives metrics for each.
// One user's failure never blocks the others; the job is only released
// for retry when every resolved user failed.
func (w *Worker) processJob(job *database.DeriveJob) {
	start := time.Now()
	w.logger.Info("Processing derive job",
		"id", job.ID,
		"dataset_key", job.DatasetKey,
		"source", job.Source,
		"retry_count", job.RetryCount)

	userIDs, err := w.resolveUsers(job)
	if err != nil {
		w.logger.Error("Failed to resolve derive job target", "id", job.ID, "error", err)
		w.finish(job, start, metrics.ResultRetry)
		w.release(job, err.Error())
		return
	}
	if len(userIDs) == 0 {
		// Nothing to compute for; retrying will not change that.
		w.logger.Warn("Derive job resolves to no connected users", "id", job.ID)
		w.delete(job)
		w.finish(job, start, metrics.ResultDropped)
		return
	}

	var succeeded int
	var lastErr error
	for _, userID := range userIDs {
		if err := w.deriveUser(userID, job.Days); err != nil {
			lastErr = err
			w.logger.Error("Failed to derive metrics for user",
				"id", job.ID,
				"user_id", userID,
				"error", err)
			continue
		}
		succeeded++
	}

	if succeeded == 0 && lastErr != nil {
		metrics.QueueRetryTotal.WithLabelValues(metrics.QueueTypeDeriveJob, strconv.Itoa(job.RetryCount+1)).Inc()
		w.finish(job, start, metrics.ResultRetry)
		w.release(job, lastErr.Error())
		return
	}

	w.delete(job)
	w.finish(job, start, metrics.ResultSuccess)
	w.logger.Info("Derive job processed", "id", job.ID, "users", succeeded)
}

func (w *Worker) resolveUsers(job *database.DeriveJob) ([]string, error) {
	if job.UserID != nil {
		return []string{*job.UserID}, nil
	}
	if job.GarminUserID != nil {
		return w.db.ResolveGarminUserID(*job.GarminUserID)
	}
	return nil, nil
}

func (w *Worker) delete(job *database.DeriveJob) {
	if err := w.db.DeleteDeriveJob(job.ID); err != nil {
		w.logger.Error("Failed to delete derive job", "id", job.ID, "error", err)
	}
}

func (w *Worker) release(job *database.DeriveJob, errMsg string) {
	retained, err := w.db.ReleaseDeriveJob(job.ID, job.RetryCount, errMsg)
	if err != nil {
		w.logger.Error("Failed to release derive job", "id", job.ID, "error", err)
		return
	}
	if !retained {
		w.logger.Warn("Derive job dropped after max retries", "id", job.ID, "last_error", errMsg)
	}
}

func (w *Worker) finish(job *database.DeriveJob, start time.Time, result string) {
	metrics.QueueProcessingDuration.WithLabelValues(metrics.QueueTypeDeriveJob, result).Observe(time.Since(start).Seconds())
	metrics.QueueDequeueTotal.WithLabelValues(metrics.QueueTypeDeriveJob, result).Inc()
}

// deriveUser recomputes derived metrics for the last `days` calendar
// days, each day scored only against data at or before it.
func (w *Worker) deriveUser(userID string, days int) error {
	if days < 1 {
		days = 1
	}
	now := time.Now().UTC()
	today := now.Truncate(24 * time.Hour)
	from := today.AddDate(0, 0, -(days - 1 + historyDays))

	rows, err := w.db.ListDailyMetricsRange(userID, from.Format(dateFormat), today.Format(dateFormat))
	if err != nil {
		return fmt.Errorf("list daily metrics: %w", err)
	}
	activities, err := w.db.ListActivitiesBetween(userID, from.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("list activities: %w", err)
	}

	var lastSyncAt *time.Time
	if conn, err := w.db.GetConnection(userID); err == nil && conn != nil && conn.LastSyncAt != nil {
		t := time.Unix(*conn.LastSyncAt, 0)
		lastSyncAt = &t
	}

	byDate := make(map[string]*database.DailyMetric, len(rows))
	for _, m := range rows {
		byDate[m.Date] = m
	}

	loads := make(map[string]float64)
	for _, a := range activities {
		date := time.Unix(a.StartTime, 0).UTC().Format(dateFormat)
		var restingHR float64
		if m, ok := byDate[date]; ok && m.RestingHeartRate != nil {
			restingHR = *m.RestingHeartRate
		}
		loads[date] += readiness.ActivityLoad(a, restingHR, 0)
	}

	for di := days - 1; di >= 0; di-- {
		day := today.AddDate(0, 0, -di)
		dayStr := day.Format(dateFormat)

		// Chronic load window: 28 entries ending on the scored day
		dailyLoads := make([]float64, 0, historyDays)
		for back := historyDays - 1; back >= 0; back-- {
			d := day.AddDate(0, 0, -back).Format(dateFormat)
			dailyLoads = append(dailyLoads, loads[d])
		}

		// Baseline pool: up to 28 prior days, then the scored day last
		samples := make([]readiness.Sample, 0, historyDays+1)
		for back := historyDays; back >= 1; back-- {
			d := day.AddDate(0, 0, -back).Format(dateFormat)
			if m, ok := byDate[d]; ok {
				samples = append(samples, sampleFrom(m))
			}
		}
		samples = append(samples, sampleFor(byDate[dayStr], dayStr))

		load := readiness.ComputeLoad(dailyLoads)
		res := readiness.Compute(readiness.Input{
			Samples:    samples,
			LastSyncAt: lastSyncAt,
			AsOf:       now,
			Load:       load,
		})

		if err := w.storeDerived(userID, dayStr, res); err != nil {
			return err
		}
		metrics.DerivedRowsComputed.Inc()

		if di == 0 {
			if err := w.insights.Publish(userID, dayStr, res.Score, res.State); err != nil {
				w.logger.Warn("Failed to publish insights job", "user_id", userID, "error", err)
			}
		}
	}

	return nil
}

func sampleFrom(m *database.DailyMetric) readiness.Sample {
	return readiness.Sample{
		Date:             m.Date,
		HRV:              m.HRV,
		SleepScore:       m.SleepScore,
		RestingHeartRate: m.RestingHeartRate,
		Stress:           m.Stress,
		BodyBattery:      m.BodyBattery,
	}
}

// sampleFor tolerates a day with no stored metrics: the scored day is
// always the last sample, even when empty.
func sampleFor(m *database.DailyMetric, date string) readiness.Sample {
	if m == nil {
		return readiness.Sample{Date: date}
	}
	return sampleFrom(m)
}

func (w *Worker) storeDerived(userID, date string, res readiness.Result) error {
	drivers, err := json.Marshal(res.Drivers)
	if err != nil {
		return fmt.Errorf("marshal drivers: %w", err)
	}
	missing, err := json.Marshal(orEmpty(res.MissingSignals))
	if err != nil {
		return fmt.Errorf("marshal missing signals: %w", err)
	}
	triggers, err := json.Marshal(orEmpty(res.UnderRecoveryTriggers))
	if err != nil {
		return fmt.Errorf("marshal triggers: %w", err)
	}

	return w.db.UpsertDerivedMetric(&database.DerivedMetric{
		UserID:                    userID,
		Date:                      date,
		AcuteLoad:                 res.Load.AcuteLoad,
		ChronicLoad:               res.Load.ChronicLoad,
		ACWR:                      res.Load.ACWR,
		LoadZone:                  res.Load.Zone,
		ReadinessScore:            res.Score,
		ReadinessState:            res.State,
		DriversJSON:               string(drivers),
		Confidence:                res.Confidence,
		ConfidenceReason:          res.ConfidenceReason,
		MissingSignalsJSON:        string(missing),
		UnderRecovery:             res.UnderRecovery,
		UnderRecoveryTriggersJSON: string(triggers),
		ComputedAt:                time.Now().Unix(),
	})
}

func orEmpty(vals []string) []string {
	if vals == nil {
		return []string{}
	}
	return vals
}
