package database

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stridelab-garmin-sync/internal/metrics"
)

const (
	// MaxRetries bounds how many times a failed derive job is released
	// back to the queue before being dropped
	MaxRetries = 5

	// StaleLockTimeout is how long a claimed job may sit in processing
	// before another worker may reclaim it
	StaleLockTimeout = 10 * time.Minute
)

// DeriveJob is a queued trigger for the derive worker. Exactly one of
// UserID/GarminUserID is set; the worker resolves the latter to app
// user IDs before processing.
type DeriveJob struct {
	ID                  int64
	UserID              *string
	GarminUserID        *string
	DatasetKey          string
	Source              string
	Days                int
	RetryCount          int
	LastError           *string
	NextRetryAt         *time.Time
	ProcessingStartedAt *time.Time
	CreatedAt           time.Time
}

// EnqueueDeriveJob adds a derive job to the processing queue
func (d *DB) EnqueueDeriveJob(userID, garminUserID *string, datasetKey, source string, days int) (int64, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpEnqueueDeriveJob))
	defer timer.ObserveDuration()

	if days < 1 {
		days = 1
	}

	query := `INSERT INTO derive_jobs (user_id, garmin_user_id, dataset_key, source, days, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`

	result, err := d.db.Exec(query, userID, garminUserID, datasetKey, source, days, time.Now().Unix())
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpEnqueueDeriveJob).Inc()
		return 0, fmt.Errorf("failed to enqueue derive job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpEnqueueDeriveJob).Inc()
		return 0, fmt.Errorf("failed to get derive job id: %w", err)
	}

	metrics.QueueEnqueueTotal.WithLabelValues(metrics.QueueTypeDeriveJob).Inc()

	return id, nil
}

// ClaimDeriveJob claims the next ready derive job for processing.
// Returns nil if no items are ready. Items are ready when next_retry_at
// is NULL or past and processing_started_at is NULL or stale. The claim
// is a single atomic UPDATE so concurrent workers never double-claim.
func (d *DB) ClaimDeriveJob() (*DeriveJob, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpClaimDeriveJob))
	defer timer.ObserveDuration()

	now := time.Now()
	staleThreshold := now.Add(-StaleLockTimeout).Unix()

	updateQuery := `
		UPDATE derive_jobs
		SET processing_started_at = ?
		WHERE id = (
			SELECT id
			FROM derive_jobs
			WHERE (next_retry_at IS NULL OR next_retry_at <= ?)
			  AND (processing_started_at IS NULL OR processing_started_at < ?)
			ORDER BY id ASC
			LIMIT 1
		)
		RETURNING id, user_id, garmin_user_id, dataset_key, source, days, retry_count, last_error, next_retry_at, created_at
	`

	var job DeriveJob
	var nextRetryAt *int64
	var createdAt int64

	err := d.db.QueryRow(updateQuery, now.Unix(), now.Unix(), staleThreshold).Scan(
		&job.ID,
		&job.UserID,
		&job.GarminUserID,
		&job.DatasetKey,
		&job.Source,
		&job.Days,
		&job.RetryCount,
		&job.LastError,
		&nextRetryAt,
		&createdAt,
	)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil // No items ready
		}
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpClaimDeriveJob).Inc()
		return nil, fmt.Errorf("failed to claim derive job: %w", err)
	}

	if nextRetryAt != nil {
		t := time.Unix(*nextRetryAt, 0)
		job.NextRetryAt = &t
	}
	job.ProcessingStartedAt = &now
	job.CreatedAt = time.Unix(createdAt, 0)

	return &job, nil
}

// DeleteDeriveJob deletes a processed derive job from the queue
func (d *DB) DeleteDeriveJob(id int64) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpDeleteDeriveJob))
	defer timer.ObserveDuration()

	query := `DELETE FROM derive_jobs WHERE id = ?`

	_, err := d.db.Exec(query, id)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpDeleteDeriveJob).Inc()
		return fmt.Errorf("failed to delete derive job: %w", err)
	}

	return nil
}

// ReleaseDeriveJob releases a failed derive job back to the queue with
// retry tracking. Backoff ladder: 1min, 5min, 15min, 30min, 1hr.
// Returns true if the job was released, false if it was dropped due to
// max retries.
func (d *DB) ReleaseDeriveJob(id int64, retryCount int, errMsg string) (bool, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpReleaseDeriveJob))
	defer timer.ObserveDuration()

	newRetryCount := retryCount + 1

	if newRetryCount > MaxRetries {
		if err := d.DeleteDeriveJob(id); err != nil {
			return false, fmt.Errorf("failed to drop derive job after max retries: %w", err)
		}
		return false, nil // Dropped
	}

	backoffMinutes := []int{1, 5, 15, 30, 60}
	backoffIdx := newRetryCount - 1
	if backoffIdx >= len(backoffMinutes) {
		backoffIdx = len(backoffMinutes) - 1
	}

	nextRetryAt := time.Now().Add(time.Duration(backoffMinutes[backoffIdx]) * time.Minute)

	query := `
		UPDATE derive_jobs
		SET retry_count = ?,
		    last_error = ?,
		    next_retry_at = ?,
		    processing_started_at = NULL
		WHERE id = ?
	`

	_, err := d.db.Exec(query, newRetryCount, errMsg, nextRetryAt.Unix(), id)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpReleaseDeriveJob).Inc()
		return false, fmt.Errorf("failed to release derive job: %w", err)
	}

	return true, nil // Released for retry
}

// GetDeriveJobQueueLength returns the number of derive jobs in the queue
func (d *DB) GetDeriveJobQueueLength() (int, error) {
	query := `SELECT COUNT(*) FROM derive_jobs`
	var count int

	err := d.db.QueryRow(query).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get derive job queue length: %w", err)
	}

	return count, nil
}

// GetReadyDeriveJobQueueLength returns the number of derive jobs ready
// to process
func (d *DB) GetReadyDeriveJobQueueLength() (int, error) {
	now := time.Now()
	staleThreshold := now.Add(-StaleLockTimeout).Unix()

	query := `
		SELECT COUNT(*)
		FROM derive_jobs
		WHERE (next_retry_at IS NULL OR next_retry_at <= ?)
		  AND (processing_started_at IS NULL OR processing_started_at < ?)
	`
	var count int

	err := d.db.QueryRow(query, now.Unix(), staleThreshold).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get ready derive job queue length: %w", err)
	}

	return count, nil
}

// GetProcessingDeriveJobQueueLength returns the number of derive jobs
// currently being processed
func (d *DB) GetProcessingDeriveJobQueueLength() (int, error) {
	now := time.Now()
	staleThreshold := now.Add(-StaleLockTimeout).Unix()

	query := `
		SELECT COUNT(*)
		FROM derive_jobs
		WHERE processing_started_at IS NOT NULL
		  AND processing_started_at >= ?
	`
	var count int

	err := d.db.QueryRow(query, staleThreshold).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get processing derive job queue length: %w", err)
	}

	return count, nil
}
