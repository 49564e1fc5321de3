package database

import (
	"testing"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func TestDeriveJobQueue(t *testing.T) {
	db := setupTestDB(t)

	t.Run("EnqueueClaimDelete", func(t *testing.T) {
		userID := "user-1"
		id, err := db.EnqueueDeriveJob(&userID, nil, "activities", SourcePush, 1)
		if err != nil {
			t.Fatalf("Failed to enqueue derive job: %v", err)
		}
		if id == 0 {
			t.Fatal("Expected non-zero job id")
		}

		length, err := db.GetDeriveJobQueueLength()
		if err != nil {
			t.Fatalf("Failed to get queue length: %v", err)
		}
		if length != 1 {
			t.Errorf("Expected queue length 1, got %d", length)
		}

		ready, err := db.GetReadyDeriveJobQueueLength()
		if err != nil {
			t.Fatalf("Failed to get ready queue length: %v", err)
		}
		if ready != 1 {
			t.Errorf("Expected ready queue length 1, got %d", ready)
		}

		job, err := db.ClaimDeriveJob()
		if err != nil {
			t.Fatalf("Failed to claim derive job: %v", err)
		}
		if job == nil {
			t.Fatal("Expected job to be claimed")
		}
		if job.UserID == nil || *job.UserID != "user-1" {
			t.Errorf("Expected user_id user-1, got %v", job.UserID)
		}
		if job.GarminUserID != nil {
			t.Errorf("Expected nil garmin_user_id, got %v", *job.GarminUserID)
		}
		if job.DatasetKey != "activities" {
			t.Errorf("Expected dataset_key activities, got %s", job.DatasetKey)
		}
		if job.Days != 1 {
			t.Errorf("Expected days 1, got %d", job.Days)
		}
		if job.ProcessingStartedAt == nil {
			t.Error("Expected processing_started_at to be set")
		}

		// Claimed but not deleted: still in queue, not ready
		ready, err = db.GetReadyDeriveJobQueueLength()
		if err != nil {
			t.Fatalf("Failed to get ready queue length: %v", err)
		}
		if ready != 0 {
			t.Errorf("Expected ready queue length 0 (being processed), got %d", ready)
		}

		processing, err := db.GetProcessingDeriveJobQueueLength()
		if err != nil {
			t.Fatalf("Failed to get processing queue length: %v", err)
		}
		if processing != 1 {
			t.Errorf("Expected processing queue length 1, got %d", processing)
		}

		if err := db.DeleteDeriveJob(job.ID); err != nil {
			t.Fatalf("Failed to delete derive job: %v", err)
		}

		length, err = db.GetDeriveJobQueueLength()
		if err != nil {
			t.Fatalf("Failed to get queue length: %v", err)
		}
		if length != 0 {
			t.Errorf("Expected queue length 0, got %d", length)
		}
	})

	t.Run("ClaimEmptyQueue", func(t *testing.T) {
		job, err := db.ClaimDeriveJob()
		if err != nil {
			t.Fatalf("Failed to claim from empty queue: %v", err)
		}
		if job != nil {
			t.Errorf("Expected nil job from empty queue, got %+v", job)
		}
	})

	t.Run("ReleaseAndRetry", func(t *testing.T) {
		garminUserID := "garmin-abc"
		_, err := db.EnqueueDeriveJob(nil, &garminUserID, "sleeps", SourcePingPull, 1)
		if err != nil {
			t.Fatalf("Failed to enqueue derive job: %v", err)
		}

		job, err := db.ClaimDeriveJob()
		if err != nil {
			t.Fatalf("Failed to claim derive job: %v", err)
		}
		if job == nil {
			t.Fatal("Expected job to be claimed")
		}

		released, err := db.ReleaseDeriveJob(job.ID, job.RetryCount, "garmin api timeout")
		if err != nil {
			t.Fatalf("Failed to release derive job: %v", err)
		}
		if !released {
			t.Error("Expected job to be released (not dropped)")
		}

		// Released with backoff: in queue but not claimable yet
		ready, err := db.GetReadyDeriveJobQueueLength()
		if err != nil {
			t.Fatalf("Failed to get ready queue length: %v", err)
		}
		if ready != 0 {
			t.Errorf("Expected ready queue length 0 (waiting for retry), got %d", ready)
		}

		next, err := db.ClaimDeriveJob()
		if err != nil {
			t.Fatalf("Failed to claim derive job: %v", err)
		}
		if next != nil {
			t.Error("Expected no job to be claimed (waiting for retry)")
		}

		if _, err := db.db.Exec("DELETE FROM derive_jobs"); err != nil {
			t.Fatalf("Failed to clean up derive jobs: %v", err)
		}
	})

	t.Run("MaxRetriesDrops", func(t *testing.T) {
		userID := "user-2"
		jobID, err := db.EnqueueDeriveJob(&userID, nil, "dailies", SourcePush, 1)
		if err != nil {
			t.Fatalf("Failed to enqueue derive job: %v", err)
		}

		for i := 0; i < MaxRetries; i++ {
			// Make it immediately claimable for testing
			if _, err := db.db.Exec("UPDATE derive_jobs SET next_retry_at = NULL WHERE id = ?", jobID); err != nil {
				t.Fatalf("Failed to reset retry time: %v", err)
			}

			job, err := db.ClaimDeriveJob()
			if err != nil {
				t.Fatalf("Failed to claim derive job: %v", err)
			}
			if job == nil {
				t.Fatalf("Expected job to be claimed on attempt %d", i+1)
			}

			released, err := db.ReleaseDeriveJob(job.ID, job.RetryCount, "persistent error")
			if err != nil {
				t.Fatalf("Failed to release derive job: %v", err)
			}
			if i < MaxRetries-1 && !released {
				t.Errorf("Expected job to be released on attempt %d", i+1)
			}
		}

		// The MaxRetries'th release happened above with retry_count at
		// MaxRetries-1. One more claim/release must drop it.
		if _, err := db.db.Exec("UPDATE derive_jobs SET next_retry_at = NULL WHERE id = ?", jobID); err != nil {
			t.Fatalf("Failed to reset retry time: %v", err)
		}

		job, err := db.ClaimDeriveJob()
		if err != nil {
			t.Fatalf("Failed to claim derive job: %v", err)
		}
		if job == nil {
			t.Fatal("Expected job to be claimed for final attempt")
		}
		if job.RetryCount != MaxRetries {
			t.Errorf("Expected retry count %d, got %d", MaxRetries, job.RetryCount)
		}

		released, err := db.ReleaseDeriveJob(job.ID, job.RetryCount, "final error")
		if err != nil {
			t.Fatalf("Failed to release derive job on final attempt: %v", err)
		}
		if released {
			t.Error("Expected job to be dropped after max retries, but it was released")
		}

		length, err := db.GetDeriveJobQueueLength()
		if err != nil {
			t.Fatalf("Failed to get queue length: %v", err)
		}
		if length != 0 {
			t.Errorf("Expected queue to be empty after max retries, got length %d", length)
		}
	})

	t.Run("ConcurrentClaim", func(t *testing.T) {
		userID := "user-3"
		_, err := db.EnqueueDeriveJob(&userID, nil, "hrv", SourcePush, 1)
		if err != nil {
			t.Fatalf("Failed to enqueue derive job: %v", err)
		}

		const workers = 10
		claims := make(chan *DeriveJob, workers)
		errors := make(chan error, workers)

		for i := 0; i < workers; i++ {
			go func() {
				job, err := db.ClaimDeriveJob()
				if err != nil {
					errors <- err
					return
				}
				claims <- job
			}()
		}

		var claimed []*DeriveJob
		for i := 0; i < workers; i++ {
			select {
			case job := <-claims:
				if job != nil {
					claimed = append(claimed, job)
				}
			case err := <-errors:
				t.Fatalf("Unexpected error claiming derive job: %v", err)
			}
		}

		// Only ONE goroutine should have successfully claimed it
		if len(claimed) != 1 {
			t.Errorf("Expected exactly 1 claim, got %d", len(claimed))
		}

		if len(claimed) > 0 {
			db.DeleteDeriveJob(claimed[0].ID)
		}
	})

	t.Run("DaysFloor", func(t *testing.T) {
		userID := "user-4"
		_, err := db.EnqueueDeriveJob(&userID, nil, "activities", SourcePush, 0)
		if err != nil {
			t.Fatalf("Failed to enqueue derive job: %v", err)
		}

		job, err := db.ClaimDeriveJob()
		if err != nil {
			t.Fatalf("Failed to claim derive job: %v", err)
		}
		if job == nil {
			t.Fatal("Expected job to be claimed")
		}
		if job.Days != 1 {
			t.Errorf("Expected days floored to 1, got %d", job.Days)
		}

		db.DeleteDeriveJob(job.ID)
	})
}
