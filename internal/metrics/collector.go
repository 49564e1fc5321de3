package metrics

import (
	"context"
	"log/slog"
	"time"
)

// DB interface for queue depth queries
type DB interface {
	GetDeriveJobQueueLength() (int, error)
	GetReadyDeriveJobQueueLength() (int, error)
	GetProcessingDeriveJobQueueLength() (int, error)
}

// StartQueueDepthCollector starts a background goroutine that periodically
// collects queue depth metrics from the database
func StartQueueDepthCollector(ctx context.Context, db DB, interval time.Duration) {
	logger := slog.Default()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect once immediately
	collectQueueDepths(db, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Queue depth collector stopping")
			return
		case <-ticker.C:
			collectQueueDepths(db, logger)
		}
	}
}

func collectQueueDepths(db DB, logger *slog.Logger) {
	if total, err := db.GetDeriveJobQueueLength(); err != nil {
		logger.Error("Failed to get derive job queue length", "error", err)
	} else {
		QueueDepthTotal.WithLabelValues(QueueTypeDeriveJob).Set(float64(total))
	}

	if ready, err := db.GetReadyDeriveJobQueueLength(); err != nil {
		logger.Error("Failed to get ready derive job queue length", "error", err)
	} else {
		QueueDepthReady.WithLabelValues(QueueTypeDeriveJob).Set(float64(ready))
	}

	if processing, err := db.GetProcessingDeriveJobQueueLength(); err != nil {
		logger.Error("Failed to get processing derive job queue length", "error", err)
	} else {
		QueueDepthProcessing.WithLabelValues(QueueTypeDeriveJob).Set(float64(processing))
	}
}
