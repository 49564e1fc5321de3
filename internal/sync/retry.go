package sync

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"stridelab-garmin-sync/internal/garmin"
)

// withRetry runs fn up to maxAttempts times with exponential backoff
// (baseDelay, 2x per attempt). Only 5xx responses from the device API are
// retried; auth failures, rate limits, and other client errors surface
// immediately via backoff.Permanent.
func withRetry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = baseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = baseDelay * 8
	bo.MaxElapsedTime = 0

	wrapped := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if garmin.IsServerError(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxAttempts-1)), ctx))
}
