package sync

import (
	"fmt"
	"math"
	"time"
)

// Cooldown windows between successful syncs, per trigger. Webhook-driven
// syncs are never throttled here: the upstream push is the freshness signal.
const (
	manualCooldown    = 5 * time.Minute
	scheduledCooldown = 15 * time.Minute
	backfillCooldown  = 6 * time.Hour
)

const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerWebhook   = "webhook"
	TriggerBackfill  = "backfill"
)

// Decision is the rate limiter's verdict for one sync attempt.
type Decision struct {
	Allowed           bool
	Reason            string
	RetryAfterSeconds int
}

// EvaluateRateLimit is stateless: the only input that matters is the
// connection's last successful sync time, so concurrent calls for the same
// user cannot disagree about shared limiter state.
func EvaluateRateLimit(trigger string, lastSyncAt *int64, now time.Time) Decision {
	var cooldown time.Duration
	switch trigger {
	case TriggerManual:
		cooldown = manualCooldown
	case TriggerScheduled:
		cooldown = scheduledCooldown
	case TriggerBackfill:
		cooldown = backfillCooldown
	default:
		return Decision{Allowed: true}
	}

	if lastSyncAt == nil {
		return Decision{Allowed: true}
	}

	elapsed := now.Sub(time.Unix(*lastSyncAt, 0))
	if elapsed >= cooldown {
		return Decision{Allowed: true}
	}

	remaining := cooldown - elapsed
	return Decision{
		Allowed:           false,
		Reason:            fmt.Sprintf("%s sync allowed once per %s", trigger, cooldown),
		RetryAfterSeconds: int(math.Ceil(remaining.Seconds())),
	}
}
