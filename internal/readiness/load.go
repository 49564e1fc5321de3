package readiness

import (
	"stridelab-garmin-sync/internal/database"
)

// Fallback heart-rate anchors when the user's daily metrics carry none
const (
	defaultRestingHR = 60.0
	defaultMaxHR     = 190.0
)

// ACWR zone boundaries
const (
	acwrUnderHigh    = 0.8
	acwrOptimalHigh  = 1.3
	acwrElevatedHigh = 1.5
)

// Load zone names
const (
	ZoneUnderload = "underload"
	ZoneOptimal   = "optimal"
	ZoneElevated  = "elevated"
	ZoneHigh      = "high"
)

// acwrCap substitutes for an unbounded ratio when chronic load is zero
// but acute load is not. The zone classification is what matters; the
// stored number just needs to be finite and clearly out of range.
const acwrCap = 9.99

// intensityFactor maps an activity's heart-rate-reserve fraction to a
// training-load multiplier. Zone bounds: Z1 to 0.72, Z2 to 0.82, Z3 to
// 0.89, Z4 to 0.95, Z5 above.
func intensityFactor(hrReserveFraction float64) float64 {
	switch {
	case hrReserveFraction < 0.72:
		return 1.0
	case hrReserveFraction < 0.82:
		return 1.3
	case hrReserveFraction < 0.89:
		return 1.6
	case hrReserveFraction < 0.95:
		return 1.9
	default:
		return 2.3
	}
}

// ActivityLoad computes the training-load units for one activity:
// duration in minutes scaled by the intensity factor of its average
// heart rate relative to heart-rate reserve. Pass zero for restingHR or
// maxHR to use the fallback anchors. Activities without heart rate score
// at the base factor.
func ActivityLoad(a *database.Activity, restingHR, maxHR float64) float64 {
	if a == nil || a.DurationSeconds == nil || *a.DurationSeconds <= 0 {
		return 0
	}
	minutes := *a.DurationSeconds / 60

	if restingHR <= 0 {
		restingHR = defaultRestingHR
	}
	if maxHR <= 0 {
		maxHR = defaultMaxHR
	}

	factor := 1.0
	if a.AvgHeartRate != nil && maxHR > restingHR {
		frac := (*a.AvgHeartRate - restingHR) / (maxHR - restingHR)
		factor = intensityFactor(frac)
	}

	return minutes * factor
}

// LoadResult is the training-load summary for one day
type LoadResult struct {
	AcuteLoad   float64
	ChronicLoad float64
	ACWR        float64
	Zone        string
}

// ComputeLoad computes acute (7-day mean) and chronic (28-day mean)
// training load from an ordered per-day load history ending on the
// target day, then classifies the acute:chronic ratio. Days without
// activity contribute zero entries; the caller supplies a full window.
func ComputeLoad(dailyLoads []float64) LoadResult {
	if len(dailyLoads) == 0 {
		return LoadResult{Zone: ZoneUnderload}
	}

	acute := mean(tail(dailyLoads, 7))
	chronic := mean(tail(dailyLoads, 28))

	var acwr float64
	switch {
	case chronic > 0:
		acwr = acute / chronic
	case acute > 0:
		acwr = acwrCap
	}

	return LoadResult{
		AcuteLoad:   acute,
		ChronicLoad: chronic,
		ACWR:        acwr,
		Zone:        classifyACWR(acwr),
	}
}

func classifyACWR(acwr float64) string {
	switch {
	case acwr < acwrUnderHigh:
		return ZoneUnderload
	case acwr <= acwrOptimalHigh:
		return ZoneOptimal
	case acwr <= acwrElevatedHigh:
		return ZoneElevated
	default:
		return ZoneHigh
	}
}

func tail(vals []float64, n int) []float64 {
	if len(vals) <= n {
		return vals
	}
	return vals[len(vals)-n:]
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
