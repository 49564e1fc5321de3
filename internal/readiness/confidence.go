package readiness

import "time"

// Confidence levels
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Confidence reasons
const (
	ReasonFullCoverage    = "strong signal coverage and fresh sync"
	ReasonPartialCoverage = "partial signal coverage"
	ReasonSparseData      = "sparse signals or stale sync"
	ReasonNoSignals       = "no biometric signals available today"
)

// ComputeConfidence classifies how trustworthy a readiness result is
// from today's signal coverage, the baseline depth, and sync freshness.
// Zero present signals is always low, with its own reason.
func ComputeConfidence(signalsPresent, baselineSamples int, lastSyncAt *time.Time, asOf time.Time) (string, string) {
	if signalsPresent == 0 {
		return ConfidenceLow, ReasonNoSignals
	}

	syncAge := time.Duration(-1)
	if lastSyncAt != nil {
		syncAge = asOf.Sub(*lastSyncAt)
	}

	if signalsPresent >= 4 && baselineSamples >= 21 && syncAge >= 0 && syncAge < 24*time.Hour {
		return ConfidenceHigh, ReasonFullCoverage
	}
	if signalsPresent >= 2 && baselineSamples >= 10 && syncAge >= 0 && syncAge < 72*time.Hour {
		return ConfidenceMedium, ReasonPartialCoverage
	}
	return ConfidenceLow, ReasonSparseData
}
