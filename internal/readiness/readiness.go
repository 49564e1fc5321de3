// Package readiness computes training load and daily readiness from
// normalized biometric signals. Every function here is pure: identical
// input produces an identical result, and the only clock-dependent
// value (sync freshness) arrives as an argument.
package readiness

import (
	"math"
	"time"
)

// Signal names
const (
	SignalHRV         = "hrv"
	SignalSleep       = "sleep"
	SignalRestingHR   = "resting_heart_rate"
	SignalStress      = "stress"
	SignalBodyBattery = "body_battery"
)

// Signal weights. Missing signals are excluded from the weighted
// average entirely rather than contributing zero.
var signalWeights = map[string]float64{
	SignalHRV:         0.28,
	SignalSleep:       0.28,
	SignalRestingHR:   0.20,
	SignalStress:      0.14,
	SignalBodyBattery: 0.10,
}

// Readiness states
const (
	StateReady   = "ready"
	StateSteady  = "steady"
	StateCaution = "caution"
)

// Driver impact labels
const (
	ImpactPositive = "positive"
	ImpactNegative = "negative"
	ImpactNeutral  = "neutral"
	ImpactMissing  = "missing"
)

// Under-recovery deviation thresholds relative to baseline
const (
	hrvDropPct          = 5.0  // percent below baseline
	restingHRRiseBpm    = 3.0  // bpm above baseline
	sleepDropPoints     = 10.0 // score points below baseline
	stressRisePoints    = 10.0 // points above baseline
	bodyBatteryDropUnit = 15.0 // units below baseline
)

// Input is everything Compute needs. Samples are chronological; the
// last one is "today". AsOf anchors sync-freshness so the computation
// never reads the wall clock.
type Input struct {
	Samples    []Sample
	LastSyncAt *time.Time
	AsOf       time.Time
	Load       LoadResult
}

// Driver explains one signal's contribution to the score
type Driver struct {
	Signal      string   `json:"signal"`
	Value       *float64 `json:"value"`
	Baseline    *float64 `json:"baseline"`
	Score       float64  `json:"score"`
	Weight      float64  `json:"weight"`
	Impact      string   `json:"impact"`
	Explanation string   `json:"explanation"`
}

// Result is a computed readiness assessment
type Result struct {
	Score                 int
	State                 string
	Drivers               []Driver
	Confidence            string
	ConfidenceReason      string
	MissingSignals        []string
	UnderRecovery         bool
	UnderRecoveryTriggers []string
	Load                  LoadResult
}

// Compute scores readiness for the most recent sample against the
// baseline formed by the earlier ones.
func Compute(in Input) Result {
	var today Sample
	var prior []Sample
	if n := len(in.Samples); n > 0 {
		today = in.Samples[n-1]
		prior = in.Samples[:n-1]
	}

	baseline := ComputeBaseline(prior)

	drivers := []Driver{
		scoreHRV(today.HRV, baseline.HRV),
		scoreDirect(SignalSleep, today.SleepScore, baseline.SleepScore, "sleep score"),
		scoreRestingHR(today.RestingHeartRate, baseline.RestingHeartRate),
		scoreStress(today.Stress, baseline.Stress),
		scoreDirect(SignalBodyBattery, today.BodyBattery, baseline.BodyBattery, "body battery"),
	}

	var weightedSum, weightTotal float64
	var present int
	var missing []string
	for _, d := range drivers {
		if d.Impact == ImpactMissing {
			missing = append(missing, d.Signal)
			continue
		}
		present++
		weightedSum += d.Score * d.Weight
		weightTotal += d.Weight
	}

	score := 50.0
	if weightTotal > 0 {
		score = weightedSum / weightTotal
	}
	rounded := int(clamp(math.Round(score), 0, 100))

	confidence, reason := ComputeConfidence(present, baseline.SampleCount, in.LastSyncAt, in.AsOf)
	triggers := underRecoveryTriggers(today, baseline)

	return Result{
		Score:                 rounded,
		State:                 stateFor(rounded),
		Drivers:               drivers,
		Confidence:            confidence,
		ConfidenceReason:      reason,
		MissingSignals:        missing,
		UnderRecovery:         len(triggers) >= 2,
		UnderRecoveryTriggers: triggers,
		Load:                  in.Load,
	}
}

func stateFor(score int) string {
	switch {
	case score >= 75:
		return StateReady
	case score >= 55:
		return StateSteady
	default:
		return StateCaution
	}
}

func scoreHRV(value, baseline *float64) Driver {
	d := Driver{Signal: SignalHRV, Value: value, Baseline: baseline, Weight: signalWeights[SignalHRV]}
	if value == nil {
		d.Impact = ImpactMissing
		d.Explanation = "no HRV reading today"
		return d
	}
	if baseline == nil || *baseline == 0 {
		d.Score = 50
		d.Impact = ImpactNeutral
		d.Explanation = "no HRV baseline yet; scored neutral"
		return d
	}
	deltaPct := (*value - *baseline) / *baseline * 100
	d.Score = clamp(50+deltaPct*2.5, 0, 100)
	d.Impact = impactFor(d.Score)
	if deltaPct >= 0 {
		d.Explanation = "HRV at or above baseline"
	} else {
		d.Explanation = "HRV below baseline"
	}
	return d
}

func scoreRestingHR(value, baseline *float64) Driver {
	d := Driver{Signal: SignalRestingHR, Value: value, Baseline: baseline, Weight: signalWeights[SignalRestingHR]}
	if value == nil {
		d.Impact = ImpactMissing
		d.Explanation = "no resting heart rate today"
		return d
	}
	if baseline == nil {
		d.Score = 50
		d.Impact = ImpactNeutral
		d.Explanation = "no resting heart rate baseline yet; scored neutral"
		return d
	}
	// Lower than baseline is good
	d.Score = clamp(50+(*baseline-*value)*8, 0, 100)
	d.Impact = impactFor(d.Score)
	if *value <= *baseline {
		d.Explanation = "resting heart rate at or below baseline"
	} else {
		d.Explanation = "resting heart rate above baseline"
	}
	return d
}

func scoreStress(value, baseline *float64) Driver {
	d := Driver{Signal: SignalStress, Value: value, Baseline: baseline, Weight: signalWeights[SignalStress]}
	if value == nil {
		d.Impact = ImpactMissing
		d.Explanation = "no stress reading today"
		return d
	}
	d.Score = clamp(100-*value, 0, 100)
	d.Impact = impactFor(d.Score)
	d.Explanation = "stress level inverted into score"
	return d
}

func scoreDirect(signal string, value, baseline *float64, label string) Driver {
	d := Driver{Signal: signal, Value: value, Baseline: baseline, Weight: signalWeights[signal]}
	if value == nil {
		d.Impact = ImpactMissing
		d.Explanation = "no " + label + " today"
		return d
	}
	d.Score = clamp(*value, 0, 100)
	d.Impact = impactFor(d.Score)
	d.Explanation = label + " used directly"
	return d
}

func impactFor(score float64) string {
	switch {
	case score > 55:
		return ImpactPositive
	case score < 45:
		return ImpactNegative
	default:
		return ImpactNeutral
	}
}

// underRecoveryTriggers names each signal deviating unfavorably from
// its baseline. The caller flags under-recovery only on two or more.
func underRecoveryTriggers(today Sample, baseline Baseline) []string {
	var triggers []string

	if today.HRV != nil && baseline.HRV != nil && *baseline.HRV > 0 {
		dropPct := (*baseline.HRV - *today.HRV) / *baseline.HRV * 100
		if dropPct > hrvDropPct {
			triggers = append(triggers, "hrv_below_baseline")
		}
	}
	if today.RestingHeartRate != nil && baseline.RestingHeartRate != nil {
		if *today.RestingHeartRate-*baseline.RestingHeartRate > restingHRRiseBpm {
			triggers = append(triggers, "resting_hr_above_baseline")
		}
	}
	if today.SleepScore != nil && baseline.SleepScore != nil {
		if *baseline.SleepScore-*today.SleepScore > sleepDropPoints {
			triggers = append(triggers, "sleep_below_baseline")
		}
	}
	if today.Stress != nil && baseline.Stress != nil {
		if *today.Stress-*baseline.Stress > stressRisePoints {
			triggers = append(triggers, "stress_above_baseline")
		}
	}
	if today.BodyBattery != nil && baseline.BodyBattery != nil {
		if *baseline.BodyBattery-*today.BodyBattery > bodyBatteryDropUnit {
			triggers = append(triggers, "body_battery_below_baseline")
		}
	}

	return triggers
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
