package readiness

// baselineWindow bounds how many prior samples feed each baseline
const baselineWindow = 28

// Sample is one calendar day of biometric signals. Any signal may be
// missing on any day.
type Sample struct {
	Date             string
	HRV              *float64
	SleepScore       *float64
	RestingHeartRate *float64
	Stress           *float64
	BodyBattery      *float64
}

// Baseline holds per-signal trailing averages. A signal with no samples
// in the window has a nil baseline.
type Baseline struct {
	HRV              *float64
	SleepScore       *float64
	RestingHeartRate *float64
	Stress           *float64
	BodyBattery      *float64
	SampleCount      int
}

// ComputeBaseline averages each signal over up to 28 prior samples,
// skipping days where the signal is missing.
func ComputeBaseline(prior []Sample) Baseline {
	if len(prior) > baselineWindow {
		prior = prior[len(prior)-baselineWindow:]
	}

	b := Baseline{SampleCount: len(prior)}
	b.HRV = avgSignal(prior, func(s Sample) *float64 { return s.HRV })
	b.SleepScore = avgSignal(prior, func(s Sample) *float64 { return s.SleepScore })
	b.RestingHeartRate = avgSignal(prior, func(s Sample) *float64 { return s.RestingHeartRate })
	b.Stress = avgSignal(prior, func(s Sample) *float64 { return s.Stress })
	b.BodyBattery = avgSignal(prior, func(s Sample) *float64 { return s.BodyBattery })
	return b
}

func avgSignal(samples []Sample, get func(Sample) *float64) *float64 {
	var sum float64
	var n int
	for _, s := range samples {
		if v := get(s); v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}
