// Package normalize turns raw Garmin payload rows into storage rows.
// Provider payloads drift across firmware and API versions, so every
// logical field reads through an ordered alias list and the normalizers
// are total: a row that cannot be identified comes back nil, never an
// error.
package normalize

import (
	"encoding/json"
	"strconv"
	"time"

	"stridelab-garmin-sync/internal/database"
	"stridelab-garmin-sync/internal/garmin"
)

// str returns the first alias present as a non-empty string
func str(raw map[string]any, aliases ...string) *string {
	for _, key := range aliases {
		if v, ok := raw[key].(string); ok && v != "" {
			return &v
		}
	}
	return nil
}

// num returns the first alias present as a number. JSON numbers decode
// as float64; strings and nested {"value": n} objects are tolerated.
func num(raw map[string]any, aliases ...string) *float64 {
	for _, key := range aliases {
		switch v := raw[key].(type) {
		case float64:
			return &v
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return &f
			}
		case map[string]any:
			if inner, ok := v["value"].(float64); ok {
				return &inner
			}
		}
	}
	return nil
}

// unixTime returns the first alias present as epoch seconds
func unixTime(raw map[string]any, aliases ...string) *int64 {
	if v := num(raw, aliases...); v != nil {
		t := int64(*v)
		return &t
	}
	return nil
}

// dateOf resolves a row's calendar date: an explicit date string first,
// else the UTC date of an epoch-seconds field.
func dateOf(raw map[string]any) string {
	if v := str(raw, "calendarDate", "summaryDate", "date"); v != nil {
		return *v
	}
	if t := unixTime(raw, "startTimeInSeconds", "measurementTimeInSeconds", "timestampInSeconds"); t != nil {
		return time.Unix(*t, 0).UTC().Format("2006-01-02")
	}
	return ""
}

// Activity normalizes one raw activity row. Returns nil when the row has
// no usable activity id or start time.
func Activity(userID string, raw map[string]any) *database.Activity {
	id := str(raw, "activityId", "summaryId", "activityUUID")
	if id == nil {
		// Some payload variants carry the id as a number
		if n := num(raw, "activityId"); n != nil {
			s := strconv.FormatInt(int64(*n), 10)
			id = &s
		}
	}
	start := unixTime(raw, "startTimeInSeconds", "beginTimestamp")
	if id == nil || start == nil {
		return nil
	}

	a := &database.Activity{
		UserID:              userID,
		ActivityID:          *id,
		StartTime:           *start,
		Sport:               str(raw, "activityType", "sport", "activityName"),
		DurationSeconds:     num(raw, "durationInSeconds", "activeTimeInSeconds", "duration"),
		DistanceMeters:      num(raw, "distanceInMeters", "distance"),
		AvgHeartRate:        num(raw, "averageHeartRateInBeatsPerMinute", "averageHeartRate", "avgHr"),
		MaxHeartRate:        num(raw, "maxHeartRateInBeatsPerMinute", "maxHeartRate", "maxHr"),
		ElevationGainMeters: num(raw, "totalElevationGainInMeters", "elevationGainInMeters", "elevationGain"),
		Calories:            num(raw, "activeKilocalories", "calories"),
	}

	// Provider reports speed; downstream wants pace
	if speed := num(raw, "averageSpeedInMetersPerSecond", "averageSpeed"); speed != nil && *speed > 0 {
		pace := 1000 / *speed
		a.PaceSecPerKm = &pace
	}

	if payload, err := json.Marshal(raw); err == nil {
		a.Raw = payload
	}

	return a
}

// DailyMetric normalizes one raw row from a daily-granularity dataset.
// Only the fields the dataset actually carries are populated; the store
// merges rows for the same day. Returns nil when no calendar date can be
// resolved.
func DailyMetric(userID, datasetKey string, raw map[string]any) *database.DailyMetric {
	date := dateOf(raw)
	if date == "" {
		return nil
	}

	m := &database.DailyMetric{
		UserID: userID,
		Date:   date,
	}

	switch datasetKey {
	case garmin.DatasetSleeps:
		m.SleepScore = num(raw, "overallSleepScore", "sleepScore")
		m.SleepSeconds = num(raw, "sleepTimeInSeconds", "durationInSeconds")

	case garmin.DatasetDailies:
		m.Steps = num(raw, "steps", "totalSteps")
		m.RestingHeartRate = num(raw, "restingHeartRateInBeatsPerMinute", "restingHeartRate")
		m.Stress = num(raw, "averageStressLevel", "stressLevel")
		m.BodyBattery = num(raw, "bodyBatteryMostRecentValue", "bodyBattery")
		m.BodyBatteryHigh = num(raw, "bodyBatteryHighestValue")
		m.BodyBatteryLow = num(raw, "bodyBatteryLowestValue")
		m.Calories = num(raw, "activeKilocalories", "totalKilocalories")

	case garmin.DatasetHRV:
		m.HRV = num(raw, "lastNightAvg", "avgOvernightHrv", "hrvValue")

	case garmin.DatasetUserMetrics:
		m.VO2Max = num(raw, "vo2Max", "vo2MaxValue")

	case garmin.DatasetBodyComps:
		if w := num(raw, "weightInGrams", "weight"); w != nil {
			kg := *w
			// Magnitude heuristic: no human weighs a tonne
			if kg > 1000 {
				kg /= 1000
			}
			m.WeightKg = &kg
		}

	case garmin.DatasetStressDetails:
		m.Stress = num(raw, "averageStressLevel", "avgStressLevel", "stressLevel")

	default:
		return nil
	}

	if payload, err := json.Marshal(raw); err == nil {
		m.Raw = payload
	}

	return m
}

