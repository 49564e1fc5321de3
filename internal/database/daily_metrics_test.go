package database

import (
	"testing"
)

func TestUpsertDailyMetricsMergesPartials(t *testing.T) {
	db := setupTestDB(t)

	// Sleep dataset arrives first
	sleep := &DailyMetric{
		UserID:       "user-1",
		Date:         "2026-03-10",
		SleepScore:   f64Ptr(82),
		SleepSeconds: f64Ptr(27000),
	}
	if _, err := db.UpsertDailyMetrics([]*DailyMetric{sleep}); err != nil {
		t.Fatalf("Failed to upsert sleep metrics: %v", err)
	}

	// Wellness dataset for the same day carries different fields
	wellness := &DailyMetric{
		UserID:           "user-1",
		Date:             "2026-03-10",
		Steps:            f64Ptr(10400),
		RestingHeartRate: f64Ptr(52),
		Stress:           f64Ptr(31),
	}
	if _, err := db.UpsertDailyMetrics([]*DailyMetric{wellness}); err != nil {
		t.Fatalf("Failed to upsert wellness metrics: %v", err)
	}

	listed, err := db.ListDailyMetricsRange("user-1", "2026-03-10", "2026-03-10")
	if err != nil {
		t.Fatalf("Failed to list daily metrics: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("Expected 1 merged row, got %d", len(listed))
	}

	m := listed[0]
	if m.SleepScore == nil || *m.SleepScore != 82 {
		t.Errorf("Expected sleep score 82 to survive merge, got %v", m.SleepScore)
	}
	if m.Steps == nil || *m.Steps != 10400 {
		t.Errorf("Expected steps 10400, got %v", m.Steps)
	}
	if m.RestingHeartRate == nil || *m.RestingHeartRate != 52 {
		t.Errorf("Expected resting hr 52, got %v", m.RestingHeartRate)
	}
}

func TestUpsertDailyMetricsNullNeverClobbers(t *testing.T) {
	db := setupTestDB(t)

	full := &DailyMetric{
		UserID: "user-1",
		Date:   "2026-03-10",
		HRV:    f64Ptr(68),
		Steps:  f64Ptr(9000),
	}
	if _, err := db.UpsertDailyMetrics([]*DailyMetric{full}); err != nil {
		t.Fatalf("Failed to upsert metrics: %v", err)
	}

	// A later row with a nil HRV must not null it out, but a present
	// value replaces the old one
	update := &DailyMetric{
		UserID: "user-1",
		Date:   "2026-03-10",
		Steps:  f64Ptr(11000),
	}
	if _, err := db.UpsertDailyMetrics([]*DailyMetric{update}); err != nil {
		t.Fatalf("Failed to upsert update: %v", err)
	}

	listed, err := db.ListDailyMetricsRange("user-1", "2026-03-10", "2026-03-10")
	if err != nil {
		t.Fatalf("Failed to list daily metrics: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(listed))
	}
	if listed[0].HRV == nil || *listed[0].HRV != 68 {
		t.Errorf("Expected HRV 68 to survive null update, got %v", listed[0].HRV)
	}
	if listed[0].Steps == nil || *listed[0].Steps != 11000 {
		t.Errorf("Expected steps replaced with 11000, got %v", listed[0].Steps)
	}
}

func TestListDailyMetricsRangeOrdering(t *testing.T) {
	db := setupTestDB(t)

	rows := []*DailyMetric{
		{UserID: "user-1", Date: "2026-03-12", Steps: f64Ptr(3)},
		{UserID: "user-1", Date: "2026-03-10", Steps: f64Ptr(1)},
		{UserID: "user-1", Date: "2026-03-11", Steps: f64Ptr(2)},
		{UserID: "user-1", Date: "2026-03-20", Steps: f64Ptr(4)},
	}
	if _, err := db.UpsertDailyMetrics(rows); err != nil {
		t.Fatalf("Failed to upsert metrics: %v", err)
	}

	listed, err := db.ListDailyMetricsRange("user-1", "2026-03-10", "2026-03-12")
	if err != nil {
		t.Fatalf("Failed to list daily metrics: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("Expected 3 rows in range, got %d", len(listed))
	}
	for i, want := range []string{"2026-03-10", "2026-03-11", "2026-03-12"} {
		if listed[i].Date != want {
			t.Errorf("Expected date %s at position %d, got %s", want, i, listed[i].Date)
		}
	}
}

func TestUpsertDailyMetricsDedupesWithinBatch(t *testing.T) {
	db := setupTestDB(t)

	rows := []*DailyMetric{
		{UserID: "user-1", Date: "2026-03-10", Steps: f64Ptr(1000)},
		{UserID: "user-1", Date: "2026-03-10", Steps: f64Ptr(2000)},
	}

	n, err := db.UpsertDailyMetrics(rows)
	if err != nil {
		t.Fatalf("Failed to upsert metrics: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 row after in-batch dedupe, got %d", n)
	}
}
