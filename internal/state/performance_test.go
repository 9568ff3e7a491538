package state

import (
	"testing"
	"time"

	"github.com/modporter/modporter/internal/orchestration"
	"github.com/modporter/modporter/pkg/models"
)

func TestRecordAndLoadStrategyPerformance(t *testing.T) {
	db := setupTestDB(t)

	records := []orchestration.PerformanceRecord{
		{Strategy: models.StrategySequential, SuccessRate: 0.5, Duration: 4 * time.Minute, TaskCount: 6, Timestamp: time.Now().Add(-2 * time.Hour)},
		{Strategy: models.StrategyParallelBasic, SuccessRate: 1.0, Duration: 90 * time.Second, TaskCount: 6, Timestamp: time.Now().Add(-time.Hour)},
		{Strategy: models.StrategyParallelBasic, SuccessRate: 0.8, Duration: 2 * time.Minute, TaskCount: 8,
			Extra: map[string]any{"parallel_efficiency": 2.1}, Timestamp: time.Now()},
	}
	for _, r := range records {
		if err := db.RecordStrategyPerformance(r); err != nil {
			t.Fatalf("RecordStrategyPerformance failed: %v", err)
		}
	}

	loaded, err := db.LoadStrategyHistory(0)
	if err != nil {
		t.Fatalf("LoadStrategyHistory failed: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("expected 3 records, got %d", len(loaded))
	}
	// Chronological order for replay.
	if loaded[0].Strategy != models.StrategySequential {
		t.Errorf("expected oldest record first, got %s", loaded[0].Strategy)
	}
	if loaded[2].Extra["parallel_efficiency"] != 2.1 {
		t.Errorf("extra not round-tripped: %v", loaded[2].Extra)
	}
	if loaded[1].Duration != 90*time.Second {
		t.Errorf("duration = %s, want 90s", loaded[1].Duration)
	}
}

func TestLoadStrategyHistory_Limit(t *testing.T) {
	db := setupTestDB(t)

	for i := 0; i < 5; i++ {
		r := orchestration.PerformanceRecord{
			Strategy:    models.StrategyHybrid,
			SuccessRate: float64(i) / 5,
			Duration:    time.Minute,
			TaskCount:   6,
			Timestamp:   time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := db.RecordStrategyPerformance(r); err != nil {
			t.Fatal(err)
		}
	}

	loaded, err := db.LoadStrategyHistory(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 records, got %d", len(loaded))
	}
	// The limit keeps the most recent records.
	if loaded[1].SuccessRate != 0.8 {
		t.Errorf("expected newest record last, got rate %f", loaded[1].SuccessRate)
	}
}

func TestSeedSelector(t *testing.T) {
	db := setupTestDB(t)

	for i := 0; i < 3; i++ {
		r := orchestration.PerformanceRecord{
			Strategy:    models.StrategyParallelAdaptive,
			SuccessRate: 1.0,
			Duration:    time.Minute,
			TaskCount:   8,
			Timestamp:   time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := db.RecordStrategyPerformance(r); err != nil {
			t.Fatal(err)
		}
	}

	selector := orchestration.NewStrategySelector()
	if err := db.SeedSelector(selector, 0); err != nil {
		t.Fatalf("SeedSelector failed: %v", err)
	}

	summary := selector.GetPerformanceSummary()
	if summary[models.StrategyParallelAdaptive].Runs != 3 {
		t.Errorf("expected 3 seeded runs, got %d", summary[models.StrategyParallelAdaptive].Runs)
	}
}

func TestPurgeOldStrategyPerformance(t *testing.T) {
	db := setupTestDB(t)

	old := orchestration.PerformanceRecord{
		Strategy: models.StrategySequential, SuccessRate: 1.0,
		Duration: time.Minute, TaskCount: 6, Timestamp: time.Now().Add(-72 * time.Hour),
	}
	fresh := orchestration.PerformanceRecord{
		Strategy: models.StrategySequential, SuccessRate: 1.0,
		Duration: time.Minute, TaskCount: 6, Timestamp: time.Now(),
	}
	for _, r := range []orchestration.PerformanceRecord{old, fresh} {
		if err := db.RecordStrategyPerformance(r); err != nil {
			t.Fatal(err)
		}
	}

	count, err := db.PurgeOldStrategyPerformance(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeOldStrategyPerformance failed: %v", err)
	}
	if count != 1 {
		t.Errorf("purged %d rows, want 1", count)
	}
}
