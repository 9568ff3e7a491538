package state

import (
	"testing"
	"time"
)

func TestConversionCRUD(t *testing.T) {
	db := setupTestDB(t)

	c := &Conversion{
		ID:        "conv-1",
		ModPath:   "/mods/twilight.jar",
		Strategy:  "parallel_basic",
		Status:    ConversionRunning,
		StartedAt: time.Now(),
	}
	if err := db.CreateConversion(c); err != nil {
		t.Fatalf("CreateConversion failed: %v", err)
	}

	got, err := db.GetConversion("conv-1")
	if err != nil {
		t.Fatalf("GetConversion failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected conversion, got nil")
	}
	if got.ModPath != "/mods/twilight.jar" || got.Status != ConversionRunning {
		t.Errorf("unexpected conversion: %+v", got)
	}
	if got.FinishedAt != nil {
		t.Error("expected nil FinishedAt for running conversion")
	}

	finished := time.Now()
	c.Status = ConversionCompleted
	c.OutputPath = "/out/twilight.mcaddon"
	c.SuccessRate = 1.0
	c.ParallelEfficiency = 2.4
	c.TotalTasks = 6
	c.CompletedTasks = 6
	c.WallClock = 90 * time.Second
	c.FinishedAt = &finished
	if err := db.UpdateConversion(c); err != nil {
		t.Fatalf("UpdateConversion failed: %v", err)
	}

	got, err = db.GetConversion("conv-1")
	if err != nil {
		t.Fatalf("GetConversion after update failed: %v", err)
	}
	if got.Status != ConversionCompleted || got.SuccessRate != 1.0 {
		t.Errorf("update not persisted: %+v", got)
	}
	if got.WallClock != 90*time.Second {
		t.Errorf("wall clock = %s, want 90s", got.WallClock)
	}
	if got.FinishedAt == nil {
		t.Error("expected FinishedAt after update")
	}
}

func TestGetConversion_NotFound(t *testing.T) {
	db := setupTestDB(t)

	got, err := db.GetConversion("missing")
	if err != nil {
		t.Fatalf("GetConversion failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing conversion, got %+v", got)
	}
}

func TestListConversions_StatusFilter(t *testing.T) {
	db := setupTestDB(t)

	for i, status := range []ConversionStatus{ConversionCompleted, ConversionFailed, ConversionCompleted} {
		c := &Conversion{
			ID:        string(rune('a' + i)),
			ModPath:   "/mods/m.jar",
			Strategy:  "sequential",
			Status:    status,
			StartedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := db.CreateConversion(c); err != nil {
			t.Fatalf("CreateConversion failed: %v", err)
		}
	}

	all, err := db.ListConversions(nil)
	if err != nil {
		t.Fatalf("ListConversions failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 conversions, got %d", len(all))
	}
	// Newest first.
	if all[0].ID != "c" {
		t.Errorf("expected newest conversion first, got %q", all[0].ID)
	}

	status := ConversionCompleted
	completed, err := db.ListConversions(&status)
	if err != nil {
		t.Fatalf("ListConversions with filter failed: %v", err)
	}
	if len(completed) != 2 {
		t.Errorf("expected 2 completed conversions, got %d", len(completed))
	}
}

func TestPurgeOldConversions(t *testing.T) {
	db := setupTestDB(t)

	old := &Conversion{
		ID: "old", ModPath: "/mods/old.jar", Strategy: "sequential",
		Status: ConversionCompleted, StartedAt: time.Now().Add(-48 * time.Hour),
	}
	fresh := &Conversion{
		ID: "fresh", ModPath: "/mods/fresh.jar", Strategy: "sequential",
		Status: ConversionCompleted, StartedAt: time.Now(),
	}
	for _, c := range []*Conversion{old, fresh} {
		if err := db.CreateConversion(c); err != nil {
			t.Fatalf("CreateConversion failed: %v", err)
		}
	}

	count, err := db.PurgeOldConversions(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeOldConversions failed: %v", err)
	}
	if count != 1 {
		t.Errorf("purged %d rows, want 1", count)
	}

	remaining, err := db.ListConversions(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].ID != "fresh" {
		t.Errorf("unexpected survivors: %+v", remaining)
	}
}
