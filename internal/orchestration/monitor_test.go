package orchestration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modporter/modporter/pkg/models"
)

func finishedTask(id, agent string, d time.Duration, failed bool) *models.TaskNode {
	task := models.NewTaskNode(id, agent, nil)
	start := time.Now().Add(-d)
	end := time.Now()
	task.StartedAt = &start
	task.CompletedAt = &end
	if failed {
		task.Status = models.TaskStatusFailed
	} else {
		task.Status = models.TaskStatusCompleted
	}
	return task
}

func TestMonitorFailureRateAlert(t *testing.T) {
	m := NewMonitor(MonitorConfig{FailureRateThreshold: 0.2})

	var got []Alert
	m.OnAlert(func(a Alert) { got = append(got, a) })

	// 1 failure out of 4 tasks is 25%, above the 20% threshold.
	m.RecordTaskEvent("exec-1", finishedTask("a", "java_analyzer", time.Second, false), EventTaskCompleted)
	m.RecordTaskEvent("exec-1", finishedTask("b", "behavior_translator", time.Second, false), EventTaskCompleted)
	m.RecordTaskEvent("exec-1", finishedTask("c", "asset_converter", time.Second, false), EventTaskCompleted)
	m.RecordTaskEvent("exec-1", finishedTask("d", "qa_validator", time.Second, true), EventTaskFailed)

	m.CheckAlerts()

	if len(got) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(got))
	}
	if got[0].Name != "high_task_failure_rate" {
		t.Errorf("unexpected alert name %q", got[0].Name)
	}
	if rate := got[0].Context["failure_rate"].(float64); rate != 0.25 {
		t.Errorf("expected failure rate 0.25, got %f", rate)
	}
}

func TestMonitorNoAlertBelowThreshold(t *testing.T) {
	m := NewMonitor(MonitorConfig{FailureRateThreshold: 0.5})

	fired := false
	m.OnAlert(func(Alert) { fired = true })

	m.RecordTaskEvent("exec-1", finishedTask("a", "java_analyzer", time.Second, false), EventTaskCompleted)
	m.RecordTaskEvent("exec-1", finishedTask("b", "qa_validator", time.Second, true), EventTaskFailed)

	m.CheckAlerts()
	if fired {
		t.Error("50% failure rate must not exceed a 0.5 threshold")
	}
}

func TestMonitorSlowTaskAlert(t *testing.T) {
	m := NewMonitor(MonitorConfig{TaskDurationCeiling: 100 * time.Millisecond})

	var got []Alert
	m.OnAlert(func(a Alert) { got = append(got, a) })

	m.RecordTaskEvent("exec-1", finishedTask("a", "java_analyzer", time.Second, false), EventTaskCompleted)
	m.CheckAlerts()

	if len(got) != 1 || got[0].Name != "slow_task_execution" {
		t.Fatalf("expected slow_task_execution alert, got %v", got)
	}
}

func TestMonitorAlertCallbackPanicContained(t *testing.T) {
	m := NewMonitor(MonitorConfig{FailureRateThreshold: 0.1})

	m.OnAlert(func(Alert) { panic("boom") })
	called := false
	m.OnAlert(func(Alert) { called = true })

	m.RecordTaskEvent("exec-1", finishedTask("a", "qa_validator", time.Second, true), EventTaskFailed)
	m.CheckAlerts() // must not panic

	if !called {
		t.Error("second callback should still run after the first panics")
	}
}

func TestMonitorRetentionPurge(t *testing.T) {
	m := NewMonitor(MonitorConfig{Retention: 50 * time.Millisecond})

	m.RecordExecutionStart("old", models.StrategySequential, 6)
	time.Sleep(80 * time.Millisecond)
	m.RecordExecutionStart("new", models.StrategySequential, 6)

	events := m.Events()
	if len(events) != 1 {
		t.Fatalf("expected only the fresh event after purge, got %d", len(events))
	}
	if events[0].ExecutionID != "new" {
		t.Errorf("expected event for 'new', got %q", events[0].ExecutionID)
	}
}

func TestMonitorPerformanceSummary(t *testing.T) {
	m := NewMonitor(MonitorConfig{})

	m.RecordExecutionEnd("e1", models.StrategyParallelBasic, &WorkflowResult{
		SuccessRate: 1.0,
		WallClock:   2 * time.Second,
		Stats:       CompletionStats{Total: 6, Completed: 6},
	})
	m.RecordExecutionEnd("e2", models.StrategySequential, &WorkflowResult{
		SuccessRate: 0.5,
		WallClock:   4 * time.Second,
		Stats:       CompletionStats{Total: 6, Completed: 3, Failed: 3},
	})
	m.RecordTaskEvent("e1", finishedTask("a", "java_analyzer", time.Second, false), EventTaskCompleted)
	m.RecordTaskEvent("e2", finishedTask("b", "qa_validator", time.Second, true), EventTaskFailed)

	summary := m.GetPerformanceSummary(1)
	if summary.Executions != 2 {
		t.Fatalf("expected 2 executions, got %d", summary.Executions)
	}
	if summary.SuccessRate != 0.5 {
		t.Errorf("expected execution success rate 0.5, got %f", summary.SuccessRate)
	}
	if summary.AvgDuration != 3*time.Second {
		t.Errorf("expected avg duration 3s, got %s", summary.AvgDuration)
	}
	if summary.StrategyUsage[models.StrategyParallelBasic] != 1 ||
		summary.StrategyUsage[models.StrategySequential] != 1 {
		t.Errorf("unexpected strategy usage: %v", summary.StrategyUsage)
	}
	if summary.Tasks.Count != 2 || summary.Tasks.Failures != 1 {
		t.Errorf("unexpected task aggregates: %+v", summary.Tasks)
	}
}

func TestMonitorSummaryCache(t *testing.T) {
	m := NewMonitor(MonitorConfig{})

	first := m.GetPerformanceSummary(1)

	// New data within the cache TTL must not change the cached view.
	m.RecordExecutionEnd("e1", models.StrategyHybrid, &WorkflowResult{
		SuccessRate: 1.0,
		WallClock:   time.Second,
	})

	second := m.GetPerformanceSummary(1)
	if second.Executions != first.Executions {
		t.Errorf("expected cached summary, got %d executions vs %d", second.Executions, first.Executions)
	}

	// A different window bypasses the cache.
	third := m.GetPerformanceSummary(2)
	if third.Executions != 1 {
		t.Errorf("expected fresh summary with 1 execution, got %d", third.Executions)
	}
}

func TestMonitorExportMetrics(t *testing.T) {
	m := NewMonitor(MonitorConfig{})
	m.RecordExecutionEnd("e1", models.StrategyParallelAdaptive, &WorkflowResult{
		SuccessRate: 1.0,
		WallClock:   time.Second,
	})

	path := filepath.Join(t.TempDir(), "metrics.json")
	if err := m.ExportMetrics(path, "json"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		ExportTimestamp time.Time        `json:"export_timestamp"`
		Metrics         []MetricPoint    `json:"metrics"`
		Events          []ExecutionEvent `json:"events"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if doc.ExportTimestamp.IsZero() {
		t.Error("missing export timestamp")
	}
	if len(doc.Events) != 1 {
		t.Errorf("expected 1 event in export, got %d", len(doc.Events))
	}
	if len(doc.Metrics) == 0 {
		t.Error("expected execution metrics in export")
	}
}

func TestMonitorExportRejectsUnknownFormat(t *testing.T) {
	m := NewMonitor(MonitorConfig{})
	if err := m.ExportMetrics(filepath.Join(t.TempDir(), "out.csv"), "csv"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestMonitorStartStopIdempotent(t *testing.T) {
	m := NewMonitor(MonitorConfig{AlertInterval: 10 * time.Millisecond})
	m.Start()
	m.Start()
	m.Stop()
	m.Stop()
}
