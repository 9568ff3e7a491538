package orchestration

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/modporter/modporter/pkg/models"
)

// MetricPoint is an immutable, timestamped observation. Metrics are for
// observability only and are never consulted for scheduling decisions.
type MetricPoint struct {
	Name      string         `json:"name"`
	Value     float64        `json:"value"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ExecutionEvent is an immutable record of an orchestration transition.
type ExecutionEvent struct {
	Type        EventType                    `json:"type"`
	ExecutionID string                       `json:"execution_id,omitempty"`
	TaskID      string                       `json:"task_id,omitempty"`
	AgentName   string                       `json:"agent_name,omitempty"`
	Strategy    models.OrchestrationStrategy `json:"strategy,omitempty"`
	Details     map[string]any               `json:"details,omitempty"`
	Timestamp   time.Time                    `json:"timestamp"`
}

// Alert carries contextual data to registered alert callbacks.
type Alert struct {
	Name      string         `json:"name"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AlertFunc receives alerts raised by the monitor's threshold loop.
type AlertFunc func(Alert)

// MonitorConfig tunes retention and alerting behavior.
type MonitorConfig struct {
	// Retention is how long metrics and events are kept. Default 24h.
	Retention time.Duration
	// AlertInterval is how often thresholds are evaluated. Default 30s.
	AlertInterval time.Duration
	// AlertWindow is the look-back window for threshold evaluation.
	// Default 5 minutes.
	AlertWindow time.Duration
	// FailureRateThreshold triggers an alert when exceeded. Default 0.2.
	FailureRateThreshold float64
	// TaskDurationCeiling triggers an alert when average task duration
	// over the alert window exceeds it. Zero disables the check.
	TaskDurationCeiling time.Duration
	// SummaryCacheTTL is how long GetPerformanceSummary results are
	// cached. Default 5 minutes.
	SummaryCacheTTL time.Duration
}

func (c *MonitorConfig) applyDefaults() {
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.AlertInterval <= 0 {
		c.AlertInterval = 30 * time.Second
	}
	if c.AlertWindow <= 0 {
		c.AlertWindow = 5 * time.Minute
	}
	if c.FailureRateThreshold <= 0 {
		c.FailureRateThreshold = 0.2
	}
	if c.SummaryCacheTTL <= 0 {
		c.SummaryCacheTTL = 5 * time.Minute
	}
}

// TaskAggregates summarizes per-task observations in a summary window.
type TaskAggregates struct {
	Count       int           `json:"count"`
	Failures    int           `json:"failures"`
	FailureRate float64       `json:"failure_rate"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// PerformanceSummary is the monitor's windowed aggregate view.
type PerformanceSummary struct {
	WindowHours   float64                              `json:"window_hours"`
	Executions    int                                  `json:"executions"`
	SuccessRate   float64                              `json:"success_rate"`
	AvgDuration   time.Duration                        `json:"avg_duration"`
	Tasks         TaskAggregates                       `json:"tasks"`
	StrategyUsage map[models.OrchestrationStrategy]int `json:"strategy_usage"`
	GeneratedAt   time.Time                            `json:"generated_at"`
}

// Monitor observes orchestration through explicit event calls, keeps a
// retention-bounded record, and raises alerts when thresholds trip.
type Monitor struct {
	cfg MonitorConfig

	mu       sync.Mutex
	metrics  []MetricPoint
	events   []ExecutionEvent
	alertFns []AlertFunc

	cachedSummary *PerformanceSummary
	cachedWindow  float64
	cachedAt      time.Time

	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
	started bool
}

// NewMonitor creates a monitor. The alert loop does not run until Start.
func NewMonitor(cfg MonitorConfig) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// OnAlert registers a callback invoked whenever a threshold trips.
// Callbacks that panic are contained and logged, never propagated.
func (m *Monitor) OnAlert(fn AlertFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertFns = append(m.alertFns, fn)
}

// Start launches the background alert loop.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true

	m.wg.Add(1)
	go m.alertLoop()
}

// Stop terminates the alert loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
}

// alertLoop wakes on the configured interval and checks thresholds over
// the alert window.
func (m *Monitor) alertLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.AlertInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.CheckAlerts()
		}
	}
}

// RecordExecutionStart records the start of a workflow execution.
func (m *Monitor) RecordExecutionStart(executionID string, strategy models.OrchestrationStrategy, taskCount int) {
	m.append(ExecutionEvent{
		Type:        EventExecutionStarted,
		ExecutionID: executionID,
		Strategy:    strategy,
		Details:     map[string]any{"task_count": taskCount},
		Timestamp:   time.Now(),
	}, nil)
}

// RecordExecutionEnd records a finished execution with its final results.
func (m *Monitor) RecordExecutionEnd(executionID string, strategy models.OrchestrationStrategy, result *WorkflowResult) {
	details := map[string]any{
		"completed":           result.Stats.Completed,
		"failed":              result.Stats.Failed,
		"success_rate":        result.SuccessRate,
		"parallel_efficiency": result.ParallelEfficiency,
		"dynamic_spawned":     result.DynamicTasksSpawned,
		"wall_clock_seconds":  result.WallClock.Seconds(),
	}
	m.append(ExecutionEvent{
		Type:        EventExecutionCompleted,
		ExecutionID: executionID,
		Strategy:    strategy,
		Details:     details,
		Timestamp:   time.Now(),
	}, []MetricPoint{
		{Name: "execution_duration_seconds", Value: result.WallClock.Seconds(), Timestamp: time.Now()},
		{Name: "execution_success_rate", Value: result.SuccessRate, Timestamp: time.Now()},
		{Name: "parallel_efficiency", Value: result.ParallelEfficiency, Timestamp: time.Now()},
	})
}

// RecordTaskEvent records a task transition observed by the orchestrator.
func (m *Monitor) RecordTaskEvent(executionID string, task *models.TaskNode, eventType EventType) {
	event := ExecutionEvent{
		Type:        eventType,
		ExecutionID: executionID,
		Timestamp:   time.Now(),
	}
	var metrics []MetricPoint
	if task != nil {
		event.TaskID = task.ID
		event.AgentName = task.AgentName
		if eventType == EventTaskCompleted || eventType == EventTaskFailed {
			if d := task.Duration(); d > 0 {
				event.Details = map[string]any{"duration_seconds": d.Seconds()}
				metrics = append(metrics, MetricPoint{
					Name:      "task_duration_seconds",
					Value:     d.Seconds(),
					Metadata:  map[string]any{"agent": task.AgentName},
					Timestamp: time.Now(),
				})
			}
		}
	}
	m.append(event, metrics)
}

// RecordStrategySelection records the selector's decision for a run.
func (m *Monitor) RecordStrategySelection(executionID string, strategy models.OrchestrationStrategy, in SelectionInput) {
	details := map[string]any{"variant_id": in.VariantID}
	if in.Complexity != nil {
		details["complexity_score"] = in.Complexity.Score()
	}
	if in.Resources != nil {
		details["cpu_count"] = in.Resources.CPUCount
	}
	m.append(ExecutionEvent{
		Type:        EventStrategySelected,
		ExecutionID: executionID,
		Strategy:    strategy,
		Details:     details,
		Timestamp:   time.Now(),
	}, nil)
}

// append stores an event plus any metrics, purging expired records lazily.
func (m *Monitor) append(event ExecutionEvent, metrics []MetricPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.purgeLocked(time.Now().Add(-m.cfg.Retention))
	m.events = append(m.events, event)
	m.metrics = append(m.metrics, metrics...)
}

// purgeLocked drops records older than the cutoff. Caller must hold m.mu.
func (m *Monitor) purgeLocked(cutoff time.Time) {
	m.events = trimBefore(m.events, func(e ExecutionEvent) time.Time { return e.Timestamp }, cutoff)
	m.metrics = trimBefore(m.metrics, func(p MetricPoint) time.Time { return p.Timestamp }, cutoff)
}

// trimBefore drops leading records older than cutoff. Records are
// appended in time order, so a prefix scan suffices for O(1) amortized
// eviction.
func trimBefore[T any](records []T, ts func(T) time.Time, cutoff time.Time) []T {
	i := 0
	for i < len(records) && ts(records[i]).Before(cutoff) {
		i++
	}
	if i == 0 {
		return records
	}
	return append(records[:0:0], records[i:]...)
}

// CheckAlerts evaluates thresholds over the alert window and fires the
// registered callbacks for any that trip. Exposed for tests; the
// background loop calls it on its interval.
func (m *Monitor) CheckAlerts() {
	cutoff := time.Now().Add(-m.cfg.AlertWindow)

	m.mu.Lock()
	var taskCount, taskFailures int
	var durationSum time.Duration
	var durationCount int
	for _, e := range m.events {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		switch e.Type {
		case EventTaskCompleted:
			taskCount++
		case EventTaskFailed:
			taskCount++
			taskFailures++
		}
	}
	for _, p := range m.metrics {
		if p.Timestamp.Before(cutoff) || p.Name != "task_duration_seconds" {
			continue
		}
		durationSum += time.Duration(p.Value * float64(time.Second))
		durationCount++
	}
	fns := append([]AlertFunc(nil), m.alertFns...)
	m.mu.Unlock()

	var alerts []Alert
	if taskCount > 0 {
		failureRate := float64(taskFailures) / float64(taskCount)
		if failureRate > m.cfg.FailureRateThreshold {
			alerts = append(alerts, Alert{
				Name:    "high_task_failure_rate",
				Message: fmt.Sprintf("task failure rate %.0f%% over last %s", failureRate*100, m.cfg.AlertWindow),
				Context: map[string]any{
					"failure_rate": failureRate,
					"failures":     taskFailures,
					"tasks":        taskCount,
				},
				Timestamp: time.Now(),
			})
		}
	}
	if m.cfg.TaskDurationCeiling > 0 && durationCount > 0 {
		avg := durationSum / time.Duration(durationCount)
		if avg > m.cfg.TaskDurationCeiling {
			alerts = append(alerts, Alert{
				Name:    "slow_task_execution",
				Message: fmt.Sprintf("average task duration %s exceeds ceiling %s", avg.Round(time.Millisecond), m.cfg.TaskDurationCeiling),
				Context: map[string]any{
					"avg_duration_seconds": avg.Seconds(),
					"ceiling_seconds":      m.cfg.TaskDurationCeiling.Seconds(),
					"tasks":                durationCount,
				},
				Timestamp: time.Now(),
			})
		}
	}

	for _, alert := range alerts {
		for _, fn := range fns {
			m.fireAlert(fn, alert)
		}
	}
}

// fireAlert invokes one callback, containing panics.
func (m *Monitor) fireAlert(fn AlertFunc, alert Alert) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[monitor] alert callback panicked: %v", r)
		}
	}()
	fn(alert)
}

// GetPerformanceSummary aggregates the retained events over the given
// window (hours; zero means the full retention window). Results are
// cached for the configured TTL.
func (m *Monitor) GetPerformanceSummary(windowHours float64) PerformanceSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cachedSummary != nil && m.cachedWindow == windowHours &&
		time.Since(m.cachedAt) < m.cfg.SummaryCacheTTL {
		return *m.cachedSummary
	}

	window := m.cfg.Retention
	if windowHours > 0 {
		window = time.Duration(windowHours * float64(time.Hour))
	}
	cutoff := time.Now().Add(-window)

	summary := PerformanceSummary{
		WindowHours:   window.Hours(),
		StrategyUsage: make(map[models.OrchestrationStrategy]int),
		GeneratedAt:   time.Now(),
	}

	var execSuccesses int
	var execDurations time.Duration
	var taskDurations time.Duration
	var taskDurationCount int
	for _, e := range m.events {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		switch e.Type {
		case EventExecutionCompleted:
			summary.Executions++
			summary.StrategyUsage[e.Strategy]++
			if rate, ok := e.Details["success_rate"].(float64); ok && rate >= 1.0 {
				execSuccesses++
			}
			if secs, ok := e.Details["wall_clock_seconds"].(float64); ok {
				execDurations += time.Duration(secs * float64(time.Second))
			}
		case EventTaskCompleted:
			summary.Tasks.Count++
		case EventTaskFailed:
			summary.Tasks.Count++
			summary.Tasks.Failures++
		}
	}
	for _, p := range m.metrics {
		if p.Timestamp.Before(cutoff) || p.Name != "task_duration_seconds" {
			continue
		}
		taskDurations += time.Duration(p.Value * float64(time.Second))
		taskDurationCount++
	}

	if summary.Executions > 0 {
		summary.SuccessRate = float64(execSuccesses) / float64(summary.Executions)
		summary.AvgDuration = execDurations / time.Duration(summary.Executions)
	}
	if summary.Tasks.Count > 0 {
		summary.Tasks.FailureRate = float64(summary.Tasks.Failures) / float64(summary.Tasks.Count)
	}
	if taskDurationCount > 0 {
		summary.Tasks.AvgDuration = taskDurations / time.Duration(taskDurationCount)
	}

	m.cachedSummary = &summary
	m.cachedWindow = windowHours
	m.cachedAt = time.Now()
	return summary
}

// metricsExport is the JSON document written by ExportMetrics.
type metricsExport struct {
	ExportTimestamp    time.Time          `json:"export_timestamp"`
	Metrics            []MetricPoint      `json:"metrics"`
	Events             []ExecutionEvent   `json:"events"`
	PerformanceSummary PerformanceSummary `json:"performance_summary"`
}

// ExportMetrics writes retained metrics, events, and the performance
// summary to path. Only the "json" format is supported.
func (m *Monitor) ExportMetrics(path, format string) error {
	if format != "json" {
		return fmt.Errorf("unsupported export format %q", format)
	}

	summary := m.GetPerformanceSummary(0)

	m.mu.Lock()
	doc := metricsExport{
		ExportTimestamp:    time.Now(),
		Metrics:            append([]MetricPoint(nil), m.metrics...),
		Events:             append([]ExecutionEvent(nil), m.events...),
		PerformanceSummary: summary,
	}
	m.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metrics export: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Events returns a copy of the retained execution events.
func (m *Monitor) Events() []ExecutionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExecutionEvent(nil), m.events...)
}

// Metrics returns a copy of the retained metric points.
func (m *Monitor) Metrics() []MetricPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MetricPoint(nil), m.metrics...)
}
