// Package prom exposes orchestration activity as Prometheus collectors.
package prom

import (
	"errors"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/modporter/modporter/internal/orchestration"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// Exporter bridges orchestration events onto Prometheus collectors.
// Feed it from the orchestrator's event stream via Observe.
type Exporter struct {
	taskDurationSeconds *prom.HistogramVec
	tasksTotal          *prom.CounterVec
	tasksSpawnedTotal   prom.Counter
	executionsTotal     *prom.CounterVec
	tasksInFlight       prom.Gauge

	// inFlight shadows the gauge so it never goes negative: tasks that
	// fail before submission emit a failure with no preceding start.
	inFlight atomic.Int64
}

// NewExporter creates and registers the orchestration collectors.
func NewExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*Exporter, error) {
	if namespace == "" {
		namespace = "modporter"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"agent"})
	tasksVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_total",
		Help:      "Total tasks by outcome.",
	}, []string{"agent", "outcome"})
	spawned := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_spawned_total",
		Help:      "Total dynamically spawned tasks.",
	})
	executionsVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "executions_total",
		Help:      "Total workflow executions by strategy.",
	}, []string{"strategy"})
	inFlight := prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "tasks_in_flight",
		Help:      "Tasks currently executing.",
	})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if tasksVec, err = registerCollector(reg, tasksVec); err != nil {
		return nil, err
	}
	if spawned, err = registerCollector(reg, spawned); err != nil {
		return nil, err
	}
	if executionsVec, err = registerCollector(reg, executionsVec); err != nil {
		return nil, err
	}
	if inFlight, err = registerCollector(reg, inFlight); err != nil {
		return nil, err
	}

	return &Exporter{
		taskDurationSeconds: durationVec,
		tasksTotal:          tasksVec,
		tasksSpawnedTotal:   spawned,
		executionsTotal:     executionsVec,
		tasksInFlight:       inFlight,
	}, nil
}

// Observe updates collectors for one orchestration event.
func (e *Exporter) Observe(event orchestration.Event) {
	if e == nil {
		return
	}

	agent := event.AgentName
	if agent == "" {
		agent = "unknown"
	}

	switch event.Type {
	case orchestration.EventTaskStarted:
		e.inFlight.Add(1)
		e.tasksInFlight.Inc()
	case orchestration.EventTaskCompleted:
		e.decInFlight()
		e.tasksTotal.WithLabelValues(agent, "completed").Inc()
		if event.Duration > 0 {
			e.taskDurationSeconds.WithLabelValues(agent).Observe(event.Duration.Seconds())
		}
	case orchestration.EventTaskFailed:
		e.decInFlight()
		e.tasksTotal.WithLabelValues(agent, "failed").Inc()
	case orchestration.EventTaskSpawned:
		e.tasksSpawnedTotal.Inc()
	case orchestration.EventExecutionCompleted:
		e.executionsTotal.WithLabelValues(string(event.Strategy)).Inc()
	}
}

// decInFlight decrements the gauge only when a start was counted.
func (e *Exporter) decInFlight() {
	if e.inFlight.Add(-1) < 0 {
		e.inFlight.Add(1)
		return
	}
	e.tasksInFlight.Dec()
}

// Watch consumes an event stream until it closes. Intended to run on
// its own goroutine.
func (e *Exporter) Watch(events <-chan orchestration.Event) {
	for event := range events {
		e.Observe(event)
	}
}

// ObserveDuration records a task duration directly, for callers that
// aggregate outside the event stream.
func (e *Exporter) ObserveDuration(agent string, d time.Duration) {
	if e == nil || agent == "" {
		return
	}
	e.taskDurationSeconds.WithLabelValues(agent).Observe(d.Seconds())
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var already prom.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	var zero T
	return zero, err
}
