package orchestration

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/modporter/modporter/pkg/models"
)

// EventType represents the type of orchestration event.
type EventType string

const (
	// EventExecutionStarted indicates a workflow execution has begun.
	EventExecutionStarted EventType = "execution_started"
	// EventExecutionCompleted indicates a workflow execution finished.
	EventExecutionCompleted EventType = "execution_completed"
	// EventTaskQueued indicates a task became ready and was queued.
	EventTaskQueued EventType = "task_queued"
	// EventTaskStarted indicates a task has started execution.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed.
	EventTaskFailed EventType = "task_failed"
	// EventTaskRetried indicates a failed task was reset for another attempt.
	EventTaskRetried EventType = "task_retried"
	// EventTaskSpawned indicates a task was dynamically injected mid-run.
	EventTaskSpawned EventType = "task_spawned"
	// EventStrategySelected indicates the selector chose a strategy.
	EventStrategySelected EventType = "strategy_selected"
)

// Event is emitted by the orchestrator on every notable transition.
// The monitor and CLI progress output consume these.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// ExecutionID identifies the workflow run.
	ExecutionID string
	// TaskID is the related task, if applicable.
	TaskID string
	// AgentName is the agent handling the task, if applicable.
	AgentName string
	// Strategy is the strategy in use.
	Strategy models.OrchestrationStrategy
	// Message provides additional context.
	Message string
	// Error carries failure details for failure events.
	Error error
	// Duration is the task or execution duration, where known.
	Duration time.Duration
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// EventEmitter fans orchestration events out to a buffered channel.
// Slow consumers never block the control loop: a full channel drops the
// event after a short grace window.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
	closed       atomic.Bool
}

// NewEventEmitter creates an emitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{events: make(chan Event, bufferSize)}
}

// Emit sends an event, dropping it if the buffer stays full for 100ms.
func (e *EventEmitter) Emit(event Event) {
	if e.closed.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			log.Printf("[orchestration] WARNING: event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the number of events dropped so far.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the read-only event channel for subscribers.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the event channel. Emit becomes a no-op afterwards.
func (e *EventEmitter) Close() {
	if e.closed.CompareAndSwap(false, true) {
		close(e.events)
	}
}
