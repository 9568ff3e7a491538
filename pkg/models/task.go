package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting on dependencies.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusReady indicates all dependencies are satisfied and the task can run.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusRunning indicates the task is being executed.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled before completion.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a final state.
// A failed node may still be reset to pending via retry while retries remain.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// DefaultMaxRetries is the retry budget given to tasks that don't set one.
const DefaultMaxRetries = 3

// SpawnFunc is invoked once when a task completes successfully. It may
// inspect the task's result and return new tasks to inject into the
// running graph.
type SpawnFunc func(result any) []*TaskNode

// TaskNode is a single schedulable unit wrapping an agent invocation.
type TaskNode struct {
	// ID is the unique identifier for this task within a graph.
	ID string `json:"id"`
	// AgentName is the routing key into the registered-executor table.
	AgentName string `json:"agent_name"`
	// InputData is the opaque payload passed to the executor.
	InputData map[string]any `json:"input_data,omitempty"`
	// Dependencies lists task IDs that must complete before this task.
	Dependencies []string `json:"dependencies,omitempty"`
	// Priority orders ready tasks; higher values are scheduled first.
	Priority int `json:"priority"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when execution began, if it has.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Result holds the executor's return value on success.
	Result any `json:"result,omitempty"`
	// Error contains the error message if the task failed.
	Error string `json:"error,omitempty"`
	// RetryCount is the number of times this task has been retried.
	RetryCount int `json:"retry_count"`
	// MaxRetries bounds RetryCount. Once exhausted the task is
	// permanently failed.
	MaxRetries int `json:"max_retries"`
	// SpawnFn, if set, is invoked one time on successful completion to
	// dynamically extend the graph. Never serialized.
	SpawnFn SpawnFunc `json:"-"`
}

// NewTaskNode creates a pending task with the default retry budget.
func NewTaskNode(id, agentName string, input map[string]any) *TaskNode {
	return &TaskNode{
		ID:         id,
		AgentName:  agentName,
		InputData:  input,
		Status:     TaskStatusPending,
		CreatedAt:  time.Now(),
		MaxRetries: DefaultMaxRetries,
	}
}

// CanRetry returns true if the task has retry budget remaining.
func (t *TaskNode) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// PermanentlyFailed returns true if the task failed and exhausted its retries.
func (t *TaskNode) PermanentlyFailed() bool {
	return t.Status == TaskStatusFailed && !t.CanRetry()
}

// Duration returns how long the task ran. It is defined only once both
// StartedAt and CompletedAt are set; otherwise it returns zero.
func (t *TaskNode) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}
