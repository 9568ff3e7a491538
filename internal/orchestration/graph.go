// Package orchestration provides the parallel task execution engine that
// drives mod conversion workflows.
package orchestration

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"time"

	"github.com/modporter/modporter/pkg/models"
)

// HistoryEntry records one task status transition in a graph's
// append-only execution log.
type HistoryEntry struct {
	// TaskID is the task that transitioned.
	TaskID string `json:"task_id"`
	// Status is the status the task transitioned to.
	Status models.TaskStatus `json:"status"`
	// Duration is set for completed tasks.
	Duration time.Duration `json:"duration,omitempty"`
	// Error is set for failed tasks.
	Error string `json:"error,omitempty"`
	// Timestamp is when the transition was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// CompletionStats summarizes a graph's progress at one observation point.
type CompletionStats struct {
	Total          int                       `json:"total"`
	ByStatus       map[models.TaskStatus]int `json:"by_status"`
	Completed      int                       `json:"completed"`
	Failed         int                       `json:"failed"`
	Running        int                       `json:"running"`
	Pending        int                       `json:"pending"`
	CompletionRate float64                   `json:"completion_rate"`
	TotalDuration  time.Duration             `json:"total_duration"`
	AvgDuration    time.Duration             `json:"avg_duration"`
}

// TaskGraph is a directed acyclic graph of conversion tasks. A graph is
// owned by exactly one workflow execution: all mutation happens on the
// orchestrator's control loop, so the graph itself carries no locking.
type TaskGraph struct {
	// tasks maps task ID to the task itself.
	tasks map[string]*models.TaskNode
	// order records insertion sequence per task ID, used as the final
	// tie-breaker for deterministic ready ordering.
	order map[string]int
	// seq is the next insertion sequence number.
	seq int
	// history is the append-only log of status transitions.
	history []HistoryEntry
}

// NewTaskGraph creates an empty task graph.
func NewTaskGraph() *TaskGraph {
	return &TaskGraph{
		tasks: make(map[string]*models.TaskNode),
		order: make(map[string]int),
	}
}

// AddTask registers a task in the graph. Returns false if a task with the
// same ID is already present; re-adding is a logged no-op.
func (g *TaskGraph) AddTask(task *models.TaskNode) bool {
	if task == nil || task.ID == "" {
		return false
	}
	if _, exists := g.tasks[task.ID]; exists {
		debugLog("[graph] task %s already present, ignoring duplicate add", task.ID)
		return false
	}

	g.tasks[task.ID] = task
	g.order[task.ID] = g.seq
	g.seq++
	return true
}

// AddDependency records that task depends on dep. Returns false if either
// ID is unknown or if the edge would close a cycle. The graph is left
// unchanged on rejection.
func (g *TaskGraph) AddDependency(taskID, depID string) bool {
	task, ok := g.tasks[taskID]
	if !ok {
		debugLog("[graph] AddDependency: unknown task %s", taskID)
		return false
	}
	if _, ok := g.tasks[depID]; !ok {
		debugLog("[graph] AddDependency: unknown dependency %s", depID)
		return false
	}

	// Adding edge task->dep closes a cycle iff dep already reaches task
	// through the current dependency edges.
	if g.reaches(depID, taskID) {
		debugLog("[graph] AddDependency: rejecting %s -> %s, would create cycle", taskID, depID)
		return false
	}

	for _, existing := range task.Dependencies {
		if existing == depID {
			return true
		}
	}
	task.Dependencies = append(task.Dependencies, depID)
	return true
}

// reaches reports whether from can reach to by following dependency edges.
func (g *TaskGraph) reaches(from, to string) bool {
	if from == to {
		return true
	}

	visited := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true

		task, ok := g.tasks[id]
		if !ok {
			continue
		}
		for _, depID := range task.Dependencies {
			if depID == to {
				return true
			}
			stack = append(stack, depID)
		}
	}
	return false
}

// GetReadyTasks flips pending tasks whose dependencies are all completed
// to ready and returns every ready task, sorted by priority (descending)
// then creation order (ascending). The ordering is stable so scheduling
// is deterministic.
func (g *TaskGraph) GetReadyTasks() []*models.TaskNode {
	var ready []*models.TaskNode
	for _, task := range g.tasks {
		if task.Status == models.TaskStatusPending && g.dependenciesCompleted(task) {
			task.Status = models.TaskStatusReady
		}
		if task.Status == models.TaskStatusReady {
			ready = append(ready, task)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		if !ready[i].CreatedAt.Equal(ready[j].CreatedAt) {
			return ready[i].CreatedAt.Before(ready[j].CreatedAt)
		}
		return g.order[ready[i].ID] < g.order[ready[j].ID]
	})

	return ready
}

// dependenciesCompleted reports whether every dependency of the task has
// completed successfully.
func (g *TaskGraph) dependenciesCompleted(task *models.TaskNode) bool {
	for _, depID := range task.Dependencies {
		dep, ok := g.tasks[depID]
		if !ok || dep.Status != models.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// MarkTaskRunning transitions a task to running and stamps its start time.
func (g *TaskGraph) MarkTaskRunning(taskID string) {
	task, ok := g.tasks[taskID]
	if !ok {
		return
	}
	now := time.Now()
	task.Status = models.TaskStatusRunning
	task.StartedAt = &now
	g.record(HistoryEntry{TaskID: taskID, Status: models.TaskStatusRunning, Timestamp: now})
}

// MarkTaskCompleted transitions a task to completed, records its result,
// and fires its spawn callback if one is set. The callback runs exactly
// once; tasks it returns are added to the graph (duplicate IDs ignored)
// and returned so the caller can schedule them. A panicking callback is
// logged and never fails the parent task.
func (g *TaskGraph) MarkTaskCompleted(taskID string, result any) []*models.TaskNode {
	task, ok := g.tasks[taskID]
	if !ok {
		return nil
	}

	now := time.Now()
	task.Status = models.TaskStatusCompleted
	task.CompletedAt = &now
	task.Result = result
	task.Error = ""
	g.record(HistoryEntry{
		TaskID:    taskID,
		Status:    models.TaskStatusCompleted,
		Duration:  task.Duration(),
		Timestamp: now,
	})

	if task.SpawnFn == nil {
		return nil
	}
	spawnFn := task.SpawnFn
	task.SpawnFn = nil // one-shot

	spawned := g.runSpawn(taskID, spawnFn, result)

	var added []*models.TaskNode
	for _, node := range spawned {
		if node == nil {
			continue
		}
		if g.AddTask(node) {
			added = append(added, node)
		}
	}
	if len(added) > 0 {
		debugLog("[graph] task %s spawned %d new tasks", taskID, len(added))
	}
	return added
}

// runSpawn invokes a spawn callback, containing any panic.
func (g *TaskGraph) runSpawn(taskID string, fn models.SpawnFunc, result any) (spawned []*models.TaskNode) {
	defer func() {
		if r := recover(); r != nil {
			debugLog("[graph] spawn callback for task %s panicked: %v", taskID, r)
			spawned = nil
		}
	}()
	return fn(result)
}

// MarkTaskFailed transitions a task to failed and returns whether the
// task still has retry budget.
func (g *TaskGraph) MarkTaskFailed(taskID string, taskErr error) bool {
	task, ok := g.tasks[taskID]
	if !ok {
		return false
	}

	now := time.Now()
	task.Status = models.TaskStatusFailed
	task.CompletedAt = &now
	if taskErr != nil {
		task.Error = taskErr.Error()
	}
	g.record(HistoryEntry{
		TaskID:    taskID,
		Status:    models.TaskStatusFailed,
		Error:     task.Error,
		Timestamp: now,
	})

	return task.CanRetry()
}

// MarkTaskCancelled transitions a task to cancelled.
func (g *TaskGraph) MarkTaskCancelled(taskID string) {
	task, ok := g.tasks[taskID]
	if !ok {
		return
	}
	now := time.Now()
	task.Status = models.TaskStatusCancelled
	task.CompletedAt = &now
	g.record(HistoryEntry{TaskID: taskID, Status: models.TaskStatusCancelled, Timestamp: now})
}

// RetryTask resets a failed task back to pending, consuming one retry.
// Returns false if the task is not failed or has no retry budget left.
func (g *TaskGraph) RetryTask(taskID string) bool {
	task, ok := g.tasks[taskID]
	if !ok {
		return false
	}
	if task.Status != models.TaskStatusFailed || !task.CanRetry() {
		return false
	}

	task.Status = models.TaskStatusPending
	task.StartedAt = nil
	task.CompletedAt = nil
	task.Error = ""
	task.Result = nil
	task.RetryCount++
	g.record(HistoryEntry{TaskID: taskID, Status: models.TaskStatusPending, Timestamp: time.Now()})
	debugLog("[graph] task %s reset for retry %d/%d", taskID, task.RetryCount, task.MaxRetries)
	return true
}

// IsComplete reports whether every task reached a terminal state and no
// failed task still has retry budget.
func (g *TaskGraph) IsComplete() bool {
	for _, task := range g.tasks {
		if !task.Status.Terminal() {
			return false
		}
		if task.Status == models.TaskStatusFailed && task.CanRetry() {
			return false
		}
	}
	return true
}

// HasPermanentlyFailedTasks reports whether any task failed with its
// retry budget exhausted.
func (g *TaskGraph) HasPermanentlyFailedTasks() bool {
	for _, task := range g.tasks {
		if task.PermanentlyFailed() {
			return true
		}
	}
	return false
}

// Task returns the task for the given ID, or nil if not present.
func (g *TaskGraph) Task(taskID string) *models.TaskNode {
	return g.tasks[taskID]
}

// Tasks returns all tasks in insertion order.
func (g *TaskGraph) Tasks() []*models.TaskNode {
	out := make([]*models.TaskNode, 0, len(g.tasks))
	for _, task := range g.tasks {
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool {
		return g.order[out[i].ID] < g.order[out[j].ID]
	})
	return out
}

// Size returns the number of tasks in the graph.
func (g *TaskGraph) Size() int {
	return len(g.tasks)
}

// History returns a copy of the execution log.
func (g *TaskGraph) History() []HistoryEntry {
	out := make([]HistoryEntry, len(g.history))
	copy(out, g.history)
	return out
}

// Stats computes completion statistics at the current observation point.
func (g *TaskGraph) Stats() CompletionStats {
	stats := CompletionStats{
		Total:    len(g.tasks),
		ByStatus: make(map[models.TaskStatus]int),
	}

	var durations time.Duration
	var durationCount int
	for _, task := range g.tasks {
		stats.ByStatus[task.Status]++
		if d := task.Duration(); d > 0 {
			durations += d
			durationCount++
		}
	}

	stats.Completed = stats.ByStatus[models.TaskStatusCompleted]
	stats.Failed = stats.ByStatus[models.TaskStatusFailed]
	stats.Running = stats.ByStatus[models.TaskStatusRunning]
	stats.Pending = stats.ByStatus[models.TaskStatusPending] + stats.ByStatus[models.TaskStatusReady]
	if stats.Total > 0 {
		stats.CompletionRate = float64(stats.Completed) / float64(stats.Total)
	}
	stats.TotalDuration = durations
	if durationCount > 0 {
		stats.AvgDuration = durations / time.Duration(durationCount)
	}
	return stats
}

// record appends an entry to the execution history.
func (g *TaskGraph) record(entry HistoryEntry) {
	g.history = append(g.history, entry)
}

// graphExport is the JSON document written by Export.
type graphExport struct {
	Nodes            []*models.TaskNode `json:"nodes"`
	ExecutionHistory []HistoryEntry     `json:"execution_history"`
	Stats            CompletionStats    `json:"stats"`
}

// Export writes the full graph state as JSON, for debugging and CI artifacts.
func (g *TaskGraph) Export(w io.Writer) error {
	doc := graphExport{
		Nodes:            g.Tasks(),
		ExecutionHistory: g.History(),
		Stats:            g.Stats(),
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// ExportFile writes the graph export to the given path.
func (g *TaskGraph) ExportFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return g.Export(f)
}
