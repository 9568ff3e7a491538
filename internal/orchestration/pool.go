package orchestration

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/modporter/modporter/pkg/models"
)

// ExecutorFunc is the contract every registered agent satisfies. The
// orchestrator never introspects agent internals; any conforming
// function is acceptable, including remote-call wrappers.
type ExecutorFunc func(input map[string]any) (any, error)

// ExecutorKind selects the execution substrate for a worker pool.
type ExecutorKind string

const (
	// ExecutorKindGoroutine runs tasks on a bounded goroutine pool,
	// suited to I/O-bound stages (LLM calls, file I/O).
	ExecutorKindGoroutine ExecutorKind = "goroutine"
	// ExecutorKindProcess sizes the pool for CPU-bound stages. Goroutines
	// are truly parallel here, so CPU isolation reduces to bounding the
	// pool at the logical CPU count rather than spawning OS processes.
	ExecutorKindProcess ExecutorKind = "process"
)

// Sentinel errors surfaced by the pool. Timeouts are distinguishable
// from executor-raised failures via errors.Is.
var (
	// ErrPoolNotStarted is returned when SubmitTask is called before Start.
	ErrPoolNotStarted = errors.New("worker pool not started")
	// ErrPoolStopped is returned when submitting to a stopped pool.
	ErrPoolStopped = errors.New("worker pool stopped")
	// ErrTaskTimeout indicates a task did not settle within its timeout.
	ErrTaskTimeout = errors.New("task execution timed out")
	// ErrTaskCancelled indicates a task was cancelled before completion.
	ErrTaskCancelled = errors.New("task cancelled")
)

// TaskFuture is the settled-once handle returned by SubmitTask.
type TaskFuture struct {
	// TaskID identifies the submitted task.
	TaskID string

	done   chan struct{}
	once   sync.Once
	result any
	err    error
}

func newTaskFuture(taskID string) *TaskFuture {
	return &TaskFuture{TaskID: taskID, done: make(chan struct{})}
}

// settle resolves the future exactly once.
func (f *TaskFuture) settle(result any, err error) {
	f.once.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
	})
}

// Cancel settles the future with ErrTaskCancelled if it has not settled yet.
func (f *TaskFuture) Cancel() {
	f.settle(nil, ErrTaskCancelled)
}

// Done returns a channel closed when the future settles.
func (f *TaskFuture) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the future has resolved.
func (f *TaskFuture) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result blocks until the future settles or the timeout elapses.
// A timeout here is reported as ErrTaskTimeout.
func (f *TaskFuture) Result(timeout time.Duration) (any, error) {
	if timeout <= 0 {
		<-f.done
		return f.result, f.err
	}
	select {
	case <-f.done:
		return f.result, f.err
	case <-time.After(timeout):
		return nil, ErrTaskTimeout
	}
}

// WorkerStats tracks per-worker execution counters. Counters are mutated
// under the pool mutex because multiple workers report concurrently.
type WorkerStats struct {
	// WorkerID identifies the worker goroutine.
	WorkerID int `json:"worker_id"`
	// TasksCompleted counts successful executions.
	TasksCompleted int `json:"tasks_completed"`
	// TasksFailed counts failed executions.
	TasksFailed int `json:"tasks_failed"`
	// TotalTime accumulates execution wall time.
	TotalTime time.Duration `json:"total_time"`
	// LastActivity is when the worker last finished a task.
	LastActivity time.Time `json:"last_activity"`
}

// PoolStats aggregates per-worker statistics for observers.
type PoolStats struct {
	Kind        ExecutorKind  `json:"kind"`
	MaxWorkers  int           `json:"max_workers"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	SuccessRate float64       `json:"success_rate"`
	AvgTaskTime time.Duration `json:"avg_task_time"`
	Workers     []WorkerStats `json:"workers"`
}

// WaitResult reports the outcome of WaitForCompletion.
type WaitResult struct {
	// Completed lists task IDs whose futures settled successfully.
	Completed []string
	// Failed lists task IDs whose futures settled with an error.
	Failed []string
	// TimedOut lists task IDs still unsettled when the overall timeout hit.
	TimedOut []string
}

// workItem pairs a task with its executor and result future.
type workItem struct {
	task   *models.TaskNode
	fn     ExecutorFunc
	future *TaskFuture
}

// PoolConfig configures a WorkerPool.
type PoolConfig struct {
	// Kind selects the execution substrate.
	Kind ExecutorKind
	// MaxWorkers bounds concurrency. Zero auto-detects from the CPU count.
	MaxWorkers int
	// TaskTimeout bounds a single task execution. Zero disables the bound.
	TaskTimeout time.Duration
}

// WorkerPool executes (task, executor) pairs on a bounded substrate and
// hands back futures. Submitting before Start is a programming error and
// fails fast.
type WorkerPool struct {
	cfg PoolConfig

	mu      sync.Mutex
	started bool
	stopped bool
	// active maps task ID to its in-flight future, making submission
	// idempotent per task.
	active map[string]*TaskFuture
	stats  map[int]*WorkerStats

	items  chan *workItem
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerPool creates a pool. Workers are not spawned until Start.
func NewWorkerPool(cfg PoolConfig) *WorkerPool {
	if cfg.Kind == "" {
		cfg.Kind = ExecutorKindGoroutine
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
		if cfg.Kind == ExecutorKindGoroutine && cfg.MaxWorkers < 4 {
			// I/O-bound work tolerates more workers than CPUs.
			cfg.MaxWorkers = 4
		}
	}
	return &WorkerPool{
		cfg:    cfg,
		active: make(map[string]*TaskFuture),
		stats:  make(map[int]*WorkerStats),
	}
}

// Start spawns the worker goroutines. Calling Start on a running pool is
// a no-op; starting a stopped pool is an error.
func (p *WorkerPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if p.started {
		return nil
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.items = make(chan *workItem, p.cfg.MaxWorkers*2)

	for i := 0; i < p.cfg.MaxWorkers; i++ {
		p.stats[i] = &WorkerStats{WorkerID: i}
		p.wg.Add(1)
		go p.worker(i)
	}

	p.started = true
	debugLog("[pool] started %d %s workers", p.cfg.MaxWorkers, p.cfg.Kind)
	return nil
}

// SubmitTask queues a task for execution and returns its future. A task
// ID that is already in flight returns the existing future.
func (p *WorkerPool) SubmitTask(task *models.TaskNode, fn ExecutorFunc) (*TaskFuture, error) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil, ErrPoolNotStarted
	}
	if p.stopped {
		p.mu.Unlock()
		return nil, ErrPoolStopped
	}
	if existing, ok := p.active[task.ID]; ok {
		p.mu.Unlock()
		debugLog("[pool] task %s already in flight, returning existing future", task.ID)
		return existing, nil
	}

	future := newTaskFuture(task.ID)
	p.active[task.ID] = future
	p.mu.Unlock()

	select {
	case p.items <- &workItem{task: task, fn: fn, future: future}:
		return future, nil
	case <-p.ctx.Done():
		p.detach(task.ID)
		future.Cancel()
		return nil, ErrPoolStopped
	}
}

// worker pulls items off the queue until the pool shuts down.
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case item, ok := <-p.items:
			if !ok {
				return
			}
			p.execute(id, item)
		}
	}
}

// execute runs one task, enforcing the configured timeout. The executor
// runs on its own goroutine so a hung executor cannot wedge the worker;
// on timeout the future settles with ErrTaskTimeout and the stray
// execution result is discarded.
func (p *WorkerPool) execute(workerID int, item *workItem) {
	start := time.Now()

	type outcome struct {
		result any
		err    error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- outcome{err: fmt.Errorf("agent %s panicked: %v", item.task.AgentName, r)}
			}
		}()
		result, err := item.fn(item.task.InputData)
		resultCh <- outcome{result: result, err: err}
	}()

	var out outcome
	var timedOut bool
	if p.cfg.TaskTimeout > 0 {
		select {
		case out = <-resultCh:
		case <-time.After(p.cfg.TaskTimeout):
			timedOut = true
		case <-p.ctx.Done():
			out = outcome{err: ErrTaskCancelled}
		}
	} else {
		select {
		case out = <-resultCh:
		case <-p.ctx.Done():
			out = outcome{err: ErrTaskCancelled}
		}
	}

	elapsed := time.Since(start)
	if timedOut {
		out.err = fmt.Errorf("task %s (agent %s) after %s: %w",
			item.task.ID, item.task.AgentName, elapsed.Round(time.Millisecond), ErrTaskTimeout)
	} else if out.err != nil && !errors.Is(out.err, ErrTaskCancelled) {
		out.err = fmt.Errorf("task %s (agent %s): %w", item.task.ID, item.task.AgentName, out.err)
	}

	p.recordStats(workerID, elapsed, out.err == nil)
	p.detach(item.task.ID)
	item.future.settle(out.result, out.err)
}

// recordStats updates the worker's counters under the pool mutex.
func (p *WorkerPool) recordStats(workerID int, elapsed time.Duration, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ws, ok := p.stats[workerID]
	if !ok {
		return
	}
	if success {
		ws.TasksCompleted++
	} else {
		ws.TasksFailed++
	}
	ws.TotalTime += elapsed
	ws.LastActivity = time.Now()
}

// detach removes a task from the active map once its future settles,
// so a retried task can be resubmitted.
func (p *WorkerPool) detach(taskID string) {
	p.mu.Lock()
	delete(p.active, taskID)
	p.mu.Unlock()
}

// WaitForCompletion blocks until every given future settles or the
// overall timeout elapses. On timeout the unfinished futures are
// cancelled and reported as timed out.
func (p *WorkerPool) WaitForCompletion(futures []*TaskFuture, timeout time.Duration) WaitResult {
	var result WaitResult
	deadline := time.Now().Add(timeout)

	for _, f := range futures {
		remaining := time.Until(deadline)
		if timeout <= 0 {
			remaining = 0 // no bound
		} else if remaining <= 0 {
			f.Cancel()
			result.TimedOut = append(result.TimedOut, f.TaskID)
			continue
		}

		_, err := f.Result(remaining)
		switch {
		case err == nil:
			result.Completed = append(result.Completed, f.TaskID)
		case errors.Is(err, ErrTaskTimeout) && !f.Settled():
			f.Cancel()
			result.TimedOut = append(result.TimedOut, f.TaskID)
		default:
			result.Failed = append(result.Failed, f.TaskID)
		}
	}

	return result
}

// GetWorkerStats aggregates per-worker counters into a pool-level view.
func (p *WorkerPool) GetWorkerStats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PoolStats{
		Kind:       p.cfg.Kind,
		MaxWorkers: p.cfg.MaxWorkers,
	}

	var totalTime time.Duration
	for i := 0; i < p.cfg.MaxWorkers; i++ {
		ws, ok := p.stats[i]
		if !ok {
			continue
		}
		stats.Workers = append(stats.Workers, *ws)
		stats.Completed += ws.TasksCompleted
		stats.Failed += ws.TasksFailed
		totalTime += ws.TotalTime
	}

	total := stats.Completed + stats.Failed
	if total > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(total)
		stats.AvgTaskTime = totalTime / time.Duration(total)
	}
	return stats
}

// ActiveCount returns the number of in-flight tasks.
func (p *WorkerPool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Stop shuts the pool down. With wait=true, workers drain within the
// grace period; with wait=false, outstanding futures are cancelled
// immediately.
func (p *WorkerPool) Stop(wait bool, grace time.Duration) {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	outstanding := make([]*TaskFuture, 0, len(p.active))
	for _, f := range p.active {
		outstanding = append(outstanding, f)
	}
	p.mu.Unlock()

	if !wait {
		p.cancel()
		for _, f := range outstanding {
			f.Cancel()
		}
		p.wg.Wait()
		return
	}

	done := make(chan struct{})
	go func() {
		for _, f := range outstanding {
			<-f.Done()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		debugLog("[pool] drain grace period expired, cancelling remaining tasks")
		for _, f := range outstanding {
			f.Cancel()
		}
	}

	p.cancel()
	p.wg.Wait()
}
