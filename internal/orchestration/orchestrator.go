package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modporter/modporter/pkg/models"
)

// ErrAgentNotRegistered indicates a task routed to an unknown agent name.
var ErrAgentNotRegistered = errors.New("agent not registered")

// Conversion pipeline stage names. Every workflow carries these six
// tasks; adaptive strategies may inject more at runtime.
const (
	StageAnalyze       = "analyze"
	StagePlan          = "plan"
	StageTranslate     = "translate"
	StageConvertAssets = "convert_assets"
	StagePackage       = "package"
	StageValidate      = "validate"
)

// Default agent routing per stage.
const (
	AgentJavaAnalyzer       = "java_analyzer"
	AgentConversionPlanner  = "conversion_planner"
	AgentBehaviorTranslator = "behavior_translator"
	AgentAssetConverter     = "asset_converter"
	AgentAddonPackager      = "addon_packager"
	AgentQAValidator        = "qa_validator"
	AgentEntityConverter    = "entity_converter"
)

// Workflow couples a task graph with the strategy chosen for it. A
// workflow is executed at most once and its graph is never shared.
type Workflow struct {
	// ID identifies this execution.
	ID string
	// Strategy is the chosen execution policy.
	Strategy models.OrchestrationStrategy
	// Config is a snapshot of the strategy's tunables at creation time.
	Config models.StrategyConfig
	// Graph is the task DAG, owned exclusively by this workflow.
	Graph *TaskGraph
}

// WorkflowResult is the aggregate outcome of one executed workflow.
type WorkflowResult struct {
	ExecutionID string                       `json:"execution_id"`
	Strategy    models.OrchestrationStrategy `json:"strategy"`
	Stats       CompletionStats              `json:"stats"`
	// WallClock is the measured end-to-end execution time.
	WallClock time.Duration `json:"wall_clock"`
	// ParallelEfficiency is sum(task durations) / wall-clock, a simple
	// speed-up ratio.
	ParallelEfficiency float64 `json:"parallel_efficiency"`
	// DynamicTasksSpawned counts tasks injected mid-run by spawn callbacks.
	DynamicTasksSpawned int `json:"dynamic_tasks_spawned"`
	// SuccessRate is completed / total.
	SuccessRate float64 `json:"success_rate"`
	// TaskResults maps task ID to its result for completed tasks.
	TaskResults map[string]any `json:"task_results,omitempty"`
	// PoolStats is the worker pool's aggregate view.
	PoolStats PoolStats `json:"pool_stats"`
}

// Orchestrator builds and drives conversion workflows. Agents are opaque
// callables registered by name; the registry is the sole coupling point
// to domain logic.
type Orchestrator struct {
	selector *StrategySelector
	monitor  *Monitor
	emitter  *EventEmitter
	logger   *DebugLogger

	// registry maps agent name to its executor.
	registry map[string]ExecutorFunc
	mu       sync.RWMutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSelector injects a strategy selector. A fresh one is created when unset.
func WithSelector(s *StrategySelector) Option {
	return func(o *Orchestrator) { o.selector = s }
}

// WithMonitor attaches an execution monitor.
func WithMonitor(m *Monitor) Option {
	return func(o *Orchestrator) { o.monitor = m }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: make(map[string]ExecutorFunc),
		emitter:  NewEventEmitter(100),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.selector == nil {
		o.selector = NewStrategySelector()
	}
	if o.logger == nil {
		o.logger = NopLogger()
	}
	return o
}

// RegisterAgent stores an executor under the given agent name,
// replacing any previous registration.
func (o *Orchestrator) RegisterAgent(name string, fn ExecutorFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.registry[name] = fn
}

// Selector returns the orchestrator's strategy selector.
func (o *Orchestrator) Selector() *StrategySelector {
	return o.selector
}

// Events returns the orchestrator's event stream.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// CloseEvents closes the event stream so subscribers draining Events
// can return. Call it once no more workflows will run.
func (o *Orchestrator) CloseEvents() {
	o.emitter.Close()
}

// executorFor resolves the executor for an agent name.
func (o *Orchestrator) executorFor(name string) (ExecutorFunc, error) {
	o.mu.RLock()
	fn, ok := o.registry[name]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotRegistered, name)
	}
	return fn, nil
}

// CreateWorkflow selects a strategy and builds the six-stage conversion
// pipeline: analyze -> plan -> {translate, convert_assets} -> package ->
// validate. For spawning strategies, analyze and plan receive callbacks
// that inject one entity_converter task per complex entity found in
// their results.
func (o *Orchestrator) CreateWorkflow(baseInput map[string]any, in SelectionInput) *Workflow {
	strategy, cfg := o.selector.SelectStrategy(in)

	wf := &Workflow{
		ID:       uuid.New().String()[:8],
		Strategy: strategy,
		Config:   *cfg,
		Graph:    NewTaskGraph(),
	}

	o.logger.Log("[orchestrator] workflow %s using strategy %s", wf.ID, strategy)
	o.emitter.Emit(Event{
		Type:        EventStrategySelected,
		ExecutionID: wf.ID,
		Strategy:    strategy,
		Message:     fmt.Sprintf("variant=%q", in.VariantID),
	})
	if o.monitor != nil {
		o.monitor.RecordStrategySelection(wf.ID, strategy, in)
	}

	stage := func(id, agentName string, priority int) *models.TaskNode {
		task := models.NewTaskNode(id, agentName, cloneInput(baseInput))
		task.Priority = priority
		wf.Graph.AddTask(task)
		return task
	}

	analyze := stage(StageAnalyze, AgentJavaAnalyzer, 10)
	plan := stage(StagePlan, AgentConversionPlanner, 9)
	stage(StageTranslate, AgentBehaviorTranslator, 8)
	stage(StageConvertAssets, AgentAssetConverter, 8)
	stage(StagePackage, AgentAddonPackager, 7)
	stage(StageValidate, AgentQAValidator, 6)

	wf.Graph.AddDependency(StagePlan, StageAnalyze)
	wf.Graph.AddDependency(StageTranslate, StagePlan)
	wf.Graph.AddDependency(StageConvertAssets, StagePlan)
	wf.Graph.AddDependency(StagePackage, StageTranslate)
	wf.Graph.AddDependency(StagePackage, StageConvertAssets)
	wf.Graph.AddDependency(StageValidate, StagePackage)

	if cfg.EnableDynamicSpawning {
		analyze.SpawnFn = entitySpawner(baseInput)
		plan.SpawnFn = entitySpawner(baseInput)
	}

	return wf
}

// entitySpawner builds a spawn callback that emits one entity_converter
// task per complex entity named in the stage result.
func entitySpawner(baseInput map[string]any) models.SpawnFunc {
	return func(result any) []*models.TaskNode {
		var spawned []*models.TaskNode
		for _, name := range complexEntities(result) {
			input := cloneInput(baseInput)
			input["entity"] = name
			task := models.NewTaskNode("entity:"+name, AgentEntityConverter, input)
			task.Priority = 8
			spawned = append(spawned, task)
		}
		return spawned
	}
}

// complexEntities extracts the complex-entity names from a stage result.
func complexEntities(result any) []string {
	m, ok := result.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := m["complex_entities"]
	if !ok {
		return nil
	}

	var names []string
	switch v := raw.(type) {
	case []string:
		names = append(names, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
	}
	return names
}

func cloneInput(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out
}

// ExecuteWorkflow drives the workflow's graph to completion against a
// worker pool selected from the strategy config. It never returns an
// error for task failures; only context cancellation or infrastructure
// faults surface as errors.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, wf *Workflow) (*WorkflowResult, error) {
	kind := ExecutorKindGoroutine
	if wf.Config.UseProcessPool {
		kind = ExecutorKindProcess
	}
	pool := NewWorkerPool(PoolConfig{
		Kind:        kind,
		MaxWorkers:  wf.Config.MaxParallelTasks,
		TaskTimeout: wf.Config.TaskTimeout,
	})
	if err := pool.Start(); err != nil {
		return nil, fmt.Errorf("start worker pool: %w", err)
	}
	defer pool.Stop(true, 5*time.Second)

	start := time.Now()
	if o.monitor != nil {
		o.monitor.RecordExecutionStart(wf.ID, wf.Strategy, wf.Graph.Size())
	}
	o.emitter.Emit(Event{Type: EventExecutionStarted, ExecutionID: wf.ID, Strategy: wf.Strategy})
	o.logger.Log("[orchestrator] executing workflow %s (%s, %d tasks)", wf.ID, wf.Strategy, wf.Graph.Size())

	var execErr error
	var spawnedTotal int
	if wf.Strategy == models.StrategySequential {
		spawnedTotal, execErr = o.runSequential(ctx, wf, pool)
	} else {
		spawnedTotal, execErr = o.runParallel(ctx, wf, pool)
	}

	wall := time.Since(start)
	result := o.buildResult(wf, pool, wall, spawnedTotal)

	o.selector.RecordPerformance(wf.Strategy, result.SuccessRate, wall, result.Stats.Total, map[string]any{
		"parallel_efficiency": result.ParallelEfficiency,
		"dynamic_spawned":     spawnedTotal,
	})
	if o.monitor != nil {
		o.monitor.RecordExecutionEnd(wf.ID, wf.Strategy, result)
	}
	o.emitter.Emit(Event{
		Type:        EventExecutionCompleted,
		ExecutionID: wf.ID,
		Strategy:    wf.Strategy,
		Duration:    wall,
		Message:     fmt.Sprintf("completed=%d failed=%d", result.Stats.Completed, result.Stats.Failed),
	})
	o.logger.Log("[orchestrator] workflow %s done in %s: completed=%d failed=%d efficiency=%.2f",
		wf.ID, wall.Round(time.Millisecond), result.Stats.Completed, result.Stats.Failed, result.ParallelEfficiency)

	return result, execErr
}

// runSequential executes stages strictly one at a time in ready order.
// Any stage failure aborts the remaining pipeline; tasks spawned by a
// completed stage run inline before later stages unblock.
func (o *Orchestrator) runSequential(ctx context.Context, wf *Workflow, pool *WorkerPool) (int, error) {
	graph := wf.Graph
	var spawnedTotal int

	for {
		if err := ctx.Err(); err != nil {
			return spawnedTotal, err
		}

		ready := graph.GetReadyTasks()
		if len(ready) == 0 {
			return spawnedTotal, nil
		}
		task := ready[0]

		fn, err := o.executorFor(task.AgentName)
		if err != nil {
			graph.MarkTaskFailed(task.ID, err)
			o.emitTaskEvent(EventTaskFailed, wf, task.ID, task.AgentName, err)
			return spawnedTotal, nil
		}

		graph.MarkTaskRunning(task.ID)
		o.emitTaskEvent(EventTaskStarted, wf, task.ID, task.AgentName, nil)

		future, err := pool.SubmitTask(task, fn)
		if err != nil {
			return spawnedTotal, fmt.Errorf("submit task %s: %w", task.ID, err)
		}

		result, taskErr := future.Result(0)
		if taskErr == nil {
			spawned := graph.MarkTaskCompleted(task.ID, result)
			spawnedTotal += len(spawned)
			o.emitTaskEvent(EventTaskCompleted, wf, task.ID, task.AgentName, nil)
			for _, s := range spawned {
				o.emitTaskEvent(EventTaskSpawned, wf, s.ID, s.AgentName, nil)
			}
			continue
		}

		canRetry := graph.MarkTaskFailed(task.ID, taskErr)
		o.emitTaskEvent(EventTaskFailed, wf, task.ID, task.AgentName, taskErr)
		if canRetry && wf.Config.RetryFailedTasks {
			graph.RetryTask(task.ID)
			o.emitTaskEvent(EventTaskRetried, wf, task.ID, task.AgentName, nil)
			continue
		}

		// Fail fast: the pipeline stops here, later stages stay pending.
		o.logger.Log("[orchestrator] sequential pipeline aborted at stage %s", task.ID)
		return spawnedTotal, nil
	}
}

// runParallel is the event-driven dispatch loop for the concurrent
// strategies. It submits every ready task not already in flight, then
// blocks on the next completion; newly unblocked or dynamically spawned
// tasks are picked up on the following iteration.
func (o *Orchestrator) runParallel(ctx context.Context, wf *Workflow, pool *WorkerPool) (int, error) {
	graph := wf.Graph
	inflight := make(map[string]*TaskFuture)
	completionCh := make(chan *TaskFuture, wf.Config.MaxParallelTasks+1)
	var spawnedTotal int

	for {
		if graph.IsComplete() || graph.HasPermanentlyFailedTasks() {
			break
		}

		for _, task := range graph.GetReadyTasks() {
			if _, running := inflight[task.ID]; running {
				continue
			}
			// Hybrid strategy serializes heavily-entangled tasks: past the
			// dependency cap a task only runs with the pipeline otherwise idle.
			if wf.Strategy == models.StrategyHybrid &&
				wf.Config.HybridDependencyLimit > 0 &&
				len(task.Dependencies) > wf.Config.HybridDependencyLimit &&
				len(inflight) > 0 {
				debugLog("[orchestrator] hybrid: deferring %s (%d deps) until pipeline drains",
					task.ID, len(task.Dependencies))
				continue
			}

			fn, err := o.executorFor(task.AgentName)
			if err != nil {
				graph.MarkTaskFailed(task.ID, err)
				o.emitTaskEvent(EventTaskFailed, wf, task.ID, task.AgentName, err)
				continue
			}

			o.emitTaskEvent(EventTaskQueued, wf, task.ID, task.AgentName, nil)
			graph.MarkTaskRunning(task.ID)
			future, err := pool.SubmitTask(task, fn)
			if err != nil {
				graph.MarkTaskFailed(task.ID, err)
				o.emitTaskEvent(EventTaskFailed, wf, task.ID, task.AgentName, err)
				continue
			}
			inflight[task.ID] = future
			o.emitTaskEvent(EventTaskStarted, wf, task.ID, task.AgentName, nil)

			go func(f *TaskFuture) {
				<-f.Done()
				completionCh <- f
			}(future)
		}

		if len(inflight) == 0 {
			// No work running and nothing schedulable: the graph cannot
			// make further progress (failed tasks block their dependents).
			break
		}

		select {
		case <-ctx.Done():
			for id, f := range inflight {
				f.Cancel()
				graph.MarkTaskCancelled(id)
			}
			return spawnedTotal, ctx.Err()

		case future := <-completionCh:
			delete(inflight, future.TaskID)
			task := graph.Task(future.TaskID)
			agentName := ""
			if task != nil {
				agentName = task.AgentName
			}

			result, taskErr := future.Result(0)
			if taskErr == nil {
				spawned := graph.MarkTaskCompleted(future.TaskID, result)
				spawned = o.capSpawned(wf, spawned, &spawnedTotal)
				o.emitTaskEvent(EventTaskCompleted, wf, future.TaskID, agentName, nil)
				for _, s := range spawned {
					o.emitTaskEvent(EventTaskSpawned, wf, s.ID, s.AgentName, nil)
				}
				continue
			}

			canRetry := graph.MarkTaskFailed(future.TaskID, taskErr)
			o.emitTaskEvent(EventTaskFailed, wf, future.TaskID, agentName, taskErr)
			if canRetry && wf.Config.RetryFailedTasks {
				graph.RetryTask(future.TaskID)
				o.emitTaskEvent(EventTaskRetried, wf, future.TaskID, agentName, nil)
			}
		}
	}

	// Give in-flight work a short grace period; whatever doesn't settle
	// is treated as failed.
	for id, f := range inflight {
		if _, err := f.Result(5 * time.Second); err != nil {
			f.Cancel()
			graph.MarkTaskFailed(id, err)
		} else if task := graph.Task(id); task != nil && task.Status == models.TaskStatusRunning {
			result, _ := f.Result(0)
			graph.MarkTaskCompleted(id, result)
		}
	}

	return spawnedTotal, nil
}

// capSpawned enforces the adaptive spawn-pressure threshold. Spawned
// tasks past the cap are cancelled rather than scheduled.
func (o *Orchestrator) capSpawned(wf *Workflow, spawned []*models.TaskNode, spawnedTotal *int) []*models.TaskNode {
	threshold := wf.Config.AdaptiveThreshold
	if wf.Strategy != models.StrategyParallelAdaptive || threshold <= 0 {
		*spawnedTotal += len(spawned)
		return spawned
	}

	var kept []*models.TaskNode
	for _, task := range spawned {
		if *spawnedTotal >= threshold {
			debugLog("[orchestrator] adaptive threshold %d reached, cancelling spawned task %s", threshold, task.ID)
			wf.Graph.MarkTaskCancelled(task.ID)
			continue
		}
		*spawnedTotal++
		kept = append(kept, task)
	}
	return kept
}

// buildResult assembles the aggregate result document for a finished run.
func (o *Orchestrator) buildResult(wf *Workflow, pool *WorkerPool, wall time.Duration, spawnedTotal int) *WorkflowResult {
	stats := wf.Graph.Stats()

	var taskDurations time.Duration
	taskResults := make(map[string]any)
	for _, task := range wf.Graph.Tasks() {
		taskDurations += task.Duration()
		if task.Status == models.TaskStatusCompleted && task.Result != nil {
			taskResults[task.ID] = task.Result
		}
	}

	efficiency := 0.0
	if wall > 0 {
		efficiency = taskDurations.Seconds() / wall.Seconds()
	}

	return &WorkflowResult{
		ExecutionID:         wf.ID,
		Strategy:            wf.Strategy,
		Stats:               stats,
		WallClock:           wall,
		ParallelEfficiency:  efficiency,
		DynamicTasksSpawned: spawnedTotal,
		SuccessRate:         stats.CompletionRate,
		TaskResults:         taskResults,
		PoolStats:           pool.GetWorkerStats(),
	}
}

// emitTaskEvent emits a task-scoped event and forwards it to the monitor.
func (o *Orchestrator) emitTaskEvent(eventType EventType, wf *Workflow, taskID, agentName string, err error) {
	task := wf.Graph.Task(taskID)
	var duration time.Duration
	if task != nil {
		duration = task.Duration()
	}

	o.emitter.Emit(Event{
		Type:        eventType,
		ExecutionID: wf.ID,
		TaskID:      taskID,
		AgentName:   agentName,
		Strategy:    wf.Strategy,
		Error:       err,
		Duration:    duration,
	})
	if o.monitor != nil {
		o.monitor.RecordTaskEvent(wf.ID, task, eventType)
	}
}
