package models

import "time"

// OrchestrationStrategy is a named execution policy for a conversion workflow.
type OrchestrationStrategy string

const (
	// StrategySequential runs the pipeline one stage at a time with a single worker.
	StrategySequential OrchestrationStrategy = "sequential"
	// StrategyParallelBasic runs independent stages concurrently without dynamic spawning.
	StrategyParallelBasic OrchestrationStrategy = "parallel_basic"
	// StrategyParallelAdaptive runs concurrently and allows tasks to spawn new tasks.
	StrategyParallelAdaptive OrchestrationStrategy = "parallel_adaptive"
	// StrategyHybrid runs concurrently with spawning but falls back toward
	// sequential behavior when dependency counts exceed a cap.
	StrategyHybrid OrchestrationStrategy = "hybrid"
)

// Valid returns true if the strategy is a known value.
func (s OrchestrationStrategy) Valid() bool {
	switch s {
	case StrategySequential, StrategyParallelBasic, StrategyParallelAdaptive, StrategyHybrid:
		return true
	default:
		return false
	}
}

// AllStrategies lists every known strategy in a stable order.
func AllStrategies() []OrchestrationStrategy {
	return []OrchestrationStrategy{
		StrategySequential,
		StrategyParallelBasic,
		StrategyParallelAdaptive,
		StrategyHybrid,
	}
}

// StrategyConfig holds the tunables associated with one strategy.
// One instance exists per strategy value; callers may mutate it before
// executing a workflow.
type StrategyConfig struct {
	// MaxParallelTasks bounds concurrent task execution. Zero means
	// auto-detect from the CPU count.
	MaxParallelTasks int `json:"max_parallel_tasks"`
	// EnableDynamicSpawning allows spawn callbacks to inject tasks mid-run.
	EnableDynamicSpawning bool `json:"enable_dynamic_spawning"`
	// TaskTimeout bounds a single task execution.
	TaskTimeout time.Duration `json:"task_timeout"`
	// RetryFailedTasks re-queues failed tasks while retry budget remains.
	RetryFailedTasks bool `json:"retry_failed_tasks"`
	// UseProcessPool selects the CPU-isolated process substrate instead of
	// the in-process goroutine pool.
	UseProcessPool bool `json:"use_process_pool"`
	// PriorityScheduling orders ready tasks by priority before submission.
	PriorityScheduling bool `json:"priority_scheduling"`
	// AdaptiveThreshold is the spawn-pressure threshold for the adaptive
	// strategy before new spawns are deferred.
	AdaptiveThreshold int `json:"adaptive_threshold,omitempty"`
	// HybridDependencyLimit is the per-task dependency count above which
	// the hybrid strategy serializes execution.
	HybridDependencyLimit int `json:"hybrid_dependency_limit,omitempty"`
}

// ComplexityHints carries workload signals used for strategy selection.
type ComplexityHints struct {
	// NumFeatures is the count of detected mod features.
	NumFeatures int `json:"num_features"`
	// NumDependencies is the count of cross-feature dependencies.
	NumDependencies int `json:"num_dependencies"`
	// EstimatedSubUnits estimates the number of convertible sub-units
	// (entities, blocks, items).
	EstimatedSubUnits int `json:"estimated_sub_units"`
	// HasComplexAssets indicates the mod carries geometry or animation
	// assets that are expensive to convert.
	HasComplexAssets bool `json:"has_complex_assets"`
}

// Score computes the weighted complexity score used by the selector.
func (h ComplexityHints) Score() float64 {
	score := 0.3*float64(h.NumFeatures) +
		0.2*float64(h.NumDependencies) +
		0.4*float64(h.EstimatedSubUnits)
	if h.HasComplexAssets {
		score += 10
	}
	return score
}

// SystemResources describes the host the executor is running on.
type SystemResources struct {
	// CPUCount is the number of logical CPUs available.
	CPUCount int `json:"cpu_count"`
	// MemoryGB is the available memory in gigabytes.
	MemoryGB float64 `json:"memory_gb"`
	// IsContainerized indicates the process runs under a container limit.
	IsContainerized bool `json:"is_containerized"`
}
