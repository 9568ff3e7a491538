// Package orchestration is the parallel task execution engine behind
// mod conversion workflows.
//
// The package provides:
//   - TaskGraph: a DAG of conversion tasks with dependency tracking,
//     retry bookkeeping, and dynamic task spawning
//   - WorkerPool: a bounded goroutine substrate returning futures
//   - StrategySelector: policy that picks an execution strategy from
//     A/B variants, workload complexity, host resources, or history
//   - Orchestrator: builds the six-stage conversion pipeline and drives
//     it to completion under the chosen strategy
//   - Monitor: event-sourced observability with threshold alerting
//
// Agents are opaque callables registered by name; the engine never
// inspects their internals.
//
// Example usage:
//
//	orch := orchestration.New()
//	orch.RegisterAgent("java_analyzer", analyzeFn)
//	wf := orch.CreateWorkflow(input, orchestration.SelectionInput{VariantID: "parallel_adaptive"})
//	result, err := orch.ExecuteWorkflow(ctx, wf)
package orchestration
