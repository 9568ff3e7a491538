package orchestration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/modporter/modporter/pkg/models"
)

// registerStubAgents wires no-op executors for every pipeline stage.
func registerStubAgents(o *Orchestrator) {
	for _, name := range []string{
		AgentJavaAnalyzer, AgentConversionPlanner, AgentBehaviorTranslator,
		AgentAssetConverter, AgentAddonPackager, AgentQAValidator, AgentEntityConverter,
	} {
		agent := name
		o.RegisterAgent(agent, func(input map[string]any) (any, error) {
			return map[string]any{"agent": agent}, nil
		})
	}
}

func TestCreateWorkflowPipelineShape(t *testing.T) {
	o := New()
	wf := o.CreateWorkflow(map[string]any{"mod_path": "/tmp/mod.jar"}, SelectionInput{VariantID: "parallel_basic"})

	if wf.Strategy != models.StrategyParallelBasic {
		t.Fatalf("expected parallel_basic, got %s", wf.Strategy)
	}
	if wf.Graph.Size() != 6 {
		t.Fatalf("expected 6 stages, got %d", wf.Graph.Size())
	}

	deps := map[string][]string{
		StageAnalyze:       nil,
		StagePlan:          {StageAnalyze},
		StageTranslate:     {StagePlan},
		StageConvertAssets: {StagePlan},
		StagePackage:       {StageTranslate, StageConvertAssets},
		StageValidate:      {StagePackage},
	}
	for id, want := range deps {
		task := wf.Graph.Task(id)
		if task == nil {
			t.Fatalf("missing stage %s", id)
		}
		if len(task.Dependencies) != len(want) {
			t.Errorf("stage %s: expected deps %v, got %v", id, want, task.Dependencies)
		}
	}

	// Basic strategy must not attach spawn callbacks.
	if wf.Graph.Task(StageAnalyze).SpawnFn != nil {
		t.Error("parallel_basic must not enable dynamic spawning")
	}
}

func TestCreateWorkflowSpawnCallbacksForAdaptive(t *testing.T) {
	o := New()
	wf := o.CreateWorkflow(nil, SelectionInput{VariantID: "parallel_adaptive"})

	if wf.Graph.Task(StageAnalyze).SpawnFn == nil {
		t.Error("adaptive strategy should attach a spawn callback to analyze")
	}
	if wf.Graph.Task(StagePlan).SpawnFn == nil {
		t.Error("adaptive strategy should attach a spawn callback to plan")
	}
}

// Scenario: the full six-stage pipeline succeeds under parallel_basic.
func TestExecuteWorkflowAllStagesSucceed(t *testing.T) {
	o := New()
	registerStubAgents(o)

	wf := o.CreateWorkflow(map[string]any{"mod_path": "/tmp/mod.jar"}, SelectionInput{VariantID: "parallel_basic"})
	result, err := o.ExecuteWorkflow(context.Background(), wf)
	if err != nil {
		t.Fatal(err)
	}

	if result.SuccessRate != 1.0 {
		t.Errorf("expected success rate 1.0, got %f", result.SuccessRate)
	}
	if result.Stats.Total != 6 || result.Stats.Completed != 6 || result.Stats.Failed != 0 {
		t.Errorf("unexpected stats: %+v", result.Stats)
	}
	if len(result.TaskResults) != 6 {
		t.Errorf("expected 6 task results, got %d", len(result.TaskResults))
	}
}

func TestExecuteWorkflowUsesProcessPoolWhenConfigured(t *testing.T) {
	selector := NewStrategySelector()
	selector.Config(models.StrategyParallelBasic).UseProcessPool = true

	o := New(WithSelector(selector))
	registerStubAgents(o)

	wf := o.CreateWorkflow(map[string]any{"mod_path": "/tmp/mod.jar"}, SelectionInput{VariantID: "parallel_basic"})
	result, err := o.ExecuteWorkflow(context.Background(), wf)
	if err != nil {
		t.Fatal(err)
	}

	if result.PoolStats.Kind != ExecutorKindProcess {
		t.Errorf("pool kind = %s, want %s", result.PoolStats.Kind, ExecutorKindProcess)
	}
	if result.Stats.Completed != 6 {
		t.Errorf("completed = %d, want 6", result.Stats.Completed)
	}
}

// Scenario: analyze fails permanently under sequential, so every later
// stage stays pending.
func TestExecuteWorkflowSequentialAbortsOnFailure(t *testing.T) {
	o := New()
	registerStubAgents(o)
	o.RegisterAgent(AgentJavaAnalyzer, func(map[string]any) (any, error) {
		return nil, errors.New("unreadable jar")
	})

	wf := o.CreateWorkflow(nil, SelectionInput{VariantID: "sequential"})
	result, err := o.ExecuteWorkflow(context.Background(), wf)
	if err != nil {
		t.Fatal(err)
	}

	if result.Stats.Completed != 0 {
		t.Errorf("expected 0 completed, got %d", result.Stats.Completed)
	}
	if result.Stats.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", result.Stats.Failed)
	}
	if result.Stats.Pending != 5 {
		t.Errorf("expected 5 pending, got %d", result.Stats.Pending)
	}

	analyze := wf.Graph.Task(StageAnalyze)
	if analyze.RetryCount != analyze.MaxRetries {
		t.Errorf("expected retries exhausted, got %d/%d", analyze.RetryCount, analyze.MaxRetries)
	}
}

// Scenario: analyze reports two complex entities, spawning two
// entity_converter tasks into the running graph.
func TestExecuteWorkflowDynamicSpawning(t *testing.T) {
	o := New()
	registerStubAgents(o)
	o.RegisterAgent(AgentJavaAnalyzer, func(map[string]any) (any, error) {
		return map[string]any{
			"complex_entities": []string{"wyvern", "golem"},
		}, nil
	})

	var mu sync.Mutex
	converted := make(map[string]bool)
	o.RegisterAgent(AgentEntityConverter, func(input map[string]any) (any, error) {
		mu.Lock()
		converted[input["entity"].(string)] = true
		mu.Unlock()
		return "converted", nil
	})

	wf := o.CreateWorkflow(map[string]any{"mod_path": "/tmp/mod.jar"}, SelectionInput{VariantID: "parallel_adaptive"})
	result, err := o.ExecuteWorkflow(context.Background(), wf)
	if err != nil {
		t.Fatal(err)
	}

	if result.Stats.Total != 8 {
		t.Fatalf("expected 6 + 2 spawned = 8 tasks, got %d", result.Stats.Total)
	}
	if result.DynamicTasksSpawned != 2 {
		t.Errorf("expected 2 dynamic tasks, got %d", result.DynamicTasksSpawned)
	}
	if result.Stats.Completed != 8 {
		t.Errorf("expected all 8 completed, got %d", result.Stats.Completed)
	}
	if !converted["wyvern"] || !converted["golem"] {
		t.Errorf("expected both entities converted, got %v", converted)
	}
}

func TestExecuteWorkflowParallelRetriesThenSucceeds(t *testing.T) {
	o := New()
	registerStubAgents(o)

	var mu sync.Mutex
	attempts := 0
	o.RegisterAgent(AgentBehaviorTranslator, func(map[string]any) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient template error")
		}
		return "translated", nil
	})

	wf := o.CreateWorkflow(nil, SelectionInput{VariantID: "parallel_basic"})
	result, err := o.ExecuteWorkflow(context.Background(), wf)
	if err != nil {
		t.Fatal(err)
	}

	if result.Stats.Completed != 6 {
		t.Errorf("expected all stages completed after retries, got %+v", result.Stats)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if wf.Graph.Task(StageTranslate).RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", wf.Graph.Task(StageTranslate).RetryCount)
	}
}

func TestExecuteWorkflowParallelPermanentFailureBlocksDependents(t *testing.T) {
	o := New()
	registerStubAgents(o)
	o.RegisterAgent(AgentConversionPlanner, func(map[string]any) (any, error) {
		return nil, errors.New("plan rejected")
	})

	wf := o.CreateWorkflow(nil, SelectionInput{VariantID: "parallel_basic"})
	result, err := o.ExecuteWorkflow(context.Background(), wf)
	if err != nil {
		t.Fatal(err)
	}

	if result.Stats.Completed != 1 { // only analyze
		t.Errorf("expected 1 completed, got %d", result.Stats.Completed)
	}
	if result.Stats.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", result.Stats.Failed)
	}
	if result.Stats.Pending != 4 {
		t.Errorf("expected 4 pending dependents, got %d", result.Stats.Pending)
	}
}

func TestExecuteWorkflowUnknownAgentFailsTask(t *testing.T) {
	o := New()
	// Nothing registered at all.
	wf := o.CreateWorkflow(nil, SelectionInput{VariantID: "parallel_basic"})
	result, err := o.ExecuteWorkflow(context.Background(), wf)
	if err != nil {
		t.Fatal(err)
	}

	if result.Stats.Failed == 0 {
		t.Error("expected failures for unregistered agents")
	}
	analyze := wf.Graph.Task(StageAnalyze)
	if analyze.Status != models.TaskStatusFailed {
		t.Errorf("expected analyze failed, got %s", analyze.Status)
	}
}

func TestExecuteWorkflowContextCancellation(t *testing.T) {
	o := New()
	registerStubAgents(o)

	block := make(chan struct{})
	defer close(block)
	o.RegisterAgent(AgentJavaAnalyzer, func(map[string]any) (any, error) {
		<-block
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	wf := o.CreateWorkflow(nil, SelectionInput{VariantID: "parallel_basic"})
	_, err := o.ExecuteWorkflow(ctx, wf)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if wf.Graph.Task(StageAnalyze).Status != models.TaskStatusCancelled {
		t.Errorf("expected analyze cancelled, got %s", wf.Graph.Task(StageAnalyze).Status)
	}
}

func TestExecuteWorkflowRecordsPerformance(t *testing.T) {
	o := New()
	registerStubAgents(o)

	wf := o.CreateWorkflow(nil, SelectionInput{VariantID: "parallel_basic"})
	if _, err := o.ExecuteWorkflow(context.Background(), wf); err != nil {
		t.Fatal(err)
	}

	summary := o.Selector().GetPerformanceSummary()
	if summary[models.StrategyParallelBasic].Runs != 1 {
		t.Errorf("expected 1 recorded run for parallel_basic, got %d", summary[models.StrategyParallelBasic].Runs)
	}
}

func TestExecuteWorkflowParallelEfficiency(t *testing.T) {
	o := New()
	registerStubAgents(o)
	o.RegisterAgent(AgentBehaviorTranslator, func(map[string]any) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return nil, nil
	})
	o.RegisterAgent(AgentAssetConverter, func(map[string]any) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return nil, nil
	})

	wf := o.CreateWorkflow(nil, SelectionInput{VariantID: "parallel_basic"})
	result, err := o.ExecuteWorkflow(context.Background(), wf)
	if err != nil {
		t.Fatal(err)
	}

	if result.ParallelEfficiency <= 0 {
		t.Errorf("expected positive parallel efficiency, got %f", result.ParallelEfficiency)
	}
	if result.WallClock <= 0 {
		t.Error("expected positive wall clock")
	}
}
