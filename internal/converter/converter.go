// Package converter is the top-level entry point: it wires the agents,
// strategy selector, monitor, and persistence together and runs one mod
// conversion end to end.
package converter

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/modporter/modporter/internal/agents"
	"github.com/modporter/modporter/internal/config"
	"github.com/modporter/modporter/internal/orchestration"
	"github.com/modporter/modporter/internal/state"
	"github.com/modporter/modporter/pkg/models"
)

// Status is the top-level outcome of a conversion run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// Options tunes one conversion run.
type Options struct {
	// TempDir is where stage artifacts are staged. Empty means a fresh
	// directory under os.TempDir.
	TempDir string
	// VariantID pins an A/B test variant for strategy selection.
	VariantID string
	// SmartAssumptions lets agents substitute approximate Bedrock
	// equivalents for unconvertible features.
	SmartAssumptions bool
	// IncludeDependencies converts bundled library mods too.
	IncludeDependencies bool
	// DB, when set, persists the run and seeds the selector with prior
	// performance history.
	DB *state.DB
	// Monitor, when set, observes the run.
	Monitor *orchestration.Monitor
	// EventObserver, when set, receives every orchestration event on a
	// dedicated goroutine. Metric exporters hook in here.
	EventObserver func(orchestration.Event)
	// GraphExportPath, when set, writes the final task graph as JSON.
	GraphExportPath string
	// StrategyConfigsDir, when set, loads per-strategy YAML override
	// files from this directory and applies them before selection.
	StrategyConfigsDir string
	// DefaultStrategy, when valid, replaces the selector's fallback
	// strategy.
	DefaultStrategy string
	// Orchestration, when set, overlays global execution tunables onto
	// every strategy before selection. Per-strategy override files from
	// StrategyConfigsDir still win afterwards.
	Orchestration *config.OrchestrationConfig
	// Logger, when set, receives debug output.
	Logger *orchestration.DebugLogger
}

// DetailedReport describes how far the conversion got.
type DetailedReport struct {
	Stage                  string                        `json:"stage"`
	Progress               float64                       `json:"progress"`
	Logs                   []string                      `json:"logs"`
	OrchestrationStrategy  string                        `json:"orchestration_strategy"`
	ParallelExecutionStats orchestration.CompletionStats `json:"parallel_execution_stats"`
}

// Metadata carries the orchestration-level facts about a run.
type Metadata struct {
	StrategyUsed        string        `json:"strategy_used"`
	ExecutionTime       time.Duration `json:"execution_time"`
	ParallelEfficiency  float64       `json:"parallel_efficiency"`
	DynamicTasksSpawned int           `json:"dynamic_tasks_spawned"`
}

// Result is the document every conversion returns. Convert never fails
// with an error; failures are reported here.
type Result struct {
	Status                Status         `json:"status"`
	OverallSuccessRate    float64        `json:"overall_success_rate"`
	AddonPath             string         `json:"addon_path,omitempty"`
	DetailedReport        DetailedReport `json:"detailed_report"`
	OrchestrationMetadata Metadata       `json:"orchestration_metadata"`
}

// Convert runs the full conversion pipeline for one mod jar. It always
// returns a result document; a failed conversion yields status "failed"
// with the error in the report logs, preserving partial artifacts.
func Convert(ctx context.Context, modPath, outputPath string, opts Options) *Result {
	result := &Result{
		Status: StatusFailed,
		DetailedReport: DetailedReport{
			Stage: "init",
		},
	}
	logf := func(format string, args ...any) {
		result.DetailedReport.Logs = append(result.DetailedReport.Logs, fmt.Sprintf(format, args...))
	}

	if _, err := os.Stat(modPath); err != nil {
		logf("mod not found: %v", err)
		return result
	}

	workDir := opts.TempDir
	if workDir == "" {
		dir, err := os.MkdirTemp("", "modporter-*")
		if err != nil {
			logf("create temp dir: %v", err)
			return result
		}
		workDir = dir
	}

	selector := orchestration.NewStrategySelector()
	if opts.DefaultStrategy != "" {
		selector.SetDefaultStrategy(models.OrchestrationStrategy(opts.DefaultStrategy))
	}
	if opts.Orchestration != nil {
		applyOrchestration(selector, opts.Orchestration)
	}
	if opts.StrategyConfigsDir != "" {
		overrides, err := config.LoadStrategyConfigs(opts.StrategyConfigsDir)
		if err != nil {
			logf("load strategy overrides: %v", err)
		} else {
			for strategy, override := range overrides {
				override.Apply(selector.Config(strategy))
			}
		}
	}
	if opts.DB != nil {
		if err := opts.DB.SeedSelector(selector, 0); err != nil {
			logf("seed selector history: %v", err)
		}
	}

	orchOpts := []orchestration.Option{orchestration.WithSelector(selector)}
	if opts.Monitor != nil {
		orchOpts = append(orchOpts, orchestration.WithMonitor(opts.Monitor))
	}
	if opts.Logger != nil {
		orchOpts = append(orchOpts, orchestration.WithLogger(opts.Logger))
	}
	orch := orchestration.New(orchOpts...)
	agents.RegisterAll(orch, agents.DefaultAgents()...)

	var observerDone chan struct{}
	if opts.EventObserver != nil {
		observerDone = make(chan struct{})
		go func() {
			defer close(observerDone)
			for event := range orch.Events() {
				opts.EventObserver(event)
			}
		}()
	}
	defer func() {
		orch.CloseEvents()
		if observerDone != nil {
			<-observerDone
		}
	}()

	input := map[string]any{
		"mod_path":             modPath,
		"output_path":          outputPath,
		"work_dir":             workDir,
		"smart_assumptions":    opts.SmartAssumptions,
		"include_dependencies": opts.IncludeDependencies,
	}
	selection := orchestration.SelectionInput{
		VariantID:  opts.VariantID,
		Complexity: estimateComplexity(modPath),
		Resources:  detectResources(),
	}

	wf := orch.CreateWorkflow(input, selection)
	result.DetailedReport.OrchestrationStrategy = string(wf.Strategy)
	result.OrchestrationMetadata.StrategyUsed = string(wf.Strategy)
	logf("workflow %s created with strategy %s", wf.ID, wf.Strategy)

	var conv *state.Conversion
	if opts.DB != nil {
		conv = &state.Conversion{
			ID:        uuid.New().String(),
			ModPath:   modPath,
			Strategy:  string(wf.Strategy),
			Status:    state.ConversionRunning,
			StartedAt: time.Now(),
		}
		if err := opts.DB.CreateConversion(conv); err != nil {
			logf("record conversion start: %v", err)
			conv = nil
		}
	}

	wfResult, err := orch.ExecuteWorkflow(ctx, wf)
	if err != nil {
		logf("execution error: %v", err)
	}
	if wfResult == nil {
		return result
	}
	fillResult(result, wf, wfResult)
	logf("conversion finished: status=%s success_rate=%.2f", result.Status, result.OverallSuccessRate)

	if opts.GraphExportPath != "" {
		if err := wf.Graph.ExportFile(opts.GraphExportPath); err != nil {
			logf("export task graph: %v", err)
		}
	}

	if opts.DB != nil {
		persistRun(opts.DB, conv, result, wfResult, logf)
	}

	return result
}

// applyOrchestration overlays the global execution tunables onto every
// strategy's config. Sequential keeps its single worker regardless of
// the configured pool width.
func applyOrchestration(selector *orchestration.StrategySelector, o *config.OrchestrationConfig) {
	for _, strategy := range models.AllStrategies() {
		cfg := selector.Config(strategy)
		if o.MaxParallelTasks > 0 && strategy != models.StrategySequential {
			cfg.MaxParallelTasks = o.MaxParallelTasks
		}
		if o.TaskTimeout > 0 {
			cfg.TaskTimeout = o.TaskTimeout
		}
		cfg.RetryFailedTasks = o.RetryFailedTasks
		cfg.UseProcessPool = o.UseProcessPool
	}
}

// fillResult maps the workflow outcome onto the result document.
func fillResult(result *Result, wf *orchestration.Workflow, wfResult *orchestration.WorkflowResult) {
	result.DetailedReport.ParallelExecutionStats = wfResult.Stats
	result.DetailedReport.Progress = wfResult.Stats.CompletionRate
	result.DetailedReport.Stage = lastStage(wf)
	result.OverallSuccessRate = wfResult.SuccessRate
	result.OrchestrationMetadata.ExecutionTime = wfResult.WallClock
	result.OrchestrationMetadata.ParallelEfficiency = wfResult.ParallelEfficiency
	result.OrchestrationMetadata.DynamicTasksSpawned = wfResult.DynamicTasksSpawned

	switch {
	case wfResult.Stats.Failed == 0 && wfResult.Stats.Completed == wfResult.Stats.Total:
		result.Status = StatusCompleted
	case wfResult.Stats.Completed > 0:
		result.Status = StatusPartial
	default:
		result.Status = StatusFailed
	}

	if packaged, ok := wfResult.TaskResults[orchestration.StagePackage].(map[string]any); ok {
		if p, ok := packaged["addon_path"].(string); ok {
			result.AddonPath = p
		}
	}
}

// lastStage reports the furthest pipeline stage that ran.
func lastStage(wf *orchestration.Workflow) string {
	order := []string{
		orchestration.StageAnalyze,
		orchestration.StagePlan,
		orchestration.StageTranslate,
		orchestration.StageConvertAssets,
		orchestration.StagePackage,
		orchestration.StageValidate,
	}
	last := "init"
	for _, id := range order {
		task := wf.Graph.Task(id)
		if task == nil {
			continue
		}
		if task.Status != models.TaskStatusPending && task.Status != models.TaskStatusReady {
			last = id
		}
	}
	return last
}

// persistRun writes the finished conversion and its performance record.
func persistRun(db *state.DB, conv *state.Conversion, result *Result, wfResult *orchestration.WorkflowResult, logf func(string, ...any)) {
	if conv != nil {
		finished := time.Now()
		conv.Status = state.ConversionStatus(result.Status)
		conv.OutputPath = result.AddonPath
		conv.SuccessRate = result.OverallSuccessRate
		conv.ParallelEfficiency = wfResult.ParallelEfficiency
		conv.DynamicSpawned = wfResult.DynamicTasksSpawned
		conv.TotalTasks = wfResult.Stats.Total
		conv.CompletedTasks = wfResult.Stats.Completed
		conv.FailedTasks = wfResult.Stats.Failed
		conv.WallClock = wfResult.WallClock
		conv.FinishedAt = &finished
		if err := db.UpdateConversion(conv); err != nil {
			logf("record conversion end: %v", err)
		}
	}

	record := orchestration.PerformanceRecord{
		Strategy:    models.OrchestrationStrategy(result.OrchestrationMetadata.StrategyUsed),
		SuccessRate: result.OverallSuccessRate,
		Duration:    wfResult.WallClock,
		TaskCount:   wfResult.Stats.Total,
		Extra: map[string]any{
			"parallel_efficiency": wfResult.ParallelEfficiency,
			"dynamic_spawned":     wfResult.DynamicTasksSpawned,
		},
		Timestamp: time.Now(),
	}
	if err := db.RecordStrategyPerformance(record); err != nil {
		logf("persist performance record: %v", err)
	}
}

// estimateComplexity derives selection hints from a cheap jar scan,
// without running the analyzer.
func estimateComplexity(modPath string) *models.ComplexityHints {
	reader, err := zip.OpenReader(modPath)
	if err != nil {
		return nil
	}
	defer reader.Close()

	hints := &models.ComplexityHints{}
	for _, f := range reader.File {
		name := f.Name
		switch {
		case strings.HasSuffix(name, ".class"):
			hints.NumFeatures++
			if strings.Contains(name, "/entity/") {
				hints.EstimatedSubUnits++
			}
		case strings.HasSuffix(name, ".json") && strings.Contains(name, "models/entity"):
			hints.HasComplexAssets = true
		case strings.Contains(name, "animations/"):
			hints.HasComplexAssets = true
		case filepath.Base(name) == "fabric.mod.json" || filepath.Base(name) == "mods.toml":
			hints.NumDependencies++
		}
	}
	// Class count overstates feature count by roughly an order of magnitude.
	hints.NumFeatures /= 10
	return hints
}

// detectResources inspects the host for the selector's resource rule.
func detectResources() *models.SystemResources {
	res := &models.SystemResources{
		CPUCount: runtime.NumCPU(),
		// Without a portable memory probe, assume a workstation-class host;
		// the CPU rule dominates selection anyway.
		MemoryGB: 8,
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		res.IsContainerized = true
	}
	return res
}
