package orchestration

import (
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/modporter/modporter/pkg/models"
)

// historyCap bounds the rolling per-strategy performance window.
const historyCap = 50

// PerformanceRecord is one immutable observation of a finished workflow.
type PerformanceRecord struct {
	Strategy    models.OrchestrationStrategy `json:"strategy"`
	SuccessRate float64                      `json:"success_rate"`
	Duration    time.Duration                `json:"duration"`
	TaskCount   int                          `json:"task_count"`
	Extra       map[string]any               `json:"extra,omitempty"`
	Timestamp   time.Time                    `json:"timestamp"`
}

// StrategySummary aggregates the recorded runs of a single strategy.
type StrategySummary struct {
	Runs            int           `json:"runs"`
	AvgSuccessRate  float64       `json:"avg_success_rate"`
	BestSuccessRate float64       `json:"best_success_rate"`
	AvgDuration     time.Duration `json:"avg_duration"`
	FastestDuration time.Duration `json:"fastest_duration"`
}

// StrategySelector is the pure selection policy: given an A/B variant,
// workload complexity, and host resources, it picks a strategy and its
// config. It also accumulates per-strategy performance history that
// feeds future selections.
type StrategySelector struct {
	mu sync.Mutex
	// configs holds one mutable config per strategy.
	configs map[models.OrchestrationStrategy]*models.StrategyConfig
	// history holds the rolling performance window per strategy.
	history map[models.OrchestrationStrategy][]PerformanceRecord
	// defaultStrategy is the final fallback when no rule matches.
	defaultStrategy models.OrchestrationStrategy
}

// NewStrategySelector creates a selector with default per-strategy configs.
func NewStrategySelector() *StrategySelector {
	cpus := runtime.NumCPU()
	return &StrategySelector{
		configs: map[models.OrchestrationStrategy]*models.StrategyConfig{
			models.StrategySequential: {
				MaxParallelTasks: 1,
				TaskTimeout:      10 * time.Minute,
				RetryFailedTasks: true,
			},
			models.StrategyParallelBasic: {
				MaxParallelTasks:   cpus,
				TaskTimeout:        10 * time.Minute,
				RetryFailedTasks:   true,
				PriorityScheduling: true,
			},
			models.StrategyParallelAdaptive: {
				MaxParallelTasks:      cpus,
				EnableDynamicSpawning: true,
				TaskTimeout:           10 * time.Minute,
				RetryFailedTasks:      true,
				PriorityScheduling:    true,
				AdaptiveThreshold:     10,
			},
			models.StrategyHybrid: {
				MaxParallelTasks:      cpus,
				EnableDynamicSpawning: true,
				TaskTimeout:           10 * time.Minute,
				RetryFailedTasks:      true,
				PriorityScheduling:    true,
				HybridDependencyLimit: 5,
			},
		},
		history:         make(map[models.OrchestrationStrategy][]PerformanceRecord),
		defaultStrategy: models.StrategyParallelBasic,
	}
}

// SetDefaultStrategy overrides the final-fallback strategy.
func (s *StrategySelector) SetDefaultStrategy(strategy models.OrchestrationStrategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strategy.Valid() {
		s.defaultStrategy = strategy
	}
}

// Config returns the mutable config for a strategy. Callers may adjust
// tunables before executing a workflow.
func (s *StrategySelector) Config(strategy models.OrchestrationStrategy) *models.StrategyConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configs[strategy]
}

// SelectionInput carries the optional signals for SelectStrategy.
type SelectionInput struct {
	// VariantID is an A/B experiment identifier; it short-circuits all
	// other rules when it maps to a strategy.
	VariantID string
	// Complexity carries workload signals, if known.
	Complexity *models.ComplexityHints
	// Resources describes the host, if probed.
	Resources *models.SystemResources
}

// SelectStrategy applies the selection rules in order, first match wins:
//  1. explicit A/B variant mapping
//  2. complexity score thresholds
//  3. system resource heuristics
//  4. best historical strategy by composite score
//  5. the configured default
func (s *StrategySelector) SelectStrategy(in SelectionInput) (models.OrchestrationStrategy, *models.StrategyConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strategy, ok := strategyForVariant(in.VariantID); ok {
		debugLog("[selector] variant %q forces strategy %s", in.VariantID, strategy)
		return strategy, s.configs[strategy]
	}

	if in.Complexity != nil {
		strategy := strategyForComplexity(*in.Complexity)
		debugLog("[selector] complexity score %.1f selects %s", in.Complexity.Score(), strategy)
		return strategy, s.configs[strategy]
	}

	if in.Resources != nil {
		strategy := strategyForResources(*in.Resources)
		debugLog("[selector] host resources select %s", strategy)
		return strategy, s.configs[strategy]
	}

	if strategy, ok := s.bestHistoricalLocked(); ok {
		debugLog("[selector] historical performance selects %s", strategy)
		return strategy, s.configs[strategy]
	}

	return s.defaultStrategy, s.configs[s.defaultStrategy]
}

// strategyForVariant maps an A/B variant ID to a strategy, first by exact
// name and then by pattern.
func strategyForVariant(variantID string) (models.OrchestrationStrategy, bool) {
	if variantID == "" {
		return "", false
	}

	v := strings.ToLower(variantID)
	if strategy := models.OrchestrationStrategy(v); strategy.Valid() {
		return strategy, true
	}

	switch {
	case strings.Contains(v, "parallel") && strings.Contains(v, "adaptive"):
		return models.StrategyParallelAdaptive, true
	case strings.Contains(v, "hybrid"):
		return models.StrategyHybrid, true
	case strings.Contains(v, "parallel"):
		return models.StrategyParallelBasic, true
	case strings.Contains(v, "sequential"), strings.Contains(v, "control"):
		return models.StrategySequential, true
	}
	return "", false
}

// strategyForComplexity applies the complexity score thresholds.
func strategyForComplexity(hints models.ComplexityHints) models.OrchestrationStrategy {
	score := hints.Score()
	switch {
	case score < 5:
		return models.StrategySequential
	case score < 15:
		return models.StrategyParallelBasic
	case hints.NumDependencies > 5:
		return models.StrategyHybrid
	default:
		return models.StrategyParallelAdaptive
	}
}

// strategyForResources applies the host resource heuristics.
func strategyForResources(res models.SystemResources) models.OrchestrationStrategy {
	switch {
	case res.IsContainerized && res.CPUCount < 4:
		return models.StrategyParallelBasic
	case res.CPUCount < 2 || res.MemoryGB < 4:
		return models.StrategySequential
	case res.CPUCount >= 8 && res.MemoryGB >= 16:
		return models.StrategyParallelAdaptive
	default:
		return models.StrategyParallelBasic
	}
}

// bestHistoricalLocked picks the strategy with the best composite score
// of 0.7*avgSuccessRate + 0.3*(1/avgDuration). Caller must hold s.mu.
func (s *StrategySelector) bestHistoricalLocked() (models.OrchestrationStrategy, bool) {
	var best models.OrchestrationStrategy
	bestScore := -1.0

	for _, strategy := range models.AllStrategies() {
		records := s.history[strategy]
		if len(records) == 0 {
			continue
		}

		var successSum float64
		var durationSum time.Duration
		for _, r := range records {
			successSum += r.SuccessRate
			durationSum += r.Duration
		}
		avgSuccess := successSum / float64(len(records))
		avgDuration := durationSum / time.Duration(len(records))

		score := 0.7 * avgSuccess
		if avgDuration > 0 {
			score += 0.3 * (1.0 / avgDuration.Seconds())
		}
		if score > bestScore {
			bestScore = score
			best = strategy
		}
	}

	return best, bestScore >= 0
}

// RecordPerformance appends one workflow observation to the strategy's
// rolling window, evicting the oldest record past the cap.
func (s *StrategySelector) RecordPerformance(strategy models.OrchestrationStrategy, successRate float64, duration time.Duration, taskCount int, extra map[string]any) {
	if !strategy.Valid() {
		return
	}

	record := PerformanceRecord{
		Strategy:    strategy,
		SuccessRate: successRate,
		Duration:    duration,
		TaskCount:   taskCount,
		Extra:       extra,
		Timestamp:   time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := append(s.history[strategy], record)
	if len(records) > historyCap {
		records = records[len(records)-historyCap:]
	}
	s.history[strategy] = records
}

// SeedHistory pre-loads performance records, typically from the state
// store at startup, so selection rule 4 has data across process restarts.
func (s *StrategySelector) SeedHistory(records []PerformanceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if !r.Strategy.Valid() {
			continue
		}
		rs := append(s.history[r.Strategy], r)
		if len(rs) > historyCap {
			rs = rs[len(rs)-historyCap:]
		}
		s.history[r.Strategy] = rs
	}
}

// GetPerformanceSummary reports per-strategy run counts and aggregates.
func (s *StrategySelector) GetPerformanceSummary() map[models.OrchestrationStrategy]StrategySummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[models.OrchestrationStrategy]StrategySummary)
	for strategy, records := range s.history {
		if len(records) == 0 {
			continue
		}

		summary := StrategySummary{Runs: len(records)}
		var successSum float64
		var durationSum time.Duration
		for _, r := range records {
			successSum += r.SuccessRate
			durationSum += r.Duration
			if r.SuccessRate > summary.BestSuccessRate {
				summary.BestSuccessRate = r.SuccessRate
			}
			if summary.FastestDuration == 0 || r.Duration < summary.FastestDuration {
				summary.FastestDuration = r.Duration
			}
		}
		summary.AvgSuccessRate = successSum / float64(len(records))
		summary.AvgDuration = durationSum / time.Duration(len(records))
		out[strategy] = summary
	}
	return out
}
