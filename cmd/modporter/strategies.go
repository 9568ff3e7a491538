package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/modporter/modporter/internal/orchestration"
	"github.com/modporter/modporter/pkg/models"
)

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "Show orchestration strategies and their track record",
	Long: `Strategies prints every orchestration strategy with its tunables and,
when runs have been recorded, the performance history the selector
uses to pick between them.`,
	RunE: runStrategies,
}

func runStrategies(cmd *cobra.Command, args []string) error {
	selector := orchestration.NewStrategySelector()

	db, err := openHistoryDB()
	if err == nil {
		defer db.Close()
		if serr := db.SeedSelector(selector, 0); serr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: load history: %v\n", serr)
		}
	}

	summary := selector.GetPerformanceSummary()
	bold := color.New(color.Bold)

	for _, strategy := range models.AllStrategies() {
		cfg := selector.Config(strategy)

		bold.Println(string(strategy))
		fmt.Printf("  max parallel:     %s\n", parallelLabel(cfg.MaxParallelTasks))
		fmt.Printf("  dynamic spawning: %t\n", cfg.EnableDynamicSpawning)
		fmt.Printf("  retries:          %t\n", cfg.RetryFailedTasks)
		fmt.Printf("  task timeout:     %s\n", cfg.TaskTimeout)

		if s, ok := summary[strategy]; ok {
			fmt.Printf("  history:          %d runs, %.0f%% avg success, %s avg duration\n",
				s.Runs, s.AvgSuccessRate*100, s.AvgDuration.Round(time.Millisecond))
		} else {
			fmt.Printf("  history:          %s\n", color.HiBlackString("no runs recorded"))
		}
		fmt.Println()
	}
	return nil
}

func parallelLabel(n int) string {
	if n == 0 {
		return "auto (CPU count)"
	}
	return fmt.Sprintf("%d", n)
}
