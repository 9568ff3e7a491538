package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/modporter/modporter/internal/config"
	"github.com/modporter/modporter/internal/converter"
	"github.com/modporter/modporter/internal/orchestration"
	"github.com/modporter/modporter/internal/orchestration/prom"
	"github.com/modporter/modporter/internal/state"
)

var (
	convertOutput      string
	convertVariant     string
	convertTempDir     string
	convertReportPath  string
	convertNoPersist   bool
	convertSmartAssume bool
	convertIncludeDeps bool
	convertMetricsPath string
	convertMetricsAddr string
	convertGraphPath   string
	convertStrategyDir string
)

var convertCmd = &cobra.Command{
	Use:   "convert <mod.jar>",
	Short: "Convert a Java mod to a Bedrock add-on",
	Long: `Convert analyzes the given mod jar and produces a .mcaddon archive.

A failed conversion exits non-zero but still writes whatever partial
artifacts were produced, plus a report describing what went wrong.`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "Output directory or .mcaddon path (default from config)")
	convertCmd.Flags().StringVar(&convertVariant, "variant", "", "Pin an A/B strategy variant (sequential, parallel_basic, parallel_adaptive, hybrid)")
	convertCmd.Flags().StringVar(&convertTempDir, "temp-dir", "", "Working directory for stage artifacts")
	convertCmd.Flags().StringVar(&convertReportPath, "report", "", "Write the full result document as JSON")
	convertCmd.Flags().BoolVar(&convertNoPersist, "no-persist", false, "Skip recording the run in the local database")
	convertCmd.Flags().BoolVar(&convertSmartAssume, "smart-assumptions", true, "Approximate unconvertible features instead of dropping them")
	convertCmd.Flags().BoolVar(&convertIncludeDeps, "include-dependencies", false, "Convert bundled library mods too")
	convertCmd.Flags().StringVar(&convertMetricsPath, "export-metrics", "", "Write monitor metrics JSON after the run")
	convertCmd.Flags().StringVar(&convertMetricsAddr, "metrics-listen", "", "Serve Prometheus metrics on this address during the run (e.g. :9090)")
	convertCmd.Flags().StringVar(&convertGraphPath, "export-graph", "", "Write the task graph JSON after the run")
	convertCmd.Flags().StringVar(&convertStrategyDir, "strategy-configs", "", "Directory of per-strategy YAML override files")
}

func runConvert(cmd *cobra.Command, args []string) error {
	modPath := args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	output := convertOutput
	if output == "" {
		output = cfg.Defaults.OutputDir
	}
	variant := convertVariant
	if variant == "" {
		variant = cfg.Defaults.VariantID
	}

	opts := converter.Options{
		TempDir:             convertTempDir,
		VariantID:           variant,
		SmartAssumptions:    convertSmartAssume,
		IncludeDependencies: convertIncludeDeps,
		GraphExportPath:     convertGraphPath,
		StrategyConfigsDir:  convertStrategyDir,
		DefaultStrategy:     cfg.Defaults.Strategy,
		Orchestration:       &cfg.Orchestration,
	}

	if !convertNoPersist {
		cwd, _ := os.Getwd()
		db, err := state.OpenProject(cwd)
		if err != nil {
			return fmt.Errorf("open state database: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return fmt.Errorf("migrate state database: %w", err)
		}
		opts.DB = db
	}

	monitor := orchestration.NewMonitor(orchestration.MonitorConfig{
		Retention:            cfg.Monitoring.Retention,
		AlertInterval:        cfg.Monitoring.AlertInterval,
		AlertWindow:          cfg.Monitoring.AlertWindow,
		FailureRateThreshold: cfg.Monitoring.FailureRateThreshold,
		TaskDurationCeiling:  cfg.Monitoring.TaskDurationCeiling,
	})
	monitor.OnAlert(func(a orchestration.Alert) {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.YellowString("[alert]"), a.Message)
	})
	monitor.Start()
	defer monitor.Stop()
	opts.Monitor = monitor

	if convertMetricsAddr != "" {
		exporter, err := prom.NewExporter("modporter", nil, prom.ExporterOptions{})
		if err != nil {
			return fmt.Errorf("register metrics collectors: %w", err)
		}
		opts.EventObserver = exporter.Observe

		http.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(convertMetricsAddr, nil); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Converting %s ...\n", filepath.Base(modPath))
	result := converter.Convert(ctx, modPath, output, opts)
	printResult(result)

	if convertReportPath != "" {
		if err := writeJSON(convertReportPath, result); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if convertMetricsPath != "" {
		if err := monitor.ExportMetrics(convertMetricsPath, "json"); err != nil {
			return fmt.Errorf("export metrics: %w", err)
		}
	}

	if result.Status == converter.StatusFailed {
		return fmt.Errorf("conversion failed, see report logs")
	}
	return nil
}

// printResult renders the result document for the terminal.
func printResult(r *converter.Result) {
	var badge string
	switch r.Status {
	case converter.StatusCompleted:
		badge = color.GreenString("✓ completed")
	case converter.StatusPartial:
		badge = color.YellowString("⚠ partial")
	default:
		badge = color.RedString("✗ failed")
	}

	fmt.Printf("\n%s  success rate %.0f%%\n", badge, r.OverallSuccessRate*100)
	fmt.Printf("  strategy:   %s\n", r.OrchestrationMetadata.StrategyUsed)
	fmt.Printf("  duration:   %s\n", r.OrchestrationMetadata.ExecutionTime.Round(time.Millisecond))
	fmt.Printf("  efficiency: %.2fx\n", r.OrchestrationMetadata.ParallelEfficiency)
	if r.OrchestrationMetadata.DynamicTasksSpawned > 0 {
		fmt.Printf("  spawned:    %d entity tasks\n", r.OrchestrationMetadata.DynamicTasksSpawned)
	}
	if r.AddonPath != "" {
		fmt.Printf("  addon:      %s\n", r.AddonPath)
	}

	stats := r.DetailedReport.ParallelExecutionStats
	fmt.Printf("  tasks:      %d total, %d completed, %d failed\n", stats.Total, stats.Completed, stats.Failed)

	if r.Status != converter.StatusCompleted {
		fmt.Println("\nLogs:")
		for _, line := range r.DetailedReport.Logs {
			fmt.Printf("  %s\n", line)
		}
	}
}

// writeJSON writes a document as indented JSON.
func writeJSON(path string, doc any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
