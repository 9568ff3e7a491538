package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/modporter/modporter/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify modporter configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/modporter/config.yaml
Project-specific overrides can be placed in .modporter.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("defaults.strategy: %s\n", cfg.Defaults.Strategy)
	fmt.Printf("defaults.output_dir: %s\n", cfg.Defaults.OutputDir)
	fmt.Printf("defaults.variant_id: %s\n", displayString(cfg.Defaults.VariantID))
	fmt.Printf("orchestration.max_parallel_tasks: %d\n", cfg.Orchestration.MaxParallelTasks)
	fmt.Printf("orchestration.task_timeout: %s\n", cfg.Orchestration.TaskTimeout)
	fmt.Printf("orchestration.retry_failed_tasks: %t\n", cfg.Orchestration.RetryFailedTasks)
	fmt.Printf("orchestration.use_process_pool: %t\n", cfg.Orchestration.UseProcessPool)
	fmt.Printf("monitoring.retention: %s\n", cfg.Monitoring.Retention)
	fmt.Printf("monitoring.alert_interval: %s\n", cfg.Monitoring.AlertInterval)
	fmt.Printf("monitoring.alert_window: %s\n", cfg.Monitoring.AlertWindow)
	fmt.Printf("monitoring.failure_rate_threshold: %g\n", cfg.Monitoring.FailureRateThreshold)
	fmt.Printf("monitoring.task_duration_ceiling: %s\n", cfg.Monitoring.TaskDurationCeiling)
}

func displayString(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "defaults.strategy":
		return cfg.Defaults.Strategy, nil
	case "defaults.output_dir":
		return cfg.Defaults.OutputDir, nil
	case "defaults.variant_id":
		return displayString(cfg.Defaults.VariantID), nil
	case "orchestration.max_parallel_tasks":
		return strconv.Itoa(cfg.Orchestration.MaxParallelTasks), nil
	case "orchestration.task_timeout":
		return cfg.Orchestration.TaskTimeout.String(), nil
	case "orchestration.retry_failed_tasks":
		return strconv.FormatBool(cfg.Orchestration.RetryFailedTasks), nil
	case "orchestration.use_process_pool":
		return strconv.FormatBool(cfg.Orchestration.UseProcessPool), nil
	case "monitoring.retention":
		return cfg.Monitoring.Retention.String(), nil
	case "monitoring.alert_interval":
		return cfg.Monitoring.AlertInterval.String(), nil
	case "monitoring.alert_window":
		return cfg.Monitoring.AlertWindow.String(), nil
	case "monitoring.failure_rate_threshold":
		return strconv.FormatFloat(cfg.Monitoring.FailureRateThreshold, 'g', -1, 64), nil
	case "monitoring.task_duration_ceiling":
		return cfg.Monitoring.TaskDurationCeiling.String(), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "defaults.strategy":
		cfg.Defaults.Strategy = value
	case "defaults.output_dir":
		cfg.Defaults.OutputDir = value
	case "defaults.variant_id":
		cfg.Defaults.VariantID = value
	case "orchestration.max_parallel_tasks":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_parallel_tasks: %w", err)
		}
		cfg.Orchestration.MaxParallelTasks = n
	case "orchestration.task_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for task_timeout: %w", err)
		}
		cfg.Orchestration.TaskTimeout = d
	case "orchestration.retry_failed_tasks":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for retry_failed_tasks: %w", err)
		}
		cfg.Orchestration.RetryFailedTasks = b
	case "orchestration.use_process_pool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for use_process_pool: %w", err)
		}
		cfg.Orchestration.UseProcessPool = b
	case "monitoring.retention":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for retention: %w", err)
		}
		cfg.Monitoring.Retention = d
	case "monitoring.alert_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for alert_interval: %w", err)
		}
		cfg.Monitoring.AlertInterval = d
	case "monitoring.alert_window":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for alert_window: %w", err)
		}
		cfg.Monitoring.AlertWindow = d
	case "monitoring.failure_rate_threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number for failure_rate_threshold: %w", err)
		}
		cfg.Monitoring.FailureRateThreshold = f
	case "monitoring.task_duration_ceiling":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for task_duration_ceiling: %w", err)
		}
		cfg.Monitoring.TaskDurationCeiling = d
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
