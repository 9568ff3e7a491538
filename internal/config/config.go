// Package config handles configuration loading and management for modporter.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/modporter/modporter/pkg/models"
)

// Config holds all configuration for modporter.
type Config struct {
	Defaults      DefaultsConfig      `mapstructure:"defaults"`
	Orchestration OrchestrationConfig `mapstructure:"orchestration"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring"`
}

// DefaultsConfig holds default values for conversion runs.
type DefaultsConfig struct {
	// Strategy is the strategy used when no selection rule fires.
	Strategy string `mapstructure:"strategy"`
	// OutputDir is where packaged add-ons are written.
	OutputDir string `mapstructure:"output_dir"`
	// VariantID pins an A/B test variant for every run. Empty means
	// the selector decides from complexity and resources.
	VariantID string `mapstructure:"variant_id"`
}

// OrchestrationConfig holds execution tuning knobs.
type OrchestrationConfig struct {
	MaxParallelTasks int           `mapstructure:"max_parallel_tasks"`
	TaskTimeout      time.Duration `mapstructure:"task_timeout"`
	RetryFailedTasks bool          `mapstructure:"retry_failed_tasks"`
	UseProcessPool   bool          `mapstructure:"use_process_pool"`
}

// MonitoringConfig holds monitor retention and alerting settings.
type MonitoringConfig struct {
	Retention            time.Duration `mapstructure:"retention"`
	AlertInterval        time.Duration `mapstructure:"alert_interval"`
	AlertWindow          time.Duration `mapstructure:"alert_window"`
	FailureRateThreshold float64       `mapstructure:"failure_rate_threshold"`
	TaskDurationCeiling  time.Duration `mapstructure:"task_duration_ceiling"`
}

// StrategyFileConfig holds one strategy's overrides loaded from YAML.
type StrategyFileConfig struct {
	// Strategy is the strategy name (sequential, parallel_basic,
	// parallel_adaptive, hybrid).
	Strategy string `mapstructure:"strategy"`
	// MaxParallelTasks is the worker-pool width. Zero keeps the
	// built-in default.
	MaxParallelTasks int `mapstructure:"max_parallel_tasks"`
	// TaskTimeout is the per-task execution ceiling.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	// RetryFailedTasks re-queues failed tasks within the retry budget.
	RetryFailedTasks *bool `mapstructure:"retry_failed_tasks"`
	// EnableDynamicSpawning lets completed stages inject follow-up tasks.
	EnableDynamicSpawning *bool `mapstructure:"enable_dynamic_spawning"`
	// UseProcessPool selects the CPU-sized execution substrate.
	UseProcessPool *bool `mapstructure:"use_process_pool"`
	// AdaptiveThreshold caps dynamic spawns per run.
	AdaptiveThreshold int `mapstructure:"adaptive_threshold"`
	// HybridDependencyLimit defers tasks with more dependencies than this.
	HybridDependencyLimit int `mapstructure:"hybrid_dependency_limit"`
}

// Apply overlays the file overrides onto a strategy config.
func (sc *StrategyFileConfig) Apply(cfg *models.StrategyConfig) {
	if sc.MaxParallelTasks > 0 {
		cfg.MaxParallelTasks = sc.MaxParallelTasks
	}
	if sc.TaskTimeout > 0 {
		cfg.TaskTimeout = sc.TaskTimeout
	}
	if sc.RetryFailedTasks != nil {
		cfg.RetryFailedTasks = *sc.RetryFailedTasks
	}
	if sc.EnableDynamicSpawning != nil {
		cfg.EnableDynamicSpawning = *sc.EnableDynamicSpawning
	}
	if sc.UseProcessPool != nil {
		cfg.UseProcessPool = *sc.UseProcessPool
	}
	if sc.AdaptiveThreshold > 0 {
		cfg.AdaptiveThreshold = sc.AdaptiveThreshold
	}
	if sc.HybridDependencyLimit > 0 {
		cfg.HybridDependencyLimit = sc.HybridDependencyLimit
	}
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (MODPORTER_*)
// 2. Project config (.modporter.yaml in current directory or parent)
// 3. User config (~/.config/modporter/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("MODPORTER")
	v.BindEnv("defaults.strategy", "MODPORTER_STRATEGY")
	v.BindEnv("defaults.output_dir", "MODPORTER_OUTPUT_DIR")
	v.BindEnv("defaults.variant_id", "MODPORTER_VARIANT_ID")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Defaults.OutputDir = os.ExpandEnv(cfg.Defaults.OutputDir)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Defaults.OutputDir = os.ExpandEnv(cfg.Defaults.OutputDir)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	doc := map[string]any{
		"defaults": map[string]any{
			"strategy":   cfg.Defaults.Strategy,
			"output_dir": cfg.Defaults.OutputDir,
			"variant_id": cfg.Defaults.VariantID,
		},
		"orchestration": map[string]any{
			"max_parallel_tasks": cfg.Orchestration.MaxParallelTasks,
			"task_timeout":       cfg.Orchestration.TaskTimeout.String(),
			"retry_failed_tasks": cfg.Orchestration.RetryFailedTasks,
			"use_process_pool":   cfg.Orchestration.UseProcessPool,
		},
		"monitoring": map[string]any{
			"retention":              cfg.Monitoring.Retention.String(),
			"alert_interval":         cfg.Monitoring.AlertInterval.String(),
			"alert_window":           cfg.Monitoring.AlertWindow.String(),
			"failure_rate_threshold": cfg.Monitoring.FailureRateThreshold,
			"task_duration_ceiling":  cfg.Monitoring.TaskDurationCeiling.String(),
		},
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("defaults.strategy", "parallel_adaptive")
	v.SetDefault("defaults.output_dir", "output")
	v.SetDefault("defaults.variant_id", "")

	v.SetDefault("orchestration.max_parallel_tasks", 0)
	v.SetDefault("orchestration.task_timeout", "10m")
	v.SetDefault("orchestration.retry_failed_tasks", true)
	v.SetDefault("orchestration.use_process_pool", false)

	v.SetDefault("monitoring.retention", "24h")
	v.SetDefault("monitoring.alert_interval", "30s")
	v.SetDefault("monitoring.alert_window", "5m")
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.task_duration_ceiling", "0s")
}

// getUserConfigDir returns the XDG config directory for modporter.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "modporter")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "modporter")
	}
	return filepath.Join(home, ".config", "modporter")
}

// findProjectConfig searches for .modporter.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".modporter.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Defaults: DefaultsConfig{
			Strategy:  "parallel_adaptive",
			OutputDir: "output",
		},
		Orchestration: OrchestrationConfig{
			TaskTimeout:      10 * time.Minute,
			RetryFailedTasks: true,
		},
		Monitoring: MonitoringConfig{
			Retention:            24 * time.Hour,
			AlertInterval:        30 * time.Second,
			AlertWindow:          5 * time.Minute,
			FailureRateThreshold: 0.2,
		},
	}
}

// LoadStrategyConfigs loads per-strategy overrides from the configs/
// directory. Missing files are skipped; each present file must parse.
// If configsDir is empty, it defaults to "configs" relative to the
// current directory.
func LoadStrategyConfigs(configsDir string) (map[models.OrchestrationStrategy]*StrategyFileConfig, error) {
	if configsDir == "" {
		configsDir = "configs"
	}

	overrides := make(map[models.OrchestrationStrategy]*StrategyFileConfig)
	for _, strategy := range models.AllStrategies() {
		path := filepath.Join(configsDir, string(strategy)+".yaml")
		if _, err := os.Stat(path); err != nil {
			continue
		}

		cfg, err := loadStrategyConfig(path)
		if err != nil {
			return nil, fmt.Errorf("load %s config: %w", strategy, err)
		}
		overrides[strategy] = cfg
	}

	return overrides, nil
}

// loadStrategyConfig loads a single strategy override file.
func loadStrategyConfig(path string) (*StrategyFileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg := &StrategyFileConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling %s: %w", path, err)
	}

	return cfg, nil
}
