package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modporter/modporter/pkg/models"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Defaults.Strategy != "parallel_adaptive" {
		t.Errorf("default strategy = %q", cfg.Defaults.Strategy)
	}
	if cfg.Orchestration.TaskTimeout != 10*time.Minute {
		t.Errorf("default task timeout = %s", cfg.Orchestration.TaskTimeout)
	}
	if !cfg.Orchestration.RetryFailedTasks {
		t.Error("retries should default to enabled")
	}
	if cfg.Monitoring.Retention != 24*time.Hour {
		t.Errorf("default retention = %s", cfg.Monitoring.Retention)
	}
	if cfg.Monitoring.FailureRateThreshold != 0.2 {
		t.Errorf("default failure threshold = %f", cfg.Monitoring.FailureRateThreshold)
	}
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
defaults:
  strategy: hybrid
  output_dir: /tmp/addons
orchestration:
  max_parallel_tasks: 8
  task_timeout: 5m
  retry_failed_tasks: false
monitoring:
  failure_rate_threshold: 0.35
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Defaults.Strategy != "hybrid" {
		t.Errorf("strategy = %q, want hybrid", cfg.Defaults.Strategy)
	}
	if cfg.Orchestration.MaxParallelTasks != 8 {
		t.Errorf("max parallel tasks = %d, want 8", cfg.Orchestration.MaxParallelTasks)
	}
	if cfg.Orchestration.TaskTimeout != 5*time.Minute {
		t.Errorf("task timeout = %s, want 5m", cfg.Orchestration.TaskTimeout)
	}
	if cfg.Orchestration.RetryFailedTasks {
		t.Error("retries should be disabled by the file")
	}
	if cfg.Monitoring.FailureRateThreshold != 0.35 {
		t.Errorf("failure threshold = %f, want 0.35", cfg.Monitoring.FailureRateThreshold)
	}

	// Unset keys keep their defaults.
	if cfg.Monitoring.Retention != 24*time.Hour {
		t.Errorf("retention = %s, want default 24h", cfg.Monitoring.Retention)
	}
}

func TestLoadFromPath_ExpandsOutputDir(t *testing.T) {
	os.Setenv("MODPORTER_TEST_OUT", "/srv/addons")
	defer os.Unsetenv("MODPORTER_TEST_OUT")

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "defaults:\n  output_dir: ${MODPORTER_TEST_OUT}/packed\n")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Defaults.OutputDir != "/srv/addons/packed" {
		t.Errorf("output dir = %q", cfg.Defaults.OutputDir)
	}
}

func TestLoadFromPath_MissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestGetUserConfigDir_XDG(t *testing.T) {
	original := os.Getenv("XDG_CONFIG_HOME")
	defer os.Setenv("XDG_CONFIG_HOME", original)

	os.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if dir := getUserConfigDir(); dir != "/custom/config/modporter" {
		t.Errorf("getUserConfigDir() = %q", dir)
	}
}

func TestLoadStrategyConfigs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "parallel_adaptive.yaml"), `
strategy: parallel_adaptive
max_parallel_tasks: 12
adaptive_threshold: 20
enable_dynamic_spawning: true
`)
	writeFile(t, filepath.Join(dir, "sequential.yaml"), `
strategy: sequential
task_timeout: 30m
retry_failed_tasks: false
use_process_pool: true
`)

	overrides, err := LoadStrategyConfigs(dir)
	if err != nil {
		t.Fatalf("LoadStrategyConfigs failed: %v", err)
	}

	if len(overrides) != 2 {
		t.Fatalf("expected 2 overrides, got %d", len(overrides))
	}

	adaptive := overrides[models.StrategyParallelAdaptive]
	if adaptive == nil {
		t.Fatal("missing parallel_adaptive override")
	}
	if adaptive.MaxParallelTasks != 12 || adaptive.AdaptiveThreshold != 20 {
		t.Errorf("unexpected adaptive override: %+v", adaptive)
	}

	seq := overrides[models.StrategySequential]
	if seq == nil {
		t.Fatal("missing sequential override")
	}
	if seq.TaskTimeout != 30*time.Minute {
		t.Errorf("sequential timeout = %s, want 30m", seq.TaskTimeout)
	}
	if seq.RetryFailedTasks == nil || *seq.RetryFailedTasks {
		t.Error("sequential retries should be disabled")
	}
	if seq.UseProcessPool == nil || !*seq.UseProcessPool {
		t.Error("sequential process pool should be enabled")
	}
}

func TestStrategyFileConfigApply(t *testing.T) {
	disabled := false
	enabled := true
	override := &StrategyFileConfig{
		MaxParallelTasks: 16,
		TaskTimeout:      time.Minute,
		RetryFailedTasks: &disabled,
		UseProcessPool:   &enabled,
	}

	cfg := &models.StrategyConfig{
		MaxParallelTasks:  4,
		TaskTimeout:       10 * time.Minute,
		RetryFailedTasks:  true,
		AdaptiveThreshold: 10,
	}
	override.Apply(cfg)

	if cfg.MaxParallelTasks != 16 {
		t.Errorf("max parallel tasks = %d, want 16", cfg.MaxParallelTasks)
	}
	if cfg.TaskTimeout != time.Minute {
		t.Errorf("task timeout = %s, want 1m", cfg.TaskTimeout)
	}
	if cfg.RetryFailedTasks {
		t.Error("retries should be overridden off")
	}
	if !cfg.UseProcessPool {
		t.Error("process pool should be overridden on")
	}
	// Untouched fields survive.
	if cfg.AdaptiveThreshold != 10 {
		t.Errorf("adaptive threshold = %d, want 10", cfg.AdaptiveThreshold)
	}
}

func TestSaveAndReload(t *testing.T) {
	original := os.Getenv("XDG_CONFIG_HOME")
	defer os.Setenv("XDG_CONFIG_HOME", original)
	os.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := Default()
	cfg.Defaults.Strategy = "sequential"
	cfg.Orchestration.MaxParallelTasks = 2
	if err := Save(cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded, err := LoadFromPath(GetUserConfigPath())
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Defaults.Strategy != "sequential" {
		t.Errorf("strategy = %q, want sequential", reloaded.Defaults.Strategy)
	}
	if reloaded.Orchestration.MaxParallelTasks != 2 {
		t.Errorf("max parallel tasks = %d, want 2", reloaded.Orchestration.MaxParallelTasks)
	}
}
