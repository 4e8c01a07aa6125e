package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `
app:
  environment: test
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Environment != "test" {
		t.Errorf("environment = %q, want test", cfg.App.Environment)
	}
	if cfg.Exchange.Name != "binance" {
		t.Errorf("exchange.name = %q, want binance", cfg.Exchange.Name)
	}
	if cfg.Engines.AlertInterval != time.Minute {
		t.Errorf("alert_interval = %v, want 1m", cfg.Engines.AlertInterval)
	}
	if cfg.Engines.LimitInterval != 30*time.Second {
		t.Errorf("limit_interval = %v, want 30s", cfg.Engines.LimitInterval)
	}
	if cfg.Engines.WorkerLimit != 4 {
		t.Errorf("worker_limit = %d, want 4", cfg.Engines.WorkerLimit)
	}
	if cfg.Swap.StatusPollInterval != 30*time.Second {
		t.Errorf("status_poll_interval = %v, want 30s", cfg.Swap.StatusPollInterval)
	}
	if cfg.Swap.CancelMinAge != 5*time.Minute {
		t.Errorf("cancel_min_age = %v, want 5m", cfg.Swap.CancelMinAge)
	}
	if cfg.Shift.Retry.MaxAttempts != 3 {
		t.Errorf("shift.retry.max_attempts = %d, want 3", cfg.Shift.Retry.MaxAttempts)
	}
	if len(cfg.Logging.OutputPaths) != 1 || cfg.Logging.OutputPaths[0] != "stdout" {
		t.Errorf("logging.output_paths = %v, want [stdout]", cfg.Logging.OutputPaths)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
engines:
  alert_interval: 15s
  worker_limit: 8
swap:
  cancel_min_age: 10m
shift:
  base_url: https://example.test/api
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Engines.AlertInterval != 15*time.Second {
		t.Errorf("alert_interval = %v, want 15s", cfg.Engines.AlertInterval)
	}
	if cfg.Engines.WorkerLimit != 8 {
		t.Errorf("worker_limit = %d, want 8", cfg.Engines.WorkerLimit)
	}
	if cfg.Swap.CancelMinAge != 10*time.Minute {
		t.Errorf("cancel_min_age = %v, want 10m", cfg.Swap.CancelMinAge)
	}
	if cfg.Shift.BaseURL != "https://example.test/api" {
		t.Errorf("shift.base_url = %q", cfg.Shift.BaseURL)
	}
	// 未覆盖的项保持默认值
	if cfg.Engines.DCAInterval != time.Minute {
		t.Errorf("dca_interval = %v, want 1m", cfg.Engines.DCAInterval)
	}
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	path := writeConfig(t, `
engines:
  worker_limit: 0
swap:
  status_poll_interval: 0s
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "worker_limit") {
		t.Errorf("error should mention worker_limit: %v", err)
	}
	if !strings.Contains(err.Error(), "status_poll_interval") {
		t.Errorf("error should mention status_poll_interval: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate_RetryDelays(t *testing.T) {
	path := writeConfig(t, `
exchange:
  retry:
    min_delay: 10s
    max_delay: 1s
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for min_delay > max_delay")
	}
	if !strings.Contains(err.Error(), "min_delay") {
		t.Errorf("error should mention min_delay: %v", err)
	}
}
