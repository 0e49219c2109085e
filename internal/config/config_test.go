package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/screenager/llguidance/internal/matcher"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg != want {
		t.Fatalf("expected a missing file to yield Default(), got %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".llguidance.toml")
	body := `
max-items-in-row = 128
log-level = "debug"
worker-fraction = 0.5
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Limits.MaxItemsInRow != 128 {
		t.Errorf("MaxItemsInRow = %d, want 128", cfg.Limits.MaxItemsInRow)
	}
	if cfg.LogLevel != matcher.LogDebug {
		t.Errorf("LogLevel = %v, want LogDebug", cfg.LogLevel)
	}
	if cfg.WorkerFraction != 0.5 {
		t.Errorf("WorkerFraction = %v, want 0.5", cfg.WorkerFraction)
	}
	// Fields absent from the file fall back to the hardcoded default.
	if cfg.Limits.StepMaxItems != Default().Limits.StepMaxItems {
		t.Errorf("StepMaxItems should be untouched by a file that doesn't set it")
	}
}

func TestFlagOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".llguidance.toml")
	if err := os.WriteFile(path, []byte(`log-level = "debug"`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Apply(FlagOverrides{LogLevel: "silent"})
	if cfg.LogLevel != matcher.LogSilent {
		t.Fatalf("expected the CLI flag to win over the file's debug level, got %v", cfg.LogLevel)
	}
}

func TestParseLogLevelRejectsUnknownNames(t *testing.T) {
	if _, ok := ParseLogLevel("verbose"); ok {
		t.Fatal("expected an unrecognized log level name to be rejected")
	}
}

func TestExecutorWorkersClampsTo32(t *testing.T) {
	cfg := Config{WorkerFraction: 1.0}
	if n := cfg.ExecutorWorkers(1000); n != 32 {
		t.Fatalf("ExecutorWorkers(1000) = %d, want 32", n)
	}
}

func TestExecutorWorkersFloorsAtOne(t *testing.T) {
	cfg := Config{WorkerFraction: 0.01}
	if n := cfg.ExecutorWorkers(1); n != 1 {
		t.Fatalf("ExecutorWorkers(1) = %d, want 1", n)
	}
}
