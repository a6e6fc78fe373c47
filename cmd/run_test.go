package main

import (
	"testing"

	"github.com/spf13/cobra"

	"github.com/cwbudde/dualaccel/internal/config"
	"github.com/cwbudde/dualaccel/internal/decomp"
	"github.com/cwbudde/dualaccel/internal/store"
)

func TestOverridesApplyOnlyChangedFlags(t *testing.T) {
	var o overrides
	cmd := &cobra.Command{Use: "test"}
	o.register(cmd)
	if err := cmd.Flags().Parse([]string{"--max-iters", "7", "--base-only", "--precision", "float32"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	cfg := config.Default()
	o.apply(cmd, &cfg)

	if cfg.Run.MaxIterations != 7 {
		t.Errorf("MaxIterations = %d, want 7", cfg.Run.MaxIterations)
	}
	if !cfg.Accelerator.BaseOnly {
		t.Error("BaseOnly should be set")
	}
	if cfg.Run.Precision != config.Float32 {
		t.Errorf("Precision = %s, want float32", cfg.Run.Precision)
	}

	def := config.Default()
	if cfg.Accelerator.HistorySize != def.Accelerator.HistorySize {
		t.Error("Unset flags should not override the configuration")
	}
	if cfg.Instance.Generate.NumVars != def.Instance.Generate.NumVars || cfg.Instance.Path != "" {
		t.Error("Instance should be untouched")
	}
}

func TestExecuteCheckpointsAndResumes(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Instance.Generate = decomp.GeneratorConfig{
		NumVars: 40, NumConstraints: 30, MinScope: 2, MaxScope: 4, CostScale: 1, Seed: 9,
	}
	cfg.Run.MaxIterations = 12
	cfg.Run.Patience = 0
	out := output{dataDir: dir}

	if err := execute(cfg, "cli-job", nil, out); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	fs, err := store.NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	first, err := fs.LoadCheckpoint("cli-job")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if first.Iteration != 12 {
		t.Errorf("Checkpoint iteration = %d, want 12", first.Iteration)
	}

	if err := execute(cfg, "cli-job", first, out); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	second, err := fs.LoadCheckpoint("cli-job")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if second.Iteration != 24 {
		t.Errorf("Resumed checkpoint iteration = %d, want 24", second.Iteration)
	}
	if second.InitialLowerBound != first.InitialLowerBound {
		t.Errorf("Initial lower bound changed on resume: %f -> %f", first.InitialLowerBound, second.InitialLowerBound)
	}
	if second.LowerBound < first.LowerBound-1e-6 {
		t.Errorf("Lower bound regressed on resume: %f -> %f", first.LowerBound, second.LowerBound)
	}

	entries, err := store.ReadTrace(dir, "cli-job", 0)
	if err != nil {
		t.Fatalf("ReadTrace failed: %v", err)
	}
	if len(entries) != 24 {
		t.Errorf("Expected 24 trace entries across both runs, got %d", len(entries))
	}
}
