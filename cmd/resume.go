package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cwbudde/dualaccel/internal/store"
)

var (
	resumeFlags  overrides
	resumeOutput output
)

var resumeCmd = &cobra.Command{
	Use:   "resume [job-id]",
	Short: "Resume a job from its checkpoint",
	Long: `Continues a job from the dual vector of its checkpoint. The stored
configuration is used unless --config is given; flags override either.
The instance and precision must match the checkpoint. The curvature history
is not stored, so the accelerator collects pairs again before its first
accelerated iteration.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeFlags.register(resumeCmd)
	resumeOutput.register(resumeCmd, "./data")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	checkpointStore, err := store.NewFSStore(resumeOutput.dataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	checkpoint, err := checkpointStore.LoadCheckpoint(jobID)
	if err != nil {
		return err
	}

	cfg := checkpoint.Config
	if configPath != "" {
		if cfg, err = loadConfig(); err != nil {
			return err
		}
	}
	resumeFlags.apply(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := checkpoint.IsCompatible(cfg); err != nil {
		return fmt.Errorf("cannot resume %s: %w", jobID, err)
	}

	slog.Info("Resuming job",
		"job_id", jobID,
		"iteration", checkpoint.Iteration,
		"lower_bound", checkpoint.LowerBound,
		"checkpoint_time", checkpoint.Timestamp,
	)
	return execute(cfg, jobID, checkpoint, resumeOutput)
}
