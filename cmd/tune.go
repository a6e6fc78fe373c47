package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/dualaccel/internal/opt"
)

var (
	tuneFlags   overrides
	tuneIters   int
	tunePopSize int
	tuneSeed    int64
	tuneOut     string
)

var tuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Tune accelerator parameters with mayfly",
	Long: `Searches the step size schedule and the required relative increase that
reach the highest lower bound within the configured iteration budget. Every
candidate is a full solve, so keep the instance and budget small. The tuned
configuration is printed as YAML or written to --out.`,
	RunE: runTune,
}

func init() {
	tuneFlags.register(tuneCmd)
	tuneCmd.Flags().IntVar(&tuneIters, "iters", 10, "Mayfly iterations")
	tuneCmd.Flags().IntVar(&tunePopSize, "pop", opt.MinPopulation, "Mayfly population size")
	tuneCmd.Flags().Int64Var(&tuneSeed, "tune-seed", 42, "Mayfly random seed")
	tuneCmd.Flags().StringVar(&tuneOut, "out", "", "Write the tuned configuration to this file")
	rootCmd.AddCommand(tuneCmd)
}

func runTune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tuneFlags.apply(cmd, &cfg)

	ctx, stop := signalContext()
	defer stop()

	tuner := opt.NewTuner(cfg, opt.DefaultSpace(), opt.NewMayfly(tuneIters, tunePopSize, tuneSeed))
	res, err := tuner.Tune(ctx)
	if err != nil {
		return err
	}

	cfg.Accelerator = res.Best
	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Lower bound %.6f -> %.6f after %d evaluations (%s)\n",
		res.Baseline, res.BestLowerBound, res.Evaluations, res.Elapsed.Round(time.Second))
	if tuneOut == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(tuneOut, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tuneOut, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", tuneOut)
	return nil
}
