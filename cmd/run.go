package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/dualaccel/internal/config"
	"github.com/cwbudde/dualaccel/internal/solve"
	"github.com/cwbudde/dualaccel/internal/store"
)

// overrides are command line settings applied on top of the configuration
// file. Only flags set explicitly take effect.
type overrides struct {
	instance    string
	vars        int
	constraints int
	seed        int64
	maxIters    int
	patience    int
	history     int
	stepSize    float64
	backend     string
	precision   string
	baseOnly    bool
	strict      bool
}

func (o *overrides) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.instance, "instance", "", "Instance JSON file (generated instance when empty)")
	f.IntVar(&o.vars, "vars", 0, "Variables of the generated instance")
	f.IntVar(&o.constraints, "constraints", 0, "Constraints of the generated instance")
	f.Int64Var(&o.seed, "seed", 0, "Seed of the generated instance")
	f.IntVar(&o.maxIters, "max-iters", 0, "Maximum outer iterations")
	f.IntVar(&o.patience, "patience", 0, "Stop after this many iterations without progress (0 = never)")
	f.IntVar(&o.history, "history", 0, "Curvature pairs kept by the accelerator")
	f.Float64Var(&o.stepSize, "step-size", 0, "Initial step size of the accelerated update")
	f.StringVar(&o.backend, "backend", "", "Vector backend (blas, scalar)")
	f.StringVar(&o.precision, "precision", "", "Dual vector precision (float64, float32)")
	f.BoolVar(&o.baseOnly, "base-only", false, "Disable accelerated iterations")
	f.BoolVar(&o.strict, "strict", false, "Fail on lower bound regressions instead of warning")
}

func (o *overrides) apply(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("instance") {
		cfg.Instance.Path = o.instance
	}
	if set("vars") {
		cfg.Instance.Generate.NumVars = o.vars
	}
	if set("constraints") {
		cfg.Instance.Generate.NumConstraints = o.constraints
	}
	if set("seed") {
		cfg.Instance.Generate.Seed = o.seed
	}
	if set("max-iters") {
		cfg.Run.MaxIterations = o.maxIters
	}
	if set("patience") {
		cfg.Run.Patience = o.patience
	}
	if set("history") {
		cfg.Accelerator.HistorySize = o.history
	}
	if set("step-size") {
		cfg.Accelerator.InitialStepSize = o.stepSize
	}
	if set("backend") {
		cfg.Run.Backend = o.backend
	}
	if set("precision") {
		cfg.Run.Precision = config.Precision(o.precision)
	}
	if set("base-only") {
		cfg.Accelerator.BaseOnly = o.baseOnly
	}
	if set("strict") {
		cfg.Accelerator.StrictChecks = o.strict
	}
}

// output controls persistence and reporting of a solve.
type output struct {
	dataDir  string
	logEvery int
	json     bool
}

func (o *output) register(cmd *cobra.Command, defaultDataDir string) {
	cmd.Flags().StringVar(&o.dataDir, "data-dir", defaultDataDir, "Directory for traces and checkpoints (disabled when empty)")
	cmd.Flags().IntVar(&o.logEvery, "log-every", 50, "Log progress every N iterations (0 = never)")
	cmd.Flags().BoolVar(&o.json, "json", false, "Print the result as JSON")
}

var (
	runFlags  overrides
	runOutput output
	runJobID  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Solve an instance",
	Long: `Runs the accelerated dual solver on an instance file or a generated instance.
With --data-dir the per-iteration trace and a final checkpoint are written to
<data-dir>/jobs/<job-id>/ so the run can be resumed.`,
	RunE: runSolve,
}

func init() {
	runFlags.register(runCmd)
	runOutput.register(runCmd, "")
	runCmd.Flags().StringVar(&runJobID, "job-id", "", "Job ID for traces and checkpoints (random when empty)")
	rootCmd.AddCommand(runCmd)
}

func runSolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	runFlags.apply(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	jobID := runJobID
	if jobID == "" {
		jobID = uuid.New().String()
	}
	return execute(cfg, jobID, nil, runOutput)
}

// execute runs or resumes a job and persists it when out.dataDir is set.
func execute(cfg config.Config, jobID string, from *store.Checkpoint, out output) error {
	ctx, stop := signalContext()
	defer stop()

	hooks := []solve.Hook{progressLogger(out.logEvery)}

	var checkpointStore *store.FSStore
	if out.dataDir != "" {
		var err error
		checkpointStore, err = store.NewFSStore(out.dataDir)
		if err != nil {
			return fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		trace, err := store.NewTraceWriter(out.dataDir, jobID, from != nil)
		if err != nil {
			return err
		}
		defer trace.Close()
		hooks = append(hooks, trace.Hook())
	}

	var state solve.State
	if from != nil {
		state = solve.State{Costs: from.Costs, Iteration: from.Iteration}
	}

	result, err := solve.Resume(ctx, cfg, state, hooks...)
	interrupted := err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err())
	if err != nil && !interrupted {
		return err
	}

	if checkpointStore != nil {
		initial := result.InitialLowerBound
		if from != nil {
			initial = from.InitialLowerBound
		}
		checkpoint := store.NewCheckpoint(jobID, result.Costs, result.LowerBound, initial, result.Iterations, cfg)
		if err := checkpointStore.SaveCheckpoint(jobID, checkpoint); err != nil {
			return err
		}
		slog.Info("Checkpoint saved", "job_id", jobID, "iteration", result.Iterations, "dir", out.dataDir)
	}

	if err := printResult(jobID, result, out.json); err != nil {
		return err
	}
	if interrupted {
		return fmt.Errorf("interrupted after %d iterations", result.Iterations)
	}
	return nil
}

// progressLogger logs every n-th iteration.
func progressLogger(n int) solve.Hook {
	return func(p solve.Progress) {
		if n <= 0 || p.Iteration%n != 0 {
			return
		}
		slog.Info("Progress",
			"iteration", p.Iteration,
			"lower_bound", p.LowerBound,
			"method", p.Method.String(),
			"step_size", p.StepSize,
			"history", p.HistoryLen,
		)
	}
}

func printResult(jobID string, result *solve.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			JobID string `json:"jobId"`
			*solve.Result
		}{jobID, result})
	}

	fmt.Printf("Job %s: lower bound %.6f -> %.6f after %d iterations (%s)\n",
		jobID, result.InitialLowerBound, result.LowerBound, result.Iterations, result.Elapsed.Round(time.Millisecond))
	fmt.Printf("  base/accelerated iterations: %d/%d\n",
		result.Stats.Methods.BaseIterations, result.Stats.Methods.AcceleratedIterations)
	if result.PrimalFeasible {
		fmt.Printf("  rounded primal cost: %.6f (gap %.6f)\n", result.PrimalCost, result.PrimalCost-result.LowerBound)
	} else {
		fmt.Println("  rounded primal assignment infeasible")
	}
	return nil
}
