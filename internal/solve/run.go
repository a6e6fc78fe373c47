// Package solve runs the accelerated dual solver end to end: it builds the
// instance, backend and accelerator from a configuration and drives the
// outer loop.
package solve

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cwbudde/dualaccel/internal/config"
	"github.com/cwbudde/dualaccel/internal/decomp"
	"github.com/cwbudde/dualaccel/internal/lbfgs"
	"github.com/cwbudde/dualaccel/internal/vector"
)

// Progress describes one completed outer iteration.
type Progress struct {
	Iteration    int                 `json:"iteration"`
	LowerBound   float64             `json:"lowerBound"`
	Method       lbfgs.Method        `json:"method"`
	Search       lbfgs.SearchOutcome `json:"search"`
	StepSize     float64             `json:"stepSize"`
	HistoryLen   int                 `json:"historyLen"`
	Unsuccessful int                 `json:"unsuccessful"`
	Flushes      int                 `json:"flushes"` // history flushes so far in this run
	Elapsed      time.Duration       `json:"elapsed"` // duration of this iteration

	// InitialLowerBound is the bound this run started from.
	InitialLowerBound float64 `json:"initialLowerBound"`

	// Costs copies the current dual vector. Only valid during the hook call.
	Costs func() []float64 `json:"-"`
}

// Hook receives progress after every iteration. Hooks run on the solver
// goroutine and must not block.
type Hook func(Progress)

// State is a point to resume a run from.
type State struct {
	Costs     []float64
	Iteration int
}

// Result summarizes a run.
type Result struct {
	Iterations        int           `json:"iterations"` // total, including resumed ones
	InitialLowerBound float64       `json:"initialLowerBound"`
	LowerBound        float64       `json:"lowerBound"`
	Converged         bool          `json:"converged"`
	Elapsed           time.Duration `json:"elapsed"`
	Stats             lbfgs.Stats   `json:"stats"`
	Costs             []float64     `json:"-"`

	PrimalCost     float64 `json:"primalCost"`
	PrimalFeasible bool    `json:"primalFeasible"`
}

// LoadInstance reads the configured instance file or generates one.
func LoadInstance(cfg config.InstanceConfig) (*decomp.Instance, error) {
	if cfg.Path == "" {
		return decomp.Generate(cfg.Generate)
	}
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open instance: %w", err)
	}
	defer f.Close()
	return decomp.ReadInstance(f)
}

// Run solves the configured instance from the initial dual split. When ctx is
// cancelled between iterations, Run returns the partial result together with
// the context error.
func Run(ctx context.Context, cfg config.Config, hooks ...Hook) (*Result, error) {
	return Resume(ctx, cfg, State{}, hooks...)
}

// Resume continues a run from a saved dual vector. An empty State starts
// from scratch. The curvature history is not saved, so the accelerator warms
// up again.
func Resume(ctx context.Context, cfg config.Config, from State, hooks ...Hook) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	inst, err := LoadInstance(cfg.Instance)
	if err != nil {
		return nil, err
	}

	switch cfg.Run.Precision {
	case config.Float32:
		return run[float32](ctx, cfg, inst, from, hooks)
	default:
		return run[float64](ctx, cfg, inst, from, hooks)
	}
}

func run[T vector.Real](ctx context.Context, cfg config.Config, inst *decomp.Instance, from State, hooks []Hook) (*Result, error) {
	ops, err := vector.NewOps[T](cfg.Run.Backend)
	if err != nil {
		return nil, err
	}
	solver, err := decomp.NewSolver[T](inst)
	if err != nil {
		return nil, err
	}
	if from.Costs != nil {
		// the saved duals already carry the updates applied before the checkpoint
		for _, u := range cfg.Run.CostUpdates {
			if u.Iteration > from.Iteration {
				continue
			}
			if err := applyCostUpdate(solver, inst.NumVars, u); err != nil {
				return nil, fmt.Errorf("failed to replay cost update of iteration %d: %w", u.Iteration, err)
			}
		}
		if err := solver.SetCosts(from.Costs); err != nil {
			return nil, fmt.Errorf("failed to restore dual costs: %w", err)
		}
	}

	acc := cfg.Accelerator.ToLBFGS()
	acc.Logger = slog.Default()
	optimizer, err := lbfgs.New[T](solver, ops, acc)
	if err != nil {
		return nil, err
	}

	tracker := NewConvergenceTracker(ConvergenceFromRun(cfg.Run))

	res := &Result{
		Iterations:        from.Iteration,
		InitialLowerBound: solver.LowerBound(),
	}
	tracker.Update(res.InitialLowerBound)

	slog.Info("Starting solve",
		"vars", inst.NumVars,
		"constraints", len(inst.Constraints),
		"layers", solver.NumLayers(),
		"precision", cfg.Run.Precision,
		"backend", ops.Backend(),
		"start_iteration", from.Iteration,
		"lower_bound", res.InitialLowerBound,
	)

	start := time.Now()
	var runErr error
	for i := 0; i < cfg.Run.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		for _, u := range cfg.Run.CostUpdates {
			if u.Iteration != res.Iterations+1 {
				continue
			}
			if err := applyCostUpdate(optimizer, inst.NumVars, u); err != nil {
				return nil, fmt.Errorf("cost update before iteration %d: %w", u.Iteration, err)
			}
			slog.Info("Applied cost update",
				"iteration", u.Iteration,
				"scale", u.Scale,
				"lower_bound", optimizer.LowerBound(),
			)
		}

		iterStart := time.Now()
		if err := optimizer.Iteration(); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", res.Iterations+1, err)
		}
		res.Iterations++

		st := optimizer.Stats()
		p := Progress{
			Iteration:    res.Iterations,
			LowerBound:   optimizer.LowerBound(),
			Method:       st.LastMethod,
			StepSize:     st.StepSize,
			HistoryLen:   st.HistoryLen,
			Unsuccessful: st.UnsuccessfulUpdates,
			Flushes:      st.Flushes,
			Elapsed:      time.Since(iterStart),
			Costs:        solver.Costs,

			InitialLowerBound: res.InitialLowerBound,
		}
		if st.LastMethod == lbfgs.MethodAccelerated {
			p.Search = st.LastSearch.Outcome
		}
		for _, h := range hooks {
			h(p)
		}

		if tracker.Update(p.LowerBound) {
			res.Converged = true
			break
		}
	}

	res.Elapsed = time.Since(start)
	res.LowerBound = solver.LowerBound()
	res.Stats = optimizer.Stats()
	res.Costs = solver.Costs()
	res.PrimalCost, res.PrimalFeasible = inst.Evaluate(solver.Primal())

	slog.Info("Solve finished",
		"iterations", res.Iterations,
		"elapsed", res.Elapsed,
		"initial_lower_bound", res.InitialLowerBound,
		"lower_bound", res.LowerBound,
		"converged", res.Converged,
		"base_iterations", res.Stats.Methods.BaseIterations,
		"accelerated_iterations", res.Stats.Methods.AcceleratedIterations,
		"primal_cost", res.PrimalCost,
		"primal_feasible", res.PrimalFeasible,
	)
	return res, runErr
}

type costUpdater interface {
	UpdateCosts(delta0, delta1 []float64) error
}

// applyCostUpdate perturbs the costs through dst. Passing the optimizer
// flushes its curvature history, passing the bare solver does not.
func applyCostUpdate(dst costUpdater, numVars int, u config.CostUpdate) error {
	delta0, delta1 := decomp.Perturbation(numVars, u.Scale, u.Seed)
	return dst.UpdateCosts(delta0, delta1)
}
