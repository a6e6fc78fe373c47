package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cwbudde/dualaccel/internal/config"
	"github.com/cwbudde/dualaccel/internal/lbfgs"
	"github.com/cwbudde/dualaccel/internal/solve"
)

// penalty is the cost of parameter vectors whose run failed.
const penalty = math.MaxFloat64 / 4

// Space maps the unit cube onto accelerator parameters. Step size and
// required increase are searched on a log10 scale.
type Space struct {
	LogStepSize         [2]float64
	DecreaseFactor      [2]float64
	IncreaseFactor      [2]float64
	LogRequiredIncrease [2]float64
}

// Dim is the dimension of every Space.
const Dim = 4

// DefaultSpace brackets the shipped defaults.
func DefaultSpace() Space {
	return Space{
		LogStepSize:         [2]float64{-8, -2},
		DecreaseFactor:      [2]float64{0.3, 0.95},
		IncreaseFactor:      [2]float64{1.01, 2},
		LogRequiredIncrease: [2]float64{-8, -2},
	}
}

func lerp(r [2]float64, t float64) float64 {
	t = math.Min(1, math.Max(0, t))
	return r[0] + t*(r[1]-r[0])
}

// Decode converts x in [0,1]^Dim to accelerator parameters. Components
// outside the unit interval are clamped; fields not searched come from base.
func (s Space) Decode(x []float64, base lbfgs.Config) lbfgs.Config {
	if len(x) != Dim {
		panic(fmt.Sprintf("opt: expected %d parameters, got %d", Dim, len(x)))
	}
	c := base
	c.InitialStepSize = math.Pow(10, lerp(s.LogStepSize, x[0]))
	c.StepSizeDecreaseFactor = lerp(s.DecreaseFactor, x[1])
	c.StepSizeIncreaseFactor = lerp(s.IncreaseFactor, x[2])
	c.RequiredRelativeIncrease = math.Pow(10, lerp(s.LogRequiredIncrease, x[3]))
	return c
}

// TuneResult is the best configuration found.
type TuneResult struct {
	Best           config.AcceleratorConfig `json:"best"`
	BestLowerBound float64                  `json:"bestLowerBound"`
	Baseline       float64                  `json:"baseline"` // lower bound of the starting configuration
	Evaluations    int                      `json:"evaluations"`
	Elapsed        time.Duration            `json:"elapsed"`
}

// Tuner searches accelerator parameters that maximize the lower bound a run
// reaches within its iteration budget.
type Tuner struct {
	base      config.Config
	space     Space
	optimizer Optimizer
}

// NewTuner evaluates candidates with base, whose accelerator section is
// the starting point. Early stopping is disabled so every candidate gets the
// same budget.
func NewTuner(base config.Config, space Space, optimizer Optimizer) *Tuner {
	base.Run.Patience = 0
	return &Tuner{base: base, space: space, optimizer: optimizer}
}

func (t *Tuner) evaluate(ctx context.Context, acc lbfgs.Config) (float64, error) {
	cfg := t.base
	cfg.Accelerator = config.FromLBFGS(acc)
	res, err := solve.Run(ctx, cfg)
	if err != nil {
		return 0, err
	}
	return res.LowerBound, nil
}

// Tune runs the optimizer. The score of a candidate is the negated lower
// bound, so failed runs rank last.
func (t *Tuner) Tune(ctx context.Context) (*TuneResult, error) {
	if err := t.base.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	baseAcc := t.base.Accelerator.ToLBFGS()

	baseline, err := t.evaluate(ctx, baseAcc)
	if err != nil {
		return nil, fmt.Errorf("baseline run failed: %w", err)
	}

	evaluations := 0
	score := func(x []float64) float64 {
		evaluations++
		if ctx.Err() != nil {
			return penalty
		}
		lb, err := t.evaluate(ctx, t.space.Decode(x, baseAcc))
		if err != nil {
			slog.Debug("Candidate failed", "error", err)
			return penalty
		}
		return -lb
	}

	x, cost, err := t.optimizer.Run(score, Dim, 0, 1)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &TuneResult{
		Best:           config.FromLBFGS(t.space.Decode(x, baseAcc)),
		BestLowerBound: -cost,
		Baseline:       baseline,
		Evaluations:    evaluations,
		Elapsed:        time.Since(start),
	}
	if cost >= penalty {
		return nil, fmt.Errorf("no candidate completed a run")
	}
	if res.BestLowerBound < baseline {
		res.Best = t.base.Accelerator
		res.BestLowerBound = baseline
	}

	slog.Info("Tuning complete",
		"evaluations", res.Evaluations,
		"elapsed", res.Elapsed,
		"baseline", res.Baseline,
		"best_lower_bound", res.BestLowerBound,
		"initial_step_size", res.Best.InitialStepSize,
		"required_relative_increase", res.Best.RequiredRelativeIncrease,
	)
	return res, nil
}
