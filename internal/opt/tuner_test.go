package opt

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/cwbudde/dualaccel/internal/config"
	"github.com/cwbudde/dualaccel/internal/decomp"
	"github.com/cwbudde/dualaccel/internal/lbfgs"
)

func tinyConfig() config.Config {
	cfg := config.Default()
	cfg.Instance.Generate = decomp.GeneratorConfig{
		NumVars: 30, NumConstraints: 20, MinScope: 2, MaxScope: 4, CostScale: 1, Seed: 11,
	}
	cfg.Run.MaxIterations = 15
	return cfg
}

// gridOptimizer evaluates a fixed list of points and returns the cheapest.
type gridOptimizer struct {
	points [][]float64
	err    error
}

func (g *gridOptimizer) Run(eval func([]float64) float64, dim int, lower, upper float64) ([]float64, float64, error) {
	if g.err != nil {
		return nil, 0, g.err
	}
	var best []float64
	bestCost := math.Inf(1)
	for _, p := range g.points {
		if len(p) != dim {
			return nil, 0, errors.New("dimension mismatch")
		}
		if c := eval(p); c < bestCost {
			best, bestCost = p, c
		}
	}
	return best, bestCost, nil
}

func TestSpaceDecodeEndpoints(t *testing.T) {
	space := DefaultSpace()
	base := lbfgs.DefaultConfig()
	base.HistorySize = 7

	lo := space.Decode([]float64{0, 0, 0, 0}, base)
	if math.Abs(lo.InitialStepSize-1e-8) > 1e-20 {
		t.Errorf("InitialStepSize = %g, want 1e-8", lo.InitialStepSize)
	}
	if lo.StepSizeDecreaseFactor != 0.3 || lo.StepSizeIncreaseFactor != 1.01 {
		t.Errorf("Unexpected factors %g, %g", lo.StepSizeDecreaseFactor, lo.StepSizeIncreaseFactor)
	}
	if lo.HistorySize != 7 {
		t.Errorf("HistorySize not taken from base: %d", lo.HistorySize)
	}

	hi := space.Decode([]float64{1, 1, 1, 1}, base)
	if math.Abs(hi.RequiredRelativeIncrease-1e-2) > 1e-14 {
		t.Errorf("RequiredRelativeIncrease = %g, want 1e-2", hi.RequiredRelativeIncrease)
	}
	if hi.StepSizeDecreaseFactor != 0.95 || hi.StepSizeIncreaseFactor != 2 {
		t.Errorf("Unexpected factors %g, %g", hi.StepSizeDecreaseFactor, hi.StepSizeIncreaseFactor)
	}

	for _, c := range []lbfgs.Config{lo, hi} {
		if err := c.Validate(); err != nil {
			t.Errorf("Decoded config invalid: %v", err)
		}
	}
}

func TestSpaceDecodeClamps(t *testing.T) {
	space := DefaultSpace()
	base := lbfgs.DefaultConfig()
	out := space.Decode([]float64{-3, 7, -0.5, 2}, base)
	in := space.Decode([]float64{0, 1, 0, 1}, base)
	if out != in {
		t.Errorf("Clamped decode differs: %+v vs %+v", out, in)
	}
}

func TestSpaceDecodePanicsOnWrongLength(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic")
		}
	}()
	DefaultSpace().Decode([]float64{0.5}, lbfgs.DefaultConfig())
}

func TestTunerNeverWorseThanBaseline(t *testing.T) {
	grid := &gridOptimizer{points: [][]float64{
		{0.5, 0.5, 0.5, 0.5},
		{0.9, 0.2, 0.8, 0.1},
		{0.1, 0.9, 0.1, 0.9},
	}}
	res, err := NewTuner(tinyConfig(), DefaultSpace(), grid).Tune(context.Background())
	if err != nil {
		t.Fatalf("Tune failed: %v", err)
	}
	if res.Evaluations != 3 {
		t.Errorf("Evaluations = %d, want 3", res.Evaluations)
	}
	if res.BestLowerBound < res.Baseline {
		t.Errorf("Best %g below baseline %g", res.BestLowerBound, res.Baseline)
	}
	if err := res.Best.ToLBFGS().Validate(); err != nil {
		t.Errorf("Best config invalid: %v", err)
	}
}

func TestTunerPropagatesOptimizerError(t *testing.T) {
	grid := &gridOptimizer{err: errors.New("boom")}
	if _, err := NewTuner(tinyConfig(), DefaultSpace(), grid).Tune(context.Background()); err == nil {
		t.Error("Expected optimizer error")
	}
}

func TestTunerRejectsInvalidConfig(t *testing.T) {
	cfg := tinyConfig()
	cfg.Run.MaxIterations = 0
	if _, err := NewTuner(cfg, DefaultSpace(), &gridOptimizer{}).Tune(context.Background()); err == nil {
		t.Error("Expected validation error")
	}
}

func TestTunerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	grid := &gridOptimizer{points: [][]float64{{0.5, 0.5, 0.5, 0.5}}}
	if _, err := NewTuner(tinyConfig(), DefaultSpace(), grid).Tune(ctx); err == nil {
		t.Error("Expected cancellation error")
	}
}

func TestTunerWithMayfly(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping mayfly tuning in short mode")
	}
	cfg := tinyConfig()
	cfg.Run.MaxIterations = 10
	res, err := NewTuner(cfg, DefaultSpace(), NewMayfly(2, MinPopulation, 3)).Tune(context.Background())
	if err != nil {
		t.Fatalf("Tune failed: %v", err)
	}
	if res.Evaluations == 0 {
		t.Error("Expected candidate evaluations")
	}
	if res.BestLowerBound < res.Baseline {
		t.Errorf("Best %g below baseline %g", res.BestLowerBound, res.Baseline)
	}
}
