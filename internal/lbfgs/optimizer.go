package lbfgs

import (
	"log/slog"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/cwbudde/dualaccel/internal/vector"
)

// minElapsed keeps rate samples finite for iterations below timer resolution.
const minElapsed = 1e-9

// Optimizer drives a base solver and interleaves L-BFGS steps with its
// iterations. It is not safe for concurrent use; each instance owns its state.
type Optimizer[T vector.Real] struct {
	solver Solver[T]
	ops    vector.Ops[T]
	cfg    Config
	log    *slog.Logger

	history      *History[T]
	stepSize     float64
	unsuccessful int
	lbHistory    []float64

	stats      MethodStats
	lastMethod Method
	lastSearch SearchResult
	iterations int
	flushes    int
}

// Stats is a snapshot of the optimizer state.
type Stats struct {
	Iterations          int          `json:"iterations"`
	HistoryLen          int          `json:"historyLen"`
	StepSize            float64      `json:"stepSize"`
	UnsuccessfulUpdates int          `json:"unsuccessfulUpdates"`
	AccelerationReady   bool         `json:"accelerationReady"`
	Methods             MethodStats  `json:"methods"`
	LastMethod          Method       `json:"lastMethod"`
	LastSearch          SearchResult `json:"lastSearch"`
	Flushes             int          `json:"flushes"`
	LowerBounds         int          `json:"lowerBounds"`
}

// New wraps solver with an accelerator. The solver's current iterate becomes
// the first snapshot of the curvature history.
func New[T vector.Real](solver Solver[T], ops vector.Ops[T], cfg Config) (*Optimizer[T], error) {
	if solver == nil {
		return nil, invalidArgument("solver", nil, "required")
	}
	if ops == nil {
		return nil, invalidArgument("ops", nil, "required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if n := solver.NumLayers(); n <= 0 {
		return nil, invalidArgument("solver.NumLayers", n, "outside allowed range (0, Inf)")
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "lbfgs")

	o := &Optimizer[T]{
		solver:   solver,
		ops:      ops,
		cfg:      cfg,
		log:      log,
		history:  NewHistory(ops, cfg.HistorySize),
		stepSize: cfg.InitialStepSize,
	}
	o.capture()

	log.Info("initialized accelerator",
		"history_size", cfg.HistorySize,
		"initial_step_size", cfg.InitialStepSize,
		"required_relative_increase", cfg.RequiredRelativeIncrease,
		"step_size_decrease_factor", cfg.StepSizeDecreaseFactor,
		"step_size_increase_factor", cfg.StepSizeIncreaseFactor,
		"backend", ops.Backend(),
		"layers", solver.NumLayers(),
	)
	return o, nil
}

// MustNew is like New but panics on invalid arguments.
func MustNew[T vector.Real](solver Solver[T], ops vector.Ops[T], cfg Config) *Optimizer[T] {
	o, err := New(solver, ops, cfg)
	if err != nil {
		panic(err)
	}
	return o
}

// Iteration runs one outer iteration: base or accelerated, followed by
// capturing the new iterate and recording the lower bound. The returned error
// is non-nil only for invariant violations in strict mode; the iteration has
// completed and the state is consistent either way.
func (o *Optimizer[T]) Iteration() error {
	if len(o.lbHistory) == 0 {
		o.lbHistory = append(o.lbHistory, o.solver.LowerBound())
	}

	var err error
	method := o.chooseMethod()
	switch method {
	case MethodAccelerated:
		err = o.acceleratedIteration()
	default:
		o.baseIteration()
	}
	o.lastMethod = method

	o.capture()
	o.lbHistory = append(o.lbHistory, o.solver.LowerBound())
	o.iterations++
	return err
}

// UpdateCosts flushes the curvature history, which is invalid once the costs
// move, and forwards the cost change to the solver.
func (o *Optimizer[T]) UpdateCosts(delta0, delta1 []float64) error {
	o.Flush()
	return o.solver.UpdateCosts(delta0, delta1)
}

// Flush clears the curvature history and the unsuccessful update count. The
// step size and lower bound history are kept.
func (o *Optimizer[T]) Flush() {
	o.history.Flush()
	o.unsuccessful = 0
	o.flushes++
	o.log.Debug("flushed curvature history")
}

// AccelerationReady reports whether the history is full and acceleration has
// not been switched off by repeated unsuccessful searches.
func (o *Optimizer[T]) AccelerationReady() bool {
	return o.history.Full() && o.unsuccessful <= maxUnsuccessfulUpdates
}

// LowerBound returns the solver's current lower bound.
func (o *Optimizer[T]) LowerBound() float64 { return o.solver.LowerBound() }

// LowerBoundHistory returns a copy of the lower bounds recorded so far.
func (o *Optimizer[T]) LowerBoundHistory() []float64 {
	return append([]float64(nil), o.lbHistory...)
}

// History exposes the curvature history for inspection.
func (o *Optimizer[T]) History() *History[T] { return o.history }

// Solver returns the wrapped solver.
func (o *Optimizer[T]) Solver() Solver[T] { return o.solver }

// Config returns the configuration the optimizer was built with.
func (o *Optimizer[T]) Config() Config { return o.cfg }

// Stats returns a snapshot of the optimizer state.
func (o *Optimizer[T]) Stats() Stats {
	return Stats{
		Iterations:          o.iterations,
		HistoryLen:          o.history.Len(),
		StepSize:            o.stepSize,
		UnsuccessfulUpdates: o.unsuccessful,
		AccelerationReady:   o.AccelerationReady(),
		Methods:             o.stats,
		LastMethod:          o.lastMethod,
		LastSearch:          o.lastSearch,
		Flushes:             o.flushes,
		LowerBounds:         len(o.lbHistory),
	}
}

func (o *Optimizer[T]) chooseMethod() Method {
	if o.cfg.BaseOnly {
		return MethodBase
	}
	method, reason := ChooseMethod(o.AccelerationReady(), o.stats)
	o.log.Debug("selected method", "method", method, "reason", reason,
		"base_rate", o.stats.BaseRate, "accelerated_rate", o.stats.AcceleratedRate)
	return method
}

func (o *Optimizer[T]) capture() {
	n := o.solver.NumLayers()
	x, g := o.solver.CostVector(), o.solver.GradientVector()
	if len(x) != n || len(g) != n {
		panic("lbfgs: solver vectors do not match NumLayers")
	}
	o.history.Capture(x, g)
}

func (o *Optimizer[T]) baseIteration() {
	lbBefore := o.solver.LowerBound()
	start := time.Now()
	o.solver.Iteration()
	elapsed := time.Since(start)
	lbAfter := o.solver.LowerBound()

	o.stats.BaseRate = (lbAfter - lbBefore) / math.Max(elapsed.Seconds(), minElapsed)
	o.stats.BaseIterations++
	o.log.Debug("base iteration", "lower_bound", lbAfter, "increase_per_second", o.stats.BaseRate)
}

func (o *Optimizer[T]) acceleratedIteration() error {
	lbBefore := o.solver.LowerBound()
	start := time.Now()

	// The raw direction may leave the feasible set.
	direction := twoLoopDirection(o.ops, o.history.Entries(), o.solver.GradientVector())
	o.solver.MakeDualFeasible(direction)

	result, err := o.searchStepSize(direction)
	o.lastSearch = result
	o.solver.Iteration()

	elapsed := time.Since(start)
	lbAfter := o.solver.LowerBound()

	if lbAfter < lbBefore-lowerBoundSlack {
		if o.cfg.StrictChecks && err == nil {
			err = errors.Wrapf(ErrLowerBoundRegressed, "iteration %d: %g -> %g", o.iterations, lbBefore, lbAfter)
		}
		o.log.Warn("lower bound regressed after accelerated step", "before", lbBefore, "after", lbAfter)
	}

	o.stats.AcceleratedRate = (lbAfter - lbBefore) / math.Max(elapsed.Seconds(), minElapsed)
	o.stats.AcceleratedIterations++
	o.log.Debug("accelerated iteration",
		"lower_bound_before", lbBefore,
		"lower_bound", lbAfter,
		"increase_per_second", o.stats.AcceleratedRate,
		"search", result.Outcome,
		"trials", result.Trials,
	)
	return err
}
