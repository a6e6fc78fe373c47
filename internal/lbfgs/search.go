package lbfgs

import (
	"github.com/pkg/errors"

	"github.com/cwbudde/dualaccel/internal/vector"
)

// SearchOutcome is the way a step size search ended.
type SearchOutcome int

const (
	// SearchSkipped means no trial was made.
	SearchSkipped SearchOutcome = iota
	// SearchAccepted means a trial reached the required relative increase.
	SearchAccepted
	// SearchAcceptedBest means the trial budget ran out and the best trial was kept.
	SearchAcceptedBest
	// SearchRolledBack means no trial was good enough and the solver state was restored.
	SearchRolledBack
)

func (o SearchOutcome) String() string {
	switch o {
	case SearchAccepted:
		return "accepted"
	case SearchAcceptedBest:
		return "accepted-best"
	case SearchRolledBack:
		return "rolled-back"
	default:
		return "skipped"
	}
}

// SearchResult summarizes one step size search.
type SearchResult struct {
	Trials  int           `json:"trials"`
	Scale   float64       `json:"scale"` // net scale left applied to the direction
	Ratio   float64       `json:"ratio"` // relative increase of the kept scale
	Outcome SearchOutcome `json:"outcome"`
}

// stepApplier applies a fixed direction to the solver at varying scales. Each
// call moves the solver by the difference to the previously applied scale,
// so apply(0) restores the state the search started from.
type stepApplier[T vector.Real] struct {
	solver    Solver[T]
	direction []T
	applied   float64
}

func (a *stepApplier[T]) apply(scale float64) {
	if net := scale - a.applied; net != 0 {
		a.solver.GradientStep(a.direction, net)
	}
	a.applied = scale
}

// pastIncrease returns the lower bound gain the history recorded m-1
// iterations ago, the baseline trial steps are judged against.
func (o *Optimizer[T]) pastIncrease() (float64, error) {
	m, n := o.cfg.HistorySize, len(o.lbHistory)
	if n < m {
		return 0, errors.Wrapf(ErrInconsistentHistory, "%d lower bounds recorded, %d required", n, m)
	}
	past := o.lbHistory[n-m+1] - o.lbHistory[n-m]
	if past >= 0 {
		return past, nil
	}
	if past < -lowerBoundSlack && o.cfg.StrictChecks {
		return 0, errors.Wrapf(ErrInconsistentHistory, "lower bound decreased by %g", -past)
	}
	if past < -lowerBoundSlack {
		o.log.Warn("lower bound history decreased", "decrease", -past)
	}
	return 0, nil
}

// searchStepSize applies direction to the solver with an adaptively chosen
// scale. At most maxSearchTrials scales are evaluated; the search never leaves
// a partially applied step behind.
func (o *Optimizer[T]) searchStepSize(direction []T) (SearchResult, error) {
	past, err := o.pastIncrease()
	if err != nil {
		return SearchResult{Outcome: SearchSkipped}, err
	}

	lbPre := o.solver.LowerBound()
	required := o.cfg.RequiredRelativeIncrease
	applier := &stepApplier[T]{solver: o.solver, direction: direction}

	bestScale, bestRatio := 0.0, 0.0
	for trial := 1; ; trial++ {
		applier.apply(o.stepSize)

		increase := o.solver.LowerBound() - lbPre
		ratio := increase / (progressEpsilon + past)
		o.log.Debug("step size trial",
			"trial", trial,
			"step_size", o.stepSize,
			"increase", increase,
			"past_increase", past,
			"ratio", ratio,
		)

		if bestRatio < ratio {
			bestRatio, bestScale = ratio, o.stepSize
		}

		if ratio <= 0 {
			o.stepSize *= o.cfg.StepSizeDecreaseFactor
		} else if ratio < required {
			o.stepSize *= o.cfg.StepSizeIncreaseFactor
		}

		if trial == maxSearchTrials {
			if bestRatio > required/10 {
				applier.apply(bestScale)
				return SearchResult{Trials: trial, Scale: bestScale, Ratio: bestRatio, Outcome: SearchAcceptedBest}, nil
			}
			applier.apply(0)
			o.unsuccessful++
			o.log.Warn("step size search unsuccessful",
				"best_ratio", bestRatio,
				"unsuccessful_updates", o.unsuccessful,
			)
			return SearchResult{Trials: trial, Scale: 0, Ratio: bestRatio, Outcome: SearchRolledBack}, nil
		}

		if ratio >= required {
			scale := applier.applied
			if trial == 1 && o.unsuccessful == 0 {
				o.stepSize *= o.cfg.StepSizeIncreaseFactor
			}
			o.unsuccessful = 0
			return SearchResult{Trials: trial, Scale: scale, Ratio: ratio, Outcome: SearchAccepted}, nil
		}
	}
}

// MarshalText encodes the outcome by name.
func (o SearchOutcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }
