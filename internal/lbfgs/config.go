package lbfgs

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/pkg/errors"
)

const (
	// curvatureEpsilon is the smallest ⟨s, y⟩ a pair may carry to enter the history.
	curvatureEpsilon = 1e-8
	// hessianEpsilon guards the initial Hessian scale γ = ⟨s, y⟩ / (ε + ⟨y, y⟩).
	hessianEpsilon = 1e-8
	// progressEpsilon guards the denominator of the relative lower bound increase.
	progressEpsilon = 1e-9
	// lowerBoundSlack is the numerical tolerance on lower bound regressions.
	lowerBoundSlack = 1e-6

	// maxUnsuccessfulUpdates is the number of failed searches tolerated before
	// acceleration is switched off.
	maxUnsuccessfulUpdates = 5
	// maxSearchTrials bounds the number of step sizes tried in one search.
	maxSearchTrials = 7
)

// Config holds the accelerator parameters.
type Config struct {
	// HistorySize is the number m of curvature pairs kept. Must be > 1.
	HistorySize int `json:"historySize" yaml:"historySize"`

	// InitialStepSize is the first trial scale of the step size search. Must be > 0.
	InitialStepSize float64 `json:"initialStepSize" yaml:"initialStepSize"`

	// RequiredRelativeIncrease is the ratio of the lower bound gain of a trial step
	// to the recent base solver gain that ends a search successfully. Must be > 0.
	RequiredRelativeIncrease float64 `json:"requiredRelativeIncrease" yaml:"requiredRelativeIncrease"`

	// StepSizeDecreaseFactor shrinks the step after a non-improving trial. In (0, 1).
	StepSizeDecreaseFactor float64 `json:"stepSizeDecreaseFactor" yaml:"stepSizeDecreaseFactor"`

	// StepSizeIncreaseFactor grows the step after an insufficient trial. Must be > 1.
	StepSizeIncreaseFactor float64 `json:"stepSizeIncreaseFactor" yaml:"stepSizeIncreaseFactor"`

	// BaseOnly disables accelerated iterations. Curvature pairs are still collected.
	BaseOnly bool `json:"baseOnly,omitempty" yaml:"baseOnly,omitempty"`

	// StrictChecks turns invariant violations (lower bound regression after an
	// accelerated step, decreasing lower bound history) into errors instead of warnings.
	StrictChecks bool `json:"strictChecks,omitempty" yaml:"strictChecks,omitempty"`

	// Logger receives accelerator diagnostics. Defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

// DefaultConfig returns the parameters the accelerator ships with.
func DefaultConfig() Config {
	return Config{
		HistorySize:              5,
		InitialStepSize:          1e-6,
		RequiredRelativeIncrease: 1e-6,
		StepSizeDecreaseFactor:   0.8,
		StepSizeIncreaseFactor:   1.1,
	}
}

// Validate checks the construction preconditions.
func (c Config) Validate() error {
	switch {
	case c.HistorySize <= 1:
		return invalidArgument("HistorySize", c.HistorySize, "outside allowed range (1, Inf)")
	case !(c.InitialStepSize > 0) || math.IsInf(c.InitialStepSize, 1):
		return invalidArgument("InitialStepSize", c.InitialStepSize, "outside allowed range (0, Inf)")
	case !(c.StepSizeDecreaseFactor > 0 && c.StepSizeDecreaseFactor < 1):
		return invalidArgument("StepSizeDecreaseFactor", c.StepSizeDecreaseFactor, "outside allowed range (0, 1)")
	case !(c.StepSizeIncreaseFactor > 1) || math.IsInf(c.StepSizeIncreaseFactor, 1):
		return invalidArgument("StepSizeIncreaseFactor", c.StepSizeIncreaseFactor, "outside allowed range (1, Inf)")
	case !(c.RequiredRelativeIncrease > 0) || math.IsInf(c.RequiredRelativeIncrease, 1):
		return invalidArgument("RequiredRelativeIncrease", c.RequiredRelativeIncrease, "outside allowed range (0, Inf)")
	}
	return nil
}

// InvalidArgumentError reports a configuration value outside its allowed range.
type InvalidArgumentError struct {
	Name    string
	Value   any
	Message string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %v: %s", e.Name, e.Value, e.Message)
}

func invalidArgument(name string, value any, msg string) error {
	return errors.WithStack(&InvalidArgumentError{Name: name, Value: value, Message: msg})
}

var (
	// ErrLowerBoundRegressed is returned in strict mode when an accelerated
	// iteration lowered the bound by more than the numerical slack.
	ErrLowerBoundRegressed = errors.New("lower bound regressed after accelerated step")

	// ErrInconsistentHistory is returned in strict mode when the recorded lower
	// bound history decreases, or is too short to judge progress against.
	ErrInconsistentHistory = errors.New("inconsistent lower bound history")
)
