package solve

import (
	"log/slog"
	"math"

	"github.com/cwbudde/dualaccel/internal/config"
)

// ConvergenceConfig defines when a run counts as stagnated.
type ConvergenceConfig struct {
	// Enabled controls whether convergence detection is active
	Enabled bool

	// Patience is the number of iterations without significant gain before stopping
	Patience int

	// Threshold is the minimum relative lower bound gain required to count as progress.
	// Relative gain = (lb - lastSignificant) / max(|lastSignificant|, 1)
	Threshold float64
}

// ConvergenceFromRun derives stagnation detection from the run section.
// Patience 0 disables it.
func ConvergenceFromRun(r config.RunConfig) ConvergenceConfig {
	return ConvergenceConfig{
		Enabled:   r.Patience > 0,
		Patience:  r.Patience,
		Threshold: r.Threshold,
	}
}

// ConvergenceTracker follows the lower bound of a run and detects stagnation.
type ConvergenceTracker struct {
	config          ConvergenceConfig
	history         []float64
	best            float64 // best lower bound ever seen
	lastSignificant float64 // last bound that was a significant gain
	staleCount      int     // iterations without significant gain
}

// NewConvergenceTracker creates a tracker with the given config.
func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	return &ConvergenceTracker{
		config:          config,
		best:            math.Inf(-1),
		lastSignificant: math.Inf(-1),
	}
}

// Update records a lower bound and reports whether convergence is detected.
func (c *ConvergenceTracker) Update(lb float64) bool {
	if !c.config.Enabled {
		return false
	}

	c.history = append(c.history, lb)
	if lb > c.best {
		c.best = lb
	}

	if len(c.history) == 1 {
		c.lastSignificant = lb
		return false
	}

	gain := (lb - c.lastSignificant) / math.Max(math.Abs(c.lastSignificant), 1)
	if gain > c.config.Threshold {
		c.lastSignificant = lb
		c.staleCount = 0
		return false
	}

	c.staleCount++
	slog.Debug("No significant lower bound gain",
		"lower_bound", lb,
		"last_significant", c.lastSignificant,
		"relative_gain", gain,
		"stale_count", c.staleCount,
		"patience", c.config.Patience,
	)
	if c.staleCount >= c.config.Patience {
		slog.Info("Convergence detected - stopping early",
			"stale_count", c.staleCount,
			"patience", c.config.Patience,
			"best_lower_bound", c.best,
		)
		return true
	}
	return false
}

// Best returns the best lower bound seen so far.
func (c *ConvergenceTracker) Best() float64 {
	return c.best
}

// History returns a copy of the recorded lower bounds.
func (c *ConvergenceTracker) History() []float64 {
	return append([]float64{}, c.history...)
}

// StaleCount returns the current number of iterations without significant gain.
func (c *ConvergenceTracker) StaleCount() int {
	return c.staleCount
}

// Reset clears the tracker's state.
func (c *ConvergenceTracker) Reset() {
	c.history = nil
	c.best = math.Inf(-1)
	c.lastSignificant = math.Inf(-1)
	c.staleCount = 0
}
