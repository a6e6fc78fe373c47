package store

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/cwbudde/dualaccel/internal/config"
)

// JobConfig is the solve configuration a job ran with (checkpoint copy).
type JobConfig = config.Config

// Checkpoint is a saved dual state that a run can be resumed from.
//
// SAVED STATE:
//   - Costs: the dual vector, one entry per layer, in double precision
//   - LowerBound: the bound Costs attain
//   - Iteration: how many outer iterations produced it
//   - Config: instance, accelerator and run settings
//
// NOT SAVED:
//   - The curvature history and step size of the accelerator. A resumed run
//     collects pairs again and runs base iterations until the history is full.
//
// Because the dual vector alone fixes the lower bound, a resumed run starts
// exactly at the checkpointed bound.
type Checkpoint struct {
	// JobID is the unique identifier of the job
	JobID string `json:"jobId"`

	// Costs is the dual vector
	Costs []float64 `json:"costs"`

	// Layers is the number of layers of the instance, len(Costs)
	Layers int `json:"layers"`

	// LowerBound is the dual objective of Costs
	LowerBound float64 `json:"lowerBound"`

	// InitialLowerBound is the bound of the initial dual split
	InitialLowerBound float64 `json:"initialLowerBound"`

	// Iteration is the outer iteration count when the checkpoint was taken
	Iteration int `json:"iteration"`

	// Timestamp records when this checkpoint was created
	Timestamp time.Time `json:"timestamp"`

	// Config is checked against the resume configuration
	Config JobConfig `json:"config"`
}

// CheckpointInfo is the checkpoint metadata without the dual vector.
type CheckpointInfo struct {
	JobID       string           `json:"jobId"`
	LowerBound  float64          `json:"lowerBound"`
	Iteration   int              `json:"iteration"`
	Timestamp   time.Time        `json:"timestamp"`
	Layers      int              `json:"layers"`
	Vars        int              `json:"vars,omitempty"` // generated instances only
	Constraints int              `json:"constraints,omitempty"`
	Instance    string           `json:"instance,omitempty"` // instance file, if any
	Precision   config.Precision `json:"precision"`
}

// NewCheckpoint creates a checkpoint from run state.
func NewCheckpoint(jobID string, costs []float64, lowerBound, initialLowerBound float64, iteration int, cfg JobConfig) *Checkpoint {
	return &Checkpoint{
		JobID:             jobID,
		Costs:             costs,
		Layers:            len(costs),
		LowerBound:        lowerBound,
		InitialLowerBound: initialLowerBound,
		Iteration:         iteration,
		Timestamp:         time.Now(),
		Config:            cfg,
	}
}

// ToInfo strips the dual vector.
func (c *Checkpoint) ToInfo() CheckpointInfo {
	info := CheckpointInfo{
		JobID:      c.JobID,
		LowerBound: c.LowerBound,
		Iteration:  c.Iteration,
		Timestamp:  c.Timestamp,
		Layers:     c.Layers,
		Instance:   c.Config.Instance.Path,
		Precision:  c.Config.Run.Precision,
	}
	if info.Instance == "" {
		info.Vars = c.Config.Instance.Generate.NumVars
		info.Constraints = c.Config.Instance.Generate.NumConstraints
	}
	return info
}

// Validate checks if the checkpoint has valid data.
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if len(c.Costs) == 0 {
		return &ValidationError{Field: "Costs", Reason: "cannot be empty"}
	}
	if len(c.Costs) != c.Layers {
		return &ValidationError{
			Field:  "Costs",
			Reason: fmt.Sprintf("length mismatch: expected %d layers, got %d", c.Layers, len(c.Costs)),
		}
	}
	if slices.ContainsFunc(c.Costs, notFinite) {
		return &ValidationError{Field: "Costs", Reason: "must be finite"}
	}
	if notFinite(c.LowerBound) {
		return &ValidationError{Field: "LowerBound", Reason: "must be finite"}
	}
	if c.Iteration < 0 {
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if err := c.Config.Validate(); err != nil {
		return &ValidationError{Field: "Config", Reason: err.Error()}
	}
	return nil
}

func notFinite(x float64) bool { return math.IsNaN(x) || math.IsInf(x, 0) }

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks whether the checkpoint can be resumed with cfg: the
// instance and the precision must match. Accelerator and run settings may change.
func (c *Checkpoint) IsCompatible(cfg JobConfig) error {
	have, want := c.Config.Instance, cfg.Instance
	if have.Path != want.Path {
		return &CompatibilityError{Field: "Instance.Path", Expected: have.Path, Actual: want.Path}
	}
	if c.Config.Run.Precision != cfg.Run.Precision {
		return &CompatibilityError{
			Field:    "Run.Precision",
			Expected: string(c.Config.Run.Precision),
			Actual:   string(cfg.Run.Precision),
		}
	}
	if have.Path != "" {
		return nil
	}

	g, h := have.Generate, want.Generate
	fields := []struct {
		name     string
		expected any
		actual   any
	}{
		{"NumVars", g.NumVars, h.NumVars},
		{"NumConstraints", g.NumConstraints, h.NumConstraints},
		{"MinScope", g.MinScope, h.MinScope},
		{"MaxScope", g.MaxScope, h.MaxScope},
		{"CostScale", g.CostScale, h.CostScale},
		{"Seed", g.Seed, h.Seed},
		{"Kinds", g.Kinds, h.Kinds},
	}
	for _, f := range fields {
		if fmt.Sprint(f.expected) != fmt.Sprint(f.actual) {
			return &CompatibilityError{
				Field:    "Instance.Generate." + f.name,
				Expected: fmt.Sprint(f.expected),
				Actual:   fmt.Sprint(f.actual),
			}
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
