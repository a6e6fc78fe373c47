// Package config loads the YAML configuration of a solve run.
package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/dualaccel/internal/decomp"
	"github.com/cwbudde/dualaccel/internal/lbfgs"
	"github.com/cwbudde/dualaccel/internal/vector"
)

// Precision names the floating point type the dual vector is stored in.
type Precision string

const (
	Float64 Precision = "float64"
	Float32 Precision = "float32"
)

// Config is the complete description of a solve run.
type Config struct {
	Instance    InstanceConfig    `yaml:"instance" json:"instance"`
	Accelerator AcceleratorConfig `yaml:"accelerator" json:"accelerator"`
	Run         RunConfig         `yaml:"run" json:"run"`
}

// InstanceConfig selects the problem: a JSON instance file when Path is set,
// a generated instance otherwise.
type InstanceConfig struct {
	Path     string                 `yaml:"path,omitempty" json:"path,omitempty"`
	Generate decomp.GeneratorConfig `yaml:"generate" json:"generate"`
}

// AcceleratorConfig mirrors lbfgs.Config without the runtime-only fields.
type AcceleratorConfig struct {
	HistorySize              int     `yaml:"historySize" json:"historySize"`
	InitialStepSize          float64 `yaml:"initialStepSize" json:"initialStepSize"`
	RequiredRelativeIncrease float64 `yaml:"requiredRelativeIncrease" json:"requiredRelativeIncrease"`
	StepSizeDecreaseFactor   float64 `yaml:"stepSizeDecreaseFactor" json:"stepSizeDecreaseFactor"`
	StepSizeIncreaseFactor   float64 `yaml:"stepSizeIncreaseFactor" json:"stepSizeIncreaseFactor"`
	BaseOnly                 bool    `yaml:"baseOnly" json:"baseOnly"`
	StrictChecks             bool    `yaml:"strictChecks" json:"strictChecks"`
}

// RunConfig controls the outer loop.
type RunConfig struct {
	MaxIterations int       `yaml:"maxIterations" json:"maxIterations"`
	Patience      int       `yaml:"patience" json:"patience"`   // 0 disables early stopping
	Threshold     float64   `yaml:"threshold" json:"threshold"` // relative lower bound gain counted as progress
	Backend       string    `yaml:"backend" json:"backend"`
	Precision     Precision `yaml:"precision" json:"precision"`
	// CheckpointInterval saves a checkpoint every N seconds in server jobs (0 = disabled).
	CheckpointInterval int `yaml:"checkpointInterval,omitempty" json:"checkpointInterval,omitempty"`
	// CostUpdates perturbs the primal costs during the run.
	CostUpdates []CostUpdate `yaml:"costUpdates,omitempty" json:"costUpdates,omitempty"`
}

// CostUpdate adds random deltas to the 1-costs of all variables right before
// the given iteration. Iterations count across resumes.
type CostUpdate struct {
	Iteration int     `yaml:"iteration" json:"iteration"`
	Scale     float64 `yaml:"scale" json:"scale"`
	Seed      int64   `yaml:"seed" json:"seed"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	acc := lbfgs.DefaultConfig()
	return Config{
		Instance: InstanceConfig{Generate: decomp.DefaultGeneratorConfig()},
		Accelerator: AcceleratorConfig{
			HistorySize:              acc.HistorySize,
			InitialStepSize:          acc.InitialStepSize,
			RequiredRelativeIncrease: acc.RequiredRelativeIncrease,
			StepSizeDecreaseFactor:   acc.StepSizeDecreaseFactor,
			StepSizeIncreaseFactor:   acc.StepSizeIncreaseFactor,
		},
		Run: RunConfig{
			MaxIterations: 500,
			Patience:      20,
			Threshold:     1e-9,
			Backend:       string(vector.BackendBLAS),
			Precision:     Float64,
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Marshal encodes the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks every section.
func (c Config) Validate() error {
	if c.Instance.Path == "" {
		if err := c.Instance.Generate.Validate(); err != nil {
			return fmt.Errorf("instance: %w", err)
		}
	}
	if err := c.Accelerator.ToLBFGS().Validate(); err != nil {
		return fmt.Errorf("accelerator: %w", err)
	}
	return c.Run.Validate()
}

// Validate checks the run parameters.
func (r RunConfig) Validate() error {
	if r.MaxIterations <= 0 {
		return fmt.Errorf("run: maxIterations must be positive, got %d", r.MaxIterations)
	}
	if r.Patience < 0 {
		return fmt.Errorf("run: patience cannot be negative, got %d", r.Patience)
	}
	if r.Threshold < 0 || math.IsNaN(r.Threshold) {
		return fmt.Errorf("run: threshold cannot be negative, got %g", r.Threshold)
	}
	if _, err := vector.NewOps[float64](r.Backend); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if r.Precision != Float64 && r.Precision != Float32 {
		return fmt.Errorf("run: unknown precision %q (want float64 or float32)", r.Precision)
	}
	if r.CheckpointInterval < 0 {
		return fmt.Errorf("run: checkpointInterval cannot be negative, got %d", r.CheckpointInterval)
	}
	for i, u := range r.CostUpdates {
		if u.Iteration <= 0 {
			return fmt.Errorf("run: costUpdates[%d]: iteration must be positive, got %d", i, u.Iteration)
		}
		if u.Scale < 0 || math.IsNaN(u.Scale) || math.IsInf(u.Scale, 0) {
			return fmt.Errorf("run: costUpdates[%d]: scale must be finite and non-negative, got %g", i, u.Scale)
		}
	}
	return nil
}

// ToLBFGS converts the section to the accelerator configuration.
func (a AcceleratorConfig) ToLBFGS() lbfgs.Config {
	return lbfgs.Config{
		HistorySize:              a.HistorySize,
		InitialStepSize:          a.InitialStepSize,
		RequiredRelativeIncrease: a.RequiredRelativeIncrease,
		StepSizeDecreaseFactor:   a.StepSizeDecreaseFactor,
		StepSizeIncreaseFactor:   a.StepSizeIncreaseFactor,
		BaseOnly:                 a.BaseOnly,
		StrictChecks:             a.StrictChecks,
	}
}

// FromLBFGS converts an accelerator configuration back to its file form.
func FromLBFGS(c lbfgs.Config) AcceleratorConfig {
	return AcceleratorConfig{
		HistorySize:              c.HistorySize,
		InitialStepSize:          c.InitialStepSize,
		RequiredRelativeIncrease: c.RequiredRelativeIncrease,
		StepSizeDecreaseFactor:   c.StepSizeDecreaseFactor,
		StepSizeIncreaseFactor:   c.StepSizeIncreaseFactor,
		BaseOnly:                 c.BaseOnly,
		StrictChecks:             c.StrictChecks,
	}
}
