// Package decomp implements a Lagrangean decomposition of small Boolean
// constraint blocks. Each (constraint, variable) incidence is a layer carrying
// a share of the variable's cost; the solver raises the dual lower bound by
// min-marginal averaging and satisfies the contract of lbfgs.Solver.
package decomp

import (
	"encoding/json"
	"io"
	"math"

	"github.com/pkg/errors"
)

// Kind names the relation a constraint imposes on its scope.
type Kind string

const (
	AtMostOne   Kind = "at_most_one"
	ExactlyOne  Kind = "exactly_one"
	AtLeastOne  Kind = "at_least_one"
	Implication Kind = "implication" // scope[0] implies scope[1]
)

// MaxScope bounds the scope of a constraint; feasible assignments are enumerated.
const MaxScope = 16

// Kinds returns all supported constraint kinds.
func Kinds() []Kind {
	return []Kind{AtMostOne, ExactlyOne, AtLeastOne, Implication}
}

// Constraint restricts the joint assignment of the variables in Scope.
type Constraint struct {
	Kind  Kind  `json:"kind" yaml:"kind"`
	Scope []int `json:"scope" yaml:"scope"`
}

// Instance is a Boolean minimization problem: minimize Σ Costs[i]·x[i]
// subject to all constraints.
type Instance struct {
	NumVars     int          `json:"numVars"`
	Costs       []float64    `json:"costs"`
	Constraints []Constraint `json:"constraints"`
}

// InstanceError reports a malformed instance.
type InstanceError struct {
	Field   string
	Message string
}

func (e *InstanceError) Error() string {
	return "invalid instance: " + e.Field + ": " + e.Message
}

func instanceError(field, format string, args ...any) error {
	return errors.WithStack(&InstanceError{Field: field, Message: errors.Errorf(format, args...).Error()})
}

// Validate checks that the instance is well formed.
func (in *Instance) Validate() error {
	if in.NumVars <= 0 {
		return instanceError("numVars", "must be positive, got %d", in.NumVars)
	}
	if len(in.Costs) != in.NumVars {
		return instanceError("costs", "length %d does not match %d variables", len(in.Costs), in.NumVars)
	}
	for i, c := range in.Costs {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return instanceError("costs", "cost of variable %d is not finite", i)
		}
	}
	if len(in.Constraints) == 0 {
		return instanceError("constraints", "at least one constraint is required")
	}
	for ci, c := range in.Constraints {
		if err := c.validate(in.NumVars); err != nil {
			return errors.Wrapf(err, "constraint %d", ci)
		}
	}
	return nil
}

func (c Constraint) validate(numVars int) error {
	switch c.Kind {
	case AtMostOne, ExactlyOne, AtLeastOne:
		if len(c.Scope) < 2 || len(c.Scope) > MaxScope {
			return instanceError("scope", "%s needs 2 to %d variables, got %d", c.Kind, MaxScope, len(c.Scope))
		}
	case Implication:
		if len(c.Scope) != 2 {
			return instanceError("scope", "implication needs exactly 2 variables, got %d", len(c.Scope))
		}
	default:
		return instanceError("kind", "unknown constraint kind %q", c.Kind)
	}

	seen := make(map[int]bool, len(c.Scope))
	for _, v := range c.Scope {
		if v < 0 || v >= numVars {
			return instanceError("scope", "variable %d out of range [0, %d)", v, numVars)
		}
		if seen[v] {
			return instanceError("scope", "variable %d listed twice", v)
		}
		seen[v] = true
	}
	return nil
}

// feasible enumerates the assignments of the scope allowed by the constraint
// as bit masks, bit j standing for Scope[j], in increasing order.
func (c Constraint) feasible() []uint32 {
	k := len(c.Scope)
	var out []uint32
	for a := uint32(0); a < 1<<k; a++ {
		if c.allows(a) {
			out = append(out, a)
		}
	}
	return out
}

func (c Constraint) allows(a uint32) bool {
	ones := 0
	for x := a; x != 0; x &= x - 1 {
		ones++
	}
	switch c.Kind {
	case AtMostOne:
		return ones <= 1
	case ExactlyOne:
		return ones == 1
	case AtLeastOne:
		return ones >= 1
	case Implication:
		return a&1 == 0 || a&2 != 0
	}
	return false
}

// ReadInstance decodes a JSON instance and validates it.
func ReadInstance(r io.Reader) (*Instance, error) {
	var in Instance
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, errors.Wrap(err, "decode instance")
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return &in, nil
}

// WriteInstance encodes the instance as indented JSON.
func WriteInstance(w io.Writer, in *Instance) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(in), "encode instance")
}

// Evaluate returns the objective of assignment x and whether x satisfies
// every constraint.
func (in *Instance) Evaluate(x []bool) (float64, bool) {
	var obj float64
	for i, on := range x {
		if on {
			obj += in.Costs[i]
		}
	}
	for _, c := range in.Constraints {
		var a uint32
		for j, v := range c.Scope {
			if x[v] {
				a |= 1 << j
			}
		}
		if !c.allows(a) {
			return obj, false
		}
	}
	return obj, true
}
