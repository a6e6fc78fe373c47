package decomp

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/dualaccel/internal/lbfgs"
	"github.com/cwbudde/dualaccel/internal/vector"
)

const (
	// feasibilityTolerance is the per-variable residual SetCosts leaves as is.
	feasibilityTolerance = 1e-6
	// singleDriftTolerance bounds the residual SetCosts repairs for float32
	// duals, whose layer sums drift from the cost by rounding.
	singleDriftTolerance = 1e-2
)

// driftTolerance returns the largest relative residual SetCosts accepts for
// duals stored as T.
func driftTolerance[T vector.Real]() float64 {
	var zero T
	if _, ok := any(zero).(float32); ok {
		return singleDriftTolerance
	}
	return feasibilityTolerance
}

var _ lbfgs.Solver[float64] = (*Solver[float64])(nil)

type block struct {
	first    int // index of the layer of Scope[0]
	size     int
	feasible []uint32
}

// Solver holds the dual decomposition of an instance. Layer l of the dual
// vector carries the share of the variable at one scope position of one
// constraint. Dual feasibility means the layers of every variable sum to its
// cost.
type Solver[T vector.Real] struct {
	blocks    []block
	layerVar  []int
	varLayers [][]int

	costs   []T
	offset  float64
	varCost []float64 // current primal cost per variable
	free    []bool    // variables without layers

	scratch []float64
	margins []float64
}

// NewSolver builds the decomposition with each variable's cost split evenly
// over its layers.
func NewSolver[T vector.Real](in *Instance) (*Solver[T], error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	s := &Solver[T]{
		varLayers: make([][]int, in.NumVars),
		varCost:   append([]float64(nil), in.Costs...),
		free:      make([]bool, in.NumVars),
	}
	maxFeasible := 0
	for _, c := range in.Constraints {
		b := block{first: len(s.layerVar), size: len(c.Scope), feasible: c.feasible()}
		for _, v := range c.Scope {
			s.varLayers[v] = append(s.varLayers[v], len(s.layerVar))
			s.layerVar = append(s.layerVar, v)
		}
		maxFeasible = max(maxFeasible, len(b.feasible))
		s.blocks = append(s.blocks, b)
	}

	s.costs = make([]T, len(s.layerVar))
	for v, layers := range s.varLayers {
		if len(layers) == 0 {
			s.free[v] = true
			continue
		}
		share := T(in.Costs[v] / float64(len(layers)))
		for _, l := range layers {
			s.costs[l] = share
		}
	}
	s.scratch = make([]float64, maxFeasible)
	s.margins = make([]float64, 0, 8)
	return s, nil
}

// MustNewSolver is like NewSolver but panics on a malformed instance.
func MustNewSolver[T vector.Real](in *Instance) *Solver[T] {
	s, err := NewSolver[T](in)
	if err != nil {
		panic(err)
	}
	return s
}

// assignmentCosts writes the cost of every feasible assignment of b into the
// scratch buffer and returns it.
func (s *Solver[T]) assignmentCosts(b *block) []float64 {
	out := s.scratch[:len(b.feasible)]
	for i, a := range b.feasible {
		var sum float64
		for j := 0; j < b.size; j++ {
			if a&(1<<j) != 0 {
				sum += float64(s.costs[b.first+j])
			}
		}
		out[i] = sum
	}
	return out
}

// LowerBound returns the dual objective.
func (s *Solver[T]) LowerBound() float64 {
	lb := s.offset
	for i := range s.blocks {
		lb += floats.Min(s.assignmentCosts(&s.blocks[i]))
	}
	for v, free := range s.free {
		if free {
			lb += math.Min(0, s.varCost[v])
		}
	}
	return lb
}

// CostVector returns a copy of the dual vector.
func (s *Solver[T]) CostVector() []T { return vector.Clone(s.costs) }

// GradientVector returns, per layer, the value of the layer's variable in the
// first minimizing assignment of its block. It is a supergradient of the lower bound.
func (s *Solver[T]) GradientVector() []T {
	g := make([]T, len(s.costs))
	for i := range s.blocks {
		b := &s.blocks[i]
		a := b.feasible[floats.MinIdx(s.assignmentCosts(b))]
		for j := 0; j < b.size; j++ {
			if a&(1<<j) != 0 {
				g[b.first+j] = 1
			}
		}
	}
	return g
}

// NumLayers returns the length of the dual vector.
func (s *Solver[T]) NumLayers() int { return len(s.costs) }

// NumVars returns the number of primal variables.
func (s *Solver[T]) NumVars() int { return len(s.varLayers) }

// MakeDualFeasible removes the per-variable mean of d so that adding any
// multiple of d keeps every variable's layer sum.
func (s *Solver[T]) MakeDualFeasible(d []T) {
	if len(d) != len(s.costs) {
		panic("decomp: direction length mismatch")
	}
	for _, layers := range s.varLayers {
		if len(layers) == 0 {
			continue
		}
		var sum float64
		for _, l := range layers {
			sum += float64(d[l])
		}
		mean := T(sum / float64(len(layers)))
		for _, l := range layers {
			d[l] -= mean
		}
	}
}

// GradientStep adds scale·d to the dual vector.
func (s *Solver[T]) GradientStep(d []T, scale float64) {
	if len(d) != len(s.costs) {
		panic("decomp: direction length mismatch")
	}
	a := T(scale)
	for l := range s.costs {
		s.costs[l] += a * d[l]
	}
}

// minMarginal returns min over feasible assignments of b with position j set
// minus the minimum with position j cleared. Every scope position can take
// both values in every supported kind.
func (s *Solver[T]) minMarginal(b *block, j int) float64 {
	costs := s.assignmentCosts(b)
	on, off := math.Inf(1), math.Inf(1)
	for i, a := range b.feasible {
		if a&(1<<j) != 0 {
			on = math.Min(on, costs[i])
		} else {
			off = math.Min(off, costs[i])
		}
	}
	return on - off
}

// Iteration sweeps the variables in order and averages the min-marginals of
// each variable over its layers. No step decreases the lower bound.
func (s *Solver[T]) Iteration() {
	for _, layers := range s.varLayers {
		if len(layers) < 2 {
			continue
		}
		s.margins = s.margins[:0]
		for _, l := range layers {
			b, j := s.locate(l)
			s.margins = append(s.margins, s.minMarginal(b, j))
		}
		mean := floats.Sum(s.margins) / float64(len(layers))
		for i, l := range layers {
			s.costs[l] += T(mean - s.margins[i])
		}
	}
}

// locate returns the block of layer l and its scope position.
func (s *Solver[T]) locate(l int) (*block, int) {
	// blocks are laid out by increasing first layer
	lo, hi := 0, len(s.blocks)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if s.blocks[mid].first <= l {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	b := &s.blocks[lo]
	return b, l - b.first
}

// UpdateCosts changes the primal cost of every variable v from c to
// c + delta0[v]·(1-x) + delta1[v]·x. The constant part moves into the offset
// and the difference is spread evenly over the variable's layers.
func (s *Solver[T]) UpdateCosts(delta0, delta1 []float64) error {
	n := len(s.varLayers)
	if len(delta0) != n || len(delta1) != n {
		return errors.Errorf("decomp: cost delta lengths %d/%d do not match %d variables", len(delta0), len(delta1), n)
	}
	for v, layers := range s.varLayers {
		diff := delta1[v] - delta0[v]
		s.offset += delta0[v]
		s.varCost[v] += diff
		if len(layers) == 0 {
			continue
		}
		share := T(diff / float64(len(layers)))
		for _, l := range layers {
			s.costs[l] += share
		}
	}
	return nil
}

// Costs returns the dual vector in double precision.
func (s *Solver[T]) Costs() []float64 {
	return vector.Convert[float64](s.costs)
}

// SetCosts replaces the dual vector. The layers of every variable must sum to
// its current cost within the rounding drift of T. A residual above
// feasibilityTolerance is spread evenly over the variable's layers.
func (s *Solver[T]) SetCosts(costs []float64) error {
	if len(costs) != len(s.costs) {
		return errors.Errorf("decomp: %d dual costs given, %d layers", len(costs), len(s.costs))
	}
	tol := driftTolerance[T]()
	restored := append([]float64(nil), costs...)
	for v, layers := range s.varLayers {
		if len(layers) == 0 {
			continue
		}
		var sum float64
		for _, l := range layers {
			sum += costs[l]
		}
		scale := 1 + math.Abs(s.varCost[v])
		residual := sum - s.varCost[v]
		if math.Abs(residual) > tol*scale {
			return errors.Errorf("decomp: dual costs of variable %d sum to %g, cost is %g", v, sum, s.varCost[v])
		}
		if math.Abs(residual) <= feasibilityTolerance*scale {
			continue
		}
		share := residual / float64(len(layers))
		for _, l := range layers {
			restored[l] -= share
		}
	}
	for l, c := range restored {
		s.costs[l] = T(c)
	}
	return nil
}

// Offset returns the constant collected from cost updates.
func (s *Solver[T]) Offset() float64 { return s.offset }

// Residual returns the largest deviation of a variable's layer sum from its
// cost.
func (s *Solver[T]) Residual() float64 {
	var worst float64
	for v, layers := range s.varLayers {
		if len(layers) == 0 {
			continue
		}
		var sum float64
		for _, l := range layers {
			sum += float64(s.costs[l])
		}
		worst = math.Max(worst, math.Abs(sum-s.varCost[v]))
	}
	return worst
}

// Primal rounds the dual state to an assignment: each variable takes the
// value its layers prefer by summed min-marginal. The result need not satisfy
// every constraint.
func (s *Solver[T]) Primal() []bool {
	x := make([]bool, len(s.varLayers))
	for v, layers := range s.varLayers {
		if len(layers) == 0 {
			x[v] = s.varCost[v] < 0
			continue
		}
		var m float64
		for _, l := range layers {
			b, j := s.locate(l)
			m += s.minMarginal(b, j)
		}
		x[v] = m < 0
	}
	return x
}
