package lbfgs

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/cwbudde/dualaccel/internal/vector"
)

// quadratic is a concave lower bound f(x) = bᵀx - ½ Σ dᵢxᵢ² maximized by
// plain gradient ascent in its base iteration.
type quadratic[T vector.Real] struct {
	diag, b []float64
	x       []T
	eta     float64

	feasibleCalls int
	stepCalls     []float64
	iterCalls     int
	delta0        []float64
	delta1        []float64
}

func newQuadratic[T vector.Real](diag, b []float64, eta float64) *quadratic[T] {
	return &quadratic[T]{diag: diag, b: b, x: make([]T, len(b)), eta: eta}
}

func defaultQuadratic[T vector.Real]() *quadratic[T] {
	return newQuadratic[T]([]float64{1, 2, 3, 4}, []float64{10, 10, 10, 10}, 0.1)
}

func (q *quadratic[T]) LowerBound() float64 {
	var f float64
	for i, x := range q.x {
		xi := float64(x)
		f += q.b[i]*xi - 0.5*q.diag[i]*xi*xi
	}
	return f
}

func (q *quadratic[T]) CostVector() []T { return vector.Clone(q.x) }

func (q *quadratic[T]) GradientVector() []T {
	g := make([]T, len(q.x))
	for i, x := range q.x {
		g[i] = T(q.b[i] - q.diag[i]*float64(x))
	}
	return g
}

func (q *quadratic[T]) NumLayers() int { return len(q.x) }

func (q *quadratic[T]) MakeDualFeasible(d []T) { q.feasibleCalls++ }

func (q *quadratic[T]) GradientStep(d []T, scale float64) {
	q.stepCalls = append(q.stepCalls, scale)
	for i := range q.x {
		q.x[i] += T(scale) * d[i]
	}
}

func (q *quadratic[T]) Iteration() {
	q.iterCalls++
	g := q.GradientVector()
	for i := range q.x {
		q.x[i] += T(q.eta) * g[i]
	}
}

func (q *quadratic[T]) UpdateCosts(delta0, delta1 []float64) error {
	if len(delta0) != len(q.b) || len(delta1) != len(q.b) {
		return fmt.Errorf("cost delta length mismatch: got %d/%d, want %d", len(delta0), len(delta1), len(q.b))
	}
	q.delta0, q.delta1 = delta0, delta1
	for i := range q.b {
		q.b[i] += delta1[i] - delta0[i]
	}
	return nil
}

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}
