// Package lbfgs accelerates an iterative dual decomposition solver with
// limited-memory BFGS steps.
//
// The accelerator wraps a base solver and decides, iteration by iteration,
// whether to run one plain base iteration or an L-BFGS step followed by a base
// iteration. Curvature pairs are collected from consecutive iterates; a step
// size search applies the quasi-Newton direction only when it improves the
// lower bound at a rate comparable to the base solver's recent progress.
package lbfgs

import "github.com/cwbudde/dualaccel/internal/vector"

// Solver is the base dual solver driven by the accelerator.
//
// The outer problem is a maximization of the lower bound. All methods are
// synchronous: the solver may parallelize internally but must return before
// the accelerator proceeds.
type Solver[T vector.Real] interface {
	// LowerBound returns the current dual objective. Repeated calls without
	// intervening mutation must return the same value.
	LowerBound() float64

	// CostVector returns a snapshot of the current dual costs, one entry per layer.
	// The caller owns the returned slice.
	CostVector() []T

	// GradientVector returns a snapshot of the current solution vector used as
	// the (super)gradient of the lower bound. The caller owns the returned slice.
	GradientVector() []T

	// NumLayers is the fixed length of the cost and gradient vectors.
	NumLayers() int

	// MakeDualFeasible projects d in place onto the directions that keep the
	// dual costs feasible.
	MakeDualFeasible(d []T)

	// GradientStep adds scale*d to the dual costs. Calls accumulate.
	GradientStep(d []T, scale float64)

	// Iteration runs one base (non-accelerated) iteration.
	Iteration()

	// UpdateCosts changes the primal costs: delta0 is added to the cost of
	// every variable taking value 0, delta1 for value 1.
	UpdateCosts(delta0, delta1 []float64) error
}
