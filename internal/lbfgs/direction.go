package lbfgs

import "github.com/cwbudde/dualaccel/internal/vector"

// twoLoopDirection runs the L-BFGS two-loop recursion on grad and returns the
// resulting update direction. It allocates the result and leaves both the
// history and grad untouched.
//
// The initial Hessian is not applied as a separate scaling of q: the scale
// γ = ⟨s, y⟩ / (ε + ⟨y, y⟩) of the newest pair is folded into ρ of the oldest
// pair in the second loop.
func twoLoopDirection[T vector.Real](ops vector.Ops[T], history []HistoryEntry[T], grad []T) []T {
	if len(history) == 0 {
		panic("lbfgs: direction requested with empty history")
	}

	q := vector.Clone(grad)

	// newest to oldest
	alpha := make([]T, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		h := &history[i]
		alpha[i] = ops.Dot(h.S, q) / h.RhoInv
		ops.AddScaled(q, -alpha[i], h.Y)
	}

	last := &history[len(history)-1]
	gamma := last.RhoInv / (T(hessianEpsilon) + ops.Dot(last.Y, last.Y))

	// oldest to newest, r aliases q
	r := q
	for i := range history {
		h := &history[i]
		rho := 1 / h.RhoInv
		if i == 0 {
			rho *= gamma
		}
		beta := rho * ops.Dot(h.Y, r)
		ops.AddScaled(r, alpha[i]-beta, h.S)
	}
	return r
}
