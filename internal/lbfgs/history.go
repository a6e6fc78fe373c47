package lbfgs

import "github.com/cwbudde/dualaccel/internal/vector"

// HistoryEntry is one curvature pair.
type HistoryEntry[T vector.Real] struct {
	S      []T // x_k - x_{k-1}
	Y      []T // g_{k-1} - g_k, sign flipped for minimization
	RhoInv T   // ⟨S, Y⟩, always > curvatureEpsilon
}

// History is a bounded FIFO of curvature pairs.
type History[T vector.Real] struct {
	ops     vector.Ops[T]
	size    int
	entries []HistoryEntry[T]

	prevX, prevG []T
	seeded       bool

	initialRhoInv      T
	initialRhoInvValid bool
}

// NewHistory creates an empty history holding at most size pairs.
func NewHistory[T vector.Real](ops vector.Ops[T], size int) *History[T] {
	return &History[T]{
		ops:     ops,
		size:    size,
		entries: make([]HistoryEntry[T], 0, size+1),
	}
}

// Capture records the iterate x with gradient-like vector g and takes
// ownership of both slices. The first call after construction or Flush only
// stores the snapshot. Later calls form the pair (s, y) against the previous
// snapshot and keep it when its curvature ⟨s, y⟩ exceeds curvatureEpsilon.
// It reports whether a pair was stored.
func (h *History[T]) Capture(x, g []T) bool {
	if len(x) != len(g) {
		panic("lbfgs: iterate and gradient length mismatch")
	}
	if !h.seeded {
		h.prevX, h.prevG = x, g
		h.seeded = true
		return false
	}
	if len(x) != len(h.prevX) {
		panic("lbfgs: iterate length changed")
	}

	s := make([]T, len(x))
	h.ops.Sub(s, x, h.prevX)

	// The lower bound is maximized while L-BFGS is derived for minimization:
	// flip the gradient difference here, once, instead of in the recursion.
	y := make([]T, len(g))
	h.ops.Sub(y, h.prevG, g)

	rhoInv := h.ops.Dot(s, y)

	if !h.initialRhoInvValid {
		h.initialRhoInv = rhoInv
		h.initialRhoInvValid = true
	}

	// Pairs failing the curvature condition are skipped, not replaced: the
	// approximation goes stale for a round but dropping old pairs does worse.
	stored := false
	if rhoInv > curvatureEpsilon {
		h.entries = append(h.entries, HistoryEntry[T]{S: s, Y: y, RhoInv: rhoInv})
		if len(h.entries) > h.size {
			n := copy(h.entries, h.entries[1:])
			h.entries[n] = HistoryEntry[T]{}
			h.entries = h.entries[:n]
		}
		stored = true
	}

	h.prevX, h.prevG = x, g
	return stored
}

// Flush drops all pairs and the previous snapshot.
func (h *History[T]) Flush() {
	for i := range h.entries {
		h.entries[i] = HistoryEntry[T]{}
	}
	h.entries = h.entries[:0]
	h.prevX, h.prevG = nil, nil
	h.seeded = false
	h.initialRhoInv = 0
	h.initialRhoInvValid = false
}

// Len returns the number of stored pairs.
func (h *History[T]) Len() int { return len(h.entries) }

// Size returns the capacity m.
func (h *History[T]) Size() int { return h.size }

// Full reports whether m pairs are stored.
func (h *History[T]) Full() bool { return len(h.entries) == h.size }

// Seeded reports whether a previous snapshot is held.
func (h *History[T]) Seeded() bool { return h.seeded }

// Entries returns the pairs from oldest to newest. The slice must not be modified.
func (h *History[T]) Entries() []HistoryEntry[T] { return h.entries }

// InitialCurvatureScale returns ⟨s, y⟩ of the first pair formed since the last
// flush, whether or not it was stored. It is recorded for a relative curvature
// test but the acceptance filter uses the absolute threshold.
func (h *History[T]) InitialCurvatureScale() (T, bool) {
	return h.initialRhoInv, h.initialRhoInvValid
}
