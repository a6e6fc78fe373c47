// Package vector provides the elementwise arithmetic the accelerator runs on.
// Vectors are plain slices; a backend decides how the arithmetic is carried out.
package vector

// Real is the element type of solver vectors. The accelerator never promotes
// precision: float32 solvers get float32 inner products.
type Real interface {
	float32 | float64
}

// Ops is the arithmetic capability required by the accelerator.
type Ops[T Real] interface {
	// Dot returns the inner product of a and b.
	Dot(a, b []T) T

	// Sub stores a - b into dst.
	Sub(dst, a, b []T)

	// AddScaled adds alpha*x to dst.
	AddScaled(dst []T, alpha T, x []T)

	// Backend reports which implementation is in use.
	Backend() Backend
}

// Clone returns a copy of x.
func Clone[T Real](x []T) []T {
	if x == nil {
		return nil
	}
	out := make([]T, len(x))
	copy(out, x)
	return out
}

// Convert copies x into a slice of another precision.
func Convert[D, S Real](x []S) []D {
	out := make([]D, len(x))
	for i, v := range x {
		out[i] = D(v)
	}
	return out
}

func checkLen(n int, xs ...int) {
	for _, m := range xs {
		if m != n {
			panic("vector: length mismatch")
		}
	}
}
