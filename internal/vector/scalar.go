package vector

// scalarOps is the reference backend: straight loops, no external kernels.
type scalarOps[T Real] struct{}

func (scalarOps[T]) Dot(a, b []T) T {
	checkLen(len(a), len(b))
	var sum T
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func (scalarOps[T]) Sub(dst, a, b []T) {
	checkLen(len(dst), len(a), len(b))
	for i := range dst {
		dst[i] = a[i] - b[i]
	}
}

func (scalarOps[T]) AddScaled(dst []T, alpha T, x []T) {
	checkLen(len(dst), len(x))
	for i := range dst {
		dst[i] += alpha * x[i]
	}
}

func (scalarOps[T]) Backend() Backend { return BackendScalar }
