package vector

import (
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
)

// blasOps dispatches to the gonum BLAS level-1 kernels of the matching precision.
type blasOps[T Real] struct{}

func vec64(x []float64) blas64.Vector { return blas64.Vector{N: len(x), Inc: 1, Data: x} }
func vec32(x []float32) blas32.Vector { return blas32.Vector{N: len(x), Inc: 1, Data: x} }

func (blasOps[T]) Dot(a, b []T) T {
	checkLen(len(a), len(b))
	switch a := any(a).(type) {
	case []float64:
		return T(blas64.Dot(vec64(a), vec64(any(b).([]float64))))
	case []float32:
		return T(blas32.Dot(vec32(a), vec32(any(b).([]float32))))
	}
	panic("vector: unsupported element type")
}

func (blasOps[T]) Sub(dst, a, b []T) {
	checkLen(len(dst), len(a), len(b))
	switch dst := any(dst).(type) {
	case []float64:
		floats.SubTo(dst, any(a).([]float64), any(b).([]float64))
	case []float32:
		a, b := any(a).([]float32), any(b).([]float32)
		for i := range dst {
			dst[i] = a[i] - b[i]
		}
	}
}

func (blasOps[T]) AddScaled(dst []T, alpha T, x []T) {
	checkLen(len(dst), len(x))
	switch dst := any(dst).(type) {
	case []float64:
		blas64.Axpy(float64(alpha), vec64(any(x).([]float64)), vec64(dst))
	case []float32:
		blas32.Axpy(float32(alpha), vec32(any(x).([]float32)), vec32(dst))
	}
}

func (blasOps[T]) Backend() Backend { return BackendBLAS }
