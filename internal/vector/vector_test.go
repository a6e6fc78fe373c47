package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBackend(t *testing.T) {
	cases := map[string]Backend{
		"":        BackendBLAS,
		"BLAS":    BackendBLAS,
		" gonum ": BackendBLAS,
		"scalar":  BackendScalar,
		"host":    BackendScalar,
		"cuda":    Backend("cuda"),
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeBackend(in), "input %q", in)
	}
}

func TestNewOpsUnknown(t *testing.T) {
	_, err := NewOps[float64]("cuda")
	require.ErrorIs(t, err, ErrUnknownBackend)
	assert.Panics(t, func() { MustOps[float32]("cuda") })
}

func testOps[T Real](t *testing.T, ops Ops[T]) {
	t.Helper()

	a := []T{1, 2, 3, 4}
	b := []T{0.5, -1, 2, 0}

	assert.InDelta(t, 0.5-2+6, float64(ops.Dot(a, b)), 1e-6)

	dst := make([]T, len(a))
	ops.Sub(dst, a, b)
	assert.Equal(t, []T{0.5, 3, 1, 4}, dst)

	ops.AddScaled(dst, 2, b)
	assert.Equal(t, []T{1.5, 1, 5, 4}, dst)

	// a and b must be left untouched
	assert.Equal(t, []T{1, 2, 3, 4}, a)
	assert.Equal(t, []T{0.5, -1, 2, 0}, b)
}

func TestBackends(t *testing.T) {
	for _, backend := range SupportedBackends() {
		t.Run(string(backend)+"/float64", func(t *testing.T) {
			ops := MustOps[float64](string(backend))
			assert.Equal(t, backend, ops.Backend())
			testOps(t, ops)
		})
		t.Run(string(backend)+"/float32", func(t *testing.T) {
			ops := MustOps[float32](string(backend))
			assert.Equal(t, backend, ops.Backend())
			testOps(t, ops)
		})
	}
}

func TestLengthMismatchPanics(t *testing.T) {
	for _, backend := range SupportedBackends() {
		ops := MustOps[float64](string(backend))
		assert.Panics(t, func() { ops.Dot([]float64{1}, []float64{1, 2}) })
		assert.Panics(t, func() { ops.AddScaled([]float64{1}, 1, []float64{1, 2}) })
	}
}

func TestCloneAndConvert(t *testing.T) {
	x := []float64{1, 2, 3}
	c := Clone(x)
	c[0] = 9
	assert.Equal(t, 1.0, x[0])
	assert.Nil(t, Clone[float64](nil))

	f := Convert[float32](x)
	assert.Equal(t, []float32{1, 2, 3}, f)
}
