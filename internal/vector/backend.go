package vector

import (
	"errors"
	"fmt"
	"strings"
)

// Backend identifies a vector arithmetic implementation.
type Backend string

const (
	BackendScalar Backend = "scalar"
	BackendBLAS   Backend = "blas"
)

// ErrUnknownBackend is returned when the name does not match a known backend.
var ErrUnknownBackend = errors.New("unknown vector backend")

// NormalizeBackend maps arbitrary user input to a canonical backend identifier.
func NormalizeBackend(name string) Backend {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "blas", "gonum":
		return BackendBLAS
	case "scalar", "loop", "host":
		return BackendScalar
	default:
		return Backend(name)
	}
}

// SupportedBackends returns the list of backends understood by the factory.
func SupportedBackends() []Backend {
	return []Backend{BackendBLAS, BackendScalar}
}

// NewOps constructs the requested backend for element type T.
func NewOps[T Real](name string) (Ops[T], error) {
	switch NormalizeBackend(name) {
	case BackendBLAS:
		return blasOps[T]{}, nil
	case BackendScalar:
		return scalarOps[T]{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
}

// MustOps is like NewOps but panics on an unknown backend.
func MustOps[T Real](name string) Ops[T] {
	ops, err := NewOps[T](name)
	if err != nil {
		panic(err)
	}
	return ops
}
