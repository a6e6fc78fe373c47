// Package opt tunes the accelerator parameters with a black-box optimizer.
package opt

// Optimizer minimizes a function over the box [lower, upper]^dim.
type Optimizer interface {
	// Run returns the best point found and its cost.
	Run(eval func([]float64) float64, dim int, lower, upper float64) ([]float64, float64, error)
}
