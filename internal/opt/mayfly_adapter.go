package opt

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MinPopulation is the smallest population mayfly accepts.
const MinPopulation = 20

// MayflyAdapter runs the mayfly swarm optimizer.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a mayfly optimizer with a fixed seed.
func NewMayfly(maxIters, popSize int, seed int64) *MayflyAdapter {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Run executes the optimization. mayfly works with one scalar bound for all
// dimensions.
func (m *MayflyAdapter) Run(eval func([]float64) float64, dim int, lower, upper float64) ([]float64, float64, error) {
	if m.popSize < MinPopulation {
		return nil, 0, fmt.Errorf("population %d below mayfly minimum %d", m.popSize, MinPopulation)
	}
	if !(lower < upper) {
		return nil, 0, fmt.Errorf("empty search box [%g, %g]", lower, upper)
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = eval
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = lower
	config.UpperBound = upper
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, 0, fmt.Errorf("mayfly: %w", err)
	}
	return result.GlobalBest.Position, result.GlobalBest.Cost, nil
}
