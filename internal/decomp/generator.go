package decomp

import (
	"math/rand"

	"github.com/pkg/errors"
)

// GeneratorConfig describes a random instance.
type GeneratorConfig struct {
	NumVars        int     `json:"numVars" yaml:"numVars"`
	NumConstraints int     `json:"numConstraints" yaml:"numConstraints"`
	MinScope       int     `json:"minScope" yaml:"minScope"`
	MaxScope       int     `json:"maxScope" yaml:"maxScope"`
	Kinds          []Kind  `json:"kinds,omitempty" yaml:"kinds,omitempty"`
	CostScale      float64 `json:"costScale" yaml:"costScale"`
	Seed           int64   `json:"seed" yaml:"seed"`
}

// DefaultGeneratorConfig returns a mid-sized mixed instance.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		NumVars:        200,
		NumConstraints: 150,
		MinScope:       2,
		MaxScope:       6,
		CostScale:      1,
		Seed:           1,
	}
}

// Validate checks the generator parameters.
func (g GeneratorConfig) Validate() error {
	switch {
	case g.NumVars < 2:
		return errors.Errorf("generator: numVars must be at least 2, got %d", g.NumVars)
	case g.NumConstraints <= 0:
		return errors.Errorf("generator: numConstraints must be positive, got %d", g.NumConstraints)
	case g.MinScope < 2 || g.MinScope > g.MaxScope:
		return errors.Errorf("generator: scope range [%d, %d] invalid", g.MinScope, g.MaxScope)
	case g.MaxScope > MaxScope || g.MaxScope > g.NumVars:
		return errors.Errorf("generator: maxScope %d exceeds min(%d, numVars)", g.MaxScope, MaxScope)
	case !(g.CostScale > 0):
		return errors.Errorf("generator: costScale must be positive, got %g", g.CostScale)
	}
	for _, k := range g.Kinds {
		if (Constraint{Kind: k, Scope: []int{0, 1}}).validate(2) != nil {
			return errors.Errorf("generator: unknown constraint kind %q", k)
		}
	}
	return nil
}

// Generate builds a reproducible random instance. Costs are uniform in
// [-CostScale, CostScale]. Variables left out by the random constraints are
// paired into extra at_most_one constraints so every variable has a layer.
func Generate(g GeneratorConfig) (*Instance, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	kinds := g.Kinds
	if len(kinds) == 0 {
		kinds = Kinds()
	}
	rng := rand.New(rand.NewSource(g.Seed))

	in := &Instance{NumVars: g.NumVars, Costs: make([]float64, g.NumVars)}
	for i := range in.Costs {
		in.Costs[i] = g.CostScale * (2*rng.Float64() - 1)
	}

	covered := make([]bool, g.NumVars)
	for c := 0; c < g.NumConstraints; c++ {
		kind := kinds[rng.Intn(len(kinds))]
		k := 2
		if kind != Implication {
			k = g.MinScope + rng.Intn(g.MaxScope-g.MinScope+1)
		}
		scope := rng.Perm(g.NumVars)[:k]
		for _, v := range scope {
			covered[v] = true
		}
		in.Constraints = append(in.Constraints, Constraint{Kind: kind, Scope: scope})
	}

	var loose []int
	for v, ok := range covered {
		if !ok {
			loose = append(loose, v)
		}
	}
	for i := 0; i < len(loose); i += 2 {
		partner := (loose[i] + 1) % g.NumVars
		if i+1 < len(loose) {
			partner = loose[i+1]
		}
		in.Constraints = append(in.Constraints, Constraint{Kind: AtMostOne, Scope: []int{loose[i], partner}})
	}

	if err := in.Validate(); err != nil {
		return nil, err
	}
	return in, nil
}

// Perturbation draws cost deltas for UpdateCosts: delta0 is zero, delta1 is
// uniform in [-scale, scale] for every variable.
func Perturbation(numVars int, scale float64, seed int64) (delta0, delta1 []float64) {
	rng := rand.New(rand.NewSource(seed))
	delta0 = make([]float64, numVars)
	delta1 = make([]float64, numVars)
	for v := range delta1 {
		delta1[v] = scale * (2*rng.Float64() - 1)
	}
	return delta0, delta1
}
