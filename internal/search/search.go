// Package search implements the parameter-search drivers: GridSearch,
// RandomSearch, and BayesianSurrogate. Each is a Suggester that, given
// prior observations, proposes the next parameter vector to evaluate,
// and halts after n_iterations (GridSearch also halts when its grid is
// exhausted). No suggester has a convergence predicate of its own.
//
// Generalizes internal/optimization/optimizer.go's gridSearch/
// randomSearch/geneticAlgorithm trio: the grid and random suggesters
// keep the teacher's Cartesian-product and independent-draw shapes,
// corrected to be lexicographic-by-name (spec.md §4.5) and seeded
// per-job rather than from a shared package-level rand source. The
// genetic algorithm's propose/score/keep-best loop is repurposed as the
// Bayesian surrogate's candidate-generation inner loop, since the
// teacher's "bayesian" optimizer enum value had no implementation.
package search

import (
	"math"
	"math/rand"
	"sort"

	"github.com/atlas-desktop/paramtrader/pkg/domain"
)

// Observation is one (params, score) pair a suggester has already been
// told about, via Suggester.Observe.
type Observation struct {
	Params domain.ParameterVector
	Score  float64
}

// Suggester proposes the next candidate to evaluate. Next returns
// ok=false once the driver has nothing left to try (grid exhausted,
// iteration budget spent).
type Suggester interface {
	// Next returns the next parameter vector to evaluate, or ok=false
	// when the suggester is done.
	Next() (domain.ParameterVector, bool)
	// Observe records the score of the vector most recently returned
	// by Next, so later suggestions (random search ignores this;
	// Bayesian uses it to fit its surrogate) can use it.
	Observe(params domain.ParameterVector, score float64)
	// TotalIterations is the upper bound Next will ever return true
	// for; used for progress reporting's "total" field.
	TotalIterations() int
}

// sortedNames returns a search space's parameter names in
// lexicographic order, correcting the teacher's unordered
// map[string]float64-driven recursion (spec.md §4.5: "Order:
// lexicographic by parameter name").
func sortedNames(space domain.SearchSpace) []string {
	names := make([]string, len(space.Parameters))
	for i, p := range space.Parameters {
		names[i] = p.Name
	}
	sort.Strings(names)
	return names
}

func schemaByName(space domain.SearchSpace) map[string]domain.ParameterSchema {
	out := make(map[string]domain.ParameterSchema, len(space.Parameters))
	for _, p := range space.Parameters {
		out[p.Name] = p
	}
	return out
}

func sampleUniform(r *rand.Rand, p domain.ParameterSchema) float64 {
	switch p.Type {
	case domain.ParamDiscrete:
		if len(p.Choices) == 0 {
			return p.Default
		}
		return p.Choices[r.Intn(len(p.Choices))]
	case domain.ParamInteger:
		span := int(p.Max) - int(p.Min)
		if span <= 0 {
			return p.Min
		}
		return float64(int(p.Min) + r.Intn(span+1))
	default: // continuous
		return p.Min + r.Float64()*(p.Max-p.Min)
	}
}

func clampToBounds(p domain.ParameterSchema, v float64) float64 {
	switch p.Type {
	case domain.ParamDiscrete:
		best := p.Choices[0]
		bestDist := math.Abs(best - v)
		for _, c := range p.Choices[1:] {
			if d := math.Abs(c - v); d < bestDist {
				best, bestDist = c, d
			}
		}
		return best
	case domain.ParamInteger:
		v = math.Round(v)
		if v < p.Min {
			v = p.Min
		}
		if v > p.Max {
			v = p.Max
		}
		return v
	default:
		if v < p.Min {
			v = p.Min
		}
		if v > p.Max {
			v = p.Max
		}
		return v
	}
}
