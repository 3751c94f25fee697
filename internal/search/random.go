package search

import (
	"math/rand"

	"github.com/atlas-desktop/paramtrader/pkg/domain"
)

// RandomSearch draws each parameter independently from its space using
// a seeded PRNG, exactly n_iterations draws. Fixes the teacher's
// randomSearch non-determinism bug
// (rand.NewSource(time.Now().UnixNano())) by seeding exclusively from
// the job's Seed field, never wall-clock time, so spec.md §4.5's
// determinism contract holds.
type RandomSearch struct {
	space       domain.SearchSpace
	names       []string
	schemas     map[string]domain.ParameterSchema
	rng         *rand.Rand
	n           int
	cursor      int
}

func NewRandomSearch(space domain.SearchSpace, nIterations int, seed int64) *RandomSearch {
	return &RandomSearch{
		space:   space,
		names:   sortedNames(space),
		schemas: schemaByName(space),
		rng:     rand.New(rand.NewSource(seed)),
		n:       nIterations,
	}
}

func (r *RandomSearch) Next() (domain.ParameterVector, bool) {
	if r.cursor >= r.n {
		return nil, false
	}
	r.cursor++
	pv := make(domain.ParameterVector, len(r.names))
	for _, name := range r.names {
		pv[name] = sampleUniform(r.rng, r.schemas[name])
	}
	return pv, true
}

func (r *RandomSearch) Observe(domain.ParameterVector, float64) {}

func (r *RandomSearch) TotalIterations() int { return r.n }
