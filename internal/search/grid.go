package search

import "github.com/atlas-desktop/paramtrader/pkg/domain"

// gridValueCount fixes how many points a continuous interval is
// sampled at when building the Cartesian product; integer ranges use
// at most this many points (fewer when the range holds fewer integers),
// and discrete sets use their own cardinality.
const gridValueCount = 3

// GridSearch enumerates the Cartesian product of per-parameter grids,
// lexicographic by parameter name, generalizing
// internal/optimization/optimizer.go's generateGridCombinations/
// cartesianProduct. Stops when the grid is exhausted or n_iterations
// is reached, whichever comes first (spec.md §4.5).
type GridSearch struct {
	combinations []domain.ParameterVector
	cursor       int
	cap          int
}

// NewGridSearch builds the full lexicographic grid up front (the
// search space here is small enough — tens to low hundreds of points —
// that eager enumeration is simpler than lazy odometer iteration and
// still deterministic).
func NewGridSearch(space domain.SearchSpace, nIterations int) *GridSearch {
	names := sortedNames(space)
	schemas := schemaByName(space)
	axes := make([][]float64, len(names))
	for i, name := range names {
		axes[i] = gridAxis(schemas[name])
	}

	combos := cartesianProduct(names, axes)
	cap := len(combos)
	if nIterations >= 0 && nIterations < cap {
		cap = nIterations
	}
	return &GridSearch{combinations: combos, cap: cap}
}

func gridAxis(p domain.ParameterSchema) []float64 {
	switch p.Type {
	case domain.ParamDiscrete:
		return append([]float64(nil), p.Choices...)
	case domain.ParamInteger:
		span := int(p.Max) - int(p.Min)
		if span <= 0 {
			return []float64{p.Min}
		}
		count := gridValueCount
		if span+1 < count {
			count = span + 1
		}
		out := make([]float64, count)
		for i := 0; i < count; i++ {
			if count == 1 {
				out[i] = p.Min
				continue
			}
			frac := float64(i) / float64(count-1)
			out[i] = float64(int(p.Min) + int(frac*float64(span)+0.5))
		}
		return out
	default:
		out := make([]float64, gridValueCount)
		for i := 0; i < gridValueCount; i++ {
			if gridValueCount == 1 {
				out[i] = p.Min
				continue
			}
			frac := float64(i) / float64(gridValueCount-1)
			out[i] = p.Min + frac*(p.Max-p.Min)
		}
		return out
	}
}

func cartesianProduct(names []string, axes [][]float64) []domain.ParameterVector {
	if len(names) == 0 {
		return nil
	}
	combos := []domain.ParameterVector{{}}
	for i, name := range names {
		var next []domain.ParameterVector
		for _, base := range combos {
			for _, v := range axes[i] {
				pv := base.Clone()
				pv[name] = v
				next = append(next, pv)
			}
		}
		combos = next
	}
	return combos
}

func (g *GridSearch) Next() (domain.ParameterVector, bool) {
	if g.cursor >= g.cap {
		return nil, false
	}
	pv := g.combinations[g.cursor]
	g.cursor++
	return pv, true
}

func (g *GridSearch) Observe(domain.ParameterVector, float64) {}

func (g *GridSearch) TotalIterations() int { return g.cap }
