package worker

import (
	"testing"

	"github.com/atlas-desktop/paramtrader/pkg/domain"
)

func testSpace() domain.SearchSpace {
	return domain.SearchSpace{Parameters: []domain.ParameterSchema{
		{Name: "rr", Type: domain.ParamContinuous, Min: 1, Max: 2, Default: 1.5},
	}}
}

func TestMustParseID(t *testing.T) {
	if id := mustParseID("42"); id != 42 {
		t.Fatalf("expected 42, got %d", id)
	}
	if id := mustParseID("not-a-number"); id != 0 {
		t.Fatalf("expected 0 for malformed id, got %d", id)
	}
}

func TestNewSuggesterUnknownOptimizerErrors(t *testing.T) {
	if _, err := newSuggester(domain.Optimizer("quantum"), testSpace(), 10, nil); err == nil {
		t.Fatal("expected an error for an unrecognized optimizer")
	}
}

func TestNewSuggesterEachKnownOptimizerConstructs(t *testing.T) {
	seed := int64(7)
	for _, opt := range []domain.Optimizer{domain.OptimizerGrid, domain.OptimizerRandom, domain.OptimizerBayesian} {
		s, err := newSuggester(opt, testSpace(), 5, &seed)
		if err != nil {
			t.Fatalf("optimizer %s: unexpected error: %v", opt, err)
		}
		if s.TotalIterations() <= 0 {
			t.Fatalf("optimizer %s: expected a positive iteration budget, got %d", opt, s.TotalIterations())
		}
	}
}
