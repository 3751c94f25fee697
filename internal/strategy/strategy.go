// Package strategy provides the closed set of signal-generator plugins
// that map a parameter vector and a bar series to a per-bar trading
// decision. Unlike the teacher's internal/strategy package, which keeps
// an open, runtime-registered map[string]func() Strategy, this registry
// is closed over the three domain.StrategyID values spec.md names: new
// strategies are added by extending the enum and wiring a Register call
// at init(), never by dynamic dispatch or reflection.
package strategy

import (
	"fmt"

	"github.com/atlas-desktop/paramtrader/pkg/domain"
)

// SignalKind is the closed decision a strategy may emit for one bar.
type SignalKind string

const (
	Buy  SignalKind = "BUY"
	Sell SignalKind = "SELL"
	Hold SignalKind = "HOLD"
)

// Signal is the per-bar output of GenerateSignals, aligned index-for-
// index with the input bar series.
type Signal struct {
	Kind       SignalKind
	StopLoss   float64
	TakeProfit float64
	AuxScore   float64
}

// ProgressFunc lets a strategy report how far it has scanned through
// the bar series; strategies call it at most once per bar, never
// blocking (the evaluator relies on generate_signals never suspending).
type ProgressFunc func(index, total int)

// Strategy is implemented by each signal-generator plugin.
type Strategy interface {
	ID() domain.StrategyID
	Schema() domain.SearchSpace
	MinBarsRequired() int
	MinTrades() int
	// GenerateSignals must be monotone in bar index: the decision at
	// index i may only read bars[0..=i]. Implementations receive the
	// full series for convenience but are tested for this invariant
	// directly (see no_lookahead_test.go).
	GenerateSignals(bars domain.BarSeries, params domain.ParameterVector, progress ProgressFunc) ([]Signal, error)
}

var registry = map[domain.StrategyID]Strategy{}

// Register adds a strategy to the closed registry. Called only from
// each strategy file's init(); panics on a duplicate ID, which would
// indicate a programming error, not a runtime condition.
func Register(s Strategy) {
	if _, exists := registry[s.ID()]; exists {
		panic(fmt.Sprintf("strategy: duplicate registration for %q", s.ID()))
	}
	registry[s.ID()] = s
}

// Get returns the strategy for id, or false if id is not one of the
// three closed tags.
func Get(id domain.StrategyID) (Strategy, bool) {
	s, ok := registry[id]
	return s, ok
}

// List returns all registered strategy IDs in declaration order
// (liquidity_sweep, capitulation_reversal, failed_breakdown), matching
// the order spec.md §3 lists them so API listings are stable.
func List() []domain.StrategyID {
	order := []domain.StrategyID{
		domain.StrategyLiquiditySweep,
		domain.StrategyCapitulationReversal,
		domain.StrategyFailedBreakdown,
	}
	out := make([]domain.StrategyID, 0, len(order))
	for _, id := range order {
		if _, ok := registry[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// ValidateParams checks that params carries exactly the schema's keys
// and that each value falls within its declared bounds, per spec.md
// §3's ParameterVector invariant ("every schema key must be present;
// unknown keys are rejected").
func ValidateParams(space domain.SearchSpace, params domain.ParameterVector) error {
	seen := make(map[string]bool, len(space.Parameters))
	for _, p := range space.Parameters {
		seen[p.Name] = true
		v, ok := params[p.Name]
		if !ok {
			return fmt.Errorf("strategy: missing parameter %q", p.Name)
		}
		switch p.Type {
		case domain.ParamContinuous, domain.ParamInteger:
			if v < p.Min || v > p.Max {
				return fmt.Errorf("strategy: parameter %q = %v out of range [%v, %v]", p.Name, v, p.Min, p.Max)
			}
		case domain.ParamDiscrete:
			found := false
			for _, c := range p.Choices {
				if c == v {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("strategy: parameter %q = %v not one of %v", p.Name, v, p.Choices)
			}
		}
	}
	for k := range params {
		if !seen[k] {
			return fmt.Errorf("strategy: unknown parameter %q", k)
		}
	}
	return nil
}
