package evaluator

import (
	"math"
	"testing"
	"time"

	"github.com/atlas-desktop/paramtrader/internal/strategy"
	"github.com/atlas-desktop/paramtrader/pkg/domain"
	"github.com/shopspring/decimal"
)

func bar(ts time.Time, o, h, l, c, v float64) domain.Bar {
	return domain.Bar{
		Timestamp: ts,
		Open:      decimal.NewFromFloat(o),
		High:      decimal.NewFromFloat(h),
		Low:       decimal.NewFromFloat(l),
		Close:     decimal.NewFromFloat(c),
		Volume:    decimal.NewFromFloat(v),
	}
}

func TestPessimisticTieBreakLong(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := domain.BarSeries{Timeframe: domain.Timeframe1h, Bars: []domain.Bar{
		bar(start, 100, 101, 99, 100, 10),
		// entry signal bar (open=100, sig SL=98, TP=106); next bar's
		// range spans both levels.
		bar(start.Add(time.Hour), 100, 102, 98, 101, 10),
		bar(start.Add(2*time.Hour), 100, 107, 97, 100, 10),
	}}
	signals := []strategy.Signal{
		{Kind: strategy.Hold},
		{Kind: strategy.Buy, StopLoss: 98, TakeProfit: 106},
		{Kind: strategy.Hold},
	}
	friction := FrictionModel{SlippageRate: 0, CommissionRate: 0, MaxHoldingPeriods: 50, PositionSize: 1}
	result := Evaluate(bars, signals, friction, 1, DefaultObjective(10))
	if len(result.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d: err=%v", len(result.Trades), result.Err)
	}
	if result.Trades[0].ExitReason != domain.ExitStopLoss {
		t.Fatalf("expected pessimistic SL exit, got %v", result.Trades[0].ExitReason)
	}
}

func TestSlippageAppliedBeforeSLTP(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := domain.BarSeries{Timeframe: domain.Timeframe1h, Bars: []domain.Bar{
		bar(start, 100, 101, 99, 100, 10),
		bar(start.Add(time.Hour), 100, 100.5, 99.5, 100, 10),
		bar(start.Add(2*time.Hour), 100, 105, 99, 104, 10),
	}}
	signals := []strategy.Signal{
		{Kind: strategy.Hold},
		{Kind: strategy.Buy, StopLoss: 98, TakeProfit: 106},
		{Kind: strategy.Hold},
	}
	friction := FrictionModel{SlippageRate: 0.001, CommissionRate: 0, MaxHoldingPeriods: 50, PositionSize: 1}
	result := Evaluate(bars, signals, friction, 1, DefaultObjective(10))
	if len(result.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(result.Trades))
	}
	tr := result.Trades[0]
	entry, _ := tr.EntryPrice.Float64()
	sl, _ := tr.StopLoss.Float64()
	// Entry is slippage-adjusted (100 * 1.001 = 100.1); SL must be
	// re-anchored to the fill, preserving the raw 2.0 risk distance,
	// not left at the raw signal's 98.
	wantEntry := 100.1
	wantSL := wantEntry - 2.0
	if math.Abs(entry-wantEntry) > 1e-9 {
		t.Fatalf("entry = %v, want %v", entry, wantEntry)
	}
	if math.Abs(sl-wantSL) > 1e-9 {
		t.Fatalf("SL = %v, want %v (slippage-adjusted anchor)", sl, wantSL)
	}
}

func TestNoTradesBelowMinTrades(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := domain.BarSeries{Timeframe: domain.Timeframe1h, Bars: []domain.Bar{
		bar(start, 100, 101, 99, 100, 10),
		bar(start.Add(time.Hour), 100, 101, 99, 100, 10),
	}}
	signals := []strategy.Signal{{Kind: strategy.Hold}, {Kind: strategy.Hold}}
	friction := DefaultFrictionModel()
	result := Evaluate(bars, signals, friction, 1, DefaultObjective(10))
	if result.Err != ErrNoTrades {
		t.Fatalf("expected ErrNoTrades, got %v", result.Err)
	}
	if !math.IsInf(result.ObjectiveScore, -1) {
		t.Fatalf("expected -Inf objective, got %v", result.ObjectiveScore)
	}
}

func TestMaxHoldingForceClose(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, 6)
	for i := range bars {
		bars[i] = bar(start.Add(time.Duration(i)*time.Hour), 100, 100.2, 99.8, 100, 10)
	}
	series := domain.BarSeries{Timeframe: domain.Timeframe1h, Bars: bars}
	signals := make([]strategy.Signal, len(bars))
	signals[0] = strategy.Signal{Kind: strategy.Buy, StopLoss: 90, TakeProfit: 110}
	for i := 1; i < len(signals); i++ {
		signals[i] = strategy.Signal{Kind: strategy.Hold}
	}
	friction := FrictionModel{SlippageRate: 0, CommissionRate: 0, MaxHoldingPeriods: 3, PositionSize: 1}
	result := Evaluate(series, signals, friction, 1, DefaultObjective(10))
	if len(result.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(result.Trades))
	}
	if result.Trades[0].ExitReason != domain.ExitMaxHold {
		t.Fatalf("expected max-holding exit, got %v", result.Trades[0].ExitReason)
	}
	if result.Trades[0].HoldingBars != 3 {
		t.Fatalf("expected 3 holding bars, got %d", result.Trades[0].HoldingBars)
	}
}
