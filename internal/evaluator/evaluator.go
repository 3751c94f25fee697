// Package evaluator implements the backtest evaluator: a deterministic,
// pure-CPU walk over one bar series for one parameter vector, producing
// closed trades and the fixed performance-metric record. Never performs
// I/O and never suspends, per spec.md §5's hard requirement that
// cancellation latency be bounded by one candidate evaluation.
package evaluator

import (
	"math"

	"github.com/atlas-desktop/paramtrader/internal/strategy"
	"github.com/atlas-desktop/paramtrader/pkg/domain"
)

// FrictionModel is the fixed market-friction constant set spec.md §4.4
// requires: a slippage rate applied to the entry fill and to forced
// (max-hold or end-of-data) exits, while SL/TP exits fill at the level
// itself; a commission rate charged on both legs; and the bar cap each
// position may be held for.
type FrictionModel struct {
	SlippageRate       float64
	CommissionRate     float64
	MaxHoldingPeriods  int
	PositionSize       float64 // fixed quantity per trade
	TargetTrades       int     // objective_score's min(1, total_trades/target_trades) denominator
}

// DefaultFrictionModel mirrors the constants
// internal/backtester/slippage.go and internal/backtester/orders.go used
// in the teacher for a fixed-bps model, narrowed to the single constant
// slippage/commission pair spec.md §9 calls for (no pluggable
// SlippageModel interface — the spec fixes the friction model).
func DefaultFrictionModel() FrictionModel {
	return FrictionModel{
		SlippageRate:      0.0005,
		CommissionRate:    0.001,
		MaxHoldingPeriods: 50,
		PositionSize:      1.0,
		TargetTrades:      30,
	}
}

// EvalErrorKind is the closed set of non-fatal evaluation failures.
// These never escape Evaluate as a Go error; they are scored as -Inf
// per spec.md §4.4/§7.
type EvalErrorKind string

const (
	ErrInsufficientData EvalErrorKind = "InsufficientData"
	ErrNoTrades         EvalErrorKind = "NoTrades"
	ErrNonFiniteMetric  EvalErrorKind = "NonFiniteMetric"
)

// Result is the sum-typed outcome of one Evaluate call: either a
// populated Metrics/Trades pair, or a non-fatal EvalErrorKind scored as
// an objective of negative infinity. Mirrors spec.md §9's
// "Ok(score)/EvalError(kind)" design note.
type Result struct {
	Metrics        domain.Metrics
	Trades         []domain.Trade
	ObjectiveScore float64
	Err            EvalErrorKind // empty if Metrics is valid
}

type position struct {
	side        domain.PositionSide
	entryTime   int
	entryIndex  int
	entryPrice  float64
	signalPrice float64
	stopLoss    float64
	takeProfit  float64
}

// Evaluate walks bars in chronological order, simulating one position
// at a time from the strategy's per-bar signals, and returns the
// closed trades plus the fixed metric record. minTrades comes from the
// strategy's declared minimum (spec.md §4.4: "if < min_trades,
// objective is -infinity").
func Evaluate(bars domain.BarSeries, signals []strategy.Signal, friction FrictionModel, minTrades int, objective ObjectiveFunc) Result {
	n := len(bars.Bars)
	if n == 0 || len(signals) != n {
		return Result{Err: ErrInsufficientData, ObjectiveScore: math.Inf(-1)}
	}

	var trades []domain.Trade
	var pos *position

	for i := 0; i < n; i++ {
		bar := bars.Bars[i]
		high, _ := bar.High.Float64()
		low, _ := bar.Low.Float64()
		open, _ := bar.Open.Float64()

		if pos != nil {
			if exited, trade := tryExit(bars, i, *pos, friction, high, low); exited {
				trades = append(trades, trade)
				pos = nil
			} else if i-pos.entryIndex >= friction.MaxHoldingPeriods {
				trades = append(trades, forceClose(bars, i, *pos, friction, domain.ExitMaxHold))
				pos = nil
			}
		}

		if pos == nil && i < n-1 {
			sig := signals[i]
			switch sig.Kind {
			case strategy.Buy:
				pos = openPosition(domain.SideLong, i, open, sig, friction)
			case strategy.Sell:
				pos = openPosition(domain.SideShort, i, open, sig, friction)
			}
		}
	}

	if pos != nil {
		trades = append(trades, forceClose(bars, n-1, *pos, friction, domain.ExitEndOfData))
	}

	if len(trades) < minTrades {
		return Result{Err: ErrNoTrades, ObjectiveScore: math.Inf(-1), Trades: trades}
	}

	metrics := computeMetrics(trades, bars.Timeframe)
	score := objective(metrics)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return Result{Err: ErrNonFiniteMetric, ObjectiveScore: math.Inf(-1), Trades: trades, Metrics: metrics}
	}
	return Result{Metrics: metrics, Trades: trades, ObjectiveScore: score}
}

// openPosition applies slippage to the raw signal price to get the
// fill, then rebuilds SL/TP by preserving the strategy's intended risk
// and reward DISTANCES (not absolute levels) measured from the raw
// signal price, and re-anchoring them to the slippage-adjusted fill.
// This is the §4.4/§9 fix: "SL and TP levels are computed from the
// slippage-adjusted entry price, not the raw signal price" — the source
// script this was distilled from got this wrong
// (original_source/test_sl_tp_bug.py), and the spec explicitly corrects
// it here.
func openPosition(side domain.PositionSide, index int, signalPrice float64, sig strategy.Signal, friction FrictionModel) *position {
	var fill float64
	var riskDistance, rewardDistance float64
	switch side {
	case domain.SideLong:
		fill = signalPrice * (1 + friction.SlippageRate)
		riskDistance = signalPrice - sig.StopLoss
		rewardDistance = sig.TakeProfit - signalPrice
	case domain.SideShort:
		fill = signalPrice * (1 - friction.SlippageRate)
		riskDistance = sig.StopLoss - signalPrice
		rewardDistance = signalPrice - sig.TakeProfit
	}

	p := &position{
		side:        side,
		entryIndex:  index,
		entryPrice:  fill,
		signalPrice: signalPrice,
	}
	switch side {
	case domain.SideLong:
		p.stopLoss = fill - riskDistance
		p.takeProfit = fill + rewardDistance
	case domain.SideShort:
		p.stopLoss = fill + riskDistance
		p.takeProfit = fill - rewardDistance
	}
	return p
}

// tryExit checks the current bar's high/low against the position's
// SL/TP, applying the pessimistic intrabar tie-break: if the bar's
// range spans both levels, assume the adverse level (SL) was touched
// first; the bar's open is not consulted.
func tryExit(bars domain.BarSeries, i int, pos position, friction FrictionModel, high, low float64) (bool, domain.Trade) {
	var hitSL, hitTP bool
	switch pos.side {
	case domain.SideLong:
		hitSL = low <= pos.stopLoss
		hitTP = high >= pos.takeProfit
	case domain.SideShort:
		hitSL = high >= pos.stopLoss
		hitTP = low <= pos.takeProfit
	}

	if !hitSL && !hitTP {
		return false, domain.Trade{}
	}

	// Pessimistic rule: if both SL and TP could have been hit this bar,
	// assume SL was tested first regardless of where the open sat
	// relative to the two levels.
	var reason domain.ExitReason
	var exitPrice float64
	if hitSL {
		reason, exitPrice = domain.ExitStopLoss, pos.stopLoss
	} else {
		reason, exitPrice = domain.ExitTakeProfit, pos.takeProfit
	}

	return true, closeTrade(bars, i, pos, friction, exitPrice, reason)
}

func forceClose(bars domain.BarSeries, i int, pos position, friction FrictionModel, reason domain.ExitReason) domain.Trade {
	closeF, _ := bars.Bars[i].Close.Float64()
	var exitPrice float64
	switch pos.side {
	case domain.SideLong:
		exitPrice = closeF * (1 - friction.SlippageRate)
	case domain.SideShort:
		exitPrice = closeF * (1 + friction.SlippageRate)
	}
	return closeTrade(bars, i, pos, friction, exitPrice, reason)
}

func closeTrade(bars domain.BarSeries, i int, pos position, friction FrictionModel, exitPrice float64, reason domain.ExitReason) domain.Trade {
	qty := friction.PositionSize
	entryCommission := pos.entryPrice * qty * friction.CommissionRate
	exitCommission := exitPrice * qty * friction.CommissionRate
	commission := entryCommission + exitCommission

	var gross float64
	switch pos.side {
	case domain.SideLong:
		gross = (exitPrice - pos.entryPrice) * qty
	case domain.SideShort:
		gross = (pos.entryPrice - exitPrice) * qty
	}
	pnl := gross - commission

	return domain.Trade{
		Side:        pos.side,
		EntryTime:   bars.Bars[pos.entryIndex].Timestamp,
		EntryPrice:  decimalFromFloat(pos.entryPrice),
		SignalPrice: decimalFromFloat(pos.signalPrice),
		StopLoss:    decimalFromFloat(pos.stopLoss),
		TakeProfit:  decimalFromFloat(pos.takeProfit),
		ExitTime:    bars.Bars[i].Timestamp,
		ExitPrice:   decimalFromFloat(exitPrice),
		ExitReason:  reason,
		Quantity:    decimalFromFloat(qty),
		Commission:  decimalFromFloat(commission),
		PnL:         decimalFromFloat(pnl),
		HoldingBars: i - pos.entryIndex,
	}
}
