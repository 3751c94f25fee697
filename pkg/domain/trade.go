package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide is the direction of a position opened by a strategy
// signal.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// ExitReason records why a position was closed, used both for
// reporting and for the pessimistic SL/TP tie-break audit trail.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitMaxHold    ExitReason = "max_holding_periods"
	ExitEndOfData  ExitReason = "end_of_data"
)

// Trade is one closed round-trip produced by the evaluator.
type Trade struct {
	Side            PositionSide
	EntryTime       time.Time
	EntryPrice      decimal.Decimal // post-slippage fill price
	SignalPrice     decimal.Decimal // pre-slippage price from the signal
	StopLoss        decimal.Decimal
	TakeProfit      decimal.Decimal
	ExitTime        time.Time
	ExitPrice       decimal.Decimal
	ExitReason      ExitReason
	Quantity        decimal.Decimal
	Commission      decimal.Decimal
	PnL             decimal.Decimal // net of commission, both legs
	HoldingBars     int
}

// Metrics summarizes a run of trades against a parameter vector.
type Metrics struct {
	NetReturn     float64
	Sharpe        float64
	ProfitFactor  float64 // +Inf encoded as math.Inf(1) when no losses
	MaxDrawdown   float64
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
}
