// Package domain holds the shared types passed between the bar store,
// strategy family, evaluator, search drivers, and job store.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is the candle width a bar series is sampled at.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// BarsPerYear is used to annualize per-trade statistics; it is an
// approximation driven by timeframe, not a calendar computation.
func (t Timeframe) BarsPerYear() float64 {
	switch t {
	case Timeframe1m:
		return 525600
	case Timeframe5m:
		return 105120
	case Timeframe15m:
		return 35040
	case Timeframe1h:
		return 8760
	case Timeframe4h:
		return 2190
	case Timeframe1d:
		return 365
	default:
		return 8760
	}
}

// Bar is a single OHLCV candle. Price fields use decimal.Decimal because
// they participate in money arithmetic (PnL, slippage, commission); the
// indicator kernel reads them as float64 through BarSeries'
// CloseFloats()/HighFloats() etc.
type Bar struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// BarSeries is a symbol/exchange/timeframe-scoped, time-ascending slice
// of bars.
type BarSeries struct {
	Symbol    string
	Exchange  string
	Timeframe Timeframe
	Bars      []Bar
}

// Float64 columns, used by the indicator kernel which is pure float64.
func (s BarSeries) CloseFloats() []float64 { return floats(s.Bars, func(b Bar) decimal.Decimal { return b.Close }) }
func (s BarSeries) HighFloats() []float64  { return floats(s.Bars, func(b Bar) decimal.Decimal { return b.High }) }
func (s BarSeries) LowFloats() []float64   { return floats(s.Bars, func(b Bar) decimal.Decimal { return b.Low }) }
func (s BarSeries) OpenFloats() []float64  { return floats(s.Bars, func(b Bar) decimal.Decimal { return b.Open }) }
func (s BarSeries) VolumeFloats() []float64 {
	return floats(s.Bars, func(b Bar) decimal.Decimal { return b.Volume })
}

func floats(bars []Bar, sel func(Bar) decimal.Decimal) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		f, _ := sel(b).Float64()
		out[i] = f
	}
	return out
}
