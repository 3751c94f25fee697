// Package indicator provides pure, vectorized technical-indicator math
// over float64 bar columns. No function in this package performs I/O,
// allocates shared state, or suspends; inputs and outputs are plain
// slices so the evaluator and strategy family can call them inline
// during a candidate evaluation without ever yielding to the scheduler.
package indicator

import "math"

// Undefined marks the leading window-1 entries of an indicator series
// that have no defined value yet. Callers must treat it as "no signal
// available", never as zero.
var Undefined = math.NaN()

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v float64) bool { return math.IsNaN(v) }

// SMA returns the simple moving average of x over a trailing window of
// period bars, aligned to x (same length, leading period-1 undefined).
func SMA(x []float64, period int) []float64 {
	out := make([]float64, len(x))
	if period <= 0 {
		for i := range out {
			out[i] = Undefined
		}
		return out
	}
	var sum float64
	for i, v := range x {
		sum += v
		if i >= period {
			sum -= x[i-period]
		}
		if i < period-1 {
			out[i] = Undefined
			continue
		}
		out[i] = sum / float64(period)
	}
	return out
}

// RollingMax returns the trailing max of x over a window of w bars.
func RollingMax(x []float64, w int) []float64 {
	return rollingExtreme(x, w, func(a, b float64) bool { return a > b })
}

// RollingMin returns the trailing min of x over a window of w bars.
func RollingMin(x []float64, w int) []float64 {
	return rollingExtreme(x, w, func(a, b float64) bool { return a < b })
}

// rollingExtreme recomputes the window extreme by linear scan; bar
// windows in this domain are small (tens of bars) so an O(n*w) scan is
// simpler and just as deterministic as a monotonic-deque optimization.
func rollingExtreme(x []float64, w int, better func(a, b float64) bool) []float64 {
	out := make([]float64, len(x))
	if w <= 0 {
		for i := range out {
			out[i] = Undefined
		}
		return out
	}
	for i := range x {
		if i < w-1 {
			out[i] = Undefined
			continue
		}
		best := x[i-w+1]
		for j := i - w + 2; j <= i; j++ {
			if better(x[j], best) {
				best = x[j]
			}
		}
		out[i] = best
	}
	return out
}

// ATR computes Average True Range using Wilder smoothing of
// max(H-L, |H-Cprev|, |L-Cprev|). The first defined value (index
// period-1) is the simple mean of the first `period` true ranges; every
// subsequent value is the Wilder recurrence
// atr[i] = (atr[i-1]*(period-1) + tr[i]) / period.
func ATR(high, low, close []float64, period int) []float64 {
	n := len(close)
	out := make([]float64, n)
	if period <= 0 || n == 0 {
		for i := range out {
			out[i] = Undefined
		}
		return out
	}
	tr := make([]float64, n)
	for i := 0; i < n; i++ {
		if i == 0 {
			tr[i] = high[i] - low[i]
			continue
		}
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	for i := 0; i < n; i++ {
		switch {
		case i < period-1:
			out[i] = Undefined
		case i == period-1:
			var sum float64
			for j := 0; j <= i; j++ {
				sum += tr[j]
			}
			out[i] = sum / float64(period)
		default:
			out[i] = (out[i-1]*float64(period-1) + tr[i]) / float64(period)
		}
	}
	return out
}

// RSI computes Wilder's Relative Strength Index. Average gain/loss seed
// at index period is the simple mean of the first `period` deltas;
// later values follow Wilder's smoothed recurrence
// avg[i] = (avg[i-1]*(period-1) + v[i]) / period.
func RSI(close []float64, period int) []float64 {
	n := len(close)
	out := make([]float64, n)
	if period <= 0 || n == 0 {
		for i := range out {
			out[i] = Undefined
		}
		return out
	}
	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		delta := close[i] - close[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}
	var avgGain, avgLoss float64
	for i := 0; i < n; i++ {
		switch {
		case i < period:
			out[i] = Undefined
		case i == period:
			var sg, sl float64
			for j := 1; j <= period; j++ {
				sg += gains[j]
				sl += losses[j]
			}
			avgGain = sg / float64(period)
			avgLoss = sl / float64(period)
			out[i] = rsiFromAvgs(avgGain, avgLoss)
		default:
			avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
			avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
			out[i] = rsiFromAvgs(avgGain, avgLoss)
		}
	}
	return out
}

func rsiFromAvgs(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// VolumeRatio is volume[i] divided by the simple moving average of
// volume over the trailing w bars.
func VolumeRatio(volume []float64, w int) []float64 {
	avg := SMA(volume, w)
	out := make([]float64, len(volume))
	for i, v := range volume {
		if IsUndefined(avg[i]) || avg[i] == 0 {
			out[i] = Undefined
			continue
		}
		out[i] = v / avg[i]
	}
	return out
}

// wickEpsilon guards WickRatio against division by a zero-bodied bar.
const wickEpsilon = 1e-9

// WickRatio returns (upper_wick + lower_wick) / max(body, epsilon) for
// each bar, where body = |close - open|.
func WickRatio(open, high, low, close []float64) []float64 {
	out := make([]float64, len(close))
	for i := range close {
		body := math.Abs(close[i] - open[i])
		upper := high[i] - math.Max(open[i], close[i])
		lower := math.Min(open[i], close[i]) - low[i]
		denom := math.Max(body, wickEpsilon)
		out[i] = (upper + lower) / denom
	}
	return out
}

// PriceVelocity returns |close - open| / open for each bar.
func PriceVelocity(open, close []float64) []float64 {
	out := make([]float64, len(close))
	for i := range close {
		if open[i] == 0 {
			out[i] = Undefined
			continue
		}
		out[i] = math.Abs(close[i]-open[i]) / open[i]
	}
	return out
}

// IsBullish reports whether a bar closed above its open.
func IsBullish(open, close float64) bool { return close > open }

// IsBearish reports whether a bar closed below its open.
func IsBearish(open, close float64) bool { return close < open }

// Mean returns the arithmetic mean of xs, 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range xs {
		sum += v
	}
	return sum / float64(len(xs))
}

// StdDev returns the sample standard deviation of xs (divisor n-1),
// matching the teacher's backtester.MetricsCalculator.stdDev.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	var sumSq float64
	for _, v := range xs {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}
