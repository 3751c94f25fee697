package strategy

import (
	"github.com/atlas-desktop/paramtrader/internal/indicator"
	"github.com/atlas-desktop/paramtrader/pkg/domain"
)

// capitulationReversal implements spec.md §4.3's CAPITULATION_REVERSAL
// rule: a weighted panic score (volume 0.30, velocity 0.25, ATR 0.20,
// wick 0.15, RSI 0.10) flags a panic event at >= 0.4; a LONG reversal
// fires when a recent window contains a panic event, at least 3
// bearish bars, the current bar is bullish, and RSI was <= 35 in the
// last 5 bars but is >= 25 now. SHORT is symmetric.
//
// Grounded on
// original_source/training/strategies/capitulation_reversal.py's
// _calculate_indicators/_detect_panic_events/_detect_long_reversal/
// _detect_short_reversal, with Wilder RSI substituted for the
// original's simplified rolling-mean RSI per spec.md §4.2's explicit
// "Wilder RSI" requirement (an intentional divergence from the
// original, see DESIGN.md Open Questions).
type capitulationReversal struct{}

func init() { Register(capitulationReversal{}) }

func (capitulationReversal) ID() domain.StrategyID { return domain.StrategyCapitulationReversal }

func (capitulationReversal) MinBarsRequired() int { return 120 }

func (capitulationReversal) MinTrades() int { return 5 }

func (capitulationReversal) Schema() domain.SearchSpace {
	return domain.SearchSpace{Parameters: []domain.ParameterSchema{
		{Name: "volume_explosion_threshold", Type: domain.ParamContinuous, Default: 5.0, Min: 2.0, Max: 8.0},
		{Name: "price_velocity_threshold", Type: domain.ParamContinuous, Default: 0.03, Min: 0.01, Max: 0.08},
		{Name: "atr_explosion_threshold", Type: domain.ParamContinuous, Default: 2.5, Min: 1.5, Max: 4.0},
		{Name: "exhaustion_wick_ratio", Type: domain.ParamContinuous, Default: 3.0, Min: 1.5, Max: 5.0},
		{Name: "rsi_extreme_threshold", Type: domain.ParamInteger, Default: 15, Min: 5, Max: 25},
		{Name: "atr_multiplier_sl", Type: domain.ParamContinuous, Default: 1.5, Min: 0.5, Max: 3.0},
		{Name: "risk_reward_ratio", Type: domain.ParamContinuous, Default: 2.5, Min: 1.0, Max: 4.0},
		{Name: "max_holding_periods", Type: domain.ParamInteger, Default: 50, Min: 10, Max: 120},
		{Name: "lookback_periods", Type: domain.ParamInteger, Default: 100, Min: 40, Max: 150},
	}}
}

const panicEventThreshold = 0.4

func (s capitulationReversal) GenerateSignals(bars domain.BarSeries, params domain.ParameterVector, progress ProgressFunc) ([]Signal, error) {
	if err := ValidateParams(s.Schema(), params); err != nil {
		return nil, err
	}
	volThresh := params["volume_explosion_threshold"]
	velThresh := params["price_velocity_threshold"]
	atrThresh := params["atr_explosion_threshold"]
	wickThresh := params["exhaustion_wick_ratio"]
	rsiExtreme := params["rsi_extreme_threshold"]
	atrMultSL := params["atr_multiplier_sl"]
	rr := params["risk_reward_ratio"]
	lookback := int(params["lookback_periods"])

	n := len(bars.Bars)
	open := bars.OpenFloats()
	high := bars.HighFloats()
	low := bars.LowFloats()
	close := bars.CloseFloats()
	volume := bars.VolumeFloats()

	volAvg := indicator.SMA(volume, 20)
	atr := indicator.ATR(high, low, close, 14)
	atrAvg := indicator.SMA(atr, 20)
	velocity := indicator.PriceVelocity(open, close)
	wick := indicator.WickRatio(open, high, low, close)
	rsi := indicator.RSI(close, 14)

	panicScore := make([]float64, n)
	for i := 0; i < n; i++ {
		if indicator.IsUndefined(volAvg[i]) || indicator.IsUndefined(atrAvg[i]) || indicator.IsUndefined(rsi[i]) || atrAvg[i] <= 0 || volAvg[i] <= 0 {
			continue
		}
		volExplosion := volume[i]/volAvg[i] >= volThresh
		velExtreme := velocity[i] >= velThresh
		atrExplosion := atr[i]/atrAvg[i] >= atrThresh
		wickExhaustion := wick[i] >= wickThresh
		rsiExt := rsi[i] <= rsiExtreme || rsi[i] >= 100-rsiExtreme

		var score float64
		if volExplosion {
			score += 0.30
		}
		if velExtreme {
			score += 0.25
		}
		if atrExplosion {
			score += 0.20
		}
		if wickExhaustion {
			score += 0.15
		}
		if rsiExt {
			score += 0.10
		}
		panicScore[i] = score
	}

	out := make([]Signal, n)
	warmup := lookback
	if warmup < 25 {
		warmup = 25
	}
	for i := 0; i < n; i++ {
		if progress != nil {
			progress(i, n)
		}
		if i < warmup {
			out[i] = Signal{Kind: Hold}
			continue
		}

		windowStart := i - 15
		if windowStart < 0 {
			windowStart = 0
		}
		hasPanicEvent := false
		maxPanic := 0.0
		bearishCount := 0
		for j := windowStart; j < i; j++ {
			if panicScore[j] >= panicEventThreshold {
				hasPanicEvent = true
				if panicScore[j] > maxPanic {
					maxPanic = panicScore[j]
				}
			}
			if indicator.IsBearish(open[j], close[j]) {
				bearishCount++
			}
		}

		currentBullish := indicator.IsBullish(open[i], close[i])
		currentBearish := indicator.IsBearish(open[i], close[i])

		atrVal := atr[i]
		sl, tp := 0.0, 0.0

		if hasPanicEvent && bearishCount >= 3 && currentBullish && !indicator.IsUndefined(atrVal) {
			rsiStart := i - 5
			if rsiStart < 0 {
				rsiStart = 0
			}
			wasOversold := false
			for j := rsiStart; j < i; j++ {
				if !indicator.IsUndefined(rsi[j]) && rsi[j] <= 35 {
					wasOversold = true
					break
				}
			}
			isRecovering := !indicator.IsUndefined(rsi[i]) && rsi[i] >= 25
			if wasOversold && isRecovering {
				sl = close[i] - atrVal*atrMultSL
				tp = close[i] + atrVal*atrMultSL*rr
				out[i] = Signal{Kind: Buy, StopLoss: sl, TakeProfit: tp, AuxScore: maxPanic}
				continue
			}
		}

		bullishCount := 0
		for j := windowStart; j < i; j++ {
			if indicator.IsBullish(open[j], close[j]) {
				bullishCount++
			}
		}
		if hasPanicEvent && bullishCount >= 3 && currentBearish && !indicator.IsUndefined(atrVal) {
			rsiStart := i - 5
			if rsiStart < 0 {
				rsiStart = 0
			}
			wasOverbought := false
			for j := rsiStart; j < i; j++ {
				if !indicator.IsUndefined(rsi[j]) && rsi[j] >= 65 {
					wasOverbought = true
					break
				}
			}
			isDeclining := !indicator.IsUndefined(rsi[i]) && rsi[i] <= 75
			if wasOverbought && isDeclining {
				sl = close[i] + atrVal*atrMultSL
				tp = close[i] - atrVal*atrMultSL*rr
				out[i] = Signal{Kind: Sell, StopLoss: sl, TakeProfit: tp, AuxScore: maxPanic}
				continue
			}
		}

		out[i] = Signal{Kind: Hold}
	}
	return out, nil
}
