package strategy

import (
	"github.com/atlas-desktop/paramtrader/internal/indicator"
	"github.com/atlas-desktop/paramtrader/pkg/domain"
)

// liquiditySweep implements spec.md §4.3's LIQUIDITY_SWEEP rule:
// identify a local swing on a configured lookback, flag a bar whose
// wick pierces the swing by at least pierce_depth and closes back
// inside with volume confirmation, emit a counter-trend signal with
// SL beyond the wick and TP at rr * risk.
//
// Grounded on original_source/strategies/htf_sweep.py's
// _find_swing_low/_find_swing_high (programmatic local-extrema scan)
// and its sweep_threshold/risk_reward_ratio exit construction; the
// original's separate HTF/LTF structure-shift confirmation collapses
// to a single bar series here since this evaluator scores one
// (symbol, exchange, timeframe) series per job, not a multi-timeframe
// pair.
type liquiditySweep struct{}

func init() { Register(liquiditySweep{}) }

func (liquiditySweep) ID() domain.StrategyID { return domain.StrategyLiquiditySweep }

func (liquiditySweep) MinBarsRequired() int { return 60 }

func (liquiditySweep) MinTrades() int { return 5 }

func (liquiditySweep) Schema() domain.SearchSpace {
	return domain.SearchSpace{Parameters: []domain.ParameterSchema{
		{Name: "swing_lookback_periods", Type: domain.ParamInteger, Default: 20, Min: 5, Max: 40},
		{Name: "pierce_depth", Type: domain.ParamContinuous, Default: 0.001, Min: 0.0005, Max: 0.005},
		{Name: "vol_multiplier", Type: domain.ParamContinuous, Default: 1.5, Min: 1.0, Max: 3.0},
		{Name: "rr", Type: domain.ParamContinuous, Default: 2.5, Min: 1.0, Max: 4.0},
	}}
}

func (s liquiditySweep) GenerateSignals(bars domain.BarSeries, params domain.ParameterVector, progress ProgressFunc) ([]Signal, error) {
	if err := ValidateParams(s.Schema(), params); err != nil {
		return nil, err
	}
	lookback := int(params["swing_lookback_periods"])
	pierceDepth := params["pierce_depth"]
	volMult := params["vol_multiplier"]
	rr := params["rr"]

	n := len(bars.Bars)
	high := bars.HighFloats()
	low := bars.LowFloats()
	close := bars.CloseFloats()
	volume := bars.VolumeFloats()
	volAvg := indicator.SMA(volume, lookback)

	out := make([]Signal, n)
	warmup := lookback + 2
	for i := 0; i < n; i++ {
		if progress != nil {
			progress(i, n)
		}
		if i < warmup {
			out[i] = Signal{Kind: Hold}
			continue
		}
		// local swing low/high over bars[0..=i], scanning only the
		// trailing lookback window so index i never reads ahead.
		swingLow, haveLow := localSwingLow(low, i, lookback)
		swingHigh, haveHigh := localSwingHigh(high, i, lookback)

		if indicator.IsUndefined(volAvg[i]) || volAvg[i] <= 0 {
			out[i] = Signal{Kind: Hold}
			continue
		}
		volumeConfirmed := volume[i] >= volMult*volAvg[i]

		if haveLow {
			sweepThreshold := swingLow * (1 - pierceDepth)
			isSweep := low[i] < sweepThreshold && close[i] > swingLow
			if isSweep && volumeConfirmed {
				sl := low[i]
				risk := close[i] - sl
				if risk > 0 {
					out[i] = Signal{
						Kind:       Buy,
						StopLoss:   sl,
						TakeProfit: close[i] + rr*risk,
						AuxScore:   volume[i] / volAvg[i],
					}
					continue
				}
			}
		}
		if haveHigh {
			sweepThreshold := swingHigh * (1 + pierceDepth)
			isSweep := high[i] > sweepThreshold && close[i] < swingHigh
			if isSweep && volumeConfirmed {
				sl := high[i]
				risk := sl - close[i]
				if risk > 0 {
					out[i] = Signal{
						Kind:       Sell,
						StopLoss:   sl,
						TakeProfit: close[i] - rr*risk,
						AuxScore:   volume[i] / volAvg[i],
					}
					continue
				}
			}
		}
		out[i] = Signal{Kind: Hold}
	}
	return out, nil
}

// localSwingLow returns the most recent local minimum (low[j-1] >
// low[j] < low[j+1]) strictly before index i, scanning only the
// trailing `lookback` window ending at i-1.
func localSwingLow(low []float64, i, lookback int) (float64, bool) {
	start := i - lookback
	if start < 1 {
		start = 1
	}
	for j := i - 1; j >= start; j-- {
		if low[j-1] > low[j] && low[j] < low[j+1] {
			return low[j], true
		}
	}
	return 0, false
}

func localSwingHigh(high []float64, i, lookback int) (float64, bool) {
	start := i - lookback
	if start < 1 {
		start = 1
	}
	for j := i - 1; j >= start; j-- {
		if high[j-1] < high[j] && high[j] > high[j+1] {
			return high[j], true
		}
	}
	return 0, false
}
