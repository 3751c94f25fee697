package strategy

import (
	"github.com/atlas-desktop/paramtrader/internal/indicator"
	"github.com/atlas-desktop/paramtrader/pkg/domain"
)

// failedBreakdown implements spec.md §4.3's FAILED_BREAKDOWN rule: a
// tight consolidation range (width <= tightness, volume declining
// first-half-to-second-half), a spring (a bar breaking below range
// support by >= breakdown_depth with weak volume, followed within
// spring_max_duration bars by a close back above support on strong
// recovery volume), scored by an accumulation composite, gated on
// accumulation_score_minimum and proximity (<=3%) to support.
//
// Grounded on
// original_source/training/strategies/failed_breakdown.py's
// _identify_ranges (range_tightness_threshold + declining-volume
// check), _detect_springs (breakdown/recovery volume ratios,
// spring_max_duration window), and _calculate_accumulation_score's
// weighted composite (breakdown 0.25, recovery 0.30, speed 0.20,
// range-quality 0.15, absorption 0.10); order-book absorption has no
// input in this evaluator (no L2 feed reaches the core, per spec.md
// §1's out-of-scope list) so that term is omitted and its 0.10 weight
// is folded into range-quality (0.15 + 0.10 = 0.25).
type failedBreakdown struct{}

func init() { Register(failedBreakdown{}) }

func (failedBreakdown) ID() domain.StrategyID { return domain.StrategyFailedBreakdown }

func (failedBreakdown) MinBarsRequired() int { return 150 }

func (failedBreakdown) MinTrades() int { return 3 }

func (failedBreakdown) Schema() domain.SearchSpace {
	return domain.SearchSpace{Parameters: []domain.ParameterSchema{
		{Name: "range_lookback_periods", Type: domain.ParamInteger, Default: 40, Min: 20, Max: 50},
		{Name: "tightness", Type: domain.ParamContinuous, Default: 0.15, Min: 0.10, Max: 0.25},
		{Name: "breakdown_depth", Type: domain.ParamContinuous, Default: 0.01, Min: 0.002, Max: 0.03},
		{Name: "breakdown_volume_threshold", Type: domain.ParamContinuous, Default: 0.5, Min: 0.2, Max: 0.9},
		{Name: "spring_max_duration", Type: domain.ParamInteger, Default: 10, Min: 3, Max: 20},
		{Name: "recovery_volume_threshold", Type: domain.ParamContinuous, Default: 2.0, Min: 1.0, Max: 3.5},
		{Name: "accumulation_score_minimum", Type: domain.ParamContinuous, Default: 0.5, Min: 0.2, Max: 0.7},
		{Name: "atr_multiplier_sl", Type: domain.ParamContinuous, Default: 1.2, Min: 0.5, Max: 2.5},
		{Name: "risk_reward_ratio", Type: domain.ParamContinuous, Default: 2.0, Min: 1.0, Max: 4.0},
	}}
}

func (s failedBreakdown) GenerateSignals(bars domain.BarSeries, params domain.ParameterVector, progress ProgressFunc) ([]Signal, error) {
	if err := ValidateParams(s.Schema(), params); err != nil {
		return nil, err
	}
	lookback := int(params["range_lookback_periods"])
	tightness := params["tightness"]
	breakdownDepth := params["breakdown_depth"]
	breakdownVolThresh := params["breakdown_volume_threshold"]
	springMaxDur := int(params["spring_max_duration"])
	recoveryVolThresh := params["recovery_volume_threshold"]
	scoreMin := params["accumulation_score_minimum"]
	atrMultSL := params["atr_multiplier_sl"]
	rr := params["risk_reward_ratio"]

	n := len(bars.Bars)
	open := bars.OpenFloats()
	high := bars.HighFloats()
	low := bars.LowFloats()
	close := bars.CloseFloats()
	volume := bars.VolumeFloats()
	atr := indicator.ATR(high, low, close, 14)

	out := make([]Signal, n)
	warmup := lookback + springMaxDur + 1
	if warmup < 50 {
		warmup = 50
	}

	for i := 0; i < n; i++ {
		if progress != nil {
			progress(i, n)
		}
		if i < warmup {
			out[i] = Signal{Kind: Hold}
			continue
		}

		support, resistance, rangeOK := consolidationRange(high, low, volume, i, lookback, tightness)
		if !rangeOK {
			out[i] = Signal{Kind: Hold}
			continue
		}

		spring, found := findSpring(low, close, volume, i, lookback, springMaxDur, support, breakdownDepth, breakdownVolThresh)
		if !found {
			out[i] = Signal{Kind: Hold}
			continue
		}

		recoveryVolume := volume[i] / spring.avgVolume
		breakdownScore := 0.0
		if breakdownVolThresh > 0 {
			breakdownScore = max0(1 - spring.breakdownVolRatio/breakdownVolThresh)
		}
		recoveryScore := min1(recoveryVolume / (recoveryVolThresh * 1.5))
		speedScore := min1(1.0 - float64(i-spring.index)/float64(springMaxDur+1))
		rangeQuality := min1(tightness / maxf(tightness, (resistance-support)/support))

		accumulationScore := 0.25*breakdownScore + 0.30*recoveryScore + 0.20*speedScore + 0.25*rangeQuality

		closeToSupport := (close[i]-support)/support <= 0.03
		closedAboveSupport := close[i] > support

		if accumulationScore >= scoreMin && closedAboveSupport && closeToSupport && !indicator.IsUndefined(atr[i]) {
			sl := support - atr[i]*atrMultSL*0.1
			risk := close[i] - sl
			if risk > 0 {
				out[i] = Signal{
					Kind:       Buy,
					StopLoss:   sl,
					TakeProfit: close[i] + rr*risk,
					AuxScore:   accumulationScore,
				}
				continue
			}
		}
		out[i] = Signal{Kind: Hold}
	}
	return out, nil
}

// consolidationRange reports the support/resistance of the trailing
// lookback window ending just before i, and whether its width and
// volume trend satisfy the tightness/declining-volume test.
func consolidationRange(high, low, volume []float64, i, lookback int, tightness float64) (support, resistance float64, ok bool) {
	start := i - lookback
	if start < 0 {
		return 0, 0, false
	}
	support, resistance = low[start], high[start]
	for j := start + 1; j < i; j++ {
		if low[j] < support {
			support = low[j]
		}
		if high[j] > resistance {
			resistance = high[j]
		}
	}
	if support <= 0 {
		return 0, 0, false
	}
	width := (resistance - support) / support
	if width > tightness {
		return support, resistance, false
	}
	half := lookback / 2
	firstHalf := indicator.Mean(volume[start : start+half])
	secondHalf := indicator.Mean(volume[start+half : i])
	if secondHalf > firstHalf {
		return support, resistance, false
	}
	return support, resistance, true
}

type springEvent struct {
	index            int
	breakdownVolRatio float64
	avgVolume        float64
}

// findSpring looks inside the trailing spring_max_duration bars ending
// at i for a bar that broke support on weak volume, followed by the
// current bar closing back above support on strong recovery volume.
func findSpring(low, close, volume []float64, i, lookback, springMaxDur int, support, breakdownDepth, breakdownVolThresh float64) (springEvent, bool) {
	rangeStart := i - lookback - springMaxDur
	if rangeStart < 0 {
		rangeStart = 0
	}
	avgVolume := indicator.Mean(volume[rangeStart:i])
	if avgVolume <= 0 {
		return springEvent{}, false
	}
	searchStart := i - springMaxDur
	if searchStart < 0 {
		searchStart = 0
	}
	breakdownThreshold := support * (1 - breakdownDepth)
	for j := i - 1; j >= searchStart; j-- {
		if low[j] >= breakdownThreshold {
			continue
		}
		ratio := volume[j] / avgVolume
		if ratio > breakdownVolThresh {
			continue
		}
		if close[i] <= support {
			continue
		}
		if volume[i]/avgVolume < 1.0 {
			continue
		}
		return springEvent{index: j, breakdownVolRatio: ratio, avgVolume: avgVolume}, true
	}
	return springEvent{}, false
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
