package evaluator

import (
	"math"

	"github.com/atlas-desktop/paramtrader/internal/indicator"
	"github.com/atlas-desktop/paramtrader/pkg/domain"
	"github.com/shopspring/decimal"
)

// ObjectiveFunc reduces a closed run's Metrics to the scalar the
// optimizer maximizes. DefaultObjective implements spec.md §4.4's
// default composite.
type ObjectiveFunc func(domain.Metrics) float64

// DefaultObjective is sharpe * (1 - max_drawdown) * min(1,
// total_trades/target_trades), per spec.md §4.4.
func DefaultObjective(targetTrades int) ObjectiveFunc {
	return func(m domain.Metrics) float64 {
		if targetTrades <= 0 {
			targetTrades = 1
		}
		tradeFactor := math.Min(1, float64(m.TotalTrades)/float64(targetTrades))
		return m.Sharpe * (1 - m.MaxDrawdown) * tradeFactor
	}
}

// decimalFromFloat is a thin wrapper kept for call-site readability;
// mirrors internal/backtester/metrics.go's decimal.NewFromFloat usage
// throughout the teacher's MetricsCalculator.
func decimalFromFloat(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// computeMetrics generalizes internal/backtester/metrics.go's
// MetricsCalculator.Calculate from an equity-curve walk to a
// per-trade walk (spec.md §4.4's formulas are defined directly over
// the trade list, not an intermediate equity-curve series).
func computeMetrics(trades []domain.Trade, tf domain.Timeframe) domain.Metrics {
	m := domain.Metrics{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return m
	}

	var grossProfit, grossLoss float64
	var totalHoldingBars int
	returns := make([]float64, len(trades))
	equity := 1.0
	initialEquity := equity
	peak := equity

	for i, tr := range trades {
		pnl, _ := tr.PnL.Float64()
		entry, _ := tr.EntryPrice.Float64()
		if pnl > 0 {
			m.WinningTrades++
			grossProfit += pnl
		} else if pnl < 0 {
			m.LosingTrades++
			grossLoss += -pnl
		}
		totalHoldingBars += tr.HoldingBars

		var ret float64
		if entry != 0 {
			qty, _ := tr.Quantity.Float64()
			ret = pnl / (entry * qty)
		}
		returns[i] = ret

		equity *= 1 + ret
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			dd := (peak - equity) / peak
			if dd > m.MaxDrawdown {
				m.MaxDrawdown = dd
			}
		}
	}

	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	m.NetReturn = equity/initialEquity - 1

	switch {
	case grossLoss == 0 && grossProfit > 0:
		m.ProfitFactor = math.Inf(1)
	case grossLoss == 0:
		m.ProfitFactor = 0
	default:
		m.ProfitFactor = grossProfit / grossLoss
	}

	meanHolding := float64(totalHoldingBars) / float64(len(trades))
	if meanHolding <= 0 {
		meanHolding = 1
	}
	meanReturn := indicator.Mean(returns)
	stdDev := indicator.StdDev(returns)
	if stdDev > 0 {
		annualizationFactor := math.Sqrt(tf.BarsPerYear() / meanHolding)
		m.Sharpe = (meanReturn / stdDev) * annualizationFactor
	}

	return m
}
