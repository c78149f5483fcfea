package refinement

import "math"

// ClosedTrade is the minimal trade shape the refinement cycle needs:
// realized PnL, R-multiple, the regime it closed in, and its close time.
type ClosedTrade struct {
	PnL           float64
	RMultiple     float64
	Regime        Regime
	ClosedUnixMs  int64
}

// PerformanceMetrics summarizes a batch of closed trades.
type PerformanceMetrics struct {
	TradeCount      int
	WinRate         float64
	AvgR            float64
	ProfitFactor    float64
	MaxDrawdownPct  float64
	SharpeLike      float64
}

// ConditionBuckets groups trade outcomes by the regime they closed in,
// surfacing which market conditions are carrying or dragging performance.
type ConditionBuckets map[Regime]PerformanceMetrics

// LossClusters groups consecutive losing trades, the shape the heuristic
// fallback and an external advisor use to spot correlated drawdown
// episodes rather than isolated losers.
type LossClusters struct {
	MaxConsecutiveLosses int
	ClusterCount         int
}

// ComputeMetrics folds a slice of closed trades (assumed chronological)
// into a PerformanceMetrics summary.
func ComputeMetrics(trades []ClosedTrade) PerformanceMetrics {
	if len(trades) == 0 {
		return PerformanceMetrics{}
	}
	var wins int
	var grossProfit, grossLoss, sumR, sumPnL, sumPnLSq float64
	equity, peak, maxDD := 0.0, 0.0, 0.0

	for _, t := range trades {
		if t.PnL > 0 {
			wins++
			grossProfit += t.PnL
		} else {
			grossLoss += -t.PnL
		}
		sumR += t.RMultiple
		sumPnL += t.PnL
		sumPnLSq += t.PnL * t.PnL

		equity += t.PnL
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			dd := (peak - equity) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}

	n := float64(len(trades))
	mean := sumPnL / n
	variance := sumPnLSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	sharpe := 0.0
	if variance > 0 {
		sharpe = mean / math.Sqrt(variance)
	}

	pf := math.Inf(1)
	if grossLoss > 0 {
		pf = grossProfit / grossLoss
	}

	return PerformanceMetrics{
		TradeCount:     len(trades),
		WinRate:        float64(wins) / n,
		AvgR:           sumR / n,
		ProfitFactor:   pf,
		MaxDrawdownPct: maxDD,
		SharpeLike:     sharpe,
	}
}

// ComputeBuckets partitions trades by regime and computes metrics per
// bucket.
func ComputeBuckets(trades []ClosedTrade) ConditionBuckets {
	byRegime := make(map[Regime][]ClosedTrade)
	for _, t := range trades {
		byRegime[t.Regime] = append(byRegime[t.Regime], t)
	}
	out := make(ConditionBuckets, len(byRegime))
	for regime, ts := range byRegime {
		out[regime] = ComputeMetrics(ts)
	}
	return out
}

// ComputeLossClusters scans chronological trades for runs of consecutive
// losers.
func ComputeLossClusters(trades []ClosedTrade) LossClusters {
	var current, max, clusters int
	for _, t := range trades {
		if t.PnL < 0 {
			current++
			if current == 1 {
				clusters++
			}
			if current > max {
				max = current
			}
		} else {
			current = 0
		}
	}
	return LossClusters{MaxConsecutiveLosses: max, ClusterCount: clusters}
}
