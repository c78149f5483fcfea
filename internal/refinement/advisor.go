package refinement

import (
	"context"

	"github.com/paperbot/trading-engine/internal/strategyparam"
)

// Candidate is the proposed parameter delta an Advisor returns for one
// refinement cycle, before bounding and walk-forward validation.
type Candidate struct {
	MinScore      float64
	ATRMultiplier float64
	StopLossATR   float64
}

// Advisor requests a candidate parameter set from an external process
// (an LLM-backed strategy advisor in the out-of-scope HTTP façade). The
// concrete prompt construction lives outside this repository; this
// interface is the seam an external advisor plugs into.
type Advisor interface {
	Propose(ctx context.Context, metrics PerformanceMetrics, buckets ConditionBuckets, clusters LossClusters) (Candidate, error)
}

// HeuristicFallback is the deterministic candidate generator used when no
// Advisor is configured or the Advisor call fails: raise minScore on weak
// win-rate, tighten atrMultiplier on drawdown, tighten stopLossATR on
// weak average R-multiple.
func HeuristicFallback(current strategyparam.Parameters, m PerformanceMetrics) Candidate {
	c := Candidate{
		MinScore:      current.MinScore,
		ATRMultiplier: current.ATRMultiplier,
		StopLossATR:   current.StopLossATR,
	}
	if m.WinRate < 0.45 {
		c.MinScore = current.MinScore + 0.03
	}
	if m.MaxDrawdownPct > 0.08 {
		c.ATRMultiplier = current.ATRMultiplier * 0.9
	}
	if m.AvgR < 0.3 {
		c.StopLossATR = current.StopLossATR * 0.92
	}
	return c
}
