package refinement

// WalkForwardWindow is one chronological training/testing split result.
type WalkForwardWindow struct {
	Sharpe         float64
	ProfitFactor   float64
	DrawdownPct    float64
	ForwardTrades  int
}

// WalkForwardResult is the aggregate output of Run: one window per split
// plus how many windows accepted the candidate.
type WalkForwardResult struct {
	Windows       []WalkForwardWindow
	AcceptedCount int
}

// Run evaluates the forward leg of a walk-forward test. The caller makes
// the 70/30 chronological split and supplies forwardBaseline and
// forwardCandidate already filtered/simulated for each parameter set
// (bar replay is an engine-level concern). Run builds a single window
// from the candidate leg and applies Accepts to the two legs;
// baselineDrawdown is not consulted.
func Run(forwardBaseline, forwardCandidate []ClosedTrade, baselineDrawdown float64) WalkForwardResult {
	if len(forwardBaseline) == 0 && len(forwardCandidate) == 0 {
		return WalkForwardResult{}
	}
	baseMetrics := ComputeMetrics(forwardBaseline)
	candMetrics := ComputeMetrics(forwardCandidate)

	window := WalkForwardWindow{
		Sharpe:        candMetrics.SharpeLike,
		ProfitFactor:  candMetrics.ProfitFactor,
		DrawdownPct:   candMetrics.MaxDrawdownPct,
		ForwardTrades: len(forwardCandidate),
	}

	accepted := Accepts(baseMetrics, candMetrics, len(forwardBaseline), len(forwardCandidate))
	result := WalkForwardResult{Windows: []WalkForwardWindow{window}}
	if accepted {
		result.AcceptedCount = 1
	}
	return result
}

// Accepts applies the walk-forward acceptance criteria: candidate
// drawdown not worse than baseline, profit factor at least as good, and
// forward-trade count at least max(6, 0.5*baseline).
func Accepts(baseline, candidate PerformanceMetrics, baselineTradeCount, candidateTradeCount int) bool {
	minTrades := 6.0
	if half := 0.5 * float64(baselineTradeCount); half > minTrades {
		minTrades = half
	}
	if float64(candidateTradeCount) < minTrades {
		return false
	}
	if candidate.MaxDrawdownPct > baseline.MaxDrawdownPct {
		return false
	}
	if candidate.ProfitFactor < baseline.ProfitFactor {
		return false
	}
	return true
}
