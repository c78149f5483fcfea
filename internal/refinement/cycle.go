package refinement

import (
	"context"

	"github.com/paperbot/trading-engine/internal/strategyparam"
)

const minClosedTradesForCycle = 20

// CycleResult reports what a refinement cycle did, for logging and
// notification.
type CycleResult struct {
	Ran       bool
	Accepted  bool
	Warning   string
	NewVersion int64
}

// RunCycle runs one refinement cycle end to end: gather trades, compute
// metrics, request (or fall back to) a candidate, bound it, walk-forward
// validate it, and commit or reject. Errors never propagate — every
// failure path becomes a Warning and the previous strategy is retained.
func RunCycle(ctx context.Context, state *strategyparam.State, advisor Advisor, closedLast24h []ClosedTrade, forwardBaseline, forwardCandidateSim func(strategyparam.Parameters) []ClosedTrade, nowUnixMs int64) CycleResult {
	if len(closedLast24h) < minClosedTradesForCycle {
		state.Warn("refinement skipped: fewer than 20 closed trades in last 24h")
		return CycleResult{Ran: false, Warning: "insufficient trade volume"}
	}

	metrics := ComputeMetrics(closedLast24h)
	buckets := ComputeBuckets(closedLast24h)
	clusters := ComputeLossClusters(closedLast24h)

	var candidate Candidate
	if advisor != nil {
		c, err := advisor.Propose(ctx, metrics, buckets, clusters)
		if err != nil {
			candidate = HeuristicFallback(state.Current, metrics)
			state.Warn("advisor unavailable, used heuristic fallback: " + err.Error())
		} else {
			candidate = c
		}
	} else {
		candidate = HeuristicFallback(state.Current, metrics)
	}

	proposed := strategyparam.Parameters{
		MinScore:            candidate.MinScore,
		ATRMultiplier:       candidate.ATRMultiplier,
		StopLossATR:         candidate.StopLossATR,
		TakeProfitATR:       state.Current.TakeProfitATR,
		MaxRiskPerTradePct:  state.Current.MaxRiskPerTradePct,
		DailyMaxLossPct:     state.Current.DailyMaxLossPct,
		MaxConcurrentTrades: state.Current.MaxConcurrentTrades,
		KillSwitchLosses:    state.Current.KillSwitchLosses,
		MinAtrPct:           state.Current.MinAtrPct,
		MaxAtrPct:           state.Current.MaxAtrPct,
	}
	bounded := strategyparam.BoundDelta(state.Current, proposed)

	baselineTrades := forwardBaseline(state.Current)
	candidateTrades := forwardCandidateSim(bounded)
	baselineMetrics := ComputeMetrics(baselineTrades)
	candidateMetrics := ComputeMetrics(candidateTrades)

	if !Accepts(baselineMetrics, candidateMetrics, len(baselineTrades), len(candidateTrades)) {
		state.Warn("refinement rejected: candidate failed walk-forward acceptance")
		return CycleResult{Ran: true, Accepted: false, Warning: "walk-forward rejected candidate"}
	}

	state.Commit(bounded, "accepted via refinement cycle", nowUnixMs)
	return CycleResult{Ran: true, Accepted: true, NewVersion: state.Version}
}
