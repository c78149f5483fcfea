package engine

import (
	"context"
	"time"

	"github.com/paperbot/trading-engine/internal/refinement"
	"github.com/paperbot/trading-engine/internal/strategyparam"
)

const refinementCheckInterval = 60 * time.Second

// refinementLoop checks once a minute whether the refinement cadence has
// elapsed and no cycle is in flight, and starts one if so.
func (e *Engine) refinementLoop(ctx context.Context) {
	defer e.wg.Done()

	tick := time.NewTicker(refinementCheckInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			e.maybeRefine(ctx, false)
		}
	}
}

// ForceRefinement starts a refinement cycle immediately, skipping the
// cadence check (but not the single-flight rule).
func (e *Engine) ForceRefinement(ctx context.Context) bool {
	return e.maybeRefine(ctx, true)
}

func (e *Engine) maybeRefine(ctx context.Context, force bool) bool {
	e.strategyMu.Lock()
	last := e.strategy.LastRefinementUnixMs
	e.strategyMu.Unlock()

	if !e.refClock.TryStart(last, e.now().UnixMilli(), force) {
		return false
	}
	go func() {
		defer e.refClock.Finish()
		e.runRefinement(ctx)
	}()
	return true
}

// runRefinement executes one cycle: closed trades from the trailing 24h
// feed the metrics, the candidate is bounded and walk-forward validated
// against a 70/30 chronological split, and acceptance commits a new
// strategy version. Failures surface as warnings, never as errors.
func (e *Engine) runRefinement(ctx context.Context) {
	nowMs := e.now().UnixMilli()
	cutoff := nowMs - 24*time.Hour.Milliseconds()

	e.acctMu.Lock()
	var recent []closedTradeRecord
	for _, t := range e.closedTrades {
		if t.ClosedUnixMs >= cutoff {
			recent = append(recent, t)
		}
	}
	e.acctMu.Unlock()

	closed := make([]refinement.ClosedTrade, len(recent))
	for i, t := range recent {
		closed[i] = t.ClosedTrade
	}

	// 70/30 chronological split; the forward leg is replayed through
	// each parameter set by re-applying its entry threshold to the
	// setup score each lot was entered on.
	split := int(0.7 * float64(len(recent)))
	forward := recent[split:]
	filter := func(params strategyparam.Parameters) []refinement.ClosedTrade {
		var out []refinement.ClosedTrade
		for _, t := range forward {
			if t.EntryScore >= params.MinScore {
				out = append(out, t.ClosedTrade)
			}
		}
		return out
	}

	e.strategyMu.Lock()
	result := refinement.RunCycle(ctx, e.strategy, e.advisor, closed, filter, filter, nowMs)
	version := e.strategy.Version
	e.strategyMu.Unlock()

	switch {
	case !result.Ran:
		e.log.Info().Str("warning", result.Warning).Msg("refinement skipped")
	case result.Accepted:
		e.log.Info().Int64("version", version).Msg("refinement accepted, new strategy version committed")
		if err := e.notifier.NotifyRefinement(ctx, true, version, ""); err != nil {
			e.log.Warn().Err(err).Msg("refinement notification failed")
		}
	default:
		e.log.Info().Str("warning", result.Warning).Msg("refinement rejected, previous strategy retained")
		if err := e.notifier.NotifyRefinement(ctx, false, version, result.Warning); err != nil {
			e.log.Warn().Err(err).Msg("refinement notification failed")
		}
	}
}
