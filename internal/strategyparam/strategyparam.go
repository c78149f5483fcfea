// Package strategyparam defines the immutable StrategyParameters value and
// its sanitizer bounds, plus the versioned, append-only StrategyState that
// wraps it.
package strategyparam

import "fmt"

// Parameters is an immutable strategy-parameter set. Once committed via
// State.Commit it is never mutated; refinement always produces a new
// value and a new version.
type Parameters struct {
	MinScore            float64
	ATRMultiplier       float64
	StopLossATR         float64
	TakeProfitATR       float64
	MaxRiskPerTradePct  float64
	DailyMaxLossPct     float64
	MaxConcurrentTrades int
	KillSwitchLosses    int
	MinAtrPct           float64
	MaxAtrPct           float64
}

// bound describes the sanitizer's valid closed interval per field.
type bound struct{ lo, hi float64 }

var bounds = map[string]bound{
	"minScore":            {0.5, 0.95},
	"atrMultiplier":       {0.6, 2.5},
	"stopLossATR":         {0.8, 3.5},
	"takeProfitATR":       {1.2, 5},
	"maxRiskPerTradePct":  {0.003, 0.03},
	"dailyMaxLossPct":     {0.01, 0.1},
	"maxConcurrentTrades": {1, 5},
	"killSwitchLosses":    {2, 6},
	"minAtrPct":           {0.0008, 0.02},
	"maxAtrPct":           {0.005, 0.08},
}

// Default returns a conservative, fully bounded default parameter set.
func Default() Parameters {
	return Parameters{
		MinScore:            0.62,
		ATRMultiplier:       1.2,
		StopLossATR:         1.5,
		TakeProfitATR:       2.5,
		MaxRiskPerTradePct:  0.01,
		DailyMaxLossPct:     0.04,
		MaxConcurrentTrades: 3,
		KillSwitchLosses:    4,
		MinAtrPct:           0.0015,
		MaxAtrPct:           0.03,
	}
}

// Clamp re-clamps every field to its sanitizer bound, in place semantics
// expressed as a pure function returning a new, valid value.
func (p Parameters) Clamp() Parameters {
	return Parameters{
		MinScore:            clampF(p.MinScore, bounds["minScore"]),
		ATRMultiplier:       clampF(p.ATRMultiplier, bounds["atrMultiplier"]),
		StopLossATR:         clampF(p.StopLossATR, bounds["stopLossATR"]),
		TakeProfitATR:       clampF(p.TakeProfitATR, bounds["takeProfitATR"]),
		MaxRiskPerTradePct:  clampF(p.MaxRiskPerTradePct, bounds["maxRiskPerTradePct"]),
		DailyMaxLossPct:     clampF(p.DailyMaxLossPct, bounds["dailyMaxLossPct"]),
		MaxConcurrentTrades: int(clampF(float64(p.MaxConcurrentTrades), bounds["maxConcurrentTrades"])),
		KillSwitchLosses:    int(clampF(float64(p.KillSwitchLosses), bounds["killSwitchLosses"])),
		MinAtrPct:           clampF(p.MinAtrPct, bounds["minAtrPct"]),
		MaxAtrPct:           clampF(p.MaxAtrPct, bounds["maxAtrPct"]),
	}
}

func clampF(v float64, b bound) float64 {
	if v < b.lo {
		return b.lo
	}
	if v > b.hi {
		return b.hi
	}
	return v
}

// Validate reports the first out-of-bounds field, if any.
func (p Parameters) Validate() error {
	checks := []struct {
		name string
		val  float64
		b    bound
	}{
		{"minScore", p.MinScore, bounds["minScore"]},
		{"atrMultiplier", p.ATRMultiplier, bounds["atrMultiplier"]},
		{"stopLossATR", p.StopLossATR, bounds["stopLossATR"]},
		{"takeProfitATR", p.TakeProfitATR, bounds["takeProfitATR"]},
		{"maxRiskPerTradePct", p.MaxRiskPerTradePct, bounds["maxRiskPerTradePct"]},
		{"dailyMaxLossPct", p.DailyMaxLossPct, bounds["dailyMaxLossPct"]},
		{"maxConcurrentTrades", float64(p.MaxConcurrentTrades), bounds["maxConcurrentTrades"]},
		{"killSwitchLosses", float64(p.KillSwitchLosses), bounds["killSwitchLosses"]},
		{"minAtrPct", p.MinAtrPct, bounds["minAtrPct"]},
		{"maxAtrPct", p.MaxAtrPct, bounds["maxAtrPct"]},
	}
	for _, c := range checks {
		if c.val < c.b.lo || c.val > c.b.hi {
			return fmt.Errorf("strategyparam: %s=%v out of bounds [%v,%v]", c.name, c.val, c.b.lo, c.b.hi)
		}
	}
	return nil
}

// BoundDelta clamps candidate relative to base by at most +/-15% of base's
// value, then re-clamps to the global sanitizer bounds.
func BoundDelta(base, candidate Parameters) Parameters {
	c := candidate
	c.MinScore = limitDelta(base.MinScore, c.MinScore)
	c.ATRMultiplier = limitDelta(base.ATRMultiplier, c.ATRMultiplier)
	c.StopLossATR = limitDelta(base.StopLossATR, c.StopLossATR)
	return c.Clamp()
}

func limitDelta(base, candidate float64) float64 {
	if base == 0 {
		return candidate
	}
	maxDelta := 0.15 * base
	lo, hi := base-maxDelta, base+maxDelta
	if lo > hi {
		lo, hi = hi, lo
	}
	if candidate < lo {
		return lo
	}
	if candidate > hi {
		return hi
	}
	return candidate
}

const (
	maxHistory  = 40
	maxWarnings = 20
)

// HistoryEntry records one committed version for audit/rollback.
type HistoryEntry struct {
	Version   int64
	Params    Parameters
	Notes     string
	CommittedAtUnixMs int64
}

// State is the process-wide singleton tracking the live parameter set, its
// version history, and refinement warnings. Callers must hold their own
// lock; State performs no internal synchronization so it composes cleanly
// with the engine's global strategy-state mutex.
type State struct {
	Current            Parameters
	Version            int64
	LastRefinementUnixMs int64
	History            []HistoryEntry
	Warnings           []string
}

// NewState seeds a fresh StrategyState at version 1 with the given
// parameters (already expected to be valid).
func NewState(initial Parameters) *State {
	return &State{
		Current: initial,
		Version: 1,
		History: []HistoryEntry{{Version: 1, Params: initial, Notes: "initial"}},
	}
}

// Commit installs candidate as the new current version. Version is
// strictly monotonic; history is pruned to the most recent maxHistory
// entries.
func (s *State) Commit(candidate Parameters, notes string, nowUnixMs int64) {
	s.Version++
	s.Current = candidate
	s.LastRefinementUnixMs = nowUnixMs
	s.History = append(s.History, HistoryEntry{
		Version:           s.Version,
		Params:            candidate,
		Notes:             notes,
		CommittedAtUnixMs: nowUnixMs,
	})
	if len(s.History) > maxHistory {
		s.History = s.History[len(s.History)-maxHistory:]
	}
}

// Warn appends a warning, bounding the buffer to the most recent
// maxWarnings entries.
func (s *State) Warn(msg string) {
	s.Warnings = append(s.Warnings, msg)
	if len(s.Warnings) > maxWarnings {
		s.Warnings = s.Warnings[len(s.Warnings)-maxWarnings:]
	}
}

// Snapshot returns an immutable copy of the current parameters for a
// single evaluation tick (copy-on-write: the evaluator never sees a
// parameter set that changes mid-tick).
func (s *State) Snapshot() Parameters {
	return s.Current
}
