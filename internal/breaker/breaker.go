// Package breaker implements the Circuit Breaker: a latching gate
// evaluated every tick that halts order placement until an explicit
// reset, regardless of how favorable later ticks look.
package breaker

import "sync"

// Thresholds configures the four latch conditions: daily drawdown,
// consecutive large losses, volatility spike. Stream instability always
// latches.
type Thresholds struct {
	DailyDrawdownPct       float64
	ConsecutiveLargeLosses int
	VolatilityPct          float64
}

// DefaultThresholds returns the stock thresholds: 5% daily drawdown, 3
// consecutive large losses, 6% volatility.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DailyDrawdownPct:       0.05,
		ConsecutiveLargeLosses: 3,
		VolatilityPct:          0.06,
	}
}

// Inputs is the per-tick state the breaker evaluates.
type Inputs struct {
	DailyDrawdownPct       float64
	ConsecutiveLargeLosses int
	VolatilityPct          float64
	StreamUnstable         bool
}

// Breaker is a latching gate: once tripped, Latched stays true and
// Reasons frozen until Reset is called explicitly.
type Breaker struct {
	mu      sync.RWMutex
	cfg     Thresholds
	latched bool
	reasons []string
}

// New creates a Breaker with the given thresholds.
func New(cfg Thresholds) *Breaker {
	return &Breaker{cfg: cfg}
}

// Evaluate folds in one tick's inputs. If already latched it is a no-op
// (the latch only clears via Reset); otherwise it checks every threshold
// and latches on the first violation it finds, recording every violated
// reason from this tick.
func (b *Breaker) Evaluate(in Inputs) (latched bool, reasons []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.latched {
		return true, b.reasons
	}

	var trip []string
	if in.DailyDrawdownPct >= b.cfg.DailyDrawdownPct {
		trip = append(trip, "daily_drawdown_exceeded")
	}
	if in.ConsecutiveLargeLosses >= b.cfg.ConsecutiveLargeLosses {
		trip = append(trip, "consecutive_large_losses")
	}
	if in.VolatilityPct >= b.cfg.VolatilityPct {
		trip = append(trip, "volatility_spike")
	}
	if in.StreamUnstable {
		trip = append(trip, "stream_unstable")
	}

	if len(trip) > 0 {
		b.latched = true
		b.reasons = trip
	}
	return b.latched, b.reasons
}

// Latched reports the current latch state without evaluating new inputs.
func (b *Breaker) Latched() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latched
}

// Reset explicitly clears the latch. This is the only way to resume
// order placement once tripped.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latched = false
	b.reasons = nil
}
