// Package risk implements the Risk Manager: layered gates for BUY/SELL
// eligibility and ATR-based position sizing.
package risk

import (
	"fmt"
	"sync"

	"github.com/paperbot/trading-engine/internal/refinement"
	"github.com/paperbot/trading-engine/internal/strategyparam"
)

// Gate names recorded in Decision reasons when a BUY is rejected.
const (
	GateBalance        = "balance_floor"
	GateRegime         = "regime_chop"
	GateConcurrency    = "max_concurrent_trades"
	GateDailyLoss      = "daily_loss_limit"
	GateLossStreak     = "kill_switch_losses"
	GateVolatility     = "atr_out_of_band"
	GateNotionalFloor  = "notional_floor"
)

const (
	minBalanceFloor  = 15
	minNotional      = 10
)

// BuyCheckInput bundles the account/market state a BUY gate evaluation
// needs.
type BuyCheckInput struct {
	Balance           float64
	Equity            float64
	Regime            refinement.Regime
	OpenPositions     int
	DailyRealizedPnL  float64
	LossStreak        int
	AtrPct            float64
	Price             float64
	ATR               float64
	Params            strategyparam.Parameters
}

// SizingResult is the outcome of a passed BUY gate: the quantity and
// stop/take-profit distances to apply.
type SizingResult struct {
	Quantity         float64
	StopDistance     float64
	TakeProfitDist   float64
	EffectiveRisk    float64
}

// Manager evaluates the layered BUY/SELL risk gates. It holds no trading
// state of its own beyond consecutive-loss and daily PnL bookkeeping —
// positions and balance live in the ledger.
type Manager struct {
	mu sync.RWMutex

	dailyRealizedPnL float64
	lossStreak       int
}

// New creates a Manager ready to use.
func New() *Manager {
	return &Manager{}
}

// RecordTradeClose updates daily PnL and consecutive-loss bookkeeping
// after a trade closes.
func (m *Manager) RecordTradeClose(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyRealizedPnL += pnl
	if pnl < 0 {
		m.lossStreak++
	} else if pnl > 0 {
		m.lossStreak = 0
	}
}

// ResetDaily clears daily PnL accumulation (called at the UTC day roll).
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyRealizedPnL = 0
}

// DailyRealizedPnL returns the running total for the current day.
func (m *Manager) DailyRealizedPnL() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dailyRealizedPnL
}

// LossStreak returns the current consecutive-loss count.
func (m *Manager) LossStreak() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lossStreak
}

// CheckBuy evaluates the ordered BUY gate chain. It returns the first
// failing gate name, or "" if every gate passes.
func (m *Manager) CheckBuy(in BuyCheckInput) string {
	if in.Balance <= minBalanceFloor {
		return GateBalance
	}
	if in.Regime == refinement.RegimeChop {
		return GateRegime
	}
	if in.OpenPositions >= in.Params.MaxConcurrentTrades {
		return GateConcurrency
	}
	maxLoss := in.Params.DailyMaxLossPct * in.Equity
	if in.DailyRealizedPnL <= -maxLoss {
		return GateDailyLoss
	}
	if in.LossStreak >= in.Params.KillSwitchLosses {
		return GateLossStreak
	}
	if in.AtrPct < in.Params.MinAtrPct || in.AtrPct > in.Params.MaxAtrPct {
		return GateVolatility
	}
	return ""
}

// SizeBuy computes the ATR-based position size for a BUY that has already
// passed CheckBuy. It returns an error if the resulting notional falls
// below the $10 floor.
func (m *Manager) SizeBuy(in BuyCheckInput) (SizingResult, error) {
	m.mu.RLock()
	lossStreak := m.lossStreak
	dailyPnL := m.dailyRealizedPnL
	m.mu.RUnlock()

	base := in.Equity * in.Params.MaxRiskPerTradePct

	streakMultiplier := 1 - 0.15*float64(lossStreak)
	if streakMultiplier < 0.45 {
		streakMultiplier = 0.45
	}

	ddMultiplier := 1.0
	maxDailyLoss := in.Params.DailyMaxLossPct * in.Equity
	if dailyPnL < 0 && maxDailyLoss > 0 {
		ddMultiplier = 1 + dailyPnL/maxDailyLoss
		if ddMultiplier < 0.5 {
			ddMultiplier = 0.5
		}
	}

	effectiveRisk := base * streakMultiplier * ddMultiplier

	stopDistance := in.ATR * in.Params.StopLossATR * in.Params.ATRMultiplier
	takeProfitDist := in.ATR * in.Params.TakeProfitATR * in.Params.ATRMultiplier
	if stopDistance <= 0 {
		return SizingResult{}, fmt.Errorf("risk: non-positive stop distance")
	}

	byRisk := effectiveRisk / stopDistance
	byBalance := in.Balance / in.Price
	qty := byRisk
	if byBalance < qty {
		qty = byBalance
	}

	notional := qty * in.Price
	if notional < minNotional {
		return SizingResult{}, fmt.Errorf("risk: %s: notional %.4f below floor %.2f", GateNotionalFloor, notional, float64(minNotional))
	}

	return SizingResult{
		Quantity:       qty,
		StopDistance:   stopDistance,
		TakeProfitDist: takeProfitDist,
		EffectiveRisk:  effectiveRisk,
	}, nil
}

// CheckSell reports whether a SELL is allowed: holdings for the symbol
// must be positive. Quantity defaults to holdings unless partialQty > 0,
// in which case it is capped to holdings.
func CheckSell(holdings, partialQty float64) (qty float64, allowed bool) {
	if holdings <= 0 {
		return 0, false
	}
	if partialQty <= 0 || partialQty > holdings {
		return holdings, true
	}
	return partialQty, true
}
