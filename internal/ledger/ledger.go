// Package ledger implements the Position Ledger: FIFO lots per symbol
// with stop-loss/take-profit levels, reconciling partial and full exits.
package ledger

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/paperbot/trading-engine/internal/money"
)

// ExitReason tags why an auto-exit scan closed a lot.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "STOP_LOSS"
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
)

// Lot is a single open position slice created by a BUY fill. It is
// exclusively owned by the Ledger; nothing outside this package mutates
// its fields after creation — a consume either removes it whole or
// replaces it with a smaller remaining lot, never edits Amount in place.
type Lot struct {
	ID                 string
	Symbol             string
	EntryPrice         money.Amount
	Amount             money.Amount
	StopLoss           money.Amount
	TakeProfit         money.Amount
	TS                 int64
	InitialRiskPerUnit money.Amount
	EntryFeePerUnit    money.Amount
	StrategyVersion    int64
}

// ConsumeResult is the weighted slice of lots a SELL consumed, used by the
// caller to compute the Execution Simulator's exit PnL.
type ConsumeResult struct {
	QtyConsumed        money.Amount
	WeightedEntryPrice money.Amount
	InitialRiskPerUnit money.Amount
	EntryFeePerUnit    money.Amount
	ConsumedLotIDs     []string
}

const dustThreshold = 1e-6

// Ledger holds the open lots, holdings and average entry price for every
// symbol. It performs its own locking so it can be shared across the
// per-symbol actor and any cross-symbol reporting path (e.g. the façade).
type Ledger struct {
	mu sync.RWMutex

	lots      map[string][]*Lot // symbol -> FIFO ordered lots, oldest first
	holdings  map[string]float64
	avgEntry  map[string]float64
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{
		lots:     make(map[string][]*Lot),
		holdings: make(map[string]float64),
		avgEntry: make(map[string]float64),
	}
}

// OpenLot creates a new lot from a BUY fill and appends it to the
// symbol's FIFO queue, then recomputes holdings/avg-entry.
func (l *Ledger) OpenLot(symbol string, entryPrice, amount, stopLoss, takeProfit money.Amount, ts int64, initialRiskPerUnit, entryFeePerUnit money.Amount, strategyVersion int64) *Lot {
	l.mu.Lock()
	defer l.mu.Unlock()

	lot := &Lot{
		ID:                 uuid.NewString(),
		Symbol:             symbol,
		EntryPrice:         entryPrice,
		Amount:             amount,
		StopLoss:           stopLoss,
		TakeProfit:         takeProfit,
		TS:                 ts,
		InitialRiskPerUnit: initialRiskPerUnit,
		EntryFeePerUnit:    entryFeePerUnit,
		StrategyVersion:    strategyVersion,
	}
	l.lots[symbol] = append(l.lots[symbol], lot)
	l.recomputeLocked(symbol)
	return lot
}

// Consume walks the symbol's FIFO lot queue — or, if targetLotID is
// non-empty, only that lot — consuming up to qty units and computing the
// weighted entryPrice/initialRiskPerUnit/entryFeePerUnit of the consumed
// slice. After consuming, holdings and avg-entry are
// recomputed from the remaining lots; if total remaining amount is below
// the dust threshold both are zeroed.
func (l *Ledger) Consume(symbol string, qty money.Amount, targetLotID string) (ConsumeResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := qty.Float64()
	if remaining <= 0 {
		return ConsumeResult{}, fmt.Errorf("ledger: consume qty must be positive")
	}

	lots := l.lots[symbol]
	var weightedNotional, weightedRisk, weightedFee, consumed float64
	var consumedIDs []string
	var survivors []*Lot

	for _, lot := range lots {
		if remaining <= 0 {
			survivors = append(survivors, lot)
			continue
		}
		if targetLotID != "" && lot.ID != targetLotID {
			survivors = append(survivors, lot)
			continue
		}

		avail := lot.Amount.Float64()
		take := avail
		if take > remaining {
			take = remaining
		}

		weightedNotional += lot.EntryPrice.Float64() * take
		weightedRisk += lot.InitialRiskPerUnit.Float64() * take
		weightedFee += lot.EntryFeePerUnit.Float64() * take
		consumed += take
		consumedIDs = append(consumedIDs, lot.ID)
		remaining -= take

		leftover := avail - take
		if leftover > dustThreshold {
			survivors = append(survivors, &Lot{
				ID:                 lot.ID,
				Symbol:             lot.Symbol,
				EntryPrice:         lot.EntryPrice,
				Amount:             money.Size(leftover),
				StopLoss:           lot.StopLoss,
				TakeProfit:         lot.TakeProfit,
				TS:                 lot.TS,
				InitialRiskPerUnit: lot.InitialRiskPerUnit,
				EntryFeePerUnit:    lot.EntryFeePerUnit,
				StrategyVersion:    lot.StrategyVersion,
			})
		}
	}

	if consumed == 0 {
		return ConsumeResult{}, fmt.Errorf("ledger: no matching lot to consume for %s", symbol)
	}

	l.lots[symbol] = survivors
	l.recomputeLocked(symbol)

	return ConsumeResult{
		QtyConsumed:        money.Size(consumed),
		WeightedEntryPrice: money.Price(weightedNotional / consumed),
		InitialRiskPerUnit: money.Raw(weightedRisk / consumed),
		EntryFeePerUnit:    money.Raw(weightedFee / consumed),
		ConsumedLotIDs:     consumedIDs,
	}, nil
}

// recomputeLocked rebuilds holdings/avgEntry for symbol from its current
// lot slice. Caller must hold l.mu.
func (l *Ledger) recomputeLocked(symbol string) {
	var total, notional float64
	for _, lot := range l.lots[symbol] {
		amt := lot.Amount.Float64()
		total += amt
		notional += lot.EntryPrice.Float64() * amt
	}
	if total < dustThreshold {
		l.holdings[symbol] = 0
		l.avgEntry[symbol] = 0
		return
	}
	l.holdings[symbol] = total
	l.avgEntry[symbol] = notional / total
}

// Holdings returns the current open quantity for a symbol.
func (l *Ledger) Holdings(symbol string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.holdings[symbol]
}

// AvgEntryPrice returns the size-weighted average entry price across all
// open lots for a symbol.
func (l *Ledger) AvgEntryPrice(symbol string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.avgEntry[symbol]
}

// OpenLots returns a copy of the current open lots for a symbol, oldest
// first.
func (l *Ledger) OpenLots(symbol string) []Lot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Lot, 0, len(l.lots[symbol]))
	for _, lot := range l.lots[symbol] {
		out = append(out, *lot)
	}
	return out
}

// ExitSignal is one auto-exit scan result.
type ExitSignal struct {
	LotID  string
	Reason ExitReason
}

// ScanAutoExits evaluates every open lot for symbol against the current
// mark price. Stop-loss is checked before take-profit on
// each lot. It does not mutate the ledger — the caller consumes the
// returned lots via Consume after routing the resulting SELL through the
// Execution Simulator and risk checks.
func (l *Ledger) ScanAutoExits(symbol string, markPrice float64) []ExitSignal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var signals []ExitSignal
	for _, lot := range l.lots[symbol] {
		sl := lot.StopLoss.Float64()
		tp := lot.TakeProfit.Float64()
		switch {
		case sl > 0 && markPrice <= sl:
			signals = append(signals, ExitSignal{LotID: lot.ID, Reason: ExitStopLoss})
		case tp > 0 && markPrice >= tp:
			signals = append(signals, ExitSignal{LotID: lot.ID, Reason: ExitTakeProfit})
		}
	}
	return signals
}
