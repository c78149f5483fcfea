// Package execution implements the Execution Simulator: a deterministic
// spread + slippage + fee fill model seeded by hash(symbol|ts|side).
package execution

import (
	"fmt"
	"hash/fnv"

	"github.com/paperbot/trading-engine/internal/money"
)

// Side is the execution direction.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

func dir(side Side) float64 {
	if side == Buy {
		return 1
	}
	return -1
}

// hashUnit derives a deterministic value in [0,1) from symbol, ts and
// side, making the simulator reproducible for replay/backtesting without
// any PRNG state.
func hashUnit(symbol string, ts int64, side Side) float64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%s", symbol, ts, side)
	return float64(h.Sum64()%1_000_000) / 1_000_000
}

// Simulation is the deterministic fill record for one simulated
// execution: the computed spread/slippage/fee and resulting fill price.
type Simulation struct {
	Symbol    string
	Side      Side
	Close     float64
	AtrPct    float64
	Spread    float64
	Slippage  float64
	FillPrice money.Amount
	Fee       money.Amount
	Qty       money.Amount
}

// FeeRate is the fraction of notional charged on every fill.
type FeeRate float64

// Entry computes a BUY or SELL entry fill: half-spread plus slippage
// applied in the direction of the order.
func Entry(symbol string, ts int64, side Side, close, atrPct, qty float64, feeRate FeeRate) Simulation {
	spread := close * (0.00015 + minF(0.001, 0.18*atrPct))
	slippage := close * (0.00005 + 0.08*atrPct + 0.0002*hashUnit(symbol, ts, side))

	fillPrice := close + dir(side)*(spread/2+slippage)
	fee := float64(feeRate) * fillPrice * qty

	return Simulation{
		Symbol:    symbol,
		Side:      side,
		Close:     close,
		AtrPct:    atrPct,
		Spread:    spread,
		Slippage:  slippage,
		FillPrice: money.Price(fillPrice),
		Fee:       money.Raw(fee),
		Qty:       money.Size(qty),
	}
}

// ExitResult is the fill plus the realized PnL and R-multiple produced by
// closing a lot.
type ExitResult struct {
	Simulation   Simulation
	PnL          money.Amount
	RMultiple    float64
}

// Exit computes a SELL exit fill and its realized PnL/R-multiple: same
// spread/slippage formula with dir=-1, pnl = (fill-entry)*qty -
// entryFee - exitFee, rMultiple = pnl / (initialRiskPerUnit*qty).
func Exit(symbol string, ts int64, close, atrPct, qty, entryPrice, entryFee float64, initialRiskPerUnit float64, feeRate FeeRate) ExitResult {
	sim := Entry(symbol, ts, Sell, close, atrPct, qty, feeRate)

	fill := sim.FillPrice.Float64()
	pnl := (fill-entryPrice)*qty - entryFee - sim.Fee.Float64()

	rMultiple := 0.0
	if initialRiskPerUnit > 0 && qty > 0 {
		rMultiple = pnl / (initialRiskPerUnit * qty)
	}

	// PnL stays unrounded here; rounding happens once, at the store
	// boundary, so balance arithmetic and recorded PnL never drift.
	return ExitResult{
		Simulation: sim,
		PnL:        money.Raw(pnl),
		RMultiple:  rMultiple,
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
