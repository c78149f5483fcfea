package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/paperbot/trading-engine/internal/candle"
	"github.com/paperbot/trading-engine/internal/execution"
	"github.com/paperbot/trading-engine/internal/history"
	"github.com/paperbot/trading-engine/internal/ledger"
	"github.com/paperbot/trading-engine/internal/money"
	"github.com/paperbot/trading-engine/internal/refinement"
	"github.com/paperbot/trading-engine/internal/risk"
)

type buyParams struct {
	symbol     string
	bar        candle.Candle
	atrPct     float64
	sizing     risk.SizingResult
	version    int64
	decisionID string
	score      float64
}

// idempotencyKey is stable across restarts: replaying the same bar and
// side can never mutate the ledger twice.
func idempotencyKey(symbol, timeframe string, decisionTS int64, side string) string {
	return fmt.Sprintf("%s|%s|%d|%s", symbol, timeframe, decisionTS, side)
}

// executeBuy runs the BUY write path: idempotency check, order, ledger
// lot, fill, trade row, snapshot — in that order, so a reader of the
// history never observes a fill without its accepted order.
func (e *Engine) executeBuy(ctx context.Context, p buyParams) {
	key := idempotencyKey(p.symbol, e.cfg.Timeframe, p.bar.TS, string(execution.Buy))
	if _, found, err := e.store.FindOrder(ctx, key); err != nil {
		e.log.Error().Err(err).Msg("idempotency lookup failed")
		return
	} else if found {
		e.recordSkipped(ctx, key, p.symbol, string(execution.Buy), p.decisionID, p.bar.TS)
		return
	}

	sim := execution.Entry(p.symbol, p.bar.TS, execution.Buy, p.bar.Close, p.atrPct, p.sizing.Quantity, e.feeRate())
	fill := sim.FillPrice.Float64()
	qty := sim.Qty.Float64()
	fee := sim.Fee.Float64()
	cost := money.Raw(fill*qty + fee)

	orderID := uuid.NewString()
	order := history.Order{
		OrderID:        orderID,
		DecisionID:     p.decisionID,
		IdempotencyKey: key,
		Symbol:         p.symbol,
		Side:           string(execution.Buy),
		Qty:            qty,
		RequestedPrice: p.bar.Close,
		TS:             p.bar.TS,
	}

	e.acctMu.Lock()
	insufficient := cost.GreaterThan(e.balance)
	e.acctMu.Unlock()
	if insufficient {
		order.Status = history.OrderRejected
		if err := e.store.AppendOrder(ctx, order); err != nil {
			e.log.Error().Err(err).Msg("order write failed")
		}
		return
	}

	order.Status = history.OrderAccepted
	if err := e.store.AppendOrder(ctx, order); err != nil {
		e.log.Error().Err(err).Msg("order write failed, buy abandoned")
		return
	}

	stopLoss := fill - p.sizing.StopDistance
	takeProfit := fill + p.sizing.TakeProfitDist
	lot := e.ledger.OpenLot(
		p.symbol,
		sim.FillPrice,
		sim.Qty,
		money.Price(stopLoss),
		money.Price(takeProfit),
		p.bar.TS,
		money.Price(p.sizing.StopDistance),
		money.Raw(fee/qty),
		p.version,
	)

	e.acctMu.Lock()
	e.balance = e.balance.Sub(cost)
	e.lastTradeMs = e.now().UnixMilli()
	e.lotScores[lot.ID] = p.score
	e.acctMu.Unlock()

	if err := e.store.AppendFill(ctx, history.Fill{
		FillID:   uuid.NewString(),
		OrderID:  orderID,
		AvgPrice: fill,
		Qty:      qty,
		Fees:     fee,
		Status:   history.FillFilled,
		TS:       p.bar.TS,
	}); err != nil {
		e.log.Error().Err(err).Msg("fill write failed")
	}

	tradeID := uuid.NewString()
	if err := e.store.AppendTrade(ctx, history.Trade{
		ID:         tradeID,
		TsOpen:     p.bar.TS,
		Symbol:     p.symbol,
		Side:       string(execution.Buy),
		Qty:        qty,
		EntryPrice: fill,
		Fee:        fee,
		SLPrice:    &stopLoss,
		TPPrice:    &takeProfit,
		Slippage:   sim.Slippage,
		Status:     history.TradeOpen,
		DecisionID: p.decisionID,
	}); err != nil {
		e.log.Error().Err(err).Msg("trade write failed")
	}

	e.acctMu.Lock()
	e.lotTrades[lot.ID] = tradeID
	e.acctMu.Unlock()

	e.writeSnapshot(ctx, p.symbol, p.bar.TS)
	e.countTrade()

	e.log.Info().
		Str("symbol", p.symbol).
		Float64("qty", qty).
		Float64("fill", fill).
		Float64("stop_loss", stopLoss).
		Float64("take_profit", takeProfit).
		Msg("buy filled")
}

type sellParams struct {
	symbol      string
	barTS       int64
	closePx     float64
	atrPct      float64
	qty         float64
	targetLotID string
	regime      refinement.Regime
	exitReason  string
	decisionID  string
	idKey       string // overrides the bar-derived key (force-trade path)
}

// executeSell runs the SELL write path, consuming FIFO lots (or one
// targeted lot for an auto-exit) and closing the trade rows of every lot
// consumed whole.
func (e *Engine) executeSell(ctx context.Context, p sellParams) {
	qty, allowed := risk.CheckSell(e.ledger.Holdings(p.symbol), p.qty)
	if !allowed {
		return
	}
	if p.targetLotID != "" {
		qty = p.qty
	}

	key := p.idKey
	if key == "" {
		key = idempotencyKey(p.symbol, e.cfg.Timeframe, p.barTS, string(execution.Sell))
		if p.targetLotID != "" {
			// One bar can stop out several lots; each targeted exit
			// keys its own order.
			key += "|" + p.targetLotID
		}
	}
	if _, found, err := e.store.FindOrder(ctx, key); err != nil {
		e.log.Error().Err(err).Msg("idempotency lookup failed")
		return
	} else if found {
		e.recordSkipped(ctx, key, p.symbol, string(execution.Sell), p.decisionID, p.barTS)
		return
	}

	// Snapshot lots before consuming so per-lot PnL can be attributed
	// to the trade rows afterwards.
	before := e.ledger.OpenLots(p.symbol)

	orderID := uuid.NewString()
	if err := e.store.AppendOrder(ctx, history.Order{
		OrderID:        orderID,
		DecisionID:     p.decisionID,
		IdempotencyKey: key,
		Symbol:         p.symbol,
		Side:           string(execution.Sell),
		Qty:            qty,
		RequestedPrice: p.closePx,
		Status:         history.OrderAccepted,
		TS:             p.barTS,
	}); err != nil {
		e.log.Error().Err(err).Msg("order write failed, sell abandoned")
		return
	}

	res, err := e.ledger.Consume(p.symbol, money.Size(qty), p.targetLotID)
	if err != nil {
		e.log.Error().Err(err).Str("symbol", p.symbol).Msg("lot consume failed")
		return
	}
	consumedQty := res.QtyConsumed.Float64()
	entryFeeTotal := res.EntryFeePerUnit.Float64() * consumedQty

	exit := execution.Exit(
		p.symbol, p.barTS, p.closePx, p.atrPct,
		consumedQty,
		res.WeightedEntryPrice.Float64(),
		entryFeeTotal,
		res.InitialRiskPerUnit.Float64(),
		e.feeRate(),
	)
	fill := exit.Simulation.FillPrice.Float64()
	exitFee := exit.Simulation.Fee.Float64()
	pnl := exit.PnL.Float64()

	proceeds := money.Raw(fill*consumedQty - exitFee)
	nowMs := e.now().UnixMilli()

	e.acctMu.Lock()
	e.balance = e.balance.Add(proceeds)
	e.lastTradeMs = nowMs
	e.acctMu.Unlock()

	e.riskMgr.RecordTradeClose(pnl)

	// Close the trade row of every lot consumed whole, attributing each
	// its own slice of the aggregate exit.
	remainingByID := make(map[string]bool)
	for _, lot := range e.ledger.OpenLots(p.symbol) {
		remainingByID[lot.ID] = true
	}
	for _, lot := range before {
		consumed := false
		for _, id := range res.ConsumedLotIDs {
			if id == lot.ID {
				consumed = true
				break
			}
		}
		if !consumed || remainingByID[lot.ID] {
			continue
		}
		lotQty := lot.Amount.Float64()
		lotEntry := lot.EntryPrice.Float64()
		lotPnL := (fill-lotEntry)*lotQty - lot.EntryFeePerUnit.Float64()*lotQty - exitFee*lotQty/consumedQty
		lotPnLPct := 0.0
		if lotEntry > 0 && lotQty > 0 {
			lotPnLPct = lotPnL / (lotEntry * lotQty)
		}

		e.acctMu.Lock()
		tradeID := e.lotTrades[lot.ID]
		entryScore := e.lotScores[lot.ID]
		delete(e.lotTrades, lot.ID)
		delete(e.lotScores, lot.ID)
		rPerUnit := lot.InitialRiskPerUnit.Float64()
		rMultiple := 0.0
		if rPerUnit > 0 {
			rMultiple = lotPnL / (rPerUnit * lotQty)
		}
		e.closedTrades = append(e.closedTrades, closedTradeRecord{
			ClosedTrade: refinement.ClosedTrade{
				PnL:          lotPnL,
				RMultiple:    rMultiple,
				Regime:       p.regime,
				ClosedUnixMs: nowMs,
			},
			EntryScore: entryScore,
		})
		e.acctMu.Unlock()

		if tradeID == "" {
			continue
		}
		if err := e.store.CloseTrade(ctx, tradeID, p.barTS, fill, lotPnL, lotPnLPct, p.exitReason, history.TradeClosed); err != nil {
			e.log.Error().Err(err).Str("trade_id", tradeID).Msg("trade close write failed")
		}
	}

	if err := e.store.AppendFill(ctx, history.Fill{
		FillID:   uuid.NewString(),
		OrderID:  orderID,
		AvgPrice: fill,
		Qty:      consumedQty,
		Fees:     exitFee,
		Status:   history.FillFilled,
		TS:       p.barTS,
	}); err != nil {
		e.log.Error().Err(err).Msg("fill write failed")
	}

	e.writeSnapshot(ctx, p.symbol, p.barTS)
	e.countTrade()

	if p.exitReason == string(ledger.ExitStopLoss) || p.exitReason == string(ledger.ExitTakeProfit) {
		if err := e.notifier.NotifyExit(ctx, p.symbol, p.exitReason, pnl, exit.RMultiple); err != nil {
			e.log.Warn().Err(err).Msg("exit notification failed")
		}
	}

	e.log.Info().
		Str("symbol", p.symbol).
		Str("exit_reason", p.exitReason).
		Float64("qty", consumedQty).
		Float64("fill", fill).
		Float64("pnl", pnl).
		Float64("r_multiple", exit.RMultiple).
		Msg("sell filled")
}

func (e *Engine) recordSkipped(ctx context.Context, key, symbol, side, decisionID string, ts int64) {
	if err := e.store.AppendOrder(ctx, history.Order{
		OrderID:        uuid.NewString(),
		DecisionID:     decisionID,
		IdempotencyKey: key,
		Symbol:         symbol,
		Side:           side,
		Status:         history.OrderSkipped,
		TS:             ts,
	}); err != nil {
		e.log.Error().Err(err).Msg("skipped-order write failed")
	}
	e.log.Info().Str("key", key).Msg("duplicate order skipped")
}

// writeSnapshot records the post-fill balance/exposure snapshot. Total
// portfolio value is recomputed here, never carried forward.
func (e *Engine) writeSnapshot(ctx context.Context, symbol string, ts int64) {
	e.acctMu.Lock()
	snap := history.PositionSnapshot{
		TS:                  ts,
		Symbol:              symbol,
		Balance:             e.balance.Float64(),
		PositionSize:        e.ledger.Holdings(symbol),
		AvgEntryPrice:       e.ledger.AvgEntryPrice(symbol),
		TotalPortfolioValue: e.equityLocked(),
	}
	e.acctMu.Unlock()

	if err := e.store.AppendSnapshot(ctx, snap); err != nil {
		e.log.Error().Err(err).Msg("snapshot write failed")
	}
}
