package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/paperbot/trading-engine/internal/adapter"
	"github.com/paperbot/trading-engine/internal/execution"
	"github.com/paperbot/trading-engine/internal/history"
	"github.com/paperbot/trading-engine/internal/money"
	"github.com/paperbot/trading-engine/internal/refinement"
)

// ForceTradeRequest is an operator-initiated trade. A BUY uses Qty when it
// is positive, otherwise NotionalUSD at the mark price, and fails when
// neither is positive; SELL defaults to the
// full position when both are zero. A caller-supplied DecisionID makes
// the request idempotent across retries.
type ForceTradeRequest struct {
	Symbol      string
	Side        string
	NotionalUSD float64
	Qty         float64
	TpPct       float64
	SlPct       float64
	TpPrice     float64
	SlPrice     float64
	DecisionID  string
}

// ForceTrade executes an operator trade through the same simulate/
// ledger/history path as an engine signal. The idempotency key derives
// from the decision ID, so retrying a request replays as a SKIPPED
// order with no ledger mutation.
func (e *Engine) ForceTrade(ctx context.Context, req ForceTradeRequest) (tradeID, decisionID string, err error) {
	symbol := adapter.Normalize(req.Symbol)
	side := req.Side
	if side != string(execution.Buy) && side != string(execution.Sell) {
		return "", "", fmt.Errorf("engine: force-trade: invalid side %q", req.Side)
	}

	e.acctMu.Lock()
	mark := e.lastMark[symbol]
	e.acctMu.Unlock()
	if mark <= 0 {
		bars := e.market.Buffer(symbol)
		if len(bars) == 0 {
			return "", "", fmt.Errorf("engine: force-trade: no market data for %s", symbol)
		}
		mark = bars[len(bars)-1].Close
	}

	decisionID = req.DecisionID
	if decisionID == "" {
		decisionID = uuid.NewString()
	}
	nowMs := e.now().UnixMilli()

	key := fmt.Sprintf("%s|%s|%s|%s", symbol, e.cfg.Timeframe, decisionID, side)
	if _, found, ferr := e.store.FindOrder(ctx, key); ferr != nil {
		return "", "", fmt.Errorf("engine: force-trade: idempotency lookup: %w", ferr)
	} else if found {
		e.recordSkipped(ctx, key, symbol, side, decisionID, nowMs)
		return "", decisionID, nil
	}

	if err := e.store.AppendDecision(ctx, history.Decision{
		ID:           decisionID,
		TS:           nowMs,
		Symbol:       symbol,
		Timeframe:    e.cfg.Timeframe,
		Signal:       history.DecisionType(side),
		Confidence:   1,
		Regime:       string(refinement.RegimeRanging),
		Reasons:      []string{"force-trade"},
		ModelVersion: e.currentVersion(),
	}); err != nil {
		return "", "", fmt.Errorf("engine: force-trade: decision write: %w", err)
	}
	e.countEvaluation()
	e.countSignal()

	if side == string(execution.Sell) {
		e.executeSell(ctx, sellParams{
			symbol:     symbol,
			barTS:      nowMs,
			closePx:    mark,
			qty:        req.Qty,
			regime:     refinement.RegimeRanging,
			exitReason: "FORCE_TRADE",
			decisionID: decisionID,
			idKey:      key,
		})
		return "", decisionID, nil
	}

	qty := req.Qty
	if qty <= 0 {
		if req.NotionalUSD <= 0 {
			return "", "", fmt.Errorf("engine: force-trade: qty or notionalUsd required")
		}
		qty = req.NotionalUSD / mark
	}

	sim := execution.Entry(symbol, nowMs, execution.Buy, mark, 0, qty, e.feeRate())
	fill := sim.FillPrice.Float64()
	fee := sim.Fee.Float64()
	cost := money.Raw(fill*qty + fee)

	e.acctMu.Lock()
	insufficient := cost.GreaterThan(e.balance)
	e.acctMu.Unlock()
	if insufficient {
		return "", "", fmt.Errorf("engine: force-trade: insufficient balance")
	}

	stopLoss, takeProfit := forcedLevels(fill, req)

	orderID := uuid.NewString()
	if err := e.store.AppendOrder(ctx, history.Order{
		OrderID:        orderID,
		DecisionID:     decisionID,
		IdempotencyKey: key,
		Symbol:         symbol,
		Side:           side,
		Qty:            qty,
		RequestedPrice: mark,
		Status:         history.OrderAccepted,
		TS:             nowMs,
	}); err != nil {
		return "", "", fmt.Errorf("engine: force-trade: order write: %w", err)
	}

	riskPerUnit := fill - stopLoss
	if riskPerUnit <= 0 {
		riskPerUnit = fill * 0.01
	}
	lot := e.ledger.OpenLot(
		symbol,
		sim.FillPrice,
		money.Size(qty),
		money.Price(stopLoss),
		money.Price(takeProfit),
		nowMs,
		money.Price(riskPerUnit),
		money.Raw(fee/qty),
		e.currentVersion(),
	)

	e.acctMu.Lock()
	e.balance = e.balance.Sub(cost)
	e.lastTradeMs = nowMs
	e.acctMu.Unlock()

	if err := e.store.AppendFill(ctx, history.Fill{
		FillID:   uuid.NewString(),
		OrderID:  orderID,
		AvgPrice: fill,
		Qty:      qty,
		Fees:     fee,
		Status:   history.FillFilled,
		TS:       nowMs,
	}); err != nil {
		e.log.Error().Err(err).Msg("fill write failed")
	}

	tradeID = uuid.NewString()
	if err := e.store.AppendTrade(ctx, history.Trade{
		ID:         tradeID,
		TsOpen:     nowMs,
		Symbol:     symbol,
		Side:       side,
		Qty:        qty,
		EntryPrice: fill,
		Fee:        fee,
		SLPrice:    &stopLoss,
		TPPrice:    &takeProfit,
		Slippage:   sim.Slippage,
		Status:     history.TradeOpen,
		DecisionID: decisionID,
	}); err != nil {
		e.log.Error().Err(err).Msg("trade write failed")
	}

	e.acctMu.Lock()
	e.lotTrades[lot.ID] = tradeID
	e.acctMu.Unlock()

	e.writeSnapshot(ctx, symbol, nowMs)
	e.countTrade()
	return tradeID, decisionID, nil
}

// forcedLevels resolves explicit stop/target prices, falling back to
// percent offsets from the fill, then to defaults.
func forcedLevels(fill float64, req ForceTradeRequest) (stopLoss, takeProfit float64) {
	switch {
	case req.SlPrice > 0:
		stopLoss = req.SlPrice
	case req.SlPct > 0:
		stopLoss = fill * (1 - req.SlPct/100)
	default:
		stopLoss = fill * 0.98
	}
	switch {
	case req.TpPrice > 0:
		takeProfit = req.TpPrice
	case req.TpPct > 0:
		takeProfit = fill * (1 + req.TpPct/100)
	default:
		takeProfit = fill * 1.04
	}
	return stopLoss, takeProfit
}

func (e *Engine) currentVersion() int64 {
	e.strategyMu.Lock()
	defer e.strategyMu.Unlock()
	return e.strategy.Version
}
