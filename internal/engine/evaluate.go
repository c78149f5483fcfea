package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/paperbot/trading-engine/internal/breaker"
	"github.com/paperbot/trading-engine/internal/candle"
	"github.com/paperbot/trading-engine/internal/history"
	"github.com/paperbot/trading-engine/internal/indicator"
	"github.com/paperbot/trading-engine/internal/refinement"
	"github.com/paperbot/trading-engine/internal/risk"
)

// EvaluateSymbol runs one evaluation tick for a symbol: fold new bars
// into the indicators, decide, gate, record the decision, then execute.
// It is called from the symbol's worker goroutine (or directly by tests
// and the force-trade path), which is what serializes all per-symbol
// mutation.
func (e *Engine) EvaluateSymbol(ctx context.Context, symbol string) {
	e.heartbeat()

	bars := e.market.Buffer(symbol)
	if len(bars) == 0 {
		return
	}
	latest := bars[len(bars)-1]
	nowMs := e.now().UnixMilli()

	if nowMs-latest.TS > e.cfg.StaleDataMs {
		e.strategyMu.Lock()
		e.strategy.Warn(fmt.Sprintf("%s: stale data, latest bar %dms old", symbol, nowMs-latest.TS))
		e.strategyMu.Unlock()
		e.log.Warn().Str("symbol", symbol).Int64("age_ms", nowMs-latest.TS).Msg("evaluation skipped on stale data")
		return
	}

	e.acctMu.Lock()
	e.lastMark[symbol] = latest.Close
	e.acctMu.Unlock()

	// The de-dup guard drops the second trigger when candle close and
	// the safety tick land on the same bar.
	if !e.dedup.Claim(symbol, latest.TS) {
		return
	}

	snap, rsiRising := e.foldIndicators(symbol, bars)
	params, version := e.StrategySnapshot()
	confThreshold, autoPaper := e.settings()
	holdings := e.ledger.Holdings(symbol)

	e.acctMu.Lock()
	lastTradeMs := e.lastTradeMs
	equity := e.equityLocked()
	balance := e.balance.Float64()
	e.acctMu.Unlock()

	in := refinement.Input{
		Close:           snap.Close,
		Prev:            snap.Prev,
		EMAShort:        snap.EMAShort,
		EMALong:         snap.EMALong,
		ATR:             snap.ATR,
		RSI:             snap.RSI,
		RSIRising:       rsiRising,
		VolRatio:        snap.VolRatio,
		BarsSeen:        snap.BarsSeen,
		Holdings:        holdings,
		MinScore:        params.MinScore,
		MinAtrPct:       params.MinAtrPct,
		MaxAtrPct:       params.MaxAtrPct,
		LastTradeUnixMs: lastTradeMs,
		NowUnixMs:       nowMs,
	}

	var dec refinement.Decision
	if snap.Phase != indicator.Ready {
		dec = refinement.Decision{
			Action:     refinement.ActionHold,
			Confidence: 0.2,
			Regime:     refinement.RegimeChop,
			Reasons:    []string{"indicators warming up"},
		}
	} else {
		dec = refinement.Decide(in)
	}

	atrPct := 0.0
	if snap.Close > 0 {
		atrPct = snap.ATR / snap.Close
	}
	score := refinement.SetupScore(refinement.SetupScoreInputs{
		Close: snap.Close, Prev: snap.Prev, EMAShort: snap.EMAShort,
		RSI: snap.RSI, RSIRising: rsiRising, VolRatio: snap.VolRatio,
		Regime: dec.Regime,
	})

	action := dec.Action
	reasons := append([]string{}, dec.Reasons...)

	// Risk gates can only downgrade: a rejected BUY is recorded HOLD
	// with the failing gate in its reasons.
	var sizing risk.SizingResult
	if action == refinement.ActionBuy {
		buyIn := risk.BuyCheckInput{
			Balance:          balance,
			Equity:           equity,
			Regime:           dec.Regime,
			OpenPositions:    e.openPositionCount(),
			DailyRealizedPnL: e.riskMgr.DailyRealizedPnL(),
			LossStreak:       e.riskMgr.LossStreak(),
			AtrPct:           atrPct,
			Price:            latest.Close,
			ATR:              snap.ATR,
			Params:           params,
		}
		if gate := e.riskMgr.CheckBuy(buyIn); gate != "" {
			action = refinement.ActionHold
			reasons = append(reasons, gate)
		} else {
			var err error
			sizing, err = e.riskMgr.SizeBuy(buyIn)
			if err != nil {
				action = refinement.ActionHold
				reasons = append(reasons, risk.GateNotionalFloor)
			} else if capped, capReason := e.applyExposureCaps(symbol, sizing.Quantity, latest.Close, equity); capReason != "" {
				action = refinement.ActionHold
				reasons = append(reasons, capReason)
			} else {
				sizing.Quantity = capped
			}
		}
	}
	if action == refinement.ActionSell && holdings <= 0 {
		action = refinement.ActionHold
		reasons = append(reasons, "no holdings")
	}

	dailyPnL := e.riskMgr.DailyRealizedPnL()
	drawdownPct := 0.0
	if dailyPnL < 0 && equity > 0 {
		drawdownPct = -dailyPnL / equity
	}
	wasLatched := e.breaker.Latched()
	latched, breakerReasons := e.breaker.Evaluate(breaker.Inputs{
		DailyDrawdownPct:       drawdownPct,
		ConsecutiveLargeLosses: e.riskMgr.LossStreak(),
		VolatilityPct:          atrPct,
		StreamUnstable:         e.market.IsUnstable(symbol),
	})
	if latched {
		e.metrics.BreakerLatched.Set(1)
		reasons = append(reasons, breakerReasons...)
		if !wasLatched {
			if err := e.notifier.NotifyBreakerLatched(ctx, breakerReasons); err != nil {
				e.log.Warn().Err(err).Msg("breaker notification failed")
			}
		}
	}

	decisionID := uuid.NewString()
	record := history.Decision{
		ID:           decisionID,
		TS:           latest.TS,
		Symbol:       symbol,
		Timeframe:    e.cfg.Timeframe,
		InputsHash:   hashInputs(in),
		Signal:       history.DecisionType(action),
		Confidence:   dec.Confidence,
		Regime:       string(dec.Regime),
		Reasons:      reasons,
		ModelVersion: version,
	}

	e.countEvaluation()
	if err := e.store.AppendDecision(ctx, record); err != nil {
		e.log.Error().Err(err).Str("symbol", symbol).Msg("decision write failed, tick abandoned")
		return
	}
	e.metrics.SetRegime(symbol, string(dec.Regime))

	// Stop-loss/take-profit exits run before any new entry on this bar,
	// and fire even while the breaker is latched: the breaker halts new
	// orders, not protective exits.
	e.scanAutoExits(ctx, symbol, latest, atrPct, dec.Regime, decisionID)

	if action == refinement.ActionHold {
		return
	}
	e.countSignal()
	if latched {
		return
	}

	switch action {
	case refinement.ActionBuy:
		if !autoPaper || dec.Confidence < confThreshold {
			return
		}
		e.executeBuy(ctx, buyParams{
			symbol:     symbol,
			bar:        latest,
			atrPct:     atrPct,
			sizing:     sizing,
			version:    version,
			decisionID: decisionID,
			score:      score,
		})
	case refinement.ActionSell:
		e.executeSell(ctx, sellParams{
			symbol:     symbol,
			barTS:      latest.TS,
			closePx:    latest.Close,
			atrPct:     atrPct,
			qty:        holdings,
			regime:     dec.Regime,
			exitReason: "SIGNAL",
			decisionID: decisionID,
		})
	}
}

// applyExposureCaps bounds a sized BUY by the per-position and total
// exposure limits. It returns the (possibly reduced) quantity, or a
// non-empty reason when the cap leaves nothing tradeable.
func (e *Engine) applyExposureCaps(symbol string, qty, price, equity float64) (float64, string) {
	if price <= 0 || equity <= 0 {
		return 0, "exposure_cap"
	}
	maxNotional := e.cfg.MaxPositionSizePct * equity
	if qty*price > maxNotional {
		qty = maxNotional / price
	}

	e.acctMu.Lock()
	exposure := 0.0
	for sym, mark := range e.lastMark {
		exposure += e.ledger.Holdings(sym) * mark
	}
	e.acctMu.Unlock()

	headroom := e.cfg.MaxExposurePct*equity - exposure
	if qty*price > headroom {
		qty = headroom / price
	}
	if qty*price < 10 {
		return 0, "exposure_cap"
	}
	return qty, ""
}

// scanAutoExits closes every open lot whose stop-loss or take-profit the
// current bar's close has crossed.
func (e *Engine) scanAutoExits(ctx context.Context, symbol string, bar candle.Candle, atrPct float64, regime refinement.Regime, decisionID string) {
	for _, sig := range e.ledger.ScanAutoExits(symbol, bar.Close) {
		var qty float64
		for _, lot := range e.ledger.OpenLots(symbol) {
			if lot.ID == sig.LotID {
				qty = lot.Amount.Float64()
				break
			}
		}
		if qty <= 0 {
			continue
		}
		e.executeSell(ctx, sellParams{
			symbol:      symbol,
			barTS:       bar.TS,
			closePx:     bar.Close,
			atrPct:      atrPct,
			qty:         qty,
			targetLotID: sig.LotID,
			regime:      regime,
			exitReason:  string(sig.Reason),
			decisionID:  decisionID,
		})
	}
}

// foldIndicators feeds any bars newer than the last fold into the
// symbol's indicator state and returns the fresh snapshot plus the
// RSI-direction flag over the last two folds.
func (e *Engine) foldIndicators(symbol string, bars []candle.Candle) (indicator.Snapshot, bool) {
	e.indMu.Lock()
	defer e.indMu.Unlock()

	st, ok := e.indicators[symbol]
	if !ok {
		st = indicator.New()
		e.indicators[symbol] = st
	}

	snap := e.indSnaps[symbol]
	rsiRising := false
	for _, bar := range bars {
		if bar.TS <= e.indSeen[symbol] {
			continue
		}
		e.prevRSI[symbol] = snap.RSI
		snap = st.Update(bar.High, bar.Low, bar.Close, bar.Volume)
		e.indSeen[symbol] = bar.TS
	}
	e.indSnaps[symbol] = snap
	rsiRising = snap.RSI > e.prevRSI[symbol]
	return snap, rsiRising
}

// hashInputs produces the stable inputsHash recorded on every decision.
func hashInputs(in refinement.Input) string {
	h := sha256.Sum256([]byte(fmt.Sprintf(
		"%.8f|%.8f|%.8f|%.8f|%.8f|%.8f|%t|%.8f|%d|%.8f|%.8f",
		in.Close, in.Prev, in.EMAShort, in.EMALong, in.ATR, in.RSI,
		in.RSIRising, in.VolRatio, in.BarsSeen, in.MinScore, in.Holdings,
	)))
	return hex.EncodeToString(h[:8])
}
