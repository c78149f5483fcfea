package engine

import (
	"context"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/paperbot/trading-engine/internal/candle"
	"github.com/paperbot/trading-engine/internal/config"
	"github.com/paperbot/trading-engine/internal/history"
	"github.com/paperbot/trading-engine/internal/observability"
	"github.com/paperbot/trading-engine/internal/strategyparam"
	"github.com/paperbot/trading-engine/internal/stream"
	"github.com/rs/zerolog"
)

// memStore is an in-memory history.Store recording the global write
// sequence, so tests can assert Decision -> Order -> Fill -> Snapshot
// ordering.
type memStore struct {
	mu         sync.Mutex
	decisions  []history.Decision
	orders     []history.Order
	fills      []history.Fill
	trades     map[string]*history.Trade
	tradeOrder []string
	snapshots  []history.PositionSnapshot
	events     []string
}

func newMemStore() *memStore {
	return &memStore{trades: make(map[string]*history.Trade)}
}

func (s *memStore) AppendDecision(_ context.Context, d history.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
	s.events = append(s.events, "decision")
	return nil
}

func (s *memStore) AppendOrder(_ context.Context, o history.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, o)
	s.events = append(s.events, "order:"+string(o.Status))
	return nil
}

func (s *memStore) FindOrder(_ context.Context, key string) (history.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.IdempotencyKey == key && o.Status != history.OrderSkipped {
			return o, true, nil
		}
	}
	return history.Order{}, false, nil
}

func (s *memStore) AppendFill(_ context.Context, f history.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fills = append(s.fills, f)
	s.events = append(s.events, "fill")
	return nil
}

func (s *memStore) AppendTrade(_ context.Context, t history.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := t
	s.trades[t.ID] = &cp
	s.tradeOrder = append(s.tradeOrder, t.ID)
	s.events = append(s.events, "trade")
	return nil
}

func (s *memStore) CloseTrade(_ context.Context, tradeID string, tsClose int64, exitPrice, pnlAbs, pnlPct float64, exitReason string, status history.TradeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.trades[tradeID]
	t.TsClose = &tsClose
	t.ExitPrice = &exitPrice
	t.PnLAbs = &pnlAbs
	t.PnLPct = &pnlPct
	t.ExitReason = exitReason
	t.Status = status
	return nil
}

func (s *memStore) AppendSnapshot(_ context.Context, snap history.PositionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	s.events = append(s.events, "snapshot")
	return nil
}

func (s *memStore) RecentDecisions(_ context.Context, limit int) ([]history.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.Decision, 0, limit)
	for i := len(s.decisions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.decisions[i])
	}
	return out, nil
}

func (s *memStore) RecentTrades(_ context.Context, limit int) ([]history.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.Trade, 0, limit)
	for i := len(s.tradeOrder) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *s.trades[s.tradeOrder[i]])
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) allTrades() []history.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.Trade, 0, len(s.tradeOrder))
	for _, id := range s.tradeOrder {
		out = append(out, *s.trades[id])
	}
	return out
}

// fakeMarket satisfies MarketData with test-controlled bars.
type fakeMarket struct {
	mu       sync.Mutex
	bars     map[string][]candle.Candle
	updates  chan stream.Update
	unstable bool
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{bars: make(map[string][]candle.Candle), updates: make(chan stream.Update, 16)}
}

func (m *fakeMarket) Buffer(symbol string) []candle.Candle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]candle.Candle{}, m.bars[symbol]...)
}

func (m *fakeMarket) IsUnstable(string) bool { return m.unstable }

func (m *fakeMarket) Updates() <-chan stream.Update { return m.updates }

func (m *fakeMarket) setBars(symbol string, bars []candle.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bars[symbol] = bars
}

// testClock is an adjustable frozen clock.
type testClock struct {
	mu sync.Mutex
	ms int64
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.UnixMilli(c.ms)
}

func (c *testClock) set(ms int64) {
	c.mu.Lock()
	c.ms = ms
	c.mu.Unlock()
}

const testSymbol = "BTC-USDC"

func newTestEngine(t *testing.T) (*Engine, *memStore, *fakeMarket, *testClock) {
	t.Helper()
	cfg := config.Default()
	cfg.EngineSymbol = testSymbol
	store := newMemStore()
	market := newFakeMarket()
	clock := &testClock{ms: 1_700_000_000_000}
	eng := New(Options{
		Config:         cfg,
		Logger:         zerolog.Nop(),
		Store:          store,
		Market:         market,
		Metrics:        observability.NewMetrics(),
		InitialParams:  strategyparam.Default(),
		InitialBalance: 1000,
		Now:            clock.now,
	})
	return eng, store, market, clock
}

// trendBars builds n valid hourly bars ending at nowMs, with close =
// 60000 + 10*i.
func trendBars(n int, nowMs int64) []candle.Candle {
	bars := make([]candle.Candle, 0, n)
	for i := 0; i < n; i++ {
		close := 60000 + 10*float64(i)
		open := close - 10
		bars = append(bars, candle.Candle{
			Symbol: testSymbol,
			Open:   open,
			High:   close + 5,
			Low:    open - 5,
			Close:  close,
			Volume: 100,
			TS:     nowMs - int64(n-1-i)*3_600_000,
		})
	}
	return bars
}

func TestEvaluateRecordsOneDecisionPerBar(t *testing.T) {
	eng, store, market, clock := newTestEngine(t)
	ctx := context.Background()

	market.setBars(testSymbol, trendBars(60, clock.now().UnixMilli()))
	eng.EvaluateSymbol(ctx, testSymbol)

	if len(store.decisions) != 1 {
		t.Fatalf("expected exactly one decision, got %d", len(store.decisions))
	}
	d := store.decisions[0]
	switch d.Signal {
	case history.DecisionBuy, history.DecisionSell, history.DecisionHold:
	default:
		t.Fatalf("unexpected signal %q", d.Signal)
	}
	validRegimes := map[string]bool{
		"TRENDING_UP": true, "TRENDING_DOWN": true, "RANGING": true,
		"CHOP": true, "HIGH_VOLATILITY": true,
	}
	if !validRegimes[d.Regime] {
		t.Fatalf("unexpected regime %q", d.Regime)
	}
	if d.Symbol != testSymbol || d.Timeframe != "1h" {
		t.Fatalf("decision mislabeled: symbol=%q timeframe=%q", d.Symbol, d.Timeframe)
	}
	if d.InputsHash == "" {
		t.Fatal("expected non-empty inputs hash")
	}
}

func TestEvaluateDedupsSameBarAcrossTriggers(t *testing.T) {
	eng, store, market, clock := newTestEngine(t)
	ctx := context.Background()

	market.setBars(testSymbol, trendBars(60, clock.now().UnixMilli()))
	eng.EvaluateSymbol(ctx, testSymbol)
	eng.EvaluateSymbol(ctx, testSymbol) // safety tick on the same bar

	if len(store.decisions) != 1 {
		t.Fatalf("expected de-dup to drop the second trigger, got %d decisions", len(store.decisions))
	}
}

func TestEvaluateSkipsOnStaleData(t *testing.T) {
	eng, store, market, clock := newTestEngine(t)
	ctx := context.Background()

	nowMs := clock.now().UnixMilli()
	market.setBars(testSymbol, trendBars(60, nowMs-8_000_000)) // beyond the 2h staleness window
	eng.EvaluateSymbol(ctx, testSymbol)

	if len(store.decisions) != 0 {
		t.Fatalf("expected no decision on stale data, got %d", len(store.decisions))
	}
	eng.strategyMu.Lock()
	warned := len(eng.strategy.Warnings) > 0
	eng.strategyMu.Unlock()
	if !warned {
		t.Fatal("expected a stale-data warning")
	}
}

func TestCountersPreserveOrdering(t *testing.T) {
	eng, _, market, clock := newTestEngine(t)
	ctx := context.Background()

	market.setBars(testSymbol, trendBars(60, clock.now().UnixMilli()))
	eng.EvaluateSymbol(ctx, testSymbol)
	if _, _, err := eng.ForceTrade(ctx, ForceTradeRequest{Symbol: testSymbol, Side: "BUY", NotionalUSD: 100}); err != nil {
		t.Fatalf("force trade failed: %v", err)
	}

	st := eng.StatusSnapshot()
	if st.TradesExecuted > st.Signals || st.Signals > st.Evaluations {
		t.Fatalf("counter ordering violated: %+v", st)
	}
}

func TestForceTradeWritePathOrdering(t *testing.T) {
	eng, store, market, clock := newTestEngine(t)
	ctx := context.Background()

	market.setBars(testSymbol, trendBars(60, clock.now().UnixMilli()))
	if _, _, err := eng.ForceTrade(ctx, ForceTradeRequest{Symbol: testSymbol, Side: "BUY", NotionalUSD: 100}); err != nil {
		t.Fatalf("force trade failed: %v", err)
	}

	want := []string{"decision", "order:ACCEPTED", "fill", "trade", "snapshot"}
	if len(store.events) != len(want) {
		t.Fatalf("expected events %v, got %v", want, store.events)
	}
	for i, ev := range want {
		if store.events[i] != ev {
			t.Fatalf("expected events %v, got %v", want, store.events)
		}
	}
}

func TestForceTradeIsIdempotentByDecisionID(t *testing.T) {
	eng, store, market, clock := newTestEngine(t)
	ctx := context.Background()

	market.setBars(testSymbol, trendBars(60, clock.now().UnixMilli()))

	req := ForceTradeRequest{
		Symbol:      "ETHUSDC",
		Side:        "BUY",
		NotionalUSD: 100,
		TpPct:       1.5,
		SlPct:       1,
		DecisionID:  "force-decision-1",
	}
	market.setBars("ETH-USDC", trendBars(60, clock.now().UnixMilli()))

	if _, _, err := eng.ForceTrade(ctx, req); err != nil {
		t.Fatalf("first force trade failed: %v", err)
	}
	holdingsAfterFirst := eng.ledger.Holdings("ETH-USDC")

	if _, _, err := eng.ForceTrade(ctx, req); err != nil {
		t.Fatalf("second force trade failed: %v", err)
	}

	open := 0
	for _, tr := range store.allTrades() {
		if tr.Symbol == "ETH-USDC" && tr.Status == history.TradeOpen {
			open++
		}
	}
	if open != 1 {
		t.Fatalf("expected exactly one OPEN trade, got %d", open)
	}

	skipped := 0
	for _, o := range store.orders {
		if o.Status == history.OrderSkipped {
			skipped++
		}
	}
	if skipped != 1 {
		t.Fatalf("expected exactly one SKIPPED order, got %d", skipped)
	}
	if got := eng.ledger.Holdings("ETH-USDC"); got != holdingsAfterFirst {
		t.Fatalf("replay mutated the ledger: %v -> %v", holdingsAfterFirst, got)
	}
}

func TestAutoExitStopLossClosesLotOnce(t *testing.T) {
	eng, store, market, clock := newTestEngine(t)
	ctx := context.Background()

	nowMs := clock.now().UnixMilli()
	flat := func(close float64, ts int64) []candle.Candle {
		return []candle.Candle{{
			Symbol: testSymbol, Open: close, High: close, Low: close,
			Close: close, Volume: 100, TS: ts,
		}}
	}
	market.setBars(testSymbol, flat(100, nowMs))

	if _, _, err := eng.ForceTrade(ctx, ForceTradeRequest{
		Symbol: testSymbol, Side: "BUY", Qty: 1, SlPrice: 98, TpPrice: 104,
	}); err != nil {
		t.Fatalf("force trade failed: %v", err)
	}

	clock.set(nowMs + 60_000)
	market.setBars(testSymbol, flat(98, nowMs+60_000))
	eng.EvaluateSymbol(ctx, testSymbol)

	var closed *history.Trade
	for _, tr := range store.allTrades() {
		if tr.Status == history.TradeClosed {
			cp := tr
			closed = &cp
		}
	}
	if closed == nil {
		t.Fatal("expected the lot to close on stop-loss")
	}
	if closed.ExitReason != "STOP_LOSS" {
		t.Fatalf("expected STOP_LOSS exit, got %q", closed.ExitReason)
	}
	if closed.PnLAbs == nil || *closed.PnLAbs > -1.8 || *closed.PnLAbs < -2.8 {
		t.Fatalf("expected pnl near -2 minus fees, got %v", closed.PnLAbs)
	}
	if got := eng.ledger.Holdings(testSymbol); got != 0 {
		t.Fatalf("expected flat position after stop-loss, got %v", got)
	}

	// Later ticks must not reopen or re-close.
	tradesBefore := len(store.allTrades())
	clock.set(nowMs + 120_000)
	market.setBars(testSymbol, flat(98, nowMs+120_000))
	eng.EvaluateSymbol(ctx, testSymbol)
	if got := len(store.allTrades()); got != tradesBefore {
		t.Fatalf("expected no new trades after the exit, got %d -> %d", tradesBefore, got)
	}
}

func TestPnLIdentityOverManyRoundTrips(t *testing.T) {
	eng, store, market, clock := newTestEngine(t)
	ctx := context.Background()

	nowMs := clock.now().UnixMilli()
	bar := func(close float64, ts int64) []candle.Candle {
		return []candle.Candle{{
			Symbol: testSymbol, Open: close, High: close, Low: close,
			Close: close, Volume: 100, TS: ts,
		}}
	}

	for i := 0; i < 1000; i++ {
		entry := 100 + float64(i%20)*0.2
		exit := entry * 1.004
		if i%2 == 1 {
			exit = entry * 0.996
		}
		ts := nowMs + int64(i)*2
		clock.set(ts)

		market.setBars(testSymbol, bar(entry, ts))
		if _, _, err := eng.ForceTrade(ctx, ForceTradeRequest{
			Symbol: testSymbol, Side: "BUY", Qty: 0.1,
			SlPrice: entry * 0.9, TpPrice: entry * 1.1,
			DecisionID: "buy-" + strconv.Itoa(i),
		}); err != nil {
			t.Fatalf("buy %d failed: %v", i, err)
		}

		clock.set(ts + 1)
		market.setBars(testSymbol, bar(exit, ts+1))
		if _, _, err := eng.ForceTrade(ctx, ForceTradeRequest{
			Symbol: testSymbol, Side: "SELL",
			DecisionID: "sell-" + strconv.Itoa(i),
		}); err != nil {
			t.Fatalf("sell %d failed: %v", i, err)
		}
	}

	var sumPnL float64
	for _, tr := range store.allTrades() {
		if tr.PnLAbs != nil {
			sumPnL += *tr.PnLAbs
		}
	}

	equity := eng.Equity()
	if diff := math.Abs(equity - (1000 + sumPnL)); diff >= 1e-8 {
		t.Fatalf("pnl identity violated: equity=%v expected=%v diff=%v", equity, 1000+sumPnL, diff)
	}
}

func TestHoldingsNeverNegative(t *testing.T) {
	eng, _, market, clock := newTestEngine(t)
	ctx := context.Background()

	market.setBars(testSymbol, trendBars(60, clock.now().UnixMilli()))
	// SELL with no holdings must be a no-op.
	if _, _, err := eng.ForceTrade(ctx, ForceTradeRequest{Symbol: testSymbol, Side: "SELL"}); err != nil {
		t.Fatalf("sell on empty book errored: %v", err)
	}
	if got := eng.ledger.Holdings(testSymbol); got != 0 {
		t.Fatalf("expected zero holdings, got %v", got)
	}
}

func TestUpdateSettingsPartialPatch(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)

	threshold := 0.8
	eng.UpdateSettings(&threshold, nil)
	st := eng.StatusSnapshot()
	if st.ConfidenceThreshold != 0.8 {
		t.Fatalf("expected threshold 0.8, got %v", st.ConfidenceThreshold)
	}
	if !st.AutoPaper {
		t.Fatal("autoPaper should be untouched")
	}

	off := false
	eng.UpdateSettings(nil, &off)
	if eng.StatusSnapshot().AutoPaper {
		t.Fatal("expected autoPaper disabled")
	}
}
