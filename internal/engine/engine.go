// Package engine owns the trading worker: the per-symbol evaluation
// actors, the shared account state, the refinement loop, and every write
// to the history store. All singletons (strategy state, status, breaker,
// ledger) hang off the Engine value — nothing is ambient.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/paperbot/trading-engine/internal/breaker"
	"github.com/paperbot/trading-engine/internal/candle"
	"github.com/paperbot/trading-engine/internal/config"
	"github.com/paperbot/trading-engine/internal/execution"
	"github.com/paperbot/trading-engine/internal/history"
	"github.com/paperbot/trading-engine/internal/indicator"
	"github.com/paperbot/trading-engine/internal/ledger"
	"github.com/paperbot/trading-engine/internal/money"
	"github.com/paperbot/trading-engine/internal/notify"
	"github.com/paperbot/trading-engine/internal/observability"
	"github.com/paperbot/trading-engine/internal/refinement"
	"github.com/paperbot/trading-engine/internal/risk"
	"github.com/paperbot/trading-engine/internal/scheduler"
	"github.com/paperbot/trading-engine/internal/strategyparam"
	"github.com/paperbot/trading-engine/internal/stream"
)

// MarketData is the slice of the market stream the engine consumes,
// satisfied by *stream.Stream in production and by a fake in tests.
type MarketData interface {
	Buffer(symbol string) []candle.Candle
	IsUnstable(symbol string) bool
	Updates() <-chan stream.Update
}

// closedTradeRecord is one realized exit kept for the refinement cycle's
// walk-forward replay. EntryScore is the setup score the lot was entered
// on, which is what the candidate-parameter filter selects on.
type closedTradeRecord struct {
	refinement.ClosedTrade
	EntryScore float64
}

// Engine is the trading worker. One Engine serves every configured
// symbol; per-symbol mutation is serialized by that symbol's worker
// goroutine, and cross-symbol state (balance, status, strategy) is
// guarded by its own mutex with bounded critical sections.
type Engine struct {
	cfg      config.Config
	log      zerolog.Logger
	store    history.Store
	market   MarketData
	ledger   *ledger.Ledger
	riskMgr  *risk.Manager
	breaker  *breaker.Breaker
	notifier *notify.Notifier
	metrics  *observability.Metrics
	advisor  refinement.Advisor
	dedup    *scheduler.Dedup
	refClock *scheduler.RefinementClock

	strategyMu sync.Mutex
	strategy   *strategyparam.State

	statusMu sync.Mutex
	status   Status

	// acctMu guards balance, marks, the closed-trade log and the
	// lot-to-trade index. Held only for in-memory bookkeeping, never
	// across store writes.
	acctMu       sync.Mutex
	balance      money.Amount
	lastMark     map[string]float64
	closedTrades []closedTradeRecord
	lotTrades    map[string]string  // lot ID -> history trade row ID
	lotScores    map[string]float64 // lot ID -> entry setup score
	lastTradeMs  int64

	// indicators are only touched from the owning symbol's worker.
	indMu      sync.Mutex
	indicators map[string]*indicator.State
	indSeen    map[string]int64 // symbol -> ts of last bar folded in
	indSnaps   map[string]indicator.Snapshot
	prevRSI    map[string]float64

	now func() time.Time

	wg sync.WaitGroup
}

// Options carries the collaborators an Engine is wired from.
type Options struct {
	Config         config.Config
	Logger         zerolog.Logger
	Store          history.Store
	Market         MarketData
	Notifier       *notify.Notifier
	Metrics        *observability.Metrics
	Advisor        refinement.Advisor
	InitialParams  strategyparam.Parameters
	InitialBalance float64
	Now            func() time.Time
}

// New wires an Engine. It does not start any goroutine; call Run.
func New(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewNotifier("", "")
	}
	e := &Engine{
		cfg:      opts.Config,
		log:      opts.Logger.With().Str("component", "engine").Logger(),
		store:    opts.Store,
		market:   opts.Market,
		ledger:   ledger.New(),
		riskMgr:  risk.New(),
		breaker:  breaker.New(breaker.DefaultThresholds()),
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		advisor:  opts.Advisor,
		dedup:    scheduler.NewDedup(),
		refClock: scheduler.NewRefinementClock(scheduler.RefinementCadence),

		strategy: strategyparam.NewState(opts.InitialParams),

		balance:    money.Price(opts.InitialBalance),
		lastMark:   make(map[string]float64),
		lotTrades:  make(map[string]string),
		lotScores:  make(map[string]float64),
		indicators: make(map[string]*indicator.State),
		indSeen:    make(map[string]int64),
		indSnaps:   make(map[string]indicator.Snapshot),
		prevRSI:    make(map[string]float64),

		now: opts.Now,
	}
	e.status = Status{
		AutoPaper:           opts.Config.AutoPaper,
		ConfidenceThreshold: opts.Config.ConfidenceThreshold,
	}
	return e
}

// Run starts the per-symbol workers, the stream dispatcher, the
// refinement loop and the daily reset timer, and blocks until ctx is
// canceled. Shutdown waits for in-flight refinement for up to 30s.
func (e *Engine) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.statusMu.Lock()
	e.status.Running = true
	e.status.LastHeartbeat = e.now().UnixMilli()
	e.statusMu.Unlock()

	symbols := e.cfg.Symbols()
	candleChans := make(map[string]chan stream.Update, len(symbols))
	for _, sym := range symbols {
		ch := make(chan stream.Update, 16)
		candleChans[sym] = ch
		e.wg.Add(1)
		go e.symbolWorker(ctx, sym, ch)
	}

	e.wg.Add(1)
	go e.dispatch(ctx, candleChans)

	e.wg.Add(1)
	go e.refinementLoop(ctx)

	e.wg.Add(1)
	go e.dailyResetLoop(ctx)

	<-ctx.Done()
	e.shutdown()
}

func (e *Engine) shutdown() {
	deadline := time.After(30 * time.Second)
	done := make(chan struct{})
	go func() {
		for e.refClock.InFlight() {
			time.Sleep(100 * time.Millisecond)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-deadline:
		e.log.Warn().Msg("refinement did not finish before shutdown deadline")
	}

	e.wg.Wait()

	e.statusMu.Lock()
	e.status.Running = false
	e.statusMu.Unlock()
	e.log.Info().Msg("engine stopped")
}

// dispatch routes candle-closed events from the shared stream channel to
// the owning symbol's worker, applying back-pressure through the
// bounded per-symbol channels.
func (e *Engine) dispatch(ctx context.Context, chans map[string]chan stream.Update) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-e.market.Updates():
			if !ok {
				return
			}
			e.metrics.StreamLagMs.WithLabelValues(u.Symbol).Set(float64(u.LagMs))
			if ch, ok := chans[u.Symbol]; ok {
				select {
				case ch <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// symbolWorker is the single-writer actor for one symbol: a select over
// candle-closed events, the safety tick, and shutdown. Whichever trigger
// fires first evaluates; the de-dup guard drops the loser when both land
// on the same bar.
func (e *Engine) symbolWorker(ctx context.Context, symbol string, candles <-chan stream.Update) {
	defer e.wg.Done()

	// BOT_LOOP_MS tightens the safety tick below the 60s ceiling; the
	// de-dup guard absorbs the extra triggers.
	interval := e.cfg.LoopInterval
	if interval <= 0 || interval > scheduler.TickInterval {
		interval = scheduler.TickInterval
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-candles:
			e.EvaluateSymbol(ctx, symbol)
		case <-tick.C:
			e.EvaluateSymbol(ctx, symbol)
		}
	}
}

// dailyResetLoop clears the risk manager's daily PnL accumulation at
// each UTC day roll.
func (e *Engine) dailyResetLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		now := e.now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(now)):
			e.riskMgr.ResetDaily()
			e.log.Info().Msg("daily PnL reset")
		}
	}
}

// equityLocked computes balance + sum of holdings at last mark. Caller
// must hold acctMu. Portfolio value is always recomputed, never stored.
func (e *Engine) equityLocked() float64 {
	equity := e.balance.Float64()
	for sym, mark := range e.lastMark {
		equity += e.ledger.Holdings(sym) * mark
	}
	return equity
}

// Equity returns the current total portfolio value.
func (e *Engine) Equity() float64 {
	e.acctMu.Lock()
	defer e.acctMu.Unlock()
	return e.equityLocked()
}

// Balance returns the free cash balance.
func (e *Engine) Balance() float64 {
	e.acctMu.Lock()
	defer e.acctMu.Unlock()
	return e.balance.Float64()
}

// StrategySnapshot returns the current immutable parameter set and its
// version, the copy an evaluation tick works from.
func (e *Engine) StrategySnapshot() (strategyparam.Parameters, int64) {
	e.strategyMu.Lock()
	defer e.strategyMu.Unlock()
	return e.strategy.Snapshot(), e.strategy.Version
}

// ResetBreaker explicitly clears the circuit breaker latch.
func (e *Engine) ResetBreaker(ctx context.Context) {
	e.breaker.Reset()
	e.metrics.BreakerLatched.Set(0)
	e.log.Info().Msg("circuit breaker reset")
	if err := e.notifier.NotifyBreakerReset(ctx); err != nil {
		e.log.Warn().Err(err).Msg("breaker-reset notification failed")
	}
}

// RecentTrades proxies the history store for the facade.
func (e *Engine) RecentTrades(ctx context.Context, limit int) ([]history.Trade, error) {
	return e.store.RecentTrades(ctx, limit)
}

// RecentDecisions proxies the history store for the facade.
func (e *Engine) RecentDecisions(ctx context.Context, limit int) ([]history.Decision, error) {
	return e.store.RecentDecisions(ctx, limit)
}

func (e *Engine) feeRate() execution.FeeRate {
	return execution.FeeRate(e.cfg.PaperFeeBps / 10_000)
}

func (e *Engine) openPositionCount() int {
	count := 0
	for _, sym := range e.cfg.Symbols() {
		count += len(e.ledger.OpenLots(sym))
	}
	return count
}
