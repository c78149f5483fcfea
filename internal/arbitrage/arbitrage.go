// Package arbitrage implements the cross-venue spread scan and the
// atomic dual-leg paper execution with hedge fallback.
package arbitrage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/paperbot/trading-engine/internal/adapter"
	"github.com/paperbot/trading-engine/internal/execution"
)

// Quote is one venue's top of book at scan time.
type Quote struct {
	Venue adapter.Name
	Bid   float64
	Ask   float64
}

// Opportunity is a positive-net cross-venue spread: buy at BuyVenue's
// ask, sell at SellVenue's bid.
type Opportunity struct {
	ID        string
	Symbol    string
	BuyVenue  adapter.Name
	SellVenue adapter.Name
	BuyAsk    float64
	SellBid   float64
	NetPct    float64
	ScannedAt time.Time
}

// LegFill is one simulated leg of an executed opportunity.
type LegFill struct {
	Venue     adapter.Name
	Side      execution.Side
	Sim       execution.Simulation
	Hedge     bool
}

// Result is the outcome of executing an opportunity: both legs on
// success, or one original leg plus its hedge when the other leg failed.
type Result struct {
	ArbitrageID string
	Legs        []LegFill
	Hedged      bool
}

// Orchestrator scans the configured venues and routes simulated orders
// to the best pair.
type Orchestrator struct {
	venues        []adapter.Venue
	slippageBps   float64
	latencyBufPct float64
	log           zerolog.Logger
}

// New creates an Orchestrator over at least two venues.
func New(venues []adapter.Venue, slippageBps, latencyBufPct float64, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		venues:        venues,
		slippageBps:   slippageBps,
		latencyBufPct: latencyBufPct,
		log:           log.With().Str("component", "arbitrage").Logger(),
	}
}

// Scan queries best bid/ask from every venue concurrently and reports
// the best net-positive opportunity, if any. Venues that error are
// logged and excluded from the comparison rather than failing the scan.
func (o *Orchestrator) Scan(ctx context.Context, symbol string) (Opportunity, bool) {
	quotes := o.collectQuotes(ctx, symbol)
	if len(quotes) < 2 {
		return Opportunity{}, false
	}

	var bestBuy, bestSell Quote
	for _, q := range quotes {
		if q.Ask <= 0 || q.Bid <= 0 {
			continue
		}
		if bestBuy.Ask == 0 || q.Ask < bestBuy.Ask {
			bestBuy = q
		}
		if q.Bid > bestSell.Bid {
			bestSell = q
		}
	}
	if bestBuy.Ask == 0 || bestSell.Bid == 0 || bestBuy.Venue == bestSell.Venue {
		return Opportunity{}, false
	}

	gross := (bestSell.Bid - bestBuy.Ask) / bestBuy.Ask
	fees := o.totalFeePct(bestBuy.Venue) + o.totalFeePct(bestSell.Venue)
	net := gross - fees - o.slippageBps/10_000 - o.latencyBufPct

	if net <= 0 {
		return Opportunity{}, false
	}

	opp := Opportunity{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		BuyVenue:  bestBuy.Venue,
		SellVenue: bestSell.Venue,
		BuyAsk:    bestBuy.Ask,
		SellBid:   bestSell.Bid,
		NetPct:    net,
		ScannedAt: time.Now(),
	}
	o.log.Info().
		Str("symbol", symbol).
		Str("buy_venue", string(opp.BuyVenue)).
		Str("sell_venue", string(opp.SellVenue)).
		Float64("net_pct", net).
		Msg("arbitrage opportunity")
	return opp, true
}

func (o *Orchestrator) collectQuotes(ctx context.Context, symbol string) []Quote {
	var mu sync.Mutex
	var quotes []Quote
	var wg sync.WaitGroup

	for _, v := range o.venues {
		wg.Add(1)
		go func(v adapter.Venue) {
			defer wg.Done()
			bid, ask, err := v.BestBidAsk(ctx, symbol)
			if err != nil {
				o.log.Warn().Err(err).Str("venue", string(v.Name())).Msg("quote failed")
				return
			}
			mu.Lock()
			quotes = append(quotes, Quote{Venue: v.Name(), Bid: bid, Ask: ask})
			mu.Unlock()
		}(v)
	}
	wg.Wait()
	return quotes
}

func (o *Orchestrator) totalFeePct(name adapter.Name) float64 {
	for _, v := range o.venues {
		if v.Name() == name {
			_, takerBps := v.Fees()
			return takerBps / 10_000
		}
	}
	return 0
}

// legSpec is one planned leg before execution.
type legSpec struct {
	venue adapter.Venue
	side  execution.Side
	price float64
}

// Execute places both legs concurrently as simulated fills. If one leg's
// venue fails its pre-trade quote refresh, the successful leg is
// immediately hedged at market on its own venue so the book ends flat.
func (o *Orchestrator) Execute(ctx context.Context, opp Opportunity, qty float64, feeRate execution.FeeRate) (Result, error) {
	buyVenue := o.venueByName(opp.BuyVenue)
	sellVenue := o.venueByName(opp.SellVenue)
	if buyVenue == nil || sellVenue == nil {
		return Result{}, fmt.Errorf("arbitrage: venue missing for %s", opp.ID)
	}

	legs := []legSpec{
		{venue: buyVenue, side: execution.Buy, price: opp.BuyAsk},
		{venue: sellVenue, side: execution.Sell, price: opp.SellBid},
	}

	type legOutcome struct {
		fill LegFill
		err  error
	}
	outcomes := make([]legOutcome, len(legs))
	ts := time.Now().UnixMilli()

	var wg sync.WaitGroup
	for i, leg := range legs {
		wg.Add(1)
		go func(i int, leg legSpec) {
			defer wg.Done()
			// Re-quote before filling: a leg whose venue has gone away
			// fails here, which is what triggers the hedge path.
			_, _, err := leg.venue.BestBidAsk(ctx, opp.Symbol)
			if err != nil {
				outcomes[i] = legOutcome{err: fmt.Errorf("arbitrage: %s leg on %s: %w", leg.side, leg.venue.Name(), err)}
				return
			}
			sim := execution.Entry(opp.Symbol, ts, leg.side, leg.price, 0, qty, feeRate)
			outcomes[i] = legOutcome{fill: LegFill{Venue: leg.venue.Name(), Side: leg.side, Sim: sim}}
		}(i, leg)
	}
	wg.Wait()

	res := Result{ArbitrageID: opp.ID}
	var failed, succeeded = -1, -1
	for i, out := range outcomes {
		if out.err != nil {
			failed = i
		} else {
			succeeded = i
			res.Legs = append(res.Legs, out.fill)
		}
	}

	if failed == -1 {
		return res, nil
	}
	if succeeded == -1 {
		return Result{}, fmt.Errorf("arbitrage: both legs failed for %s", opp.ID)
	}

	// Hedge: unwind the successful leg at market on its own venue.
	good := outcomes[succeeded].fill
	hedgeSide := execution.Sell
	if good.Side == execution.Sell {
		hedgeSide = execution.Buy
	}
	hedgeSim := execution.Entry(opp.Symbol, ts+1, hedgeSide, good.Sim.Close, 0, qty, feeRate)
	res.Legs = append(res.Legs, LegFill{Venue: good.Venue, Side: hedgeSide, Sim: hedgeSim, Hedge: true})
	res.Hedged = true

	o.log.Warn().
		Str("arbitrage_id", opp.ID).
		Str("failed_leg", string(legs[failed].side)).
		Str("hedged_on", string(good.Venue)).
		Msg("leg failed, hedged remaining exposure")
	return res, nil
}

func (o *Orchestrator) venueByName(name adapter.Name) adapter.Venue {
	for _, v := range o.venues {
		if v.Name() == name {
			return v
		}
	}
	return nil
}
