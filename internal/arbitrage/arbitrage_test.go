package arbitrage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/paperbot/trading-engine/internal/adapter"
	"github.com/paperbot/trading-engine/internal/execution"
)

// fakeVenue is a scriptable adapter.Venue.
type fakeVenue struct {
	name     adapter.Name
	bid, ask float64
	err      error
	takerBps float64
}

func (v *fakeVenue) Name() adapter.Name { return v.name }

func (v *fakeVenue) BestBidAsk(context.Context, string) (float64, float64, error) {
	if v.err != nil {
		return 0, 0, v.err
	}
	return v.bid, v.ask, nil
}

func (v *fakeVenue) OrderBook(context.Context, string, int) (adapter.OrderBook, error) {
	return adapter.OrderBook{}, nil
}

func (v *fakeVenue) PlaceOrder(context.Context, string, string, float64, float64) (string, error) {
	return "", errors.New("paper only")
}

func (v *fakeVenue) Fees() (float64, float64) { return v.takerBps, v.takerBps }

func (v *fakeVenue) Latency() time.Duration { return 0 }

func TestScanFindsCrossVenueSpread(t *testing.T) {
	venues := []adapter.Venue{
		&fakeVenue{name: adapter.Binance, bid: 99.9, ask: 100.0, takerBps: 1},
		&fakeVenue{name: adapter.KuCoin, bid: 101.0, ask: 101.1, takerBps: 1},
	}
	o := New(venues, 1, 0, zerolog.Nop())

	opp, found := o.Scan(context.Background(), "BTC-USDC")
	if !found {
		t.Fatal("expected an opportunity with a 1% gross spread")
	}
	if opp.BuyVenue != adapter.Binance || opp.SellVenue != adapter.KuCoin {
		t.Fatalf("wrong venue routing: buy=%s sell=%s", opp.BuyVenue, opp.SellVenue)
	}
	if opp.NetPct <= 0 {
		t.Fatalf("expected positive net pct, got %v", opp.NetPct)
	}
}

func TestScanRejectsSpreadEatenByFees(t *testing.T) {
	venues := []adapter.Venue{
		&fakeVenue{name: adapter.Binance, bid: 99.99, ask: 100.0, takerBps: 50},
		&fakeVenue{name: adapter.KuCoin, bid: 100.05, ask: 100.06, takerBps: 50},
	}
	o := New(venues, 4, 0, zerolog.Nop())
	if _, found := o.Scan(context.Background(), "BTC-USDC"); found {
		t.Fatal("expected no opportunity once fees exceed the spread")
	}
}

func TestScanSkipsErroringVenues(t *testing.T) {
	venues := []adapter.Venue{
		&fakeVenue{name: adapter.Binance, err: errors.New("down")},
		&fakeVenue{name: adapter.KuCoin, bid: 101, ask: 101.1},
	}
	o := New(venues, 1, 0, zerolog.Nop())
	if _, found := o.Scan(context.Background(), "BTC-USDC"); found {
		t.Fatal("a single healthy venue cannot form a pair")
	}
}

func TestExecuteFillsBothLegs(t *testing.T) {
	buy := &fakeVenue{name: adapter.Binance, bid: 99.9, ask: 100.0, takerBps: 1}
	sell := &fakeVenue{name: adapter.KuCoin, bid: 101.0, ask: 101.1, takerBps: 1}
	o := New([]adapter.Venue{buy, sell}, 1, 0, zerolog.Nop())

	opp, found := o.Scan(context.Background(), "BTC-USDC")
	if !found {
		t.Fatal("expected opportunity")
	}
	res, err := o.Execute(context.Background(), opp, 0.5, 0.001)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Hedged {
		t.Fatal("no hedge expected when both legs fill")
	}
	if len(res.Legs) != 2 {
		t.Fatalf("expected 2 legs, got %d", len(res.Legs))
	}
	sides := map[execution.Side]adapter.Name{}
	for _, leg := range res.Legs {
		sides[leg.Side] = leg.Venue
	}
	if sides[execution.Buy] != adapter.Binance || sides[execution.Sell] != adapter.KuCoin {
		t.Fatalf("legs routed to wrong venues: %+v", sides)
	}
	if res.ArbitrageID != opp.ID {
		t.Fatal("result must carry the opportunity id")
	}
}

func TestExecuteHedgesWhenOneLegFails(t *testing.T) {
	buy := &fakeVenue{name: adapter.Binance, bid: 99.9, ask: 100.0, takerBps: 1}
	sell := &fakeVenue{name: adapter.KuCoin, bid: 101.0, ask: 101.1, takerBps: 1}
	o := New([]adapter.Venue{buy, sell}, 1, 0, zerolog.Nop())

	opp, found := o.Scan(context.Background(), "BTC-USDC")
	if !found {
		t.Fatal("expected opportunity")
	}

	// The sell venue dies between scan and execution.
	sell.err = errors.New("venue down")
	res, err := o.Execute(context.Background(), opp, 0.5, 0.001)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Hedged {
		t.Fatal("expected hedge after a failed leg")
	}
	if len(res.Legs) != 2 {
		t.Fatalf("expected original leg + hedge, got %d legs", len(res.Legs))
	}
	hedge := res.Legs[len(res.Legs)-1]
	if !hedge.Hedge || hedge.Venue != adapter.Binance || hedge.Side != execution.Sell {
		t.Fatalf("hedge must unwind the buy leg on its own venue: %+v", hedge)
	}
}

func TestExecuteErrorsWhenBothLegsFail(t *testing.T) {
	buy := &fakeVenue{name: adapter.Binance, bid: 99.9, ask: 100.0}
	sell := &fakeVenue{name: adapter.KuCoin, bid: 101.0, ask: 101.1}
	o := New([]adapter.Venue{buy, sell}, 1, 0, zerolog.Nop())

	opp, found := o.Scan(context.Background(), "BTC-USDC")
	if !found {
		t.Fatal("expected opportunity")
	}
	buy.err = errors.New("down")
	sell.err = errors.New("down")
	if _, err := o.Execute(context.Background(), opp, 0.5, 0.001); err == nil {
		t.Fatal("expected error when both legs fail")
	}
}
