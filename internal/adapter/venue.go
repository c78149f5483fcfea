// Package adapter implements the Market Adapter: a single capability set
// {bestBidAsk, orderBook, placeOrder, fees, latency} with tagged
// constructors per venue, so every exchange driver exposes the same
// surface instead of each growing its own client shape.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Name tags which venue a Venue implementation talks to.
type Name string

const (
	Binance Name = "BINANCE"
	KuCoin  Name = "KUCOIN"
	Bybit   Name = "BYBIT"
)

// BookLevel is one price/size pair in an order book.
type BookLevel struct {
	Price float64
	Size  float64
}

// OrderBook is a top-of-book snapshot, bids and asks sorted best-first.
type OrderBook struct {
	Bids []BookLevel
	Asks []BookLevel
}

// Venue is the capability set every exchange driver exposes. PlaceOrder
// is defined for interface completeness and LIVE-mode config validation
// but is never called from the engine: all execution routes through the
// Execution Simulator, per the PAPER-only Non-goal.
type Venue interface {
	Name() Name
	BestBidAsk(ctx context.Context, symbol string) (bid, ask float64, err error)
	OrderBook(ctx context.Context, symbol string, limit int) (OrderBook, error)
	PlaceOrder(ctx context.Context, symbol, side string, qty, price float64) (orderID string, err error)
	Fees() (makerBps, takerBps float64)
	Latency() time.Duration
}

const restTimeout = 12 * time.Second

// restVenue is the shared REST-polling implementation of Venue; each
// concrete venue supplies its own base URL and response shape via
// bookPath/parseBook, keeping the capability surface identical across
// venues while each still owns its wire format.
type restVenue struct {
	name       Name
	baseURL    string
	httpClient *http.Client
	makerBps   float64
	takerBps   float64
	lastLatency time.Duration
}

func newRestVenue(name Name, baseURL string, makerBps, takerBps float64) *restVenue {
	return &restVenue{
		name:       name,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: restTimeout},
		makerBps:   makerBps,
		takerBps:   takerBps,
	}
}

func (v *restVenue) Name() Name { return v.name }

func (v *restVenue) Fees() (makerBps, takerBps float64) { return v.makerBps, v.takerBps }

func (v *restVenue) Latency() time.Duration { return v.lastLatency }

func (v *restVenue) PlaceOrder(ctx context.Context, symbol, side string, qty, price float64) (string, error) {
	return "", fmt.Errorf("adapter: %s: live order placement is not implemented (paper mode only)", v.name)
}

func (v *restVenue) get(ctx context.Context, path string, out any) error {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("adapter: %s: build request: %w", v.name, err)
	}
	resp, err := v.httpClient.Do(req)
	v.lastLatency = time.Since(start)
	if err != nil {
		return fmt.Errorf("adapter: %s: request: %w", v.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("adapter: %s: http %d", v.name, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// NewBinance creates a Venue bound to Binance's public REST API.
func NewBinance() Venue {
	return &binanceVenue{restVenue: newRestVenue(Binance, "https://api.binance.com", 10, 10)}
}

// NewKuCoin creates a Venue bound to KuCoin's public REST API. apiKey/
// apiSecret/apiPassphrase are accepted for LIVE-mode parity but unused by
// any PAPER-mode capability.
func NewKuCoin(apiKey, apiSecret, apiPassphrase string) Venue {
	return &kucoinVenue{restVenue: newRestVenue(KuCoin, "https://api.kucoin.com", 10, 10)}
}

// NewBybit creates a Venue bound to Bybit's public REST API.
func NewBybit() Venue {
	return &bybitVenue{restVenue: newRestVenue(Bybit, "https://api.bybit.com", 10, 10)}
}

type binanceVenue struct{ *restVenue }
type kucoinVenue struct{ *restVenue }
type bybitVenue struct{ *restVenue }

func (v *binanceVenue) BestBidAsk(ctx context.Context, symbol string) (bid, ask float64, err error) {
	var out struct {
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	if err := v.get(ctx, "/api/v3/ticker/bookTicker?symbol="+binanceSymbol(symbol), &out); err != nil {
		return 0, 0, err
	}
	bid, _ = strconv.ParseFloat(out.BidPrice, 64)
	ask, _ = strconv.ParseFloat(out.AskPrice, 64)
	return bid, ask, nil
}

func (v *binanceVenue) OrderBook(ctx context.Context, symbol string, limit int) (OrderBook, error) {
	var out struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	if err := v.get(ctx, fmt.Sprintf("/api/v3/depth?symbol=%s&limit=%d", binanceSymbol(symbol), limit), &out); err != nil {
		return OrderBook{}, err
	}
	return parseLevels(out.Bids, out.Asks), nil
}

func (v *kucoinVenue) BestBidAsk(ctx context.Context, symbol string) (bid, ask float64, err error) {
	var out struct {
		Data struct {
			BestBid string `json:"bestBid"`
			BestAsk string `json:"bestAsk"`
		} `json:"data"`
	}
	if err := v.get(ctx, "/api/v1/market/orderbook/level1?symbol="+kucoinSymbol(symbol), &out); err != nil {
		return 0, 0, err
	}
	bid, _ = strconv.ParseFloat(out.Data.BestBid, 64)
	ask, _ = strconv.ParseFloat(out.Data.BestAsk, 64)
	return bid, ask, nil
}

func (v *kucoinVenue) OrderBook(ctx context.Context, symbol string, limit int) (OrderBook, error) {
	var out struct {
		Data struct {
			Bids [][2]string `json:"bids"`
			Asks [][2]string `json:"asks"`
		} `json:"data"`
	}
	if err := v.get(ctx, "/api/v1/market/orderbook/level2_"+strconv.Itoa(limit)+"?symbol="+kucoinSymbol(symbol), &out); err != nil {
		return OrderBook{}, err
	}
	return parseLevels(out.Data.Bids, out.Data.Asks), nil
}

func (v *bybitVenue) BestBidAsk(ctx context.Context, symbol string) (bid, ask float64, err error) {
	var out struct {
		Result struct {
			List [][]string `json:"list"`
		} `json:"result"`
	}
	if err := v.get(ctx, "/v5/market/tickers?category=spot&symbol="+bybitSymbol(symbol), &out); err != nil {
		return 0, 0, err
	}
	if len(out.Result.List) == 0 || len(out.Result.List[0]) < 4 {
		return 0, 0, fmt.Errorf("adapter: bybit: unexpected ticker shape")
	}
	bid, _ = strconv.ParseFloat(out.Result.List[0][2], 64)
	ask, _ = strconv.ParseFloat(out.Result.List[0][3], 64)
	return bid, ask, nil
}

func (v *bybitVenue) OrderBook(ctx context.Context, symbol string, limit int) (OrderBook, error) {
	var out struct {
		Result struct {
			Bids [][2]string `json:"b"`
			Asks [][2]string `json:"a"`
		} `json:"result"`
	}
	if err := v.get(ctx, fmt.Sprintf("/v5/market/orderbook?category=spot&symbol=%s&limit=%d", bybitSymbol(symbol), limit), &out); err != nil {
		return OrderBook{}, err
	}
	return parseLevels(out.Result.Bids, out.Result.Asks), nil
}

func parseLevels(bids, asks [][2]string) OrderBook {
	ob := OrderBook{Bids: make([]BookLevel, 0, len(bids)), Asks: make([]BookLevel, 0, len(asks))}
	for _, lvl := range bids {
		p, _ := strconv.ParseFloat(lvl[0], 64)
		s, _ := strconv.ParseFloat(lvl[1], 64)
		ob.Bids = append(ob.Bids, BookLevel{Price: p, Size: s})
	}
	for _, lvl := range asks {
		p, _ := strconv.ParseFloat(lvl[0], 64)
		s, _ := strconv.ParseFloat(lvl[1], 64)
		ob.Asks = append(ob.Asks, BookLevel{Price: p, Size: s})
	}
	return ob
}

// Normalize maps every USDT/USDC symbol spelling — dashed or not — to
// the internal dashed USDC convention (BTCUSDT, BTC-USDT, ETHUSDC all
// become *-USDC). Normalization is forward-only; pre-existing
// USDT-denominated history is never relabeled.
func Normalize(symbol string) string {
	for _, suffix := range []string{"-USDT", "-USDC", "USDT", "USDC"} {
		if hasSuffix(symbol, suffix) {
			return symbol[:len(symbol)-len(suffix)] + "-USDC"
		}
	}
	return symbol
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func binanceSymbol(symbol string) string {
	return stripDash(Normalize(symbol))
}

func kucoinSymbol(symbol string) string {
	return Normalize(symbol)
}

func bybitSymbol(symbol string) string {
	return stripDash(Normalize(symbol))
}

func stripDash(symbol string) string {
	out := make([]byte, 0, len(symbol))
	for i := 0; i < len(symbol); i++ {
		if symbol[i] != '-' {
			out = append(out, symbol[i])
		}
	}
	return string(out)
}
