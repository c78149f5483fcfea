package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/paperbot/trading-engine/internal/adapter"
	"github.com/paperbot/trading-engine/internal/candle"
)

// BinanceWSURL is the combined-stream kline websocket endpoint.
const BinanceWSURL = "wss://stream.binance.com:9443/ws"

// BinanceBootstrapper fetches kline backfills from Binance's public REST
// klines endpoint.
type BinanceBootstrapper struct {
	httpClient *http.Client
}

// NewBinanceBootstrapper creates a Bootstrapper bound to Binance.
func NewBinanceBootstrapper() *BinanceBootstrapper {
	return &BinanceBootstrapper{httpClient: &http.Client{Timeout: 12 * time.Second}}
}

func (b *BinanceBootstrapper) Bootstrap(ctx context.Context, symbol, interval string, n int) ([]candle.Candle, error) {
	sym := stripDashUpper(adapter.Normalize(symbol))
	url := fmt.Sprintf("https://api.binance.com/api/v3/klines?symbol=%s&interval=%s&limit=%d", sym, interval, n)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("stream: binance bootstrap: build request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream: binance bootstrap: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stream: binance bootstrap: http %d", resp.StatusCode)
	}

	var rows [][]any
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("stream: binance bootstrap: decode: %w", err)
	}

	bars := make([]candle.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		c := candle.Candle{
			Symbol: symbol,
			Open:   parseAny(row[1]),
			High:   parseAny(row[2]),
			Low:    parseAny(row[3]),
			Close:  parseAny(row[4]),
			Volume: parseAny(row[5]),
			TS:     int64(parseAny(row[0])),
		}
		if c.Valid() {
			bars = append(bars, c)
		}
	}
	return bars, nil
}

func parseAny(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	default:
		return 0
	}
}

func stripDashUpper(symbol string) string {
	out := make([]byte, 0, len(symbol))
	for i := 0; i < len(symbol); i++ {
		if symbol[i] != '-' {
			out = append(out, symbol[i])
		}
	}
	return string(out)
}

// binanceKlineEvent is the combined-stream kline payload shape.
type binanceKlineEvent struct {
	Data struct {
		Kline struct {
			StartTime int64  `json:"t"`
			Open      string `json:"o"`
			High      string `json:"h"`
			Low       string `json:"l"`
			Close     string `json:"c"`
			Volume    string `json:"v"`
			IsClosed  bool   `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

// DecodeBinanceKline turns a raw Binance kline frame into a candle,
// reporting closed=true only once the bar the exchange sent has finished
// forming.
func DecodeBinanceKline(symbol string, frame []byte) (c candle.Candle, closed bool, ok bool) {
	var ev binanceKlineEvent
	if err := json.Unmarshal(frame, &ev); err != nil {
		return candle.Candle{}, false, false
	}
	k := ev.Data.Kline
	if k.StartTime == 0 {
		return candle.Candle{}, false, false
	}
	open, _ := strconv.ParseFloat(k.Open, 64)
	high, _ := strconv.ParseFloat(k.High, 64)
	low, _ := strconv.ParseFloat(k.Low, 64)
	cl, _ := strconv.ParseFloat(k.Close, 64)
	vol, _ := strconv.ParseFloat(k.Volume, 64)
	c = candle.Candle{Symbol: symbol, Open: open, High: high, Low: low, Close: cl, Volume: vol, TS: k.StartTime}
	return c, k.IsClosed, c.Valid()
}
