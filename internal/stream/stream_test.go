package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/paperbot/trading-engine/internal/candle"
)

type fakeConn struct {
	frames [][]byte
	idx    int
	closed bool
	block  chan struct{}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	if c.idx < len(c.frames) {
		f := c.frames[c.idx]
		c.idx++
		return f, nil
	}
	<-c.block
	return nil, errClosed
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type errString string

func (e errString) Error() string { return string(e) }

const errClosed = errString("fake: closed")

type fakeDialer struct {
	conn *fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	return d.conn, nil
}

type fakeBootstrapper struct {
	bars []candle.Candle
}

func (b *fakeBootstrapper) Bootstrap(ctx context.Context, symbol, interval string, n int) ([]candle.Candle, error) {
	return b.bars, nil
}

func klineFrame(ts int64, close float64, isClosed bool) []byte {
	type kline struct {
		Data struct {
			Kline struct {
				T int64   `json:"t"`
				O string  `json:"o"`
				H string  `json:"h"`
				L string  `json:"l"`
				C string  `json:"c"`
				V string  `json:"v"`
				X bool    `json:"x"`
			} `json:"k"`
		} `json:"data"`
	}
	var ev kline
	ev.Data.Kline.T = ts
	ev.Data.Kline.O = "100"
	ev.Data.Kline.H = "110"
	ev.Data.Kline.L = "90"
	ev.Data.Kline.C = "105"
	ev.Data.Kline.V = "10"
	ev.Data.Kline.X = isClosed
	_ = close
	b, _ := json.Marshal(ev)
	return b
}

func TestBootstrapSeedsRingBuffer(t *testing.T) {
	boot := &fakeBootstrapper{bars: []candle.Candle{
		{Symbol: "BTC-USDC", Open: 1, High: 2, Low: 1, Close: 1.5, Volume: 10, TS: 1000},
	}}
	s := New(&fakeDialer{}, boot, DecodeBinanceKline, BinanceWSURL)
	if err := s.Bootstrap(context.Background(), "BTC-USDC", "1h", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bars := s.Buffer("BTC-USDC")
	if len(bars) != 1 || bars[0].TS != 1000 {
		t.Fatalf("expected one seeded bar, got %+v", bars)
	}
}

func TestSubscribeEmitsUpdateOnClosedBar(t *testing.T) {
	conn := &fakeConn{
		frames: [][]byte{klineFrame(1000, 105, true)},
		block:  make(chan struct{}),
	}
	s := New(&fakeDialer{conn: conn}, &fakeBootstrapper{}, DecodeBinanceKline, BinanceWSURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Subscribe(ctx, "BTC-USDC", "1h")

	select {
	case u := <-s.Updates():
		if u.Symbol != "BTC-USDC" || u.CandleCloseTS != 1000 {
			t.Fatalf("unexpected update: %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}
}

func TestDecodeBinanceKlineIgnoresUnclosedBar(t *testing.T) {
	_, closed, ok := DecodeBinanceKline("BTC-USDC", klineFrame(1000, 105, false))
	if !ok {
		t.Fatal("expected decode to succeed")
	}
	if closed {
		t.Fatal("expected closed=false for an in-progress bar")
	}
}

func TestNextBackoffCapsAtMax(t *testing.T) {
	d := maxBackoff / 2 * 3
	if got := nextBackoff(d); got != maxBackoff {
		t.Fatalf("expected backoff capped at max, got %v", got)
	}
}
