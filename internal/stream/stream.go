// Package stream implements the Market Stream: a 1-minute kline
// subscription per symbol with REST bootstrap, exponential-backoff
// reconnection, and a bounded ring buffer, modeled as a per-symbol task
// selecting over {message, heartbeat, shutdown} channels rather than a
// callback-driven WebSocket handler with ambient interval timers.
package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/paperbot/trading-engine/internal/candle"
)

// Conn is the minimal websocket connection surface the stream needs,
// satisfied by a *websocket.Conn wrapper in production and by a fake in
// tests.
type Conn interface {
	ReadMessage() (data []byte, err error)
	Close() error
}

// Dialer opens a Conn to a URL. The production Dialer wraps
// github.com/gorilla/websocket.Dialer; tests supply a fake that replays
// canned frames.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Decoder turns one raw websocket frame into a candle. closed reports
// whether the bar has finished forming; ok=false marks a frame that does
// not decode to a valid bar. The stream drops frames of still-forming
// bars: it keeps no trailing bar and emits only candle-closed events.
type Decoder func(symbol string, frame []byte) (c candle.Candle, closed bool, ok bool)

// Bootstrapper fetches the last n closed bars for a symbol via REST.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, symbol, interval string, n int) ([]candle.Candle, error)
}

const (
	heartbeatInterval = 5 * time.Second
	unstableAfter     = 20 * time.Second
	minBackoff        = 500 * time.Millisecond
	maxBackoff        = 30 * time.Second
	maxBuffer         = 500
	backfillBars      = 20
)

// Update is the market:update event emitted once per closed bar.
type Update struct {
	Symbol        string
	LagMs         int64
	CandleCloseTS int64
	Close         float64
}

// symbolStream tracks the live connection and ring buffer for one symbol.
type symbolStream struct {
	mu            sync.RWMutex
	ring          *candle.Ring
	lastMessageAt time.Time
	unstable      bool
}

// Stream coordinates kline subscriptions across symbols.
type Stream struct {
	dialer  Dialer
	decode  Decoder
	boot    Bootstrapper
	wsURL   string

	mu      sync.RWMutex
	symbols map[string]*symbolStream

	updates chan Update
}

// New creates a Stream. wsURL is the venue's kline websocket endpoint;
// decode turns venue-specific frames into candles.
func New(dialer Dialer, boot Bootstrapper, decode Decoder, wsURL string) *Stream {
	return &Stream{
		dialer:  dialer,
		decode:  decode,
		boot:    boot,
		wsURL:   wsURL,
		symbols: make(map[string]*symbolStream),
		updates: make(chan Update, 256),
	}
}

// Updates returns the channel of candle-closed events across all
// subscribed symbols.
func (s *Stream) Updates() <-chan Update { return s.updates }

// Bootstrap seeds the ring buffer for symbol with the last n bars
// (n capped at 500) fetched via REST.
func (s *Stream) Bootstrap(ctx context.Context, symbol, interval string, n int) error {
	if n > maxBuffer {
		n = maxBuffer
	}
	bars, err := s.boot.Bootstrap(ctx, symbol, interval, n)
	if err != nil {
		return fmt.Errorf("stream: bootstrap %s: %w", symbol, err)
	}
	ss := s.symbolStream(symbol)
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for _, bar := range bars {
		_ = ss.ring.Upsert(bar)
	}
	return nil
}

func (s *Stream) symbolStream(symbol string) *symbolStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, ok := s.symbols[symbol]
	if !ok {
		ss = &symbolStream{ring: candle.NewRing(maxBuffer)}
		s.symbols[symbol] = ss
	}
	return ss
}

// Buffer returns the last <=maxBuffer bars for a symbol, oldest first.
func (s *Stream) Buffer(symbol string) []candle.Candle {
	ss := s.symbolStream(symbol)
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.ring.Bars()
}

// IsUnstable reports whether the symbol's stream has gone silent,
// dropped, or failed to dial, and has not opened a new connection since.
func (s *Stream) IsUnstable(symbol string) bool {
	ss := s.symbolStream(symbol)
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.unstable
}

// Subscribe opens a kline stream for symbol and runs until ctx is
// canceled, reconnecting with exponential backoff and reconciling missed
// closes via a REST backfill after every dropped connection, before
// redialing. It is meant to run
// in its own goroutine per symbol.
func (s *Stream) Subscribe(ctx context.Context, symbol, interval string) {
	ss := s.symbolStream(symbol)
	backoff := minBackoff

	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := s.dialer.Dial(ctx, s.wsURL)
		if err != nil {
			s.markUnstable(ss)
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = minBackoff
		s.runConnection(ctx, ss, conn, symbol, interval)

		if ctx.Err() != nil {
			return
		}
		// Connection dropped: reconcile via REST backfill before
		// reconnecting so any bar closed during the gap is not lost.
		if s.boot != nil {
			if bars, err := s.boot.Bootstrap(ctx, symbol, interval, backfillBars); err == nil {
				ss.mu.Lock()
				for _, bar := range bars {
					_ = ss.ring.Upsert(bar)
				}
				ss.mu.Unlock()
			}
		}
		if !sleepOrDone(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func (s *Stream) runConnection(ctx context.Context, ss *symbolStream, conn Conn, symbol, interval string) {
	defer conn.Close()

	msgCh := make(chan []byte, 64)
	errCh := make(chan error, 1)
	go func() {
		for {
			data, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			select {
			case msgCh <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ss.mu.Lock()
	ss.lastMessageAt = time.Now()
	ss.unstable = false
	ss.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-errCh:
			s.markUnstable(ss)
			return
		case frame := <-msgCh:
			ss.mu.Lock()
			ss.lastMessageAt = time.Now()
			ss.mu.Unlock()

			c, closed, ok := s.decode(symbol, frame)
			if !ok {
				continue
			}
			if !closed {
				continue
			}
			ss.mu.Lock()
			err := ss.ring.Push(c)
			ss.mu.Unlock()
			if err != nil {
				continue
			}
			update := Update{
				Symbol:        symbol,
				LagMs:         time.Now().UnixMilli() - c.TS,
				CandleCloseTS: c.TS,
				Close:         c.Close,
			}
			select {
			case s.updates <- update:
			case <-ctx.Done():
				return
			}
		case <-heartbeat.C:
			ss.mu.RLock()
			age := time.Since(ss.lastMessageAt)
			ss.mu.RUnlock()
			if age > unstableAfter {
				s.markUnstable(ss)
				return
			}
		}
	}
}

func (s *Stream) markUnstable(ss *symbolStream) {
	ss.mu.Lock()
	ss.unstable = true
	ss.mu.Unlock()
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
