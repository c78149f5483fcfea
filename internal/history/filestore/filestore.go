// Package filestore is the file-backed history.Store: one JSONL journal
// per record kind, appended line-buffered and fsynced per record so a
// crash never leaves a torn line behind the last durable write. It is
// the store used when no DATABASE_URL is configured.
package filestore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/paperbot/trading-engine/internal/history"
)

const (
	decisionsFile = "decisions.jsonl"
	ordersFile    = "orders.jsonl"
	fillsFile     = "fills.jsonl"
	tradesFile    = "trades.jsonl"
	snapshotsFile = "snapshots.jsonl"
)

// journal is one append-only JSONL file.
type journal struct {
	f *os.File
	w *bufio.Writer
}

func openJournal(path string) (*journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &journal{f: f, w: bufio.NewWriter(f)}, nil
}

// append marshals v, writes one line, flushes and syncs. The sync is
// what makes an append durable before the in-memory ledger commits.
func (j *journal) append(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := j.w.Write(append(data, '\n')); err != nil {
		return err
	}
	if err := j.w.Flush(); err != nil {
		return err
	}
	return j.f.Sync()
}

func (j *journal) close() error {
	if err := j.w.Flush(); err != nil {
		return err
	}
	return j.f.Close()
}

// tradeEvent is the on-disk trade record: open events carry the full
// trade, close events only the fields the close mutates. Replaying the
// journal in order reconstructs current trade state.
type tradeEvent struct {
	Kind       string         `json:"kind"` // "open" | "close"
	Trade      *history.Trade `json:"trade,omitempty"`
	TradeID    string         `json:"tradeId,omitempty"`
	TsClose    int64          `json:"tsClose,omitempty"`
	ExitPrice  float64        `json:"exitPrice,omitempty"`
	PnLAbs     float64        `json:"pnlAbs,omitempty"`
	PnLPct     float64        `json:"pnlPct,omitempty"`
	ExitReason string         `json:"exitReason,omitempty"`
	Status     string         `json:"status,omitempty"`
}

// Store implements history.Store over a directory of JSONL journals. The
// idempotency index and trade table are rebuilt from disk on open, so a
// restarted process sees every order it accepted before the crash.
type Store struct {
	mu sync.Mutex

	decisions *journal
	orders    *journal
	fills     *journal
	trades    *journal
	snapshots *journal

	ordersByKey  map[string]history.Order // non-SKIPPED only
	tradesByID   map[string]*history.Trade
	tradeOrder   []string // insertion order of trade IDs
	decisionsLog []history.Decision
}

// Open creates (or reopens) the journal directory and replays orders and
// trades to rebuild the in-memory indexes.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: mkdir %s: %w", dir, err)
	}

	s := &Store{
		ordersByKey: make(map[string]history.Order),
		tradesByID:  make(map[string]*history.Trade),
	}

	if err := s.replay(dir); err != nil {
		return nil, err
	}

	for _, spec := range []struct {
		name string
		dst  **journal
	}{
		{decisionsFile, &s.decisions},
		{ordersFile, &s.orders},
		{fillsFile, &s.fills},
		{tradesFile, &s.trades},
		{snapshotsFile, &s.snapshots},
	} {
		j, err := openJournal(filepath.Join(dir, spec.name))
		if err != nil {
			s.closeOpened()
			return nil, fmt.Errorf("filestore: open %s: %w", spec.name, err)
		}
		*spec.dst = j
	}
	return s, nil
}

func (s *Store) closeOpened() {
	for _, j := range []*journal{s.decisions, s.orders, s.fills, s.trades, s.snapshots} {
		if j != nil {
			_ = j.close()
		}
	}
}

// replay rebuilds the idempotency index, trade table and recent-decision
// log from the journals on disk. A torn trailing line (crash mid-append
// without sync) is skipped rather than treated as corruption.
func (s *Store) replay(dir string) error {
	if err := replayLines(filepath.Join(dir, ordersFile), func(line []byte) {
		var o history.Order
		if json.Unmarshal(line, &o) == nil && o.Status != history.OrderSkipped && o.IdempotencyKey != "" {
			s.ordersByKey[o.IdempotencyKey] = o
		}
	}); err != nil {
		return err
	}

	if err := replayLines(filepath.Join(dir, tradesFile), func(line []byte) {
		var ev tradeEvent
		if json.Unmarshal(line, &ev) != nil {
			return
		}
		switch ev.Kind {
		case "open":
			if ev.Trade != nil {
				t := *ev.Trade
				s.tradesByID[t.ID] = &t
				s.tradeOrder = append(s.tradeOrder, t.ID)
			}
		case "close":
			if t, ok := s.tradesByID[ev.TradeID]; ok {
				applyClose(t, ev)
			}
		}
	}); err != nil {
		return err
	}

	return replayLines(filepath.Join(dir, decisionsFile), func(line []byte) {
		var d history.Decision
		if json.Unmarshal(line, &d) == nil && d.ID != "" {
			s.decisionsLog = append(s.decisionsLog, d)
		}
	})
}

func applyClose(t *history.Trade, ev tradeEvent) {
	tsClose, exitPrice, pnlAbs, pnlPct := ev.TsClose, ev.ExitPrice, ev.PnLAbs, ev.PnLPct
	t.TsClose = &tsClose
	t.ExitPrice = &exitPrice
	t.PnLAbs = &pnlAbs
	t.PnLPct = &pnlPct
	t.ExitReason = ev.ExitReason
	if ev.Status != "" {
		t.Status = history.TradeStatus(ev.Status)
	} else {
		t.Status = history.TradeClosed
	}
}

func replayLines(path string, fn func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("filestore: replay %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		fn(line)
	}
	return sc.Err()
}

func (s *Store) AppendDecision(ctx context.Context, d history.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.decisions.append(d); err != nil {
		return fmt.Errorf("filestore: append decision: %w", err)
	}
	s.decisionsLog = append(s.decisionsLog, d)
	return nil
}

func (s *Store) AppendOrder(ctx context.Context, o history.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.orders.append(o); err != nil {
		return fmt.Errorf("filestore: append order: %w", err)
	}
	if o.Status != history.OrderSkipped && o.IdempotencyKey != "" {
		s.ordersByKey[o.IdempotencyKey] = o
	}
	return nil
}

func (s *Store) FindOrder(ctx context.Context, idempotencyKey string) (history.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.ordersByKey[idempotencyKey]
	return o, ok, nil
}

func (s *Store) AppendFill(ctx context.Context, f history.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fills.append(f); err != nil {
		return fmt.Errorf("filestore: append fill: %w", err)
	}
	return nil
}

func (s *Store) AppendTrade(ctx context.Context, t history.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.trades.append(tradeEvent{Kind: "open", Trade: &t}); err != nil {
		return fmt.Errorf("filestore: append trade: %w", err)
	}
	cp := t
	s.tradesByID[t.ID] = &cp
	s.tradeOrder = append(s.tradeOrder, t.ID)
	return nil
}

func (s *Store) CloseTrade(ctx context.Context, tradeID string, tsClose int64, exitPrice, pnlAbs, pnlPct float64, exitReason string, status history.TradeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tradesByID[tradeID]
	if !ok {
		return fmt.Errorf("filestore: close trade: unknown trade %s", tradeID)
	}
	ev := tradeEvent{
		Kind:       "close",
		TradeID:    tradeID,
		TsClose:    tsClose,
		ExitPrice:  exitPrice,
		PnLAbs:     pnlAbs,
		PnLPct:     pnlPct,
		ExitReason: exitReason,
		Status:     string(status),
	}
	if err := s.trades.append(ev); err != nil {
		return fmt.Errorf("filestore: close trade: %w", err)
	}
	applyClose(t, ev)
	return nil
}

func (s *Store) AppendSnapshot(ctx context.Context, snap history.PositionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.snapshots.append(snap); err != nil {
		return fmt.Errorf("filestore: append snapshot: %w", err)
	}
	return nil
}

// RecentDecisions returns up to limit decisions, newest first.
func (s *Store) RecentDecisions(ctx context.Context, limit int) ([]history.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.decisionsLog)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]history.Decision, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.decisionsLog[i])
	}
	return out, nil
}

// RecentTrades returns up to limit trades, newest first, with close
// mutations applied.
func (s *Store) RecentTrades(ctx context.Context, limit int) ([]history.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.tradeOrder)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]history.Trade, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		if t, ok := s.tradesByID[s.tradeOrder[i]]; ok {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, j := range []*journal{s.decisions, s.orders, s.fills, s.trades, s.snapshots} {
		if j == nil {
			continue
		}
		if err := j.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
