// Package pgstore is the Postgres-backed history.Store, used when
// DATABASE_URL is configured. Each record is written by its own
// statement; no transaction groups the order, fill, trade and snapshot
// records of one fill, so a failure part way through leaves the records
// written before it in place.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paperbot/trading-engine/internal/history"
)

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// Store implements history.Store over a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL, making up to connectAttempts attempts
// with a fixed connectBackoff pause between them, and
// ensures the journal tables exist. A store that cannot be opened is a
// fatal startup error for the caller.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	var pool *pgxpool.Pool
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pool, err = pgxpool.New(ctx, databaseURL)
		if err == nil {
			err = pool.Ping(ctx)
			if err == nil {
				break
			}
			pool.Close()
		}
		if attempt < connectAttempts {
			select {
			case <-time.After(connectBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id TEXT PRIMARY KEY,
			ts BIGINT NOT NULL,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			decision TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			reasons JSONB NOT NULL DEFAULT '[]',
			features_hash TEXT NOT NULL DEFAULT '',
			regime TEXT NOT NULL DEFAULT '',
			model_version BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			decision_id TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			qty DOUBLE PRECISION NOT NULL,
			requested_price DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			ts BIGINT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS orders_idempotency_key
			ON orders (idempotency_key) WHERE status <> 'SKIPPED'`,
		`CREATE TABLE IF NOT EXISTS fills (
			fill_id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL REFERENCES orders(order_id),
			avg_price DOUBLE PRECISION NOT NULL,
			qty DOUBLE PRECISION NOT NULL,
			fees DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			ts BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			ts_open BIGINT NOT NULL,
			ts_close BIGINT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			qty DOUBLE PRECISION NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			exit_price DOUBLE PRECISION,
			fee DOUBLE PRECISION NOT NULL,
			sl_price DOUBLE PRECISION,
			tp_price DOUBLE PRECISION,
			slippage DOUBLE PRECISION NOT NULL DEFAULT 0,
			pnl_abs DOUBLE PRECISION,
			pnl_pct DOUBLE PRECISION,
			status TEXT NOT NULL,
			decision_id TEXT NOT NULL,
			exit_reason TEXT NOT NULL DEFAULT '',
			arbitrage_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS position_snapshots (
			ts BIGINT NOT NULL,
			symbol TEXT NOT NULL,
			balance DOUBLE PRECISION NOT NULL,
			position_size DOUBLE PRECISION NOT NULL,
			avg_entry_price DOUBLE PRECISION NOT NULL,
			total_portfolio_value DOUBLE PRECISION NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgstore: ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) AppendDecision(ctx context.Context, d history.Decision) error {
	reasons, err := json.Marshal(d.Reasons)
	if err != nil {
		return fmt.Errorf("pgstore: marshal reasons: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO decisions (id, ts, symbol, timeframe, decision, confidence, reasons, features_hash, regime, model_version)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		d.ID, d.TS, d.Symbol, d.Timeframe, string(d.Signal), d.Confidence, reasons, d.InputsHash, d.Regime, d.ModelVersion)
	if err != nil {
		return fmt.Errorf("pgstore: append decision: %w", err)
	}
	return nil
}

func (s *Store) AppendOrder(ctx context.Context, o history.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (order_id, decision_id, idempotency_key, symbol, side, qty, requested_price, status, ts)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		o.OrderID, o.DecisionID, o.IdempotencyKey, o.Symbol, o.Side, o.Qty, o.RequestedPrice, string(o.Status), o.TS)
	if err != nil {
		return fmt.Errorf("pgstore: append order: %w", err)
	}
	return nil
}

func (s *Store) FindOrder(ctx context.Context, idempotencyKey string) (history.Order, bool, error) {
	var o history.Order
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT order_id, decision_id, idempotency_key, symbol, side, qty, requested_price, status, ts
		 FROM orders WHERE idempotency_key = $1 AND status <> 'SKIPPED' LIMIT 1`,
		idempotencyKey).Scan(&o.OrderID, &o.DecisionID, &o.IdempotencyKey, &o.Symbol, &o.Side, &o.Qty, &o.RequestedPrice, &status, &o.TS)
	if errors.Is(err, pgx.ErrNoRows) {
		return history.Order{}, false, nil
	}
	if err != nil {
		return history.Order{}, false, fmt.Errorf("pgstore: find order: %w", err)
	}
	o.Status = history.OrderStatus(status)
	return o, true, nil
}

func (s *Store) AppendFill(ctx context.Context, f history.Fill) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fills (fill_id, order_id, avg_price, qty, fees, status, ts)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		f.FillID, f.OrderID, f.AvgPrice, f.Qty, f.Fees, string(f.Status), f.TS)
	if err != nil {
		return fmt.Errorf("pgstore: append fill: %w", err)
	}
	return nil
}

func (s *Store) AppendTrade(ctx context.Context, t history.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, ts_open, ts_close, symbol, side, qty, entry_price, exit_price, fee, sl_price, tp_price, slippage, pnl_abs, pnl_pct, status, decision_id, exit_reason, arbitrage_id)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		t.ID, t.TsOpen, t.TsClose, t.Symbol, t.Side, t.Qty, t.EntryPrice, t.ExitPrice, t.Fee, t.SLPrice, t.TPPrice, t.Slippage, t.PnLAbs, t.PnLPct, string(t.Status), t.DecisionID, t.ExitReason, t.ArbitrageID)
	if err != nil {
		return fmt.Errorf("pgstore: append trade: %w", err)
	}
	return nil
}

func (s *Store) CloseTrade(ctx context.Context, tradeID string, tsClose int64, exitPrice, pnlAbs, pnlPct float64, exitReason string, status history.TradeStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trades SET ts_close = $2, exit_price = $3, pnl_abs = $4, pnl_pct = $5, exit_reason = $6, status = $7
		 WHERE id = $1`,
		tradeID, tsClose, exitPrice, pnlAbs, pnlPct, exitReason, string(status))
	if err != nil {
		return fmt.Errorf("pgstore: close trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgstore: close trade: unknown trade %s", tradeID)
	}
	return nil
}

func (s *Store) AppendSnapshot(ctx context.Context, snap history.PositionSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO position_snapshots (ts, symbol, balance, position_size, avg_entry_price, total_portfolio_value)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		snap.TS, snap.Symbol, snap.Balance, snap.PositionSize, snap.AvgEntryPrice, snap.TotalPortfolioValue)
	if err != nil {
		return fmt.Errorf("pgstore: append snapshot: %w", err)
	}
	return nil
}

func (s *Store) RecentDecisions(ctx context.Context, limit int) ([]history.Decision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, ts, symbol, timeframe, decision, confidence, reasons, features_hash, regime, model_version
		 FROM decisions ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("pgstore: recent decisions: %w", err)
	}
	defer rows.Close()

	var out []history.Decision
	for rows.Next() {
		var d history.Decision
		var signal string
		var reasons []byte
		if err := rows.Scan(&d.ID, &d.TS, &d.Symbol, &d.Timeframe, &signal, &d.Confidence, &reasons, &d.InputsHash, &d.Regime, &d.ModelVersion); err != nil {
			return nil, fmt.Errorf("pgstore: scan decision: %w", err)
		}
		d.Signal = history.DecisionType(signal)
		_ = json.Unmarshal(reasons, &d.Reasons)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) RecentTrades(ctx context.Context, limit int) ([]history.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, ts_open, ts_close, symbol, side, qty, entry_price, exit_price, fee, sl_price, tp_price, slippage, pnl_abs, pnl_pct, status, decision_id, exit_reason, arbitrage_id
		 FROM trades ORDER BY ts_open DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("pgstore: recent trades: %w", err)
	}
	defer rows.Close()

	var out []history.Trade
	for rows.Next() {
		var t history.Trade
		var status string
		if err := rows.Scan(&t.ID, &t.TsOpen, &t.TsClose, &t.Symbol, &t.Side, &t.Qty, &t.EntryPrice, &t.ExitPrice, &t.Fee, &t.SLPrice, &t.TPPrice, &t.Slippage, &t.PnLAbs, &t.PnLPct, &status, &t.DecisionID, &t.ExitReason, &t.ArbitrageID); err != nil {
			return nil, fmt.Errorf("pgstore: scan trade: %w", err)
		}
		t.Status = history.TradeStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
