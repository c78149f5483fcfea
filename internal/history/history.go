// Package history implements the Trade History Store: append-only
// journals for decisions, orders, fills, trades and position snapshots,
// plus the idempotency index every submitted order is checked against
// before the ledger is mutated.
//
// Store is satisfied by two implementations chosen once at startup —
// history/pgstore (DATABASE_URL configured) and history/filestore
// (JSONL, no database configured) — and the engine depends only on this
// interface.
package history

import "context"

// DecisionType mirrors the persisted-schema DecisionType enum.
type DecisionType string

const (
	DecisionBuy  DecisionType = "BUY"
	DecisionSell DecisionType = "SELL"
	DecisionHold DecisionType = "HOLD"
)

// OrderStatus mirrors the persisted Order.status enum.
type OrderStatus string

const (
	OrderAccepted OrderStatus = "ACCEPTED"
	OrderSkipped  OrderStatus = "SKIPPED"
	OrderRejected OrderStatus = "REJECTED"
	OrderFilled   OrderStatus = "FILLED"
)

// TradeStatus mirrors the persisted Trade.status enum.
type TradeStatus string

const (
	TradeOpen     TradeStatus = "OPEN"
	TradeClosed   TradeStatus = "CLOSED"
	TradeCanceled TradeStatus = "CANCELED"
)

// FillStatus mirrors Fill.status; FILLED is the only status this engine
// ever writes (a partially filled simulated order does not occur).
type FillStatus string

const FillFilled FillStatus = "FILLED"

// Decision is one evaluation-tick record: exactly one is written per
// tick regardless of the resulting action.
type Decision struct {
	ID           string
	TS           int64
	Symbol       string
	Timeframe    string
	InputsHash   string
	Signal       DecisionType
	Confidence   float64
	Regime       string
	Reasons      []string
	ModelVersion int64
}

// Order is one submitted order. IdempotencyKey is
// "symbol|timeframe|decisionTs|side" for signal orders; targeted exits
// append "|lotID" and force-trades use the decision id in place of
// decisionTs. The key must be unique over every
// non-SKIPPED order; FindOrder is consulted before a new one is
// accepted.
type Order struct {
	OrderID        string
	DecisionID     string
	IdempotencyKey string
	Symbol         string
	Side           string
	Qty            float64
	RequestedPrice float64
	Status         OrderStatus
	TS             int64
}

// Fill is the execution result of a FILLED order. Exactly one Fill
// exists per FILLED order.
type Fill struct {
	FillID   string
	OrderID  string
	AvgPrice float64
	Qty      float64
	Fees     float64
	Status   FillStatus
	TS       int64
}

// Trade is the persisted-schema Trade row: one row per opened position,
// updated in place when it closes (CloseTrade) rather than appended
// twice.
type Trade struct {
	ID          string
	TsOpen      int64
	TsClose     *int64
	Symbol      string
	Side        string
	Qty         float64
	EntryPrice  float64
	ExitPrice   *float64
	Fee         float64
	SLPrice     *float64
	TPPrice     *float64
	Slippage    float64
	PnLAbs      *float64
	PnLPct      *float64
	Status      TradeStatus
	DecisionID  string
	ExitReason  string
	ArbitrageID string
}

// PositionSnapshot is a periodic balance/exposure snapshot, written
// after every fill.
type PositionSnapshot struct {
	TS                  int64
	Symbol              string
	Balance             float64
	PositionSize        float64
	AvgEntryPrice       float64
	TotalPortfolioValue float64
}

// Store is the Trade History Store contract.
type Store interface {
	AppendDecision(ctx context.Context, d Decision) error
	AppendOrder(ctx context.Context, o Order) error
	// FindOrder looks up a non-SKIPPED order by idempotency key, the
	// check every submitted order goes through before the ledger is
	// mutated.
	FindOrder(ctx context.Context, idempotencyKey string) (Order, bool, error)
	AppendFill(ctx context.Context, f Fill) error
	AppendTrade(ctx context.Context, t Trade) error
	CloseTrade(ctx context.Context, tradeID string, tsClose int64, exitPrice, pnlAbs, pnlPct float64, exitReason string, status TradeStatus) error
	AppendSnapshot(ctx context.Context, s PositionSnapshot) error
	RecentDecisions(ctx context.Context, limit int) ([]Decision, error)
	RecentTrades(ctx context.Context, limit int) ([]Trade, error)
	Close() error
}
