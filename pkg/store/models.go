package store

import "time"

// SignalRow is a persisted strategy signal.
type SignalRow struct {
	ID         string    `json:"id"`
	Seq        uint64    `json:"seq"`
	Symbol     string    `json:"symbol"`
	StrategyID string    `json:"strategy_id"`
	Direction  string    `json:"direction"`
	Confidence float64   `json:"confidence"`
	EmittedAt  time.Time `json:"emitted_at"`
}

// OrderRow is the persisted view of one order, keyed by idempotency key so
// a retried submission can never create a second row.
type OrderRow struct {
	IdempotencyKey string    `json:"idempotency_key"`
	OrderID        string    `json:"order_id"`
	SignalID       string    `json:"signal_id"`
	StrategyID     string    `json:"strategy_id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Qty            int64     `json:"qty"`
	State          string    `json:"state"`
	FilledQty      int64     `json:"filled_qty"`
	AvgFillPrice   float64   `json:"avg_fill_price"`
	Reason         string    `json:"reason,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TransitionRow records one lifecycle state change.
type TransitionRow struct {
	IdempotencyKey string    `json:"idempotency_key"`
	FromState      string    `json:"from_state"`
	ToState        string    `json:"to_state"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TradeRow is one committed fill. (order_id, fill_seq) is unique.
type TradeRow struct {
	OrderID    string    `json:"order_id"`
	FillSeq    int       `json:"fill_seq"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Qty        int64     `json:"qty"`
	Price      float64   `json:"price"`
	StrategyID string    `json:"strategy_id"`
	ExecutedAt time.Time `json:"executed_at"`
}

// DropRow records a signal rejected before reaching the broker.
type DropRow struct {
	SignalID  string    `json:"signal_id"`
	Reason    string    `json:"reason"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PositionRow mirrors the ledger's position snapshot for restarts and
// offline inspection. Trades remain the source of truth.
type PositionRow struct {
	Symbol    string    `json:"symbol"`
	Qty       int64     `json:"qty"`
	AvgCost   float64   `json:"avg_cost"`
	LastPrice float64   `json:"last_price"`
	UpdatedAt time.Time `json:"updated_at"`
}
