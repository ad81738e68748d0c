package ledger

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Rejection reasons returned by Reserve. These are expected outcomes, not
// errors; callers log them and drop the signal.
const (
	ReasonPerPositionCap = "PER_POSITION_CAP_EXCEEDED"
	ReasonConcurrentCap  = "CONCURRENT_POSITION_CAP_EXCEEDED"
	ReasonUnknownPrice   = "UNKNOWN_SYMBOL_PRICE"
	ReasonNoPosition     = "NO_POSITION_TO_REDUCE"
)

// Rejection carries the reason a reservation was refused.
type Rejection struct {
	Reason string
	Detail string
}

// RiskBudget is the configuration snapshot the ledger enforces.
// Read-only after construction.
type RiskBudget struct {
	MaxNotionalPerPosition float64
	MaxConcurrentPositions int
}

// Position is the ledger's view of net exposure in one symbol.
// Quantity is signed: positive = long.
type Position struct {
	Symbol    string  `json:"symbol"`
	Qty       int64   `json:"qty"`
	AvgCost   float64 `json:"avg_cost"`
	LastPrice float64 `json:"last_price"`
}

// Trade is an append-only ledger entry, written once per fill.
type Trade struct {
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Qty        int64     `json:"qty"`
	Price      float64   `json:"price"`
	OrderID    string    `json:"order_id"`
	StrategyID string    `json:"strategy_id"`
	FillSeq    int       `json:"fill_seq"`
}

// Reservation is a provisional hold on risk capacity pending an order's
// outcome. Held capacity shrinks as fills are committed and is returned
// in full by Release.
type Reservation struct {
	id       string
	Symbol   string
	Side     Side
	Notional float64 // remaining held notional
	Reduce   bool    // reduces an opposing position; exempt from caps
	done     bool
}
