package broker

import (
	"context"
	"errors"
	"fmt"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes supported order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Status normalizes broker order status into a small set.
type Status string

const (
	StatusNew      Status = "NEW"
	StatusPartial  Status = "PARTIALLY_FILLED"
	StatusFilled   Status = "FILLED"
	StatusCanceled Status = "CANCELED"
	StatusRejected Status = "REJECTED"
)

// OrderRequest captures an order intent. Immutable after creation.
// The idempotency key is derived deterministically from the originating
// signal so that re-submission after a transient failure never
// double-submits.
type OrderRequest struct {
	Symbol         string
	Side           Side
	Qty            int64 // positive
	Type           OrderType
	LimitPrice     float64 // required iff Type == LIMIT
	IdempotencyKey string
	SimulateOnly   bool

	// Causal identifiers carried for the audit trail.
	SignalID   string
	StrategyID string
}

// OrderAck is the broker's acknowledgment of a placed order. Duplicate is
// set when the broker matched the idempotency key to an earlier attempt;
// the ack then describes the original order, which is authoritative.
type OrderAck struct {
	OrderID   string
	Status    Status
	Duplicate bool
}

// OrderStatus is a point-in-time broker view of an order.
type OrderStatus struct {
	OrderID      string
	Status       Status
	FilledQty    int64
	AvgFillPrice float64
}

// TransientError marks a failure worth retrying (network, timeout).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient broker error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ProtocolError marks a malformed broker response. Fatal to the order,
// never retried.
type ProtocolError struct {
	Op  string
	Msg string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("broker protocol error during %s: %s", e.Op, e.Msg)
}

var (
	// ErrRejected is returned when the broker refuses the order outright.
	ErrRejected = errors.New("order rejected by broker")
	// ErrUnknownPrice is returned when no price is available for a symbol.
	ErrUnknownPrice = errors.New("no price available")
	// ErrUnknownOrder is returned for status/cancel calls on unknown ids.
	ErrUnknownOrder = errors.New("unknown order id")
)

// Broker abstracts a trading venue (paper or live). The order engine never
// talks to the venue directly.
type Broker interface {
	Place(ctx context.Context, req OrderRequest) (OrderAck, error)
	Cancel(ctx context.Context, orderID string) error
	PollStatus(ctx context.Context, orderID string) (OrderStatus, error)
	LastPrice(ctx context.Context, symbol string) (float64, error)
}
