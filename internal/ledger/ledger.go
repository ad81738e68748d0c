package ledger

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrReservationDone = errors.New("reservation already committed or released")
	ErrBadFill         = errors.New("fill quantity must be positive")
)

// Ledger is the single source of truth for positions and exposure counters.
// All reads and writes serialize through one mutex; Reserve is the only gate
// through which new exposure enters the system.
type Ledger struct {
	mu           sync.Mutex
	budget       RiskBudget
	positions    map[string]*Position
	prices       map[string]float64
	reservations map[string]*Reservation
	trades       []Trade
	fillSeq      map[string]int // order id -> next fill sequence
}

// New creates an empty ledger enforcing the given budget.
func New(budget RiskBudget) *Ledger {
	return &Ledger{
		budget:       budget,
		positions:    make(map[string]*Position),
		prices:       make(map[string]float64),
		reservations: make(map[string]*Reservation),
		fillSeq:      make(map[string]int),
	}
}

// Budget returns the risk budget the ledger enforces. Immutable after New.
func (l *Ledger) Budget() RiskBudget {
	return l.budget
}

// SetLastPrice records the latest market price for a symbol.
func (l *Ledger) SetLastPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prices[symbol] = price
	if p, ok := l.positions[symbol]; ok {
		p.LastPrice = price
	}
}

// LastPrice returns the latest known price for a symbol.
func (l *Ledger) LastPrice(symbol string) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.prices[symbol]
	return p, ok
}

// Reserve atomically checks the per-position notional cap and the
// concurrent-position cap against current positions and all in-flight
// reservations, and holds the capacity on acceptance. The hold stays until
// Commit consumes it or Release returns it.
//
// Reservations that reduce an opposing position bypass the caps: they return
// capacity rather than consume it. A SELL with no long position is rejected
// outright (short selling is disallowed).
func (l *Ledger) Reserve(symbol string, side Side, notional float64) (*Reservation, *Rejection) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.prices[symbol]; !ok {
		return nil, &Rejection{Reason: ReasonUnknownPrice, Detail: fmt.Sprintf("no last price for %s", symbol)}
	}

	pos := l.positions[symbol]
	var qty int64
	if pos != nil {
		qty = pos.Qty
	}

	reduce := (side == SideSell && qty > 0) || (side == SideBuy && qty < 0)
	if side == SideSell && qty <= 0 && !reduce {
		return nil, &Rejection{Reason: ReasonNoPosition, Detail: fmt.Sprintf("no long position in %s to reduce", symbol)}
	}

	if !reduce {
		held := l.heldNotionalLocked(symbol)
		if held+notional > l.budget.MaxNotionalPerPosition {
			return nil, &Rejection{
				Reason: ReasonPerPositionCap,
				Detail: fmt.Sprintf("%s held %.2f + proposed %.2f > cap %.2f", symbol, held, notional, l.budget.MaxNotionalPerPosition),
			}
		}
		if !l.symbolOpenLocked(symbol) && l.openCountLocked()+1 > l.budget.MaxConcurrentPositions {
			return nil, &Rejection{
				Reason: ReasonConcurrentCap,
				Detail: fmt.Sprintf("%d positions open or reserved, cap %d", l.openCountLocked(), l.budget.MaxConcurrentPositions),
			}
		}
	}

	res := &Reservation{
		id:       uuid.NewString(),
		Symbol:   symbol,
		Side:     side,
		Notional: notional,
		Reduce:   reduce,
	}
	l.reservations[res.id] = res
	return res, nil
}

// Commit applies a realized fill against a reservation, updating the
// position with the weighted-average cost rule and appending a Trade.
// A fill that flattens a position removes it; one that flips it resets the
// average cost to the fill price.
func (l *Ledger) Commit(res *Reservation, qty int64, price float64, orderID, strategyID string) (Trade, error) {
	if qty <= 0 {
		return Trade{}, ErrBadFill
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if res.done {
		return Trade{}, ErrReservationDone
	}
	if _, ok := l.reservations[res.id]; !ok {
		return Trade{}, ErrReservationDone
	}

	l.applyFillLocked(res.Symbol, res.Side, qty, price)

	// Consume held capacity for the committed portion.
	res.Notional -= float64(qty) * price
	if res.Notional <= 0 {
		res.Notional = 0
		res.done = true
		delete(l.reservations, res.id)
	}

	seq := l.fillSeq[orderID]
	l.fillSeq[orderID] = seq + 1

	t := Trade{
		Timestamp:  time.Now().UTC(),
		Symbol:     res.Symbol,
		Side:       res.Side,
		Qty:        qty,
		Price:      price,
		OrderID:    orderID,
		StrategyID: strategyID,
		FillSeq:    seq,
	}
	l.trades = append(l.trades, t)
	return t, nil
}

// Release returns a reservation's remaining held capacity without touching
// position state. Safe to call after partial commits and idempotent.
func (l *Ledger) Release(res *Reservation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if res.done {
		return
	}
	res.done = true
	res.Notional = 0
	delete(l.reservations, res.id)
}

// Position returns a snapshot for one symbol (zero value when flat).
func (l *Ledger) Position(symbol string) Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.positions[symbol]; ok {
		return *p
	}
	return Position{Symbol: symbol}
}

// Positions returns a snapshot of all open positions.
func (l *Ledger) Positions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

// OpenCount returns the number of symbols with a nonzero position.
func (l *Ledger) OpenCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, p := range l.positions {
		if p.Qty != 0 {
			n++
		}
	}
	return n
}

// Trades returns a copy of the append-only trade log.
func (l *Ledger) Trades() []Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// Replay rebuilds position state from a trade log. Positions are derivable
// from trades; the trade log is the source of truth.
func Replay(trades []Trade) map[string]Position {
	l := New(RiskBudget{MaxNotionalPerPosition: math.MaxFloat64, MaxConcurrentPositions: math.MaxInt32})
	for _, t := range trades {
		l.applyFillLocked(t.Symbol, t.Side, t.Qty, t.Price)
	}
	out := make(map[string]Position, len(l.positions))
	for sym, p := range l.positions {
		out[sym] = *p
	}
	return out
}

// applyFillLocked mutates the position for one fill. Caller holds l.mu
// (Replay operates on a private ledger, so the zero-lock call there is fine).
func (l *Ledger) applyFillLocked(symbol string, side Side, qty int64, price float64) {
	signed := qty
	if side == SideSell {
		signed = -qty
	}

	pos, ok := l.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol}
		l.positions[symbol] = pos
	}

	oldQty := pos.Qty
	newQty := oldQty + signed
	sameDir := oldQty == 0 || (oldQty > 0) == (signed > 0)

	switch {
	case newQty == 0:
		delete(l.positions, symbol)
		return
	case sameDir:
		// Same-direction add: weighted average cost.
		pos.AvgCost = (float64(oldQty)*pos.AvgCost + float64(signed)*price) / float64(newQty)
	case (oldQty > 0) != (newQty > 0):
		// Flip: remainder carries the fill price.
		pos.AvgCost = price
	default:
		// Partial reduce: average cost unchanged.
	}
	pos.Qty = newQty
	pos.LastPrice = price
}

// heldNotionalLocked sums current exposure and in-flight holds for a symbol.
func (l *Ledger) heldNotionalLocked(symbol string) float64 {
	var held float64
	if p, ok := l.positions[symbol]; ok {
		held += math.Abs(float64(p.Qty) * p.AvgCost)
	}
	for _, r := range l.reservations {
		if r.Symbol == symbol && !r.Reduce {
			held += r.Notional
		}
	}
	return held
}

// symbolOpenLocked reports whether the symbol already counts toward the
// concurrent-position cap (open position or pending opening reservation).
func (l *Ledger) symbolOpenLocked(symbol string) bool {
	if p, ok := l.positions[symbol]; ok && p.Qty != 0 {
		return true
	}
	for _, r := range l.reservations {
		if r.Symbol == symbol && !r.Reduce {
			return true
		}
	}
	return false
}

// openCountLocked counts distinct symbols holding or about to hold exposure.
func (l *Ledger) openCountLocked() int {
	seen := make(map[string]struct{})
	for sym, p := range l.positions {
		if p.Qty != 0 {
			seen[sym] = struct{}{}
		}
	}
	for _, r := range l.reservations {
		if !r.Reduce {
			seen[r.Symbol] = struct{}{}
		}
	}
	return len(seen)
}
