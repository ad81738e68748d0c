package bus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Direction is the action a strategy recommends.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// Signal is a decision emitted by a strategy. Immutable once published.
type Signal struct {
	ID         string            `json:"id"`
	Symbol     string            `json:"symbol"`
	Timestamp  time.Time         `json:"timestamp"` // UTC
	StrategyID string            `json:"strategy_id"`
	Direction  Direction         `json:"direction"`
	Confidence float64           `json:"confidence"` // [0,1]
	Meta       map[string]string `json:"meta,omitempty"`
	Seq        uint64            `json:"seq"` // assigned by the bus
}

// ValidationError reports a malformed signal rejected at the boundary.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid signal: %s %s", e.Field, e.Msg)
}

var ErrClosed = errors.New("signal bus closed")

// Bus delivers published signals to the execution consumer and, in the same
// total order, to an audit tap. Publish blocks when a consumer queue is full;
// a BUY/SELL signal is never dropped.
type Bus struct {
	mu     sync.Mutex
	seq    uint64
	engine chan Signal
	audit  chan Signal
	done   chan struct{}
	once   sync.Once
}

// NewBus creates a bus with the given per-consumer buffer size.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 100
	}
	return &Bus{
		engine: make(chan Signal, buffer),
		audit:  make(chan Signal, buffer),
		done:   make(chan struct{}),
	}
}

// Publish validates and enqueues a signal for both consumers.
// Blocks the producer when either queue is full.
func (b *Bus) Publish(s Signal) error {
	if err := validate(s); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.Timestamp = s.Timestamp.UTC()
	b.seq++
	s.Seq = b.seq

	// Holding the lock while sending keeps both streams in publication order.
	// Close aborts a publish stalled on the full execution queue; once the
	// execution consumer has the signal the audit copy always follows, so the
	// two streams never diverge.
	select {
	case b.engine <- s:
	case <-b.done:
		return ErrClosed
	}
	b.audit <- s
	return nil
}

// Subscribe returns the execution consumer stream. Signals arrive in
// publication order; the channel is closed by Close.
func (b *Bus) Subscribe() <-chan Signal {
	return b.engine
}

// AuditTap returns the audit stream, observing the same total order.
func (b *Bus) AuditTap() <-chan Signal {
	return b.audit
}

// Close stops accepting publishes and closes both consumer streams. A Publish
// blocked on the full execution queue is unblocked and returns ErrClosed.
// The audit tap consumer must keep draining until its channel closes.
func (b *Bus) Close() {
	b.once.Do(func() {
		close(b.done)
		b.mu.Lock()
		close(b.engine)
		close(b.audit)
		b.mu.Unlock()
	})
}

func validate(s Signal) error {
	switch s.Direction {
	case DirectionBuy, DirectionSell, DirectionHold:
	default:
		return &ValidationError{Field: "direction", Msg: fmt.Sprintf("unknown value %q", s.Direction)}
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return &ValidationError{Field: "confidence", Msg: fmt.Sprintf("%v outside [0,1]", s.Confidence)}
	}
	if s.Symbol == "" {
		return &ValidationError{Field: "symbol", Msg: "empty"}
	}
	return nil
}
