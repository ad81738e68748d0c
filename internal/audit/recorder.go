package audit

import (
	"context"
	"log"
	"sync"
	"time"

	"execution-core/internal/bus"
	"execution-core/internal/ledger"
	"execution-core/internal/lifecycle"
	"execution-core/pkg/store"
)

// Kind classifies an audit record.
type Kind string

const (
	KindSignal     Kind = "SIGNAL"
	KindDrop       Kind = "DROP"
	KindTransition Kind = "TRANSITION"
	KindTrade      Kind = "TRADE"
)

// Record is one entry in the audit trail. Every record carries the causal
// identifiers needed to trace a trade back to its signal.
type Record struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	SignalID   string `json:"signal_id,omitempty"`
	StrategyID string `json:"strategy_id,omitempty"`
	Symbol     string `json:"symbol,omitempty"`
	OrderKey   string `json:"order_key,omitempty"`
	OrderID    string `json:"order_id,omitempty"`

	Signal *bus.Signal   `json:"signal,omitempty"`
	Trade  *ledger.Trade `json:"trade,omitempty"`

	FromState string `json:"from_state,omitempty"`
	ToState   string `json:"to_state,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Recorder writes the audit trail: every signal from the bus tap, every
// dropped signal, every order transition, every trade. Records are persisted
// synchronously and fanned out to live subscribers on a best-effort basis.
type Recorder struct {
	store *store.Store

	mu   sync.Mutex
	subs map[chan Record]struct{}
}

// NewRecorder creates a recorder. store may be nil (records are then only
// logged and fanned out).
func NewRecorder(st *store.Store) *Recorder {
	return &Recorder{
		store: st,
		subs:  make(map[chan Record]struct{}),
	}
}

// Run consumes the bus audit tap until it closes. Each signal is persisted
// before the next is read, so the stored order matches publication order.
func (r *Recorder) Run(ctx context.Context, tap <-chan bus.Signal) {
	for sig := range tap {
		sig := sig
		rec := Record{
			Kind:       KindSignal,
			Timestamp:  time.Now().UTC(),
			SignalID:   sig.ID,
			StrategyID: sig.StrategyID,
			Symbol:     sig.Symbol,
			Signal:     &sig,
		}
		if r.store != nil {
			err := r.store.InsertSignal(ctx, store.SignalRow{
				ID:         sig.ID,
				Seq:        sig.Seq,
				Symbol:     sig.Symbol,
				StrategyID: sig.StrategyID,
				Direction:  string(sig.Direction),
				Confidence: sig.Confidence,
				EmittedAt:  sig.Timestamp,
			})
			if err != nil {
				log.Printf("audit: persist signal %s: %v", sig.ID, err)
			}
		}
		r.fanout(rec)
	}
}

// Drop records a signal rejected before reaching the broker.
func (r *Recorder) Drop(sig bus.Signal, reason, detail string) {
	rec := Record{
		Kind:       KindDrop,
		Timestamp:  time.Now().UTC(),
		SignalID:   sig.ID,
		StrategyID: sig.StrategyID,
		Symbol:     sig.Symbol,
		Reason:     reason,
		Detail:     detail,
	}
	if r.store != nil {
		err := r.store.InsertDrop(context.Background(), store.DropRow{
			SignalID: sig.ID,
			Reason:   reason,
			Detail:   detail,
		})
		if err != nil {
			log.Printf("audit: persist drop for signal %s: %v", sig.ID, err)
		}
	}
	r.fanout(rec)
}

// Trade records a committed fill.
func (r *Recorder) Trade(t ledger.Trade, sig bus.Signal) {
	rec := Record{
		Kind:       KindTrade,
		Timestamp:  time.Now().UTC(),
		SignalID:   sig.ID,
		StrategyID: t.StrategyID,
		Symbol:     t.Symbol,
		OrderID:    t.OrderID,
		Trade:      &t,
	}
	if r.store != nil {
		err := r.store.InsertTrade(context.Background(), store.TradeRow{
			OrderID:    t.OrderID,
			FillSeq:    t.FillSeq,
			Symbol:     t.Symbol,
			Side:       string(t.Side),
			Qty:        t.Qty,
			Price:      t.Price,
			StrategyID: t.StrategyID,
			ExecutedAt: t.Timestamp,
		})
		if err != nil {
			log.Printf("audit: persist trade %s/%d: %v", t.OrderID, t.FillSeq, err)
		}
	}
	r.fanout(rec)
}

// Transition records an order lifecycle state change and refreshes the
// persisted order view.
func (r *Recorder) Transition(st lifecycle.OrderState, from lifecycle.State, reason string) {
	rec := Record{
		Kind:       KindTransition,
		Timestamp:  time.Now().UTC(),
		SignalID:   st.Request.SignalID,
		StrategyID: st.Request.StrategyID,
		Symbol:     st.Request.Symbol,
		OrderKey:   st.Key,
		OrderID:    st.OrderID,
		FromState:  string(from),
		ToState:    string(st.State),
		Reason:     reason,
	}
	if r.store != nil {
		ctx := context.Background()
		err := r.store.InsertTransition(ctx, store.TransitionRow{
			IdempotencyKey: st.Key,
			FromState:      string(from),
			ToState:        string(st.State),
			Reason:         reason,
		})
		if err != nil {
			log.Printf("audit: persist transition for key %s: %v", st.Key, err)
		}
		err = r.store.UpsertOrder(ctx, store.OrderRow{
			IdempotencyKey: st.Key,
			OrderID:        st.OrderID,
			SignalID:       st.Request.SignalID,
			StrategyID:     st.Request.StrategyID,
			Symbol:         st.Request.Symbol,
			Side:           string(st.Request.Side),
			Qty:            st.Request.Qty,
			State:          string(st.State),
			FilledQty:      st.FilledQty,
			AvgFillPrice:   st.AvgFillPrice,
			Reason:         st.Reason,
		})
		if err != nil {
			log.Printf("audit: persist order %s: %v", st.Key, err)
		}
	}
	r.fanout(rec)
}

// Subscribe returns a live feed of audit records and a cancel func.
// Slow subscribers miss records rather than stall the pipeline.
func (r *Recorder) Subscribe() (<-chan Record, func()) {
	ch := make(chan Record, 256)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}

func (r *Recorder) fanout(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.subs {
		select {
		case ch <- rec:
		default:
		}
	}
}
