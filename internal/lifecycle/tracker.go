package lifecycle

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"execution-core/internal/broker"
)

// State is an order's lifecycle state.
type State string

const (
	StateCreated   State = "CREATED"
	StateSubmitted State = "SUBMITTED"
	StatePartial   State = "PARTIALLY_FILLED"
	StateFilled    State = "FILLED"
	StateCanceled  State = "CANCELED"
	StateRejected  State = "REJECTED"
)

// Rejection reasons recorded on terminal REJECTED transitions.
const (
	ReasonBrokerUnavailable = "BROKER_UNAVAILABLE"
	ReasonBrokerRejected    = "BROKER_REJECTED"
	ReasonProtocolError     = "BROKER_PROTOCOL_ERROR"
	ReasonUnknownPrice      = "UNKNOWN_SYMBOL_PRICE"
	ReasonShutdown          = "SHUTDOWN"
)

// IsTerminal reports whether s is a terminal state.
func IsTerminal(s State) bool {
	switch s {
	case StateFilled, StateCanceled, StateRejected:
		return true
	}
	return false
}

// OrderState is the tracker's view of one order for its entire life.
type OrderState struct {
	OrderID        string               `json:"order_id"`
	Key            string               `json:"idempotency_key"`
	Request        broker.OrderRequest  `json:"-"`
	State          State                `json:"state"`
	FilledQty      int64                `json:"filled_qty"`
	AvgFillPrice   float64              `json:"avg_fill_price"`
	LastTransition time.Time            `json:"last_transition"`
	RetryCount     int                  `json:"retry_count"`
	Reason         string               `json:"reason,omitempty"`
}

// Hooks let the order engine react to lifecycle outcomes. OnFill fires once
// per fill increment, OnTerminal exactly once when the order reaches a
// terminal state, OnTransition on every state change.
type Hooks struct {
	OnFill       func(qty int64, price float64)
	OnTerminal   func(st OrderState)
	OnTransition func(st OrderState, from State, reason string)
}

// Config bounds retry and polling behavior. Every retry path has a bounded
// attempt count and a fail-closed terminal outcome.
type Config struct {
	MaxAttempts  int           // place attempts before failing closed (default 3)
	BackoffBase  time.Duration // first retry delay, doubled per attempt (default 1s)
	PollInterval time.Duration // status poll cadence (default 200ms)
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	return c
}

type tracked struct {
	mu            sync.Mutex
	st            OrderState
	hooks         Hooks
	terminalFired bool
}

// Tracker runs a per-order state machine between the order engine and the
// broker boundary. Broker state is authoritative: fills are reconciled from
// status polls, so a retried submission never produces a second commit.
type Tracker struct {
	broker  broker.Broker
	priceFn func(symbol string) (float64, bool) // mark price for simulated fills
	cfg     Config

	mu     sync.Mutex
	orders map[string]*tracked // by idempotency key
	wg     sync.WaitGroup
}

// NewTracker creates a tracker. priceFn supplies the synthetic fill price
// for simulate-only orders; it is never consulted for live ones.
func NewTracker(b broker.Broker, priceFn func(symbol string) (float64, bool), cfg Config) *Tracker {
	return &Tracker{
		broker:  b,
		priceFn: priceFn,
		cfg:     cfg.withDefaults(),
		orders:  make(map[string]*tracked),
	}
}

// Submit registers the order and drives it to a terminal state in the
// background. Submitting a key the tracker already knows is a no-op
// returning the existing state: the original lifecycle owns the outcome.
func (t *Tracker) Submit(ctx context.Context, req broker.OrderRequest, hooks Hooks) OrderState {
	t.mu.Lock()
	if existing, ok := t.orders[req.IdempotencyKey]; ok {
		t.mu.Unlock()
		existing.mu.Lock()
		st := existing.st
		existing.mu.Unlock()
		log.Printf("lifecycle: duplicate submit for key=%s, reconciling to existing order state=%s", req.IdempotencyKey, st.State)
		return st
	}

	tr := &tracked{
		st: OrderState{
			Key:            req.IdempotencyKey,
			Request:        req,
			State:          StateCreated,
			LastTransition: time.Now().UTC(),
		},
		hooks: hooks,
	}
	t.orders[req.IdempotencyKey] = tr
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(ctx, tr)
	}()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.st
}

// Order returns the current state for an idempotency key.
func (t *Tracker) Order(key string) (OrderState, bool) {
	t.mu.Lock()
	tr, ok := t.orders[key]
	t.mu.Unlock()
	if !ok {
		return OrderState{}, false
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.st, true
}

// Orders returns a snapshot of all tracked orders.
func (t *Tracker) Orders() []OrderState {
	t.mu.Lock()
	trs := make([]*tracked, 0, len(t.orders))
	for _, tr := range t.orders {
		trs = append(trs, tr)
	}
	t.mu.Unlock()

	out := make([]OrderState, 0, len(trs))
	for _, tr := range trs {
		tr.mu.Lock()
		out = append(out, tr.st)
		tr.mu.Unlock()
	}
	return out
}

// CancelAll asks the broker to cancel every non-terminal order and waits,
// bounded by ctx, for their terminal transitions.
func (t *Tracker) CancelAll(ctx context.Context) error {
	for _, st := range t.Orders() {
		if IsTerminal(st.State) || st.OrderID == "" {
			continue
		}
		if err := t.broker.Cancel(ctx, st.OrderID); err != nil {
			log.Printf("lifecycle: cancel %s (key=%s) failed: %v", st.OrderID, st.Key, err)
		}
	}
	return t.Wait(ctx)
}

// Wait blocks until every tracked order is terminal or ctx expires.
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) run(ctx context.Context, tr *tracked) {
	if tr.st.Request.SimulateOnly {
		t.simulate(tr)
		return
	}

	if !t.place(ctx, tr) {
		return
	}
	t.poll(ctx, tr)
}

// simulate applies the synthetic instantaneous-fill policy for dry-run
// orders: same transitions, same hooks, no broker call.
func (t *Tracker) simulate(tr *tracked) {
	req := tr.st.Request

	price := req.LimitPrice
	if req.Type == broker.OrderTypeMarket {
		p, ok := t.priceFn(req.Symbol)
		if !ok {
			t.transition(tr, StateRejected, ReasonUnknownPrice)
			t.terminal(tr)
			return
		}
		price = p
	}

	t.transition(tr, StateSubmitted, "simulated")
	tr.mu.Lock()
	tr.st.OrderID = "sim-" + req.IdempotencyKey
	hooks := tr.hooks
	tr.mu.Unlock()

	if hooks.OnFill != nil {
		hooks.OnFill(req.Qty, price)
	}
	tr.mu.Lock()
	tr.st.FilledQty = req.Qty
	tr.st.AvgFillPrice = price
	tr.mu.Unlock()

	t.transition(tr, StateFilled, "simulated fill")
	t.terminal(tr)
}

// place hands the order to the broker, retrying the same idempotency key
// on transient failures with exponential backoff. Returns false when the
// order reached a terminal state without being accepted.
func (t *Tracker) place(ctx context.Context, tr *tracked) bool {
	req := tr.st.Request

	for attempt := 1; attempt <= t.cfg.MaxAttempts; attempt++ {
		ack, err := t.broker.Place(ctx, req)
		if err == nil {
			if ack.Duplicate {
				log.Printf("lifecycle: broker matched key=%s to existing order %s, broker state is authoritative", req.IdempotencyKey, ack.OrderID)
			}
			tr.mu.Lock()
			tr.st.OrderID = ack.OrderID
			tr.mu.Unlock()
			t.transition(tr, StateSubmitted, "")
			return true
		}

		switch {
		case broker.IsTransient(err):
			tr.mu.Lock()
			tr.st.RetryCount++
			retries := tr.st.RetryCount
			tr.mu.Unlock()
			if attempt == t.cfg.MaxAttempts {
				break
			}
			delay := t.cfg.BackoffBase << (attempt - 1)
			log.Printf("lifecycle: place key=%s transient failure (attempt %d/%d, retry in %v): %v",
				req.IdempotencyKey, retries, t.cfg.MaxAttempts, delay, err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				t.transition(tr, StateCanceled, ReasonShutdown)
				t.terminal(tr)
				return false
			}
			continue
		case errors.Is(err, broker.ErrRejected):
			t.transition(tr, StateRejected, ReasonBrokerRejected)
			t.terminal(tr)
			return false
		case errors.Is(err, broker.ErrUnknownPrice):
			t.transition(tr, StateRejected, ReasonUnknownPrice)
			t.terminal(tr)
			return false
		default:
			var pe *broker.ProtocolError
			reason := ReasonBrokerRejected
			if errors.As(err, &pe) {
				log.Printf("lifecycle: ERROR key=%s %v", req.IdempotencyKey, pe)
				reason = ReasonProtocolError
			}
			t.transition(tr, StateRejected, reason)
			t.terminal(tr)
			return false
		}
	}

	// Retries exhausted: fail closed, never assume a fill happened.
	t.transition(tr, StateRejected, ReasonBrokerUnavailable)
	t.terminal(tr)
	return false
}

// poll reconciles broker-reported status into the state machine until the
// order is terminal. Consecutive poll failures are bounded; on exhaustion
// the order fails closed with already-committed fills left standing.
func (t *Tracker) poll(ctx context.Context, tr *tracked) {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			t.transition(tr, StateCanceled, ReasonShutdown)
			t.terminal(tr)
			return
		case <-ticker.C:
		}

		tr.mu.Lock()
		orderID := tr.st.OrderID
		tr.mu.Unlock()

		bs, err := t.broker.PollStatus(ctx, orderID)
		if err != nil {
			if broker.IsTransient(err) {
				failures++
				if failures >= t.cfg.MaxAttempts {
					log.Printf("lifecycle: poll key=%s failed %d times, failing closed", tr.st.Key, failures)
					t.transition(tr, StateRejected, ReasonBrokerUnavailable)
					t.terminal(tr)
					return
				}
				continue
			}
			log.Printf("lifecycle: ERROR poll key=%s: %v", tr.st.Key, err)
			t.transition(tr, StateRejected, ReasonProtocolError)
			t.terminal(tr)
			return
		}
		failures = 0

		if done := t.applyStatus(tr, bs); done {
			return
		}
	}
}

// applyStatus folds a broker status snapshot into local state, committing
// fill increments through OnFill. Returns true when terminal.
func (t *Tracker) applyStatus(tr *tracked, bs broker.OrderStatus) bool {
	tr.mu.Lock()
	prevQty := tr.st.FilledQty
	prevAvg := tr.st.AvgFillPrice
	hooks := tr.hooks
	tr.mu.Unlock()

	if bs.FilledQty < prevQty || bs.FilledQty > tr.st.Request.Qty {
		log.Printf("lifecycle: ERROR order %s reported filled=%d outside [%d,%d]", bs.OrderID, bs.FilledQty, prevQty, tr.st.Request.Qty)
		t.transition(tr, StateRejected, ReasonProtocolError)
		t.terminal(tr)
		return true
	}

	if delta := bs.FilledQty - prevQty; delta > 0 {
		incPrice := bs.AvgFillPrice
		if prevQty > 0 {
			incPrice = (bs.AvgFillPrice*float64(bs.FilledQty) - prevAvg*float64(prevQty)) / float64(delta)
		}
		if incPrice <= 0 {
			incPrice = bs.AvgFillPrice
		}
		if hooks.OnFill != nil {
			hooks.OnFill(delta, incPrice)
		}
		tr.mu.Lock()
		tr.st.FilledQty = bs.FilledQty
		tr.st.AvgFillPrice = bs.AvgFillPrice
		tr.mu.Unlock()
	}

	switch bs.Status {
	case broker.StatusPartial:
		tr.mu.Lock()
		cur := tr.st.State
		tr.mu.Unlock()
		if cur != StatePartial {
			t.transition(tr, StatePartial, "")
		}
		return false
	case broker.StatusFilled:
		t.transition(tr, StateFilled, "")
		t.terminal(tr)
		return true
	case broker.StatusCanceled:
		t.transition(tr, StateCanceled, "")
		t.terminal(tr)
		return true
	case broker.StatusRejected:
		t.transition(tr, StateRejected, ReasonBrokerRejected)
		t.terminal(tr)
		return true
	default:
		return false
	}
}

func (t *Tracker) transition(tr *tracked, to State, reason string) {
	tr.mu.Lock()
	from := tr.st.State
	if from == to || IsTerminal(from) {
		tr.mu.Unlock()
		return
	}
	tr.st.State = to
	tr.st.Reason = reason
	tr.st.LastTransition = time.Now().UTC()
	st := tr.st
	hooks := tr.hooks
	tr.mu.Unlock()

	log.Printf("lifecycle: %s %s -> %s key=%s order=%s reason=%q", st.Request.Symbol, from, to, st.Key, st.OrderID, reason)
	if hooks.OnTransition != nil {
		hooks.OnTransition(st, from, reason)
	}
}

func (t *Tracker) terminal(tr *tracked) {
	tr.mu.Lock()
	if tr.terminalFired {
		tr.mu.Unlock()
		return
	}
	tr.terminalFired = true
	st := tr.st
	hooks := tr.hooks
	tr.mu.Unlock()

	if hooks.OnTerminal != nil {
		hooks.OnTerminal(st)
	}
}
