package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"math"
	"sync"
	"time"

	"execution-core/internal/broker"
	"execution-core/internal/bus"
	"execution-core/internal/ledger"
	"execution-core/internal/lifecycle"
	"execution-core/internal/monitor"
)

// Drop reasons emitted by the engine itself. Reservation rejections carry
// the ledger's reason instead.
const (
	ReasonSizeTooSmall = "SIZE_TOO_SMALL"
	ReasonUnknownPrice = "UNKNOWN_SYMBOL_PRICE"
)

// Auditor receives the engine's decision outcomes for the audit trail.
type Auditor interface {
	Drop(sig bus.Signal, reason, detail string)
	Trade(t ledger.Trade, sig bus.Signal)
	Transition(st lifecycle.OrderState, from lifecycle.State, reason string)
}

// Config tunes signal-to-order translation.
type Config struct {
	BaseOrderNotional float64 // notional at confidence 1.0
	DryRun            bool    // fills are simulated, broker is never called
	Shards            int     // symbol-sharded workers (default 4)
}

// Engine consumes signals and turns the surviving ones into tracked orders.
// Signals are sharded by symbol so that per-symbol handling stays in
// publication order while distinct symbols proceed in parallel.
type Engine struct {
	cfg     Config
	bus     *bus.Bus
	ledger  *ledger.Ledger
	tracker *lifecycle.Tracker
	audit   Auditor
	metrics *monitor.Metrics

	shards []chan bus.Signal
	wg     sync.WaitGroup
}

// New creates an engine. audit and metrics may not be nil.
func New(cfg Config, b *bus.Bus, l *ledger.Ledger, t *lifecycle.Tracker, a Auditor, m *monitor.Metrics) *Engine {
	if cfg.Shards <= 0 {
		cfg.Shards = 4
	}
	e := &Engine{
		cfg:     cfg,
		bus:     b,
		ledger:  l,
		tracker: t,
		audit:   a,
		metrics: m,
	}
	e.shards = make([]chan bus.Signal, cfg.Shards)
	for i := range e.shards {
		e.shards[i] = make(chan bus.Signal, 64)
	}
	return e
}

// Run consumes the bus until it closes, then drains the shard workers.
// Blocks; callers run it in a goroutine.
func (e *Engine) Run(ctx context.Context) {
	for i, ch := range e.shards {
		e.wg.Add(1)
		go func(i int, ch chan bus.Signal) {
			defer e.wg.Done()
			for sig := range ch {
				e.handle(ctx, sig)
			}
		}(i, ch)
	}

	for sig := range e.bus.Subscribe() {
		e.shards[e.shardFor(sig.Symbol)] <- sig
	}
	for _, ch := range e.shards {
		close(ch)
	}
	e.wg.Wait()
}

// Shutdown waits for in-flight signals to settle, then cancels every open
// order. The caller closes the bus first so Run's intake loop ends.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("engine shutdown: workers still draining: %w", ctx.Err())
	}
	return e.tracker.CancelAll(ctx)
}

func (e *Engine) shardFor(symbol string) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32()) % len(e.shards)
}

// handle runs the full decision path for one signal: size, reserve, submit.
func (e *Engine) handle(ctx context.Context, sig bus.Signal) {
	e.metrics.IncSignals()
	start := time.Now()

	if sig.Direction == bus.DirectionHold {
		return
	}

	price, ok := e.ledger.LastPrice(sig.Symbol)
	if !ok {
		e.drop(sig, ReasonUnknownPrice, fmt.Sprintf("no last price for %s", sig.Symbol))
		return
	}

	// Desired notional is confidence-scaled, clamped to the per-position cap
	// so a strong signal sizes down to the cap instead of overshooting it.
	notional := sig.Confidence * e.cfg.BaseOrderNotional
	if maxNotional := e.ledger.Budget().MaxNotionalPerPosition; notional > maxNotional {
		notional = maxNotional
	}
	qty := int64(math.Floor(notional / price))
	if qty < 1 {
		e.drop(sig, ReasonSizeTooSmall, fmt.Sprintf("confidence %.2f sizes below one unit at %.4f", sig.Confidence, price))
		return
	}

	side := ledger.SideBuy
	if sig.Direction == bus.DirectionSell {
		side = ledger.SideSell
	}

	// An order against an existing opposing position only ever reduces it;
	// the remainder is not carried into a flip.
	pos := e.ledger.Position(sig.Symbol)
	if (side == ledger.SideSell && pos.Qty > 0 && qty > pos.Qty) ||
		(side == ledger.SideBuy && pos.Qty < 0 && qty > -pos.Qty) {
		if pos.Qty > 0 {
			qty = pos.Qty
		} else {
			qty = -pos.Qty
		}
	}

	res, rej := e.ledger.Reserve(sig.Symbol, side, float64(qty)*price)
	if rej != nil {
		e.drop(sig, rej.Reason, rej.Detail)
		return
	}

	req := broker.OrderRequest{
		Symbol:         sig.Symbol,
		Side:           broker.Side(side),
		Qty:            qty,
		Type:           broker.OrderTypeMarket,
		IdempotencyKey: fmt.Sprintf("%s-%s-%d", sig.StrategyID, sig.Symbol, sig.Timestamp.UTC().UnixNano()),
		SimulateOnly:   e.cfg.DryRun,
		SignalID:       sig.ID,
		StrategyID:     sig.StrategyID,
	}

	hooks := lifecycle.Hooks{
		OnFill: func(fillQty int64, fillPrice float64) {
			t, err := e.ledger.Commit(res, fillQty, fillPrice, req.IdempotencyKey, sig.StrategyID)
			if err != nil {
				log.Printf("engine: commit for key=%s failed: %v", req.IdempotencyKey, err)
				return
			}
			e.metrics.IncFills()
			e.audit.Trade(t, sig)
		},
		OnTerminal: func(st lifecycle.OrderState) {
			e.ledger.Release(res)
			e.metrics.AddRetries(st.RetryCount)
			if st.State == lifecycle.StateRejected {
				log.Printf("engine: order key=%s rejected: %s", st.Key, st.Reason)
			}
		},
		OnTransition: func(st lifecycle.OrderState, from lifecycle.State, reason string) {
			e.audit.Transition(st, from, reason)
		},
	}

	st := e.tracker.Submit(ctx, req, hooks)
	e.metrics.IncOrders()
	e.metrics.ObserveDecision(time.Since(start))
	log.Printf("engine: %s %s qty=%d key=%s state=%s", side, sig.Symbol, qty, req.IdempotencyKey, st.State)
}

func (e *Engine) drop(sig bus.Signal, reason, detail string) {
	e.metrics.IncDrop(reason)
	e.audit.Drop(sig, reason, detail)
	log.Printf("engine: dropped signal %s (%s %s): %s: %s", sig.ID, sig.Direction, sig.Symbol, reason, detail)
}
