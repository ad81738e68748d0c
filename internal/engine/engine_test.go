package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"execution-core/internal/broker"
	"execution-core/internal/bus"
	"execution-core/internal/ledger"
	"execution-core/internal/lifecycle"
	"execution-core/internal/monitor"
)

// testAuditor captures engine outcomes for assertions.
type testAuditor struct {
	mu    sync.Mutex
	drops []struct {
		sig    bus.Signal
		reason string
	}
	trades []ledger.Trade
}

func (a *testAuditor) Drop(sig bus.Signal, reason, detail string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.drops = append(a.drops, struct {
		sig    bus.Signal
		reason string
	}{sig, reason})
}

func (a *testAuditor) Trade(t ledger.Trade, sig bus.Signal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trades = append(a.trades, t)
}

func (a *testAuditor) Transition(st lifecycle.OrderState, from lifecycle.State, reason string) {}

func (a *testAuditor) dropReasons() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.drops))
	for i, d := range a.drops {
		out[i] = d.reason
	}
	return out
}

func (a *testAuditor) tradeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.trades)
}

type fixture struct {
	bus    *bus.Bus
	ledger *ledger.Ledger
	paper  *broker.Paper
	engine *Engine
	audit  *testAuditor
	cancel context.CancelFunc
	done   chan struct{}
}

func newFixture(t *testing.T, budget ledger.RiskBudget, baseNotional float64, dryRun bool) *fixture {
	t.Helper()

	b := bus.NewBus(32)
	l := ledger.New(budget)
	l.SetLastPrice("BTCUSDT", 100)
	l.SetLastPrice("ETHUSDT", 50)

	paper := broker.NewPaper(broker.PaperConfig{}, 1)
	paper.SetPrice("BTCUSDT", 100)
	paper.SetPrice("ETHUSDT", 50)

	tracker := lifecycle.NewTracker(paper, l.LastPrice, lifecycle.Config{
		MaxAttempts:  3,
		BackoffBase:  time.Millisecond,
		PollInterval: time.Millisecond,
	})
	audit := &testAuditor{}
	eng := New(Config{BaseOrderNotional: baseNotional, DryRun: dryRun, Shards: 2}, b, l, tracker, audit, monitor.NewMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()

	f := &fixture{bus: b, ledger: l, paper: paper, engine: eng, audit: audit, cancel: cancel, done: done}
	t.Cleanup(func() {
		b.Close()
		<-done
		cancel()
	})
	go func() {
		// Drain the audit tap so publishes never block on it.
		for range b.AuditTap() {
		}
	}()
	return f
}

func (f *fixture) publish(t *testing.T, symbol string, dir bus.Direction, conf float64) {
	t.Helper()
	err := f.bus.Publish(bus.Signal{
		Symbol:     symbol,
		Timestamp:  time.Now(),
		StrategyID: "strat-1",
		Direction:  dir,
		Confidence: conf,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDryRunFillsWithoutBroker(t *testing.T) {
	f := newFixture(t, ledger.RiskBudget{MaxNotionalPerPosition: 10000, MaxConcurrentPositions: 5}, 1000, true)

	// Confidence 1.0 at price 100 sizes to 10 units.
	f.publish(t, "BTCUSDT", bus.DirectionBuy, 1.0)

	waitFor(t, "position to open", func() bool { return f.ledger.Position("BTCUSDT").Qty == 10 })

	if got := f.paper.PlaceCalls(); got != 0 {
		t.Errorf("dry run must never call the broker, got %d place calls", got)
	}
	if got := f.audit.tradeCount(); got != 1 {
		t.Errorf("expected 1 trade, got %d", got)
	}
	pos := f.ledger.Position("BTCUSDT")
	if pos.AvgCost != 100 {
		t.Errorf("synthetic fill must use the last known price, got avg cost %.4f", pos.AvgCost)
	}
}

func TestLiveOrdersGoThroughBroker(t *testing.T) {
	f := newFixture(t, ledger.RiskBudget{MaxNotionalPerPosition: 10000, MaxConcurrentPositions: 5}, 1000, false)

	f.publish(t, "BTCUSDT", bus.DirectionBuy, 1.0)

	waitFor(t, "position to open", func() bool { return f.ledger.Position("BTCUSDT").Qty == 10 })
	if got := f.paper.PlaceCalls(); got != 1 {
		t.Errorf("expected 1 place call, got %d", got)
	}
}

func TestSizingClampsToNotionalCap(t *testing.T) {
	f := newFixture(t, ledger.RiskBudget{MaxNotionalPerPosition: 500, MaxConcurrentPositions: 5}, 1000, true)

	// Full confidence targets 1000 of notional but the cap allows 500;
	// at price 50 the order sizes down to 10 units instead of dropping.
	f.publish(t, "ETHUSDT", bus.DirectionBuy, 1.0)
	waitFor(t, "clamped fill", func() bool { return f.ledger.Position("ETHUSDT").Qty == 10 })

	if got := f.audit.dropReasons(); len(got) != 0 {
		t.Errorf("clamped order must not be dropped, got %v", got)
	}
	if got := f.audit.tradeCount(); got != 1 {
		t.Errorf("expected 1 trade, got %d", got)
	}
}

func TestNotionalCapDropsSecondBuy(t *testing.T) {
	f := newFixture(t, ledger.RiskBudget{MaxNotionalPerPosition: 1000, MaxConcurrentPositions: 5}, 1000, true)

	f.publish(t, "BTCUSDT", bus.DirectionBuy, 1.0)
	waitFor(t, "first fill", func() bool { return f.ledger.Position("BTCUSDT").Qty == 10 })

	f.publish(t, "BTCUSDT", bus.DirectionBuy, 1.0)
	waitFor(t, "cap rejection", func() bool {
		for _, r := range f.audit.dropReasons() {
			if r == ledger.ReasonPerPositionCap {
				return true
			}
		}
		return false
	})

	if got := f.ledger.Position("BTCUSDT").Qty; got != 10 {
		t.Errorf("rejected signal must not change the position, got qty %d", got)
	}
}

func TestConcurrentCapDropsNewSymbol(t *testing.T) {
	f := newFixture(t, ledger.RiskBudget{MaxNotionalPerPosition: 10000, MaxConcurrentPositions: 1}, 1000, true)

	f.publish(t, "BTCUSDT", bus.DirectionBuy, 1.0)
	waitFor(t, "first fill", func() bool { return f.ledger.Position("BTCUSDT").Qty == 10 })

	f.publish(t, "ETHUSDT", bus.DirectionBuy, 1.0)
	waitFor(t, "concurrent cap rejection", func() bool {
		for _, r := range f.audit.dropReasons() {
			if r == ledger.ReasonConcurrentCap {
				return true
			}
		}
		return false
	})
	if got := f.ledger.Position("ETHUSDT").Qty; got != 0 {
		t.Errorf("expected no ETH position, got qty %d", got)
	}
}

func TestSellWithNoPositionDropped(t *testing.T) {
	f := newFixture(t, ledger.RiskBudget{MaxNotionalPerPosition: 10000, MaxConcurrentPositions: 5}, 1000, true)

	f.publish(t, "BTCUSDT", bus.DirectionSell, 1.0)
	waitFor(t, "no-position rejection", func() bool {
		for _, r := range f.audit.dropReasons() {
			if r == ledger.ReasonNoPosition {
				return true
			}
		}
		return false
	})
	if got := f.audit.tradeCount(); got != 0 {
		t.Errorf("expected no trades, got %d", got)
	}
}

func TestSellClampedToPosition(t *testing.T) {
	f := newFixture(t, ledger.RiskBudget{MaxNotionalPerPosition: 10000, MaxConcurrentPositions: 5}, 1000, true)

	f.publish(t, "BTCUSDT", bus.DirectionBuy, 0.5) // 5 units
	waitFor(t, "buy fill", func() bool { return f.ledger.Position("BTCUSDT").Qty == 5 })

	// Full-confidence sell sizes to 10 but only 5 are held; the order must
	// reduce to flat, never flip short.
	f.publish(t, "BTCUSDT", bus.DirectionSell, 1.0)
	waitFor(t, "flatten", func() bool { return f.ledger.Position("BTCUSDT").Qty == 0 })

	if got := f.ledger.OpenCount(); got != 0 {
		t.Errorf("expected flat book, got %d open positions", got)
	}
}

func TestTinySizingDropped(t *testing.T) {
	f := newFixture(t, ledger.RiskBudget{MaxNotionalPerPosition: 10000, MaxConcurrentPositions: 5}, 1000, true)

	// 0.05 * 1000 / 100 = 0.5 units, below one.
	f.publish(t, "BTCUSDT", bus.DirectionBuy, 0.05)
	waitFor(t, "size rejection", func() bool {
		for _, r := range f.audit.dropReasons() {
			if r == ReasonSizeTooSmall {
				return true
			}
		}
		return false
	})
}

func TestHoldSignalIsIgnored(t *testing.T) {
	f := newFixture(t, ledger.RiskBudget{MaxNotionalPerPosition: 10000, MaxConcurrentPositions: 5}, 1000, true)

	f.publish(t, "BTCUSDT", bus.DirectionHold, 0)
	f.publish(t, "BTCUSDT", bus.DirectionBuy, 1.0)
	waitFor(t, "buy fill", func() bool { return f.ledger.Position("BTCUSDT").Qty == 10 })

	if got := f.audit.tradeCount(); got != 1 {
		t.Errorf("expected only the buy to trade, got %d trades", got)
	}
	if got := len(f.audit.dropReasons()); got != 0 {
		t.Errorf("a hold is a no-op, not a drop; got %v", f.audit.dropReasons())
	}
}

func TestUnknownPriceDropped(t *testing.T) {
	f := newFixture(t, ledger.RiskBudget{MaxNotionalPerPosition: 10000, MaxConcurrentPositions: 5}, 1000, true)

	f.publish(t, "SOLUSDT", bus.DirectionBuy, 1.0)
	waitFor(t, "unknown price rejection", func() bool {
		for _, r := range f.audit.dropReasons() {
			if r == ReasonUnknownPrice {
				return true
			}
		}
		return false
	})
}
