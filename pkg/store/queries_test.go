package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTradeInsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	trade := TradeRow{
		OrderID:    "ord-1",
		FillSeq:    0,
		Symbol:     "BTCUSDT",
		Side:       "BUY",
		Qty:        5,
		Price:      100,
		StrategyID: "strat-1",
		ExecutedAt: time.Now().UTC(),
	}

	if err := s.InsertTrade(ctx, trade); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// Same (order_id, fill_seq) again: must not duplicate or fail.
	if err := s.InsertTrade(ctx, trade); err != nil {
		t.Fatalf("re-insert: %v", err)
	}

	trades, err := s.ListAllTrades(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if trades[0].OrderID != "ord-1" || trades[0].Qty != 5 {
		t.Errorf("unexpected trade %+v", trades[0])
	}
}

func TestOrderUpsertTracksLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row := OrderRow{
		IdempotencyKey: "key-1",
		Symbol:         "BTCUSDT",
		Side:           "BUY",
		Qty:            10,
		State:          "CREATED",
	}
	if err := s.UpsertOrder(ctx, row); err != nil {
		t.Fatalf("insert: %v", err)
	}

	row.OrderID = "ord-1"
	row.State = "FILLED"
	row.FilledQty = 10
	row.AvgFillPrice = 100.5
	if err := s.UpsertOrder(ctx, row); err != nil {
		t.Fatalf("update: %v", err)
	}

	orders, err := s.ListOrders(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	got := orders[0]
	if got.State != "FILLED" || got.FilledQty != 10 || got.OrderID != "ord-1" {
		t.Errorf("unexpected order %+v", got)
	}
}

func TestTransitionHistoryInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	steps := []TransitionRow{
		{IdempotencyKey: "key-1", FromState: "CREATED", ToState: "SUBMITTED"},
		{IdempotencyKey: "key-1", FromState: "SUBMITTED", ToState: "PARTIALLY_FILLED"},
		{IdempotencyKey: "key-1", FromState: "PARTIALLY_FILLED", ToState: "FILLED"},
		{IdempotencyKey: "key-2", FromState: "CREATED", ToState: "REJECTED", Reason: "BROKER_UNAVAILABLE"},
	}
	for i, st := range steps {
		if err := s.InsertTransition(ctx, st); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	ts, err := s.ListTransitions(ctx, "key-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ts) != 3 {
		t.Fatalf("expected 3 transitions for key-1, got %d", len(ts))
	}
	if ts[0].ToState != "SUBMITTED" || ts[2].ToState != "FILLED" {
		t.Errorf("transitions out of order: %+v", ts)
	}
}

func TestPositionMirror(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertPosition(ctx, PositionRow{Symbol: "BTCUSDT", Qty: 10, AvgCost: 100}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.UpsertPosition(ctx, PositionRow{Symbol: "BTCUSDT", Qty: 6, AvgCost: 100, LastPrice: 110}); err != nil {
		t.Fatalf("update: %v", err)
	}

	ps, err := s.ListPositions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ps) != 1 || ps[0].Qty != 6 || ps[0].LastPrice != 110 {
		t.Fatalf("unexpected positions %+v", ps)
	}

	// Going flat removes the row.
	if err := s.UpsertPosition(ctx, PositionRow{Symbol: "BTCUSDT", Qty: 0}); err != nil {
		t.Fatalf("flatten: %v", err)
	}
	ps, err = s.ListPositions(ctx)
	if err != nil {
		t.Fatalf("list after flatten: %v", err)
	}
	if len(ps) != 0 {
		t.Fatalf("expected empty mirror, got %+v", ps)
	}
}

func TestSignalAndDropInserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sig := SignalRow{
		ID:         "sig-1",
		Seq:        1,
		Symbol:     "BTCUSDT",
		StrategyID: "strat-1",
		Direction:  "BUY",
		Confidence: 0.9,
		EmittedAt:  time.Now().UTC(),
	}
	if err := s.InsertSignal(ctx, sig); err != nil {
		t.Fatalf("insert signal: %v", err)
	}
	// Replayed signal IDs are ignored, not errors.
	if err := s.InsertSignal(ctx, sig); err != nil {
		t.Fatalf("re-insert signal: %v", err)
	}

	if err := s.InsertDrop(ctx, DropRow{SignalID: "sig-1", Reason: "PER_POSITION_CAP_EXCEEDED"}); err != nil {
		t.Fatalf("insert drop: %v", err)
	}
}
