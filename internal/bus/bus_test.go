package bus

import (
	"errors"
	"testing"
	"time"
)

func validSignal() Signal {
	return Signal{
		Symbol:     "BTCUSDT",
		Timestamp:  time.Now(),
		StrategyID: "strat-1",
		Direction:  DirectionBuy,
		Confidence: 0.8,
	}
}

func TestPublishValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Signal)
		field  string
	}{
		{"unknown direction", func(s *Signal) { s.Direction = "LONG" }, "direction"},
		{"confidence below zero", func(s *Signal) { s.Confidence = -0.1 }, "confidence"},
		{"confidence above one", func(s *Signal) { s.Confidence = 1.1 }, "confidence"},
		{"empty symbol", func(s *Signal) { s.Symbol = "" }, "symbol"},
	}

	b := NewBus(10)
	defer b.Close()

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := validSignal()
			tc.mutate(&s)
			err := b.Publish(s)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tc.field {
				t.Errorf("expected field %q, got %q", tc.field, verr.Field)
			}
		})
	}
}

func TestPublishAssignsIDAndSeq(t *testing.T) {
	b := NewBus(10)
	defer b.Close()

	for i := 0; i < 3; i++ {
		if err := b.Publish(validSignal()); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	for i := 1; i <= 3; i++ {
		s := <-b.Subscribe()
		if s.ID == "" {
			t.Error("signal ID not assigned")
		}
		if s.Seq != uint64(i) {
			t.Errorf("expected seq %d, got %d", i, s.Seq)
		}
	}
}

func TestBothConsumersSeeSameOrder(t *testing.T) {
	b := NewBus(16)
	defer b.Close()

	dirs := []Direction{DirectionBuy, DirectionSell, DirectionHold, DirectionBuy, DirectionHold}
	for _, d := range dirs {
		s := validSignal()
		s.Direction = d
		if err := b.Publish(s); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	for i, d := range dirs {
		es := <-b.Subscribe()
		as := <-b.AuditTap()
		if es.Direction != d {
			t.Errorf("engine signal %d: expected %s, got %s", i, d, es.Direction)
		}
		if es.ID != as.ID || es.Seq != as.Seq {
			t.Errorf("signal %d: engine and audit streams diverged (%s/%d vs %s/%d)",
				i, es.ID, es.Seq, as.ID, as.Seq)
		}
	}
}

func TestPublishBlocksWhenConsumerFull(t *testing.T) {
	b := NewBus(1)
	defer b.Close()

	if err := b.Publish(validSignal()); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	published := make(chan struct{})
	go func() {
		if err := b.Publish(validSignal()); err != nil {
			t.Errorf("second publish: %v", err)
		}
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("publish completed with a full consumer queue; expected it to block")
	case <-time.After(50 * time.Millisecond):
	}

	// Drain both consumers; the blocked publish must now complete.
	<-b.Subscribe()
	<-b.AuditTap()

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publish still blocked after consumers drained")
	}
}

func TestCloseUnblocksStalledPublish(t *testing.T) {
	b := NewBus(1)
	if err := b.Publish(validSignal()); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	errs := make(chan error, 1)
	go func() { errs <- b.Publish(validSignal()) }()

	// Let the second publish block on the full execution queue, then close
	// with no consumer draining.
	time.Sleep(20 * time.Millisecond)
	b.Close()

	select {
	case err := <-errs:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publish still blocked after close")
	}
}

func TestPublishAfterClose(t *testing.T) {
	b := NewBus(1)
	b.Close()
	if err := b.Publish(validSignal()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	// Close is idempotent.
	b.Close()
}
