package strategy

import (
	"testing"
	"time"

	"execution-core/internal/bus"
	"execution-core/internal/market"
)

func bar(symbol string, close float64) market.Bar {
	return market.Bar{
		Symbol:    symbol,
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		Timestamp: time.Now().UTC(),
	}
}

func feedCloses(t *testing.T, s Strategy, symbol string, closes []float64) []*bus.Signal {
	t.Helper()
	var signals []*bus.Signal
	for i, c := range closes {
		sig, err := s.OnBar(bar(symbol, c))
		if err != nil {
			t.Fatalf("bar %d (close %.2f): %v", i, c, err)
		}
		if sig != nil {
			signals = append(signals, sig)
		}
	}
	return signals
}

func TestSMACrossGoldenAndDeathCross(t *testing.T) {
	s := NewSMACross("s1", "BTCUSDT", 2, 3)

	// Flat warmup, a jump up for the golden cross, then a slide down for
	// the death cross.
	signals := feedCloses(t, s, "BTCUSDT", []float64{10, 10, 10, 12, 8, 8})

	if len(signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(signals))
	}
	if signals[0].Direction != bus.DirectionBuy {
		t.Errorf("expected BUY on golden cross, got %s", signals[0].Direction)
	}
	if signals[1].Direction != bus.DirectionSell {
		t.Errorf("expected SELL on death cross, got %s", signals[1].Direction)
	}
	for _, sig := range signals {
		if sig.Confidence < 0 || sig.Confidence > 1 {
			t.Errorf("confidence %.4f outside [0,1]", sig.Confidence)
		}
		if sig.StrategyID != "s1" {
			t.Errorf("expected strategy id s1, got %s", sig.StrategyID)
		}
	}
}

func TestSMACrossIgnoresOtherSymbols(t *testing.T) {
	s := NewSMACross("s1", "BTCUSDT", 2, 3)
	signals := feedCloses(t, s, "ETHUSDT", []float64{10, 10, 10, 12, 8, 8})
	if len(signals) != 0 {
		t.Fatalf("expected no signals for a foreign symbol, got %d", len(signals))
	}
}

func TestSMACrossNoRepeatSignals(t *testing.T) {
	s := NewSMACross("s1", "BTCUSDT", 2, 3)
	// A single sustained rise crosses once; later bars in the same regime
	// must stay quiet.
	signals := feedCloses(t, s, "BTCUSDT", []float64{10, 10, 10, 12, 14, 16, 18})
	if len(signals) != 1 {
		t.Fatalf("expected a single BUY, got %d signals", len(signals))
	}
}

func TestRSISignalsAcrossBands(t *testing.T) {
	s := NewRSI("r1", "ETHUSDT", 3, 30, 70)

	// Straight rise drives RSI to 100 (overbought).
	signals := feedCloses(t, s, "ETHUSDT", []float64{10, 11, 12, 13})
	if len(signals) != 1 || signals[0].Direction != bus.DirectionSell {
		t.Fatalf("expected SELL in overbought, got %+v", signals)
	}

	// A drop back to mixed deltas returns to the neutral band (HOLD),
	// then a straight fall reaches oversold (BUY).
	signals = feedCloses(t, s, "ETHUSDT", []float64{12, 11, 10, 9})
	if len(signals) != 2 {
		t.Fatalf("expected HOLD then BUY, got %+v", signals)
	}
	if signals[0].Direction != bus.DirectionHold {
		t.Errorf("expected HOLD leaving overbought, got %s", signals[0].Direction)
	}
	if signals[1].Direction != bus.DirectionBuy {
		t.Errorf("expected BUY in oversold, got %s", signals[1].Direction)
	}
}

func TestRegistryBuildsConfiguredStrategies(t *testing.T) {
	cfgs := []Config{
		{ID: "s1", Type: "sma_cross", Symbol: "BTCUSDT", IsActive: true,
			Parameters: map[string]interface{}{"fast_period": 5, "slow_period": 20}},
		{ID: "r1", Type: "rsi", Symbol: "ETHUSDT", IsActive: true,
			Parameters: map[string]interface{}{"period": 14}},
		{ID: "off", Type: "sma_cross", Symbol: "BTCUSDT", IsActive: false},
	}

	built, err := BuildAll(cfgs)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(built) != 2 {
		t.Fatalf("expected 2 active strategies, got %d", len(built))
	}
	if built[0].ID() != "s1" || built[1].ID() != "r1" {
		t.Errorf("unexpected ids: %s, %s", built[0].ID(), built[1].ID())
	}
}

func TestRegistryRejectsUnknownType(t *testing.T) {
	if _, err := Build(Config{ID: "x", Type: "martingale"}); err == nil {
		t.Fatal("expected error for unknown strategy type")
	}
}

func TestRegistryRejectsBadParameters(t *testing.T) {
	_, err := Build(Config{ID: "x", Type: "sma_cross", Symbol: "BTCUSDT",
		Parameters: map[string]interface{}{"fast_period": 30, "slow_period": 10}})
	if err == nil {
		t.Fatal("expected error for fast >= slow")
	}
}
