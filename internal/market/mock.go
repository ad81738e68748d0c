package market

import (
	"context"
	"log"
	"math/rand"
	"time"
)

// MockFeed generates synthetic random-walk bars for local development and
// dry runs.
type MockFeed struct {
	Symbols    []string
	StartPrice float64
	Step       float64
	Interval   time.Duration
	Seed       int64

	out chan Bar
}

// Bars returns the feed's output channel. Closed when the feed stops.
func (m *MockFeed) Bars() <-chan Bar {
	if m.out == nil {
		m.out = make(chan Bar, 64)
	}
	return m.out
}

// Start begins producing bars until ctx is canceled.
func (m *MockFeed) Start(ctx context.Context) {
	if m.out == nil {
		m.out = make(chan Bar, 64)
	}
	if len(m.Symbols) == 0 {
		m.Symbols = []string{"BTCUSDT"}
	}
	if m.StartPrice == 0 {
		m.StartPrice = 100.0
	}
	if m.Step == 0 {
		m.Step = 0.5
	}
	if m.Interval == 0 {
		m.Interval = time.Second
	}

	rng := rand.New(rand.NewSource(m.Seed))
	prices := make(map[string]float64, len(m.Symbols))
	for _, sym := range m.Symbols {
		prices[sym] = m.StartPrice
	}

	go func() {
		defer close(m.out)
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		log.Printf("mock feed: started for %v at %.2f", m.Symbols, m.StartPrice)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				for _, sym := range m.Symbols {
					open := prices[sym]
					px := open + (rng.Float64()*2-1)*m.Step
					if px <= 0 {
						px = open
					}
					prices[sym] = px
					high, low := open, px
					if px > open {
						high = px
						low = open
					}
					bar := Bar{
						Symbol:    sym,
						Open:      open,
						High:      high,
						Low:       low,
						Close:     px,
						Volume:    rng.Float64() * 10,
						Timestamp: time.Now().UTC(),
					}
					select {
					case m.out <- bar:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
}
