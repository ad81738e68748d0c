package strategy

import (
	"context"
	"errors"
	"log"
	"time"

	"execution-core/internal/bus"
	"execution-core/internal/ledger"
	"execution-core/internal/market"
	"execution-core/internal/monitor"
)

// Runner drives a set of strategies from a bar feed. Each bar first updates
// the ledger's last price, then fans out to every strategy in order, so a
// strategy never sees a price the risk checks have not.
type Runner struct {
	Bus        *bus.Bus
	Ledger     *ledger.Ledger
	Metrics    *monitor.Metrics
	Strategies []Strategy

	// OnPrice, when set, observes every bar close (used to feed the paper
	// venue's price book).
	OnPrice func(symbol string, price float64)
}

// Run consumes bars until the feed closes or ctx is canceled.
func (r *Runner) Run(ctx context.Context, bars <-chan market.Bar) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-bars:
			if !ok {
				return
			}
			r.onBar(bar)
		}
	}
}

func (r *Runner) onBar(bar market.Bar) {
	r.Ledger.SetLastPrice(bar.Symbol, bar.Close)
	if r.OnPrice != nil {
		r.OnPrice(bar.Symbol, bar.Close)
	}

	for _, s := range r.Strategies {
		sig, err := s.OnBar(bar)
		if err != nil {
			log.Printf("strategy %s (%s): %v", s.ID(), s.Name(), err)
			continue
		}
		if sig == nil {
			continue
		}
		if sig.StrategyID == "" {
			sig.StrategyID = s.ID()
		}
		if err := r.Bus.Publish(*sig); err != nil {
			if errors.Is(err, bus.ErrClosed) {
				return
			}
			log.Printf("strategy %s: publish rejected: %v", s.ID(), err)
			continue
		}
		if r.Metrics != nil {
			r.Metrics.ObserveFeed(time.Since(bar.Timestamp))
		}
	}
}
