package strategy

import (
	"fmt"
	"math"

	"execution-core/internal/bus"
	"execution-core/internal/market"
)

func init() {
	Register("sma_cross", func(cfg Config) (Strategy, error) {
		fast := intParam(cfg.Parameters, "fast_period", 10)
		slow := intParam(cfg.Parameters, "slow_period", 30)
		if fast <= 0 || slow <= fast {
			return nil, fmt.Errorf("sma_cross %s: need 0 < fast_period < slow_period, got %d/%d", cfg.ID, fast, slow)
		}
		return NewSMACross(cfg.ID, cfg.Symbol, fast, slow), nil
	})
}

// SMACross is a simple moving average crossover strategy. It emits BUY when
// the fast MA crosses above the slow MA (golden cross) and SELL on the
// opposite cross. Confidence scales with the relative gap between the MAs.
type SMACross struct {
	id         string
	symbol     string
	fastPeriod int
	slowPeriod int

	fastMA  float64
	slowMA  float64
	prices  []float64
	prevDir bus.Direction
}

// NewSMACross creates a new SMA cross strategy.
func NewSMACross(id, symbol string, fastPeriod, slowPeriod int) *SMACross {
	return &SMACross{
		id:         id,
		symbol:     symbol,
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		prices:     make([]float64, 0, slowPeriod),
		prevDir:    bus.DirectionHold,
	}
}

func (s *SMACross) ID() string { return s.id }

func (s *SMACross) Name() string {
	return fmt.Sprintf("SMA_Cross_%d_%d", s.fastPeriod, s.slowPeriod)
}

func (s *SMACross) OnBar(bar market.Bar) (*bus.Signal, error) {
	if bar.Symbol != s.symbol {
		return nil, nil
	}

	s.prices = append(s.prices, bar.Close)
	if len(s.prices) > s.slowPeriod {
		s.prices = s.prices[1:]
	}
	if len(s.prices) < s.slowPeriod {
		return nil, nil
	}

	oldFast, oldSlow := s.fastMA, s.slowMA
	s.fastMA = sma(s.prices, s.fastPeriod)
	s.slowMA = sma(s.prices, s.slowPeriod)

	dir := s.detectCross(oldFast, oldSlow)
	if dir == "" || dir == s.prevDir {
		return nil, nil
	}
	s.prevDir = dir

	// Wider gap between the MAs means a stronger cross.
	conf := math.Abs(s.fastMA-s.slowMA) / s.slowMA * 100
	if conf > 1 {
		conf = 1
	}

	return &bus.Signal{
		Symbol:     s.symbol,
		Timestamp:  bar.Timestamp,
		StrategyID: s.id,
		Direction:  dir,
		Confidence: conf,
		Meta: map[string]string{
			"fast_ma": fmt.Sprintf("%.4f", s.fastMA),
			"slow_ma": fmt.Sprintf("%.4f", s.slowMA),
		},
	}, nil
}

func (s *SMACross) detectCross(oldFast, oldSlow float64) bus.Direction {
	if oldFast <= oldSlow && s.fastMA > s.slowMA {
		return bus.DirectionBuy
	}
	if oldFast >= oldSlow && s.fastMA < s.slowMA {
		return bus.DirectionSell
	}
	return ""
}

// sma calculates the simple moving average of the last n prices.
func sma(prices []float64, period int) float64 {
	if len(prices) < period {
		return 0
	}
	sum := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		sum += prices[i]
	}
	return sum / float64(period)
}
