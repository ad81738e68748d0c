package strategy

import (
	"fmt"

	"execution-core/internal/bus"
	"execution-core/internal/market"
)

func init() {
	Register("rsi", func(cfg Config) (Strategy, error) {
		period := intParam(cfg.Parameters, "period", 14)
		if period <= 1 {
			return nil, fmt.Errorf("rsi %s: period must be > 1, got %d", cfg.ID, period)
		}
		return NewRSI(
			cfg.ID,
			cfg.Symbol,
			period,
			floatParam(cfg.Parameters, "oversold", 30),
			floatParam(cfg.Parameters, "overbought", 70),
		), nil
	})
}

// RSI is a mean-reversion strategy on the relative strength index. It emits
// BUY when RSI drops below the oversold threshold, SELL when it rises above
// the overbought threshold, and HOLD when it returns to the neutral band.
type RSI struct {
	id         string
	symbol     string
	period     int
	oversold   float64
	overbought float64

	closes  []float64
	prevDir bus.Direction
}

// NewRSI creates a new RSI strategy.
func NewRSI(id, symbol string, period int, oversold, overbought float64) *RSI {
	return &RSI{
		id:         id,
		symbol:     symbol,
		period:     period,
		oversold:   oversold,
		overbought: overbought,
		closes:     make([]float64, 0, period+1),
		prevDir:    bus.DirectionHold,
	}
}

func (s *RSI) ID() string { return s.id }

func (s *RSI) Name() string {
	return fmt.Sprintf("RSI_%d", s.period)
}

func (s *RSI) OnBar(bar market.Bar) (*bus.Signal, error) {
	if bar.Symbol != s.symbol {
		return nil, nil
	}

	s.closes = append(s.closes, bar.Close)
	if len(s.closes) > s.period+1 {
		s.closes = s.closes[1:]
	}
	if len(s.closes) < s.period+1 {
		return nil, nil
	}

	rsi := computeRSI(s.closes, s.period)

	var dir bus.Direction
	var conf float64
	switch {
	case rsi <= s.oversold:
		dir = bus.DirectionBuy
		conf = (s.oversold - rsi) / s.oversold
	case rsi >= s.overbought:
		dir = bus.DirectionSell
		conf = (rsi - s.overbought) / (100 - s.overbought)
	default:
		dir = bus.DirectionHold
	}
	if conf > 1 {
		conf = 1
	}
	if dir == s.prevDir {
		return nil, nil
	}
	s.prevDir = dir

	return &bus.Signal{
		Symbol:     s.symbol,
		Timestamp:  bar.Timestamp,
		StrategyID: s.id,
		Direction:  dir,
		Confidence: conf,
		Meta:       map[string]string{"rsi": fmt.Sprintf("%.2f", rsi)},
	}, nil
}

// computeRSI calculates the RSI over the last period deltas.
func computeRSI(closes []float64, period int) float64 {
	var gains, losses float64
	start := len(closes) - period
	for i := start; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	if losses == 0 {
		return 100
	}
	rs := gains / losses
	return 100 - 100/(1+rs)
}
