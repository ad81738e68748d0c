package broker

import (
	"context"
	"log"
	"math/rand"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// PaperConfig tunes the paper venue simulation.
type PaperConfig struct {
	SlippageBps float64 // random slippage applied against the taker, in bps
	FillSteps   int     // number of polls a fill is spread across (<=1 = instant)
	RatePerSec  float64 // API call pacing; 0 disables the limiter
	Burst       int
}

type paperOrder struct {
	req       OrderRequest
	id        string
	status    Status
	filledQty int64
	avgPrice  float64
	fillPrice float64
	stepQty   int64
}

// Paper simulates a broker venue in memory: orders fill at the last known
// price with optional slippage, optionally across several status polls.
// Place is idempotent on the request's idempotency key.
type Paper struct {
	mu      sync.Mutex
	cfg     PaperConfig
	limiter *rate.Limiter
	rng     *rand.Rand
	prices  map[string]float64
	orders  map[string]*paperOrder
	byKey   map[string]string // idempotency key -> order id

	placeCalls int
}

// NewPaper creates a paper broker.
func NewPaper(cfg PaperConfig, seed int64) *Paper {
	if cfg.FillSteps <= 0 {
		cfg.FillSteps = 1
	}
	p := &Paper{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		prices: make(map[string]float64),
		orders: make(map[string]*paperOrder),
		byKey:  make(map[string]string),
	}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return p
}

// SetPrice feeds the venue's last price for a symbol.
func (p *Paper) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// PlaceCalls returns how many Place calls reached the venue.
func (p *Paper) PlaceCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.placeCalls
}

func (p *Paper) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

// Place accepts an order and schedules its fill. A request whose
// idempotency key was already seen returns the original order's ack with
// Duplicate set.
func (p *Paper) Place(ctx context.Context, req OrderRequest) (OrderAck, error) {
	if err := p.wait(ctx); err != nil {
		return OrderAck{}, &TransientError{Op: "place", Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.placeCalls++

	if id, ok := p.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		o := p.orders[id]
		return OrderAck{OrderID: o.id, Status: o.status, Duplicate: true}, nil
	}

	if req.Qty <= 0 || (req.Type == OrderTypeLimit && req.LimitPrice <= 0) {
		return OrderAck{}, ErrRejected
	}

	price, ok := p.prices[req.Symbol]
	if !ok || price <= 0 {
		return OrderAck{}, ErrUnknownPrice
	}
	if req.Type == OrderTypeLimit {
		price = req.LimitPrice
	} else if p.cfg.SlippageBps > 0 {
		noise := p.rng.Float64() * p.cfg.SlippageBps / 10000.0
		if strings.EqualFold(string(req.Side), string(SideBuy)) {
			price *= 1 + noise
		} else {
			price *= 1 - noise
		}
	}

	o := &paperOrder{
		req:       req,
		id:        uuid.NewString(),
		status:    StatusNew,
		fillPrice: price,
		stepQty:   req.Qty / int64(p.cfg.FillSteps),
	}
	if o.stepQty < 1 {
		o.stepQty = req.Qty
	}
	p.orders[o.id] = o
	if req.IdempotencyKey != "" {
		p.byKey[req.IdempotencyKey] = o.id
	}

	log.Printf("paper: accepted %s %s qty=%d @ %.4f key=%s", req.Side, req.Symbol, req.Qty, price, req.IdempotencyKey)
	return OrderAck{OrderID: o.id, Status: o.status}, nil
}

// PollStatus advances the staged fill and returns the current view.
func (p *Paper) PollStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	if err := p.wait(ctx); err != nil {
		return OrderStatus{}, &TransientError{Op: "poll_status", Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return OrderStatus{}, ErrUnknownOrder
	}

	if o.status == StatusNew || o.status == StatusPartial {
		fill := o.stepQty
		if remaining := o.req.Qty - o.filledQty; fill > remaining {
			fill = remaining
		}
		if fill > 0 {
			o.avgPrice = (o.avgPrice*float64(o.filledQty) + o.fillPrice*float64(fill)) / float64(o.filledQty+fill)
			o.filledQty += fill
		}
		if o.filledQty >= o.req.Qty {
			o.status = StatusFilled
		} else {
			o.status = StatusPartial
		}
	}

	return OrderStatus{
		OrderID:      o.id,
		Status:       o.status,
		FilledQty:    o.filledQty,
		AvgFillPrice: o.avgPrice,
	}, nil
}

// Cancel marks an open order canceled; the filled portion stands.
func (p *Paper) Cancel(ctx context.Context, orderID string) error {
	if err := p.wait(ctx); err != nil {
		return &TransientError{Op: "cancel", Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return ErrUnknownOrder
	}
	switch o.status {
	case StatusFilled, StatusCanceled, StatusRejected:
		return nil
	}
	o.status = StatusCanceled
	return nil
}

// LastPrice returns the venue's last price for a symbol.
func (p *Paper) LastPrice(ctx context.Context, symbol string) (float64, error) {
	if err := p.wait(ctx); err != nil {
		return 0, &TransientError{Op: "last_price", Err: err}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok || price <= 0 {
		return 0, ErrUnknownPrice
	}
	return price, nil
}
