package strategy

import (
	"execution-core/internal/bus"
	"execution-core/internal/market"
)

// Strategy turns bars into signals. Implementations keep their own state
// and are driven from a single goroutine per runner; they need no locking.
type Strategy interface {
	// ID returns the unique instance ID.
	ID() string
	// Name returns the human-readable name.
	Name() string
	// OnBar processes a new bar. A nil signal means no decision this bar.
	OnBar(bar market.Bar) (*bus.Signal, error)
}
