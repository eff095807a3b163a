package position

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reflexhq/reflex/shared"
)

// Position represents an open position started by an entry signal. It is
// mutated on each add and destroyed on exit.
type Position struct {
	ID         string
	Symbol     string
	EntryPrice float64
	EntryTime  time.Time
	AddCount   uint32
	LastAddAt  time.Time
}

// NewPosition initializes a new position from the provided entry signal.
func NewPosition(entry *shared.Signal) (*Position, error) {
	if entry == nil {
		return nil, fmt.Errorf("entry signal cannot be nil")
	}
	if entry.Kind != shared.EntrySignal {
		return nil, fmt.Errorf("expected an entry signal, got %s", entry.Kind)
	}

	return &Position{
		ID:         uuid.New().String(),
		Symbol:     entry.Symbol,
		EntryPrice: entry.Price,
		EntryTime:  entry.CreatedOn,
	}, nil
}

// ApplyAdd records a scale-in on the position. The add count may never
// exceed the provided maximum.
func (p *Position) ApplyAdd(maxAdds uint32, at time.Time) error {
	if p.AddCount >= maxAdds {
		return fmt.Errorf("add count %d at maximum %d for %s", p.AddCount, maxAdds, p.Symbol)
	}

	p.AddCount++
	p.LastAddAt = at

	return nil
}

// GainPoints returns the unrealized gain in points at the provided price.
func (p *Position) GainPoints(price float64) float64 {
	return price - p.EntryPrice
}

// DrawdownPoints returns the unrealized drawdown in points at the provided
// price.
func (p *Position) DrawdownPoints(price float64) float64 {
	return p.EntryPrice - price
}

// HeldFor returns the elapsed hold duration at the provided time.
func (p *Position) HeldFor(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}
