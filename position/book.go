package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/reflexhq/reflex/shared"
)

// kindTimes tracks the last emission time per signal kind for a symbol.
type kindTimes map[shared.SignalKind]time.Time

// Book tracks open positions and signal timing for all symbols. It enforces
// the cooldown and add-limit invariants by construction: callers cannot open,
// add to, or close a position in violation of them.
type Book struct {
	mtx       sync.RWMutex
	positions map[string]*Position
	lastEmit  map[string]kindTimes
	lastExit  map[string]time.Time
}

// NewBook initializes a new position book.
func NewBook() *Book {
	return &Book{
		positions: make(map[string]*Position),
		lastEmit:  make(map[string]kindTimes),
		lastExit:  make(map[string]time.Time),
	}
}

// Position returns the open position for the provided symbol, if any.
func (b *Book) Position(symbol string) (*Position, bool) {
	b.mtx.RLock()
	defer b.mtx.RUnlock()

	pos, ok := b.positions[symbol]
	return pos, ok
}

// LastExit returns the time of the last exit signal for the provided symbol.
func (b *Book) LastExit(symbol string) (time.Time, bool) {
	b.mtx.RLock()
	defer b.mtx.RUnlock()

	at, ok := b.lastExit[symbol]
	return at, ok
}

// CooldownActive asserts whether emitting a signal of the provided kind for
// the symbol would violate the cooldown window.
func (b *Book) CooldownActive(symbol string, kind shared.SignalKind, cooldown time.Duration, now time.Time) bool {
	b.mtx.RLock()
	defer b.mtx.RUnlock()

	times, ok := b.lastEmit[symbol]
	if !ok {
		return false
	}

	last, ok := times[kind]
	if !ok {
		return false
	}

	return now.Sub(last) < cooldown
}

// markEmit records a signal emission for the symbol. The book mutex must be
// held.
func (b *Book) markEmit(symbol string, kind shared.SignalKind, at time.Time) {
	times, ok := b.lastEmit[symbol]
	if !ok {
		times = make(kindTimes)
		b.lastEmit[symbol] = times
	}

	times[kind] = at
}

// Open creates a position for the provided entry signal. It fails when a
// position already exists or the entry cooldown is active.
func (b *Book) Open(entry *shared.Signal, cooldown time.Duration) (*Position, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if _, ok := b.positions[entry.Symbol]; ok {
		return nil, fmt.Errorf("position already open for %s", entry.Symbol)
	}

	times := b.lastEmit[entry.Symbol]
	if last, ok := times[shared.EntrySignal]; ok && entry.CreatedOn.Sub(last) < cooldown {
		return nil, fmt.Errorf("entry cooldown active for %s", entry.Symbol)
	}

	pos, err := NewPosition(entry)
	if err != nil {
		return nil, err
	}

	b.positions[entry.Symbol] = pos
	b.markEmit(entry.Symbol, shared.EntrySignal, entry.CreatedOn)

	return pos, nil
}

// Add records a scale-in on the open position for the provided add signal.
func (b *Book) Add(add *shared.Signal, maxAdds uint32, cooldown time.Duration) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	pos, ok := b.positions[add.Symbol]
	if !ok {
		return fmt.Errorf("no open position for %s", add.Symbol)
	}

	times := b.lastEmit[add.Symbol]
	if last, ok := times[shared.AddSignal]; ok && add.CreatedOn.Sub(last) < cooldown {
		return fmt.Errorf("add cooldown active for %s", add.Symbol)
	}

	err := pos.ApplyAdd(maxAdds, add.CreatedOn)
	if err != nil {
		return err
	}

	b.markEmit(add.Symbol, shared.AddSignal, add.CreatedOn)

	return nil
}

// Close destroys the open position for the provided exit signal and starts
// the entry cooldown window.
func (b *Book) Close(exit *shared.Signal, cooldown time.Duration) (*Position, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	pos, ok := b.positions[exit.Symbol]
	if !ok {
		return nil, fmt.Errorf("no open position for %s", exit.Symbol)
	}

	times := b.lastEmit[exit.Symbol]
	if last, ok := times[shared.ExitSignal]; ok && exit.CreatedOn.Sub(last) < cooldown {
		return nil, fmt.Errorf("exit cooldown active for %s", exit.Symbol)
	}

	delete(b.positions, exit.Symbol)
	b.markEmit(exit.Symbol, shared.ExitSignal, exit.CreatedOn)
	b.lastExit[exit.Symbol] = exit.CreatedOn

	return pos, nil
}
