package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/reflexhq/reflex/metrics"
	"github.com/reflexhq/reflex/shared"
	"github.com/rs/zerolog"
)

const (
	// defaultPromotionCycles is the default number of consecutive qualifying
	// cadence cycles required for a promotion.
	defaultPromotionCycles = 3
	// defaultMinTradeDepth is the default minimum trade buffer depth for a
	// qualifying cycle.
	defaultMinTradeDepth = 5
	// defaultMinQuoteDepth is the default minimum quote buffer depth for a
	// qualifying cycle.
	defaultMinQuoteDepth = 1
)

// MachineConfig represents the readiness state machine configuration.
type MachineConfig struct {
	// Symbols represents the collection of tracked symbols.
	Symbols []string
	// PromotionCycles is the number of consecutive qualifying cadence cycles
	// required for a promotion.
	PromotionCycles int
	// MinTradeDepth is the minimum trade buffer depth for a qualifying cycle.
	MinTradeDepth int
	// MinQuoteDepth is the minimum quote buffer depth for a qualifying cycle.
	MinQuoteDepth int
	// StaleTimeout is the feed silence duration that triggers demotion.
	StaleTimeout time.Duration
	// ColdTimeout is the prolonged silence duration that allows demotion to
	// reach COLD.
	ColdTimeout time.Duration
	// NotifyStateChange relays the provided state change for processing.
	NotifyStateChange func(change shared.StateChange)
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// tracker holds the readiness bookkeeping for one symbol.
type tracker struct {
	mtx    sync.Mutex
	state  shared.SymbolState
	streak int
}

// Machine tracks the readiness lifecycle stage of all tracked symbols.
// Transitions always follow a contiguous path through the stages.
type Machine struct {
	cfg      *MachineConfig
	trackers map[string]*tracker
}

// NewMachine initializes a new readiness state machine.
func NewMachine(cfg *MachineConfig) *Machine {
	if cfg.PromotionCycles == 0 {
		cfg.PromotionCycles = defaultPromotionCycles
	}
	if cfg.MinTradeDepth == 0 {
		cfg.MinTradeDepth = defaultMinTradeDepth
	}
	if cfg.MinQuoteDepth == 0 {
		cfg.MinQuoteDepth = defaultMinQuoteDepth
	}

	trackers := make(map[string]*tracker, len(cfg.Symbols))
	for idx := range cfg.Symbols {
		trackers[cfg.Symbols[idx]] = &tracker{state: shared.Cold}
	}

	metrics.SymbolStates.WithLabelValues(shared.Cold.String()).Set(float64(len(cfg.Symbols)))

	return &Machine{
		cfg:      cfg,
		trackers: trackers,
	}
}

// State returns the current readiness state of the provided symbol.
func (m *Machine) State(symbol string) (shared.SymbolState, error) {
	tracker, ok := m.trackers[symbol]
	if !ok {
		return shared.Cold, fmt.Errorf("no tracker found for symbol %s", symbol)
	}

	tracker.mtx.Lock()
	defer tracker.mtx.Unlock()

	return tracker.state, nil
}

// transition applies a state change to the provided tracker and emits the
// corresponding state change event. The tracker mutex must be held.
func (m *Machine) transition(symbol string, tracker *tracker, to shared.SymbolState, now time.Time) {
	from := tracker.state
	if from == to {
		return
	}

	tracker.state = to
	tracker.streak = 0

	metrics.SymbolStates.WithLabelValues(from.String()).Dec()
	metrics.SymbolStates.WithLabelValues(to.String()).Inc()

	m.cfg.Logger.Info().Msgf("%s readiness changed: %s -> %s", symbol, from, to)

	if m.cfg.NotifyStateChange != nil {
		m.cfg.NotifyStateChange(shared.StateChange{
			Symbol: symbol,
			From:   from,
			To:     to,
			At:     now,
		})
	}
}

// lastActivity returns the most recent feed activity time in the snapshot.
func lastActivity(snap *shared.Snapshot) time.Time {
	last := snap.LastTickAt
	if snap.LastQuoteAt.After(last) {
		last = snap.LastQuoteAt
	}

	return last
}

// Advance advances the readiness state of the provided symbol for one cadence
// cycle. Promotion requires consecutive qualifying cycles and moves one stage
// at a time; demotion moves one stage per cycle while the feed is stale or
// the symbol is vetoed, reaching COLD only after prolonged silence.
func (m *Machine) Advance(snap *shared.Snapshot, now time.Time, doNotTrade bool) (shared.SymbolState, error) {
	tracker, ok := m.trackers[snap.Symbol]
	if !ok {
		return shared.Cold, fmt.Errorf("no tracker found for symbol %s", snap.Symbol)
	}

	tracker.mtx.Lock()
	defer tracker.mtx.Unlock()

	last := lastActivity(snap)
	stale := last.IsZero() || now.Sub(last) > m.cfg.StaleTimeout
	silent := last.IsZero() || now.Sub(last) > m.cfg.ColdTimeout

	switch {
	case doNotTrade || stale:
		demoted := tracker.state.Demoted()
		if demoted == shared.Cold && !silent {
			// COLD is only reached by explicit reset or prolonged silence.
			demoted = shared.Watch
		}
		m.transition(snap.Symbol, tracker, demoted, now)

	case snap.TradeCount >= m.cfg.MinTradeDepth &&
		snap.QuoteCount >= m.cfg.MinQuoteDepth && snap.QuoteFresh:
		tracker.streak++
		if tracker.streak >= m.cfg.PromotionCycles && tracker.state < shared.Hot {
			m.transition(snap.Symbol, tracker, tracker.state.Promoted(), now)
		}

	default:
		// Insufficient data stalls promotion without demoting.
		tracker.streak = 0
	}

	return tracker.state, nil
}

// Reset explicitly resets the provided symbol to COLD.
func (m *Machine) Reset(symbol string, now time.Time) error {
	tracker, ok := m.trackers[symbol]
	if !ok {
		return fmt.Errorf("no tracker found for symbol %s", symbol)
	}

	tracker.mtx.Lock()
	defer tracker.mtx.Unlock()

	// Step down through the stages so the transition path stays contiguous.
	for tracker.state != shared.Cold {
		m.transition(symbol, tracker, tracker.state.Demoted(), now)
	}

	return nil
}
