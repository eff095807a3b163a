package shared

import "time"

// SymbolState represents the readiness lifecycle stage of a symbol.
type SymbolState int

const (
	Cold SymbolState = iota
	Watch
	Warm
	Hot
)

// String stringifies the provided symbol state.
func (s SymbolState) String() string {
	switch s {
	case Cold:
		return "COLD"
	case Watch:
		return "WATCH"
	case Warm:
		return "WARM"
	case Hot:
		return "HOT"
	default:
		return "unknown"
	}
}

// Promoted returns the next stage up from the provided state, capped at HOT.
func (s SymbolState) Promoted() SymbolState {
	if s >= Hot {
		return Hot
	}

	return s + 1
}

// Demoted returns the next stage down from the provided state, capped at COLD.
func (s SymbolState) Demoted() SymbolState {
	if s <= Cold {
		return Cold
	}

	return s - 1
}

// StateChange represents an observable symbol state transition.
type StateChange struct {
	Symbol string
	From   SymbolState
	To     SymbolState
	At     time.Time
}
