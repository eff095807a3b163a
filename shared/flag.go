package shared

import (
	"fmt"
	"sync"
	"time"
)

// FlagType represents the type of an out-of-band exclusion flag.
type FlagType int

const (
	DoNotTrade FlagType = iota
	ManualExclude
	IPORecent
)

// String stringifies the provided flag type.
func (t FlagType) String() string {
	switch t {
	case DoNotTrade:
		return "do_not_trade"
	case ManualExclude:
		return "manual_exclude"
	case IPORecent:
		return "ipo_recent"
	default:
		return "unknown"
	}
}

// ParseFlagType parses a flag type from its string form.
func ParseFlagType(str string) (FlagType, error) {
	switch str {
	case "do_not_trade":
		return DoNotTrade, nil
	case "manual_exclude":
		return ManualExclude, nil
	case "ipo_recent":
		return IPORecent, nil
	default:
		return 0, fmt.Errorf("unknown flag type: %s", str)
	}
}

// Flag represents an out-of-band exclusion marker consumed by the model
// evaluator as a veto. Flags are sourced externally.
type Flag struct {
	Symbol     string
	Type       FlagType
	At         time.Time
	Cleared    bool
	Confidence float64
	Metadata   string
}

// FlagSet tracks the effective flags for a symbol. The most recent flag per
// type wins by timestamp.
type FlagSet struct {
	mtx   sync.RWMutex
	flags map[FlagType]Flag
}

// NewFlagSet initializes a new flag set.
func NewFlagSet() *FlagSet {
	return &FlagSet{
		flags: make(map[FlagType]Flag),
	}
}

// Apply applies the provided flag to the set. Flags older than the current
// effective flag of the same type are ignored.
func (f *FlagSet) Apply(flag Flag) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	current, ok := f.flags[flag.Type]
	if ok && current.At.After(flag.At) {
		return
	}

	f.flags[flag.Type] = flag
}

// Veto asserts whether the effective flags veto the symbol, returning the
// vetoing flag when they do.
func (f *FlagSet) Veto() (Flag, bool) {
	f.mtx.RLock()
	defer f.mtx.RUnlock()

	var veto Flag
	var vetoed bool
	for _, flag := range f.flags {
		if flag.Cleared {
			continue
		}
		if !vetoed || flag.At.After(veto.At) {
			veto = flag
			vetoed = true
		}
	}

	return veto, vetoed
}
