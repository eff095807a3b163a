package model

import (
	"sync"
	"sync/atomic"
)

// Store holds the current model configuration, globally and per symbol.
// Configs are immutable; hot swaps replace the current reference atomically
// so readers always see a complete, consistent version. A swapped config
// takes effect on the next cadence cycle, never mid-cycle.
type Store struct {
	global  atomic.Pointer[Config]
	mtx     sync.RWMutex
	symbols map[string]*Config
}

// NewStore initializes a new model config store with the provided global
// config.
func NewStore(global *Config) *Store {
	store := &Store{
		symbols: make(map[string]*Config),
	}
	store.global.Store(global)

	return store
}

// Current returns the effective config for the provided symbol: the
// per-symbol config when present, the global config otherwise. The returned
// config may be nil when a per-symbol config failed validation and has not
// been corrected.
func (s *Store) Current(symbol string) *Config {
	s.mtx.RLock()
	cfg, ok := s.symbols[symbol]
	s.mtx.RUnlock()
	if ok {
		return cfg
	}

	return s.global.Load()
}

// SwapGlobal atomically replaces the global config.
func (s *Store) SwapGlobal(cfg *Config) {
	s.global.Store(cfg)
}

// SwapSymbol atomically replaces the per-symbol config. A nil config marks
// the symbol as having no valid config, isolating a per-symbol config error
// without affecting other symbols.
func (s *Store) SwapSymbol(symbol string, cfg *Config) {
	s.mtx.Lock()
	s.symbols[symbol] = cfg
	s.mtx.Unlock()
}

// ClearSymbol removes the per-symbol config, reverting the symbol to the
// global config.
func (s *Store) ClearSymbol(symbol string) {
	s.mtx.Lock()
	delete(s.symbols, symbol)
	s.mtx.Unlock()
}
