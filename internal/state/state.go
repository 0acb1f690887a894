// Package state holds the process-wide bot-state map design note §9 calls
// for: a process-wide Engine value owning symbol -> SymbolState rather than
// the teacher's/original's module-level globals (api keys, spacing_cache,
// active_breakouts, latest_prices scattered at package scope).
package state

import (
	"sync"

	"github.com/shopspring/decimal"

	"gridsentinel/internal/types"
)

// Symbol is one symbol's process-wide state: gate activity, any active
// breakout direction, the last seen config fingerprint, and the in-memory
// spacing cache. The Reconciler and Breakout Controller take the lock
// around their accesses; the Supervisor reads and writes GateActive and
// LastConfigHash without it, relying on one goroutine per symbol per pass.
type Symbol struct {
	mu sync.Mutex

	GateActive     bool
	ActiveBreakout *types.Side // nil = none; Buy = long breakout, Sell = short breakout
	LastConfigHash uint64
	BaseSpacing    *decimal.Decimal // nil = not cached; evicted on reset
}

// Lock/Unlock expose the per-symbol serialization point spec §5 requires.
func (s *Symbol) Lock()   { s.mu.Lock() }
func (s *Symbol) Unlock() { s.mu.Unlock() }

// EvictSpacing clears the cached base spacing, done on every reset.
func (s *Symbol) EvictSpacing() { s.BaseSpacing = nil }

// Map is the process-wide bot-state map, symbol -> Symbol.
type Map struct {
	mu      sync.Mutex
	symbols map[string]*Symbol
}

// NewMap builds an empty bot-state map.
func NewMap() *Map {
	return &Map{symbols: make(map[string]*Symbol)}
}

// Get returns the Symbol state for sym, creating it on first use.
func (m *Map) Get(sym string) *Symbol {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.symbols[sym]
	if !ok {
		s = &Symbol{}
		m.symbols[sym] = s
	}
	return s
}

// Delete drops a symbol's state entirely, used when a symbol is removed
// from configuration.
func (m *Map) Delete(sym string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.symbols, sym)
}

// Symbols returns the currently tracked symbol names.
func (m *Map) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.symbols))
	for sym := range m.symbols {
		out = append(out, sym)
	}
	return out
}
