package indicator

import "sync"

type storeKey struct {
	symbol    string
	timeframe int
}

// Store is a last-value snapshot cache keyed by (symbol, timeframe
// seconds). Written by the pipeline, read by signal evaluation and the
// API layer.
type Store struct {
	mu    sync.RWMutex
	cache map[storeKey]*Snapshot
}

// NewStore creates an empty snapshot store.
func NewStore() *Store {
	return &Store{cache: make(map[storeKey]*Snapshot)}
}

// Set replaces the cached snapshot for its (symbol, timeframe).
func (s *Store) Set(symbol string, timeframe int, snap *Snapshot) {
	s.mu.Lock()
	s.cache[storeKey{symbol: symbol, timeframe: timeframe}] = snap
	s.mu.Unlock()
}

// Get returns the latest snapshot, or nil if none has been computed yet.
func (s *Store) Get(symbol string, timeframe int) *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[storeKey{symbol: symbol, timeframe: timeframe}]
}
