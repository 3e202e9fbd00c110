// Package window keeps a bounded, time-ordered trade history per
// directed account pair.
package window

import (
	"errors"
	"sync"

	"xrpl-wash-monitor/internal/domain"
)

// DefaultHorizon is the retention window in seconds.
const DefaultHorizon int64 = 1800

const defaultStripes = 64

// ErrNotFound is returned when a pair has no retained entries.
var ErrNotFound = errors.New("window: no entries")

// Options configures a Store.
type Options struct {
	// Horizon is the retention window in seconds. Zero means DefaultHorizon.
	Horizon int64
	// Stripes is the number of lock stripes. Zero means 64.
	Stripes int
}

// AppendResult describes the state of a pair right after an append.
type AppendResult struct {
	// Previous is the entry that was newest before this append.
	// Valid only when HasPrevious is true.
	Previous    Entry
	HasPrevious bool
	// Evicted is the number of entries dropped by this append.
	Evicted int
}

type stripe struct {
	mu    sync.RWMutex
	pairs map[domain.PairKey]*history
}

// Store is a lock-striped map of pair histories.
// Writers on different stripes never contend.
type Store struct {
	horizon int64
	stripes []stripe
}

// NewStore creates a Store with defaults applied.
func NewStore(opts Options) *Store {
	if opts.Horizon <= 0 {
		opts.Horizon = DefaultHorizon
	}
	if opts.Stripes <= 0 {
		opts.Stripes = defaultStripes
	}
	s := &Store{
		horizon: opts.Horizon,
		stripes: make([]stripe, opts.Stripes),
	}
	for i := range s.stripes {
		s.stripes[i].pairs = make(map[domain.PairKey]*history)
	}
	return s
}

// Horizon returns the configured retention window in seconds.
func (s *Store) Horizon() int64 {
	return s.horizon
}

func (s *Store) stripeFor(key domain.PairKey) *stripe {
	return &s.stripes[key.Hash()%uint64(len(s.stripes))]
}

// Append records a trade for key and evicts entries that fell out of
// the horizon relative to the newest timestamp seen for key.
func (s *Store) Append(key domain.PairKey, ts int64, volume float64) AppendResult {
	st := s.stripeFor(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	h, ok := st.pairs[key]
	if !ok {
		h = &history{}
		st.pairs[key] = h
	}

	prev, hasPrev := h.tail()
	h.push(Entry{Timestamp: ts, Volume: volume})
	evicted := h.evict(s.horizon)

	if hasPrev && h.newest-prev.Timestamp >= s.horizon {
		hasPrev = false
	}
	h.prev, h.hasPrev = prev, hasPrev
	if !hasPrev {
		h.prev = Entry{}
	}

	return AppendResult{Previous: h.prev, HasPrevious: h.hasPrev, Evicted: evicted}
}

// Count returns the number of retained entries for key.
func (s *Store) Count(key domain.PairKey) int {
	st := s.stripeFor(key)
	st.mu.RLock()
	defer st.mu.RUnlock()

	h, ok := st.pairs[key]
	if !ok {
		return 0
	}
	return h.len()
}

// NetVolume returns the signed sum of retained volumes for key.
func (s *Store) NetVolume(key domain.PairKey) float64 {
	st := s.stripeFor(key)
	st.mu.RLock()
	defer st.mu.RUnlock()

	h, ok := st.pairs[key]
	if !ok {
		return 0
	}
	var sum float64
	for _, e := range h.entries() {
		sum += e.Volume
	}
	return sum
}

// Last returns the newest retained entry for key.
func (s *Store) Last(key domain.PairKey) (Entry, error) {
	st := s.stripeFor(key)
	st.mu.RLock()
	defer st.mu.RUnlock()

	h, ok := st.pairs[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	e, ok := h.tail()
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// Previous returns the entry that was newest before the latest append
// to key, provided it is still retained.
func (s *Store) Previous(key domain.PairKey) (Entry, error) {
	st := s.stripeFor(key)
	st.mu.RLock()
	defer st.mu.RUnlock()

	h, ok := st.pairs[key]
	if !ok || !h.hasPrev {
		return Entry{}, ErrNotFound
	}
	return h.prev, nil
}

// AnyWithin reports whether key has a retained entry with |entry.ts - ts| < band.
func (s *Store) AnyWithin(key domain.PairKey, ts, band int64) bool {
	st := s.stripeFor(key)
	st.mu.RLock()
	defer st.mu.RUnlock()

	h, ok := st.pairs[key]
	if !ok {
		return false
	}
	entries := h.entries()
	// Newest first: the common query is about trades close to now.
	for i := len(entries) - 1; i >= 0; i-- {
		d := entries[i].Timestamp - ts
		if absInt64(d) < band {
			return true
		}
		if d <= -band {
			return false
		}
	}
	return false
}

// Snapshot returns a copy of the retained entries for key, oldest first.
func (s *Store) Snapshot(key domain.PairKey) []Entry {
	st := s.stripeFor(key)
	st.mu.RLock()
	defer st.mu.RUnlock()

	h, ok := st.pairs[key]
	if !ok {
		return nil
	}
	out := make([]Entry, h.len())
	copy(out, h.entries())
	return out
}

// Sweep removes pairs whose newest timestamp is older than now-idle and
// returns how many were reclaimed.
func (s *Store) Sweep(now, idle int64) int {
	cutoff := now - idle
	removed := 0
	for i := range s.stripes {
		st := &s.stripes[i]
		st.mu.Lock()
		for k, h := range st.pairs {
			if h.newest < cutoff {
				delete(st.pairs, k)
				removed++
			}
		}
		st.mu.Unlock()
	}
	return removed
}

// Len returns the number of live pairs.
func (s *Store) Len() int {
	n := 0
	for i := range s.stripes {
		st := &s.stripes[i]
		st.mu.RLock()
		n += len(st.pairs)
		st.mu.RUnlock()
	}
	return n
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
