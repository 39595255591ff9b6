// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

// Package window provides event-time sliding windows keyed by entity.
//
// Unlike wall-clock counters, these windows advance only when a new event is
// observed, so replaying the same event file always yields the same state.
// Eviction is lazy and FIFO: entries are dropped from the front while they are
// older than the newest event minus the window length.
package window

import (
	"sync"
	"time"
)

// Entry is one observation held in a window.
type Entry[V any] struct {
	TS    time.Time
	Value V
}

// SlidingWindow is a FIFO of observations no older than Size relative to the
// most recent Observe call.
type SlidingWindow[V any] struct {
	size    time.Duration
	entries []Entry[V]
	last    time.Time
}

// NewSlidingWindow creates a window of the given length.
func NewSlidingWindow[V any](size time.Duration) *SlidingWindow[V] {
	return &SlidingWindow[V]{size: size}
}

// Evict drops entries older than now-size from the front of the FIFO and
// returns how many were removed. An entry exactly at the boundary is kept.
func (w *SlidingWindow[V]) Evict(now time.Time) int {
	cutoff := now.Add(-w.size)
	n := 0
	for n < len(w.entries) && w.entries[n].TS.Before(cutoff) {
		n++
	}
	if n > 0 {
		w.entries = append(w.entries[:0], w.entries[n:]...)
	}
	return n
}

// Observe evicts stale entries relative to ts, then appends the new entry.
func (w *SlidingWindow[V]) Observe(ts time.Time, v V) {
	w.Evict(ts)
	w.entries = append(w.entries, Entry[V]{TS: ts, Value: v})
	w.last = ts
}

// Len returns the number of entries currently held.
func (w *SlidingWindow[V]) Len() int {
	return len(w.entries)
}

// Entries returns the held entries, oldest first. The slice must not be modified.
func (w *SlidingWindow[V]) Entries() []Entry[V] {
	return w.entries
}

// Last returns the timestamp of the most recent observation.
func (w *SlidingWindow[V]) Last() time.Time {
	return w.last
}

// Store manages one SlidingWindow per key.
//
//	store := window.NewStore[string](time.Hour, 0)
//	w := store.Observe("tok-1", ev.TS.Time, ev.DeviceID)
//	if w.Len() >= 2 { ... }
type Store[V any] struct {
	mu      sync.Mutex
	windows map[string]*SlidingWindow[V]
	size    time.Duration
	maxKeys int // maximum number of keys (0 = unlimited)
}

// NewStore creates a keyed window store.
func NewStore[V any](size time.Duration, maxKeys int) *Store[V] {
	return &Store[V]{
		windows: make(map[string]*SlidingWindow[V]),
		size:    size,
		maxKeys: maxKeys,
	}
}

// Observe records v at ts for key and returns the key's window after the
// insertion. The returned window is owned by the store.
func (s *Store[V]) Observe(key string, ts time.Time, v V) *SlidingWindow[V] {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, exists := s.windows[key]
	if !exists {
		if s.maxKeys > 0 && len(s.windows) >= s.maxKeys {
			s.evictOldest()
		}
		w = NewSlidingWindow[V](s.size)
		s.windows[key] = w
	}
	w.Observe(ts, v)
	return w
}

// Count returns the number of entries held for key.
func (s *Store[V]) Count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.windows[key]; ok {
		return w.Len()
	}
	return 0
}

// Len returns the number of keys in the store.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// evictOldest drops the key whose most recent observation is oldest.
// Must be called with lock held.
func (s *Store[V]) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for key, w := range s.windows {
		if !found || w.last.Before(oldest) || (w.last.Equal(oldest) && key < oldestKey) {
			oldestKey, oldest, found = key, w.last, true
		}
	}
	if found {
		delete(s.windows, oldestKey)
	}
}

// Latest holds the single most recent value per key. It backs detectors that
// compare each event only against the previous one.
type Latest[V any] struct {
	mu     sync.Mutex
	values map[string]V
}

// NewLatest creates an empty Latest map.
func NewLatest[V any]() *Latest[V] {
	return &Latest[V]{values: make(map[string]V)}
}

// Swap stores v for key and returns the previous value, if any.
func (l *Latest[V]) Swap(key string, v V) (V, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev, ok := l.values[key]
	l.values[key] = v
	return prev, ok
}

// Len returns the number of tracked keys.
func (l *Latest[V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.values)
}
