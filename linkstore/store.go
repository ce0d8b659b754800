// Package linkstore holds pending verifications between the NationStates
// check and the Discord callback, keyed by the anti-forgery state.
//
// Entries live in process memory only and are lost on restart.
package linkstore

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Store is a mutex-guarded map of state to value with per-entry expiry.
// The zero value is not usable; use New.
type Store[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	now     func() time.Time
}

// Option configures a Store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New returns an empty Store.
func New[V any](opts ...Option) *Store[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[V]{
		entries: make(map[string]entry[V]),
		now:     o.now,
	}
}

// Set stores v under state until expiresAt, replacing any previous entry.
func (s *Store[V]) Set(state string, v V, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[state] = entry[V]{value: v, expiresAt: expiresAt}
}

// Get returns the live value for state. Expired entries read as absent.
func (s *Store[V]) Get(state string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[state]
	if !ok || s.expired(e) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes state. Deleting an absent state is a no-op.
func (s *Store[V]) Delete(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, state)
}

// Take removes state and returns its value if it was live.
// Of any number of concurrent Takes for the same state, at most one succeeds.
func (s *Store[V]) Take(state string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[state]
	if ok {
		delete(s.entries, state)
	}
	if !ok || s.expired(e) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Prune removes every expired entry and reports how many were removed.
func (s *Store[V]) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Len reports the number of entries, including expired ones not yet pruned.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// expired reports whether e is past its expiry. Callers hold s.mu.
func (s *Store[V]) expired(e entry[V]) bool {
	return !s.now().Before(e.expiresAt)
}
