package engine

import "sync"

// keyedLocks provides an exclusive lock per (pipeline, decision_id) so no
// two tasks act on the same receipt concurrently. Entries are reference
// counted and removed when the last holder releases.
type keyedLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{entries: make(map[string]*lockEntry)}
}

// lock acquires the lock for key and returns its release function.
func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}

// inflightSet tracks receipts that are queued or being processed, so the
// reconciler never double-feeds a decision that a worker already owns.
type inflightSet struct {
	mu sync.Mutex
	m  map[string]struct{}
}

func newInflightSet() *inflightSet {
	return &inflightSet{m: make(map[string]struct{})}
}

// tryAdd marks key as in flight, reporting false when it already is.
func (s *inflightSet) tryAdd(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key]; ok {
		return false
	}
	s.m[key] = struct{}{}
	return true
}

func (s *inflightSet) remove(key string) {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}
