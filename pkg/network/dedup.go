package network

import (
	"sync"
)

// dedupSet is a bounded seen-set. Long-lived sessions would otherwise grow
// dedup state without limit, so once the cap is hit the oldest entries are
// evicted in insertion order.
type dedupSet struct {
	mu    sync.Mutex
	max   int
	seen  map[string]struct{}
	order []string
}

func newDedupSet(max int) *dedupSet {
	return &dedupSet{
		max:  max,
		seen: make(map[string]struct{}),
	}
}

// Seen records key and reports whether it had been recorded before
func (s *dedupSet) Seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[key]; ok {
		return true
	}

	s.seen[key] = struct{}{}
	s.order = append(s.order, key)

	for len(s.order) > s.max {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.seen, oldest)
	}

	return false
}

// Contains reports whether key was recorded, without recording it
func (s *dedupSet) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[key]
	return ok
}

// Len returns the number of tracked keys
func (s *dedupSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
