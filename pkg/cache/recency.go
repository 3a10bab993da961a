package cache

import (
	"sync"
	"time"
)

// RecencySet remembers keys for a bounded time and a bounded count.
// Expired keys are only dropped by Prune, which the owner calls on its own
// schedule; eviction by size happens inline in Add.
type RecencySet struct {
	mu      sync.Mutex
	items   map[string]int64 // key -> insertion unix nano
	order   []entry
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type entry struct {
	key string
	at  int64
}

// NewRecencySet creates a set. ttl <= 0 keeps keys until evicted by size;
// maxSize <= 0 disables the size bound.
func NewRecencySet(ttl time.Duration, maxSize int) *RecencySet {
	return NewRecencySetWithClock(ttl, maxSize, time.Now)
}

// NewRecencySetWithClock is NewRecencySet with an injected time source.
func NewRecencySetWithClock(ttl time.Duration, maxSize int, now func() time.Time) *RecencySet {
	return &RecencySet{
		items:   make(map[string]int64),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
	}
}

// Add records key and reports whether it was absent.
func (s *RecencySet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[key]; ok {
		return false
	}
	at := s.now().UnixNano()
	s.items[key] = at
	s.order = append(s.order, entry{key: key, at: at})

	for s.maxSize > 0 && len(s.items) > s.maxSize {
		s.popFront()
	}
	return true
}

func (s *RecencySet) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[key]
	return ok
}

// Prune removes keys older than the ttl and returns how many were removed.
func (s *RecencySet) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl).UnixNano()
	removed := 0
	for len(s.order) > 0 && s.order[0].at <= cutoff {
		if s.popFront() {
			removed++
		}
	}
	return removed
}

func (s *RecencySet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *RecencySet) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]int64)
	s.order = nil
}

// popFront drops the oldest entry. A key re-added after removal has a newer
// timestamp in items, so a stale queue entry must not delete it.
func (s *RecencySet) popFront() bool {
	e := s.order[0]
	s.order[0] = entry{}
	s.order = s.order[1:]
	if at, ok := s.items[e.key]; ok && at == e.at {
		delete(s.items, e.key)
		return true
	}
	return false
}
