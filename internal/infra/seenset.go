package infra

import "sync"

// SeenSet is a bounded set of identifiers used by adapters to drop
// provider redeliveries before they reach the bus. When the set exceeds
// its capacity the oldest half is evicted.
type SeenSet struct {
	mu       sync.Mutex
	order    []string
	present  map[string]struct{}
	capacity int
}

// DefaultSeenSetCapacity bounds per-adapter idempotency sets.
const DefaultSeenSetCapacity = 10000

// NewSeenSet creates a seen-set with the given capacity.
// A capacity of zero or less uses DefaultSeenSetCapacity.
func NewSeenSet(capacity int) *SeenSet {
	if capacity <= 0 {
		capacity = DefaultSeenSetCapacity
	}
	return &SeenSet{
		present:  make(map[string]struct{}),
		capacity: capacity,
	}
}

// Seen atomically records id and reports whether it was already present.
func (s *SeenSet) Seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.present[id]; ok {
		return true
	}

	if len(s.order) >= s.capacity {
		half := len(s.order) / 2
		for _, old := range s.order[:half] {
			delete(s.present, old)
		}
		s.order = append(s.order[:0], s.order[half:]...)
	}

	s.present[id] = struct{}{}
	s.order = append(s.order, id)
	return false
}

// Len returns the current number of tracked identifiers.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
