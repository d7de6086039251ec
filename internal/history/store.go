package history

import (
	"sync"

	"spl-copilot/internal/monitor"
	"spl-copilot/internal/pipeline"
)

// Store is a bounded, append-only record of query outcomes. It is a
// fixed-capacity ring buffer: the oldest entry is evicted on overflow,
// and appends are safe under concurrent writers. Entries are immutable
// once recorded.
type Store struct {
	mu      sync.Mutex
	entries []pipeline.Outcome
	start   int // index of the oldest entry
	count   int
	metrics *monitor.Metrics
}

// New creates an empty store holding at most capacity outcomes.
// metrics may be nil.
func New(capacity int, metrics *monitor.Metrics) *Store {
	if capacity < 1 {
		capacity = 1000
	}
	return &Store{
		entries: make([]pipeline.Outcome, capacity),
		metrics: metrics,
	}
}

// Record appends an outcome, evicting the oldest entry when full.
func (s *Store) Record(outcome pipeline.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := (s.start + s.count) % len(s.entries)
	s.entries[idx] = outcome
	if s.count < len(s.entries) {
		s.count++
	} else {
		s.start = (s.start + 1) % len(s.entries)
	}

	if s.metrics != nil {
		s.metrics.HistorySize.Set(float64(s.count))
	}
}

// Recent returns up to n outcomes, newest first.
func (s *Store) Recent(n int) []pipeline.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 0 {
		n = 0
	}
	if n > s.count {
		n = s.count
	}

	out := make([]pipeline.Outcome, 0, n)
	for i := 0; i < n; i++ {
		idx := (s.start + s.count - 1 - i) % len(s.entries)
		out = append(out, s.entries[idx])
	}
	return out
}

// Len reports the number of stored outcomes.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
