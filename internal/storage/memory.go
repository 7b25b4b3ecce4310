package storage

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store using an in-memory ring buffer.
// This is used when STORAGE=memory or as a fallback.
type MemoryStore struct {
	mu      sync.RWMutex
	cycles  []Cycle
	maxRows int
	head    int // next write position
	count   int // actual count (may be less than len(cycles) initially)
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(maxRows int) *MemoryStore {
	return &MemoryStore{
		cycles:  make([]Cycle, maxRows), // pre-allocate full buffer
		maxRows: maxRows,
	}
}

// Insert adds a completed cycle to the store.
func (s *MemoryStore) Insert(c *Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycles[s.head] = *c
	s.head = (s.head + 1) % s.maxRows
	if s.count < s.maxRows {
		s.count++
	}
	return nil
}

// collectOrdered returns all cycles newest first. Caller holds the lock.
func (s *MemoryStore) collectOrdered() []Cycle {
	out := make([]Cycle, 0, s.count)
	for i := 0; i < s.count; i++ {
		idx := (s.head - 1 - i + s.maxRows) % s.maxRows
		out = append(out, s.cycles[idx])
	}
	return out
}

// List returns cycles matching the filter options, newest first.
func (s *MemoryStore) List(opts ListOptions) ([]Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.collectOrdered()

	cutoff := int64(0)
	if opts.Window > 0 {
		cutoff = time.Now().UnixMilli() - opts.Window.Milliseconds()
	}

	var filtered []Cycle
	for _, c := range all {
		if opts.Trigger != "" && c.Trigger != opts.Trigger {
			continue
		}
		if cutoff > 0 && c.TSStart < cutoff {
			continue
		}
		filtered = append(filtered, c)
	}

	if opts.Limit > 0 && opts.Limit < len(filtered) {
		filtered = filtered[:opts.Limit]
	}
	return filtered, nil
}

// Overview returns aggregate statistics.
func (s *MemoryStore) Overview(window time.Duration) (*Overview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().UnixMilli() - window.Milliseconds()

	var o Overview
	var durations []int

	for _, c := range s.collectOrdered() {
		if c.TSStart < cutoff {
			continue
		}

		o.TotalCycles++
		switch c.Outcome {
		case OutcomeSuccess:
			o.SuccessCount++
		case OutcomeFailure:
			o.FailureCount++
		}
		if c.DurationMs > 0 {
			durations = append(durations, int(c.DurationMs))
		}
		for _, r := range c.Results {
			o.QueriesTotal++
			if r.Status == QueryPlaceholder {
				o.Placeholders++
			}
		}
	}

	if o.TotalCycles > 0 {
		o.SuccessRate = float64(o.SuccessCount) / float64(o.TotalCycles)
	}
	if len(durations) > 0 {
		sort.Ints(durations)
		sum := 0
		for _, d := range durations {
			sum += d
		}
		o.AvgDurationMs = sum / len(durations)

		p95Idx := int(float64(len(durations)) * 0.95)
		if p95Idx >= len(durations) {
			p95Idx = len(durations) - 1
		}
		o.P95DurationMs = durations[p95Idx]
	}

	return &o, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
