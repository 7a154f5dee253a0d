package common

import (
	"sync"
)

// Stats is a set of named event counters. The scheduler and timer bump
// them on dispatches, interrupts and wakeups; the demo binary dumps them
// on exit.
type Stats struct {
	counts map[string]int
	mu     sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		counts: map[string]int{},
	}
}

func (s *Stats) Inc(key string) {
	s.mu.Lock()
	s.counts[key] += 1
	s.mu.Unlock()
}

func (s *Stats) Count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}

// Snapshot returns a copy of all counters.
func (s *Stats) Snapshot() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}
