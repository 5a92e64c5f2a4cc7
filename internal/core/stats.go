package core

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats holds the pipeline's monotonic counters plus a 60-slot
// per-second ring used to derive a rolling events-per-minute rate.
type Stats struct {
	total     atomic.Int64
	delivered atomic.Int64
	deduped   atomic.Int64
	filtered  atomic.Int64

	mu     sync.Mutex
	ring   [60]int64
	stamps [60]int64

	// now is swappable for tests
	now func() time.Time
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	Total         int64   `json:"total"`
	Delivered     int64   `json:"delivered"`
	Deduped       int64   `json:"deduped"`
	Filtered      int64   `json:"filtered"`
	RatePerMinute float64 `json:"ratePerMinute"`
}

// NewStats creates an empty counter set.
func NewStats() *Stats {
	return &Stats{now: time.Now}
}

// MarkTotal counts one raw frame entering the pipeline.
func (s *Stats) MarkTotal() { s.total.Add(1) }

// MarkFiltered counts one normalization reject or filter miss.
func (s *Stats) MarkFiltered() { s.filtered.Add(1) }

// MarkDeduped counts one suppressed duplicate.
func (s *Stats) MarkDeduped() { s.deduped.Add(1) }

// MarkDelivered counts one event published to the sinks and records it
// in the rate ring.
func (s *Stats) MarkDelivered() {
	s.delivered.Add(1)

	now := s.now().Unix()
	slot := now % 60

	s.mu.Lock()
	if s.stamps[slot] != now {
		s.stamps[slot] = now
		s.ring[slot] = 0
	}
	s.ring[slot]++
	s.mu.Unlock()
}

// RatePerMinute sums the per-second ring over the trailing minute.
func (s *Stats) RatePerMinute() float64 {
	now := s.now().Unix()

	s.mu.Lock()
	defer s.mu.Unlock()

	var sum int64
	for i := 0; i < 60; i++ {
		if now-s.stamps[i] < 60 {
			sum += s.ring[i]
		}
	}
	return float64(sum)
}

// Snapshot returns a consistent view of all counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Total:         s.total.Load(),
		Delivered:     s.delivered.Load(),
		Deduped:       s.deduped.Load(),
		Filtered:      s.filtered.Load(),
		RatePerMinute: s.RatePerMinute(),
	}
}
