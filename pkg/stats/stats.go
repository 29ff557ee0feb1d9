// Package stats owns the running totals for processed queries. The
// aggregator is the only writer of its counters; every mutation happens
// under its mutex so concurrent processor goroutines never lose updates.
package stats

import (
	"sync"
	"time"

	"github.com/costpilot-ai/costpilot/pkg/pricing"
)

// Snapshot is a consistent point-in-time copy of the aggregator's state.
// It never changes after being returned.
type Snapshot struct {
	Hits         int64
	Misses       map[pricing.Tier]int64
	ActualCost   float64
	BaselineCost float64
	// MissLatency accumulates backend latency for misses only; hits are
	// served in microseconds and excluded.
	MissLatency time.Duration
}

// TotalMisses sums misses across tiers.
func (s Snapshot) TotalMisses() int64 {
	var n int64
	for _, v := range s.Misses {
		n += v
	}
	return n
}

// Total is hits plus misses.
func (s Snapshot) Total() int64 {
	return s.Hits + s.TotalMisses()
}

// Aggregator accumulates hit/miss counts, cost totals, and miss latency.
type Aggregator struct {
	mu           sync.Mutex
	hits         int64
	misses       map[pricing.Tier]int64
	actualCost   float64
	baselineCost float64
	missLatency  time.Duration
}

// New returns an empty aggregator.
func New() *Aggregator {
	return &Aggregator{misses: make(map[pricing.Tier]int64)}
}

// RecordHit counts a cache hit. Hits add nothing to either cost total: the
// original miss already paid.
func (a *Aggregator) RecordHit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hits++
}

// RecordMiss counts a resolved miss with its actual charge, the
// always-expensive baseline charge for the same tokens, and backend
// latency.
func (a *Aggregator) RecordMiss(tier pricing.Tier, actualCost, baselineCost float64, latency time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.misses[tier]++
	a.actualCost += actualCost
	a.baselineCost += baselineCost
	a.missLatency += latency
}

// Snapshot returns a copy of the current state. The returned map is owned
// by the caller.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	misses := make(map[pricing.Tier]int64, len(a.misses))
	for k, v := range a.misses {
		misses[k] = v
	}
	return Snapshot{
		Hits:         a.hits,
		Misses:       misses,
		ActualCost:   a.actualCost,
		BaselineCost: a.baselineCost,
		MissLatency:  a.missLatency,
	}
}
