package stats

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/costpilot-ai/costpilot/pkg/pricing"
)

func TestRecordAndSnapshot(t *testing.T) {
	a := New()
	a.RecordHit()
	a.RecordHit()
	a.RecordMiss(pricing.TierLocal, 0.0001, 0.0006, 50*time.Millisecond)
	a.RecordMiss(pricing.TierCloud, 0.0006, 0.0006, 150*time.Millisecond)

	s := a.Snapshot()
	if s.Hits != 2 {
		t.Errorf("hits = %d, want 2", s.Hits)
	}
	if s.Misses[pricing.TierLocal] != 1 || s.Misses[pricing.TierCloud] != 1 {
		t.Errorf("misses = %v", s.Misses)
	}
	if s.Total() != 4 {
		t.Errorf("total = %d, want 4", s.Total())
	}
	if math.Abs(s.ActualCost-0.0007) > 1e-12 {
		t.Errorf("actual cost = %v", s.ActualCost)
	}
	if math.Abs(s.BaselineCost-0.0012) > 1e-12 {
		t.Errorf("baseline cost = %v", s.BaselineCost)
	}
	if s.MissLatency != 200*time.Millisecond {
		t.Errorf("miss latency = %v", s.MissLatency)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	a := New()
	a.RecordMiss(pricing.TierLocal, 0.0001, 0.0006, time.Millisecond)

	s := a.Snapshot()
	s.Misses[pricing.TierLocal] = 99

	if got := a.Snapshot().Misses[pricing.TierLocal]; got != 1 {
		t.Errorf("mutating a snapshot leaked into the aggregator: %d", got)
	}
}

func TestConcurrentRecording(t *testing.T) {
	a := New()
	const workers = 16
	const perWorker = 200

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if j%2 == 0 {
					a.RecordHit()
				} else if i%2 == 0 {
					a.RecordMiss(pricing.TierLocal, 0.0001, 0.0006, time.Millisecond)
				} else {
					a.RecordMiss(pricing.TierCloud, 0.0006, 0.0006, time.Millisecond)
				}
			}
		}(i)
	}
	wg.Wait()

	s := a.Snapshot()
	if s.Total() != workers*perWorker {
		t.Errorf("total = %d, want %d", s.Total(), workers*perWorker)
	}
	if s.Hits != workers*perWorker/2 {
		t.Errorf("hits = %d, want %d", s.Hits, workers*perWorker/2)
	}
}

func TestBuildReport(t *testing.T) {
	a := New()
	a.RecordHit()
	a.RecordHit()
	a.RecordHit()
	a.RecordMiss(pricing.TierLocal, 0.0001, 0.0006, 100*time.Millisecond)
	a.RecordMiss(pricing.TierCloud, 0.0006, 0.0006, 300*time.Millisecond)

	r := BuildReport(a.Snapshot())
	if r.TotalRequests != 5 {
		t.Errorf("total = %d, want 5", r.TotalRequests)
	}
	if math.Abs(r.CacheHitRate-0.6) > 1e-12 {
		t.Errorf("hit rate = %v, want 0.6", r.CacheHitRate)
	}
	if math.Abs(r.Savings-0.0005) > 1e-12 {
		t.Errorf("savings = %v, want 0.0005", r.Savings)
	}
	if r.Savings < 0 {
		t.Error("savings must not be negative when baseline uses the top tier")
	}
	if r.AvgMissLatency != 200*time.Millisecond {
		t.Errorf("avg miss latency = %v", r.AvgMissLatency)
	}
}

func TestBuildReportEmpty(t *testing.T) {
	r := BuildReport(New().Snapshot())
	if r.TotalRequests != 0 || r.CacheHitRate != 0 || r.SavingsPercent != 0 {
		t.Errorf("empty report should be all zero: %+v", r)
	}
}

func TestProject(t *testing.T) {
	a := New()
	a.RecordMiss(pricing.TierLocal, 0.001, 0.006, time.Millisecond)
	a.RecordMiss(pricing.TierCloud, 0.006, 0.006, time.Millisecond)
	r := BuildReport(a.Snapshot())

	p := r.Project(1_000_000)
	// 2 observed requests scaled to 1M: factor 500k.
	if math.Abs(p.ActualCost-3500) > 1e-6 {
		t.Errorf("projected actual = %v, want 3500", p.ActualCost)
	}
	if math.Abs(p.BaselineCost-6000) > 1e-6 {
		t.Errorf("projected baseline = %v, want 6000", p.BaselineCost)
	}
	if math.Abs(p.Savings-2500) > 1e-6 {
		t.Errorf("projected savings = %v, want 2500", p.Savings)
	}
}

func TestProjectNoObservations(t *testing.T) {
	p := BuildReport(New().Snapshot()).Project(1_000_000)
	if p.ActualCost != 0 || p.BaselineCost != 0 || p.Savings != 0 {
		t.Errorf("projection with no observations should be zero: %+v", p)
	}
}
