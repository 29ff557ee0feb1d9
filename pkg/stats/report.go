package stats

import (
	"time"

	"github.com/costpilot-ai/costpilot/pkg/pricing"
)

// Report holds the derived reporting values computed from a snapshot. It
// is plain data so it can be rendered as text or served as JSON.
type Report struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheHitRate  float64 `json:"cache_hit_rate"`
	LocalMisses   int64   `json:"local_misses"`
	CloudMisses   int64   `json:"cloud_misses"`

	ActualCost     float64 `json:"actual_cost"`
	BaselineCost   float64 `json:"baseline_cost"`
	Savings        float64 `json:"savings"`
	SavingsPercent float64 `json:"savings_percent"`

	// AvgMissLatency averages backend latency over misses only.
	AvgMissLatency time.Duration `json:"avg_miss_latency"`
}

// Projection scales observed cost to a hypothetical request volume.
type Projection struct {
	Volume       int64   `json:"volume"`
	ActualCost   float64 `json:"actual_cost"`
	BaselineCost float64 `json:"baseline_cost"`
	Savings      float64 `json:"savings"`
}

// BuildReport derives the reporting values from a snapshot.
func BuildReport(s Snapshot) Report {
	r := Report{
		TotalRequests: s.Total(),
		CacheHits:     s.Hits,
		LocalMisses:   s.Misses[pricing.TierLocal],
		CloudMisses:   s.Misses[pricing.TierCloud],
		ActualCost:    s.ActualCost,
		BaselineCost:  s.BaselineCost,
		Savings:       s.BaselineCost - s.ActualCost,
	}
	if r.TotalRequests > 0 {
		r.CacheHitRate = float64(s.Hits) / float64(r.TotalRequests)
	}
	if s.BaselineCost > 0 {
		r.SavingsPercent = r.Savings / s.BaselineCost
	}
	if misses := s.TotalMisses(); misses > 0 {
		r.AvgMissLatency = s.MissLatency / time.Duration(misses)
	}
	return r
}

// Project scales the report's costs to the given volume. With no observed
// requests the projection is zero.
func (r Report) Project(volume int64) Projection {
	p := Projection{Volume: volume}
	if r.TotalRequests == 0 || volume <= 0 {
		return p
	}
	scale := float64(volume) / float64(r.TotalRequests)
	p.ActualCost = r.ActualCost * scale
	p.BaselineCost = r.BaselineCost * scale
	p.Savings = r.Savings * scale
	return p
}
