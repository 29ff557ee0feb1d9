package models

import (
	"time"

	"github.com/costpilot-ai/costpilot/pkg/pricing"
)

// OutcomeKind classifies how a query was resolved.
type OutcomeKind string

const (
	OutcomeCacheHit  OutcomeKind = "cache_hit"
	OutcomeCacheMiss OutcomeKind = "cache_miss"
)

// TokenCounts carries prompt and completion token counts for one request.
// Counts may be fractional when estimated from word counts; Estimated
// records that distinction instead of masking it.
type TokenCounts struct {
	Prompt     float64 `json:"prompt"`
	Completion float64 `json:"completion"`
	Estimated  bool    `json:"estimated,omitempty"`
}

// Outcome is the transient record of one processed query, returned to the
// caller after the stats aggregator has consumed it. It is not persisted.
type Outcome struct {
	Kind OutcomeKind  `json:"kind"`
	Tier pricing.Tier `json:"tier"`
	// Response is the full generated text. Cache hits return the stored
	// (possibly truncated) text from the original miss.
	Response string `json:"response"`
	// Cost is the actual marginal charge for this request: zero on a hit.
	Cost float64 `json:"cost"`
	// BaselineCost is what the most expensive tier would have charged for
	// the same token counts; zero on a hit.
	BaselineCost float64       `json:"baseline_cost"`
	Tokens       TokenCounts   `json:"tokens"`
	Latency      time.Duration `json:"latency"`
}

// Savings is the amount avoided versus the always-expensive baseline.
func (o *Outcome) Savings() float64 {
	return o.BaselineCost - o.Cost
}
