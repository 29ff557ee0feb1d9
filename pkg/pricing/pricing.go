package pricing

import "fmt"

// Tier identifies one of the two model tiers a query can be served by.
type Tier string

const (
	// TierLocal is the on-host model (small, cheap, amortized hosting cost).
	TierLocal Tier = "local"
	// TierCloud is the remote API model (large, expensive, pay per token).
	TierCloud Tier = "cloud"
)

// Tiers lists every valid tier, cheapest first.
var Tiers = []Tier{TierLocal, TierCloud}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierLocal, TierCloud:
		return true
	}
	return false
}

// Rates holds the pricing and identity of a single tier.
type Rates struct {
	// Model is the identifier sent to the backend serving this tier.
	Model string
	// Label is a human-readable description for reports.
	Label string
	// InputPer1K is the price per 1,000 prompt tokens.
	InputPer1K float64
	// OutputPer1K is the price per 1,000 completion tokens.
	OutputPer1K float64
}

// Table maps the closed tier set to its rates. A Table is immutable once
// built; configuration is responsible for keeping cloud rates at or above
// local rates so that savings reporting stays meaningful.
type Table struct {
	local Rates
	cloud Rates
}

// NewTable builds a Table from the two tier rate pairs.
func NewTable(local, cloud Rates) Table {
	return Table{local: local, cloud: cloud}
}

// DefaultTable returns the demo pricing: amortized local hosting at
// 0.0001/0.0002 per 1K tokens and cloud API pricing at 0.0006 flat.
func DefaultTable() Table {
	return Table{
		local: Rates{
			Model:       "llama3.1:8b",
			Label:       "8B (Local Ollama)",
			InputPer1K:  0.0001,
			OutputPer1K: 0.0002,
		},
		cloud: Rates{
			Model:       "llama3.3-70b",
			Label:       "70B (Cloud)",
			InputPer1K:  0.0006,
			OutputPer1K: 0.0006,
		},
	}
}

// Rates returns the rate pair for a tier.
func (tb Table) Rates(t Tier) Rates {
	switch t {
	case TierCloud:
		return tb.cloud
	default:
		return tb.local
	}
}

// Cost computes the charge for serving prompt/completion tokens on a tier.
// Token counts may be fractional when estimated from word counts.
func (tb Table) Cost(t Tier, promptTokens, completionTokens float64) float64 {
	r := tb.Rates(t)
	return (promptTokens/1000)*r.InputPer1K + (completionTokens/1000)*r.OutputPer1K
}

// BaselineTier is the tier used for the always-expensive baseline. The
// configuration contract keeps cloud the most expensive tier.
func (tb Table) BaselineTier() Tier {
	return TierCloud
}

// Baseline computes what the same token counts would have cost on the most
// expensive tier. Used only for savings reporting; never for routing.
func (tb Table) Baseline(promptTokens, completionTokens float64) float64 {
	return tb.Cost(tb.BaselineTier(), promptTokens, completionTokens)
}

// ParseTier converts a stored string back into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}
