package models

import (
	"time"

	"github.com/costpilot-ai/costpilot/pkg/pricing"
)

// CacheEntry is the serialized record stored for a resolved query. Entries
// are immutable once written: a put fully replaces any previous value. The
// stored Cost is what the original miss was charged; a later hit is
// reported at zero marginal cost but keeps this value for the audit trail.
type CacheEntry struct {
	Tier pricing.Tier `json:"tier"`
	Cost float64      `json:"cost"`
	// Response may be truncated for storage.
	Response         string    `json:"response"`
	PromptTokens     float64   `json:"prompt_tokens"`
	CompletionTokens float64   `json:"completion_tokens"`
	Estimated        bool      `json:"estimated,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
