// Package backend holds the model backends a cache miss can be routed to:
// a local Ollama instance and an OpenAI-compatible cloud endpoint. Both
// block until generation completes and honor the caller's context
// deadline. Failures are never converted into zero-token successes; they
// surface as the typed errors in errors.go.
package backend

import (
	"context"
	"strings"

	"github.com/costpilot-ai/costpilot/pkg/models"
)

// Result is a successful generation: the text plus token counts, with
// counts flagged as estimated when the backend did not report exact usage.
type Result struct {
	Text   string
	Tokens models.TokenCounts
}

// Backend executes one generation call.
type Backend interface {
	// Name identifies the backend in logs and errors.
	Name() string
	// Generate runs the prompt to completion. It blocks, bounded by the
	// context deadline, and returns a typed error on failure.
	Generate(ctx context.Context, prompt string) (*Result, error)
}

// tokensPerWord approximates tokens from whitespace-separated word counts
// when a backend omits usage. The factor matches common English tokenizer
// behavior; estimates are flagged, never passed off as exact.
const tokensPerWord = 1.3

func estimateTokens(text string) float64 {
	return float64(len(strings.Fields(text))) * tokensPerWord
}
