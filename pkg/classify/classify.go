package classify

import (
	"strings"

	"github.com/costpilot-ai/costpilot/pkg/pricing"
)

// Classifier maps a query to the tier that should serve it. Implementations
// must be pure: deterministic, no I/O, no side effects, so the orchestrator
// can call them from any goroutine and a swap (word-boundary matching, a
// learned model) never touches the processing pipeline.
type Classifier interface {
	Classify(query string) pricing.Tier
}

// DefaultWordThreshold routes queries longer than this many whitespace-
// separated words to the cloud tier.
const DefaultWordThreshold = 12

// DefaultVocabulary lists the terms that mark a query as complex.
var DefaultVocabulary = []string{
	"analyze", "explain", "compare", "detail", "step-by-step",
	"architecture", "trade-off", "advantage", "disadvantage",
	"evaluate", "assess", "comprehensive",
}

// KeywordClassifier routes on word count and a fixed complexity vocabulary.
//
// Vocabulary terms match as substrings of the lowercased query, so a term
// embedded in a longer word still fires (e.g. "detail" inside "detailed").
// That is the established behavior callers depend on; switching to
// word-boundary matching would silently reroute such queries.
type KeywordClassifier struct {
	threshold  int
	vocabulary []string
}

// NewKeywordClassifier builds a classifier with the given word threshold
// and vocabulary. Zero/empty arguments fall back to the defaults.
func NewKeywordClassifier(threshold int, vocabulary []string) *KeywordClassifier {
	if threshold <= 0 {
		threshold = DefaultWordThreshold
	}
	if len(vocabulary) == 0 {
		vocabulary = DefaultVocabulary
	}
	lowered := make([]string, len(vocabulary))
	for i, term := range vocabulary {
		lowered[i] = strings.ToLower(term)
	}
	return &KeywordClassifier{threshold: threshold, vocabulary: lowered}
}

// Default returns a classifier with the stock threshold and vocabulary.
func Default() *KeywordClassifier {
	return NewKeywordClassifier(DefaultWordThreshold, DefaultVocabulary)
}

// Classify returns the cloud tier when the query exceeds the word threshold
// or contains any vocabulary term, and the local tier otherwise.
func (c *KeywordClassifier) Classify(query string) pricing.Tier {
	if len(strings.Fields(query)) > c.threshold {
		return pricing.TierCloud
	}
	lowered := strings.ToLower(query)
	for _, term := range c.vocabulary {
		if strings.Contains(lowered, term) {
			return pricing.TierCloud
		}
	}
	return pricing.TierLocal
}
