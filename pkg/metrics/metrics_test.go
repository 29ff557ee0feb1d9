package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/costpilot-ai/costpilot/pkg/models"
	"github.com/costpilot-ai/costpilot/pkg/pricing"
)

// Each instance carries its own registry, so building two must not panic
// with duplicate registration.
func TestNewIsolatedRegistries(t *testing.T) {
	_ = New()
	_ = New()
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveOutcome(&models.Outcome{Kind: models.OutcomeCacheMiss, Tier: pricing.TierLocal})
	m.ObserveFailure(pricing.TierCloud)
}

func TestObserveOutcomeExposed(t *testing.T) {
	m := New()
	m.ObserveOutcome(&models.Outcome{
		Kind:    models.OutcomeCacheMiss,
		Tier:    pricing.TierLocal,
		Cost:    0.0001,
		Tokens:  models.TokenCounts{Prompt: 10, Completion: 5},
		Latency: 100 * time.Millisecond,
	})
	m.ObserveOutcome(&models.Outcome{Kind: models.OutcomeCacheHit, Tier: pricing.TierLocal})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	body := w.Body.String()
	for _, want := range []string{
		`llm_requests_total{outcome="cache_miss",tier="local"} 1`,
		`llm_requests_total{outcome="cache_hit",tier="local"} 1`,
		`llm_cache_hits_total 1`,
		`llm_tokens_processed_total{type="input"} 10`,
		`llm_tokens_processed_total{type="output"} 5`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
