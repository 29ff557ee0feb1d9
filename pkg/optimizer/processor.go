// Package optimizer is the query processor: it ties the cache, the
// complexity classifier, the model backends, the cost model, and the stats
// aggregator into one Process call.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/costpilot-ai/costpilot/pkg/backend"
	"github.com/costpilot-ai/costpilot/pkg/cache"
	"github.com/costpilot-ai/costpilot/pkg/classify"
	"github.com/costpilot-ai/costpilot/pkg/metrics"
	"github.com/costpilot-ai/costpilot/pkg/models"
	"github.com/costpilot-ai/costpilot/pkg/pricing"
	"github.com/costpilot-ai/costpilot/pkg/stats"
)

// ErrEmptyQuery is returned for queries that normalize to nothing.
var ErrEmptyQuery = errors.New("empty query")

const (
	// DefaultTTL matches the SET ... EX 3600 of the cache wire protocol.
	DefaultTTL = time.Hour
	// DefaultMaxStoredResponse caps the response text written to the
	// cache and audit trail. The outcome always carries the full text.
	DefaultMaxStoredResponse = 4096
)

// Options wires a Processor.
type Options struct {
	Store      cache.Store
	Classifier classify.Classifier
	Local      backend.Backend
	Cloud      backend.Backend
	Table      pricing.Table
	Stats      *stats.Aggregator
	// Metrics may be nil.
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	// TTL for cache entries; DefaultTTL when zero.
	TTL time.Duration
	// MaxStoredResponse bytes kept in cache entries; DefaultMaxStoredResponse when zero.
	MaxStoredResponse int
}

// Processor processes queries. It is safe for concurrent use: stats
// mutations are serialized by the aggregator, and concurrent misses on the
// identical key are coalesced behind a single-flight group so only one
// backend call runs per key at a time.
type Processor struct {
	store      cache.Store
	classifier classify.Classifier
	backends   map[pricing.Tier]backend.Backend
	table      pricing.Table
	stats      *stats.Aggregator
	metrics    *metrics.Metrics
	logger     *zap.Logger
	ttl        time.Duration
	maxStored  int
	group      singleflight.Group
}

// New creates a Processor.
func New(opts Options) *Processor {
	if opts.Classifier == nil {
		opts.Classifier = classify.Default()
	}
	if opts.Stats == nil {
		opts.Stats = stats.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxStoredResponse <= 0 {
		opts.MaxStoredResponse = DefaultMaxStoredResponse
	}
	return &Processor{
		store:      opts.Store,
		classifier: opts.Classifier,
		backends: map[pricing.Tier]backend.Backend{
			pricing.TierLocal: opts.Local,
			pricing.TierCloud: opts.Cloud,
		},
		table:     opts.Table,
		stats:     opts.Stats,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		ttl:       opts.TTL,
		maxStored: opts.MaxStoredResponse,
	}
}

// Stats returns the aggregator backing this processor.
func (p *Processor) Stats() *stats.Aggregator { return p.stats }

// Process resolves one query: cache lookup, then on a miss route, call the
// backend, price, cache, and record. An unreachable cache degrades to a
// forced miss. A backend failure aborts the query with no cache write and
// no stats mutation. The caller's context deadline bounds the backend
// call.
func (p *Processor) Process(ctx context.Context, query string) (*models.Outcome, error) {
	q := cache.Normalize(query)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	key := cache.Key(q)

	entry, err := p.store.Get(ctx, key)
	if err != nil {
		// Degraded mode: the request proceeds as a forced miss.
		p.logger.Warn("cache lookup failed, forcing miss",
			zap.String("key", key), zap.Error(err))
		entry = nil
	}
	if entry != nil {
		outcome := &models.Outcome{
			Kind:     models.OutcomeCacheHit,
			Tier:     entry.Tier,
			Response: entry.Response,
			Tokens: models.TokenCounts{
				Prompt:     entry.PromptTokens,
				Completion: entry.CompletionTokens,
				Estimated:  entry.Estimated,
			},
		}
		p.stats.RecordHit()
		p.metrics.ObserveOutcome(outcome)
		return outcome, nil
	}

	// Coalesce concurrent misses on the same key: the first caller runs
	// the backend call; the rest wait and share its outcome. Exactly one
	// miss is recorded per coalesced group.
	var leader bool
	v, err, _ := p.group.Do(key, func() (any, error) {
		leader = true
		return p.resolveMiss(ctx, q, key)
	})
	if err != nil {
		return nil, err
	}
	outcome := v.(*models.Outcome)
	if !leader {
		shared := *outcome
		return &shared, nil
	}
	return outcome, nil
}

func (p *Processor) resolveMiss(ctx context.Context, query, key string) (*models.Outcome, error) {
	tier := p.classifier.Classify(query)
	be := p.backends[tier]
	if be == nil {
		return nil, fmt.Errorf("no backend configured for tier %s", tier)
	}

	start := time.Now()
	res, err := be.Generate(ctx, query)
	if err != nil {
		p.metrics.ObserveFailure(tier)
		p.logger.Error("backend call failed",
			zap.String("tier", string(tier)),
			zap.String("backend", be.Name()),
			zap.Error(err))
		return nil, err
	}
	latency := time.Since(start)

	cost := p.table.Cost(tier, res.Tokens.Prompt, res.Tokens.Completion)
	baseline := p.table.Baseline(res.Tokens.Prompt, res.Tokens.Completion)

	entry := &models.CacheEntry{
		Tier:             tier,
		Cost:             cost,
		Response:         truncate(res.Text, p.maxStored),
		PromptTokens:     res.Tokens.Prompt,
		CompletionTokens: res.Tokens.Completion,
		Estimated:        res.Tokens.Estimated,
		CreatedAt:        time.Now().UTC(),
	}
	if err := p.store.Put(ctx, key, entry, p.ttl); err != nil {
		// Degraded mode again: the result is still returned and counted.
		p.logger.Warn("cache write failed",
			zap.String("key", key), zap.Error(err))
	}

	p.stats.RecordMiss(tier, cost, baseline, latency)

	outcome := &models.Outcome{
		Kind:         models.OutcomeCacheMiss,
		Tier:         tier,
		Response:     res.Text,
		Cost:         cost,
		BaselineCost: baseline,
		Tokens:       res.Tokens,
		Latency:      latency,
	}
	p.metrics.ObserveOutcome(outcome)
	p.logger.Debug("query resolved",
		zap.String("tier", string(tier)),
		zap.Float64("cost", cost),
		zap.Float64("baseline_cost", baseline),
		zap.Duration("latency", latency),
		zap.Bool("estimated_tokens", res.Tokens.Estimated))
	return outcome, nil
}

// truncate caps s at max bytes without splitting a UTF-8 rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
