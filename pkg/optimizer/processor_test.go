package optimizer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/costpilot-ai/costpilot/pkg/backend"
	"github.com/costpilot-ai/costpilot/pkg/cache"
	"github.com/costpilot-ai/costpilot/pkg/models"
	"github.com/costpilot-ai/costpilot/pkg/pricing"
)

type fakeStore struct {
	mu      sync.Mutex
	entries map[string]*models.CacheEntry
	getErr  error
	putErr  error
	puts    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]*models.CacheEntry)}
}

func (s *fakeStore) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.entries[key], nil
}

func (s *fakeStore) Put(ctx context.Context, key string, entry *models.CacheEntry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.putErr != nil {
		return s.putErr
	}
	s.entries[key] = entry
	return nil
}

func (s *fakeStore) Close() error { return nil }

type fakeBackend struct {
	name    string
	text    string
	tokens  models.TokenCounts
	err     error
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) Generate(ctx context.Context, prompt string) (*backend.Result, error) {
	if b.calls.Add(1) == 1 && b.started != nil {
		close(b.started)
	}
	if b.release != nil {
		<-b.release
	}
	if b.err != nil {
		return nil, b.err
	}
	return &backend.Result{Text: b.text, Tokens: b.tokens}, nil
}

func newTestProcessor(store cache.Store, local, cloud *fakeBackend) *Processor {
	return New(Options{
		Store: store,
		Local: local,
		Cloud: cloud,
		Table: pricing.DefaultTable(),
	})
}

func TestProcessMissThenHit(t *testing.T) {
	store := newFakeStore()
	local := &fakeBackend{name: "local", text: "4", tokens: models.TokenCounts{Prompt: 4, Completion: 1}}
	p := newTestProcessor(store, local, &fakeBackend{name: "cloud"})
	ctx := context.Background()

	first, err := p.Process(ctx, "What is 2+2?")
	if err != nil {
		t.Fatal(err)
	}
	if first.Kind != models.OutcomeCacheMiss {
		t.Errorf("first outcome = %s, want miss", first.Kind)
	}
	if first.Tier != pricing.TierLocal {
		t.Errorf("tier = %s, want local", first.Tier)
	}
	if first.Cost <= 0 {
		t.Errorf("miss cost = %v, want positive", first.Cost)
	}

	second, err := p.Process(ctx, "What is 2+2?")
	if err != nil {
		t.Fatal(err)
	}
	if second.Kind != models.OutcomeCacheHit {
		t.Errorf("second outcome = %s, want hit", second.Kind)
	}
	if second.Response != "4" {
		t.Errorf("hit response = %q", second.Response)
	}
	if local.calls.Load() != 1 {
		t.Errorf("backend calls = %d, want 1", local.calls.Load())
	}

	s := p.Stats().Snapshot()
	if s.Hits != 1 || s.TotalMisses() != 1 {
		t.Errorf("stats = %d hits / %d misses, want 1/1", s.Hits, s.TotalMisses())
	}
}

func TestProcessRoutesComplexToCloud(t *testing.T) {
	store := newFakeStore()
	local := &fakeBackend{name: "local", text: "short"}
	cloud := &fakeBackend{name: "cloud", text: "long", tokens: models.TokenCounts{Prompt: 20, Completion: 100}}
	p := newTestProcessor(store, local, cloud)

	outcome, err := p.Process(context.Background(), "Analyze the trade-offs between microservices and monoliths")
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Tier != pricing.TierCloud {
		t.Errorf("tier = %s, want cloud", outcome.Tier)
	}
	if local.calls.Load() != 0 {
		t.Error("local backend should not be called for a complex query")
	}
	if cloud.calls.Load() != 1 {
		t.Errorf("cloud calls = %d, want 1", cloud.calls.Load())
	}
	// Cloud misses still report zero savings versus the baseline.
	if outcome.Savings() != 0 {
		t.Errorf("cloud miss savings = %v, want 0", outcome.Savings())
	}
}

func TestProcessEmptyQuery(t *testing.T) {
	p := newTestProcessor(newFakeStore(), &fakeBackend{name: "local"}, &fakeBackend{name: "cloud"})
	if _, err := p.Process(context.Background(), "   \t  "); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestProcessWhitespaceVariantsShareEntry(t *testing.T) {
	store := newFakeStore()
	local := &fakeBackend{name: "local", text: "4", tokens: models.TokenCounts{Prompt: 4, Completion: 1}}
	p := newTestProcessor(store, local, &fakeBackend{name: "cloud"})
	ctx := context.Background()

	if _, err := p.Process(ctx, "What is 2+2?"); err != nil {
		t.Fatal(err)
	}
	outcome, err := p.Process(ctx, "  What is 2+2?  ")
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Kind != models.OutcomeCacheHit {
		t.Errorf("whitespace variant should hit, got %s", outcome.Kind)
	}
}

func TestProcessBackendFailure(t *testing.T) {
	store := newFakeStore()
	local := &fakeBackend{name: "local", err: &backend.TimeoutError{Backend: "local", Err: context.DeadlineExceeded}}
	p := newTestProcessor(store, local, &fakeBackend{name: "cloud"})

	_, err := p.Process(context.Background(), "What is 2+2?")
	var timeoutErr *backend.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}

	// All or nothing: a failed query leaves no trace.
	if store.puts != 0 {
		t.Error("failed query must not write to the cache")
	}
	if s := p.Stats().Snapshot(); s.Total() != 0 {
		t.Errorf("failed query must not mutate stats, got %d", s.Total())
	}
}

func TestProcessDegradedCache(t *testing.T) {
	store := newFakeStore()
	store.getErr = cache.ErrUnavailable
	store.putErr = cache.ErrUnavailable
	local := &fakeBackend{name: "local", text: "4", tokens: models.TokenCounts{Prompt: 4, Completion: 1}}
	p := newTestProcessor(store, local, &fakeBackend{name: "cloud"})
	ctx := context.Background()

	// The cache being down degrades to a forced miss, never a failure.
	for i := 0; i < 2; i++ {
		outcome, err := p.Process(ctx, "What is 2+2?")
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if outcome.Kind != models.OutcomeCacheMiss {
			t.Errorf("request %d: outcome = %s, want miss", i, outcome.Kind)
		}
	}
	if local.calls.Load() != 2 {
		t.Errorf("backend calls = %d, want 2 without a cache", local.calls.Load())
	}
	if s := p.Stats().Snapshot(); s.TotalMisses() != 2 {
		t.Errorf("misses = %d, want 2", s.TotalMisses())
	}
}

func TestProcessCoalescesConcurrentMisses(t *testing.T) {
	store := newFakeStore()
	local := &fakeBackend{
		name:    "local",
		text:    "4",
		tokens:  models.TokenCounts{Prompt: 4, Completion: 1},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	p := newTestProcessor(store, local, &fakeBackend{name: "cloud"})

	const n = 8
	var wg sync.WaitGroup
	outcomes := make([]*models.Outcome, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = p.Process(context.Background(), "What is 2+2?")
		}(i)
	}

	// Hold the backend until every goroutine has had time to join the
	// in-flight group, then let the single call finish.
	<-local.started
	time.Sleep(50 * time.Millisecond)
	close(local.release)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if outcomes[i].Response != "4" {
			t.Errorf("request %d: response = %q", i, outcomes[i].Response)
		}
	}
	if local.calls.Load() != 1 {
		t.Errorf("backend calls = %d, want 1 for coalesced misses", local.calls.Load())
	}
	if s := p.Stats().Snapshot(); s.TotalMisses() != 1 {
		t.Errorf("recorded misses = %d, want 1 per coalesced group", s.TotalMisses())
	}
	if store.puts != 1 {
		t.Errorf("cache writes = %d, want 1", store.puts)
	}
}

func TestProcessTruncatesStoredResponse(t *testing.T) {
	store := newFakeStore()
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'x'
	}
	local := &fakeBackend{name: "local", text: string(long), tokens: models.TokenCounts{Prompt: 4, Completion: 1}}
	p := New(Options{
		Store:             store,
		Local:             local,
		Cloud:             &fakeBackend{name: "cloud"},
		Table:             pricing.DefaultTable(),
		MaxStoredResponse: 10,
	})

	outcome, err := p.Process(context.Background(), "What is 2+2?")
	if err != nil {
		t.Fatal(err)
	}
	if len(outcome.Response) != 100 {
		t.Errorf("outcome should carry the full text, got %d bytes", len(outcome.Response))
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, entry := range store.entries {
		if len(entry.Response) != 10 {
			t.Errorf("stored response = %d bytes, want 10", len(entry.Response))
		}
	}
}

func TestProcessTruncatesOnRuneBoundary(t *testing.T) {
	store := newFakeStore()
	// "é" is 2 bytes; a 5-byte cap lands mid-rune.
	local := &fakeBackend{name: "local", text: strings.Repeat("é", 10), tokens: models.TokenCounts{Prompt: 4, Completion: 1}}
	p := New(Options{
		Store:             store,
		Local:             local,
		Cloud:             &fakeBackend{name: "cloud"},
		Table:             pricing.DefaultTable(),
		MaxStoredResponse: 5,
	})

	if _, err := p.Process(context.Background(), "What is 2+2?"); err != nil {
		t.Fatal(err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, entry := range store.entries {
		if !utf8.ValidString(entry.Response) {
			t.Errorf("stored response is not valid UTF-8: %q", entry.Response)
		}
		if entry.Response != "éé" {
			t.Errorf("stored response = %q, want %q", entry.Response, "éé")
		}
	}
}
