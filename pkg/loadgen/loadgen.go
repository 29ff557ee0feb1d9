// Package loadgen drives synthetic traffic against a running gateway to
// exercise cache dedup and routing under concurrency.
package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// newPool is swapped out in tests to exercise submit failures.
var newPool = ants.NewPool

// DefaultQueries mixes simple and complex prompts, with deliberate
// duplicates so the cache gets hit.
var DefaultQueries = []string{
	"What is 2+2?",
	"What is the capital of France?",
	"What is 2+2?",
	"Analyze the trade-offs between microservices and monolithic architectures",
	"Explain step-by-step how TLS certificate validation works",
	"What is the capital of France?",
	"Compare the advantages and disadvantages of SQL and NoSQL databases",
	"What is 2+2?",
}

// Options configures a load run.
type Options struct {
	URL         string
	APIKey      string
	Concurrency int
	// Requests is the total number of queries to send. Ignored when
	// Duration is set.
	Requests int
	// Duration, when positive, keeps workers cycling the query list
	// until it elapses.
	Duration time.Duration
	// Queries to cycle through; DefaultQueries when empty.
	Queries []string
	Timeout time.Duration
}

// Result summarizes a load run.
type Result struct {
	Requests   int
	Succeeded  int
	Failed     int
	ByStatus   map[int]int
	Elapsed    time.Duration
	LatencyP50 time.Duration
	LatencyP95 time.Duration
	LatencyP99 time.Duration
}

// Run sends queries through a worker pool of opts.Concurrency goroutines
// and reports aggregate latency. The run length is opts.Requests, or
// opts.Duration when set.
func Run(ctx context.Context, opts Options, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}
	if opts.Requests <= 0 {
		opts.Requests = 100
	}
	if len(opts.Queries) == 0 {
		opts.Queries = DefaultQueries
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	pool, err := newPool(opts.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	client := &http.Client{Timeout: opts.Timeout}

	var (
		mu        sync.Mutex
		latencies []time.Duration
		byStatus  = make(map[int]int)
		failed    int
		wg        sync.WaitGroup
	)

	start := time.Now()
	sent := 0
	for i := 0; ; i++ {
		if ctx.Err() != nil {
			break
		}
		if opts.Duration <= 0 && i >= opts.Requests {
			break
		}
		query := opts.Queries[i%len(opts.Queries)]
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			status, latency, err := send(ctx, client, opts, query)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				logger.Debug("request failed", zap.Error(err))
				return
			}
			byStatus[status]++
			latencies = append(latencies, latency)
		})
		if err != nil {
			wg.Done()
			// Drain workers already in flight; they share latencies and
			// byStatus with this goroutine.
			wg.Wait()
			return nil, fmt.Errorf("submit task: %w", err)
		}
		sent++
	}
	wg.Wait()
	elapsed := time.Since(start)

	res := &Result{
		Requests: sent,
		Failed:   failed,
		ByStatus: byStatus,
		Elapsed:  elapsed,
	}
	res.Succeeded = byStatus[http.StatusOK]

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	res.LatencyP50 = percentile(latencies, 0.50)
	res.LatencyP95 = percentile(latencies, 0.95)
	res.LatencyP99 = percentile(latencies, 0.99)
	return res, nil
}

func send(ctx context.Context, client *http.Client, opts Options, query string) (int, time.Duration, error) {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return 0, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.URL+"/v1/queries", bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+opts.APIKey)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, time.Since(start), nil
}

// percentile expects latencies sorted ascending.
func percentile(latencies []time.Duration, p float64) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	idx := int(p * float64(len(latencies)-1))
	return latencies[idx]
}
