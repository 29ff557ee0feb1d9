package main

import (
	"context"
	"fmt"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/costpilot-ai/costpilot/pkg/loadgen"
	"github.com/costpilot-ai/costpilot/pkg/logging"
)

func newLoadtestCmd() *cobra.Command {
	var (
		url         string
		apiKey      string
		concurrency int
		requests    int
		duration    time.Duration
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Send synthetic traffic to a running gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New("info")
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			res, err := loadgen.Run(ctx, loadgen.Options{
				URL:         url,
				APIKey:      apiKey,
				Concurrency: concurrency,
				Requests:    requests,
				Duration:    duration,
				Timeout:     timeout,
			}, logger)
			if err != nil {
				return err
			}

			fmt.Printf("Requests:   %d (%d ok, %d failed)\n", res.Requests, res.Succeeded, res.Failed)
			fmt.Printf("Elapsed:    %s\n", res.Elapsed.Round(time.Millisecond))
			codes := make([]int, 0, len(res.ByStatus))
			for code := range res.ByStatus {
				codes = append(codes, code)
			}
			sort.Ints(codes)
			for _, code := range codes {
				fmt.Printf("  HTTP %d: %d\n", code, res.ByStatus[code])
			}
			fmt.Printf("Latency:    p50=%s p95=%s p99=%s\n",
				res.LatencyP50.Round(time.Millisecond),
				res.LatencyP95.Round(time.Millisecond),
				res.LatencyP99.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://localhost:8080", "gateway base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "client API key")
	cmd.Flags().IntVar(&concurrency, "concurrency", 10, "concurrent workers")
	cmd.Flags().IntVar(&requests, "requests", 100, "total requests to send")
	cmd.Flags().DurationVar(&duration, "duration", 0, "run for this long instead of a fixed request count")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "per-request timeout")

	return cmd
}
