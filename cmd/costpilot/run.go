package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/costpilot-ai/costpilot/pkg/loadgen"
	"github.com/costpilot-ai/costpilot/pkg/logging"
	"github.com/costpilot-ai/costpilot/pkg/models"
	"github.com/costpilot-ai/costpilot/pkg/stats"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		volume     int64
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the built-in demo batch and print a savings report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			logger := logging.New(cfg.LogLevel)
			defer func() { _ = logger.Sync() }()

			store, err := buildStore(cfg)
			if err != nil {
				return fmt.Errorf("init cache: %w", err)
			}
			defer func() { _ = store.Close() }()

			processor, _, err := buildProcessor(cfg, store, nil, logger)
			if err != nil {
				return err
			}

			ctx := context.Background()
			for i, query := range loadgen.DefaultQueries {
				outcome, err := processor.Process(ctx, query)
				if err != nil {
					fmt.Printf("[%d] ERROR %q: %v\n", i+1, query, err)
					continue
				}
				tag := string(outcome.Tier)
				if outcome.Kind == models.OutcomeCacheHit {
					tag = "cached"
				}
				fmt.Printf("[%d] %-7s $%.6f  %s\n", i+1, tag, outcome.Cost, snippet(query, 60))
			}

			report := stats.BuildReport(processor.Stats().Snapshot())
			printReport(os.Stdout, report, report.Project(volume))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().Int64Var(&volume, "volume", 1_000_000, "request volume for the cost projection")
	return cmd
}

func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func printReport(w *os.File, r stats.Report, p stats.Projection) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nCOST OPTIMIZATION REPORT")
	fmt.Fprintln(tw, strings.Repeat("-", 40))
	fmt.Fprintf(tw, "Total requests:\t%d\n", r.TotalRequests)
	fmt.Fprintf(tw, "Cache hits:\t%d (%.1f%%)\n", r.CacheHits, r.CacheHitRate*100)
	fmt.Fprintf(tw, "Local misses:\t%d\n", r.LocalMisses)
	fmt.Fprintf(tw, "Cloud misses:\t%d\n", r.CloudMisses)
	fmt.Fprintf(tw, "Actual cost:\t$%.6f\n", r.ActualCost)
	fmt.Fprintf(tw, "Baseline cost:\t$%.6f\n", r.BaselineCost)
	fmt.Fprintf(tw, "Savings:\t$%.6f (%.1f%%)\n", r.Savings, r.SavingsPercent*100)
	if r.AvgMissLatency > 0 {
		fmt.Fprintf(tw, "Avg miss latency:\t%s\n", r.AvgMissLatency.Round(time.Millisecond))
	}
	if p.Volume > 0 {
		fmt.Fprintf(tw, "\nProjected at %d requests:\n", p.Volume)
		fmt.Fprintf(tw, "  Actual cost:\t$%.2f\n", p.ActualCost)
		fmt.Fprintf(tw, "  Baseline cost:\t$%.2f\n", p.BaselineCost)
		fmt.Fprintf(tw, "  Savings:\t$%.2f\n", p.Savings)
	}
	tw.Flush()
}
