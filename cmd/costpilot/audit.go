package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/costpilot-ai/costpilot/pkg/audit"
	"github.com/costpilot-ai/costpilot/pkg/config"
	"github.com/costpilot-ai/costpilot/pkg/models"
	"github.com/costpilot-ai/costpilot/pkg/pricing"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the query audit trail",
	}

	cmd.AddCommand(
		newAuditSearchCmd(),
		newAuditShowCmd(),
		newAuditSecurityCmd(),
		newAuditCleanupCmd(),
	)
	return cmd
}

func newAuditSearchCmd() *cobra.Command {
	var (
		configPath string
		outcome    string
		tier       string
		since      string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search audit trail entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := models.AuditQueryOpts{
				Outcome: outcome,
				Tier:    pricing.Tier(tier),
				Limit:   limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			entries, err := l.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Print(formatAuditEntries(entries))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome (cache_hit, cache_miss)")
	cmd.Flags().StringVar(&tier, "tier", "", "filter by tier (local, cloud)")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")

	return cmd
}

func newAuditShowCmd() *cobra.Command {
	var (
		configPath string
		requestID  string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a single audit entry by request ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestID == "" {
				return fmt.Errorf("--request-id is required")
			}

			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := l.Query(context.Background(), models.AuditQueryOpts{
				RequestID: requestID,
				Limit:     1,
			})
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No entry found for that request ID.")
				return nil
			}

			e := entries[0]
			estimated := ""
			if e.Estimated {
				estimated = " (estimated)"
			}
			fmt.Printf("Request ID:    %s\n", e.RequestID)
			fmt.Printf("Prompt hash:   %s\n", e.PromptHash)
			fmt.Printf("Client key:    %s...\n", e.ClientKeyPrefix)
			fmt.Printf("Outcome:       %s\n", e.Outcome)
			fmt.Printf("Tier:          %s\n", e.Tier)
			fmt.Printf("Cost:          $%.6f\n", e.Cost)
			fmt.Printf("Tokens:        %.1f prompt / %.1f completion%s\n",
				e.PromptTokens, e.CompletionTokens, estimated)
			fmt.Printf("Latency:       %dms\n", e.LatencyMs)
			fmt.Printf("Time:          %s\n", e.CreatedAt.Format(time.RFC3339))
			if e.Response != "" {
				fmt.Printf("\n--- Response ---\n%s\n", e.Response)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&requestID, "request-id", "", "request ID to show")

	return cmd
}

func newAuditSecurityCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "security",
		Short: "Show recent security events",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			events, err := l.SecurityEvents(context.Background(), limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("No security events found.")
				return nil
			}
			fmt.Printf("%-20s %-8s %-10s %-40s %-20s\n",
				"EVENT", "SEVERITY", "CLIENT", "DETAIL", "TIME")
			fmt.Println(strings.Repeat("-", 102))
			for _, ev := range events {
				fmt.Printf("%-20s %-8s %-10s %-40s %-20s\n",
					ev.Event, ev.Severity, ev.ClientKeyPrefix,
					snippet(ev.Detail, 38),
					ev.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().IntVar(&limit, "limit", 50, "max events to return")

	return cmd
}

func newAuditCleanupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audit entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := l.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d audit entries.\n", deleted)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

// openAuditLogger opens the audit database without validating the full
// config, so the CLI works against an existing trail even when the cloud
// credential is absent.
func openAuditLogger(configPath string) (*audit.Logger, func(), error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
	}

	l, err := audit.New(cfg.Audit)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}

func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-11s %-6s %10s %8s %-20s\n",
		"REQUEST ID", "OUTCOME", "TIER", "COST", "LATENCY", "TIME")
	b.WriteString(strings.Repeat("-", 98) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-38s %-11s %-6s %10.6f %6dms %-20s\n",
			e.RequestID, e.Outcome, e.Tier, e.Cost, e.LatencyMs,
			e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
