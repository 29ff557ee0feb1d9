package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/costpilot-ai/costpilot/pkg/stats"
)

func newReportCmd() *cobra.Command {
	var (
		url    string
		volume int64
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Fetch and print the savings report from a running gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(fmt.Sprintf("%s/v1/report?volume=%d", url, volume))
			if err != nil {
				return fmt.Errorf("fetch report: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("gateway returned %s", resp.Status)
			}

			var payload struct {
				Report     stats.Report     `json:"report"`
				Projection stats.Projection `json:"projection"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
				return fmt.Errorf("decode report: %w", err)
			}

			printReport(os.Stdout, payload.Report, payload.Projection)
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://localhost:8080", "gateway base URL")
	cmd.Flags().Int64Var(&volume, "volume", 1_000_000, "request volume for the cost projection")
	return cmd
}
