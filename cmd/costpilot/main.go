package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "costpilot",
		Short:   "CostPilot — hybrid LLM inference cost router",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newReportCmd(),
		newAuditCmd(),
		newLoadtestCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
