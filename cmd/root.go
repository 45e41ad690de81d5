// Package cmd holds the agentgate CLI: serve runs the gateway, card prints
// the agent card, probe exercises a running gateway from outside.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "agentgate",
		Short:   "A2A gateway in front of a Copilot Studio agent",
		Version: version,
	}
	cmd.AddCommand(serveCmd())
	cmd.AddCommand(cardCmd())
	cmd.AddCommand(probeCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
