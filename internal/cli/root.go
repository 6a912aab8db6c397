// Package cli implements the coordinator's command-line interface
// using Cobra. Each subcommand maps to a daemon lifecycle operation.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "coordinatord",
	Short: "coordinatord — decentralized verifiable-computation coordinator",
	Long: `coordinatord is the control plane for a decentralized compute network.
It registers compute nodes, admits and assigns tasks, intakes results,
verifies proofs, and sweeps silent nodes and expired sessions.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
