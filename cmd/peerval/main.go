// Package main provides the peerval command: the peer-validation service and
// its operational subcommands.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var flagDebug bool

var rootCmd = &cobra.Command{
	Use:           "peerval",
	Short:         "peer-validation engine: rotation rings, quorum voting and validator performance",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRun: func(*cobra.Command, []string) {
		// Try to load .env from CWD if present; otherwise use environment as-is
		if _, statErr := os.Stat(".env"); statErr == nil {
			_ = godotenv.Load(".env")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging (overrides DEBUG)")
	rootCmd.AddCommand(serveCmd, migrateCmd, buildRingCmd, scanCmd, monitorCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
