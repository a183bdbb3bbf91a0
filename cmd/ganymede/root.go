package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "ganymede",
	Short: "Ganymede - multi-account chat completion proxy",
	Long: `Ganymede is an API proxy that accepts chat requests in the Anthropic
messages format and serves them from a pool of Cloud Code accounts,
translating requests and responses in both directions.

It provides:
  - Account pooling with sticky, round-robin, and hybrid selection
  - Per-account, per-model rate-limit tracking with cooldowns
  - Reasoning-signature preservation across multi-turn tool loops
  - SSE streaming relay and an OpenAI-compatible surface`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.json", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
