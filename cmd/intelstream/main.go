// Package main provides the intelstream entry point: the enrichment
// server plus administrative subcommands over the cache and record store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "intelstream",
		Short: "Multi-source threat intelligence enrichment pipeline",
		Long: `intelstream looks indicators up across several reputation providers,
normalizes the responses into severity-scored threat records, caches them,
and streams results to observers as they arrive.`,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to config file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newPruneCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newClearCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("intelstream %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		},
	}
}
