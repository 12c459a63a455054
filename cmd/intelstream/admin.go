package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"intelstream/internal/cache"
	"intelstream/internal/config"
	"intelstream/internal/observability"
	"intelstream/internal/store"
)

// adminSetup loads config and builds a logger for the one-shot commands.
func adminSetup() (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing logger: %w", err)
	}
	return cfg, logger, nil
}

func newPruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete stale enrichment cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := adminSetup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if olderThan <= 0 {
				olderThan = cfg.Cache.Duration
			}

			store := cache.NewSQLiteStore(cfg.Cache.Path, cfg.Cache.Duration, logger)
			removed, err := store.Prune(context.Background(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d cache entries older than %s\n", removed, olderThan)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age cutoff (default: configured cache duration)")
	return cmd
}

func newExportCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the threat record collection as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := adminSetup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			threats, err := store.Open(cfg.Store.Path, logger)
			if err != nil {
				return err
			}
			defer threats.Close()

			out := os.Stdout
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("creating export file: %w", err)
				}
				defer f.Close()
				out = f
			}
			return threats.ExportCSV(context.Background(), out)
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Output file (default: stdout)")
	return cmd
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-db",
		Short: "Delete every threat record",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := adminSetup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			threats, err := store.Open(cfg.Store.Path, logger)
			if err != nil {
				return err
			}
			defer threats.Close()

			deleted, err := threats.DeleteAll(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d threat records\n", deleted)
			return nil
		},
	}
}
