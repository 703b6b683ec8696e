package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/triage-ai/taskdb/internal/config"
	"github.com/triage-ai/taskdb/internal/factory"
	"github.com/triage-ai/taskdb/internal/migrate"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	var (
		pgURL     string
		target    string
		pattern   string
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "migrate [files...]",
		Short: "Backfill NDJSON event files into the server-backed store",
		Long: "Reads NDJSON event files (by default every fallback file) and bulk-inserts\n" +
			"them into the target store. Malformed lines are skipped and counted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			d, err := config.ParseDriver(target)
			if err != nil {
				return err
			}
			if pgURL != "" {
				cfg.Postgres.URL = pgURL
			}
			if pattern == "" {
				pattern = cfg.Failover.FallbackPattern
			}

			files, err := migrate.ResolveFiles(args, pattern)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), color.YellowString("No files to migrate."))
				return nil
			}

			store, err := factory.OpenBackend(cmd.Context(), cfg, d, logger)
			if err != nil {
				return fmt.Errorf("open %s: %w", d, err)
			}
			defer store.Close()

			job := &migrate.Job{Target: store, BatchSize: batchSize, Logger: logger}
			rep, runErr := job.Run(cmd.Context(), files)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Files:    %d\n", rep.Files)
			fmt.Fprintf(out, "Total:    %d\n", rep.Total)
			fmt.Fprintf(out, "Migrated: %s\n", color.GreenString("%d", rep.Migrated))
			fmt.Fprintf(out, "Skipped:  %s\n", color.YellowString("%d", rep.Skipped))
			if rep.FailedBatches > 0 {
				fmt.Fprintf(out, "Failed batches: %s\n", color.RedString("%d", rep.FailedBatches))
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&pgURL, "pg-url", "", "Postgres connection URL (overrides postgres.url)")
	cmd.Flags().StringVar(&target, "target", "server-sql", "target driver")
	cmd.Flags().StringVar(&pattern, "pattern", "", "file pattern to glob when no files are given (default failover.fallback_pattern)")
	cmd.Flags().IntVar(&batchSize, "batch-size", migrate.DefaultBatchSize, "events per bulk insert")
	return cmd
}
