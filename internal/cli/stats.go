package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/triage-ai/taskdb/internal/factory"
	"github.com/triage-ai/taskdb/internal/storage"
)

var errNoAnalytics = errors.New("stats needs the clickhouse driver (or a clickhouse dual primary)")

func newStatsCmd(root *rootOptions) *cobra.Command {
	var (
		days   int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarise recent events: status counts, top kinds, failing components, latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be at least 1, got %d", days)
			}
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			cfg.Queue.Enabled = false
			chain, err := factory.Build(cmd.Context(), cfg, factory.Options{Logger: logger})
			if err != nil {
				return err
			}
			defer chain.Close()
			if chain.Analytics == nil {
				return errNoAnalytics
			}

			a, err := chain.Analytics.Analytics(cmd.Context(), time.Now().AddDate(0, 0, -days))
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(a)
			}
			printAnalytics(cmd.OutOrStdout(), a)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "look-back window in days")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	return cmd
}

func printAnalytics(w io.Writer, a *storage.Analytics) {
	s := a.Summary
	fmt.Fprintf(w, "Since %s\n", dimColor.Sprint(a.Since.Format(time.RFC3339)))
	fmt.Fprintf(w, "Events: %d  %s  %s  %s\n", s.Total,
		okColor.Sprintf("ok=%d", s.OK),
		failColor.Sprintf("fail=%d", s.Fail),
		skipColor.Sprintf("skip=%d", s.Skip),
	)
	fmt.Fprintf(w, "Duration ms: p50=%.0f p95=%.0f p99=%.0f\n", a.Duration.P50, a.Duration.P95, a.Duration.P99)

	if len(a.TopKinds) > 0 {
		fmt.Fprintln(w, "Top kinds:")
		for _, k := range a.TopKinds {
			fmt.Fprintf(w, "  %-18s %d\n", k.Kind, k.Count)
		}
	}
	if len(a.FailingComponents) > 0 {
		fmt.Fprintln(w, "Failing components:")
		for _, c := range a.FailingComponents {
			fmt.Fprintf(w, "  %-18s %s\n", c.Component, failColor.Sprint(c.Failures))
		}
	}
}
