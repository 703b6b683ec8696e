package cli

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/triage-ai/taskdb/internal/dualwrite"
	"github.com/triage-ai/taskdb/internal/factory"
	"github.com/triage-ai/taskdb/internal/storage"
	"github.com/triage-ai/taskdb/internal/taskdb"
)

var errInconsistent = errors.New("dual backends differ")

func newCheckCmd(root *rootOptions) *cobra.Command {
	var ff filterFlags
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare the two dual-write backends",
		Long: "Compares the total event counts of dual.primary and dual.secondary, then\n" +
			"queries both with the same filter and reports events present on only one\n" +
			"side of that window. Exits non-zero when they differ.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx := cmd.Context()
			primary, err := factory.OpenBackend(ctx, cfg, cfg.Dual.Primary, logger)
			if err != nil {
				return fmt.Errorf("open primary: %w", err)
			}
			defer primary.Close()
			secondary, err := factory.OpenBackend(ctx, cfg, cfg.Dual.Secondary, logger)
			if err != nil {
				return fmt.Errorf("open secondary: %w", err)
			}
			defer secondary.Close()

			out := cmd.OutOrStdout()
			consistent := true
			pc, pok := primary.(storage.Counter)
			sc, sok := secondary.(storage.Counter)
			if pok && sok {
				pn, err := pc.Count(ctx)
				if err != nil {
					return fmt.Errorf("count primary: %w", err)
				}
				sn, err := sc.Count(ctx)
				if err != nil {
					return fmt.Errorf("count secondary: %w", err)
				}
				fmt.Fprintf(out, "Total primary:     %d\n", pn)
				fmt.Fprintf(out, "Total secondary:   %d\n", sn)
				if delta := pn - sn; delta != 0 {
					consistent = false
					fmt.Fprintf(out, "Count delta:       %s\n", color.RedString("%+d", delta))
				}
			}

			f := ff.filter()
			p, err := primary.Query(ctx, f, ff.limit)
			if err != nil {
				return fmt.Errorf("query primary: %w", err)
			}
			s, err := secondary.Query(ctx, f, ff.limit)
			if err != nil {
				return fmt.Errorf("query secondary: %w", err)
			}

			diff := dualwrite.Compare(p, s)
			fmt.Fprintf(out, "Primary (%s):   %d events\n", cfg.Dual.Primary, len(p))
			fmt.Fprintf(out, "Secondary (%s): %d events\n", cfg.Dual.Secondary, len(s))
			if consistent && diff.Equal() {
				fmt.Fprintln(out, color.GreenString("✓ consistent"))
				return nil
			}
			if !diff.Equal() {
				fmt.Fprintf(out, "Only in primary:   %s\n", color.RedString("%d", diff.OnlyPrimary))
				fmt.Fprintf(out, "Only in secondary: %s\n", color.RedString("%d", diff.OnlySecondary))
			}
			return errInconsistent
		},
	}
	ff.register(cmd, taskdb.DefaultQueryLimit)
	return cmd
}
