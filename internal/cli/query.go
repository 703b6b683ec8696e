package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"github.com/triage-ai/taskdb/internal/factory"
	"github.com/triage-ai/taskdb/internal/taskdb"
)

type filterFlags struct {
	id, traceID, runID, taskID, spanID string
	kind, status, component            string
	limit                              int
}

// register adds the filter flags; a negative defaultLimit omits --limit.
func (f *filterFlags) register(cmd *cobra.Command, defaultLimit int) {
	cmd.Flags().StringVar(&f.id, "id", "", "event id")
	cmd.Flags().StringVar(&f.traceID, "trace-id", "", "trace id")
	cmd.Flags().StringVar(&f.runID, "run-id", "", "run id")
	cmd.Flags().StringVar(&f.taskID, "task-id", "", "task id")
	cmd.Flags().StringVar(&f.spanID, "span-id", "", "span id")
	cmd.Flags().StringVar(&f.kind, "kind", "", "event kind, e.g. tool.start")
	cmd.Flags().StringVar(&f.status, "status", "", "ok, fail or skip")
	cmd.Flags().StringVar(&f.component, "component", "", "component")
	if defaultLimit >= 0 {
		cmd.Flags().IntVar(&f.limit, "limit", defaultLimit, "maximum number of events")
	}
}

func (f *filterFlags) filter() taskdb.Filter {
	return taskdb.Filter{
		ID:        f.id,
		TraceID:   f.traceID,
		RunID:     f.runID,
		TaskID:    f.taskID,
		SpanID:    f.spanID,
		Kind:      taskdb.Kind(f.kind),
		Status:    taskdb.Status(f.status),
		Component: f.component,
	}
}

func newQueryCmd(root *rootOptions) *cobra.Command {
	var (
		ff     filterFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print events from the configured store, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			// Reads only; nothing to batch.
			cfg.Queue.Enabled = false
			chain, err := factory.Build(cmd.Context(), cfg, factory.Options{Logger: logger})
			if err != nil {
				return err
			}
			defer chain.Close()

			events, err := chain.Adapter.Query(cmd.Context(), ff.filter(), ff.limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				for _, ev := range events {
					if err := enc.Encode(ev); err != nil {
						return err
					}
				}
				return nil
			}
			for _, ev := range events {
				printEvent(out, ev)
			}
			return nil
		},
	}
	ff.register(cmd, 50)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print NDJSON instead of text")
	return cmd
}
