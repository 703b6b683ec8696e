// Package cli implements the taskdb operator command.
package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/triage-ai/taskdb/internal/config"
	"github.com/triage-ai/taskdb/internal/telemetry"
	"go.uber.org/zap"
)

// version can be overridden at build time via:
// go build -ldflags "-X github.com/triage-ai/taskdb/internal/cli.version=1.2.3"
var version = "0.3.0"

type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCmd returns a fresh command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "taskdb",
		Short:         "TaskDB - task event log tooling",
		Long:          color.CyanString("taskdb") + " inspects, migrates and verifies task event stores.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("TASKDB_CONFIG"), "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "diagnostic log level (debug, info, warn, error)")

	cmd.AddCommand(
		newVersionCmd(),
		newMigrateCmd(opts),
		newQueryCmd(opts),
		newTailCmd(opts),
		newCheckCmd(opts),
		newStatsCmd(opts),
		newHashKeyCmd(),
	)
	return cmd
}

// Execute runs the root command and prints any error to stderr.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
	}
	return err
}

func (o *rootOptions) load() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := telemetry.NewLogger(o.logLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "taskdb %s\n", version)
		},
	}
}
