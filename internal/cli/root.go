// Package cli implements the stormqa command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/stormqa/stormqa/internal/config"
	"github.com/stormqa/stormqa/internal/events"
)

// Version is set at build time.
var Version = "dev"

// globalOptions are shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *events.EventLogger
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "stormqa",
		Short: "Define load-test scenarios and drive test runs",
		Long: `stormqa edits portable .sqa scenarios, checks threshold expressions
and drives a test run against a load engine, showing live telemetry and the
pass/fail summary.

Examples:
  # Create a scenario for an endpoint
  stormqa scenario init orders.sqa --url https://api.example.com/orders

  # Check a threshold expression
  stormqa thresholds check "p95<500, error<1"

  # Replay a recorded engine script against a scenario
  stormqa run orders.sqa --script run.jsonl`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default ./stormqa.yaml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: json, console")

	root.AddCommand(
		newThresholdsCommand(),
		newScenarioCommand(opts),
		newRunCommand(opts),
	)
	return root
}

func (o *globalOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfg = cfg

	o.logger = events.NewEventLogger(cfg.Logging.Level, cfg.Logging.Format)
	events.SetGlobalEventLogger(o.logger)
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}
