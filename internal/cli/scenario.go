package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stormqa/stormqa/internal/codec"
	"github.com/stormqa/stormqa/internal/scenario"
	"github.com/stormqa/stormqa/internal/thresholds"
)

func newScenarioCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Create, inspect and validate .sqa scenarios",
	}
	cmd.AddCommand(
		newScenarioInitCommand(opts),
		newScenarioShowCommand(),
		newScenarioValidateCommand(),
	)
	return cmd
}

func newScenarioInitCommand(opts *globalOptions) *cobra.Command {
	var (
		url     string
		method  string
		expr    string
		headers string
		body    string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "init <file.sqa>",
		Short: "Write a new scenario with default settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := withExtension(args[0])
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
			}

			cfg := scenario.NewScenarioConfig()
			cfg.TargetURL = url
			cfg.SetMethod(method)
			if expr != "" {
				rules, err := thresholds.Parse(expr)
				if err != nil {
					return err
				}
				cfg.Thresholds = rules
			}
			if cmd.Flags().Changed("headers") {
				if err := cfg.SetHeadersText(headers); err != nil {
					return err
				}
			}
			if err := cfg.SetBodyText(body); err != nil {
				return err
			}

			if err := codec.SaveFile(path, cfg); err != nil {
				return err
			}
			opts.logger.LogScenarioSaved(path)
			fmt.Fprintf(cmd.OutOrStdout(), "Saved to: %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "target URL")
	cmd.Flags().StringVar(&method, "method", "GET", "HTTP method: GET, POST, PUT, DELETE")
	cmd.Flags().StringVar(&expr, "thresholds", "", `threshold expression, e.g. "p95<500, error<1"`)
	cmd.Flags().StringVar(&headers, "headers", "", `request headers as a JSON object, e.g. '{"Accept": "*/*"}'`)
	cmd.Flags().StringVar(&body, "body", "", "request body as JSON")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newScenarioShowCommand() *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "show <file.sqa>",
		Short: "Print a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := codec.LoadFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asYAML {
				doc, err := codec.Export(cfg)
				if err != nil {
					return err
				}
				text, err := documentYAML(doc)
				if err != nil {
					return err
				}
				_, err = out.Write(text)
				return err
			}
			printScenario(cmd, cfg)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print the document as YAML")
	return cmd
}

func newScenarioValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file.sqa>",
		Short: "Check a scenario is ready to run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := codec.LoadFile(args[0])
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if _, err := codec.Export(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
			return nil
		},
	}
}

func printScenario(cmd *cobra.Command, cfg scenario.ScenarioConfig) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", cfg.HTTPMethod, cfg.TargetURL)
	for i, s := range cfg.Steps {
		fmt.Fprintf(out, "  step %d: %d users for %ds (ramp %ds, think %.1fs, jitter %d%%)\n",
			i+1, s.Users, s.DurationS, s.RampS, s.ThinkS, s.JitterPct)
	}
	if expr := thresholds.Compile(cfg.Thresholds); expr != "" {
		fmt.Fprintf(out, "  thresholds: %s\n", expr)
	}
	if cfg.Chaos.Enabled {
		fmt.Fprintf(out, "  chaos: %s at %d%%\n", cfg.Chaos.FaultType, cfg.Chaos.InjectionRatePct)
	}
	if cfg.ExtractionRule != "" {
		fmt.Fprintf(out, "  extract: %s\n", cfg.ExtractionRule)
	}
	if cfg.DataSource != "" {
		fmt.Fprintf(out, "  data file: %s\n", cfg.DataSource)
	}
}

// documentYAML renders doc as block YAML, keeping the JSON field order.
func documentYAML(doc codec.Document) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("convert document: %w", err)
	}
	clearStyle(&node)
	return yaml.Marshal(&node)
}

func clearStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		clearStyle(c)
	}
}

func withExtension(path string) string {
	if strings.EqualFold(filepath.Ext(path), codec.FileExtension) {
		return path
	}
	return path + codec.FileExtension
}
