package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stormqa/stormqa/internal/scenario"
	"github.com/stormqa/stormqa/internal/thresholds"
)

func newThresholdsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thresholds",
		Short: "Work with threshold expressions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check <expression>",
		Short: "Parse a threshold expression and print its rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := thresholds.Parse(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(rules) == 0 {
				fmt.Fprintln(out, "No thresholds: the test always passes.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tMETRIC\tLIMIT")
			for i, r := range rules {
				fmt.Fprintf(w, "%d\t%s\t< %s %s\n", i+1, metricLabel(r), r.Limit, unit(r))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "Canonical: %s\n", thresholds.Compile(rules))
			return nil
		},
	})
	return cmd
}

func metricLabel(r scenario.ThresholdRule) string {
	switch r.Type {
	case scenario.MetricPercentile:
		return "Latency (P" + r.PValue + ")"
	case scenario.MetricAverage:
		return "Avg Latency"
	case scenario.MetricErrorRate:
		return "Error Rate"
	}
	return string(r.Type)
}

func unit(r scenario.ThresholdRule) string {
	if r.Type == scenario.MetricErrorRate {
		return "%"
	}
	return "ms"
}
