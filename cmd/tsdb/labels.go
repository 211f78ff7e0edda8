package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chronoshard/tsdb/pkg/command"
	"github.com/chronoshard/tsdb/pkg/matcher"
	"github.com/chronoshard/tsdb/pkg/selector"
)

// Index-introspection subcommands: label names, label values, top-k
// cardinality, and scalar stats, each runnable against the local data
// directory or fanned out across --shards like the query commands.
var (
	labelsDataDir    string
	labelsShards     []string
	labelValuesFor   string
	cardinalityFocus string
	cardinalityLimit int
)

var labelNamesCmd = &cobra.Command{
	Use:   "labelnames",
	Short: "List every label name present in the index",
	Args:  cobra.NoArgs,
	RunE:  runLabelNames,
}

var labelValuesCmd = &cobra.Command{
	Use:   "labelvalues <label>",
	Short: "List the values of one label",
	Long: `List every indexed value of a label, optionally restricted to the series
matched by a selector.

Examples:
  tsdb labelvalues host
  tsdb labelvalues host --filter='cpu_usage{region="west"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runLabelValues,
}

var cardinalityCmd = &cobra.Command{
	Use:   "cardinality",
	Short: "Rank label-value pairs by how many series carry them",
	Args:  cobra.NoArgs,
	RunE:  runCardinality,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report scalar index counters (series, labels)",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	for _, c := range []*cobra.Command{labelNamesCmd, labelValuesCmd, cardinalityCmd, statsCmd} {
		c.Flags().StringVar(&labelsDataDir, "data-dir", "./data", "Data directory path")
		c.Flags().StringSliceVar(&labelsShards, "shards", nil, "comma-separated shard addresses; fan out instead of opening --data-dir")
	}
	labelValuesCmd.Flags().StringVar(&labelValuesFor, "filter", "", "selector restricting which series contribute values")
	cardinalityCmd.Flags().StringVar(&cardinalityFocus, "focus", "", "restrict the ranking to one label's values")
	cardinalityCmd.Flags().IntVar(&cardinalityLimit, "limit", 10, "how many entries to report")
}

func runLabelNames(cmd *cobra.Command, args []string) error {
	a, c, closeTarget, err := openTarget(labelsDataDir, labelsShards)
	if err != nil {
		return err
	}
	defer closeTarget()

	result, err := dispatchAny(cmd.Context(), a, c, command.LabelNamesRequest{})
	if err != nil {
		return fmt.Errorf("labelnames failed: %w", err)
	}
	resp := result.(command.LabelNamesResponse)
	for _, name := range resp.Names {
		fmt.Println(name)
	}
	return nil
}

func runLabelValues(cmd *cobra.Command, args []string) error {
	var ms matcher.Matchers
	if labelValuesFor != "" {
		parsed, err := selector.Parse(labelValuesFor)
		if err != nil {
			return fmt.Errorf("invalid --filter selector: %w", err)
		}
		ms = parsed
	}

	a, c, closeTarget, err := openTarget(labelsDataDir, labelsShards)
	if err != nil {
		return err
	}
	defer closeTarget()

	result, err := dispatchAny(cmd.Context(), a, c, command.LabelValuesRequest{Name: args[0], Matchers: ms})
	if err != nil {
		return fmt.Errorf("labelvalues failed: %w", err)
	}
	resp := result.(command.LabelValuesResponse)
	for _, value := range resp.Values {
		fmt.Println(value)
	}
	return nil
}

func runCardinality(cmd *cobra.Command, args []string) error {
	a, c, closeTarget, err := openTarget(labelsDataDir, labelsShards)
	if err != nil {
		return err
	}
	defer closeTarget()

	result, err := dispatchAny(cmd.Context(), a, c, command.CardinalityRequest{FocusLabel: cardinalityFocus, Limit: cardinalityLimit})
	if err != nil {
		return fmt.Errorf("cardinality failed: %w", err)
	}
	resp := result.(command.CardinalityResponse)
	for _, entry := range resp.Entries {
		fmt.Printf("%s=%s\t%d\n", entry.Name, entry.Value, entry.Cardinality)
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	a, c, closeTarget, err := openTarget(labelsDataDir, labelsShards)
	if err != nil {
		return err
	}
	defer closeTarget()

	result, err := dispatchAny(cmd.Context(), a, c, command.StatsRequest{})
	if err != nil {
		return fmt.Errorf("stats failed: %w", err)
	}
	resp := result.(command.StatsResponse)
	fmt.Printf("series: %d\n", resp.Totals["series"])
	fmt.Printf("labels: %d\n", resp.Totals["labels"])
	return nil
}
