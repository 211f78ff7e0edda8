package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/chronoshard/tsdb/pkg/command"
	"github.com/chronoshard/tsdb/pkg/selector"
)

var (
	mgetDataDir        string
	mgetWithLabels     bool
	mgetSelectedLabels []string
	mgetShards         []string
)

var mgetCmd = &cobra.Command{
	Use:   "mget <selector>",
	Short: "Fetch the latest sample of every series matching a selector",
	Long: `Return the single most recent sample for every series matched by selector.

Example:
  tsdb mget 'cpu_usage{host="server1"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runMGet,
}

func init() {
	mgetCmd.Flags().StringVar(&mgetDataDir, "data-dir", "./data", "Data directory path")
	mgetCmd.Flags().BoolVar(&mgetWithLabels, "with-labels", true, "include full label sets in output")
	mgetCmd.Flags().StringSliceVar(&mgetSelectedLabels, "selected-labels", nil, "project output to these labels only (overrides --with-labels)")
	mgetCmd.Flags().StringSliceVar(&mgetShards, "shards", nil, "comma-separated shard addresses; fan out instead of opening --data-dir")
}

func runMGet(cmd *cobra.Command, args []string) error {
	ms, err := selector.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid selector: %w", err)
	}

	a, c, closeTarget, err := openTarget(mgetDataDir, mgetShards)
	if err != nil {
		return err
	}
	defer closeTarget()

	req := command.MGetRequest{Matchers: ms, WithLabels: mgetWithLabels}
	if len(mgetSelectedLabels) > 0 {
		req.WithLabels = false
		req.SelectedLabels = mgetSelectedLabels
	}
	result, err := dispatchAny(cmd.Context(), a, c, req)
	if err != nil {
		return fmt.Errorf("mget failed: %w", err)
	}
	resp := result.(command.MGetResponse)

	if len(resp.Items) == 0 {
		fmt.Println("No results found")
		return nil
	}
	for i, item := range resp.Items {
		fmt.Printf("Series %d:\n", i+1)
		fmt.Printf("  Labels: %s\n", formatLabels(item.Labels))
		if item.Found {
			fmt.Printf("  Latest: %d: %f\n", item.Sample.Timestamp, item.Sample.Value)
		} else {
			fmt.Println("  Latest: (no samples)")
		}
		fmt.Println()
	}
	return nil
}
