package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/chronoshard/tsdb/pkg/command"
	"github.com/chronoshard/tsdb/pkg/selector"
)

var (
	queryIndexDataDir string
	queryIndexShards  []string
)

var queryIndexCmd = &cobra.Command{
	Use:   "queryindex <selector>",
	Short: "Resolve a selector to the external keys of matching series",
	Long: `Touch only the label index: list the external keys of every series
matched by selector, without reading any samples.

Example:
  tsdb queryindex '{region="us-east-1"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runQueryIndex,
}

func init() {
	queryIndexCmd.Flags().StringVar(&queryIndexDataDir, "data-dir", "./data", "Data directory path")
	queryIndexCmd.Flags().StringSliceVar(&queryIndexShards, "shards", nil, "comma-separated shard addresses; fan out instead of opening --data-dir")
}

func runQueryIndex(cmd *cobra.Command, args []string) error {
	ms, err := selector.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid selector: %w", err)
	}

	a, c, closeTarget, err := openTarget(queryIndexDataDir, queryIndexShards)
	if err != nil {
		return err
	}
	defer closeTarget()

	result, err := dispatchAny(cmd.Context(), a, c, command.QueryIndexRequest{Matchers: ms})
	if err != nil {
		return fmt.Errorf("queryindex failed: %w", err)
	}
	resp := result.(command.QueryIndexResponse)

	fmt.Printf("Keys (%d):\n", len(resp.Keys))
	for _, key := range resp.Keys {
		fmt.Printf("  %s\n", key.String())
	}
	return nil
}
