package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chronoshard/tsdb/pkg/command"
	"github.com/chronoshard/tsdb/pkg/selector"
)

var (
	mdelDataDir string
	mdelShards  []string
	mdelStart   string
	mdelEnd     string
)

var mdelCmd = &cobra.Command{
	Use:   "mdel <selector>",
	Short: "Delete matched series, or just their samples in a range",
	Long: `Delete data from every series matched by the selector.

With the default full range the matched series are removed entirely, index
entry included. With an explicit --start/--end sub-range only the samples
inside it are removed and the series stay indexed.

Examples:
  tsdb mdel 'cpu_usage{host="server1"}'
  tsdb mdel 'cpu_usage{host="server1"}' --start=0 --end=1700000000000`,
	Args: cobra.ExactArgs(1),
	RunE: runMDel,
}

func init() {
	mdelCmd.Flags().StringVar(&mdelDataDir, "data-dir", "./data", "Data directory path")
	mdelCmd.Flags().StringSliceVar(&mdelShards, "shards", nil, "comma-separated shard addresses; fan out instead of opening --data-dir")
	mdelCmd.Flags().StringVar(&mdelStart, "start", "-", "Start time (ms, relative -1h, or '-' for earliest stored)")
	mdelCmd.Flags().StringVar(&mdelEnd, "end", "+", "End time (ms, 'now', or '+' for latest stored)")
}

func runMDel(cmd *cobra.Command, args []string) error {
	ms, err := selector.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid selector: %w", err)
	}

	rng, err := parseRangeFlags(mdelStart, mdelEnd)
	if err != nil {
		return err
	}

	a, c, closeTarget, err := openTarget(mdelDataDir, mdelShards)
	if err != nil {
		return err
	}
	defer closeTarget()

	req := command.MDelRequest{Matchers: ms, Range: rng}
	result, err := dispatchAny(cmd.Context(), a, c, req)
	if err != nil {
		return fmt.Errorf("mdel failed: %w", err)
	}
	resp := result.(command.MDelResponse)
	if req.FullRange() {
		fmt.Printf("deleted %d series\n", resp.Deleted)
	} else {
		fmt.Printf("deleted samples from %d series\n", resp.Deleted)
	}
	return nil
}
