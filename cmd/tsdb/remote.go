package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/chronoshard/tsdb/pkg/client"
)

// remoteQueryCmd talks to a running `tsdb start` server over HTTP via
// pkg/client — the remote counterpart to the local create/mrange/mdel/mget
// subcommands, which operate directly on a data directory with no server
// in the loop.
var (
	remoteAddr  string
	remoteStart string
	remoteEnd   string
)

var remoteQueryCmd = &cobra.Command{
	Use:   "remote-query [selector]",
	Short: "Query a running TSDB server over its HTTP API",
	Long: `Query time-series data from a remote TSDB server (started with "tsdb start").

Examples:
  tsdb remote-query 'cpu_usage{host="server1"}'
  tsdb remote-query 'cpu_usage{host="server1"}' --start=-1h --end=now`,
	Args: cobra.ExactArgs(1),
	RunE: runRemoteQuery,
}

func init() {
	remoteQueryCmd.Flags().StringVar(&remoteAddr, "addr", "http://localhost:8080", "TSDB server address")
	remoteQueryCmd.Flags().StringVar(&remoteStart, "start", "", "Start time (enables a range query)")
	remoteQueryCmd.Flags().StringVar(&remoteEnd, "end", "now", "End time (range queries only)")
}

func runRemoteQuery(cmd *cobra.Command, args []string) error {
	selectorStr := args[0]
	c := client.NewClient(remoteAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if remoteStart == "" {
		results, err := c.Query(ctx, selectorStr, time.Now())
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		printRemoteResults(results, false)
		return nil
	}

	start, err := parseTimeOrRelative(remoteStart)
	if err != nil {
		return fmt.Errorf("invalid start time: %w", err)
	}
	end, err := parseTimeOrRelative(remoteEnd)
	if err != nil {
		return fmt.Errorf("invalid end time: %w", err)
	}

	results, err := c.QueryRange(ctx, selectorStr, start, end, time.Minute)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	printRemoteResults(results, true)
	return nil
}

func printRemoteResults(results []client.QueryResult, isRange bool) {
	if len(results) == 0 {
		fmt.Println("No results found")
		return
	}

	fmt.Printf("Results (%d series):\n\n", len(results))
	for i, result := range results {
		fmt.Printf("Series %d:\n", i+1)
		fmt.Printf("  Labels: %s\n", formatLabels(result.Labels))
		if !isRange {
			if len(result.Samples) > 0 {
				s := result.Samples[0]
				fmt.Printf("  Value: %f at %s\n", s.Value, s.Timestamp.Format(time.RFC3339))
			}
			fmt.Println()
			continue
		}
		fmt.Printf("  Samples (%d):\n", len(result.Samples))
		for _, s := range result.Samples {
			fmt.Printf("    %s: %f\n", s.Timestamp.Format(time.RFC3339), s.Value)
		}
		fmt.Println()
	}
}
