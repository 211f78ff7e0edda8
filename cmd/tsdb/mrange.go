package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chronoshard/tsdb/pkg/command"
	"github.com/chronoshard/tsdb/pkg/selector"
	"github.com/chronoshard/tsdb/pkg/tsquery"
)

var (
	mrangeDataDir        string
	mrangeShards         []string
	mrangeStart          string
	mrangeEnd            string
	mrangeCount          int
	mrangeWithLabels     bool
	mrangeSelectedLabels []string
	mrangeFilterValue    []float64
	mrangeFilterTS       []int64
	mrangeAggFunc        string
	mrangeBucketMs       int64
	mrangeAlign          string
	mrangeBucketTS       string
	mrangeEmpty          bool
	mrangeGroupBy        string
	mrangeReduce         string
)

var mrangeCmd = &cobra.Command{
	Use:   "mrange <selector>",
	Short: "Range query over every series matching a selector, oldest first",
	Long: `Run a multi-series range query.

Examples:
  tsdb mrange 'cpu_usage{host="server1"}' --start=-1h --end=now
  tsdb mrange '{region="us-east-1"}' --start=0 --end=9999999999999 --agg=avg --bucket=60000
  tsdb mrange 'cpu_usage' --start=- --end=+ --groupby=region --reduce=sum
  tsdb mrange 'cpu_usage' --start=- --end=+ --shards=localhost:7400,localhost:7401`,
	Args: cobra.ExactArgs(1),
	RunE: runMRange(false),
}

var mrevrangeCmd = &cobra.Command{
	Use:   "mrevrange <selector>",
	Short: "Range query over every series matching a selector, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runMRange(true),
}

func init() {
	for _, c := range []*cobra.Command{mrangeCmd, mrevrangeCmd} {
		c.Flags().StringVar(&mrangeDataDir, "data-dir", "./data", "Data directory path")
		c.Flags().StringSliceVar(&mrangeShards, "shards", nil, "comma-separated shard addresses; fan out instead of opening --data-dir")
		c.Flags().StringVar(&mrangeStart, "start", "-", "Start time (ms, relative -1h, or '-' for earliest stored)")
		c.Flags().StringVar(&mrangeEnd, "end", "+", "End time (ms, 'now', or '+' for latest stored)")
		c.Flags().IntVar(&mrangeCount, "count", 0, "maximum samples per returned series (0 = unlimited)")
		c.Flags().BoolVar(&mrangeWithLabels, "with-labels", true, "include full label sets in output")
		c.Flags().StringSliceVar(&mrangeSelectedLabels, "selected-labels", nil, "project output to these labels only (overrides --with-labels)")
		c.Flags().Float64SliceVar(&mrangeFilterValue, "filter-by-value", nil, "min,max inclusive value filter")
		c.Flags().Int64SliceVar(&mrangeFilterTS, "filter-by-ts", nil, "restrict to exactly these timestamps (ms)")
		c.Flags().StringVar(&mrangeAggFunc, "agg", "", "aggregation function (sum, avg, min, max, count, first, last, var.p, var.s, range, std.p, std.s, rate)")
		c.Flags().Int64Var(&mrangeBucketMs, "bucket", 0, "aggregation bucket duration in milliseconds (required with --agg)")
		c.Flags().StringVar(&mrangeAlign, "align", "", "bucket alignment: start, end, or an absolute timestamp in ms")
		c.Flags().StringVar(&mrangeBucketTS, "bucket-timestamp", "start", "which instant stamps a bucket: start, mid, end")
		c.Flags().BoolVar(&mrangeEmpty, "empty", false, "report empty buckets as NaN instead of skipping them")
		c.Flags().StringVar(&mrangeGroupBy, "groupby", "", "group matched series by this label")
		c.Flags().StringVar(&mrangeReduce, "reduce", "", "reducer applied across a group's series per timestamp (required with --groupby)")
	}
}

func runMRange(reverse bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ms, err := selector.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid selector: %w", err)
		}

		rng, err := parseRangeFlags(mrangeStart, mrangeEnd)
		if err != nil {
			return err
		}

		agg, err := parseAggregateFlags(mrangeAggFunc, mrangeBucketMs, mrangeAlign, mrangeBucketTS, mrangeEmpty)
		if err != nil {
			return err
		}

		group, err := parseGroupFlags(mrangeGroupBy, mrangeReduce)
		if err != nil {
			return err
		}

		filter, err := parseValueFilter(mrangeFilterValue)
		if err != nil {
			return err
		}

		a, c, closeTarget, err := openTarget(mrangeDataDir, mrangeShards)
		if err != nil {
			return err
		}
		defer closeTarget()

		req := command.MRangeRequest{
			Matchers:   ms,
			Range:      rng,
			Filter:     filter,
			Timestamps: mrangeFilterTS,
			WithLabels: mrangeWithLabels,
			Count:      mrangeCount,
			Aggregate:  agg,
			Group:      group,
			Reverse:    reverse,
		}
		if len(mrangeSelectedLabels) > 0 {
			req.WithLabels = false
			req.SelectedLabels = mrangeSelectedLabels
		}

		result, err := dispatchAny(cmd.Context(), a, c, req)
		if err != nil {
			return fmt.Errorf("mrange failed: %w", err)
		}
		resp := result.(command.MRangeResponse)
		printRows(resp.Rows)
		return nil
	}
}

// parseRangeFlags turns CLI start/end strings into a tsquery.Range, honoring
// "-"/"+" as the Earliest/Latest sentinels alongside absolute milliseconds,
// "now", and relative "-1h" offsets.
func parseRangeFlags(startStr, endStr string) (tsquery.Range, error) {
	var rng tsquery.Range

	if startStr == "-" {
		rng.UseEarliest = true
	} else {
		t, err := parseTimeOrRelative(startStr)
		if err != nil {
			return rng, fmt.Errorf("invalid start: %w", err)
		}
		rng.Start = t.UnixMilli()
	}

	if endStr == "+" {
		rng.UseLatest = true
	} else {
		t, err := parseTimeOrRelative(endStr)
		if err != nil {
			return rng, fmt.Errorf("invalid end: %w", err)
		}
		rng.End = t.UnixMilli()
	}

	return rng, nil
}

var aggFuncNames = map[string]tsquery.AggFunc{
	"sum":   tsquery.Sum,
	"avg":   tsquery.Avg,
	"min":   tsquery.Min,
	"max":   tsquery.Max,
	"count": tsquery.Count,
	"first": tsquery.First,
	"last":  tsquery.Last,
	"range": tsquery.RangeFunc,
	"std.p": tsquery.StdDevPop,
	"std.s": tsquery.StdDevSample,
	"var.p": tsquery.VarPop,
	"var.s": tsquery.VarSample,
	"rate":  tsquery.Rate,
}

func parseAggregateFlags(fn string, bucketMs int64, align, bucketTS string, empty bool) (*tsquery.AggregateOptions, error) {
	if fn == "" {
		return nil, nil
	}
	f, ok := aggFuncNames[fn]
	if !ok {
		return nil, fmt.Errorf("unknown aggregation function %q", fn)
	}
	if bucketMs <= 0 {
		return nil, fmt.Errorf("--bucket is required and must be positive when --agg is set")
	}

	opts := &tsquery.AggregateOptions{Func: f, BucketDuration: bucketMs}

	switch align {
	case "", "start":
		opts.Anchor = tsquery.AnchorStart
	case "end":
		opts.Anchor = tsquery.AnchorEnd
	default:
		ts, err := strconv.ParseInt(align, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("--align must be start, end, or a timestamp in ms")
		}
		opts.Anchor = tsquery.AnchorTimestamp
		opts.AnchorTimestamp = ts
	}

	switch bucketTS {
	case "", "start":
		opts.BucketTS = tsquery.BucketStart
	case "mid":
		opts.BucketTS = tsquery.BucketMid
	case "end":
		opts.BucketTS = tsquery.BucketEnd
	default:
		return nil, fmt.Errorf("--bucket-timestamp must be start, mid, or end")
	}

	if empty {
		opts.EmptyPolicy = tsquery.ReportEmpty
	}
	return opts, nil
}

func parseGroupFlags(groupBy, reduce string) (tsquery.GroupBy, error) {
	if groupBy == "" {
		if reduce != "" {
			return tsquery.GroupBy{}, fmt.Errorf("--reduce requires --groupby")
		}
		return tsquery.GroupBy{}, nil
	}
	if reduce == "" {
		return tsquery.GroupBy{}, fmt.Errorf("--groupby requires --reduce")
	}
	r, ok := aggFuncNames[reduce]
	if !ok {
		return tsquery.GroupBy{}, fmt.Errorf("unknown reducer %q", reduce)
	}
	return tsquery.GroupBy{Enabled: true, Name: groupBy, Reducer: r}, nil
}

func parseValueFilter(bounds []float64) (tsquery.ValueFilter, error) {
	if len(bounds) == 0 {
		return tsquery.ValueFilter{}, nil
	}
	if len(bounds) != 2 {
		return tsquery.ValueFilter{}, fmt.Errorf("--filter-by-value needs exactly min,max")
	}
	if bounds[0] > bounds[1] {
		return tsquery.ValueFilter{}, fmt.Errorf("--filter-by-value min must not exceed max")
	}
	return tsquery.ValueFilter{Enabled: true, Min: bounds[0], Max: bounds[1]}, nil
}

func printRows(rows []tsquery.ResultRow) {
	if len(rows) == 0 {
		fmt.Println("No results found")
		return
	}
	fmt.Printf("Results (%d series):\n\n", len(rows))
	for i, row := range rows {
		fmt.Printf("Series %d:\n", i+1)
		fmt.Printf("  Labels: %s\n", formatLabels(row.Labels))
		fmt.Printf("  Samples (%d):\n", len(row.Samples))
		for _, s := range row.Samples {
			fmt.Printf("    %d: %f\n", s.Timestamp, s.Value)
		}
		fmt.Println()
	}
}
