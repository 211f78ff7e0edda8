package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/chronoshard/tsdb/pkg/command"
	"github.com/chronoshard/tsdb/pkg/series"
)

var (
	createDataDir   string
	createLabels    []string
	createRetention int64
	createChunkSize int
)

var createCmd = &cobra.Command{
	Use:   "create <key>",
	Short: "Create a new time series",
	Long: `Register a new time series under an external key, indexed by its labels.

Example:
  tsdb create cpu:server1 --label host=server1 --label region=us-east-1 --retention 86400000`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVar(&createDataDir, "data-dir", "./data", "Data directory path")
	createCmd.Flags().StringArrayVar(&createLabels, "label", nil, "label=value pair; may be repeated")
	createCmd.Flags().Int64Var(&createRetention, "retention", 0, "retention period in milliseconds (0 = none)")
	createCmd.Flags().IntVar(&createChunkSize, "chunk-size", 0, "chunk size in bytes (0 = storage default)")
}

func runCreate(cmd *cobra.Command, args []string) error {
	key := args[0]

	labels, err := parseLabelFlags(createLabels)
	if err != nil {
		return err
	}

	a, err := openApp(createDataDir)
	if err != nil {
		return err
	}
	defer a.Close()

	req := command.CreateRequest{
		Key:       series.ExternalKey(key),
		Labels:    labels,
		Retention: createRetention,
		ChunkSize: createChunkSize,
	}

	result, err := dispatch(cmd.Context(), a, req)
	if err != nil {
		return fmt.Errorf("create failed: %w", err)
	}
	resp := result.(command.CreateResponse)
	fmt.Printf("created series id=%d\n", resp.ID)
	return nil
}

// parseLabelFlags parses a list of "name=value" strings into a label map.
func parseLabelFlags(flags []string) (map[string]string, error) {
	labels := make(map[string]string, len(flags))
	for _, f := range flags {
		name, value, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --label %q: expected name=value", f)
		}
		labels[name] = value
	}
	return labels, nil
}
