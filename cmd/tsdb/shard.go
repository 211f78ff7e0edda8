package main

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/chronoshard/tsdb/pkg/wire"
)

var (
	serveShardDataDir string
	serveShardListen  string
)

var serveShardCmd = &cobra.Command{
	Use:   "serve-shard",
	Short: "Serve this node's data as one cluster shard",
	Long: `Run a shard server: accept framed fan-out requests over TCP, execute them
against the local data directory, and reply with framed responses.

A coordinator process reaches it via the --shards flag of mrange, mdel,
mget, and queryindex:

  tsdb serve-shard --data-dir=./shard-0 --listen=:7400
  tsdb serve-shard --data-dir=./shard-1 --listen=:7401
  tsdb mrange 'cpu{region="west"}' --shards=localhost:7400,localhost:7401`,
	Args: cobra.NoArgs,
	RunE: runServeShard,
}

func init() {
	serveShardCmd.Flags().StringVar(&serveShardDataDir, "data-dir", "./data", "Data directory path")
	serveShardCmd.Flags().StringVar(&serveShardListen, "listen", ":7400", "TCP address to listen on")
}

func runServeShard(cmd *cobra.Command, args []string) error {
	a, err := openApp(serveShardDataDir)
	if err != nil {
		return err
	}
	defer a.Close()

	ln, err := net.Listen("tcp", serveShardListen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", serveShardListen, err)
	}

	fmt.Printf("shard serving %s on %s\n", serveShardDataDir, ln.Addr())
	return wire.NewServer(a.handle).Serve(cmd.Context(), ln)
}
