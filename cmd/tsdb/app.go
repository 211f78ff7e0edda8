package main

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"time"

	"github.com/chronoshard/tsdb/pkg/command"
	"github.com/chronoshard/tsdb/pkg/fanout"
	"github.com/chronoshard/tsdb/pkg/index"
	"github.com/chronoshard/tsdb/pkg/series"
	"github.com/chronoshard/tsdb/pkg/storage"
	"github.com/chronoshard/tsdb/pkg/tsquery"
)

// app wires one local node's worth of the cluster: a storage engine, its
// label index, a range-query engine over both, and a single-shard fan-out
// coordinator dispatching to that one local shard through localTransport.
// This is the "embed a one-shard cluster" shape the command surface is
// built for, scaled down from N real shards to the single process a CLI
// invocation runs in.
type app struct {
	db       *storage.TSDB
	idx      *index.Index
	registry *series.Registry
	exec     *command.Executor
	coord    *fanout.Coordinator
}

func openApp(dataDir string) (*app, error) {
	db, err := storage.Open(storage.DefaultOptions(dataDir))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	idx := index.New()
	registry := series.NewRegistry(series.RegistryConfig{})
	src := storage.NewSource(db, idx)
	engine := tsquery.NewEngine(idx, src, runtime.GOMAXPROCS(0))
	exec := command.NewExecutor(idx, engine, registry).WithRangeDeleter(src)

	a := &app{db: db, idx: idx, registry: registry, exec: exec}
	transport := &localTransport{app: a}
	a.coord = fanout.NewCoordinator(transport, []int{0}, fanout.NewIDGenerator(uint64(time.Now().UnixNano())))
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// handle executes one decoded command request against the in-process
// Executor. It backs both the localTransport used by single-shard CLI
// invocations and the wire server a `serve-shard` process runs.
func (a *app) handle(ctx context.Context, payload any) (any, error) {
	switch r := payload.(type) {
	case command.CreateRequest:
		return a.exec.Create(r)
	case command.MRangeRequest:
		return a.exec.MRange(ctx, r)
	case command.MDelRequest:
		return a.exec.MDel(r)
	case command.MGetRequest:
		return a.exec.MGet(ctx, r)
	case command.QueryIndexRequest:
		return a.exec.QueryIndex(r)
	case command.LabelNamesRequest:
		return a.exec.LabelNames(r)
	case command.LabelValuesRequest:
		return a.exec.LabelValues(r)
	case command.CardinalityRequest:
		return a.exec.Cardinality(r)
	case command.StatsRequest:
		return a.exec.Stats(r)
	default:
		return nil, fmt.Errorf("unsupported request %T", payload)
	}
}

// localTransport is the fake single-shard fanout.ShardTransport backing a
// CLI invocation: "sending" a request to shard 0 just means calling the
// in-process Executor directly, with no network hop.
type localTransport struct {
	app *app
}

func (t *localTransport) Send(ctx context.Context, req fanout.ShardRequest) (fanout.ShardResponse, error) {
	payload, err := t.app.handle(ctx, req.Payload)
	return fanout.ShardResponse{ShardID: req.ShardID, Payload: payload, Err: err}, err
}

// singleMerger collects the lone shard's response a single-shard
// Coordinator ever sees. With one shard there is nothing to fold.
type singleMerger struct {
	resp fanout.ShardResponse
	got  bool
}

func (m *singleMerger) Merge(resp fanout.ShardResponse) {
	m.resp = resp
	m.got = true
}

func (m *singleMerger) Result() (result any, anyShardFailed bool) {
	return m.resp.Payload, m.got && m.resp.Err != nil
}

// dispatch runs req through the coordinator and returns the one shard's
// typed response, surfacing either a transport-level dispatch error or the
// shard's own command error.
func dispatch(ctx context.Context, a *app, req any) (any, error) {
	merger := &singleMerger{}
	result, timedOut, err := a.coord.Dispatch(ctx, req, merger)
	if err != nil {
		return nil, err
	}
	if timedOut {
		return nil, fmt.Errorf("request timed out")
	}
	if merger.resp.Err != nil {
		return nil, merger.resp.Err
	}
	return result, nil
}

// cluster is the multi-shard counterpart of app: instead of opening a local
// data directory it dials the shard addresses given via --shards, fanning
// each request out over the wire codec.
type cluster struct {
	coord *fanout.Coordinator
}

func openCluster(addrs []string) *cluster {
	shardIDs := make([]int, len(addrs))
	for i := range addrs {
		shardIDs[i] = i
	}

	transport := fanout.NewNetTransport(func(ctx context.Context, shardID int) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addrs[shardID])
	})
	return &cluster{coord: fanout.NewCoordinator(transport, shardIDs, fanout.NewIDGenerator(uint64(time.Now().UnixNano())))}
}

// dispatchCluster fans req out to every shard with the merger matching its
// request kind, printing a warning when the reply was assembled from a
// partial shard set.
func dispatchCluster(ctx context.Context, c *cluster, req any) (any, error) {
	var merger fanout.Merger
	switch r := req.(type) {
	case command.MRangeRequest:
		merger = fanout.NewMRangeMerger(r.Group, r.Reverse)
	case command.MDelRequest:
		merger = fanout.NewMDelMerger()
	case command.MGetRequest:
		merger = fanout.NewMGetMerger()
	case command.QueryIndexRequest:
		merger = fanout.NewQueryIndexMerger()
	case command.LabelNamesRequest:
		merger = fanout.NewLabelNamesMerger()
	case command.LabelValuesRequest:
		merger = fanout.NewLabelValuesMerger()
	case command.CardinalityRequest:
		merger = fanout.NewCardinalityMerger(r.Limit)
	case command.StatsRequest:
		merger = fanout.NewStatsMerger()
	default:
		return nil, fmt.Errorf("request %T cannot be fanned out", req)
	}

	result, timedOut, err := c.coord.Dispatch(ctx, req, merger)
	if err != nil {
		return nil, err
	}
	_, anyFailed := merger.Result()
	if timedOut {
		fmt.Println("warning: timed out waiting for shards; result assembled from partial responses")
	} else if anyFailed {
		fmt.Println("warning: one or more shards failed; result may be partial")
	}
	return result, nil
}

// dispatchAny routes req locally when no --shards list was given, remotely
// otherwise. Exactly one of a and c is non-nil.
func dispatchAny(ctx context.Context, a *app, c *cluster, req any) (any, error) {
	if c != nil {
		return dispatchCluster(ctx, c, req)
	}
	return dispatch(ctx, a, req)
}

// openTarget opens either the local data directory or, when shard addresses
// were given, a dialer-backed cluster handle. The returned closer is always
// safe to defer.
func openTarget(dataDir string, shards []string) (*app, *cluster, func(), error) {
	if len(shards) > 0 {
		return nil, openCluster(shards), func() {}, nil
	}
	a, err := openApp(dataDir)
	if err != nil {
		return nil, nil, func() {}, err
	}
	return a, nil, func() { a.Close() }, nil
}
