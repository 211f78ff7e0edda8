// Package fanout implements the cluster fan-out coordinator: dispatching a
// request to every shard, tracking partial responses, and merging them into
// a single reply, driven by a per-request state machine
// (Init -> Dispatched -> Collecting -> {Completed|Cancelled}).
package fanout

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chronoshard/tsdb/pkg/observability"
)

// State is a fan-out request's lifecycle stage.
type State int

const (
	Init State = iota
	Dispatched
	Collecting
	Completed
	Cancelled
)

// RequestID uniquely identifies one fan-out request.
type RequestID uint64

// IDGenerator allocates monotonically increasing RequestIDs from an
// externally supplied seed, since this package's construction must stay
// deterministic: no time.Now()/rand call is made internally. Callers seed
// it from their own clock, or from a monotonic entropy source such as
// oklog/ulid's, already used elsewhere in this module for block IDs.
type IDGenerator struct {
	counter atomic.Uint64
}

// NewIDGenerator seeds the generator so the first allocated ID is seed+1.
func NewIDGenerator(seed uint64) *IDGenerator {
	g := &IDGenerator{}
	g.counter.Store(seed)
	return g
}

// Next allocates the next RequestID.
func (g *IDGenerator) Next() RequestID {
	return RequestID(g.counter.Add(1))
}

// ShardRequest is an opaque request payload sent to one shard.
type ShardRequest struct {
	ShardID int
	Payload any
}

// ShardResponse is an opaque response payload received from one shard.
type ShardResponse struct {
	ShardID int
	Payload any
	Err     error
}

// ShardTransport sends a request to a single shard and waits for its
// response.
type ShardTransport interface {
	Send(ctx context.Context, req ShardRequest) (ShardResponse, error)
}

// Merger folds arriving shard responses into a running result. Each
// request kind (mget, mrange, mdel, label values, label names,
// cardinality, stats) supplies its own Merger.
type Merger interface {
	// Merge folds one shard's response into the running result.
	Merge(resp ShardResponse)
	// Result returns the merged result so far, and whether any shard
	// failed (used to attach a PartialFailure marker on timeout).
	Result() (result any, anyShardFailed bool)
}

// Tracker holds the state for one in-flight fan-out request.
type Tracker struct {
	mu     sync.Mutex
	state  State
	merger Merger
	want   int
	got    int
	done   bool
}

func newTracker(merger Merger, shardCount int) *Tracker {
	return &Tracker{state: Dispatched, merger: merger, want: shardCount}
}

// State returns the tracker's current lifecycle state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// accept folds resp into the tracker if the request is not already done,
// returning whether the merge was applied.
func (t *Tracker) accept(resp ShardResponse) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return false // late response after Completed/Cancelled: dropped
	}

	t.state = Collecting
	t.merger.Merge(resp)
	t.got++
	if t.got >= t.want {
		t.state = Completed
		t.done = true
	}
	return true
}

// finish marks the tracker done (Completed on normal drain, Cancelled on
// timeout/cancellation) and returns the merged result.
func (t *Tracker) finish(cancelled bool) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cancelled && t.state != Completed {
		t.state = Cancelled
	}
	t.done = true
	return t.merger.Result()
}

// Coordinator dispatches fan-out requests across shards and tracks their
// responses in a sync.Map: the tracker table is dominated by concurrent
// reads against a stable key set per request, which is sync.Map's
// documented sweet spot.
type Coordinator struct {
	transport ShardTransport
	shardIDs  []int
	ids       *IDGenerator
	trackers  sync.Map // RequestID -> *Tracker
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewCoordinator returns a Coordinator fanning out over shardIDs via
// transport.
func NewCoordinator(transport ShardTransport, shardIDs []int, ids *IDGenerator) *Coordinator {
	return &Coordinator{
		transport: transport,
		shardIDs:  shardIDs,
		ids:       ids,
		logger:    observability.GetDefaultLogger(),
		metrics:   observability.GetGlobalMetrics(),
	}
}

// WithLogger overrides the coordinator's logger, used by callers embedding
// this module in a host with its own structured-logging setup.
func (c *Coordinator) WithLogger(logger *slog.Logger) *Coordinator {
	c.logger = logger
	return c
}

// WithMetrics overrides the coordinator's metrics sink.
func (c *Coordinator) WithMetrics(m *observability.Metrics) *Coordinator {
	c.metrics = m
	return c
}

// Dispatch sends payload to every shard, merges responses with merger as
// they arrive, and returns the merged result. If ctx is cancelled or its
// deadline elapses before every shard has responded, Dispatch returns the
// partial result merged so far with timedOut set. Whether any shard failed
// is reported by merger.Result().
func (c *Coordinator) Dispatch(ctx context.Context, payload any, merger Merger) (result any, timedOut bool, err error) {
	reqID := c.ids.Next()
	tracker := newTracker(merger, len(c.shardIDs))
	c.trackers.Store(reqID, tracker)
	defer c.trackers.Delete(reqID)

	start := time.Now()
	observability.LogFanoutDispatch(c.logger, uint64(reqID), len(c.shardIDs))
	c.metrics.RecordFanoutDispatch(len(c.shardIDs))

	g, gctx := errgroup.WithContext(ctx)
	for _, shardID := range c.shardIDs {
		shardID := shardID
		g.Go(func() error {
			resp, sendErr := c.transport.Send(gctx, ShardRequest{ShardID: shardID, Payload: payload})
			if sendErr != nil {
				resp = ShardResponse{ShardID: shardID, Err: sendErr}
			}
			tracker.accept(resp)
			return nil // shard-level errors attach to the partial reply, never abort the request
		})
	}

	waitErr := g.Wait()
	timedOut = waitErr != nil || ctx.Err() != nil
	result, anyShardFailed := tracker.finish(timedOut)
	observability.LogFanoutCollected(c.logger, uint64(reqID), timedOut, anyShardFailed, time.Since(start))
	c.metrics.RecordFanoutOutcome(timedOut, anyShardFailed)
	return result, timedOut, nil
}

// Lookup returns the tracker for an in-flight request, if any — used by a
// NetTransport handling out-of-band late responses.
func (c *Coordinator) Lookup(id RequestID) (*Tracker, bool) {
	v, ok := c.trackers.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Tracker), true
}
