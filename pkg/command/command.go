// Package command defines the typed request/response surface for the
// command table (CREATE, MRANGE/MREVRANGE, MDEL, MGET, QUERYINDEX) and an
// Executor that binds an index, a range-query engine, and an ID allocator
// together to run each command end to end. pkg/selector and pkg/wire both
// hand their parsed requests to this package; cmd/tsdb's CLI builds
// requests directly.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chronoshard/tsdb/pkg/index"
	"github.com/chronoshard/tsdb/pkg/matcher"
	"github.com/chronoshard/tsdb/pkg/observability"
	"github.com/chronoshard/tsdb/pkg/series"
	"github.com/chronoshard/tsdb/pkg/tsdberr"
	"github.com/chronoshard/tsdb/pkg/tsquery"
)

// CreateRequest is a CREATE command: register a new series under key,
// indexed by its labels. Retention/ChunkSize are validated here but are a
// hint to the host storage engine, which this package does not implement.
type CreateRequest struct {
	Key       series.ExternalKey
	Labels    map[string]string
	Retention int64 // ms; 0 means no retention policy
	ChunkSize int   // bytes; 0 means use the store's default
}

// Validate checks CreateRequest's argument constraints.
func (r CreateRequest) Validate() error {
	if len(r.Key) == 0 {
		return tsdberr.New(tsdberr.ArgumentError, "CREATE requires a key")
	}
	if r.ChunkSize != 0 {
		if err := ValidateChunkSize(r.ChunkSize); err != nil {
			return err
		}
	}
	if r.Retention < 0 {
		return tsdberr.New(tsdberr.ArgumentError, "RETENTION cannot be negative")
	}
	return nil
}

// CreateResponse is CREATE's reply.
type CreateResponse struct {
	ID series.SeriesID
}

// MRangeRequest is a MRANGE (Reverse=false) / MREVRANGE (Reverse=true)
// command.
type MRangeRequest struct {
	Matchers       matcher.Matchers
	Range          tsquery.Range
	Filter         tsquery.ValueFilter
	Timestamps     []int64 // FILTER_BY_TS; nil means unrestricted
	WithLabels     bool
	SelectedLabels []string // ignored when WithLabels is true
	Count          int      // maximum samples per returned series; 0 means unlimited
	Aggregate      *tsquery.AggregateOptions
	Group          tsquery.GroupBy
	Reverse        bool
}

// maxFilterByTS bounds how many explicit FILTER_BY_TS values one request
// may carry; beyond it the request is rejected as ResourceExhausted rather
// than building an unbounded per-iterator timestamp set.
const maxFilterByTS = 128

// Validate rejects a request with no selecting matchers ("TSDB: no FILTER
// given") and an oversized FILTER_BY_TS set.
func (r MRangeRequest) Validate() error {
	if len(r.Matchers.Groups) == 0 {
		return tsdberr.New(tsdberr.ArgumentError, "no FILTER given")
	}
	if len(r.Timestamps) > maxFilterByTS {
		return tsdberr.New(tsdberr.ResourceExhausted, "FILTER_BY_TS accepts at most %d timestamps, got %d", maxFilterByTS, len(r.Timestamps))
	}
	return nil
}

// MRangeResponse is MRANGE/MREVRANGE's reply: one row per matched series or
// reduced group, already projected to SelectedLabels/WithLabels and
// truncated to Count by the Executor.
type MRangeResponse struct {
	Rows []tsquery.ResultRow
}

// MDelRequest deletes data from series matched by Matchers, in one of two
// modes: a full range (the zero Range, or both Earliest/Latest sentinels)
// removes each matched series entirely, index entry included; an explicit
// [from, to] sub-range removes only the samples inside it, through the
// Executor's RangeDeleter, and leaves the series indexed.
type MDelRequest struct {
	Matchers matcher.Matchers
	Range    tsquery.Range
}

// FullRange reports whether the request asks for whole-series deletion
// rather than a sample sub-range.
func (r MDelRequest) FullRange() bool {
	return r.Range == (tsquery.Range{}) || (r.Range.UseEarliest && r.Range.UseLatest)
}

func (r MDelRequest) Validate() error {
	if len(r.Matchers.Groups) == 0 {
		return tsdberr.New(tsdberr.ArgumentError, "no FILTER given")
	}
	if !r.FullRange() && !r.Range.UseEarliest && !r.Range.UseLatest && r.Range.Start > r.Range.End {
		return tsdberr.New(tsdberr.ArgumentError, "MDEL range start %d is after end %d", r.Range.Start, r.Range.End)
	}
	return nil
}

// MDelResponse reports how many series were affected: removed outright in
// full-range mode, or stripped of at least one sample in sub-range mode.
type MDelResponse struct {
	Deleted int
}

// MGetRequest returns the single latest sample per matched series.
type MGetRequest struct {
	Matchers       matcher.Matchers
	WithLabels     bool
	SelectedLabels []string
}

func (r MGetRequest) Validate() error {
	if len(r.Matchers.Groups) == 0 {
		return tsdberr.New(tsdberr.ArgumentError, "no FILTER given")
	}
	return nil
}

// MGetItem is one matched series' latest sample.
type MGetItem struct {
	Labels map[string]string
	Sample series.Sample
	Found  bool
}

// MGetResponse is MGET's reply.
type MGetResponse struct {
	Items []MGetItem
}

// QueryIndexRequest resolves Matchers to the external keys of matching
// series, touching only the index.
type QueryIndexRequest struct {
	Matchers matcher.Matchers
}

func (r QueryIndexRequest) Validate() error {
	if len(r.Matchers.Groups) == 0 {
		return tsdberr.New(tsdberr.ArgumentError, "no FILTER given")
	}
	return nil
}

// QueryIndexResponse is QUERYINDEX's reply.
type QueryIndexResponse struct {
	Keys []series.ExternalKey
}

// IDAllocator assigns a fresh SeriesID to a newly created series. The
// pkg/series.Registry satisfies this via its content-hash-keyed
// GetOrCreate.
type IDAllocator interface {
	GetOrCreate(s *series.Series) (series.SeriesID, error)
}

// RangeDeleter removes the samples of one series falling inside rng,
// resolving the Earliest/Latest sentinels against the series' stored range,
// and reports how many samples were removed. pkg/storage.Source satisfies
// this on top of the store's tombstone-masked DeleteRange.
type RangeDeleter interface {
	DeleteSamples(id series.SeriesID, rng tsquery.Range) (int, error)
}

// Executor binds an index, a range-query engine, and an ID allocator
// together and implements each command end to end. It is the thing
// cmd/tsdb and any embedding host call directly, and what an external
// selector-string parser (pkg/selector) and wire decoder (pkg/wire) both
// ultimately hand their parsed requests to.
type Executor struct {
	idx      *index.Index
	engine   *tsquery.Engine
	ids      IDAllocator
	rangeDel RangeDeleter
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewExecutor returns an Executor over idx, running range queries through
// engine (already bound to idx and a SeriesSampleSource), allocating new
// series IDs via ids.
func NewExecutor(idx *index.Index, engine *tsquery.Engine, ids IDAllocator) *Executor {
	return &Executor{idx: idx, engine: engine, ids: ids, logger: observability.GetDefaultLogger(), metrics: observability.GetGlobalMetrics()}
}

// WithLogger overrides the executor's logger, used by callers embedding
// this module in a host with its own structured-logging setup.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = logger
	return e
}

// WithMetrics overrides the executor's metrics sink.
func (e *Executor) WithMetrics(m *observability.Metrics) *Executor {
	e.metrics = m
	return e
}

// WithRangeDeleter enables MDEL's sample-sub-range mode. Without one, an
// MDEL carrying an explicit [from, to] is rejected instead of silently
// deleting whole series.
func (e *Executor) WithRangeDeleter(d RangeDeleter) *Executor {
	e.rangeDel = d
	return e
}

// Create runs a CREATE command: allocate a SeriesID for the label set,
// associate it with Key, and index it.
func (e *Executor) Create(req CreateRequest) (CreateResponse, error) {
	if err := req.Validate(); err != nil {
		return CreateResponse{}, err
	}

	candidate := series.NewSeries(req.Labels)
	id, err := e.ids.GetOrCreate(candidate)
	if err != nil {
		return CreateResponse{}, tsdberr.Wrap(tsdberr.Internal, err, "allocate series id")
	}

	s := &series.Series{ID: id, Labels: req.Labels, Key: req.Key, Hash: candidate.Hash}
	if existing, ok := e.idx.LookupID(id); ok && !existing.Equals(s) {
		return CreateResponse{}, tsdberr.New(tsdberr.DuplicateSeries, "series id %d already indexed with different labels", id)
	}

	if err := e.idx.IndexSeries(s); err != nil {
		return CreateResponse{}, tsdberr.Wrap(tsdberr.ArgumentError, err, "index series")
	}
	observability.LogIndexMutation(e.logger, "index_series", uint64(id), len(req.Labels))
	e.metrics.RecordIndexMutation()
	return CreateResponse{ID: id}, nil
}

// MRange runs a MRANGE/MREVRANGE command.
func (e *Executor) MRange(ctx context.Context, req MRangeRequest) (MRangeResponse, error) {
	if err := req.Validate(); err != nil {
		return MRangeResponse{}, err
	}

	start := time.Now()
	rows, err := e.engine.Range(ctx, tsquery.RangeQuery{
		Matchers:   req.Matchers,
		Range:      req.Range,
		Filter:     req.Filter,
		Timestamps: req.Timestamps,
		Aggregate:  req.Aggregate,
		Group:      req.Group,
		Reverse:    req.Reverse,
	})
	if err != nil {
		e.metrics.RecordRangeQueryError()
		return MRangeResponse{}, err
	}

	rows = projectLabels(rows, req.WithLabels, req.SelectedLabels)
	if req.Count > 0 {
		for i := range rows {
			if len(rows[i].Samples) > req.Count {
				rows[i].Samples = rows[i].Samples[:req.Count]
			}
		}
	}

	sampleCount := 0
	for _, r := range rows {
		sampleCount += len(r.Samples)
	}
	duration := time.Since(start)
	e.metrics.RecordRangeQuery(duration, int64(sampleCount))
	observability.LogQuery(e.logger, matcherSummary(req.Matchers), len(rows), sampleCount, duration)

	return MRangeResponse{Rows: rows}, nil
}

// matcherSummary renders a short human-readable tag for a Matchers tree,
// used only for log lines, never for parsing or equality.
func matcherSummary(ms matcher.Matchers) string {
	if len(ms.Groups) == 0 {
		return "{}"
	}
	group := ms.Groups[0]
	s := "{"
	for i, m := range group {
		if i > 0 {
			s += ","
		}
		s += m.String()
	}
	s += "}"
	if len(ms.Groups) > 1 {
		s += fmt.Sprintf(" or %d more", len(ms.Groups)-1)
	}
	return s
}

// MDel runs an MDEL command. A full range removes every matched series from
// the index; an explicit [from, to] removes only the samples inside it via
// the RangeDeleter and keeps the series indexed.
func (e *Executor) MDel(req MDelRequest) (MDelResponse, error) {
	if err := req.Validate(); err != nil {
		return MDelResponse{}, err
	}

	matched, err := e.idx.PostingsForMatchers(req.Matchers)
	if err != nil {
		return MDelResponse{}, err
	}
	ids := matched.ToSlice()

	if !req.FullRange() {
		if e.rangeDel == nil {
			return MDelResponse{}, tsdberr.New(tsdberr.ArgumentError, "MDEL with a sample range is not supported by this host store")
		}
		affected := 0
		for _, id := range ids {
			removed, err := e.rangeDel.DeleteSamples(id, req.Range)
			if err != nil {
				return MDelResponse{}, tsdberr.Wrap(tsdberr.Internal, err, "delete samples for series %d", id)
			}
			if removed > 0 {
				affected++
				observability.LogIndexMutation(e.logger, "delete_samples", uint64(id), 0)
			}
		}
		return MDelResponse{Deleted: affected}, nil
	}

	for _, id := range ids {
		e.idx.RemoveSeries(id)
		observability.LogIndexMutation(e.logger, "remove_series", uint64(id), 0)
		e.metrics.RecordIndexMutation()
	}
	return MDelResponse{Deleted: len(ids)}, nil
}

// MGet runs a MGET command: the latest sample per matched series.
func (e *Executor) MGet(ctx context.Context, req MGetRequest) (MGetResponse, error) {
	if err := req.Validate(); err != nil {
		return MGetResponse{}, err
	}

	matched, err := e.idx.PostingsForMatchers(req.Matchers)
	if err != nil {
		return MGetResponse{}, err
	}

	ids := matched.ToSlice()
	items := make([]MGetItem, 0, len(ids))
	for _, id := range ids {
		s, ok := e.idx.LookupID(id)
		if !ok {
			continue
		}

		item := MGetItem{Labels: projectOne(s.Labels, req.WithLabels, req.SelectedLabels)}
		sample, found := e.latestSample(ctx, id, s.Labels)
		item.Sample = sample
		item.Found = found
		items = append(items, item)
	}
	return MGetResponse{Items: items}, nil
}

// latestSample resolves a single series' most recent sample by running it
// through the range engine over its own full stored range.
func (e *Executor) latestSample(ctx context.Context, id series.SeriesID, labels map[string]string) (series.Sample, bool) {
	rows, err := e.engine.Range(ctx, tsquery.RangeQuery{
		Matchers: matcher.AND(keyMatchers(labels)...),
		Range:    tsquery.Range{UseEarliest: true, UseLatest: true},
	})
	if err != nil || len(rows) == 0 {
		return series.Sample{}, false
	}
	samples := rows[0].Samples
	if len(samples) == 0 {
		return series.Sample{}, false
	}
	return samples[len(samples)-1], true
}

func keyMatchers(labels map[string]string) []*matcher.Matcher {
	ms := make([]*matcher.Matcher, 0, len(labels))
	for name, value := range labels {
		ms = append(ms, matcher.MustNew(name, matcher.Equal, matcher.SingleValue(value)))
	}
	return ms
}

// QueryIndex runs a QUERYINDEX command: resolve Matchers to external keys.
func (e *Executor) QueryIndex(req QueryIndexRequest) (QueryIndexResponse, error) {
	if err := req.Validate(); err != nil {
		return QueryIndexResponse{}, err
	}

	matched, err := e.idx.PostingsForMatchers(req.Matchers)
	if err != nil {
		return QueryIndexResponse{}, err
	}

	ids := matched.ToSlice()
	keys := make([]series.ExternalKey, 0, len(ids))
	for _, id := range ids {
		if s, ok := e.idx.LookupID(id); ok && len(s.Key) > 0 {
			keys = append(keys, s.Key)
		}
	}
	return QueryIndexResponse{Keys: keys}, nil
}

func projectLabels(rows []tsquery.ResultRow, withLabels bool, selected []string) []tsquery.ResultRow {
	if withLabels || len(selected) == 0 {
		return rows
	}
	out := make([]tsquery.ResultRow, len(rows))
	for i, r := range rows {
		out[i] = tsquery.ResultRow{Labels: projectOne(r.Labels, false, selected), Samples: r.Samples}
	}
	return out
}

func projectOne(labels map[string]string, withLabels bool, selected []string) map[string]string {
	if withLabels || len(selected) == 0 {
		return labels
	}
	out := make(map[string]string, len(selected))
	for _, name := range selected {
		if v, ok := labels[name]; ok {
			out[name] = v
		}
	}
	return out
}
