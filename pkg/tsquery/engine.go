package tsquery

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/chronoshard/tsdb/pkg/index"
	"github.com/chronoshard/tsdb/pkg/matcher"
	"github.com/chronoshard/tsdb/pkg/series"
)

// ResultRow is one series (or one reduced group) worth of output from a
// range query.
type ResultRow struct {
	Labels  map[string]string
	Samples []series.Sample
}

// GroupBy configures grouping: partition selected series by the value of
// label Name (dropping series that lack it), k-way merge each partition,
// and fold it with Reducer — applied before aggregation if Aggregate is nil,
// after otherwise.
type GroupBy struct {
	Enabled bool
	Name    string
	Reducer AggFunc
}

// RangeQuery is a single range-query request against the index + sample
// source.
type RangeQuery struct {
	Matchers   matcher.Matchers
	Range      Range
	Filter     ValueFilter
	Timestamps []int64           // FILTER_BY_TS: restrict to exactly these timestamps; nil means unrestricted
	Aggregate  *AggregateOptions // nil means no per-series aggregation
	Group      GroupBy
	Reverse    bool // reverses row order, for MREVRANGE
}

// Engine executes range queries by resolving selectors through an index and
// iterating/aggregating/grouping/reducing matched series' sample streams.
type Engine struct {
	idx        *index.Index
	src        SeriesSampleSource
	maxWorkers int64
}

// NewEngine returns an Engine bounded to maxWorkers concurrent per-series or
// per-group workers. maxWorkers <= 0 defaults to 1 (sequential).
func NewEngine(idx *index.Index, src SeriesSampleSource, maxWorkers int) *Engine {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Engine{idx: idx, src: src, maxWorkers: int64(maxWorkers)}
}

// Range executes q and returns its result rows.
func (e *Engine) Range(ctx context.Context, q RangeQuery) ([]ResultRow, error) {
	matched, err := e.idx.PostingsForMatchers(q.Matchers)
	if err != nil {
		return nil, err
	}

	ids := matched.ToSlice()

	var rows []ResultRow
	if q.Group.Enabled {
		rows, err = e.runGrouped(ctx, ids, q)
	} else {
		rows, err = e.runUngrouped(ctx, ids, q)
	}
	if err != nil {
		return nil, err
	}

	if q.Reverse {
		reverseRows(rows)
	}
	return rows, nil
}

// runUngrouped computes one result row per matched series, in resolution
// (ascending series-ID) order, dispatched across a semaphore-bounded
// errgroup. Go's scheduler already work-steals across the goroutines, so
// the bounded errgroup doubles as the worker pool.
func (e *Engine) runUngrouped(ctx context.Context, ids []series.SeriesID, q RangeQuery) ([]ResultRow, error) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rows := make([]ResultRow, len(ids))
	sem := semaphore.NewWeighted(e.maxWorkers)
	g, gctx := errgroup.WithContext(ctx)

	for i, id := range ids {
		i, id := i, id
		if err := sem.Acquire(gctx, 1); err != nil {
			return nil, err
		}
		g.Go(func() error {
			defer sem.Release(1)

			s, ok := e.idx.LookupID(id)
			if !ok {
				return nil
			}

			row, err := e.computeRow(s.Labels, id, q)
			if err != nil {
				return err
			}
			rows[i] = row
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (e *Engine) computeRow(labels map[string]string, id series.SeriesID, q RangeQuery) (ResultRow, error) {
	it, err := NewIterator(e.src, id, q.Range, q.Filter, q.Timestamps)
	if err != nil {
		return ResultRow{}, err
	}
	defer it.Close()

	samples, err := e.materialize(it, q)
	if err != nil {
		return ResultRow{}, err
	}
	return ResultRow{Labels: labels, Samples: samples}, nil
}

func (e *Engine) materialize(it SampleIterator, q RangeQuery) ([]series.Sample, error) {
	if q.Aggregate == nil {
		var out []series.Sample
		for it.Next() {
			out = append(out, it.At())
		}
		return out, it.Err()
	}

	agg, err := NewAggregator(*q.Aggregate, q.Range.Start, q.Range.End)
	if err != nil {
		return nil, err
	}
	return agg.Run(it)
}

// runGrouped partitions matched series by the group-by label's value,
// k-way merges each partition's sample streams, and reduces per timestamp.
// If q.Aggregate is set, aggregation runs first per series, then the
// reducer folds the aggregated series together; otherwise the reducer runs
// directly over the raw merged stream.
func (e *Engine) runGrouped(ctx context.Context, ids []series.SeriesID, q RangeQuery) ([]ResultRow, error) {
	groups := make(map[string][]series.SeriesID)
	var groupOrder []string

	for _, id := range ids {
		s, ok := e.idx.LookupID(id)
		if !ok {
			continue
		}
		value, ok := GroupKey(s.Labels, q.Group.Name)
		if !ok {
			continue
		}
		if _, exists := groups[value]; !exists {
			groupOrder = append(groupOrder, value)
		}
		groups[value] = append(groups[value], id)
	}
	sort.Strings(groupOrder)

	reducer, err := NewReducer(q.Group.Reducer)
	if err != nil {
		return nil, err
	}

	rows := make([]ResultRow, len(groupOrder))
	sem := semaphore.NewWeighted(e.maxWorkers)
	g, gctx := errgroup.WithContext(ctx)

	for i, value := range groupOrder {
		i, value := i, value
		memberIDs := groups[value]
		if err := sem.Acquire(gctx, 1); err != nil {
			return nil, err
		}
		g.Go(func() error {
			defer sem.Release(1)
			row, err := e.computeGroupRow(value, memberIDs, q, reducer)
			if err != nil {
				return err
			}
			rows[i] = row
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

// computeGroupRow k-way merges the group members' sample streams and folds
// every run of equal timestamps with the reducer. When the query also
// carries a per-series aggregation, each member is aggregated first and the
// reducer folds the aggregated streams (aggregate-then-reduce); otherwise
// the reducer runs directly over the raw merged stream.
func (e *Engine) computeGroupRow(groupValue string, memberIDs []series.SeriesID, q RangeQuery, reducer *Reducer) (ResultRow, error) {
	sort.Slice(memberIDs, func(i, j int) bool { return memberIDs[i] < memberIDs[j] })

	sourceKeys := make([]string, 0, len(memberIDs))
	iterators := make([]SampleIterator, 0, len(memberIDs))
	defer func() {
		for _, it := range iterators {
			it.Close()
		}
	}()

	for _, id := range memberIDs {
		s, ok := e.idx.LookupID(id)
		if !ok {
			continue
		}
		sourceKeys = append(sourceKeys, string(s.Key))

		it, err := NewIterator(e.src, id, q.Range, q.Filter, q.Timestamps)
		if err != nil {
			return ResultRow{}, err
		}

		if q.Aggregate != nil {
			opts := *q.Aggregate
			opts.ForGroupBy = true
			agg, err := NewAggregator(opts, q.Range.Start, q.Range.End)
			if err != nil {
				it.Close()
				return ResultRow{}, err
			}
			aggregated, err := agg.Run(it)
			it.Close()
			if err != nil {
				return ResultRow{}, err
			}
			it = NewSliceIterator(aggregated)
		}
		iterators = append(iterators, it)
	}

	reduced, err := ReduceMerged(reducer, iterators)
	if err != nil {
		return ResultRow{}, err
	}
	labels := ReducedLabels(q.Group.Name, groupValue, q.Group.Reducer, sourceKeys)
	return ResultRow{Labels: labels, Samples: reduced}, nil
}

func reverseRows(rows []ResultRow) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}
