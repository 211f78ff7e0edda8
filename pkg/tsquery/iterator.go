// Package tsquery implements the range-query engine: per-series sample
// iteration, k-way merging, tumbling-bucket aggregation, and label-based
// grouping with a per-timestamp reducer.
package tsquery

import (
	"github.com/chronoshard/tsdb/pkg/series"
)

// SampleIterator yields a single series' samples in ascending timestamp
// order. It is single-pass: once exhausted or closed, a fresh iterator must
// be requested from its source.
type SampleIterator interface {
	Next() bool
	At() series.Sample
	Err() error
	Close() error
}

// SeriesSampleSource is the opaque, out-of-scope contract a host storage
// engine implements to hand the range engine a raw per-series sample stream.
// pkg/storage's memtable/block engine implements this, bridging its
// content-hash-keyed storage to the index's SeriesID space.
type SeriesSampleSource interface {
	// Samples returns every sample for id with start <= Timestamp <= end,
	// ascending.
	Samples(id series.SeriesID, start, end int64) (SampleIterator, error)

	// TimeRange returns the earliest and latest sample timestamps stored for
	// id, used to resolve the Earliest/Latest range sentinels.
	TimeRange(id series.SeriesID) (earliest, latest int64, ok bool)
}

// ValueFilter optionally restricts samples to a closed value range.
type ValueFilter struct {
	Enabled  bool
	Min, Max float64
}

func (f ValueFilter) accepts(v float64) bool {
	if !f.Enabled {
		return true
	}
	return v >= f.Min && v <= f.Max
}

// Range bounds a query's time window. Earliest/Latest sentinels are resolved
// against the source's own stored range at iterator construction.
type Range struct {
	Start, End     int64
	UseEarliest    bool
	UseLatest      bool
}

// resolve clamps r's sentinels against the series' stored range.
func (r Range) resolve(src SeriesSampleSource, id series.SeriesID) (start, end int64) {
	start, end = r.Start, r.End
	if r.UseEarliest || r.UseLatest {
		earliest, latest, ok := src.TimeRange(id)
		if ok {
			if r.UseEarliest {
				start = earliest
			}
			if r.UseLatest {
				end = latest
			}
		}
	}
	return start, end
}

// boundedIterator wraps a raw per-series sample provider and applies the
// query's time range, optional value filter, and optional explicit
// timestamp set.
type boundedIterator struct {
	inner     SampleIterator
	filter    ValueFilter
	timestamps map[int64]struct{} // nil means no restriction
	cur       series.Sample
	err       error
}

// NewIterator builds a bounded sample iterator over a single series,
// resolving Earliest/Latest sentinels against src.
func NewIterator(src SeriesSampleSource, id series.SeriesID, r Range, filter ValueFilter, timestamps []int64) (SampleIterator, error) {
	start, end := r.resolve(src, id)

	inner, err := src.Samples(id, start, end)
	if err != nil {
		return nil, err
	}

	var tsSet map[int64]struct{}
	if len(timestamps) > 0 {
		tsSet = make(map[int64]struct{}, len(timestamps))
		for _, ts := range timestamps {
			tsSet[ts] = struct{}{}
		}
	}

	return &boundedIterator{inner: inner, filter: filter, timestamps: tsSet}, nil
}

func (b *boundedIterator) Next() bool {
	for b.inner.Next() {
		s := b.inner.At()
		if !b.filter.accepts(s.Value) {
			continue
		}
		if b.timestamps != nil {
			if _, ok := b.timestamps[s.Timestamp]; !ok {
				continue
			}
		}
		b.cur = s
		return true
	}
	b.err = b.inner.Err()
	return false
}

func (b *boundedIterator) At() series.Sample { return b.cur }
func (b *boundedIterator) Err() error         { return b.err }
func (b *boundedIterator) Close() error       { return b.inner.Close() }

// sliceIterator iterates an in-memory slice of samples already known to be
// ascending and within range — used by tests and by in-process transports
// that already materialized a result.
type sliceIterator struct {
	samples []series.Sample
	pos     int
}

// NewSliceIterator returns a SampleIterator over an in-memory, pre-sorted
// sample slice.
func NewSliceIterator(samples []series.Sample) SampleIterator {
	return &sliceIterator{samples: samples, pos: -1}
}

func (s *sliceIterator) Next() bool {
	s.pos++
	return s.pos < len(s.samples)
}

func (s *sliceIterator) At() series.Sample { return s.samples[s.pos] }
func (s *sliceIterator) Err() error        { return nil }
func (s *sliceIterator) Close() error      { return nil }
