package storage

import (
	"fmt"

	"github.com/chronoshard/tsdb/pkg/index"
	"github.com/chronoshard/tsdb/pkg/series"
	"github.com/chronoshard/tsdb/pkg/tsquery"
)

// Source adapts a TSDB's content-hash-keyed sample storage to the
// tsquery.SeriesSampleSource contract, which addresses series by the
// index's monotonic SeriesID. It resolves a SeriesID to its label hash via
// idx before delegating to db.
type Source struct {
	db  *TSDB
	idx *index.Index
}

// NewSource returns a tsquery.SeriesSampleSource backed by db, resolving
// SeriesIDs through idx.
func NewSource(db *TSDB, idx *index.Index) *Source {
	return &Source{db: db, idx: idx}
}

func (s *Source) hashOf(id series.SeriesID) (uint64, error) {
	sr, ok := s.idx.LookupID(id)
	if !ok {
		return 0, fmt.Errorf("storage: series id %d not indexed", id)
	}
	return sr.Hash, nil
}

// Samples implements tsquery.SeriesSampleSource.
func (s *Source) Samples(id series.SeriesID, start, end int64) (tsquery.SampleIterator, error) {
	hash, err := s.hashOf(id)
	if err != nil {
		return nil, err
	}
	samples, err := s.db.Query(hash, start, end)
	if err != nil {
		return nil, err
	}
	return newSliceIterator(samples), nil
}

// TimeRange implements tsquery.SeriesSampleSource.
func (s *Source) TimeRange(id series.SeriesID) (earliest, latest int64, ok bool) {
	hash, err := s.hashOf(id)
	if err != nil {
		return 0, 0, false
	}
	samples, err := s.db.Query(hash, minInt64, maxInt64)
	if err != nil || len(samples) == 0 {
		return 0, 0, false
	}
	// db.Query returns samples sorted ascending by timestamp.
	return samples[0].Timestamp, samples[len(samples)-1].Timestamp, true
}

// DeleteSamples implements command.RangeDeleter: it removes the samples of
// id falling inside rng, resolving the Earliest/Latest sentinels against
// the series' stored range, and returns how many samples were removed.
func (s *Source) DeleteSamples(id series.SeriesID, rng tsquery.Range) (int, error) {
	hash, err := s.hashOf(id)
	if err != nil {
		return 0, err
	}

	start, end := rng.Start, rng.End
	if rng.UseEarliest || rng.UseLatest {
		earliest, latest, ok := s.TimeRange(id)
		if !ok {
			return 0, nil
		}
		if rng.UseEarliest {
			start = earliest
		}
		if rng.UseLatest {
			end = latest
		}
	}

	return s.db.DeleteRange(hash, start, end)
}

const (
	minInt64 = -1 << 63
	maxInt64 = 1<<63 - 1
)

// sliceIterator adapts an already-materialized, ascending-order sample
// slice to the tsquery.SampleIterator contract.
type sliceIterator struct {
	samples []series.Sample
	pos     int
}

func newSliceIterator(samples []series.Sample) *sliceIterator {
	return &sliceIterator{samples: samples, pos: -1}
}

func (it *sliceIterator) Next() bool {
	it.pos++
	return it.pos < len(it.samples)
}

func (it *sliceIterator) At() series.Sample {
	return it.samples[it.pos]
}

func (it *sliceIterator) Err() error {
	return nil
}

func (it *sliceIterator) Close() error {
	return nil
}
