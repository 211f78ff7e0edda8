package tsquery

import (
	"fmt"
	"math"
	"sort"

	"github.com/chronoshard/tsdb/pkg/series"
	"github.com/chronoshard/tsdb/pkg/tsdberr"
)

// AggFunc names one of the catalog's aggregation functions.
type AggFunc int

const (
	Sum AggFunc = iota
	Avg
	Min
	Max
	Count
	First
	Last
	RangeFunc
	StdDevPop
	StdDevSample
	VarPop
	VarSample
	Rate
)

// AnchorMode selects where bucket boundaries are pinned.
type AnchorMode int

const (
	AnchorDefault AnchorMode = iota // aligned to the query's start time
	AnchorStart                     // aligned to the query's start time
	AnchorEnd                       // aligned to the query's end time, counting backward
	AnchorTimestamp                 // aligned to an explicit timestamp
)

// BucketTimestampMode selects which instant within a bucket labels its
// reported sample.
type BucketTimestampMode int

const (
	BucketStart BucketTimestampMode = iota
	BucketMid
	BucketEnd
)

// EmptyPolicy controls whether buckets with no samples are reported.
type EmptyPolicy int

const (
	SkipEmpty EmptyPolicy = iota
	ReportEmpty
)

// CompareOp is a post-bucket value-comparison filter operator.
type CompareOp int

const (
	CompareNone CompareOp = iota
	CompareEQ
	CompareNE
	CompareLT
	CompareLE
	CompareGT
	CompareGE
)

func (op CompareOp) apply(v, threshold float64) bool {
	switch op {
	case CompareEQ:
		return v == threshold
	case CompareNE:
		return v != threshold
	case CompareLT:
		return v < threshold
	case CompareLE:
		return v <= threshold
	case CompareGT:
		return v > threshold
	case CompareGE:
		return v >= threshold
	default:
		return true
	}
}

// AggregateOptions configures an Aggregator.
type AggregateOptions struct {
	Func            AggFunc
	BucketDuration  int64 // milliseconds
	Anchor          AnchorMode
	AnchorTimestamp int64 // used when Anchor == AnchorTimestamp
	BucketTS        BucketTimestampMode
	EmptyPolicy     EmptyPolicy
	Filter          CompareOp
	FilterValue     float64

	// ForGroupBy marks this aggregator as a post-aggregation reducer inside
	// a GROUPBY pipeline, where Rate is forbidden.
	ForGroupBy bool
}

// Validate rejects a Rate aggregation configured as a GROUPBY reducer.
func (o AggregateOptions) Validate() error {
	if o.ForGroupBy && o.Func == Rate {
		return tsdberr.New(tsdberr.ArgumentError, "rate is not permitted as a GROUPBY reducer")
	}
	if o.BucketDuration <= 0 {
		return tsdberr.New(tsdberr.ArgumentError, "bucket duration must be positive")
	}
	return nil
}

// bucketStart returns the start of the bucket at index k, given an
// anchor origin.
func bucketStart(anchor int64, duration int64, k int64) int64 {
	return anchor + k*duration
}

// bucketIndex returns the index k of the bucket [anchor+k*D, anchor+(k+1)*D)
// that a timestamp falls into; a timestamp exactly on a boundary belongs to
// the bucket it opens. Aggregator.sampleBucket moves a sample at the query's
// end instant back into the bucket ending there.
func bucketIndex(anchor, duration, ts int64) int64 {
	delta := ts - anchor
	if delta < 0 {
		// Before the anchor: still bucket consistently using floor division.
		return floorDiv(delta, duration)
	}
	k := delta / duration
	if delta%duration == 0 && ts != anchor {
		// Falls exactly on a boundary: belongs to the bucket it opens,
		// except the boundary shared with the previous bucket's exclusive
		// end, which floor division already assigns correctly.
		return k
	}
	return k
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func anchorOrigin(opts AggregateOptions, queryStart, queryEnd int64) int64 {
	switch opts.Anchor {
	case AnchorEnd:
		return queryEnd
	case AnchorTimestamp:
		return opts.AnchorTimestamp
	default:
		return queryStart
	}
}

// welford accumulates a running mean/variance in a single pass (Welford's
// online algorithm). A two-pass variance would require buffering every
// sample in a bucket, which a single streaming pass over a merged iterator
// cannot do.
type welford struct {
	count int64
	mean  float64
	m2    float64
}

func (w *welford) add(x float64) {
	w.count++
	delta := x - w.mean
	w.mean += delta / float64(w.count)
	delta2 := x - w.mean
	w.m2 += delta * delta2
}

func (w *welford) variancePop() float64 {
	if w.count == 0 {
		return 0
	}
	return w.m2 / float64(w.count)
}

func (w *welford) varianceSample() float64 {
	if w.count < 2 {
		return 0
	}
	return w.m2 / float64(w.count-1)
}

// bucketAccumulator holds the running state needed to compute any catalog
// function for one bucket without buffering its samples.
type bucketAccumulator struct {
	count     int64
	sum       float64
	min, max  float64
	first, last float64
	haveFirst bool
	w         welford
}

func (a *bucketAccumulator) add(v float64) {
	if a.count == 0 {
		a.min, a.max = v, v
	} else {
		if v < a.min {
			a.min = v
		}
		if v > a.max {
			a.max = v
		}
	}
	if !a.haveFirst {
		a.first = v
		a.haveFirst = true
	}
	a.last = v
	a.sum += v
	a.w.add(v)
	a.count++
}

func (a *bucketAccumulator) value(fn AggFunc, bucketStartSec, bucketEndSec float64) (float64, error) {
	switch fn {
	case Sum:
		return a.sum, nil
	case Avg:
		if a.count == 0 {
			return 0, nil
		}
		return a.sum / float64(a.count), nil
	case Min:
		return a.min, nil
	case Max:
		return a.max, nil
	case Count:
		return float64(a.count), nil
	case First:
		return a.first, nil
	case Last:
		return a.last, nil
	case RangeFunc:
		return a.max - a.min, nil
	case StdDevPop:
		return math.Sqrt(a.w.variancePop()), nil
	case StdDevSample:
		return math.Sqrt(a.w.varianceSample()), nil
	case VarPop:
		return a.w.variancePop(), nil
	case VarSample:
		return a.w.varianceSample(), nil
	case Rate:
		span := bucketEndSec - bucketStartSec
		if span <= 0 || a.count == 0 {
			return 0, nil
		}
		return (a.last - a.first) / span, nil
	default:
		return 0, fmt.Errorf("tsquery: unknown aggregation function %d", fn)
	}
}

// Aggregator folds a single series' sample stream into tumbling buckets per
// AggregateOptions, emitting one sample per non-empty bucket (or every
// bucket, under ReportEmpty), ascending.
type Aggregator struct {
	opts       AggregateOptions
	anchor     int64
	start, end int64
}

// NewAggregator validates opts and returns an Aggregator anchored for a
// query spanning [queryStart, queryEnd].
func NewAggregator(opts AggregateOptions, queryStart, queryEnd int64) (*Aggregator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{
		opts:   opts,
		anchor: anchorOrigin(opts, queryStart, queryEnd),
		start:  queryStart,
		end:    queryEnd,
	}, nil
}

// sampleBucket assigns a sample to its bucket, treating a sample exactly at
// the query's end instant, when that instant is a bucket boundary, as
// belonging to the bucket ending there rather than the one opening there.
func (a *Aggregator) sampleBucket(ts int64) int64 {
	k := bucketIndex(a.anchor, a.opts.BucketDuration, ts)
	if ts == a.end && ts != a.anchor && (ts-a.anchor)%a.opts.BucketDuration == 0 {
		k--
	}
	return k
}

// Run consumes it to completion and returns one sample per bucket.
func (a *Aggregator) Run(it SampleIterator) ([]series.Sample, error) {
	buckets := make(map[int64]*bucketAccumulator)
	var order []int64
	var minBucket, maxBucket int64
	haveRange := false

	for it.Next() {
		s := it.At()
		k := a.sampleBucket(s.Timestamp)
		acc, exists := buckets[k]
		if !exists {
			acc = &bucketAccumulator{}
			buckets[k] = acc
			order = append(order, k)
		}
		acc.add(s.Value)

		if !haveRange {
			minBucket, maxBucket = k, k
			haveRange = true
		} else {
			if k < minBucket {
				minBucket = k
			}
			if k > maxBucket {
				maxBucket = k
			}
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	// Under ReportEmpty the emitted buckets span the whole query range, not
	// just the range the samples happened to cover.
	if a.opts.EmptyPolicy == ReportEmpty && a.end > a.start {
		lo := bucketIndex(a.anchor, a.opts.BucketDuration, a.start)
		hi := a.sampleBucket(a.end)
		if !haveRange || lo < minBucket {
			minBucket = lo
		}
		if !haveRange || hi > maxBucket {
			maxBucket = hi
		}
		haveRange = true
	}

	if !haveRange {
		return nil, nil
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	var results []series.Sample

	emit := func(k int64) error {
		startMs := bucketStart(a.anchor, a.opts.BucketDuration, k)
		endMs := startMs + a.opts.BucketDuration

		acc, exists := buckets[k]
		if !exists {
			if a.opts.EmptyPolicy != ReportEmpty {
				return nil
			}
			// An empty bucket reports NaN; the comparison filter only
			// applies to buckets that have data.
			results = append(results, series.Sample{Timestamp: bucketTimestamp(a.opts.BucketTS, startMs, endMs), Value: math.NaN()})
			return nil
		}

		value, err := acc.value(a.opts.Func, float64(startMs)/1000, float64(endMs)/1000)
		if err != nil {
			return err
		}

		if a.opts.Filter != CompareNone && !a.opts.Filter.apply(value, a.opts.FilterValue) {
			return nil
		}

		results = append(results, series.Sample{Timestamp: bucketTimestamp(a.opts.BucketTS, startMs, endMs), Value: value})
		return nil
	}

	if a.opts.EmptyPolicy == ReportEmpty {
		for k := minBucket; k <= maxBucket; k++ {
			if err := emit(k); err != nil {
				return nil, err
			}
		}
	} else {
		for _, k := range order {
			if err := emit(k); err != nil {
				return nil, err
			}
		}
	}

	return results, nil
}

func bucketTimestamp(mode BucketTimestampMode, start, end int64) int64 {
	switch mode {
	case BucketEnd:
		return end
	case BucketMid:
		return (start + end) / 2
	default:
		return start
	}
}
