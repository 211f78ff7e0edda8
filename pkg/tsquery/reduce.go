package tsquery

import (
	"math"

	"github.com/chronoshard/tsdb/pkg/series"
)

// Reducer folds the values of multiple series sharing one timestamp into a
// single output value. The catalog matches the aggregator's, minus Rate,
// which needs a time span a single timestamp doesn't carry.
type Reducer struct {
	Func AggFunc
}

// NewReducer validates fn as a legal per-timestamp reducer.
func NewReducer(fn AggFunc) (*Reducer, error) {
	if fn == Rate {
		return nil, errReducerRateForbidden
	}
	return &Reducer{Func: fn}, nil
}

var errReducerRateForbidden = reducerError("rate is not a valid per-timestamp reducer")

type reducerError string

func (e reducerError) Error() string { return string(e) }

// Reduce folds values (all samples sharing one timestamp, across series in a
// group) into one output value.
func (r *Reducer) Reduce(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	switch r.Func {
	case Sum:
		var s float64
		for _, v := range values {
			s += v
		}
		return s
	case Avg:
		var s float64
		for _, v := range values {
			s += v
		}
		return s / float64(len(values))
	case Min:
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m
	case Max:
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m
	case Count:
		return float64(len(values))
	case First:
		return values[0]
	case Last:
		return values[len(values)-1]
	case RangeFunc:
		lo, hi := values[0], values[0]
		for _, v := range values[1:] {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		return hi - lo
	case StdDevPop, StdDevSample, VarPop, VarSample:
		var w welford
		for _, v := range values {
			w.add(v)
		}
		switch r.Func {
		case StdDevPop:
			return math.Sqrt(w.variancePop())
		case StdDevSample:
			return math.Sqrt(w.varianceSample())
		case VarPop:
			return w.variancePop()
		default:
			return w.varianceSample()
		}
	default:
		return 0
	}
}

// GroupKey returns the value series with labels contribute to a GROUPBY
// partition, and whether the series carries the group-by label at all.
func GroupKey(labels map[string]string, groupBy string) (value string, ok bool) {
	value, ok = labels[groupBy]
	return value, ok
}

// ReducedLabels builds the synthetic label set for a reduced group row:
// {groupBy=value, __reducer__=fn, __source__=comma-joined series keys}.
func ReducedLabels(groupBy, value string, fn AggFunc, sourceKeys []string) map[string]string {
	out := map[string]string{
		groupBy:      value,
		"__reducer__": reducerName(fn),
		"__source__":  joinKeys(sourceKeys),
	}
	return out
}

func reducerName(fn AggFunc) string {
	switch fn {
	case Sum:
		return "sum"
	case Avg:
		return "avg"
	case Min:
		return "min"
	case Max:
		return "max"
	case Count:
		return "count"
	case First:
		return "first"
	case Last:
		return "last"
	case RangeFunc:
		return "range"
	case StdDevPop:
		return "std_p"
	case StdDevSample:
		return "std_s"
	case VarPop:
		return "var_p"
	case VarSample:
		return "var_s"
	case Rate:
		return "rate"
	default:
		return "unknown"
	}
}

func joinKeys(keys []string) string {
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ","
		}
		out += k
	}
	return out
}

// ReduceTimestampAligned reduces a group of per-series, already-ascending
// sample slices at matching timestamps into a single output series. The
// fan-out layer uses it to re-reduce group rows arriving from different
// shards; the range engine reduces live iterators through ReduceMerged,
// which this wraps.
func ReduceTimestampAligned(r *Reducer, perSeries [][]series.Sample) []series.Sample {
	iterators := make([]SampleIterator, len(perSeries))
	for i, samples := range perSeries {
		iterators[i] = NewSliceIterator(samples)
	}
	out, _ := ReduceMerged(r, iterators)
	return out
}
