package command

import (
	"github.com/chronoshard/tsdb/pkg/index"
	"github.com/chronoshard/tsdb/pkg/matcher"
	"github.com/chronoshard/tsdb/pkg/tsdberr"
)

// LabelNamesRequest lists every label name present in the index.
type LabelNamesRequest struct{}

// LabelNamesResponse is LabelNamesRequest's reply, sorted.
type LabelNamesResponse struct {
	Names []string
}

// LabelValuesRequest lists the values of one label, optionally restricted to
// series selected by Matchers.
type LabelValuesRequest struct {
	Name     string
	Matchers matcher.Matchers // empty: every indexed value of Name
}

// Validate rejects a request with no label name.
func (r LabelValuesRequest) Validate() error {
	if r.Name == "" {
		return tsdberr.New(tsdberr.ArgumentError, "label name required")
	}
	return nil
}

// LabelValuesResponse is LabelValuesRequest's reply, sorted.
type LabelValuesResponse struct {
	Values []string
}

// CardinalityRequest ranks label-value pairs by posting cardinality. A
// non-empty FocusLabel restricts the ranking to that label's values.
type CardinalityRequest struct {
	FocusLabel string
	Limit      int
}

func (r CardinalityRequest) Validate() error {
	if r.Limit <= 0 {
		return tsdberr.New(tsdberr.ArgumentError, "cardinality limit must be positive")
	}
	return nil
}

// CardinalityResponse is CardinalityRequest's reply, highest cardinality
// first.
type CardinalityResponse struct {
	Entries []index.LabelValueCardinality
}

// StatsRequest reports scalar index counters.
type StatsRequest struct{}

// StatsResponse is StatsRequest's reply: named scalar totals ("series",
// "labels"), summable across shards.
type StatsResponse struct {
	Totals map[string]uint64
}

// LabelNames runs a label-names listing.
func (e *Executor) LabelNames(req LabelNamesRequest) (LabelNamesResponse, error) {
	return LabelNamesResponse{Names: e.idx.LabelNames()}, nil
}

// LabelValues runs a label-values listing.
func (e *Executor) LabelValues(req LabelValuesRequest) (LabelValuesResponse, error) {
	if err := req.Validate(); err != nil {
		return LabelValuesResponse{}, err
	}
	if len(req.Matchers.Groups) == 0 {
		return LabelValuesResponse{Values: e.idx.LabelValues(req.Name)}, nil
	}
	values, err := e.idx.LabelValuesFor(req.Name, req.Matchers)
	if err != nil {
		return LabelValuesResponse{}, err
	}
	return LabelValuesResponse{Values: values}, nil
}

// Cardinality runs a top-k cardinality ranking.
func (e *Executor) Cardinality(req CardinalityRequest) (CardinalityResponse, error) {
	if err := req.Validate(); err != nil {
		return CardinalityResponse{}, err
	}
	return CardinalityResponse{Entries: e.idx.CardinalityStats(req.FocusLabel, req.Limit)}, nil
}

// Stats reports this node's scalar index counters.
func (e *Executor) Stats(req StatsRequest) (StatsResponse, error) {
	return StatsResponse{Totals: map[string]uint64{
		"series": uint64(e.idx.SeriesCount()),
		"labels": uint64(len(e.idx.LabelNames())),
	}}, nil
}
