// Package series defines the core data types shared across the database:
// samples, label sets, series handles, and series identifiers.
package series

import (
	"fmt"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// SeriesID is a unique, monotonically assigned identifier for a time series.
// It is stable for the lifetime of the series and is never reused, even
// after the series is removed.
type SeriesID uint64

// ExternalKey is the opaque key the host key-value store uses to look up a
// series object. The index never interprets its contents.
type ExternalKey []byte

func (k ExternalKey) String() string { return string(k) }

// ReservedMetricLabel is the label name that carries the measurement name.
const ReservedMetricLabel = "__name__"

// Sample is a single (timestamp, value) observation.
// Timestamp is Unix milliseconds.
type Sample struct {
	Timestamp int64
	Value     float64
}

// ValidateSample rejects NaN and infinite values on ingest. The index and
// storage layers otherwise treat sample values opaquely.
func ValidateSample(s Sample) error {
	if math.IsNaN(s.Value) {
		return fmt.Errorf("sample value is NaN")
	}
	if math.IsInf(s.Value, 0) {
		return fmt.Errorf("sample value is infinite")
	}
	return nil
}

// Series identifies a time series by its label set.
//
// Labels is immutable once a Series is indexed: changing a label is
// modelled as remove-then-reindex under the same ID, never a mutation of
// an indexed Series' Labels map.
type Series struct {
	ID     SeriesID
	Labels map[string]string
	Key    ExternalKey

	// Hash is a content hash of Labels, independent of SeriesID, used to
	// detect whether an identical label set has already been registered
	// (see pkg/series.Registry.GetOrCreate).
	Hash uint64
}

// NewSeries creates a new Series from the provided labels and computes its
// content hash. The SeriesID and external key are assigned later, by the
// registry and the index respectively.
func NewSeries(labels map[string]string) *Series {
	s := &Series{Labels: labels}
	s.Hash = s.computeHash()
	return s
}

// sortedNames returns the label names of s in ascending order.
func (s *Series) sortedNames() []string {
	names := make([]string, 0, len(s.Labels))
	for name := range s.Labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// computeHash hashes the sorted label set with xxhash so that insertion
// order never affects the result.
func (s *Series) computeHash() uint64 {
	names := s.sortedNames()

	h := xxhash.New()
	for _, name := range names {
		h.WriteString(name)
		h.Write([]byte{0})
		h.WriteString(s.Labels[name])
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// MetricName returns the reserved __name__ label, if present.
func (s *Series) MetricName() (string, bool) {
	v, ok := s.Labels[ReservedMetricLabel]
	return v, ok
}

// String renders the series as a canonical, sorted label-set literal, e.g.
// {host="server1", region="us-west"}.
func (s *Series) String() string {
	if len(s.Labels) == 0 {
		return "{}"
	}

	names := s.sortedNames()
	result := "{"
	for i, name := range names {
		if i > 0 {
			result += ", "
		}
		result += name + `="` + s.Labels[name] + `"`
	}
	result += "}"
	return result
}

// Equals reports whether two series carry the same label set, ignoring ID,
// external key, and hash.
func (s *Series) Equals(other *Series) bool {
	if len(s.Labels) != len(other.Labels) {
		return false
	}
	for k, v := range s.Labels {
		if ov, ok := other.Labels[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the series' label set, with the hash
// recomputed. ID and Key are not copied: clones are used to build candidate
// series before indexing, not to duplicate an already-indexed one.
func (s *Series) Clone() *Series {
	labels := make(map[string]string, len(s.Labels))
	for k, v := range s.Labels {
		labels[k] = v
	}
	return NewSeries(labels)
}

// ValidateLabels checks the data-model constraints on a label set: every
// name and value must be non-empty.
func ValidateLabels(labels map[string]string) error {
	if len(labels) == 0 {
		return fmt.Errorf("labels cannot be empty")
	}
	for name, value := range labels {
		if name == "" {
			return fmt.Errorf("label name cannot be empty")
		}
		if value == "" {
			return fmt.Errorf("label %q: value cannot be empty", name)
		}
	}
	return nil
}
