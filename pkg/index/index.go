// Package index implements the label inverted index: a trie of
// (label name, label value) postings plus the key↔id tables needed to
// resolve a series by its external storage key or its numeric ID.
package index

import (
	"bytes"
	"container/heap"
	"fmt"
	"sort"
	"sync"

	"github.com/chronoshard/tsdb/pkg/bitmap"
	"github.com/chronoshard/tsdb/pkg/matcher"
	"github.com/chronoshard/tsdb/pkg/series"
	"github.com/chronoshard/tsdb/pkg/trie"
)

const labelSep = '\x00'

// allKey is the posting that tracks every indexed series ID, used to
// evaluate NotEqual/NotRegexp matchers and label-less existence checks.
var allKey = []byte("__ALL__")

func labelKey(name, value string) []byte {
	key := make([]byte, 0, len(name)+len(value)+1)
	key = append(key, name...)
	key = append(key, labelSep)
	key = append(key, value...)
	return key
}

func labelPrefix(name string) []byte {
	key := make([]byte, 0, len(name)+1)
	key = append(key, name...)
	key = append(key, labelSep)
	return key
}

// Index is the label inverted index over a set of indexed series.
//
// Index is safe for concurrent use: readers take the RWMutex's read lock,
// mutations take the write lock.
type Index struct {
	mu sync.RWMutex

	postings *trie.Trie // label-value postings, plus the __ALL__ posting

	idToSeries map[series.SeriesID]*series.Series
	keyToID    map[string]series.SeriesID

	seriesCount int
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		postings:   trie.New(),
		idToSeries: make(map[series.SeriesID]*series.Series),
		keyToID:    make(map[string]series.SeriesID),
	}
}

// IndexSeries adds s to the index under its own ID, external key, and
// labels. Re-indexing a series already present under the same ID and key is
// idempotent; use ReindexSeries to move labels while keeping the ID.
func (idx *Index) IndexSeries(s *series.Series) error {
	if s.ID == 0 {
		return fmt.Errorf("index: invalid series ID: 0")
	}
	if err := series.ValidateLabels(s.Labels); err != nil {
		return fmt.Errorf("index: %w", err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.indexLocked(s)
	return nil
}

func (idx *Index) indexLocked(s *series.Series) {
	for name, value := range s.Labels {
		idx.postings.GetMut(labelKey(name, value)).Add(s.ID)
	}
	idx.postings.GetMut(allKey).Add(s.ID)

	if _, exists := idx.idToSeries[s.ID]; !exists {
		idx.seriesCount++
	}
	idx.idToSeries[s.ID] = s
	if len(s.Key) > 0 {
		idx.keyToID[s.Key.String()] = s.ID
	}
}

// RemoveSeries deletes id from every posting it participates in and from
// the key↔id tables.
func (idx *Index) RemoveSeries(id series.SeriesID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
}

func (idx *Index) removeLocked(id series.SeriesID) {
	s, exists := idx.idToSeries[id]
	if !exists {
		return
	}

	for name, value := range s.Labels {
		key := labelKey(name, value)
		p, ok := idx.postings.Get(key)
		if !ok {
			continue
		}
		p.Remove(id)
		if p.IsEmpty() {
			idx.postings.Remove(key)
		}
	}

	if all, ok := idx.postings.Get(allKey); ok {
		all.Remove(id)
		if all.IsEmpty() {
			idx.postings.Remove(allKey)
		}
	}

	delete(idx.idToSeries, id)
	if len(s.Key) > 0 {
		delete(idx.keyToID, s.Key.String())
	}
	idx.seriesCount--
}

// ReindexSeries removes the previously indexed label set for id, if any,
// and re-indexes it under the new series, keeping the same ID.
func (idx *Index) ReindexSeries(s *series.Series) error {
	if err := series.ValidateLabels(s.Labels); err != nil {
		return fmt.Errorf("index: %w", err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(s.ID)
	idx.indexLocked(s)
	return nil
}

// RenameSeries updates the external key associated with id, touching only
// the key↔id tables, not any posting.
func (idx *Index) RenameSeries(id series.SeriesID, newKey series.ExternalKey) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	s, exists := idx.idToSeries[id]
	if !exists {
		return fmt.Errorf("index: series %d not found", id)
	}

	if len(s.Key) > 0 {
		delete(idx.keyToID, s.Key.String())
	}
	s.Key = newKey
	if len(newKey) > 0 {
		idx.keyToID[newKey.String()] = id
	}
	return nil
}

// LookupID returns the series for a given ID.
func (idx *Index) LookupID(id series.SeriesID) (*series.Series, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	s, ok := idx.idToSeries[id]
	return s, ok
}

// LookupKey returns the series for a given external key.
func (idx *Index) LookupKey(key series.ExternalKey) (*series.Series, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	id, ok := idx.keyToID[key.String()]
	if !ok {
		return nil, false
	}
	return idx.idToSeries[id], true
}

// SeriesCount returns the number of indexed series.
func (idx *Index) SeriesCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.seriesCount
}

// LabelNames returns every label name present in the index, sorted.
func (idx *Index) LabelNames() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[string]struct{})
	for key := range idx.postings.All() {
		if bytes.Equal(key, allKey) {
			continue
		}
		name, _, ok := splitLabelKey(key)
		if ok {
			seen[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LabelValues returns every value currently indexed for label name, sorted.
func (idx *Index) LabelValues(name string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var values []string
	for key := range idx.postings.PrefixScan(labelPrefix(name)) {
		_, value, ok := splitLabelKey(key)
		if ok {
			values = append(values, value)
		}
	}
	sort.Strings(values)
	return values
}

// LabelValuesFor returns every value of label name across series currently
// selected by ms (a non-empty matcher set), sorted.
func (idx *Index) LabelValuesFor(name string, ms matcher.Matchers) ([]string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	selected, err := idx.evaluateLocked(ms)
	if err != nil {
		return nil, err
	}

	var values []string
	for key, p := range idx.postings.PrefixScan(labelPrefix(name)) {
		_, value, ok := splitLabelKey(key)
		if !ok {
			continue
		}
		if !bitmap.Intersect(p, selected).IsEmpty() {
			values = append(values, value)
		}
	}
	sort.Strings(values)
	return values, nil
}

func splitLabelKey(key []byte) (name, value string, ok bool) {
	if bytes.Equal(key, allKey) {
		return "", "", false
	}
	i := bytes.IndexByte(key, labelSep)
	if i < 0 {
		return "", "", false
	}
	return string(key[:i]), string(key[i+1:]), true
}

// LabelValueCardinality names a (label, value) pair together with its
// posting cardinality, for CardinalityStats' top-k ranking.
type LabelValueCardinality struct {
	Name        string
	Value       string
	Cardinality uint64
}

// cardHeap is a min-heap over LabelValueCardinality by Cardinality, letting
// CardinalityStats keep only the top `limit` entries without sorting the
// entire index.
type cardHeap []LabelValueCardinality

func (h cardHeap) Len() int            { return len(h) }
func (h cardHeap) Less(i, j int) bool  { return h[i].Cardinality < h[j].Cardinality }
func (h cardHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *cardHeap) Push(x any)         { *h = append(*h, x.(LabelValueCardinality)) }
func (h *cardHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// CardinalityStats returns the limit label-value pairs with the highest
// posting cardinality, descending. A non-empty focusLabel restricts the
// ranking to that label's values.
func (idx *Index) CardinalityStats(focusLabel string, limit int) []LabelValueCardinality {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if limit <= 0 {
		return nil
	}

	scan := idx.postings.All()
	if focusLabel != "" {
		scan = idx.postings.PrefixScan(labelPrefix(focusLabel))
	}

	h := &cardHeap{}
	heap.Init(h)

	for key, p := range scan {
		if bytes.Equal(key, allKey) {
			continue
		}
		name, value, ok := splitLabelKey(key)
		if !ok {
			continue
		}
		entry := LabelValueCardinality{Name: name, Value: value, Cardinality: p.Cardinality()}
		if h.Len() < limit {
			heap.Push(h, entry)
		} else if (*h)[0].Cardinality < entry.Cardinality {
			heap.Pop(h)
			heap.Push(h, entry)
		}
	}

	out := make([]LabelValueCardinality, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(LabelValueCardinality)
	}
	return out
}
