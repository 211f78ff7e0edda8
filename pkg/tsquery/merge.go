package tsquery

import (
	"container/heap"

	"github.com/chronoshard/tsdb/pkg/series"
)

// MergeIterator merges N ascending per-series sample iterators into a single
// ascending stream in O(M log N), M total samples across N sources, using a
// real binary heap via container/heap so each advance costs O(log N).
//
// Duplicate timestamps across sources: the source that appears earliest in
// the iterators slice passed to NewMergeIterator wins and its sample is
// returned; the other sources' samples at that timestamp are silently
// dropped. Iterator order is defined to be selector resolution order, so in
// effect "earlier series wins" ties at equal timestamps (open question OQ2,
// decided).
type MergeIterator struct {
	h   *mergeHeap
	cur series.Sample
	err error
}

type heapItem struct {
	it     SampleIterator
	sample series.Sample
	order  int // index in the original iterators slice; lower wins ties
}

type mergeHeap []*heapItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if h[i].sample.Timestamp != h[j].sample.Timestamp {
		return h[i].sample.Timestamp < h[j].sample.Timestamp
	}
	return h[i].order < h[j].order
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(*heapItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// NewMergeIterator builds a MergeIterator over iterators, advancing each once
// to prime the heap. iterators must already be ascending.
func NewMergeIterator(iterators []SampleIterator) *MergeIterator {
	h := &mergeHeap{}
	heap.Init(h)

	for i, it := range iterators {
		if it.Next() {
			heap.Push(h, &heapItem{it: it, sample: it.At(), order: i})
		}
	}

	return &MergeIterator{h: h}
}

// Next advances to the next distinct timestamp, dropping duplicate-timestamp
// samples from lower-priority (later-order) sources.
func (m *MergeIterator) Next() bool {
	if m.h.Len() == 0 {
		return false
	}

	top := (*m.h)[0]
	m.cur = top.sample

	// Drain every item sharing this timestamp: the winner (top) advances and
	// is re-pushed; every other same-timestamp item is also advanced (its
	// duplicate sample is discarded) and re-pushed, so no source stalls.
	for m.h.Len() > 0 && (*m.h)[0].sample.Timestamp == m.cur.Timestamp {
		item := heap.Pop(m.h).(*heapItem)
		if item.it.Next() {
			item.sample = item.it.At()
			heap.Push(m.h, item)
		} else if err := item.it.Err(); err != nil {
			m.err = err
		}
	}

	return true
}

func (m *MergeIterator) At() series.Sample { return m.cur }
func (m *MergeIterator) Err() error        { return m.err }

// ReduceMerged k-way merges per-series iterators and folds every run of
// equal timestamps into one sample with r, in O(M log N) for M total
// samples across N sources. Within one timestamp, values reach the reducer
// in source order (lower iterator index first), so order-sensitive reducers
// like First and Last are deterministic.
func ReduceMerged(r *Reducer, iterators []SampleIterator) ([]series.Sample, error) {
	h := &mergeHeap{}
	heap.Init(h)
	for i, it := range iterators {
		if it.Next() {
			heap.Push(h, &heapItem{it: it, sample: it.At(), order: i})
		} else if err := it.Err(); err != nil {
			return nil, err
		}
	}

	var out []series.Sample
	values := make([]float64, 0, len(iterators))
	for h.Len() > 0 {
		ts := (*h)[0].sample.Timestamp
		values = values[:0]
		for h.Len() > 0 && (*h)[0].sample.Timestamp == ts {
			item := heap.Pop(h).(*heapItem)
			values = append(values, item.sample.Value)
			if item.it.Next() {
				item.sample = item.it.At()
				heap.Push(h, item)
			} else if err := item.it.Err(); err != nil {
				return nil, err
			}
		}
		out = append(out, series.Sample{Timestamp: ts, Value: r.Reduce(values)})
	}
	return out, nil
}

// Close closes every underlying iterator still registered in the heap.
func (m *MergeIterator) Close() error {
	var firstErr error
	for _, item := range *m.h {
		if err := item.it.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	*m.h = nil
	return firstErr
}
