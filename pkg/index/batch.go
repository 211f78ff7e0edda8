package index

import "github.com/chronoshard/tsdb/pkg/series"

// batchSize bounds how many series a single RemoveSeriesBatch call touches
// before releasing and reacquiring the write lock, so a bulk delete never
// holds it for the whole operation.
const batchSize = 500

// RemoveSeriesBatch removes every ID in ids, releasing and reacquiring the
// write lock every batchSize removals so concurrent readers and other
// mutations are never starved by a single large bulk delete. cursor is the
// number of IDs already processed by a prior call (0 on first call); the
// returned cursor should be passed back in to resume.
func (idx *Index) RemoveSeriesBatch(ids []series.SeriesID, cursor int) (nextCursor int, done bool) {
	end := cursor + batchSize
	if end > len(ids) {
		end = len(ids)
	}

	idx.mu.Lock()
	for _, id := range ids[cursor:end] {
		idx.removeLocked(id)
	}
	idx.mu.Unlock()

	return end, end >= len(ids)
}
