package storage

import "github.com/chronoshard/tsdb/pkg/series"

// sampleRange is a closed [Start, End] tombstone interval in milliseconds.
type sampleRange struct {
	Start, End int64
}

func (r sampleRange) covers(ts int64) bool {
	return ts >= r.Start && ts <= r.End
}

// DeleteRange removes every sample of a series with Start <= Timestamp <=
// End, returning how many samples were removed. Samples already flushed
// into sealed blocks are masked by a tombstone consulted on every Query
// rather than rewritten in place, so a delete never has to rewrite a block
// on disk. The compactor does not consult tombstones: masked samples stay
// in the blocks it rewrites, and the tombstone keeps masking them.
func (db *TSDB) DeleteRange(seriesHash uint64, start, end int64) (int, error) {
	if db.closed.Load() {
		return 0, ErrClosed
	}

	// Count what the caller is about to mask, before the tombstone hides it.
	doomed, err := db.Query(seriesHash, start, end)
	if err != nil {
		return 0, err
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	db.tombMu.Lock()
	if db.tombstones == nil {
		db.tombstones = make(map[uint64][]sampleRange)
	}
	db.tombstones[seriesHash] = append(db.tombstones[seriesHash], sampleRange{Start: start, End: end})
	db.tombMu.Unlock()

	db.stats.TotalSamples.Add(-int64(len(doomed)))
	return len(doomed), nil
}

// applyTombstones filters out samples masked by a series' tombstones.
// Returns the input slice untouched when the series has none.
func (db *TSDB) applyTombstones(seriesHash uint64, samples []series.Sample) []series.Sample {
	db.tombMu.RLock()
	ranges := db.tombstones[seriesHash]
	db.tombMu.RUnlock()

	if len(ranges) == 0 {
		return samples
	}

	kept := samples[:0]
	for _, s := range samples {
		masked := false
		for _, r := range ranges {
			if r.covers(s.Timestamp) {
				masked = true
				break
			}
		}
		if !masked {
			kept = append(kept, s)
		}
	}
	return kept
}
