// Package trie provides an ordered, byte-keyed map from label-index keys to
// posting bitmaps, backed by a sorted slice with binary-search lookup and
// range scans: O(log n) locate plus O(result) scan, which is the only
// contract the index depends on.
package trie

import (
	"bytes"
	"iter"
	"sort"

	"github.com/chronoshard/tsdb/pkg/bitmap"
)

type entry struct {
	key     []byte
	posting *bitmap.Posting
}

// Trie is an ordered byte-keyed map of posting bitmaps.
//
// Zero value is not usable; construct with New. Trie is not safe for
// concurrent use without external synchronization — callers (pkg/index) hold
// their own RWMutex around it.
type Trie struct {
	entries []entry
}

// New returns an empty Trie.
func New() *Trie {
	return &Trie{}
}

// search returns the position of key in t.entries, and whether it was found.
func (t *Trie) search(key []byte) (int, bool) {
	i := sort.Search(len(t.entries), func(i int) bool {
		return bytes.Compare(t.entries[i].key, key) >= 0
	})
	if i < len(t.entries) && bytes.Equal(t.entries[i].key, key) {
		return i, true
	}
	return i, false
}

// Get returns the posting stored at key, if any.
func (t *Trie) Get(key []byte) (*bitmap.Posting, bool) {
	i, ok := t.search(key)
	if !ok {
		return nil, false
	}
	return t.entries[i].posting, true
}

// GetMut returns the posting stored at key for in-place mutation, creating
// an empty one if key is absent.
func (t *Trie) GetMut(key []byte) *bitmap.Posting {
	i, ok := t.search(key)
	if ok {
		return t.entries[i].posting
	}
	return t.insertAt(i, key, bitmap.New())
}

// Insert stores posting at key, overwriting any existing value.
func (t *Trie) Insert(key []byte, posting *bitmap.Posting) {
	i, ok := t.search(key)
	if ok {
		t.entries[i].posting = posting
		return
	}
	t.insertAt(i, key, posting)
}

func (t *Trie) insertAt(i int, key []byte, posting *bitmap.Posting) *bitmap.Posting {
	owned := make([]byte, len(key))
	copy(owned, key)

	t.entries = append(t.entries, entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = entry{key: owned, posting: posting}
	return posting
}

// Remove deletes the entry at key, if present.
func (t *Trie) Remove(key []byte) {
	i, ok := t.search(key)
	if !ok {
		return
	}
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
}

// Len returns the number of entries in the trie.
func (t *Trie) Len() int {
	return len(t.entries)
}

// All iterates every entry in ascending key order.
func (t *Trie) All() iter.Seq2[[]byte, *bitmap.Posting] {
	return func(yield func([]byte, *bitmap.Posting) bool) {
		for _, e := range t.entries {
			if !yield(e.key, e.posting) {
				return
			}
		}
	}
}

// PrefixScan iterates every entry whose key has the given prefix, ascending.
func (t *Trie) PrefixScan(prefix []byte) iter.Seq2[[]byte, *bitmap.Posting] {
	lo := sort.Search(len(t.entries), func(i int) bool {
		return bytes.Compare(t.entries[i].key, prefix) >= 0
	})

	return func(yield func([]byte, *bitmap.Posting) bool) {
		for i := lo; i < len(t.entries); i++ {
			if !bytes.HasPrefix(t.entries[i].key, prefix) {
				return
			}
			if !yield(t.entries[i].key, t.entries[i].posting) {
				return
			}
		}
	}
}

// Range iterates every entry with lo <= key < hi, ascending. A nil hi means
// unbounded above.
func (t *Trie) Range(lo, hi []byte) iter.Seq2[[]byte, *bitmap.Posting] {
	start := sort.Search(len(t.entries), func(i int) bool {
		return bytes.Compare(t.entries[i].key, lo) >= 0
	})

	return func(yield func([]byte, *bitmap.Posting) bool) {
		for i := start; i < len(t.entries); i++ {
			if hi != nil && bytes.Compare(t.entries[i].key, hi) >= 0 {
				return
			}
			if !yield(t.entries[i].key, t.entries[i].posting) {
				return
			}
		}
	}
}
