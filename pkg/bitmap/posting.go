// Package bitmap provides the compressed posting-set representation used by
// the label index: a 64-bit series-ID bitmap plus a copy-on-write wrapper so
// query evaluation can share postings without cloning them on the read path.
package bitmap

import (
	"bytes"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/chronoshard/tsdb/pkg/series"
)

// Posting is a compressed, sorted set of series IDs.
type Posting struct {
	bm *roaring64.Bitmap
}

// New returns an empty Posting.
func New() *Posting {
	return &Posting{bm: roaring64.New()}
}

// FromIDs returns a Posting containing exactly the given series IDs.
func FromIDs(ids ...series.SeriesID) *Posting {
	p := New()
	for _, id := range ids {
		p.Add(id)
	}
	return p
}

// Add inserts id into the posting set.
func (p *Posting) Add(id series.SeriesID) {
	p.bm.Add(uint64(id))
}

// Remove deletes id from the posting set, if present.
func (p *Posting) Remove(id series.SeriesID) {
	p.bm.Remove(uint64(id))
}

// Contains reports whether id is a member of the posting set.
func (p *Posting) Contains(id series.SeriesID) bool {
	return p.bm.Contains(uint64(id))
}

// Cardinality returns the number of series IDs in the posting set.
func (p *Posting) Cardinality() uint64 {
	return p.bm.GetCardinality()
}

// IsEmpty reports whether the posting set has zero members.
func (p *Posting) IsEmpty() bool {
	return p.bm.IsEmpty()
}

// Max returns the largest series ID in the posting set and whether the set
// was non-empty.
func (p *Posting) Max() (series.SeriesID, bool) {
	if p.bm.IsEmpty() {
		return 0, false
	}
	return series.SeriesID(p.bm.Maximum()), true
}

// Iterator returns an ascending, non-allocating iterator over series IDs.
func (p *Posting) Iterator() *roaring64.IntPeekable64 {
	it := p.bm.Iterator()
	return &it
}

// OrInPlace unions other into p.
func (p *Posting) OrInPlace(other *Posting) {
	p.bm.Or(other.bm)
}

// AndInPlace intersects p with other, keeping only common members.
func (p *Posting) AndInPlace(other *Posting) {
	p.bm.And(other.bm)
}

// AndNotInPlace removes from p every member also present in other.
func (p *Posting) AndNotInPlace(other *Posting) {
	p.bm.AndNot(other.bm)
}

// Intersect returns a new Posting holding the members common to a and b,
// without mutating either input.
func Intersect(a, b *Posting) *Posting {
	return &Posting{bm: roaring64.And(a.bm, b.bm)}
}

// Union returns a new Posting holding the members of every input, without
// mutating any of them.
func Union(postings ...*Posting) *Posting {
	bms := make([]*roaring64.Bitmap, len(postings))
	for i, p := range postings {
		bms[i] = p.bm
	}
	return &Posting{bm: roaring64.FastOr(bms...)}
}

// Clone returns an independent deep copy of p.
func (p *Posting) Clone() *Posting {
	return &Posting{bm: p.bm.Clone()}
}

// MarshalBinary serializes p using roaring64's own compact format.
func (p *Posting) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := p.bm.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("bitmap: marshal posting: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary replaces p's contents with the bitmap encoded in data.
func (p *Posting) UnmarshalBinary(data []byte) error {
	bm := roaring64.New()
	if _, err := bm.ReadFrom(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("bitmap: unmarshal posting: %w", err)
	}
	p.bm = bm
	return nil
}

// ToSlice materializes the posting set as a slice of series IDs, ascending.
// Intended for small result sets (response encoding, tests); hot paths should
// use Iterator instead.
func (p *Posting) ToSlice() []series.SeriesID {
	raw := p.bm.ToArray()
	out := make([]series.SeriesID, len(raw))
	for i, v := range raw {
		out[i] = series.SeriesID(v)
	}
	return out
}
