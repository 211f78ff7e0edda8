package bitmap

// COW is a copy-on-write handle over a Posting: either a Ref borrowed from
// somewhere else (the index's own stored postings) or an Owned value created
// for this call's exclusive use. Evaluation code reads through Value without
// caring which; only a caller that needs to mutate in place calls Mut, which
// clones lazily on first write.
type COW struct {
	posting *Posting
	owned   bool
}

// Ref wraps a borrowed Posting. The caller must not mutate p directly while
// the COW is in use; go through Mut instead.
func Ref(p *Posting) COW {
	return COW{posting: p, owned: false}
}

// Owned wraps a Posting already exclusively owned by the caller.
func Owned(p *Posting) COW {
	return COW{posting: p, owned: true}
}

// Value returns the posting for read-only use.
func (c COW) Value() *Posting {
	return c.posting
}

// Mut returns a posting safe to mutate in place, cloning the underlying
// bitmap on first write if c currently borrows one.
func (c *COW) Mut() *Posting {
	if !c.owned {
		c.posting = c.posting.Clone()
		c.owned = true
	}
	return c.posting
}

// IntoOwned consumes c and returns a Posting the caller now exclusively
// owns, cloning only if c was still a borrowed Ref.
func (c COW) IntoOwned() *Posting {
	if c.owned {
		return c.posting
	}
	return c.posting.Clone()
}
