package index

import (
	"fmt"
	"sort"

	"github.com/chronoshard/tsdb/pkg/bitmap"
	"github.com/chronoshard/tsdb/pkg/matcher"
	"github.com/chronoshard/tsdb/pkg/tsdberr"
)

// PostingsForMatcher evaluates a single matcher and returns the matching
// posting set. Equal/NotEqual matchers are resolved by a direct trie lookup;
// regex matchers prefix-scan every value under the label name and filter,
// short-circuiting on the trivial patterns ".*" and "" that a matcher's
// IsTrivialRegex reports.
//
// An empty match value is special-cased: since label values are never empty
// once set, Equal("") can't be resolved by
// a literal trie lookup — it means "series that don't carry this label at
// all", i.e. the complement of existsLocked. NotEqual("") is its inverse:
// "series that carry this label, with any value", i.e. existsLocked itself.
func (idx *Index) PostingsForMatcher(m *matcher.Matcher) bitmap.COW {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.postingsForMatcherLocked(m)
}

func (idx *Index) postingsForMatcherLocked(m *matcher.Matcher) bitmap.COW {
	switch m.Type {
	case matcher.Equal:
		if m.Value.IsEmpty() {
			return idx.absentLocked(m.Name)
		}
		return idx.equalLocked(m)
	case matcher.NotEqual:
		if m.Value.IsEmpty() {
			return idx.existsLocked(m.Name)
		}
		return bitmap.Owned(bitmap.Intersect(idx.allLocked(), idx.complementOf(idx.equalLocked(m).Value())))
	case matcher.RegexEq:
		if all, _ := m.IsTrivialRegex(); all {
			// ".*" also matches the empty-string default of an absent
			// label, so it selects every series, not just those carrying
			// the label.
			return bitmap.Ref(idx.allLocked())
		}
		if _, empty := m.IsTrivialRegex(); empty {
			return idx.absentLocked(m.Name)
		}
		return bitmap.Owned(idx.regexLocked(m))
	case matcher.RegexNeq:
		if all, _ := m.IsTrivialRegex(); all {
			return bitmap.Owned(bitmap.New())
		}
		if _, empty := m.IsTrivialRegex(); empty {
			return idx.existsLocked(m.Name)
		}
		matched := idx.regexLocked(m)
		return bitmap.Owned(bitmap.Intersect(idx.allLocked(), idx.complementOf(matched)))
	default:
		return bitmap.Owned(bitmap.New())
	}
}

// equalLocked resolves an Equal matcher, including list values (unioned).
func (idx *Index) equalLocked(m *matcher.Matcher) bitmap.COW {
	if m.Value.IsList {
		parts := make([]*bitmap.Posting, 0, len(m.Value.List))
		for _, v := range m.Value.List {
			if p, ok := idx.postings.Get(labelKey(m.Name, v)); ok {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			return bitmap.Owned(bitmap.New())
		}
		return bitmap.Owned(bitmap.Union(parts...))
	}
	if p, ok := idx.postings.Get(labelKey(m.Name, m.Value.Single)); ok {
		return bitmap.Ref(p)
	}
	return bitmap.Owned(bitmap.New())
}

// existsLocked returns every series carrying label name, any value (the
// NotEqual("") / trivial-empty RegexNeq semantics).
func (idx *Index) existsLocked(name string) bitmap.COW {
	parts := []*bitmap.Posting{}
	for _, p := range idx.postings.PrefixScan(labelPrefix(name)) {
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return bitmap.Owned(bitmap.New())
	}
	return bitmap.Owned(bitmap.Union(parts...))
}

// absentLocked returns every series that does not carry label name at all
// (the Equal("") / trivial-empty-regex semantics).
func (idx *Index) absentLocked(name string) bitmap.COW {
	return bitmap.Owned(idx.complementOf(idx.existsLocked(name).Value()))
}

// regexLocked unions every posting under name whose value matches m.
func (idx *Index) regexLocked(m *matcher.Matcher) *bitmap.Posting {
	parts := []*bitmap.Posting{}
	for key, p := range idx.postings.PrefixScan(labelPrefix(m.Name)) {
		_, value, ok := splitLabelKey(key)
		if !ok {
			continue
		}
		if m.Matches(value) {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return bitmap.New()
	}
	return bitmap.Union(parts...)
}

func (idx *Index) allLocked() *bitmap.Posting {
	if p, ok := idx.postings.Get(allKey); ok {
		return p
	}
	return bitmap.New()
}

// complementOf returns a new posting holding every indexed series not in p.
func (idx *Index) complementOf(p *bitmap.Posting) *bitmap.Posting {
	result := idx.allLocked().Clone()
	result.AndNotInPlace(p)
	return result
}

// PostingsForMatchers evaluates a full AND/OR matcher tree.
//
// Each AND group is partitioned into "intersecting" matchers (Equal,
// RegexEq — narrow the candidate set) and "subtracting" matchers
// (NotEqual, RegexNeq — only ever remove from it). Intersecting matchers
// are ordered
// cheapest-first (smallest posting cardinality) so the running
// intersection shrinks as fast as possible and can early-exit the moment
// it is empty; subtracting matchers are applied only after the
// intersecting set is known, since they never need to visit more series
// than the candidate set already holds.
func (idx *Index) PostingsForMatchers(ms matcher.Matchers) (*bitmap.Posting, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.evaluateLocked(ms)
}

func (idx *Index) evaluateLocked(ms matcher.Matchers) (*bitmap.Posting, error) {
	if err := ms.Validate(); err != nil {
		return nil, tsdberr.Wrap(tsdberr.ArgumentError, err, "invalid matcher set")
	}
	if len(ms.Groups) == 0 {
		return nil, tsdberr.New(tsdberr.ArgumentError, "at least one matcher required")
	}

	groupResults := make([]*bitmap.Posting, 0, len(ms.Groups))
	for _, g := range ms.Groups {
		r, err := idx.evaluateGroupLocked(g)
		if err != nil {
			return nil, err
		}
		groupResults = append(groupResults, r)
	}

	if len(groupResults) == 1 {
		return groupResults[0], nil
	}
	return bitmap.Union(groupResults...), nil
}

func (idx *Index) evaluateGroupLocked(g matcher.ANDGroup) (*bitmap.Posting, error) {
	if len(g) == 0 {
		return nil, fmt.Errorf("index: empty AND group")
	}

	var intersecting, subtracting []*matcher.Matcher
	for _, m := range g {
		switch m.Type {
		case matcher.Equal, matcher.RegexEq:
			intersecting = append(intersecting, m)
		case matcher.NotEqual, matcher.RegexNeq:
			subtracting = append(subtracting, m)
		}
	}

	if len(intersecting) == 0 {
		// An AND group of only subtracting matchers starts from the
		// universal set and removes from there.
		result := idx.allLocked().Clone()
		for _, m := range subtracting {
			applySubtract(result, idx.postingsForMatcherLocked(negate(m)).Value())
		}
		return result, nil
	}

	type costed struct {
		m    *matcher.Matcher
		cow  bitmap.COW
		card uint64
	}
	costs := make([]costed, len(intersecting))
	for i, m := range intersecting {
		cow := idx.postingsForMatcherLocked(m)
		costs[i] = costed{m: m, cow: cow, card: cow.Value().Cardinality()}
	}
	sort.SliceStable(costs, func(i, j int) bool { return costs[i].card < costs[j].card })

	result := costs[0].cow.IntoOwned()
	for _, c := range costs[1:] {
		if result.IsEmpty() {
			break
		}
		result.AndInPlace(c.cow.Value())
	}

	for _, m := range subtracting {
		if result.IsEmpty() {
			break
		}
		applySubtract(result, idx.postingsForMatcherLocked(negate(m)).Value())
	}

	return result, nil
}

// applySubtract removes from result every series matching the positive form
// of a subtracting matcher (NotEqual/RegexNeq subtract the Equal/RegexEq
// posting of the same name/value, rather than materializing the already-
// negated posting and intersecting it).
func applySubtract(result *bitmap.Posting, positive *bitmap.Posting) {
	result.AndNotInPlace(positive)
}

// negate returns the positive-form matcher a subtracting matcher's removal
// set is computed from: NotEqual(v) removes Equal(v); RegexNeq(p) removes
// RegexEq(p).
func negate(m *matcher.Matcher) *matcher.Matcher {
	switch m.Type {
	case matcher.NotEqual:
		return matcher.MustNew(m.Name, matcher.Equal, m.Value)
	case matcher.RegexNeq:
		return matcher.MustNew(m.Name, matcher.RegexEq, m.Value)
	default:
		return m
	}
}
