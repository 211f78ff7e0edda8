// Package matcher defines label matchers and the AND/OR matcher trees used
// to select series by label set.
package matcher

import (
	"fmt"

	"github.com/grafana/regexp"

	"github.com/chronoshard/tsdb/pkg/series"
)

// Type identifies how a Matcher's Value is compared against a label value.
type Type int

const (
	Equal Type = iota
	NotEqual
	RegexEq
	RegexNeq
)

func (t Type) String() string {
	switch t {
	case Equal:
		return "="
	case NotEqual:
		return "!="
	case RegexEq:
		return "=~"
	case RegexNeq:
		return "!~"
	default:
		return "?"
	}
}

// MatchValue is the right-hand side of a Matcher. It is exactly one of:
// empty (IsEmpty), a single string (Single, IsList false), or a list of
// strings (List, IsList true) — list values are only valid with Equal/
// NotEqual, per the selector grammar.
type MatchValue struct {
	Single string
	List   []string
	IsList bool
}

// IsEmpty reports whether the value carries no strings at all.
func (v MatchValue) IsEmpty() bool {
	return !v.IsList && v.Single == ""
}

// SingleValue builds a non-list MatchValue.
func SingleValue(s string) MatchValue {
	return MatchValue{Single: s}
}

// ListValue builds a list MatchValue.
func ListValue(values ...string) MatchValue {
	return MatchValue{List: values, IsList: true}
}

// Matcher is a single label predicate: Name Type Value, e.g. host=server1.
type Matcher struct {
	Name  string
	Type  Type
	Value MatchValue

	// regex is compiled by New for RegexEq/RegexNeq matchers.
	regex *regexp.Regexp
}

// New constructs a Matcher, compiling its regex eagerly if Type requires one.
func New(name string, typ Type, value MatchValue) (*Matcher, error) {
	m := &Matcher{Name: name, Type: typ, Value: value}
	if typ == RegexEq || typ == RegexNeq {
		if value.IsList {
			return nil, fmt.Errorf("matcher: regex matcher for %q cannot take a list value", name)
		}
		re, err := regexp.Compile("^(?:" + value.Single + ")$")
		if err != nil {
			return nil, fmt.Errorf("matcher: invalid regex for label %q: %w", name, err)
		}
		m.regex = re
	}
	return m, nil
}

// MustNew is New, panicking on error. Intended for tests and static matcher
// construction at program startup.
func MustNew(name string, typ Type, value MatchValue) *Matcher {
	m, err := New(name, typ, value)
	if err != nil {
		panic(err)
	}
	return m
}

// IsTrivialRegex reports whether a RegexEq/RegexNeq matcher's pattern matches
// every string (".*") or matches only the empty string (""), allowing
// evaluation to short-circuit instead of scanning every posting value. Any
// other pattern, ".+" included, reports neither.
func (m *Matcher) IsTrivialRegex() (matchesAll, matchesEmpty bool) {
	if m.Type != RegexEq && m.Type != RegexNeq {
		return false, false
	}
	switch m.Value.Single {
	case ".*":
		return true, false
	case ".+":
		return false, false
	case "":
		return false, true
	default:
		return false, false
	}
}

// Matches reports whether value satisfies m.
func (m *Matcher) Matches(value string) bool {
	switch m.Type {
	case Equal:
		return m.matchesSetValue(value)
	case NotEqual:
		return !m.matchesSetValue(value)
	case RegexEq:
		return m.regex.MatchString(value)
	case RegexNeq:
		return !m.regex.MatchString(value)
	default:
		return false
	}
}

func (m *Matcher) matchesSetValue(value string) bool {
	if m.Value.IsList {
		for _, v := range m.Value.List {
			if v == value {
				return true
			}
		}
		return false
	}
	return value == m.Value.Single
}

// MatchesLabels reports whether a full label set satisfies m. Labels absent
// from the set are treated as the empty string, so Equal("") matches an
// absent label and NotEqual("") rejects it, matching Prometheus-style
// selector semantics.
func (m *Matcher) MatchesLabels(labels map[string]string) bool {
	return m.Matches(labels[m.Name])
}

// String renders m as `name<op>"value"` or `name<op>("a","b")` for list
// values.
func (m *Matcher) String() string {
	if m.Value.IsList {
		s := m.Name + m.Type.String() + "("
		for i, v := range m.Value.List {
			if i > 0 {
				s += ","
			}
			s += fmt.Sprintf("%q", v)
		}
		return s + ")"
	}
	return fmt.Sprintf("%s%s%q", m.Name, m.Type.String(), m.Value.Single)
}

// ANDGroup is a set of matchers that must all hold (logical AND). At most
// one matcher per label name is permitted within a single group.
type ANDGroup []*Matcher

// Validate rejects duplicate label-name matchers within the group; a
// repeated `__name__` matcher is rejected the same way as any other
// repeated label.
func (g ANDGroup) Validate() error {
	seen := make(map[string]bool, len(g))
	for _, m := range g {
		if seen[m.Name] {
			return fmt.Errorf("matcher: duplicate matcher for label %q", m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}

// MatchesLabels reports whether labels satisfies every matcher in the group.
func (g ANDGroup) MatchesLabels(labels map[string]string) bool {
	for _, m := range g {
		if !m.MatchesLabels(labels) {
			return false
		}
	}
	return true
}

// WithMetricName returns a copy of g with an extra Equal matcher on
// series.ReservedMetricLabel appended, folding an optional measurement name
// into the AND group at construction time rather than inside the evaluator.
func (g ANDGroup) WithMetricName(name string) ANDGroup {
	if name == "" {
		return g
	}
	out := make(ANDGroup, len(g), len(g)+1)
	copy(out, g)
	return append(out, MustNew(series.ReservedMetricLabel, Equal, SingleValue(name)))
}

// Matchers is the full boolean selector: a disjunction of AND groups. A
// single group degenerates to a plain AND selection.
type Matchers struct {
	Groups []ANDGroup
}

// AND builds a Matchers selecting a single AND group.
func AND(matchers ...*Matcher) Matchers {
	return Matchers{Groups: []ANDGroup{matchers}}
}

// OR builds a Matchers selecting the disjunction of the given AND groups.
func OR(groups ...ANDGroup) Matchers {
	return Matchers{Groups: groups}
}

// Validate checks every AND group for duplicate label matchers.
func (ms Matchers) Validate() error {
	for _, g := range ms.Groups {
		if err := g.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// MatchesLabels reports whether labels satisfies at least one AND group.
func (ms Matchers) MatchesLabels(labels map[string]string) bool {
	for _, g := range ms.Groups {
		if g.MatchesLabels(labels) {
			return true
		}
	}
	return false
}
