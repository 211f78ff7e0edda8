package selector

import (
	"fmt"

	"github.com/chronoshard/tsdb/pkg/matcher"
	"github.com/chronoshard/tsdb/pkg/series"
	"github.com/chronoshard/tsdb/pkg/tsdberr"
)

// Parse parses a series selector string into a matcher.Matchers tree.
//
// Accepted forms:
//
//	metric                                   bare metric name
//	label=value                              RedisTimeSeries-style predicate
//	label!=value / label=~regex / label!~regex
//	label=(v1,v2,v3)                         list value (= and != only)
//	metric{label=value, ...}                 Prometheus-style filter set
//	{label=value, ...}                       filter set with no metric name
//	{"metric", label=value, ...}             quoted metric name inside a filter set
//	metric{...} or {...}                     disjunction of filter sets
func Parse(s string) (matcher.Matchers, error) {
	if s == "" {
		return matcher.Matchers{}, tsdberr.New(tsdberr.ArgumentError, "empty series selector")
	}

	p := &parser{lex: newLexer(s)}
	if err := p.advance(); err != nil {
		return matcher.Matchers{}, tsdberr.Wrap(tsdberr.ArgumentError, err, "parse series selector")
	}

	ms, err := p.parseSelector()
	if err != nil {
		return matcher.Matchers{}, tsdberr.Wrap(tsdberr.ArgumentError, err, "parse series selector")
	}
	if p.tok.kind != tokEOF {
		return matcher.Matchers{}, tsdberr.New(tsdberr.ArgumentError, "parse series selector: unexpected trailing %s", p.tok.kind)
	}
	if err := ms.Validate(); err != nil {
		return matcher.Matchers{}, tsdberr.Wrap(tsdberr.ArgumentError, err, "parse series selector")
	}
	return ms, nil
}

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) expect(kind tokenKind) (token, error) {
	if p.tok.kind != kind {
		return token{}, fmt.Errorf("expected %s, got %s %q", kind, p.tok.kind, p.tok.text)
	}
	tok := p.tok
	if err := p.advance(); err != nil {
		return token{}, err
	}
	return tok, nil
}

// parseSelector parses the top-level grammar: a bare identifier/string, a
// RedisTimeSeries predicate, or a Prometheus-style `{...}` filter set
// (optionally preceded by a metric name), producing the full Matchers.
func (p *parser) parseSelector() (matcher.Matchers, error) {
	if p.tok.kind == tokLeftBrace {
		if err := p.advance(); err != nil {
			return matcher.Matchers{}, err
		}
		return p.parseLabelFilterSet("")
	}

	var name string
	switch p.tok.kind {
	case tokIdentifier:
		name = p.tok.text
		if err := p.advance(); err != nil {
			return matcher.Matchers{}, err
		}
	case tokString:
		name = unquote(p.tok.text)
		if err := p.advance(); err != nil {
			return matcher.Matchers{}, err
		}
	default:
		return matcher.Matchers{}, fmt.Errorf("expected a metric name, string, or '{', got %s %q", p.tok.kind, p.tok.text)
	}

	switch p.tok.kind {
	case tokEOF:
		m := matcher.MustNew(series.ReservedMetricLabel, matcher.Equal, matcher.SingleValue(name))
		return matcher.AND(m), nil
	case tokLeftBrace:
		if err := p.advance(); err != nil {
			return matcher.Matchers{}, err
		}
		return p.parseLabelFilterSet(name)
	case tokEqual, tokNotEqual, tokRegexEqual, tokRegexNotEqual:
		op := p.tok.kind
		if err := p.advance(); err != nil {
			return matcher.Matchers{}, err
		}
		m, err := p.parsePredicate(name, op)
		if err != nil {
			return matcher.Matchers{}, err
		}
		return matcher.AND(m), nil
	default:
		return matcher.Matchers{}, fmt.Errorf("expected '{', an operator, or end of input after %q, got %s", name, p.tok.kind)
	}
}

// parseLabelFilterSet parses the body of one or more `{...}` filter groups
// joined by `or`, with the left brace already consumed for the first group.
func (p *parser) parseLabelFilterSet(name string) (matcher.Matchers, error) {
	var groups []matcher.ANDGroup

	group, err := p.parseOneFilterGroup()
	if err != nil {
		return matcher.Matchers{}, err
	}
	groups = append(groups, group)

	for p.tok.kind == tokOr {
		if err := p.advance(); err != nil {
			return matcher.Matchers{}, err
		}
		if _, err := p.expect(tokLeftBrace); err != nil {
			return matcher.Matchers{}, err
		}
		group, err := p.parseOneFilterGroup()
		if err != nil {
			return matcher.Matchers{}, err
		}
		groups = append(groups, group)
	}

	if name != "" {
		for i, g := range groups {
			groups[i] = g.WithMetricName(name)
		}
	}

	return matcher.OR(groups...), nil
}

// parseOneFilterGroup parses `label op value, ...}` with the opening brace
// already consumed, stopping at the matching `}`.
func (p *parser) parseOneFilterGroup() (matcher.ANDGroup, error) {
	var group matcher.ANDGroup

	if p.tok.kind == tokRightBrace {
		if err := p.advance(); err != nil {
			return nil, err
		}
		return group, nil
	}

	for {
		var label string
		quoted := p.tok.kind == tokString
		switch p.tok.kind {
		case tokIdentifier:
			label = p.tok.text
		case tokString:
			label = unquote(p.tok.text)
		default:
			return nil, fmt.Errorf("expected a label name, got %s %q", p.tok.kind, p.tok.text)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}

		if quoted && (p.tok.kind == tokComma || p.tok.kind == tokRightBrace) {
			// A quoted string with no operator names the metric.
			group = append(group, matcher.MustNew(series.ReservedMetricLabel, matcher.Equal, matcher.SingleValue(label)))
		} else {
			op, err := p.expectOperator()
			if err != nil {
				return nil, err
			}

			m, err := p.parsePredicate(label, op)
			if err != nil {
				return nil, err
			}
			group = append(group, m)
		}

		switch p.tok.kind {
		case tokComma:
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.tok.kind == tokRightBrace {
				if err := p.advance(); err != nil {
					return nil, err
				}
				return group, nil
			}
		case tokRightBrace:
			if err := p.advance(); err != nil {
				return nil, err
			}
			return group, nil
		default:
			return nil, fmt.Errorf("expected ',' or '}', got %s %q", p.tok.kind, p.tok.text)
		}
	}
}

func (p *parser) expectOperator() (tokenKind, error) {
	switch p.tok.kind {
	case tokEqual, tokNotEqual, tokRegexEqual, tokRegexNotEqual:
		op := p.tok.kind
		if err := p.advance(); err != nil {
			return 0, err
		}
		return op, nil
	default:
		return 0, fmt.Errorf("expected '=', '!=', '=~', or '!~', got %s %q", p.tok.kind, p.tok.text)
	}
}

// parsePredicate parses the value following an already-consumed operator
// and builds the corresponding Matcher. List values (`(a,b,c)`) are only
// valid with = and !=, per the grammar.
func (p *parser) parsePredicate(label string, op tokenKind) (*matcher.Matcher, error) {
	var typ matcher.Type
	switch op {
	case tokEqual:
		typ = matcher.Equal
	case tokNotEqual:
		typ = matcher.NotEqual
	case tokRegexEqual:
		typ = matcher.RegexEq
	case tokRegexNotEqual:
		typ = matcher.RegexNeq
	}

	if typ == matcher.RegexEq || typ == matcher.RegexNeq {
		value, err := p.parseScalarValue()
		if err != nil {
			return nil, err
		}
		m, err := matcher.New(label, typ, matcher.SingleValue(value))
		if err != nil {
			return nil, err
		}
		return m, nil
	}

	value, err := p.parseEqualityValue()
	if err != nil {
		return nil, err
	}
	m, err := matcher.New(label, typ, value)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (p *parser) parseScalarValue() (string, error) {
	switch p.tok.kind {
	case tokString:
		value := unquote(p.tok.text)
		return value, p.advance()
	case tokIdentifier:
		value := p.tok.text
		return value, p.advance()
	default:
		return "", fmt.Errorf("expected a value, got %s %q", p.tok.kind, p.tok.text)
	}
}

// parseEqualityValue parses the value of an = or != predicate: a quoted
// string, a bareword, or a parenthesized list of either.
func (p *parser) parseEqualityValue() (matcher.MatchValue, error) {
	if p.tok.kind != tokLeftParen {
		value, err := p.parseScalarValue()
		if err != nil {
			return matcher.MatchValue{}, err
		}
		return matcher.SingleValue(value), nil
	}

	if err := p.advance(); err != nil {
		return matcher.MatchValue{}, err
	}

	var values []string
	for p.tok.kind != tokRightParen {
		value, err := p.parseScalarValue()
		if err != nil {
			return matcher.MatchValue{}, err
		}
		values = append(values, value)

		if p.tok.kind == tokComma {
			if err := p.advance(); err != nil {
				return matcher.MatchValue{}, err
			}
		} else if p.tok.kind != tokRightParen {
			return matcher.MatchValue{}, fmt.Errorf("expected ',' or ')' in value list, got %s %q", p.tok.kind, p.tok.text)
		}
	}
	if err := p.advance(); err != nil {
		return matcher.MatchValue{}, err
	}

	return matcher.ListValue(values...), nil
}
