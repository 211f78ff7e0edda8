package wire

import (
	"encoding/binary"
	"math"

	"github.com/chronoshard/tsdb/pkg/matcher"
	"github.com/chronoshard/tsdb/pkg/series"
	"github.com/chronoshard/tsdb/pkg/tsdberr"
	"github.com/chronoshard/tsdb/pkg/tsquery"
)

func errTruncated(field string) error {
	return tsdberr.New(tsdberr.InternalCodecError, "wire: truncated payload reading %s", field)
}

// encoder appends an inlined-table payload into a growing byte slice.
type encoder struct {
	buf []byte
}

func (e *encoder) bytes() []byte { return e.buf }

func (e *encoder) byte(b byte) { e.buf = append(e.buf, b) }

func (e *encoder) bool(b bool) {
	if b {
		e.byte(1)
	} else {
		e.byte(0)
	}
}

func (e *encoder) uvarint(v uint64) { e.buf = binary.AppendUvarint(e.buf, v) }

func (e *encoder) varint(v int64) { e.buf = binary.AppendVarint(e.buf, v) }

func (e *encoder) float64(v float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) bytesField(b []byte) {
	e.uvarint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) string(s string) { e.bytesField([]byte(s)) }

func (e *encoder) strings(ss []string) {
	e.uvarint(uint64(len(ss)))
	for _, s := range ss {
		e.string(s)
	}
}

func (e *encoder) stringMap(m map[string]string) {
	e.uvarint(uint64(len(m)))
	for k, v := range m {
		e.string(k)
		e.string(v)
	}
}

func (e *encoder) matchValue(v matcher.MatchValue) {
	e.bool(v.IsList)
	if v.IsList {
		e.strings(v.List)
	} else {
		e.string(v.Single)
	}
}

func (e *encoder) matcherOne(m *matcher.Matcher) {
	e.string(m.Name)
	e.byte(byte(m.Type))
	e.matchValue(m.Value)
}

func (e *encoder) andGroup(g matcher.ANDGroup) {
	e.uvarint(uint64(len(g)))
	for _, m := range g {
		e.matcherOne(m)
	}
}

func (e *encoder) matchers(ms matcher.Matchers) {
	e.uvarint(uint64(len(ms.Groups)))
	for _, g := range ms.Groups {
		e.andGroup(g)
	}
}

func (e *encoder) timeRange(r tsquery.Range) {
	e.varint(r.Start)
	e.varint(r.End)
	e.bool(r.UseEarliest)
	e.bool(r.UseLatest)
}

func (e *encoder) valueFilter(f tsquery.ValueFilter) {
	e.bool(f.Enabled)
	e.float64(f.Min)
	e.float64(f.Max)
}

func (e *encoder) groupBy(g tsquery.GroupBy) {
	e.bool(g.Enabled)
	e.string(g.Name)
	e.byte(byte(g.Reducer))
}

func (e *encoder) aggregateOptions(o *tsquery.AggregateOptions) {
	e.bool(o != nil)
	if o == nil {
		return
	}
	e.byte(byte(o.Func))
	e.varint(o.BucketDuration)
	e.byte(byte(o.Anchor))
	e.varint(o.AnchorTimestamp)
	e.byte(byte(o.BucketTS))
	e.byte(byte(o.EmptyPolicy))
	e.byte(byte(o.Filter))
	e.float64(o.FilterValue)
	e.bool(o.ForGroupBy)
}

func (e *encoder) sample(s series.Sample) {
	e.varint(s.Timestamp)
	e.float64(s.Value)
}

func (e *encoder) samples(ss []series.Sample) {
	e.uvarint(uint64(len(ss)))
	for _, s := range ss {
		e.sample(s)
	}
}

func (e *encoder) resultRow(r tsquery.ResultRow) {
	e.stringMap(r.Labels)
	e.samples(r.Samples)
}

func (e *encoder) resultRows(rows []tsquery.ResultRow) {
	e.uvarint(uint64(len(rows)))
	for _, r := range rows {
		e.resultRow(r)
	}
}

// decoder reads an inlined-table payload from a byte cursor.
type decoder struct {
	data []byte
	pos  int
}

func newDecoder(data []byte) *decoder { return &decoder{data: data} }

func (d *decoder) byte() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, errTruncated("byte")
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) bool() (bool, error) {
	b, err := d.byte()
	return b != 0, err
}

func (d *decoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.data[d.pos:])
	if n <= 0 {
		return 0, errTruncated("uvarint")
	}
	d.pos += n
	return v, nil
}

func (d *decoder) varint() (int64, error) {
	v, n := binary.Varint(d.data[d.pos:])
	if n <= 0 {
		return 0, errTruncated("varint")
	}
	d.pos += n
	return v, nil
}

func (d *decoder) float64() (float64, error) {
	if d.pos+8 > len(d.data) {
		return 0, errTruncated("float64")
	}
	bits := binary.LittleEndian.Uint64(d.data[d.pos : d.pos+8])
	d.pos += 8
	return math.Float64frombits(bits), nil
}

func (d *decoder) bytesField() ([]byte, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	if d.pos+int(n) > len(d.data) {
		return nil, errTruncated("bytes")
	}
	b := d.data[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return b, nil
}

func (d *decoder) string() (string, error) {
	b, err := d.bytesField()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) strings() ([]string, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		s, err := d.string()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (d *decoder) stringMap() (map[string]string, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, n)
	for i := uint64(0); i < n; i++ {
		k, err := d.string()
		if err != nil {
			return nil, err
		}
		v, err := d.string()
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (d *decoder) matchValue() (matcher.MatchValue, error) {
	isList, err := d.bool()
	if err != nil {
		return matcher.MatchValue{}, err
	}
	if isList {
		list, err := d.strings()
		if err != nil {
			return matcher.MatchValue{}, err
		}
		return matcher.ListValue(list...), nil
	}
	s, err := d.string()
	if err != nil {
		return matcher.MatchValue{}, err
	}
	return matcher.SingleValue(s), nil
}

func (d *decoder) matcherOne() (*matcher.Matcher, error) {
	name, err := d.string()
	if err != nil {
		return nil, err
	}
	typByte, err := d.byte()
	if err != nil {
		return nil, err
	}
	value, err := d.matchValue()
	if err != nil {
		return nil, err
	}
	m, err := matcher.New(name, matcher.Type(typByte), value)
	if err != nil {
		return nil, tsdberr.Wrap(tsdberr.InternalCodecError, err, "wire: decoding matcher %q", name)
	}
	return m, nil
}

func (d *decoder) andGroup() (matcher.ANDGroup, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	g := make(matcher.ANDGroup, 0, n)
	for i := uint64(0); i < n; i++ {
		m, err := d.matcherOne()
		if err != nil {
			return nil, err
		}
		g = append(g, m)
	}
	return g, nil
}

func (d *decoder) matchers() (matcher.Matchers, error) {
	n, err := d.uvarint()
	if err != nil {
		return matcher.Matchers{}, err
	}
	groups := make([]matcher.ANDGroup, 0, n)
	for i := uint64(0); i < n; i++ {
		g, err := d.andGroup()
		if err != nil {
			return matcher.Matchers{}, err
		}
		groups = append(groups, g)
	}
	return matcher.Matchers{Groups: groups}, nil
}

func (d *decoder) timeRange() (tsquery.Range, error) {
	start, err := d.varint()
	if err != nil {
		return tsquery.Range{}, err
	}
	end, err := d.varint()
	if err != nil {
		return tsquery.Range{}, err
	}
	useEarliest, err := d.bool()
	if err != nil {
		return tsquery.Range{}, err
	}
	useLatest, err := d.bool()
	if err != nil {
		return tsquery.Range{}, err
	}
	return tsquery.Range{Start: start, End: end, UseEarliest: useEarliest, UseLatest: useLatest}, nil
}

func (d *decoder) valueFilter() (tsquery.ValueFilter, error) {
	enabled, err := d.bool()
	if err != nil {
		return tsquery.ValueFilter{}, err
	}
	min, err := d.float64()
	if err != nil {
		return tsquery.ValueFilter{}, err
	}
	max, err := d.float64()
	if err != nil {
		return tsquery.ValueFilter{}, err
	}
	return tsquery.ValueFilter{Enabled: enabled, Min: min, Max: max}, nil
}

func (d *decoder) groupBy() (tsquery.GroupBy, error) {
	enabled, err := d.bool()
	if err != nil {
		return tsquery.GroupBy{}, err
	}
	name, err := d.string()
	if err != nil {
		return tsquery.GroupBy{}, err
	}
	reducer, err := d.byte()
	if err != nil {
		return tsquery.GroupBy{}, err
	}
	return tsquery.GroupBy{Enabled: enabled, Name: name, Reducer: tsquery.AggFunc(reducer)}, nil
}

func (d *decoder) aggregateOptions() (*tsquery.AggregateOptions, error) {
	present, err := d.bool()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	fn, err := d.byte()
	if err != nil {
		return nil, err
	}
	bucketDuration, err := d.varint()
	if err != nil {
		return nil, err
	}
	anchor, err := d.byte()
	if err != nil {
		return nil, err
	}
	anchorTimestamp, err := d.varint()
	if err != nil {
		return nil, err
	}
	bucketTS, err := d.byte()
	if err != nil {
		return nil, err
	}
	emptyPolicy, err := d.byte()
	if err != nil {
		return nil, err
	}
	filter, err := d.byte()
	if err != nil {
		return nil, err
	}
	filterValue, err := d.float64()
	if err != nil {
		return nil, err
	}
	forGroupBy, err := d.bool()
	if err != nil {
		return nil, err
	}
	return &tsquery.AggregateOptions{
		Func:            tsquery.AggFunc(fn),
		BucketDuration:  bucketDuration,
		Anchor:          tsquery.AnchorMode(anchor),
		AnchorTimestamp: anchorTimestamp,
		BucketTS:        tsquery.BucketTimestampMode(bucketTS),
		EmptyPolicy:     tsquery.EmptyPolicy(emptyPolicy),
		Filter:          tsquery.CompareOp(filter),
		FilterValue:     filterValue,
		ForGroupBy:      forGroupBy,
	}, nil
}

func (d *decoder) sample() (series.Sample, error) {
	ts, err := d.varint()
	if err != nil {
		return series.Sample{}, err
	}
	v, err := d.float64()
	if err != nil {
		return series.Sample{}, err
	}
	return series.Sample{Timestamp: ts, Value: v}, nil
}

func (d *decoder) samples() ([]series.Sample, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	out := make([]series.Sample, 0, n)
	for i := uint64(0); i < n; i++ {
		s, err := d.sample()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (d *decoder) resultRow() (tsquery.ResultRow, error) {
	labels, err := d.stringMap()
	if err != nil {
		return tsquery.ResultRow{}, err
	}
	samples, err := d.samples()
	if err != nil {
		return tsquery.ResultRow{}, err
	}
	return tsquery.ResultRow{Labels: labels, Samples: samples}, nil
}

func (d *decoder) resultRows() ([]tsquery.ResultRow, error) {
	n, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	out := make([]tsquery.ResultRow, 0, n)
	for i := uint64(0); i < n; i++ {
		r, err := d.resultRow()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
