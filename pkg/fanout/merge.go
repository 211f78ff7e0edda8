package fanout

import (
	"sort"
	"strings"
	"sync"

	"github.com/chronoshard/tsdb/pkg/command"
	"github.com/chronoshard/tsdb/pkg/index"
	"github.com/chronoshard/tsdb/pkg/series"
	"github.com/chronoshard/tsdb/pkg/tsquery"
)

// MDelMerger sums per-shard deleted-series counters.
type MDelMerger struct {
	mu         sync.Mutex
	total      int
	anyFailure bool
}

// NewMDelMerger returns an MDelMerger ready to accept shard responses.
func NewMDelMerger() *MDelMerger {
	return &MDelMerger{}
}

func (m *MDelMerger) Merge(resp ShardResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if resp.Err != nil {
		m.anyFailure = true
		return
	}
	if r, ok := resp.Payload.(command.MDelResponse); ok {
		m.total += r.Deleted
	}
}

func (m *MDelMerger) Result() (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return command.MDelResponse{Deleted: m.total}, m.anyFailure
}

// MGetMerger concatenates per-shard MGET results, since each series lives
// on exactly one shard (no reduction needed, unlike MRANGE's label-based
// regrouping). Items are ordered by label fingerprint so the reply does not
// depend on shard arrival order.
type MGetMerger struct {
	mu         sync.Mutex
	items      []command.MGetItem
	anyFailure bool
}

func NewMGetMerger() *MGetMerger {
	return &MGetMerger{}
}

func (m *MGetMerger) Merge(resp ShardResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if resp.Err != nil {
		m.anyFailure = true
		return
	}
	if r, ok := resp.Payload.(command.MGetResponse); ok {
		m.items = append(m.items, r.Items...)
	}
}

func (m *MGetMerger) Result() (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := append([]command.MGetItem{}, m.items...)
	sort.Slice(items, func(i, j int) bool {
		return labelFingerprint(items[i].Labels) < labelFingerprint(items[j].Labels)
	})
	return command.MGetResponse{Items: items}, m.anyFailure
}

// MRangeMerger assembles per-shard MRANGE responses. Without grouping it
// concatenates rows (each series lives on exactly one shard) ordered by
// label fingerprint; with grouping it re-groups rows sharing the group
// label's value across shards and re-reduces their samples per timestamp
// with the request's reducer. For decomposable reducers (sum, min, max,
// first, last) the assembled result matches what a single node holding
// every series would produce; avg/count/std reducers are re-applied over
// the shard partials, which is the closest a coordinator can get without
// shipping raw samples.
type MRangeMerger struct {
	mu         sync.Mutex
	group      tsquery.GroupBy
	reverse    bool
	rows       []tsquery.ResultRow
	anyFailure bool
}

// NewMRangeMerger returns an MRangeMerger for a request with the given
// grouping and row order.
func NewMRangeMerger(group tsquery.GroupBy, reverse bool) *MRangeMerger {
	return &MRangeMerger{group: group, reverse: reverse}
}

func (m *MRangeMerger) Merge(resp ShardResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if resp.Err != nil {
		m.anyFailure = true
		return
	}
	if r, ok := resp.Payload.(command.MRangeResponse); ok {
		m.rows = append(m.rows, r.Rows...)
	}
}

func (m *MRangeMerger) Result() (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []tsquery.ResultRow
	if m.group.Enabled {
		rows = m.regroup()
	} else {
		rows = append([]tsquery.ResultRow{}, m.rows...)
		sort.Slice(rows, func(i, j int) bool {
			return labelFingerprint(rows[i].Labels) < labelFingerprint(rows[j].Labels)
		})
	}
	if m.reverse {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	return command.MRangeResponse{Rows: rows}, m.anyFailure
}

// regroup folds group rows that arrived from different shards but share the
// group label's value into one row per value, re-applying the reducer per
// timestamp across the shard-local partials and re-joining their source-key
// lists.
func (m *MRangeMerger) regroup() []tsquery.ResultRow {
	reducer, err := tsquery.NewReducer(m.group.Reducer)
	if err != nil {
		// The per-shard executors already validated the reducer; an invalid
		// one here means no shard produced rows either.
		return nil
	}

	perValue := make(map[string][]tsquery.ResultRow)
	var order []string
	for _, row := range m.rows {
		value, ok := row.Labels[m.group.Name]
		if !ok {
			continue
		}
		if _, exists := perValue[value]; !exists {
			order = append(order, value)
		}
		perValue[value] = append(perValue[value], row)
	}
	sort.Strings(order)

	out := make([]tsquery.ResultRow, 0, len(order))
	for _, value := range order {
		members := perValue[value]
		perShard := make([][]series.Sample, 0, len(members))
		var sourceKeys []string
		for _, row := range members {
			perShard = append(perShard, row.Samples)
			if src := row.Labels["__source__"]; src != "" {
				sourceKeys = append(sourceKeys, strings.Split(src, ",")...)
			}
		}
		sort.Strings(sourceKeys)

		out = append(out, tsquery.ResultRow{
			Labels:  tsquery.ReducedLabels(m.group.Name, value, m.group.Reducer, sourceKeys),
			Samples: tsquery.ReduceTimestampAligned(reducer, perShard),
		})
	}
	return out
}

// QueryIndexMerger concatenates per-shard QUERYINDEX key lists and returns
// them sorted.
type QueryIndexMerger struct {
	mu         sync.Mutex
	keys       []series.ExternalKey
	anyFailure bool
}

func NewQueryIndexMerger() *QueryIndexMerger {
	return &QueryIndexMerger{}
}

func (m *QueryIndexMerger) Merge(resp ShardResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if resp.Err != nil {
		m.anyFailure = true
		return
	}
	if r, ok := resp.Payload.(command.QueryIndexResponse); ok {
		m.keys = append(m.keys, r.Keys...)
	}
}

func (m *QueryIndexMerger) Result() (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := append([]series.ExternalKey{}, m.keys...)
	sort.Slice(keys, func(i, j int) bool { return string(keys[i]) < string(keys[j]) })
	return command.QueryIndexResponse{Keys: keys}, m.anyFailure
}

// labelFingerprint renders a label set as a sorted, canonical string, used
// only to order merged rows deterministically across shards.
func labelFingerprint(labels map[string]string) string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(labels[name])
		b.WriteByte(';')
	}
	return b.String()
}

// stringSetMerger unions per-shard string sets and returns them sorted,
// deduplicated. LabelNamesMerger and LabelValuesMerger wrap it with their
// payload types.
type stringSetMerger struct {
	mu         sync.Mutex
	set        map[string]struct{}
	anyFailure bool
}

func newStringSetMerger() stringSetMerger {
	return stringSetMerger{set: make(map[string]struct{})}
}

func (m *stringSetMerger) merge(values []string, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if failed {
		m.anyFailure = true
		return
	}
	for _, v := range values {
		m.set[v] = struct{}{}
	}
}

func (m *stringSetMerger) sorted() ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.set))
	for v := range m.set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, m.anyFailure
}

// LabelNamesMerger unions per-shard label-name listings.
type LabelNamesMerger struct {
	stringSetMerger
}

func NewLabelNamesMerger() *LabelNamesMerger {
	return &LabelNamesMerger{stringSetMerger: newStringSetMerger()}
}

func (m *LabelNamesMerger) Merge(resp ShardResponse) {
	if resp.Err != nil {
		m.merge(nil, true)
		return
	}
	if r, ok := resp.Payload.(command.LabelNamesResponse); ok {
		m.merge(r.Names, false)
	}
}

func (m *LabelNamesMerger) Result() (any, bool) {
	names, anyFailed := m.sorted()
	return command.LabelNamesResponse{Names: names}, anyFailed
}

// LabelValuesMerger unions per-shard label-value listings.
type LabelValuesMerger struct {
	stringSetMerger
}

func NewLabelValuesMerger() *LabelValuesMerger {
	return &LabelValuesMerger{stringSetMerger: newStringSetMerger()}
}

func (m *LabelValuesMerger) Merge(resp ShardResponse) {
	if resp.Err != nil {
		m.merge(nil, true)
		return
	}
	if r, ok := resp.Payload.(command.LabelValuesResponse); ok {
		m.merge(r.Values, false)
	}
}

func (m *LabelValuesMerger) Result() (any, bool) {
	values, anyFailed := m.sorted()
	return command.LabelValuesResponse{Values: values}, anyFailed
}

// CardinalityMerger merges per-shard top-k label-value cardinality stats
// into a single top-k by re-ranking the union. Cardinalities for the same
// (label, value) pair are summed across shards, since each shard counts
// only its own series.
type CardinalityMerger struct {
	mu         sync.Mutex
	limit      int
	entries    []index.LabelValueCardinality
	anyFailure bool
}

func NewCardinalityMerger(limit int) *CardinalityMerger {
	return &CardinalityMerger{limit: limit}
}

func (m *CardinalityMerger) Merge(resp ShardResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if resp.Err != nil {
		m.anyFailure = true
		return
	}
	if r, ok := resp.Payload.(command.CardinalityResponse); ok {
		m.entries = append(m.entries, r.Entries...)
	}
}

func (m *CardinalityMerger) Result() (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	summed := make(map[[2]string]uint64)
	var order [][2]string
	for _, entry := range m.entries {
		key := [2]string{entry.Name, entry.Value}
		if _, exists := summed[key]; !exists {
			order = append(order, key)
		}
		summed[key] += entry.Cardinality
	}

	merged := make([]index.LabelValueCardinality, 0, len(order))
	for _, key := range order {
		merged = append(merged, index.LabelValueCardinality{Name: key[0], Value: key[1], Cardinality: summed[key]})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Cardinality > merged[j].Cardinality })
	if m.limit > 0 && len(merged) > m.limit {
		merged = merged[:m.limit]
	}
	return command.CardinalityResponse{Entries: merged}, m.anyFailure
}

// StatsMerger sums per-shard scalar stats (series count, label count, ...).
type StatsMerger struct {
	mu         sync.Mutex
	totals     map[string]uint64
	anyFailure bool
}

func NewStatsMerger() *StatsMerger {
	return &StatsMerger{totals: make(map[string]uint64)}
}

func (m *StatsMerger) Merge(resp ShardResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if resp.Err != nil {
		m.anyFailure = true
		return
	}
	if r, ok := resp.Payload.(command.StatsResponse); ok {
		for k, v := range r.Totals {
			m.totals[k] += v
		}
	}
}

func (m *StatsMerger) Result() (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]uint64, len(m.totals))
	for k, v := range m.totals {
		out[k] = v
	}
	return command.StatsResponse{Totals: out}, m.anyFailure
}
