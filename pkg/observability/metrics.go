package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects and exposes operational counters for the index, the
// range-query engine, the cluster fan-out coordinator, and the storage
// engine backing them, in Prometheus format via WritePrometheusMetrics.
type Metrics struct {
	// Write path (pkg/storage.TSDB.Insert)
	samplesIngestedTotal      atomic.Int64
	samplesIngestedBytesTotal atomic.Int64
	insertErrorsTotal         atomic.Int64
	insertDurationSeconds     *Histogram

	// Index mutations (pkg/command.Executor's CREATE/MDEL)
	indexMutationsTotal atomic.Int64

	// Range-query engine (pkg/tsquery.Engine via pkg/command.Executor)
	rangeQueriesTotal         atomic.Int64
	rangeQueryDurationSeconds *Histogram
	rangeQueryErrorsTotal     atomic.Int64
	rangeSamplesReturnedTotal atomic.Int64

	// Cluster fan-out (pkg/fanout.Coordinator)
	fanoutDispatchesTotal    atomic.Int64
	fanoutShardFailuresTotal atomic.Int64
	fanoutTimeoutsTotal      atomic.Int64

	// MemTable ("head") metrics (pkg/storage.MemTable)
	headSeries    atomic.Int64
	headChunks    atomic.Int64
	headSizeBytes atomic.Int64

	// Block/storage metrics (pkg/storage.Block)
	blocksTotal     atomic.Int64
	blockSizeBytes  atomic.Int64
	oldestBlockTime atomic.Int64
	newestBlockTime atomic.Int64

	// Compaction (pkg/storage.Compactor)
	compactionsTotal          atomic.Int64
	compactionDurationSeconds *Histogram
	compactedBytesTotal       atomic.Int64
	compactionFailuresTotal   atomic.Int64

	// Retention (pkg/storage.RetentionManager)
	retentionSweepsTotal        atomic.Int64
	retentionBlocksDeletedTotal atomic.Int64
}

var (
	globalMetrics     *Metrics
	globalMetricsOnce sync.Once
)

// GetGlobalMetrics returns the singleton metrics instance
func GetGlobalMetrics() *Metrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewMetrics()
	})
	return globalMetrics
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		insertDurationSeconds:     NewHistogram("insert_duration_seconds"),
		rangeQueryDurationSeconds: NewHistogram("range_query_duration_seconds"),
		compactionDurationSeconds: NewHistogram("compaction_duration_seconds"),
	}
}

// RecordSamplesIngested records samples written
func (m *Metrics) RecordSamplesIngested(count int64, bytes int64) {
	m.samplesIngestedTotal.Add(count)
	m.samplesIngestedBytesTotal.Add(bytes)
}

// RecordInsertError records an insert error
func (m *Metrics) RecordInsertError() {
	m.insertErrorsTotal.Add(1)
}

// RecordInsertDuration records insert latency
func (m *Metrics) RecordInsertDuration(d time.Duration) {
	m.insertDurationSeconds.Observe(d.Seconds())
}

// RecordIndexMutation records a CREATE or MDEL mutation against the
// inverted index.
func (m *Metrics) RecordIndexMutation() {
	m.indexMutationsTotal.Add(1)
}

// SetHeadSeries sets number of series in head (MemTable)
func (m *Metrics) SetHeadSeries(count int64) {
	m.headSeries.Store(count)
}

// SetHeadChunks sets number of chunks in head
func (m *Metrics) SetHeadChunks(count int64) {
	m.headChunks.Store(count)
}

// SetHeadSize sets head (MemTable) size in bytes
func (m *Metrics) SetHeadSize(bytes int64) {
	m.headSizeBytes.Store(bytes)
}

// SetBlocksTotal sets total number of blocks
func (m *Metrics) SetBlocksTotal(count int64) {
	m.blocksTotal.Store(count)
}

// SetBlockSize sets total size of all blocks
func (m *Metrics) SetBlockSize(bytes int64) {
	m.blockSizeBytes.Store(bytes)
}

// SetOldestBlockTime sets timestamp of oldest block
func (m *Metrics) SetOldestBlockTime(timestamp int64) {
	m.oldestBlockTime.Store(timestamp)
}

// SetNewestBlockTime sets timestamp of newest block
func (m *Metrics) SetNewestBlockTime(timestamp int64) {
	m.newestBlockTime.Store(timestamp)
}

// RecordCompaction records a compaction event
func (m *Metrics) RecordCompaction(duration time.Duration, bytes int64) {
	m.compactionsTotal.Add(1)
	m.compactionDurationSeconds.Observe(duration.Seconds())
	m.compactedBytesTotal.Add(bytes)
}

// RecordCompactionFailure records a compaction failure
func (m *Metrics) RecordCompactionFailure() {
	m.compactionFailuresTotal.Add(1)
}

// RecordRetentionSweep records a retention cleanup cycle and how many
// blocks it deleted.
func (m *Metrics) RecordRetentionSweep(blocksDeleted int64) {
	m.retentionSweepsTotal.Add(1)
	m.retentionBlocksDeletedTotal.Add(blocksDeleted)
}

// RecordRangeQuery records a MRANGE/MREVRANGE execution.
func (m *Metrics) RecordRangeQuery(duration time.Duration, samples int64) {
	m.rangeQueriesTotal.Add(1)
	m.rangeQueryDurationSeconds.Observe(duration.Seconds())
	m.rangeSamplesReturnedTotal.Add(samples)
}

// RecordRangeQueryError records a range-query failure.
func (m *Metrics) RecordRangeQueryError() {
	m.rangeQueryErrorsTotal.Add(1)
}

// RecordFanoutDispatch records a coordinator dispatch fanning a request
// out to shardCount shards.
func (m *Metrics) RecordFanoutDispatch(shardCount int) {
	m.fanoutDispatchesTotal.Add(int64(shardCount))
}

// RecordFanoutOutcome records a completed fan-out round's partial-failure
// shape: whether it timed out and whether any shard failed.
func (m *Metrics) RecordFanoutOutcome(timedOut, anyShardFailed bool) {
	if timedOut {
		m.fanoutTimeoutsTotal.Add(1)
	}
	if anyShardFailed {
		m.fanoutShardFailuresTotal.Add(1)
	}
}

// MetricsSnapshot is a point-in-time snapshot of all metrics.
type MetricsSnapshot struct {
	SamplesIngestedTotal      int64
	SamplesIngestedBytesTotal int64
	InsertErrorsTotal         int64

	IndexMutationsTotal int64

	RangeQueriesTotal         int64
	RangeQueryErrorsTotal     int64
	RangeSamplesReturnedTotal int64

	FanoutDispatchesTotal    int64
	FanoutShardFailuresTotal int64
	FanoutTimeoutsTotal      int64

	HeadSeries    int64
	HeadChunks    int64
	HeadSizeBytes int64

	BlocksTotal     int64
	BlockSizeBytes  int64
	OldestBlockTime int64
	NewestBlockTime int64

	CompactionsTotal        int64
	CompactedBytesTotal     int64
	CompactionFailuresTotal int64

	RetentionSweepsTotal        int64
	RetentionBlocksDeletedTotal int64
}

// Snapshot returns a point-in-time snapshot of all metrics
func (m *Metrics) Snapshot() *MetricsSnapshot {
	return &MetricsSnapshot{
		SamplesIngestedTotal:      m.samplesIngestedTotal.Load(),
		SamplesIngestedBytesTotal: m.samplesIngestedBytesTotal.Load(),
		InsertErrorsTotal:         m.insertErrorsTotal.Load(),

		IndexMutationsTotal: m.indexMutationsTotal.Load(),

		RangeQueriesTotal:         m.rangeQueriesTotal.Load(),
		RangeQueryErrorsTotal:     m.rangeQueryErrorsTotal.Load(),
		RangeSamplesReturnedTotal: m.rangeSamplesReturnedTotal.Load(),

		FanoutDispatchesTotal:    m.fanoutDispatchesTotal.Load(),
		FanoutShardFailuresTotal: m.fanoutShardFailuresTotal.Load(),
		FanoutTimeoutsTotal:      m.fanoutTimeoutsTotal.Load(),

		HeadSeries:    m.headSeries.Load(),
		HeadChunks:    m.headChunks.Load(),
		HeadSizeBytes: m.headSizeBytes.Load(),

		BlocksTotal:     m.blocksTotal.Load(),
		BlockSizeBytes:  m.blockSizeBytes.Load(),
		OldestBlockTime: m.oldestBlockTime.Load(),
		NewestBlockTime: m.newestBlockTime.Load(),

		CompactionsTotal:        m.compactionsTotal.Load(),
		CompactedBytesTotal:     m.compactedBytesTotal.Load(),
		CompactionFailuresTotal: m.compactionFailuresTotal.Load(),

		RetentionSweepsTotal:        m.retentionSweepsTotal.Load(),
		RetentionBlocksDeletedTotal: m.retentionBlocksDeletedTotal.Load(),
	}
}
