package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// WritePrometheusMetrics writes all metrics in Prometheus exposition format
func WritePrometheusMetrics(w io.Writer, m *Metrics) error {
	snapshot := m.Snapshot()

	var sb strings.Builder

	// Write path metrics
	writeCounter(&sb, "tsdb_samples_ingested_total", "Total number of samples ingested", snapshot.SamplesIngestedTotal)
	writeCounter(&sb, "tsdb_samples_ingested_bytes_total", "Total bytes of samples ingested", snapshot.SamplesIngestedBytesTotal)
	writeCounter(&sb, "tsdb_insert_errors_total", "Total number of insert errors", snapshot.InsertErrorsTotal)
	writeHistogramStats(&sb, "tsdb_insert_duration_seconds", "Insert operation duration", m.insertDurationSeconds)

	// Index metrics
	writeCounter(&sb, "tsdb_index_mutations_total", "Total CREATE/MDEL mutations against the inverted index", snapshot.IndexMutationsTotal)

	// MemTable/Head metrics
	writeGauge(&sb, "tsdb_head_series", "Number of series in head (MemTable)", snapshot.HeadSeries)
	writeGauge(&sb, "tsdb_head_chunks", "Number of chunks in head", snapshot.HeadChunks)
	writeGauge(&sb, "tsdb_head_size_bytes", "Head (MemTable) size in bytes", snapshot.HeadSizeBytes)

	// Block/storage metrics
	writeGauge(&sb, "tsdb_blocks_total", "Total number of persisted blocks", snapshot.BlocksTotal)
	writeGauge(&sb, "tsdb_block_size_bytes", "Total size of all blocks in bytes", snapshot.BlockSizeBytes)
	writeGauge(&sb, "tsdb_oldest_block_timestamp_ms", "Timestamp of oldest block", snapshot.OldestBlockTime)
	writeGauge(&sb, "tsdb_newest_block_timestamp_ms", "Timestamp of newest block", snapshot.NewestBlockTime)

	// Compaction metrics
	writeCounter(&sb, "tsdb_compactions_total", "Total number of compactions performed", snapshot.CompactionsTotal)
	writeCounter(&sb, "tsdb_compacted_bytes_total", "Total bytes compacted", snapshot.CompactedBytesTotal)
	writeCounter(&sb, "tsdb_compaction_failures_total", "Total compaction failures", snapshot.CompactionFailuresTotal)
	writeHistogramStats(&sb, "tsdb_compaction_duration_seconds", "Compaction duration", m.compactionDurationSeconds)

	// Retention metrics
	writeCounter(&sb, "tsdb_retention_sweeps_total", "Total retention cleanup cycles run", snapshot.RetentionSweepsTotal)
	writeCounter(&sb, "tsdb_retention_blocks_deleted_total", "Total blocks deleted by retention", snapshot.RetentionBlocksDeletedTotal)

	// Range-query engine metrics
	writeCounter(&sb, "tsdb_range_queries_total", "Total number of MRANGE/MREVRANGE executions", snapshot.RangeQueriesTotal)
	writeCounter(&sb, "tsdb_range_query_errors_total", "Total range-query errors", snapshot.RangeQueryErrorsTotal)
	writeCounter(&sb, "tsdb_range_samples_returned_total", "Total samples returned by range queries", snapshot.RangeSamplesReturnedTotal)
	writeHistogramStats(&sb, "tsdb_range_query_duration_seconds", "Range-query duration", m.rangeQueryDurationSeconds)

	// Cluster fan-out metrics
	writeCounter(&sb, "tsdb_fanout_dispatches_total", "Total shard dispatches issued by the fan-out coordinator", snapshot.FanoutDispatchesTotal)
	writeCounter(&sb, "tsdb_fanout_shard_failures_total", "Total fan-out rounds with at least one failed shard", snapshot.FanoutShardFailuresTotal)
	writeCounter(&sb, "tsdb_fanout_timeouts_total", "Total fan-out rounds that hit the collection deadline", snapshot.FanoutTimeoutsTotal)

	_, err := w.Write([]byte(sb.String()))
	return err
}

func writeCounter(sb *strings.Builder, name, help string, value int64) {
	sb.WriteString(fmt.Sprintf("# HELP %s %s\n", name, help))
	sb.WriteString(fmt.Sprintf("# TYPE %s counter\n", name))
	sb.WriteString(fmt.Sprintf("%s %d\n", name, value))
	sb.WriteString("\n")
}

func writeGauge(sb *strings.Builder, name, help string, value int64) {
	sb.WriteString(fmt.Sprintf("# HELP %s %s\n", name, help))
	sb.WriteString(fmt.Sprintf("# TYPE %s gauge\n", name))
	sb.WriteString(fmt.Sprintf("%s %d\n", name, value))
	sb.WriteString("\n")
}

func writeHistogramStats(sb *strings.Builder, name, help string, hist *Histogram) {
	stats := hist.GetStats()

	sb.WriteString(fmt.Sprintf("# HELP %s %s\n", name, help))
	sb.WriteString(fmt.Sprintf("# TYPE %s summary\n", name))

	if stats.Count > 0 {
		sb.WriteString(fmt.Sprintf("%s{quantile=\"0.5\"} %f\n", name, stats.P50))
		sb.WriteString(fmt.Sprintf("%s{quantile=\"0.9\"} %f\n", name, stats.P90))
		sb.WriteString(fmt.Sprintf("%s{quantile=\"0.95\"} %f\n", name, stats.P95))
		sb.WriteString(fmt.Sprintf("%s{quantile=\"0.99\"} %f\n", name, stats.P99))
		sb.WriteString(fmt.Sprintf("%s_sum %f\n", name, stats.Sum))
		sb.WriteString(fmt.Sprintf("%s_count %d\n", name, stats.Count))
	} else {
		sb.WriteString(fmt.Sprintf("%s_sum 0\n", name))
		sb.WriteString(fmt.Sprintf("%s_count 0\n", name))
	}
	sb.WriteString("\n")
}

// GetMetricsSummary returns a human-readable summary of all metrics
func GetMetricsSummary(m *Metrics) string {
	snapshot := m.Snapshot()
	var sb strings.Builder

	sb.WriteString("=== TSDB Metrics Summary ===\n\n")

	// Write path
	sb.WriteString("Write Path:\n")
	sb.WriteString(fmt.Sprintf("  Samples Ingested: %d (%.2f MB)\n",
		snapshot.SamplesIngestedTotal,
		float64(snapshot.SamplesIngestedBytesTotal)/(1024*1024)))
	sb.WriteString(fmt.Sprintf("  Insert Errors: %d\n", snapshot.InsertErrorsTotal))

	if insertStats := m.insertDurationSeconds.GetStats(); insertStats.Count > 0 {
		sb.WriteString(fmt.Sprintf("  Insert Latency: p50=%.3fms p95=%.3fms p99=%.3fms\n",
			insertStats.P50*1000, insertStats.P95*1000, insertStats.P99*1000))
	}

	// Index
	sb.WriteString("\nIndex:\n")
	sb.WriteString(fmt.Sprintf("  Mutations: %d\n", snapshot.IndexMutationsTotal))

	// MemTable/Head
	sb.WriteString("\nHead (MemTable):\n")
	sb.WriteString(fmt.Sprintf("  Series: %d\n", snapshot.HeadSeries))
	sb.WriteString(fmt.Sprintf("  Chunks: %d\n", snapshot.HeadChunks))
	sb.WriteString(fmt.Sprintf("  Size: %.2f MB\n", float64(snapshot.HeadSizeBytes)/(1024*1024)))

	// Blocks
	sb.WriteString("\nBlocks:\n")
	sb.WriteString(fmt.Sprintf("  Count: %d\n", snapshot.BlocksTotal))
	sb.WriteString(fmt.Sprintf("  Total Size: %.2f MB\n", float64(snapshot.BlockSizeBytes)/(1024*1024)))

	// Compaction
	sb.WriteString("\nCompaction:\n")
	sb.WriteString(fmt.Sprintf("  Total Compactions: %d\n", snapshot.CompactionsTotal))
	sb.WriteString(fmt.Sprintf("  Bytes Compacted: %.2f MB\n", float64(snapshot.CompactedBytesTotal)/(1024*1024)))
	sb.WriteString(fmt.Sprintf("  Failures: %d\n", snapshot.CompactionFailuresTotal))

	// Retention
	sb.WriteString("\nRetention:\n")
	sb.WriteString(fmt.Sprintf("  Sweeps: %d\n", snapshot.RetentionSweepsTotal))
	sb.WriteString(fmt.Sprintf("  Blocks Deleted: %d\n", snapshot.RetentionBlocksDeletedTotal))

	// Range queries
	sb.WriteString("\nRange Queries:\n")
	sb.WriteString(fmt.Sprintf("  Total: %d\n", snapshot.RangeQueriesTotal))
	sb.WriteString(fmt.Sprintf("  Errors: %d\n", snapshot.RangeQueryErrorsTotal))
	sb.WriteString(fmt.Sprintf("  Samples Returned: %d\n", snapshot.RangeSamplesReturnedTotal))

	if queryStats := m.rangeQueryDurationSeconds.GetStats(); queryStats.Count > 0 {
		sb.WriteString(fmt.Sprintf("  Latency: p50=%.3fms p95=%.3fms p99=%.3fms\n",
			queryStats.P50*1000, queryStats.P95*1000, queryStats.P99*1000))
	}

	// Fan-out
	sb.WriteString("\nFan-out:\n")
	sb.WriteString(fmt.Sprintf("  Dispatches: %d\n", snapshot.FanoutDispatchesTotal))
	sb.WriteString(fmt.Sprintf("  Rounds with shard failures: %d\n", snapshot.FanoutShardFailuresTotal))
	sb.WriteString(fmt.Sprintf("  Rounds timed out: %d\n", snapshot.FanoutTimeoutsTotal))

	return sb.String()
}

// MetricsList returns a list of all available metrics
func MetricsList() []string {
	metrics := []string{
		"tsdb_samples_ingested_total",
		"tsdb_samples_ingested_bytes_total",
		"tsdb_insert_errors_total",
		"tsdb_insert_duration_seconds",
		"tsdb_index_mutations_total",
		"tsdb_head_series",
		"tsdb_head_chunks",
		"tsdb_head_size_bytes",
		"tsdb_blocks_total",
		"tsdb_block_size_bytes",
		"tsdb_oldest_block_timestamp_ms",
		"tsdb_newest_block_timestamp_ms",
		"tsdb_compactions_total",
		"tsdb_compacted_bytes_total",
		"tsdb_compaction_failures_total",
		"tsdb_compaction_duration_seconds",
		"tsdb_retention_sweeps_total",
		"tsdb_retention_blocks_deleted_total",
		"tsdb_range_queries_total",
		"tsdb_range_query_errors_total",
		"tsdb_range_samples_returned_total",
		"tsdb_range_query_duration_seconds",
		"tsdb_fanout_dispatches_total",
		"tsdb_fanout_shard_failures_total",
		"tsdb_fanout_timeouts_total",
	}
	sort.Strings(metrics)
	return metrics
}
