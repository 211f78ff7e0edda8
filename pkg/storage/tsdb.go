package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chronoshard/tsdb/pkg/matcher"
	"github.com/chronoshard/tsdb/pkg/observability"
	"github.com/chronoshard/tsdb/pkg/series"
)

var (
	// ErrClosed indicates the TSDB is closed
	ErrClosed = errors.New("tsdb: closed")

	// ErrReadOnly indicates the TSDB is in read-only mode
	ErrReadOnly = errors.New("tsdb: read-only mode")
)

const (
	// DefaultFlushInterval is how often to check if MemTable should be flushed
	DefaultFlushInterval = 30 * time.Second
)

// TSDB is the main time-series database orchestrator backing
// pkg/tsquery's SeriesSampleSource contract. It coordinates MemTable
// operations, sealed-block storage, and background flushing; it carries no
// write-ahead log, since durable persistence sits behind the chunk-codec
// contract as an external collaborator, not a guarantee this module makes.
type TSDB struct {
	// Configuration
	dataDir       string
	flushInterval time.Duration

	// Write path components
	activeMemTable   *MemTable
	flushingMemTable *MemTable
	blockWriter      *BlockWriter
	blockReader      *BlockReader

	// Background operations (Phase 6)
	compactor        *Compactor
	retentionManager *RetentionManager

	// Synchronization
	mu          sync.RWMutex
	flushMu     sync.Mutex
	flushChan   chan struct{}
	flusherDone chan struct{}

	// Deleted sample ranges, masked out of every Query. The compactor does
	// not consult them, and they are never cleared.
	tombMu     sync.RWMutex
	tombstones map[uint64][]sampleRange

	// State
	closed atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc

	// Metrics
	stats Stats

	logger  *slog.Logger
	metrics *observability.Metrics
}

// Stats holds TSDB statistics
type Stats struct {
	TotalSamples     atomic.Int64
	TotalSeries      atomic.Int64
	FlushCount       atomic.Int64
	LastFlushTime    atomic.Int64 // Unix milliseconds
	ActiveMemTableSize atomic.Int64
}

// Options configures the TSDB
type Options struct {
	DataDir            string
	FlushInterval      time.Duration
	MemTableSize       int64
	EnableCompaction   bool
	CompactionInterval time.Duration
	EnableRetention    bool
	RetentionPeriod    time.Duration
}

// DefaultOptions returns default TSDB options
func DefaultOptions(dataDir string) *Options {
	return &Options{
		DataDir:            dataDir,
		FlushInterval:      DefaultFlushInterval,
		MemTableSize:       DefaultMaxSize,
		EnableCompaction:   true,
		CompactionInterval: DefaultCompactionInterval,
		EnableRetention:    true,
		RetentionPeriod:    DefaultRetentionPeriod,
	}
}

// Open opens or creates a TSDB instance
func Open(opts *Options) (*TSDB, error) {
	if opts == nil {
		return nil, fmt.Errorf("tsdb: options cannot be nil")
	}

	// Create data directory
	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("tsdb: failed to create data directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	db := &TSDB{
		dataDir:        opts.DataDir,
		flushInterval:  opts.FlushInterval,
		activeMemTable: NewMemTableWithSize(opts.MemTableSize),
		blockWriter:    NewBlockWriter(opts.DataDir),
		blockReader:    NewBlockReader(opts.DataDir),
		flushChan:      make(chan struct{}, 1),
		flusherDone:    make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
		logger:         observability.GetDefaultLogger(),
		metrics:        observability.GetGlobalMetrics(),
	}

	// Load any blocks already on disk from a previous run and seed the
	// counters from their metadata, so stats reflect stored data across
	// restarts, not just this process's inserts.
	if err := db.blockReader.LoadBlocks(); err != nil {
		return nil, fmt.Errorf("tsdb: failed to load blocks: %w", err)
	}
	seenSeries := make(map[uint64]struct{})
	for _, block := range db.blockReader.Blocks() {
		db.stats.TotalSamples.Add(int64(block.NumSamples))
		for hash := range block.SeriesMeta() {
			seenSeries[hash] = struct{}{}
		}
	}
	db.stats.TotalSeries.Store(int64(len(seenSeries)))

	// Initialize compactor (Phase 6)
	if opts.EnableCompaction {
		compactorOpts := &CompactorOptions{
			DataDir:     opts.DataDir,
			Interval:    opts.CompactionInterval,
			Concurrency: 1,
		}
		db.compactor = NewCompactor(compactorOpts).WithLogger(db.logger).WithMetrics(db.metrics)
		go db.compactor.Run()
	}

	// Initialize retention manager (Phase 6)
	if opts.EnableRetention && db.compactor != nil {
		retentionOpts := &RetentionManagerOptions{
			Policy: RetentionPolicy{
				MaxAge:     opts.RetentionPeriod,
				MinSamples: 0,
				Enabled:    true,
			},
			Interval: DefaultRetentionCheckInterval,
		}
		db.retentionManager = NewRetentionManager(db.compactor, retentionOpts).WithLogger(db.logger).WithMetrics(db.metrics)
		go db.retentionManager.Run()
	}

	// Start background flusher
	go db.backgroundFlusher()

	return db, nil
}

// WithLogger overrides the TSDB's logger and its background components'.
func (db *TSDB) WithLogger(logger *slog.Logger) *TSDB {
	db.logger = logger
	if db.compactor != nil {
		db.compactor.WithLogger(logger)
	}
	if db.retentionManager != nil {
		db.retentionManager.WithLogger(logger)
	}
	return db
}

// WithMetrics overrides the TSDB's metrics sink and its background
// components'.
func (db *TSDB) WithMetrics(m *observability.Metrics) *TSDB {
	db.metrics = m
	if db.compactor != nil {
		db.compactor.WithMetrics(m)
	}
	if db.retentionManager != nil {
		db.retentionManager.WithMetrics(m)
	}
	return db
}

// Insert adds samples for a series to the TSDB
func (db *TSDB) Insert(s *series.Series, samples []series.Sample) error {
	if db.closed.Load() {
		return ErrClosed
	}

	if s == nil || len(samples) == 0 {
		return ErrInvalidSample
	}

	start := time.Now()

	db.mu.RLock()
	activeMemTable := db.activeMemTable
	db.mu.RUnlock()

	err := activeMemTable.Insert(s, samples)
	if err == ErrMemTableFull {
		// Trigger flush
		select {
		case db.flushChan <- struct{}{}:
		default:
			// Flush already pending
		}

		// Wait a bit and retry
		time.Sleep(10 * time.Millisecond)

		db.mu.RLock()
		activeMemTable = db.activeMemTable
		db.mu.RUnlock()

		err = activeMemTable.Insert(s, samples)
	}

	if err != nil {
		db.metrics.RecordInsertError()
		return fmt.Errorf("tsdb: memtable insert failed: %w", err)
	}

	// Update stats
	db.stats.TotalSamples.Add(int64(len(samples)))
	db.stats.ActiveMemTableSize.Store(activeMemTable.Size())

	db.metrics.RecordSamplesIngested(int64(len(samples)), int64(len(samples))*EstimatedBytesPerSample)
	db.metrics.RecordInsertDuration(time.Since(start))
	db.metrics.SetHeadSeries(int64(activeMemTable.SeriesCount()))
	db.metrics.SetHeadSize(activeMemTable.Size())
	observability.LogInsert(db.logger, s.Hash, len(samples), time.Since(start))

	return nil
}

// Query retrieves samples for a series within a time range
func (db *TSDB) Query(seriesHash uint64, start, end int64) ([]series.Sample, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}

	db.mu.RLock()
	activeMemTable := db.activeMemTable
	flushingMemTable := db.flushingMemTable
	db.mu.RUnlock()

	// Query active MemTable
	activeSamples, err := activeMemTable.Query(seriesHash, start, end)
	if err != nil {
		return nil, err
	}

	// Query flushing MemTable if it exists
	var flushingSamples []series.Sample
	if flushingMemTable != nil {
		flushingSamples, err = flushingMemTable.Query(seriesHash, start, end)
		if err != nil {
			return nil, err
		}
	}

	// start == end == 0 means "all samples", matching MemTable.Query's sentinel.
	blockStart, blockEnd := start, end
	if start == 0 && end == 0 {
		blockStart, blockEnd = minInt64, maxInt64
	}
	blockSamples, err := db.blockReader.Query(seriesHash, blockStart, blockEnd)
	if err != nil {
		return nil, fmt.Errorf("tsdb: block query failed: %w", err)
	}

	result := make([]series.Sample, 0, len(activeSamples)+len(flushingSamples)+len(blockSamples))
	result = append(result, blockSamples...)
	result = append(result, flushingSamples...)
	result = append(result, activeSamples...)
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp < result[j].Timestamp })

	return db.applyTombstones(seriesHash, result), nil
}

// GetSeries retrieves series metadata
func (db *TSDB) GetSeries(seriesHash uint64) (*series.Series, bool) {
	if db.closed.Load() {
		return nil, false
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	// Check active MemTable first
	if s, ok := db.activeMemTable.GetSeries(seriesHash); ok {
		return s, true
	}

	// Check flushing MemTable
	if db.flushingMemTable != nil {
		if s, ok := db.flushingMemTable.GetSeries(seriesHash); ok {
			return s, true
		}
	}

	for _, block := range db.blockReader.Blocks() {
		if s, ok := block.SeriesMeta()[seriesHash]; ok {
			return s, true
		}
	}

	return nil, false
}

// GetStats returns a snapshot of current TSDB statistics
func (db *TSDB) GetStats() Stats {
	// Create a safe copy using atomic loads
	var stats Stats
	stats.TotalSamples.Store(db.stats.TotalSamples.Load())
	stats.TotalSeries.Store(db.stats.TotalSeries.Load())
	stats.FlushCount.Store(db.stats.FlushCount.Load())
	stats.LastFlushTime.Store(db.stats.LastFlushTime.Load())
	stats.ActiveMemTableSize.Store(db.stats.ActiveMemTableSize.Load())
	return stats
}

// GetStatsSnapshot returns a simple snapshot of stats without atomic types
func (db *TSDB) GetStatsSnapshot() StatsSnapshot {
	return StatsSnapshot{
		TotalSamples:       db.stats.TotalSamples.Load(),
		TotalSeries:        db.stats.TotalSeries.Load(),
		FlushCount:         db.stats.FlushCount.Load(),
		LastFlushTime:      db.stats.LastFlushTime.Load(),
		ActiveMemTableSize: db.stats.ActiveMemTableSize.Load(),
	}
}

// StatsSnapshot is a point-in-time snapshot of statistics
type StatsSnapshot struct {
	TotalSamples       int64
	TotalSeries        int64
	FlushCount         int64
	LastFlushTime      int64
	ActiveMemTableSize int64
}

// Close closes the TSDB and all its components
func (db *TSDB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	// Stop background operations (Phase 6)
	if db.compactor != nil {
		db.compactor.Stop()
	}
	if db.retentionManager != nil {
		db.retentionManager.Stop()
	}

	// Cancel background operations
	db.cancel()

	// Wait for background flusher to complete
	<-db.flusherDone

	// Flush any remaining data
	if err := db.flush(); err != nil {
		return fmt.Errorf("tsdb: final flush failed: %w", err)
	}

	return nil
}

// backgroundFlusher runs in the background and flushes MemTables periodically
func (db *TSDB) backgroundFlusher() {
	defer close(db.flusherDone)

	ticker := time.NewTicker(db.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-db.ctx.Done():
			return

		case <-ticker.C:
			// Check if active MemTable should be flushed
			db.mu.RLock()
			shouldFlush := db.activeMemTable.IsFull()
			db.mu.RUnlock()

			if shouldFlush {
				if err := db.flush(); err != nil {
					observability.LogError(db.logger, "background_flush", err)
				}
			}

		case <-db.flushChan:
			// Explicit flush request
			if err := db.flush(); err != nil {
				observability.LogError(db.logger, "explicit_flush", err)
			}
		}
	}
}

// flush swaps the active MemTable and flushes it to disk
func (db *TSDB) flush() error {
	db.flushMu.Lock()
	defer db.flushMu.Unlock()

	db.mu.Lock()

	// Check if there's anything to flush
	if db.activeMemTable.SeriesCount() == 0 {
		db.mu.Unlock()
		return nil
	}

	// Swap MemTables (double-buffering)
	oldMemTable := db.activeMemTable
	db.activeMemTable = NewMemTableWithSize(oldMemTable.MaxSize())
	db.flushingMemTable = oldMemTable

	db.mu.Unlock()

	// At this point, new writes go to the new active MemTable
	// We can safely flush the old one without blocking writes

	flushStart := time.Now()

	// Write MemTable to disk as a block
	block, err := db.blockWriter.WriteMemTable(oldMemTable)
	if err != nil {
		return fmt.Errorf("failed to write block: %w", err)
	}

	observability.LogMemTableFlush(db.logger, oldMemTable.SeriesCount(), int(oldMemTable.SampleCount()), time.Since(flushStart))
	observability.LogBlockCreated(db.logger, block.ULID.String(), block.MinTime, block.MaxTime, len(block.SeriesMeta()), 0)

	if err := db.blockReader.LoadBlocks(); err != nil {
		observability.LogError(db.logger, "refresh_block_reader", err)
	}

	// Clear the flushing MemTable
	db.mu.Lock()
	db.flushingMemTable = nil
	db.mu.Unlock()

	// Update stats
	db.stats.FlushCount.Add(1)
	db.stats.LastFlushTime.Store(time.Now().UnixMilli())
	db.metrics.SetBlocksTotal(int64(len(db.blockReader.Blocks())))
	db.metrics.SetHeadSeries(0)
	db.metrics.SetHeadSize(0)

	return nil
}

// TriggerFlush manually triggers a flush operation
func (db *TSDB) TriggerFlush() error {
	if db.closed.Load() {
		return ErrClosed
	}

	select {
	case db.flushChan <- struct{}{}:
		// Wait for flush to complete
		time.Sleep(100 * time.Millisecond)
		return nil
	default:
		return fmt.Errorf("tsdb: flush already in progress")
	}
}

// MemTableStats returns statistics about the current MemTables
func (db *TSDB) MemTableStats() (active, flushing string) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	active = db.activeMemTable.Stats()

	if db.flushingMemTable != nil {
		flushing = db.flushingMemTable.Stats()
	} else {
		flushing = "None"
	}

	return active, flushing
}

// GetCompactionStats returns compaction statistics (Phase 6)
func (db *TSDB) GetCompactionStats() *CompactionStats {
	if db.compactor == nil {
		return nil
	}
	stats := db.compactor.GetStats()
	return &stats
}

// GetRetentionStats returns retention statistics (Phase 6)
func (db *TSDB) GetRetentionStats() *RetentionStats {
	if db.retentionManager == nil {
		return nil
	}
	stats := db.retentionManager.GetStats()
	return &stats
}

// TriggerCompaction manually triggers compaction (Phase 6)
func (db *TSDB) TriggerCompaction() error {
	if db.compactor == nil {
		return fmt.Errorf("compaction not enabled")
	}
	return db.compactor.CompactNow()
}

// GetRetentionPolicy returns the current retention policy (Phase 6)
func (db *TSDB) GetRetentionPolicy() *RetentionPolicy {
	if db.retentionManager == nil {
		return nil
	}
	policy := db.retentionManager.GetPolicy()
	return &policy
}

// SetRetentionPolicy updates the retention policy (Phase 6)
func (db *TSDB) SetRetentionPolicy(policy RetentionPolicy) error {
	if db.retentionManager == nil {
		return fmt.Errorf("retention not enabled")
	}
	db.retentionManager.SetPolicy(policy)
	return nil
}

// GetAllLabels returns all unique label names across the series in the
// active and flushing MemTables; series present only in flushed blocks are
// not included (Phase 7)
func (db *TSDB) GetAllLabels() ([]string, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}

	db.mu.RLock()
	activeMemTable := db.activeMemTable
	flushingMemTable := db.flushingMemTable
	db.mu.RUnlock()

	labelSet := make(map[string]struct{})

	// Collect labels from active MemTable
	activeMemTable.mu.RLock()
	for _, s := range activeMemTable.seriesMeta {
		for labelName := range s.Labels {
			labelSet[labelName] = struct{}{}
		}
	}
	activeMemTable.mu.RUnlock()

	// Collect labels from flushing MemTable
	if flushingMemTable != nil {
		flushingMemTable.mu.RLock()
		for _, s := range flushingMemTable.seriesMeta {
			for labelName := range s.Labels {
				labelSet[labelName] = struct{}{}
			}
		}
		flushingMemTable.mu.RUnlock()
	}

	// Convert to sorted slice
	labels := make([]string, 0, len(labelSet))
	for label := range labelSet {
		labels = append(labels, label)
	}

	// Sort for consistent output
	sort.Strings(labels)

	return labels, nil
}

// GetLabelValues returns all unique values for a specific label across the
// series in the active and flushing MemTables; series present only in
// flushed blocks are not included (Phase 7)
func (db *TSDB) GetLabelValues(labelName string) ([]string, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}

	db.mu.RLock()
	activeMemTable := db.activeMemTable
	flushingMemTable := db.flushingMemTable
	db.mu.RUnlock()

	valueSet := make(map[string]struct{})

	// Collect values from active MemTable
	activeMemTable.mu.RLock()
	for _, s := range activeMemTable.seriesMeta {
		if value, ok := s.Labels[labelName]; ok {
			valueSet[value] = struct{}{}
		}
	}
	activeMemTable.mu.RUnlock()

	// Collect values from flushing MemTable
	if flushingMemTable != nil {
		flushingMemTable.mu.RLock()
		for _, s := range flushingMemTable.seriesMeta {
			if value, ok := s.Labels[labelName]; ok {
				valueSet[value] = struct{}{}
			}
		}
		flushingMemTable.mu.RUnlock()
	}

	// Convert to sorted slice
	values := make([]string, 0, len(valueSet))
	for value := range valueSet {
		values = append(values, value)
	}

	// Sort for consistent output
	sort.Strings(values)

	return values, nil
}

// GetSeriesByMatchers returns the series in the active and flushing
// MemTables that match the given label matchers; series present only in
// flushed blocks are not included (Phase 7)
func (db *TSDB) GetSeriesByMatchers(ms matcher.Matchers) ([]map[string]string, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}

	db.mu.RLock()
	activeMemTable := db.activeMemTable
	flushingMemTable := db.flushingMemTable
	db.mu.RUnlock()

	seriesMap := make(map[uint64]map[string]string) // Use hash to deduplicate

	// Collect matching series from active MemTable
	activeMemTable.mu.RLock()
	for _, s := range activeMemTable.seriesMeta {
		if matchLabels(s.Labels, ms) {
			seriesMap[s.Hash] = s.Labels
		}
	}
	activeMemTable.mu.RUnlock()

	// Collect matching series from flushing MemTable
	if flushingMemTable != nil {
		flushingMemTable.mu.RLock()
		for _, s := range flushingMemTable.seriesMeta {
			if matchLabels(s.Labels, ms) {
				seriesMap[s.Hash] = s.Labels
			}
		}
		flushingMemTable.mu.RUnlock()
	}

	// Convert to slice
	result := make([]map[string]string, 0, len(seriesMap))
	for _, labels := range seriesMap {
		result = append(result, labels)
	}

	return result, nil
}

// SeriesRange is one series' labels and its samples within a queried range.
type SeriesRange struct {
	Labels  map[string]string
	Samples []series.Sample
}

// QueryByMatchers resolves ms against the in-memory series metadata and
// returns each matching series' samples in [start, end].
func (db *TSDB) QueryByMatchers(ms matcher.Matchers, start, end int64) ([]SeriesRange, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}

	db.mu.RLock()
	activeMemTable := db.activeMemTable
	flushingMemTable := db.flushingMemTable
	db.mu.RUnlock()

	matched := make(map[uint64]map[string]string)

	activeMemTable.mu.RLock()
	for _, s := range activeMemTable.seriesMeta {
		if matchLabels(s.Labels, ms) {
			matched[s.Hash] = s.Labels
		}
	}
	activeMemTable.mu.RUnlock()

	if flushingMemTable != nil {
		flushingMemTable.mu.RLock()
		for _, s := range flushingMemTable.seriesMeta {
			if matchLabels(s.Labels, ms) {
				matched[s.Hash] = s.Labels
			}
		}
		flushingMemTable.mu.RUnlock()
	}

	results := make([]SeriesRange, 0, len(matched))
	for hash, labels := range matched {
		samples, err := db.Query(hash, start, end)
		if err != nil {
			return nil, err
		}
		results = append(results, SeriesRange{Labels: labels, Samples: samples})
	}
	return results, nil
}

// matchLabels checks if the given labels match a matcher set; an empty
// set (no AND groups) matches everything.
func matchLabels(labels map[string]string, ms matcher.Matchers) bool {
	if len(ms.Groups) == 0 {
		return true
	}
	return ms.MatchesLabels(labels)
}
