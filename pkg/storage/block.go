package storage

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/chronoshard/tsdb/pkg/series"
)

const (
	// DefaultBlockDuration is the default time span for a block (2 hours)
	DefaultBlockDuration = 2 * time.Hour

	// MetaFile is the name of the metadata file within a block directory
	MetaFile = "meta.json"

	// SeriesFile is the name of the series-metadata sidecar file within a
	// block directory. Chunks are keyed by series hash only, so a block
	// needs this to recover each series' labels on OpenBlock (compaction's
	// mergeBlocks needs the labels to rebuild a merged block's series set).
	SeriesFile = "series.json"

	// ChunksDir is the name of the chunks directory within a block
	ChunksDir = "chunks"

	// BlockVersion is the current block format version
	BlockVersion = 1
)

// BlockMeta contains metadata about a block. Stored as meta.json in the
// block directory.
type BlockMeta struct {
	ULID       string     `json:"ulid"`
	MinTime    int64      `json:"minTime"`
	MaxTime    int64      `json:"maxTime"`
	Stats      BlockStats `json:"stats"`
	Version    int        `json:"version"`
}

// BlockStats contains statistics about block contents.
type BlockStats struct {
	NumSamples uint64 `json:"numSamples"`
	NumSeries  uint64 `json:"numSeries"`
	NumChunks  uint64 `json:"numChunks"`
}

// seriesRecord is the on-disk shape of one entry in series.json.
type seriesRecord struct {
	Hash   uint64            `json:"hash"`
	Labels map[string]string `json:"labels"`
}

// Block is a time-partitioned, immutable set of series data. A Block is
// built entirely in memory via AddSeries and only touches disk once
// Persist is called; OpenBlock reconstructs a Block from a directory
// written by a prior Persist.
//
// Directory structure once persisted:
//
//	01H8XABC00000000/          # Block directory (ULID)
//	├── meta.json              # Block metadata
//	├── series.json            # Series label metadata
//	└── chunks/                # Chunks directory
//	    ├── 0000000000000001   # Chunk file (series hash as filename)
//	    └── ...
type Block struct {
	ULID       ulid.ULID
	MinTime    int64
	MaxTime    int64
	NumSeries  uint64
	NumSamples uint64

	mu         sync.RWMutex
	series     map[uint64]*series.Series
	samples    map[uint64][]series.Sample // filled by AddSeries; GetSeries reads chunks from disk instead once persisted
	dir        string
	persisted  bool
}

// NewBlock creates a new, empty, in-memory block spanning [minTime, maxTime].
// Its ULID is derived from minTime so blocks sort chronologically.
func NewBlock(minTime, maxTime int64) (*Block, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.UnixMilli(minTime)), entropy)
	if err != nil {
		return nil, fmt.Errorf("failed to generate block ulid: %w", err)
	}

	return &Block{
		ULID:    id,
		MinTime: minTime,
		MaxTime: maxTime,
		series:  make(map[uint64]*series.Series),
		samples: make(map[uint64][]series.Sample),
	}, nil
}

// AddSeries registers s's samples into the block, keyed by its content
// hash. Calling AddSeries again for the same hash appends more samples.
func (b *Block) AddSeries(s *series.Series, samples []series.Sample) error {
	if s == nil {
		return fmt.Errorf("cannot add nil series")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.series[s.Hash]; !exists {
		b.series[s.Hash] = s.Clone()
		b.NumSeries++
	}

	b.samples[s.Hash] = append(b.samples[s.Hash], samples...)
	b.NumSamples += uint64(len(samples))

	return nil
}

// SeriesMeta returns a copy of the block's hash-to-series map.
func (b *Block) SeriesMeta() map[uint64]*series.Series {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[uint64]*series.Series, len(b.series))
	for hash, s := range b.series {
		out[hash] = s
	}
	return out
}

// Persist writes the block to dir/<ULID>, sealing each series' samples
// into Gorilla-compressed chunks of at most DefaultChunkSize samples.
func (b *Block) Persist(dir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	blockDir := filepath.Join(dir, b.ULID.String())
	chunksDir := filepath.Join(blockDir, ChunksDir)
	if err := os.MkdirAll(chunksDir, 0755); err != nil {
		return fmt.Errorf("failed to create block directories: %w", err)
	}

	var numChunks uint64
	for hash, samples := range b.samples {
		if len(samples) == 0 {
			continue
		}

		sorted := make([]series.Sample, len(samples))
		copy(sorted, samples)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

		chunkPath := filepath.Join(chunksDir, fmt.Sprintf("%016x", hash))
		f, err := os.Create(chunkPath)
		if err != nil {
			return fmt.Errorf("failed to create chunk file: %w", err)
		}

		var lastTs int64
		first := true
		chunk := NewChunk()
		flush := func() error {
			if chunk.NumSamples == 0 {
				return nil
			}
			if err := chunk.Seal(); err != nil {
				return err
			}
			if _, err := chunk.WriteTo(f); err != nil {
				return err
			}
			numChunks++
			return nil
		}

		for _, sample := range sorted {
			if !first && sample.Timestamp == lastTs {
				continue // drop exact-duplicate timestamps
			}
			first = false
			lastTs = sample.Timestamp

			if chunk.IsFull() {
				if err := flush(); err != nil {
					f.Close()
					return fmt.Errorf("failed to seal chunk: %w", err)
				}
				chunk = NewChunk()
			}
			if err := chunk.Append(sample); err != nil {
				f.Close()
				return fmt.Errorf("failed to append sample: %w", err)
			}
		}
		if err := flush(); err != nil {
			f.Close()
			return fmt.Errorf("failed to seal chunk: %w", err)
		}

		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close chunk file: %w", err)
		}
	}

	meta := BlockMeta{
		ULID:    b.ULID.String(),
		MinTime: b.MinTime,
		MaxTime: b.MaxTime,
		Version: BlockVersion,
		Stats: BlockStats{
			NumSamples: b.NumSamples,
			NumSeries:  b.NumSeries,
			NumChunks:  numChunks,
		},
	}
	if err := writeJSONFile(filepath.Join(blockDir, MetaFile), &meta); err != nil {
		return fmt.Errorf("failed to write meta file: %w", err)
	}

	records := make([]seriesRecord, 0, len(b.series))
	for hash, s := range b.series {
		records = append(records, seriesRecord{Hash: hash, Labels: s.Labels})
	}
	if err := writeJSONFile(filepath.Join(blockDir, SeriesFile), &records); err != nil {
		return fmt.Errorf("failed to write series file: %w", err)
	}

	b.dir = blockDir
	b.persisted = true
	return nil
}

func writeJSONFile(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// OpenBlock opens a block previously written by Persist.
func OpenBlock(dir string) (*Block, error) {
	var meta BlockMeta
	if err := readJSONFile(filepath.Join(dir, MetaFile), &meta); err != nil {
		return nil, fmt.Errorf("failed to read meta file: %w", err)
	}
	if meta.Version != BlockVersion {
		return nil, fmt.Errorf("unsupported block version: %d", meta.Version)
	}

	id, err := ulid.Parse(meta.ULID)
	if err != nil {
		return nil, fmt.Errorf("invalid block ulid %q: %w", meta.ULID, err)
	}

	b := &Block{
		ULID:       id,
		MinTime:    meta.MinTime,
		MaxTime:    meta.MaxTime,
		NumSeries:  meta.Stats.NumSeries,
		NumSamples: meta.Stats.NumSamples,
		series:     make(map[uint64]*series.Series),
		samples:    make(map[uint64][]series.Sample),
		dir:        dir,
		persisted:  true,
	}

	var records []seriesRecord
	seriesPath := filepath.Join(dir, SeriesFile)
	if _, err := os.Stat(seriesPath); err == nil {
		if err := readJSONFile(seriesPath, &records); err != nil {
			return nil, fmt.Errorf("failed to read series file: %w", err)
		}
		for _, rec := range records {
			s := series.NewSeries(rec.Labels)
			s.Hash = rec.Hash
			b.series[rec.Hash] = s
		}
	}

	return b, nil
}

func readJSONFile(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}

// GetSeries returns samples for the given series hash within
// [minTime, maxTime], reading sealed chunks back from disk if the block
// has been persisted, or its in-memory buffer otherwise.
func (b *Block) GetSeries(seriesHash uint64, minTime, maxTime int64) ([]series.Sample, error) {
	if maxTime < b.MinTime || minTime > b.MaxTime {
		return nil, nil
	}

	b.mu.RLock()
	persisted := b.persisted
	dir := b.dir
	buffered := b.samples[seriesHash]
	b.mu.RUnlock()

	var all []series.Sample
	if persisted {
		chunks, err := b.readChunks(dir, seriesHash)
		if err != nil {
			return nil, err
		}
		for _, chunk := range chunks {
			if chunk.MaxTime < minTime || chunk.MinTime > maxTime {
				continue
			}
			it, err := chunk.Iterator()
			if err != nil {
				return nil, fmt.Errorf("failed to create chunk iterator: %w", err)
			}
			for it.Next() {
				sample, err := it.At()
				if err != nil {
					return nil, fmt.Errorf("failed to read sample: %w", err)
				}
				all = append(all, sample)
			}
		}
	} else {
		all = append(all, buffered...)
	}

	result := make([]series.Sample, 0, len(all))
	for _, sample := range all {
		if sample.Timestamp >= minTime && sample.Timestamp <= maxTime {
			result = append(result, sample)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp < result[j].Timestamp })
	return result, nil
}

func (b *Block) readChunks(dir string, seriesHash uint64) ([]*Chunk, error) {
	chunkPath := filepath.Join(dir, ChunksDir, fmt.Sprintf("%016x", seriesHash))
	if _, err := os.Stat(chunkPath); os.IsNotExist(err) {
		return nil, nil
	}

	f, err := os.Open(chunkPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk file: %w", err)
	}
	defer f.Close()

	chunks := make([]*Chunk, 0)
	for {
		chunk := &Chunk{}
		if _, err := chunk.ReadFrom(f); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to read chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// Dir returns the block's directory once persisted, or "" otherwise.
func (b *Block) Dir() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dir
}

// Contains returns true if the given timestamp falls within the block's time range.
func (b *Block) Contains(timestamp int64) bool {
	return timestamp >= b.MinTime && timestamp <= b.MaxTime
}

// Overlaps returns true if the given time range overlaps with the block's time range.
func (b *Block) Overlaps(minTime, maxTime int64) bool {
	return !(maxTime < b.MinTime || minTime > b.MaxTime)
}

// Delete removes the block directory and all its contents.
func (b *Block) Delete() error {
	b.mu.RLock()
	dir := b.dir
	b.mu.RUnlock()
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}

// Validate checks a persisted block for consistency and corruption.
func (b *Block) Validate() error {
	b.mu.RLock()
	dir := b.dir
	b.mu.RUnlock()
	if dir == "" {
		return fmt.Errorf("block has not been persisted")
	}

	metaPath := filepath.Join(dir, MetaFile)
	if _, err := os.Stat(metaPath); os.IsNotExist(err) {
		return fmt.Errorf("meta file not found")
	}

	chunksDir := filepath.Join(dir, ChunksDir)
	entries, err := os.ReadDir(chunksDir)
	if err != nil {
		return fmt.Errorf("failed to read chunks directory: %w", err)
	}

	var totalSamples, totalChunks uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		chunkPath := filepath.Join(chunksDir, entry.Name())
		f, err := os.Open(chunkPath)
		if err != nil {
			return fmt.Errorf("failed to open chunk file %s: %w", entry.Name(), err)
		}

		for {
			chunk := &Chunk{}
			if _, err := chunk.ReadFrom(f); err != nil {
				if err == io.EOF {
					break
				}
				f.Close()
				return fmt.Errorf("failed to read chunk from %s: %w", entry.Name(), err)
			}
			totalSamples += uint64(chunk.NumSamples)
			totalChunks++
		}
		f.Close()
	}

	if totalSamples != b.NumSamples {
		return fmt.Errorf("sample count mismatch: meta has %d, actual is %d", b.NumSamples, totalSamples)
	}

	return nil
}

// Size returns the total on-disk size of the block in bytes; zero if the
// block has not been persisted.
func (b *Block) Size() int64 {
	b.mu.RLock()
	dir := b.dir
	b.mu.RUnlock()
	if dir == "" {
		return 0
	}

	var size int64
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}

// String returns a human-readable summary of the block.
func (b *Block) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return fmt.Sprintf("Block{ULID: %s, MinTime: %d, MaxTime: %d, NumSeries: %d, NumSamples: %d}",
		b.ULID.String(), b.MinTime, b.MaxTime, b.NumSeries, b.NumSamples)
}

// BlockWriter builds blocks from MemTables and persists them under DataDir.
type BlockWriter struct {
	dataDir string
}

// NewBlockWriter returns a BlockWriter that persists blocks under dataDir.
func NewBlockWriter(dataDir string) *BlockWriter {
	return &BlockWriter{dataDir: dataDir}
}

// WriteMemTable builds a new Block from mt's contents and persists it.
func (w *BlockWriter) WriteMemTable(mt *MemTable) (*Block, error) {
	minTime, maxTime := mt.TimeRange()
	if minTime == -1 {
		minTime, maxTime = 0, 0
	}

	block, err := NewBlock(minTime, maxTime)
	if err != nil {
		return nil, fmt.Errorf("failed to create block: %w", err)
	}

	for _, hash := range mt.AllSeries() {
		s, ok := mt.GetSeries(hash)
		if !ok {
			continue
		}
		samples, err := mt.Query(hash, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to read series samples: %w", err)
		}
		if err := block.AddSeries(s, samples); err != nil {
			return nil, fmt.Errorf("failed to add series to block: %w", err)
		}
	}

	if err := block.Persist(w.dataDir); err != nil {
		return nil, fmt.Errorf("failed to persist block: %w", err)
	}

	return block, nil
}

// BlockReader loads and queries the set of blocks under a data directory.
type BlockReader struct {
	dataDir string

	mu     sync.RWMutex
	blocks []*Block
}

// NewBlockReader returns a BlockReader over dataDir.
func NewBlockReader(dataDir string) *BlockReader {
	return &BlockReader{dataDir: dataDir}
}

// LoadBlocks (re)scans dataDir and opens every block directory found,
// replacing any previously loaded set.
func (r *BlockReader) LoadBlocks() error {
	entries, err := os.ReadDir(r.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			r.mu.Lock()
			r.blocks = nil
			r.mu.Unlock()
			return nil
		}
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	var blocks []*Block
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		blockDir := filepath.Join(r.dataDir, entry.Name())
		if _, err := os.Stat(filepath.Join(blockDir, MetaFile)); os.IsNotExist(err) {
			continue
		}
		block, err := OpenBlock(blockDir)
		if err != nil {
			return fmt.Errorf("failed to open block %s: %w", entry.Name(), err)
		}
		blocks = append(blocks, block)
	}

	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].ULID.Time() < blocks[j].ULID.Time()
	})

	r.mu.Lock()
	r.blocks = blocks
	r.mu.Unlock()
	return nil
}

// Blocks returns the most recently loaded set of blocks, sorted by ULID time.
func (r *BlockReader) Blocks() []*Block {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Block, len(r.blocks))
	copy(out, r.blocks)
	return out
}

// Query merges samples for seriesHash within [minTime, maxTime] across
// every loaded block that overlaps the range.
func (r *BlockReader) Query(seriesHash uint64, minTime, maxTime int64) ([]series.Sample, error) {
	blocks := r.Blocks()

	var result []series.Sample
	for _, block := range blocks {
		if !block.Overlaps(minTime, maxTime) {
			continue
		}
		samples, err := block.GetSeries(seriesHash, minTime, maxTime)
		if err != nil {
			return nil, err
		}
		result = append(result, samples...)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp < result[j].Timestamp })
	return result, nil
}
