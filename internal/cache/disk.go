package cache

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const indexFile = "cache.index"

// DiskStore implements a Store backed by one file per entry, with optional
// zstd compression. The index is rewritten after every batch so a store
// reopened on the same directory sees the same entries.
type DiskStore struct {
	basePath string
	capacity int64 // Maximum size in bytes, 0 for unbounded
	size     int64 // Current size in bytes
	seq      uint64

	// Compression
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	// Index for fast lookups
	index map[string]*diskEntry

	// Synchronization
	mu     sync.RWMutex
	closed bool

	// Metrics
	stats CacheStats

	enableCompression bool
}

// diskEntry represents an entry in the disk store index
type diskEntry struct {
	Key        string
	FilePath   string
	Size       int64 // Size on disk
	Seq        uint64
	StoredAt   time.Time
	LastAccess time.Time
	Hits       int64
	Compressed bool
}

// NewDiskStore creates a disk store rooted at basePath. A compressionLevel of
// zero disables compression.
func NewDiskStore(basePath string, capacity int64, compressionLevel int) (*DiskStore, error) {
	// Create cache directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	ds := &DiskStore{
		basePath:          basePath,
		capacity:          capacity,
		index:             make(map[string]*diskEntry),
		enableCompression: compressionLevel > 0,
		stats: CacheStats{
			Capacity: capacity,
		},
	}

	// Entries written with compression must stay readable even if the store is
	// reopened with compression off, so the decoder is always present.
	var err error
	ds.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	if ds.enableCompression {
		ds.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}

	// Load existing index
	if err := ds.loadIndex(); err != nil {
		// Non-fatal: just start with empty index
		ds.index = make(map[string]*diskEntry)
	}

	ds.calculateSize()

	return ds, nil
}

// Get retrieves an entry from disk.
func (ds *DiskStore) Get(key string) (*Entry, bool) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	de, ok := ds.index[key]
	if !ok || ds.closed {
		ds.stats.Misses++
		return nil, false
	}

	data, err := os.ReadFile(de.FilePath)
	if err != nil {
		// File missing, remove from index
		ds.dropLocked(key, de)
		ds.stats.Misses++
		return nil, false
	}

	if de.Compressed {
		data, err = ds.decoder.DecodeAll(data, nil)
		if err != nil {
			ds.dropLocked(key, de)
			ds.stats.Misses++
			return nil, false
		}
	}

	entry, err := decodeEntry(data)
	if err != nil {
		ds.dropLocked(key, de)
		ds.stats.Misses++
		return nil, false
	}

	de.LastAccess = time.Now()
	de.Hits++

	ds.stats.Hits++
	ds.stats.LastAccess = de.LastAccess

	return entry, true
}

// pendingWrite is a batch member that has been written to a temp file but
// not yet committed to the index.
type pendingWrite struct {
	entry *diskEntry
	temp  string
}

// PutAll writes every entry to disk and commits them to the index in one
// step. On any error the index is left unchanged and new files are removed.
func (ds *DiskStore) PutAll(entries []*Entry) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.closed {
		return ErrClosed
	}

	pending := make([]pendingWrite, 0, len(entries))
	cleanup := func() {
		for _, p := range pending {
			os.Remove(p.temp)
			os.Remove(p.entry.FilePath)
		}
	}

	var batchSize int64
	seq := ds.seq
	for _, e := range entries {
		data, err := encodeEntry(e)
		if err != nil {
			cleanup()
			return err
		}

		var compressed bool
		if ds.enableCompression && len(data) > 1024 { // Only compress if > 1KB
			c := ds.encoder.EncodeAll(data, nil)
			// Only use compression if it actually reduces size
			if len(c) < len(data) {
				data = c
				compressed = true
			}
		}

		seq++
		filePath := ds.generateFilePath(e.Key, seq)
		temp := filePath + ".tmp"
		if err := writeFile(temp, data); err != nil {
			cleanup()
			return fmt.Errorf("failed to write cache file: %w", err)
		}

		batchSize += int64(len(data))
		pending = append(pending, pendingWrite{
			temp: temp,
			entry: &diskEntry{
				Key:        e.Key,
				FilePath:   filePath,
				Size:       int64(len(data)),
				Seq:        seq,
				StoredAt:   e.StoredAt,
				LastAccess: time.Now(),
				Compressed: compressed,
			},
		})
	}

	if ds.capacity > 0 && batchSize > ds.capacity {
		cleanup()
		return ErrItemTooLarge
	}

	for _, p := range pending {
		if err := os.Rename(p.temp, p.entry.FilePath); err != nil {
			cleanup()
			return fmt.Errorf("failed to commit cache file: %w", err)
		}
	}

	// Build the next index, then persist it before touching anything else
	previous := make(map[string]*diskEntry, len(ds.index))
	for k, v := range ds.index {
		previous[k] = v
	}

	var stale []string
	for _, p := range pending {
		if old, ok := ds.index[p.entry.Key]; ok {
			stale = append(stale, old.FilePath)
		}
		ds.index[p.entry.Key] = p.entry
	}
	inBatch := make(map[string]bool, len(pending))
	for _, p := range pending {
		inBatch[p.entry.Key] = true
	}
	ds.calculateSize()
	for ds.capacity > 0 && ds.size > ds.capacity {
		victim := ds.oldestExcept(inBatch)
		if victim == nil {
			break
		}
		stale = append(stale, victim.FilePath)
		delete(ds.index, victim.Key)
		ds.size -= victim.Size
		ds.stats.Evictions++
	}

	if err := ds.saveIndex(); err != nil {
		ds.index = previous
		ds.calculateSize()
		cleanup()
		return fmt.Errorf("failed to save cache index: %w", err)
	}

	for _, path := range stale {
		os.Remove(path)
	}

	ds.seq = seq
	ds.stats.Size = ds.size
	ds.stats.ItemCount = int64(len(ds.index))
	ds.stats.LastWrite = time.Now()

	return nil
}

// Keys returns all keys in insertion order.
func (ds *DiskStore) Keys() []string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	entries := make([]*diskEntry, 0, len(ds.index))
	for _, de := range ds.index {
		entries = append(entries, de)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })

	keys := make([]string, len(entries))
	for i, de := range entries {
		keys[i] = de.Key
	}
	return keys
}

// Len returns the number of indexed entries.
func (ds *DiskStore) Len() int {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	return len(ds.index)
}

// Size returns the current store size in bytes.
func (ds *DiskStore) Size() int64 {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	return ds.size
}

// Stats returns store statistics.
func (ds *DiskStore) Stats() CacheStats {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	stats := ds.stats
	stats.Size = ds.size
	stats.ItemCount = int64(len(ds.index))

	if stats.Hits+stats.Misses > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Hits+stats.Misses)
	}

	return stats
}

// Close saves the index and releases the codecs.
func (ds *DiskStore) Close() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.closed {
		return nil
	}
	ds.closed = true

	if ds.encoder != nil {
		ds.encoder.Close()
	}
	ds.decoder.Close()

	return ds.saveIndex()
}

// Private helper methods

func (ds *DiskStore) generateFilePath(key string, seq uint64) string {
	// Use SHA256 hash of key for filename
	hash := sha256.Sum256([]byte(key))
	filename := fmt.Sprintf("%s-%d.cache", hex.EncodeToString(hash[:16]), seq)
	return filepath.Join(ds.basePath, filename)
}

func (ds *DiskStore) dropLocked(key string, de *diskEntry) {
	os.Remove(de.FilePath)
	delete(ds.index, key)
	ds.size -= de.Size
}

func (ds *DiskStore) oldestExcept(skip map[string]bool) *diskEntry {
	var oldest *diskEntry
	for key, de := range ds.index {
		if skip[key] {
			continue
		}
		if oldest == nil || de.LastAccess.Before(oldest.LastAccess) {
			oldest = de
		}
	}
	return oldest
}

func writeFile(path string, data []byte) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		os.Remove(path)
		return err
	}
	if closeErr != nil {
		os.Remove(path)
		return closeErr
	}
	return nil
}

func (ds *DiskStore) loadIndex() error {
	indexPath := filepath.Join(ds.basePath, indexFile)

	file, err := os.Open(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No index file yet
		}
		return err
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(&ds.index); err != nil {
		return err
	}

	for _, de := range ds.index {
		if de.Seq > ds.seq {
			ds.seq = de.Seq
		}
	}
	return nil
}

func (ds *DiskStore) saveIndex() error {
	indexPath := filepath.Join(ds.basePath, indexFile)
	tempPath := indexPath + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	err = gob.NewEncoder(file).Encode(ds.index)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, indexPath)
}

func (ds *DiskStore) calculateSize() {
	ds.size = 0
	for _, de := range ds.index {
		ds.size += de.Size
	}
	ds.stats.Size = ds.size
	ds.stats.ItemCount = int64(len(ds.index))
}
