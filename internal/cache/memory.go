package cache

import (
	"container/list"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements an in-memory Store with LRU eviction.
// A capacity of zero disables eviction.
type MemoryStore struct {
	capacity int64 // Maximum size in bytes
	size     int64 // Current size in bytes
	seq      uint64

	// LRU implementation
	items    map[string]*list.Element
	eviction *list.List

	// Synchronization
	mu sync.RWMutex

	// Metrics
	stats CacheStats
}

// memoryEntry represents an entry in the memory store
type memoryEntry struct {
	entry *Entry
	size  int64
	seq   uint64
	hits  int64
}

// NewMemoryStore creates a new memory store with the specified capacity in bytes.
func NewMemoryStore(capacity int64) *MemoryStore {
	return &MemoryStore{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
		stats: CacheStats{
			Capacity: capacity,
		},
	}
}

// Get retrieves an entry from the store.
func (s *MemoryStore) Get(key string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		s.stats.Misses++
		return nil, false
	}

	// Move to front (most recently used)
	s.eviction.MoveToFront(elem)
	me := elem.Value.(*memoryEntry)
	me.hits++

	s.stats.Hits++
	s.stats.LastAccess = time.Now()
	return me.entry, true
}

// PutAll stores a batch of entries. The batch is rejected whole if it cannot
// fit in the store even after evicting everything else.
func (s *MemoryStore) PutAll(entries []*Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var batchSize int64
	for _, e := range entries {
		batchSize += e.Size()
	}
	if s.capacity > 0 && batchSize > s.capacity {
		return ErrItemTooLarge
	}

	// Replace existing keys first so their bytes are not counted twice
	for _, e := range entries {
		if elem, ok := s.items[e.Key]; ok {
			s.removeElement(elem)
		}
	}

	// Evict items if necessary
	for s.capacity > 0 && s.size+batchSize > s.capacity && s.eviction.Len() > 0 {
		s.evictOldest()
	}

	for _, e := range entries {
		s.seq++
		me := &memoryEntry{entry: e, size: e.Size(), seq: s.seq}
		s.items[e.Key] = s.eviction.PushFront(me)
		s.size += me.size
	}

	s.stats.Size = s.size
	s.stats.LastWrite = time.Now()
	return nil
}

// Keys returns all keys in insertion order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*memoryEntry, 0, len(s.items))
	for _, elem := range s.items {
		entries = append(entries, elem.Value.(*memoryEntry))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	keys := make([]string, len(entries))
	for i, me := range entries {
		keys[i] = me.entry.Key
	}
	return keys
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.items)
}

// Size returns the current store size in bytes.
func (s *MemoryStore) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.size
}

// Stats returns store statistics.
func (s *MemoryStore) Stats() CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.stats
	stats.Size = s.size
	stats.ItemCount = int64(len(s.items))

	if stats.Hits+stats.Misses > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Hits+stats.Misses)
	}

	return stats
}

// Close drops every entry.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*list.Element)
	s.eviction.Init()
	s.size = 0
	return nil
}

// evictOldest removes the least recently used item (must be called with lock held).
func (s *MemoryStore) evictOldest() {
	elem := s.eviction.Back()
	if elem != nil {
		s.removeElement(elem)
		s.stats.Evictions++
	}
}

// removeElement removes an element from the store (must be called with lock held).
func (s *MemoryStore) removeElement(elem *list.Element) {
	s.eviction.Remove(elem)
	me := elem.Value.(*memoryEntry)
	delete(s.items, me.entry.Key)
	s.size -= me.size
}
