package cache

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Common errors for cache operations
var (
	// ErrItemTooLarge is returned when a batch exceeds the store capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCacheCorrupted is returned when stored data cannot be decoded
	ErrCacheCorrupted = errors.New("cache data corrupted")

	// ErrMethodNotAllowed is returned when a non-GET request is added
	ErrMethodNotAllowed = errors.New("only GET requests can be cached")

	// ErrDuplicateRequest is returned when a batch names the same request twice
	ErrDuplicateRequest = errors.New("duplicate request in batch")

	// ErrInvalidCacheName is returned for names a backend cannot store
	ErrInvalidCacheName = errors.New("invalid cache name")

	// ErrClosed is returned by operations on a closed store
	ErrClosed = errors.New("cache store closed")
)

// Backend names a Store implementation.
type Backend string

const (
	// BackendMemory keeps entries in process memory (lost on exit)
	BackendMemory Backend = "memory"

	// BackendDisk keeps entries as files under a directory
	BackendDisk Backend = "disk"

	// BackendSQLite keeps entries in a SQLite database
	BackendSQLite Backend = "sqlite"
)

// Entry is a stored request/response pair.
type Entry struct {
	Key      string
	Method   string
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Size returns the approximate number of bytes the entry occupies.
func (e *Entry) Size() int64 {
	n := int64(len(e.Body) + len(e.Key))
	for k, vs := range e.Header {
		n += int64(len(k))
		for _, v := range vs {
			n += int64(len(v))
		}
	}
	return n
}

// Response builds a fresh *http.Response that reads the stored body.
func (e *Entry) Response(req *http.Request) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        e.Header.Clone(),
		Body:          newBodyReader(e.Body),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// KeyFor derives the cache key of a request: method plus absolute URL, with
// the fragment dropped.
func KeyFor(req *http.Request) string {
	u := *req.URL
	u.Fragment = ""
	u.RawFragment = ""
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return strings.ToUpper(method) + " " + u.String()
}

// CacheStats holds cache performance metrics
type CacheStats struct {
	// Configuration
	Capacity int64 // Maximum capacity in bytes, 0 for unbounded

	// Current state
	Size      int64 // Current size in bytes
	ItemCount int64 // Number of items in cache

	// Performance metrics
	Hits      int64   // Number of cache hits
	Misses    int64   // Number of cache misses
	Evictions int64   // Number of evictions
	HitRate   float64 // Calculated hit rate (hits / (hits + misses))

	// Timing
	LastAccess time.Time // Last access time
	LastWrite  time.Time // Last committed batch
}

// Store is the persistence layer behind a single named cache.
type Store interface {
	// Get returns the entry stored under key.
	Get(key string) (*Entry, bool)

	// PutAll stores every entry or none of them.
	PutAll(entries []*Entry) error

	// Keys returns the stored keys in insertion order.
	Keys() []string

	Len() int
	Size() int64
	Stats() CacheStats
	Close() error
}
