package cache

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/gob"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// entrySize mirrors Entry.Size closely enough for capacity accounting.
const entrySize = `COALESCE(LENGTH(body), 0) + COALESCE(LENGTH(header), 0) + LENGTH(key)`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS caches (
  name       TEXT PRIMARY KEY,
  created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
  cache_name TEXT NOT NULL REFERENCES caches(name),
  key        TEXT NOT NULL,
  seq        INTEGER NOT NULL,
  method     TEXT NOT NULL,
  url        TEXT NOT NULL,
  status     INTEGER NOT NULL,
  header     BLOB,
  body       BLOB,
  stored_at  INTEGER NOT NULL,
  accessed_at INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (cache_name, key)
);
`

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// SQLiteDB holds every named cache in one SQLite database.
type SQLiteDB struct {
	sqlDB    *sql.DB
	capacity int64
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// capacity bounds the bytes of each cache, 0 for unbounded.
func OpenSQLite(path string, capacity int64) (*SQLiteDB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteDB{sqlDB: sqlDB, capacity: capacity}, nil
}

// OpenStore returns the store for the named cache, registering the name if
// it is new.
func (db *SQLiteDB) OpenStore(name string) (Store, error) {
	_, err := db.sqlDB.Exec(
		`INSERT INTO caches (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, toMillis(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("register cache %q: %w", name, err)
	}
	return &SQLiteStore{db: db.sqlDB, name: name, capacity: db.capacity}, nil
}

// Names lists the registered caches in creation order.
func (db *SQLiteDB) Names() ([]string, error) {
	rows, err := db.sqlDB.Query(`SELECT name FROM caches ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan cache name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close closes the SQLite handle.
func (db *SQLiteDB) Close() error {
	if db == nil || db.sqlDB == nil {
		return nil
	}
	return db.sqlDB.Close()
}

// SQLiteStore is the Store for one named cache inside a SQLiteDB.
type SQLiteStore struct {
	db       *sql.DB
	name     string
	capacity int64

	mu    sync.Mutex
	stats CacheStats
}

// Get retrieves an entry by key.
func (s *SQLiteStore) Get(key string) (*Entry, bool) {
	row := s.db.QueryRow(
		`SELECT method, url, status, header, body, stored_at FROM entries WHERE cache_name = ? AND key = ?`,
		s.name, key,
	)

	var (
		e        = &Entry{Key: key}
		header   []byte
		storedAt int64
	)
	err := row.Scan(&e.Method, &e.URL, &e.Status, &header, &e.Body, &storedAt)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.stats.Misses++
		return nil, false
	}
	if len(header) > 0 {
		if err := gob.NewDecoder(bytes.NewReader(header)).Decode(&e.Header); err != nil {
			s.stats.Misses++
			return nil, false
		}
	}
	if e.Header == nil {
		e.Header = http.Header{}
	}
	e.StoredAt = fromMillis(storedAt)

	_, _ = s.db.Exec(
		`UPDATE entries SET accessed_at = ? WHERE cache_name = ? AND key = ?`,
		toMillis(time.Now()), s.name, key,
	)
	s.stats.Hits++
	s.stats.LastAccess = time.Now()
	return e, true
}

// PutAll writes the batch in a single transaction, evicting the least
// recently used entries outside the batch when the cache is over capacity.
func (s *SQLiteStore) PutAll(entries []*Entry) (err error) {
	if s.capacity > 0 {
		var batchSize int64
		for _, e := range entries {
			batchSize += e.Size()
		}
		if batchSize > s.capacity {
			return ErrItemTooLarge
		}
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var seq int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM entries WHERE cache_name = ?`, s.name).Scan(&seq); err != nil {
		return fmt.Errorf("read sequence: %w", err)
	}
	lastOld := seq
	now := toMillis(time.Now())

	for _, e := range entries {
		h := e.Header
		if h == nil {
			h = http.Header{}
		}
		var header bytes.Buffer
		if err := gob.NewEncoder(&header).Encode(h); err != nil {
			return fmt.Errorf("encode header: %w", err)
		}
		seq++
		_, err := tx.Exec(
			`INSERT INTO entries (cache_name, key, seq, method, url, status, header, body, stored_at, accessed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(cache_name, key) DO UPDATE SET
			   seq = excluded.seq,
			   method = excluded.method,
			   url = excluded.url,
			   status = excluded.status,
			   header = excluded.header,
			   body = excluded.body,
			   stored_at = excluded.stored_at,
			   accessed_at = excluded.accessed_at`,
			s.name, e.Key, seq, e.Method, e.URL, e.Status, header.Bytes(), e.Body, toMillis(e.StoredAt), now,
		)
		if err != nil {
			return fmt.Errorf("insert entry %q: %w", e.Key, err)
		}
	}

	evicted, err := s.evict(tx, lastOld)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	s.mu.Lock()
	s.stats.Evictions += evicted
	s.stats.LastWrite = time.Now()
	s.mu.Unlock()
	return nil
}

// evict removes least recently used entries with seq <= lastOld until the
// cache fits its capacity. Entries of the batch being written have a higher
// seq and are never evicted.
func (s *SQLiteStore) evict(tx *sql.Tx, lastOld int64) (int64, error) {
	if s.capacity <= 0 {
		return 0, nil
	}

	var size int64
	if err := tx.QueryRow(
		`SELECT COALESCE(SUM(`+entrySize+`), 0) FROM entries WHERE cache_name = ?`, s.name,
	).Scan(&size); err != nil {
		return 0, fmt.Errorf("read cache size: %w", err)
	}

	var evicted int64
	for size > s.capacity {
		var (
			key string
			n   int64
		)
		err := tx.QueryRow(
			`SELECT key, `+entrySize+` FROM entries
			 WHERE cache_name = ? AND seq <= ?
			 ORDER BY accessed_at, seq LIMIT 1`,
			s.name, lastOld,
		).Scan(&key, &n)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("select eviction candidate: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM entries WHERE cache_name = ? AND key = ?`, s.name, key); err != nil {
			return 0, fmt.Errorf("evict %q: %w", key, err)
		}
		size -= n
		evicted++
	}
	return evicted, nil
}

// Keys returns the keys of this cache in insertion order.
func (s *SQLiteStore) Keys() []string {
	rows, err := s.db.Query(`SELECT key FROM entries WHERE cache_name = ? ORDER BY seq`, s.name)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return keys
		}
		keys = append(keys, key)
	}
	return keys
}

// Len returns the number of entries in this cache.
func (s *SQLiteStore) Len() int {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM entries WHERE cache_name = ?`, s.name).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Size returns the stored body and header bytes of this cache.
func (s *SQLiteStore) Size() int64 {
	var n sql.NullInt64
	err := s.db.QueryRow(
		`SELECT SUM(`+entrySize+`) FROM entries WHERE cache_name = ?`,
		s.name,
	).Scan(&n)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0
	}
	return n.Int64
}

// Stats returns store statistics.
func (s *SQLiteStore) Stats() CacheStats {
	size, count := s.Size(), int64(s.Len())

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.Capacity = s.capacity
	stats.Size = size
	stats.ItemCount = count
	if stats.Hits+stats.Misses > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Hits+stats.Misses)
	}
	return stats
}

// Close is a no-op; the database is closed through SQLiteDB.
func (s *SQLiteStore) Close() error {
	return nil
}
