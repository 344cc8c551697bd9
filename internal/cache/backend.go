package cache

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// Opener creates the Store behind each named cache.
type Opener interface {
	// OpenStore returns the store for name, creating it if needed.
	OpenStore(name string) (Store, error)

	// Names lists caches that already exist, in creation order.
	Names() ([]string, error)

	Close() error
}

// BackendConfig selects and sizes a backend.
type BackendConfig struct {
	Backend          Backend
	Dir              string // Root directory for disk and sqlite backends
	Capacity         int64  // Bytes per cache, 0 for unbounded
	CompressionLevel int    // Zstd level for the disk backend, 0 disables
}

// NewOpener builds the Opener described by cfg.
func NewOpener(cfg BackendConfig) (Opener, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return &memoryOpener{capacity: cfg.Capacity}, nil
	case BackendDisk:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("disk backend requires a directory")
		}
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		return &diskOpener{root: cfg.Dir, capacity: cfg.Capacity, level: cfg.CompressionLevel}, nil
	case BackendSQLite:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("sqlite backend requires a directory")
		}
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		return OpenSQLite(filepath.Join(cfg.Dir, "caches.db"), cfg.Capacity)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

type memoryOpener struct {
	capacity int64
}

func (o *memoryOpener) OpenStore(string) (Store, error) {
	return NewMemoryStore(o.capacity), nil
}

func (o *memoryOpener) Names() ([]string, error) { return nil, nil }

func (o *memoryOpener) Close() error { return nil }

// diskOpener keeps each cache in a subdirectory named after the escaped
// cache name.
type diskOpener struct {
	root     string
	capacity int64
	level    int
}

const createdMarker = ".created"

func (o *diskOpener) OpenStore(name string) (Store, error) {
	// PathEscape leaves dot segments alone
	switch name {
	case "", ".", "..":
		return nil, fmt.Errorf("%w: %q", ErrInvalidCacheName, name)
	}
	dir := filepath.Join(o.root, url.PathEscape(name))
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		stamp := strconv.FormatInt(time.Now().UnixNano(), 10)
		if err := os.WriteFile(filepath.Join(dir, createdMarker), []byte(stamp), 0o644); err != nil {
			return nil, fmt.Errorf("failed to mark cache directory: %w", err)
		}
	}
	return NewDiskStore(dir, o.capacity, o.level)
}

func (o *diskOpener) Names() ([]string, error) {
	dirents, err := os.ReadDir(o.root)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}

	type dir struct {
		name    string
		created int64
	}
	var dirs []dir
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		name, err := url.PathUnescape(d.Name())
		if err != nil {
			continue
		}
		var created int64
		if b, err := os.ReadFile(filepath.Join(o.root, d.Name(), createdMarker)); err == nil {
			created, _ = strconv.ParseInt(string(b), 10, 64)
		} else if info, err := d.Info(); err == nil {
			created = info.ModTime().UnixNano()
		}
		dirs = append(dirs, dir{name: name, created: created})
	}
	sort.SliceStable(dirs, func(i, j int) bool { return dirs[i].created < dirs[j].created })

	names := make([]string, len(dirs))
	for i, d := range dirs {
		names[i] = d.name
	}
	return names, nil
}

func (o *diskOpener) Close() error { return nil }
