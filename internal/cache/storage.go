package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
)

// Storage is the registry of named caches.
type Storage struct {
	opener Opener
	logger *log.Logger

	mu     sync.Mutex
	order  []string
	caches map[string]*Cache
}

// NewStorage opens every cache the opener already knows about.
func NewStorage(opener Opener, logger *log.Logger) (*Storage, error) {
	if logger == nil {
		logger = log.Default()
	}
	s := &Storage{
		opener: opener,
		logger: logger,
		caches: make(map[string]*Cache),
	}

	names, err := opener.Names()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		store, err := opener.OpenStore(name)
		if err != nil {
			return nil, fmt.Errorf("open cache %q: %w", name, err)
		}
		s.order = append(s.order, name)
		s.caches[name] = &Cache{name: name, store: store}
	}
	if len(names) > 0 {
		logger.Debug("Loaded caches", "count", len(names))
	}
	return s, nil
}

// Open returns the named cache, creating it if it does not exist.
func (s *Storage) Open(ctx context.Context, name string) (*Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.caches[name]; ok {
		return c, nil
	}

	store, err := s.opener.OpenStore(name)
	if err != nil {
		return nil, fmt.Errorf("open cache %q: %w", name, err)
	}
	c := &Cache{name: name, store: store}
	s.order = append(s.order, name)
	s.caches[name] = c

	s.logger.Debug("Created cache", "name", name)
	return c, nil
}

// Has reports whether the named cache exists.
func (s *Storage) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.caches[name]
	return ok
}

// Names returns the cache names in creation order.
func (s *Storage) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.order...)
}

// Match searches every cache in creation order and returns the first hit.
func (s *Storage) Match(ctx context.Context, req *http.Request) (*http.Response, bool, error) {
	s.mu.Lock()
	caches := make([]*Cache, 0, len(s.order))
	for _, name := range s.order {
		caches = append(caches, s.caches[name])
	}
	s.mu.Unlock()

	for _, c := range caches {
		resp, ok, err := c.Match(ctx, req)
		if err != nil || ok {
			return resp, ok, err
		}
	}
	return nil, false, nil
}

// Close closes every store and the opener.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, name := range s.order {
		if err := s.caches[name].store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", name, err))
		}
	}
	if err := s.opener.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Entries returns the number of entries in each cache, keyed by name.
func (s *Storage) Entries() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int, len(s.caches))
	for name, c := range s.caches {
		out[name] = c.store.Len()
	}
	return out
}
