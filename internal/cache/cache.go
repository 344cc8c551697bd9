package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Fetcher performs a network request.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetchError reports the request that made a bulk add fail.
type FetchError struct {
	URL    string
	Status int   // Non-zero when the response was not OK
	Cause  error // Set when the request itself failed
}

// Error implements the error interface
func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Cause)
	}
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
}

// Unwrap returns the underlying error
func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Cache is a handle on one named cache.
type Cache struct {
	name  string
	store Store
}

// Name returns the cache name.
func (c *Cache) Name() string {
	return c.name
}

// Store returns the backing store.
func (c *Cache) Store() Store {
	return c.store
}

// Match looks up req and returns a fresh response for the stored entry.
func (c *Cache) Match(ctx context.Context, req *http.Request) (*http.Response, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	entry, ok := c.store.Get(KeyFor(req))
	if !ok {
		return nil, false, nil
	}
	return entry.Response(req), true, nil
}

// Add fetches req and stores the response.
func (c *Cache) Add(ctx context.Context, f Fetcher, req *http.Request) error {
	return c.AddAll(ctx, f, []*http.Request{req})
}

// AddAll fetches every request concurrently and stores the responses as one
// batch. If any fetch fails or returns a status outside 2xx, nothing is
// stored.
func (c *Cache) AddAll(ctx context.Context, f Fetcher, reqs []*http.Request) error {
	seen := make(map[string]bool, len(reqs))
	for _, req := range reqs {
		if req.Method != "" && req.Method != http.MethodGet {
			return fmt.Errorf("%w: %s %s", ErrMethodNotAllowed, req.Method, req.URL)
		}
		key := KeyFor(req)
		if seen[key] {
			return fmt.Errorf("%w: %s", ErrDuplicateRequest, req.URL)
		}
		seen[key] = true
	}

	entries := make([]*Entry, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			entry, err := fetchEntry(gctx, f, req)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	// A caller that gave up while the fetches ran must not see them stored.
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.store.PutAll(entries); err != nil {
		return fmt.Errorf("store %d entries in %q: %w", len(entries), c.name, err)
	}
	return nil
}

// Keys returns the cached request keys in insertion order.
func (c *Cache) Keys() []string {
	return c.store.Keys()
}

func fetchEntry(ctx context.Context, f Fetcher, req *http.Request) (*Entry, error) {
	resp, err := f.Fetch(ctx, req.WithContext(ctx))
	if err != nil {
		return nil, &FetchError{URL: req.URL.String(), Cause: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 || resp.StatusCode == http.StatusPartialContent {
		return nil, &FetchError{URL: req.URL.String(), Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: req.URL.String(), Cause: fmt.Errorf("read body: %w", err)}
	}

	return &Entry{
		Key:      KeyFor(req),
		Method:   http.MethodGet,
		URL:      req.URL.String(),
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now(),
	}, nil
}
