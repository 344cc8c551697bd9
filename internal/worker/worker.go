package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/planthealth/swcache/internal/cache"
	"github.com/planthealth/swcache/internal/host"
)

// DefaultCacheName is the cache the assets are stored in.
const DefaultCacheName = "plant-health-cache-v1"

// DefaultAssets are pre-cached on install, in order.
var DefaultAssets = []string{
	"/",
	"/manifest.json",
	"/icon-192.png",
	"/icon-512.png",
	"/service-worker.js",
}

// Caches is the host cache storage the worker uses.
type Caches interface {
	Open(ctx context.Context, name string) (*cache.Cache, error)
	Match(ctx context.Context, req *http.Request) (*http.Response, bool, error)
}

// Network is the host network API.
type Network interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Config holds the worker's static configuration.
type Config struct {
	// Scope is the origin asset paths are resolved against
	Scope *url.URL

	// CacheName defaults to DefaultCacheName
	CacheName string

	// Assets defaults to DefaultAssets
	Assets []string
}

// Worker implements host.Handler.
type Worker struct {
	scope     *url.URL
	cacheName string
	assets    []string
	caches    Caches
	network   Network
}

var _ host.Handler = (*Worker)(nil)

// New creates a worker. The asset list is copied.
func New(cfg Config, caches Caches, network Network) (*Worker, error) {
	if cfg.Scope == nil || !cfg.Scope.IsAbs() {
		return nil, fmt.Errorf("worker scope must be an absolute URL")
	}
	if cfg.CacheName == "" {
		cfg.CacheName = DefaultCacheName
	}
	assets := cfg.Assets
	if assets == nil {
		assets = DefaultAssets
	}

	return &Worker{
		scope:     cfg.Scope,
		cacheName: cfg.CacheName,
		assets:    append([]string(nil), assets...),
		caches:    caches,
		network:   network,
	}, nil
}

// CacheName returns the name of the cache the worker populates.
func (w *Worker) CacheName() string {
	return w.cacheName
}

// Assets returns a copy of the asset list.
func (w *Worker) Assets() []string {
	return append([]string(nil), w.assets...)
}

// OnInstall opens the cache and adds every asset. The install only succeeds
// if every asset is fetched.
func (w *Worker) OnInstall(e *host.InstallEvent) {
	_ = e.WaitUntil(func(ctx context.Context) error {
		c, err := w.caches.Open(ctx, w.cacheName)
		if err != nil {
			return err
		}
		reqs, err := w.assetRequests(ctx)
		if err != nil {
			return err
		}
		return c.AddAll(ctx, w.network, reqs)
	})
}

// OnFetch answers from the cache, or from the network on a miss.
func (w *Worker) OnFetch(e *host.FetchEvent) {
	req := e.Request
	_ = e.RespondWith(func(ctx context.Context) (*http.Response, error) {
		resp, ok, err := w.caches.Match(ctx, req)
		if err != nil {
			return nil, err
		}
		if ok {
			return resp, nil
		}
		return w.network.Fetch(ctx, req)
	})
}

func (w *Worker) assetRequests(ctx context.Context) ([]*http.Request, error) {
	reqs := make([]*http.Request, 0, len(w.assets))
	for _, asset := range w.assets {
		ref, err := url.Parse(asset)
		if err != nil {
			return nil, fmt.Errorf("invalid asset path %q: %w", asset, err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.scope.ResolveReference(ref).String(), nil)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
