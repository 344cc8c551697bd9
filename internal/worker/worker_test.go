package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/planthealth/swcache/internal/cache"
	"github.com/planthealth/swcache/internal/host"
)

// fakeNetwork serves canned bodies by path and counts calls.
type fakeNetwork struct {
	mu      sync.Mutex
	bodies  map[string]string
	offline bool
	delay   time.Duration // Applied to every fetch, ignoring ctx
	calls   map[string]int
}

func newFakeNetwork(bodies map[string]string) *fakeNetwork {
	return &fakeNetwork{bodies: bodies, calls: make(map[string]int)}
}

func (n *fakeNetwork) Fetch(_ context.Context, req *http.Request) (*http.Response, error) {
	if n.delay > 0 {
		time.Sleep(n.delay)
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls[req.URL.Path]++
	if n.offline {
		return nil, errors.New("network unreachable")
	}
	body, ok := n.bodies[req.URL.Path]
	status := http.StatusOK
	if !ok {
		status = http.StatusNotFound
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"X-Source": []string{"network"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}, nil
}

func (n *fakeNetwork) Calls(path string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[path]
}

func (n *fakeNetwork) TotalCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, c := range n.calls {
		total += c
	}
	return total
}

var scope = &url.URL{Scheme: "https", Host: "plants.example"}

func newStorage(t *testing.T) *cache.Storage {
	t.Helper()
	opener, err := cache.NewOpener(cache.BackendConfig{Backend: cache.BackendMemory})
	if err != nil {
		t.Fatalf("NewOpener failed: %v", err)
	}
	storage, err := cache.NewStorage(opener, nil)
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func newWorker(t *testing.T, assets []string, storage *cache.Storage, net *fakeNetwork) *Worker {
	t.Helper()
	w, err := New(Config{Scope: scope, Assets: assets}, storage, net)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return w
}

func request(path string) *http.Request {
	req, _ := http.NewRequest(http.MethodGet, scope.String()+path, nil)
	return req
}

func fetch(t *testing.T, w *Worker, net *fakeNetwork, path string) (*http.Response, string) {
	t.Helper()
	resp, err := host.DispatchFetch(context.Background(), w, request(path), net)
	if err != nil {
		t.Fatalf("Fetch %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestNew_Defaults(t *testing.T) {
	w, err := New(Config{Scope: scope}, newStorage(t), newFakeNetwork(nil))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if w.CacheName() != "plant-health-cache-v1" {
		t.Errorf("CacheName mismatch: got %s", w.CacheName())
	}
	if got := w.Assets(); len(got) != 5 || got[0] != "/" || got[4] != "/service-worker.js" {
		t.Errorf("Assets mismatch: got %v", got)
	}

	if _, err := New(Config{}, nil, nil); err == nil {
		t.Error("Expected error for missing scope")
	}
}

func TestNew_CopiesAssets(t *testing.T) {
	assets := []string{"/", "/manifest.json"}
	w := newWorker(t, assets, newStorage(t), newFakeNetwork(nil))
	assets[0] = "/changed"

	if w.Assets()[0] != "/" {
		t.Error("Worker asset list changed after construction")
	}
}

func TestInstall_CachesEveryAsset(t *testing.T) {
	storage := newStorage(t)
	net := newFakeNetwork(map[string]string{
		"/":                  "<html>",
		"/manifest.json":     `{"name":"Plant Health"}`,
		"/icon-192.png":      "png192",
		"/icon-512.png":      "png512",
		"/service-worker.js": "// sw",
	})
	w := newWorker(t, nil, storage, net)

	if err := host.DispatchInstall(context.Background(), w); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	for _, path := range DefaultAssets {
		_, ok, err := storage.Match(context.Background(), request(path))
		if err != nil || !ok {
			t.Errorf("Asset %s not cached: ok=%v err=%v", path, ok, err)
		}
	}
}

func TestInstall_AllOrNothing(t *testing.T) {
	storage := newStorage(t)
	net := newFakeNetwork(map[string]string{"/": "<html>"})
	w := newWorker(t, []string{"/", "/missing-404"}, storage, net)

	err := host.DispatchInstall(context.Background(), w)
	var fe *cache.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected *cache.FetchError, got %v", err)
	}

	c, _ := storage.Open(context.Background(), DefaultCacheName)
	if n := c.Store().Len(); n != 0 {
		t.Errorf("Expected zero entries after failed install, got %d", n)
	}
}

func TestInstall_TimeoutStoresNothing(t *testing.T) {
	storage := newStorage(t)
	net := newFakeNetwork(map[string]string{"/": "<html>", "/manifest.json": "{}"})
	net.delay = 80 * time.Millisecond
	w := newWorker(t, []string{"/", "/manifest.json"}, storage, net)

	rt := host.NewRuntime(host.Config{Network: net, InstallTimeout: 20 * time.Millisecond})
	reg, err := rt.Install(context.Background(), w)
	if code := host.CodeOf(err); code != host.ErrorCodeInstallTimeout {
		t.Fatalf("Expected %s, got %v", host.ErrorCodeInstallTimeout, err)
	}
	if got := rt.State(reg); got != host.StateRedundant {
		t.Errorf("State mismatch: got %v, want %v", got, host.StateRedundant)
	}

	c, _ := storage.Open(context.Background(), DefaultCacheName)
	if n := c.Store().Len(); n != 0 {
		t.Errorf("Expected zero entries after timed-out install, got %d", n)
	}

	// Nothing may land after Install has returned either.
	time.Sleep(100 * time.Millisecond)
	if n := c.Store().Len(); n != 0 {
		t.Errorf("Timed-out install stored %d entries later", n)
	}
}

func TestInstall_OpensExistingCache(t *testing.T) {
	storage := newStorage(t)
	if _, err := storage.Open(context.Background(), DefaultCacheName); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	net := newFakeNetwork(map[string]string{"/": "<html>"})
	w := newWorker(t, []string{"/"}, storage, net)

	if err := host.DispatchInstall(context.Background(), w); err != nil {
		t.Fatalf("Install into pre-existing cache failed: %v", err)
	}
}

func TestFetch_CacheHitSkipsNetwork(t *testing.T) {
	storage := newStorage(t)
	net := newFakeNetwork(map[string]string{"/": "<html>"})
	w := newWorker(t, []string{"/"}, storage, net)

	if err := host.DispatchInstall(context.Background(), w); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	before := net.Calls("/")

	// The origin changes after install; the cached copy must still win
	net.bodies["/"] = "<html>v2"
	_, body := fetch(t, w, net, "/")

	if body != "<html>" {
		t.Errorf("Body mismatch: got %s, want cached <html>", body)
	}
	if net.Calls("/") != before {
		t.Errorf("Cache hit reached the network: %d calls, want %d", net.Calls("/"), before)
	}
}

func TestFetch_MissGoesToNetworkOnce(t *testing.T) {
	storage := newStorage(t)
	net := newFakeNetwork(map[string]string{"/unknown.png": "live"})
	w := newWorker(t, []string{}, storage, net)

	resp, body := fetch(t, w, net, "/unknown.png")
	if body != "live" {
		t.Errorf("Body mismatch: got %s, want live", body)
	}
	if resp.Header.Get("X-Source") != "network" {
		t.Error("Network response was not returned verbatim")
	}
	if net.Calls("/unknown.png") != 1 {
		t.Errorf("Expected exactly one network call, got %d", net.Calls("/unknown.png"))
	}
}

func TestFetch_MissDoesNotWriteBack(t *testing.T) {
	storage := newStorage(t)
	net := newFakeNetwork(map[string]string{"/": "<html>", "/unknown.png": "live"})
	w := newWorker(t, []string{"/"}, storage, net)

	if err := host.DispatchInstall(context.Background(), w); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	fetch(t, w, net, "/unknown.png")
	fetch(t, w, net, "/unknown.png")

	if net.Calls("/unknown.png") != 2 {
		t.Errorf("Expected two network calls, got %d", net.Calls("/unknown.png"))
	}
	c, _ := storage.Open(context.Background(), DefaultCacheName)
	if n := c.Store().Len(); n != 1 {
		t.Errorf("Cache grew after a miss: %d entries, want 1", n)
	}
}

func TestFetch_NetworkFailurePropagates(t *testing.T) {
	storage := newStorage(t)
	net := newFakeNetwork(nil)
	net.offline = true
	w := newWorker(t, []string{}, storage, net)

	_, err := host.DispatchFetch(context.Background(), w, request("/unknown.png"), net)
	if err == nil {
		t.Fatal("Expected network failure to reach the caller")
	}
}

func TestEndToEnd(t *testing.T) {
	storage := newStorage(t)
	net := newFakeNetwork(map[string]string{
		"/":              "<html>",
		"/manifest.json": "{}",
		"/unknown.png":    "live-png",
	})
	w := newWorker(t, []string{"/", "/manifest.json"}, storage, net)

	rt := host.NewRuntime(host.Config{Network: net})
	if err := rt.Register(context.Background(), w); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	c, _ := storage.Open(context.Background(), DefaultCacheName)
	if n := c.Store().Len(); n != 2 {
		t.Fatalf("Expected 2 cached entries, got %d", n)
	}
	installCalls := net.TotalCalls()

	resp, err := rt.Fetch(context.Background(), request("/"))
	if err != nil {
		t.Fatalf("Fetch / failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "<html>" || net.TotalCalls() != installCalls {
		t.Errorf("Expected cached / without network, got %q and %d extra calls", body, net.TotalCalls()-installCalls)
	}

	resp, err = rt.Fetch(context.Background(), request("/unknown.png"))
	if err != nil {
		t.Fatalf("Fetch /unknown.png failed: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "live-png" {
		t.Errorf("Body mismatch: got %s, want live-png", body)
	}
	if net.Calls("/unknown.png") != 1 {
		t.Errorf("Expected one network call for /unknown.png, got %d", net.Calls("/unknown.png"))
	}
}
