package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// stubFetcher serves canned responses keyed by URL path.
type stubFetcher struct {
	mu       sync.Mutex
	bodies   map[string]string
	statuses map[string]int
	fail     map[string]bool
	calls    map[string]int
}

func newStubFetcher(bodies map[string]string) *stubFetcher {
	return &stubFetcher{
		bodies:   bodies,
		statuses: make(map[string]int),
		fail:     make(map[string]bool),
		calls:    make(map[string]int),
	}
}

func (f *stubFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := req.URL.Path
	f.calls[path]++
	if f.fail[path] {
		return nil, errors.New("connection refused")
	}
	body, ok := f.bodies[path]
	status := http.StatusOK
	if s, set := f.statuses[path]; set {
		status = s
	} else if !ok {
		status = http.StatusNotFound
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}, nil
}

func (f *stubFetcher) Calls(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func mustRequest(rawURL string) *http.Request {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		panic(err)
	}
	return req
}

func testEntry(key, body string) *Entry {
	return &Entry{
		Key:      key,
		Method:   http.MethodGet,
		URL:      strings.TrimPrefix(key, "GET "),
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": []string{"text/plain"}},
		Body:     []byte(body),
		StoredAt: time.Now(),
	}
}
