package host

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

func TestPromise_AwaitAndPanic(t *testing.T) {
	p := Go(context.Background(), func(context.Context) (int, error) { return 42, nil })
	v, err := p.Await(context.Background())
	if err != nil || v != 42 {
		t.Errorf("Await mismatch: got %d, %v", v, err)
	}

	p = Go(context.Background(), func(context.Context) (int, error) { panic("boom") })
	if _, err := p.Await(context.Background()); err == nil {
		t.Error("Expected panic to reject the promise")
	}

	block := make(chan struct{})
	defer close(block)
	p = Go(context.Background(), func(context.Context) (int, error) { <-block; return 0, nil })
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
}

func TestInstallEvent_WaitUntilGatesSettle(t *testing.T) {
	release := make(chan struct{})
	var finished bool

	h := &funcHandler{install: func(e *InstallEvent) {
		_ = e.WaitUntil(func(context.Context) error {
			<-release
			finished = true
			return nil
		})
	}}

	done := make(chan error, 1)
	go func() { done <- DispatchInstall(context.Background(), h) }()

	select {
	case <-done:
		t.Fatal("Install settled before its lifetime extension finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("DispatchInstall failed: %v", err)
	}
	if !finished {
		t.Error("Extension did not run to completion")
	}
}

func TestInstallEvent_ErrorsAreJoined(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	h := &funcHandler{install: func(e *InstallEvent) {
		_ = e.WaitUntil(func(context.Context) error { return errA })
		_ = e.WaitUntil(func(context.Context) error { return errB })
	}}

	err := DispatchInstall(context.Background(), h)
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Expected both errors, got %v", err)
	}
}

func TestExtendableEvent_InactiveAfterDispatch(t *testing.T) {
	var saved *InstallEvent
	h := &funcHandler{install: func(e *InstallEvent) { saved = e }}

	if err := DispatchInstall(context.Background(), h); err != nil {
		t.Fatalf("DispatchInstall failed: %v", err)
	}
	if err := saved.WaitUntil(func(context.Context) error { return nil }); !errors.Is(err, ErrEventInactive) {
		t.Errorf("Expected ErrEventInactive, got %v", err)
	}
}

func TestExtendableEvent_NestedWaitUntil(t *testing.T) {
	var inner bool
	h := &funcHandler{install: func(e *InstallEvent) {
		_ = e.WaitUntil(func(context.Context) error {
			return e.WaitUntil(func(context.Context) error {
				inner = true
				return nil
			})
		})
	}}

	if err := DispatchInstall(context.Background(), h); err != nil {
		t.Fatalf("DispatchInstall failed: %v", err)
	}
	if !inner {
		t.Error("Extension added from a pending extension was not awaited")
	}
}

func TestFetchEvent_RespondWith(t *testing.T) {
	net := &countingNetwork{}
	req, _ := http.NewRequest(http.MethodGet, "https://plants.example/", nil)

	var second error
	h := &funcHandler{fetch: func(e *FetchEvent) {
		if e.ID == "" || e.Type != EventFetch {
			t.Errorf("Event identity not set: %q %q", e.ID, e.Type)
		}
		_ = e.RespondWith(func(context.Context) (*http.Response, error) {
			return textResponse(http.StatusOK, "worker"), nil
		})
		second = e.RespondWith(func(context.Context) (*http.Response, error) { return nil, nil })
	}}

	resp, err := DispatchFetch(context.Background(), h, req, net)
	if err != nil {
		t.Fatalf("DispatchFetch failed: %v", err)
	}
	if got := readBody(resp); got != "worker" {
		t.Errorf("Body mismatch: got %s, want worker", got)
	}
	if !errors.Is(second, ErrAlreadyResponded) {
		t.Errorf("Expected ErrAlreadyResponded, got %v", second)
	}
	if net.calls.Load() != 0 {
		t.Errorf("Network called %d times, want 0", net.calls.Load())
	}
}

func TestFetchEvent_DefaultsToNetwork(t *testing.T) {
	net := &countingNetwork{}
	req, _ := http.NewRequest(http.MethodGet, "https://plants.example/a", nil)

	resp, err := DispatchFetch(context.Background(), &funcHandler{}, req, net)
	if err != nil {
		t.Fatalf("DispatchFetch failed: %v", err)
	}
	if got := readBody(resp); got != "network:/a" {
		t.Errorf("Body mismatch: got %s", got)
	}
}

func TestFetchEvent_NilResponse(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://plants.example/", nil)
	h := &funcHandler{fetch: func(e *FetchEvent) {
		_ = e.RespondWith(func(context.Context) (*http.Response, error) { return nil, nil })
	}}

	if _, err := DispatchFetch(context.Background(), h, req, &countingNetwork{}); !errors.Is(err, ErrNoResponse) {
		t.Errorf("Expected ErrNoResponse, got %v", err)
	}
}

func TestSettle_WaitsForExtensionsAfterDeadline(t *testing.T) {
	var finished atomic.Bool
	h := &funcHandler{install: func(e *InstallEvent) {
		_ = e.WaitUntil(func(context.Context) error {
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return nil
		})
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := DispatchInstall(ctx, h); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected DeadlineExceeded, got %v", err)
	}
	if !finished.Load() {
		t.Error("Settle returned while an extension was still running")
	}
}
