package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/segmentio/ksuid"
)

// Event types
const (
	EventInstall = "install"
	EventFetch   = "fetch"
)

// Handler is a worker: the pair of callbacks the host dispatches to.
type Handler interface {
	OnInstall(e *InstallEvent)
	OnFetch(e *FetchEvent)
}

// Fetcher is the host network API.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// ExtendableEvent is an event whose lifetime a handler can extend with
// WaitUntil.
type ExtendableEvent struct {
	ID   string
	Type string

	ctx context.Context

	mu          sync.Mutex
	dispatching bool
	pending     int
	extensions  []*Promise[struct{}]
}

func (e *ExtendableEvent) init(ctx context.Context, typ string) {
	e.ID = ksuid.New().String()
	e.Type = typ
	e.ctx = ctx
}

// Context returns the context the event's work runs under.
func (e *ExtendableEvent) Context() context.Context {
	return e.ctx
}

// WaitUntil extends the event's lifetime until fn returns. It must be called
// while the event is being dispatched or while an earlier extension is still
// running.
func (e *ExtendableEvent) WaitUntil(fn func(ctx context.Context) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.dispatching && e.pending == 0 {
		return ErrEventInactive
	}
	e.pending++
	e.extensions = append(e.extensions, Go(e.ctx, func(ctx context.Context) (struct{}, error) {
		defer func() {
			e.mu.Lock()
			e.pending--
			e.mu.Unlock()
		}()
		return struct{}{}, fn(ctx)
	}))
	return nil
}

// Settle waits for every lifetime extension, including ones added while
// waiting, and joins their errors. If ctx is done first, Settle still waits
// for the extensions to return before reporting ctx's error.
func (e *ExtendableEvent) Settle(ctx context.Context) error {
	var errs []error
	for i := 0; ; i++ {
		p := e.extension(i)
		if p == nil {
			break
		}
		if _, err := p.Await(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				e.drain(i)
				return ctxErr
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// extension returns the i-th extension, or nil past the end.
func (e *ExtendableEvent) extension(i int) *Promise[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if i >= len(e.extensions) {
		return nil
	}
	return e.extensions[i]
}

// drain blocks until extension from and every later one have returned.
func (e *ExtendableEvent) drain(from int) {
	for i := from; ; i++ {
		p := e.extension(i)
		if p == nil {
			return
		}
		<-p.Done()
	}
}

// dispatch runs fn with the event marked active.
func (e *ExtendableEvent) dispatch(fn func()) {
	e.mu.Lock()
	e.dispatching = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.dispatching = false
		e.mu.Unlock()
	}()
	fn()
}

// InstallEvent is dispatched once per worker install.
type InstallEvent struct {
	ExtendableEvent
}

// NewInstallEvent creates an install event bound to ctx.
func NewInstallEvent(ctx context.Context) *InstallEvent {
	e := &InstallEvent{}
	e.init(ctx, EventInstall)
	return e
}

// FetchEvent is dispatched for every intercepted request.
type FetchEvent struct {
	ExtendableEvent

	// Request is the intercepted request, with an absolute URL
	Request *http.Request

	response *Promise[*http.Response]
}

// NewFetchEvent creates a fetch event for req bound to ctx.
func NewFetchEvent(ctx context.Context, req *http.Request) *FetchEvent {
	e := &FetchEvent{Request: req}
	e.init(ctx, EventFetch)
	return e
}

// RespondWith hands the host the response for this request. Only the first
// call during dispatch is accepted.
func (e *FetchEvent) RespondWith(fn func(ctx context.Context) (*http.Response, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.dispatching {
		return ErrEventInactive
	}
	if e.response != nil {
		return ErrAlreadyResponded
	}
	e.response = Go(e.ctx, fn)
	return nil
}

// DispatchInstall fires an install event at h and waits until every lifetime
// extension settles or ctx is done.
func DispatchInstall(ctx context.Context, h Handler) error {
	e := NewInstallEvent(ctx)
	e.dispatch(func() { h.OnInstall(e) })
	return e.Settle(ctx)
}

// DispatchFetch fires a fetch event at h and returns the response it settled
// on. When h does not respond, the request goes to network unchanged.
func DispatchFetch(ctx context.Context, h Handler, req *http.Request, network Fetcher) (*http.Response, error) {
	e := NewFetchEvent(ctx, req)
	e.dispatch(func() { h.OnFetch(e) })

	e.mu.Lock()
	p := e.response
	e.mu.Unlock()

	if p == nil {
		return network.Fetch(ctx, req)
	}

	resp, err := p.Await(ctx)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoResponse, req.URL)
	}
	return resp, nil
}
