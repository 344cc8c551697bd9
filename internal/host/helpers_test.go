package host

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
)

// funcHandler adapts two functions to Handler.
type funcHandler struct {
	install func(e *InstallEvent)
	fetch   func(e *FetchEvent)
}

func (h *funcHandler) OnInstall(e *InstallEvent) {
	if h.install != nil {
		h.install(e)
	}
}

func (h *funcHandler) OnFetch(e *FetchEvent) {
	if h.fetch != nil {
		h.fetch(e)
	}
}

// respondingHandler installs cleanly and answers every fetch with body.
func respondingHandler(body string) *funcHandler {
	return &funcHandler{
		install: func(e *InstallEvent) {
			_ = e.WaitUntil(func(context.Context) error { return nil })
		},
		fetch: func(e *FetchEvent) {
			_ = e.RespondWith(func(context.Context) (*http.Response, error) {
				return textResponse(http.StatusOK, body), nil
			})
		},
	}
}

func failingInstall(err error) *funcHandler {
	return &funcHandler{
		install: func(e *InstallEvent) {
			_ = e.WaitUntil(func(context.Context) error { return err })
		},
	}
}

type countingNetwork struct {
	calls   atomic.Int64
	offline bool
}

func (n *countingNetwork) Fetch(_ context.Context, req *http.Request) (*http.Response, error) {
	n.calls.Add(1)
	if n.offline {
		return nil, errors.New("network unreachable")
	}
	return textResponse(http.StatusOK, "network:"+req.URL.Path), nil
}

func textResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func readBody(resp *http.Response) string {
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}
