package host

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
)

// StatusPath serves the runtime status as JSON.
const StatusPath = "/_swcache/status"

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// CacheInfo reports cache contents for the status endpoint.
type CacheInfo interface {
	Entries() map[string]int
}

// Server is the HTTP front door: each request it receives becomes a fetch
// event for the active worker.
type Server struct {
	echo    *echo.Echo
	runtime *Runtime
	origin  *url.URL
	caches  CacheInfo
	logger  *log.Logger
}

// NewServer creates a server that forwards to origin through rt. caches may
// be nil.
func NewServer(rt *Runtime, origin *url.URL, caches CacheInfo, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		runtime: rt,
		origin:  origin,
		caches:  caches,
		logger:  logger,
	}

	e.GET(StatusPath, s.handleStatus)
	e.Any("/*", s.handleFetch)
	return s
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Listening", "addr", addr, "origin", s.origin)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type statusResponse struct {
	Status
	Caches map[string]int `json:"caches,omitempty"`
}

func (s *Server) handleStatus(c echo.Context) error {
	resp := statusResponse{Status: s.runtime.Status()}
	if s.caches != nil {
		resp.Caches = s.caches.Entries()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleFetch(c echo.Context) error {
	in := c.Request()
	ctx := in.Context()

	out := in.Clone(ctx)
	out.URL = s.origin.ResolveReference(&url.URL{
		Path:     in.URL.Path,
		RawPath:  in.URL.RawPath,
		RawQuery: in.URL.RawQuery,
	})
	out.Host = out.URL.Host
	out.RequestURI = ""
	removeHopHeaders(out.Header)

	resp, err := s.runtime.Fetch(ctx, out)
	if err != nil {
		s.logger.Warn("Fetch failed", "method", out.Method, "url", out.URL, "error", err)
		return c.NoContent(http.StatusBadGateway)
	}
	defer resp.Body.Close() //nolint:errcheck

	header := c.Response().Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	removeHopHeaders(header)

	c.Response().WriteHeader(resp.StatusCode)
	if in.Method == http.MethodHead {
		return nil
	}
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		s.logger.Debug("Response copy interrupted", "url", out.URL, "error", err)
	}
	return nil
}

func removeHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}
