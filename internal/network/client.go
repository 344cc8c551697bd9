package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// ErrNoOrigin is returned when a Client is created without an origin.
var ErrNoOrigin = errors.New("origin URL is required")

// Error wraps a transport-level failure (DNS, refused connection, timeout).
// HTTP error statuses are not Errors; they are returned as responses.
type Error struct {
	Method string
	URL    string
	Cause  error
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Cause)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Config holds configuration for the network client.
type Config struct {
	// Origin every relative path is resolved against
	Origin string

	// Timeout per request, 0 disables
	Timeout time.Duration

	// RequestsPerSecond paces outgoing requests, 0 disables the limiter
	RequestsPerSecond float64

	// Burst allowance for the limiter (defaults to 1)
	Burst int

	// UserAgent sent when the request carries none
	UserAgent string

	// Transport overrides http.DefaultTransport (optional)
	Transport http.RoundTripper

	Logger *log.Logger
}

// Client performs live network fetches against a single origin.
type Client struct {
	origin    *url.URL
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	timeout   time.Duration
	logger    *log.Logger
}

// New creates a network client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Origin) == "" {
		return nil, ErrNoOrigin
	}
	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin %q: %w", cfg.Origin, err)
	}
	if origin.Scheme != "http" && origin.Scheme != "https" {
		return nil, fmt.Errorf("%s is not a supported protocol", origin.Scheme)
	}

	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Client{
		origin: origin,
		http: &http.Client{
			Transport: transport,
			// Redirects are followed like a browser fetch in "follow" mode
		},
		limiter:   limiter,
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
	}, nil
}

// Origin returns the origin URL.
func (c *Client) Origin() *url.URL {
	u := *c.origin
	return &u
}

// Resolve turns a path (or absolute URL) into an absolute origin URL.
func (c *Client) Resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", ref, err)
	}
	return c.origin.ResolveReference(u), nil
}

// NewRequest builds a GET request for ref.
func (c *Client) NewRequest(ctx context.Context, ref string) (*http.Request, error) {
	u, err := c.Resolve(ref)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}

// Fetch performs req against the network and returns the response verbatim.
// The caller closes the response body.
func (c *Client) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	out := req.Clone(ctx)
	if !out.URL.IsAbs() {
		u := c.origin.ResolveReference(out.URL)
		out.URL = u
		out.Host = ""
	}
	out.RequestURI = ""
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	if c.userAgent != "" && out.Header.Get("User-Agent") == "" {
		out.Header.Set("User-Agent", c.userAgent)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Method: out.Method, URL: out.URL.String(), Cause: fmt.Errorf("rate limit wait cancelled: %w", err)}
		}
	}

	var cancel context.CancelFunc
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		out = out.WithContext(ctx)
	}

	start := time.Now()
	resp, err := c.http.Do(out)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		c.logger.Debug("Network fetch failed", "method", out.Method, "url", out.URL, "error", err)
		return nil, &Error{Method: out.Method, URL: out.URL.String(), Cause: err}
	}
	if cancel != nil {
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	}

	c.logger.Debug("Network fetch",
		"method", out.Method,
		"url", out.URL,
		"status", resp.StatusCode,
		"duration", time.Since(start))
	return resp, nil
}
