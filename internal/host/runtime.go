package host

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/segmentio/ksuid"
)

// State is a worker lifecycle state.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}

// Registration is one worker version known to the runtime.
type Registration struct {
	ID          string
	handler     Handler
	state       State
	installedAt time.Time

	// fetches dispatched to this worker that have not returned yet
	inflight sync.WaitGroup
}

// Config holds configuration for the runtime.
type Config struct {
	// Network serves fetches the worker does not handle
	Network Fetcher

	// InstallTimeout bounds a single install attempt, 0 disables
	InstallTimeout time.Duration

	// Retries is how many extra install attempts Register makes
	Retries int

	// RetryDelay is the pause between install attempts
	RetryDelay time.Duration

	Logger *log.Logger
}

// Status is a snapshot of the runtime.
type Status struct {
	State       string    `json:"state"`
	WorkerID    string    `json:"worker_id,omitempty"`
	InstalledAt *time.Time `json:"installed_at,omitempty"`
	Installs    int64     `json:"installs"`
	Failures    int64     `json:"failures"`
	Fetches     int64     `json:"fetches"`
}

// Runtime owns the worker lifecycle. Only one install runs at a time.
type Runtime struct {
	cfg    Config
	logger *log.Logger

	installMu sync.Mutex

	mu      sync.RWMutex
	active  *Registration
	waiting *Registration
	latest  *Registration
	stats   struct {
		installs int64
		failures int64
		fetches  int64
	}
}

// NewRuntime creates a runtime with no worker.
func NewRuntime(cfg Config) *Runtime {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Runtime{cfg: cfg, logger: cfg.Logger}
}

// Install dispatches an install event to h. On success the worker is left
// waiting for Activate; on failure it is redundant and nothing changes for
// the active worker.
func (r *Runtime) Install(ctx context.Context, h Handler) (*Registration, error) {
	r.installMu.Lock()
	defer r.installMu.Unlock()

	reg := &Registration{ID: ksuid.New().String(), handler: h, state: StateInstalling}
	r.mu.Lock()
	r.latest = reg
	r.stats.installs++
	r.mu.Unlock()

	r.logger.Debug("Installing worker", "id", reg.ID)

	ictx := ctx
	if r.cfg.InstallTimeout > 0 {
		var cancel context.CancelFunc
		ictx, cancel = context.WithTimeout(ctx, r.cfg.InstallTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := DispatchInstall(ictx, h); err != nil {
		r.mu.Lock()
		reg.state = StateRedundant
		r.stats.failures++
		r.mu.Unlock()

		code := ErrorCodeInstallFailed
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			code = ErrorCodeInstallTimeout
		}
		r.logger.Warn("Worker install failed", "id", reg.ID, "error", err)
		return reg, NewError(code, "worker install failed", err).WithContext("worker", reg.ID)
	}

	r.mu.Lock()
	if r.waiting != nil {
		r.waiting.state = StateRedundant
	}
	reg.state = StateInstalled
	reg.installedAt = time.Now()
	r.waiting = reg
	r.mu.Unlock()

	r.logger.Info("Worker installed", "id", reg.ID, "duration", time.Since(start))
	return reg, nil
}

// Activate promotes the waiting worker. New fetches go to it at once; it
// stays activating until fetches still running on the previous worker
// return, and then the previous worker becomes redundant.
func (r *Runtime) Activate() error {
	r.mu.Lock()
	if r.waiting == nil {
		r.mu.Unlock()
		return NewError(ErrorCodeNotInstalled, "no installed worker to activate", nil)
	}
	reg := r.waiting
	prev := r.active
	reg.state = StateActivating
	r.active = reg
	r.waiting = nil
	r.mu.Unlock()

	if prev != nil {
		r.logger.Debug("Waiting for in-flight fetches", "id", prev.ID)
		prev.inflight.Wait()
	}

	r.mu.Lock()
	if prev != nil {
		prev.state = StateRedundant
	}
	if reg.state == StateActivating {
		reg.state = StateActivated
	}
	r.mu.Unlock()

	r.logger.Info("Worker activated", "id", reg.ID)
	return nil
}

// Register installs h, retrying per the runtime config, then activates it.
// If every attempt fails the previously active worker stays in control.
func (r *Runtime) Register(ctx context.Context, h Handler) error {
	var err error
	for attempt := 0; attempt <= r.cfg.Retries; attempt++ {
		if attempt > 0 {
			r.logger.Info("Retrying worker install", "attempt", attempt+1, "delay", r.cfg.RetryDelay)
			select {
			case <-time.After(r.cfg.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if _, err = r.Install(ctx, h); err == nil {
			return r.Activate()
		}
		var he *Error
		if errors.As(err, &he) && !he.IsRetryable() {
			return err
		}
	}
	return err
}

// Update installs a replacement worker and activates it on success.
func (r *Runtime) Update(ctx context.Context, h Handler) error {
	return r.Register(ctx, h)
}

// Fetch routes req through the active worker. Without one, the request goes
// straight to the network.
func (r *Runtime) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	r.mu.Lock()
	active := r.active
	r.stats.fetches++
	if active != nil {
		active.inflight.Add(1)
	}
	r.mu.Unlock()

	if active == nil {
		return r.cfg.Network.Fetch(ctx, req)
	}
	defer active.inflight.Done()

	resp, err := DispatchFetch(ctx, active.handler, req, r.cfg.Network)
	if err != nil {
		return nil, NewError(ErrorCodeFetchFailed, "fetch failed", err).
			WithContext("url", req.URL.String())
	}
	return resp, nil
}

// Status returns a snapshot of the newest worker's state.
func (r *Runtime) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Status{
		State:    StateParsed.String(),
		Installs: r.stats.installs,
		Failures: r.stats.failures,
		Fetches:  r.stats.fetches,
	}
	reg := r.active
	if reg == nil {
		reg = r.latest
	}
	if reg != nil {
		st.State = reg.state.String()
		st.WorkerID = reg.ID
		if !reg.installedAt.IsZero() {
			installedAt := reg.installedAt
			st.InstalledAt = &installedAt
		}
	}
	return st
}

// Active reports whether a worker controls fetches.
func (r *Runtime) Active() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.active != nil
}

// State returns the lifecycle state of reg.
func (r *Runtime) State(reg *Registration) State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return reg.state
}
