// Package connwatch tracks whether the services tubeblog depends on
// are reachable. Each dependency gets a Watcher that probes it in the
// background: on a fixed interval while healthy, with exponential
// backoff while down. Transitions are logged and reported through an
// optional callback.
//
// httpkit retries sub-second dial failures inside a single request;
// connwatch covers outages that last seconds to minutes.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Defaults for zero-valued [WatcherConfig] timing fields.
const (
	DefaultPollInterval = 60 * time.Second
	DefaultProbeTimeout = 10 * time.Second
	DefaultMinBackoff   = 2 * time.Second
	DefaultMaxBackoff   = 60 * time.Second
)

// WatcherConfig configures a single service watcher.
type WatcherConfig struct {
	// Name identifies the service in logs and status output.
	Name string

	// Probe checks service health. Must be safe for concurrent use.
	Probe ProbeFunc

	// PollInterval is the delay between probes while healthy.
	PollInterval time.Duration
	// ProbeTimeout bounds each probe call.
	ProbeTimeout time.Duration
	// MinBackoff and MaxBackoff bound the retry delay while down. The
	// delay doubles after each failed probe.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// OnChange is called, in its own goroutine, whenever the service
	// moves between ready and not ready. The first probe always
	// reports. Optional.
	OnChange func(name string, ready bool, err error)
}

func (c *WatcherConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = DefaultMinBackoff
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = max(DefaultMaxBackoff, c.MinBackoff)
	}
}

// ServiceStatus is the health of one watched service.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors a single service.
type Watcher struct {
	cfg    WatcherConfig
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	checked bool
	status  ServiceStatus
}

// Status returns the most recent probe result.
func (w *Watcher) Status() ServiceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// IsReady reports whether the last probe succeeded.
func (w *Watcher) IsReady() bool {
	return w.Status().Ready
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	backoff := w.cfg.MinBackoff
	for {
		err := w.probe(ctx)
		if ctx.Err() != nil {
			return
		}
		w.record(err)

		wait := w.cfg.PollInterval
		if err != nil {
			wait = backoff
			backoff = min(backoff*2, w.cfg.MaxBackoff)
		} else {
			backoff = w.cfg.MinBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (w *Watcher) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.cfg.ProbeTimeout)
	defer cancel()
	return w.cfg.Probe(probeCtx)
}

// record stores a probe outcome and reports transitions.
func (w *Watcher) record(err error) {
	ready := err == nil

	w.mu.Lock()
	changed := !w.checked || w.status.Ready != ready
	w.checked = true
	w.status.Ready = ready
	w.status.LastCheck = time.Now()
	w.status.LastError = ""
	if err != nil {
		w.status.LastError = err.Error()
	}
	w.mu.Unlock()

	if !changed {
		if err != nil {
			w.logger.Debug("service still unreachable", "service", w.cfg.Name, "error", err)
		}
		return
	}

	if ready {
		w.logger.Info("service reachable", "service", w.cfg.Name)
	} else {
		w.logger.Warn("service unreachable", "service", w.cfg.Name, "error", err)
	}
	if w.cfg.OnChange != nil {
		go w.cfg.OnChange(w.cfg.Name, ready, err)
	}
}

// Manager coordinates the watchers for all dependencies. A nil
// *Manager reports no services.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager creates a connection watch manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		watchers: make(map[string]*Watcher),
		logger:   logger,
	}
}

// Watch registers and starts a watcher. It runs until ctx is cancelled
// or Stop is called. An empty Name or nil Probe panics.
func (m *Manager) Watch(ctx context.Context, cfg WatcherConfig) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: WatcherConfig.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: WatcherConfig.Probe must not be nil")
	}
	cfg.applyDefaults()

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		cfg:    cfg,
		logger: m.logger,
		cancel: cancel,
		done:   make(chan struct{}),
		status: ServiceStatus{Name: cfg.Name},
	}

	m.mu.Lock()
	m.watchers[cfg.Name] = w
	m.mu.Unlock()

	go w.run(watchCtx)
	return w
}

// Status returns every watched service, sorted by name.
func (m *Manager) Status() []ServiceStatus {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServiceStatus, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop shuts down all watchers and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()

	for _, w := range watchers {
		w.Stop()
	}
}
