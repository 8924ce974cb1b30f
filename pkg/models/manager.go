package models

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultIdleTimeout is how long an unused model stays cached before its
// eviction timer fires.
const DefaultIdleTimeout = 5 * time.Minute

// BuildError reports a failed model build. The failed name is left out of
// the cache, so a later Get retries the build.
type BuildError struct {
	Name string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("models: build %s: %v", e.Name, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Options holds Manager configuration.
type Options struct {
	IdleTimeout time.Duration
	Builders    map[string]Builder
	Logger      *slog.Logger
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		IdleTimeout: DefaultIdleTimeout,
		Builders:    make(map[string]Builder),
		Logger:      slog.Default(),
	}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// WithIdleTimeout sets how long an unused model stays cached. Zero or
// negative disables eviction.
func WithIdleTimeout(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.IdleTimeout = d
	})
}

// WithBuilder registers the builder for one model name.
func WithBuilder(name string, b Builder) Option {
	return optionFunc(func(o *Options) {
		o.Builders[name] = b
	})
}

// WithBuilders registers every builder in the map.
func WithBuilders(builders map[string]Builder) Option {
	return optionFunc(func(o *Options) {
		for name, b := range builders {
			o.Builders[name] = b
		}
	})
}

// WithLogger sets the logger used for build and eviction events.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(o *Options) {
		o.Logger = l
	})
}

// Manager caches built models by name. A hit refreshes the entry's
// eviction timer; an entry that sits unused past the idle timeout is
// removed so the backend can be released.
type Manager struct {
	timeout  time.Duration
	builders map[string]Builder
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// entry is one cache slot. ready closes when the build attempt finishes;
// gen is bumped on every refresh so a stale eviction timer can detect that
// it lost the race.
type entry struct {
	ready chan struct{}
	model Model
	err   error
	gen   uint64
	timer *time.Timer
}

// NewManager creates a Manager.
func NewManager(opts ...Option) *Manager {
	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}
	return &Manager{
		timeout:  options.IdleTimeout,
		builders: options.Builders,
		logger:   options.Logger,
		entries:  make(map[string]*entry),
	}
}

// Get returns the model registered under name, building it on first use.
// It returns (nil, nil) when no builder is registered for name. Concurrent
// calls for the same cold name share a single build: late arrivals wait for
// the in-flight build and observe its model or its error. The first
// caller's context governs the build.
func (m *Manager) Get(ctx context.Context, name string) (Model, error) {
	m.mu.Lock()
	e, ok := m.entries[name]
	if !ok {
		builder, registered := m.builders[name]
		if !registered {
			m.mu.Unlock()
			return nil, nil
		}
		e = &entry{ready: make(chan struct{})}
		m.entries[name] = e
		m.mu.Unlock()
		return m.build(ctx, name, e, builder)
	}
	m.mu.Unlock()

	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	m.mu.Lock()
	if m.entries[name] == e {
		m.touchLocked(name, e)
	}
	m.mu.Unlock()
	return e.model, nil
}

// build runs the builder for the entry just inserted under name. The cache
// lock is never held across the builder call.
func (m *Manager) build(ctx context.Context, name string, e *entry, builder Builder) (Model, error) {
	m.logger.Info("building model", "model", name)
	start := time.Now()
	model, err := builder(ctx)

	m.mu.Lock()
	if err != nil {
		e.err = &BuildError{Name: name, Err: err}
		if m.entries[name] == e {
			delete(m.entries, name)
		}
	} else {
		e.model = model
		m.touchLocked(name, e)
	}
	m.mu.Unlock()
	close(e.ready)

	if e.err != nil {
		return nil, e.err
	}
	m.logger.Info("model ready", "model", name, "elapsed", time.Since(start))
	return model, nil
}

// touchLocked refreshes the entry's eviction timer. A fresh Get always
// beats a concurrently firing timer: the callback re-validates the
// generation under the lock before removing anything.
func (m *Manager) touchLocked(name string, e *entry) {
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
	}
	if m.timeout <= 0 || m.closed {
		return
	}
	gen := e.gen
	e.timer = time.AfterFunc(m.timeout, func() {
		m.evict(name, e, gen)
	})
}

func (m *Manager) evict(name string, e *entry, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[name] != e || e.gen != gen {
		return
	}
	delete(m.entries, name)
	m.logger.Info("model evicted after idle timeout", "model", name)
}

// Cached returns the names of models currently held by the cache, sorted.
// Entries still building are not reported.
func (m *Manager) Cached() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.entries))
	for name, e := range m.entries {
		select {
		case <-e.ready:
			if e.err == nil {
				names = append(names, name)
			}
		default:
		}
	}
	sort.Strings(names)
	return names
}

// Close stops every eviction timer and drops all cached entries.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for name, e := range m.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(m.entries, name)
	}
	return nil
}
