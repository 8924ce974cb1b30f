package scheduler

import (
	"log/slog"
	"time"

	"github.com/zhufucdev/ledoxide/pkg/models"
)

// Default configuration values.
const (
	DefaultMaxConcurrency = 4
	DefaultMaxMemorySize  = 468000
	DefaultGraceDelay     = 10 * time.Second
	DefaultSweepSchedule  = "*/5 * * * *"
)

// Options holds Scheduler configuration.
type Options struct {
	MaxConcurrency int
	MaxMemorySize  int
	GraceDelay     time.Duration
	SwapPath       string
	SwapStore      SwapStore
	Manager        *models.Manager
	ModelTimeout   time.Duration
	Builders       map[string]models.Builder
	Logger         *slog.Logger
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		MaxConcurrency: DefaultMaxConcurrency,
		MaxMemorySize:  DefaultMaxMemorySize,
		GraceDelay:     DefaultGraceDelay,
		ModelTimeout:   models.DefaultIdleTimeout,
		Builders:       make(map[string]models.Builder),
		Logger:         slog.Default(),
	}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// WithMaxConcurrency caps how many tasks run at once. Values below 1 are
// raised to 1.
func WithMaxConcurrency(n int) Option {
	return optionFunc(func(o *Options) {
		if n < 1 {
			n = 1
		}
		o.MaxConcurrency = n
	})
}

// WithMaxMemorySize caps how many finished records stay in memory before
// the overflow check swaps the oldest to disk. Negative values become 0.
func WithMaxMemorySize(n int) Option {
	return optionFunc(func(o *Options) {
		if n < 0 {
			n = 0
		}
		o.MaxMemorySize = n
	})
}

// WithGraceDelay sets the pause between a task's completion and its
// overflow check, giving clients a window to poll the fresh result from
// memory. Negative values become 0.
func WithGraceDelay(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		if d < 0 {
			d = 0
		}
		o.GraceDelay = d
	})
}

// WithSwapPath stores overflowed records at path instead of a temporary
// file.
func WithSwapPath(path string) Option {
	return optionFunc(func(o *Options) {
		o.SwapPath = path
	})
}

// WithSwapStore replaces the overflow store. The scheduler does not close
// a store it did not open.
func WithSwapStore(store SwapStore) Option {
	return optionFunc(func(o *Options) {
		o.SwapStore = store
	})
}

// WithManager supplies a prebuilt model manager. The scheduler does not
// close a manager it did not create; WithModelBuilders and
// WithModelTimeout have no effect when a manager is supplied.
func WithManager(m *models.Manager) Option {
	return optionFunc(func(o *Options) {
		o.Manager = m
	})
}

// WithModelBuilders registers the model builders for the scheduler's own
// manager.
func WithModelBuilders(builders map[string]models.Builder) Option {
	return optionFunc(func(o *Options) {
		for name, b := range builders {
			o.Builders[name] = b
		}
	})
}

// WithModelTimeout sets the idle eviction timeout for the scheduler's own
// manager.
func WithModelTimeout(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.ModelTimeout = d
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(o *Options) {
		o.Logger = l
	})
}
