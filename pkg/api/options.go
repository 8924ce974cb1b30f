package api

import (
	"log/slog"

	"github.com/zhufucdev/ledoxide/pkg/ledger"
)

// DefaultMaxImageBytes caps uploaded bill images.
const DefaultMaxImageBytes = 16 << 20

// Options holds server configuration.
type Options struct {
	AuthKey       string
	Version       string
	MaxImageBytes int64
	Ledger        *ledger.Ledger
	Logger        *slog.Logger
}

// NewOptions returns Options with default values.
func NewOptions() *Options {
	return &Options{
		Version:       "dev",
		MaxImageBytes: DefaultMaxImageBytes,
		Logger:        slog.Default(),
	}
}

// Option configures a Server.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// WithAuthKey sets the bearer token clients must present. An empty key
// disables authentication.
func WithAuthKey(key string) Option {
	return optionFunc(func(o *Options) {
		o.AuthKey = key
	})
}

// WithVersion sets the version string reported by the index route.
func WithVersion(version string) Option {
	return optionFunc(func(o *Options) {
		o.Version = version
	})
}

// WithMaxImageBytes caps the accepted upload size. Values below 1 are
// ignored.
func WithMaxImageBytes(n int64) Option {
	return optionFunc(func(o *Options) {
		if n >= 1 {
			o.MaxImageBytes = n
		}
	})
}

// WithLedger mounts the bill archive routes on top of the task routes.
func WithLedger(l *ledger.Ledger) Option {
	return optionFunc(func(o *Options) {
		o.Ledger = l
	})
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	})
}
