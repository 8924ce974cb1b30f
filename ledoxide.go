// Package ledoxide digitizes photographed bills with vision and language
// models.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Build the pipeline and scheduler
//	pipeline := ledoxide.NewPipeline(ledoxide.DefaultCategories(), nil)
//	sched, _ := ledoxide.New(pipeline,
//	    ledoxide.WithModelBuilders(ledoxide.Builders(ledoxide.DefaultConfig())),
//	    ledoxide.WithMaxConcurrency(2),
//	)
//	defer sched.Close()
//
//	// Submit a bill photo and poll for the result
//	rec := sched.Submit(&ledoxide.Descriptor{Image: photo})
//	for !rec.IsTerminal() {
//	    time.Sleep(time.Second)
//	}
//	fmt.Println(rec.Result().Amount)
package ledoxide

import (
	"log/slog"
	"time"

	"github.com/zhufucdev/ledoxide/pkg/api"
	"github.com/zhufucdev/ledoxide/pkg/bill"
	"github.com/zhufucdev/ledoxide/pkg/ledger"
	"github.com/zhufucdev/ledoxide/pkg/models"
	"github.com/zhufucdev/ledoxide/pkg/runner"
	"github.com/zhufucdev/ledoxide/pkg/scheduler"
	"github.com/zhufucdev/ledoxide/pkg/task"
)

// Type aliases for the embeddable surface
type (
	// Descriptor is the caller-supplied input for one digitization task.
	Descriptor = task.Descriptor

	// Record tracks one submitted task through its lifecycle.
	Record = task.Record

	// Status represents the current state of a task.
	Status = task.Status

	// Bill is the structured result of a digitized bill.
	Bill = bill.Bill

	// Categories is the closed set of names a bill may be filed under.
	Categories = bill.Categories

	// Sampling carries optional generation parameters for a model call.
	Sampling = models.Sampling

	// Model is a handle to a loaded vision or language model.
	Model = models.Model

	// Builder constructs a Model on first use.
	Builder = models.Builder

	// Manager caches built models and releases them after idle periods.
	Manager = models.Manager

	// Scheduler runs submitted tasks with bounded concurrency.
	Scheduler = scheduler.Scheduler

	// Executor processes one task descriptor into a bill.
	Executor = scheduler.Executor

	// ExecutorFunc adapts a function to the Executor interface.
	ExecutorFunc = scheduler.ExecutorFunc

	// Option modifies scheduler Options.
	Option = scheduler.Option

	// Options holds scheduler configuration.
	Options = scheduler.Options

	// SwapStore is the durable overflow store for finished records.
	SwapStore = scheduler.SwapStore

	// Stats is a point-in-time snapshot of scheduler occupancy.
	Stats = scheduler.Stats

	// Pipeline runs the staged digitization of a bill photo.
	Pipeline = runner.Pipeline

	// ModelsConfig declares the OpenAI-compatible model endpoints.
	ModelsConfig = runner.Config

	// EmptyAmountError reports an amount extraction that produced no
	// usable number, carrying the model's reply.
	EmptyAmountError = runner.EmptyAmountError

	// Ledger archives successfully digitized bills in SQLite.
	Ledger = ledger.Ledger

	// ServerOption modifies server Options.
	ServerOption = api.Option

	// Server exposes a scheduler over HTTP.
	Server = api.Server
)

// Task state constants
const (
	StatusPending  = task.StatusPending
	StatusRunning  = task.StatusRunning
	StatusFinished = task.StatusFinished
)

// Pipeline model names
const (
	VisionModel   = runner.VisionModel
	LanguageModel = runner.LanguageModel
)

// Default values
const (
	DefaultMaxConcurrency = scheduler.DefaultMaxConcurrency
	DefaultMaxMemorySize  = scheduler.DefaultMaxMemorySize
	DefaultGraceDelay     = scheduler.DefaultGraceDelay
	DefaultSweepSchedule  = scheduler.DefaultSweepSchedule
	DefaultIdleTimeout    = models.DefaultIdleTimeout
)

// Error variables
var (
	ErrNoModel       = runner.ErrNoModel
	ErrResultMissing = task.ErrResultMissing
)

// New creates a Scheduler that runs submitted tasks through executor.
func New(executor Executor, opts ...Option) (*Scheduler, error) {
	return scheduler.New(executor, opts...)
}

// NewOptions creates scheduler Options with defaults.
func NewOptions() *Options {
	return scheduler.NewOptions()
}

// NewPipeline builds the digitization pipeline over the given categories.
// A nil logger falls back to slog.Default().
func NewPipeline(categories Categories, logger *slog.Logger) *Pipeline {
	return runner.NewPipeline(categories, logger)
}

// NewCategories builds a category set, dropping empty names.
func NewCategories(names ...string) Categories {
	return bill.NewCategories(names...)
}

// DefaultCategories returns the built-in category set.
func DefaultCategories() Categories {
	return bill.DefaultCategories()
}

// DefaultConfig returns a models config pointing at local endpoints.
func DefaultConfig() *ModelsConfig {
	return runner.DefaultConfig()
}

// LoadConfig reads a models config from a YAML file.
func LoadConfig(path string) (*ModelsConfig, error) {
	return runner.LoadConfig(path)
}

// Builders turns a models config into builders for the scheduler.
func Builders(cfg *ModelsConfig) map[string]Builder {
	return runner.Builders(cfg)
}

// OpenLedger opens and migrates the bill archive at path.
func OpenLedger(path string) (*Ledger, error) {
	return ledger.Open(path)
}

// NewServer builds the HTTP API over a scheduler.
func NewServer(s *Scheduler, opts ...ServerOption) *Server {
	return api.NewServer(s, opts...)
}

// GenerateKey returns a random authorization key.
func GenerateKey() string {
	return api.GenerateKey()
}

// Scheduler option functions

// WithMaxConcurrency bounds how many tasks run at once.
func WithMaxConcurrency(n int) Option {
	return scheduler.WithMaxConcurrency(n)
}

// WithMaxMemorySize bounds how many finished tasks stay in memory.
func WithMaxMemorySize(n int) Option {
	return scheduler.WithMaxMemorySize(n)
}

// WithGraceDelay sets the pause before the overflow check runs.
func WithGraceDelay(d time.Duration) Option {
	return scheduler.WithGraceDelay(d)
}

// WithSwapPath sets the overflow log location.
func WithSwapPath(path string) Option {
	return scheduler.WithSwapPath(path)
}

// WithSwapStore supplies a prebuilt overflow store.
func WithSwapStore(store SwapStore) Option {
	return scheduler.WithSwapStore(store)
}

// WithManager supplies a prebuilt model manager.
func WithManager(m *Manager) Option {
	return scheduler.WithManager(m)
}

// WithModelBuilders registers the model builders for the scheduler's own
// manager.
func WithModelBuilders(builders map[string]Builder) Option {
	return scheduler.WithModelBuilders(builders)
}

// WithModelTimeout sets the idle eviction timeout for the scheduler's own
// manager.
func WithModelTimeout(d time.Duration) Option {
	return scheduler.WithModelTimeout(d)
}

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return scheduler.WithLogger(l)
}

// Server option functions

// WithAuthKey sets the bearer token clients must present. An empty key
// disables authorization.
func WithAuthKey(key string) ServerOption {
	return api.WithAuthKey(key)
}

// WithVersion sets the version string reported by the index route.
func WithVersion(v string) ServerOption {
	return api.WithVersion(v)
}

// WithMaxImageBytes caps the accepted upload size.
func WithMaxImageBytes(n int64) ServerOption {
	return api.WithMaxImageBytes(n)
}

// WithLedger mounts the bill archive routes on the server.
func WithLedger(l *Ledger) ServerOption {
	return api.WithLedger(l)
}
