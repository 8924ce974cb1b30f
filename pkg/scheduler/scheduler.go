package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhufucdev/ledoxide/pkg/bill"
	"github.com/zhufucdev/ledoxide/pkg/models"
	"github.com/zhufucdev/ledoxide/pkg/swap"
	"github.com/zhufucdev/ledoxide/pkg/task"
)

// Executor runs one task to completion. Implementations perform every
// domain stage themselves and fetch models from the manager as needed; the
// scheduler holds no locks across this call.
type Executor interface {
	Execute(ctx context.Context, d *task.Descriptor, m *models.Manager) (*bill.Bill, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, d *task.Descriptor, m *models.Manager) (*bill.Bill, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, d *task.Descriptor, m *models.Manager) (*bill.Bill, error) {
	return f(ctx, d, m)
}

// SwapStore is the durable overflow destination for finished records.
type SwapStore interface {
	// Append persists the batch durably before returning nil.
	Append(batch []*task.Record) error
	// Find returns the stored record with the given id, or (nil, nil)
	// when the id is not present.
	Find(id string) (*task.Record, error)
}

// pendingTask pairs a queued record with its descriptor until promotion.
type pendingTask struct {
	rec  *task.Record
	desc *task.Descriptor
}

// Stats is a point-in-time count of tasks per tier.
type Stats struct {
	Active   int   `json:"active"`
	Pending  int   `json:"pending"`
	Finished int   `json:"finished"`
	Swapped  int64 `json:"swapped"`
}

// Scheduler admits tasks under a concurrency ceiling and retains finished
// records within a memory budget, overflowing the oldest to the swap
// store.
//
// Lock order is fixed: active before pending before finished, with the
// swap store's own lock innermost. No lock is held across an executor
// call.
type Scheduler struct {
	executor Executor
	manager  *models.Manager
	store    SwapStore
	logger   *slog.Logger

	maxConcurrency int
	maxMemorySize  int
	graceDelay     time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	activeMu sync.Mutex
	active   []*task.Record

	pendingMu sync.Mutex
	pending   []pendingTask

	finishedMu sync.Mutex
	finished   []*task.Record

	swapped atomic.Int64

	hookMu      sync.RWMutex
	finishHooks []func(*task.Record)

	closers []io.Closer
}

// New creates a Scheduler that runs submitted tasks through executor. A
// swap store that cannot be opened fails construction; everything after
// that is handled at runtime.
func New(executor Executor, opts ...Option) (*Scheduler, error) {
	if executor == nil {
		return nil, errors.New("scheduler: executor must not be nil")
	}
	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}

	s := &Scheduler{
		executor:       executor,
		logger:         options.Logger,
		maxConcurrency: options.MaxConcurrency,
		maxMemorySize:  options.MaxMemorySize,
		graceDelay:     options.GraceDelay,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.manager = options.Manager
	if s.manager == nil {
		s.manager = models.NewManager(
			models.WithIdleTimeout(options.ModelTimeout),
			models.WithBuilders(options.Builders),
			models.WithLogger(options.Logger),
		)
		s.closers = append(s.closers, s.manager)
	}

	s.store = options.SwapStore
	if s.store == nil {
		var (
			log *swap.Log
			err error
		)
		if options.SwapPath != "" {
			log, err = swap.Open(options.SwapPath)
		} else {
			log, err = swap.OpenTemp()
		}
		if err != nil {
			return nil, err
		}
		s.store = log
		s.closers = append(s.closers, log)
		s.logger.Debug("swap log opened", "path", log.Path())
	}
	return s, nil
}

// Models returns the scheduler's model manager.
func (s *Scheduler) Models() *models.Manager { return s.manager }

// Submit queues a task and immediately tries to start it. It never blocks
// on execution and never fails; the returned record may already be
// running.
func (s *Scheduler) Submit(desc *task.Descriptor) *task.Record {
	rec := task.NewRecord()
	s.pendingMu.Lock()
	s.pending = append(s.pending, pendingTask{rec: rec, desc: desc})
	s.pendingMu.Unlock()
	s.logger.Debug("task submitted", "task", rec.ID())
	s.promote()
	return rec
}

// Get looks id up across the tiers in fixed order: active, pending,
// finished in memory, then the swap store. It returns (nil, nil) when the
// id is unknown anywhere; a swap read failure is returned as an error,
// distinct from not-found.
func (s *Scheduler) Get(id string) (*task.Record, error) {
	// Promotion moves a record from pending to active against the scan
	// direction, so both tiers are searched under both locks, taken in
	// promote's order. The later moves (active to finished, finished to
	// disk) run with the scan and append before they remove.
	s.activeMu.Lock()
	s.pendingMu.Lock()
	for _, rec := range s.active {
		if rec.ID() == id {
			s.pendingMu.Unlock()
			s.activeMu.Unlock()
			return rec, nil
		}
	}
	for _, pt := range s.pending {
		if pt.rec.ID() == id {
			s.pendingMu.Unlock()
			s.activeMu.Unlock()
			return pt.rec, nil
		}
	}
	s.pendingMu.Unlock()
	s.activeMu.Unlock()

	s.finishedMu.Lock()
	for _, rec := range s.finished {
		if rec.ID() == id {
			s.finishedMu.Unlock()
			return rec, nil
		}
	}
	s.finishedMu.Unlock()

	rec, err := s.store.Find(id)
	if err != nil {
		return nil, fmt.Errorf("scheduler: swap lookup for %s: %w", id, err)
	}
	return rec, nil
}

// promote starts pending tasks while capacity remains. Promotion is
// newest-first: the most recently submitted task runs before older ones.
func (s *Scheduler) promote() {
	for {
		s.activeMu.Lock()
		if len(s.active) >= s.maxConcurrency {
			s.activeMu.Unlock()
			return
		}
		s.pendingMu.Lock()
		n := len(s.pending)
		if n == 0 {
			s.pendingMu.Unlock()
			s.activeMu.Unlock()
			return
		}
		next := s.pending[n-1]
		s.pending[n-1] = pendingTask{}
		s.pending = s.pending[:n-1]
		next.rec.Start()
		s.active = append(s.active, next.rec)
		s.pendingMu.Unlock()
		s.activeMu.Unlock()

		s.logger.Info("task started", "task", next.rec.ID())
		go s.run(next.rec, next.desc)
	}
}

// run executes one promoted task and handles its completion. Executor
// panics and errors land in the record's terminal state and never
// propagate further.
func (s *Scheduler) run(rec *task.Record, desc *task.Descriptor) {
	var (
		result *bill.Bill
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panic: %v", r)
			}
		}()
		result, err = s.executor.Execute(s.ctx, desc, s.manager)
	}()
	rec.Finish(result, err)
	if err != nil {
		s.logger.Error("task failed", "task", rec.ID(), "error", err)
	} else {
		s.logger.Info("task finished", "task", rec.ID())
	}

	// Promote before the hooks run: a slow hook must not hold up the next
	// pending task.
	s.settle(rec)
	s.promote()
	s.notifyFinish(rec)

	// The grace delay lets clients poll a fresh result from memory before
	// the overflow check may push it to disk.
	if !s.pause(s.graceDelay) {
		return
	}
	if err := s.swapExcess(); err != nil {
		s.logger.Error("overflow append failed, keeping records in memory", "error", err)
	}
}

// settle moves a finished record from the active tier to the finished
// tier. Both locks are held across the move, so the record is always in
// exactly one tier.
func (s *Scheduler) settle(rec *task.Record) {
	s.activeMu.Lock()
	for i, r := range s.active {
		if r == rec {
			s.active = append(s.active[:i], s.active[i+1:]...)
			break
		}
	}
	s.finishedMu.Lock()
	s.finished = append(s.finished, rec)
	s.finishedMu.Unlock()
	s.activeMu.Unlock()
}

// swapExcess moves the oldest finished records beyond the memory ceiling
// into the swap store. Records leave memory only after the batch is
// durably appended; on failure everything stays in memory for the next
// trigger.
func (s *Scheduler) swapExcess() error {
	s.finishedMu.Lock()
	defer s.finishedMu.Unlock()
	excess := len(s.finished) - s.maxMemorySize
	if excess <= 0 {
		return nil
	}
	if err := s.store.Append(s.finished[:excess]); err != nil {
		return err
	}
	remaining := make([]*task.Record, len(s.finished)-excess)
	copy(remaining, s.finished[excess:])
	s.finished = remaining
	s.swapped.Add(int64(excess))
	s.logger.Info("finished tasks swapped to disk", "count", excess)
	return nil
}

// Stats returns a snapshot of tier occupancy.
func (s *Scheduler) Stats() Stats {
	var st Stats
	s.activeMu.Lock()
	st.Active = len(s.active)
	s.activeMu.Unlock()
	s.pendingMu.Lock()
	st.Pending = len(s.pending)
	s.pendingMu.Unlock()
	s.finishedMu.Lock()
	st.Finished = len(s.finished)
	s.finishedMu.Unlock()
	st.Swapped = s.swapped.Load()
	return st
}

// OnFinish registers fn to run after each task reaches its terminal
// state. Hooks run outside the queue locks; a panicking hook is recovered
// and logged.
func (s *Scheduler) OnFinish(fn func(*task.Record)) {
	s.hookMu.Lock()
	s.finishHooks = append(s.finishHooks, fn)
	s.hookMu.Unlock()
}

func (s *Scheduler) notifyFinish(rec *task.Record) {
	s.hookMu.RLock()
	hooks := make([]func(*task.Record), len(s.finishHooks))
	copy(hooks, s.finishHooks)
	s.hookMu.RUnlock()

	for _, fn := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("finish hook panicked", "task", rec.ID(), "panic", r)
				}
			}()
			fn(rec)
		}()
	}
}

// pause waits for d unless the scheduler closes first.
func (s *Scheduler) pause(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Close stops background work and releases owned resources. Running tasks
// are not interrupted beyond cancellation of the execution context; they
// run to completion or process exit.
func (s *Scheduler) Close() error {
	s.cancel()
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
