package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhufucdev/ledoxide/pkg/bill"
	"github.com/zhufucdev/ledoxide/pkg/models"
	"github.com/zhufucdev/ledoxide/pkg/swap"
	"github.com/zhufucdev/ledoxide/pkg/task"
)

// testExecutor labels tasks by their descriptor image and records the
// order they executed in. When block is set, every execution waits on it.
type testExecutor struct {
	mu      sync.Mutex
	order   []string
	running atomic.Int32
	peak    atomic.Int32
	block   chan struct{}
	fail    func(label string) error
}

func (e *testExecutor) Execute(ctx context.Context, d *task.Descriptor, m *models.Manager) (*bill.Bill, error) {
	cur := e.running.Add(1)
	defer e.running.Add(-1)
	for {
		p := e.peak.Load()
		if cur <= p || e.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	label := string(d.Image)
	e.mu.Lock()
	e.order = append(e.order, label)
	e.mu.Unlock()
	if e.fail != nil {
		if err := e.fail(label); err != nil {
			return nil, err
		}
	}
	return &bill.Bill{Notes: label, Amount: 1}, nil
}

func (e *testExecutor) executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// gateExecutor blocks held labels until released and lets every other
// label run straight through.
type gateExecutor struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
}

func newGateExecutor() *gateExecutor {
	return &gateExecutor{gates: make(map[string]chan struct{})}
}

// hold blocks executions of label until the returned release function is
// called. Releasing twice is safe.
func (e *gateExecutor) hold(label string) func() {
	gate := make(chan struct{})
	e.mu.Lock()
	e.gates[label] = gate
	e.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (e *gateExecutor) Execute(ctx context.Context, d *task.Descriptor, m *models.Manager) (*bill.Bill, error) {
	label := string(d.Image)
	e.mu.Lock()
	gate := e.gates[label]
	e.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &bill.Bill{Notes: label, Amount: 1}, nil
}

func newTestScheduler(t *testing.T, exec Executor, opts ...Option) *Scheduler {
	t.Helper()
	opts = append([]Option{
		WithGraceDelay(0),
		WithSwapPath(filepath.Join(t.TempDir(), "overflow.swap")),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	s, err := New(exec, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func desc(label string) *task.Descriptor {
	return &task.Descriptor{Image: []byte(label)}
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestNew_RequiresExecutor(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestNew_UnopenableSwapPathFails(t *testing.T) {
	_, err := New(&testExecutor{}, WithSwapPath(filepath.Join(t.TempDir(), "no", "such", "dir", "x.swap")))
	assert.Error(t, err)
}

func TestScheduler_SubmitRunsToCompletion(t *testing.T) {
	exec := &testExecutor{}
	s := newTestScheduler(t, exec)

	rec := s.Submit(desc("a"))
	waitFor(t, time.Second, rec.IsTerminal)

	require.NotNil(t, rec.Result())
	assert.Equal(t, "a", rec.Result().Notes)
	assert.Empty(t, rec.Failure())

	got, err := s.Get(rec.ID())
	require.NoError(t, err)
	assert.Same(t, rec, got)
}

func TestScheduler_ConcurrencyCeiling(t *testing.T) {
	exec := &testExecutor{block: make(chan struct{})}
	s := newTestScheduler(t, exec, WithMaxConcurrency(2))

	for i := 0; i < 6; i++ {
		s.Submit(desc(fmt.Sprintf("t%d", i)))
	}
	waitFor(t, time.Second, func() bool { return exec.running.Load() == 2 })
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(2), exec.running.Load())
	st := s.Stats()
	assert.Equal(t, 2, st.Active)
	assert.Equal(t, 4, st.Pending)

	close(exec.block)
	waitFor(t, 2*time.Second, func() bool { return s.Stats().Finished == 6 })
	assert.LessOrEqual(t, exec.peak.Load(), int32(2))
	assert.Zero(t, s.Stats().Active)
}

func TestScheduler_PromotionIsNewestFirst(t *testing.T) {
	exec := &testExecutor{block: make(chan struct{})}
	s := newTestScheduler(t, exec, WithMaxConcurrency(1))

	s.Submit(desc("a"))
	waitFor(t, time.Second, func() bool { return exec.running.Load() == 1 })
	s.Submit(desc("b"))
	s.Submit(desc("c"))

	close(exec.block)
	waitFor(t, 2*time.Second, func() bool { return s.Stats().Finished == 3 })

	assert.Equal(t, []string{"a", "c", "b"}, exec.executed())
}

func TestScheduler_StatusProgression(t *testing.T) {
	exec := &testExecutor{block: make(chan struct{})}
	s := newTestScheduler(t, exec, WithMaxConcurrency(1))

	a := s.Submit(desc("a"))
	b := s.Submit(desc("b"))

	waitFor(t, time.Second, func() bool { return a.Status() == task.StatusRunning })
	assert.Equal(t, task.StatusPending, b.Status())

	close(exec.block)
	waitFor(t, 2*time.Second, func() bool {
		st := b.Status()
		return st == task.StatusRunning || st == task.StatusFinished
	})
	waitFor(t, 2*time.Second, b.IsTerminal)
	waitFor(t, 2*time.Second, a.IsTerminal)
}

func TestScheduler_OverflowMovesOldestBeyondCeiling(t *testing.T) {
	exec := &testExecutor{}
	s := newTestScheduler(t, exec, WithMaxConcurrency(1), WithMaxMemorySize(1))

	var recs []*task.Record
	for i := 0; i < 3; i++ {
		rec := s.Submit(desc(fmt.Sprintf("t%d", i)))
		waitFor(t, time.Second, rec.IsTerminal)
		recs = append(recs, rec)
	}
	waitFor(t, 2*time.Second, func() bool {
		st := s.Stats()
		return st.Finished == 1 && st.Swapped == 2
	})

	s.finishedMu.Lock()
	newest := s.finished[0]
	s.finishedMu.Unlock()
	assert.Same(t, recs[2], newest, "the newest finished record stays in memory")

	for _, rec := range recs {
		got, err := s.Get(rec.ID())
		require.NoError(t, err)
		require.NotNil(t, got, "record %s must stay retrievable", rec.ID())
		assert.Equal(t, task.StatusFinished, got.Status())
	}

	// Swapped records come back from disk as restored copies.
	got, err := s.Get(recs[0].ID())
	require.NoError(t, err)
	assert.NotSame(t, recs[0], got)
	assert.Equal(t, recs[0].ID(), got.ID())
	require.NotNil(t, got.Result())
	assert.Equal(t, "t0", got.Result().Notes)
}

func TestScheduler_OverflowCheckMovesExactExcess(t *testing.T) {
	exec := &testExecutor{}
	s := newTestScheduler(t, exec, WithMaxMemorySize(1))

	var ids []string
	for i := 0; i < 3; i++ {
		rec := task.NewRecord()
		require.True(t, rec.Start())
		require.True(t, rec.Finish(&bill.Bill{Notes: fmt.Sprintf("n%d", i), Amount: float32(i)}, nil))
		s.finishedMu.Lock()
		s.finished = append(s.finished, rec)
		s.finishedMu.Unlock()
		ids = append(ids, rec.ID())
	}

	require.NoError(t, s.swapExcess())
	st := s.Stats()
	assert.Equal(t, 1, st.Finished)
	assert.Equal(t, int64(2), st.Swapped)

	for _, id := range ids {
		got, err := s.Get(id)
		require.NoError(t, err)
		assert.NotNil(t, got, "record %s must stay retrievable", id)
	}

	// A second check with nothing over the ceiling is a no-op.
	require.NoError(t, s.swapExcess())
	assert.Equal(t, int64(2), s.Stats().Swapped)
}

// flakyStore fails appends on demand while delegating to a real log.
type flakyStore struct {
	mu       sync.Mutex
	fail     bool
	attempts atomic.Int32
	log      *swap.Log
}

func (f *flakyStore) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *flakyStore) Append(batch []*task.Record) error {
	f.attempts.Add(1)
	f.mu.Lock()
	failing := f.fail
	f.mu.Unlock()
	if failing {
		return errors.New("disk full")
	}
	return f.log.Append(batch)
}

func (f *flakyStore) Find(id string) (*task.Record, error) {
	return f.log.Find(id)
}

func TestScheduler_OverflowAppendFailureKeepsRecords(t *testing.T) {
	log, err := swap.Open(filepath.Join(t.TempDir(), "overflow.swap"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	store := &flakyStore{fail: true, log: log}

	exec := &testExecutor{}
	s := newTestScheduler(t, exec, WithMaxConcurrency(1), WithMaxMemorySize(0), WithSwapStore(store))

	rec := s.Submit(desc("a"))
	waitFor(t, time.Second, rec.IsTerminal)
	waitFor(t, time.Second, func() bool { return store.attempts.Load() >= 1 })

	st := s.Stats()
	assert.Equal(t, 1, st.Finished, "record must stay in memory after a failed append")
	assert.Zero(t, st.Swapped)
	got, err := s.Get(rec.ID())
	require.NoError(t, err)
	assert.Same(t, rec, got)

	// The next trigger retries and succeeds.
	store.setFail(false)
	require.NoError(t, s.swapExcess())
	st = s.Stats()
	assert.Zero(t, st.Finished)
	assert.Equal(t, int64(1), st.Swapped)

	got, err = s.Get(rec.ID())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID(), got.ID())
}

func TestScheduler_SwapLookupFailureIsAnError(t *testing.T) {
	log, err := swap.Open(filepath.Join(t.TempDir(), "overflow.swap"))
	require.NoError(t, err)
	store := &flakyStore{log: log}
	exec := &testExecutor{}
	s := newTestScheduler(t, exec, WithSwapStore(store))

	// Closing the backing file makes every scan fail.
	require.NoError(t, log.Close())
	_, err = s.Get("missing")
	assert.Error(t, err)
}

func TestScheduler_GetUnknownID(t *testing.T) {
	exec := &testExecutor{}
	s := newTestScheduler(t, exec)

	got, err := s.Get("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestScheduler_GetFindsRecordDuringPromotion(t *testing.T) {
	exec := newGateExecutor()
	s := newTestScheduler(t, exec, WithMaxConcurrency(1))

	var misses atomic.Int32
	for i := 0; i < 50; i++ {
		blockLabel := fmt.Sprintf("blocker%d", i)
		release := exec.hold(blockLabel)
		blocker := s.Submit(desc(blockLabel))
		waitFor(t, time.Second, func() bool { return blocker.Status() == task.StatusRunning })
		waited := s.Submit(desc(fmt.Sprintf("waited%d", i)))

		stop := make(chan struct{})
		var wg sync.WaitGroup
		for p := 0; p < 4; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					if got, err := s.Get(waited.ID()); err != nil || got == nil {
						misses.Add(1)
						return
					}
				}
			}()
		}

		// Freeing the slot promotes the waiting task. Its record must stay
		// visible to Get while it moves between tiers.
		release()
		waitFor(t, 2*time.Second, waited.IsTerminal)
		close(stop)
		wg.Wait()
		require.Zero(t, misses.Load(), "get lost track of a submitted task")
		waitFor(t, 2*time.Second, blocker.IsTerminal)
	}
}

func TestScheduler_ExecutorFailureIsIsolated(t *testing.T) {
	exec := &testExecutor{fail: func(label string) error {
		if label == "bad" {
			return errors.New("no amount found")
		}
		return nil
	}}
	s := newTestScheduler(t, exec, WithMaxConcurrency(2))

	bad := s.Submit(desc("bad"))
	good := s.Submit(desc("good"))
	waitFor(t, time.Second, bad.IsTerminal)
	waitFor(t, time.Second, good.IsTerminal)

	assert.Equal(t, "no amount found", bad.Failure())
	assert.Nil(t, bad.Result())
	require.NotNil(t, good.Result())
	assert.Empty(t, good.Failure())
}

func TestScheduler_ExecutorPanicIsRecovered(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, d *task.Descriptor, m *models.Manager) (*bill.Bill, error) {
		if string(d.Image) == "boom" {
			panic("exploded")
		}
		return &bill.Bill{Notes: "ok", Amount: 1}, nil
	})
	s := newTestScheduler(t, exec, WithMaxConcurrency(1))

	boom := s.Submit(desc("boom"))
	waitFor(t, time.Second, boom.IsTerminal)
	assert.Contains(t, boom.Failure(), "exploded")

	// The scheduler keeps promoting after a panic.
	ok := s.Submit(desc("fine"))
	waitFor(t, time.Second, ok.IsTerminal)
	require.NotNil(t, ok.Result())
}

func TestScheduler_GraceDelayDefersOverflow(t *testing.T) {
	exec := &testExecutor{}
	s := newTestScheduler(t, exec, WithGraceDelay(150*time.Millisecond), WithMaxMemorySize(0))

	rec := s.Submit(desc("a"))
	waitFor(t, time.Second, rec.IsTerminal)

	st := s.Stats()
	assert.Equal(t, 1, st.Finished, "record polls from memory during the grace window")
	assert.Zero(t, st.Swapped)

	waitFor(t, 2*time.Second, func() bool { return s.Stats().Swapped == 1 })
	got, err := s.Get(rec.ID())
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestScheduler_OnFinishHooks(t *testing.T) {
	var calls atomic.Int32
	exec := &testExecutor{}
	s := newTestScheduler(t, exec)

	s.OnFinish(func(*task.Record) { panic("bad hook") })
	s.OnFinish(func(rec *task.Record) {
		if rec.IsTerminal() {
			calls.Add(1)
		}
	})

	s.Submit(desc("a"))
	waitFor(t, time.Second, func() bool { return calls.Load() == 1 })
}

func TestScheduler_SlowHookDoesNotStallPromotion(t *testing.T) {
	exec := newGateExecutor()
	s := newTestScheduler(t, exec, WithMaxConcurrency(1))

	hookGate := make(chan struct{})
	var once sync.Once
	releaseHooks := func() { once.Do(func() { close(hookGate) }) }
	t.Cleanup(releaseHooks)
	s.OnFinish(func(*task.Record) { <-hookGate })

	release := exec.hold("first")
	first := s.Submit(desc("first"))
	waitFor(t, time.Second, func() bool { return first.Status() == task.StatusRunning })
	second := s.Submit(desc("second"))

	// The slot freed by the first task goes to the second one while the
	// first task's hook is still blocked.
	release()
	waitFor(t, 2*time.Second, second.IsTerminal)
	require.NotNil(t, second.Result())
	releaseHooks()
}

func TestScheduler_SweeperLifecycle(t *testing.T) {
	exec := &testExecutor{}
	s := newTestScheduler(t, exec)

	require.Error(t, s.RunSweeper(context.Background(), "not a cron spec"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunSweeper(ctx, DefaultSweepSchedule) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancellation")
	}
}
