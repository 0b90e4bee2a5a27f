package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/catalog-scraper/internal/hash/sha256"
	"github.com/JakeFAU/catalog-scraper/internal/metrics"
	"github.com/JakeFAU/catalog-scraper/internal/queue/memory"
	"github.com/JakeFAU/catalog-scraper/internal/scrape"
	"github.com/JakeFAU/catalog-scraper/internal/worker"
)

const (
	testPopTimeout   = 20 * time.Millisecond
	testPollInterval = 50 * time.Millisecond
)

func TestSupervisor_Populate(t *testing.T) {
	t.Parallel()

	q := memory.NewTaskQueue()
	s := New(Config{}, q, nil, nil, nil, nil, nil)
	require.Equal(t, 3, s.Populate([]scrape.Task{"a", "b", "c"}))
	require.Equal(t, 3, q.Len())
}

func TestSupervisor_SpawnPoolRequiresFactory(t *testing.T) {
	t.Parallel()

	s := New(Config{}, memory.NewTaskQueue(), nil, nil, nil, nil, nil)
	require.ErrorIs(t, s.SpawnPool(context.Background(), 1), ErrNoRunnerFactory)
}

func TestSupervisor_SpawnPoolAssignsSlotsAndIDs(t *testing.T) {
	t.Parallel()

	q := memory.NewTaskQueue()
	pool := newFakePool(q, testPopTimeout)
	s := New(Config{PollInterval: testPollInterval}, q, pool.factory, &seqIDs{}, fixedClock{}, nil, nil)

	require.NoError(t, s.SpawnPool(context.Background(), 3))
	handles := s.Handles()
	require.Len(t, handles, 3)
	for i, h := range handles {
		assert.Equal(t, i, h.Slot)
		assert.Equal(t, fmt.Sprintf("worker-%d", i+1), h.ID)
		assert.Equal(t, fixedClock{}.Now(), h.StartedAt)
	}
	require.NoError(t, s.Supervise(context.Background()))
}

func TestSupervisor_SpawnPoolPropagatesIDError(t *testing.T) {
	t.Parallel()

	q := memory.NewTaskQueue()
	pool := newFakePool(q, testPopTimeout)
	s := New(Config{}, q, pool.factory, failingIDs{}, nil, nil, nil)
	require.ErrorContains(t, s.SpawnPool(context.Background(), 2), "generate worker id")
}

func TestSupervisor_SpawnPoolFailureStopsStartedWorkers(t *testing.T) {
	t.Parallel()

	q := memory.NewTaskQueue()
	// A long pop timeout keeps started workers waiting unless they are stopped.
	pool := newFakePool(q, time.Minute)
	s := New(Config{PollInterval: testPollInterval}, q, pool.factory, &failAfterIDs{ok: 1}, nil, nil, nil)

	err := s.SpawnPool(context.Background(), 3)
	require.ErrorContains(t, err, "generate worker id")

	handles := s.Handles()
	require.Len(t, handles, 1)
	require.False(t, handles[0].Alive())
	require.Equal(t, metrics.ReasonCanceled, handles[0].ExitReason())

	q.Push("late-task")
	time.Sleep(3 * testPopTimeout)
	require.Equal(t, 1, q.Len())
	require.Zero(t, pool.consumed.Load())

	require.NoError(t, s.Supervise(context.Background()))
	require.Equal(t, 1, s.Stats().Spawned)
	require.Zero(t, s.Stats().Restarts)
}

func TestSupervisor_FaultInjectionReplacesOnce(t *testing.T) {
	t.Parallel()

	q := memory.NewTaskQueue()
	pool := newFakePool(q, testPopTimeout)
	pool.faultTask = "page-1"
	collector, err := metrics.New()
	require.NoError(t, err)

	s := New(Config{PollInterval: testPollInterval, RestartPolicy: RestartOnFault}, q, pool.factory, nil, nil, collector, nil)
	tasks := taskList(6)
	s.Populate(tasks)
	require.NoError(t, s.SpawnPool(context.Background(), 2))
	require.NoError(t, s.Supervise(context.Background()))

	stats := s.Stats()
	require.Equal(t, 1, stats.Faults)
	require.Equal(t, 1, stats.Restarts)
	require.Equal(t, 1, stats.FaultRestarts)
	require.Equal(t, 1, stats.TasksLost)
	require.Equal(t, 3, stats.Spawned)
	require.Equal(t, len(tasks), int(pool.consumed.Load())+stats.TasksLost)
	require.Zero(t, q.Len())
	for _, h := range s.Handles() {
		require.False(t, h.Alive())
	}
}

func TestSupervisor_FaultInLastWorkerStillReplaced(t *testing.T) {
	t.Parallel()

	q := memory.NewTaskQueue()
	pool := newFakePool(q, testPopTimeout)
	pool.faultTask = "page-1"

	s := New(Config{PollInterval: testPollInterval, RestartPolicy: RestartOnFault}, q, pool.factory, nil, nil, nil, nil)
	s.Populate(taskList(3))
	require.NoError(t, s.SpawnPool(context.Background(), 1))
	require.NoError(t, s.Supervise(context.Background()))

	stats := s.Stats()
	require.Equal(t, 1, stats.FaultRestarts)
	require.Equal(t, int64(2), pool.consumed.Load())
	require.Zero(t, q.Len())
}

func TestSupervisor_AlwaysPolicyReplacesFaultAndTerminates(t *testing.T) {
	t.Parallel()

	q := memory.NewTaskQueue()
	pool := newFakePool(q, testPopTimeout)
	pool.faultTask = "page-2"
	pool.workDelay = 5 * time.Millisecond

	s := New(Config{PollInterval: testPollInterval, RestartPolicy: RestartAlways}, q, pool.factory, nil, nil, nil, nil)
	tasks := taskList(10)
	s.Populate(tasks)
	require.NoError(t, s.SpawnPool(context.Background(), 3))

	done := make(chan error, 1)
	go func() { done <- s.Supervise(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not terminate under the always policy")
	}

	stats := s.Stats()
	require.Equal(t, 1, stats.Faults)
	require.Equal(t, 1, stats.FaultRestarts)
	require.GreaterOrEqual(t, stats.Restarts, 1)
	require.Equal(t, len(tasks), int(pool.consumed.Load())+stats.TasksLost)
}

func TestSupervisor_PanicBecomesFault(t *testing.T) {
	t.Parallel()

	q := memory.NewTaskQueue()
	pool := newFakePool(q, testPopTimeout)
	pool.panicTask = "page-1"
	core, logs := observer.New(zapcore.DebugLevel)

	s := New(Config{PollInterval: testPollInterval, RestartPolicy: RestartOnFault}, q, pool.factory, nil, nil, nil, zap.New(core))
	s.Populate(taskList(2))
	require.NoError(t, s.SpawnPool(context.Background(), 1))
	require.NoError(t, s.Supervise(context.Background()))

	require.Equal(t, 1, s.Stats().Faults)
	require.Equal(t, 1, s.Stats().FaultRestarts)
	require.Len(t, logs.FilterMessage("worker fault").All(), 1)
	require.Len(t, logs.FilterMessage("worker replaced").All(), 1)
}

func TestSupervisor_CompletionTracksIdleTimeoutNotPoolSize(t *testing.T) {
	t.Parallel()

	for _, workers := range []int{1, 8} {
		q := memory.NewTaskQueue()
		pool := newFakePool(q, testPopTimeout)
		s := New(Config{PollInterval: testPollInterval}, q, pool.factory, nil, nil, nil, nil)

		start := time.Now()
		require.NoError(t, s.SpawnPool(context.Background(), workers))
		require.NoError(t, s.Supervise(context.Background()))
		elapsed := time.Since(start)

		require.Less(t, elapsed, testPopTimeout+4*testPollInterval, "workers=%d", workers)
		require.Equal(t, workers, s.Stats().IdleExits)
	}
}

func TestSupervisor_ContextCancelJoinsWorkers(t *testing.T) {
	t.Parallel()

	q := memory.NewTaskQueue()
	pool := newFakePool(q, time.Minute)
	s := New(Config{PollInterval: testPollInterval}, q, pool.factory, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.SpawnPool(ctx, 2))
	done := make(chan error, 1)
	go func() { done <- s.Supervise(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop after cancel")
	}
	for _, h := range s.Handles() {
		require.False(t, h.Alive())
		require.Equal(t, metrics.ReasonCanceled, h.ExitReason())
	}
	require.Zero(t, s.Stats().Restarts)
}

func TestSupervisor_SuperviseWithoutHandles(t *testing.T) {
	t.Parallel()

	s := New(Config{PollInterval: testPollInterval}, memory.NewTaskQueue(), nil, nil, nil, nil, nil)
	require.NoError(t, s.Supervise(context.Background()))
}

func TestSupervisor_WithRealWorkersAtMostOnce(t *testing.T) {
	t.Parallel()

	tasks := memory.NewTaskQueue()
	results := memory.NewResultQueue()
	session := &pageSession{items: 3, faultTask: "page-4"}
	newRunner := func(id string) Runner {
		return worker.New(id, tasks, results, session, sha256.New(), nil, worker.Config{PopTimeout: testPopTimeout}, nil)
	}

	s := New(Config{PollInterval: testPollInterval}, tasks, newRunner, nil, nil, nil, nil)
	initial := taskList(8)
	s.Populate(initial)
	require.NoError(t, s.SpawnPool(context.Background(), 3))
	require.NoError(t, s.Supervise(context.Background()))

	records := results.DrainAll()
	stats := s.Stats()
	require.Equal(t, 1, stats.TasksLost)
	require.Len(t, records, (len(initial)-stats.TasksLost)*3)

	seen := map[string]bool{}
	for _, rec := range records {
		require.False(t, seen[rec.ID], "duplicate record %s", rec.URL)
		seen[rec.ID] = true
	}
	require.Empty(t, results.DrainAll())
}

func TestSupervisor_DefaultPolicyFaultInjectionThreeWorkers(t *testing.T) {
	t.Parallel()

	tasks := memory.NewTaskQueue()
	results := memory.NewResultQueue()
	session := &pageSession{items: 3, faultTask: "page-3"}
	newRunner := func(id string) Runner {
		return worker.New(id, tasks, results, session, sha256.New(), nil, worker.Config{PopTimeout: testPopTimeout}, nil)
	}

	s := New(Config{PollInterval: testPollInterval}, tasks, newRunner, nil, nil, nil, nil)
	require.Equal(t, RestartAlways, s.cfg.RestartPolicy)
	initial := taskList(6)
	s.Populate(initial)
	require.NoError(t, s.SpawnPool(context.Background(), 3))
	require.NoError(t, s.Supervise(context.Background()))

	stats := s.Stats()
	require.Equal(t, 1, stats.Faults)
	require.Equal(t, 1, stats.FaultRestarts)
	require.Equal(t, 1, stats.TasksLost)

	records := results.DrainAll()
	require.Len(t, records, (len(initial)-1)*3)
	seen := map[string]bool{}
	for _, rec := range records {
		require.NotContains(t, rec.URL, "/page-3/")
		require.False(t, seen[rec.ID], "duplicate record %s", rec.URL)
		seen[rec.ID] = true
	}
}

func TestDefaultPollIntervalExceedsWorkerPopTimeout(t *testing.T) {
	t.Parallel()

	require.Less(t, worker.DefaultPopTimeout, DefaultPollInterval)
}

func TestWorkerHandleExitReasons(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err  error
		want string
	}{
		"idle":     {err: nil, want: metrics.ReasonIdle},
		"fault":    {err: fmt.Errorf("run: %w", scrape.NewFault(errors.New("gone"))), want: metrics.ReasonFault},
		"canceled": {err: context.Canceled, want: metrics.ReasonCanceled},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			h := startHandle(context.Background(), "id", 0, time.Time{}, runnerFunc(func(context.Context) error {
				return tc.err
			}))
			<-h.Done()
			require.Equal(t, tc.want, h.ExitReason())
			require.Equal(t, tc.err, h.Err())
		})
	}
}

// --- fakes ---

func taskList(n int) []scrape.Task {
	out := make([]scrape.Task, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, scrape.Task(fmt.Sprintf("page-%d", i)))
	}
	return out
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

// fakePool builds runners that pop tasks and count them. The runner that
// pops faultTask returns a fault; the one that pops panicTask panics.
type fakePool struct {
	tasks      scrape.TaskQueue
	popTimeout time.Duration
	workDelay  time.Duration
	faultTask  scrape.Task
	panicTask  scrape.Task

	consumed atomic.Int64
}

func newFakePool(tasks scrape.TaskQueue, popTimeout time.Duration) *fakePool {
	return &fakePool{tasks: tasks, popTimeout: popTimeout}
}

func (p *fakePool) factory(string) Runner {
	return runnerFunc(func(ctx context.Context) error {
		for {
			task, err := p.tasks.Pop(ctx, p.popTimeout)
			if errors.Is(err, scrape.ErrQueueEmpty) {
				return nil
			}
			if err != nil {
				return err
			}
			switch task {
			case p.faultTask:
				return &scrape.FaultError{Task: task, Err: errors.New("browser crashed")}
			case p.panicTask:
				panic("session exploded")
			}
			if p.workDelay > 0 {
				time.Sleep(p.workDelay)
			}
			p.consumed.Add(1)
		}
	})
}

type seqIDs struct {
	n atomic.Int64
}

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("worker-%d", s.n.Add(1)), nil
}

// failAfterIDs hands out ok IDs and then fails.
type failAfterIDs struct {
	ok int
	n  int
}

func (f *failAfterIDs) NewID() (string, error) {
	if f.n >= f.ok {
		return "", errors.New("entropy exhausted")
	}
	f.n++
	return fmt.Sprintf("worker-%d", f.n), nil
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("entropy exhausted") }

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

// pageSession lists `items` products per page and faults on faultTask.
type pageSession struct {
	items     int
	faultTask scrape.Task
}

func (s *pageSession) Open(context.Context) (scrape.Session, error) { return s, nil }

func (s *pageSession) List(_ context.Context, task scrape.Task) ([]string, error) {
	if task == s.faultTask {
		return nil, scrape.NewFault(errors.New("target closed"))
	}
	links := make([]string, 0, s.items)
	for i := 0; i < s.items; i++ {
		links = append(links, fmt.Sprintf("https://books.example/%s/item-%d", task, i))
	}
	return links, nil
}

func (s *pageSession) Extract(_ context.Context, address string) (scrape.Record, error) {
	return scrape.Record{URL: address, Fields: map[string]any{"title": address}}, nil
}

func (s *pageSession) Close() error { return nil }
