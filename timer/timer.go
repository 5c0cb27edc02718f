package timer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/mod-tender/telemetry"
)

// Option configures a Timer.
type Option func(*Timer)

// WithLogger sets the logger used for task lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(t *Timer) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithClock overrides time.Now, used by RunAt.
func WithClock(now func() time.Time) Option {
	return func(t *Timer) {
		if now != nil {
			t.now = now
		}
	}
}

// WithObserver registers a callback invoked once per task after it settles,
// with the task's final snapshot. The callback runs on the task's goroutine.
func WithObserver(fn func(TaskInfo)) Option {
	return func(t *Timer) { t.observer = fn }
}

// Timer owns one namespace of delayed tasks.
type Timer struct {
	id       string
	logger   *slog.Logger
	now      func() time.Time
	observer func(TaskInfo)

	mu    sync.Mutex
	tasks map[string]*task

	wg sync.WaitGroup
}

// New creates a Timer for the namespace id.
func New(id string, opts ...Option) *Timer {
	t := &Timer{
		id:     id,
		logger: slog.Default(),
		now:    time.Now,
		tasks:  make(map[string]*task),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(slog.String("component", "timer"), slog.String("timer", id))
	return t
}

// ID returns the namespace name.
func (t *Timer) ID() string { return t.id }

// Delay runs work after d under key. A non-positive d still runs work on its
// own goroutine, never inline. If key is already registered the new work is
// discarded without starting and the existing task is left untouched.
func (t *Timer) Delay(d time.Duration, key string, work Work) {
	now := t.now()

	t.mu.Lock()
	if existing, ok := t.tasks[key]; ok {
		t.mu.Unlock()
		discard(work)
		telemetry.TimerEvent(t.id, "rejected")
		t.logger.Warn("tried to delay already active task, ignoring",
			slog.String("task", key),
			slog.String("active_task_id", existing.id),
			slog.Any("err", ErrConflict))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	tk := &task{
		id:        uuid.NewString(),
		key:       key,
		work:      work,
		createdAt: now,
		fireAt:    now.Add(max(d, 0)),
		cancel:    cancel,
		state:     StatePending,
	}
	t.tasks[key] = tk
	pending := len(t.tasks)
	t.wg.Add(1)
	t.mu.Unlock()

	telemetry.TimerEvent(t.id, "scheduled")
	telemetry.SetTimerPending(t.id, pending)
	t.logger.Debug("task will run delayed",
		slog.String("task", key),
		slog.String("task_id", tk.id),
		slog.Duration("delay", d))

	go t.run(ctx, tk, d)
}

// RunAt runs work at the given time. Times in the past run immediately.
func (t *Timer) RunAt(at time.Time, key string, work Work) {
	t.Delay(at.Sub(t.now()), key, work)
}

// Abort cancels the task registered under key and frees the key. An unknown
// key is logged and otherwise ignored.
func (t *Timer) Abort(key string) {
	t.mu.Lock()
	tk, ok := t.tasks[key]
	if ok {
		delete(t.tasks, key)
		tk.aborted = true
		tk.cancel()
	}
	pending := len(t.tasks)
	t.mu.Unlock()

	if !ok {
		t.logger.Warn("unable to abort task", slog.String("task", key), slog.Any("err", ErrNotFound))
		return
	}
	telemetry.TimerEvent(t.id, "aborted")
	telemetry.SetTimerPending(t.id, pending)
	t.logger.Debug("task was aborted", slog.String("task", key), slog.String("task_id", tk.id))
}

// AbortAll cancels every task registered at the moment of the call. Tasks
// registered concurrently with the sweep may survive it.
func (t *Timer) AbortAll() {
	t.logger.Debug("aborting all delayed tasks")

	t.mu.Lock()
	n := len(t.tasks)
	for key, tk := range t.tasks {
		delete(t.tasks, key)
		tk.aborted = true
		tk.cancel()
	}
	t.mu.Unlock()

	for range n {
		telemetry.TimerEvent(t.id, "aborted")
	}
	telemetry.SetTimerPending(t.id, t.Len())
}

// Pending reports whether a task is registered under key.
func (t *Timer) Pending(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tasks[key]
	return ok
}

// Lookup returns a snapshot of the task registered under key.
func (t *Timer) Lookup(key string) (TaskInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk, ok := t.tasks[key]
	if !ok {
		return TaskInfo{}, false
	}
	return tk.info(t.id), true
}

// Tasks returns snapshots of all registered tasks ordered by fire time.
func (t *Timer) Tasks() []TaskInfo {
	t.mu.Lock()
	out := make([]TaskInfo, 0, len(t.tasks))
	for _, tk := range t.tasks {
		out = append(out, tk.info(t.id))
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out
}

// Len returns the number of registered tasks.
func (t *Timer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}

// Wait blocks until every task goroutine started by this Timer has settled.
func (t *Timer) Wait() { t.wg.Wait() }

func (t *Timer) run(ctx context.Context, tk *task, d time.Duration) {
	defer t.wg.Done()
	defer tk.cancel()

	if !t.postpone(ctx, tk, d) {
		t.executed(tk)
		return
	}

	spanCtx, span := telemetry.StartSpan(ctx, "timer", "timer.run",
		attribute.String("timer.namespace", t.id),
		attribute.String("timer.key", tk.key))
	err := t.execute(spanCtx, tk)
	telemetry.RecordError(span, err)
	span.End()

	t.mu.Lock()
	switch {
	case err == nil:
		tk.state = StateCompleted
	case tk.aborted && errors.Is(err, context.Canceled):
		tk.state = StateCancelled
	default:
		tk.state = StateFailed
		tk.err = err
	}
	t.mu.Unlock()

	t.executed(tk)
}

// postpone sleeps for d and then moves the task to Running. It returns false,
// after discarding the work, when the task was cancelled before work started.
// The cancellation check and the Running transition happen under the same
// lock Abort takes, so a task is either aborted before it starts or sees the
// cancellation through its context.
func (t *Timer) postpone(ctx context.Context, tk *task, d time.Duration) bool {
	if d > 0 {
		sleep := time.NewTimer(d)
		select {
		case <-ctx.Done():
		case <-sleep.C:
		}
		sleep.Stop()
	}

	t.mu.Lock()
	if ctx.Err() != nil {
		tk.state = StateCancelled
		tk.discarded = true
		t.mu.Unlock()
		discard(tk.work)
		t.logger.Debug("aborting the work of a task that never started",
			slog.String("task", tk.key),
			slog.String("task_id", tk.id))
		return false
	}
	tk.state = StateRunning
	t.mu.Unlock()
	return true
}

func (t *Timer) execute(ctx context.Context, tk *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in delayed task: %v\n%s", r, debug.Stack())
		}
	}()
	return tk.work.Run(ctx)
}

// executed removes a settled task from the registry, unless the key has been
// taken over by a newer task, and logs failures.
func (t *Timer) executed(tk *task) {
	t.mu.Lock()
	stored, ok := t.tasks[tk.key]
	switch {
	case ok && stored == tk:
		delete(t.tasks, tk.key)
	case ok:
		t.logger.Debug("stored task doesn't match the finished task",
			slog.String("task", tk.key),
			slog.String("stored_task_id", stored.id),
			slog.String("finished_task_id", tk.id))
	case !tk.aborted:
		t.logger.Warn("task wasn't found, it seems to have been removed without cancelling it",
			slog.String("task", tk.key),
			slog.String("task_id", tk.id))
	}
	info := tk.info(t.id)
	pending := len(t.tasks)
	t.mu.Unlock()

	telemetry.SetTimerPending(t.id, pending)
	telemetry.TimerSettle(t.id, info.State.String())

	if info.State == StateFailed {
		t.logger.Error("exception occurred while executing delayed task",
			slog.String("task", tk.key),
			slog.String("task_id", tk.id),
			slog.Time("fire_at", tk.fireAt),
			slog.Any("err", info.Err))
	}
	if t.observer != nil {
		t.observer(info)
	}
}
