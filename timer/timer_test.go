package timer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func newTestTimer(t *testing.T, opts ...Option) (*Timer, *syncBuffer) {
	t.Helper()
	buf := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tm := New("test", append([]Option{WithLogger(logger)}, opts...)...)
	t.Cleanup(func() {
		tm.AbortAll()
		tm.Wait()
	})
	return tm, buf
}

// probe is Work that counts runs and discards.
type probe struct {
	ran       atomic.Int32
	discarded atomic.Int32
	done      chan struct{}
}

func newProbe() *probe { return &probe{done: make(chan struct{}, 1)} }

func (p *probe) Run(ctx context.Context) error {
	p.ran.Add(1)
	p.done <- struct{}{}
	return nil
}

func (p *probe) Discard() { p.discarded.Add(1) }

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func observe(t *testing.T, ch <-chan TaskInfo) TaskInfo {
	t.Helper()
	select {
	case info := <-ch:
		return info
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task to settle")
		return TaskInfo{}
	}
}

func assertNoWarnings(t *testing.T, buf *syncBuffer) {
	t.Helper()
	out := buf.String()
	if strings.Contains(out, "level=WARN") || strings.Contains(out, "level=ERROR") {
		t.Errorf("unexpected warning or error logged:\n%s", out)
	}
}

func TestDelayZeroDoesNotRunInline(t *testing.T) {
	tm, _ := newTestTimer(t)

	release := make(chan struct{})
	finished := make(chan struct{})
	tm.Delay(0, "k", Func(func(ctx context.Context) error {
		<-release
		close(finished)
		return nil
	}))

	// Delay returned while the work is still blocked.
	select {
	case <-finished:
		t.Fatal("work completed before Delay returned")
	default:
	}
	if !tm.Pending("k") {
		t.Error("task should be registered")
	}
	close(release)
	waitFor(t, finished, "work")
	tm.Wait()
	if tm.Pending("k") {
		t.Error("finished task should be removed from the registry")
	}
}

func TestDelayRejectsDuplicateKey(t *testing.T) {
	tm, buf := newTestTimer(t)

	first := newProbe()
	second := newProbe()
	tm.Delay(50*time.Millisecond, "k", first)
	before, ok := tm.Lookup("k")
	if !ok {
		t.Fatal("first task not registered")
	}

	tm.Delay(time.Millisecond, "k", second)

	after, _ := tm.Lookup("k")
	if after.ID != before.ID || !after.FireAt.Equal(before.FireAt) {
		t.Errorf("existing task changed: before %+v after %+v", before, after)
	}
	if got := second.discarded.Load(); got != 1 {
		t.Errorf("rejected work discarded %d times, want 1", got)
	}

	waitFor(t, first.done, "first work")
	tm.Wait()

	if got := second.ran.Load(); got != 0 {
		t.Errorf("rejected work ran %d times", got)
	}
	if got := first.discarded.Load(); got != 0 {
		t.Errorf("started work discarded %d times", got)
	}
	if !strings.Contains(buf.String(), "tried to delay already active task") {
		t.Errorf("conflict not logged:\n%s", buf.String())
	}
}

func TestAbortBeforeFireDiscardsWork(t *testing.T) {
	settled := make(chan TaskInfo, 1)
	tm, buf := newTestTimer(t, WithObserver(func(ti TaskInfo) { settled <- ti }))

	p := newProbe()
	tm.Delay(time.Hour, "k", p)
	tm.Abort("k")

	info := observe(t, settled)
	if info.State != StateCancelled || !info.Discarded {
		t.Errorf("settled as %s discarded=%v, want cancelled and discarded", info.StateName, info.Discarded)
	}
	if p.ran.Load() != 0 {
		t.Error("aborted work ran")
	}
	if got := p.discarded.Load(); got != 1 {
		t.Errorf("Discard called %d times, want 1", got)
	}
	if tm.Pending("k") {
		t.Error("aborted key still registered")
	}
	assertNoWarnings(t, buf)
}

func TestKeyReuseAfterAbort(t *testing.T) {
	tm, _ := newTestTimer(t)

	old := newProbe()
	tm.Delay(time.Hour, "k", old)
	tm.Abort("k")

	fresh := newProbe()
	tm.Delay(0, "k", fresh)
	waitFor(t, fresh.done, "reused key work")
	tm.Wait()

	if fresh.discarded.Load() != 0 {
		t.Error("work scheduled after abort was discarded")
	}
	if old.ran.Load() != 0 {
		t.Error("aborted work ran")
	}
}

func TestAbortRunningTaskIsNotAFailure(t *testing.T) {
	settled := make(chan TaskInfo, 1)
	tm, buf := newTestTimer(t, WithObserver(func(ti TaskInfo) { settled <- ti }))

	started := make(chan struct{})
	discarded := false
	work := &funcDiscarder{
		run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
		discard: func() { discarded = true },
	}
	tm.Delay(0, "k", work)
	waitFor(t, started, "work start")
	tm.Abort("k")

	info := observe(t, settled)
	if info.State != StateCancelled {
		t.Errorf("state = %s, want cancelled", info.StateName)
	}
	if info.Discarded || discarded {
		t.Error("started work must not be discarded")
	}
	assertNoWarnings(t, buf)
}

type funcDiscarder struct {
	run     func(ctx context.Context) error
	discard func()
}

func (f *funcDiscarder) Run(ctx context.Context) error { return f.run(ctx) }
func (f *funcDiscarder) Discard()                      { f.discard() }

func TestAbortUnknownKeyWarns(t *testing.T) {
	tm, buf := newTestTimer(t)

	tm.Abort("missing")

	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, ErrNotFound.Error()) {
		t.Errorf("expected not-found warning, got:\n%s", out)
	}
}

func TestAbortAll(t *testing.T) {
	tm, _ := newTestTimer(t)

	probes := []*probe{newProbe(), newProbe(), newProbe()}
	for i, p := range probes {
		tm.Delay(time.Hour, string(rune('a'+i)), p)
	}
	if tm.Len() != 3 {
		t.Fatalf("Len = %d, want 3", tm.Len())
	}

	tm.AbortAll()
	tm.Wait()

	if tm.Len() != 0 {
		t.Errorf("Len after AbortAll = %d", tm.Len())
	}
	for i, p := range probes {
		if p.ran.Load() != 0 || p.discarded.Load() != 1 {
			t.Errorf("probe %d ran=%d discarded=%d", i, p.ran.Load(), p.discarded.Load())
		}
	}
}

func TestAbortAllRunningTasksSettleQuietly(t *testing.T) {
	tm, buf := newTestTimer(t)

	const n = 50
	var started sync.WaitGroup
	started.Add(n)
	for i := range n {
		tm.Delay(0, string(rune('A'+i)), Func(func(ctx context.Context) error {
			started.Done()
			<-ctx.Done()
			return ctx.Err()
		}))
	}
	started.Wait()

	tm.AbortAll()
	tm.Wait()

	if tm.Len() != 0 {
		t.Errorf("Len after AbortAll = %d", tm.Len())
	}
	if strings.Contains(buf.String(), "removed without cancelling") {
		t.Errorf("swept tasks reported as lost:\n%s", buf.String())
	}
}

func TestFailingWorkIsIsolated(t *testing.T) {
	tests := []struct {
		name string
		work Work
		want string
	}{
		{"error", Func(func(context.Context) error { return errors.New("boom") }), "boom"},
		{"panic", Func(func(context.Context) error { panic("kaboom") }), "kaboom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settled := make(chan TaskInfo, 2)
			tm, buf := newTestTimer(t, WithObserver(func(ti TaskInfo) { settled <- ti }))

			healthy := newProbe()
			tm.Delay(0, "bad", tt.work)
			tm.Delay(0, "good", healthy)
			waitFor(t, healthy.done, "healthy work")
			tm.Wait()

			var failed TaskInfo
			for range 2 {
				if ti := observe(t, settled); ti.Key == "bad" {
					failed = ti
				}
			}
			if failed.State != StateFailed || failed.Err == nil || !strings.Contains(failed.Err.Error(), tt.want) {
				t.Errorf("bad task settled as %s err=%v", failed.StateName, failed.Err)
			}
			if !strings.Contains(buf.String(), "exception occurred while executing delayed task") {
				t.Errorf("failure not logged:\n%s", buf.String())
			}
		})
	}
}

func TestRunAtPastRunsImmediately(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tm, _ := newTestTimer(t, WithClock(func() time.Time { return now }))

	p := newProbe()
	tm.RunAt(now.Add(-time.Minute), "past", p)
	waitFor(t, p.done, "past work")
}

func TestTasksSortedByFireTime(t *testing.T) {
	tm, _ := newTestTimer(t)

	tm.Delay(3*time.Hour, "c", newProbe())
	tm.Delay(time.Hour, "a", newProbe())
	tm.Delay(2*time.Hour, "b", newProbe())

	tasks := tm.Tasks()
	if len(tasks) != 3 {
		t.Fatalf("got %d tasks", len(tasks))
	}
	for i, want := range []string{"a", "b", "c"} {
		if tasks[i].Key != want || tasks[i].Namespace != "test" || tasks[i].StateName != "pending" {
			t.Errorf("tasks[%d] = %+v, want key %q pending", i, tasks[i], want)
		}
	}
}

func TestStaleCompletionKeepsNewerTask(t *testing.T) {
	settled := make(chan TaskInfo, 2)
	tm, buf := newTestTimer(t, WithObserver(func(ti TaskInfo) { settled <- ti }))

	started := make(chan struct{})
	release := make(chan struct{})
	tm.Delay(0, "k", Func(func(ctx context.Context) error {
		close(started)
		<-release // ignores cancellation
		return nil
	}))
	waitFor(t, started, "first work")

	tm.Abort("k")
	tm.Delay(time.Hour, "k", newProbe())
	close(release)

	info := observe(t, settled)
	if info.State != StateCompleted {
		t.Errorf("first task state = %s, want completed", info.StateName)
	}
	if !tm.Pending("k") {
		t.Error("newer task under the same key was removed")
	}
	if !strings.Contains(buf.String(), "stored task doesn't match the finished task") {
		t.Errorf("expected debug log for superseded task:\n%s", buf.String())
	}
}

// A lock scheduled for 30 units and aborted at 10 must never run, and must not
// leave orphan warnings behind.
func TestScheduledUnlockAbortedEarly(t *testing.T) {
	tm, buf := newTestTimer(t)

	unlock := newProbe()
	tm.Delay(300*time.Millisecond, "chan:1", unlock)

	time.Sleep(100 * time.Millisecond)
	tm.Abort("chan:1")

	time.Sleep(300 * time.Millisecond)
	tm.Wait()

	if unlock.ran.Load() != 0 {
		t.Error("unlock ran after abort")
	}
	if unlock.discarded.Load() != 1 {
		t.Errorf("unlock discarded %d times, want 1", unlock.discarded.Load())
	}
	assertNoWarnings(t, buf)
}
