package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu      sync.Mutex
	counts  int
	deletes []time.Time
	err     error
}

func (f *fakeStore) CountBefore(context.Context, time.Time) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts++
	return 3, 1, f.err
}

func (f *fakeStore) DeleteBefore(_ context.Context, before time.Time) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, before)
	return 2, 0, f.err
}

func (f *fakeStore) deleteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deletes)
}

func TestRunOnce(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name         string
		policy       Policy
		wantEntries  int64
		wantDeletes  int
		wantCounts   int
		wantCutoffAt time.Time
	}{
		{"delete", Policy{KeepDays: 30}, 2, 1, 0, now.AddDate(0, 0, -30)},
		{"dry run", Policy{KeepDays: 7, DryRun: true}, 3, 0, 1, now.AddDate(0, 0, -7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			res, err := RunOnce(context.Background(), store, tt.policy, now)
			if err != nil {
				t.Fatal(err)
			}
			if res.Entries != tt.wantEntries || !res.Cutoff.Equal(tt.wantCutoffAt) || res.DryRun != tt.policy.DryRun {
				t.Errorf("result = %+v", res)
			}
			if len(store.deletes) != tt.wantDeletes || store.counts != tt.wantCounts {
				t.Errorf("deletes=%d counts=%d", len(store.deletes), store.counts)
			}
		})
	}
}

func TestRunOnceError(t *testing.T) {
	boom := errors.New("db down")
	if _, err := RunOnce(context.Background(), &fakeStore{err: boom}, Policy{KeepDays: 1}, time.Now()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestStartDisabledReturns(t *testing.T) {
	store := &fakeStore{}
	done := make(chan struct{})
	go func() {
		Start(context.Background(), store, Policy{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start with an empty policy did not return")
	}
	if store.deleteCount() != 0 {
		t.Error("disabled job touched the store")
	}
}

func TestStartRunsUntilCancelled(t *testing.T) {
	store := &fakeStore{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Start(ctx, store, Policy{KeepDays: 1, Interval: 10 * time.Millisecond})
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for store.deleteCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("only %d runs", store.deleteCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not stop after cancel")
	}
}
