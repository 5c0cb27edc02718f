package rediscache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/mod-tender/audit"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return New(rdb, "", ttl), mr
}

func TestCacheRoundTrip(t *testing.T) {
	c, mr := newTestCache(t, time.Hour)
	ctx := context.Background()
	key := audit.CacheKey{Scope: "123", Action: audit.ActionBan, Target: "456"}

	if _, ok, err := c.Last(ctx, key); err != nil || ok {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}

	at := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	if err := c.Store(ctx, key, at); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, ok, err := c.Last(ctx, key)
	if err != nil || !ok || !got.Equal(at) {
		t.Errorf("Last = %v ok=%v err=%v, want %v", got, ok, err, at)
	}

	if !mr.Exists("modtender:audit:123:ban:456") {
		t.Errorf("expected key layout, have %v", mr.Keys())
	}
	if ttl := mr.TTL("modtender:audit:123:ban:456"); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}
}

func TestCacheEntriesExpire(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()
	key := audit.CacheKey{Scope: "1", Action: audit.ActionTimeout}

	if err := c.Store(ctx, key, time.Now()); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Minute)

	if _, ok, _ := c.Last(ctx, key); ok {
		t.Error("entry should have expired")
	}
}

func TestCacheDedupWithCorrelator(t *testing.T) {
	c, _ := newTestCache(t, 0)
	now := time.Now()
	record := &audit.Record{Action: audit.ActionBan, Target: "u1", CreatedAt: now.Add(-time.Second)}
	feed := audit.FeedFunc(func(context.Context, string, audit.Action) (*audit.Record, error) { return record, nil })
	corr := audit.NewCorrelator(feed)

	q := audit.Query{Scope: "chan", Actions: []audit.Action{audit.ActionBan}, Target: "u1", Cache: c}
	if res := corr.FindMatching(context.Background(), q); res.Outcome != audit.OutcomeMatch {
		t.Fatalf("first: %s", res.Outcome)
	}
	if res := corr.FindMatching(context.Background(), q); res.Outcome != audit.OutcomeNoMatch {
		t.Errorf("second: %s, want no_match", res.Outcome)
	}
}

func TestCacheUnavailable(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	mr.Close()

	_, _, err := c.Last(context.Background(), audit.CacheKey{Scope: "s"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Last err = %v, want ErrUnavailable", err)
	}
	if err := c.Ping(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Ping err = %v, want ErrUnavailable", err)
	}
}

func TestCacheKeysWithSeparatorsDoNotCollide(t *testing.T) {
	c, mr := newTestCache(t, time.Hour)
	ctx := context.Background()
	first := audit.CacheKey{Scope: "a:b", Action: audit.ActionBan, Target: "c"}
	second := audit.CacheKey{Scope: "a", Action: audit.ActionBan, Target: "b:c"}

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := c.Store(ctx, first, at); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, ok, err := c.Last(ctx, second); err != nil || ok {
		t.Errorf("second key sees first entry: ok=%v err=%v", ok, err)
	}
	if n := len(mr.Keys()); n != 1 {
		t.Errorf("keys = %v, want 1", mr.Keys())
	}
}
