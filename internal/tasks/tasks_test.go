package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/userforge/userhub/internal/cache"
)

func newTestCache(t *testing.T) *cache.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	c, err := cache.New(cache.Options{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close()
		mr.Close()
	})
	return c
}

func TestRunnerExecutesJobs(t *testing.T) {
	c := newTestCache(t)
	r := NewRunner(c, nil)

	var ticks int64
	r.Add(Job{
		Name:     "counter",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			atomic.AddInt64(&ticks, 1)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if atomic.LoadInt64(&ticks) == 0 {
		t.Fatal("job never ran")
	}
}

func TestRunnerStopsOnCancel(t *testing.T) {
	c := newTestCache(t)
	r := NewRunner(c, nil)
	r.Add(Job{Name: "noop", Interval: time.Hour, Run: func(context.Context) error { return nil }})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("runner did not stop on cancel")
	}
}

func TestSweepNamespace(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	for _, k := range []string{"session:a", "session:b", "user:id:1"} {
		if !c.Set(ctx, k, "v", 0) {
			t.Fatalf("seed %s failed", k)
		}
	}

	j := SweepNamespace(c, "session-sweep", "session:*", time.Minute)
	if err := j.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.Exists(ctx, "session:a") || c.Exists(ctx, "session:b") {
		t.Fatal("sweep left matching keys behind")
	}
	if !c.Exists(ctx, "user:id:1") {
		t.Fatal("sweep removed an unrelated key")
	}
}
