// Package tasks runs periodic background jobs. Jobs are guarded by a
// distributed lock so only one instance of the fleet executes a given
// job per tick.
package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/userforge/userhub/internal/cache"
)

// Job is a named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner drives a set of jobs until its context is canceled.
type Runner struct {
	cache *cache.Client
	log   *zap.Logger
	jobs  []Job
}

// NewRunner builds a Runner over the given cache client.
func NewRunner(c *cache.Client, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{cache: c, log: log}
}

// Add registers a job. Not safe to call after Start.
func (r *Runner) Add(j Job) {
	r.jobs = append(r.jobs, j)
}

// Start launches one goroutine per job and blocks until ctx is canceled
// or a job returns an error.
func (r *Runner) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range r.jobs {
		g.Go(func() error {
			ticker := time.NewTicker(j.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					r.runOnce(ctx, j)
				}
			}
		})
	}
	return g.Wait()
}

// runOnce executes a single tick under a fleet-wide lock. A tick that
// loses the lock is skipped; job errors are logged, not fatal.
func (r *Runner) runOnce(ctx context.Context, j Job) {
	_, err := cache.WithLock(ctx, r.cache, "tasks", j.Name, j.Interval, cache.LockSkip,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, j.Run(ctx)
		})
	if err != nil {
		r.log.Warn("tasks: job failed", zap.String("job", j.Name), zap.Error(err))
		return
	}
}

// SweepNamespace returns a job that clears every key matching pattern
// on each tick, the janitor for derived caches that cannot be
// invalidated precisely.
func SweepNamespace(c *cache.Client, name, pattern string, interval time.Duration) Job {
	return Job{
		Name:     name,
		Interval: interval,
		Run: func(ctx context.Context) error {
			c.ClearPattern(ctx, pattern, cache.DefaultScanBatch)
			return nil
		},
	}
}
