package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultLockTTL bounds how long a crashed holder can keep a lock.
	DefaultLockTTL = 10 * time.Second
	// DefaultLockPoll is the retry interval while a lock is contended.
	DefaultLockPoll = 50 * time.Millisecond
)

// delScript deletes the lock key only if it still holds the caller's
// token. The check and the delete run as one server-side operation so a
// caller whose lock expired and was reacquired by someone else can
// never remove the new holder's lock.
var delScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// AcquireLock attempts to take the distributed lock at key, polling
// until the wall-clock deadline (now + ttl) or maxRetries attempts are
// exhausted. A maxRetries of zero means unbounded retries within the
// deadline.
//
// On success it returns a fresh random token proving ownership for
// ReleaseLock. An empty return means the lock was not acquired: either
// normal contention or a connectivity failure (logged, pool rebuilt).
func (c *Client) AcquireLock(ctx context.Context, key string, ttl, poll time.Duration, maxRetries int) string {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if poll <= 0 {
		poll = DefaultLockPoll
	}
	if c.traceEnabled {
		var span trace.Span
		ctx, span = tracer.Start(ctx, "Cache.AcquireLock",
			trace.WithAttributes(attribute.String("userhub.lock.key", key)))
		defer span.End()
	}

	token := uuid.NewString()
	deadline := time.Now().Add(ttl)
	retries := 0

	for time.Now().Before(deadline) {
		if maxRetries > 0 && retries >= maxRetries {
			break
		}
		ok, err := c.client().SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			c.fail(ctx, "LOCK", key, err)
			return ""
		}
		if ok {
			return token
		}
		retries++
		select {
		case <-time.After(poll):
		case <-ctx.Done():
			return ""
		}
	}
	c.log.Debug("cache: lock not acquired", zap.String("key", key), zap.Int("retries", retries))
	return ""
}

// ReleaseLock releases the lock at key if token still owns it. It
// returns true iff this call actually removed the lock; an empty or
// mismatched token returns false without touching the store.
func (c *Client) ReleaseLock(ctx context.Context, key, token string) bool {
	if token == "" {
		c.log.Warn("cache: release with empty token", zap.String("key", key))
		return false
	}
	n, err := delScript.Run(ctx, c.client(), []string{key}, token).Int()
	if err != nil {
		c.fail(ctx, "UNLOCK", key, err)
		return false
	}
	return n == 1
}
