// Package cache provides the Redis-backed distributed cache and lock
// client used across the service.
//
// Operational errors never escape the public operations: connectivity
// failures are logged, trigger a pool rebuild, and degrade to a safe
// default (absent, false or zero). Only construction can fail.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/userforge/userhub/internal/cache")

// Options configures a Client.
type Options struct {
	// URL is the redis connection URL. Required.
	URL         string
	DialTimeout time.Duration
	ReadTimeout time.Duration
	PoolSize    int
	// MaxRetries caps automatic retries on transient errors; zero keeps
	// the default of 2.
	MaxRetries int

	Logger *zap.Logger
}

// Client is a pooled Redis client layering serialization, TTL caching
// and a distributed lock on top of the store. It is safe for concurrent
// use; the underlying pool is rebuilt transparently when a connectivity
// failure is observed.
type Client struct {
	mu   sync.Mutex
	rdb  *redis.Client
	opts *redis.Options
	log  *zap.Logger

	traceEnabled bool

	hitCounter     prometheus.Counter
	missCounter    prometheus.Counter
	errorCounter   prometheus.Counter
	rebuildCounter prometheus.Counter
}

// Option configures optional Client behavior.
type Option func(*Client)

// WithMetrics enables Prometheus metrics collection using the provided registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.hitCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "userhub_cache_hits_total",
			Help: "Total number of cache hits",
		})
		c.missCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "userhub_cache_misses_total",
			Help: "Total number of cache misses",
		})
		c.errorCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "userhub_cache_errors_total",
			Help: "Total number of cache operation errors",
		})
		c.rebuildCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "userhub_cache_pool_rebuilds_total",
			Help: "Total number of connection pool rebuilds",
		})
		reg.MustRegister(c.hitCounter, c.missCounter, c.errorCounter, c.rebuildCounter)
	}
}

// WithTracing enables OpenTelemetry tracing for cache operations.
func WithTracing() Option {
	return func(c *Client) {
		c.traceEnabled = true
	}
}

// New builds a Client from the given options. A missing or malformed
// URL is a configuration error and propagates; it is the only way this
// package surfaces an error to its caller.
func New(o Options, opts ...Option) (*Client, error) {
	if o.URL == "" {
		return nil, ErrMissingURL
	}
	ro, err := redis.ParseURL(o.URL)
	if err != nil {
		return nil, err
	}
	if o.DialTimeout > 0 {
		ro.DialTimeout = o.DialTimeout
	}
	if o.ReadTimeout > 0 {
		ro.ReadTimeout = o.ReadTimeout
		ro.WriteTimeout = o.ReadTimeout
	}
	if o.PoolSize > 0 {
		ro.PoolSize = o.PoolSize
	}
	ro.MaxRetries = 2
	if o.MaxRetries > 0 {
		ro.MaxRetries = o.MaxRetries
	}

	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}

	c := &Client{
		rdb:  redis.NewClient(ro),
		opts: ro,
		log:  log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewFromClient wraps an existing redis client, mainly for tests.
func NewFromClient(rdb *redis.Client, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{rdb: rdb, opts: rdb.Options(), log: log}
}

func (c *Client) client() *redis.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rdb
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rdb.Close()
}

// Ping reports whether the store is reachable.
func (c *Client) Ping(ctx context.Context) bool {
	return c.client().Ping(ctx).Err() == nil
}

// rebuild replaces the connection pool after a connectivity failure.
// The mutex guarantees concurrent failing callers never build two
// distinct pools; if the current pool answers a ping the rebuild is
// skipped.
func (c *Client) rebuild(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rdb.Ping(ctx).Err() == nil {
		return
	}
	_ = c.rdb.Close()
	c.rdb = redis.NewClient(c.opts)
	if c.rebuildCounter != nil {
		c.rebuildCounter.Inc()
	}
	c.log.Warn("cache: connection pool rebuilt", zap.String("addr", c.opts.Addr))
}

// isConnErr reports whether err is a transient connectivity failure
// rather than a server reply. Server replies implement redis.Error.
func isConnErr(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	var re redis.Error
	return !errors.As(err, &re)
}

// fail applies the degrade policy for a failed operation: log, count,
// and rebuild the pool once when the error looks like a connectivity
// problem.
func (c *Client) fail(ctx context.Context, op, key string, err error) {
	if c.errorCounter != nil {
		c.errorCounter.Inc()
	}
	c.log.Error("cache: operation failed",
		zap.String("op", op), zap.String("key", key), zap.Error(err))
	if isConnErr(err) {
		c.rebuild(ctx)
	}
}

// Get fetches and decodes the value stored at key. The boolean return
// distinguishes "not cached" from a cached empty value. Connectivity
// failures degrade to a miss.
func (c *Client) Get(ctx context.Context, key string) (any, bool) {
	if c.traceEnabled {
		var span trace.Span
		ctx, span = tracer.Start(ctx, "Cache.Get",
			trace.WithAttributes(attribute.String("userhub.cache.key", key)))
		defer span.End()
	}
	data, err := c.client().Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		if c.missCounter != nil {
			c.missCounter.Inc()
		}
		return nil, false
	}
	if err != nil {
		c.fail(ctx, "GET", key, err)
		return nil, false
	}
	v, err := decodeValue(data)
	if err != nil {
		c.log.Error("cache: decode failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if c.hitCounter != nil {
		c.hitCounter.Inc()
	}
	return v, true
}

// GetInto fetches the value stored at key and decodes it into dst,
// which must be a pointer. It reports whether a decodable value was
// found.
func (c *Client) GetInto(ctx context.Context, key string, dst any) bool {
	data, err := c.client().Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		if c.missCounter != nil {
			c.missCounter.Inc()
		}
		return false
	}
	if err != nil {
		c.fail(ctx, "GET", key, err)
		return false
	}
	if err := decodeValueInto(data, dst); err != nil {
		c.log.Error("cache: decode failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if c.hitCounter != nil {
		c.hitCounter.Inc()
	}
	return true
}

type setOptions struct {
	nx, xx bool
}

// SetOption configures conditional-write behavior for Set.
type SetOption func(*setOptions)

// NX makes Set write only if the key does not already exist.
func NX() SetOption { return func(o *setOptions) { o.nx = true } }

// XX makes Set write only if the key already exists.
func XX() SetOption { return func(o *setOptions) { o.xx = true } }

// Set encodes value and stores it at key, with expiry when ttl > 0.
// It returns true iff the store confirmed the write; an unmet NX/XX
// condition returns false without being an error. Combining NX and XX
// is a usage error: it logs and returns false without touching the
// store.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration, opts ...SetOption) bool {
	if c.traceEnabled {
		var span trace.Span
		ctx, span = tracer.Start(ctx, "Cache.Set",
			trace.WithAttributes(attribute.String("userhub.cache.key", key)))
		defer span.End()
	}
	var so setOptions
	for _, opt := range opts {
		opt(&so)
	}
	if so.nx && so.xx {
		c.log.Error("cache: NX and XX are mutually exclusive", zap.String("key", key))
		return false
	}

	data, err := encodeValue(value)
	if err != nil {
		c.log.Error("cache: encode failed", zap.String("key", key), zap.Error(err))
		return false
	}

	switch {
	case so.nx:
		ok, err := c.client().SetNX(ctx, key, data, ttl).Result()
		if err != nil {
			c.fail(ctx, "SETNX", key, err)
			return false
		}
		return ok
	case so.xx:
		ok, err := c.client().SetXX(ctx, key, data, ttl).Result()
		if err != nil {
			c.fail(ctx, "SETXX", key, err)
			return false
		}
		return ok
	default:
		if err := c.client().Set(ctx, key, data, ttl).Err(); err != nil {
			c.fail(ctx, "SET", key, err)
			return false
		}
		return true
	}
}

// Delete removes key and reports whether anything was removed.
func (c *Client) Delete(ctx context.Context, key string) bool {
	n, err := c.client().Del(ctx, key).Result()
	if err != nil {
		c.fail(ctx, "DEL", key, err)
		return false
	}
	return n > 0
}

// Exists reports whether key is present in the store.
func (c *Client) Exists(ctx context.Context, key string) bool {
	n, err := c.client().Exists(ctx, key).Result()
	if err != nil {
		c.fail(ctx, "EXISTS", key, err)
		return false
	}
	return n == 1
}

// Expire sets a TTL on an existing key. Non-positive TTLs are rejected.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	ok, err := c.client().Expire(ctx, key, ttl).Result()
	if err != nil {
		c.fail(ctx, "EXPIRE", key, err)
		return false
	}
	return ok
}
