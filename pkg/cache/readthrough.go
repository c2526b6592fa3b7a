package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-cacheguard/pkg/kvcache"
	"github.com/illmade-knight/go-cacheguard/pkg/lock"
	"github.com/illmade-knight/go-cacheguard/pkg/metrics"
	"github.com/illmade-knight/go-cacheguard/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type entryState int

const (
	entryAbsent entryState = iota
	entryNegative
	entryHit
)

// negativeSentinel is the cached value meaning "confirmed absent from the store".
const negativeSentinel = ""

// Option customises a ReadThroughCache.
type Option func(*options)

type options struct {
	metrics *metrics.Collector
	now     func() time.Time
}

// WithMetrics records lookup, load, contention and rebuild outcomes.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces time.Now for logical-expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// ReadThroughCache serves records of type V keyed by K from the shared cache,
// filling misses from a Fetcher. Each read method implements one fill strategy.
type ReadThroughCache[K comparable, V any] struct {
	cfg       Config
	kv        kvcache.KeyValueCache
	locker    lock.Locker
	source    Fetcher[K, V]
	scheduler Submitter
	metrics   *metrics.Collector
	now       func() time.Time
	group     singleflight.Group
	logger    zerolog.Logger
}

// NewReadThroughCache creates a cache over kv backed by source. scheduler may be
// nil, in which case stale logical-expiry entries are served but never rebuilt.
func NewReadThroughCache[K comparable, V any](
	cfg Config,
	kv kvcache.KeyValueCache,
	locker lock.Locker,
	source Fetcher[K, V],
	scheduler Submitter,
	logger zerolog.Logger,
	opts ...Option,
) (*ReadThroughCache[K, V], error) {
	if kv == nil || locker == nil || source == nil {
		return nil, errors.New("key-value cache, locker and source cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config %q: %w", cfg.Name, err)
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	cacheLogger := logger.With().Str("component", "ReadThroughCache").Str("cache", cfg.Name).Logger()
	if scheduler == nil {
		cacheLogger.Warn().Msg("No rebuild scheduler configured; logically expired entries will not be refreshed.")
	}
	return &ReadThroughCache[K, V]{
		cfg:       cfg,
		kv:        kv,
		locker:    locker,
		source:    source,
		scheduler: scheduler,
		metrics:   o.metrics,
		now:       o.now,
		logger:    cacheLogger,
	}, nil
}

// Key returns the cache key of the plain record for id.
func (c *ReadThroughCache[K, V]) Key(id K) string {
	return c.cfg.KeyPrefix + fmt.Sprintf("%v", id)
}

// LogicalKey returns the cache key of the logical-expiry envelope for id.
func (c *ReadThroughCache[K, V]) LogicalKey(id K) string {
	return c.cfg.LogicalKeyPrefix + fmt.Sprintf("%v", id)
}

// GetOrLoad returns the record for id using the mutex-gated strategy: a cached
// record or cached absence is served directly; on a miss only the holder of the
// fill lock loads from the store while other callers wait and re-read.
//
// Callers in this process share one load. The shared load runs detached from
// any single caller, bounded by MaxWait and LockTTL, and each caller stops
// waiting when its own ctx is done.
func (c *ReadThroughCache[K, V]) GetOrLoad(ctx context.Context, id K) (V, error) {
	var zero V
	key := c.Key(id)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.MaxWait+c.cfg.LockTTL)
		defer cancel()
		return c.getOrLoad(loadCtx, id, key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (c *ReadThroughCache[K, V]) getOrLoad(ctx context.Context, id K, key string) (V, error) {
	var zero V
	lockKey := c.cfg.LockPrefix + fmt.Sprintf("%v", id)
	var deadline time.Time
	if c.cfg.MaxWait > 0 {
		deadline = time.Now().Add(c.cfg.MaxWait)
	}

	for attempt := 0; ; attempt++ {
		value, state, err := c.read(ctx, key)
		if err != nil {
			return zero, err
		}
		if state != entryAbsent {
			return c.served(id, value, state)
		}
		if attempt == 0 {
			c.metrics.CacheLookup(c.cfg.Name, metrics.ResultMiss)
		}

		token, ok, err := c.locker.TryAcquire(ctx, lockKey, c.cfg.LockTTL)
		if err != nil {
			return zero, err
		}
		if ok {
			return c.fillLocked(ctx, id, key, token)
		}

		c.metrics.LockContended(c.cfg.Name)
		if attempt+1 >= c.cfg.MaxRetries || (!deadline.IsZero() && time.Now().Add(c.cfg.RetryInterval).After(deadline)) {
			c.logger.Warn().Str("key", key).Int("attempts", attempt+1).Msg("Gave up waiting for cache fill lock.")
			return zero, fmt.Errorf("%s %v after %d attempts: %w", c.cfg.Name, id, attempt+1, ErrLockTimeout)
		}
		if err := sleep(ctx, c.cfg.RetryInterval); err != nil {
			return zero, err
		}
	}
}

// fillLocked runs the store lookup while holding the fill lock and always
// releases it.
func (c *ReadThroughCache[K, V]) fillLocked(ctx context.Context, id K, key string, token lock.Token) (V, error) {
	defer c.release(ctx, token)

	// Another holder may have filled the entry between our read and our lock.
	value, state, err := c.read(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}
	if state != entryAbsent {
		return c.served(id, value, state)
	}
	return c.load(ctx, id, key)
}

// GetWithPassThrough protects against penetration only: misses go straight to
// the store without a fill lock, and absences are cached with the short TTL.
func (c *ReadThroughCache[K, V]) GetWithPassThrough(ctx context.Context, id K) (V, error) {
	key := c.Key(id)
	value, state, err := c.read(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}
	if state != entryAbsent {
		return c.served(id, value, state)
	}
	c.metrics.CacheLookup(c.cfg.Name, metrics.ResultMiss)
	return c.load(ctx, id, key)
}

// GetWithLogicalExpiry serves entries written by Warm. It never reads the store
// inline: a missing entry is ErrCacheMiss, and an expired entry is returned
// as-is while at most one asynchronous rebuild per id refreshes it.
func (c *ReadThroughCache[K, V]) GetWithLogicalExpiry(ctx context.Context, id K) (V, error) {
	var zero V
	key := c.LogicalKey(id)
	raw, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kvcache.ErrKeyNotFound) {
			c.metrics.CacheLookup(c.cfg.Name, metrics.ResultMiss)
			return zero, fmt.Errorf("%s %v: %w", c.cfg.Name, id, ErrCacheMiss)
		}
		c.logger.Error().Err(err).Str("key", key).Msg("Unexpected cache error during fetch.")
		return zero, fmt.Errorf("cache read for %s: %w", key, err)
	}

	env, err := DecodeEnvelope[V](raw)
	if err != nil {
		c.metrics.CacheLookup(c.cfg.Name, metrics.ResultCorrupt)
		c.logger.Error().Err(err).Str("key", key).Msg("Malformed envelope, scheduling rebuild.")
		c.scheduleRebuild(ctx, id)
		return zero, fmt.Errorf("%s %v: %w", c.cfg.Name, id, ErrCacheMiss)
	}

	if env.Fresh(c.now()) {
		c.metrics.CacheLookup(c.cfg.Name, metrics.ResultHit)
		return env.Data, nil
	}

	c.metrics.CacheLookup(c.cfg.Name, metrics.ResultStale)
	c.scheduleRebuild(ctx, id)
	return env.Data, nil
}

// Warm loads id from the store and writes a fresh logical-expiry envelope.
// If the record no longer exists the envelope is removed.
func (c *ReadThroughCache[K, V]) Warm(ctx context.Context, id K) error {
	key := c.LogicalKey(id)
	record, err := c.source.Fetch(ctx, id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			c.metrics.StoreLoad(c.cfg.Name, metrics.OutcomeNotFound)
			if delErr := c.kv.Delete(ctx, key); delErr != nil {
				return fmt.Errorf("failed to drop envelope for missing %s %v: %w", c.cfg.Name, id, delErr)
			}
			return fmt.Errorf("%s %v: %w", c.cfg.Name, id, types.ErrNotFound)
		}
		c.metrics.StoreLoad(c.cfg.Name, metrics.OutcomeError)
		return storeError(c.cfg.Name, id, err)
	}
	c.metrics.StoreLoad(c.cfg.Name, metrics.OutcomeFound)

	env := Envelope[V]{Data: record, ExpireAt: c.now().Add(c.cfg.LogicalTTL)}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope for %s: %w", key, err)
	}
	if err := c.kv.Set(ctx, key, string(payload), 0); err != nil {
		return fmt.Errorf("failed to write envelope for %s: %w", key, err)
	}
	c.logger.Debug().Str("key", key).Time("expire_at", env.ExpireAt).Msg("Envelope written.")
	return nil
}

// Invalidate removes the cached record and envelope for id so the next read
// refills them.
func (c *ReadThroughCache[K, V]) Invalidate(ctx context.Context, id K) error {
	key := c.Key(id)
	if err := c.kv.Delete(ctx, key, c.LogicalKey(id)); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to invalidate cache entry.")
		return fmt.Errorf("failed to invalidate %s: %w", key, err)
	}
	c.logger.Debug().Str("key", key).Msg("Cache entry invalidated.")
	return nil
}

func (c *ReadThroughCache[K, V]) scheduleRebuild(ctx context.Context, id K) {
	if c.scheduler == nil {
		return
	}
	lockKey := c.cfg.RebuildLockPrefix + fmt.Sprintf("%v", id)
	token, ok, err := c.locker.TryAcquire(ctx, lockKey, c.cfg.LockTTL)
	if err != nil {
		c.logger.Error().Err(err).Str("lock_key", lockKey).Msg("Failed to take rebuild lock.")
		return
	}
	if !ok {
		c.metrics.LockContended(c.cfg.Name)
		c.logger.Debug().Str("lock_key", lockKey).Msg("Rebuild already in flight.")
		return
	}

	job := func(jobCtx context.Context) error {
		defer c.release(jobCtx, token)
		return c.Warm(jobCtx, id)
	}
	if err := c.scheduler.Submit(lockKey, job); err != nil {
		c.logger.Warn().Err(err).Str("lock_key", lockKey).Msg("Rebuild not scheduled, serving stale data.")
		c.release(ctx, token)
	}
}

// read returns the decoded entry at key. A payload that cannot be decoded is
// reported as absent so that it gets overwritten by the next fill.
func (c *ReadThroughCache[K, V]) read(ctx context.Context, key string) (V, entryState, error) {
	var zero V
	raw, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kvcache.ErrKeyNotFound) {
			return zero, entryAbsent, nil
		}
		c.logger.Error().Err(err).Str("key", key).Msg("Unexpected cache error during fetch.")
		return zero, entryAbsent, fmt.Errorf("cache read for %s: %w", key, err)
	}
	if raw == negativeSentinel {
		return zero, entryNegative, nil
	}

	var value V
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		c.metrics.CacheLookup(c.cfg.Name, metrics.ResultCorrupt)
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to unmarshal cached data, treating as miss.")
		return zero, entryAbsent, nil
	}
	return value, entryHit, nil
}

func (c *ReadThroughCache[K, V]) served(id K, value V, state entryState) (V, error) {
	if state == entryNegative {
		c.metrics.CacheLookup(c.cfg.Name, metrics.ResultNegative)
		var zero V
		return zero, fmt.Errorf("%s %v: %w", c.cfg.Name, id, types.ErrNotFound)
	}
	c.metrics.CacheLookup(c.cfg.Name, metrics.ResultHit)
	return value, nil
}

// load fetches id from the store and writes either the record or the negative
// sentinel back to the cache.
func (c *ReadThroughCache[K, V]) load(ctx context.Context, id K, key string) (V, error) {
	var zero V
	record, err := c.source.Fetch(ctx, id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			c.metrics.StoreLoad(c.cfg.Name, metrics.OutcomeNotFound)
			if setErr := c.kv.Set(ctx, key, negativeSentinel, c.cfg.NullTTL); setErr != nil {
				c.logger.Error().Err(setErr).Str("key", key).Msg("Failed to write negative cache entry.")
			}
			return zero, fmt.Errorf("%s %v: %w", c.cfg.Name, id, types.ErrNotFound)
		}
		c.metrics.StoreLoad(c.cfg.Name, metrics.OutcomeError)
		c.logger.Error().Err(err).Str("key", key).Msg("Error fetching from source.")
		return zero, storeError(c.cfg.Name, id, err)
	}
	c.metrics.StoreLoad(c.cfg.Name, metrics.OutcomeFound)

	payload, err := json.Marshal(record)
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to marshal data for caching.")
		return record, nil
	}
	if err := c.kv.Set(ctx, key, string(payload), c.cfg.TTL); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Failed to write record to cache.")
	}
	return record, nil
}

// release frees a lock on a context that survives the caller's cancellation.
func (c *ReadThroughCache[K, V]) release(ctx context.Context, token lock.Token) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), token.TTL)
	defer cancel()
	if _, err := c.locker.Release(releaseCtx, token); err != nil {
		c.logger.Error().Err(err).Str("lock_key", token.Key).Msg("Failed to release lock.")
	}
}

func storeError[K comparable](name string, id K, err error) error {
	if errors.Is(err, types.ErrStoreUnavailable) {
		return fmt.Errorf("load %s %v: %w", name, id, err)
	}
	return fmt.Errorf("load %s %v: %w: %w", name, id, types.ErrStoreUnavailable, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
