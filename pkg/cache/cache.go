// Package cache provides a read-through cache over a persistent store that
// guards against cache penetration (negative caching) and cache breakdown
// (a distributed fill lock, or logical expiry with asynchronous rebuild).
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-cacheguard/pkg/rebuild"
)

var (
	// ErrCacheMiss means there is no cache entry at all and the caller must
	// resolve the record out of band. It is distinct from types.ErrNotFound.
	ErrCacheMiss = errors.New("no cache entry")

	// ErrLockTimeout is returned when the fill lock could not be taken within
	// the configured attempts or wait time.
	ErrLockTimeout = errors.New("timed out waiting for cache fill lock")
)

// Fetcher is the source of truth a cache pulls from on a miss. Fetch must
// return an error wrapping types.ErrNotFound when the record does not exist.
type Fetcher[K comparable, V any] interface {
	Fetch(ctx context.Context, key K) (V, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Fetch calls f.
func (f FetcherFunc[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	return f(ctx, key)
}

// Submitter queues asynchronous rebuild work. *rebuild.Scheduler satisfies it.
type Submitter interface {
	Submit(name string, job rebuild.Job) error
}

// Config holds the key layout and timings of one read-through cache.
type Config struct {
	// Name labels logs and metrics.
	Name              string `yaml:"name"`
	KeyPrefix         string `yaml:"key_prefix"`
	// LogicalKeyPrefix namespaces logical-expiry envelopes apart from records.
	LogicalKeyPrefix  string `yaml:"logical_key_prefix"`
	LockPrefix        string `yaml:"lock_prefix"`
	RebuildLockPrefix string `yaml:"rebuild_lock_prefix"`

	// TTL applies to positive entries, NullTTL to the negative sentinel.
	TTL     time.Duration `yaml:"ttl"`
	NullTTL time.Duration `yaml:"null_ttl"`

	LockTTL       time.Duration `yaml:"lock_ttl"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	MaxWait       time.Duration `yaml:"max_wait"`

	// LogicalTTL is the freshness window written into logical-expiry envelopes.
	LogicalTTL time.Duration `yaml:"logical_ttl"`
}

// DefaultConfig returns the standard timings for a record cache named name.
func DefaultConfig(name string) Config {
	return Config{
		Name:              name,
		KeyPrefix:         "cache:" + name + ":",
		LogicalKeyPrefix:  "cache:" + name + ":hot:",
		LockPrefix:        "lock:" + name + ":",
		RebuildLockPrefix: "lock:" + name + ":rebuild:",
		TTL:               30 * time.Minute,
		NullTTL:           2 * time.Minute,
		LockTTL:           10 * time.Second,
		RetryInterval:     50 * time.Millisecond,
		MaxRetries:        200,
		MaxWait:           10 * time.Second,
		LogicalTTL:        20 * time.Second,
	}
}

// Validate checks the invariants the strategies rely on.
func (c Config) Validate() error {
	switch {
	case c.KeyPrefix == "" || c.LogicalKeyPrefix == "":
		return errors.New("cache key prefixes cannot be empty")
	case c.LogicalKeyPrefix == c.KeyPrefix:
		return errors.New("logical key prefix must differ from the key prefix")
	case c.LockPrefix == "" || c.RebuildLockPrefix == "":
		return errors.New("cache lock prefixes cannot be empty")
	case c.LockPrefix == c.KeyPrefix || c.RebuildLockPrefix == c.KeyPrefix,
		c.LockPrefix == c.LogicalKeyPrefix || c.RebuildLockPrefix == c.LogicalKeyPrefix:
		return errors.New("cache lock prefixes must differ from the key prefix")
	case c.TTL <= 0 || c.NullTTL <= 0:
		return fmt.Errorf("cache ttl (%s) and null ttl (%s) must be positive", c.TTL, c.NullTTL)
	case c.NullTTL >= c.TTL:
		return fmt.Errorf("null ttl (%s) must be shorter than ttl (%s)", c.NullTTL, c.TTL)
	case c.LockTTL <= 0:
		return errors.New("lock ttl must be positive")
	case c.RetryInterval <= 0 || c.MaxRetries <= 0:
		return errors.New("retry interval and max retries must be positive")
	case c.LogicalTTL <= 0:
		return errors.New("logical ttl must be positive")
	}
	return nil
}
