// Package lock provides a best-effort distributed mutex built on the shared
// key-value cache. Exclusivity is proven only by the presence of the lock key;
// its TTL bounds how long a crashed holder can block others.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-cacheguard/pkg/kvcache"
	"github.com/rs/zerolog"
)

// Token identifies one successful acquisition. Only the holder of the token can
// release the lock before its TTL runs out.
type Token struct {
	Key   string
	Owner string
	TTL   time.Duration
}

// Locker is the contract the cache strategies depend on.
type Locker interface {
	// TryAcquire never blocks on contention: ok is false when someone else holds key.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (token Token, ok bool, err error)
	// Release deletes the lock only if token still owns it.
	Release(ctx context.Context, token Token) (bool, error)
}

// DistributedLock implements Locker with SETNX and compare-and-delete.
type DistributedLock struct {
	kv       kvcache.KeyValueCache
	newOwner func() string
	logger   zerolog.Logger
}

// NewDistributedLock creates a lock manager over kv.
func NewDistributedLock(kv kvcache.KeyValueCache, logger zerolog.Logger) *DistributedLock {
	return &DistributedLock{
		kv:       kv,
		newOwner: uuid.NewString,
		logger:   logger.With().Str("component", "DistributedLock").Logger(),
	}
}

// TryAcquire attempts to take key for ttl with a fresh owner token.
func (l *DistributedLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Token, bool, error) {
	if ttl <= 0 {
		return Token{}, false, fmt.Errorf("lock ttl must be positive, got %s", ttl)
	}
	token := Token{Key: key, Owner: l.newOwner(), TTL: ttl}
	ok, err := l.kv.SetNX(ctx, key, token.Owner, ttl)
	if err != nil {
		return Token{}, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		l.logger.Debug().Str("lock_key", key).Msg("Lock is held by another owner.")
		return Token{}, false, nil
	}
	l.logger.Debug().Str("lock_key", key).Str("owner", token.Owner).Msg("Lock acquired.")
	return token, true, nil
}

// Release frees the lock if token still owns it. A false result means the lock
// had already expired or been taken over, which is logged but not an error.
func (l *DistributedLock) Release(ctx context.Context, token Token) (bool, error) {
	released, err := l.kv.CompareAndDelete(ctx, token.Key, token.Owner)
	if err != nil {
		return false, fmt.Errorf("failed to release lock %s: %w", token.Key, err)
	}
	if !released {
		l.logger.Warn().Str("lock_key", token.Key).Str("owner", token.Owner).Msg("Lock was no longer owned at release; TTL may have expired.")
	}
	return released, nil
}
