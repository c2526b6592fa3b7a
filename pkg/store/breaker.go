package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-cacheguard/pkg/cache"
	"github.com/illmade-knight/go-cacheguard/pkg/types"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the circuit breaker in front of a store.
type BreakerConfig struct {
	Name             string        `yaml:"name"`
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold float64       `yaml:"failure_threshold"`
	MinRequests      uint32        `yaml:"min_requests"`
}

// DefaultBreakerConfig returns the standard breaker settings for name.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// BreakerFetcher guards a cache.Fetcher with a circuit breaker. While the
// circuit is open, Fetch fails fast with types.ErrStoreUnavailable. A record
// that does not exist is a successful lookup and never trips the breaker.
type BreakerFetcher[K comparable, V any] struct {
	next cache.Fetcher[K, V]
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerFetcher wraps next.
func NewBreakerFetcher[K comparable, V any](next cache.Fetcher[K, V], cfg BreakerConfig, logger zerolog.Logger) *BreakerFetcher[K, V] {
	log := logger.With().Str("component", "BreakerFetcher").Str("breaker", cfg.Name).Logger()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed.")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, types.ErrNotFound) || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerFetcher[K, V]{next: next, cb: cb}
}

// Fetch calls the wrapped fetcher through the breaker.
func (b *BreakerFetcher[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Fetch(ctx, key)
	})
	if err != nil {
		var zero V
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%s: %w: %w", b.cb.Name(), types.ErrStoreUnavailable, err)
		}
		return zero, err
	}
	return result.(V), nil
}

// State reports the breaker state.
func (b *BreakerFetcher[K, V]) State() gobreaker.State {
	return b.cb.State()
}
