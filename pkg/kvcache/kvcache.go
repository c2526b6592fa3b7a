// Package kvcache defines the key-value capability surface every cache pattern in
// this module is built on, with a Redis implementation for production and an
// in-memory implementation for local development and tests.
package kvcache

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrKeyNotFound is returned by Get when the key does not exist.
var ErrKeyNotFound = errors.New("key not found")

// Point is a longitude/latitude pair in degrees.
type Point struct {
	Longitude float64
	Latitude  float64
}

// GeoLocation is a named member of a geo index.
type GeoLocation struct {
	Name string
	Point
}

// GeoHit is one result of a radius search. Distance is in meters.
type GeoHit struct {
	Name     string
	Distance float64
}

// KeyValueCache is the set of primitives required from the shared cache.
// A ttl of zero means the key never expires.
type KeyValueCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndDelete deletes key only if it currently holds expected.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SInter(ctx context.Context, keys ...string) ([]string, error)

	SetBit(ctx context.Context, key string, offset int64, value int) error
	// BitFieldUnsigned reads width bits starting at offset as an unsigned
	// integer; the bit at offset is the most significant. Missing bits read as 0.
	BitFieldUnsigned(ctx context.Context, key string, width int, offset int64) (uint64, error)

	GeoAdd(ctx context.Context, key string, locations ...GeoLocation) error
	// GeoRadius returns at most count members within radiusMeters of center,
	// nearest first.
	GeoRadius(ctx context.Context, key string, center Point, radiusMeters float64, count int) ([]GeoHit, error)

	io.Closer
}

func validTTL(ttl time.Duration) error {
	if ttl < 0 {
		return errors.New("ttl cannot be negative")
	}
	return nil
}
