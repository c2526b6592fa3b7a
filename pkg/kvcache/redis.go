package kvcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig holds the connection settings for the Redis client.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RedisCache implements KeyValueCache on top of a go-redis client.
type RedisCache struct {
	client     *redis.Client
	ownsClient bool
	logger     zerolog.Logger
}

// NewRedisCache creates and connects a new RedisCache.
// It pings the Redis server to ensure connectivity before returning.
func NewRedisCache(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	c := NewRedisCacheFromClient(rdb, logger)
	c.ownsClient = true
	return c, nil
}

// NewRedisCacheFromClient wraps a client whose lifecycle is managed by the caller.
func NewRedisCacheFromClient(client *redis.Client, logger zerolog.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		logger: logger.With().Str("component", "RedisCache").Logger(),
	}
}

// Get returns the string stored at key, or ErrKeyNotFound.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	value, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("redis get failed for key %s: %w", key, err)
	}
	return value, nil
}

// Set stores value at key with the given ttl.
func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := validTTL(ttl); err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed for key %s: %w", key, err)
	}
	return nil
}

// Delete removes the given keys. Missing keys are ignored.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del failed for keys %v: %w", keys, err)
	}
	return nil
}

// SetNX stores value at key only when the key is absent.
func (c *RedisCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := validTTL(ttl); err != nil {
		return false, err
	}
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed for key %s: %w", key, err)
	}
	return ok, nil
}

// CompareAndDelete deletes key only if it holds expected.
func (c *RedisCache) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, c.client, []string{key}, expected).Int()
	if err != nil {
		return false, fmt.Errorf("redis compare-and-delete failed for key %s: %w", key, err)
	}
	return n == 1, nil
}

// SAdd adds members to the set at key.
func (c *RedisCache) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	if err := c.client.SAdd(ctx, key, toArgs(members)...).Err(); err != nil {
		return fmt.Errorf("redis sadd failed for key %s: %w", key, err)
	}
	return nil
}

// SRem removes members from the set at key.
func (c *RedisCache) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	if err := c.client.SRem(ctx, key, toArgs(members)...).Err(); err != nil {
		return fmt.Errorf("redis srem failed for key %s: %w", key, err)
	}
	return nil
}

// SInter returns the members common to all the given sets.
func (c *RedisCache) SInter(ctx context.Context, keys ...string) ([]string, error) {
	members, err := c.client.SInter(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis sinter failed for keys %v: %w", keys, err)
	}
	return members, nil
}

// SetBit sets the bit at offset in the string at key.
func (c *RedisCache) SetBit(ctx context.Context, key string, offset int64, value int) error {
	if err := c.client.SetBit(ctx, key, offset, value).Err(); err != nil {
		return fmt.Errorf("redis setbit failed for key %s: %w", key, err)
	}
	return nil
}

// BitFieldUnsigned issues BITFIELD key GET u<width> <offset>.
func (c *RedisCache) BitFieldUnsigned(ctx context.Context, key string, width int, offset int64) (uint64, error) {
	if width < 1 || width > 63 {
		return 0, fmt.Errorf("unsigned bitfield width must be between 1 and 63, got %d", width)
	}
	values, err := c.client.BitField(ctx, key, "GET", fmt.Sprintf("u%d", width), offset).Result()
	if err != nil {
		return 0, fmt.Errorf("redis bitfield failed for key %s: %w", key, err)
	}
	if len(values) == 0 {
		return 0, nil
	}
	return uint64(values[0]), nil
}

// GeoAdd adds or updates members of the geo index at key.
func (c *RedisCache) GeoAdd(ctx context.Context, key string, locations ...GeoLocation) error {
	if len(locations) == 0 {
		return nil
	}
	geoLocations := make([]*redis.GeoLocation, 0, len(locations))
	for _, loc := range locations {
		geoLocations = append(geoLocations, &redis.GeoLocation{
			Name:      loc.Name,
			Longitude: loc.Longitude,
			Latitude:  loc.Latitude,
		})
	}
	if err := c.client.GeoAdd(ctx, key, geoLocations...).Err(); err != nil {
		return fmt.Errorf("redis geoadd failed for key %s: %w", key, err)
	}
	return nil
}

// GeoRadius runs GEORADIUS ... m WITHDIST COUNT count ASC.
// Members at equal distance come back in Redis's internal geohash order.
func (c *RedisCache) GeoRadius(ctx context.Context, key string, center Point, radiusMeters float64, count int) ([]GeoHit, error) {
	query := &redis.GeoRadiusQuery{
		Radius:   radiusMeters,
		Unit:     "m",
		WithDist: true,
		Count:    count,
		Sort:     "ASC",
	}
	locations, err := c.client.GeoRadius(ctx, key, center.Longitude, center.Latitude, query).Result()
	if err != nil {
		return nil, fmt.Errorf("redis georadius failed for key %s: %w", key, err)
	}
	hits := make([]GeoHit, 0, len(locations))
	for _, loc := range locations {
		hits = append(hits, GeoHit{Name: loc.Name, Distance: loc.Dist})
	}
	return hits, nil
}

// Ping checks that the server is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client connection if this cache created it.
func (c *RedisCache) Close() error {
	if c.client != nil && c.ownsClient {
		c.logger.Info().Msg("Closing Redis client connection...")
		return c.client.Close()
	}
	return nil
}

func toArgs(members []string) []interface{} {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return args
}
