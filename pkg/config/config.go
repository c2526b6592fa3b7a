// Package config loads the host process configuration from a YAML file with
// environment variable overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-cacheguard/pkg/cache"
	"github.com/illmade-knight/go-cacheguard/pkg/geo"
	"github.com/illmade-knight/go-cacheguard/pkg/kvcache"
	"github.com/illmade-knight/go-cacheguard/pkg/microservice"
	"github.com/illmade-knight/go-cacheguard/pkg/rebuild"
	"github.com/illmade-knight/go-cacheguard/pkg/store"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CACHEGUARD_"

// Store backends.
const (
	BackendFirestore = "firestore"
	BackendMemory    = "memory"
)

// GeoConfig controls the geo index.
type GeoConfig struct {
	RadiusMeters float64 `yaml:"radius_meters"`
	// Snapshot, when set, loads locations from a bucket object instead of the
	// shop store.
	Snapshot geo.SnapshotConfig `yaml:"snapshot"`
}

// FollowConfig controls follow event publishing. An empty TopicID disables it.
type FollowConfig struct {
	TopicID string `yaml:"topic_id"`
}

// Config is the complete host process configuration.
type Config struct {
	microservice.BaseConfig `yaml:",inline"`

	StoreBackend     string                `yaml:"store_backend"`
	MetricsNamespace string                `yaml:"metrics_namespace"`
	Redis            kvcache.RedisConfig   `yaml:"redis"`
	Firestore        store.FirestoreConfig `yaml:"firestore"`
	ShopCache        cache.Config          `yaml:"shop_cache"`
	Rebuild          rebuild.Config        `yaml:"rebuild"`
	Breaker          store.BreakerConfig   `yaml:"breaker"`
	Geo              GeoConfig             `yaml:"geo"`
	Follow           FollowConfig          `yaml:"follow"`
	// HotShops are warmed into logical-expiry entries at startup.
	HotShops []int64 `yaml:"hot_shops"`
}

// Default returns a configuration that runs locally against in-memory stores.
func Default() *Config {
	return &Config{
		BaseConfig: microservice.BaseConfig{
			LogLevel:    "info",
			HTTPPort:    ":8080",
			ServiceName: "shopcache",
		},
		StoreBackend:     BackendMemory,
		MetricsNamespace: "cacheguard",
		Redis:            kvcache.RedisConfig{Addr: "localhost:6379"},
		Firestore:        store.DefaultFirestoreConfig(""),
		ShopCache:        cache.DefaultConfig("shop"),
		Rebuild:          rebuild.DefaultConfig(),
		Breaker:          store.DefaultBreakerConfig("shop-store"),
		Geo:              GeoConfig{RadiusMeters: geo.DefaultRadiusMeters},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.ProjectID
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the process cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendMemory:
	case BackendFirestore:
		if c.ProjectID == "" {
			errs = append(errs, errors.New("project_id is required for the firestore backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store_backend %q", c.StoreBackend))
	}
	if c.HTTPPort == "" {
		errs = append(errs, errors.New("http_port is required"))
	}
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	if err := c.ShopCache.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("shop_cache: %w", err))
	}
	if c.Rebuild.Workers <= 0 || c.Rebuild.QueueSize < 0 {
		errs = append(errs, errors.New("rebuild.workers must be positive and rebuild.queue_size non-negative"))
	}
	if (c.Geo.Snapshot.BucketName == "") != (c.Geo.Snapshot.ObjectName == "") {
		errs = append(errs, errors.New("geo.snapshot needs both bucket_name and object_name"))
	}
	if c.Follow.TopicID != "" && c.ProjectID == "" {
		errs = append(errs, errors.New("project_id is required to publish follow events"))
	}
	return errors.Join(errs...)
}

// applyEnv overrides fields from CACHEGUARD_* variables.
func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"LOG_LEVEL":           &c.LogLevel,
		"HTTP_PORT":           &c.HTTPPort,
		"PROJECT_ID":          &c.ProjectID,
		"CREDENTIALS_FILE":    &c.CredentialsFile,
		"STORE_BACKEND":       &c.StoreBackend,
		"REDIS_ADDR":          &c.Redis.Addr,
		"REDIS_PASSWORD":      &c.Redis.Password,
		"FOLLOW_TOPIC_ID":     &c.Follow.TopicID,
		"GEO_SNAPSHOT_BUCKET": &c.Geo.Snapshot.BucketName,
		"GEO_SNAPSHOT_OBJECT": &c.Geo.Snapshot.ObjectName,
	}
	for name, field := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*field = v
		}
	}

	ints := map[string]*int{
		"REDIS_DB":           &c.Redis.DB,
		"REBUILD_WORKERS":    &c.Rebuild.Workers,
		"REBUILD_QUEUE_SIZE": &c.Rebuild.QueueSize,
	}
	for name, field := range ints {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, name, v, err)
			}
			*field = n
		}
	}

	durations := map[string]*time.Duration{
		"SHOP_CACHE_TTL":         &c.ShopCache.TTL,
		"SHOP_CACHE_NULL_TTL":    &c.ShopCache.NullTTL,
		"SHOP_CACHE_LOGICAL_TTL": &c.ShopCache.LogicalTTL,
		"SHOP_CACHE_LOCK_TTL":    &c.ShopCache.LockTTL,
	}
	for name, field := range durations {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, name, v, err)
			}
			*field = d
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "HOT_SHOPS"); ok {
		ids, err := parseIDs(v)
		if err != nil {
			return fmt.Errorf("invalid %sHOT_SHOPS %q: %w", EnvPrefix, v, err)
		}
		c.HotShops = ids
	}
	return nil
}

func parseIDs(v string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
