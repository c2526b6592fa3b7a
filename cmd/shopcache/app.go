package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-cacheguard/pkg/cache"
	"github.com/illmade-knight/go-cacheguard/pkg/config"
	"github.com/illmade-knight/go-cacheguard/pkg/follow"
	"github.com/illmade-knight/go-cacheguard/pkg/geo"
	"github.com/illmade-knight/go-cacheguard/pkg/kvcache"
	"github.com/illmade-knight/go-cacheguard/pkg/lock"
	"github.com/illmade-knight/go-cacheguard/pkg/metrics"
	"github.com/illmade-knight/go-cacheguard/pkg/microservice"
	"github.com/illmade-knight/go-cacheguard/pkg/rebuild"
	"github.com/illmade-knight/go-cacheguard/pkg/shop"
	"github.com/illmade-knight/go-cacheguard/pkg/store"
	"github.com/illmade-knight/go-cacheguard/pkg/streak"
	"github.com/illmade-knight/go-cacheguard/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// shopStore is what the process needs from a shop store backend.
type shopStore interface {
	cache.Fetcher[int64, types.Shop]
	geo.RecordLister[types.Shop]
	geo.LocationSource
	shop.Updater
}

// app owns every long-lived component of the process.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	kv        *kvcache.RedisCache
	metrics   *metrics.Collector
	scheduler *rebuild.Scheduler
	server    *microservice.BaseServer
	geoLoader *geo.Loader

	Shops   *shop.Service
	Follows *follow.Service
	Streaks *streak.Counter

	// closers run in reverse order on shutdown.
	closers   []func(ctx context.Context) error
	publisher *follow.GooglePublisher
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	kv, err := kvcache.NewRedisCache(ctx, &cfg.Redis, logger)
	if err != nil {
		return nil, err
	}
	a.kv = kv
	a.onShutdown(func(context.Context) error { return kv.Close() })

	a.metrics = metrics.NewCollector(cfg.MetricsNamespace)
	a.scheduler = rebuild.NewScheduler(cfg.Rebuild, a.metrics, logger)

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	shops, shopTypes, edges, users, err := a.newStores(ctx, clientOpts)
	if err != nil {
		a.shutdown(ctx)
		return nil, err
	}

	records, err := cache.NewReadThroughCache[int64, types.Shop](
		cfg.ShopCache,
		kv,
		lock.NewDistributedLock(kv, logger),
		store.NewBreakerFetcher[int64, types.Shop](shops, cfg.Breaker, logger),
		a.scheduler,
		logger,
		cache.WithMetrics(a.metrics),
	)
	if err != nil {
		a.shutdown(ctx)
		return nil, err
	}

	var locations geo.LocationSource = shops
	if cfg.Geo.Snapshot.BucketName != "" {
		gcs, err := storage.NewClient(ctx, clientOpts...)
		if err != nil {
			a.shutdown(ctx)
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		a.onShutdown(func(context.Context) error { return gcs.Close() })
		locations, err = geo.NewGCSSnapshotSource(geo.NewGCSClientAdapter(gcs), cfg.Geo.Snapshot, logger)
		if err != nil {
			a.shutdown(ctx)
			return nil, err
		}
	}
	a.geoLoader, err = geo.NewLoader(kv, locations, logger)
	if err != nil {
		a.shutdown(ctx)
		return nil, err
	}

	a.Shops, err = shop.NewService(records, geo.NewPaginator[types.Shop](kv, shops, cfg.Geo.RadiusMeters, logger), shops, shopTypes, kv, logger)
	if err != nil {
		a.shutdown(ctx)
		return nil, err
	}

	var followOpts []follow.Option
	if cfg.Follow.TopicID != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOpts...)
		if err != nil {
			a.shutdown(ctx)
			return nil, fmt.Errorf("failed to create pubsub client: %w", err)
		}
		a.onShutdown(func(context.Context) error { return psClient.Close() })
		a.publisher, err = follow.NewGooglePublisher(ctx, psClient, cfg.Follow.TopicID, logger)
		if err != nil {
			a.shutdown(ctx)
			return nil, err
		}
		a.onShutdown(a.publisher.Stop)
		followOpts = append(followOpts, follow.WithPublisher(a.publisher))
	}
	a.Follows, err = follow.NewService(kv, edges, users, logger, followOpts...)
	if err != nil {
		a.shutdown(ctx)
		return nil, err
	}
	a.Streaks = streak.NewCounter(kv, logger)

	a.server = microservice.NewBaseServer(logger, cfg.HTTPPort)
	a.server.AddHealthCheck("redis", kv.Ping)
	a.server.HandleMetrics(a.metrics.Handler())
	a.server.Mux().HandleFunc("POST /admin/geo/reload", a.handleGeoReload)
	a.server.Mux().HandleFunc("POST /admin/shops/warm", a.handleWarm)
	return a, nil
}

func (a *app) newStores(ctx context.Context, opts []option.ClientOption) (shopStore, shop.TypeLister, follow.EdgeStore, follow.ProfileLister, error) {
	if a.cfg.StoreBackend == config.BackendMemory {
		a.logger.Warn().Msg("Using in-memory stores; data is lost on exit.")
		return store.NewInMemoryShopStore(), store.NewInMemoryShopTypeStore(), store.NewInMemoryFollowStore(), store.NewInMemoryUserStore(), nil
	}

	client, err := firestore.NewClient(ctx, a.cfg.Firestore.ProjectID, opts...)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	a.onShutdown(func(context.Context) error { return client.Close() })

	shops, err := store.NewShopStore(a.cfg.Firestore, client, a.logger)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	shopTypes, err := store.NewShopTypeStore(a.cfg.Firestore, client)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	edges, err := store.NewFollowStore(a.cfg.Firestore, client)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	users, err := store.NewUserStore(a.cfg.Firestore, client)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return shops, shopTypes, edges, users, nil
}

// start launches the workers, loads the geo index, warms hot shops and opens
// the HTTP server.
func (a *app) start(ctx context.Context) error {
	// Rebuilds drain on shutdown rather than being cut off by the signal.
	if err := a.scheduler.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	a.onShutdown(a.scheduler.Stop)

	if _, err := a.geoLoader.Load(ctx); err != nil {
		return fmt.Errorf("geo index load failed: %w", err)
	}
	if _, err := a.Shops.WarmHot(ctx, a.cfg.HotShops); err != nil {
		return fmt.Errorf("hot shop warm-up failed: %w", err)
	}

	if err := a.server.Start(); err != nil {
		return err
	}
	a.onShutdown(a.server.Shutdown)
	return nil
}

func (a *app) onShutdown(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

// shutdown stops components in reverse start order.
func (a *app) shutdown(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && !errors.Is(err, rebuild.ErrSchedulerStopped) {
			a.logger.Error().Err(err).Msg("Error during shutdown.")
		}
	}
	a.closers = nil
}

func (a *app) handleGeoReload(w http.ResponseWriter, r *http.Request) {
	n, err := a.geoLoader.Load(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("Geo reload failed.")
		http.Error(w, "geo reload failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int{"indexed": n})
}

func (a *app) handleWarm(w http.ResponseWriter, r *http.Request) {
	n, err := a.Shops.WarmHot(r.Context(), a.cfg.HotShops)
	if err != nil {
		a.logger.Error().Err(err).Msg("Hot shop warm-up failed.")
		http.Error(w, "warm-up failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int{"warmed": n})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
