package geo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/illmade-knight/go-cacheguard/pkg/kvcache"
	"github.com/illmade-knight/go-cacheguard/pkg/types"
	"github.com/rs/zerolog"
)

// LocationSource yields every location to index.
type LocationSource interface {
	Locations(ctx context.Context) ([]types.Location, error)
}

// Loader bulk-populates the per-category geo indexes. The indexes are rebuilt
// by reloading; individual records are never invalidated.
type Loader struct {
	kv     kvcache.KeyValueCache
	source LocationSource
	logger zerolog.Logger
}

// NewLoader creates a Loader.
func NewLoader(kv kvcache.KeyValueCache, source LocationSource, logger zerolog.Logger) (*Loader, error) {
	if kv == nil || source == nil {
		return nil, errors.New("key-value cache and location source cannot be nil")
	}
	return &Loader{
		kv:     kv,
		source: source,
		logger: logger.With().Str("component", "GeoLoader").Logger(),
	}, nil
}

// Load reads all locations and adds them to their category's index. It returns
// the number of locations indexed.
func (l *Loader) Load(ctx context.Context) (int, error) {
	locations, err := l.source.Locations(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read locations: %w", err)
	}

	byCategory := make(map[int64][]kvcache.GeoLocation)
	for _, loc := range locations {
		byCategory[loc.Category] = append(byCategory[loc.Category], kvcache.GeoLocation{
			Name:  strconv.FormatInt(loc.ID, 10),
			Point: kvcache.Point{Longitude: loc.Longitude, Latitude: loc.Latitude},
		})
	}

	categories := make([]int64, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	total := 0
	for _, category := range categories {
		members := byCategory[category]
		if err := l.kv.GeoAdd(ctx, Key(category), members...); err != nil {
			return total, fmt.Errorf("failed to index category %d: %w", category, err)
		}
		total += len(members)
		l.logger.Info().Int64("category", category).Int("count", len(members)).Msg("Geo index loaded.")
	}
	return total, nil
}
