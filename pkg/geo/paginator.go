// Package geo pages through records of one category ordered by distance from a
// point, using the shared cache's geo index for ordering and the persistent
// store for the records themselves.
package geo

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/illmade-knight/go-cacheguard/pkg/kvcache"
	"github.com/rs/zerolog"
)

const (
	// KeyPrefix prefixes the geo index of each category.
	KeyPrefix = "shop:geo:"
	// DefaultRadiusMeters bounds every radius search.
	DefaultRadiusMeters = 5000.0
)

// ErrInvalidPage is returned for a non-positive page size.
var ErrInvalidPage = errors.New("page size must be positive")

// RecordLister resolves records from the persistent store.
type RecordLister[V any] interface {
	// ListByIDs returns the records that exist among ids, keyed by id. Order is
	// not significant.
	ListByIDs(ctx context.Context, ids []int64) (map[int64]V, error)
	// ListByCategory returns up to limit records of category starting at offset,
	// in the store's own order.
	ListByCategory(ctx context.Context, category int64, offset, limit int) ([]V, error)
}

// Result is one record of a page. Distance is in meters and is zero when the
// page was not computed from a center.
type Result[V any] struct {
	Record   V       `json:"record"`
	Distance float64 `json:"distance,omitempty"`
}

// Key returns the geo index key for category.
func Key(category int64) string {
	return KeyPrefix + strconv.FormatInt(category, 10)
}

// Paginator answers paged nearest-first queries.
type Paginator[V any] struct {
	kv           kvcache.KeyValueCache
	lister       RecordLister[V]
	radiusMeters float64
	logger       zerolog.Logger
}

// NewPaginator creates a Paginator. A radius of zero or less selects
// DefaultRadiusMeters.
func NewPaginator[V any](kv kvcache.KeyValueCache, lister RecordLister[V], radiusMeters float64, logger zerolog.Logger) *Paginator[V] {
	if radiusMeters <= 0 {
		radiusMeters = DefaultRadiusMeters
	}
	return &Paginator[V]{
		kv:           kv,
		lister:       lister,
		radiusMeters: radiusMeters,
		logger:       logger.With().Str("component", "GeoPaginator").Logger(),
	}
}

// QueryPage returns page pageNumber (1-based) of pageSize records of category.
// With a nil center the store's plain paging is used. Otherwise records are
// ordered by ascending distance from center within the search radius.
//
// The geo index only supports a result cap, so page n re-reads the nearest
// n*pageSize members and discards the earlier pages.
func (p *Paginator[V]) QueryPage(ctx context.Context, category int64, center *kvcache.Point, pageSize, pageNumber int) ([]Result[V], error) {
	if pageSize <= 0 {
		return nil, ErrInvalidPage
	}
	if pageNumber < 1 {
		pageNumber = 1
	}
	from := (pageNumber - 1) * pageSize

	if center == nil {
		records, err := p.lister.ListByCategory(ctx, category, from, pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list category %d: %w", category, err)
		}
		results := make([]Result[V], 0, len(records))
		for _, r := range records {
			results = append(results, Result[V]{Record: r})
		}
		return results, nil
	}

	key := Key(category)
	hits, err := p.kv.GeoRadius(ctx, key, *center, p.radiusMeters, pageNumber*pageSize)
	if err != nil {
		return nil, fmt.Errorf("radius search on %s: %w", key, err)
	}
	if len(hits) <= from {
		return []Result[V]{}, nil
	}
	hits = hits[from:]

	ids := make([]int64, 0, len(hits))
	for _, h := range hits {
		id, err := strconv.ParseInt(h.Name, 10, 64)
		if err != nil {
			p.logger.Warn().Str("key", key).Str("member", h.Name).Msg("Skipping geo member with non-numeric id.")
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return []Result[V]{}, nil
	}

	records, err := p.lister.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %d geo hits: %w", len(ids), err)
	}

	results := make([]Result[V], 0, len(ids))
	for _, h := range hits {
		id, err := strconv.ParseInt(h.Name, 10, 64)
		if err != nil {
			continue
		}
		record, ok := records[id]
		if !ok {
			p.logger.Debug().Int64("id", id).Str("key", key).Msg("Geo member no longer in store.")
			continue
		}
		results = append(results, Result[V]{Record: record, Distance: h.Distance})
	}
	return results, nil
}
