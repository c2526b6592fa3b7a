package kvcache

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// earthRadiusMeters matches the constant Redis uses for GEO distances.
const earthRadiusMeters = 6372797.560856

type stringEntry struct {
	value    string
	expireAt time.Time // zero means no expiry
}

// InMemoryCache is a thread-safe, in-memory implementation of KeyValueCache that
// follows Redis semantics for every primitive. It is primarily intended for local
// development and testing.
type InMemoryCache struct {
	mu      sync.Mutex
	now     func() time.Time
	strings map[string]stringEntry
	sets    map[string]map[string]struct{}
	bitmaps map[string][]byte
	geos    map[string]map[string]Point
}

// NewInMemoryCache creates an empty in-memory cache using the wall clock.
func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheWithClock(time.Now)
}

// NewInMemoryCacheWithClock creates an empty in-memory cache whose TTLs are
// evaluated against now.
func NewInMemoryCacheWithClock(now func() time.Time) *InMemoryCache {
	return &InMemoryCache{
		now:     now,
		strings: make(map[string]stringEntry),
		sets:    make(map[string]map[string]struct{}),
		bitmaps: make(map[string][]byte),
		geos:    make(map[string]map[string]Point),
	}
}

// lookup returns the live entry for key, dropping it if expired.
// Must be called with mu held.
func (c *InMemoryCache) lookup(key string) (stringEntry, bool) {
	entry, ok := c.strings[key]
	if !ok {
		return stringEntry{}, false
	}
	if !entry.expireAt.IsZero() && !c.now().Before(entry.expireAt) {
		delete(c.strings, key)
		return stringEntry{}, false
	}
	return entry, true
}

func (c *InMemoryCache) newEntry(value string, ttl time.Duration) stringEntry {
	entry := stringEntry{value: value}
	if ttl > 0 {
		entry.expireAt = c.now().Add(ttl)
	}
	return entry
}

// Get returns the value at key, or ErrKeyNotFound.
func (c *InMemoryCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lookup(key)
	if !ok {
		return "", ErrKeyNotFound
	}
	return entry.value, nil
}

// Set stores value at key.
func (c *InMemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if err := validTTL(ttl); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strings[key] = c.newEntry(value, ttl)
	return nil
}

// Delete removes keys of any kind.
func (c *InMemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.strings, key)
		delete(c.sets, key)
		delete(c.bitmaps, key)
		delete(c.geos, key)
	}
	return nil
}

// SetNX stores value only if key is absent.
func (c *InMemoryCache) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := validTTL(ttl); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lookup(key); ok {
		return false, nil
	}
	c.strings[key] = c.newEntry(value, ttl)
	return true, nil
}

// CompareAndDelete deletes key only if it holds expected.
func (c *InMemoryCache) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lookup(key)
	if !ok || entry.value != expected {
		return false, nil
	}
	delete(c.strings, key)
	return true, nil
}

// SAdd adds members to the set at key.
func (c *InMemoryCache) SAdd(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.sets[key]
	if !ok {
		set = make(map[string]struct{})
		c.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

// SRem removes members from the set at key. Empty sets are deleted.
func (c *InMemoryCache) SRem(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(c.sets, key)
	}
	return nil
}

// SInter returns the intersection of the sets at keys, sorted.
func (c *InMemoryCache) SInter(_ context.Context, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("sinter requires at least one key")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]string, 0)
	for member := range c.sets[keys[0]] {
		inAll := true
		for _, other := range keys[1:] {
			if _, ok := c.sets[other][member]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			result = append(result, member)
		}
	}
	sort.Strings(result)
	return result, nil
}

// SetBit sets the bit at offset. Offset 0 is the most significant bit of the
// first byte, as in Redis.
func (c *InMemoryCache) SetBit(_ context.Context, key string, offset int64, value int) error {
	if offset < 0 {
		return fmt.Errorf("bit offset cannot be negative")
	}
	if value != 0 && value != 1 {
		return fmt.Errorf("bit value must be 0 or 1, got %d", value)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	bits := c.bitmaps[key]
	byteIdx := int(offset / 8)
	if byteIdx >= len(bits) {
		grown := make([]byte, byteIdx+1)
		copy(grown, bits)
		bits = grown
	}
	mask := byte(1) << (7 - uint(offset%8))
	if value == 1 {
		bits[byteIdx] |= mask
	} else {
		bits[byteIdx] &^= mask
	}
	c.bitmaps[key] = bits
	return nil
}

// BitFieldUnsigned reads width bits from offset, first bit most significant.
func (c *InMemoryCache) BitFieldUnsigned(_ context.Context, key string, width int, offset int64) (uint64, error) {
	if width < 1 || width > 63 {
		return 0, fmt.Errorf("unsigned bitfield width must be between 1 and 63, got %d", width)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	bits := c.bitmaps[key]
	var value uint64
	for i := int64(0); i < int64(width); i++ {
		pos := offset + i
		var bit uint64
		if byteIdx := int(pos / 8); byteIdx < len(bits) {
			bit = uint64(bits[byteIdx]>>(7-uint(pos%8))) & 1
		}
		value = value<<1 | bit
	}
	return value, nil
}

// GeoAdd adds or moves members of the geo index at key.
func (c *InMemoryCache) GeoAdd(_ context.Context, key string, locations ...GeoLocation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	// The whole command is rejected if any pair is out of range.
	for _, loc := range locations {
		if loc.Latitude < -85.05112878 || loc.Latitude > 85.05112878 || loc.Longitude < -180 || loc.Longitude > 180 {
			return fmt.Errorf("invalid longitude,latitude pair %f,%f", loc.Longitude, loc.Latitude)
		}
	}
	index, ok := c.geos[key]
	if !ok {
		index = make(map[string]Point)
		c.geos[key] = index
	}
	for _, loc := range locations {
		index[loc.Name] = loc.Point
	}
	return nil
}

// GeoRadius returns up to count members within radiusMeters of center, nearest
// first. Equal distances are ordered by member name.
func (c *InMemoryCache) GeoRadius(_ context.Context, key string, center Point, radiusMeters float64, count int) ([]GeoHit, error) {
	c.mu.Lock()
	hits := make([]GeoHit, 0, len(c.geos[key]))
	for name, p := range c.geos[key] {
		d := haversine(center, p)
		if d <= radiusMeters {
			hits = append(hits, GeoHit{Name: name, Distance: d})
		}
	}
	c.mu.Unlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Name < hits[j].Name
	})
	if count > 0 && len(hits) > count {
		hits = hits[:count]
	}
	return hits, nil
}

// Close is a no-op for the in-memory implementation.
func (c *InMemoryCache) Close() error {
	return nil
}

func haversine(a, b Point) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	u := math.Sin((lat2 - lat1) / 2)
	v := math.Sin((b.Longitude - a.Longitude) * math.Pi / 180 / 2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(u*u+math.Cos(lat1)*math.Cos(lat2)*v*v))
}
