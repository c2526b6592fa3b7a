package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Envelope wraps a record with an application-level expiry. The key holding it
// has no storage TTL; readers compare ExpireAt with the current time.
type Envelope[V any] struct {
	Data     V         `json:"data"`
	ExpireAt time.Time `json:"expireAt"`
}

// Fresh reports whether the envelope has not yet logically expired.
func (e Envelope[V]) Fresh(now time.Time) bool {
	return e.ExpireAt.After(now)
}

// ErrMalformedEnvelope is returned for a payload without an expiry.
var ErrMalformedEnvelope = errors.New("envelope has no expiry")

// DecodeEnvelope parses a cached envelope. A payload that decodes but carries
// no expireAt is not an envelope.
func DecodeEnvelope[V any](raw string) (Envelope[V], error) {
	var env Envelope[V]
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Envelope[V]{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.ExpireAt.IsZero() {
		return Envelope[V]{}, ErrMalformedEnvelope
	}
	return env, nil
}
