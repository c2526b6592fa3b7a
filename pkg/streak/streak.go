// Package streak records daily sign-ins in a per-user monthly bitmap and
// counts the unbroken run of sign-ins ending today.
package streak

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/illmade-knight/go-cacheguard/pkg/kvcache"
	"github.com/rs/zerolog"
)

// KeyPrefix prefixes every sign-in bitmap key.
const KeyPrefix = "sign:"

// Counter marks and counts sign-ins. Bit (day-1) of the month's bitmap is set
// when the user signs in on that day.
type Counter struct {
	kv     kvcache.KeyValueCache
	now    func() time.Time
	logger zerolog.Logger
}

// Option customises a Counter.
type Option func(*Counter)

// WithClock replaces time.Now. The clock's location decides what "today" is.
func WithClock(now func() time.Time) Option {
	return func(c *Counter) { c.now = now }
}

// NewCounter creates a Counter over kv.
func NewCounter(kv kvcache.KeyValueCache, logger zerolog.Logger, opts ...Option) *Counter {
	c := &Counter{
		kv:     kv,
		now:    time.Now,
		logger: logger.With().Str("component", "StreakCounter").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the bitmap key for userID in the month containing t.
func Key(userID int64, t time.Time) string {
	return fmt.Sprintf("%s%d:%s", KeyPrefix, userID, t.Format("200601"))
}

// MarkToday records a sign-in for userID today.
func (c *Counter) MarkToday(ctx context.Context, userID int64) error {
	return c.MarkDay(ctx, userID, c.now())
}

// MarkDay records a sign-in for userID on the day of date. Marking a day twice
// is a no-op.
func (c *Counter) MarkDay(ctx context.Context, userID int64, date time.Time) error {
	if userID <= 0 {
		return errors.New("user id must be positive")
	}
	key := Key(userID, date)
	if err := c.kv.SetBit(ctx, key, int64(date.Day()-1), 1); err != nil {
		return fmt.Errorf("failed to mark sign-in at %s: %w", key, err)
	}
	c.logger.Debug().Int64("user_id", userID).Str("key", key).Int("day", date.Day()).Msg("Sign-in marked.")
	return nil
}

// CurrentStreak returns the number of consecutive days, ending today, on which
// userID signed in. A month boundary ends the run.
func (c *Counter) CurrentStreak(ctx context.Context, userID int64) (int, error) {
	value, width, err := c.monthToDate(ctx, userID)
	if err != nil {
		return 0, err
	}
	return TrailingRun(value, width), nil
}

// MonthSignedDays returns how many days of the current month, up to and
// including today, userID signed in.
func (c *Counter) MonthSignedDays(ctx context.Context, userID int64) (int, error) {
	value, _, err := c.monthToDate(ctx, userID)
	if err != nil {
		return 0, err
	}
	return bits.OnesCount64(value), nil
}

// monthToDate reads the first day-of-month bits as an unsigned integer whose
// least significant bit is today.
func (c *Counter) monthToDate(ctx context.Context, userID int64) (uint64, int, error) {
	today := c.now()
	key := Key(userID, today)
	width := today.Day()
	value, err := c.kv.BitFieldUnsigned(ctx, key, width, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read sign-ins at %s: %w", key, err)
	}
	return value, width, nil
}

// TrailingRun counts the 1-bits of value from the least significant bit up to
// the first 0-bit, looking at no more than width bits.
func TrailingRun(value uint64, width int) int {
	count := 0
	for i := 0; i < width && value != 0; i++ {
		if value&1 == 0 {
			break
		}
		count++
		value >>= 1
	}
	return count
}
