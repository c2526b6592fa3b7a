package streak_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-cacheguard/pkg/kvcache"
	"github.com/illmade-knight/go-cacheguard/pkg/streak"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrailingRun(t *testing.T) {
	testCases := []struct {
		name  string
		value uint64
		width int
		want  int
	}{
		{name: "today, yesterday, gap, signed", value: 0b1011, width: 4, want: 2},
		{name: "empty bitmap", value: 0, width: 14, want: 0},
		{name: "missed today", value: 0b0110, width: 4, want: 0},
		{name: "all ones of width 31", value: 1<<31 - 1, width: 31, want: 31},
		{name: "all ones of width 1", value: 1, width: 1, want: 1},
		{name: "bits beyond width are ignored", value: 0b1111, width: 2, want: 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, streak.TrailingRun(tc.value, tc.width))
		})
	}
}

func TestCounter(t *testing.T) {
	ctx := context.Background()
	today := time.Date(2024, 3, 4, 18, 30, 0, 0, time.UTC)
	newCounter := func() (*streak.Counter, *kvcache.InMemoryCache) {
		kv := kvcache.NewInMemoryCache()
		return streak.NewCounter(kv, zerolog.Nop(), streak.WithClock(func() time.Time { return today })), kv
	}
	day := func(d int) time.Time { return time.Date(2024, 3, d, 9, 0, 0, 0, time.UTC) }

	t.Run("Marks the day-of-month bit in the monthly key", func(t *testing.T) {
		c, kv := newCounter()

		require.NoError(t, c.MarkToday(ctx, 7))

		assert.Equal(t, "sign:7:202403", streak.Key(7, today))
		v, err := kv.BitFieldUnsigned(ctx, "sign:7:202403", 4, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(0b0001), v, "day 4 is the fourth bit from the start")
	})

	t.Run("Streak stops at the first missed day", func(t *testing.T) {
		// Arrange: signed on days 1, 3 and 4; missed day 2.
		c, _ := newCounter()
		for _, d := range []int{1, 3, 4} {
			require.NoError(t, c.MarkDay(ctx, 7, day(d)))
		}

		// Act
		run, err := c.CurrentStreak(ctx, 7)
		require.NoError(t, err)
		signed, err := c.MonthSignedDays(ctx, 7)
		require.NoError(t, err)

		// Assert
		assert.Equal(t, 2, run)
		assert.Equal(t, 3, signed)
	})

	t.Run("No sign-ins gives zero", func(t *testing.T) {
		c, _ := newCounter()
		run, err := c.CurrentStreak(ctx, 8)
		require.NoError(t, err)
		assert.Zero(t, run)
	})

	t.Run("Every day of the month so far", func(t *testing.T) {
		c, _ := newCounter()
		for d := 1; d <= 4; d++ {
			require.NoError(t, c.MarkDay(ctx, 9, day(d)))
		}
		run, err := c.CurrentStreak(ctx, 9)
		require.NoError(t, err)
		assert.Equal(t, 4, run)
	})

	t.Run("Last month does not extend the streak", func(t *testing.T) {
		c, _ := newCounter()
		require.NoError(t, c.MarkDay(ctx, 10, time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC)))
		require.NoError(t, c.MarkToday(ctx, 10))

		run, err := c.CurrentStreak(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, run)
	})

	t.Run("Marking twice is idempotent", func(t *testing.T) {
		c, _ := newCounter()
		require.NoError(t, c.MarkToday(ctx, 11))
		require.NoError(t, c.MarkToday(ctx, 11))
		signed, err := c.MonthSignedDays(ctx, 11)
		require.NoError(t, err)
		assert.Equal(t, 1, signed)
	})

	t.Run("Invalid user id is rejected", func(t *testing.T) {
		c, _ := newCounter()
		assert.Error(t, c.MarkToday(ctx, 0))
	})
}
