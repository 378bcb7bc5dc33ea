package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"power-backend/internal/clock"
)

func TestNextOccurrence(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		hour, minute int
		want         time.Time
	}{
		{"later today", 18, 45, time.Date(2026, 3, 10, 18, 45, 0, 0, time.UTC)},
		{"earlier today rolls over", 6, 0, time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC)},
		{"exactly now is strictly after", 12, 0, time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)},
		{"one minute ahead", 12, 1, time.Date(2026, 3, 10, 12, 1, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextOccurrence(now, time.UTC, tt.hour, tt.minute))
		})
	}
}

func TestNextOccurrence_MonthBoundary(t *testing.T) {
	now := time.Date(2026, 12, 31, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2027, 1, 1, 8, 0, 0, 0, time.UTC), nextOccurrence(now, time.UTC, 8, 0))
}

func TestNextOccurrence_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	// 12:00 UTC is 14:00 local
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	got := nextOccurrence(now, loc, 13, 0)
	assert.Equal(t, time.Date(2026, 3, 11, 11, 0, 0, 0, time.UTC), got.UTC())
}

func TestDailyTimer_StopPreventsRearm(t *testing.T) {
	c := clock.Fake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	fired := 0

	var dt *dailyTimer
	dt = newDailyTimer(c, time.UTC, 12, 30, func(*dailyTimer) bool {
		fired++
		dt.Stop()
		return true
	})
	dt.arm()
	assert.Equal(t, time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC), dt.Next())

	c.Advance(72 * time.Hour)
	assert.Equal(t, 1, fired)
	assert.True(t, dt.Next().IsZero())
	assert.Equal(t, 0, c.PendingCount())
}

func TestDailyTimer_FireFalseStops(t *testing.T) {
	c := clock.Fake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	fired := 0
	dt := newDailyTimer(c, time.UTC, 13, 0, func(*dailyTimer) bool {
		fired++
		return fired < 3
	})
	dt.arm()

	c.Advance(10 * 24 * time.Hour)
	assert.Equal(t, 3, fired)
	assert.Equal(t, 0, c.PendingCount())
}
