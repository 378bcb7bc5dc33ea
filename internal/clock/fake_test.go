package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_AfterFuncFiresInOrder(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	var fired []string
	var seen []time.Time
	c.AfterFunc(2*time.Minute, func() { fired = append(fired, "b"); seen = append(seen, c.Now()) })
	c.AfterFunc(time.Minute, func() { fired = append(fired, "a"); seen = append(seen, c.Now()) })

	c.Advance(90 * time.Second)
	assert.Equal(t, []string{"a"}, fired)
	assert.Equal(t, start.Add(90*time.Second), c.Now())

	c.Advance(time.Minute)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, []time.Time{start.Add(time.Minute), start.Add(2 * time.Minute)}, seen)
}

func TestFakeClock_StopPreventsFire(t *testing.T) {
	c := Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	called := false
	timer := c.AfterFunc(time.Second, func() { called = true })

	assert.Equal(t, 1, c.PendingCount())
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	assert.Equal(t, 0, c.PendingCount())

	c.Advance(time.Hour)
	assert.False(t, called)
}

func TestFakeClock_RearmInsideCallback(t *testing.T) {
	c := Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	count := 0
	var tick func()
	tick = func() {
		count++
		c.AfterFunc(time.Hour, tick)
	}
	c.AfterFunc(time.Hour, tick)

	c.Advance(3 * time.Hour)
	assert.Equal(t, 3, count)
	assert.Equal(t, 1, c.PendingCount())
}
