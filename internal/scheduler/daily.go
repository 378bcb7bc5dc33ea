package scheduler

import (
	"sync"
	"time"

	"power-backend/internal/clock"
)

// dailyTimer fires once per day at a fixed local wall-clock time. After each
// fire it re-arms for the next calendar day unless fire reports otherwise or
// the timer was stopped.
type dailyTimer struct {
	clock  clock.Clock
	loc    *time.Location
	hour   int
	minute int
	fire   func(*dailyTimer) bool

	mu      sync.Mutex
	timer   *clock.Timer
	next    time.Time
	stopped bool
}

func newDailyTimer(c clock.Clock, loc *time.Location, hour, minute int, fire func(*dailyTimer) bool) *dailyTimer {
	return &dailyTimer{clock: c, loc: loc, hour: hour, minute: minute, fire: fire}
}

func (t *dailyTimer) arm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}

	now := t.clock.Now()
	t.next = nextOccurrence(now, t.loc, t.hour, t.minute)
	t.timer = t.clock.AfterFunc(t.next.Sub(now), t.run)
}

// run is the clock callback. No timer lock is held while fire enters the
// registry.
func (t *dailyTimer) run() {
	if t.fire(t) {
		t.arm()
	}
}

// Stop cancels the pending fire and prevents any re-arm
func (t *dailyTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Next returns the pending fire time, or the zero time once stopped
func (t *dailyTimer) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return time.Time{}
	}
	return t.next
}

// nextOccurrence returns the first hour:minute in loc strictly after now.
// time.Date normalizes day overflow and DST gaps.
func nextOccurrence(now time.Time, loc *time.Location, hour, minute int) time.Time {
	local := now.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !candidate.After(local) {
		candidate = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return candidate
}
