package watermark

import (
	"sync"
	"time"
)

const DefaultLag = 2 * time.Minute

// Tracker keeps the highest event time seen on a stream and derives the
// watermark from it. The watermark never decreases.
type Tracker struct {
	mu           sync.RWMutex
	lag          time.Duration
	maxEventTime time.Time
}

func NewTracker(lag time.Duration) *Tracker {
	if lag < 0 {
		lag = 0
	}
	return &Tracker{lag: lag}
}

// Observe folds ts into the tracker. It reports whether ts was late, that is
// older than the watermark in effect before this observation, and that watermark.
func (t *Tracker) Observe(ts time.Time) (late bool, watermark time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	watermark = t.watermarkLocked()
	late = !watermark.IsZero() && ts.Before(watermark)

	if ts.After(t.maxEventTime) {
		t.maxEventTime = ts
	}
	return late, watermark
}

// Watermark is the zero time until the first observation
func (t *Tracker) Watermark() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.watermarkLocked()
}

func (t *Tracker) MaxEventTime() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.maxEventTime
}

// Restore seeds the tracker from a checkpoint. It only ever moves forward.
func (t *Tracker) Restore(maxEventTime time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if maxEventTime.After(t.maxEventTime) {
		t.maxEventTime = maxEventTime
	}
}

func (t *Tracker) Lag() time.Duration {
	return t.lag
}

func (t *Tracker) watermarkLocked() time.Time {
	if t.maxEventTime.IsZero() {
		return time.Time{}
	}
	return t.maxEventTime.Add(-t.lag)
}
