package player

import "time"

// DefaultMaxPacingGap bounds how far a timestamp may step backwards before
// the clock re-anchors. Forward steps are always waited out.
const DefaultMaxPacingGap = 5 * time.Second

// Clock maps packet timestamps in microseconds onto wall time. The first
// timestamp after a reset becomes the anchor; later ones are released no
// earlier than their offset from it.
type Clock struct {
	now    func() time.Time
	maxGap int64 // µs, 0 disables re-anchoring

	anchored  bool
	startTS   int64
	startWall time.Time
	lastTS    int64
}

// NewClock returns an unanchored clock. A nil now uses time.Now.
func NewClock(now func() time.Time, maxGap time.Duration) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now, maxGap: maxGap.Microseconds()}
}

// Reset discards the anchor. The next Delay call re-establishes it.
func (c *Clock) Reset() {
	c.anchored = false
}

// Anchored reports whether a reference point is set.
func (c *Clock) Anchored() bool {
	return c.anchored
}

// Delay returns how long to wait before releasing a packet with timestamp
// ts (µs). It never returns a negative duration.
func (c *Clock) Delay(ts int64) time.Duration {
	now := c.now()
	if !c.anchored || c.jumped(ts) {
		c.anchor(ts, now)
		return 0
	}
	c.lastTS = ts
	target := ts - c.startTS
	elapsed := now.Sub(c.startWall).Microseconds()
	if target <= elapsed {
		return 0
	}
	return time.Duration(target-elapsed) * time.Microsecond
}

func (c *Clock) anchor(ts int64, now time.Time) {
	c.anchored = true
	c.startTS = ts
	c.lastTS = ts
	c.startWall = now
}

// jumped reports a discontinuity: a step back from the previous timestamp
// larger than maxGap, as after a timestamp wrap or a source restart.
func (c *Clock) jumped(ts int64) bool {
	return c.maxGap > 0 && c.lastTS-ts > c.maxGap
}
