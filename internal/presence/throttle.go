package presence

import "time"

// Throttle limits how often local presence goes on the wire. The latest
// offered value always wins, and the last sent value is repeated as a
// heartbeat while the participant is idle.
type Throttle struct {
	interval  time.Duration
	heartbeat time.Duration
	lastSent  time.Time
	sent      *Presence
	pending   *Presence
}

func NewThrottle(interval, heartbeat time.Duration) *Throttle {
	return &Throttle{interval: interval, heartbeat: heartbeat}
}

// Offer returns p when it may be sent right away. Otherwise p is held until
// a later Tick.
func (t *Throttle) Offer(p Presence, now time.Time) (Presence, bool) {
	if t.sent == nil || now.Sub(t.lastSent) >= t.interval {
		t.pending = nil
		return t.mark(p, now), true
	}
	t.pending = &p
	return Presence{}, false
}

// Tick returns a held update once the interval has passed, or a heartbeat.
func (t *Throttle) Tick(now time.Time) (Presence, bool) {
	if t.pending != nil && now.Sub(t.lastSent) >= t.interval {
		p := *t.pending
		t.pending = nil
		return t.mark(p, now), true
	}
	if t.sent != nil && now.Sub(t.lastSent) >= t.heartbeat {
		return t.mark(*t.sent, now), true
	}
	return Presence{}, false
}

// Reset forgets what was sent, so the next Offer goes out immediately.
func (t *Throttle) Reset() {
	t.sent = nil
	t.pending = nil
}

func (t *Throttle) mark(p Presence, now time.Time) Presence {
	t.sent = &p
	t.lastSent = now
	return p
}
