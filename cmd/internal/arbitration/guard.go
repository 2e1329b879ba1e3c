package arbitration

import (
	"sync"
	"time"
)

// Timer is the subset of *time.Timer used by ExpiryGuard.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it via StdAfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

// StdAfterFunc adapts time.AfterFunc.
func StdAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ExpiryGuard is a single re-armable timer.
//
// Arm always cancels a pending timer first, so timers never stack. A timer that
// was cancelled or replaced never calls back, even if it already started firing.
type ExpiryGuard struct {
	after AfterFunc
	now   func() time.Time

	mu       sync.Mutex
	timer    Timer
	gen      uint64
	armed    bool
	deadline time.Time
}

// NewExpiryGuard builds a guard. Nil arguments fall back to the real clock.
func NewExpiryGuard(after AfterFunc, now func() time.Time) *ExpiryGuard {
	if after == nil {
		after = StdAfterFunc
	}
	if now == nil {
		now = time.Now
	}
	return &ExpiryGuard{after: after, now: now}
}

// Arm cancels any pending timer and schedules fire after d.
func (g *ExpiryGuard) Arm(d time.Duration, fire func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stopLocked()
	g.gen++
	gen := g.gen
	g.armed = true
	g.deadline = g.now().Add(d)

	g.timer = g.after(d, func() {
		g.mu.Lock()
		if g.gen != gen || !g.armed {
			g.mu.Unlock()
			return
		}
		g.armed = false
		g.timer = nil
		g.mu.Unlock()

		fire()
	})
}

// Cancel stops the pending timer. It reports whether a timer was armed.
func (g *ExpiryGuard) Cancel() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	was := g.armed
	g.stopLocked()
	g.gen++
	return was
}

// Armed reports whether a timer is pending.
func (g *ExpiryGuard) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armed
}

// Deadline returns the pending deadline, or the zero time when not armed.
func (g *ExpiryGuard) Deadline() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.armed {
		return time.Time{}
	}
	return g.deadline
}

func (g *ExpiryGuard) stopLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.armed = false
	g.deadline = time.Time{}
}
