package realtime

import (
	"sync"
	"time"
)

// mediaConn is one authenticated media-signalling connection.
//
// revoke is buffered so the hub never blocks on a slow connection; done closes
// once the connection goroutines are shutting down.
type mediaConn struct {
	MediaSessionID string
	SessionID      string
	AccountID      string

	revoke    chan string
	done      chan struct{}
	closeOnce sync.Once
}

func newMediaConn(mediaSessionID string, p Principal) *mediaConn {
	return &mediaConn{
		MediaSessionID: mediaSessionID,
		SessionID:      p.SessionID,
		AccountID:      p.AccountID,
		revoke:         make(chan string, 1),
		done:           make(chan struct{}),
	}
}

func (c *mediaConn) Done() <-chan struct{} { return c.done }

func (c *mediaConn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// hub indexes live media connections by the session that opened them.
type hub struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*mediaConn
}

func newHub() *hub {
	return &hub{sessions: make(map[string]map[string]*mediaConn)}
}

func (h *hub) add(c *mediaConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.sessions[c.SessionID]
	if !ok {
		m = make(map[string]*mediaConn)
		h.sessions[c.SessionID] = m
	}
	m[c.MediaSessionID] = c
}

func (h *hub) remove(c *mediaConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.sessions[c.SessionID]
	delete(m, c.MediaSessionID)
	if len(m) == 0 {
		delete(h.sessions, c.SessionID)
	}
}

// revoke queues code on every connection of sessionID and returns how many
// connections were notified.
func (h *hub) revoke(sessionID, code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.sessions[sessionID] {
		select {
		case c.revoke <- code:
			n++
		default:
		}
	}
	return n
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, m := range h.sessions {
		n += len(m)
	}
	return n
}

// windowLimiter is a per-connection sliding-window limiter.
type windowLimiter struct {
	events []time.Time
	limit  int
	window time.Duration
}

func newWindowLimiter(limit int, window time.Duration) *windowLimiter {
	return &windowLimiter{events: make([]time.Time, 0, limit), limit: limit, window: window}
}

func (l *windowLimiter) Allow(now time.Time) bool {
	cut := now.Add(-l.window)
	kept := l.events[:0]
	for _, t := range l.events {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	l.events = kept
	if len(l.events) >= l.limit {
		return false
	}
	l.events = append(l.events, now)
	return true
}
