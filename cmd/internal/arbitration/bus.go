package arbitration

import (
	"log/slog"
	"sync"
)

const defaultSubscriberBuffer = 16

// Bus is a process-wide typed pub/sub channel for arbitration signals.
//
// Publish never blocks: each subscriber owns a buffered channel and a full
// buffer drops the signal. Arrival order is preserved per subscriber.
type Bus struct {
	log *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]chan Signal
	next   uint64
	closed bool
}

// NewBus constructs an empty Bus.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log, subs: make(map[uint64]chan Signal)}
}

// Subscribe registers a subscriber. The returned cancel func is idempotent and
// closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Signal, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Signal, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers sig to every subscriber and returns how many received it.
func (b *Bus) Publish(sig Signal) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for id, ch := range b.subs {
		select {
		case ch <- sig:
			delivered++
		default:
			b.log.Warn("arbitration.bus.drop", "subscriber", id, "reason", string(sig.Reason))
		}
	}
	return delivered
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
