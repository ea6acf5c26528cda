package daemon

import (
	"sync"
	"sync/atomic"

	"camrelay/internal/api"
)

const subscriberBuffer = 64

// eventHub broadcasts state changes to websocket subscribers. A subscriber
// that falls behind loses events rather than stalling workers.
type eventHub struct {
	mu      sync.Mutex
	subs    map[chan api.StateEvent]struct{}
	closed  bool
	dropped atomic.Int64
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[chan api.StateEvent]struct{})}
}

// subscribe returns a channel of events and a func that releases it. The
// channel is closed when the hub closes or the subscription is released.
func (h *eventHub) subscribe() (<-chan api.StateEvent, func()) {
	ch := make(chan api.StateEvent, subscriberBuffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

func (h *eventHub) publish(evt api.StateEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for ch := range h.subs {
		select {
		case ch <- evt:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *eventHub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped counts events a slow subscriber missed.
func (h *eventHub) Dropped() int64 { return h.dropped.Load() }

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
}
