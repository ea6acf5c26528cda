package notifications

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"camrelay/internal/logging"
	"camrelay/internal/services"
	"camrelay/internal/supervisor"
)

const publishTimeout = 15 * time.Second

// Watcher turns worker transitions into operator notifications. Observe is
// safe to call from the supervisor's transition hook: it never blocks, and
// events beyond the buffer are dropped.
type Watcher struct {
	svc    Service
	logger *slog.Logger
	events chan job

	mu     sync.Mutex
	failed map[string]bool
	closed bool

	dropped atomic.Int64
	done    chan struct{}
}

type job struct {
	event   Event
	payload Payload
}

// NewWatcher starts a watcher publishing through svc.
func NewWatcher(svc Service, logger *slog.Logger, buffer int) *Watcher {
	if buffer <= 0 {
		buffer = 64
	}
	w := &Watcher{
		svc:    svc,
		logger: logging.NewComponentLogger(logger, "notifications"),
		events: make(chan job, buffer),
		failed: make(map[string]bool),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// Observe records tr. A device entering Failed produces EventDeviceFailed; the
// first Streaming after a Failed produces EventDeviceRecovered.
func (w *Watcher) Observe(tr supervisor.Transition) {
	switch tr.To {
	case supervisor.StateFailed:
		w.mu.Lock()
		w.failed[tr.Device] = true
		w.mu.Unlock()
		payload := Payload{"device": tr.Device, "attempts": tr.Attempts}
		if tr.Err != nil {
			payload["error"] = tr.Err.Error()
			payload["error_kind"] = services.KindOf(tr.Err)
		}
		w.enqueue(EventDeviceFailed, payload)
	case supervisor.StateStreaming:
		w.mu.Lock()
		wasFailed := w.failed[tr.Device]
		delete(w.failed, tr.Device)
		w.mu.Unlock()
		if wasFailed {
			w.enqueue(EventDeviceRecovered, Payload{"device": tr.Device})
		}
	}
}

// Forget clears recovery tracking for a removed device.
func (w *Watcher) Forget(device string) {
	w.mu.Lock()
	delete(w.failed, device)
	w.mu.Unlock()
}

// ShutdownForced reports workers that had to be forced closed.
func (w *Watcher) ShutdownForced(names []string) {
	if len(names) == 0 {
		return
	}
	w.enqueue(EventShutdownForced, Payload{"forced": names})
}

// Dropped returns how many events were discarded because the buffer was full.
func (w *Watcher) Dropped() int64 { return w.dropped.Load() }

// Close delivers buffered events and stops the watcher.
func (w *Watcher) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.events)
	}
	w.mu.Unlock()
	<-w.done
}

func (w *Watcher) enqueue(event Event, payload Payload) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.dropped.Add(1)
		return
	}
	select {
	case w.events <- job{event: event, payload: payload}:
	default:
		w.dropped.Add(1)
	}
}

func (w *Watcher) run() {
	defer close(w.done)
	for j := range w.events {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := w.svc.Publish(ctx, j.event, j.payload)
		cancel()
		if err != nil {
			logging.WarnWithContext(w.logger, "notification delivery failed", "notification_failed",
				logging.String("event", string(j.event)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network reachability"),
				logging.String(logging.FieldImpact, "operators were not alerted"),
			)
			continue
		}
		w.logger.Debug("notification sent", logging.String("event", string(j.event)))
	}
}
