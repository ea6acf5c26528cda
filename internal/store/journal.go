package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"camrelay/internal/logging"
)

// Journal buffers state events and writes them on its own goroutine so the
// caller never waits on disk. Events that arrive while the buffer is full are
// dropped and counted.
type Journal struct {
	store   *Store
	logger  *slog.Logger
	events  chan StateEvent
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewJournal starts a journal writer with the given buffer capacity.
func NewJournal(store *Store, logger *slog.Logger, capacity int) *Journal {
	if capacity <= 0 {
		capacity = 256
	}
	j := &Journal{
		store:  store,
		logger: logging.NewComponentLogger(logger, "journal"),
		events: make(chan StateEvent, capacity),
		done:   make(chan struct{}),
	}
	go j.run()
	return j
}

// Record queues ev without blocking. Events recorded after Close are
// dropped.
func (j *Journal) Record(ev StateEvent) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.dropped.Add(1)
		return
	}
	select {
	case j.events <- ev:
	default:
		if j.dropped.Add(1) == 1 {
			logging.WarnWithContext(j.logger, "state journal full; dropping events", "journal_overflow",
				logging.String(logging.FieldImpact, "state history has gaps"),
			)
		}
	}
}

// Dropped reports how many events were discarded.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Close flushes queued events and stops the writer.
func (j *Journal) Close() {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.events)
	}
	j.mu.Unlock()
	<-j.done
}

func (j *Journal) run() {
	defer close(j.done)
	for ev := range j.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := j.store.RecordTransition(ctx, ev); err != nil {
			j.logger.Debug("journal write failed", logging.Error(err), logging.Device(ev.Device))
		}
		cancel()
	}
}
