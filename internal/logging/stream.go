package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// LogEvent represents a structured log line published to the streaming hub.
type LogEvent struct {
	Sequence      uint64            `json:"seq"`
	Timestamp     time.Time         `json:"ts"`
	Level         string            `json:"level"`
	Message       string            `json:"msg"`
	Component     string            `json:"component,omitempty"`
	Device        string            `json:"device,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// StreamHub keeps the most recent log events in a fixed ring and wakes
// followers when new events arrive. Sequence numbers are contiguous, so the
// ring slot of any buffered sequence is computed rather than searched.
type StreamHub struct {
	mu      sync.Mutex
	cond    *sync.Cond
	ring    []LogEvent
	head    int // slot of the oldest buffered event
	count   int
	nextSeq uint64
}

// NewStreamHub constructs a hub holding at most capacity events.
func NewStreamHub(capacity int) *StreamHub {
	if capacity <= 0 {
		capacity = 512
	}
	h := &StreamHub{ring: make([]LogEvent, capacity)}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Publish appends evt, evicting the oldest event when the ring is full.
func (h *StreamHub) Publish(evt LogEvent) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	size := len(h.ring)
	if h.count < size {
		h.ring[(h.head+h.count)%size] = evt
		h.count++
	} else {
		h.ring[h.head] = evt
		h.head = (h.head + 1) % size
	}
	h.cond.Broadcast()
	h.mu.Unlock()
}

// Fetch returns events with sequence greater than since. When wait is true,
// Fetch blocks until at least one event is available or the context ends.
func (h *StreamHub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]LogEvent, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if wait && ctx != nil && ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			h.mu.Lock()
			h.cond.Broadcast()
			h.mu.Unlock()
		})
		defer stop()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		events := h.rangeLocked(since, limit)
		if len(events) > 0 || !wait {
			return events, h.nextSeq, contextError(ctx)
		}
		if err := contextError(ctx); err != nil {
			return nil, h.nextSeq, err
		}
		h.cond.Wait()
	}
}

// Tail returns the most recent limit events without blocking.
func (h *StreamHub) Tail(limit int) ([]LogEvent, uint64) {
	if h == nil {
		return nil, 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit > h.count {
		limit = h.count
	}
	return h.copyLocked(h.count-limit, limit), h.nextSeq
}

// FirstSequence reports the smallest sequence number still buffered.
func (h *StreamHub) FirstSequence() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return h.nextSeq
	}
	return h.nextSeq - uint64(h.count) + 1
}

// rangeLocked copies up to limit events newer than since.
func (h *StreamHub) rangeLocked(since uint64, limit int) []LogEvent {
	if since >= h.nextSeq || h.count == 0 {
		return nil
	}
	first := h.nextSeq - uint64(h.count) + 1
	offset := 0
	if since >= first {
		offset = int(since - first + 1)
	}
	n := h.count - offset
	if limit > 0 && n > limit {
		n = limit
	}
	return h.copyLocked(offset, n)
}

// copyLocked copies n events starting offset places after the oldest.
func (h *StreamHub) copyLocked(offset, n int) []LogEvent {
	if n <= 0 {
		return nil
	}
	out := make([]LogEvent, n)
	size := len(h.ring)
	for i := range n {
		out[i] = h.ring[(h.head+offset+i)%size]
	}
	return out
}

func contextError(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}

type streamHandler struct {
	next   slog.Handler
	hub    *StreamHub
	attrs  []slog.Attr
	groups []string
}

func newStreamHandler(next slog.Handler, hub *StreamHub) slog.Handler {
	if hub == nil || next == nil {
		return next
	}
	return &streamHandler{next: next, hub: hub}
}

func (h *streamHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *streamHandler) Handle(ctx context.Context, record slog.Record) error {
	h.hub.Publish(h.eventFromRecord(record))
	return h.next.Handle(ctx, record.Clone())
}

func (h *streamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var kvs []kv
	flattenAttrs(&kvs, h.groups, attrs)
	flat := make([]slog.Attr, 0, len(h.attrs)+len(kvs))
	flat = append(flat, h.attrs...)
	for _, kv := range kvs {
		flat = append(flat, slog.Attr{Key: kv.key, Value: kv.value})
	}
	return &streamHandler{
		next:   h.next.WithAttrs(attrs),
		hub:    h.hub,
		attrs:  flat,
		groups: h.groups,
	}
}

func (h *streamHandler) WithGroup(name string) slog.Handler {
	return &streamHandler{
		next:   h.next.WithGroup(name),
		hub:    h.hub,
		attrs:  h.attrs,
		groups: append(append([]string(nil), h.groups...), name),
	}
}

func (h *streamHandler) eventFromRecord(record slog.Record) LogEvent {
	event := LogEvent{
		Timestamp: record.Time,
		Level:     levelLabel(record.Level),
		Message:   strings.TrimSpace(record.Message),
	}
	apply := func(key string, value slog.Value) {
		switch key {
		case "":
			return
		case FieldComponent:
			event.Component = attrString(value)
		case FieldDevice:
			event.Device = attrString(value)
		case FieldCorrelationID:
			event.CorrelationID = attrString(value)
		default:
			if event.Fields == nil {
				event.Fields = make(map[string]string)
			}
			event.Fields[key] = attrString(value)
		}
	}
	for _, attr := range h.attrs {
		apply(attr.Key, attr.Value)
	}
	var kvs []kv
	record.Attrs(func(attr slog.Attr) bool {
		flattenAttr(&kvs, h.groups, attr)
		return true
	})
	for _, kv := range kvs {
		apply(kv.key, kv.value)
	}
	return event
}
