package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// prettyHandler renders a one-line header per record followed by bullet
// fields. The header carries the component, the camera and its state so a
// reconnect storm reads as a column of transitions. Debug records list every
// attribute verbatim.
type prettyHandler struct {
	mu        *sync.Mutex
	writer    io.Writer
	level     *slog.LevelVar
	attrs     []slog.Attr
	groups    []string
	addSource bool
}

func newPrettyHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &prettyHandler{mu: &sync.Mutex{}, writer: w, level: lvl, addSource: addSource}
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// consoleRecord is a record split into its header parts and the remaining
// fields.
type consoleRecord struct {
	at        time.Time
	level     slog.Level
	component string
	device    string
	state     string
	message   string
	source    *slog.Source
	fields    []kv
}

func (h *prettyHandler) collect(record slog.Record) consoleRecord {
	rec := consoleRecord{
		at:      record.Time,
		level:   record.Level,
		message: strings.TrimSpace(record.Message),
	}
	if rec.at.IsZero() {
		rec.at = time.Now()
	}
	if rec.message == "" {
		rec.message = "(no message)"
	}
	if h.addSource {
		rec.source = record.Source()
	}

	kvs := make([]kv, 0, record.NumAttrs()+len(h.attrs))
	flattenAttrs(&kvs, h.groups, h.attrs)
	record.Attrs(func(attr slog.Attr) bool {
		flattenAttr(&kvs, h.groups, attr)
		return true
	})

	var state, from, to string
	rec.fields = make([]kv, 0, len(kvs))
	for _, field := range dedupeKVsByKey(kvs) {
		switch field.key {
		case FieldComponent:
			rec.component = attrString(field.value)
		case FieldDevice:
			rec.device = attrString(field.value)
		case FieldState:
			state = attrString(field.value)
		case "from_state":
			from = attrString(field.value)
		case "to_state":
			to = attrString(field.value)
		default:
			rec.fields = append(rec.fields, field)
		}
	}
	switch {
	case from != "" && to != "":
		rec.state = from + "→" + to
	case to != "":
		rec.state = to
	default:
		rec.state = state
	}
	return rec
}

func (h *prettyHandler) Handle(_ context.Context, record slog.Record) error {
	if record.Level < h.level.Level() {
		return nil
	}
	rec := h.collect(record)

	var buf bytes.Buffer
	buf.Grow(192 + len(rec.fields)*32)
	rec.writeHeader(&buf)
	if rec.level < slog.LevelInfo {
		for _, field := range rec.fields {
			writeBullet(&buf, "    ", field.key, formatValue(field.value))
		}
	} else {
		fields, hidden := selectInfoFields(rec.fields, 0, false)
		for _, field := range fields {
			writeBullet(&buf, "    - ", field.label, field.value)
		}
		if hidden == 1 {
			buf.WriteString("    + 1 more field hidden\n")
		} else if hidden > 1 {
			buf.WriteString("    + " + strconv.Itoa(hidden) + " more fields hidden\n")
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write(buf.Bytes())
	return err
}

func writeBullet(buf *bytes.Buffer, prefix, label, value string) {
	buf.WriteString(prefix)
	buf.WriteString(label)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteByte('\n')
}

func (r consoleRecord) writeHeader(buf *bytes.Buffer) {
	buf.WriteString(formatTimestamp(r.at))
	buf.WriteByte(' ')
	buf.WriteString(levelLabel(r.level))
	if r.component != "" {
		buf.WriteString(" [" + r.component + "]")
	}
	if r.device != "" {
		buf.WriteString(" " + r.device)
	}
	if r.state != "" {
		buf.WriteString(" " + r.state)
	}
	buf.WriteString(" – ")
	buf.WriteString(r.message)
	if r.source != nil && r.source.File != "" {
		buf.WriteString(" [" + filepath.Base(r.source.File) + ":" + strconv.Itoa(r.source.Line) + "]")
	}
	buf.WriteByte('\n')
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	clone.attrs = append(clone.attrs, attrs...)
	return clone
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	clone := h.clone()
	clone.groups = append(clone.groups, name)
	return clone
}

func (h *prettyHandler) clone() *prettyHandler {
	return &prettyHandler{
		mu:        h.mu,
		writer:    h.writer,
		level:     h.level,
		addSource: h.addSource,
		attrs:     append([]slog.Attr(nil), h.attrs...),
		groups:    append([]string(nil), h.groups...),
	}
}

type kv struct {
	key   string
	value slog.Value
}

// dedupeKVsByKey keeps the first position of each key with the last value.
func dedupeKVsByKey(attrs []kv) []kv {
	if len(attrs) < 2 {
		return attrs
	}
	positions := make(map[string]int, len(attrs))
	deduped := make([]kv, 0, len(attrs))
	for _, attr := range attrs {
		if attr.key == "" {
			continue
		}
		if pos, ok := positions[attr.key]; ok {
			deduped[pos].value = attr.value
			continue
		}
		positions[attr.key] = len(deduped)
		deduped = append(deduped, attr)
	}
	return deduped
}

func flattenAttrs(dst *[]kv, prefix []string, attrs []slog.Attr) {
	for _, attr := range attrs {
		flattenAttr(dst, prefix, attr)
	}
}

func flattenAttr(dst *[]kv, prefix []string, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	attr.Value = attr.Value.Resolve()
	if attr.Value.Kind() == slog.KindGroup {
		next := prefix
		if attr.Key != "" {
			next = append(append([]string(nil), prefix...), attr.Key)
		}
		flattenAttrs(dst, next, attr.Value.Group())
		return
	}
	key := attr.Key
	if len(prefix) > 0 {
		key = strings.Join(append(append([]string(nil), prefix...), key), ".")
	}
	*dst = append(*dst, kv{key: key, value: attr.Value})
}
