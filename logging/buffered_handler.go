package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Entry is one captured log record.
type Entry struct {
	Level    string            `json:"level"`
	Message  string            `json:"message"`
	DateTime string            `json:"datetime"`
	Attrs    map[string]string `json:"attrs,omitempty"`
}

// Attr returns the value of a captured attribute.
func (e Entry) Attr(key string) (string, bool) {
	v, ok := e.Attrs[key]
	return v, ok
}

type entryBuffer struct {
	mu      sync.Mutex
	entries []Entry
}

// BufferedHandler implements slog.Handler and keeps every record in memory.
// Tests use it to check what the library logged while recovering from
// errors:
//
//	h := logging.NewBufferedHandler(nil)
//	logging.SetLogger(slog.New(h))
//	// ... export ...
//	if h.Count(slog.LevelError) != 1 { ... }
type BufferedHandler struct {
	level    slog.Leveler
	buf      *entryBuffer
	preAttrs []slog.Attr // keys already carry their group prefix
	groups   []string
}

// NewBufferedHandler creates an empty handler. A nil opts captures all levels.
func NewBufferedHandler(opts *slog.HandlerOptions) *BufferedHandler {
	h := &BufferedHandler{buf: &entryBuffer{}}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
	}
	return h
}

// Enabled implements slog.Handler.
func (h *BufferedHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.level == nil {
		return true
	}
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *BufferedHandler) Handle(_ context.Context, r slog.Record) error {
	entry := Entry{
		Level:    r.Level.String(),
		Message:  r.Message,
		DateTime: r.Time.Format(time.DateTime),
		Attrs:    make(map[string]string),
	}
	for _, a := range h.preAttrs {
		entry.Attrs[a.Key] = a.Value.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		entry.Attrs[h.key(a.Key)] = a.Value.String()
		return true
	})

	h.buf.mu.Lock()
	h.buf.entries = append(h.buf.entries, entry)
	h.buf.mu.Unlock()
	return nil
}

func (h *BufferedHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return strings.Join(h.groups, ".") + "." + k
}

// WithAttrs implements slog.Handler.
func (h *BufferedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.preAttrs)+len(attrs))
	merged = append(merged, h.preAttrs...)
	for _, a := range attrs {
		merged = append(merged, slog.Attr{Key: h.key(a.Key), Value: a.Value})
	}
	return &BufferedHandler{level: h.level, buf: h.buf, preAttrs: merged, groups: h.groups}
}

// WithGroup implements slog.Handler.
func (h *BufferedHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return &BufferedHandler{level: h.level, buf: h.buf, preAttrs: h.preAttrs, groups: groups}
}

// Entries returns a copy of all captured records.
func (h *BufferedHandler) Entries() []Entry {
	h.buf.mu.Lock()
	defer h.buf.mu.Unlock()
	out := make([]Entry, len(h.buf.entries))
	copy(out, h.buf.entries)
	return out
}

// Count returns the number of captured records at exactly the given level.
func (h *BufferedHandler) Count(level slog.Level) int {
	n := 0
	for _, e := range h.Entries() {
		if e.Level == level.String() {
			n++
		}
	}
	return n
}

// Contains reports whether any captured message contains s.
func (h *BufferedHandler) Contains(s string) bool {
	for _, e := range h.Entries() {
		if strings.Contains(e.Message, s) {
			return true
		}
	}
	return false
}

// Reset discards all captured records.
func (h *BufferedHandler) Reset() {
	h.buf.mu.Lock()
	defer h.buf.mu.Unlock()
	h.buf.entries = nil
}

// String renders the captured records as JSON lines.
func (h *BufferedHandler) String() string {
	var sb strings.Builder
	for _, e := range h.Entries() {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		sb.Write(data)
		sb.WriteByte('\n')
	}
	return sb.String()
}
