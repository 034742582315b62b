package logging

import (
	"context"
	"log/slog"
	"sync"
)

// Entry is one captured log record.
type Entry struct {
	Level      slog.Level
	Message    string
	Attributes map[string]any
}

// CaptureHandler is an slog.Handler that records every log call in memory.
// Tests use it to assert on structured log output.
type CaptureHandler struct {
	mu      sync.Mutex
	entries []Entry
	attrs   []slog.Attr
	parent  *CaptureHandler
}

// NewCaptureHandler creates an empty capture handler.
func NewCaptureHandler() *CaptureHandler {
	return &CaptureHandler{}
}

// Enabled captures every level.
func (h *CaptureHandler) Enabled(context.Context, slog.Level) bool { return true }

// Handle records the log entry.
func (h *CaptureHandler) Handle(_ context.Context, r slog.Record) error {
	entry := Entry{
		Level:      r.Level,
		Message:    r.Message,
		Attributes: make(map[string]any, r.NumAttrs()+len(h.attrs)),
	}
	for _, attr := range h.attrs {
		entry.Attributes[attr.Key] = attr.Value.Resolve().Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		entry.Attributes[a.Key] = a.Value.Resolve().Any()
		return true
	})

	root := h.root()
	root.mu.Lock()
	root.entries = append(root.entries, entry)
	root.mu.Unlock()
	return nil
}

// WithAttrs returns a child handler that records into the same entry list.
func (h *CaptureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &CaptureHandler{attrs: merged, parent: h.root()}
}

// WithGroup is accepted but flattened; captured attributes are not grouped.
func (h *CaptureHandler) WithGroup(string) slog.Handler { return h }

// Entries returns a copy of all captured entries.
func (h *CaptureHandler) Entries() []Entry {
	root := h.root()
	root.mu.Lock()
	defer root.mu.Unlock()
	out := make([]Entry, len(root.entries))
	copy(out, root.entries)
	return out
}

// Messages returns the captured messages in order.
func (h *CaptureHandler) Messages() []string {
	entries := h.Entries()
	msgs := make([]string, len(entries))
	for i, e := range entries {
		msgs[i] = e.Message
	}
	return msgs
}

func (h *CaptureHandler) root() *CaptureHandler {
	if h.parent != nil {
		return h.parent
	}
	return h
}
