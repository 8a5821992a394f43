// Package logging mirrors the server's slog output into a bounded
// ring buffer so an operator can tail recent log entries, or subscribe
// to new ones, over GET /system/logs without a separate log shipper.
package logging

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultBufferSize is the entry count GetLogBuffer's process-wide
// buffer retains.
const DefaultBufferSize = 1000

// LogEntry is one captured slog record, flattened to its component tag
// plus whatever attributes were attached.
type LogEntry struct {
	Time      time.Time              `json:"time"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Component string                 `json:"component,omitempty"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// RingBuffer holds the last size log entries and fans new ones out to
// any live subscribers (GET /system/logs/stream).
type RingBuffer struct {
	entries []LogEntry
	size    int
	head    int
	count   int
	mu      sync.RWMutex

	// Subscribers for live streaming
	subscribers map[chan LogEntry]bool
	subMu       sync.RWMutex
}

// NewRingBuffer allocates a buffer holding up to size entries.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		entries:     make([]LogEntry, size),
		size:        size,
		subscribers: make(map[chan LogEntry]bool),
	}
}

// Add records entry, overwriting the oldest one once full, and pushes
// it to every live subscriber without blocking on a slow one.
func (rb *RingBuffer) Add(entry LogEntry) {
	rb.mu.Lock()
	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
	rb.mu.Unlock()

	rb.subMu.RLock()
	for ch := range rb.subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
	rb.subMu.RUnlock()
}

// GetRecent returns up to the n most recent entries, oldest first.
func (rb *RingBuffer) GetRecent(n int) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n > rb.count {
		n = rb.count
	}

	result := make([]LogEntry, n)
	start := (rb.head - n + rb.size) % rb.size
	for i := 0; i < n; i++ {
		result[i] = rb.entries[(start+i)%rb.size]
	}
	return result
}

// Subscribe returns a channel fed every entry Add receives from here
// on, until Unsubscribe closes it.
func (rb *RingBuffer) Subscribe() chan LogEntry {
	ch := make(chan LogEntry, 100)
	rb.subMu.Lock()
	rb.subscribers[ch] = true
	rb.subMu.Unlock()
	return ch
}

// Unsubscribe stops and closes ch.
func (rb *RingBuffer) Unsubscribe(ch chan LogEntry) {
	rb.subMu.Lock()
	delete(rb.subscribers, ch)
	rb.subMu.Unlock()
	close(ch)
}

// StreamHandler is an slog.Handler that mirrors every record into a
// RingBuffer before delegating to a JSON fallback handler, so the
// ring buffer and the process's normal stderr/file log stay in sync.
type StreamHandler struct {
	buffer   *RingBuffer
	fallback slog.Handler
	level    slog.Level
	attrs    []slog.Attr
	groups   []string
}

// NewStreamHandler builds a StreamHandler writing its JSON fallback to
// fallback at the given minimum level.
func NewStreamHandler(buffer *RingBuffer, fallback io.Writer, level slog.Level) *StreamHandler {
	return &StreamHandler{
		buffer:   buffer,
		fallback: slog.NewJSONHandler(fallback, &slog.HandlerOptions{Level: level}),
		level:    level,
	}
}

func (h *StreamHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle flattens r's attributes (pulling out "component" as its own
// field) into a LogEntry, pushes it onto the ring buffer, then hands
// the record to the JSON fallback handler.
func (h *StreamHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]interface{})
	var component string

	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = a.Value.String()
		} else {
			attrs[a.Key] = a.Value.Any()
		}
		return true
	})

	for _, a := range h.attrs {
		if a.Key == "component" {
			component = a.Value.String()
		} else {
			attrs[a.Key] = a.Value.Any()
		}
	}

	entry := LogEntry{
		Time:      r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Component: component,
		Attrs:     attrs,
	}

	h.buffer.Add(entry)

	return h.fallback.Handle(ctx, r)
}

func (h *StreamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &StreamHandler{
		buffer:   h.buffer,
		fallback: h.fallback.WithAttrs(attrs),
		level:    h.level,
		attrs:    append(h.attrs, attrs...),
		groups:   h.groups,
	}
}

func (h *StreamHandler) WithGroup(name string) slog.Handler {
	return &StreamHandler{
		buffer:   h.buffer,
		fallback: h.fallback.WithGroup(name),
		level:    h.level,
		attrs:    h.attrs,
		groups:   append(h.groups, name),
	}
}

var globalBuffer = NewRingBuffer(DefaultBufferSize)

// GetLogBuffer returns the process-wide ring buffer main wires into
// the slog handler and into SystemHandlers.
func GetLogBuffer() *RingBuffer {
	return globalBuffer
}

// LogEntryToJSON renders entry as a single JSON line for the
// GET /system/logs/stream SSE body.
func LogEntryToJSON(entry LogEntry) string {
	data, _ := json.Marshal(entry)
	return string(data)
}
