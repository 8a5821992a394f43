package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/crowdwatch/crowdwatch/internal/logging"
)

// SystemHandlers serves operator-facing process introspection that
// supplements §6 rather than replacing it: recent and live-tailed log
// entries from the bounded ring buffer every component logs into.
type SystemHandlers struct {
	buffer *logging.RingBuffer
	logger *slog.Logger
}

// NewSystemHandlers builds SystemHandlers backed by buffer.
func NewSystemHandlers(buffer *logging.RingBuffer, logger *slog.Logger) *SystemHandlers {
	return &SystemHandlers{buffer: buffer, logger: logger.With("component", "api-system")}
}

// RecentLogs serves GET /system/logs/recent?n.
func (h *SystemHandlers) RecentLogs(w http.ResponseWriter, r *http.Request) {
	n := 100
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	OK(w, h.buffer.GetRecent(n))
}

// StreamLogs serves GET /system/logs/stream: a text/event-stream tail
// of new entries as they're logged, until the client disconnects.
func (h *SystemHandlers) StreamLogs(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		InternalError(w, "streaming not supported")
		return
	}

	ch := h.buffer.Subscribe()
	defer h.buffer.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case entry, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write([]byte(logging.LogEntryToJSON(entry)))
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
