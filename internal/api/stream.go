package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/crowdwatch/crowdwatch/internal/framecache"
)

// StreamHandlers serves the §6 MJPEG stream and single-frame snapshot
// endpoints, both reading the pipeline's already-annotated frame
// cache. The cache holds one rendering per frame, drawn at pipeline
// time with framecache.DefaultRenderOptions(). The
// show_heatmap/show_zones/show_track_ids/show_metrics query parameters
// are not read: every request gets that same rendering, and no request
// triggers a re-render.
type StreamHandlers struct {
	cache    *framecache.Cache
	streamer *framecache.Streamer
	logger   *slog.Logger
}

// NewStreamHandlers builds StreamHandlers backed by cache, pacing the
// MJPEG stream at fps frames/sec.
func NewStreamHandlers(cache *framecache.Cache, fps int, logger *slog.Logger) *StreamHandlers {
	if fps <= 0 {
		fps = framecache.DefaultStreamFPS
	}
	logger = logger.With("component", "api-stream")
	streamer := framecache.NewStreamer(func(cameraID string) ([]byte, bool) {
		entry, ok := cache.GetLatest(cameraID)
		if !ok {
			return nil, false
		}
		return entry.Frame, true
	}, fps)
	return &StreamHandlers{cache: cache, streamer: streamer, logger: logger}
}

// Stream serves GET /stream/{camera_id}: multipart/x-mixed-replace MJPEG.
func (h *StreamHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "camera_id")
	if err := h.streamer.ServeHTTP(r.Context(), w, cameraID); err != nil {
		h.logger.Debug("stream ended", "camera_id", cameraID, "error", err)
	}
}

// Snapshot serves GET /cameras/{camera_id}/snapshot: the single most
// recent annotated JPEG for the camera.
func (h *StreamHandlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "camera_id")
	entry, ok := h.cache.GetLatest(cameraID)
	if !ok {
		NotFound(w, "no frame available for camera")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(entry.Frame)
}
