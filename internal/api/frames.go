package api

import (
	"bytes"
	"image"
	_ "image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/apierr"
	"github.com/crowdwatch/crowdwatch/internal/camera"
	"github.com/crowdwatch/crowdwatch/internal/ingest"
	"github.com/crowdwatch/crowdwatch/internal/vision/detector"
)

// FrameHandlers serves POST /frames/upload: the multipart ingest path
// alongside the websocket /ws/frames channel, both ultimately calling
// the same ingest.Coordinator.Submit admission point.
type FrameHandlers struct {
	coordinator *ingest.Coordinator
	registry    *camera.Registry
	logger      *slog.Logger

	mu       sync.Mutex
	nextID   map[string]uint64
}

// NewFrameHandlers builds FrameHandlers backed by coordinator and
// registry (registry may be nil to skip the camera-exists check, e.g.
// in tests).
func NewFrameHandlers(coordinator *ingest.Coordinator, registry *camera.Registry, logger *slog.Logger) *FrameHandlers {
	return &FrameHandlers{
		coordinator: coordinator,
		registry:    registry,
		logger:      logger.With("component", "api-frames"),
		nextID:      make(map[string]uint64),
	}
}

type uploadResponse struct {
	Status            string `json:"status"`
	FrameID           uint64 `json:"frame_id"`
	ProcessingTimeMS  int64  `json:"processing_time_ms"`
}

// Upload serves POST /frames/upload: multipart {camera_id, frame
// (JPEG), timestamp?}.
func (h *FrameHandlers) Upload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		BadRequest(w, "malformed multipart body")
		return
	}
	cameraID := r.FormValue("camera_id")
	if cameraID == "" {
		WriteError(w, apierr.Invalid("camera_id", "camera_id is required"))
		return
	}

	file, _, err := r.FormFile("frame")
	if err != nil {
		WriteError(w, apierr.Invalid("frame", "frame file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, apierr.Wrap(apierr.Corrupt, err, "read frame body"))
		return
	}

	ts := time.Now().UTC()
	if raw := r.FormValue("timestamp"); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			ts = time.UnixMilli(ms).UTC()
		}
	}

	width, height := 0, 0
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		width, height = cfg.Width, cfg.Height
	}

	if h.registry != nil {
		if ok, err := h.registry.Exists(r.Context(), cameraID); err != nil {
			WriteError(w, err)
			return
		} else if !ok {
			WriteError(w, apierr.Invalid("camera_id", "camera %s is not registered", cameraID))
			return
		}
	}

	frame := detector.Frame{
		CameraID:  cameraID,
		FrameID:   h.nextFrameID(cameraID),
		Timestamp: ts,
		Width:     width,
		Height:    height,
		JPEG:      data,
	}

	if err := h.coordinator.Submit(frame); err != nil {
		WriteError(w, err)
		return
	}
	if h.registry != nil {
		if err := h.registry.Touch(r.Context(), cameraID, ts); err != nil {
			h.logger.Warn("touch camera liveness", "camera_id", cameraID, "error", err)
		}
	}

	OK(w, uploadResponse{
		Status:           "accepted",
		FrameID:          frame.FrameID,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	})
}

// nextFrameID hands out a strictly increasing per-camera frame_id for
// the REST upload path, which (unlike /ws/frames) does not carry a
// client-assigned one.
func (h *FrameHandlers) nextFrameID(cameraID string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID[cameraID]++
	return h.nextID[cameraID]
}
